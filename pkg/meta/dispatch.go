package meta

import (
	"context"

	"github.com/fireflyer/ffs/pkg/kv"
	"github.com/fireflyer/ffs/pkg/metrics"
	"github.com/fireflyer/ffs/pkg/schema"
	"github.com/fireflyer/ffs/pkg/transport"
)

// authenticate implements §4.6 dispatch step 1: token match against
// USER. A snapshot read is enough; authentication never needs to be
// conflict-tracked against concurrent user-table edits.
func (s *Server) authenticate(ctx context.Context, token string) (UserInfo, error) {
	txn, err := s.engine.NewReadTransaction(ctx)
	if err != nil {
		return UserInfo{}, err
	}
	defer txn.Cancel()

	raw, ok, err := txn.SnapshotGet(ctx, schema.UserKey(token))
	if err != nil {
		return UserInfo{}, err
	}
	if !ok {
		return UserInfo{}, kv.NewError(kv.CodeNoPermission, "meta: unknown or invalid token")
	}
	rec, err := schema.DecodeUserRecord(raw)
	if err != nil {
		return UserInfo{}, err
	}
	return UserInfo{Uid: rec.Uid, Gid: rec.Gid}, nil
}

// routeLocalOrForward implements §4.6 dispatch steps 3-4: determine
// whether this server is responsible for key, and if not, forward req
// once (the hop flag on the envelope breaks forward loops — a
// request that arrives already forwarded gets a CodeInvalidArgument
// error instead of a second hop; kv has no dedicated not-local code). ok is true when the caller should handle req locally;
// when false, resp is the already-complete response to return as is.
func (s *Server) routeLocalOrForward(ctx context.Context, key schema.InodeId, req transport.Envelope) (resp transport.Envelope, ok bool, err error) {
	if s.distributor.IsLocal(key) {
		return transport.Envelope{}, true, nil
	}

	if req.Forwarded() {
		metrics.MetaForwardsTotal.WithLabelValues("loop").Inc()
		return transport.Envelope{}, false, kv.NewError(kv.CodeInvalidArgument, "meta: not responsible for inode %d and already forwarded once", key)
	}

	owner, found := s.distributor.ResponsibleServer(key)
	if !found {
		metrics.MetaForwardsTotal.WithLabelValues("no_owner").Inc()
		return transport.Envelope{}, false, kv.NewError(kv.CodeFatal, "meta: no responsible server known for inode %d", key)
	}
	addr, found := s.cfg.Peers[owner]
	if !found {
		metrics.MetaForwardsTotal.WithLabelValues("unknown_peer").Inc()
		return transport.Envelope{}, false, kv.NewError(kv.CodeFatal, "meta: no peer address configured for node %d", owner)
	}

	resp, err = s.transport.Send(ctx, addr, req.WithForwarded())
	if err != nil {
		metrics.MetaForwardsTotal.WithLabelValues("error").Inc()
		return transport.Envelope{}, false, err
	}
	metrics.MetaForwardsTotal.WithLabelValues("ok").Inc()
	return resp, false, nil
}
