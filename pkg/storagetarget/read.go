package storagetarget

import (
	"context"

	"github.com/fireflyer/ffs/pkg/kv"
	"github.com/fireflyer/ffs/pkg/metrics"
	"github.com/fireflyer/ffs/pkg/routing"
	"github.com/fireflyer/ffs/pkg/transport"
)

// Read answers a read against whichever replica the caller addressed.
// A committed local record is served immediately from any role,
// §4.7's "committed replicas answer immediately" rule. An uncommitted
// one is served if self is TAIL (the tail's own view is authoritative:
// nothing further down the chain could disagree), and otherwise
// forwarded on to TAIL so the client never has to resolve the
// ambiguity itself.
func (s *Server) Read(ctx context.Context, req ReadRequest) (ReadResponse, error) {
	timer := metrics.NewTimer()
	chain, err := s.chainFor(req.ChainId)
	if err != nil {
		return ReadResponse{}, err
	}
	role, _ := roleOf(chain, s.cfg.TargetId)

	data, meta, err := s.store.Read(req.ChunkId, req.Offset, req.Length)
	if err != nil {
		return ReadResponse{}, err
	}
	if !meta.Uncommitted || role == routing.RoleTail {
		timer.ObserveDurationVec(metrics.CRAQReadDuration, role.String())
		return ReadResponse{Data: data, ChunkVersion: meta.ChunkVersion, Committed: !meta.Uncommitted}, nil
	}

	tailID, ok := chainTail(chain)
	if !ok {
		return ReadResponse{}, kv.NewError(kv.CodeNotFound, "storagetarget: read: chain %d has no tail", req.ChainId)
	}
	addr, ok := s.cfg.Peers[tailID]
	if !ok {
		return ReadResponse{}, kv.NewError(kv.CodeNetworkError, "storagetarget: no address for tail target %d", tailID)
	}
	payload, err := encodeGob(req)
	if err != nil {
		return ReadResponse{}, err
	}
	env := transport.NewEnvelope(ServiceID, MethodRead, payload)
	resp, err := s.transport.Send(ctx, addr, env)
	if err != nil {
		return ReadResponse{}, err
	}
	var out ReadResponse
	if err := decodeGob(resp.Payload, &out); err != nil {
		return ReadResponse{}, err
	}
	timer.ObserveDurationVec(metrics.CRAQReadDuration, role.String())
	return out, nil
}

// chainTail returns the last target in chain's PreferredOrder, the
// same list Head() reads the first entry of.
func chainTail(chain routing.ChainInfo) (routing.TargetId, bool) {
	if len(chain.PreferredOrder) == 0 {
		return 0, false
	}
	return chain.PreferredOrder[len(chain.PreferredOrder)-1], true
}
