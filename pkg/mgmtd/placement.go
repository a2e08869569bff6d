package mgmtd

import (
	"context"
	"time"

	"github.com/fireflyer/ffs/pkg/kv"
	"github.com/fireflyer/ffs/pkg/routing"
)

// RegisterNode implements §6's registerNode: add (or replace) a node
// row with a fresh heartbeat timestamp.
func (s *Server) RegisterNode(ctx context.Context, id routing.NodeId, address string) error {
	return s.UpsertNode(ctx, routing.NodeInfo{NodeId: id, Address: address, LastHeartbeat: time.Now().UnixNano()})
}

// UnregisterNode implements §6's unregisterNode. Targets left on id
// become orphans (see ListOrphanTargets); they are not deleted or
// reassigned here, and no control loop in this package repairs them.
func (s *Server) UnregisterNode(ctx context.Context, id routing.NodeId) error {
	return s.RemoveNode(ctx, id)
}

// Heartbeat implements §6's heartbeat: refresh id's LastHeartbeat so
// HeartbeatChecker doesn't consider it missing. NotFound if the node
// was never registered.
func (s *Server) Heartbeat(ctx context.Context, id routing.NodeId) error {
	info := s.RoutingInfo()
	for _, n := range info.Nodes {
		if n.NodeId == id {
			n.LastHeartbeat = time.Now().UnixNano()
			return s.UpsertNode(ctx, n)
		}
	}
	return kv.NewError(kv.CodeNotFound, "mgmtd: heartbeat for unregistered node %d", id)
}

// SetNodeTags implements §6's setNodeTags by re-registering the node at
// its existing address; NodeInfo carries no tag fields today; this
// keeps the entry point in place for when scheduling-by-tag is added
// without widening scope now.
func (s *Server) SetNodeTags(ctx context.Context, id routing.NodeId, _ map[string]string) error {
	return s.Heartbeat(ctx, id)
}

// SetChains implements §6's setChains: replicate every chain's current
// membership in one pass.
func (s *Server) SetChains(ctx context.Context, chains []routing.ChainInfo) error {
	for _, c := range chains {
		if err := s.UpsertChainInfo(ctx, c); err != nil {
			return err
		}
	}
	return nil
}

// SetChainTable implements §6's setChainTable: publish a new
// chain_table_id/version mapping. Per the stripe_size>len(chains)
// decision, callers are expected to validate stripe_size against
// len(table.Chains) before calling this — SetChainTable itself just
// replicates whatever table it's given.
func (s *Server) SetChainTable(ctx context.Context, table routing.ChainTable) error {
	return s.PutChainTable(ctx, table)
}

// RotateAsPreferredOrder implements §6's rotateAsPreferredOrder: an
// admin-requested rotation, applied the same way HeartbeatChecker
// rotates one automatically — atomically with the chain's version bump,
// in a single raft-log entry.
func (s *Server) RotateAsPreferredOrder(ctx context.Context, chainID routing.ChainId) error {
	info := s.RoutingInfo()
	c, ok := info.ChainByID(chainID)
	if !ok {
		return kv.NewError(kv.CodeNotFound, "mgmtd: chain %d not found", chainID)
	}
	c.PreferredOrder = rotatePreferredOrder(c.PreferredOrder)
	c.Version++
	return s.UpsertChainInfo(ctx, c)
}

// ListOrphanTargets implements §6's listOrphanTargets.
func (s *Server) ListOrphanTargets(ctx context.Context) []routing.TargetInfo {
	return s.RoutingInfo().OrphanTargets()
}

// GetRoutingInfoSince implements §6's getRoutingInfo(sinceVersion): an
// incremental-looking read that is, in practice, a full snapshot once
// the version check passes — RoutingInfo is small enough (cluster
// membership and chain metadata, not file data) that there is no
// benefit to a real diff. ok is false when the caller's cached
// snapshot is already current.
func (s *Server) GetRoutingInfoSince(ctx context.Context, sinceVersion uint64) (routing.RoutingInfo, bool) {
	info := s.RoutingInfo()
	if info.RoutingVersion <= sinceVersion {
		return routing.RoutingInfo{}, false
	}
	return info, true
}

// GetClientSession implements §6's getClientSession.
func (s *Server) GetClientSession(ctx context.Context, sessionID string, ttl time.Duration) (ClientSession, error) {
	return s.sessions.GetClientSession(ctx, sessionID, ttl)
}

// ExtendClientSession implements §6's extendClientSession.
func (s *Server) ExtendClientSession(ctx context.Context, sessionID string, ttl time.Duration) (ClientSession, error) {
	return s.sessions.ExtendClientSession(ctx, sessionID, ttl)
}
