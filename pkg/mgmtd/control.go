package mgmtd

import (
	"context"
	"time"

	"github.com/fireflyer/ffs/pkg/log"
	"github.com/fireflyer/ffs/pkg/metrics"
	"github.com/fireflyer/ffs/pkg/routing"
)

// RunHeartbeatChecker implements §4.4's HeartbeatChecker: every
// interval, any node whose NodeInfo.LastHeartbeat is older than
// nodeTimeout is treated as down. Every target placed on that node
// moves ONLINE/SYNCING/LAST_SYNC -> OFFLINE, and any chain whose current
// HEAD sits on that target has its PreferredOrder rotated so the next
// live target takes over, with Version bumped so routing clients
// reject responses carrying the old order. Runs on every replica but
// is a no-op unless this replica is currently the raft leader — only
// the primary is allowed to mutate routing state.
func (s *Server) RunHeartbeatChecker(ctx context.Context, interval, nodeTimeout time.Duration) {
	logger := log.WithComponent("mgmtd.heartbeat_checker")
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !s.IsLeader() {
				continue
			}
			if err := s.checkHeartbeats(ctx, nodeTimeout); err != nil {
				logger.Warn().Err(err).Msg("heartbeat check failed")
			}
		}
	}
}

func (s *Server) checkHeartbeats(ctx context.Context, nodeTimeout time.Duration) error {
	info := s.RoutingInfo()
	now := time.Now().UnixNano()

	deadNodes := make(map[routing.NodeId]bool)
	for _, n := range info.Nodes {
		if time.Duration(now-n.LastHeartbeat) > nodeTimeout {
			deadNodes[n.NodeId] = true
		}
	}
	if len(deadNodes) == 0 {
		return nil
	}

	for _, t := range info.Targets {
		if deadNodes[t.NodeId] && t.LocalState != routing.StateOffline {
			t.LocalState = routing.StateOffline
			if err := s.UpsertTargetInfo(ctx, t); err != nil {
				return err
			}
		}
	}

	for _, c := range info.Chains {
		head, ok := c.Head()
		if !ok {
			continue
		}
		target, ok := info.TargetByID(head)
		if !ok || !deadNodes[target.NodeId] {
			continue
		}
		rotated := rotatePreferredOrder(c.PreferredOrder)
		c.PreferredOrder = rotated
		c.Version++
		if err := s.UpsertChainInfo(ctx, c); err != nil {
			return err
		}
	}
	return nil
}

// rotatePreferredOrder moves the current head to the back of the
// preference list, the mechanism §4.4 calls "may rotate chain order"
// on a HEAD failure.
func rotatePreferredOrder(order []routing.TargetId) []routing.TargetId {
	if len(order) < 2 {
		return order
	}
	out := make([]routing.TargetId, 0, len(order))
	out = append(out, order[1:]...)
	out = append(out, order[0])
	return out
}

// RunChainsUpdater implements §4.4's ChainsUpdater: targets recovering
// from a failure climb LAST_SYNC -> SYNCING -> ONLINE one step per
// tick, giving the resync path (storagetarget's catch-up replay) time
// to actually complete the corresponding step before a target is
// trusted again.
func (s *Server) RunChainsUpdater(ctx context.Context, interval time.Duration) {
	logger := log.WithComponent("mgmtd.chains_updater")
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !s.IsLeader() {
				continue
			}
			if err := s.advanceRecoveringTargets(ctx); err != nil {
				logger.Warn().Err(err).Msg("chains update failed")
			}
		}
	}
}

func (s *Server) advanceRecoveringTargets(ctx context.Context) error {
	info := s.RoutingInfo()
	for _, t := range info.Targets {
		var next routing.LocalState
		switch t.LocalState {
		case routing.StateLastSync:
			next = routing.StateSyncing
		case routing.StateSyncing:
			next = routing.StateOnline
		case routing.StateRejoin:
			next = routing.StateLastSync
		default:
			continue
		}
		t.LocalState = next
		if err := s.UpsertTargetInfo(ctx, t); err != nil {
			return err
		}
	}
	return nil
}

// RunPersister implements TargetInfoPersister (§6): periodically
// checkpoints the raft-replicated RoutingInfo into the shared
// kv.Engine mirror so meta servers and storage targets can read it
// without a raft client of their own. Every replica runs this, leader
// or follower, since the mirror only needs to reflect whatever this
// replica's FSM has applied so far.
func (s *Server) RunPersister(ctx context.Context, interval time.Duration) {
	logger := log.WithComponent("mgmtd.target_info_persister")
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.Checkpoint(ctx); err != nil {
				logger.Warn().Err(err).Msg("routing info checkpoint failed")
			}
		}
	}
}

// RunSessionPruner periodically clears expired client session leases
// (§6's getClientSession/extendClientSession pair), the background
// half of that lease alongside HeartbeatChecker and ChainsUpdater.
func (s *Server) RunSessionPruner(ctx context.Context, interval time.Duration) {
	logger := log.WithComponent("mgmtd.session_pruner")
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !s.IsLeader() {
				continue
			}
			n, err := s.sessions.PruneExpiredSessions(ctx)
			if err != nil {
				logger.Warn().Err(err).Msg("session prune failed")
			} else if n > 0 {
				logger.Info().Int("pruned", n).Msg("pruned expired client sessions")
			}
		}
	}
}

// RunLeadershipMonitor replaces §4.4's LeaseExtender: raft itself
// renews the leader's lease internally (LeaderLeaseTimeout), so there
// is no lease key to refresh here. What's left to do is keep the
// ffs_mgmtd_raft_is_leader/peers gauges current and log transitions,
// driven off raft's own LeaderCh rather than a polling loop.
func (s *Server) RunLeadershipMonitor(ctx context.Context) {
	logger := log.WithComponent("mgmtd.lease_extender")
	ch := s.raft.LeaderCh()
	for {
		select {
		case <-ctx.Done():
			return
		case isLeader, ok := <-ch:
			if !ok {
				return
			}
			if isLeader {
				metrics.RaftLeader.Set(1)
				logger.Info().Str("node_id", s.cfg.NodeID).Msg("became mgmtd primary")
			} else {
				metrics.RaftLeader.Set(0)
				logger.Info().Str("node_id", s.cfg.NodeID).Msg("lost mgmtd primary status")
			}
			if cfgFuture := s.raft.GetConfiguration(); cfgFuture.Error() == nil {
				metrics.RaftPeers.Set(float64(len(cfgFuture.Configuration().Servers)))
			}
		}
	}
}
