package mgmtd

import (
	"context"
	"testing"
	"time"

	"github.com/fireflyer/ffs/pkg/routing"
)

func TestRotatePreferredOrderMovesHeadToBack(t *testing.T) {
	order := []routing.TargetId{1, 2, 3}
	rotated := rotatePreferredOrder(order)
	want := []routing.TargetId{2, 3, 1}
	for i := range want {
		if rotated[i] != want[i] {
			t.Fatalf("rotatePreferredOrder(%v) = %v, want %v", order, rotated, want)
		}
	}
}

func TestRotatePreferredOrderNoOpBelowTwoTargets(t *testing.T) {
	if got := rotatePreferredOrder([]routing.TargetId{5}); len(got) != 1 || got[0] != 5 {
		t.Fatalf("rotatePreferredOrder single-element = %v, want unchanged", got)
	}
}

// TestCheckHeartbeatsFailsOverDeadHead covers scenario S4: a chain's
// HEAD target sits on a node that stops heartbeating; checkHeartbeats
// should mark that target OFFLINE and rotate the chain's
// PreferredOrder so a live target becomes HEAD, bumping the chain
// version in the same step.
func TestCheckHeartbeatsFailsOverDeadHead(t *testing.T) {
	s, _ := newTestServer(t)
	ctx := context.Background()

	now := time.Now().UnixNano()
	mustUpsertNode(t, s, ctx, routing.NodeInfo{NodeId: 1, Address: "dead:9000", LastHeartbeat: now - int64(time.Hour)})
	mustUpsertNode(t, s, ctx, routing.NodeInfo{NodeId: 2, Address: "live:9000", LastHeartbeat: now})

	mustUpsertTarget(t, s, ctx, routing.TargetInfo{TargetId: 10, NodeId: 1, LocalState: routing.StateOnline})
	mustUpsertTarget(t, s, ctx, routing.TargetInfo{TargetId: 20, NodeId: 2, LocalState: routing.StateOnline})

	chain := routing.ChainInfo{
		ChainId: 1,
		Version: 1,
		Targets: []routing.ChainTargetRole{
			{TargetId: 10, Role: routing.RoleHead},
			{TargetId: 20, Role: routing.RoleTail},
		},
		PreferredOrder: []routing.TargetId{10, 20},
	}
	if err := s.UpsertChainInfo(ctx, chain); err != nil {
		t.Fatalf("UpsertChainInfo: %v", err)
	}

	// Node 1's last heartbeat is an hour old and node 2's is fresh, so a
	// one-minute nodeTimeout marks only node 1 dead without sleeping in
	// the test.
	if err := s.checkHeartbeats(ctx, time.Minute); err != nil {
		t.Fatalf("checkHeartbeats: %v", err)
	}

	info := s.RoutingInfo()
	target10, ok := info.TargetByID(10)
	if !ok || target10.LocalState != routing.StateOffline {
		t.Fatalf("target 10 = %+v, want LocalState OFFLINE", target10)
	}

	updatedChain, ok := info.ChainByID(1)
	if !ok {
		t.Fatal("chain 1 missing after heartbeat check")
	}
	if updatedChain.Version != 2 {
		t.Fatalf("chain version = %d, want bumped to 2", updatedChain.Version)
	}
	head, ok := updatedChain.Head()
	if !ok || head != 20 {
		t.Fatalf("new head = %v, want target 20", head)
	}
}

func TestCheckHeartbeatsIsNoOpWhenAllNodesLive(t *testing.T) {
	s, _ := newTestServer(t)
	ctx := context.Background()

	mustUpsertNode(t, s, ctx, routing.NodeInfo{NodeId: 1, Address: "a:9000", LastHeartbeat: time.Now().UnixNano()})
	before := s.RoutingInfo().RoutingVersion

	if err := s.checkHeartbeats(ctx, time.Hour); err != nil {
		t.Fatalf("checkHeartbeats: %v", err)
	}
	after := s.RoutingInfo().RoutingVersion
	if after != before {
		t.Fatalf("routing version changed from %d to %d with no dead nodes", before, after)
	}
}

func TestAdvanceRecoveringTargetsClimbsStaircase(t *testing.T) {
	s, _ := newTestServer(t)
	ctx := context.Background()

	mustUpsertTarget(t, s, ctx, routing.TargetInfo{TargetId: 1, LocalState: routing.StateLastSync})

	steps := []routing.LocalState{routing.StateSyncing, routing.StateOnline}
	for _, want := range steps {
		if err := s.advanceRecoveringTargets(ctx); err != nil {
			t.Fatalf("advanceRecoveringTargets: %v", err)
		}
		target, ok := s.RoutingInfo().TargetByID(1)
		if !ok || target.LocalState != want {
			t.Fatalf("target state = %v, want %v", target.LocalState, want)
		}
	}

	// Once ONLINE, further ticks are a no-op.
	if err := s.advanceRecoveringTargets(ctx); err != nil {
		t.Fatalf("advanceRecoveringTargets: %v", err)
	}
	target, _ := s.RoutingInfo().TargetByID(1)
	if target.LocalState != routing.StateOnline {
		t.Fatalf("target state regressed to %v", target.LocalState)
	}
}

func TestListOrphanTargetsFindsTargetsOnRemovedNodes(t *testing.T) {
	s, _ := newTestServer(t)
	ctx := context.Background()

	mustUpsertTarget(t, s, ctx, routing.TargetInfo{TargetId: 1, NodeId: 99})
	orphans := s.ListOrphanTargets(ctx)
	if len(orphans) != 1 || orphans[0].TargetId != 1 {
		t.Fatalf("ListOrphanTargets = %v, want target 1 (node 99 never registered)", orphans)
	}
}

func mustUpsertNode(t *testing.T, s *Server, ctx context.Context, n routing.NodeInfo) {
	t.Helper()
	if err := s.UpsertNode(ctx, n); err != nil {
		t.Fatalf("UpsertNode(%v): %v", n, err)
	}
}

func mustUpsertTarget(t *testing.T, s *Server, ctx context.Context, target routing.TargetInfo) {
	t.Helper()
	if err := s.UpsertTargetInfo(ctx, target); err != nil {
		t.Fatalf("UpsertTargetInfo(%v): %v", target, err)
	}
}
