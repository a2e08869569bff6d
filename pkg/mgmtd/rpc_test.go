package mgmtd

import (
	"context"
	"testing"

	"github.com/fireflyer/ffs/pkg/routing"
	"github.com/fireflyer/ffs/pkg/transport"
)

func TestHandlerServesGetRoutingInfoOverLocalTransport(t *testing.T) {
	s, _ := newTestServer(t)
	ctx := context.Background()
	if err := s.RegisterNode(ctx, 1, "10.0.0.1:9000"); err != nil {
		t.Fatalf("RegisterNode: %v", err)
	}

	local := transport.NewLocal()
	local.Register("mgmtd-1", s.Handler())

	info, err := RequestRoutingInfo(ctx, local, "mgmtd-1")
	if err != nil {
		t.Fatalf("RequestRoutingInfo: %v", err)
	}
	if len(info.Nodes) != 1 || info.Nodes[0].NodeId != 1 {
		t.Fatalf("RoutingInfo over RPC = %v, want node 1", info.Nodes)
	}
}

func TestHandlerAcceptsJoinAgainstLeader(t *testing.T) {
	s, _ := newTestServer(t)
	// A single bootstrapped node is always leader, so this covers the
	// accepting side of the IsLeader check in Handler's Join case; the
	// rejecting side needs a follower and is not exercised here.
	if !s.IsLeader() {
		t.Skip("test node unexpectedly not leader")
	}

	local := transport.NewLocal()
	local.Register("mgmtd-1", s.Handler())

	if err := RequestJoin(context.Background(), local, "mgmtd-1", "node-2", "127.0.0.1:0"); err != nil {
		t.Fatalf("RequestJoin against leader: %v", err)
	}
}

func TestHandlerServesAdminWritesOverRPC(t *testing.T) {
	s, _ := newTestServer(t)
	ctx := context.Background()
	local := transport.NewLocal()
	local.Register("mgmtd-1", s.Handler())

	if err := RequestRegisterNode(ctx, local, "mgmtd-1", 7, "10.0.0.7:9000"); err != nil {
		t.Fatalf("RequestRegisterNode: %v", err)
	}
	if err := RequestUpsertChainInfo(ctx, local, "mgmtd-1", routing.ChainInfo{
		ChainId: 1, Version: 1,
		Targets:        []routing.ChainTargetRole{{TargetId: 1, Role: routing.RoleHead}},
		PreferredOrder: []routing.TargetId{1},
	}); err != nil {
		t.Fatalf("RequestUpsertChainInfo: %v", err)
	}
	if err := RequestUpsertTargetInfo(ctx, local, "mgmtd-1", routing.TargetInfo{
		TargetId: 1, NodeId: 7, LocalState: routing.StateOnline,
	}); err != nil {
		t.Fatalf("RequestUpsertTargetInfo: %v", err)
	}
	if err := RequestPutChainTable(ctx, local, "mgmtd-1", routing.ChainTable{
		ChainTableId: 1, Version: 1, Chains: []routing.ChainId{1},
	}); err != nil {
		t.Fatalf("RequestPutChainTable: %v", err)
	}

	info, err := RequestRoutingInfo(ctx, local, "mgmtd-1")
	if err != nil {
		t.Fatalf("RequestRoutingInfo: %v", err)
	}
	if len(info.Nodes) != 1 || info.Nodes[0].NodeId != 7 {
		t.Fatalf("Nodes = %v, want node 7", info.Nodes)
	}
	if len(info.Chains) != 1 || info.Chains[0].ChainId != 1 {
		t.Fatalf("Chains = %v, want chain 1", info.Chains)
	}
	if len(info.Targets) != 1 || info.Targets[0].TargetId != 1 {
		t.Fatalf("Targets = %v, want target 1", info.Targets)
	}
	if len(info.ChainTables) != 1 || info.ChainTables[0].ChainTableId != 1 {
		t.Fatalf("ChainTables = %v, want chain table 1", info.ChainTables)
	}
}
