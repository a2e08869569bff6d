package mgmtd

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/fireflyer/ffs/pkg/kv"
)

// freePort picks a currently unused TCP port on localhost by briefly
// binding to port 0 and reading back what the kernel assigned.
func freePort(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("freePort: %v", err)
	}
	addr := ln.Addr().String()
	ln.Close()
	return addr
}

// newTestServer bootstraps a single-member mgmtd raft cluster and waits
// for it to self-elect as leader, the state every control-loop test
// needs before it can call any Upsert*/RemoveNode method (those all go
// through raft.Apply, which blocks forever against a cluster with no
// leader).
func newTestServer(t *testing.T) (*Server, kv.Engine) {
	t.Helper()
	engine := kv.NewMemoryEngine()
	s := NewServer(Config{
		NodeID:   "node-1",
		BindAddr: freePort(t),
		DataDir:  t.TempDir(),
	}, engine)
	if err := s.Bootstrap(); err != nil {
		t.Fatalf("Bootstrap: %v", err)
	}
	t.Cleanup(func() { s.Shutdown() })

	deadline := time.Now().Add(5 * time.Second)
	for !s.IsLeader() {
		if time.Now().After(deadline) {
			t.Fatal("server never became leader")
		}
		time.Sleep(25 * time.Millisecond)
	}
	return s, engine
}

func TestBootstrapSingleNodeBecomesLeader(t *testing.T) {
	s, _ := newTestServer(t)
	if !s.IsLeader() {
		t.Fatal("expected single bootstrapped node to be leader")
	}
}

func TestUpsertNodeReplicatesThroughRaft(t *testing.T) {
	s, _ := newTestServer(t)
	ctx := context.Background()

	if err := s.RegisterNode(ctx, 1, "10.0.0.1:9000"); err != nil {
		t.Fatalf("RegisterNode: %v", err)
	}

	info := s.RoutingInfo()
	if len(info.Nodes) != 1 || info.Nodes[0].NodeId != 1 {
		t.Fatalf("Nodes = %v, want node 1", info.Nodes)
	}
	if info.RoutingVersion != 1 {
		t.Fatalf("RoutingVersion = %d, want 1", info.RoutingVersion)
	}
}

func TestCheckpointPersistsToSharedEngine(t *testing.T) {
	s, engine := newTestServer(t)
	ctx := context.Background()

	if err := s.RegisterNode(ctx, 1, "10.0.0.1:9000"); err != nil {
		t.Fatalf("RegisterNode: %v", err)
	}
	if err := s.Checkpoint(ctx); err != nil {
		t.Fatalf("Checkpoint: %v", err)
	}

	mirror, err := NewStore(engine).LoadRoutingInfo(ctx)
	if err != nil {
		t.Fatalf("LoadRoutingInfo: %v", err)
	}
	if len(mirror.Nodes) != 1 || mirror.Nodes[0].NodeId != 1 {
		t.Fatalf("mirrored Nodes = %v, want node 1", mirror.Nodes)
	}
}

func TestGetRoutingInfoSinceReportsStaleness(t *testing.T) {
	s, _ := newTestServer(t)
	ctx := context.Background()

	if _, ok := s.GetRoutingInfoSince(ctx, 0); ok {
		t.Fatal("expected no update at version 0 before any mutation")
	}

	if err := s.RegisterNode(ctx, 1, "10.0.0.1:9000"); err != nil {
		t.Fatalf("RegisterNode: %v", err)
	}

	info, ok := s.GetRoutingInfoSince(ctx, 0)
	if !ok {
		t.Fatal("expected an update after RegisterNode")
	}
	if len(info.Nodes) != 1 {
		t.Fatalf("Nodes = %v, want 1", info.Nodes)
	}

	if _, ok := s.GetRoutingInfoSince(ctx, info.RoutingVersion); ok {
		t.Fatal("expected no further update once caller is caught up")
	}
}
