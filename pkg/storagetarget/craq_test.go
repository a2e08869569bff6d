package storagetarget

import (
	"context"
	"sync"
	"testing"

	"github.com/fireflyer/ffs/pkg/chunkaddr"
	"github.com/fireflyer/ffs/pkg/routing"
	"github.com/fireflyer/ffs/pkg/schema"
	"github.com/fireflyer/ffs/pkg/transport"
)

// fakeRouting is a RoutingSource backed by a fixed RoutingInfo, enough
// to exercise a 3-target chain without standing up a real mgmtd.
type fakeRouting struct{ info routing.RoutingInfo }

func (f fakeRouting) RoutingInfo() routing.RoutingInfo { return f.info }

const (
	headID   routing.TargetId = 1
	midID    routing.TargetId = 2
	tailID   routing.TargetId = 3
	testChID routing.ChainId  = 100
)

func threeNodeChain(version uint32) routing.ChainInfo {
	return routing.ChainInfo{
		ChainId: testChID,
		Version: version,
		Targets: []routing.ChainTargetRole{
			{TargetId: headID, Role: routing.RoleHead},
			{TargetId: midID, Role: routing.RoleMiddle},
			{TargetId: tailID, Role: routing.RoleTail},
		},
		PreferredOrder: []routing.TargetId{headID, midID, tailID},
	}
}

// newChainCluster wires three Server instances over a shared
// transport.Local registry, one per role, all sharing the same
// RoutingInfo/chain version.
func newChainCluster(t *testing.T, version uint32) (head, mid, tail *Server) {
	t.Helper()
	info := routing.RoutingInfo{Chains: []routing.ChainInfo{threeNodeChain(version)}}
	rs := fakeRouting{info: info}
	local := transport.NewLocal()

	peers := map[routing.TargetId]string{
		headID: "head",
		midID:  "mid",
		tailID: "tail",
	}

	build := func(id routing.TargetId) *Server {
		store, err := NewBoltChunkStore(t.TempDir())
		if err != nil {
			t.Fatalf("NewBoltChunkStore: %v", err)
		}
		t.Cleanup(func() { store.Close() })
		return NewServer(Config{TargetId: id, Peers: peers}, store, rs, local)
	}

	head = build(headID)
	mid = build(midID)
	tail = build(tailID)

	local.Register("head", head.Handler())
	local.Register("mid", mid.Handler())
	local.Register("tail", tail.Handler())
	return head, mid, tail
}

func TestCRAQWritePropagatesAndCommits(t *testing.T) {
	head, mid, tail := newChainCluster(t, 1)
	ctx := context.Background()
	id := chunkaddr.NewSingleTrackChunkId(schema.InodeId(5), 0)

	resp, err := head.Write(ctx, WriteRequest{
		ChunkId:              id,
		Offset:               0,
		Buffer:               []byte("payload"),
		ChainId:              testChID,
		ChainVersionExpected: 1,
		UpdateId:             [16]byte{1},
	})
	if err != nil {
		t.Fatalf("Write: %v", err)
	}
	if !resp.Committed || resp.ChunkVersion != 1 {
		t.Fatalf("resp = %+v, want committed v1", resp)
	}

	for name, srv := range map[string]*Server{"head": head, "mid": mid, "tail": tail} {
		meta, found, err := srv.store.Meta(id)
		if err != nil || !found {
			t.Fatalf("%s: Meta found=%v err=%v", name, found, err)
		}
		if meta.Uncommitted {
			t.Fatalf("%s: expected committed after Write returned", name)
		}
		if meta.ChunkVersion != 1 {
			t.Fatalf("%s: ChunkVersion = %d, want 1", name, meta.ChunkVersion)
		}
	}
}

func TestCRAQWriteRejectsStaleChainVersion(t *testing.T) {
	head, _, _ := newChainCluster(t, 2)
	ctx := context.Background()
	id := chunkaddr.NewSingleTrackChunkId(schema.InodeId(6), 0)

	_, err := head.Write(ctx, WriteRequest{
		ChunkId:              id,
		Buffer:               []byte("x"),
		ChainId:              testChID,
		ChainVersionExpected: 1,
		UpdateId:             [16]byte{2},
	})
	if err == nil {
		t.Fatalf("expected VersionMismatch, got nil")
	}
}

// TestCRAQConcurrentWritesToSameChunkAssignDistinctVersions fires two
// overlapping Write calls at HEAD for the same chunk and checks that
// the chunk's version ends up advanced by exactly two steps with two
// distinct update ids both reaching TAIL, instead of both racing to
// read the same prev.ChunkVersion and colliding on one version number.
func TestCRAQConcurrentWritesToSameChunkAssignDistinctVersions(t *testing.T) {
	head, _, tail := newChainCluster(t, 1)
	id := chunkaddr.NewSingleTrackChunkId(schema.InodeId(9), 0)

	var wg sync.WaitGroup
	versions := make([]uint64, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			resp, err := head.Write(context.Background(), WriteRequest{
				ChunkId:              id,
				Buffer:               []byte("x"),
				ChainId:              testChID,
				ChainVersionExpected: 1,
				UpdateId:             [16]byte{byte(10 + i)},
			})
			if err != nil {
				t.Errorf("Write %d: %v", i, err)
				return
			}
			versions[i] = resp.ChunkVersion
		}(i)
	}
	wg.Wait()

	if versions[0] == versions[1] {
		t.Fatalf("concurrent writes to the same chunk both assigned version %d", versions[0])
	}
	if (versions[0] != 1 || versions[1] != 2) && (versions[0] != 2 || versions[1] != 1) {
		t.Fatalf("versions = %v, want {1,2} in some order", versions)
	}

	meta, found, err := tail.store.Meta(id)
	if err != nil || !found {
		t.Fatalf("tail Meta found=%v err=%v", found, err)
	}
	if meta.ChunkVersion != 2 {
		t.Fatalf("tail ChunkVersion = %d, want 2", meta.ChunkVersion)
	}
}

func TestCRAQReadUncommittedForwardsToTail(t *testing.T) {
	_, mid, tail := newChainCluster(t, 1)
	ctx := context.Background()
	id := chunkaddr.NewSingleTrackChunkId(schema.InodeId(8), 0)

	// Stage the same uncommitted write directly at mid and at tail
	// (bypassing the normal write path), to simulate a read landing
	// mid-chain before the commit ack has arrived. Mid must not answer
	// from its own uncommitted view; it forwards to tail instead.
	if err := mid.store.WriteUncommitted(id, 0, []byte("abc"), 1, 1); err != nil {
		t.Fatalf("mid WriteUncommitted: %v", err)
	}
	if err := tail.store.WriteUncommitted(id, 0, []byte("xyz"), 1, 1); err != nil {
		t.Fatalf("tail WriteUncommitted: %v", err)
	}
	if err := tail.store.Commit(id, 1); err != nil {
		t.Fatalf("tail Commit: %v", err)
	}

	resp, err := mid.Read(ctx, ReadRequest{ChunkId: id, ChainId: testChID, Offset: 0, Length: 3})
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if string(resp.Data) != "xyz" {
		t.Fatalf("Read.Data = %q, want tail's committed %q, not mid's own uncommitted view", resp.Data, "xyz")
	}
	if !resp.Committed {
		t.Fatalf("expected Committed=true from tail's authoritative answer")
	}
}
