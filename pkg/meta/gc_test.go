package meta

import (
	"context"
	"sync"
	"testing"

	"github.com/fireflyer/ffs/pkg/kv"
	"github.com/fireflyer/ffs/pkg/schema"
)

type fakeRemover struct {
	mu      sync.Mutex
	removed []schema.InodeId
}

func (r *fakeRemover) RemoveChunks(ctx context.Context, inode schema.InodeId, fromChunk uint32) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.removed = append(r.removed, inode)
	return nil
}

func TestRemoveThenCloseEnqueuesDeletionAndGCReclaimsIt(t *testing.T) {
	remover := &fakeRemover{}
	s, engine := newTestServer(t)
	s.cfg.Remover = remover
	root := seedRootDir(t, engine, 1000, 1000)
	user := UserInfo{Uid: 1000, Gid: 1000}

	created, err := s.Create(context.Background(), user, CreateRequest{Meta: reqMeta(), Parent: root, Name: "f", Mode: 0o644})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	opened, err := s.Open(context.Background(), user, OpenRequest{Meta: reqMeta(), Inode: created.Inode.Id})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	if _, err := s.Remove(context.Background(), user, RemoveRequest{Meta: reqMeta(), Parent: root, Name: "f"}); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	// nlink is zero but the open session is still held, so the inode
	// must not be queued for deletion yet.
	assertGCQueueLen(t, engine, 0)

	if _, err := s.Close(context.Background(), user, CloseRequest{Meta: reqMeta(), Inode: created.Inode.Id, SessionUUID: opened.Session.SessionUUID}); err != nil {
		t.Fatalf("Close: %v", err)
	}
	assertGCQueueLen(t, engine, 1)

	w := newGCWorker(s, 0)
	if err := w.drainOnce(context.Background()); err != nil {
		t.Fatalf("drainOnce: %v", err)
	}
	assertGCQueueLen(t, engine, 0)

	remover.mu.Lock()
	defer remover.mu.Unlock()
	if len(remover.removed) != 1 || remover.removed[0] != created.Inode.Id {
		t.Fatalf("removed = %v, want [%d]", remover.removed, created.Inode.Id)
	}
}

func TestRemoveWithNoOpenSessionEnqueuesImmediately(t *testing.T) {
	s, engine := newTestServer(t)
	root := seedRootDir(t, engine, 1000, 1000)
	user := UserInfo{Uid: 1000, Gid: 1000}

	if _, err := s.Create(context.Background(), user, CreateRequest{Meta: reqMeta(), Parent: root, Name: "f", Mode: 0o644}); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := s.Remove(context.Background(), user, RemoveRequest{Meta: reqMeta(), Parent: root, Name: "f"}); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	assertGCQueueLen(t, engine, 1)
}

func TestResolveLayoutReturnsCreatedFileLayout(t *testing.T) {
	s, engine := newTestServer(t)
	root := seedRootDir(t, engine, 1000, 1000)
	user := UserInfo{Uid: 1000, Gid: 1000}

	created, err := s.Create(context.Background(), user, CreateRequest{Meta: reqMeta(), Parent: root, Name: "f", Mode: 0o644})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	layout, ok := s.ResolveLayout(created.Inode.Id)
	if !ok {
		t.Fatalf("ResolveLayout reported inode %d unresolvable", created.Inode.Id)
	}
	if layout != created.Inode.Layout {
		t.Fatalf("ResolveLayout = %+v, want %+v", layout, created.Inode.Layout)
	}
}

func TestResolveLayoutReportsUnresolvableForUnknownInode(t *testing.T) {
	s, _ := newTestServer(t)
	if _, ok := s.ResolveLayout(999999); ok {
		t.Fatalf("ResolveLayout reported an inode that was never created as resolvable")
	}
}

func assertGCQueueLen(t *testing.T, engine kv.Engine, want int) {
	t.Helper()
	txn, err := engine.NewReadTransaction(context.Background())
	if err != nil {
		t.Fatalf("NewReadTransaction: %v", err)
	}
	defer txn.Cancel()
	prefix := schema.GCQueueScanPrefix()
	kvs, _, err := txn.SnapshotGetRange(context.Background(), kv.Key(prefix), kv.KeyExclusive(schema.PrefixRangeEnd(prefix)), 100)
	if err != nil {
		t.Fatalf("SnapshotGetRange: %v", err)
	}
	if len(kvs) != want {
		t.Fatalf("GC queue length = %d, want %d", len(kvs), want)
	}
}
