package kv

import (
	"context"
	"path/filepath"
	"testing"
)

func newTestBoltEngine(t *testing.T) *BoltEngine {
	t.Helper()
	path := filepath.Join(t.TempDir(), "kv.db")
	e, err := NewBoltEngine(path)
	if err != nil {
		t.Fatalf("NewBoltEngine: %v", err)
	}
	return e
}

func TestBoltEngineConformance(t *testing.T) {
	runEngineConformance(t, func(t *testing.T) Engine {
		return newTestBoltEngine(t)
	})
}

func TestBoltEngineResetRestartsTransaction(t *testing.T) {
	e := newTestBoltEngine(t)
	defer e.Close()
	ctx := context.Background()

	seed, _ := e.NewTransaction(ctx)
	seed.Set([]byte("k"), []byte("v1"))
	if _, err := seed.Commit(ctx); err != nil {
		t.Fatalf("seed commit: %v", err)
	}

	txn, err := e.NewTransaction(ctx)
	if err != nil {
		t.Fatalf("NewTransaction: %v", err)
	}
	txn.Set([]byte("other"), []byte("staged"))
	txn.Reset()

	_, ok, err := txn.SnapshotGet(ctx, []byte("other"))
	if err != nil {
		t.Fatalf("SnapshotGet: %v", err)
	}
	if ok {
		t.Fatalf("expected Reset to discard staged writes")
	}

	v, ok, err := txn.SnapshotGet(ctx, []byte("k"))
	if err != nil || !ok || string(v) != "v1" {
		t.Fatalf("expected Reset to observe latest committed state, got v=%v ok=%v err=%v", v, ok, err)
	}
	txn.Cancel()
}

func TestBoltEnginePersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "kv.db")
	ctx := context.Background()

	e1, err := NewBoltEngine(path)
	if err != nil {
		t.Fatalf("NewBoltEngine: %v", err)
	}
	txn, _ := e1.NewTransaction(ctx)
	txn.Set([]byte("durable"), []byte("yes"))
	if _, err := txn.Commit(ctx); err != nil {
		t.Fatalf("commit: %v", err)
	}
	if err := e1.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	e2, err := NewBoltEngine(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer e2.Close()

	rtxn, _ := e2.NewReadTransaction(ctx)
	defer rtxn.Cancel()
	v, ok, err := rtxn.SnapshotGet(ctx, []byte("durable"))
	if err != nil || !ok || string(v) != "yes" {
		t.Fatalf("expected value to survive reopen, got v=%v ok=%v err=%v", v, ok, err)
	}
}
