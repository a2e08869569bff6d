package kv

import (
	"context"
	"testing"
)

func TestMemoryEngineConformance(t *testing.T) {
	runEngineConformance(t, func(t *testing.T) Engine {
		return NewMemoryEngine()
	})
}

func TestMemoryEngineResetRestartsTransaction(t *testing.T) {
	e := NewMemoryEngine()
	ctx := context.Background()

	seed, _ := e.NewTransaction(ctx)
	seed.Set([]byte("k"), []byte("v1"))
	if _, err := seed.Commit(ctx); err != nil {
		t.Fatalf("seed commit: %v", err)
	}

	txn, _ := e.NewTransaction(ctx)
	txn.Set([]byte("other"), []byte("staged"))
	txn.Reset()

	v, ok, err := txn.SnapshotGet(ctx, []byte("other"))
	if err != nil {
		t.Fatalf("SnapshotGet: %v", err)
	}
	if ok {
		t.Fatalf("expected Reset to discard staged writes, found %q", v)
	}

	v, ok, err = txn.SnapshotGet(ctx, []byte("k"))
	if err != nil || !ok || string(v) != "v1" {
		t.Fatalf("expected Reset to observe latest committed state, got v=%v ok=%v err=%v", v, ok, err)
	}
}
