package idgen

import (
	"context"
	"sync"
	"testing"

	"github.com/fireflyer/ffs/pkg/kv"
)

func TestAllocatorNextReturnsIncreasingIds(t *testing.T) {
	a := NewAllocator(kv.NewMemoryEngine())
	ctx := context.Background()

	first, err := a.Next(ctx)
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	second, err := a.Next(ctx)
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	if second <= first {
		t.Fatalf("expected a strictly increasing id, got %d then %d", first, second)
	}
	if first != 1 {
		t.Fatalf("expected the first allocated id to be 1, got %d", first)
	}
}

func TestAllocatorNeverRepeatsUnderConcurrency(t *testing.T) {
	a := NewAllocator(kv.NewMemoryEngine())
	ctx := context.Background()

	const n = 50
	ids := make(chan uint64, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			id, err := a.Next(ctx)
			if err != nil {
				t.Errorf("Next: %v", err)
				return
			}
			ids <- uint64(id)
		}()
	}
	wg.Wait()
	close(ids)

	seen := make(map[uint64]struct{}, n)
	for id := range ids {
		if _, dup := seen[id]; dup {
			t.Fatalf("id %d allocated more than once", id)
		}
		seen[id] = struct{}{}
	}
	if len(seen) != n {
		t.Fatalf("got %d unique ids want %d", len(seen), n)
	}
}

func TestAllocatorPersistsAcrossNewAllocatorInstances(t *testing.T) {
	engine := kv.NewMemoryEngine()
	ctx := context.Background()

	a1 := NewAllocator(engine)
	first, err := a1.Next(ctx)
	if err != nil {
		t.Fatalf("Next: %v", err)
	}

	a2 := NewAllocator(engine)
	second, err := a2.Next(ctx)
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	if second <= first {
		t.Fatalf("expected a fresh Allocator over the same engine to continue the sequence, got %d then %d", first, second)
	}
}
