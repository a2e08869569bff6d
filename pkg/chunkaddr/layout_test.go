package chunkaddr

import (
	"testing"

	"github.com/fireflyer/ffs/pkg/schema"
)

func TestChunkIndexForOffset(t *testing.T) {
	const chunkSize = 1 << 20 // 1 MiB
	cases := []struct {
		offset uint64
		want   uint32
	}{
		{0, 0},
		{chunkSize - 1, 0},
		{chunkSize, 1},
		{chunkSize + 1, 1},
		{4 * chunkSize, 4},
	}
	for _, c := range cases {
		if got := ChunkIndexForOffset(chunkSize, c.offset); got != c.want {
			t.Errorf("ChunkIndexForOffset(%d, %d) = %d want %d", chunkSize, c.offset, got, c.want)
		}
	}
}

func TestChainSlotCyclesWithStripeSize(t *testing.T) {
	cases := []struct {
		seed, idx, stripe, want uint32
	}{
		{0, 0, 4, 0},
		{0, 1, 4, 1},
		{0, 4, 4, 0},
		{2, 0, 4, 2},
		{2, 3, 4, 1},
	}
	for _, c := range cases {
		if got := ChainSlot(c.seed, c.idx, c.stripe); got != c.want {
			t.Errorf("ChainSlot(%d,%d,%d) = %d want %d", c.seed, c.idx, c.stripe, got, c.want)
		}
	}
}

func TestS1StripedLayoutMapsChunksInOrder(t *testing.T) {
	// Mirrors seed scenario S1: chunk 0→C1, 1→C2, 2→C3, 3→C4 for a
	// stripe_size=4, seed=0 layout.
	for idx := uint32(0); idx < 4; idx++ {
		if got := ChainSlot(0, idx, 4); got != idx {
			t.Fatalf("expected chunk %d to map to chain slot %d, got %d", idx, idx, got)
		}
	}
}

func TestValidateLayoutRejectsNonPowerOfTwoChunkSize(t *testing.T) {
	l := schema.Layout{ChunkSize: 3, StripeSize: 1}
	if err := ValidateLayout(l, 4); err == nil {
		t.Fatalf("expected an error for a non-power-of-two chunk size")
	}
}

func TestValidateLayoutRejectsStripeSizeExceedingChainTable(t *testing.T) {
	l := schema.Layout{ChunkSize: 1024, StripeSize: 8}
	if err := ValidateLayout(l, 4); err == nil {
		t.Fatalf("expected an error when stripe_size exceeds the chain table length")
	}
}

func TestValidateLayoutAcceptsWellFormedLayout(t *testing.T) {
	l := schema.Layout{ChunkSize: 1 << 20, StripeSize: 4}
	if err := ValidateLayout(l, 4); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestSplitWithinSingleChunk(t *testing.T) {
	subs := Split(1024, 10, 20)
	if len(subs) != 1 {
		t.Fatalf("got %d sub-writes want 1", len(subs))
	}
	if subs[0].ChunkIndex != 0 || subs[0].ChunkOffset != 10 || subs[0].Length != 20 {
		t.Fatalf("got %+v", subs[0])
	}
}

func TestSplitAcrossThreeChunks(t *testing.T) {
	// Write at offset=chunk_size-1 of length=chunk_size+2 spans exactly
	// three chunks (§8 boundary behavior).
	const chunkSize = 16
	subs := Split(chunkSize, chunkSize-1, chunkSize+2)
	if len(subs) != 3 {
		t.Fatalf("got %d sub-writes want 3: %+v", len(subs), subs)
	}
	if subs[0].ChunkIndex != 0 || subs[0].Length != 1 {
		t.Fatalf("first sub-write wrong: %+v", subs[0])
	}
	if subs[1].ChunkIndex != 1 || subs[1].Length != chunkSize {
		t.Fatalf("second sub-write wrong: %+v", subs[1])
	}
	if subs[2].ChunkIndex != 2 || subs[2].Length != 1 {
		t.Fatalf("third sub-write wrong: %+v", subs[2])
	}

	var total uint64
	for _, s := range subs {
		total += s.Length
	}
	if total != chunkSize+2 {
		t.Fatalf("sub-write lengths sum to %d want %d", total, chunkSize+2)
	}
}

func TestSplitBufferOffsetsAreContiguous(t *testing.T) {
	subs := Split(16, 5, 40)
	var want uint64
	for _, s := range subs {
		if s.BufferStart != want {
			t.Fatalf("got BufferStart %d want %d", s.BufferStart, want)
		}
		want += s.Length
	}
}

func TestSplitZeroLengthReturnsNil(t *testing.T) {
	if subs := Split(1024, 0, 0); subs != nil {
		t.Fatalf("expected nil for a zero-length split, got %+v", subs)
	}
}
