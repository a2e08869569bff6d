package chunkaddr

import (
	"fmt"

	"github.com/fireflyer/ffs/pkg/schema"
)

// ChunkIndexForOffset computes floor(offset / chunkSize). chunkSize must
// be a positive power of two; callers validate that at layout-creation
// time (see ValidateLayout).
func ChunkIndexForOffset(chunkSize uint64, offset uint64) uint32 {
	return uint32(offset / chunkSize)
}

// ChainSlot computes (seed + chunkIndex) mod stripeSize, the position
// within the file's chain cycle that chunkIndex falls on.
func ChainSlot(seed uint32, chunkIndex uint32, stripeSize uint32) uint32 {
	return (seed + chunkIndex) % stripeSize
}

// ValidateLayout enforces the invariants a layout must hold before it can
// be attached to a file: chunk size a power of two, and stripe size no
// larger than the chain table it draws from (Open Question 4: stripe_size
// > len(chains) fails InvalidArgument rather than wrapping or truncating).
func ValidateLayout(l schema.Layout, chainTableLen int) error {
	if l.ChunkSize == 0 || l.ChunkSize&(l.ChunkSize-1) != 0 {
		return fmt.Errorf("chunkaddr: chunk_size %d is not a positive power of two", l.ChunkSize)
	}
	if l.StripeSize == 0 {
		return fmt.Errorf("chunkaddr: stripe_size must be positive")
	}
	if int(l.StripeSize) > chainTableLen {
		return fmt.Errorf("chunkaddr: stripe_size %d exceeds chain table length %d", l.StripeSize, chainTableLen)
	}
	return nil
}

// SubWrite is one per-chunk slice of a larger I/O that may span several
// chunks.
type SubWrite struct {
	ChunkIndex  uint32
	ChunkOffset uint64 // offset within the chunk
	Length      uint64
	BufferStart uint64 // offset within the caller's buffer this sub-write reads/writes
}

// Split breaks an I/O of length bytes starting at offset against a file
// with the given chunk size into per-chunk sub-writes, each addressing
// exactly one chunk.
func Split(chunkSize uint64, offset, length uint64) []SubWrite {
	if length == 0 {
		return nil
	}
	var out []SubWrite
	bufStart := uint64(0)
	remaining := length
	cur := offset
	for remaining > 0 {
		idx := ChunkIndexForOffset(chunkSize, cur)
		chunkStart := uint64(idx) * chunkSize
		withinChunk := cur - chunkStart
		avail := chunkSize - withinChunk
		n := remaining
		if n > avail {
			n = avail
		}
		out = append(out, SubWrite{
			ChunkIndex:  idx,
			ChunkOffset: withinChunk,
			Length:      n,
			BufferStart: bufStart,
		})
		cur += n
		bufStart += n
		remaining -= n
	}
	return out
}
