package storageclient

import (
	"github.com/fireflyer/ffs/pkg/chunkaddr"
	"github.com/fireflyer/ffs/pkg/routing"
	"github.com/fireflyer/ffs/pkg/schema"
)

// IORequest is the inode-level input a Client turns into per-chunk
// sub-ops, the `{ inode, layout, offset, length, buffer, is_write }`
// shape §4.8 names.
type IORequest struct {
	Inode  schema.InodeId
	Layout schema.Layout
	Offset uint64
	Length uint64
	// Buffer holds the bytes to write; unused for a read, whose bytes
	// come back in a freshly allocated IOResult.Data.
	Buffer []byte
}

// ReadSelectMode picks which chain replica a read sub-op targets, the
// four modes §4.8 names.
type ReadSelectMode int

const (
	SelectHead ReadSelectMode = iota
	SelectTail
	SelectRoundRobin
	SelectRandom
)

// IOResult aggregates one IORequest's outcome: total bytes
// transferred, and for a read, the assembled buffer.
type IOResult struct {
	BytesTransferred uint64
	Data             []byte
}

// RoutingSource is the same minimal contract every component that
// needs chain/target placement depends on.
type RoutingSource interface {
	RoutingInfo() routing.RoutingInfo
}

// LayoutResolver looks up an inode's current layout, the one piece of
// information RemoveChunks needs that meta's ChunkRemover call doesn't
// carry (§4.6's remove path only passes inode and from_chunk). A
// client wired alongside a meta server satisfies this with that
// server's ResolveLayout, which reads the inode directly without
// Stat's permission checks; tests can supply a fixed map instead.
type LayoutResolver interface {
	ResolveLayout(inode schema.InodeId) (schema.Layout, bool)
}

// subOp is one chunk-addressed piece of a larger IORequest, after
// chunking and chain resolution, still to be grouped into
// destination-node batches.
type subOp struct {
	chunkID      chunkaddr.ChunkId
	chainID      routing.ChainId
	chainVersion uint32
	target       routing.TargetId
	offset       uint64 // offset within the chunk
	length       uint64
	bufferStart  uint64 // offset within the caller's buffer
	updateID     [16]byte
}
