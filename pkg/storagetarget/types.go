package storagetarget

import (
	"github.com/fireflyer/ffs/pkg/chunkaddr"
	"github.com/fireflyer/ffs/pkg/routing"
)

// ChunkMeta is the per-chunk side-table record §4.7 calls for:
// { chain_version, chunk_version, checksum, uncommitted? }.
type ChunkMeta struct {
	ChainVersion uint32
	ChunkVersion uint64
	Checksum     uint64
	Uncommitted  bool
}

// WriteRequest is a client's (or predecessor's) request to mutate one
// chunk at an offset, carrying the chain version the sender last
// observed so a stale sender gets VersionMismatch instead of silently
// corrupting a chain that has since rotated.
type WriteRequest struct {
	ChunkId             chunkaddr.ChunkId
	Offset              uint64
	Buffer              []byte
	ChainId              routing.ChainId
	ChainVersionExpected uint32
	UpdateId             [16]byte
}

// WriteResponse carries back the tentative or committed version a
// write produced.
type WriteResponse struct {
	ChunkVersion uint64
	Committed    bool
}

// ForwardUpdateRequest is what a non-tail replica sends its successor:
// the same write, plus the tentative chunk version the sender assigned
// so every replica in the chain agrees on one linear version sequence.
type ForwardUpdateRequest struct {
	ChunkId              chunkaddr.ChunkId
	Offset               uint64
	Buffer               []byte
	ChainId              routing.ChainId
	ChainVersionExpected uint32
	ChunkVersion         uint64
	UpdateId             [16]byte
}

// CommitUpdateRequest is the acknowledgement a tail (or any replica
// that just received one) forwards back toward the head: this
// chunk/version pair may now be marked committed.
type CommitUpdateRequest struct {
	ChunkId      chunkaddr.ChunkId
	ChainId      routing.ChainId
	ChunkVersion uint64
	UpdateId     [16]byte
}

// ForwardAckResponse is forwardUpdate's reply: the staging hop accepted
// the write, nothing more. Commit confirmation arrives later and
// separately, via commitUpdate propagating back from the tail.
type ForwardAckResponse struct {
	ChunkVersion uint64
}

// CommitUpdateResponse is commitUpdate's empty acknowledgement.
type CommitUpdateResponse struct{}

// ReadRequest asks one replica for a chunk's current bytes.
type ReadRequest struct {
	ChunkId chunkaddr.ChunkId
	ChainId routing.ChainId
	Offset  uint64
	Length  uint64
}

// ReadResponse carries back the data this replica could serve and the
// chunk version it corresponds to, so a client that already saw a
// later version can discard a stale reply.
type ReadResponse struct {
	Data         []byte
	ChunkVersion uint64
	Committed    bool
}

// QueryChunkRequest asks a peer for a chunk's metadata only. The
// uncommitted-read path and resync do not send it; they use
// MethodRead and MethodSnapshotRange.
type QueryChunkRequest struct {
	ChunkId chunkaddr.ChunkId
}

// QueryChunkResponse answers QueryChunkRequest.
type QueryChunkResponse struct {
	Meta  ChunkMeta
	Found bool
}

// RemoveChunksRequest asks a target to drop every chunk belonging to
// inode from chunk index fromChunk onward, the operation
// meta.ChunkRemover resolves to — issued through storageclient by
// meta's GC worker on an unlinked inode and by meta's truncate on a
// shrink.
type RemoveChunksRequest struct {
	Inode     uint64
	FromChunk uint32
}

// RemoveChunksResponse is an empty acknowledgement; removal is
// idempotent so there is nothing else to report.
type RemoveChunksResponse struct{}

// SnapshotRangeRequest asks a peer for every chunk record with version
// greater than afterVersion, in version order, the primitive resync's
// catch-up replay is built from.
type SnapshotRangeRequest struct {
	AfterVersion uint64
	Limit        int
}

// SnapshotEntry is one chunk's full state as shipped during resync:
// both its metadata and, if committed, its current bytes.
type SnapshotEntry struct {
	ChunkId chunkaddr.ChunkId
	Meta    ChunkMeta
	Data    []byte
}

// SnapshotRangeResponse answers SnapshotRangeRequest.
type SnapshotRangeResponse struct {
	Entries []SnapshotEntry
	HasMore bool
}

// BatchWriteRequest is batchWrite's payload (§6): a storage client
// groups several sub-writes bound for the same node into one RPC.
type BatchWriteRequest struct {
	Items []WriteRequest
}

// BatchWriteResponse answers BatchWriteRequest, one WriteResponse (or
// error message) per request item, same order.
type BatchWriteResponse struct {
	Items  []WriteResponse
	Errors []string // "" for a successful item, else that item's error
}

// BatchReadRequest is batchRead's payload: several sub-reads bound for
// the same node, grouped into one RPC.
type BatchReadRequest struct {
	Items []ReadRequest
}

// BatchReadResponse answers BatchReadRequest.
type BatchReadResponse struct {
	Items  []ReadResponse
	Errors []string
}

// RoutingSource is the same minimal contract meta depends on: a way to
// read the current RoutingInfo without caring who keeps it fresh.
type RoutingSource interface {
	RoutingInfo() routing.RoutingInfo
}
