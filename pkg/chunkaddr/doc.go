// Package chunkaddr implements §4.3: the 16-byte ChunkId wire format and
// the pure arithmetic mapping a file offset to a chunk index, a stripe
// slot, and the sub-write split for an I/O that crosses chunk boundaries.
// Resolving a stripe slot to an actual ChainId is the routing package's
// job (it owns the chain table); chunkaddr only computes the slot number.
package chunkaddr
