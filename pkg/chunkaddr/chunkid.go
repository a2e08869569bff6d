package chunkaddr

import (
	"encoding/binary"
	"fmt"

	"github.com/fireflyer/ffs/pkg/schema"
)

// ChunkIdLen is the wire size of a ChunkId: tenant(1) | reserved(1) |
// inode(8) | track(2) | chunk_index(4), big-endian components, chosen so
// that lexicographic byte order matches (inode, track, chunk_index)
// ordering and sequential offsets within one file produce sequential
// keys.
const ChunkIdLen = 16

// ChunkId addresses a single chunk of a file. Track is 0 for single-track
// (the only kind this repo creates); multi-track ids still decode and
// compare correctly.
type ChunkId struct {
	Tenant     uint8
	Reserved   uint8
	Inode      schema.InodeId
	Track      uint16
	ChunkIndex uint32
}

// Encode serializes the ChunkId to its fixed 16-byte big-endian wire form.
func (c ChunkId) Encode() [ChunkIdLen]byte {
	var out [ChunkIdLen]byte
	out[0] = c.Tenant
	out[1] = c.Reserved
	binary.BigEndian.PutUint64(out[2:10], uint64(c.Inode))
	binary.BigEndian.PutUint16(out[10:12], c.Track)
	binary.BigEndian.PutUint32(out[12:16], c.ChunkIndex)
	return out
}

// DecodeChunkId parses a 16-byte ChunkId.
func DecodeChunkId(b []byte) (ChunkId, error) {
	if len(b) != ChunkIdLen {
		return ChunkId{}, fmt.Errorf("chunkaddr: chunk id must be %d bytes, got %d", ChunkIdLen, len(b))
	}
	return ChunkId{
		Tenant:     b[0],
		Reserved:   b[1],
		Inode:      schema.InodeId(binary.BigEndian.Uint64(b[2:10])),
		Track:      binary.BigEndian.Uint16(b[10:12]),
		ChunkIndex: binary.BigEndian.Uint32(b[12:16]),
	}, nil
}

// NewSingleTrackChunkId builds the ChunkId for track 0, tenant 0, which is
// every chunk this repo addresses.
func NewSingleTrackChunkId(inode schema.InodeId, chunkIndex uint32) ChunkId {
	return ChunkId{Inode: inode, ChunkIndex: chunkIndex}
}
