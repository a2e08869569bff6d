package chunkaddr

import (
	"bytes"
	"testing"

	"github.com/fireflyer/ffs/pkg/schema"
)

func TestChunkIdEncodeDecodeRoundTrip(t *testing.T) {
	c := ChunkId{Tenant: 0, Reserved: 0, Inode: 42, Track: 0, ChunkIndex: 7}
	enc := c.Encode()
	out, err := DecodeChunkId(enc[:])
	if err != nil {
		t.Fatalf("DecodeChunkId: %v", err)
	}
	if out != c {
		t.Fatalf("got %+v want %+v", out, c)
	}
}

func TestChunkIdOrderingIsLexicographicByIndex(t *testing.T) {
	a := NewSingleTrackChunkId(1, 0).Encode()
	b := NewSingleTrackChunkId(1, 1).Encode()
	if bytes.Compare(a[:], b[:]) >= 0 {
		t.Fatalf("expected chunk 0 to sort before chunk 1 for the same inode")
	}
}

func TestChunkIdOrderingIsLexicographicByInode(t *testing.T) {
	a := NewSingleTrackChunkId(1, 0xFFFFFFFF).Encode()
	b := NewSingleTrackChunkId(2, 0).Encode()
	if bytes.Compare(a[:], b[:]) >= 0 {
		t.Fatalf("expected inode 1's last chunk to sort before inode 2's first chunk")
	}
}

func TestDecodeChunkIdRejectsWrongLength(t *testing.T) {
	if _, err := DecodeChunkId([]byte{1, 2, 3}); err == nil {
		t.Fatalf("expected an error for a short chunk id")
	}
}

func TestNewSingleTrackChunkIdUsesTrackZero(t *testing.T) {
	c := NewSingleTrackChunkId(schema.InodeId(9), 3)
	if c.Track != 0 {
		t.Fatalf("expected track 0 for single-track files, got %d", c.Track)
	}
}
