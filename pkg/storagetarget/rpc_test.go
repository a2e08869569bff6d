package storagetarget

import (
	"context"
	"testing"

	"github.com/fireflyer/ffs/pkg/chunkaddr"
	"github.com/fireflyer/ffs/pkg/schema"
	"github.com/fireflyer/ffs/pkg/transport"
)

func TestHandlerRejectsWrongServiceID(t *testing.T) {
	head, _, _ := newChainCluster(t, 1)
	_, err := head.Handler()(context.Background(), transport.Envelope{ServiceID: 99, MethodID: MethodQueryChunk})
	if err == nil {
		t.Fatalf("expected an error for a mismatched service id")
	}
}

func TestHandlerQueryChunkRoundTrip(t *testing.T) {
	head, _, _ := newChainCluster(t, 1)
	id := chunkaddr.NewSingleTrackChunkId(schema.InodeId(11), 0)
	if err := head.store.WriteUncommitted(id, 0, []byte("data"), 1, 1); err != nil {
		t.Fatalf("WriteUncommitted: %v", err)
	}

	payload, err := encodeGob(QueryChunkRequest{ChunkId: id})
	if err != nil {
		t.Fatalf("encodeGob: %v", err)
	}
	req := transport.NewEnvelope(ServiceID, MethodQueryChunk, payload)
	resp, err := head.Handler()(context.Background(), req)
	if err != nil {
		t.Fatalf("Handler: %v", err)
	}
	var out QueryChunkResponse
	if err := decodeGob(resp.Payload, &out); err != nil {
		t.Fatalf("decodeGob: %v", err)
	}
	if !out.Found || out.Meta.ChunkVersion != 1 {
		t.Fatalf("out = %+v, want found v1", out)
	}
}

func TestHandlerRemoveChunksIdempotent(t *testing.T) {
	head, _, _ := newChainCluster(t, 1)
	id := chunkaddr.NewSingleTrackChunkId(schema.InodeId(12), 0)
	if err := head.store.WriteUncommitted(id, 0, []byte("data"), 1, 1); err != nil {
		t.Fatalf("WriteUncommitted: %v", err)
	}

	for i := 0; i < 2; i++ {
		if _, err := head.RemoveChunks(context.Background(), RemoveChunksRequest{Inode: 12, FromChunk: 0}); err != nil {
			t.Fatalf("RemoveChunks pass %d: %v", i, err)
		}
	}
	_, found, err := head.store.Meta(id)
	if err != nil {
		t.Fatalf("Meta: %v", err)
	}
	if found {
		t.Fatalf("expected chunk removed")
	}
}
