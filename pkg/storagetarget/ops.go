package storagetarget

import "context"

// QueryChunk answers a peer's request for one chunk's metadata only.
// Nothing in this package issues it: an uncommitted read forwards the
// whole read to TAIL, and resync pulls SnapshotRange.
func (s *Server) QueryChunk(ctx context.Context, req QueryChunkRequest) (QueryChunkResponse, error) {
	meta, found, err := s.store.Meta(req.ChunkId)
	if err != nil {
		return QueryChunkResponse{}, err
	}
	return QueryChunkResponse{Meta: meta, Found: found}, nil
}

// RemoveChunks drops every chunk of an inode from fromChunk onward,
// the operation pkg/meta's ChunkRemover interface resolves to. Idempotent:
// a chunk already removed is simply absent from the scan.
func (s *Server) RemoveChunks(ctx context.Context, req RemoveChunksRequest) (RemoveChunksResponse, error) {
	if err := s.store.RemoveInode(req.Inode, req.FromChunk); err != nil {
		return RemoveChunksResponse{}, err
	}
	return RemoveChunksResponse{}, nil
}

// SnapshotRange answers a peer's resync pull: every chunk record this
// target holds with local application sequence greater than
// req.AfterVersion, in order, up to req.Limit.
func (s *Server) SnapshotRange(ctx context.Context, req SnapshotRangeRequest) (SnapshotRangeResponse, error) {
	entries, _, hasMore, err := s.store.ListAfter(req.AfterVersion, req.Limit)
	if err != nil {
		return SnapshotRangeResponse{}, err
	}
	return SnapshotRangeResponse{Entries: entries, HasMore: hasMore}, nil
}

// BatchWrite runs several sub-writes bound for this target, one
// storage client RPC instead of one per chunk. One item's failure is
// reported in Errors without aborting its batch-mates, the same
// isolation pkg/meta's batch runner gives a multi-op commit.
func (s *Server) BatchWrite(ctx context.Context, req BatchWriteRequest) (BatchWriteResponse, error) {
	out := BatchWriteResponse{
		Items:  make([]WriteResponse, len(req.Items)),
		Errors: make([]string, len(req.Items)),
	}
	for i, item := range req.Items {
		resp, err := s.Write(ctx, item)
		if err != nil {
			out.Errors[i] = err.Error()
			continue
		}
		out.Items[i] = resp
	}
	return out, nil
}

// BatchRead runs several sub-reads bound for this target in one RPC.
func (s *Server) BatchRead(ctx context.Context, req BatchReadRequest) (BatchReadResponse, error) {
	out := BatchReadResponse{
		Items:  make([]ReadResponse, len(req.Items)),
		Errors: make([]string, len(req.Items)),
	}
	for i, item := range req.Items {
		resp, err := s.Read(ctx, item)
		if err != nil {
			out.Errors[i] = err.Error()
			continue
		}
		out.Items[i] = resp
	}
	return out, nil
}
