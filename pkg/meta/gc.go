package meta

import (
	"context"
	"encoding/binary"
	"time"

	"github.com/fireflyer/ffs/pkg/kv"
	"github.com/fireflyer/ffs/pkg/log"
	"github.com/fireflyer/ffs/pkg/metrics"
	"github.com/fireflyer/ffs/pkg/schema"
)

// enqueueDeletion stages a GCQU entry for inode inside the same
// transaction that clears its INOD record, so the handoff to the
// background reclaimer is crash-safe: a process that dies between
// the two never happens, because they are the same commit. The key's
// versionstamp suffix orders entries oldest-first regardless of which
// meta replica enqueued them.
func enqueueDeletion(txn kv.ReadWriteTransaction, inode schema.InodeId) {
	var value [8]byte
	binary.BigEndian.PutUint64(value[:], uint64(inode))
	txn.SetVersionstampedKey(schema.PrefixGCQueue, nil, value[:])
}

// gcWorker drains the deletion queue in the background: for each
// queued inode it asks the storage client to remove every chunk from
// offset zero, then clears the queue entry in the same transaction so
// a crash between the two leaves the entry in place for a retry
// rather than silently losing track of unreclaimed chunks.
type gcWorker struct {
	server   *Server
	interval time.Duration
	stopCh   chan struct{}
}

func newGCWorker(s *Server, interval time.Duration) *gcWorker {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &gcWorker{server: s, interval: interval, stopCh: make(chan struct{})}
}

func (w *gcWorker) Start() { go w.run() }
func (w *gcWorker) Stop()  { close(w.stopCh) }

func (w *gcWorker) run() {
	logger := log.WithComponent("meta-gc")
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		select {
		case <-w.stopCh:
			return
		case <-ticker.C:
			if err := w.drainOnce(context.Background()); err != nil {
				logger.Warn().Err(err).Msg("gc drain pass failed")
			}
		}
	}
}

// ResolveLayout looks up inode's current layout directly, without the
// permission checks Stat applies for user-facing callers. It satisfies
// storageclient.LayoutResolver so a Remover wired from this same process
// can answer RemoveChunks fan-out without a second RPC hop back into
// this server. A missing inode is not an error: the GC queue entry that
// triggered the lookup is itself proof the inode is gone, and RemoveChunks
// treats an unresolvable layout as a no-op.
func (s *Server) ResolveLayout(inode schema.InodeId) (schema.Layout, bool) {
	var layout schema.Layout
	found := false
	_, err := kv.RunTransaction(context.Background(), s.engine, s.policy, true, func(ctx context.Context, txn kv.ReadWriteTransaction) error {
		raw, ok, err := txn.SnapshotGet(ctx, schema.InodeKey(inode))
		if err != nil || !ok {
			return err
		}
		decoded, err := schema.DecodeInode(raw)
		if err != nil {
			return err
		}
		layout = decoded.Layout
		found = true
		return nil
	})
	if err != nil {
		return schema.Layout{}, false
	}
	return layout, found
}

// drainOnce processes at most one batch of queued deletions, sized by
// Config.RemoveChunksBatchSize, so a large backlog doesn't hold one
// transaction open indefinitely.
func (w *gcWorker) drainOnce(ctx context.Context) error {
	s := w.server
	limit := s.cfg.RemoveChunksBatchSize

	_, err := kv.RunTransaction(ctx, s.engine, s.policy, true, func(ctx context.Context, txn kv.ReadWriteTransaction) error {
		prefix := schema.GCQueueScanPrefix()
		entries, _, err := txn.GetRange(ctx, kv.Key(prefix), kv.KeyExclusive(schema.PrefixRangeEnd(prefix)), limit)
		if err != nil {
			return err
		}
		for _, entry := range entries {
			if len(entry.Value) != 8 {
				txn.Clear(entry.Key)
				continue
			}
			inode := schema.InodeId(binary.BigEndian.Uint64(entry.Value))
			if s.cfg.Remover != nil {
				if err := s.cfg.Remover.RemoveChunks(ctx, inode, 0); err != nil {
					return err
				}
			}
			txn.Clear(entry.Key)
			metrics.MetaGCReclaimedTotal.Inc()
		}
		return nil
	})
	return err
}
