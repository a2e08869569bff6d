package meta

import (
	"context"
	"sync"

	"github.com/fireflyer/ffs/pkg/kv"
	"github.com/fireflyer/ffs/pkg/log"
	"github.com/fireflyer/ffs/pkg/metrics"
	"github.com/fireflyer/ffs/pkg/schema"
)

// batchFn is one operation's batch-phase logic. It runs inside the
// shared transaction alongside every other operation queued for the
// same key inode this commit, with keyInode already loaded (phase 2 of
// §4.6's batch execution). It returns the value to hand back to the
// caller, or an error that aborts the whole commit on CodeConflict (any
// other error only fails this one operation's slot — see commitBatch).
type batchFn func(ctx context.Context, txn kv.ReadWriteTransaction, keyInode schema.Inode) (interface{}, error)

type batchOp struct {
	run      batchFn
	resultCh chan batchResult
	opTag    string
}

type batchResult struct {
	value interface{}
	err   error
}

// baton is the dedicated runner for one key inode: "a new operation
// joins the next open batch or starts one; the runner commits, then
// wakes the next batch" (§4.6).
type baton struct {
	mu      sync.Mutex
	pending []*batchOp
	running bool
}

// batchRegistry hands out one baton per key inode, created lazily and
// kept for the life of the process (there are at most as many batons
// as inodes this server is ever asked to touch, no eviction needed for
// the workloads this system targets).
type batchRegistry struct {
	mu     sync.Mutex
	batons map[schema.InodeId]*baton
}

func newBatchRegistry() *batchRegistry {
	return &batchRegistry{batons: make(map[schema.InodeId]*baton)}
}

func (r *batchRegistry) batonFor(key schema.InodeId) *baton {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.batons[key]
	if !ok {
		b = &baton{}
		r.batons[key] = b
	}
	return b
}

// runBatch submits fn to key's baton and blocks until the batch commit
// containing it has run, returning fn's own result.
func (s *Server) runBatch(ctx context.Context, key schema.InodeId, opTag string, fn batchFn) (interface{}, error) {
	op := &batchOp{run: fn, opTag: opTag, resultCh: make(chan batchResult, 1)}

	b := s.batches.batonFor(key)
	b.mu.Lock()
	b.pending = append(b.pending, op)
	startRunner := !b.running
	if startRunner {
		b.running = true
	}
	b.mu.Unlock()

	if startRunner {
		go s.runBaton(context.WithoutCancel(ctx), key, b)
	}

	select {
	case res := <-op.resultCh:
		return res.value, res.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// runBaton drains key's pending queue one commit at a time until it is
// empty, then releases the runner slot so the next caller to arrive
// starts a fresh one.
func (s *Server) runBaton(ctx context.Context, key schema.InodeId, b *baton) {
	for {
		b.mu.Lock()
		batch := b.pending
		b.pending = nil
		b.mu.Unlock()

		s.commitBatch(ctx, key, batch)

		b.mu.Lock()
		if len(b.pending) == 0 {
			b.running = false
			b.mu.Unlock()
			return
		}
		b.mu.Unlock()
	}
}

// commitBatch runs every queued op against one shared transaction,
// phases 1-3 of §4.6: ownership re-check, load the key inode
// (conflict-tracked), then each op in arrival order, each handed the key
// inode as the ops before it in this commit left it. idempotent ops
// handle their own IDEM short-circuit inside fn. A CodeConflict from
// any op aborts and retries the whole commit (kv.RunTransaction already
// retries on that code); any other per-op error fails only that op's
// slot, the remaining ops in the batch still commit.
func (s *Server) commitBatch(ctx context.Context, key schema.InodeId, batch []*batchOp) {
	if len(batch) == 0 {
		return
	}
	timer := metrics.NewTimer()
	results := make([]batchResult, len(batch))

	_, err := kv.RunTransaction(ctx, s.engine, s.policy, true, func(ctx context.Context, txn kv.ReadWriteTransaction) error {
		if !s.distributor.IsLocal(key) {
			return kv.NewError(kv.CodeNotFound, "meta: no longer responsible for inode %d", key)
		}
		raw, ok, err := txn.Get(ctx, schema.InodeKey(key))
		if err != nil {
			return err
		}
		if !ok {
			return kv.NewError(kv.CodeNotFound, "meta: inode %d not found", key)
		}
		keyInode, err := schema.DecodeInode(raw)
		if err != nil {
			return err
		}

		for i, op := range batch {
			if i > 0 {
				// Reload so this op sees what earlier ops in the batch
				// staged to the key inode.
				raw, ok, err := txn.Get(ctx, schema.InodeKey(key))
				if err != nil {
					return err
				}
				if !ok {
					results[i] = batchResult{err: kv.NewError(kv.CodeNotFound, "meta: inode %d not found", key)}
					continue
				}
				if keyInode, err = schema.DecodeInode(raw); err != nil {
					return err
				}
			}
			v, opErr := op.run(ctx, txn, keyInode)
			if opErr != nil && kv.CodeOf(opErr) == kv.CodeConflict {
				return opErr
			}
			results[i] = batchResult{value: v, err: opErr}
		}
		return nil
	})

	if err != nil {
		log.WithInode(uint64(key)).Warn().Err(err).Int("batch_size", len(batch)).Msg("meta: batch commit failed")
	}

	metrics.BatchSize.Observe(float64(len(batch)))
	for _, op := range batch {
		timer.ObserveDurationVec(metrics.BatchCommitDuration, op.opTag)
	}

	for i, op := range batch {
		if err != nil {
			op.resultCh <- batchResult{err: err}
			continue
		}
		op.resultCh <- results[i]
	}
}
