package storageclient

import (
	"context"
	"sync"

	"github.com/fireflyer/ffs/pkg/kv"
	"github.com/fireflyer/ffs/pkg/routing"
	"github.com/fireflyer/ffs/pkg/storagetarget"
	"github.com/fireflyer/ffs/pkg/transport"
)

// writeItem pairs a resolved sub-op with the storagetarget.WriteRequest
// built from it (the sub-op's slice of the caller's buffer).
type writeItem struct {
	sub subOp
	req storagetarget.WriteRequest
}

// readItem pairs a resolved sub-op with the storagetarget.ReadRequest
// built from it.
type readItem struct {
	sub subOp
	req storagetarget.ReadRequest
}

// groupByAddress buckets items by the transport address their target
// resolves to, the grouping §4.8's batching step requires ("group
// sub-ops by destination node").
func groupByAddress[T any](info routing.RoutingInfo, items []T, targetOf func(T) routing.TargetId) (map[string][]T, error) {
	out := make(map[string][]T)
	for _, item := range items {
		addr, ok := targetAddress(info, targetOf(item))
		if !ok {
			return nil, kv.NewError(kv.CodeNetworkError, "storageclient: no address for target %d", targetOf(item))
		}
		out[addr] = append(out[addr], item)
	}
	return out, nil
}

// chunkBatches splits items into groups no larger than maxCount and no
// heavier than maxBytes (measured by sizeOf), the count/byte caps
// §4.8 names as max_batch_size and max_batch_bytes.
func chunkBatches[T any](items []T, maxCount int, maxBytes uint64, sizeOf func(T) uint64) [][]T {
	var out [][]T
	var cur []T
	var curBytes uint64
	for _, item := range items {
		sz := sizeOf(item)
		if len(cur) > 0 && (len(cur) >= maxCount || curBytes+sz > maxBytes) {
			out = append(out, cur)
			cur = nil
			curBytes = 0
		}
		cur = append(cur, item)
		curBytes += sz
	}
	if len(cur) > 0 {
		out = append(out, cur)
	}
	return out
}

// runBatchedWrites issues every sub-op in subs, grouped by
// destination node into batches and pipelined up to
// MaxConcurrentRequestsPerNode per node, retrying failed items per
// classifyError until each succeeds or MaxRetries is exhausted.
func (c *Client) runBatchedWrites(ctx context.Context, info routing.RoutingInfo, req IORequest, subs []subOp) error {
	items := make([]writeItem, len(subs))
	for i, s := range subs {
		items[i] = writeItem{
			sub: s,
			req: storagetarget.WriteRequest{
				ChunkId:              s.chunkID,
				Offset:               s.offset,
				Buffer:               req.Buffer[s.bufferStart : s.bufferStart+s.length],
				ChainId:              s.chainID,
				ChainVersionExpected: s.chainVersion,
				UpdateId:             s.updateID,
			},
		}
	}
	groups, err := groupByAddress(info, items, func(it writeItem) routing.TargetId { return it.sub.target })
	if err != nil {
		return err
	}

	var wg sync.WaitGroup
	errCh := make(chan error, len(groups))
	for addr, groupItems := range groups {
		addr, groupItems := addr, groupItems
		wg.Add(1)
		go func() {
			defer wg.Done()
			sem := make(chan struct{}, c.cfg.MaxConcurrentRequestsPerNode)
			batches := chunkBatches(groupItems, c.cfg.MaxBatchSize, c.cfg.MaxBatchBytes, func(it writeItem) uint64 { return uint64(len(it.req.Buffer)) })
			var bwg sync.WaitGroup
			for _, batch := range batches {
				batch := batch
				sem <- struct{}{}
				bwg.Add(1)
				go func() {
					defer bwg.Done()
					defer func() { <-sem }()
					if err := c.sendWriteBatch(ctx, addr, batch); err != nil {
						errCh <- err
					}
				}()
			}
			bwg.Wait()
		}()
	}
	wg.Wait()
	close(errCh)
	for err := range errCh {
		if err != nil {
			return err
		}
	}
	return nil
}

// sendWriteBatch issues one BatchWrite RPC for items, retrying any
// item the peer reports failed according to classifyError.
func (c *Client) sendWriteBatch(ctx context.Context, addr string, items []writeItem) error {
	reqs := make([]storagetarget.WriteRequest, len(items))
	for i, it := range items {
		reqs[i] = it.req
	}
	payload, err := encodeGob(storagetarget.BatchWriteRequest{Items: reqs})
	if err != nil {
		return err
	}
	env := transport.NewEnvelope(storagetarget.ServiceID, storagetarget.MethodBatchWrite, payload)
	resp, err := c.transport.Send(ctx, addr, env)
	if err != nil {
		for _, it := range items {
			if err := c.retrySingleWrite(ctx, it, "NetworkError: "+err.Error(), 0); err != nil {
				return err
			}
		}
		return nil
	}
	var out storagetarget.BatchWriteResponse
	if err := decodeGob(resp.Payload, &out); err != nil {
		return err
	}
	for i, msg := range out.Errors {
		if msg == "" {
			continue
		}
		if err := c.retrySingleWrite(ctx, items[i], msg, 0); err != nil {
			return err
		}
	}
	return nil
}

// retrySingleWrite retries one failed write per classifyError(lastErr):
// VersionMismatch refreshes routing and recomputes the sub-op's chain
// before retrying; Timeout/NetworkError/Throttled back off and retry
// against the same target; Corruption on a write is not retried here
// at all — §4.8 says to fail to meta so the chain can be demoted,
// which this surfaces as an ordinary error rather than silently
// retrying against a replica that cannot serve writes anyway (only
// HEAD can). Anything else is unrecoverable and short-circuits.
func (c *Client) retrySingleWrite(ctx context.Context, it writeItem, lastErr string, attempt int) error {
	if attempt >= c.cfg.MaxRetries {
		return kv.NewError(kv.CodeTimeout, "storageclient: write: exhausted %d retries, last error: %s", c.cfg.MaxRetries, lastErr)
	}
	switch classifyError(lastErr) {
	case actionRefreshAndRetry:
		info := c.routing.RoutingInfo()
		chain, ok := info.ChainByID(it.sub.chainID)
		if !ok {
			return kv.NewError(kv.CodeNotFound, "storageclient: write retry: chain %d no longer in routing info", it.sub.chainID)
		}
		head, ok := chain.Head()
		if !ok {
			return kv.NewError(kv.CodeNotFound, "storageclient: write retry: chain %d has no HEAD", it.sub.chainID)
		}
		it.sub.target = head
		it.sub.chainVersion = chain.Version
		it.req.ChainVersionExpected = chain.Version
	case actionBackoffAndRetry:
		if err := backoff(ctx, attempt); err != nil {
			return err
		}
	default:
		return kv.NewError(kv.CodeFatal, "storageclient: write: unrecoverable sub-op failure: %s", lastErr)
	}

	info := c.routing.RoutingInfo()
	addr, ok := targetAddress(info, it.sub.target)
	if !ok {
		return kv.NewError(kv.CodeNetworkError, "storageclient: no address for target %d", it.sub.target)
	}
	payload, err := encodeGob(it.req)
	if err != nil {
		return err
	}
	env := transport.NewEnvelope(storagetarget.ServiceID, storagetarget.MethodWrite, payload)
	resp, sendErr := c.transport.Send(ctx, addr, env)
	if sendErr != nil {
		return c.retrySingleWrite(ctx, it, "NetworkError: "+sendErr.Error(), attempt+1)
	}
	var wresp storagetarget.WriteResponse
	if err := decodeGob(resp.Payload, &wresp); err != nil {
		return err
	}
	if !wresp.Committed {
		return c.retrySingleWrite(ctx, it, "Timeout: write returned uncommitted", attempt+1)
	}
	return nil
}

// runBatchedReads issues every sub-op in subs, grouped and pipelined
// the same way as writes, writing each result into out at its
// original buffer offset.
func (c *Client) runBatchedReads(ctx context.Context, info routing.RoutingInfo, subs []subOp, out []byte) error {
	items := make([]readItem, len(subs))
	for i, s := range subs {
		items[i] = readItem{
			sub: s,
			req: storagetarget.ReadRequest{ChunkId: s.chunkID, ChainId: s.chainID, Offset: s.offset, Length: s.length},
		}
	}
	groups, err := groupByAddress(info, items, func(it readItem) routing.TargetId { return it.sub.target })
	if err != nil {
		return err
	}

	var mu sync.Mutex
	var firstErr error
	var wg sync.WaitGroup
	for addr, groupItems := range groups {
		addr, groupItems := addr, groupItems
		wg.Add(1)
		go func() {
			defer wg.Done()
			sem := make(chan struct{}, c.cfg.MaxConcurrentRequestsPerNode)
			batches := chunkBatches(groupItems, c.cfg.MaxBatchSize, c.cfg.MaxBatchBytes, func(it readItem) uint64 { return it.req.Length })
			var bwg sync.WaitGroup
			for _, batch := range batches {
				batch := batch
				sem <- struct{}{}
				bwg.Add(1)
				go func() {
					defer bwg.Done()
					defer func() { <-sem }()
					if err := c.sendReadBatch(ctx, addr, batch, out); err != nil {
						mu.Lock()
						if firstErr == nil {
							firstErr = err
						}
						mu.Unlock()
					}
				}()
			}
			bwg.Wait()
		}()
	}
	wg.Wait()
	return firstErr
}

// sendReadBatch issues one BatchRead RPC and copies each successful
// item's data into out at its original buffer offset, retrying any
// failed item individually per retrySingleRead.
func (c *Client) sendReadBatch(ctx context.Context, addr string, items []readItem, out []byte) error {
	reqs := make([]storagetarget.ReadRequest, len(items))
	for i, it := range items {
		reqs[i] = it.req
	}
	payload, err := encodeGob(storagetarget.BatchReadRequest{Items: reqs})
	if err != nil {
		return err
	}
	env := transport.NewEnvelope(storagetarget.ServiceID, storagetarget.MethodBatchRead, payload)
	resp, err := c.transport.Send(ctx, addr, env)
	if err != nil {
		for _, it := range items {
			if err := c.retrySingleRead(ctx, it, "NetworkError: "+err.Error(), out, 0); err != nil {
				return err
			}
		}
		return nil
	}
	var respOut storagetarget.BatchReadResponse
	if err := decodeGob(resp.Payload, &respOut); err != nil {
		return err
	}
	for i, it := range items {
		if i < len(respOut.Errors) && respOut.Errors[i] != "" {
			if err := c.retrySingleRead(ctx, it, respOut.Errors[i], out, 0); err != nil {
				return err
			}
			continue
		}
		copy(out[it.sub.bufferStart:it.sub.bufferStart+it.sub.length], respOut.Items[i].Data)
	}
	return nil
}

// retrySingleRead retries one failed read per classifyError(lastErr):
// Corruption reselects a different online replica for the same chain
// (the failed replica is not recorded anywhere beyond this retry);
// VersionMismatch refreshes routing and reselects a replica per
// ReadSelect; Timeout/NetworkError/Throttled back off and retry the
// same target. Anything else, including an unknown chain, fails.
func (c *Client) retrySingleRead(ctx context.Context, it readItem, lastErr string, out []byte, attempt int) error {
	if attempt >= c.cfg.MaxRetries {
		return kv.NewError(kv.CodeTimeout, "storageclient: read: exhausted %d retries, last error: %s", c.cfg.MaxRetries, lastErr)
	}
	info := c.routing.RoutingInfo()
	switch classifyError(lastErr) {
	case actionRetryOtherReplica:
		chain, ok := info.ChainByID(it.sub.chainID)
		if !ok {
			return kv.NewError(kv.CodeNotFound, "storageclient: read retry: chain %d no longer in routing info", it.sub.chainID)
		}
		online := onlineTargets(info, chain)
		next, ok := pickOtherReplica(online, it.sub.target)
		if !ok {
			return kv.NewError(kv.CodeCorruption, "storageclient: read: no other replica available after corruption: %s", lastErr)
		}
		it.sub.target = next
	case actionRefreshAndRetry:
		chain, ok := info.ChainByID(it.sub.chainID)
		if !ok {
			return kv.NewError(kv.CodeNotFound, "storageclient: read retry: chain %d no longer in routing info", it.sub.chainID)
		}
		target, ok := c.selectReadTarget(info, chain)
		if !ok {
			return kv.NewError(kv.CodeNotFound, "storageclient: read retry: chain %d has no online replica", it.sub.chainID)
		}
		it.sub.target = target
	case actionBackoffAndRetry:
		if err := backoff(ctx, attempt); err != nil {
			return err
		}
	default:
		return kv.NewError(kv.CodeFatal, "storageclient: read: unrecoverable sub-op failure: %s", lastErr)
	}

	addr, ok := targetAddress(info, it.sub.target)
	if !ok {
		return kv.NewError(kv.CodeNetworkError, "storageclient: no address for target %d", it.sub.target)
	}
	it.req.ChunkId = it.sub.chunkID
	payload, err := encodeGob(it.req)
	if err != nil {
		return err
	}
	env := transport.NewEnvelope(storagetarget.ServiceID, storagetarget.MethodRead, payload)
	resp, sendErr := c.transport.Send(ctx, addr, env)
	if sendErr != nil {
		return c.retrySingleRead(ctx, it, "NetworkError: "+sendErr.Error(), out, attempt+1)
	}
	var rresp storagetarget.ReadResponse
	if err := decodeGob(resp.Payload, &rresp); err != nil {
		return err
	}
	copy(out[it.sub.bufferStart:it.sub.bufferStart+it.sub.length], rresp.Data)
	return nil
}

// pickOtherReplica returns the first candidate in online that isn't
// avoid, for the corruption-retry path's "a different replica" rule.
func pickOtherReplica(online []routing.TargetId, avoid routing.TargetId) (routing.TargetId, bool) {
	for _, id := range online {
		if id != avoid {
			return id, true
		}
	}
	return 0, false
}
