package storageclient

import (
	"context"
	"math/rand"
	"sync/atomic"

	"github.com/fireflyer/ffs/pkg/chunkaddr"
	"github.com/fireflyer/ffs/pkg/kv"
	"github.com/fireflyer/ffs/pkg/routing"
	"github.com/google/uuid"
)

// Write splits req across chunk boundaries, resolves each sub-op's
// chain and HEAD target, batches by destination node, and issues the
// writes with the standard retry policy. It returns once every batch
// has finished; if any sub-op failed unrecoverably, the first such
// error is returned. Batches already in flight are not cancelled.
func (c *Client) Write(ctx context.Context, req IORequest) (IOResult, error) {
	requestUUID := uuid.New()
	info := c.routing.RoutingInfo()
	subs, err := c.resolveSubOps(info, req, true)
	if err != nil {
		return IOResult{}, err
	}
	for i := range subs {
		subs[i].updateID = deriveUpdateID(c.cfg.ClientId, requestUUID, i)
	}

	var total uint64
	err = c.runBatchedWrites(ctx, info, req, subs)
	if err != nil {
		return IOResult{BytesTransferred: total}, err
	}
	for _, s := range subs {
		total += s.length
	}
	return IOResult{BytesTransferred: total}, nil
}

// Read splits req across chunk boundaries, resolves each sub-op's
// chain and a replica per the client's ReadSelect mode, batches by
// destination node, and assembles the results back into one buffer in
// offset order.
func (c *Client) Read(ctx context.Context, req IORequest) (IOResult, error) {
	info := c.routing.RoutingInfo()
	subs, err := c.resolveSubOps(info, req, false)
	if err != nil {
		return IOResult{}, err
	}

	out := make([]byte, req.Length)
	var total uint64
	if err := c.runBatchedReads(ctx, info, subs, out); err != nil {
		return IOResult{}, err
	}
	for _, s := range subs {
		total += s.length
	}
	return IOResult{BytesTransferred: total, Data: out}, nil
}

// resolveSubOps chunks req and resolves each piece's chain and
// destination target, per §4.8 steps 1-3. isWrite picks HEAD as the
// target for a write; a read instead consults c.cfg.ReadSelect.
func (c *Client) resolveSubOps(info routing.RoutingInfo, req IORequest, isWrite bool) ([]subOp, error) {
	splits := chunkaddr.Split(req.Layout.ChunkSize, req.Offset, req.Length)
	out := make([]subOp, 0, len(splits))
	for _, sp := range splits {
		slot := chunkaddr.ChainSlot(req.Layout.Seed, sp.ChunkIndex, req.Layout.StripeSize)
		chainID, err := info.ResolveChainRef(req.Layout.ChainTableId, req.Layout.ChainTableVersion, slot)
		if err != nil {
			return nil, kv.Wrap(kv.CodeInvalidArgument, err, "storageclient: resolve chain ref")
		}
		chain, ok := info.ChainByID(chainID)
		if !ok {
			return nil, kv.NewError(kv.CodeNotFound, "storageclient: chain %d not found in routing info", chainID)
		}
		var target routing.TargetId
		if isWrite {
			target, ok = chain.Head()
			if !ok {
				return nil, kv.NewError(kv.CodeNotFound, "storageclient: chain %d has no HEAD", chainID)
			}
		} else {
			target, ok = c.selectReadTarget(info, chain)
			if !ok {
				return nil, kv.NewError(kv.CodeNotFound, "storageclient: chain %d has no online replica", chainID)
			}
		}
		out = append(out, subOp{
			chunkID:      chunkaddr.NewSingleTrackChunkId(req.Inode, sp.ChunkIndex),
			chainID:      chainID,
			chainVersion: chain.Version,
			target:       target,
			offset:       sp.ChunkOffset,
			length:       sp.Length,
			bufferStart:  sp.BufferStart,
		})
	}
	return out, nil
}

// selectReadTarget applies c.cfg.ReadSelect against chain's online
// replicas, the four modes §4.8 names.
func (c *Client) selectReadTarget(info routing.RoutingInfo, chain routing.ChainInfo) (routing.TargetId, bool) {
	online := onlineTargets(info, chain)
	if len(online) == 0 {
		return 0, false
	}
	switch c.cfg.ReadSelect {
	case SelectTail:
		return online[len(online)-1], true
	case SelectRoundRobin:
		n := atomic.AddUint64(&c.roundRobin, 1)
		return online[int(n)%len(online)], true
	case SelectRandom:
		return online[rand.Intn(len(online))], true
	default: // SelectHead
		return online[0], true
	}
}

// onlineTargets returns chain's targets that are currently ONLINE, in
// PreferredOrder, the candidate set every read-select mode picks from.
func onlineTargets(info routing.RoutingInfo, chain routing.ChainInfo) []routing.TargetId {
	state := make(map[routing.TargetId]routing.LocalState, len(info.Targets))
	for _, t := range info.Targets {
		state[t.TargetId] = t.LocalState
	}
	var out []routing.TargetId
	for _, id := range chain.PreferredOrder {
		if state[id] == routing.StateOnline {
			out = append(out, id)
		}
	}
	return out
}
