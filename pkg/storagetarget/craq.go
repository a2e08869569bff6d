package storagetarget

import (
	"context"
	"sync"

	"github.com/fireflyer/ffs/pkg/chunkaddr"
	"github.com/fireflyer/ffs/pkg/kv"
	"github.com/fireflyer/ffs/pkg/log"
	"github.com/fireflyer/ffs/pkg/metrics"
	"github.com/fireflyer/ffs/pkg/routing"
	"github.com/fireflyer/ffs/pkg/transport"
)

// pendingCommits tracks, per update_id, a channel that closes once this
// target has locally committed that update. The forward phase (HEAD ->
// ... -> TAIL) only stages bytes as uncommitted and returns as soon as
// its immediate successor accepted them; completion is driven entirely
// by the commit phase (TAIL -> ... -> HEAD) propagating independently,
// so the replica waiting on an update's outcome blocks here instead of
// holding the whole forward chain open end to end.
type pendingCommits struct {
	mu      sync.Mutex
	waiters map[[16]byte]chan struct{}
}

// chunkLocks hands out one mutex per chunk id, created lazily and kept
// for the life of the process. HEAD's Write reads a chunk's version and
// stages the next one; holding the chunk's lock across that section
// (and the first forward hop) serializes concurrent updates to the same
// chunk at HEAD in receipt order. ForwardUpdate on later replicas takes
// no chunk lock.
type chunkLocks struct {
	mu    sync.Mutex
	locks map[chunkaddr.ChunkId]*sync.Mutex
}

func newChunkLocks() *chunkLocks {
	return &chunkLocks{locks: make(map[chunkaddr.ChunkId]*sync.Mutex)}
}

func (c *chunkLocks) lockFor(id chunkaddr.ChunkId) *sync.Mutex {
	c.mu.Lock()
	defer c.mu.Unlock()
	l, ok := c.locks[id]
	if !ok {
		l = &sync.Mutex{}
		c.locks[id] = l
	}
	return l
}

func newPendingCommits() *pendingCommits {
	return &pendingCommits{waiters: make(map[[16]byte]chan struct{})}
}

func (p *pendingCommits) register(updateID [16]byte) chan struct{} {
	p.mu.Lock()
	defer p.mu.Unlock()
	if ch, ok := p.waiters[updateID]; ok {
		return ch
	}
	ch := make(chan struct{})
	p.waiters[updateID] = ch
	return ch
}

func (p *pendingCommits) signal(updateID [16]byte) {
	p.mu.Lock()
	ch, ok := p.waiters[updateID]
	if ok {
		delete(p.waiters, updateID)
	}
	p.mu.Unlock()
	if ok {
		close(ch)
	}
}

func itoa(v uint32) string {
	if v == 0 {
		return "0"
	}
	var buf [10]byte
	i := len(buf)
	for v > 0 {
		i--
		buf[i] = byte('0' + v%10)
		v /= 10
	}
	return string(buf[i:])
}

// Write is the client-facing entry point, valid only against a chunk's
// current HEAD. It stages the write locally, forwards it toward the
// tail, and waits for the commit acknowledgement to propagate all the
// way back before replying, per §4.7's write path: HEAD returns success
// to the client only once it has locally committed.
func (s *Server) Write(ctx context.Context, req WriteRequest) (WriteResponse, error) {
	timer := metrics.NewTimer()
	chain, err := s.chainFor(req.ChainId)
	if err != nil {
		return WriteResponse{}, err
	}
	if chain.Version != req.ChainVersionExpected {
		return WriteResponse{}, kv.NewError(kv.CodeVersionMismatch, "storagetarget: write: chain %d version %d, expected %d", req.ChainId, chain.Version, req.ChainVersionExpected)
	}
	role, ok := roleOf(chain, s.cfg.TargetId)
	if !ok || role != routing.RoleHead {
		return WriteResponse{}, kv.NewError(kv.CodeVersionMismatch, "storagetarget: write: target %d is not HEAD of chain %d", s.cfg.TargetId, req.ChainId)
	}

	lock := s.chunks.lockFor(req.ChunkId)
	lock.Lock()
	prev, _, err := s.store.Meta(req.ChunkId)
	if err != nil {
		lock.Unlock()
		return WriteResponse{}, err
	}
	newVersion := prev.ChunkVersion + 1
	if err := s.store.WriteUncommitted(req.ChunkId, req.Offset, req.Buffer, newVersion, chain.Version); err != nil {
		lock.Unlock()
		return WriteResponse{}, err
	}

	waitCh := s.pending.register(req.UpdateId)
	err = s.propagateForward(ctx, chain, req.ChunkId, req.Offset, req.Buffer, newVersion, chain.Version, req.UpdateId)
	lock.Unlock()
	if err != nil {
		return WriteResponse{}, err
	}

	select {
	case <-waitCh:
	case <-ctx.Done():
		return WriteResponse{}, kv.Wrap(kv.CodeTimeout, ctx.Err(), "storagetarget: write: waiting for commit ack")
	}
	timer.ObserveDurationVec(metrics.CRAQWriteDuration, itoa(uint32(req.ChainId)))
	return WriteResponse{ChunkVersion: newVersion, Committed: true}, nil
}

// propagateForward sends the write one hop toward the tail from self,
// or, if self is already TAIL, commits immediately and starts the
// backward commitUpdate chain itself.
func (s *Server) propagateForward(ctx context.Context, chain routing.ChainInfo, chunkID chunkaddr.ChunkId, offset uint64, buf []byte, version uint64, chainVersion uint32, updateID [16]byte) error {
	succ, hasSucc := successor(chain, s.cfg.TargetId)
	if !hasSucc {
		return s.commitAndPropagateBack(ctx, chain, chunkID, version, updateID)
	}
	addr, ok := s.cfg.Peers[succ]
	if !ok {
		return kv.NewError(kv.CodeNetworkError, "storagetarget: no address for successor target %d", succ)
	}
	payload, err := encodeGob(ForwardUpdateRequest{
		ChunkId:              chunkID,
		Offset:               offset,
		Buffer:               buf,
		ChainId:              chain.ChainId,
		ChainVersionExpected: chainVersion,
		ChunkVersion:         version,
		UpdateId:             updateID,
	})
	if err != nil {
		return err
	}
	env := transport.NewEnvelope(ServiceID, MethodForwardUpdate, payload)
	if _, err := s.transport.Send(ctx, addr, env); err != nil {
		return err
	}
	return nil
}

// ForwardUpdate handles an incoming staged write from a predecessor:
// stage it locally and acknowledge receipt right away. Continuing the
// push toward TAIL runs in its own goroutine rather than under this
// RPC's reply, so a predecessor's Send unblocks after one hop instead
// of after the whole chain has staged the write. Completion still
// reaches the original Write caller, but via commitAndPropagateBack's
// independent walk back through pendingCommits, not through this
// response.
func (s *Server) ForwardUpdate(ctx context.Context, req ForwardUpdateRequest) (ForwardAckResponse, error) {
	chain, err := s.chainFor(req.ChainId)
	if err != nil {
		return ForwardAckResponse{}, err
	}
	if err := s.store.WriteUncommitted(req.ChunkId, req.Offset, req.Buffer, req.ChunkVersion, req.ChainVersionExpected); err != nil {
		return ForwardAckResponse{}, err
	}
	go s.continueForward(context.WithoutCancel(ctx), chain, req)
	return ForwardAckResponse{ChunkVersion: req.ChunkVersion}, nil
}

// continueForward carries a staged update the rest of the way toward
// TAIL (and, once there, starts the backward commit walk) outside of
// ForwardUpdate's RPC reply. A failure here has no caller left to
// report it to; it's logged so an operator can spot a stuck chain, and
// the HEAD-side Write waiting on pendingCommits eventually times out on
// ctx if the commit ack never arrives.
func (s *Server) continueForward(ctx context.Context, chain routing.ChainInfo, req ForwardUpdateRequest) {
	if err := s.propagateForward(ctx, chain, req.ChunkId, req.Offset, req.Buffer, req.ChunkVersion, req.ChainVersionExpected, req.UpdateId); err != nil {
		logger := log.WithChainID(itoa(uint32(chain.ChainId)))
		logger.Error().Err(err).Uint64("chunk_id", uint64(req.ChunkId)).Msg("storagetarget: forward update continuation failed")
	}
}

// commitAndPropagateBack is what TAIL does on receiving a staged write
// (and what a forwarded commitUpdate eventually reaches every other
// hop to do too): commit locally, then send commitUpdate to the
// predecessor so the acknowledgement walks back to HEAD.
func (s *Server) commitAndPropagateBack(ctx context.Context, chain routing.ChainInfo, chunkID chunkaddr.ChunkId, version uint64, updateID [16]byte) error {
	if err := s.store.Commit(chunkID, version); err != nil {
		return err
	}
	s.pending.signal(updateID)
	pred, hasPred := predecessor(chain, s.cfg.TargetId)
	if !hasPred {
		return nil
	}
	addr, ok := s.cfg.Peers[pred]
	if !ok {
		return kv.NewError(kv.CodeNetworkError, "storagetarget: no address for predecessor target %d", pred)
	}
	payload, err := encodeGob(CommitUpdateRequest{ChunkId: chunkID, ChainId: chain.ChainId, ChunkVersion: version, UpdateId: updateID})
	if err != nil {
		return err
	}
	env := transport.NewEnvelope(ServiceID, MethodCommitUpdate, payload)
	_, err = s.transport.Send(ctx, addr, env)
	return err
}

// CommitUpdate handles an incoming commit acknowledgement from a
// successor: commit locally, unblock any local Write waiting on
// updateID, and keep walking the ack back toward HEAD.
func (s *Server) CommitUpdate(ctx context.Context, req CommitUpdateRequest) (CommitUpdateResponse, error) {
	chain, err := s.chainFor(req.ChainId)
	if err != nil {
		return CommitUpdateResponse{}, err
	}
	if err := s.commitAndPropagateBack(ctx, chain, req.ChunkId, req.ChunkVersion, req.UpdateId); err != nil {
		return CommitUpdateResponse{}, err
	}
	return CommitUpdateResponse{}, nil
}
