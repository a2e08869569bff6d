package storagetarget

import (
	"context"
	"time"

	"github.com/fireflyer/ffs/pkg/log"
	"github.com/fireflyer/ffs/pkg/metrics"
	"github.com/fireflyer/ffs/pkg/routing"
	"github.com/fireflyer/ffs/pkg/transport"
	"github.com/rs/zerolog"
)

// resyncWorker drives the LAST_SYNC catch-up replay described in §4.7:
// a rejoining target pulls an ordered snapshot of everything its peers
// hold past its own local maximum and applies it while live writes
// continue landing alongside. Grounded on pkg/reconciler/reconciler.go's
// ticker/stopCh loop shape, the same convention already reused for
// pkg/meta's gcWorker.
//
// mgmtd's chain-state staircase (LAST_SYNC -> SYNCING -> ONLINE) steps
// forward on its own tick regardless of whether this worker has
// actually caught up, so resync here has no handshake back to mgmtd:
// its only job is to be done applying by the time that promotion
// lands.
type resyncWorker struct {
	srv      *Server
	interval time.Duration
	logger   zerolog.Logger
	stopCh   chan struct{}
}

func newResyncWorker(srv *Server, interval time.Duration) *resyncWorker {
	if interval == 0 {
		interval = 5 * time.Second
	}
	return &resyncWorker{
		srv:      srv,
		interval: interval,
		logger:   log.WithComponent("storagetarget.resync"),
		stopCh:   make(chan struct{}),
	}
}

func (w *resyncWorker) Start() { go w.run() }

func (w *resyncWorker) Stop() { close(w.stopCh) }

func (w *resyncWorker) run() {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if err := w.resyncOnce(context.Background()); err != nil {
				w.logger.Error().Err(err).Msg("resync pass failed")
				metrics.CRAQResyncsTotal.WithLabelValues("error").Inc()
			}
		case <-w.stopCh:
			return
		}
	}
}

// resyncOnce pulls and applies one round of catch-up snapshots for
// every chain this target currently belongs to.
func (w *resyncWorker) resyncOnce(ctx context.Context) error {
	info := w.srv.routing.RoutingInfo()
	ran := false
	for _, chain := range info.Chains {
		if _, ok := roleOf(chain, w.srv.cfg.TargetId); !ok {
			continue
		}
		source, ok := resyncSource(chain, w.srv.cfg.TargetId)
		if !ok {
			continue
		}
		addr, ok := w.srv.cfg.Peers[source]
		if !ok {
			continue
		}
		if err := w.drain(ctx, chain, addr); err != nil {
			return err
		}
		ran = true
	}
	if ran {
		metrics.CRAQResyncsTotal.WithLabelValues("ok").Inc()
	}
	return nil
}

// resyncSource picks the peer a rejoining target pulls its catch-up
// snapshot from: its successor if it has one (the next replica toward
// TAIL already holds every committed write this target missed), else
// its predecessor.
func resyncSource(chain routing.ChainInfo, self routing.TargetId) (routing.TargetId, bool) {
	if succ, ok := successor(chain, self); ok {
		return succ, true
	}
	return predecessor(chain, self)
}

// drain repeatedly pulls and applies SnapshotRange pages from addr
// until the peer reports no more entries past our local maximum.
func (w *resyncWorker) drain(ctx context.Context, chain routing.ChainInfo, addr string) error {
	after, err := w.localMax()
	if err != nil {
		return err
	}
	for {
		payload, err := encodeGob(SnapshotRangeRequest{AfterVersion: after, Limit: w.srv.cfg.ResyncBatchSize})
		if err != nil {
			return err
		}
		env := transport.NewEnvelope(ServiceID, MethodSnapshotRange, payload)
		resp, err := w.srv.transport.Send(ctx, addr, env)
		if err != nil {
			return err
		}
		var out SnapshotRangeResponse
		if err := decodeGob(resp.Payload, &out); err != nil {
			return err
		}
		for _, entry := range out.Entries {
			if err := w.srv.store.WriteUncommitted(entry.ChunkId, 0, entry.Data, entry.Meta.ChunkVersion, entry.Meta.ChainVersion); err != nil {
				return err
			}
			if !entry.Meta.Uncommitted {
				if err := w.srv.store.Commit(entry.ChunkId, entry.Meta.ChunkVersion); err != nil {
					return err
				}
			}
			after = entry.Meta.ChunkVersion
		}
		if !out.HasMore || len(out.Entries) == 0 {
			return nil
		}
	}
}

// localMax reports the highest chunk version already applied locally,
// the point a snapshot pull resumes from. A target with an empty store
// resyncs everything from the start.
func (w *resyncWorker) localMax() (uint64, error) {
	entries, _, _, err := w.srv.store.ListAfter(0, 0)
	if err != nil {
		return 0, err
	}
	var max uint64
	for _, e := range entries {
		if e.Meta.ChunkVersion > max {
			max = e.Meta.ChunkVersion
		}
	}
	return max, nil
}
