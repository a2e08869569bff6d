package distributor

import (
	"context"
	"sort"
	"sync/atomic"
	"time"

	"github.com/fireflyer/ffs/pkg/kv"
	"github.com/fireflyer/ffs/pkg/log"
	"github.com/fireflyer/ffs/pkg/schema"
)

// Distributor implements C5's decentralized meta-server assignment: a
// cluster of identical metadata-server processes that share assignment
// state in the KV engine under the META prefix, with no dedicated
// coordinator. One Distributor runs per metadata-server process.
type Distributor struct {
	engine kv.Engine
	policy kv.RetryPolicy
	nodeID uint32

	cache atomic.Pointer[ServerMap]

	// lastSeen/lastSeenAt are touched only by the updater goroutine
	// (Start's caller is expected to run RunUpdater from a single
	// goroutine), so they need no lock of their own.
	lastSeen   map[uint32]kv.Versionstamp
	lastSeenAt map[uint32]time.Time
}

// NewDistributor builds a Distributor for nodeID against engine, using
// the default retry policy for every transaction it runs.
func NewDistributor(engine kv.Engine, nodeID uint32) *Distributor {
	d := &Distributor{
		engine:     engine,
		policy:     kv.DefaultRetryPolicy,
		nodeID:     nodeID,
		lastSeen:   make(map[uint32]kv.Versionstamp),
		lastSeenAt: make(map[uint32]time.Time),
	}
	d.cache.Store(&ServerMap{})
	return d
}

// Start runs the single-transaction server startup sequence: read the
// current ServerMap, write this node's presence marker, insert self
// into the active set if absent, and bump the metadata-version.
func (d *Distributor) Start(ctx context.Context) error {
	var final ServerMap
	_, err := kv.RunTransaction(ctx, d.engine, d.policy, true, func(ctx context.Context, txn kv.ReadWriteTransaction) error {
		sm, err := readServerMap(ctx, txn)
		if err != nil {
			return err
		}

		txn.SetVersionstampedValue(schema.MetaPresenceKey(d.nodeID), 0, make([]byte, kv.VersionstampLen))

		if !sm.Contains(d.nodeID) {
			sm.Active = append(sm.Active, d.nodeID)
			txn.Set(schema.MetaServerMapKey(), EncodeServerMap(sm))
		}
		txn.SetVersionstampedValue(schema.MetaVersionKey(), 0, make([]byte, kv.VersionstampLen))

		final = sm
		return nil
	})
	if err != nil {
		return err
	}
	d.cache.Store(&final)
	log.WithComponent("distributor").Info().Uint32("node_id", d.nodeID).Msg("registered with cluster server map")
	return nil
}

// Active returns a copy of the currently cached active node set.
func (d *Distributor) Active() []uint32 {
	sm := d.cache.Load()
	out := make([]uint32, len(sm.Active))
	copy(out, sm.Active)
	return out
}

// ResponsibleServer computes responsible_server(inode) =
// argmax_{s in active} H(s, inode), ties broken by node_id, over the
// cached active set.
func (d *Distributor) ResponsibleServer(inode schema.InodeId) (uint32, bool) {
	sm := d.cache.Load()
	if len(sm.Active) == 0 {
		return 0, false
	}
	best := sm.Active[0]
	bestScore := computeScore(best, inode)
	for _, candidate := range sm.Active[1:] {
		s := computeScore(candidate, inode)
		if bestScore.less(s) || (s == bestScore && candidate < best) {
			best = candidate
			bestScore = s
		}
	}
	return best, true
}

// IsLocal reports whether this process is the responsible server for
// inode per the cached routing state.
func (d *Distributor) IsLocal(inode schema.InodeId) bool {
	owner, ok := d.ResponsibleServer(inode)
	return ok && owner == d.nodeID
}

// RunUpdater runs the background updater loop every interval until ctx
// is canceled, applying the presence-marker liveness check described
// in spec.md §4.5.
func (d *Distributor) RunUpdater(ctx context.Context, interval, failureTimeout time.Duration) {
	logger := log.WithComponent("distributor")
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := d.update(ctx, failureTimeout); err != nil {
				logger.Warn().Err(err).Msg("distributor update failed")
			}
		}
	}
}

// update implements the background updater's steps: read the
// ServerMap and every active node's presence marker, drop any node
// whose marker hasn't advanced within failureTimeout, and commit the
// corrected set if it differs from what's stored. This node's own
// presence marker is written on every call; the ServerMap and the
// metadata-version key are written only when the active set changes.
// The cache is replaced whenever the stored active set differs from the
// cached one, so a set committed by another node is picked up here too.
func (d *Distributor) update(ctx context.Context, failureTimeout time.Duration) error {
	var final ServerMap
	var changed bool
	_, err := kv.RunTransaction(ctx, d.engine, d.policy, true, func(ctx context.Context, txn kv.ReadWriteTransaction) error {
		sm, err := readServerMap(ctx, txn)
		if err != nil {
			return err
		}

		// Heartbeat: refresh this node's own presence marker every
		// cycle so it never looks stale to itself or its peers.
		txn.SetVersionstampedValue(schema.MetaPresenceKey(d.nodeID), 0, make([]byte, kv.VersionstampLen))

		now := time.Now()
		live := make([]uint32, 0, len(sm.Active))
		for _, id := range sm.Active {
			// This node's own heartbeat staged above won't be visible
			// to a read in the same transaction until it commits, so
			// trust our own liveness directly rather than reading a
			// marker that can only reflect an earlier cycle.
			if id == d.nodeID {
				d.lastSeenAt[id] = now
				live = append(live, id)
				continue
			}

			markerRaw, ok, err := txn.Get(ctx, schema.MetaPresenceKey(id))
			if err != nil {
				return err
			}
			if !ok {
				continue
			}
			vs, ok := kv.DecodeVersionstamp(markerRaw)
			if !ok {
				continue
			}
			last, seen := d.lastSeen[id]
			if !seen || last.Less(vs) {
				d.lastSeen[id] = vs
				d.lastSeenAt[id] = now
				live = append(live, id)
				continue
			}
			if now.Sub(d.lastSeenAt[id]) < failureTimeout {
				live = append(live, id)
			}
		}
		sort.Slice(live, func(i, j int) bool { return live[i] < live[j] })

		if !sameActiveSet(sm.Active, live) {
			sm.Active = live
			txn.Set(schema.MetaServerMapKey(), EncodeServerMap(sm))
			txn.SetVersionstampedValue(schema.MetaVersionKey(), 0, make([]byte, kv.VersionstampLen))
			changed = true
		}
		final = sm
		return nil
	})
	if err != nil {
		return err
	}
	if cur := d.cache.Load(); changed || cur == nil || !sameActiveSet(cur.Active, final.Active) {
		d.cache.Store(&final)
	}
	return nil
}

func readServerMap(ctx context.Context, txn kv.ReadWriteTransaction) (ServerMap, error) {
	raw, ok, err := txn.Get(ctx, schema.MetaServerMapKey())
	if err != nil {
		return ServerMap{}, err
	}
	if !ok {
		return ServerMap{}, nil
	}
	return DecodeServerMap(raw)
}

func sameActiveSet(a, b []uint32) bool {
	if len(a) != len(b) {
		return false
	}
	sorted := append([]uint32{}, a...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	for i := range sorted {
		if sorted[i] != b[i] {
			return false
		}
	}
	return true
}
