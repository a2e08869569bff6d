package metrics

import (
	"time"

	"github.com/fireflyer/ffs/pkg/routing"
)

// RoutingSource is the subset of mgmtd.Server the collector polls. Kept
// as a narrow interface (rather than importing pkg/mgmtd directly) so
// pkg/metrics never depends on pkg/mgmtd, matching the teacher's own
// Collector depending only on manager.Manager's exported surface.
type RoutingSource interface {
	RoutingInfo() routing.RoutingInfo
	IsLeader() bool
	PeerCount() int
}

// Collector polls an mgmtd replica's RoutingInfo and raft status and
// republishes it as Prometheus gauges, the same ticker-driven shape as
// the teacher's Collector polling manager.Manager.
type Collector struct {
	source RoutingSource
	stopCh chan struct{}
}

// NewCollector creates a new metrics collector.
func NewCollector(source RoutingSource) *Collector {
	return &Collector{
		source: source,
		stopCh: make(chan struct{}),
	}
}

// Start begins collecting metrics every 15 seconds, collecting once
// immediately so a freshly started process doesn't scrape as empty.
func (c *Collector) Start() {
	ticker := time.NewTicker(15 * time.Second)
	go func() {
		c.collect()
		for {
			select {
			case <-ticker.C:
				c.collect()
			case <-c.stopCh:
				ticker.Stop()
				return
			}
		}
	}()
}

// Stop stops the collector.
func (c *Collector) Stop() {
	close(c.stopCh)
}

func (c *Collector) collect() {
	c.collectNodeMetrics()
	c.collectTargetMetrics()
	c.collectRaftMetrics()
}

func (c *Collector) collectNodeMetrics() {
	info := c.source.RoutingInfo()
	RoutingVersion.Set(float64(info.RoutingVersion))

	NodesTotal.WithLabelValues("storage", "registered").Set(float64(len(info.Nodes)))
}

func (c *Collector) collectTargetMetrics() {
	info := c.source.RoutingInfo()

	stateCounts := make(map[string]int)
	for _, t := range info.Targets {
		stateCounts[t.LocalState.String()]++
	}
	for state, count := range stateCounts {
		TargetsTotal.WithLabelValues(state).Set(float64(count))
	}
}

func (c *Collector) collectRaftMetrics() {
	if c.source.IsLeader() {
		RaftLeader.Set(1)
	} else {
		RaftLeader.Set(0)
	}
	RaftPeers.Set(float64(c.source.PeerCount()))
}
