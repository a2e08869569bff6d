package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Routing metrics
	RoutingVersion = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "ffs_routing_version",
			Help: "Current routing version observed by this process",
		},
	)

	ChainVersionBumpsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ffs_chain_version_bumps_total",
			Help: "Total number of chain version bumps by reason",
		},
		[]string{"reason"},
	)

	NodesTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "ffs_nodes_total",
			Help: "Total number of nodes by role and status",
		},
		[]string{"role", "status"},
	)

	TargetsTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "ffs_targets_total",
			Help: "Total number of storage targets by local state",
		},
		[]string{"state"},
	)

	// mgmtd (raft) metrics
	RaftLeader = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "ffs_mgmtd_raft_is_leader",
			Help: "Whether this mgmtd node is the Raft leader (1 = leader, 0 = follower)",
		},
	)

	RaftPeers = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "ffs_mgmtd_raft_peers_total",
			Help: "Total number of Raft peers in the mgmtd cluster",
		},
	)

	RaftApplyDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "ffs_mgmtd_raft_apply_duration_seconds",
			Help:    "Time taken to apply a routing-state Raft log entry",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Distributor metrics
	DistributorReassignmentsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "ffs_distributor_reassignments_total",
			Help: "Total number of inode-range reassignments computed by the distributor",
		},
	)

	MetaForwardsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ffs_meta_forwards_total",
			Help: "Total number of requests forwarded to the responsible metadata server",
		},
		[]string{"result"},
	)

	// Metadata-server batch/commit metrics
	BatchSize = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "ffs_meta_batch_size",
			Help:    "Number of operations folded into a single per-inode batch commit",
			Buckets: []float64{1, 2, 4, 8, 16, 32, 64, 128},
		},
	)

	BatchCommitDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ffs_meta_batch_commit_duration_seconds",
			Help:    "Time taken to commit a per-inode batch transaction, by operation",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"op"},
	)

	MetaGCReclaimedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "ffs_meta_gc_reclaimed_total",
			Help: "Total number of inodes whose chunks were reclaimed from the deletion queue",
		},
	)

	// KV engine metrics
	KVConflictsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ffs_kv_conflicts_total",
			Help: "Total number of transaction commits rejected with a conflict",
		},
		[]string{"table"},
	)

	KVRetriesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "ffs_kv_retries_total",
			Help: "Total number of transaction retries issued by RunTransaction",
		},
	)

	// CRAQ write/read path metrics
	CRAQWriteDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ffs_craq_write_duration_seconds",
			Help:    "Time taken for a chain write to propagate from head to tail commit",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"chain_id"},
	)

	CRAQReadDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ffs_craq_read_duration_seconds",
			Help:    "Time taken to serve a chunk read, by role (head/middle/tail)",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"role"},
	)

	CRAQResyncsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ffs_craq_resyncs_total",
			Help: "Total number of target resync (catch-up) runs by outcome",
		},
		[]string{"outcome"},
	)

	// Storage client metrics
	ClientRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ffs_storageclient_requests_total",
			Help: "Total number of storage client requests by method and status",
		},
		[]string{"method", "status"},
	)

	ClientRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ffs_storageclient_request_duration_seconds",
			Help:    "Storage client request duration in seconds, by method",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method"},
	)
)

func init() {
	prometheus.MustRegister(RoutingVersion)
	prometheus.MustRegister(ChainVersionBumpsTotal)
	prometheus.MustRegister(NodesTotal)
	prometheus.MustRegister(TargetsTotal)
	prometheus.MustRegister(RaftLeader)
	prometheus.MustRegister(RaftPeers)
	prometheus.MustRegister(RaftApplyDuration)
	prometheus.MustRegister(DistributorReassignmentsTotal)
	prometheus.MustRegister(MetaForwardsTotal)
	prometheus.MustRegister(BatchSize)
	prometheus.MustRegister(BatchCommitDuration)
	prometheus.MustRegister(MetaGCReclaimedTotal)
	prometheus.MustRegister(KVConflictsTotal)
	prometheus.MustRegister(KVRetriesTotal)
	prometheus.MustRegister(CRAQWriteDuration)
	prometheus.MustRegister(CRAQReadDuration)
	prometheus.MustRegister(CRAQResyncsTotal)
	prometheus.MustRegister(ClientRequestsTotal)
	prometheus.MustRegister(ClientRequestDuration)
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer is a helper for timing operations
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records the duration to a histogram
func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	duration := time.Since(t.start).Seconds()
	histogram.Observe(duration)
}

// ObserveDurationVec records the duration to a histogram vec with labels
func (t *Timer) ObserveDurationVec(histogram prometheus.ObserverVec, labels ...string) {
	duration := time.Since(t.start).Seconds()
	histogram.WithLabelValues(labels...).Observe(duration)
}

// Duration returns the elapsed time since timer started
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}
