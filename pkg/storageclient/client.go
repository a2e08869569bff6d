package storageclient

import (
	"github.com/fireflyer/ffs/pkg/log"
	"github.com/fireflyer/ffs/pkg/routing"
	"github.com/fireflyer/ffs/pkg/transport"
	"github.com/rs/zerolog"
)

// Config configures one storage client instance, typically one per
// upstream session (a FUSE mount, a meta server's ChunkRemover, a
// test harness).
type Config struct {
	// ClientId identifies this client for update_id derivation
	// (§4.8: "derived from {client_id, request_uuid, sub_op_index}").
	ClientId string
	// MaxBatchSize caps how many sub-ops one batch RPC carries.
	MaxBatchSize int
	// MaxBatchBytes caps one batch RPC's total payload size.
	MaxBatchBytes uint64
	// MaxConcurrentRequestsPerNode bounds how many batch RPCs may be
	// outstanding at once against a single destination node,
	// §4.8's pipelining limit.
	MaxConcurrentRequestsPerNode int
	// ReadSelect picks which chain replica a read sub-op targets when
	// the caller doesn't otherwise specify.
	ReadSelect ReadSelectMode
	// MaxRetries bounds how many times a sub-op is retried before its
	// error is surfaced to the caller.
	MaxRetries int
}

func (c *Config) setDefaults() {
	if c.MaxBatchSize == 0 {
		c.MaxBatchSize = 64
	}
	if c.MaxBatchBytes == 0 {
		c.MaxBatchBytes = 4 << 20
	}
	if c.MaxConcurrentRequestsPerNode == 0 {
		c.MaxConcurrentRequestsPerNode = 4
	}
	if c.MaxRetries == 0 {
		c.MaxRetries = 3
	}
}

// Client is the storage client: chunking, per-node batching,
// pipelining, and chain-aware retry over a Transport, grounded on
// pkg/storagetarget's chunk RPCs as its only downstream dependency.
type Client struct {
	cfg       Config
	routing   RoutingSource
	layouts   LayoutResolver
	transport transport.Transport
	logger    zerolog.Logger

	roundRobin uint64 // atomic counter consumed by the round_robin read mode
}

// NewClient builds a Client over tr, resolving chain and target
// placement through routingSource and inode layouts through layouts
// (layouts may be nil if the caller never invokes RemoveChunks).
func NewClient(cfg Config, routingSource RoutingSource, layouts LayoutResolver, tr transport.Transport) *Client {
	cfg.setDefaults()
	return &Client{
		cfg:       cfg,
		routing:   routingSource,
		layouts:   layouts,
		transport: tr,
		logger:    log.WithComponent("storageclient"),
	}
}

// targetAddress resolves a TargetId to the transport address of the
// node hosting it, the two-hop lookup (target -> node id -> address)
// RoutingInfo requires since TargetInfo only carries a NodeId.
func targetAddress(info routing.RoutingInfo, id routing.TargetId) (string, bool) {
	var nodeID routing.NodeId
	found := false
	for _, t := range info.Targets {
		if t.TargetId == id {
			nodeID, found = t.NodeId, true
			break
		}
	}
	if !found {
		return "", false
	}
	for _, n := range info.Nodes {
		if n.NodeId == nodeID {
			return n.Address, true
		}
	}
	return "", false
}

