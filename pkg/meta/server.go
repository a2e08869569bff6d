package meta

import (
	"context"

	"github.com/fireflyer/ffs/pkg/distributor"
	"github.com/fireflyer/ffs/pkg/idgen"
	"github.com/fireflyer/ffs/pkg/kv"
	"github.com/fireflyer/ffs/pkg/log"
	"github.com/fireflyer/ffs/pkg/routing"
	"github.com/fireflyer/ffs/pkg/schema"
	"github.com/fireflyer/ffs/pkg/transport"
	"github.com/rs/zerolog"
)

// RoutingSource is the subset of mgmtd.Server a meta server needs:
// chain tables to resolve a file's layout, and node/target state for
// statfs. Kept as a narrow interface, the same pattern pkg/metrics's
// Collector uses, so pkg/meta never imports pkg/mgmtd directly.
type RoutingSource interface {
	RoutingInfo() routing.RoutingInfo
}

// ChunkRemover issues the storage-client removeChunks call GC and
// truncate need before freeing chunk-bearing inodes or shrinking a
// file. pkg/storageclient's client implements this; a nil ChunkRemover
// (the zero value of Config.Remover) just skips the call, which is
// enough for tests that only exercise the metadata path.
type ChunkRemover interface {
	RemoveChunks(ctx context.Context, inode schema.InodeId, fromChunk uint32) error
}

// Config configures one meta server replica.
type Config struct {
	NodeID uint32
	// Peers maps a distributor node id to the transport address the
	// meta server running as that node listens on, so a request for
	// an inode this process isn't responsible for can be forwarded.
	Peers map[uint32]string
	// RemoveChunksBatchSize caps how many chunks a single GC or
	// truncate pass asks the storage client to remove at once (§4.6).
	RemoveChunksBatchSize int
	Remover               ChunkRemover
}

// Server is one stateless metadata-server replica.
type Server struct {
	cfg         Config
	engine      kv.Engine
	policy      kv.RetryPolicy
	distributor *distributor.Distributor
	routing     RoutingSource
	allocator   *idgen.Allocator
	transport   transport.Transport
	logger      zerolog.Logger

	batches *batchRegistry
	gc      *gcWorker
}

// NewServer builds a Server. dist must already be started (see
// distributor.Distributor.Start) before any request is dispatched to
// it, since ResponsibleServer/IsLocal read its cached active set.
func NewServer(cfg Config, engine kv.Engine, dist *distributor.Distributor, routingSource RoutingSource, tr transport.Transport) *Server {
	if cfg.RemoveChunksBatchSize == 0 {
		cfg.RemoveChunksBatchSize = 1024
	}
	s := &Server{
		cfg:         cfg,
		engine:      engine,
		policy:      kv.DefaultRetryPolicy,
		distributor: dist,
		routing:     routingSource,
		allocator:   idgen.NewAllocator(engine),
		transport:   tr,
		logger:      log.WithComponent("meta"),
		batches:     newBatchRegistry(),
	}
	s.gc = newGCWorker(s, 0)
	return s
}

// StartGC launches the background deletion-queue drain loop. Callers
// that only want the metadata path (tests, batchStat-only tools) can
// simply never call this; an unreclaimed queue entry is inert data,
// not a correctness problem.
func (s *Server) StartGC() { s.gc.Start() }

// StopGC halts the background deletion-queue drain loop.
func (s *Server) StopGC() { s.gc.Stop() }

// CreateUser provisions req.Token in the USER table, the write half of
// the authenticate step every other RPC's dispatch performs as a read
// (see authenticate in dispatch.go). Run outside runBatch/routeLocalOrForward
// since a user record has no owning inode to route by.
func (s *Server) CreateUser(ctx context.Context, req CreateUserRequest) error {
	_, err := kv.RunTransaction(ctx, s.engine, s.policy, true, func(ctx context.Context, txn kv.ReadWriteTransaction) error {
		record := schema.UserRecord{Uid: req.Uid, Gid: req.Gid, Admin: req.Admin}
		txn.Set(schema.UserKey(req.Token), record.Encode())
		return nil
	})
	return err
}
