package storagetarget

import (
	"github.com/fireflyer/ffs/pkg/kv"
	"github.com/fireflyer/ffs/pkg/log"
	"github.com/fireflyer/ffs/pkg/routing"
	"github.com/fireflyer/ffs/pkg/transport"
	"github.com/rs/zerolog"
)

// Config configures one storage target process. A process may host
// several targets; this repo keeps it to one target per Server for
// simplicity, matching one bolt chunk store per Server.
type Config struct {
	TargetId routing.TargetId
	// Peers maps a target id to the transport address the storage
	// target daemon hosting it listens on, for chain forward/commit
	// RPCs and resync snapshot pulls.
	Peers map[routing.TargetId]string
	// ResyncBatchSize caps how many snapshot entries one
	// SnapshotRange RPC returns.
	ResyncBatchSize int
}

// Server is one storage target: a chunk store plus the CRAQ chain
// logic deciding, for each write or read, which neighbor (if any) to
// forward to based on this target's role in the chunk's chain.
type Server struct {
	cfg       Config
	store     ChunkStore
	routing   RoutingSource
	transport transport.Transport
	logger    zerolog.Logger

	pending *pendingCommits
	chunks  *chunkLocks
	resync  *resyncWorker
}

// NewServer builds a Server over store, using routingSource to resolve
// chain membership and role for every chunk it serves.
func NewServer(cfg Config, store ChunkStore, routingSource RoutingSource, tr transport.Transport) *Server {
	if cfg.ResyncBatchSize == 0 {
		cfg.ResyncBatchSize = 256
	}
	s := &Server{
		cfg:       cfg,
		store:     store,
		routing:   routingSource,
		transport: tr,
		logger:    log.WithComponent("storagetarget"),
		pending:   newPendingCommits(),
		chunks:    newChunkLocks(),
	}
	s.resync = newResyncWorker(s, 0)
	return s
}

// StartResync launches the background LAST_SYNC/SYNCING catch-up loop.
func (s *Server) StartResync() { s.resync.Start() }

// StopResync halts the background catch-up loop.
func (s *Server) StopResync() { s.resync.Stop() }

// chainFor resolves the ChainInfo a chunk belongs to, by chain id
// rather than by walking the chain table — callers already know the
// chain id from the request (the client resolved it via chunkaddr +
// the file's layout before sending).
func (s *Server) chainFor(chainID routing.ChainId) (routing.ChainInfo, error) {
	info := s.routing.RoutingInfo()
	chain, ok := info.ChainByID(chainID)
	if !ok {
		return routing.ChainInfo{}, kv.NewError(kv.CodeInvalidArgument, "storagetarget: unknown chain %d", chainID)
	}
	return chain, nil
}

// roleOf returns this target's Role within chain, and whether it
// actually holds a role in it at all (a target asked about a chain it
// isn't part of gets ok=false).
func roleOf(chain routing.ChainInfo, self routing.TargetId) (routing.Role, bool) {
	for _, tr := range chain.Targets {
		if tr.TargetId == self {
			return tr.Role, true
		}
	}
	return 0, false
}

// successor returns the TargetId one hop closer to TAIL from self
// within chain's PreferredOrder, or false if self is already TAIL (or
// not found).
func successor(chain routing.ChainInfo, self routing.TargetId) (routing.TargetId, bool) {
	for i, t := range chain.PreferredOrder {
		if t == self && i+1 < len(chain.PreferredOrder) {
			return chain.PreferredOrder[i+1], true
		}
	}
	return 0, false
}

// predecessor returns the TargetId one hop closer to HEAD from self
// within chain's PreferredOrder, or false if self is already HEAD (or
// not found).
func predecessor(chain routing.ChainInfo, self routing.TargetId) (routing.TargetId, bool) {
	for i, t := range chain.PreferredOrder {
		if t == self && i > 0 {
			return chain.PreferredOrder[i-1], true
		}
	}
	return 0, false
}
