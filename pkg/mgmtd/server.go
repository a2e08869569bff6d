package mgmtd

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"time"

	"github.com/fireflyer/ffs/pkg/kv"
	"github.com/fireflyer/ffs/pkg/log"
	"github.com/fireflyer/ffs/pkg/metrics"
	"github.com/fireflyer/ffs/pkg/routing"
	"github.com/hashicorp/raft"
	raftboltdb "github.com/hashicorp/raft-boltdb"
	"github.com/rs/zerolog"
)

// Config configures one mgmtd replica, grounded on the teacher's
// manager.Config{NodeID,BindAddr,DataDir}.
type Config struct {
	NodeID   string
	BindAddr string
	DataDir  string
}

// Server is one mgmtd replica: a raft.Raft instance replicating
// RoutingInfo through FSM, plus a Store checkpointing that state into
// the shared kv.Engine for non-member readers.
type Server struct {
	cfg      Config
	fsm      *FSM
	raft     *raft.Raft
	store    *Store
	sessions *sessions
	logger   zerolog.Logger
}

// NewServer builds a Server in the unstarted state; call Bootstrap (for
// the cluster's first member) or Join (for every later one) before
// using it.
func NewServer(cfg Config, engine kv.Engine) *Server {
	return &Server{
		cfg:      cfg,
		fsm:      NewFSM(),
		store:    NewStore(engine),
		sessions: newSessions(engine),
		logger:   log.WithComponent("mgmtd"),
	}
}

// raftTimeouts applies the same LAN-tuned timeouts the teacher's
// manager.Bootstrap/Join use: failure detection and election complete
// in low single-digit seconds instead of hashicorp/raft's WAN-oriented
// one-second defaults.
func raftTimeouts(config *raft.Config) {
	config.HeartbeatTimeout = 500 * time.Millisecond
	config.ElectionTimeout = 500 * time.Millisecond
	config.CommitTimeout = 50 * time.Millisecond
	config.LeaderLeaseTimeout = 250 * time.Millisecond
}

func (s *Server) newRaft() (*raft.Raft, raft.ServerAddress, error) {
	config := raft.DefaultConfig()
	config.LocalID = raft.ServerID(s.cfg.NodeID)
	raftTimeouts(config)

	addr, err := net.ResolveTCPAddr("tcp", s.cfg.BindAddr)
	if err != nil {
		return nil, "", fmt.Errorf("mgmtd: resolve bind address: %w", err)
	}
	transport, err := raft.NewTCPTransport(s.cfg.BindAddr, addr, 3, 10*time.Second, os.Stderr)
	if err != nil {
		return nil, "", fmt.Errorf("mgmtd: raft transport: %w", err)
	}
	snapshotStore, err := raft.NewFileSnapshotStore(s.cfg.DataDir, 2, os.Stderr)
	if err != nil {
		return nil, "", fmt.Errorf("mgmtd: snapshot store: %w", err)
	}
	logStore, err := raftboltdb.NewBoltStore(filepath.Join(s.cfg.DataDir, "raft-log.db"))
	if err != nil {
		return nil, "", fmt.Errorf("mgmtd: raft log store: %w", err)
	}
	stableStore, err := raftboltdb.NewBoltStore(filepath.Join(s.cfg.DataDir, "raft-stable.db"))
	if err != nil {
		return nil, "", fmt.Errorf("mgmtd: raft stable store: %w", err)
	}
	r, err := raft.NewRaft(config, s.fsm, logStore, stableStore, snapshotStore, transport)
	if err != nil {
		return nil, "", fmt.Errorf("mgmtd: new raft: %w", err)
	}
	return r, transport.LocalAddr(), nil
}

// Bootstrap starts raft as the sole member of a brand new cluster. Call
// this on exactly one replica; every other replica calls Join instead.
func (s *Server) Bootstrap() error {
	r, localAddr, err := s.newRaft()
	if err != nil {
		return err
	}
	s.raft = r

	future := r.BootstrapCluster(raft.Configuration{
		Servers: []raft.Server{{ID: raft.ServerID(s.cfg.NodeID), Address: localAddr}},
	})
	if err := future.Error(); err != nil {
		return fmt.Errorf("mgmtd: bootstrap cluster: %w", err)
	}
	s.logger.Info().Str("node_id", s.cfg.NodeID).Msg("bootstrapped mgmtd raft cluster")
	return nil
}

// Join starts raft for a replica that is joining an existing cluster.
// The caller is responsible for getting this replica added as a voter
// on the current leader (see AddVoter), typically by forwarding a Join
// RPC to it (see rpc.go).
func (s *Server) Join() error {
	r, _, err := s.newRaft()
	if err != nil {
		return err
	}
	s.raft = r
	s.logger.Info().Str("node_id", s.cfg.NodeID).Msg("started mgmtd raft, awaiting AddVoter from leader")
	return nil
}

// AddVoter asks this replica's raft (which must currently be leader) to
// add nodeID at address as a voting member.
func (s *Server) AddVoter(nodeID, address string) error {
	future := s.raft.AddVoter(raft.ServerID(nodeID), raft.ServerAddress(address), 0, 10*time.Second)
	return future.Error()
}

// RemoveServer asks this replica's raft (which must currently be
// leader) to remove nodeID from the cluster configuration.
func (s *Server) RemoveServer(nodeID string) error {
	future := s.raft.RemoveServer(raft.ServerID(nodeID), 0, 10*time.Second)
	return future.Error()
}

// IsLeader reports whether this replica currently holds the raft
// leadership, i.e. is the mgmtd primary.
func (s *Server) IsLeader() bool {
	return s.raft.State() == raft.Leader
}

// LeaderAddr returns the current leader's raft transport address, or
// "" if none is known.
func (s *Server) LeaderAddr() string {
	return string(s.raft.Leader())
}

// PeerCount returns the number of servers in the current raft
// configuration, for the ffs_mgmtd_raft_peers_total gauge.
func (s *Server) PeerCount() int {
	future := s.raft.GetConfiguration()
	if err := future.Error(); err != nil {
		return 0
	}
	return len(future.Configuration().Servers)
}

// apply marshals cmd and replicates it through raft, returning once a
// quorum has committed it. Grounded on manager.Manager.Apply, including
// the RaftApplyDuration timing.
func (s *Server) apply(ctx context.Context, cmd Command) error {
	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.RaftApplyDuration)

	data, err := json.Marshal(cmd)
	if err != nil {
		return fmt.Errorf("mgmtd: marshal command: %w", err)
	}
	future := s.raft.Apply(data, 5*time.Second)
	if err := future.Error(); err != nil {
		return kv.Wrap(kv.CodeFatal, err, "mgmtd: raft apply %s", cmd.Op)
	}
	if resp := future.Response(); resp != nil {
		if err, ok := resp.(error); ok && err != nil {
			return err
		}
	}
	return nil
}

func mustMarshal(v interface{}) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return b
}

// UpsertNode replicates n through raft.
func (s *Server) UpsertNode(ctx context.Context, n routing.NodeInfo) error {
	return s.apply(ctx, Command{Op: opUpsertNode, Data: mustMarshal(n)})
}

// RemoveNode replicates id's removal through raft.
func (s *Server) RemoveNode(ctx context.Context, id routing.NodeId) error {
	return s.apply(ctx, Command{Op: opRemoveNode, Data: mustMarshal(id)})
}

// UpsertChainInfo replicates c through raft.
func (s *Server) UpsertChainInfo(ctx context.Context, c routing.ChainInfo) error {
	return s.apply(ctx, Command{Op: opUpsertChainInfo, Data: mustMarshal(c)})
}

// UpsertTargetInfo replicates t through raft.
func (s *Server) UpsertTargetInfo(ctx context.Context, t routing.TargetInfo) error {
	return s.apply(ctx, Command{Op: opUpsertTargetInfo, Data: mustMarshal(t)})
}

// PutChainTable replicates a new chain table version through raft.
func (s *Server) PutChainTable(ctx context.Context, t routing.ChainTable) error {
	return s.apply(ctx, Command{Op: opPutChainTable, Data: mustMarshal(t)})
}

// RoutingInfo returns the current replicated state, servable by this
// replica whether it is leader or follower.
func (s *Server) RoutingInfo() routing.RoutingInfo {
	return s.fsm.RoutingInfo()
}

// Checkpoint persists the current RoutingInfo into the shared
// kv.Engine mirror (TargetInfoPersister, §6).
func (s *Server) Checkpoint(ctx context.Context) error {
	return s.store.PersistRoutingInfo(ctx, s.RoutingInfo())
}

// Shutdown stops raft. Safe to call once.
func (s *Server) Shutdown() error {
	if s.raft == nil {
		return nil
	}
	return s.raft.Shutdown().Error()
}
