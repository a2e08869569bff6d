package mgmtd

import (
	"encoding/json"
	"io"
	"sync"

	"github.com/fireflyer/ffs/pkg/routing"
	"github.com/hashicorp/raft"
)

// Command is the raft log entry shape, directly grounded on the
// teacher's WarrenFSM command envelope (pkg/manager/fsm.go): an
// operation name plus its JSON-encoded argument, letting Apply dispatch
// on a string switch the same way the teacher does for its node/
// service/task commands.
type Command struct {
	Op   string          `json:"op"`
	Data json.RawMessage `json:"data"`
}

const (
	opUpsertNode       = "upsert_node"
	opRemoveNode       = "remove_node"
	opUpsertChainInfo  = "upsert_chain_info"
	opUpsertTargetInfo = "upsert_target_info"
	opPutChainTable    = "put_chain_table"
)

// FSM is hashicorp/raft's state machine for mgmtd. Where the teacher's
// WarrenFSM wraps a pluggable storage.Store, FSM holds the RoutingInfo
// directly: node set, chain tables, chain info, and target info are
// small enough that the raft log is itself the authority spec §4.4
// calls "a single source of truth bumped monotonically as
// routing_version" — every mgmtd replica that has applied the same log
// prefix can answer a read identically, leader or follower.
type FSM struct {
	mu   sync.RWMutex
	info routing.RoutingInfo
}

// NewFSM builds an FSM with an empty RoutingInfo, routing_version 0.
func NewFSM() *FSM {
	return &FSM{}
}

// RoutingInfo returns a copy of the current in-memory state. Safe to
// call from any goroutine, on a leader or a follower.
func (f *FSM) RoutingInfo() routing.RoutingInfo {
	f.mu.RLock()
	defer f.mu.RUnlock()
	info := f.info
	info.Nodes = append([]routing.NodeInfo{}, f.info.Nodes...)
	info.ChainTables = append([]routing.ChainTable{}, f.info.ChainTables...)
	info.Chains = append([]routing.ChainInfo{}, f.info.Chains...)
	info.Targets = append([]routing.TargetInfo{}, f.info.Targets...)
	return info
}

// Apply implements raft.FSM, replaying one committed Command against
// the in-memory RoutingInfo and bumping RoutingVersion on every
// successful mutation.
func (f *FSM) Apply(log *raft.Log) interface{} {
	var cmd Command
	if err := json.Unmarshal(log.Data, &cmd); err != nil {
		return err
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	switch cmd.Op {
	case opUpsertNode:
		var n routing.NodeInfo
		if err := json.Unmarshal(cmd.Data, &n); err != nil {
			return err
		}
		f.info.Nodes = upsertNode(f.info.Nodes, n)
	case opRemoveNode:
		var id routing.NodeId
		if err := json.Unmarshal(cmd.Data, &id); err != nil {
			return err
		}
		f.info.Nodes = removeNode(f.info.Nodes, id)
	case opUpsertChainInfo:
		var c routing.ChainInfo
		if err := json.Unmarshal(cmd.Data, &c); err != nil {
			return err
		}
		f.info.Chains = upsertChain(f.info.Chains, c)
	case opUpsertTargetInfo:
		var t routing.TargetInfo
		if err := json.Unmarshal(cmd.Data, &t); err != nil {
			return err
		}
		f.info.Targets = upsertTarget(f.info.Targets, t)
	case opPutChainTable:
		var t routing.ChainTable
		if err := json.Unmarshal(cmd.Data, &t); err != nil {
			return err
		}
		f.info.ChainTables = putChainTable(f.info.ChainTables, t)
	default:
		return nil
	}
	f.info.RoutingVersion++
	return nil
}

func upsertNode(nodes []routing.NodeInfo, n routing.NodeInfo) []routing.NodeInfo {
	for i, existing := range nodes {
		if existing.NodeId == n.NodeId {
			nodes[i] = n
			return nodes
		}
	}
	return append(nodes, n)
}

func removeNode(nodes []routing.NodeInfo, id routing.NodeId) []routing.NodeInfo {
	out := nodes[:0]
	for _, n := range nodes {
		if n.NodeId != id {
			out = append(out, n)
		}
	}
	return out
}

func upsertChain(chains []routing.ChainInfo, c routing.ChainInfo) []routing.ChainInfo {
	for i, existing := range chains {
		if existing.ChainId == c.ChainId {
			chains[i] = c
			return chains
		}
	}
	return append(chains, c)
}

func upsertTarget(targets []routing.TargetInfo, t routing.TargetInfo) []routing.TargetInfo {
	for i, existing := range targets {
		if existing.TargetId == t.TargetId {
			targets[i] = t
			return targets
		}
	}
	return append(targets, t)
}

// putChainTable replaces any existing row for the same ChainTableId and
// Version (an update in place) or appends a new one (a new version,
// kept alongside older ones so chain_ref resolution against a stale
// chain_table_version §4.3 still works).
func putChainTable(tables []routing.ChainTable, t routing.ChainTable) []routing.ChainTable {
	for i, existing := range tables {
		if existing.ChainTableId == t.ChainTableId && existing.Version == t.Version {
			tables[i] = t
			return tables
		}
	}
	return append(tables, t)
}

// fsmSnapshot is the raft.FSMSnapshot Snapshot/Restore use, the JSON
// encoded RoutingInfo, matching the teacher's WarrenSnapshot shape.
type fsmSnapshot struct {
	Info routing.RoutingInfo `json:"info"`
}

func (s *fsmSnapshot) Persist(sink raft.SnapshotSink) error {
	b, err := json.Marshal(s)
	if err != nil {
		sink.Cancel()
		return err
	}
	if _, err := sink.Write(b); err != nil {
		sink.Cancel()
		return err
	}
	return sink.Close()
}

func (s *fsmSnapshot) Release() {}

// Snapshot implements raft.FSM.
func (f *FSM) Snapshot() (raft.FSMSnapshot, error) {
	return &fsmSnapshot{Info: f.RoutingInfo()}, nil
}

// Restore implements raft.FSM.
func (f *FSM) Restore(rc io.ReadCloser) error {
	defer rc.Close()
	var snap fsmSnapshot
	if err := json.NewDecoder(rc).Decode(&snap); err != nil {
		return err
	}
	f.mu.Lock()
	f.info = snap.Info
	f.mu.Unlock()
	return nil
}
