package mgmtd

import (
	"context"
	"encoding/binary"
	"sort"

	"github.com/fireflyer/ffs/pkg/kv"
	"github.com/fireflyer/ffs/pkg/routing"
	"github.com/fireflyer/ffs/pkg/schema"
)

// Store implements the TargetInfoPersister/TargetInfoLoader control
// loops §6 names: a checkpoint of the raft-replicated RoutingInfo into
// the shared kv.Engine's NODE/CHIF/CHIT/TGIF prefixes. The raft log
// (see fsm.go) is mgmtd's real consensus mechanism; this is a read-only
// mirror any process can consult — meta servers and storage targets in
// particular — without joining the raft cluster or routing every
// lookup through mgmtd's RPC path.
type Store struct {
	engine kv.Engine
	policy kv.RetryPolicy
}

// NewStore builds a Store over engine using the default retry policy.
func NewStore(engine kv.Engine) *Store {
	return &Store{engine: engine, policy: kv.DefaultRetryPolicy}
}

// PersistRoutingInfo overwrites the NODE/CHIF/CHIT/TGIF mirror with
// info in one transaction: every row is cleared and rewritten, since
// the checkpoint always reflects the FSM's current snapshot rather
// than an incremental diff against whatever was there before.
func (s *Store) PersistRoutingInfo(ctx context.Context, info routing.RoutingInfo) error {
	_, err := kv.RunTransaction(ctx, s.engine, s.policy, true, func(ctx context.Context, txn kv.ReadWriteTransaction) error {
		txn.ClearRange(schema.NodeScanPrefix(), schema.PrefixRangeEnd(schema.NodeScanPrefix()))
		for _, n := range info.Nodes {
			txn.Set(schema.NodeKey(uint32(n.NodeId)), routing.EncodeNodeInfo(n))
		}

		txn.ClearRange(schema.ChainInfoScanPrefix(), schema.PrefixRangeEnd(schema.ChainInfoScanPrefix()))
		for _, c := range info.Chains {
			txn.Set(schema.ChainInfoKey(uint32(c.ChainId)), routing.EncodeChainInfo(c))
		}

		txn.ClearRange(schema.TargetInfoScanPrefix(), schema.PrefixRangeEnd(schema.TargetInfoScanPrefix()))
		for _, t := range info.Targets {
			txn.Set(schema.TargetInfoKey(uint64(t.TargetId)), routing.EncodeTargetInfo(t))
		}

		tablePrefix := append([]byte{}, schema.PrefixChainTable...)
		txn.ClearRange(tablePrefix, schema.PrefixRangeEnd(tablePrefix))
		for _, t := range info.ChainTables {
			txn.Set(schema.ChainTableKey(t.ChainTableId, t.Version), encodeChainTable(t))
		}

		txn.Set(schema.RoutingVersionKey(), encodeCounter(info.RoutingVersion))
		return nil
	})
	return err
}

// LoadRoutingInfo reads the mirror back into a RoutingInfo without
// going through raft, the read side of TargetInfoLoader. Only the newest
// version of each chain table is returned. The daemons under cmd/ fetch
// routing state over the GetRoutingInfo RPC instead; in this repository
// only tests call LoadRoutingInfo.
func (s *Store) LoadRoutingInfo(ctx context.Context) (routing.RoutingInfo, error) {
	txn, err := s.engine.NewReadTransaction(ctx)
	if err != nil {
		return routing.RoutingInfo{}, err
	}
	defer txn.Cancel()

	var info routing.RoutingInfo

	if raw, ok, err := txn.SnapshotGet(ctx, schema.RoutingVersionKey()); err != nil {
		return routing.RoutingInfo{}, err
	} else if ok {
		info.RoutingVersion = decodeCounter(raw)
	}

	nodeRows, _, err := txn.SnapshotGetRange(ctx, kv.Key(schema.NodeScanPrefix()), kv.Key(schema.PrefixRangeEnd(schema.NodeScanPrefix())), 0)
	if err != nil {
		return routing.RoutingInfo{}, err
	}
	for _, row := range nodeRows {
		n, err := routing.DecodeNodeInfo(row.Value)
		if err != nil {
			return routing.RoutingInfo{}, err
		}
		info.Nodes = append(info.Nodes, n)
	}

	chainRows, _, err := txn.SnapshotGetRange(ctx, kv.Key(schema.ChainInfoScanPrefix()), kv.Key(schema.PrefixRangeEnd(schema.ChainInfoScanPrefix())), 0)
	if err != nil {
		return routing.RoutingInfo{}, err
	}
	for _, row := range chainRows {
		c, err := routing.DecodeChainInfo(row.Value)
		if err != nil {
			return routing.RoutingInfo{}, err
		}
		info.Chains = append(info.Chains, c)
	}

	targetRows, _, err := txn.SnapshotGetRange(ctx, kv.Key(schema.TargetInfoScanPrefix()), kv.Key(schema.PrefixRangeEnd(schema.TargetInfoScanPrefix())), 0)
	if err != nil {
		return routing.RoutingInfo{}, err
	}
	for _, row := range targetRows {
		t, err := routing.DecodeTargetInfo(row.Value)
		if err != nil {
			return routing.RoutingInfo{}, err
		}
		info.Targets = append(info.Targets, t)
	}

	tablePrefix := append([]byte{}, schema.PrefixChainTable...)
	tableRows, _, err := txn.SnapshotGetRange(ctx, kv.Key(tablePrefix), kv.Key(schema.PrefixRangeEnd(tablePrefix)), 0)
	if err != nil {
		return routing.RoutingInfo{}, err
	}
	info.ChainTables = newestChainTables(tableRows)

	return info, nil
}

// newestChainTables decodes every CHIT row and keeps only the highest
// Version seen per ChainTableId.
func newestChainTables(rows []kv.KeyValue) []routing.ChainTable {
	byID := make(map[uint32]routing.ChainTable)
	for _, row := range rows {
		table, err := decodeChainTable(row.Value)
		if err != nil {
			continue
		}
		if existing, ok := byID[table.ChainTableId]; !ok || existing.Version < table.Version {
			byID[table.ChainTableId] = table
		}
	}
	out := make([]routing.ChainTable, 0, len(byID))
	for _, t := range byID {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ChainTableId < out[j].ChainTableId })
	return out
}

const (
	tagChainTableId = iota + 1
	tagChainTableVersion
	tagChainTableChains
)

// encodeChainTable/decodeChainTable serialize a routing.ChainTable to
// the tagged form stored under the CHIT prefix. ChainTable lives in
// pkg/routing as a type but its encode/decode pair lives here, since
// only mgmtd's checkpoint ever persists one.
func encodeChainTable(t routing.ChainTable) []byte {
	e := schema.NewEncoder()
	e.PutUint32(tagChainTableId, t.ChainTableId)
	e.PutUint32(tagChainTableVersion, t.Version)
	buf := make([]byte, 0, len(t.Chains)*4)
	for _, c := range t.Chains {
		var b [4]byte
		binary.BigEndian.PutUint32(b[:], uint32(c))
		buf = append(buf, b[:]...)
	}
	e.PutBytes(tagChainTableChains, buf)
	return e.Encode()
}

func decodeChainTable(b []byte) (routing.ChainTable, error) {
	d, err := schema.DecodeRecord(b)
	if err != nil {
		return routing.ChainTable{}, err
	}
	var t routing.ChainTable
	if v, _, err := d.Uint32(tagChainTableId); err != nil {
		return routing.ChainTable{}, err
	} else {
		t.ChainTableId = v
	}
	if v, _, err := d.Uint32(tagChainTableVersion); err != nil {
		return routing.ChainTable{}, err
	} else {
		t.Version = v
	}
	if raw, ok := d.Bytes(tagChainTableChains); ok {
		for i := 0; i+4 <= len(raw); i += 4 {
			t.Chains = append(t.Chains, routing.ChainId(binary.BigEndian.Uint32(raw[i:i+4])))
		}
	}
	return t, nil
}

func decodeCounter(b []byte) uint64 {
	if len(b) != 8 {
		return 0
	}
	return binary.BigEndian.Uint64(b)
}

func encodeCounter(v uint64) []byte {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], v)
	return b[:]
}
