package routing

import (
	"fmt"

	"github.com/fireflyer/ffs/pkg/schema"
)

// ChainId, TargetId, NodeId are the opaque handles §3 calls for: 32/64-bit
// identifiers with no further structure, compared by value.
type (
	ChainId  uint32
	TargetId uint64
	NodeId   uint32
)

// Role is a target's position within a chain's replication order.
type Role uint8

const (
	RoleHead Role = iota + 1
	RoleMiddle
	RoleTail
)

func (r Role) String() string {
	switch r {
	case RoleHead:
		return "HEAD"
	case RoleMiddle:
		return "MIDDLE"
	case RoleTail:
		return "TAIL"
	default:
		return "UNKNOWN"
	}
}

// LocalState is a target's membership state within its chain, the
// ONLINE/OFFLINE/LAST_SYNC/REJOIN staircase §4.4/§4.7 describe for
// failure and recovery.
type LocalState uint8

const (
	StateOnline LocalState = iota + 1
	StateOffline
	StateLastSync
	StateSyncing
	StateRejoin
)

func (s LocalState) String() string {
	switch s {
	case StateOnline:
		return "ONLINE"
	case StateOffline:
		return "OFFLINE"
	case StateLastSync:
		return "LAST_SYNC"
	case StateSyncing:
		return "SYNCING"
	case StateRejoin:
		return "REJOIN"
	default:
		return "UNKNOWN"
	}
}

// ChainTargetRole pairs a target with the role it holds in one chain.
type ChainTargetRole struct {
	TargetId TargetId
	Role     Role
}

// ChainInfo is one chain's current membership and version. Version bumps
// on any role or membership change; routing clients reject responses
// tagged with a stale version.
type ChainInfo struct {
	ChainId        ChainId
	Version        uint32
	Targets        []ChainTargetRole
	PreferredOrder []TargetId
}

// Head returns the TargetId currently playing HEAD: the first entry of
// PreferredOrder. The roles recorded in Targets are not consulted.
func (c ChainInfo) Head() (TargetId, bool) {
	if len(c.PreferredOrder) == 0 {
		return 0, false
	}
	return c.PreferredOrder[0], true
}

// TargetInfo is one storage target's placement and liveness state.
type TargetInfo struct {
	TargetId   TargetId
	NodeId     NodeId
	DiskIndex  uint32
	LocalState LocalState
}

// NodeInfo is a cluster member's address and liveness bookkeeping, the
// unit HeartbeatChecker tracks.
type NodeInfo struct {
	NodeId        NodeId
	Address       string
	LastHeartbeat int64 // unix nanoseconds
}

// ChainTable maps stripe slot positions to chain references within one
// versioned table, the structure §4.3's chain_ref resolution consults.
type ChainTable struct {
	ChainTableId uint32
	Version      uint32
	Chains       []ChainId // index = chain_ref
}

// RoutingInfo is mgmtd's single source of truth: the full node set, chain
// tables, chain info, and target info, bumped monotonically as
// routing_version.
type RoutingInfo struct {
	RoutingVersion uint64
	Nodes          []NodeInfo
	ChainTables    []ChainTable
	Chains         []ChainInfo
	Targets        []TargetInfo
}

// ResolveChainRef looks up the chain at chainRef within chainTableId at
// chainTableVersion. Returns InvalidArgument-shaped errors via the caller;
// this is pure lookup.
func (r RoutingInfo) ResolveChainRef(chainTableId, chainTableVersion uint32, chainRef uint32) (ChainId, error) {
	for _, t := range r.ChainTables {
		if t.ChainTableId == chainTableId && t.Version == chainTableVersion {
			if int(chainRef) >= len(t.Chains) {
				return 0, fmt.Errorf("routing: chain_ref %d out of range for table %d v%d", chainRef, chainTableId, chainTableVersion)
			}
			return t.Chains[chainRef], nil
		}
	}
	return 0, fmt.Errorf("routing: chain table %d v%d not found", chainTableId, chainTableVersion)
}

// ChainByID returns the ChainInfo for id, if present.
func (r RoutingInfo) ChainByID(id ChainId) (ChainInfo, bool) {
	for _, c := range r.Chains {
		if c.ChainId == id {
			return c, true
		}
	}
	return ChainInfo{}, false
}

// TargetByID returns the TargetInfo for id, if present.
func (r RoutingInfo) TargetByID(id TargetId) (TargetInfo, bool) {
	for _, t := range r.Targets {
		if t.TargetId == id {
			return t, true
		}
	}
	return TargetInfo{}, false
}

// OrphanTargets lists every target whose node is absent from the current
// node set, the read named listOrphanTargets in §6.
func (r RoutingInfo) OrphanTargets() []TargetInfo {
	live := make(map[NodeId]struct{}, len(r.Nodes))
	for _, n := range r.Nodes {
		live[n.NodeId] = struct{}{}
	}
	var out []TargetInfo
	for _, t := range r.Targets {
		if _, ok := live[t.NodeId]; !ok {
			out = append(out, t)
		}
	}
	return out
}

// Tag constants for the records this package persists through
// schema.Encoder/Decoder, kept here (not in package schema) since routing
// owns these types; schema only owns the generic codec machinery.
const (
	tagChainInfoId = iota + 1
	tagChainInfoVersion
	tagChainInfoTargetId
	tagChainInfoTargetRole
	tagChainInfoPreferredOrder
)

// EncodeChainInfo serializes a ChainInfo to the tagged binary form stored
// under the CHIF prefix. Targets and PreferredOrder are each packed as one
// field: targets as repeated (target_id uint64, role byte) pairs,
// preferred_order as repeated target_id uint64s.
func EncodeChainInfo(c ChainInfo) []byte {
	e := schema.NewEncoder()
	e.PutUint32(tagChainInfoId, uint32(c.ChainId))
	e.PutUint32(tagChainInfoVersion, c.Version)

	targets := make([]byte, 0, len(c.Targets)*9)
	for _, t := range c.Targets {
		var b [9]byte
		putUint64(b[0:8], uint64(t.TargetId))
		b[8] = byte(t.Role)
		targets = append(targets, b[:]...)
	}
	e.PutBytes(tagChainInfoTargetId, targets)

	order := make([]byte, 0, len(c.PreferredOrder)*8)
	for _, id := range c.PreferredOrder {
		var b [8]byte
		putUint64(b[:], uint64(id))
		order = append(order, b[:]...)
	}
	e.PutBytes(tagChainInfoPreferredOrder, order)
	return e.Encode()
}

// DecodeChainInfo is the inverse of EncodeChainInfo.
func DecodeChainInfo(b []byte) (ChainInfo, error) {
	d, err := schema.DecodeRecord(b)
	if err != nil {
		return ChainInfo{}, fmt.Errorf("decode chain info: %w", err)
	}
	var c ChainInfo
	if v, _, err := d.Uint32(tagChainInfoId); err != nil {
		return ChainInfo{}, err
	} else {
		c.ChainId = ChainId(v)
	}
	if v, _, err := d.Uint32(tagChainInfoVersion); err != nil {
		return ChainInfo{}, err
	} else {
		c.Version = v
	}
	if raw, ok := d.Bytes(tagChainInfoTargetId); ok {
		for i := 0; i+9 <= len(raw); i += 9 {
			c.Targets = append(c.Targets, ChainTargetRole{
				TargetId: TargetId(getUint64(raw[i : i+8])),
				Role:     Role(raw[i+8]),
			})
		}
	}
	if raw, ok := d.Bytes(tagChainInfoPreferredOrder); ok {
		for i := 0; i+8 <= len(raw); i += 8 {
			c.PreferredOrder = append(c.PreferredOrder, TargetId(getUint64(raw[i:i+8])))
		}
	}
	return c, nil
}

const (
	tagTargetInfoId = iota + 1
	tagTargetInfoNodeId
	tagTargetInfoDiskIndex
	tagTargetInfoLocalState
)

// EncodeTargetInfo serializes a TargetInfo to the tagged form stored under
// the TGIF prefix.
func EncodeTargetInfo(t TargetInfo) []byte {
	e := schema.NewEncoder()
	e.PutUint64(tagTargetInfoId, uint64(t.TargetId))
	e.PutUint32(tagTargetInfoNodeId, uint32(t.NodeId))
	e.PutUint32(tagTargetInfoDiskIndex, t.DiskIndex)
	e.PutByte(tagTargetInfoLocalState, byte(t.LocalState))
	return e.Encode()
}

// DecodeTargetInfo is the inverse of EncodeTargetInfo.
func DecodeTargetInfo(b []byte) (TargetInfo, error) {
	d, err := schema.DecodeRecord(b)
	if err != nil {
		return TargetInfo{}, fmt.Errorf("decode target info: %w", err)
	}
	var t TargetInfo
	if v, _, err := d.Uint64(tagTargetInfoId); err != nil {
		return TargetInfo{}, err
	} else {
		t.TargetId = TargetId(v)
	}
	if v, _, err := d.Uint32(tagTargetInfoNodeId); err != nil {
		return TargetInfo{}, err
	} else {
		t.NodeId = NodeId(v)
	}
	if v, _, err := d.Uint32(tagTargetInfoDiskIndex); err != nil {
		return TargetInfo{}, err
	} else {
		t.DiskIndex = v
	}
	if v, _, err := d.Byte(tagTargetInfoLocalState); err != nil {
		return TargetInfo{}, err
	} else {
		t.LocalState = LocalState(v)
	}
	return t, nil
}

const (
	tagNodeInfoId = iota + 1
	tagNodeInfoAddress
	tagNodeInfoLastHeartbeat
)

// EncodeNodeInfo serializes a NodeInfo to the tagged form stored under the
// NODE prefix.
func EncodeNodeInfo(n NodeInfo) []byte {
	e := schema.NewEncoder()
	e.PutUint32(tagNodeInfoId, uint32(n.NodeId))
	e.PutString(tagNodeInfoAddress, n.Address)
	e.PutUint64(tagNodeInfoLastHeartbeat, uint64(n.LastHeartbeat))
	return e.Encode()
}

// DecodeNodeInfo is the inverse of EncodeNodeInfo.
func DecodeNodeInfo(b []byte) (NodeInfo, error) {
	d, err := schema.DecodeRecord(b)
	if err != nil {
		return NodeInfo{}, fmt.Errorf("decode node info: %w", err)
	}
	var n NodeInfo
	if v, _, err := d.Uint32(tagNodeInfoId); err != nil {
		return NodeInfo{}, err
	} else {
		n.NodeId = NodeId(v)
	}
	if v, ok := d.String(tagNodeInfoAddress); ok {
		n.Address = v
	}
	if v, _, err := d.Uint64(tagNodeInfoLastHeartbeat); err != nil {
		return NodeInfo{}, err
	} else {
		n.LastHeartbeat = int64(v)
	}
	return n, nil
}

func putUint64(b []byte, v uint64) {
	for i := 7; i >= 0; i-- {
		b[i] = byte(v)
		v >>= 8
	}
}

func getUint64(b []byte) uint64 {
	var v uint64
	for i := 0; i < 8; i++ {
		v = v<<8 | uint64(b[i])
	}
	return v
}
