package schema

import (
	"encoding/binary"
	"fmt"
)

// Table prefixes from §4.2. Each is a fixed four-byte ASCII tag that
// namespaces a key range in the shared kv.Engine.
var (
	PrefixInode       = []byte("INOD")
	PrefixDirEntry    = []byte("DENT")
	PrefixFileSession = []byte("INOS")
	PrefixChainTable  = []byte("CHIT")
	PrefixChainInfo   = []byte("CHIF")
	PrefixTargetInfo  = []byte("TGIF")
	PrefixNode        = []byte("NODE")
	PrefixMeta        = []byte("META")
	PrefixIdempotency = []byte("IDEM")
	PrefixUser        = []byte("USER")
	PrefixConfig      = []byte("CONF")
	PrefixClientSession = []byte("CSES")
	PrefixGCQueue     = []byte("GCQU")
)

func be64(v uint64) []byte {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], v)
	return b[:]
}

func be32(v uint32) []byte {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], v)
	return b[:]
}

// InodeKey builds the INOD key for id: prefix ‖ inode_id(8 BE).
func InodeKey(id InodeId) []byte {
	return append(append([]byte{}, PrefixInode...), be64(uint64(id))...)
}

// DirEntryKey builds the DENT key for (parent, name): prefix ‖
// parent_inode(8 BE) ‖ name_bytes.
func DirEntryKey(parent InodeId, name string) []byte {
	k := append(append([]byte{}, PrefixDirEntry...), be64(uint64(parent))...)
	return append(k, []byte(name)...)
}

// DirEntryScanPrefix builds the prefix shared by every DENT key under
// parent, for range listing.
func DirEntryScanPrefix(parent InodeId) []byte {
	return append(append([]byte{}, PrefixDirEntry...), be64(uint64(parent))...)
}

// FileSessionKey builds the INOS key for (inode, session_uuid): prefix ‖
// inode(8 BE) ‖ session_uuid(16).
func FileSessionKey(inode InodeId, sessionUUID [16]byte) []byte {
	k := append(append([]byte{}, PrefixFileSession...), be64(uint64(inode))...)
	return append(k, sessionUUID[:]...)
}

// FileSessionScanPrefix builds the prefix shared by every session under
// inode.
func FileSessionScanPrefix(inode InodeId) []byte {
	return append(append([]byte{}, PrefixFileSession...), be64(uint64(inode))...)
}

// ChainInfoKey builds the CHIF key for chain_id: prefix ‖ chain_id(4 BE).
func ChainInfoKey(chainId uint32) []byte {
	return append(append([]byte{}, PrefixChainInfo...), be32(chainId)...)
}

// ChainTableKey builds the CHIT key for (chain_table_id, version): prefix ‖
// chain_table_id(4 BE) ‖ version(4 BE).
func ChainTableKey(tableId, version uint32) []byte {
	k := append(append([]byte{}, PrefixChainTable...), be32(tableId)...)
	return append(k, be32(version)...)
}

// TargetInfoKey builds the TGIF key for target_id: prefix ‖
// target_id(8 BE).
func TargetInfoKey(targetId uint64) []byte {
	return append(append([]byte{}, PrefixTargetInfo...), be64(targetId)...)
}

// NodeKey builds the NODE key for node_id: prefix ‖ node_id(4 BE).
func NodeKey(nodeId uint32) []byte {
	return append(append([]byte{}, PrefixNode...), be32(nodeId)...)
}

// MetaServerMapKey is the single META key holding the distributor's
// ServerMap.
func MetaServerMapKey() []byte {
	return append([]byte{}, PrefixMeta...)
}

// MetaPresenceKey builds the per-server presence marker key, "META-{node_id:08d}".
func MetaPresenceKey(nodeId uint32) []byte {
	return append(append([]byte{}, PrefixMeta...), []byte(fmt.Sprintf("-%08d", nodeId))...)
}

// MetaVersionKey is the global metadata-version key the distributor
// stamps each time it writes the ServerMap. Nothing reads it back; the
// distributor's cache compares active sets instead.
func MetaVersionKey() []byte {
	return append(append([]byte{}, PrefixMeta...), []byte("-version")...)
}

// RoutingVersionKey holds mgmtd's monotonic routing_version counter,
// bumped on every node/chain/target mutation so meta and storage
// clients can detect a stale cached RoutingInfo. Kept under the META
// prefix (rather than NODE) so a NodeScanPrefix range read never picks
// it up alongside actual node rows.
func RoutingVersionKey() []byte {
	return append(append([]byte{}, PrefixMeta...), []byte("-routing-version")...)
}

// NodeScanPrefix, ChainInfoScanPrefix, TargetInfoScanPrefix are the
// range-read prefixes for listing every row of their respective table.
func NodeScanPrefix() []byte       { return append([]byte{}, PrefixNode...) }
func ChainInfoScanPrefix() []byte  { return append([]byte{}, PrefixChainInfo...) }
func TargetInfoScanPrefix() []byte { return append([]byte{}, PrefixTargetInfo...) }

// ChainTableScanPrefix builds the prefix shared by every version of
// chain table tableId, for finding its newest version by range scan.
func ChainTableScanPrefix(tableId uint32) []byte {
	return append(append([]byte{}, PrefixChainTable...), be32(tableId)...)
}

// ClientSessionKey builds the CSES key for a client session id: prefix
// ‖ session_id bytes. Distinct from FileSessionKey (INOS), which is a
// per-inode open-file lease owned by meta; this is mgmtd's
// getClientSession/extendClientSession lease (§6), one row per
// connected client regardless of which files it has open.
func ClientSessionKey(sessionID string) []byte {
	return append(append([]byte{}, PrefixClientSession...), []byte(sessionID)...)
}

// IdempotencyKey builds the IDEM key for (request_uuid, op_tag): prefix ‖
// request_uuid(16) ‖ op_tag.
func IdempotencyKey(requestUUID [16]byte, opTag string) []byte {
	k := append(append([]byte{}, PrefixIdempotency...), requestUUID[:]...)
	return append(k, []byte(opTag)...)
}

// UserKey builds the USER key for a user/token identifier.
func UserKey(userKey string) []byte {
	return append(append([]byte{}, PrefixUser...), []byte(userKey)...)
}

// ConfigKey builds the CONF key for a dynamic config entry.
func ConfigKey(configKey string) []byte {
	return append(append([]byte{}, PrefixConfig...), []byte(configKey)...)
}

// GCQueueScanPrefix is the range-read prefix over every pending
// deletion-queue entry, ordered by the commit versionstamp each entry
// was enqueued with (oldest first), so a crash mid-drain resumes
// exactly where it left off instead of needing a separate cursor.
func GCQueueScanPrefix() []byte { return append([]byte{}, PrefixGCQueue...) }

// PrefixRangeEnd computes the exclusive end selector for a scan over every
// key sharing prefix: the prefix with its last byte incremented, carrying
// into preceding bytes as needed. A prefix of all 0xff bytes has no finite
// successor and returns nil, meaning "unbounded".
func PrefixRangeEnd(prefix []byte) []byte {
	end := append([]byte{}, prefix...)
	for i := len(end) - 1; i >= 0; i-- {
		if end[i] != 0xff {
			end[i]++
			return end[:i+1]
		}
	}
	return nil
}
