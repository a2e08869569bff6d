// Package storagetarget implements §4.7: one process hosts one or more
// targets, each a role holder (HEAD/MIDDLE/TAIL) within zero or more
// replication chains. Two design choices drive the rest of the package.
//
// First, the local chunk store is split in two: chunk bytes live as
// plain files under a base directory (one file per ChunkId, grounded on
// pkg/volume/local.go's per-id directory layout), while the small
// per-chunk metadata — chain version, chunk version, checksum, the
// uncommitted flag — lives in a bbolt side table, grounded on
// pkg/storage/boltdb.go's bucket-per-concern layout. The two halves
// share a commit: a chunk's bytes are never observable as committed
// before its metadata record says so.
//
// Second, CRAQ's chain propagation is expressed as two RPCs a target
// issues to its neighbors rather than a bespoke streaming protocol:
// forwardUpdate carries an in-flight write one hop toward the tail,
// commitUpdate carries the resulting commit acknowledgement one hop
// back toward the head. A target's role in the chain (computed from
// RoutingInfo, not stored locally) decides which of the two it issues
// next.
package storagetarget
