// Package storageclient implements §4.8: turning an inode-level I/O
// request into chunk-addressed sub-ops against storage targets, and
// everything that makes that reliable — per-node batching, bounded
// pipelining, chain-aware retry, and a stable update_id every write
// carries, identical across retries of the same sub-op. The storage
// target's Write does not check update_id for duplicates: a retried
// sub-op is applied again, rewriting the same bytes at the same offset
// under a new chunk version.
//
// A Client never talks to a chunk store directly; every sub-op is one
// pkg/storagetarget RPC (write, read, batchWrite, batchRead,
// removeChunks), grouped by destination node the same way §4.8 groups
// them: one RPC per (node, batch) rather than one per chunk.
package storageclient
