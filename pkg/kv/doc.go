// Package kv defines the transactional key/value engine contract that the
// metadata plane is built on: read-only and read-write transactions over
// binary-safe, lexicographically ordered keys, with serializable commits,
// snapshot-isolated reads, and versionstamp assignment at commit time.
//
// Two implementations ship. Memory is a single-process engine backed by a
// Go map (sorted on each range read) and a coarse commit lock, intended for tests and the seed
// scenarios. Bolt is a durable engine layered on go.etcd.io/bbolt, using
// Bolt's native single-writer/snapshot-reader model for isolation and an
// explicit per-key version side-index for optimistic conflict detection on
// read-write transactions that span more than one Bolt update.
//
// Neither implementation is the production engine the design assumes exists
// (e.g. FoundationDB); they are the two concrete instances this repo needs
// to exercise every other component end-to-end.
package kv
