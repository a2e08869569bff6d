// Package meta implements C6: the stateless metadata server. Every
// mutating request is dispatched through dispatch.go's authenticate /
// validate / responsible-server-check / forward-once sequence (§4.6),
// then folded into a per-inode batch committed as one kv.Engine
// transaction by batch.go's baton runner. ops.go holds the per-operation
// semantics; idempotency.go and gc.go implement the IDEM short-circuit
// and the crash-safe deletion queue §4.6 names.
//
// A meta.Server owns no durable state of its own: every inode, dirent,
// and file session it touches lives in the shared kv.Engine (C1),
// addressed through pkg/schema (C2) and assigned to this process by
// pkg/distributor (C5). Grounded throughout on pkg/distributor and
// pkg/mgmtd's existing split between a thin RPC-facing layer and the
// typed Go methods that do the actual work.
package meta
