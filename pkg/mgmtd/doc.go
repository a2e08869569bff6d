// Package mgmtd implements C4: the cluster manager. A handful of mgmtd
// replicas run hashicorp/raft, and the raft log is the primary's actual
// consensus mechanism: every mutation to the cluster's RoutingInfo (node
// set, chain tables, chain info, target info) goes through raft.Apply and
// is replayed into an in-memory FSM on every replica, the same way the
// teacher's WarrenFSM replicates its own cluster state. The elected raft
// leader is mgmtd's primary and the only process allowed to run the
// control loops (HeartbeatChecker, ChainsUpdater) that originate new
// mutations; a follower applies the same log and so can serve any read
// straight out of its own FSM without ever forwarding to the leader,
// matching spec.md's "followers tail state read-only" requirement.
//
// The shared kv.Engine is not a second source of truth. TargetInfoPersister
// periodically checkpoints the FSM's RoutingInfo into the NODE, CHIF,
// CHIT, and TGIF prefixes so a process that isn't a raft cluster member
// (meta, a storage target, an operator tool) can read routing state
// without speaking the raft RPC protocol; TargetInfoLoader reconstructs a
// RoutingInfo from that mirror, and nothing in mgmtd seeds its FSM from
// it. If the checkpoint and the raft log ever disagree, the log wins.
//
// Client session leases (getClientSession/extendClientSession) are the
// one piece of mgmtd state that deliberately bypasses raft: they are
// stored directly in the shared kv.Engine, the same OCC idiom C5's
// distributor uses, because they are renewed far more often than routing
// state changes and tolerate a lost write on failover better than node or
// chain placement does.
package mgmtd
