// Package distributor implements C5: decentralized meta-server
// assignment by consistent hashing over a shared-KV presence registry,
// with no dedicated coordinator. Every metadata-server process runs
// one Distributor against the same kv.Engine; each independently
// derives the same responsible_server(inode) answer from the same
// versionstamped state.
package distributor
