// Package routing holds the cluster map every component downstream of
// mgmtd consults: node set, chain table, chain info, target info, bundled
// into a single monotonically versioned RoutingInfo. mgmtd is the only
// writer; the metadata server and storage target daemons read it
// through Cache, a single-writer/many-reader cache that refreshes
// atomically (§5's "Routing cache: single writer (refresher), many
// readers" shared-resource policy).
package routing
