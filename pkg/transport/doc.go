// Package transport is the opaque request/response fabric spec.md §6/§9
// leaves to an external collaborator. It defines the Transport contract
// every FFS daemon and client speaks, plus two concrete implementations:
// Local, an in-process registry for deterministic tests, and TCP, a
// length-prefixed gob transport for real multi-process deployments.
// RDMA selection and scatter-gather buffers stay out of scope; TCP is
// the "else TCP" fallback path the spec always takes here.
package transport
