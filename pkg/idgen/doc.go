// Package idgen allocates InodeIds: a dense, persisted counter that never
// reuses a value within a generation. The first allocation against a
// store with no generation record writes generation 0, and nothing in
// this package changes it afterwards, so a generation lasts the lifetime
// of the metadata store.
package idgen
