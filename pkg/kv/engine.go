package kv

import "context"

// KeyValue is a single key/value pair returned by a range read.
type KeyValue struct {
	Key   []byte
	Value []byte
}

// Selector names a range boundary: the key itself, plus whether that key is
// included in the range. This is the "assumed {key, inclusive:bool} only"
// resolution of the open question in the design around FoundationDB-style
// key selectors (no orEqual/offset richness).
type Selector struct {
	Key       []byte
	Inclusive bool
}

// Key builds an inclusive selector at k, the common case.
func Key(k []byte) Selector { return Selector{Key: k, Inclusive: true} }

// KeyExclusive builds an exclusive selector at k.
func KeyExclusive(k []byte) Selector { return Selector{Key: k, Inclusive: false} }

// ReadTransaction is the subset of operations available on both read-only
// and read-write handles.
type ReadTransaction interface {
	// SnapshotGet reads k without recording a read-conflict point.
	SnapshotGet(ctx context.Context, k []byte) ([]byte, bool, error)
	// SnapshotGetRange reads [begin,end) without recording a conflict
	// range. hasMore is true when limit cut the result short.
	SnapshotGetRange(ctx context.Context, begin, end Selector, limit int) (kvs []KeyValue, hasMore bool, err error)
	// SetReadVersion pins the snapshot this transaction observes.
	SetReadVersion(v int64)
	// ReadVersion returns the version this transaction is reading at.
	ReadVersion() int64
	// Cancel releases the transaction without committing.
	Cancel()
}

// ReadWriteTransaction adds conflict-tracked reads, writes, and commit.
type ReadWriteTransaction interface {
	ReadTransaction

	// Get reads k and adds k to the read-conflict set.
	Get(ctx context.Context, k []byte) ([]byte, bool, error)
	// GetRange reads [begin,end) and adds the range to the read-conflict
	// set.
	GetRange(ctx context.Context, begin, end Selector, limit int) (kvs []KeyValue, hasMore bool, err error)

	// Set stages k=v.
	Set(k, v []byte)
	// Clear stages removal of k.
	Clear(k []byte)
	// ClearRange stages removal of every key in [begin,end).
	ClearRange(begin, end []byte)

	// SetVersionstampedKey stages a write whose key is prefix followed by
	// the 10-byte commit versionstamp, followed by any bytes in suffix.
	// meta's GC deletion queue relies on this to produce a key that sorts
	// after every key written by an earlier transaction.
	SetVersionstampedKey(prefix []byte, suffix []byte, value []byte)
	// SetVersionstampedValue stages a write whose value is the 10-byte
	// commit versionstamp inserted at byte offset in an otherwise fixed
	// value, used for the Distributor's presence markers.
	SetVersionstampedValue(key []byte, offset int, valueTemplate []byte)

	// AddReadConflict declares a read-conflict point on k without
	// actually reading it (used when ownership was already verified by
	// another means but the caller still wants commit-time protection).
	AddReadConflict(k []byte)
	// AddReadConflictRange declares a read-conflict range.
	AddReadConflictRange(begin, end []byte)

	// Commit attempts to commit the transaction, returning the assigned
	// versionstamp on success or a classified *Error on failure
	// (CodeConflict, CodeMaybeCommitted, ...).
	Commit(ctx context.Context) (Versionstamp, error)
	// Reset discards all reads/writes recorded so far and restarts the
	// transaction at a fresh read version, for retry loops that want to
	// reuse the handle.
	Reset()
}

// Engine is the factory every metadata-plane component depends on.
type Engine interface {
	NewReadTransaction(ctx context.Context) (ReadTransaction, error)
	NewTransaction(ctx context.Context) (ReadWriteTransaction, error)
	Close() error
}
