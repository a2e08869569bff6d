package kv

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"

	bolt "go.etcd.io/bbolt"
)

var (
	bucketData    = []byte("data")
	bucketVersion = []byte("versions")
	bucketMeta    = []byte("meta")
	metaKeyCommit = []byte("commit_version")
)

// BoltEngine is the durable Engine implementation: values live in a "data"
// bucket, the last commit version that touched each key lives in a
// "versions" bucket, and a single counter in "meta" assigns commit
// versions. Bolt's own View/Update model already gives snapshot-isolated
// readers and a single active writer, the same guarantees the design asks
// of a production engine; the versions bucket is the only addition needed
// to detect optimistic conflicts across the gap between a transaction's
// reads and its eventual commit. Grounded on the teacher's BoltStore
// (pkg/storage/boltdb.go): bucket-per-concern layout, db.Update/db.View
// wrapping, forward error wrapping.
type BoltEngine struct {
	db *bolt.DB
}

// NewBoltEngine opens (creating if absent) a Bolt-backed engine at path.
func NewBoltEngine(path string) (*BoltEngine, error) {
	db, err := bolt.Open(path, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("open kv bolt db: %w", err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		for _, b := range [][]byte{bucketData, bucketVersion, bucketMeta} {
			if _, err := tx.CreateBucketIfNotExists(b); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("init kv bolt buckets: %w", err)
	}
	return &BoltEngine{db: db}, nil
}

func (e *BoltEngine) Close() error { return e.db.Close() }

func currentCommitVersion(tx *bolt.Tx) int64 {
	b := tx.Bucket(bucketMeta).Get(metaKeyCommit)
	if b == nil {
		return 0
	}
	return int64(binary.BigEndian.Uint64(b))
}

func (e *BoltEngine) NewReadTransaction(ctx context.Context) (ReadTransaction, error) {
	tx, err := e.db.Begin(false)
	if err != nil {
		return nil, Wrap(CodeFatal, err, "begin bolt read transaction")
	}
	return &boltReadTxn{tx: tx, readVersion: currentCommitVersion(tx)}, nil
}

func (e *BoltEngine) NewTransaction(ctx context.Context) (ReadWriteTransaction, error) {
	tx, err := e.db.Begin(false)
	if err != nil {
		return nil, Wrap(CodeFatal, err, "begin bolt read-write transaction")
	}
	return &boltRWTxn{engine: e, tx: tx, readVersion: currentCommitVersion(tx)}, nil
}

// boltReadTxn holds a single long-lived Bolt read transaction open so every
// read it serves observes the same MVCC snapshot.
type boltReadTxn struct {
	tx          *bolt.Tx
	readVersion int64
	closed      bool
}

func (t *boltReadTxn) SnapshotGet(ctx context.Context, k []byte) ([]byte, bool, error) {
	v := t.tx.Bucket(bucketData).Get(k)
	if v == nil {
		return nil, false, nil
	}
	return append([]byte(nil), v...), true, nil
}

func (t *boltReadTxn) SnapshotGetRange(ctx context.Context, begin, end Selector, limit int) ([]KeyValue, bool, error) {
	return boltRange(t.tx, begin, end, limit)
}

func boltRange(tx *bolt.Tx, begin, end Selector, limit int) ([]KeyValue, bool, error) {
	c := tx.Bucket(bucketData).Cursor()
	var out []KeyValue
	hasMore := false

	var k, v []byte
	if begin.Key == nil {
		k, v = c.First()
	} else {
		k, v = c.Seek(begin.Key)
		if k != nil && !begin.Inclusive && bytes.Equal(k, begin.Key) {
			k, v = c.Next()
		}
	}
	for ; k != nil; k, v = c.Next() {
		if end.Key != nil {
			cmp := bytes.Compare(k, end.Key)
			if cmp > 0 || (cmp == 0 && !end.Inclusive) {
				break
			}
		}
		if limit > 0 && len(out) >= limit {
			hasMore = true
			break
		}
		out = append(out, KeyValue{Key: append([]byte(nil), k...), Value: append([]byte(nil), v...)})
	}
	return out, hasMore, nil
}

func (t *boltReadTxn) SetReadVersion(v int64) { t.readVersion = v }
func (t *boltReadTxn) ReadVersion() int64     { return t.readVersion }
func (t *boltReadTxn) Cancel() {
	if !t.closed {
		t.tx.Rollback()
		t.closed = true
	}
}

// boltRWTxn reads off a held-open read transaction (for a stable snapshot)
// and buffers writes client-side; Commit opens one short write transaction
// to validate conflicts and apply the buffered ops atomically.
type boltRWTxn struct {
	engine      *BoltEngine
	tx          *bolt.Tx // read-only, for Get/SnapshotGet/range
	readVersion int64

	ops            []stagedOp
	pendingByKey   map[string]*stagedOp
	conflictKeys   map[string]struct{}
	conflictRanges [][2][]byte
	done           bool
}

func (t *boltRWTxn) SnapshotGet(ctx context.Context, k []byte) ([]byte, bool, error) {
	if p, ok := t.pendingByKey[string(k)]; ok {
		return pendingValue(p)
	}
	v := t.tx.Bucket(bucketData).Get(k)
	if v == nil {
		return nil, false, nil
	}
	return append([]byte(nil), v...), true, nil
}

func (t *boltRWTxn) SnapshotGetRange(ctx context.Context, begin, end Selector, limit int) ([]KeyValue, bool, error) {
	return boltRange(t.tx, begin, end, limit)
}

func (t *boltRWTxn) SetReadVersion(v int64) { t.readVersion = v }
func (t *boltRWTxn) ReadVersion() int64     { return t.readVersion }
func (t *boltRWTxn) Cancel() {
	if !t.done {
		t.tx.Rollback()
		t.done = true
	}
}

func (t *boltRWTxn) Get(ctx context.Context, k []byte) ([]byte, bool, error) {
	t.AddReadConflict(k)
	return t.SnapshotGet(ctx, k)
}

func (t *boltRWTxn) GetRange(ctx context.Context, begin, end Selector, limit int) ([]KeyValue, bool, error) {
	t.AddReadConflictRange(begin.Key, end.Key)
	return t.SnapshotGetRange(ctx, begin, end, limit)
}

func (t *boltRWTxn) ensurePending() map[string]*stagedOp {
	if t.pendingByKey == nil {
		t.pendingByKey = make(map[string]*stagedOp)
	}
	return t.pendingByKey
}

func (t *boltRWTxn) Set(k, v []byte) {
	op := &stagedOp{kind: opSet, key: append([]byte(nil), k...), value: append([]byte(nil), v...)}
	t.ops = append(t.ops, *op)
	t.ensurePending()[string(k)] = op
}

func (t *boltRWTxn) Clear(k []byte) {
	op := &stagedOp{kind: opClear, key: append([]byte(nil), k...)}
	t.ops = append(t.ops, *op)
	t.ensurePending()[string(k)] = op
}

func (t *boltRWTxn) ClearRange(begin, end []byte) {
	t.ops = append(t.ops, stagedOp{kind: opClearRange, key: append([]byte(nil), begin...), rangeEnd: append([]byte(nil), end...)})
}

func (t *boltRWTxn) SetVersionstampedKey(prefix, suffix, value []byte) {
	t.ops = append(t.ops, stagedOp{
		kind:     opVersionstampedKey,
		key:      append([]byte(nil), prefix...),
		vsSuffix: append([]byte(nil), suffix...),
		value:    append([]byte(nil), value...),
	})
}

func (t *boltRWTxn) SetVersionstampedValue(key []byte, offset int, valueTemplate []byte) {
	t.ops = append(t.ops, stagedOp{
		kind:         opVersionstampedValue,
		key:          append([]byte(nil), key...),
		vsOffset:     offset,
		vsValueShape: append([]byte(nil), valueTemplate...),
	})
}

func (t *boltRWTxn) AddReadConflict(k []byte) {
	if t.conflictKeys == nil {
		t.conflictKeys = make(map[string]struct{})
	}
	t.conflictKeys[string(k)] = struct{}{}
}

func (t *boltRWTxn) AddReadConflictRange(begin, end []byte) {
	t.conflictRanges = append(t.conflictRanges, [2][]byte{
		append([]byte(nil), begin...),
		append([]byte(nil), end...),
	})
}

func (t *boltRWTxn) Commit(ctx context.Context) (Versionstamp, error) {
	if t.done {
		return Versionstamp{}, NewError(CodeInvalidArgument, "transaction already finalized")
	}
	t.tx.Rollback() // release the read snapshot before taking the writer slot

	wtx, err := t.engine.db.Begin(true)
	if err != nil {
		t.done = true
		return Versionstamp{}, Wrap(CodeFatal, err, "begin bolt commit transaction")
	}

	versions := wtx.Bucket(bucketVersion)
	conflict := func(k []byte) bool {
		v := versions.Get(k)
		if v == nil {
			return false
		}
		return int64(binary.BigEndian.Uint64(v)) > t.readVersion
	}

	for k := range t.conflictKeys {
		if conflict([]byte(k)) {
			wtx.Rollback()
			t.done = true
			return Versionstamp{}, NewError(CodeConflict, "key %x modified since read version", k)
		}
	}
	for _, r := range t.conflictRanges {
		c := versions.Cursor()
		for k, v := c.Seek(r[0]); k != nil && bytes.Compare(k, r[1]) < 0; k, v = c.Next() {
			if int64(binary.BigEndian.Uint64(v)) > t.readVersion {
				wtx.Rollback()
				t.done = true
				return Versionstamp{}, NewError(CodeConflict, "range [%x,%x) modified since read version", r[0], r[1])
			}
		}
	}

	newVersion := currentCommitVersion(wtx) + 1
	vs := Versionstamp{CommitVersion: uint64(newVersion), Seq: 0}
	stamp := vs.Encode()

	data := wtx.Bucket(bucketData)
	verBytes := make([]byte, 8)
	binary.BigEndian.PutUint64(verBytes, uint64(newVersion))
	markWritten := func(k []byte) error { return versions.Put(k, verBytes) }

	var seq uint16
	for _, op := range t.ops {
		switch op.kind {
		case opSet:
			if err := data.Put(op.key, op.value); err != nil {
				wtx.Rollback()
				return Versionstamp{}, Wrap(CodeFatal, err, "put")
			}
			if err := markWritten(op.key); err != nil {
				wtx.Rollback()
				return Versionstamp{}, Wrap(CodeFatal, err, "mark version")
			}
		case opClear:
			if err := data.Delete(op.key); err != nil {
				wtx.Rollback()
				return Versionstamp{}, Wrap(CodeFatal, err, "delete")
			}
			if err := markWritten(op.key); err != nil {
				wtx.Rollback()
				return Versionstamp{}, Wrap(CodeFatal, err, "mark version")
			}
		case opClearRange:
			c := data.Cursor()
			var dead [][]byte
			for k, _ := c.Seek(op.key); k != nil && bytes.Compare(k, op.rangeEnd) < 0; k, _ = c.Next() {
				dead = append(dead, append([]byte(nil), k...))
			}
			for _, k := range dead {
				if err := data.Delete(k); err != nil {
					wtx.Rollback()
					return Versionstamp{}, Wrap(CodeFatal, err, "delete range member")
				}
				if err := markWritten(k); err != nil {
					wtx.Rollback()
					return Versionstamp{}, Wrap(CodeFatal, err, "mark version")
				}
			}
		case opVersionstampedKey:
			perOp := Versionstamp{CommitVersion: uint64(newVersion), Seq: seq}
			seq++
			s := perOp.Encode()
			key := append(append(append([]byte(nil), op.key...), s[:]...), op.vsSuffix...)
			if err := data.Put(key, op.value); err != nil {
				wtx.Rollback()
				return Versionstamp{}, Wrap(CodeFatal, err, "put versionstamped key")
			}
			if err := markWritten(key); err != nil {
				wtx.Rollback()
				return Versionstamp{}, Wrap(CodeFatal, err, "mark version")
			}
		case opVersionstampedValue:
			val := append([]byte(nil), op.vsValueShape...)
			copy(val[op.vsOffset:op.vsOffset+VersionstampLen], stamp[:])
			if err := data.Put(op.key, val); err != nil {
				wtx.Rollback()
				return Versionstamp{}, Wrap(CodeFatal, err, "put versionstamped value")
			}
			if err := markWritten(op.key); err != nil {
				wtx.Rollback()
				return Versionstamp{}, Wrap(CodeFatal, err, "mark version")
			}
		}
	}

	if err := wtx.Bucket(bucketMeta).Put(metaKeyCommit, verBytes); err != nil {
		wtx.Rollback()
		return Versionstamp{}, Wrap(CodeFatal, err, "bump commit version")
	}
	if err := wtx.Commit(); err != nil {
		t.done = true
		return Versionstamp{}, Wrap(CodeMaybeCommitted, err, "bolt commit")
	}
	t.done = true
	return vs, nil
}

func (t *boltRWTxn) Reset() {
	t.tx.Rollback()
	tx, err := t.engine.db.Begin(false)
	if err != nil {
		// Leave the transaction unusable; callers treat Reset as
		// best-effort and will observe failures on the next op.
		return
	}
	t.tx = tx
	t.readVersion = currentCommitVersion(tx)
	t.ops = nil
	t.pendingByKey = nil
	t.conflictKeys = nil
	t.conflictRanges = nil
	t.done = false
}
