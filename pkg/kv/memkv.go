package kv

import (
	"bytes"
	"context"
	"sort"
	"sync"
)

// opKind enumerates the staged mutations a transaction can carry into
// commit.
type opKind int

const (
	opSet opKind = iota
	opClear
	opClearRange
	opVersionstampedKey
	opVersionstampedValue
)

type stagedOp struct {
	kind         opKind
	key          []byte
	value        []byte
	rangeEnd     []byte // opClearRange
	vsSuffix     []byte // opVersionstampedKey: key = prefix(=key) ++ versionstamp ++ suffix
	vsOffset     int    // opVersionstampedValue: offset of the stamp inside value template
	vsValueShape []byte // opVersionstampedValue: the value template
}

// historyEntry records exactly which keys and ranges a committed
// transaction wrote, so later-starting transactions can test their
// read-conflict sets against it.
type historyEntry struct {
	version int64
	keys    [][]byte
	ranges  [][2][]byte
}

// MemoryEngine is the single-process reference Engine: a coarse mutex
// guarding a plain map, a monotonic commit counter, and an append-only
// conflict history. Every read-only or read-write transaction observes an
// immutable clone of the committed map taken at Begin, giving true snapshot
// isolation without per-key version chains. Grounded on the write-set
// conflict tracking in the cowbtree/mvcc reference (checkWriteConflict /
// registerWrite) and the revision-bump commit pattern in etcd's mvcc store.
type MemoryEngine struct {
	mu      sync.Mutex
	data    map[string][]byte
	version int64
	history []historyEntry
}

// NewMemoryEngine creates an empty in-memory engine.
func NewMemoryEngine() *MemoryEngine {
	return &MemoryEngine{data: make(map[string][]byte)}
}

func (e *MemoryEngine) snapshot() (map[string][]byte, int64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	clone := make(map[string][]byte, len(e.data))
	for k, v := range e.data {
		clone[k] = v
	}
	return clone, e.version
}

func (e *MemoryEngine) NewReadTransaction(ctx context.Context) (ReadTransaction, error) {
	snap, ver := e.snapshot()
	return &memTxn{engine: e, snap: snap, readVersion: ver}, nil
}

func (e *MemoryEngine) NewTransaction(ctx context.Context) (ReadWriteTransaction, error) {
	snap, ver := e.snapshot()
	return &memTxn{engine: e, snap: snap, readVersion: ver, readWrite: true}, nil
}

func (e *MemoryEngine) Close() error { return nil }

// memTxn implements both ReadTransaction and ReadWriteTransaction; the
// read-only factory simply never calls the write-only methods.
type memTxn struct {
	engine      *MemoryEngine
	snap        map[string][]byte
	readVersion int64
	readWrite   bool

	ops            []stagedOp
	pendingByKey   map[string]*stagedOp // last write per exact key, for read-your-writes
	conflictKeys   map[string]struct{}
	conflictRanges [][2][]byte
	done           bool
}

func (t *memTxn) ensurePending() map[string]*stagedOp {
	if t.pendingByKey == nil {
		t.pendingByKey = make(map[string]*stagedOp)
	}
	return t.pendingByKey
}

func (t *memTxn) SnapshotGet(ctx context.Context, k []byte) ([]byte, bool, error) {
	if p, ok := t.pendingByKey[string(k)]; ok {
		return pendingValue(p)
	}
	v, ok := t.snap[string(k)]
	return v, ok, nil
}

func pendingValue(p *stagedOp) ([]byte, bool, error) {
	switch p.kind {
	case opSet:
		return p.value, true, nil
	case opClear:
		return nil, false, nil
	default:
		// Versionstamped writes are not resolvable before commit.
		return nil, false, nil
	}
}

func (t *memTxn) SnapshotGetRange(ctx context.Context, begin, end Selector, limit int) ([]KeyValue, bool, error) {
	return t.rangeRead(begin, end, limit)
}

func (t *memTxn) rangeRead(begin, end Selector, limit int) ([]KeyValue, bool, error) {
	keys := make([]string, 0, len(t.snap))
	for k := range t.snap {
		keys = append(keys, k)
	}
	for k, p := range t.pendingByKey {
		if _, already := t.snap[k]; !already && p.kind == opSet {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	inRange := func(k string) bool {
		if begin.Key != nil {
			c := bytes.Compare([]byte(k), begin.Key)
			if c < 0 || (c == 0 && !begin.Inclusive) {
				return false
			}
		}
		if end.Key != nil {
			c := bytes.Compare([]byte(k), end.Key)
			if c > 0 || (c == 0 && !end.Inclusive) {
				return false
			}
		}
		return true
	}

	var out []KeyValue
	hasMore := false
	for _, k := range keys {
		if !inRange(k) {
			continue
		}
		v, ok, _ := t.SnapshotGet(nil, []byte(k))
		if !ok {
			continue
		}
		if limit > 0 && len(out) >= limit {
			hasMore = true
			break
		}
		out = append(out, KeyValue{Key: []byte(k), Value: v})
	}
	return out, hasMore, nil
}

func (t *memTxn) SetReadVersion(v int64) { t.readVersion = v }
func (t *memTxn) ReadVersion() int64     { return t.readVersion }
func (t *memTxn) Cancel()                { t.done = true }

func (t *memTxn) Get(ctx context.Context, k []byte) ([]byte, bool, error) {
	t.AddReadConflict(k)
	return t.SnapshotGet(ctx, k)
}

func (t *memTxn) GetRange(ctx context.Context, begin, end Selector, limit int) ([]KeyValue, bool, error) {
	t.AddReadConflictRange(begin.Key, end.Key)
	return t.rangeRead(begin, end, limit)
}

func (t *memTxn) Set(k, v []byte) {
	op := &stagedOp{kind: opSet, key: append([]byte(nil), k...), value: append([]byte(nil), v...)}
	t.ops = append(t.ops, *op)
	t.ensurePending()[string(k)] = op
}

func (t *memTxn) Clear(k []byte) {
	op := &stagedOp{kind: opClear, key: append([]byte(nil), k...)}
	t.ops = append(t.ops, *op)
	t.ensurePending()[string(k)] = op
}

func (t *memTxn) ClearRange(begin, end []byte) {
	t.ops = append(t.ops, stagedOp{kind: opClearRange, key: append([]byte(nil), begin...), rangeEnd: append([]byte(nil), end...)})
}

func (t *memTxn) SetVersionstampedKey(prefix, suffix, value []byte) {
	t.ops = append(t.ops, stagedOp{
		kind:     opVersionstampedKey,
		key:      append([]byte(nil), prefix...),
		vsSuffix: append([]byte(nil), suffix...),
		value:    append([]byte(nil), value...),
	})
}

func (t *memTxn) SetVersionstampedValue(key []byte, offset int, valueTemplate []byte) {
	t.ops = append(t.ops, stagedOp{
		kind:         opVersionstampedValue,
		key:          append([]byte(nil), key...),
		vsOffset:     offset,
		vsValueShape: append([]byte(nil), valueTemplate...),
	})
}

func (t *memTxn) AddReadConflict(k []byte) {
	if t.conflictKeys == nil {
		t.conflictKeys = make(map[string]struct{})
	}
	t.conflictKeys[string(k)] = struct{}{}
}

func (t *memTxn) AddReadConflictRange(begin, end []byte) {
	t.conflictRanges = append(t.conflictRanges, [2][]byte{
		append([]byte(nil), begin...),
		append([]byte(nil), end...),
	})
}

// Commit validates the read-conflict set against everything committed since
// readVersion, then applies the staged ops atomically under the engine
// lock.
func (t *memTxn) Commit(ctx context.Context) (Versionstamp, error) {
	if t.done {
		return Versionstamp{}, NewError(CodeInvalidArgument, "transaction already finalized")
	}
	t.engine.mu.Lock()
	defer t.engine.mu.Unlock()

	for _, h := range t.engine.history {
		if h.version <= t.readVersion {
			continue
		}
		if t.conflicts(h) {
			t.done = true
			return Versionstamp{}, NewError(CodeConflict, "read set modified by a later commit")
		}
	}

	newVersion := t.engine.version + 1
	vs := Versionstamp{CommitVersion: uint64(newVersion), Seq: 0}
	stamp := vs.Encode()

	var writtenKeys [][]byte
	var writtenRanges [][2][]byte
	var seq uint16
	for _, op := range t.ops {
		switch op.kind {
		case opSet:
			t.engine.data[string(op.key)] = op.value
			writtenKeys = append(writtenKeys, op.key)
		case opClear:
			delete(t.engine.data, string(op.key))
			writtenKeys = append(writtenKeys, op.key)
		case opClearRange:
			for k := range t.engine.data {
				if bytes.Compare([]byte(k), op.key) >= 0 && bytes.Compare([]byte(k), op.rangeEnd) < 0 {
					delete(t.engine.data, k)
				}
			}
			writtenRanges = append(writtenRanges, [2][]byte{op.key, op.rangeEnd})
		case opVersionstampedKey:
			perOp := Versionstamp{CommitVersion: uint64(newVersion), Seq: seq}
			seq++
			s := perOp.Encode()
			key := append(append(append([]byte(nil), op.key...), s[:]...), op.vsSuffix...)
			t.engine.data[string(key)] = op.value
			writtenKeys = append(writtenKeys, key)
		case opVersionstampedValue:
			val := append([]byte(nil), op.vsValueShape...)
			copy(val[op.vsOffset:op.vsOffset+VersionstampLen], stamp[:])
			t.engine.data[string(op.key)] = val
			writtenKeys = append(writtenKeys, op.key)
		}
	}

	t.engine.version = newVersion
	t.engine.history = append(t.engine.history, historyEntry{version: newVersion, keys: writtenKeys, ranges: writtenRanges})
	t.done = true
	return vs, nil
}

func (t *memTxn) conflicts(h historyEntry) bool {
	for k := range t.conflictKeys {
		for _, wk := range h.keys {
			if string(wk) == k {
				return true
			}
		}
		for _, r := range h.ranges {
			if bytes.Compare([]byte(k), r[0]) >= 0 && bytes.Compare([]byte(k), r[1]) < 0 {
				return true
			}
		}
	}
	for _, cr := range t.conflictRanges {
		for _, wk := range h.keys {
			if bytes.Compare(wk, cr[0]) >= 0 && bytes.Compare(wk, cr[1]) < 0 {
				return true
			}
		}
		for _, r := range h.ranges {
			if rangesOverlap(cr, r) {
				return true
			}
		}
	}
	return false
}

func rangesOverlap(a, b [2][]byte) bool {
	return bytes.Compare(a[0], b[1]) < 0 && bytes.Compare(b[0], a[1]) < 0
}

// Reset discards staged writes and conflict sets and re-snapshots at the
// current commit version, letting a retry loop reuse the same handle.
func (t *memTxn) Reset() {
	snap, ver := t.engine.snapshot()
	t.snap = snap
	t.readVersion = ver
	t.ops = nil
	t.pendingByKey = nil
	t.conflictKeys = nil
	t.conflictRanges = nil
	t.done = false
}
