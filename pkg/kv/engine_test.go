package kv

import (
	"context"
	"testing"
)

// runEngineConformance exercises the same sequence of operations against
// any Engine implementation, so memkv_test.go and bolt_test.go each just
// supply a constructor.
func runEngineConformance(t *testing.T, newEngine func(t *testing.T) Engine) {
	t.Run("SetThenGet", func(t *testing.T) {
		e := newEngine(t)
		defer e.Close()
		ctx := context.Background()

		txn, err := e.NewTransaction(ctx)
		if err != nil {
			t.Fatalf("NewTransaction: %v", err)
		}
		txn.Set([]byte("a"), []byte("1"))
		if _, err := txn.Commit(ctx); err != nil {
			t.Fatalf("Commit: %v", err)
		}

		rtxn, err := e.NewReadTransaction(ctx)
		if err != nil {
			t.Fatalf("NewReadTransaction: %v", err)
		}
		defer rtxn.Cancel()
		v, ok, err := rtxn.SnapshotGet(ctx, []byte("a"))
		if err != nil || !ok {
			t.Fatalf("SnapshotGet: v=%v ok=%v err=%v", v, ok, err)
		}
		if string(v) != "1" {
			t.Fatalf("got %q want %q", v, "1")
		}
	})

	t.Run("ReadYourWrites", func(t *testing.T) {
		e := newEngine(t)
		defer e.Close()
		ctx := context.Background()

		txn, _ := e.NewTransaction(ctx)
		txn.Set([]byte("k"), []byte("v1"))
		v, ok, err := txn.SnapshotGet(ctx, []byte("k"))
		if err != nil || !ok || string(v) != "v1" {
			t.Fatalf("expected uncommitted write visible within own transaction, got v=%v ok=%v err=%v", v, ok, err)
		}
		txn.Cancel()
	})

	t.Run("ClearRemovesKey", func(t *testing.T) {
		e := newEngine(t)
		defer e.Close()
		ctx := context.Background()

		txn, _ := e.NewTransaction(ctx)
		txn.Set([]byte("k"), []byte("v"))
		if _, err := txn.Commit(ctx); err != nil {
			t.Fatalf("Commit: %v", err)
		}

		txn2, _ := e.NewTransaction(ctx)
		txn2.Clear([]byte("k"))
		if _, err := txn2.Commit(ctx); err != nil {
			t.Fatalf("Commit clear: %v", err)
		}

		rtxn, _ := e.NewReadTransaction(ctx)
		defer rtxn.Cancel()
		_, ok, _ := rtxn.SnapshotGet(ctx, []byte("k"))
		if ok {
			t.Fatalf("expected key to be absent after Clear+Commit")
		}
	})

	t.Run("GetRangeOrderedAndBounded", func(t *testing.T) {
		e := newEngine(t)
		defer e.Close()
		ctx := context.Background()

		txn, _ := e.NewTransaction(ctx)
		for _, k := range []string{"b", "a", "c", "d"} {
			txn.Set([]byte(k), []byte(k))
		}
		if _, err := txn.Commit(ctx); err != nil {
			t.Fatalf("Commit: %v", err)
		}

		rtxn, _ := e.NewReadTransaction(ctx)
		defer rtxn.Cancel()
		kvs, hasMore, err := rtxn.SnapshotGetRange(ctx, Key([]byte("a")), KeyExclusive([]byte("d")), 0)
		if err != nil {
			t.Fatalf("SnapshotGetRange: %v", err)
		}
		if hasMore {
			t.Fatalf("did not expect hasMore with no limit")
		}
		want := []string{"a", "b", "c"}
		if len(kvs) != len(want) {
			t.Fatalf("got %d entries want %d: %+v", len(kvs), len(want), kvs)
		}
		for i, kv := range kvs {
			if string(kv.Key) != want[i] {
				t.Fatalf("entry %d: got key %q want %q", i, kv.Key, want[i])
			}
		}
	})

	t.Run("GetRangeLimitReportsHasMore", func(t *testing.T) {
		e := newEngine(t)
		defer e.Close()
		ctx := context.Background()

		txn, _ := e.NewTransaction(ctx)
		for _, k := range []string{"a", "b", "c"} {
			txn.Set([]byte(k), []byte(k))
		}
		if _, err := txn.Commit(ctx); err != nil {
			t.Fatalf("Commit: %v", err)
		}

		rtxn, _ := e.NewReadTransaction(ctx)
		defer rtxn.Cancel()
		kvs, hasMore, err := rtxn.SnapshotGetRange(ctx, Key([]byte("a")), KeyExclusive([]byte("z")), 2)
		if err != nil {
			t.Fatalf("SnapshotGetRange: %v", err)
		}
		if !hasMore {
			t.Fatalf("expected hasMore with limit smaller than result set")
		}
		if len(kvs) != 2 {
			t.Fatalf("got %d entries want 2", len(kvs))
		}
	})

	t.Run("ConflictingWritesOneWins", func(t *testing.T) {
		e := newEngine(t)
		defer e.Close()
		ctx := context.Background()

		seed, _ := e.NewTransaction(ctx)
		seed.Set([]byte("shared"), []byte("0"))
		if _, err := seed.Commit(ctx); err != nil {
			t.Fatalf("seed commit: %v", err)
		}

		t1, err := e.NewTransaction(ctx)
		if err != nil {
			t.Fatalf("NewTransaction t1: %v", err)
		}
		t2, err := e.NewTransaction(ctx)
		if err != nil {
			t.Fatalf("NewTransaction t2: %v", err)
		}

		if _, _, err := t1.Get(ctx, []byte("shared")); err != nil {
			t.Fatalf("t1 Get: %v", err)
		}
		if _, _, err := t2.Get(ctx, []byte("shared")); err != nil {
			t.Fatalf("t2 Get: %v", err)
		}
		t1.Set([]byte("shared"), []byte("1"))
		t2.Set([]byte("shared"), []byte("2"))

		_, err1 := t1.Commit(ctx)
		_, err2 := t2.Commit(ctx)

		if err1 != nil && err2 != nil {
			t.Fatalf("expected exactly one of the two conflicting transactions to commit, both failed: %v / %v", err1, err2)
		}
		if err1 == nil && err2 == nil {
			t.Fatalf("expected exactly one of the two conflicting transactions to fail with Conflict")
		}
		loser := err1
		if loser == nil {
			loser = err2
		}
		if CodeOf(loser) != CodeConflict {
			t.Fatalf("expected loser to fail with CodeConflict, got %v", loser)
		}
	})

	t.Run("DisjointWritesBothCommit", func(t *testing.T) {
		e := newEngine(t)
		defer e.Close()
		ctx := context.Background()

		t1, _ := e.NewTransaction(ctx)
		t2, _ := e.NewTransaction(ctx)
		t1.Set([]byte("x"), []byte("1"))
		t2.Set([]byte("y"), []byte("2"))

		if _, err := t1.Commit(ctx); err != nil {
			t.Fatalf("t1 commit: %v", err)
		}
		if _, err := t2.Commit(ctx); err != nil {
			t.Fatalf("t2 commit: %v", err)
		}
	})

	t.Run("VersionstampedKeyOrdersAfterPriorCommits", func(t *testing.T) {
		e := newEngine(t)
		defer e.Close()
		ctx := context.Background()

		txn, _ := e.NewTransaction(ctx)
		txn.SetVersionstampedKey([]byte("log/"), nil, []byte("first"))
		vs1, err := txn.Commit(ctx)
		if err != nil {
			t.Fatalf("commit 1: %v", err)
		}

		txn2, _ := e.NewTransaction(ctx)
		txn2.SetVersionstampedKey([]byte("log/"), nil, []byte("second"))
		vs2, err := txn2.Commit(ctx)
		if err != nil {
			t.Fatalf("commit 2: %v", err)
		}

		if !vs1.Less(vs2) {
			t.Fatalf("expected vs1 < vs2, got %+v then %+v", vs1, vs2)
		}

		rtxn, _ := e.NewReadTransaction(ctx)
		defer rtxn.Cancel()
		kvs, _, err := rtxn.SnapshotGetRange(ctx, Key([]byte("log/")), KeyExclusive([]byte("log0")), 0)
		if err != nil {
			t.Fatalf("range: %v", err)
		}
		if len(kvs) != 2 {
			t.Fatalf("got %d entries want 2", len(kvs))
		}
		if string(kvs[0].Value) != "first" || string(kvs[1].Value) != "second" {
			t.Fatalf("expected keys ordered by versionstamp, got %q then %q", kvs[0].Value, kvs[1].Value)
		}
	})

	t.Run("VersionstampedValueEmbedsStamp", func(t *testing.T) {
		e := newEngine(t)
		defer e.Close()
		ctx := context.Background()

		template := make([]byte, VersionstampLen+4)
		copy(template[VersionstampLen:], []byte("tail"))

		txn, _ := e.NewTransaction(ctx)
		txn.SetVersionstampedValue([]byte("marker"), 0, template)
		vs, err := txn.Commit(ctx)
		if err != nil {
			t.Fatalf("commit: %v", err)
		}

		rtxn, _ := e.NewReadTransaction(ctx)
		defer rtxn.Cancel()
		v, ok, err := rtxn.SnapshotGet(ctx, []byte("marker"))
		if err != nil || !ok {
			t.Fatalf("SnapshotGet marker: ok=%v err=%v", ok, err)
		}
		got, ok := DecodeVersionstamp(v[:VersionstampLen])
		if !ok {
			t.Fatalf("expected a valid embedded versionstamp")
		}
		if got != vs {
			t.Fatalf("embedded stamp %+v does not match commit stamp %+v", got, vs)
		}
		if string(v[VersionstampLen:]) != "tail" {
			t.Fatalf("expected trailing template bytes preserved, got %q", v[VersionstampLen:])
		}
	})

	t.Run("ReadTransactionIsolatedFromLaterWrites", func(t *testing.T) {
		e := newEngine(t)
		defer e.Close()
		ctx := context.Background()

		seed, _ := e.NewTransaction(ctx)
		seed.Set([]byte("k"), []byte("before"))
		if _, err := seed.Commit(ctx); err != nil {
			t.Fatalf("seed: %v", err)
		}

		rtxn, err := e.NewReadTransaction(ctx)
		if err != nil {
			t.Fatalf("NewReadTransaction: %v", err)
		}
		defer rtxn.Cancel()

		writer, _ := e.NewTransaction(ctx)
		writer.Set([]byte("k"), []byte("after"))
		if _, err := writer.Commit(ctx); err != nil {
			t.Fatalf("writer commit: %v", err)
		}

		v, ok, err := rtxn.SnapshotGet(ctx, []byte("k"))
		if err != nil || !ok {
			t.Fatalf("SnapshotGet: ok=%v err=%v", ok, err)
		}
		if string(v) != "before" {
			t.Fatalf("expected snapshot isolation to hide later commit, got %q", v)
		}
	})
}
