package kv

import (
	"context"
	"testing"
	"time"
)

func fastRetryPolicy() RetryPolicy {
	return RetryPolicy{Initial: time.Millisecond, Max: 5 * time.Millisecond, Total: 500 * time.Millisecond}
}

func TestRunTransactionCommitsOnFirstTry(t *testing.T) {
	e := NewMemoryEngine()
	defer e.Close()

	vs, err := RunTransaction(context.Background(), e, fastRetryPolicy(), false, func(ctx context.Context, txn ReadWriteTransaction) error {
		txn.Set([]byte("k"), []byte("v"))
		return nil
	})
	if err != nil {
		t.Fatalf("RunTransaction: %v", err)
	}
	if vs.CommitVersion == 0 {
		t.Fatalf("expected a non-zero commit version")
	}
}

func TestRunTransactionRetriesOnConflictThenSucceeds(t *testing.T) {
	e := NewMemoryEngine()
	defer e.Close()
	ctx := context.Background()

	seed, _ := e.NewTransaction(ctx)
	seed.Set([]byte("shared"), []byte("0"))
	if _, err := seed.Commit(ctx); err != nil {
		t.Fatalf("seed: %v", err)
	}

	attempts := 0
	_, err := RunTransaction(ctx, e, fastRetryPolicy(), false, func(ctx context.Context, txn ReadWriteTransaction) error {
		attempts++
		if _, _, err := txn.Get(ctx, []byte("shared")); err != nil {
			return err
		}
		if attempts == 1 {
			// Simulate a concurrent writer sneaking in between this
			// transaction's read and its commit.
			other, _ := e.NewTransaction(ctx)
			other.Set([]byte("shared"), []byte("racer"))
			if _, err := other.Commit(ctx); err != nil {
				t.Fatalf("racer commit: %v", err)
			}
		}
		txn.Set([]byte("shared"), []byte("mine"))
		return nil
	})
	if err != nil {
		t.Fatalf("RunTransaction: %v", err)
	}
	if attempts < 2 {
		t.Fatalf("expected at least one retry after the injected conflict, got %d attempts", attempts)
	}
}

func TestRunTransactionStopsOnNonRetriableError(t *testing.T) {
	e := NewMemoryEngine()
	defer e.Close()

	attempts := 0
	_, err := RunTransaction(context.Background(), e, fastRetryPolicy(), false, func(ctx context.Context, txn ReadWriteTransaction) error {
		attempts++
		return NewError(CodeInvalidArgument, "bad request")
	})
	if CodeOf(err) != CodeInvalidArgument {
		t.Fatalf("got code %v want CodeInvalidArgument", CodeOf(err))
	}
	if attempts != 1 {
		t.Fatalf("expected exactly one attempt for a non-retriable error, got %d", attempts)
	}
}

func TestRunTransactionMaybeCommittedOnlyRetriesWhenIdempotent(t *testing.T) {
	e := NewMemoryEngine()
	defer e.Close()

	attempts := 0
	_, err := RunTransaction(context.Background(), e, fastRetryPolicy(), false, func(ctx context.Context, txn ReadWriteTransaction) error {
		attempts++
		return NewError(CodeMaybeCommitted, "network dropped after commit")
	})
	if CodeOf(err) != CodeMaybeCommitted {
		t.Fatalf("got code %v want CodeMaybeCommitted", CodeOf(err))
	}
	if attempts != 1 {
		t.Fatalf("expected no retry for MaybeCommitted without idempotency asserted, got %d attempts", attempts)
	}

	attempts = 0
	_, err = RunTransaction(context.Background(), e, fastRetryPolicy(), true, func(ctx context.Context, txn ReadWriteTransaction) error {
		attempts++
		if attempts < 3 {
			return NewError(CodeMaybeCommitted, "network dropped after commit")
		}
		txn.Set([]byte("k"), []byte("v"))
		return nil
	})
	if err != nil {
		t.Fatalf("RunTransaction with idempotency asserted: %v", err)
	}
	if attempts != 3 {
		t.Fatalf("expected retries to continue until success, got %d attempts", attempts)
	}
}

func TestRunTransactionRespectsContextCancellation(t *testing.T) {
	e := NewMemoryEngine()
	defer e.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := RunTransaction(ctx, e, RetryPolicy{Initial: time.Millisecond, Max: time.Millisecond, Total: time.Second}, false, func(ctx context.Context, txn ReadWriteTransaction) error {
		return NewError(CodeConflict, "always conflicts")
	})
	if err == nil {
		t.Fatalf("expected an error when the context is already canceled")
	}
}
