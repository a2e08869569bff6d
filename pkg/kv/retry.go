package kv

import (
	"context"
	"math/rand"
	"time"
)

// RetryPolicy bounds the exponential backoff a transactional caller applies
// between attempts. Initial doubles on every attempt up to Max; Total caps
// the wall-clock time spent retrying a single logical operation.
type RetryPolicy struct {
	Initial time.Duration
	Max     time.Duration
	Total   time.Duration
}

// DefaultRetryPolicy mirrors the design's assumed defaults for a metadata
// operation: start at 10ms, cap per-attempt backoff at 1s, give up after 5s
// total.
var DefaultRetryPolicy = RetryPolicy{
	Initial: 10 * time.Millisecond,
	Max:     time.Second,
	Total:   5 * time.Second,
}

// IdempotencyAsserted is passed to RunTransaction when the caller has tagged
// the operation with a stable request id (see schema's IDEM table), making
// it safe to treat CodeMaybeCommitted as retriable instead of surfacing it
// to the caller unresolved.
type IdempotencyAsserted bool

// RunTransaction drives fn against a fresh read-write transaction, retrying
// on the codes the design marks retriable until policy.Total elapses or fn
// succeeds. fn must be safe to call more than once: it should re-derive any
// reads it needs from txn rather than closing over state computed outside
// the retry loop, since every retry begins from a new snapshot.
func RunTransaction(ctx context.Context, engine Engine, policy RetryPolicy, idempotent IdempotencyAsserted, fn func(ctx context.Context, txn ReadWriteTransaction) error) (Versionstamp, error) {
	deadline := time.Now().Add(policy.Total)
	backoff := policy.Initial
	if backoff <= 0 {
		backoff = DefaultRetryPolicy.Initial
	}

	for {
		txn, err := engine.NewTransaction(ctx)
		if err != nil {
			return Versionstamp{}, err
		}

		if err := fn(ctx, txn); err != nil {
			txn.Cancel()
			if !shouldRetry(err, idempotent) || time.Now().After(deadline) {
				return Versionstamp{}, err
			}
			if waitErr := sleepBackoff(ctx, &backoff, policy.Max, deadline); waitErr != nil {
				return Versionstamp{}, waitErr
			}
			continue
		}

		vs, err := txn.Commit(ctx)
		if err == nil {
			return vs, nil
		}
		if !shouldRetry(err, idempotent) || time.Now().After(deadline) {
			return Versionstamp{}, err
		}
		if waitErr := sleepBackoff(ctx, &backoff, policy.Max, deadline); waitErr != nil {
			return Versionstamp{}, waitErr
		}
	}
}

func shouldRetry(err error, idempotent IdempotencyAsserted) bool {
	code := CodeOf(err)
	if code == CodeMaybeCommitted {
		return bool(idempotent)
	}
	return Retriable(code)
}

// sleepBackoff waits one jittered backoff interval, advancing backoff
// towards max for the next round. It returns ctx.Err() if ctx is canceled
// first and a deadline-exceeded *Error if the retry budget would be spent
// waiting rather than retrying.
func sleepBackoff(ctx context.Context, backoff *time.Duration, max time.Duration, deadline time.Time) error {
	wait := *backoff
	if max > 0 && wait > max {
		wait = max
	}
	if time.Now().Add(wait).After(deadline) {
		return NewError(CodeTimeout, "retry budget exhausted")
	}
	jittered := time.Duration(float64(wait) * (0.5 + rand.Float64()*0.5))

	timer := time.NewTimer(jittered)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
	}

	next := *backoff * 2
	if max > 0 && next > max {
		next = max
	}
	*backoff = next
	return nil
}
