package storageclient

import (
	"context"
	"strings"
	"time"
)

// retryAction is what classifyError says to do with a failed sub-op,
// the concrete behavior behind §4.8's per-code retry table.
type retryAction int

const (
	actionFail retryAction = iota
	actionRefreshAndRetry
	actionBackoffAndRetry
	actionRetryOtherReplica
)

// classifyError maps a sub-op's failure to a retryAction. Batched RPC
// errors cross the wire as plain strings (storagetarget's
// BatchWriteResponse.Errors carries err.Error(), not a structured
// kv.Error), so classification matches on the Code prefix every
// kv.Error.Error() string starts with rather than a type assertion.
func classifyError(msg string) retryAction {
	switch {
	case strings.HasPrefix(msg, "VersionMismatch"):
		return actionRefreshAndRetry
	case strings.HasPrefix(msg, "Timeout"), strings.HasPrefix(msg, "NetworkError"):
		return actionBackoffAndRetry
	case strings.HasPrefix(msg, "Throttled"):
		return actionBackoffAndRetry
	case strings.HasPrefix(msg, "Corruption"):
		return actionRetryOtherReplica
	default:
		return actionFail
	}
}

// backoff sleeps an exponential delay for attempt (0-indexed),
// honoring ctx cancellation, the bounded-attempts backoff §4.8
// prescribes for Timeout/NetworkError/Throttled.
func backoff(ctx context.Context, attempt int) error {
	delay := time.Duration(1<<uint(attempt)) * 10 * time.Millisecond
	if delay > time.Second {
		delay = time.Second
	}
	t := time.NewTimer(delay)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
