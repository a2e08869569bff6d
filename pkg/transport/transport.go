package transport

import (
	"context"
	"sync"

	"github.com/fireflyer/ffs/pkg/kv"
)

// Handler processes one request Envelope addressed to this process and
// returns the response Envelope to send back.
type Handler func(ctx context.Context, req Envelope) (Envelope, error)

// Transport is the "opaque reliable request/response message fabric"
// contract spec.md leaves external. Every daemon and client sends
// through one of these rather than touching net/rpc details directly.
type Transport interface {
	// Send delivers req to address and returns the peer's response.
	// Implementations surface kv.CodeNetworkError on dial/read failure
	// so callers can apply the standard retry policy.
	Send(ctx context.Context, address string, req Envelope) (Envelope, error)
	// Close releases any resources (listeners, connections) the
	// transport holds.
	Close() error
}

// Local is an in-process Transport: a registry mapping address to the
// Handler serving it. Used by single-process tests (including the
// seed scenarios) for zero-latency, deterministic message delivery.
type Local struct {
	mu       sync.RWMutex
	handlers map[string]Handler
}

// NewLocal builds an empty in-process transport registry.
func NewLocal() *Local {
	return &Local{handlers: make(map[string]Handler)}
}

// Register binds address to handler. A later call with the same
// address replaces the previous handler, useful for simulating a
// process restart under the same address in tests.
func (l *Local) Register(address string, handler Handler) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.handlers[address] = handler
}

// Unregister removes address, simulating that peer going offline.
func (l *Local) Unregister(address string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.handlers, address)
}

// Send looks up address's handler and invokes it directly.
func (l *Local) Send(ctx context.Context, address string, req Envelope) (Envelope, error) {
	l.mu.RLock()
	handler, ok := l.handlers[address]
	l.mu.RUnlock()
	if !ok {
		return Envelope{}, kv.NewError(kv.CodeNetworkError, "transport: no handler registered for %s", address)
	}
	return handler(ctx, req)
}

// Close is a no-op for Local; nothing is held beyond the registry map.
func (l *Local) Close() error {
	return nil
}

var _ Transport = (*Local)(nil)

// ErrMethodNotHandled is returned by a Handler that received an
// envelope for a method_id it doesn't implement.
func ErrMethodNotHandled(serviceID, methodID uint16) error {
	return kv.NewError(kv.CodeInvalidArgument, "transport: no handler for service %d method %d", serviceID, methodID)
}
