package transport

import (
	"context"
	"testing"

	"github.com/fireflyer/ffs/pkg/kv"
)

func TestLocalSendRoundTrips(t *testing.T) {
	l := NewLocal()
	l.Register("meta-1", func(ctx context.Context, req Envelope) (Envelope, error) {
		return Envelope{UUID: req.UUID, Payload: append([]byte("echo:"), req.Payload...)}, nil
	})

	req := NewEnvelope(1, 1, []byte("hi"))
	resp, err := l.Send(context.Background(), "meta-1", req)
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if string(resp.Payload) != "echo:hi" {
		t.Fatalf("got payload %q", resp.Payload)
	}
	if resp.UUID != req.UUID {
		t.Fatal("expected the response to echo the request UUID")
	}
}

func TestLocalSendUnregisteredAddressIsNetworkError(t *testing.T) {
	l := NewLocal()
	_, err := l.Send(context.Background(), "nobody", NewEnvelope(1, 1, nil))
	if err == nil {
		t.Fatal("expected an error sending to an unregistered address")
	}
	ffsErr, ok := err.(*kv.Error)
	if !ok {
		t.Fatalf("expected *kv.Error, got %T", err)
	}
	if ffsErr.Code != kv.CodeNetworkError {
		t.Fatalf("expected CodeNetworkError, got %v", ffsErr.Code)
	}
}

func TestLocalUnregisterRemovesHandler(t *testing.T) {
	l := NewLocal()
	l.Register("n1", func(ctx context.Context, req Envelope) (Envelope, error) {
		return Envelope{}, nil
	})
	l.Unregister("n1")

	_, err := l.Send(context.Background(), "n1", NewEnvelope(1, 1, nil))
	if err == nil {
		t.Fatal("expected Send to fail after Unregister")
	}
}
