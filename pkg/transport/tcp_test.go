package transport

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/fireflyer/ffs/pkg/kv"
)

func startEchoServer(t *testing.T) (*TCP, string) {
	t.Helper()
	server := NewTCP(time.Second)
	t.Cleanup(func() { server.Close() })

	// Ask the OS for a free ephemeral port, then release it immediately
	// so server.Listen can rebind to the same address.
	probe, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	listenAddr := probe.Addr().String()
	probe.Close()

	handler := func(ctx context.Context, req Envelope) (Envelope, error) {
		return Envelope{UUID: req.UUID, Payload: append([]byte("pong:"), req.Payload...)}, nil
	}

	if err := server.Listen(listenAddr, handler); err != nil {
		t.Fatalf("Listen: %v", err)
	}
	return server, listenAddr
}

func TestTCPEchoServer(t *testing.T) {
	_, addr := startEchoServer(t)

	client := NewTCP(time.Second)
	defer client.Close()

	req := NewEnvelope(3, 4, []byte("ping"))
	resp, err := client.Send(context.Background(), addr, req)
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if string(resp.Payload) != "pong:ping" {
		t.Fatalf("got payload %q", resp.Payload)
	}
}

func TestTCPSendToNothingListeningIsNetworkError(t *testing.T) {
	client := NewTCP(200 * time.Millisecond)
	defer client.Close()

	_, err := client.Send(context.Background(), "127.0.0.1:1", NewEnvelope(1, 1, nil))
	if err == nil {
		t.Fatal("expected dialing a closed port to fail")
	}
	ffsErr, ok := err.(*kv.Error)
	if !ok || ffsErr.Code != kv.CodeNetworkError {
		t.Fatalf("expected a *kv.Error with CodeNetworkError, got %v", err)
	}
}
