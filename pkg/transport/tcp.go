package transport

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/gob"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/fireflyer/ffs/pkg/kv"
)

// TCP is a real net.Listen/net.DialTimeout Transport using
// length-prefixed gob frames. It moves opaque application payloads
// between daemons and clients; mgmtd's Raft replication does not go
// through it.
type TCP struct {
	dialTimeout time.Duration

	mu       sync.Mutex
	conns    map[string]net.Conn
	listener net.Listener
}

// NewTCP builds a TCP transport with the given dial timeout. Call
// Listen to also serve incoming connections with handler.
func NewTCP(dialTimeout time.Duration) *TCP {
	return &TCP{
		dialTimeout: dialTimeout,
		conns:       make(map[string]net.Conn),
	}
}

// Listen starts accepting connections on addr, dispatching each
// received Envelope to handler and writing back its response. Runs
// until Close is called or the listener errors.
func (t *TCP) Listen(addr string, handler Handler) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return kv.NewError(kv.CodeNetworkError, "transport: listen %s: %v", addr, err)
	}
	t.mu.Lock()
	t.listener = ln
	t.mu.Unlock()

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go t.serve(conn, handler)
		}
	}()
	return nil
}

func (t *TCP) serve(conn net.Conn, handler Handler) {
	defer conn.Close()
	for {
		req, err := readEnvelope(conn)
		if err != nil {
			return
		}
		resp, err := handler(context.Background(), req)
		if err != nil {
			resp = Envelope{UUID: req.UUID, Flags: FlagForwarded}
		}
		if err := writeEnvelope(conn, resp); err != nil {
			return
		}
	}
}

// Send dials (or reuses a cached connection to) address, writes req as
// a length-prefixed gob frame, and reads back exactly one response
// frame.
func (t *TCP) Send(ctx context.Context, address string, req Envelope) (Envelope, error) {
	conn, err := t.dial(address)
	if err != nil {
		return Envelope{}, err
	}

	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}

	if err := writeEnvelope(conn, req); err != nil {
		t.dropConn(address)
		return Envelope{}, kv.NewError(kv.CodeNetworkError, "transport: write to %s: %v", address, err)
	}
	resp, err := readEnvelope(conn)
	if err != nil {
		t.dropConn(address)
		return Envelope{}, kv.NewError(kv.CodeNetworkError, "transport: read from %s: %v", address, err)
	}
	return resp, nil
}

func (t *TCP) dial(address string) (net.Conn, error) {
	t.mu.Lock()
	if conn, ok := t.conns[address]; ok {
		t.mu.Unlock()
		return conn, nil
	}
	t.mu.Unlock()

	conn, err := net.DialTimeout("tcp", address, t.dialTimeout)
	if err != nil {
		return nil, kv.NewError(kv.CodeNetworkError, "transport: dial %s: %v", address, err)
	}

	t.mu.Lock()
	t.conns[address] = conn
	t.mu.Unlock()
	return conn, nil
}

func (t *TCP) dropConn(address string) {
	t.mu.Lock()
	conn, ok := t.conns[address]
	delete(t.conns, address)
	t.mu.Unlock()
	if ok {
		conn.Close()
	}
}

// Close shuts down the listener (if any) and every cached outbound
// connection.
func (t *TCP) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.listener != nil {
		t.listener.Close()
	}
	for _, conn := range t.conns {
		conn.Close()
	}
	t.conns = make(map[string]net.Conn)
	return nil
}

var _ Transport = (*TCP)(nil)

func writeEnvelope(w io.Writer, e Envelope) error {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(e); err != nil {
		return fmt.Errorf("transport: encode envelope: %w", err)
	}
	length := uint32(buf.Len())
	if err := binary.Write(w, binary.BigEndian, length); err != nil {
		return err
	}
	_, err := w.Write(buf.Bytes())
	return err
}

func readEnvelope(r io.Reader) (Envelope, error) {
	var length uint32
	if err := binary.Read(r, binary.BigEndian, &length); err != nil {
		return Envelope{}, err
	}
	frame := make([]byte, length)
	if _, err := io.ReadFull(r, frame); err != nil {
		return Envelope{}, err
	}
	var e Envelope
	if err := gob.NewDecoder(bytes.NewReader(frame)).Decode(&e); err != nil {
		return Envelope{}, fmt.Errorf("transport: decode envelope: %w", err)
	}
	return e, nil
}
