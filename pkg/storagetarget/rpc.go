package storagetarget

import (
	"bytes"
	"context"
	"encoding/gob"

	"github.com/fireflyer/ffs/pkg/kv"
	"github.com/fireflyer/ffs/pkg/transport"
)

// ServiceID identifies storagetarget's transport.Envelope traffic;
// mgmtd claims 1, meta claims 2.
const ServiceID uint16 = 3

const (
	MethodWrite uint16 = iota + 1
	MethodRead
	MethodForwardUpdate
	MethodCommitUpdate
	MethodQueryChunk
	MethodRemoveChunks
	MethodSnapshotRange
	MethodBatchWrite
	MethodBatchRead
)

// Handler returns the transport.Handler serving this target's chunk
// RPCs, grounded on pkg/mgmtd/rpc.go's decode/dispatch/encode shape
// and generalized with the same dispatch helper pkg/meta/rpc.go
// introduced for its own larger method set.
func (s *Server) Handler() transport.Handler {
	return func(ctx context.Context, req transport.Envelope) (transport.Envelope, error) {
		if req.ServiceID != ServiceID {
			return transport.Envelope{}, transport.ErrMethodNotHandled(req.ServiceID, req.MethodID)
		}
		switch req.MethodID {
		case MethodWrite:
			return dispatch(ctx, req, s.Write)
		case MethodRead:
			return dispatch(ctx, req, s.Read)
		case MethodForwardUpdate:
			return dispatch(ctx, req, s.ForwardUpdate)
		case MethodCommitUpdate:
			return dispatch(ctx, req, s.CommitUpdate)
		case MethodQueryChunk:
			return dispatch(ctx, req, s.QueryChunk)
		case MethodRemoveChunks:
			return dispatch(ctx, req, s.RemoveChunks)
		case MethodSnapshotRange:
			return dispatch(ctx, req, s.SnapshotRange)
		case MethodBatchWrite:
			return dispatch(ctx, req, s.BatchWrite)
		case MethodBatchRead:
			return dispatch(ctx, req, s.BatchRead)
		default:
			return transport.Envelope{}, transport.ErrMethodNotHandled(req.ServiceID, req.MethodID)
		}
	}
}

// dispatch decodes req's payload into Req, invokes fn, and re-encodes
// the result, the same decode/call/encode skeleton every method on
// this server shares.
func dispatch[Req any, Resp any](ctx context.Context, req transport.Envelope, fn func(context.Context, Req) (Resp, error)) (transport.Envelope, error) {
	var in Req
	if len(req.Payload) > 0 {
		if err := decodeGob(req.Payload, &in); err != nil {
			return transport.Envelope{}, err
		}
	}
	out, err := fn(ctx, in)
	if err != nil {
		return transport.Envelope{}, err
	}
	payload, err := encodeGob(out)
	if err != nil {
		return transport.Envelope{}, err
	}
	return transport.Envelope{UUID: req.UUID, ServiceID: ServiceID, MethodID: req.MethodID, Payload: payload}, nil
}

func encodeGob(v interface{}) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(v); err != nil {
		return nil, kv.Wrap(kv.CodeInvalidArgument, err, "storagetarget: encode payload")
	}
	return buf.Bytes(), nil
}

func decodeGob(payload []byte, out interface{}) error {
	if err := gob.NewDecoder(bytes.NewReader(payload)).Decode(out); err != nil {
		return kv.Wrap(kv.CodeInvalidArgument, err, "storagetarget: decode payload")
	}
	return nil
}
