package meta

import (
	"bytes"
	"context"
	"encoding/gob"

	"github.com/fireflyer/ffs/pkg/kv"
	"github.com/fireflyer/ffs/pkg/schema"
	"github.com/fireflyer/ffs/pkg/transport"
)

// ServiceID is meta's transport.Envelope service tag (mgmtd already
// claims 1).
const ServiceID uint16 = 2

const (
	MethodCreate uint16 = iota + 1
	MethodMkdir
	MethodOpen
	MethodClose
	MethodSync
	MethodStat
	MethodBatchStat
	MethodList
	MethodRemove
	MethodRename
	MethodSymlink
	MethodHardlink
	MethodSetattr
	MethodTruncate
	MethodStatfs
	MethodSetLayout
	MethodListXattr
	MethodExtendSession
	MethodPruneSession
	MethodCreateUser
)

// CreateUserRequest provisions a bearer token in the USER table (§4.6's
// authenticate step reads this table for every other method). Unlike
// every other meta RPC it carries no token of its own to authenticate
// with: an operator reaching a meta replica directly over its transport
// address is the trust boundary, the same one ffsctl's other admin
// commands rely on when they reach mgmtd's leader directly.
type CreateUserRequest struct {
	Token string
	Uid   uint32
	Gid   uint32
	Admin bool
}

type CreateUserResponse struct{}

// Handler returns the transport.Handler serving this replica's meta
// RPCs. Every mutating or per-inode method runs the dispatch sequence
// from §4.6: authenticate the token, then either handle locally or
// forward once to the responsible server (routeLocalOrForward); the
// two cluster-wide reads (statfs, batchStat) skip routing entirely
// since they never touch a specific inode's baton.
func (s *Server) Handler() transport.Handler {
	return func(ctx context.Context, req transport.Envelope) (transport.Envelope, error) {
		if req.ServiceID != ServiceID {
			return transport.Envelope{}, transport.ErrMethodNotHandled(req.ServiceID, req.MethodID)
		}
		switch req.MethodID {
		case MethodCreate:
			return dispatch(ctx, s, req, func(u UserInfo, r CreateRequest) schema.InodeId { return r.Parent },
				func(ctx context.Context, u UserInfo, r CreateRequest) (CreateResponse, error) { return s.Create(ctx, u, r) })
		case MethodMkdir:
			return dispatch(ctx, s, req, func(u UserInfo, r MkdirRequest) schema.InodeId { return r.Parent },
				func(ctx context.Context, u UserInfo, r MkdirRequest) (MkdirResponse, error) { return s.Mkdir(ctx, u, r) })
		case MethodOpen:
			return dispatch(ctx, s, req, func(u UserInfo, r OpenRequest) schema.InodeId { return r.Inode },
				func(ctx context.Context, u UserInfo, r OpenRequest) (OpenResponse, error) { return s.Open(ctx, u, r) })
		case MethodClose:
			return dispatch(ctx, s, req, func(u UserInfo, r CloseRequest) schema.InodeId { return r.Inode },
				func(ctx context.Context, u UserInfo, r CloseRequest) (CloseResponse, error) { return s.Close(ctx, u, r) })
		case MethodSync:
			return dispatch(ctx, s, req, func(u UserInfo, r SyncRequest) schema.InodeId { return r.Inode },
				func(ctx context.Context, u UserInfo, r SyncRequest) (SyncResponse, error) { return s.Sync(ctx, u, r) })
		case MethodStat:
			return dispatch(ctx, s, req, func(u UserInfo, r StatRequest) schema.InodeId { return r.Inode },
				func(ctx context.Context, u UserInfo, r StatRequest) (StatResponse, error) { return s.Stat(ctx, u, r) })
		case MethodBatchStat:
			return dispatchNoRoute(ctx, s, req, func(ctx context.Context, u UserInfo, r BatchStatRequest) (BatchStatResponse, error) {
				return s.BatchStat(ctx, u, r)
			})
		case MethodList:
			return dispatch(ctx, s, req, func(u UserInfo, r ListRequest) schema.InodeId { return r.Parent },
				func(ctx context.Context, u UserInfo, r ListRequest) (ListResponse, error) { return s.List(ctx, u, r) })
		case MethodRemove:
			return dispatch(ctx, s, req, func(u UserInfo, r RemoveRequest) schema.InodeId { return r.Parent },
				func(ctx context.Context, u UserInfo, r RemoveRequest) (RemoveResponse, error) { return s.Remove(ctx, u, r) })
		case MethodRename:
			return dispatch(ctx, s, req, func(u UserInfo, r RenameRequest) schema.InodeId { return r.SrcParent },
				func(ctx context.Context, u UserInfo, r RenameRequest) (RenameResponse, error) { return s.Rename(ctx, u, r) })
		case MethodSymlink:
			return dispatch(ctx, s, req, func(u UserInfo, r SymlinkRequest) schema.InodeId { return r.Parent },
				func(ctx context.Context, u UserInfo, r SymlinkRequest) (SymlinkResponse, error) { return s.Symlink(ctx, u, r) })
		case MethodHardlink:
			return dispatch(ctx, s, req, func(u UserInfo, r HardlinkRequest) schema.InodeId { return r.Parent },
				func(ctx context.Context, u UserInfo, r HardlinkRequest) (HardlinkResponse, error) { return s.Hardlink(ctx, u, r) })
		case MethodSetattr:
			return dispatch(ctx, s, req, func(u UserInfo, r SetattrRequest) schema.InodeId { return r.Inode },
				func(ctx context.Context, u UserInfo, r SetattrRequest) (SetattrResponse, error) { return s.Setattr(ctx, u, r) })
		case MethodTruncate:
			return dispatch(ctx, s, req, func(u UserInfo, r TruncateRequest) schema.InodeId { return r.Inode },
				func(ctx context.Context, u UserInfo, r TruncateRequest) (TruncateResponse, error) { return s.Truncate(ctx, u, r) })
		case MethodStatfs:
			return dispatchNoRoute(ctx, s, req, func(ctx context.Context, u UserInfo, r StatfsRequest) (StatfsResponse, error) {
				return s.Statfs(ctx, u, r)
			})
		case MethodSetLayout:
			return dispatch(ctx, s, req, func(u UserInfo, r SetLayoutRequest) schema.InodeId { return r.Inode },
				func(ctx context.Context, u UserInfo, r SetLayoutRequest) (SetLayoutResponse, error) { return s.SetLayout(ctx, u, r) })
		case MethodListXattr:
			return dispatch(ctx, s, req, func(u UserInfo, r ListXattrRequest) schema.InodeId { return r.Inode },
				func(ctx context.Context, u UserInfo, r ListXattrRequest) (ListXattrResponse, error) { return s.ListXattr(ctx, u, r) })
		case MethodExtendSession:
			return dispatch(ctx, s, req, func(u UserInfo, r ExtendSessionRequest) schema.InodeId { return r.Inode },
				func(ctx context.Context, u UserInfo, r ExtendSessionRequest) (ExtendSessionResponse, error) {
					return s.ExtendSession(ctx, u, r)
				})
		case MethodPruneSession:
			return dispatch(ctx, s, req, func(u UserInfo, r PruneSessionRequest) schema.InodeId { return r.Inode },
				func(ctx context.Context, u UserInfo, r PruneSessionRequest) (PruneSessionResponse, error) {
					return s.PruneSession(ctx, u, r)
				})
		case MethodCreateUser:
			var r CreateUserRequest
			if err := decodeGob(req.Payload, &r); err != nil {
				return transport.Envelope{}, err
			}
			if err := s.CreateUser(ctx, r); err != nil {
				return transport.Envelope{}, err
			}
			payload, err := encodeGob(CreateUserResponse{})
			if err != nil {
				return transport.Envelope{}, err
			}
			return transport.Envelope{UUID: req.UUID, ServiceID: ServiceID, MethodID: MethodCreateUser, Payload: payload}, nil
		default:
			return transport.Envelope{}, transport.ErrMethodNotHandled(req.ServiceID, req.MethodID)
		}
	}
}

// dispatch decodes req's payload as Req, authenticates its token,
// resolves the routing key via keyOf, and either runs fn locally or
// forwards the envelope on, mirroring §4.6's "authenticate, validate,
// determine responsible server, forward once" sequence for every
// per-inode method.
func dispatch[Req any, Resp any](ctx context.Context, s *Server, req transport.Envelope, keyOf func(UserInfo, Req) schema.InodeId, fn func(context.Context, UserInfo, Req) (Resp, error)) (transport.Envelope, error) {
	var r Req
	if err := decodeGob(req.Payload, &r); err != nil {
		return transport.Envelope{}, err
	}
	meta, err := metaFieldOf(r)
	if err != nil {
		return transport.Envelope{}, err
	}
	user, err := s.authenticate(ctx, meta.Token)
	if err != nil {
		return transport.Envelope{}, err
	}

	key := keyOf(user, r)
	if resp, ok, err := s.routeLocalOrForward(ctx, key, req); err != nil {
		return transport.Envelope{}, err
	} else if !ok {
		return resp, nil
	}

	out, err := fn(ctx, user, r)
	if err != nil {
		return transport.Envelope{}, err
	}
	payload, err := encodeGob(out)
	if err != nil {
		return transport.Envelope{}, err
	}
	return transport.Envelope{UUID: req.UUID, ServiceID: ServiceID, MethodID: req.MethodID, Payload: payload}, nil
}

// dispatchNoRoute is dispatch without the responsible-server check,
// for the two operations (statfs, batchStat) that read cluster-wide
// or snapshot state rather than a specific inode's batched data.
func dispatchNoRoute[Req any, Resp any](ctx context.Context, s *Server, req transport.Envelope, fn func(context.Context, UserInfo, Req) (Resp, error)) (transport.Envelope, error) {
	var r Req
	if err := decodeGob(req.Payload, &r); err != nil {
		return transport.Envelope{}, err
	}
	meta, err := metaFieldOf(r)
	if err != nil {
		return transport.Envelope{}, err
	}
	user, err := s.authenticate(ctx, meta.Token)
	if err != nil {
		return transport.Envelope{}, err
	}
	out, err := fn(ctx, user, r)
	if err != nil {
		return transport.Envelope{}, err
	}
	payload, err := encodeGob(out)
	if err != nil {
		return transport.Envelope{}, err
	}
	return transport.Envelope{UUID: req.UUID, ServiceID: ServiceID, MethodID: req.MethodID, Payload: payload}, nil
}

// metaFieldOf returns the Meta field every request type carries by
// convention, through a tiny type switch rather than reflection, since
// the request set is fixed and small.
func metaFieldOf(r interface{}) (RequestMeta, error) {
	switch v := r.(type) {
	case CreateRequest:
		return v.Meta, nil
	case MkdirRequest:
		return v.Meta, nil
	case OpenRequest:
		return v.Meta, nil
	case CloseRequest:
		return v.Meta, nil
	case SyncRequest:
		return v.Meta, nil
	case StatRequest:
		return v.Meta, nil
	case BatchStatRequest:
		return v.Meta, nil
	case ListRequest:
		return v.Meta, nil
	case RemoveRequest:
		return v.Meta, nil
	case RenameRequest:
		return v.Meta, nil
	case SymlinkRequest:
		return v.Meta, nil
	case HardlinkRequest:
		return v.Meta, nil
	case SetattrRequest:
		return v.Meta, nil
	case TruncateRequest:
		return v.Meta, nil
	case StatfsRequest:
		return v.Meta, nil
	case SetLayoutRequest:
		return v.Meta, nil
	case ListXattrRequest:
		return v.Meta, nil
	case ExtendSessionRequest:
		return v.Meta, nil
	case PruneSessionRequest:
		return v.Meta, nil
	default:
		return RequestMeta{}, kv.NewError(kv.CodeFatal, "meta: rpc: unrecognized request type %T", r)
	}
}

// RequestCreateUser sends a CreateUser request to address over tr, the
// RPC ffsctl user-add issues against a meta replica.
func RequestCreateUser(ctx context.Context, tr transport.Transport, address string, req CreateUserRequest) error {
	payload, err := encodeGob(req)
	if err != nil {
		return err
	}
	_, err = tr.Send(ctx, address, transport.NewEnvelope(ServiceID, MethodCreateUser, payload))
	return err
}

func encodeGob(v interface{}) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(v); err != nil {
		return nil, kv.Wrap(kv.CodeInvalidArgument, err, "meta: encode payload")
	}
	return buf.Bytes(), nil
}

func decodeGob(b []byte, v interface{}) error {
	if err := gob.NewDecoder(bytes.NewReader(b)).Decode(v); err != nil {
		return kv.Wrap(kv.CodeInvalidArgument, err, "meta: decode payload")
	}
	return nil
}
