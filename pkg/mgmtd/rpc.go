package mgmtd

import (
	"bytes"
	"context"
	"encoding/gob"

	"github.com/fireflyer/ffs/pkg/kv"
	"github.com/fireflyer/ffs/pkg/routing"
	"github.com/fireflyer/ffs/pkg/transport"
)

// ServiceID and method IDs for mgmtd's transport.Envelope traffic,
// the concrete values behind spec §6's "{service_id, method_id}" pair
// for this component.
const ServiceID uint16 = 1

const (
	MethodGetRoutingInfo uint16 = iota + 1
	MethodJoin
	MethodRegisterNode
	MethodUpsertChainInfo
	MethodUpsertTargetInfo
	MethodPutChainTable
)

// RegisterNodeRequest is MethodRegisterNode's payload: §6's registerNode
// takes just the id and address, stamping LastHeartbeat itself so a
// caller can't register a node that instantly reads as missing.
type RegisterNodeRequest struct {
	NodeID  routing.NodeId
	Address string
}

// JoinRequest is MethodJoin's payload: a candidate replica asking the
// current leader to add it as a raft voter.
type JoinRequest struct {
	NodeID  string
	Address string
}

// Handler returns the transport.Handler serving this replica's mgmtd
// RPCs: GetRoutingInfo answers on any replica, leader or follower;
// Join only succeeds against the leader (AddVoter fails otherwise, and
// the caller is expected to retry against whatever LeaderAddr names).
func (s *Server) Handler() transport.Handler {
	return func(ctx context.Context, req transport.Envelope) (transport.Envelope, error) {
		if req.ServiceID != ServiceID {
			return transport.Envelope{}, transport.ErrMethodNotHandled(req.ServiceID, req.MethodID)
		}
		switch req.MethodID {
		case MethodGetRoutingInfo:
			info := s.RoutingInfo()
			payload, err := encodeGob(info)
			if err != nil {
				return transport.Envelope{}, err
			}
			return transport.Envelope{UUID: req.UUID, ServiceID: ServiceID, MethodID: MethodGetRoutingInfo, Payload: payload}, nil
		case MethodJoin:
			var jr JoinRequest
			if err := decodeGob(req.Payload, &jr); err != nil {
				return transport.Envelope{}, err
			}
			if !s.IsLeader() {
				return transport.Envelope{}, kv.NewError(kv.CodeInvalidArgument, "mgmtd: join must target the leader, not %s", s.cfg.NodeID)
			}
			if err := s.AddVoter(jr.NodeID, jr.Address); err != nil {
				return transport.Envelope{}, err
			}
			return transport.Envelope{UUID: req.UUID, ServiceID: ServiceID, MethodID: MethodJoin}, nil
		case MethodRegisterNode:
			if !s.IsLeader() {
				return transport.Envelope{}, kv.NewError(kv.CodeInvalidArgument, "mgmtd: admin write must target the leader, not %s", s.cfg.NodeID)
			}
			var rn RegisterNodeRequest
			if err := decodeGob(req.Payload, &rn); err != nil {
				return transport.Envelope{}, err
			}
			if err := s.RegisterNode(ctx, rn.NodeID, rn.Address); err != nil {
				return transport.Envelope{}, err
			}
			return transport.Envelope{UUID: req.UUID, ServiceID: ServiceID, MethodID: MethodRegisterNode}, nil
		case MethodUpsertChainInfo:
			if !s.IsLeader() {
				return transport.Envelope{}, kv.NewError(kv.CodeInvalidArgument, "mgmtd: admin write must target the leader, not %s", s.cfg.NodeID)
			}
			var c routing.ChainInfo
			if err := decodeGob(req.Payload, &c); err != nil {
				return transport.Envelope{}, err
			}
			if err := s.UpsertChainInfo(ctx, c); err != nil {
				return transport.Envelope{}, err
			}
			return transport.Envelope{UUID: req.UUID, ServiceID: ServiceID, MethodID: MethodUpsertChainInfo}, nil
		case MethodUpsertTargetInfo:
			if !s.IsLeader() {
				return transport.Envelope{}, kv.NewError(kv.CodeInvalidArgument, "mgmtd: admin write must target the leader, not %s", s.cfg.NodeID)
			}
			var t routing.TargetInfo
			if err := decodeGob(req.Payload, &t); err != nil {
				return transport.Envelope{}, err
			}
			if err := s.UpsertTargetInfo(ctx, t); err != nil {
				return transport.Envelope{}, err
			}
			return transport.Envelope{UUID: req.UUID, ServiceID: ServiceID, MethodID: MethodUpsertTargetInfo}, nil
		case MethodPutChainTable:
			if !s.IsLeader() {
				return transport.Envelope{}, kv.NewError(kv.CodeInvalidArgument, "mgmtd: admin write must target the leader, not %s", s.cfg.NodeID)
			}
			var ct routing.ChainTable
			if err := decodeGob(req.Payload, &ct); err != nil {
				return transport.Envelope{}, err
			}
			if err := s.PutChainTable(ctx, ct); err != nil {
				return transport.Envelope{}, err
			}
			return transport.Envelope{UUID: req.UUID, ServiceID: ServiceID, MethodID: MethodPutChainTable}, nil
		default:
			return transport.Envelope{}, transport.ErrMethodNotHandled(req.ServiceID, req.MethodID)
		}
	}
}

// RequestRoutingInfo sends a GetRoutingInfo request to address over tr,
// the call ffs-metad and ffs-storaged repeat on every poll to keep their
// routing.Cache fresh, and that ffsctl's list commands make once.
func RequestRoutingInfo(ctx context.Context, tr transport.Transport, address string) (routing.RoutingInfo, error) {
	req := transport.NewEnvelope(ServiceID, MethodGetRoutingInfo, nil)
	resp, err := tr.Send(ctx, address, req)
	if err != nil {
		return routing.RoutingInfo{}, err
	}
	var info routing.RoutingInfo
	if err := decodeGob(resp.Payload, &info); err != nil {
		return routing.RoutingInfo{}, err
	}
	return info, nil
}

// RequestJoin sends a Join request for (nodeID, address) to the
// leader at leaderAddr over tr.
func RequestJoin(ctx context.Context, tr transport.Transport, leaderAddr string, nodeID, address string) error {
	payload, err := encodeGob(JoinRequest{NodeID: nodeID, Address: address})
	if err != nil {
		return err
	}
	req := transport.NewEnvelope(ServiceID, MethodJoin, payload)
	_, err = tr.Send(ctx, leaderAddr, req)
	return err
}

// RequestRegisterNode registers (id, address) through the leader at
// leaderAddr, the RPC ffsctl register-node issues.
func RequestRegisterNode(ctx context.Context, tr transport.Transport, leaderAddr string, id routing.NodeId, address string) error {
	payload, err := encodeGob(RegisterNodeRequest{NodeID: id, Address: address})
	if err != nil {
		return err
	}
	_, err = tr.Send(ctx, leaderAddr, transport.NewEnvelope(ServiceID, MethodRegisterNode, payload))
	return err
}

// RequestUpsertChainInfo replicates c through the leader at leaderAddr,
// the RPC ffsctl upload-chains issues once per chain.
func RequestUpsertChainInfo(ctx context.Context, tr transport.Transport, leaderAddr string, c routing.ChainInfo) error {
	payload, err := encodeGob(c)
	if err != nil {
		return err
	}
	_, err = tr.Send(ctx, leaderAddr, transport.NewEnvelope(ServiceID, MethodUpsertChainInfo, payload))
	return err
}

// RequestUpsertTargetInfo replicates t through the leader at leaderAddr.
func RequestUpsertTargetInfo(ctx context.Context, tr transport.Transport, leaderAddr string, t routing.TargetInfo) error {
	payload, err := encodeGob(t)
	if err != nil {
		return err
	}
	_, err = tr.Send(ctx, leaderAddr, transport.NewEnvelope(ServiceID, MethodUpsertTargetInfo, payload))
	return err
}

// RequestPutChainTable replicates a new chain table version through the
// leader at leaderAddr, the RPC ffsctl upload-chain-table issues.
func RequestPutChainTable(ctx context.Context, tr transport.Transport, leaderAddr string, t routing.ChainTable) error {
	payload, err := encodeGob(t)
	if err != nil {
		return err
	}
	_, err = tr.Send(ctx, leaderAddr, transport.NewEnvelope(ServiceID, MethodPutChainTable, payload))
	return err
}

func encodeGob(v interface{}) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(v); err != nil {
		return nil, kv.Wrap(kv.CodeInvalidArgument, err, "mgmtd: encode payload")
	}
	return buf.Bytes(), nil
}

func decodeGob(b []byte, v interface{}) error {
	if err := gob.NewDecoder(bytes.NewReader(b)).Decode(v); err != nil {
		return kv.Wrap(kv.CodeInvalidArgument, err, "mgmtd: decode payload")
	}
	return nil
}
