package transport

import "github.com/google/uuid"

// Flags carries out-of-band request metadata. The only bit the core
// packages look at today is hop-once forwarding.
type Flags uint16

const (
	// FlagForwarded marks a request a meta server already forwarded
	// once, so a server that is not responsible for it refuses to
	// forward again and returns a CodeInvalidArgument error instead (kv
	// has no separate not-local code).
	FlagForwarded Flags = 1 << iota
)

// Envelope is the typed wire structure spec.md §6 describes as
// `{ uuid(64), service_id(16), method_id(16), flags(16), version,
// payload, optional_timestamps }`. UUID is the request identity used
// for idempotency (request_uuid); ServiceID names the target package
// (meta, mgmtd, storagetarget); MethodID names the operation within
// it; Payload is the method-specific, gob-encoded argument or result.
type Envelope struct {
	UUID      uuid.UUID
	ServiceID uint16
	MethodID  uint16
	Flags     Flags
	Version   uint32
	Payload   []byte
}

// NewEnvelope builds an Envelope with a fresh request UUID.
func NewEnvelope(serviceID, methodID uint16, payload []byte) Envelope {
	return Envelope{
		UUID:      uuid.New(),
		ServiceID: serviceID,
		MethodID:  methodID,
		Payload:   payload,
	}
}

// Forwarded reports whether this envelope has already been forwarded
// once by a meta/mgmtd server.
func (e Envelope) Forwarded() bool {
	return e.Flags&FlagForwarded != 0
}

// WithForwarded returns a copy of e with FlagForwarded set, for a
// server that needs to forward a request on to the responsible peer.
func (e Envelope) WithForwarded() Envelope {
	e.Flags |= FlagForwarded
	return e
}
