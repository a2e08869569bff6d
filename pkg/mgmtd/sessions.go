package mgmtd

import (
	"context"
	"encoding/binary"
	"time"

	"github.com/fireflyer/ffs/pkg/kv"
	"github.com/fireflyer/ffs/pkg/schema"
)

// ClientSession is the lease §6's getClientSession/extendClientSession
// pair manages: a client registers once, then periodically extends the
// lease before ExpiresAt, or mgmtd treats it as gone (its inode-level
// FileSessions are left for meta's own GC to notice independently,
// since a dropped client and a dropped file handle are different
// failures spec.md keeps apart).
type ClientSession struct {
	SessionID string
	ExpiresAt int64 // unix nanoseconds
}

// sessions manages ClientSession rows directly in the shared kv.Engine
// rather than through raft: a client lease is soft, renewed far more
// often than routing state changes, and tolerates the occasional lost
// write on a primary failover far better than node/chain/target state
// does — pushing it through the FSM would load the raft log with
// traffic the consensus group gains nothing from ordering.
type sessions struct {
	engine kv.Engine
	policy kv.RetryPolicy
}

func newSessions(engine kv.Engine) *sessions {
	return &sessions{engine: engine, policy: kv.DefaultRetryPolicy}
}

// GetClientSession creates sessionID's lease if absent, or returns its
// current record unchanged.
func (s *sessions) GetClientSession(ctx context.Context, sessionID string, ttl time.Duration) (ClientSession, error) {
	var out ClientSession
	_, err := kv.RunTransaction(ctx, s.engine, s.policy, true, func(ctx context.Context, txn kv.ReadWriteTransaction) error {
		key := schema.ClientSessionKey(sessionID)
		raw, ok, err := txn.Get(ctx, key)
		if err != nil {
			return err
		}
		if ok {
			out = decodeSession(sessionID, raw)
			return nil
		}
		out = ClientSession{SessionID: sessionID, ExpiresAt: time.Now().Add(ttl).UnixNano()}
		txn.Set(key, encodeSession(out))
		return nil
	})
	return out, err
}

// ExtendClientSession pushes sessionID's ExpiresAt forward by ttl from
// now, creating the session if it had already expired and been
// forgotten.
func (s *sessions) ExtendClientSession(ctx context.Context, sessionID string, ttl time.Duration) (ClientSession, error) {
	var out ClientSession
	_, err := kv.RunTransaction(ctx, s.engine, s.policy, true, func(ctx context.Context, txn kv.ReadWriteTransaction) error {
		key := schema.ClientSessionKey(sessionID)
		out = ClientSession{SessionID: sessionID, ExpiresAt: time.Now().Add(ttl).UnixNano()}
		txn.Set(key, encodeSession(out))
		return nil
	})
	return out, err
}

// PruneExpiredSessions clears every session whose ExpiresAt has passed,
// the background half of the lease this control loop owns.
func (s *sessions) PruneExpiredSessions(ctx context.Context) (int, error) {
	pruned := 0
	_, err := kv.RunTransaction(ctx, s.engine, s.policy, true, func(ctx context.Context, txn kv.ReadWriteTransaction) error {
		prefix := append([]byte{}, schema.PrefixClientSession...)
		rows, _, err := txn.GetRange(ctx, kv.Key(prefix), kv.Key(schema.PrefixRangeEnd(prefix)), 0)
		if err != nil {
			return err
		}
		now := time.Now().UnixNano()
		for _, row := range rows {
			sess := decodeSession("", row.Value)
			if sess.ExpiresAt < now {
				txn.Clear(row.Key)
				pruned++
			}
		}
		return nil
	})
	return pruned, err
}

func encodeSession(s ClientSession) []byte {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], uint64(s.ExpiresAt))
	return b[:]
}

func decodeSession(sessionID string, raw []byte) ClientSession {
	var expires int64
	if len(raw) == 8 {
		expires = int64(binary.BigEndian.Uint64(raw))
	}
	return ClientSession{SessionID: sessionID, ExpiresAt: expires}
}
