package meta

import (
	"context"
	"testing"

	"github.com/fireflyer/ffs/pkg/distributor"
	"github.com/fireflyer/ffs/pkg/kv"
	"github.com/fireflyer/ffs/pkg/routing"
	"github.com/fireflyer/ffs/pkg/schema"
	"github.com/fireflyer/ffs/pkg/transport"
	"github.com/google/uuid"
)

// fakeRouting is a RoutingSource backed by a fixed RoutingInfo, enough
// for the chain-table-validation paths create/setLayout exercise
// without standing up a real mgmtd.
type fakeRouting struct{ info routing.RoutingInfo }

func (f fakeRouting) RoutingInfo() routing.RoutingInfo { return f.info }

// newTestServer builds a single-node meta server: the distributor's
// active set is just this node, so IsLocal is always true and no
// request ever needs forwarding.
func newTestServer(t *testing.T) (*Server, kv.Engine) {
	t.Helper()
	engine := kv.NewMemoryEngine()
	dist := distributor.NewDistributor(engine, 1)
	if err := dist.Start(context.Background()); err != nil {
		t.Fatalf("distributor Start: %v", err)
	}
	s := NewServer(Config{NodeID: 1}, engine, dist, fakeRouting{}, transport.NewLocal())
	return s, engine
}

// seedRootDir writes a root directory inode (id 1) directly, since
// nothing in meta itself creates the tree root; that is a cluster
// bootstrap concern outside this package.
func seedRootDir(t *testing.T, engine kv.Engine, uid, gid uint32) schema.InodeId {
	t.Helper()
	const root = schema.InodeId(1)
	_, err := kv.RunTransaction(context.Background(), engine, kv.DefaultRetryPolicy, true, func(ctx context.Context, txn kv.ReadWriteTransaction) error {
		txn.Set(schema.InodeKey(root), schema.Inode{
			Id:    root,
			Type:  schema.InodeTypeDirectory,
			ACL:   schema.ACL{Uid: uid, Gid: gid, Mode: 0o755},
			Nlink: 1,
		}.Encode())
		return nil
	})
	if err != nil {
		t.Fatalf("seedRootDir: %v", err)
	}
	return root
}

// seedUser writes a USER record for token, so authenticate resolves it.
func seedUser(t *testing.T, engine kv.Engine, token string, uid, gid uint32) {
	t.Helper()
	_, err := kv.RunTransaction(context.Background(), engine, kv.DefaultRetryPolicy, true, func(ctx context.Context, txn kv.ReadWriteTransaction) error {
		txn.Set(schema.UserKey(token), schema.UserRecord{Uid: uid, Gid: gid}.Encode())
		return nil
	})
	if err != nil {
		t.Fatalf("seedUser: %v", err)
	}
}

func reqMeta() RequestMeta {
	return RequestMeta{Token: "tok", ClientId: "client-1", RequestUUID: uuid.New()}
}
