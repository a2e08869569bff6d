package meta

import (
	"bytes"
	"context"
	"encoding/gob"

	"github.com/fireflyer/ffs/pkg/kv"
	"github.com/fireflyer/ffs/pkg/schema"
	"github.com/google/uuid"
)

// idempotent implements §4.6 step 4: "for each mutating op, read
// IDEM+uuid first; if present, return cached result", step 5: "stage
// writes; on success write an IDEM record whose value is the
// serialized result". out must be a pointer; on a cache hit it is
// populated by decoding the stored record instead of running fn.
func idempotent(ctx context.Context, txn kv.ReadWriteTransaction, requestUUID uuid.UUID, opTag string, out interface{}, fn func() error) error {
	key := schema.IdempotencyKey([16]byte(requestUUID), opTag)

	cached, ok, err := txn.Get(ctx, key)
	if err != nil {
		return err
	}
	if ok {
		return gob.NewDecoder(bytes.NewReader(cached)).Decode(out)
	}

	if err := fn(); err != nil {
		return err
	}

	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(out); err != nil {
		return err
	}
	txn.Set(key, buf.Bytes())
	return nil
}
