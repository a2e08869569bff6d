package idgen

import (
	"context"
	"encoding/binary"
	"fmt"

	"github.com/fireflyer/ffs/pkg/kv"
	"github.com/fireflyer/ffs/pkg/schema"
)

const (
	counterConfigKey    = "idgen/counter"
	generationConfigKey = "idgen/generation"

	// generationBits reserves the top 16 bits of an InodeId for the
	// generation, leaving 48 bits (≈281 trillion ids) for the dense
	// per-generation counter.
	generationBits = 16
	counterBits    = 64 - generationBits
	counterMask    = (uint64(1) << counterBits) - 1
)

// Allocator hands out InodeIds backed by a kv.Engine counter, so every
// metadata server in the cluster draws from the same sequence regardless
// of which one handles a given create.
type Allocator struct {
	engine kv.Engine
	policy kv.RetryPolicy
}

// NewAllocator builds an allocator over engine using the default retry
// policy for the bump transaction.
func NewAllocator(engine kv.Engine) *Allocator {
	return &Allocator{engine: engine, policy: kv.DefaultRetryPolicy}
}

// Next allocates and returns the next InodeId, persisting the new
// high-water mark before returning so no two callers (even across
// processes) ever observe the same id.
func (a *Allocator) Next(ctx context.Context) (schema.InodeId, error) {
	var next uint64
	_, err := kv.RunTransaction(ctx, a.engine, a.policy, false, func(ctx context.Context, txn kv.ReadWriteTransaction) error {
		generation, counter, err := a.readState(ctx, txn)
		if err != nil {
			return err
		}
		counter++
		if counter > counterMask {
			return kv.NewError(kv.CodeFatal, "idgen: counter exhausted generation %d", generation)
		}
		txn.Set(schema.ConfigKey(counterConfigKey), encodeUint64(counter))
		next = (uint64(generation) << counterBits) | counter
		return nil
	})
	if err != nil {
		return 0, err
	}
	return schema.InodeId(next), nil
}

// readState loads the current generation and counter, starting at
// generation 0 and counter 0 if the generation key has never been
// written (the first allocation against this store).
func (a *Allocator) readState(ctx context.Context, txn kv.ReadWriteTransaction) (generation uint16, counter uint64, err error) {
	genBytes, ok, err := txn.Get(ctx, schema.ConfigKey(generationConfigKey))
	if err != nil {
		return 0, 0, err
	}
	if !ok {
		// First allocation ever against this store: generation 0,
		// counter starts at 0 so the first Next() returns 1.
		txn.Set(schema.ConfigKey(generationConfigKey), encodeUint16(0))
		return 0, 0, nil
	}
	generation, err = decodeUint16(genBytes)
	if err != nil {
		return 0, 0, err
	}

	counterBytes, ok, err := txn.Get(ctx, schema.ConfigKey(counterConfigKey))
	if err != nil {
		return 0, 0, err
	}
	if !ok {
		return generation, 0, nil
	}
	counter, err = decodeUint64(counterBytes)
	if err != nil {
		return 0, 0, err
	}
	return generation, counter, nil
}

func encodeUint64(v uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, v)
	return b
}

func decodeUint64(b []byte) (uint64, error) {
	if len(b) != 8 {
		return 0, fmt.Errorf("idgen: expected 8-byte counter, got %d", len(b))
	}
	return binary.BigEndian.Uint64(b), nil
}

func encodeUint16(v uint16) []byte {
	b := make([]byte, 2)
	binary.BigEndian.PutUint16(b, v)
	return b
}

func decodeUint16(b []byte) (uint16, error) {
	if len(b) != 2 {
		return 0, fmt.Errorf("idgen: expected 2-byte generation, got %d", len(b))
	}
	return binary.BigEndian.Uint16(b), nil
}
