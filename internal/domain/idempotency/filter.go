package idempotency

import (
	"context"
	"sync"

	"github.com/bits-and-blooms/bloom/v3"
)

// SeenFilter wraps a Repository with a bloom filter over started keys,
// eliding the initial Get for keys this process has definitely never
// started. First-time placements are the common case, so the elision
// saves one store round trip per fresh key.
//
// Safety does not depend on the filter: a false "absent" (for example a
// record created by another node) makes the caller attempt Start, whose
// atomic insert fails with ErrAlreadyStarted and forces the usual
// re-read. Start adds the key to the filter before delegating, so that
// re-read reaches the backing store.
type SeenFilter struct {
	next Repository

	mu     sync.Mutex
	filter *bloom.BloomFilter
}

var _ Repository = (*SeenFilter)(nil)

// NewSeenFilter wraps next with a filter sized for the expected number of
// distinct keys at a 1% false-positive rate.
func NewSeenFilter(next Repository, expectedKeys uint) *SeenFilter {
	return &SeenFilter{
		next:   next,
		filter: bloom.NewWithEstimates(expectedKeys, 0.01),
	}
}

func (f *SeenFilter) pairKey(customerID, key string) []byte {
	b := make([]byte, 0, len(customerID)+len(key)+1)
	b = append(b, customerID...)
	b = append(b, 0)
	b = append(b, key...)
	return b
}

func (f *SeenFilter) Get(ctx context.Context, customerID, key string) (*Record, error) {
	f.mu.Lock()
	seen := f.filter.Test(f.pairKey(customerID, key))
	f.mu.Unlock()
	if !seen {
		return nil, nil
	}
	return f.next.Get(ctx, customerID, key)
}

func (f *SeenFilter) Start(ctx context.Context, customerID, key, orderID, requestHash string) error {
	f.mu.Lock()
	f.filter.Add(f.pairKey(customerID, key))
	f.mu.Unlock()
	return f.next.Start(ctx, customerID, key, orderID, requestHash)
}

func (f *SeenFilter) Complete(ctx context.Context, customerID, key string, snapshot []byte) error {
	return f.next.Complete(ctx, customerID, key, snapshot)
}

func (f *SeenFilter) Fail(ctx context.Context, customerID, key, previousError string) error {
	return f.next.Fail(ctx, customerID, key, previousError)
}
