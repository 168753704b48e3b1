package memory

import (
	"context"
	"sync"
	"time"

	"github.com/xenking/checkout-service/internal/domain/idempotency"
)

var _ idempotency.Repository = (*IdempotencyRepository)(nil)

type pairKey struct {
	customerID string
	key        string
}

// IdempotencyRepository keeps deduplication records in a map. The mutex
// makes Start an atomic insert-if-absent, which is the property the
// protocol needs from any backing store.
type IdempotencyRepository struct {
	mu      sync.Mutex
	records map[pairKey]idempotency.Record
	now     func() time.Time
}

// NewIdempotencyRepository returns an empty in-memory record store.
func NewIdempotencyRepository() *IdempotencyRepository {
	return &IdempotencyRepository{
		records: make(map[pairKey]idempotency.Record),
		now:     time.Now,
	}
}

// SetClock overrides the time source. Used by tests exercising TTL expiry.
func (r *IdempotencyRepository) SetClock(now func() time.Time) {
	r.now = now
}

func (r *IdempotencyRepository) Get(_ context.Context, customerID, key string) (*idempotency.Record, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.records[pairKey{customerID, key}]
	if !ok {
		return nil, nil
	}
	// Copy: callers must never observe later transitions through a
	// previously returned record.
	out := rec
	return &out, nil
}

func (r *IdempotencyRepository) Start(_ context.Context, customerID, key, orderID, requestHash string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	k := pairKey{customerID, key}
	if _, exists := r.records[k]; exists {
		return idempotency.ErrAlreadyStarted
	}
	now := r.now().UTC()
	r.records[k] = idempotency.Record{
		CustomerID:  customerID,
		Key:         key,
		Status:      idempotency.StatusInProgress,
		OrderID:     orderID,
		RequestHash: requestHash,
		StartedAt:   now,
		UpdatedAt:   now,
	}
	return nil
}

func (r *IdempotencyRepository) Complete(_ context.Context, customerID, key string, snapshot []byte) error {
	return r.finish(customerID, key, func(rec *idempotency.Record) {
		rec.Status = idempotency.StatusCompleted
		rec.Snapshot = snapshot
	})
}

func (r *IdempotencyRepository) Fail(_ context.Context, customerID, key, previousError string) error {
	return r.finish(customerID, key, func(rec *idempotency.Record) {
		rec.Status = idempotency.StatusFailed
		rec.PreviousError = previousError
	})
}

func (r *IdempotencyRepository) finish(customerID, key string, apply func(*idempotency.Record)) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	k := pairKey{customerID, key}
	rec, ok := r.records[k]
	if !ok {
		return idempotency.ErrNoRecord
	}
	if rec.Terminal() {
		// Terminal records are immutable; a duplicate finalization (two
		// recoverers at the TTL boundary) is benign.
		return nil
	}
	apply(&rec)
	rec.UpdatedAt = r.now().UTC()
	r.records[k] = rec
	return nil
}
