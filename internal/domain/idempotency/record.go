// Package idempotency defines the keyed deduplication record and its
// storage port. A record exists per (customer, key) pair and moves through
// a small state machine: it is created IN_PROGRESS by an atomic Start and
// transitions exactly once to COMPLETED or FAILED, after which it is
// immutable.
package idempotency

import (
	"context"
	"time"

	"github.com/go-faster/errors"
)

// Status is the lifecycle state of a record.
type Status string

const (
	StatusInProgress Status = "IN_PROGRESS"
	StatusCompleted  Status = "COMPLETED"
	StatusFailed     Status = "FAILED"
)

// Record is the stored deduplication state for one (customer, key) pair.
// Treat values as immutable; transitions go through the Repository.
type Record struct {
	CustomerID  string
	Key         string
	Status      Status
	OrderID     string
	RequestHash string
	StartedAt   time.Time
	UpdatedAt   time.Time
	// PreviousError names the error kind of a FAILED attempt.
	PreviousError string
	// Snapshot holds the serialized receipt of a COMPLETED attempt.
	// Optional: replay falls back to the order repository when absent.
	Snapshot []byte
}

// Terminal reports whether the record can no longer change state.
func (r *Record) Terminal() bool {
	return r.Status == StatusCompleted || r.Status == StatusFailed
}

// ExpiredAt reports whether an IN_PROGRESS record is older than ttl at
// the given instant. Terminal records never expire.
func (r *Record) ExpiredAt(now time.Time, ttl time.Duration) bool {
	return r.Status == StatusInProgress && now.Sub(r.StartedAt) > ttl
}

// ErrAlreadyStarted is returned by Start when a record for the pair
// already exists. The caller re-reads once and proceeds with the winner's
// record.
var ErrAlreadyStarted = errors.New("idempotency record already exists")

// ErrNoRecord is returned by Complete and Fail when no record exists for
// the pair. Transitions require a prior successful Start.
var ErrNoRecord = errors.New("idempotency record not found")

// Repository stores deduplication records. Start MUST be atomic
// insert-if-absent (a uniqueness constraint or compare-and-swap in the
// backing store): among concurrent duplicates exactly one caller becomes
// the IN_PROGRESS owner. A plain read-then-write reintroduces the race
// this protocol exists to prevent.
type Repository interface {
	// Get returns the record for the pair, or nil when absent.
	Get(ctx context.Context, customerID, key string) (*Record, error)
	// Start atomically creates an IN_PROGRESS record, or returns
	// ErrAlreadyStarted when one exists.
	Start(ctx context.Context, customerID, key, orderID, requestHash string) error
	// Complete transitions IN_PROGRESS to COMPLETED, attaching the
	// receipt snapshot.
	Complete(ctx context.Context, customerID, key string, snapshot []byte) error
	// Fail transitions IN_PROGRESS to FAILED, recording the error kind of
	// the failed attempt.
	Fail(ctx context.Context, customerID, key, previousError string) error
}
