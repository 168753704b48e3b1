package postgres

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/checkout-service/internal/domain/idempotency"
)

var _ idempotency.Repository = (*IdempotencyRepository)(nil)

// IdempotencyRepository stores deduplication records in the
// idempotency_keys table. Start relies on the (customer_id, key) primary
// key: `INSERT ... ON CONFLICT DO NOTHING` inserts exactly one record
// among concurrent duplicates without ever raising, and a zero row count
// tells the loser it lost.
type IdempotencyRepository struct {
	pool *pgxpool.Pool
}

// NewIdempotencyRepository returns a repository that uses the given pool.
func NewIdempotencyRepository(pool *pgxpool.Pool) *IdempotencyRepository {
	return &IdempotencyRepository{pool: pool}
}

const getRecordSQL = `SELECT customer_id, key, status, order_id, request_hash,
		started_at, updated_at, previous_error, snapshot
	FROM idempotency_keys WHERE customer_id = $1 AND key = $2`

func (r *IdempotencyRepository) Get(ctx context.Context, customerID, key string) (*idempotency.Record, error) {
	var rec idempotency.Record
	err := r.pool.QueryRow(ctx, getRecordSQL, customerID, key).Scan(
		&rec.CustomerID, &rec.Key, &rec.Status, &rec.OrderID, &rec.RequestHash,
		&rec.StartedAt, &rec.UpdatedAt, &rec.PreviousError, &rec.Snapshot,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, errors.Wrap(err, "get idempotency record")
	}
	return &rec, nil
}

const startRecordSQL = `INSERT INTO idempotency_keys
		(customer_id, key, status, order_id, request_hash, started_at, updated_at)
	VALUES ($1, $2, $3, $4, $5, now(), now())
	ON CONFLICT (customer_id, key) DO NOTHING`

func (r *IdempotencyRepository) Start(ctx context.Context, customerID, key, orderID, requestHash string) error {
	tag, err := r.pool.Exec(ctx, startRecordSQL,
		customerID, key, idempotency.StatusInProgress, orderID, requestHash,
	)
	if err != nil {
		return errors.Wrap(err, "start idempotency record")
	}
	if tag.RowsAffected() == 0 {
		return idempotency.ErrAlreadyStarted
	}
	return nil
}

const completeRecordSQL = `UPDATE idempotency_keys
	SET status = $3, snapshot = $4, updated_at = now()
	WHERE customer_id = $1 AND key = $2 AND status = $5`

func (r *IdempotencyRepository) Complete(ctx context.Context, customerID, key string, snapshot []byte) error {
	tag, err := r.pool.Exec(ctx, completeRecordSQL,
		customerID, key, idempotency.StatusCompleted, snapshot, idempotency.StatusInProgress,
	)
	if err != nil {
		return errors.Wrap(err, "complete idempotency record")
	}
	return r.checkFinalized(ctx, tag, customerID, key)
}

const failRecordSQL = `UPDATE idempotency_keys
	SET status = $3, previous_error = $4, updated_at = now()
	WHERE customer_id = $1 AND key = $2 AND status = $5`

func (r *IdempotencyRepository) Fail(ctx context.Context, customerID, key, previousError string) error {
	tag, err := r.pool.Exec(ctx, failRecordSQL,
		customerID, key, idempotency.StatusFailed, previousError, idempotency.StatusInProgress,
	)
	if err != nil {
		return errors.Wrap(err, "fail idempotency record")
	}
	return r.checkFinalized(ctx, tag, customerID, key)
}

// checkFinalized distinguishes a missing record from an already-terminal
// one when a transition matched no rows. The latter is benign: two
// recoverers racing at the TTL boundary both try to finalize.
func (r *IdempotencyRepository) checkFinalized(ctx context.Context, tag pgconnCommandTag, customerID, key string) error {
	if tag.RowsAffected() > 0 {
		return nil
	}
	rec, err := r.Get(ctx, customerID, key)
	if err != nil {
		return err
	}
	if rec == nil {
		return idempotency.ErrNoRecord
	}
	return nil
}

// pgconnCommandTag is the subset of pgconn.CommandTag the repository
// needs; it keeps checkFinalized trivially testable.
type pgconnCommandTag interface {
	RowsAffected() int64
}
