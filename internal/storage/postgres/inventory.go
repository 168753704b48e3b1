package postgres

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/checkout-service/internal/domain/order"
)

var _ order.InventoryGateway = (*Inventory)(nil)

// Inventory reserves stock from the inventory table. Each reservation is
// one transaction: the requested rows are locked, every line is validated
// against available stock, and only then are the decrements applied. A
// failed line aborts with no stock mutated.
type Inventory struct {
	pool *pgxpool.Pool
}

// NewInventory returns an inventory gateway that uses the given pool.
func NewInventory(pool *pgxpool.Pool) *Inventory {
	return &Inventory{pool: pool}
}

const lockStockSQL = `SELECT sku, quantity FROM inventory
	WHERE sku = ANY($1) FOR UPDATE`

const decrementStockSQL = `UPDATE inventory SET quantity = quantity - $2
	WHERE sku = $1`

func (inv *Inventory) Reserve(ctx context.Context, reservations []order.Reservation) error {
	skus := make([]string, len(reservations))
	for i, r := range reservations {
		skus[i] = string(r.SKU)
	}

	return pgx.BeginFunc(ctx, inv.pool, func(tx pgx.Tx) error {
		rows, err := tx.Query(ctx, lockStockSQL, skus)
		if err != nil {
			return errors.Wrap(err, "lock stock rows")
		}
		available := make(map[order.SKU]int, len(reservations))
		for rows.Next() {
			var (
				sku string
				qty int
			)
			if err := rows.Scan(&sku, &qty); err != nil {
				rows.Close()
				return errors.Wrap(err, "scan stock row")
			}
			available[order.SKU(sku)] = qty
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return errors.Wrap(err, "read stock rows")
		}

		// Validate all lines before touching anything. A sku with no row
		// has zero stock.
		for _, r := range reservations {
			if available[r.SKU] < r.Quantity {
				return order.NewOutOfStock(r.SKU)
			}
		}

		for _, r := range reservations {
			if _, err := tx.Exec(ctx, decrementStockSQL, string(r.SKU), r.Quantity); err != nil {
				return errors.Wrapf(err, "decrement stock for %q", r.SKU)
			}
		}
		return nil
	})
}

const upsertStockSQL = `INSERT INTO inventory (sku, quantity) VALUES ($1, $2)
	ON CONFLICT (sku) DO UPDATE SET quantity = EXCLUDED.quantity`

// SetStock creates or replaces the stock level for a sku. Used by the
// seed tooling.
func (inv *Inventory) SetStock(ctx context.Context, sku order.SKU, quantity int) error {
	if _, err := inv.pool.Exec(ctx, upsertStockSQL, string(sku), quantity); err != nil {
		return errors.Wrapf(err, "set stock for %q", sku)
	}
	return nil
}
