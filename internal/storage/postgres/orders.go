package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/xenking/checkout-service/internal/domain/money"
	"github.com/xenking/checkout-service/internal/domain/order"
)

// uniqueViolation is the PostgreSQL error code for duplicate keys.
const uniqueViolation = "23505"

var _ order.Repository = (*OrderRepository)(nil)

// OrderRepository implements order.Repository backed by PostgreSQL.
// Line items live in a JSONB column; the total is denormalized into its
// own NUMERIC column so listings can sort on it.
type OrderRepository struct {
	pool *pgxpool.Pool
}

// NewOrderRepository returns an OrderRepository that uses the given pool.
func NewOrderRepository(pool *pgxpool.Pool) *OrderRepository {
	return &OrderRepository{pool: pool}
}

// lineRow is the JSONB shape of one stored line item.
type lineRow struct {
	SKU       string `json:"sku"`
	UnitPrice string `json:"unit_price"`
	Quantity  int    `json:"quantity"`
}

const saveOrderSQL = `INSERT INTO orders (id, customer_id, currency, items, total, created_at)
	VALUES ($1, $2, $3, $4, $5, $6)`

func (r *OrderRepository) Save(ctx context.Context, o *order.Order) error {
	items := make([]lineRow, len(o.Items))
	currency := ""
	for i, it := range o.Items {
		items[i] = lineRow{
			SKU:       string(it.SKU),
			UnitPrice: it.UnitPrice.AmountString(),
			Quantity:  it.Quantity,
		}
		currency = it.UnitPrice.Currency
	}
	itemsJSON, err := json.Marshal(items)
	if err != nil {
		return errors.Wrap(err, "marshal order items")
	}
	total, err := o.Total()
	if err != nil {
		return errors.Wrap(err, "order total")
	}

	_, err = r.pool.Exec(ctx, saveOrderSQL,
		string(o.ID), string(o.CustomerID), currency, itemsJSON, total.Amount, o.CreatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return order.NewPersistenceError("order id already exists")
		}
		return errors.Wrapf(err, "save order %q", o.ID)
	}
	return nil
}

const getOrderSQL = `SELECT id, customer_id, currency, items, created_at
	FROM orders WHERE id = $1`

func (r *OrderRepository) Get(ctx context.Context, id order.OrderID) (*order.Order, error) {
	row := r.pool.QueryRow(ctx, getOrderSQL, string(id))
	o, err := scanOrder(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, order.NewOrderNotFound(id)
		}
		return nil, errors.Wrapf(err, "get order %q", id)
	}
	return o, nil
}

func (r *OrderRepository) List(ctx context.Context, f order.ListFilter) ([]*order.Order, error) {
	sortCol := "created_at"
	if f.SortBy == order.SortByTotal {
		sortCol = "total"
	}
	dir := "DESC"
	if f.SortDir == order.SortAsc {
		dir = "ASC"
	}

	query := `SELECT id, customer_id, currency, items, created_at FROM orders`
	args := []any{}
	if f.CustomerID != "" {
		query += ` WHERE customer_id = $1`
		args = append(args, string(f.CustomerID))
	}
	query += fmt.Sprintf(" ORDER BY %s %s OFFSET $%d LIMIT $%d", sortCol, dir, len(args)+1, len(args)+2)
	args = append(args, f.Offset, f.Limit)

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "list orders")
	}
	defer rows.Close()

	var orders []*order.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, errors.Wrap(err, "scan order")
		}
		orders = append(orders, o)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "list orders")
	}
	return orders, nil
}

func scanOrder(row pgx.Row) (*order.Order, error) {
	var (
		o         order.Order
		id        string
		customer  string
		currency  string
		itemsJSON []byte
	)
	if err := row.Scan(&id, &customer, &currency, &itemsJSON, &o.CreatedAt); err != nil {
		return nil, err
	}
	o.ID = order.OrderID(id)
	o.CustomerID = order.CustomerID(customer)

	var items []lineRow
	if err := json.Unmarshal(itemsJSON, &items); err != nil {
		return nil, errors.Wrap(err, "unmarshal order items")
	}
	o.Items = make([]order.LineItem, len(items))
	for i, it := range items {
		price, err := decimal.NewFromString(it.UnitPrice)
		if err != nil {
			return nil, errors.Wrapf(err, "parse unit price %q", it.UnitPrice)
		}
		o.Items[i] = order.LineItem{
			SKU:       order.SKU(it.SKU),
			UnitPrice: money.Of(price, currency),
			Quantity:  it.Quantity,
		}
	}
	return &o, nil
}
