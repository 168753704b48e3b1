// Package memory provides in-process implementations of the outbound
// ports. They back the service in storage-less deployments and serve as
// reference implementations for tests; the PostgreSQL implementations in
// the sibling package are the production backends.
package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/xenking/checkout-service/internal/domain/order"
)

var _ order.Repository = (*OrderRepository)(nil)

// OrderRepository stores orders in a map guarded by a mutex. Save is
// first-writer-wins: a duplicate id is a PersistenceError, which the
// recovery path depends on.
type OrderRepository struct {
	mu     sync.RWMutex
	byID   map[order.OrderID]*order.Order
	insert []order.OrderID
}

// NewOrderRepository returns an empty in-memory order store.
func NewOrderRepository() *OrderRepository {
	return &OrderRepository{byID: make(map[order.OrderID]*order.Order)}
}

func (r *OrderRepository) Save(_ context.Context, o *order.Order) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.byID[o.ID]; exists {
		return order.NewPersistenceError("order id already exists")
	}
	r.byID[o.ID] = o
	r.insert = append(r.insert, o.ID)
	return nil
}

func (r *OrderRepository) Get(_ context.Context, id order.OrderID) (*order.Order, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	o, ok := r.byID[id]
	if !ok {
		return nil, order.NewOrderNotFound(id)
	}
	return o, nil
}

func (r *OrderRepository) List(_ context.Context, f order.ListFilter) ([]*order.Order, error) {
	r.mu.RLock()
	orders := make([]*order.Order, 0, len(r.insert))
	for _, id := range r.insert {
		o := r.byID[id]
		if f.CustomerID != "" && o.CustomerID != f.CustomerID {
			continue
		}
		orders = append(orders, o)
	}
	r.mu.RUnlock()

	desc := f.SortDir == order.SortDesc
	switch f.SortBy {
	case order.SortByTotal:
		sort.SliceStable(orders, func(i, j int) bool {
			ti, _ := orders[i].Total()
			tj, _ := orders[j].Total()
			if desc {
				return tj.Amount.LessThan(ti.Amount)
			}
			return ti.Amount.LessThan(tj.Amount)
		})
	default:
		sort.SliceStable(orders, func(i, j int) bool {
			if desc {
				return orders[j].CreatedAt.Before(orders[i].CreatedAt)
			}
			return orders[i].CreatedAt.Before(orders[j].CreatedAt)
		})
	}

	if f.Offset >= len(orders) {
		return nil, nil
	}
	end := f.Offset + f.Limit
	if end > len(orders) {
		end = len(orders)
	}
	return orders[f.Offset:end], nil
}
