package memory

import (
	"context"
	"sync"

	"github.com/xenking/checkout-service/internal/domain/order"
)

var _ order.InventoryGateway = (*Inventory)(nil)

// Inventory tracks stock levels per sku. Reserve validates every line
// before committing any decrement, so a failed reservation leaves stock
// untouched. Reservations for the same sku across different calls are
// serialized by the mutex.
type Inventory struct {
	mu    sync.Mutex
	stock map[order.SKU]int
}

// NewInventory returns an inventory seeded with the given stock levels.
func NewInventory(stock map[order.SKU]int) *Inventory {
	s := make(map[order.SKU]int, len(stock))
	for sku, qty := range stock {
		s[sku] = qty
	}
	return &Inventory{stock: s}
}

func (inv *Inventory) Reserve(_ context.Context, reservations []order.Reservation) error {
	inv.mu.Lock()
	defer inv.mu.Unlock()

	// Validate all, then commit all.
	for _, r := range reservations {
		if inv.stock[r.SKU] < r.Quantity {
			return order.NewOutOfStock(r.SKU)
		}
	}
	for _, r := range reservations {
		inv.stock[r.SKU] -= r.Quantity
	}
	return nil
}

// Stock returns the current level for a sku.
func (inv *Inventory) Stock(sku order.SKU) int {
	inv.mu.Lock()
	defer inv.mu.Unlock()
	return inv.stock[sku]
}
