package order

import (
	"context"

	"github.com/xenking/checkout-service/internal/domain/money"
)

// Reservation is a tentative stock decrement for a single sku.
type Reservation struct {
	SKU      SKU
	Quantity int
}

// InventoryGateway reserves stock for an order. Reserve validates every
// requested quantity before committing any decrement: either all lines
// are reserved or none are, and an insufficient line fails with an
// OutOfStock error naming its sku.
type InventoryGateway interface {
	Reserve(ctx context.Context, reservations []Reservation) error
}

// ChargeRequest carries everything the payment backend needs for one
// charge attempt.
type ChargeRequest struct {
	CustomerID CustomerID
	Amount     money.Money
	Token      string
}

// PaymentGateway charges the customer. Declines surface as a
// PaymentDeclined error with a reason code.
type PaymentGateway interface {
	Charge(ctx context.Context, req ChargeRequest) error
}

// SortField selects the ordering column for listings.
type SortField string

const (
	SortByCreatedAt SortField = "created_at"
	SortByTotal     SortField = "total"
)

// SortDir selects ascending or descending order.
type SortDir string

const (
	SortAsc  SortDir = "asc"
	SortDesc SortDir = "desc"
)

// ListFilter is the repository-level query for listings. It is produced
// by ListOrders after validation; repositories may assume it is well
// formed.
type ListFilter struct {
	Offset int
	Limit  int
	// CustomerID filters to a single customer when non-empty.
	CustomerID CustomerID
	SortBy     SortField
	SortDir    SortDir
}

// Repository persists orders. Save fails with a PersistenceError when the
// order id already exists; Get fails with OrderNotFound.
type Repository interface {
	Save(ctx context.Context, o *Order) error
	Get(ctx context.Context, id OrderID) (*Order, error)
	List(ctx context.Context, f ListFilter) ([]*Order, error)
}

// OrderPlaced is the domain event emitted after an order is persisted.
type OrderPlaced struct {
	OrderID OrderID
}

// EventPublisher emits domain events for downstream consumers.
type EventPublisher interface {
	PublishOrderPlaced(ctx context.Context, ev OrderPlaced) error
}
