// Package order implements the order placement workflow: command
// validation, the order aggregate, the idempotency protocol, and the
// side-effecting step pipeline behind it.
package order

import (
	"time"

	"github.com/google/uuid"

	"github.com/xenking/checkout-service/internal/domain/money"
)

// OrderID identifies a single order. Equality is by value.
type OrderID string

// NewOrderID returns a fresh random order id.
func NewOrderID() OrderID {
	return OrderID(uuid.New().String())
}

// CustomerID identifies the ordering customer.
type CustomerID string

// SKU identifies a stock keeping unit.
type SKU string

// LineItem is a single priced line of an order.
type LineItem struct {
	SKU       SKU
	UnitPrice money.Money
	Quantity  int
}

// Subtotal is unit price times quantity, normalized to two decimals.
func (li LineItem) Subtotal() money.Money {
	return li.UnitPrice.MulInt(li.Quantity)
}

// Order is the immutable order aggregate. It is created exactly once per
// placement attempt; a recovery re-run reuses the same id rather than
// building a new aggregate.
type Order struct {
	ID         OrderID
	CustomerID CustomerID
	Items      []LineItem
	CreatedAt  time.Time
}

// Total sums the line subtotals. Construction guarantees a single
// currency per order, so the mismatch branch is unreachable in practice;
// it is still surfaced as an error rather than a silent coercion.
func (o *Order) Total() (money.Money, error) {
	total := money.Zero(o.Items[0].UnitPrice.Currency)
	for _, it := range o.Items {
		sum, err := total.Add(it.Subtotal())
		if err != nil {
			return money.Money{}, err
		}
		total = sum
	}
	return total, nil
}

// Receipt is the success value of order placement.
type Receipt struct {
	OrderID    OrderID
	CustomerID CustomerID
	Total      money.Money
}

// buildOrder constructs the aggregate from a validated command. Pure:
// the caller supplies the id (fresh, or reused on recovery) and the
// clock reading.
func buildOrder(cmd PlaceOrderCommand, id OrderID, now time.Time) *Order {
	items := make([]LineItem, len(cmd.Lines))
	for i, ln := range cmd.Lines {
		items[i] = LineItem{
			SKU:       SKU(ln.SKU),
			UnitPrice: money.Of(ln.UnitPrice, cmd.Currency),
			Quantity:  ln.Quantity,
		}
	}
	return &Order{
		ID:         id,
		CustomerID: CustomerID(cmd.CustomerID),
		Items:      items,
		CreatedAt:  now,
	}
}

func receiptFromOrder(o *Order) (*Receipt, error) {
	total, err := o.Total()
	if err != nil {
		return nil, err
	}
	return &Receipt{OrderID: o.ID, CustomerID: o.CustomerID, Total: total}, nil
}
