package order

import (
	"strings"

	"github.com/shopspring/decimal"
)

// CommandLine is one requested line of a placement command, before any
// normalization.
type CommandLine struct {
	SKU       string
	UnitPrice decimal.Decimal
	Quantity  int
}

// PlaceOrderCommand is the immutable input to PlaceOrder, produced by the
// adapter layer. An empty IdempotencyKey means the caller opted out of
// deduplication.
type PlaceOrderCommand struct {
	CustomerID     string
	Lines          []CommandLine
	PaymentToken   string
	Currency       string
	IdempotencyKey string
}

// Validate checks the command in a fixed order, short-circuiting on the
// first violation. It has no side effects.
func (c PlaceOrderCommand) Validate() error {
	if strings.TrimSpace(c.CustomerID) == "" {
		return validationErrorf("customer_id is required")
	}
	if len(c.Lines) == 0 {
		return validationErrorf("at least one line item is required")
	}
	if strings.TrimSpace(c.PaymentToken) == "" {
		return validationErrorf("payment_token is required")
	}
	if c.IdempotencyKey != "" && strings.TrimSpace(c.IdempotencyKey) == "" {
		return validationErrorf("idempotency_key must be non-empty when provided")
	}
	for i, ln := range c.Lines {
		if strings.TrimSpace(ln.SKU) == "" {
			return validationErrorf("lines[%d].sku is required", i)
		}
		if ln.Quantity <= 0 {
			return validationErrorf("lines[%d].quantity must be > 0", i)
		}
		if !ln.UnitPrice.IsPositive() {
			return validationErrorf("lines[%d].unit_price must be > 0", i)
		}
	}
	return nil
}
