// Package payment provides the stand-in payment backend. It screens
// charges locally instead of calling a processor: configured tokens are
// declined outright and amounts above the cap are rejected. The real
// processor integration plugs in behind the same order.PaymentGateway
// port.
package payment

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/xenking/checkout-service/internal/domain/order"
)

var _ order.PaymentGateway = (*TokenGateway)(nil)

// DefaultMaxCharge is the per-charge amount cap when none is configured.
var DefaultMaxCharge = decimal.RequireFromString("1000000.00")

// TokenGateway declines blacklisted tokens and over-cap amounts.
type TokenGateway struct {
	declined  map[string]struct{}
	maxCharge decimal.Decimal
}

// NewTokenGateway builds a gateway declining the given tokens. A zero
// maxCharge falls back to DefaultMaxCharge.
func NewTokenGateway(declineTokens []string, maxCharge decimal.Decimal) *TokenGateway {
	declined := make(map[string]struct{}, len(declineTokens))
	for _, t := range declineTokens {
		declined[t] = struct{}{}
	}
	if maxCharge.IsZero() {
		maxCharge = DefaultMaxCharge
	}
	return &TokenGateway{declined: declined, maxCharge: maxCharge}
}

func (g *TokenGateway) Charge(_ context.Context, req order.ChargeRequest) error {
	if _, blocked := g.declined[req.Token]; blocked {
		return order.NewPaymentDeclined("token_blacklisted")
	}
	if req.Amount.Amount.GreaterThan(g.maxCharge) {
		return order.NewPaymentDeclined("limit_exceeded")
	}
	return nil
}
