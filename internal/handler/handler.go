// Package handler exposes the order use cases over HTTP. It owns request
// parsing, response formatting, and the error-kind to status-code
// mapping; all business decisions stay in the domain service.
package handler

import (
	"net/http"

	"github.com/go-faster/jx"

	"github.com/xenking/checkout-service/internal/domain/order"
)

// IdempotencyKeyHeader carries the client-supplied deduplication token.
const IdempotencyKeyHeader = "Idempotency-Key"

// Config holds non-dependency configuration for the Handler.
type Config struct {
	// DefaultCurrency applies when a request omits its currency field.
	DefaultCurrency string
}

// Handler serves the order API.
type Handler struct {
	svc             *order.Service
	defaultCurrency string
}

// New constructs a Handler around the order service.
func New(cfg Config, svc *order.Service) *Handler {
	currency := cfg.DefaultCurrency
	if currency == "" {
		currency = "USD"
	}
	return &Handler{svc: svc, defaultCurrency: currency}
}

// Register attaches the API routes to the mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/orders", h.placeOrder)
	mux.HandleFunc("GET /api/orders/{id}", h.getOrder)
	mux.HandleFunc("GET /api/orders", h.listOrders)
}

// writeJSON renders the encoder's buffer with the given status.
func writeJSON(w http.ResponseWriter, status int, e *jx.Encoder) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(e.Bytes())
}
