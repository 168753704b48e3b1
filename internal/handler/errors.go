package handler

import (
	"net/http"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/checkout-service/internal/domain/order"
)

// statusFor maps domain error kinds to HTTP status codes.
func statusFor(kind order.Kind) int {
	switch kind {
	case order.KindValidation:
		return http.StatusBadRequest
	case order.KindOrderNotFound:
		return http.StatusNotFound
	case order.KindIdempotencyKeyConflict, order.KindIdempotencyInProgress:
		return http.StatusConflict
	case order.KindOutOfStock, order.KindPaymentDeclined, order.KindIdempotencyFailed:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

// writeError renders a domain error as a JSON body with a machine-readable
// error code and the kind-specific fields. Non-domain errors are logged
// and hidden behind a generic 500.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	var de *order.Error
	if !errors.As(err, &de) {
		zctx.From(r.Context()).Error("unhandled error", zap.Error(err))
		de = &order.Error{Kind: order.KindUnknown, Message: "internal error"}
	}

	var e jx.Encoder
	e.Obj(func(e *jx.Encoder) {
		e.Field("error", func(e *jx.Encoder) { e.Str(de.Kind.String()) })
		e.Field("message", func(e *jx.Encoder) { e.Str(de.Message) })
		if de.SKU != "" {
			e.Field("sku", func(e *jx.Encoder) { e.Str(de.SKU) })
		}
		if de.Reason != "" {
			e.Field("reason", func(e *jx.Encoder) { e.Str(de.Reason) })
		}
		if de.OrderID != "" {
			e.Field("order_id", func(e *jx.Encoder) { e.Str(de.OrderID) })
		}
		if de.Key != "" {
			e.Field("idempotency_key", func(e *jx.Encoder) { e.Str(de.Key) })
		}
		if de.PreviousError != "" {
			e.Field("previous_error", func(e *jx.Encoder) { e.Str(de.PreviousError) })
		}
	})
	writeJSON(w, statusFor(de.Kind), &e)
}
