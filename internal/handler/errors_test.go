package handler

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/xenking/checkout-service/internal/domain/order"
)

func TestStatusFor(t *testing.T) {
	tests := []struct {
		kind   order.Kind
		status int
	}{
		{order.KindValidation, http.StatusBadRequest},
		{order.KindOrderNotFound, http.StatusNotFound},
		{order.KindIdempotencyKeyConflict, http.StatusConflict},
		{order.KindIdempotencyInProgress, http.StatusConflict},
		{order.KindOutOfStock, http.StatusUnprocessableEntity},
		{order.KindPaymentDeclined, http.StatusUnprocessableEntity},
		{order.KindIdempotencyFailed, http.StatusUnprocessableEntity},
		{order.KindPersistence, http.StatusInternalServerError},
		{order.KindPublish, http.StatusInternalServerError},
		{order.KindUnknown, http.StatusInternalServerError},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.status, statusFor(tt.kind), tt.kind.String())
	}
}
