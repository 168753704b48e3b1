package order

import (
	"fmt"

	"github.com/go-faster/errors"
)

// Kind discriminates the closed set of domain failures the placement
// workflow can produce. Adapters switch on the kind instead of matching
// concrete error types.
type Kind uint8

const (
	KindUnknown Kind = iota
	KindValidation
	KindOutOfStock
	KindPaymentDeclined
	KindPersistence
	KindOrderNotFound
	KindPublish
	KindIdempotencyInProgress
	KindIdempotencyFailed
	KindIdempotencyKeyConflict
)

var kindNames = map[Kind]string{
	KindUnknown:                "Unknown",
	KindValidation:             "ValidationError",
	KindOutOfStock:             "OutOfStock",
	KindPaymentDeclined:        "PaymentDeclined",
	KindPersistence:            "PersistenceError",
	KindOrderNotFound:          "OrderNotFound",
	KindPublish:                "PublishError",
	KindIdempotencyInProgress:  "IdempotencyInProgress",
	KindIdempotencyFailed:      "IdempotencyFailed",
	KindIdempotencyKeyConflict: "IdempotencyKeyConflict",
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("Kind(%d)", uint8(k))
}

// Error is the single failure value crossing the core boundary. Only the
// fields relevant to Kind are populated.
type Error struct {
	Kind    Kind
	Message string

	// SKU is set for OutOfStock.
	SKU string
	// Reason is set for PaymentDeclined.
	Reason string
	// OrderID is set for OrderNotFound.
	OrderID string
	// Key is set for the idempotency kinds.
	Key string
	// PreviousError is set for IdempotencyFailed and names the kind the
	// earlier attempt failed with.
	PreviousError string
}

func (e *Error) Error() string {
	switch e.Kind {
	case KindOutOfStock:
		return fmt.Sprintf("out of stock: sku=%s (%s)", e.SKU, e.Message)
	case KindPaymentDeclined:
		return fmt.Sprintf("payment declined: %s (%s)", e.Reason, e.Message)
	case KindOrderNotFound:
		return fmt.Sprintf("order not found: %s", e.OrderID)
	case KindIdempotencyFailed:
		return fmt.Sprintf("%s (key=%s, previous=%s)", e.Message, e.Key, e.PreviousError)
	case KindIdempotencyInProgress, KindIdempotencyKeyConflict:
		return fmt.Sprintf("%s (key=%s)", e.Message, e.Key)
	default:
		return e.Message
	}
}

// KindOf extracts the error kind, returning KindUnknown for non-domain
// errors (wrapped infrastructure failures included).
func KindOf(err error) Kind {
	var de *Error
	if errors.As(err, &de) {
		return de.Kind
	}
	return KindUnknown
}

func validationErrorf(format string, args ...any) *Error {
	return &Error{Kind: KindValidation, Message: fmt.Sprintf(format, args...)}
}

func outOfStockError(sku SKU) *Error {
	return &Error{Kind: KindOutOfStock, Message: "insufficient stock", SKU: string(sku)}
}

func paymentDeclinedError(reason string) *Error {
	return &Error{Kind: KindPaymentDeclined, Message: "charge rejected", Reason: reason}
}

func persistenceError(msg string) *Error {
	return &Error{Kind: KindPersistence, Message: msg}
}

func orderNotFoundError(id OrderID) *Error {
	return &Error{Kind: KindOrderNotFound, Message: "order not found", OrderID: string(id)}
}

func publishError(msg string) *Error {
	return &Error{Kind: KindPublish, Message: msg}
}

func inProgressError(key string) *Error {
	return &Error{
		Kind:    KindIdempotencyInProgress,
		Message: "request with same key is in progress",
		Key:     key,
	}
}

func idempotencyFailedError(key, previous string) *Error {
	return &Error{
		Kind:          KindIdempotencyFailed,
		Message:       "previous request with same key failed; retry with a new idempotency key",
		Key:           key,
		PreviousError: previous,
	}
}

func keyConflictError(key string) *Error {
	return &Error{
		Kind:    KindIdempotencyKeyConflict,
		Message: "same idempotency key used with a different request",
		Key:     key,
	}
}

// NewValidationError builds a validation failure with the given message.
// Exposed for adapters that validate transport-level input (query
// parameters, malformed bodies) before reaching the core.
func NewValidationError(msg string) *Error {
	return &Error{Kind: KindValidation, Message: msg}
}

// NewOutOfStock builds an OutOfStock failure naming the offending sku.
// Gateway implementations use it so every backend reports the same shape.
func NewOutOfStock(sku SKU) *Error { return outOfStockError(sku) }

// NewPaymentDeclined builds a PaymentDeclined failure with a reason code.
func NewPaymentDeclined(reason string) *Error { return paymentDeclinedError(reason) }

// NewPersistenceError builds a PersistenceError with the given message.
func NewPersistenceError(msg string) *Error { return persistenceError(msg) }

// NewOrderNotFound builds the OrderNotFound subkind of PersistenceError.
func NewOrderNotFound(id OrderID) *Error { return orderNotFoundError(id) }

// NewPublishError builds a PublishError with the given message.
func NewPublishError(msg string) *Error { return publishError(msg) }
