package order

import (
	"crypto/sha256"
	"encoding/hex"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"

	"github.com/xenking/checkout-service/internal/domain/money"
)

// RequestFingerprint computes the deterministic hash used to detect an
// idempotency key reused with a different payload. The canonical form is
// compact JSON with lexicographically sorted object keys, lines in command
// order, and the unit price rendered as its normalized two-decimal string,
// so equivalent-but-differently-formatted retries ("1200.0" vs "1200.00")
// fingerprint identically. Changing this encoding invalidates every stored
// record hash.
func RequestFingerprint(cmd PlaceOrderCommand) string {
	var e jx.Encoder
	e.Obj(func(e *jx.Encoder) {
		e.Field("currency", func(e *jx.Encoder) { e.Str(cmd.Currency) })
		e.Field("customer_id", func(e *jx.Encoder) { e.Str(cmd.CustomerID) })
		e.Field("lines", func(e *jx.Encoder) {
			e.Arr(func(e *jx.Encoder) {
				for _, ln := range cmd.Lines {
					price := money.Of(ln.UnitPrice, cmd.Currency)
					e.Obj(func(e *jx.Encoder) {
						e.Field("quantity", func(e *jx.Encoder) { e.Int(ln.Quantity) })
						e.Field("sku", func(e *jx.Encoder) { e.Str(ln.SKU) })
						e.Field("unit_price", func(e *jx.Encoder) { e.Str(price.AmountString()) })
					})
				}
			})
		})
		e.Field("payment_token", func(e *jx.Encoder) { e.Str(cmd.PaymentToken) })
	})
	sum := sha256.Sum256(e.Bytes())
	return hex.EncodeToString(sum[:])
}

// EncodeReceipt serializes a receipt into the snapshot stored on a
// COMPLETED idempotency record, enabling replay without touching the
// order repository.
func EncodeReceipt(r *Receipt) []byte {
	var e jx.Encoder
	e.Obj(func(e *jx.Encoder) {
		e.Field("currency", func(e *jx.Encoder) { e.Str(r.Total.Currency) })
		e.Field("customer_id", func(e *jx.Encoder) { e.Str(string(r.CustomerID)) })
		e.Field("order_id", func(e *jx.Encoder) { e.Str(string(r.OrderID)) })
		e.Field("total", func(e *jx.Encoder) { e.Str(r.Total.AmountString()) })
	})
	return e.Bytes()
}

// DecodeReceipt reverses EncodeReceipt.
func DecodeReceipt(data []byte) (*Receipt, error) {
	var (
		r        Receipt
		amount   string
		currency string
	)
	d := jx.DecodeBytes(data)
	if err := d.Obj(func(d *jx.Decoder, key string) error {
		switch key {
		case "currency":
			v, err := d.Str()
			currency = v
			return err
		case "customer_id":
			v, err := d.Str()
			r.CustomerID = CustomerID(v)
			return err
		case "order_id":
			v, err := d.Str()
			r.OrderID = OrderID(v)
			return err
		case "total":
			v, err := d.Str()
			amount = v
			return err
		default:
			return d.Skip()
		}
	}); err != nil {
		return nil, errors.Wrap(err, "decode receipt snapshot")
	}
	total, err := money.Parse(amount, currency)
	if err != nil {
		return nil, errors.Wrap(err, "decode receipt total")
	}
	r.Total = total
	return &r, nil
}
