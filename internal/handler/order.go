package handler

import (
	"io"
	"net/http"
	"strconv"

	"github.com/go-faster/jx"
	"github.com/shopspring/decimal"

	"github.com/xenking/checkout-service/internal/domain/order"
)

func (h *Handler) placeOrder(w http.ResponseWriter, r *http.Request) {
	cmd, err := h.decodePlaceOrder(r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	receipt, err := h.svc.PlaceOrder(r.Context(), cmd)
	if err != nil {
		writeError(w, r, err)
		return
	}

	var e jx.Encoder
	encodeReceipt(&e, receipt)
	writeJSON(w, http.StatusCreated, &e)
}

func (h *Handler) getOrder(w http.ResponseWriter, r *http.Request) {
	detail, err := h.svc.GetOrder(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, r, err)
		return
	}

	var e jx.Encoder
	e.Obj(func(e *jx.Encoder) {
		e.Field("order_id", func(e *jx.Encoder) { e.Str(string(detail.OrderID)) })
		e.Field("customer_id", func(e *jx.Encoder) { e.Str(string(detail.CustomerID)) })
		e.Field("total", func(e *jx.Encoder) { e.Str(detail.Total) })
		e.Field("currency", func(e *jx.Encoder) { e.Str(detail.Currency) })
		e.Field("created_at", func(e *jx.Encoder) { e.Str(detail.CreatedAt.Format(timeFormat)) })
		e.Field("lines", func(e *jx.Encoder) {
			e.Arr(func(e *jx.Encoder) {
				for _, ln := range detail.Lines {
					e.Obj(func(e *jx.Encoder) {
						e.Field("sku", func(e *jx.Encoder) { e.Str(string(ln.SKU)) })
						e.Field("unit_price", func(e *jx.Encoder) { e.Str(ln.UnitPrice) })
						e.Field("quantity", func(e *jx.Encoder) { e.Int(ln.Quantity) })
						e.Field("subtotal", func(e *jx.Encoder) { e.Str(ln.Subtotal) })
					})
				}
			})
		})
	})
	writeJSON(w, http.StatusOK, &e)
}

func (h *Handler) listOrders(w http.ResponseWriter, r *http.Request) {
	q := order.ListQuery{
		CustomerID: r.URL.Query().Get("customer_id"),
		SortBy:     r.URL.Query().Get("sort_by"),
		SortDir:    r.URL.Query().Get("sort_dir"),
	}

	var err error
	if q.Offset, err = queryInt(r, "offset"); err != nil {
		writeError(w, r, err)
		return
	}
	if q.Limit, err = queryInt(r, "limit"); err != nil {
		writeError(w, r, err)
		return
	}

	summaries, err := h.svc.ListOrders(r.Context(), q)
	if err != nil {
		writeError(w, r, err)
		return
	}

	var e jx.Encoder
	e.Obj(func(e *jx.Encoder) {
		e.Field("orders", func(e *jx.Encoder) {
			e.Arr(func(e *jx.Encoder) {
				for _, s := range summaries {
					e.Obj(func(e *jx.Encoder) {
						e.Field("order_id", func(e *jx.Encoder) { e.Str(string(s.OrderID)) })
						e.Field("customer_id", func(e *jx.Encoder) { e.Str(string(s.CustomerID)) })
						e.Field("total", func(e *jx.Encoder) { e.Str(s.Total) })
						e.Field("currency", func(e *jx.Encoder) { e.Str(s.Currency) })
						e.Field("created_at", func(e *jx.Encoder) { e.Str(s.CreatedAt.Format(timeFormat)) })
					})
				}
			})
		})
	})
	writeJSON(w, http.StatusOK, &e)
}

const timeFormat = "2006-01-02T15:04:05.000Z07:00"

func encodeReceipt(e *jx.Encoder, r *order.Receipt) {
	e.Obj(func(e *jx.Encoder) {
		e.Field("order_id", func(e *jx.Encoder) { e.Str(string(r.OrderID)) })
		e.Field("customer_id", func(e *jx.Encoder) { e.Str(string(r.CustomerID)) })
		e.Field("total", func(e *jx.Encoder) { e.Str(r.Total.AmountString()) })
		e.Field("currency", func(e *jx.Encoder) { e.Str(r.Total.Currency) })
	})
}

// decodePlaceOrder parses the request body into a command. Malformed
// bodies are validation errors so clients get a 400, not a 500.
func (h *Handler) decodePlaceOrder(r *http.Request) (order.PlaceOrderCommand, error) {
	cmd := order.PlaceOrderCommand{
		Currency:       h.defaultCurrency,
		IdempotencyKey: r.Header.Get(IdempotencyKeyHeader),
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		return cmd, order.NewValidationError("read request body: " + err.Error())
	}

	d := jx.DecodeBytes(body)
	if err := d.Obj(func(d *jx.Decoder, key string) error {
		switch key {
		case "customer_id":
			v, err := d.Str()
			cmd.CustomerID = v
			return err
		case "currency":
			v, err := d.Str()
			if v != "" {
				cmd.Currency = v
			}
			return err
		case "payment_token":
			v, err := d.Str()
			cmd.PaymentToken = v
			return err
		case "lines":
			return d.Arr(func(d *jx.Decoder) error {
				ln, err := decodeLine(d)
				if err != nil {
					return err
				}
				cmd.Lines = append(cmd.Lines, ln)
				return nil
			})
		default:
			return d.Skip()
		}
	}); err != nil {
		return cmd, order.NewValidationError("malformed request body: " + err.Error())
	}
	return cmd, nil
}

func decodeLine(d *jx.Decoder) (order.CommandLine, error) {
	var ln order.CommandLine
	err := d.Obj(func(d *jx.Decoder, key string) error {
		switch key {
		case "sku":
			v, err := d.Str()
			ln.SKU = v
			return err
		case "unit_price":
			return decodePrice(d, &ln.UnitPrice)
		case "quantity":
			v, err := d.Int()
			ln.Quantity = v
			return err
		default:
			return d.Skip()
		}
	})
	return ln, err
}

// decodePrice accepts the unit price as a JSON string or number; both
// are normalized through the same decimal parse.
func decodePrice(d *jx.Decoder, out *decimal.Decimal) error {
	var raw string
	switch d.Next() {
	case jx.String:
		v, err := d.Str()
		if err != nil {
			return err
		}
		raw = v
	default:
		n, err := d.Num()
		if err != nil {
			return err
		}
		raw = string(n)
	}
	price, err := decimal.NewFromString(raw)
	if err != nil {
		return err
	}
	*out = price
	return nil
}

func queryInt(r *http.Request, name string) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return 0, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, order.NewValidationError(name + " must be an integer")
	}
	return v, nil
}
