package handler

import (
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/shopspring/decimal"

	"github.com/xenking/secondhand-orders/internal/domain/order"
	"github.com/xenking/secondhand-orders/internal/domain/stock"
)

const maxBodyBytes = 1 << 20

var maxMinorUnits = decimal.NewFromInt(math.MaxInt64)

// errBadRequest marks request bodies that could not be decoded.
var errBadRequest = errors.New("malformed request body")

type decodeError struct {
	field string
	err   error
}

func (e *decodeError) Error() string {
	if e.field == "" {
		return "malformed request body: " + e.err.Error()
	}
	return "malformed " + e.field + ": " + e.err.Error()
}

func (e *decodeError) Unwrap() []error { return []error{errBadRequest, e.err} }

func badField(field string, err error) error {
	return &decodeError{field: field, err: err}
}

// decodeCreateOrder reads a create request. Unit prices must be integral
// minor units; fractional values are rejected.
func decodeCreateOrder(d *jx.Decoder) (order.CreateOrderRequest, error) {
	var req order.CreateOrderRequest
	err := d.ObjBytes(func(d *jx.Decoder, key []byte) error {
		switch string(key) {
		case "items":
			return d.Arr(func(d *jx.Decoder) error {
				item, err := decodeLineItem(d, len(req.Items))
				if err != nil {
					return err
				}
				req.Items = append(req.Items, item)
				return nil
			})
		case "paymentMethod":
			v, err := optString(d)
			req.PaymentMethod = order.PaymentMethod(v)
			return wrapField("paymentMethod", err)
		case "receivingAddress":
			v, err := optString(d)
			req.ReceivingAddress = v
			return wrapField("receivingAddress", err)
		case "receivingPhone":
			v, err := optString(d)
			req.ReceivingPhone = v
			return wrapField("receivingPhone", err)
		case "receiver":
			v, err := optString(d)
			req.Receiver = v
			return wrapField("receiver", err)
		case "state":
			v, err := optString(d)
			req.State = order.State(v)
			return wrapField("state", err)
		case "deliveryDate":
			v, err := optString(d)
			if err != nil || v == "" {
				return wrapField("deliveryDate", err)
			}
			t, err := time.Parse(time.RFC3339Nano, v)
			if err != nil {
				return badField("deliveryDate", err)
			}
			req.DeliveryDate = &t
			return nil
		default:
			return d.Skip()
		}
	})
	if err != nil {
		var derr *decodeError
		if errors.As(err, &derr) {
			return req, derr
		}
		return req, badField("", err)
	}
	return req, nil
}

func decodeLineItem(d *jx.Decoder, idx int) (order.LineItem, error) {
	var item order.LineItem
	err := d.ObjBytes(func(d *jx.Decoder, key []byte) error {
		switch string(key) {
		case "productId":
			v, err := d.Str()
			item.ProductID = v
			return wrapField("productId", err)
		case "price", "unitPrice":
			v, err := decodeMinorUnits(d)
			item.UnitPrice = v
			return wrapField("price", err)
		case "quantity":
			v, err := d.Int()
			item.Quantity = v
			return wrapField("quantity", err)
		case "useInsurance", "usesInsurance":
			v, err := d.Bool()
			item.UsesInsurance = v
			return wrapField("useInsurance", err)
		default:
			return d.Skip()
		}
	})
	var derr *decodeError
	if errors.As(err, &derr) {
		derr.field = "items[" + strconv.Itoa(idx) + "]." + derr.field
		return item, derr
	}
	return item, err
}

func decodeMinorUnits(d *jx.Decoder) (int64, error) {
	n, err := d.Num()
	if err != nil {
		return 0, err
	}
	v, err := decimal.NewFromString(n.String())
	if err != nil {
		return 0, err
	}
	if !v.IsInteger() {
		return 0, errors.Errorf("%s is not a whole number of minor units", v)
	}
	if v.Sign() < 0 || v.GreaterThan(maxMinorUnits) {
		return 0, errors.Errorf("%s is out of range", v)
	}
	return v.IntPart(), nil
}

func optString(d *jx.Decoder) (string, error) {
	if d.Next() == jx.Null {
		return "", d.Null()
	}
	return d.Str()
}

func wrapField(field string, err error) error {
	if err == nil {
		return nil
	}
	return badField(field, err)
}

// decodeState reads {"state": "..."}.
func decodeState(d *jx.Decoder) (order.State, error) {
	var state string
	err := d.ObjBytes(func(d *jx.Decoder, key []byte) error {
		if string(key) != "state" {
			return d.Skip()
		}
		v, err := d.Str()
		state = v
		return wrapField("state", err)
	})
	if err != nil {
		var derr *decodeError
		if errors.As(err, &derr) {
			return "", derr
		}
		return "", badField("", err)
	}
	return order.State(state), nil
}

func encodeOrder(e *jx.Encoder, o *order.Order) {
	e.ObjStart()
	e.FieldStart("id")
	e.Str(o.ID)
	e.FieldStart("state")
	e.Str(string(o.State))
	e.FieldStart("paymentMethod")
	e.Str(string(o.PaymentMethod))
	e.FieldStart("paymentState")
	e.Bool(o.PaymentState)
	e.FieldStart("orderCode")
	e.Str(o.OrderCode)
	e.FieldStart("totalPrice")
	e.Int64(o.TotalPrice)

	e.FieldStart("items")
	e.ArrStart()
	for _, li := range o.LineItems {
		e.ObjStart()
		e.FieldStart("productId")
		e.Str(li.ProductID)
		e.FieldStart("price")
		e.Int64(li.UnitPrice)
		e.FieldStart("quantity")
		e.Int(li.Quantity)
		e.FieldStart("useInsurance")
		e.Bool(li.UsesInsurance)
		if p := li.Product; p != nil {
			e.FieldStart("product")
			e.ObjStart()
			e.FieldStart("id")
			e.Str(p.ID)
			e.FieldStart("name")
			e.Str(p.Name)
			e.FieldStart("price")
			e.Int64(p.Price)
			e.FieldStart("soldQuantity")
			e.Int64(p.SoldQuantity)
			e.ObjEnd()
		}
		e.ObjEnd()
	}
	e.ArrEnd()

	e.FieldStart("receivingAddress")
	e.Str(o.ReceivingAddress)
	e.FieldStart("receivingPhone")
	e.Str(o.ReceivingPhone)
	if o.Receiver != "" {
		e.FieldStart("receiver")
		e.Str(o.Receiver)
	}
	e.FieldStart("buyerId")
	e.Str(o.BuyerID)
	if b := o.Buyer; b != nil {
		e.FieldStart("buyer")
		e.ObjStart()
		e.FieldStart("id")
		e.Str(b.ID)
		e.FieldStart("name")
		e.Str(b.Name)
		e.FieldStart("phone")
		e.Str(b.Phone)
		e.FieldStart("avatar")
		e.Str(b.Avatar)
		e.ObjEnd()
	}
	if o.DeliveryDate != nil {
		e.FieldStart("deliveryDate")
		e.Str(o.DeliveryDate.UTC().Format(time.RFC3339Nano))
	}
	e.FieldStart("createdAt")
	e.Str(o.CreatedAt.UTC().Format(time.RFC3339Nano))
	e.FieldStart("updatedAt")
	e.Str(o.UpdatedAt.UTC().Format(time.RFC3339Nano))
	e.ObjEnd()
}

// encodeCreated writes a created order. Lines whose stock could not be
// applied are listed under reconciliationFailures.
func encodeCreated(e *jx.Encoder, o *order.Order, perr *stock.PartialFailureError) {
	if perr == nil {
		encodeOrder(e, o)
		return
	}
	e.ObjStart()
	e.FieldStart("order")
	encodeOrder(e, o)
	e.FieldStart("reconciliationFailures")
	e.ArrStart()
	for _, f := range perr.Failures {
		e.ObjStart()
		e.FieldStart("index")
		e.Int(f.Index)
		e.FieldStart("productId")
		e.Str(f.ProductID)
		e.FieldStart("error")
		e.Str(f.Err.Error())
		e.ObjEnd()
	}
	e.ArrEnd()
	e.ObjEnd()
}

func encodeOrders(e *jx.Encoder, orders []order.Order) {
	e.ArrStart()
	for i := range orders {
		encodeOrder(e, &orders[i])
	}
	e.ArrEnd()
}

func writeJSON(w http.ResponseWriter, status int, encode func(e *jx.Encoder)) {
	e := jx.GetEncoder()
	defer jx.PutEncoder(e)
	encode(e)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(e.Bytes())
}

func writeMessage(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, func(e *jx.Encoder) {
		e.ObjStart()
		e.FieldStart("message")
		e.Str(msg)
		e.ObjEnd()
	})
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, func(e *jx.Encoder) {
		e.ObjStart()
		e.FieldStart("code")
		e.Int(status)
		e.FieldStart("message")
		e.Str(msg)
		e.ObjEnd()
	})
}
