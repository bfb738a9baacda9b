// Package events publishes order lifecycle notifications.
package events

import (
	"context"
	"time"

	"github.com/go-faster/jx"
)

// Type names an order lifecycle event.
type Type string

const (
	OrderCreated      Type = "order.created"
	OrderStateChanged Type = "order.state_changed"
	OrderPaid         Type = "order.paid"
	OrderDeleted      Type = "order.deleted"
)

// Event is the payload published for every order lifecycle change.
type Event struct {
	Type         Type
	OrderID      string
	OrderCode    string
	BuyerID      string
	State        string
	PaymentState bool
	TotalPrice   int64
	OccurredAt   time.Time
}

// Encode writes the event as a JSON object.
func (ev Event) Encode(e *jx.Encoder) {
	e.ObjStart()
	e.FieldStart("type")
	e.Str(string(ev.Type))
	e.FieldStart("orderId")
	e.Str(ev.OrderID)
	e.FieldStart("orderCode")
	e.Str(ev.OrderCode)
	if ev.BuyerID != "" {
		e.FieldStart("buyerId")
		e.Str(ev.BuyerID)
	}
	e.FieldStart("state")
	e.Str(ev.State)
	e.FieldStart("paymentState")
	e.Bool(ev.PaymentState)
	e.FieldStart("totalPrice")
	e.Int64(ev.TotalPrice)
	e.FieldStart("occurredAt")
	e.Str(ev.OccurredAt.UTC().Format(time.RFC3339Nano))
	e.ObjEnd()
}

// Publisher delivers events. Implementations must be safe for concurrent use.
type Publisher interface {
	Publish(ctx context.Context, ev Event) error
}

// Nop discards every event. It is used when no broker is configured.
type Nop struct{}

// Publish implements Publisher.
func (Nop) Publish(context.Context, Event) error { return nil }
