package order

import (
	"context"
	"math"
	"time"

	"github.com/shopspring/decimal"

	"github.com/xenking/secondhand-orders/internal/domain/buyer"
	"github.com/xenking/secondhand-orders/internal/domain/product"
)

// State is the fulfillment state of an order.
type State string

const (
	StateOrdered    State = "ORDERED"
	StatePacked     State = "PACKED"
	StateDelivering State = "DELIVERING"
	StateDelivered  State = "DELIVERED"
)

// States lists fulfillment states in their forward order.
var States = []State{StateOrdered, StatePacked, StateDelivering, StateDelivered}

// Valid reports whether s is a recognized state.
func (s State) Valid() bool {
	return s.rank() >= 0
}

func (s State) rank() int {
	for i, st := range States {
		if st == s {
			return i
		}
	}
	return -1
}

// PaymentMethod is how the buyer pays for an order.
type PaymentMethod string

const (
	PaymentBankTransfer PaymentMethod = "BANK_TRANSFER"
	PaymentCash         PaymentMethod = "CASH"
)

// Valid reports whether m is a recognized payment method.
func (m PaymentMethod) Valid() bool {
	return m == PaymentBankTransfer || m == PaymentCash
}

// LineItem is one product-quantity-price tuple of an order. Prices are minor
// units.
type LineItem struct {
	ProductID     string `json:"productId"`
	UnitPrice     int64  `json:"unitPrice"`
	Quantity      int    `json:"quantity"`
	UsesInsurance bool   `json:"usesInsurance"`
	// StockCommitted marks that the sold quantity for this line was applied.
	StockCommitted bool `json:"stockCommitted"`

	// Product is set by enriched reads only.
	Product *product.Snapshot `json:"-"`
}

// Subtotal returns UnitPrice × Quantity.
func (li LineItem) Subtotal() int64 {
	return li.UnitPrice * int64(li.Quantity)
}

// checkedSubtotal is Subtotal that reports false instead of overflowing.
func (li LineItem) checkedSubtotal() (int64, bool) {
	if li.UnitPrice < 0 || li.Quantity < 0 {
		return 0, false
	}
	if li.Quantity != 0 && li.UnitPrice > math.MaxInt64/int64(li.Quantity) {
		return 0, false
	}
	return li.UnitPrice * int64(li.Quantity), true
}

// Order is a buyer's purchase with its fulfillment and payment state.
type Order struct {
	ID               string
	State            State
	PaymentMethod    PaymentMethod
	PaymentState     bool
	OrderCode        string
	TotalPrice       int64
	LineItems        []LineItem
	ReceivingAddress string
	ReceivingPhone   string
	Receiver         string
	BuyerID          string
	DeliveryDate     *time.Time
	IsDeleted        bool
	CreatedAt        time.Time
	UpdatedAt        time.Time

	// Creation saga markers.
	TotalComputed  bool
	StockCommitted bool

	// Buyer is set by enriched reads only.
	Buyer *buyer.Profile
}

// ComputeTotal returns the sum of all line subtotals.
func (o *Order) ComputeTotal() int64 {
	var total int64
	for _, li := range o.LineItems {
		total += li.Subtotal()
	}
	return total
}

// Incomplete reports whether a creation step has not recorded completion.
func (o *Order) Incomplete() bool {
	return !o.TotalComputed || !o.StockCommitted
}

// uncommittedLines returns the indexes of lines whose stock is not applied.
func (o *Order) uncommittedLines() []int {
	var idx []int
	for i, li := range o.LineItems {
		if !li.StockCommitted {
			idx = append(idx, i)
		}
	}
	return idx
}

// Filter narrows enriched listings. Deleted orders are always excluded.
type Filter struct {
	ID      string
	BuyerID string
}

// StateSummary aggregates orders in a single state. TotalPrice is a decimal
// because the sum of many int64 totals can exceed int64.
type StateSummary struct {
	State      State
	Orders     int64
	TotalPrice decimal.Decimal
	Paid       int64
}

// Repository defines persistence operations for orders.
type Repository interface {
	// Insert persists a new order. It returns ErrDuplicateOrderCode when the
	// order code is already used by a non-deleted order.
	Insert(ctx context.Context, o *Order) error
	FindByID(ctx context.Context, id string) (*Order, error)
	FindByOrderCode(ctx context.Context, code string) (*Order, error)
	// SetTotal stores the computed total and marks the total step complete.
	SetTotal(ctx context.Context, id string, total int64) error
	// MarkStockCommitted marks the given line positions as committed. When
	// every line of the order is committed the order-level marker is set too.
	// It returns whether the whole order is now committed.
	MarkStockCommitted(ctx context.Context, id string, positions []int) (bool, error)
	UpdateState(ctx context.Context, id string, state State) (*Order, error)
	// SetPaymentState writes paid only when it differs from the stored value.
	// It reports whether a write happened.
	SetPaymentState(ctx context.Context, code string, paid bool) (*Order, bool, error)
	SoftDelete(ctx context.Context, id string) (*Order, error)
	ListEnriched(ctx context.Context, f Filter) ([]Order, error)
	// ListIncomplete returns orders created before the cutoff with an unset
	// saga marker.
	ListIncomplete(ctx context.Context, createdBefore time.Time, limit int) ([]Order, error)
	// EachOrderCode calls fn for the code of every non-deleted order.
	EachOrderCode(ctx context.Context, fn func(code string)) error
	Summarize(ctx context.Context) ([]StateSummary, error)
}
