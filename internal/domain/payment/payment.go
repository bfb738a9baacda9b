// Package payment reconciles payment gateway callbacks with order payment
// state and starts hosted checkouts.
package payment

import (
	"context"
	"time"

	"github.com/go-faster/errors"
)

// Sentinel errors for payment operations.
var (
	// ErrVerification is returned when a webhook payload is malformed or its
	// signature does not verify.
	ErrVerification = errors.New("webhook verification failed")
	// ErrPaymentMethodMismatch is returned when a checkout is requested for an
	// order that is not paid by bank transfer.
	ErrPaymentMethodMismatch = errors.New("invalid payment method")
)

// LinkRequest asks the gateway for a hosted payment page.
type LinkRequest struct {
	OrderCode int64
	// Amount is in integer currency units.
	Amount int64
}

// Link is a created hosted payment page.
type Link struct {
	CheckoutURL   string
	PaymentLinkID string
	ExpiresAt     time.Time
}

// Webhook is a parsed but not yet verified gateway callback.
type Webhook struct {
	Code        string
	Description string
	Success     bool
	// OrderCode is the numeric order code from the data section.
	OrderCode int64
	Amount    int64
	Reference string
	// Data holds every data field rendered as a string, keyed by name. The
	// signature covers these values.
	Data      map[string]string
	Signature string
}

// WebhookResult is the outcome of verifying a Webhook: either Verified or
// Rejected.
type WebhookResult interface {
	webhookResult()
}

// Verified is a webhook whose signature matched.
type Verified struct {
	OrderCode   string
	Amount      int64
	Reference   string
	Description string
}

// RejectReason classifies a Rejected webhook.
type RejectReason string

const (
	RejectMalformed    RejectReason = "malformed"
	RejectBadSignature RejectReason = "bad_signature"
)

// Rejected is a webhook that failed verification.
type Rejected struct {
	Reason RejectReason
	Err    error
}

func (Verified) webhookResult() {}
func (Rejected) webhookResult() {}

// Gateway is the payment gateway adapter.
type Gateway interface {
	CreatePaymentLink(ctx context.Context, req LinkRequest) (*Link, error)
	ParseWebhook(raw []byte) (*Webhook, error)
	VerifyWebhook(w *Webhook) WebhookResult
}
