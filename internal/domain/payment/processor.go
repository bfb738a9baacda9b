package payment

import (
	"context"
	"strconv"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	"go.uber.org/zap"

	"github.com/xenking/secondhand-orders/internal/domain/order"
)

const (
	// SentinelOrderCode is the order code the gateway uses for test pings.
	SentinelOrderCode = 123
	// SuccessDescription is the webhook description of a completed payment.
	SuccessDescription = "success"
)

// Orders is the subset of the order lifecycle the processor drives.
type Orders interface {
	GetOrderByID(ctx context.Context, id string) (*order.Order, error)
	UpdatePaymentStateByOrderCode(ctx context.Context, code string, paid bool) (*order.Order, error)
}

// OutcomeStatus classifies a handled webhook.
type OutcomeStatus string

const (
	// OutcomeIgnored is test traffic or a non-success notification. Nothing
	// was changed.
	OutcomeIgnored OutcomeStatus = "ignored"
	// OutcomeApplied means the order is marked paid.
	OutcomeApplied OutcomeStatus = "applied"
)

// WebhookOutcome is the response to a handled webhook.
type WebhookOutcome struct {
	Status  OutcomeStatus
	Message string
	OrderID string
}

// ProcessorConfig tunes the Processor.
type ProcessorConfig struct {
	// MinorUnitsPerAmount converts stored minor units to gateway amount units.
	// The default of 1 passes totals through unchanged.
	MinorUnitsPerAmount int64
	MeterProvider       metric.MeterProvider
}

// Processor handles gateway webhooks and checkout initiation.
type Processor struct {
	orders  Orders
	gateway Gateway
	scale   decimal.Decimal

	webhooks metric.Int64Counter
}

// NewProcessor creates a Processor.
func NewProcessor(orders Orders, gateway Gateway, cfg ProcessorConfig) (*Processor, error) {
	if cfg.MinorUnitsPerAmount <= 0 {
		cfg.MinorUnitsPerAmount = 1
	}
	if cfg.MeterProvider == nil {
		cfg.MeterProvider = metricnoop.NewMeterProvider()
	}
	webhooks, err := cfg.MeterProvider.Meter("secondhand-orders/payment").Int64Counter("payment.webhooks",
		metric.WithDescription("Payment webhooks by outcome"),
	)
	if err != nil {
		return nil, errors.Wrap(err, "payment.webhooks counter")
	}
	return &Processor{
		orders:   orders,
		gateway:  gateway,
		scale:    decimal.NewFromInt(cfg.MinorUnitsPerAmount),
		webhooks: webhooks,
	}, nil
}

// HandleWebhook reconciles one gateway callback. Test pings and non-success
// notifications are ignored; everything else must verify before the order is
// touched. Redelivery of the same event is harmless.
func (p *Processor) HandleWebhook(ctx context.Context, raw []byte) (WebhookOutcome, error) {
	lg := zctx.From(ctx)

	w, err := p.gateway.ParseWebhook(raw)
	if err != nil {
		p.count(ctx, "malformed")
		lg.Warn("Webhook rejected", zap.String("reason", string(RejectMalformed)), zap.Error(err))
		return WebhookOutcome{}, errors.Wrap(ErrVerification, err.Error())
	}

	if w.OrderCode == SentinelOrderCode || w.Description != SuccessDescription {
		p.count(ctx, string(OutcomeIgnored))
		lg.Info("Webhook ignored",
			zap.Int64("order_code", w.OrderCode),
			zap.String("desc", w.Description),
		)
		return WebhookOutcome{Status: OutcomeIgnored, Message: "Invalid payment data."}, nil
	}

	switch r := p.gateway.VerifyWebhook(w).(type) {
	case Rejected:
		p.count(ctx, string(r.Reason))
		lg.Warn("Webhook rejected",
			zap.String("reason", string(r.Reason)),
			zap.Int64("order_code", w.OrderCode),
			zap.Error(r.Err),
		)
		return WebhookOutcome{}, errors.Wrapf(ErrVerification, "%s", r.Reason)
	case Verified:
		o, err := p.orders.UpdatePaymentStateByOrderCode(ctx, r.OrderCode, true)
		if err != nil {
			p.count(ctx, "error")
			return WebhookOutcome{}, errors.Wrapf(err, "mark order %s paid", r.OrderCode)
		}
		p.count(ctx, string(OutcomeApplied))
		expected := p.amount(o.TotalPrice)
		fields := []zap.Field{
			zap.String("order_id", o.ID),
			zap.String("order_code", r.OrderCode),
			zap.String("reference", r.Reference),
			zap.Int64("amount", r.Amount),
			zap.Int64("expected_amount", expected),
		}
		if r.Amount != expected {
			p.count(ctx, "amount_mismatch")
			lg.Warn("Payment verified with amount mismatch", fields...)
		} else {
			lg.Info("Payment verified", fields...)
		}
		return WebhookOutcome{Status: OutcomeApplied, Message: "Payment verified.", OrderID: o.ID}, nil
	default:
		return WebhookOutcome{}, errors.Errorf("unexpected webhook result %T", r)
	}
}

// InitiatePayment requests a hosted checkout for a bank-transfer order and
// returns its URL. The order itself is not modified.
func (p *Processor) InitiatePayment(ctx context.Context, orderID string) (string, error) {
	o, err := p.orders.GetOrderByID(ctx, orderID)
	if err != nil {
		return "", err
	}
	if o.PaymentMethod != order.PaymentBankTransfer {
		return "", ErrPaymentMethodMismatch
	}

	code, err := strconv.ParseInt(o.OrderCode, 10, 64)
	if err != nil {
		return "", errors.Wrapf(err, "order code %q is not numeric", o.OrderCode)
	}

	link, err := p.gateway.CreatePaymentLink(ctx, LinkRequest{
		OrderCode: code,
		Amount:    p.amount(o.TotalPrice),
	})
	if err != nil {
		return "", errors.Wrap(err, "create payment link")
	}

	zctx.From(ctx).Info("Payment link created",
		zap.String("order_id", o.ID),
		zap.Int64("order_code", code),
		zap.Time("expires_at", link.ExpiresAt),
	)
	return link.CheckoutURL, nil
}

// amount converts a minor-unit total to a whole gateway amount, rounding half
// away from zero.
func (p *Processor) amount(total int64) int64 {
	return decimal.NewFromInt(total).Div(p.scale).Round(0).IntPart()
}

func (p *Processor) count(ctx context.Context, outcome string) {
	p.webhooks.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}
