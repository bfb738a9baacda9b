// Package payos implements the payment gateway adapter for payOS.
package payos

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/sony/gobreaker/v2"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/xenking/secondhand-orders/internal/domain/payment"
)

const (
	DefaultBaseURL     = "https://api-merchant.payos.vn"
	DefaultDescription = "SecondHand Payment"
	DefaultLinkTTL     = 10 * time.Minute

	successCode = "00"
)

// Config configures the payOS client.
type Config struct {
	BaseURL     string
	ClientID    string
	APIKey      string
	ChecksumKey string
	ReturnURL   string
	CancelURL   string
	Description string
	LinkTTL     time.Duration
	Timeout     time.Duration

	// Breaker trips after this many consecutive transport failures.
	BreakerFailures uint32
	BreakerTimeout  time.Duration

	Transport      http.RoundTripper
	TracerProvider trace.TracerProvider
	Logger         *zap.Logger
}

// ErrUnavailable marks calls that never got a usable answer from the gateway:
// transport failures and 5xx responses.
var ErrUnavailable = errors.New("payment gateway unavailable")

type unavailableError struct {
	err error
}

func (e *unavailableError) Error() string { return e.err.Error() }

func (e *unavailableError) Unwrap() []error { return []error{ErrUnavailable, e.err} }

// GatewayError is a non-success response code from the gateway.
type GatewayError struct {
	Code string
	Desc string
}

func (e *GatewayError) Error() string {
	return fmt.Sprintf("payos: code %s: %s", e.Code, e.Desc)
}

// Client talks to the payOS merchant API.
type Client struct {
	cfg     Config
	http    *http.Client
	breaker *gobreaker.CircuitBreaker[*payment.Link]
	now     func() time.Time
}

var _ payment.Gateway = (*Client)(nil)

// ErrCircuitOpen is reported by Check while the breaker rejects calls.
var ErrCircuitOpen = errors.New("payment gateway circuit open")

// Check reports ErrCircuitOpen while the breaker is open. It does not call the
// gateway.
func (c *Client) Check(context.Context) error {
	if c.breaker.State() == gobreaker.StateOpen {
		return ErrCircuitOpen
	}
	return nil
}

// New creates a Client.
func New(cfg Config) (*Client, error) {
	if cfg.ClientID == "" || cfg.APIKey == "" || cfg.ChecksumKey == "" {
		return nil, errors.New("payos client id, api key and checksum key are required")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.Description == "" {
		cfg.Description = DefaultDescription
	}
	if cfg.LinkTTL <= 0 {
		cfg.LinkTTL = DefaultLinkTTL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.BreakerFailures == 0 {
		cfg.BreakerFailures = 5
	}
	if cfg.BreakerTimeout <= 0 {
		cfg.BreakerTimeout = 30 * time.Second
	}
	if cfg.Transport == nil {
		cfg.Transport = http.DefaultTransport
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	var opts []otelhttp.Option
	if cfg.TracerProvider != nil {
		opts = append(opts, otelhttp.WithTracerProvider(cfg.TracerProvider))
	}

	lg := cfg.Logger
	breaker := gobreaker.NewCircuitBreaker[*payment.Link](gobreaker.Settings{
		Name:    "payos",
		Timeout: cfg.BreakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.BreakerFailures
		},
		IsSuccessful: breakerSuccess,
		OnStateChange: func(name string, from, to gobreaker.State) {
			lg.Warn("Circuit breaker state changed",
				zap.String("breaker", name),
				zap.Stringer("from", from),
				zap.Stringer("to", to),
			)
		},
	})

	return &Client{
		cfg: cfg,
		http: &http.Client{
			Timeout:   cfg.Timeout,
			Transport: otelhttp.NewTransport(cfg.Transport, opts...),
		},
		breaker: breaker,
		now:     time.Now,
	}, nil
}

// CreatePaymentLink creates a hosted payment page for the order.
func (c *Client) CreatePaymentLink(ctx context.Context, req payment.LinkRequest) (*payment.Link, error) {
	link, err := c.breaker.Execute(func() (*payment.Link, error) {
		return c.createPaymentLink(ctx, req)
	})
	if err != nil {
		return nil, errors.Wrapf(err, "create payment link for %d", req.OrderCode)
	}
	return link, nil
}

// breakerSuccess reports whether err says nothing against gateway health:
// gateway-level rejections mean the gateway is up, and a caller that gave up
// never learned either way.
func breakerSuccess(err error) bool {
	var gerr *GatewayError
	return err == nil || errors.As(err, &gerr) || errors.Is(err, context.Canceled)
}

func (c *Client) createPaymentLink(ctx context.Context, req payment.LinkRequest) (*payment.Link, error) {
	expiresAt := c.now().Add(c.cfg.LinkTTL).Truncate(time.Second)
	signature := sign(c.cfg.ChecksumKey, linkSignatureData(
		req.Amount, c.cfg.CancelURL, c.cfg.Description, req.OrderCode, c.cfg.ReturnURL,
	))

	e := jx.GetEncoder()
	defer jx.PutEncoder(e)
	e.ObjStart()
	e.FieldStart("orderCode")
	e.Int64(req.OrderCode)
	e.FieldStart("amount")
	e.Int64(req.Amount)
	e.FieldStart("description")
	e.Str(c.cfg.Description)
	e.FieldStart("returnUrl")
	e.Str(c.cfg.ReturnURL)
	e.FieldStart("cancelUrl")
	e.Str(c.cfg.CancelURL)
	e.FieldStart("expiredAt")
	e.Int64(expiresAt.Unix())
	e.FieldStart("signature")
	e.Str(signature)
	e.ObjEnd()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.cfg.BaseURL+"/v2/payment-requests", bytes.NewReader(e.Bytes()))
	if err != nil {
		return nil, errors.Wrap(err, "build request")
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-client-id", c.cfg.ClientID)
	httpReq.Header.Set("x-api-key", c.cfg.APIKey)

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, &unavailableError{err: errors.Wrap(err, "send request")}
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, errors.Wrap(err, "read response")
	}
	if resp.StatusCode >= http.StatusInternalServerError {
		return nil, &unavailableError{err: errors.Errorf("unexpected status %d", resp.StatusCode)}
	}

	link, err := decodeLinkResponse(body)
	if err != nil {
		return nil, err
	}
	if link.ExpiresAt.IsZero() {
		link.ExpiresAt = expiresAt
	}
	return link, nil
}

func decodeLinkResponse(body []byte) (*payment.Link, error) {
	var (
		code, desc string
		link       payment.Link
	)
	d := jx.DecodeBytes(body)
	if err := d.ObjBytes(func(d *jx.Decoder, key []byte) error {
		var err error
		switch string(key) {
		case "code":
			code, err = decodeScalar(d)
		case "desc":
			desc, err = decodeScalar(d)
		case "data":
			if d.Next() == jx.Null {
				return d.Null()
			}
			err = d.ObjBytes(func(d *jx.Decoder, key []byte) error {
				switch string(key) {
				case "checkoutUrl":
					v, err := d.Str()
					link.CheckoutURL = v
					return err
				case "paymentLinkId":
					v, err := d.Str()
					link.PaymentLinkID = v
					return err
				case "expiredAt":
					if d.Next() != jx.Number {
						return d.Skip()
					}
					v, err := d.Int64()
					if v > 0 {
						link.ExpiresAt = time.Unix(v, 0)
					}
					return err
				default:
					return d.Skip()
				}
			})
		default:
			err = d.Skip()
		}
		return errors.Wrapf(err, "field %q", key)
	}); err != nil {
		return nil, errors.Wrap(err, "decode response")
	}

	if code != successCode {
		return nil, &GatewayError{Code: code, Desc: desc}
	}
	if link.CheckoutURL == "" {
		return nil, errors.New("response has no checkout url")
	}
	return &link, nil
}
