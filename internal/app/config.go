package app

import (
	"os"
	"time"

	"github.com/cristalhq/aconfig"
	"github.com/cristalhq/aconfig/aconfigyaml"
	"github.com/go-faster/errors"
)

// Config holds the complete application configuration, loadable from
// environment variables (ORDERS_ prefix), flags, or YAML config files.
type Config struct {
	Addr        string `default:"0.0.0.0:8080" usage:"API server listen address"`
	DatabaseURL string `usage:"PostgreSQL connection URL (ORDERS_DATABASE_URL or DATABASE_URL)" flag:"database-url"`
	Order       OrderConfig
	Payment     PaymentConfig
	Auth        AuthConfig
	Kafka       KafkaConfig
	RateLimit   RateLimitConfig
	CORS        CORSConfig
	Graceful    GracefulConfig
}

// OrderConfig tunes order creation.
type OrderConfig struct {
	CodeLength        int     `default:"10" usage:"Digits per order code" flag:"order-code-length"`
	CodeAttempts      int     `default:"5" usage:"Order code retries on collision" flag:"order-code-attempts"`
	StrictTransitions bool    `default:"false" usage:"Reject state changes that are not one forward step" flag:"order-strict-transitions"`
	StockConcurrency  int     `default:"8" usage:"Concurrent sold quantity updates per order" flag:"order-stock-concurrency"`
	CodeFilterSize    uint    `default:"1000000" usage:"Expected issued order codes held by the seen-code filter"`
	CodeFilterFPR     float64 `default:"0.001" usage:"False positive rate of the seen-code filter"`
}

// PaymentConfig configures the payOS gateway.
type PaymentConfig struct {
	BaseURL             string        `default:"https://api-merchant.payos.vn" usage:"payOS API base URL"`
	ClientID            string        `usage:"payOS client id (ORDERS_PAYMENT_CLIENT_ID)"`
	APIKey              string        `usage:"payOS API key (ORDERS_PAYMENT_API_KEY)"`
	ChecksumKey         string        `usage:"payOS checksum key used for HMAC signatures"`
	ReturnURL           string        `usage:"Redirect after a successful checkout"`
	CancelURL           string        `usage:"Redirect after a cancelled checkout"`
	Description         string        `default:"SecondHand Payment" usage:"Payment description shown to the buyer"`
	LinkTTL             time.Duration `default:"10m" usage:"Payment link lifetime"`
	Timeout             time.Duration `default:"10s" usage:"Gateway request timeout"`
	BreakerFailures     uint32        `default:"5" usage:"Consecutive gateway failures that open the breaker"`
	BreakerTimeout      time.Duration `default:"30s" usage:"Open breaker cool-down"`
	MinorUnitsPerAmount int64         `default:"1" usage:"Stored minor units per gateway amount unit"`
}

// AuthConfig configures buyer token verification.
type AuthConfig struct {
	JWTSecret string        `usage:"HMAC secret for buyer tokens (ORDERS_AUTH_JWT_SECRET)" flag:"jwt-secret"`
	Issuer    string        `default:"" usage:"Expected token issuer; empty accepts any"`
	Leeway    time.Duration `default:"30s" usage:"Allowed clock skew for token expiry"`
}

// KafkaConfig configures order event publishing. Events are dropped when no
// brokers are set.
type KafkaConfig struct {
	Brokers []string `usage:"Kafka bootstrap brokers"`
	Topic   string   `default:"order-events" usage:"Order events topic"`
}

// RateLimitConfig controls the per-client sliding window rate limiter.
type RateLimitConfig struct {
	Max    int           `default:"100" usage:"Max requests per window"`
	Window time.Duration `default:"1m"  usage:"Rate limit window duration"`
}

// CORSConfig controls Cross-Origin Resource Sharing headers.
type CORSConfig struct {
	Origins          []string `default:"*" usage:"Allowed CORS origins"`
	AllowCredentials bool     `default:"false" usage:"Allow credentials (cookies, auth headers)" flag:"cors-credentials"`
}

// GracefulConfig controls graceful shutdown timing.
type GracefulConfig struct {
	ReadinessDelay  time.Duration `default:"3s"  usage:"Delay after readiness=false before shutdown" flag:"readiness-delay"`
	ShutdownTimeout time.Duration `default:"15s" usage:"Maximum shutdown duration" flag:"shutdown-timeout"`
}

// LoadConfig loads configuration from environment variables, YAML config files,
// and applies platform-specific defaults.
func LoadConfig() (*Config, error) {
	var cfg Config
	loader := aconfig.LoaderFor(&cfg, aconfig.Config{
		EnvPrefix: "ORDERS",
		Files:     []string{"config.yaml", "/etc/orders/config.yaml"},
		FileDecoders: map[string]aconfig.FileDecoder{
			".yaml": aconfigyaml.New(),
		},
	})
	if err := loader.Load(); err != nil {
		return nil, errors.Wrap(err, "load config")
	}
	cfg.applyPlatformDefaults()

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	switch {
	case c.DatabaseURL == "":
		return errors.New("database URL is required: set ORDERS_DATABASE_URL or DATABASE_URL")
	case c.Auth.JWTSecret == "":
		return errors.New("jwt secret is required: set ORDERS_AUTH_JWT_SECRET")
	case c.Payment.ClientID == "" || c.Payment.APIKey == "" || c.Payment.ChecksumKey == "":
		return errors.New("payOS credentials are required: set ORDERS_PAYMENT_CLIENT_ID, ORDERS_PAYMENT_API_KEY and ORDERS_PAYMENT_CHECKSUM_KEY")
	}
	return nil
}

// applyPlatformDefaults maps platform-provided environment variables (Railway,
// Render, etc.) that use standard names like DATABASE_URL and PORT to the
// application's ORDERS_-prefixed configuration.
func (c *Config) applyPlatformDefaults() {
	if c.DatabaseURL == "" {
		if v := os.Getenv("DATABASE_URL"); v != "" {
			c.DatabaseURL = v
		}
	}
	if port := os.Getenv("PORT"); port != "" && c.Addr == "0.0.0.0:8080" {
		c.Addr = "0.0.0.0:" + port
	}
}
