package app

import (
	"os"
	"time"

	"github.com/cristalhq/aconfig"
	"github.com/cristalhq/aconfig/aconfigyaml"
	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// Config holds the complete application configuration, loadable from
// environment variables (KART_ prefix), flags, or YAML config files.
type Config struct {
	Addr         string   `default:"0.0.0.0:8080" usage:"API server listen address"`
	DatabaseURL  string   `usage:"PostgreSQL connection URL (KART_DATABASE_URL or DATABASE_URL)" flag:"database-url"`
	RedisAddr    string   `default:"localhost:6379" usage:"Redis address for the cart store" flag:"redis-addr"`
	KafkaBrokers []string `usage:"Kafka broker addresses; empty disables event publishing" flag:"kafka-brokers"`
	KafkaTopic   string   `default:"order-events" usage:"Kafka topic for order lifecycle events" flag:"kafka-topic"`
	PaymentURL   string   `usage:"Payment provider base URL (KART_PAYMENT_URL)" flag:"payment-url"`
	APIKeyPepper string   `usage:"HMAC pepper for API key hashing (KART_API_KEY_PEPPER)" flag:"api-key-pepper"`
	Order        OrderConfig
	Refund       RefundConfig
	Cart         CartConfig
	Coupon       CouponConfig
	RateLimit    RateLimitConfig
	CORS         CORSConfig
	Graceful     GracefulConfig
}

// OrderConfig holds the lifecycle engine's money and timing policy.
type OrderConfig struct {
	Timeout          time.Duration   `default:"30m" usage:"How long a pending order may await payment"`
	MinAmount        decimal.Decimal `default:"1.00" usage:"Minimum acceptable order total" flag:"min-amount"`
	TaxRate          decimal.Decimal `default:"0.10" usage:"Flat tax rate applied to the subtotal" flag:"tax-rate"`
	Currency         string          `default:"USD" usage:"ISO currency code for all orders"`
	SweepInterval    time.Duration   `default:"1m" usage:"Interval between expiry sweeps" flag:"sweep-interval"`
	SweepBatch       int             `default:"100" usage:"Max orders cancelled per sweep" flag:"sweep-batch"`
	BatchConcurrency int             `default:"8" usage:"Concurrency bound for batch status updates" flag:"batch-concurrency"`
}

// RefundConfig controls refund eligibility.
type RefundConfig struct {
	Window time.Duration `default:"720h" usage:"Refund window measured from order completion"`
}

// CartConfig controls the cart store.
type CartConfig struct {
	TTL time.Duration `default:"72h" usage:"Cart inactivity TTL"`
}

// CouponConfig controls the coupon code prefilter.
type CouponConfig struct {
	FilterCapacity  uint          `default:"100000" usage:"Expected number of active coupon codes" flag:"filter-capacity"`
	FilterFPRate    float64       `default:"0.001" usage:"Bloom filter false positive rate" flag:"filter-fp-rate"`
	RebuildInterval time.Duration `default:"10m" usage:"Interval between prefilter rebuilds" flag:"rebuild-interval"`
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
		EnvPrefix: "KART",
		Files:     []string{"config.yaml", "/etc/kart/config.yaml"},
		FileDecoders: map[string]aconfig.FileDecoder{
			".yaml": aconfigyaml.New(),
		},
	})
	if err := loader.Load(); err != nil {
		return nil, errors.Wrap(err, "load config")
	}
	cfg.applyPlatformDefaults()

	if cfg.DatabaseURL == "" {
		return nil, errors.New("database URL is required: set KART_DATABASE_URL or DATABASE_URL")
	}
	if cfg.PaymentURL == "" {
		return nil, errors.New("payment provider URL is required: set KART_PAYMENT_URL")
	}

	return &cfg, nil
}

// applyPlatformDefaults maps platform-provided environment variables (Railway,
// Render, etc.) that use standard names like DATABASE_URL and PORT to the
// application's KART_-prefixed configuration.
func (c *Config) applyPlatformDefaults() {
	if c.DatabaseURL == "" {
		if v := os.Getenv("DATABASE_URL"); v != "" {
			c.DatabaseURL = v
		}
	}
	if c.RedisAddr == "localhost:6379" {
		if v := os.Getenv("REDIS_URL"); v != "" {
			c.RedisAddr = v
		}
	}
	if port := os.Getenv("PORT"); port != "" && c.Addr == "0.0.0.0:8080" {
		c.Addr = "0.0.0.0:" + port
	}
}
