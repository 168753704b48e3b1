package app

import (
	"os"
	"time"

	"github.com/cristalhq/aconfig"
	"github.com/cristalhq/aconfig/aconfigyaml"
	"github.com/go-faster/errors"
)

// Config holds the complete application configuration, loadable from
// environment variables (CHECKOUT_ prefix), flags, or YAML config files.
type Config struct {
	Addr        string `default:"0.0.0.0:8080" usage:"API server listen address"`
	DatabaseURL string `usage:"PostgreSQL connection URL; empty runs the in-memory backend" flag:"database-url"`
	Currency    string `default:"USD" usage:"Default currency for incoming orders"`

	Idempotency IdempotencyConfig
	Payment     PaymentConfig
	SeedStock   string `default:"" usage:"Initial stock for the in-memory backend, e.g. SKU-1=10,SKU-2=5" flag:"seed-stock"`
	Graceful    GracefulConfig
}

// IdempotencyConfig controls the deduplication state machine.
type IdempotencyConfig struct {
	TTL time.Duration `default:"2m" usage:"IN_PROGRESS record lifetime before recovery is allowed"`
	// ExpectedKeys sizes the bloom filter that elides record reads for
	// fresh keys.
	ExpectedKeys uint `default:"1000000" usage:"Expected distinct idempotency keys" flag:"expected-keys"`
}

// PaymentConfig controls the payment gateway stand-in.
type PaymentConfig struct {
	DeclineTokens []string `default:"tok_declined" usage:"Payment tokens to decline" flag:"decline-tokens"`
	MaxCharge     string   `default:"1000000.00" usage:"Maximum charge amount" flag:"max-charge"`
}

// GracefulConfig controls graceful shutdown timing.
type GracefulConfig struct {
	ReadinessDelay  time.Duration `default:"3s"  usage:"Delay after readiness=false before shutdown" flag:"readiness-delay"`
	ShutdownTimeout time.Duration `default:"15s" usage:"Maximum shutdown duration" flag:"shutdown-timeout"`
}

// LoadConfig loads configuration from environment variables, YAML config
// files, and platform defaults.
func LoadConfig() (*Config, error) {
	var cfg Config
	loader := aconfig.LoaderFor(&cfg, aconfig.Config{
		EnvPrefix: "CHECKOUT",
		Files:     []string{"config.yaml", "/etc/checkout/config.yaml"},
		FileDecoders: map[string]aconfig.FileDecoder{
			".yaml": aconfigyaml.New(),
		},
	})
	if err := loader.Load(); err != nil {
		return nil, errors.Wrap(err, "load config")
	}
	cfg.applyPlatformDefaults()
	return &cfg, nil
}

// applyPlatformDefaults maps platform-provided environment variables
// (DATABASE_URL, PORT) to the CHECKOUT_-prefixed configuration.
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
