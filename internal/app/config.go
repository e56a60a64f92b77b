package app

import (
	"os"
	"time"

	"github.com/cristalhq/aconfig"
	"github.com/cristalhq/aconfig/aconfigyaml"
	"github.com/go-faster/errors"

	"github.com/xenking/retail-orders/internal/events"
)

const defaultAddr = "0.0.0.0:8080"

// Config holds the complete application configuration, loadable from
// environment variables (RETAIL_ prefix), flags, or YAML config files.
type Config struct {
	Addr         string `default:"0.0.0.0:8080" usage:"API server listen address"`
	DatabaseURL  string `usage:"PostgreSQL connection URL (RETAIL_DATABASE_URL or DATABASE_URL)" flag:"database-url"`
	APIKeyPepper string `usage:"HMAC pepper for API key hashing (RETAIL_API_KEY_PEPPER)" flag:"api-key-pepper"`
	Orders       OrdersConfig
	Kafka        KafkaConfig
	Health       HealthConfig
	RateLimit    RateLimitConfig
	CORS         CORSConfig
	Graceful     GracefulConfig
}

// OrdersConfig tunes checkout behaviour.
type OrdersConfig struct {
	AllowEmptyCart bool `default:"true" usage:"Allow checkout of an empty cart" flag:"allow-empty-cart"`
}

// KafkaConfig controls publishing of order lifecycle events. The outbox relay
// is disabled when Brokers is empty; events then accumulate in the outbox.
type KafkaConfig struct {
	Brokers       string        `default:"" usage:"Comma separated Kafka brokers" flag:"kafka-brokers"`
	Topic         string        `default:"order-events" usage:"Topic for order lifecycle events" flag:"kafka-topic"`
	RelayInterval time.Duration `default:"1s" usage:"Outbox polling interval" flag:"relay-interval"`
	BatchSize     int           `default:"100" usage:"Outbox messages published per batch" flag:"relay-batch"`
}

// BrokerList returns the configured brokers with blanks dropped. The relay
// runs only when it is non-empty.
func (c KafkaConfig) BrokerList() []string {
	return events.ParseBrokers(c.Brokers)
}

// HealthConfig controls background probes.
type HealthConfig struct {
	Interval    time.Duration `default:"10s" usage:"Health check interval" flag:"health-interval"`
	MaxRelayLag time.Duration `default:"5m" usage:"Oldest unsent event age before the instance reports not ready" flag:"max-relay-lag"`
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
		EnvPrefix: "RETAIL",
		Files:     []string{"config.yaml", "/etc/retail-orders/config.yaml"},
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
	if c.DatabaseURL == "" {
		return errors.New("database URL is required: set RETAIL_DATABASE_URL or DATABASE_URL")
	}
	if len(c.Kafka.BrokerList()) > 0 && c.Kafka.Topic == "" {
		return errors.New("kafka topic is required when brokers are set")
	}
	if c.Kafka.BatchSize <= 0 {
		return errors.Errorf("relay batch size must be positive, got %d", c.Kafka.BatchSize)
	}
	if c.RateLimit.Max <= 0 || c.RateLimit.Window <= 0 {
		return errors.New("rate limit max and window must be positive")
	}
	return nil
}

// applyPlatformDefaults maps platform-provided environment variables (Railway,
// Render, etc.) that use standard names like DATABASE_URL and PORT to the
// application's RETAIL_-prefixed configuration.
func (c *Config) applyPlatformDefaults() {
	if c.DatabaseURL == "" {
		if v := os.Getenv("DATABASE_URL"); v != "" {
			c.DatabaseURL = v
		}
	}
	if port := os.Getenv("PORT"); port != "" && c.Addr == defaultAddr {
		c.Addr = "0.0.0.0:" + port
	}
}
