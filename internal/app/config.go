package app

import (
	"os"
	"time"

	"github.com/cristalhq/aconfig"
	"github.com/cristalhq/aconfig/aconfigyaml"
	"github.com/go-faster/errors"
)

// Storage drivers.
const (
	DriverMemory   = "memory"
	DriverPostgres = "postgres"
	DriverMongo    = "mongo"
	DriverRedis    = "redis"
)

// Config holds the complete application configuration, loadable from
// environment variables (KART_ prefix), flags, or YAML config files.
type Config struct {
	Addr      string `default:"0.0.0.0:8080" usage:"API server listen address"`
	Store     StoreConfig
	Cart      CartConfig
	Media     MediaConfig
	Session   SessionConfig
	Kafka     KafkaConfig
	RateLimit RateLimitConfig
	CORS      CORSConfig
	Graceful  GracefulConfig
}

// StoreConfig selects the document store holding products, carts and orders.
type StoreConfig struct {
	Driver      string `default:"memory" usage:"Document store driver: memory, postgres or mongo"`
	DatabaseURL string `usage:"PostgreSQL connection URL (KART_STORE_DATABASE_URL or DATABASE_URL)" flag:"database-url"`
	MongoURI    string `default:"mongodb://localhost:27017" usage:"MongoDB connection URI" flag:"mongo-uri"`
	MongoDB     string `default:"kart" usage:"MongoDB database name" flag:"mongo-db"`
}

// CartConfig controls the local cart copy.
type CartConfig struct {
	Driver    string        `default:"memory" usage:"Local cart store driver: memory or redis"`
	RedisAddr string        `default:"localhost:6379" usage:"Redis address" flag:"redis-addr"`
	TTL       time.Duration `default:"720h" usage:"Lifetime of a local cart copy"`
	Retries   int           `default:"3" usage:"Retries of a conflicting remote cart write"`
}

// MediaConfig controls where product images are stored and served from.
type MediaConfig struct {
	Root    string `default:"./media" usage:"Directory holding uploaded product images"`
	BaseURL string `default:"/media" usage:"Public URL prefix of uploaded images" flag:"media-base-url"`
}

// SessionConfig controls bearer token verification.
type SessionConfig struct {
	Secret string        `usage:"HMAC secret of session tokens (KART_SESSION_SECRET)" flag:"session-secret"`
	Issuer string        `default:"kart" usage:"Expected token issuer"`
	TTL    time.Duration `default:"24h" usage:"Lifetime of issued tokens"`
}

// KafkaConfig enables OrderPlaced events when brokers are set.
type KafkaConfig struct {
	Brokers []string `usage:"Kafka brokers; empty disables order events"`
	Topic   string   `default:"orders" usage:"Topic of order events"`
}

// RateLimitConfig controls the per-client token bucket rate limiter.
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

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate reports settings that cannot work together.
func (c *Config) Validate() error {
	switch c.Store.Driver {
	case DriverMemory, DriverMongo:
	case DriverPostgres:
		if c.Store.DatabaseURL == "" {
			return errors.New("database URL is required: set KART_STORE_DATABASE_URL or DATABASE_URL")
		}
	default:
		return errors.Errorf("unknown store driver %q", c.Store.Driver)
	}
	switch c.Cart.Driver {
	case DriverMemory, DriverRedis:
	default:
		return errors.Errorf("unknown cart driver %q", c.Cart.Driver)
	}
	if len(c.Session.Secret) < 16 {
		return errors.New("session secret of at least 16 bytes is required: set KART_SESSION_SECRET")
	}
	return nil
}

// applyPlatformDefaults maps platform-provided environment variables (Railway,
// Render, etc.) that use standard names like DATABASE_URL and PORT to the
// application's KART_-prefixed configuration. A DATABASE_URL alone selects
// the postgres store.
func (c *Config) applyPlatformDefaults() {
	if c.Store.DatabaseURL == "" {
		if v := os.Getenv("DATABASE_URL"); v != "" {
			c.Store.DatabaseURL = v
			if c.Store.Driver == DriverMemory {
				c.Store.Driver = DriverPostgres
			}
		}
	}
	if port := os.Getenv("PORT"); port != "" && c.Addr == "0.0.0.0:8080" {
		c.Addr = "0.0.0.0:" + port
	}
}
