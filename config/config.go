package config

import (
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"github.com/pkg/errors"
)

// Store drivers
const (
	DriverMongo    = "mongo"
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Config is read from RELAY_* environment variables (and .env)
type Config struct {
	// Server configuration
	Port        string   `envconfig:"port" default:"8080"`
	CORSOrigins []string `envconfig:"cors_origins" default:"http://localhost:5173,http://localhost:3000"`

	// Store configuration
	StoreDriver  string `envconfig:"store_driver" default:"mongo"`
	MongoURI     string `envconfig:"mongo_uri" default:"mongodb://localhost:27017"`
	DatabaseName string `envconfig:"mongo_db_name" default:"social_inbox"`
	SQLitePath   string `envconfig:"sqlite_path" default:"data/inbox.db"`
	PostgresDSN  string `envconfig:"postgres_dsn"`

	// Webhook configuration
	VerifyToken string `envconfig:"verify_token" default:"webhook_verify_token"`
	AppSecret   string `envconfig:"app_secret"`

	// Agent authentication
	JWTSecret string        `envconfig:"jwt_secret"`
	TokenTTL  time.Duration `envconfig:"token_ttl" default:"12h"`
	SeedFile  string        `envconfig:"seed_file" default:"seed.yaml"`

	// Media storage
	MediaDir       string `envconfig:"media_dir" default:"data/media"`
	MediaPublicURL string `envconfig:"media_public_url"`
	MediaMaxBytes  int64  `envconfig:"media_max_bytes" default:"26214400"`

	// Dedupe cache
	DedupeWindow    time.Duration `envconfig:"dedupe_window" default:"5m"`
	DedupeHighWater int           `envconfig:"dedupe_high_water" default:"5000"`
	DedupeHardLimit int           `envconfig:"dedupe_hard_limit" default:"10000"`

	// Real-time fan-out
	AMQPURL      string `envconfig:"amqp_url"`
	AMQPExchange string `envconfig:"amqp_exchange" default:"inbox.events"`

	// Graph API
	GraphAPIURL       string        `envconfig:"graph_api_url" default:"https://graph.facebook.com/v19.0"`
	SendRateLimit     int           `envconfig:"send_rate_limit" default:"600"`
	PageRefreshPeriod time.Duration `envconfig:"page_refresh_period" default:"5m"`
}

// LoadConfig loads .env if present and processes the environment
func LoadConfig() (*Config, error) {
	godotenv.Load()

	var c Config
	if err := envconfig.Process("relay", &c); err != nil {
		return nil, errors.WithStack(err)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// Validate checks combinations envconfig cannot express
func (c *Config) Validate() error {
	c.StoreDriver = strings.ToLower(strings.TrimSpace(c.StoreDriver))
	switch c.StoreDriver {
	case DriverMongo:
		if c.MongoURI == "" {
			return errors.New("RELAY_MONGO_URI is required for the mongo store")
		}
	case DriverSQLite:
		if c.SQLitePath == "" {
			return errors.New("RELAY_SQLITE_PATH is required for the sqlite store")
		}
	case DriverPostgres:
		if c.PostgresDSN == "" {
			return errors.New("RELAY_POSTGRES_DSN is required for the postgres store")
		}
	default:
		return errors.Errorf("unknown store driver %q", c.StoreDriver)
	}

	if c.JWTSecret == "" {
		return errors.New("RELAY_JWT_SECRET is required")
	}
	if c.DedupeHardLimit < c.DedupeHighWater {
		return errors.Errorf("dedupe hard limit %d is below high water %d", c.DedupeHardLimit, c.DedupeHighWater)
	}
	return nil
}
