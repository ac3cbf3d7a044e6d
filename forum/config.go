package forum

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

// Config is read from VOLBOARD_* environment variables at startup.
type Config struct {
	Addr        string `env:"VOLBOARD_ADDR"          envDefault:":8080"`
	Driver      string `env:"VOLBOARD_STORE"         envDefault:"sqlite"`
	DatabaseURL string `env:"DATABASE_URL"`
	SQLitePath  string `env:"VOLBOARD_SQLITE_PATH"   envDefault:"volboard.db"`

	RedisAddr     string        `env:"VOLBOARD_REDIS_ADDR"`
	RedisPassword string        `env:"VOLBOARD_REDIS_PASSWORD"`
	RedisDB       int           `env:"VOLBOARD_REDIS_DB"       envDefault:"0"`
	PostCacheTTL  time.Duration `env:"VOLBOARD_POST_CACHE_TTL" envDefault:"10m"`

	ReadMarkLimit int `env:"VOLBOARD_READ_MARK_LIMIT" envDefault:"500"`
	RetryAttempts int `env:"VOLBOARD_RETRY_ATTEMPTS"  envDefault:"3"`
	TopicPageSize int `env:"VOLBOARD_TOPIC_PAGE_SIZE" envDefault:"50"`
	PostPageSize  int `env:"VOLBOARD_POST_PAGE_SIZE"  envDefault:"50"`
	UserPageSize  int `env:"VOLBOARD_USER_PAGE_SIZE"  envDefault:"50"`

	SessionLifetime time.Duration `env:"VOLBOARD_SESSION_LIFETIME" envDefault:"168h"`
	OTLPEndpoint    string        `env:"VOLBOARD_OTEL_ENDPOINT"`
	LogLevel        string        `env:"VOLBOARD_LOG_LEVEL"        envDefault:"info"`
}

// LoadConfig parses the process environment.
func LoadConfig() (Config, error) {
	return loadConfig(env.Options{})
}

func loadConfig(opts env.Options) (Config, error) {
	cfg, err := env.ParseAsWithOptions[Config](opts)
	if err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	switch c.Driver {
	case DriverSQLite:
		if c.SQLitePath == "" {
			return fmt.Errorf("config: VOLBOARD_SQLITE_PATH is required for the sqlite store")
		}
	case DriverPostgres:
		if c.DatabaseURL == "" {
			return fmt.Errorf("config: DATABASE_URL is required for the postgres store")
		}
	default:
		return fmt.Errorf("config: unknown store %q", c.Driver)
	}
	if c.ReadMarkLimit < 1 || c.RetryAttempts < 1 || c.TopicPageSize < 1 || c.PostPageSize < 1 || c.UserPageSize < 1 {
		return fmt.Errorf("config: limits and page sizes must be positive")
	}
	return nil
}

// Retry returns the transaction retry policy for the configured attempts.
func (c Config) Retry() RetryPolicy {
	p := DefaultRetryPolicy()
	p.Attempts = c.RetryAttempts
	return p
}
