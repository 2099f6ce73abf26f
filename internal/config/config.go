// Package config loads collabd's server configuration from the
// environment using struct-tag driven parsing.
package config

import (
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Config holds every tunable collabd's server exposes.
type Config struct {
	Port string `env:"PORT" envDefault:"3030"`

	SQLiteURI  string `env:"SQLITE_URI"`
	JWTSecret  string `env:"JWT_SECRET" envDefault:"dev-secret-change-me"`
	NATSURL    string `env:"NATS_URL"`

	ExpiryDays      int           `env:"EXPIRY_DAYS" envDefault:"7"`
	CleanupInterval time.Duration `env:"CLEANUP_INTERVAL" envDefault:"1h"`

	MaxDocumentSizeBytes int `env:"MAX_DOCUMENT_SIZE_KB" envDefault:"256"` // converted to bytes after parse

	WSReadTimeout       time.Duration `env:"WS_READ_TIMEOUT" envDefault:"30m"`
	WSWriteTimeout      time.Duration `env:"WS_WRITE_TIMEOUT" envDefault:"10s"`
	BroadcastBufferSize int           `env:"BROADCAST_BUFFER_SIZE" envDefault:"32"`

	// OperationRateLimitPerSecond and OperationRateLimitBurst bound the
	// per-session token bucket guarding the hub's inbound queue.
	OperationRateLimitPerSecond float64 `env:"OPERATION_RATE_LIMIT_PER_SECOND" envDefault:"50"`
	OperationRateLimitBurst     int     `env:"OPERATION_RATE_LIMIT_BURST" envDefault:"100"`

	// RetentionEntries bounds the operation log's retained tail (0 means
	// unbounded). A submit whose base_version falls outside the retained
	// window is reported as ResyncRequired rather than silently dropped.
	RetentionEntries int `env:"OT_RETENTION_ENTRIES" envDefault:"10000"`

	// IdleGracePeriod is how long a hub with no subscribers stays Draining
	// before being Reclaimed.
	IdleGracePeriod time.Duration `env:"HUB_IDLE_GRACE_PERIOD" envDefault:"30s"`

	MetricsAddr string `env:"METRICS_ADDR" envDefault:":9090"`
}

// Load reads a .env file if present (ignored if absent, matching
// godotenv's typical optional-in-production usage) and parses Config from
// the environment.
func Load() (Config, error) {
	if _, err := os.Stat(".env"); err == nil {
		if loadErr := godotenv.Load(); loadErr != nil {
			return Config{}, loadErr
		}
	}

	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, err
	}

	cfg.MaxDocumentSizeBytes *= 1024
	return cfg, nil
}
