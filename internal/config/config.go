package config

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config struct for environment variables.
type Config struct {
	CatalogPath string `envconfig:"CATALOG_PATH"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"INFO"`

	PollInterval   time.Duration `envconfig:"POLL_INTERVAL" default:"500ms"`
	RetryBackoff   time.Duration `envconfig:"RETRY_BACKOFF" default:"2s"`
	MaxAttempts    int           `envconfig:"MAX_ATTEMPTS" default:"2"`
	AttemptTimeout time.Duration `envconfig:"ATTEMPT_TIMEOUT" default:"0s"`
	CancelGrace    time.Duration `envconfig:"CANCEL_GRACE" default:"2s"`
	StaleTempAfter time.Duration `envconfig:"STALE_TEMP_AFTER" default:"24h"`

	DiscordWebhookURL string `envconfig:"DISCORD_WEBHOOK_URL"`

	Telemetry struct {
		Enabled      bool   `split_words:"true" default:"true"`
		ServiceName  string `split_words:"true" default:"model_downloader"`
		OTLPEndpoint string `split_words:"true"`
	}

	Web struct {
		BindAddress string        `split_words:"true" default:"0.0.0.0:8000"`
		ReadTimeout time.Duration `split_words:"true" default:"30s"`
		// Download streams stay open for the whole transfer.
		WriteTimeout    time.Duration `split_words:"true" default:"0s"`
		IdleTimeout     time.Duration `split_words:"true" default:"5s"`
		ShutdownTimeout time.Duration `split_words:"true" default:"30s"`
	}
}

// LoadConfig reads environment variables and populates the Config struct.
func LoadConfig() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("error processing env: %w", err)
	}

	if cfg.MaxAttempts < 1 {
		return nil, fmt.Errorf("MAX_ATTEMPTS must be at least 1, got %d", cfg.MaxAttempts)
	}

	return &cfg, nil
}

func (c *Config) SlogLevel() slog.Level {
	switch strings.ToUpper(c.LogLevel) {
	case "DEBUG":
		return slog.LevelDebug
	case "INFO":
		return slog.LevelInfo
	case "WARN":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
