package config

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

const recordsFile = "downloads.json"

// Config struct for environment variables.
type Config struct {
	DownloadDir string `envconfig:"DOWNLOAD_DIR" required:"true"`
	DataDir     string `envconfig:"DATA_DIR" default:"data"`
	SharedDir   string `envconfig:"SHARED_DIR"`

	ProductName           string        `envconfig:"PRODUCT_NAME" default:"ZHER"`
	ServiceHost           string        `envconfig:"SERVICE_HOST"`
	ServicePort           int           `envconfig:"SERVICE_PORT" default:"4836"`
	DiscoveryPort         int           `envconfig:"DISCOVERY_PORT" default:"4837"`
	DiscoveryTimeout      time.Duration `envconfig:"DISCOVERY_TIMEOUT" default:"3s"`
	DiscoveryPollInterval time.Duration `envconfig:"DISCOVERY_POLL_INTERVAL" default:"100ms"`

	UserAgent        string        `envconfig:"USER_AGENT" default:"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"`
	ProgressInterval time.Duration `envconfig:"PROGRESS_INTERVAL" default:"100ms"`
	KeepPartialFor   time.Duration `envconfig:"KEEP_PARTIAL_FOR" default:"0"`
	CleanupInterval  time.Duration `envconfig:"CLEANUP_INTERVAL" default:"1h"`
	LogLevel         string        `envconfig:"LOG_LEVEL" default:"INFO"`
	WebhookURL       string        `envconfig:"WEBHOOK_URL"`

	Web struct {
		BindAddress     string        `split_words:"true" default:"127.0.0.1:4838"`
		Username        string        `split_words:"true"`
		Password        string        `split_words:"true"`
		ReadTimeout     time.Duration `split_words:"true" default:"30s"`
		WriteTimeout    time.Duration `split_words:"true" default:"0s"`
		IdleTimeout     time.Duration `split_words:"true" default:"5s"`
		ShutdownTimeout time.Duration `split_words:"true" default:"30s"`
	}

	Telemetry struct {
		Enabled      bool   `split_words:"true" default:"true"`
		ServiceName  string `split_words:"true" default:"zher"`
		OTLPEndpoint string `split_words:"true"`
	}
}

// LoadConfig reads environment variables and populates the Config struct.
func LoadConfig() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("error processing env: %w", err)
	}

	for name, port := range map[string]int{"SERVICE_PORT": cfg.ServicePort, "DISCOVERY_PORT": cfg.DiscoveryPort} {
		if port < 1 || port > 65535 {
			return nil, fmt.Errorf("%s must be between 1 and 65535, got %d", name, port)
		}
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

// RecordsPath is the location of the completed-download record file.
func (c *Config) RecordsPath() string {
	return filepath.Join(c.DataDir, recordsFile)
}

// ServedDir is the directory exposed to peers while the local service runs.
func (c *Config) ServedDir() string {
	if c.SharedDir != "" {
		return c.SharedDir
	}

	return c.DownloadDir
}
