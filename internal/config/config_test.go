package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig_Defaults(t *testing.T) {
	t.Setenv("DOWNLOAD_DIR", "/tmp/downloads")

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, "/tmp/downloads", cfg.DownloadDir)
	assert.Equal(t, "ZHER", cfg.ProductName)
	assert.Equal(t, 4836, cfg.ServicePort)
	assert.Equal(t, 4837, cfg.DiscoveryPort)
	assert.Equal(t, 3*time.Second, cfg.DiscoveryTimeout)
	assert.Equal(t, 100*time.Millisecond, cfg.DiscoveryPollInterval)
	assert.Equal(t, time.Duration(0), cfg.KeepPartialFor)
	assert.Equal(t, "127.0.0.1:4838", cfg.Web.BindAddress)
	assert.True(t, cfg.Telemetry.Enabled)
	assert.Contains(t, cfg.UserAgent, "Mozilla/5.0")
}

func TestLoadConfig_Overrides(t *testing.T) {
	t.Setenv("DOWNLOAD_DIR", "/tmp/downloads")
	t.Setenv("DISCOVERY_TIMEOUT", "2s")
	t.Setenv("WEB_BIND_ADDRESS", "0.0.0.0:9000")
	t.Setenv("TELEMETRY_ENABLED", "false")
	t.Setenv("TELEMETRY_OTLP_ENDPOINT", "collector:4317")
	t.Setenv("SERVICE_HOST", "192.168.1.20")
	t.Setenv("SERVICE_PORT", "65535")

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, "192.168.1.20", cfg.ServiceHost)
	assert.Equal(t, 65535, cfg.ServicePort)

	assert.Equal(t, 2*time.Second, cfg.DiscoveryTimeout)
	assert.Equal(t, "0.0.0.0:9000", cfg.Web.BindAddress)
	assert.False(t, cfg.Telemetry.Enabled)
	assert.Equal(t, "collector:4317", cfg.Telemetry.OTLPEndpoint)
}

func TestLoadConfig_PortOutOfRange(t *testing.T) {
	tests := []struct {
		env   string
		value string
	}{
		{"SERVICE_PORT", "70000"},
		{"SERVICE_PORT", "0"},
		{"DISCOVERY_PORT", "65536"},
		{"DISCOVERY_PORT", "-1"},
	}

	for _, tt := range tests {
		t.Run(tt.env+"="+tt.value, func(t *testing.T) {
			t.Setenv("DOWNLOAD_DIR", "/tmp/downloads")
			t.Setenv(tt.env, tt.value)

			_, err := LoadConfig()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.env)
		})
	}
}

func TestLoadConfig_MissingDownloadDir(t *testing.T) {
	t.Setenv("DOWNLOAD_DIR", "")
	require.NoError(t, os.Unsetenv("DOWNLOAD_DIR"))

	_, err := LoadConfig()
	assert.Error(t, err)
}

func TestConfig_Paths(t *testing.T) {
	cfg := &Config{DownloadDir: "/dl", DataDir: "/data"}

	assert.Equal(t, filepath.Join("/data", "downloads.json"), cfg.RecordsPath())
	assert.Equal(t, "/dl", cfg.ServedDir())

	cfg.SharedDir = "/share"
	assert.Equal(t, "/share", cfg.ServedDir())
}

func TestConfig_SlogLevel(t *testing.T) {
	tests := []struct {
		level string
		want  slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"INFO", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"ERROR", slog.LevelError},
		{"verbose", slog.LevelInfo},
	}

	for _, tt := range tests {
		t.Run(tt.level, func(t *testing.T) {
			cfg := &Config{LogLevel: tt.level}
			assert.Equal(t, tt.want, cfg.SlogLevel())
		})
	}
}
