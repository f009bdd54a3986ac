package config

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("MONGODB_URI", "")
	t.Setenv("KAFKA_BOOTSTRAP_SERVERS", "")
	t.Setenv("NOTIFY_MAX_RETRIES", "")
	t.Setenv("LOG_LEVEL", "")

	cfg, err := Load(filepath.Join(t.TempDir(), "missing.env"))
	require.NoError(t, err)

	assert.Equal(t, "5002", cfg.Server.Port)
	assert.Equal(t, "info", cfg.Server.LogLevel)
	assert.False(t, cfg.MongoDB.Enabled())
	assert.False(t, cfg.Kafka.Enabled())
	assert.Equal(t, 3, cfg.Dispatcher.MaxRetries)
	assert.Equal(t, 5*time.Second, cfg.Dispatcher.BaseBackoff)
	assert.Equal(t, "85", cfg.Pricing.HourlyRate.String())
	assert.Equal(t, "1360", cfg.Pricing.InspectionForfait.String())
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("KAFKA_BOOTSTRAP_SERVERS", "kafka-1:9092, kafka-2:9092,")
	t.Setenv("NOTIFY_MAX_RETRIES", "5")
	t.Setenv("NOTIFY_BASE_BACKOFF", "250ms")
	t.Setenv("PRICING_HOURLY_RATE", "92.50")
	t.Setenv("ERP_EXTRA_ENDPOINTS", "ERP_AUDIT=http://audit:5020, ERP_BI = http://bi:5030")

	cfg, err := Load(filepath.Join(t.TempDir(), "missing.env"))
	require.NoError(t, err)

	assert.Equal(t, []string{"kafka-1:9092", "kafka-2:9092"}, cfg.Kafka.Brokers)
	assert.Equal(t, 5, cfg.Dispatcher.MaxRetries)
	assert.Equal(t, 250*time.Millisecond, cfg.Dispatcher.BaseBackoff)
	assert.Equal(t, "92.5", cfg.Pricing.HourlyRate.String())
	assert.Equal(t, map[string]string{"ERP_AUDIT": "http://audit:5020", "ERP_BI": "http://bi:5030"}, cfg.ERP.ExtraEndpoints)
}

func TestLoad_RejectsMalformedValues(t *testing.T) {
	t.Setenv("NOTIFY_MAX_RETRIES", "three")
	t.Setenv("ERP_TIMEOUT", "soon")
	t.Setenv("ERP_EXTRA_ENDPOINTS", "ERP_AUDIT")

	_, err := Load(filepath.Join(t.TempDir(), "missing.env"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "NOTIFY_MAX_RETRIES")
	assert.Contains(t, err.Error(), "ERP_TIMEOUT")
	assert.Contains(t, err.Error(), "ERP_EXTRA_ENDPOINTS")
}

func TestValidate_Backoff(t *testing.T) {
	t.Setenv("NOTIFY_BASE_BACKOFF", "1m")
	t.Setenv("NOTIFY_MAX_BACKOFF", "10s")

	_, err := Load(filepath.Join(t.TempDir(), "missing.env"))
	require.EqualError(t, err, "NOTIFY_MAX_BACKOFF must be greater than NOTIFY_BASE_BACKOFF")
}

func TestValidate_NilConfig(t *testing.T) {
	var cfg *Config
	require.EqualError(t, cfg.Validate(), "config is nil")
}
