package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	require.NotNil(t, cfg)

	assert.Equal(t, int32(10), cfg.Database.MaxConns)
	assert.Equal(t, "nats://localhost:4222", cfg.NATS.URL)
	assert.Equal(t, "RFQ_DELIVERIES", cfg.NATS.Stream)
	assert.Equal(t, "rfqflow-delivery", cfg.NATS.Consumer)
	assert.Equal(t, 2*time.Minute, cfg.NATS.Duplicates)
	assert.True(t, cfg.Redis.Enabled)
	assert.Equal(t, 72*time.Hour, cfg.Redis.SeenTTL)

	assert.Equal(t, 4, cfg.Delivery.Workers)
	assert.Equal(t, 8, cfg.Delivery.SendConcurrency)
	assert.Equal(t, 5, cfg.Delivery.MaxAttempts)
	assert.Equal(t, 60*time.Second, cfg.Delivery.AckWait)
	assert.Equal(t, 5*time.Second, cfg.Delivery.Backoff.Initial)
	assert.Equal(t, 5*time.Minute, cfg.Delivery.Backoff.Max)
	assert.Equal(t, 2.0, cfg.Delivery.Backoff.Multiplier)
	assert.Equal(t, 0.2, cfg.Delivery.Backoff.Jitter)

	assert.True(t, cfg.Reconcile.Enabled)
	assert.Equal(t, time.Minute, cfg.Reconcile.Interval)
	assert.Equal(t, 10*time.Minute, cfg.Reconcile.Threshold)
	assert.Equal(t, 100, cfg.Reconcile.BatchSize)

	assert.Empty(t, cfg.Render.Template)
	assert.Equal(t, 168*time.Hour, cfg.Actions.TTL)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, "json", cfg.Logging.Format)
	assert.Equal(t, ":9090", cfg.Metrics.Addr)
}

func TestLoad_FromFile(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "rfqflow.yaml")
	content := `
database:
  url: postgres://rfq:rfq@db:5432/rfq
  max_conns: 20
nats:
  url: nats://nats:4222
telegram:
  token: bot-token
delivery:
  workers: 2
  send_concurrency: 3
  max_attempts: 7
  backoff:
    initial: 1s
    max: 30s
    multiplier: 1.5
    jitter: 0
reconcile:
  enabled: false
  threshold: 2m
actions:
  secret: s3cret
  base_url: https://rfq.example.com
logging:
  level: debug
  format: text
`
	require.NoError(t, os.WriteFile(configPath, []byte(content), 0o644))

	cfg, err := Load(configPath)
	require.NoError(t, err)

	assert.Equal(t, "postgres://rfq:rfq@db:5432/rfq", cfg.Database.URL)
	assert.Equal(t, int32(20), cfg.Database.MaxConns)
	assert.Equal(t, "nats://nats:4222", cfg.NATS.URL)
	assert.Equal(t, "bot-token", cfg.Telegram.Token)
	assert.Equal(t, 2, cfg.Delivery.Workers)
	assert.Equal(t, 3, cfg.Delivery.SendConcurrency)
	assert.Equal(t, 7, cfg.Delivery.MaxAttempts)
	assert.Equal(t, time.Second, cfg.Delivery.Backoff.Initial)
	assert.Equal(t, 30*time.Second, cfg.Delivery.Backoff.Max)
	assert.Equal(t, 1.5, cfg.Delivery.Backoff.Multiplier)
	assert.Equal(t, 0.0, cfg.Delivery.Backoff.Jitter)
	assert.False(t, cfg.Reconcile.Enabled)
	assert.Equal(t, 2*time.Minute, cfg.Reconcile.Threshold)
	assert.Equal(t, "s3cret", cfg.Actions.Secret)
	assert.Equal(t, "https://rfq.example.com", cfg.Actions.BaseURL)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "text", cfg.Logging.Format)

	// untouched keys keep defaults
	assert.Equal(t, "RFQ_DELIVERIES", cfg.NATS.Stream)
}

func TestLoad_EnvironmentOverrides(t *testing.T) {
	t.Setenv("RFQFLOW_DATABASE_URL", "postgres://env/rfq")
	t.Setenv("RFQFLOW_DELIVERY_WORKERS", "9")
	t.Setenv("RFQFLOW_DELIVERY_BACKOFF_INITIAL", "250ms")
	t.Setenv("RFQFLOW_LOGGING_LEVEL", "warn")

	configPath := filepath.Join(t.TempDir(), "rfqflow.yaml")
	content := `
database:
  url: postgres://file/rfq
delivery:
  workers: 3
logging:
  level: debug
`
	require.NoError(t, os.WriteFile(configPath, []byte(content), 0o644))

	cfg, err := Load(configPath)
	require.NoError(t, err)

	assert.Equal(t, "postgres://env/rfq", cfg.Database.URL)
	assert.Equal(t, 9, cfg.Delivery.Workers)
	assert.Equal(t, 250*time.Millisecond, cfg.Delivery.Backoff.Initial)
	assert.Equal(t, "warn", cfg.Logging.Level)
}

func TestLoad_InvalidValues(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{name: "zero workers", content: "delivery:\n  workers: 0\n"},
		{name: "zero send concurrency", content: "delivery:\n  send_concurrency: 0\n"},
		{name: "zero attempts", content: "delivery:\n  max_attempts: 0\n"},
		{name: "shrinking backoff", content: "delivery:\n  backoff:\n    multiplier: 0.5\n"},
		{name: "jitter above one", content: "delivery:\n  backoff:\n    jitter: 1.5\n"},
		{name: "zero batch", content: "reconcile:\n  batch_size: 0\n"},
		{name: "zero duplicate window", content: "nats:\n  duplicates: 0s\n"},
		{name: "threshold inside duplicate window", content: "reconcile:\n  threshold: 90s\n"},
		{name: "threshold equal to duplicate window", content: "nats:\n  duplicates: 5m\nreconcile:\n  threshold: 5m\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			configPath := filepath.Join(t.TempDir(), "rfqflow.yaml")
			require.NoError(t, os.WriteFile(configPath, []byte(tt.content), 0o644))

			_, err := Load(configPath)
			require.Error(t, err)
		})
	}
}

func TestLoad_ThresholdAndDuplicateWindow(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "rfqflow.yaml")
	content := `
nats:
  duplicates: 30s
reconcile:
  threshold: 45s
render:
  template: "{{.Ref}} {{.Summary}}"
`
	require.NoError(t, os.WriteFile(configPath, []byte(content), 0o644))

	cfg, err := Load(configPath)
	require.NoError(t, err)
	assert.Equal(t, 30*time.Second, cfg.NATS.Duplicates)
	assert.Equal(t, 45*time.Second, cfg.Reconcile.Threshold)
	assert.Equal(t, "{{.Ref}} {{.Summary}}", cfg.Render.Template)
}
