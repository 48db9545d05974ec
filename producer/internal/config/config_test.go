package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_WithDefaults(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 4000, cfg.Server.Port)
	assert.Equal(t, 30*time.Second, cfg.Server.ReadTimeout)
	assert.Equal(t, "nats://localhost:4222", cfg.NATS.URL)
	assert.Equal(t, 10, cfg.NATS.ConnectAttempts)
	assert.Equal(t, 3*time.Second, cfg.NATS.ConnectDelay)
	assert.Equal(t, 3*time.Second, cfg.NATS.ReconnectDelay)
	assert.Equal(t, "submit_queue", cfg.Queue.Name)
	assert.Equal(t, 5*time.Second, cfg.Queue.PublishTimeout)
	assert.Equal(t, 5, cfg.Ingestion.MaxAttachments)
	assert.Equal(t, int64(10<<20), cfg.Ingestion.MaxAttachmentBytes)
	// 5 x 10 MiB base64 encoded, plus 1 MiB for fields and framing.
	assert.Equal(t, int64(69905068+1<<20), cfg.Ingestion.MaxPayloadBytes)
	assert.False(t, cfg.Auth.Enabled)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, "json", cfg.Logging.Format)
}

func TestLoad_FromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "producer.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  port: 9000
nats:
  url: nats://broker:4222
  connect_attempts: 3
queue:
  name: staging_queue
ingestion:
  max_attachments: 2
logging:
  level: debug
`), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9000, cfg.Server.Port)
	assert.Equal(t, "nats://broker:4222", cfg.NATS.URL)
	assert.Equal(t, 3, cfg.NATS.ConnectAttempts)
	assert.Equal(t, "staging_queue", cfg.Queue.Name)
	assert.Equal(t, "landregistry.submissions", cfg.Queue.Subject, "unset keys keep defaults")
	assert.Equal(t, 2, cfg.Ingestion.MaxAttachments)
	assert.Equal(t, "debug", cfg.Logging.Level)
}

func TestLoad_EnvOverride(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("PRODUCER_SERVER_PORT", "4100")
	t.Setenv("PRODUCER_NATS_URL", "nats://env:4222")
	t.Setenv("PRODUCER_QUEUE_PUBLISH_TIMEOUT", "2s")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 4100, cfg.Server.Port)
	assert.Equal(t, "nats://env:4222", cfg.NATS.URL)
	assert.Equal(t, 2*time.Second, cfg.Queue.PublishTimeout)
}

func TestLoad_MissingExplicitFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

func TestRequiredPayloadBytes(t *testing.T) {
	tests := []struct {
		name string
		cfg  IngestionConfig
		want int64
	}{
		{name: "no attachments", cfg: IngestionConfig{}, want: EnvelopeOverheadBytes},
		{name: "one byte", cfg: IngestionConfig{MaxAttachments: 1, MaxAttachmentBytes: 1}, want: 4 + EnvelopeOverheadBytes},
		{name: "defaults", cfg: IngestionConfig{MaxAttachments: 5, MaxAttachmentBytes: 10 << 20}, want: 69905068 + EnvelopeOverheadBytes},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.cfg.RequiredPayloadBytes())
		})
	}
}

func TestLoad_ExplicitPayloadCap(t *testing.T) {
	path := filepath.Join(t.TempDir(), "producer.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
ingestion:
  max_attachments: 1
  max_attachment_bytes: 1048576
  max_payload_bytes: 8388608
`), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, int64(8<<20), cfg.Ingestion.MaxPayloadBytes)
}

func TestValidate(t *testing.T) {
	t.Chdir(t.TempDir())
	base, err := Load("")
	require.NoError(t, err)

	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{name: "valid", mutate: func(*Config) {}},
		{name: "bad port", mutate: func(c *Config) { c.Server.Port = 70000 }, wantErr: "server.port"},
		{name: "no nats url", mutate: func(c *Config) { c.NATS.URL = "" }, wantErr: "nats.url"},
		{name: "zero attempts", mutate: func(c *Config) { c.NATS.ConnectAttempts = 0 }, wantErr: "connect_attempts"},
		{name: "auth without secret", mutate: func(c *Config) { c.Auth.Enabled = true }, wantErr: "jwt_secret"},
		{name: "no payload cap", mutate: func(c *Config) { c.Ingestion.MaxPayloadBytes = 0 }, wantErr: "max_payload_bytes"},
		{name: "payload cap below attachment limits", mutate: func(c *Config) { c.Ingestion.MaxPayloadBytes = 50 << 20 }, wantErr: "max_payload_bytes"},
		{name: "negative attachment size", mutate: func(c *Config) { c.Ingestion.MaxAttachmentBytes = -1 }, wantErr: "max_attachment_bytes"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := *base
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
