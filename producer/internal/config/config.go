package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	NATS      NATSConfig      `mapstructure:"nats"`
	Queue     QueueConfig     `mapstructure:"queue"`
	Ingestion IngestionConfig `mapstructure:"ingestion"`
	Auth      AuthConfig      `mapstructure:"auth"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

type ServerConfig struct {
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

type NATSConfig struct {
	URL             string        `mapstructure:"url"`
	Name            string        `mapstructure:"name"`
	Username        string        `mapstructure:"username"`
	Password        string        `mapstructure:"password"`
	Token           string        `mapstructure:"token"`
	ConnectTimeout  time.Duration `mapstructure:"connect_timeout"`
	ConnectAttempts int           `mapstructure:"connect_attempts"`
	ConnectDelay    time.Duration `mapstructure:"connect_delay"`
	ReconnectDelay  time.Duration `mapstructure:"reconnect_delay"`
}

type QueueConfig struct {
	Name           string        `mapstructure:"name"`
	Subject        string        `mapstructure:"subject"`
	PublishTimeout time.Duration `mapstructure:"publish_timeout"`
}

type IngestionConfig struct {
	MaxAttachments     int   `mapstructure:"max_attachments"`
	MaxAttachmentBytes int64 `mapstructure:"max_attachment_bytes"`

	// MaxPayloadBytes caps the request body and the encoded envelope.
	// 0 means RequiredPayloadBytes.
	MaxPayloadBytes int64 `mapstructure:"max_payload_bytes"`
}

// EnvelopeOverheadBytes is the allowance for field values and JSON framing
// on top of the base64 attachment bodies.
const EnvelopeOverheadBytes = 1 << 20

// RequiredPayloadBytes is the smallest cap that still admits
// MaxAttachments attachments of MaxAttachmentBytes each once base64 encoded.
func (c IngestionConfig) RequiredPayloadBytes() int64 {
	raw := int64(c.MaxAttachments) * c.MaxAttachmentBytes
	return 4*((raw+2)/3) + EnvelopeOverheadBytes
}

type AuthConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	JWTSecret string `mapstructure:"jwt_secret"`
	Issuer    string `mapstructure:"issuer"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

func Load(configPath string) (*Config, error) {
	v := viper.New()

	v.SetDefault("server.port", 4000)
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "30s")
	v.SetDefault("server.idle_timeout", "120s")
	v.SetDefault("server.shutdown_timeout", "15s")
	v.SetDefault("nats.url", "nats://localhost:4222")
	v.SetDefault("nats.name", "landregistry-producer")
	v.SetDefault("nats.username", "")
	v.SetDefault("nats.password", "")
	v.SetDefault("nats.token", "")
	v.SetDefault("nats.connect_timeout", "5s")
	v.SetDefault("nats.connect_attempts", 10)
	v.SetDefault("nats.connect_delay", "3s")
	v.SetDefault("nats.reconnect_delay", "3s")
	v.SetDefault("queue.name", "submit_queue")
	v.SetDefault("queue.subject", "landregistry.submissions")
	v.SetDefault("queue.publish_timeout", "5s")
	v.SetDefault("ingestion.max_attachments", 5)
	v.SetDefault("ingestion.max_attachment_bytes", 10<<20)
	v.SetDefault("ingestion.max_payload_bytes", 0)
	v.SetDefault("auth.enabled", false)
	v.SetDefault("auth.jwt_secret", "")
	v.SetDefault("auth.issuer", "")
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/landregistry/producer")
	}

	v.SetEnvPrefix("PRODUCER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if cfg.Ingestion.MaxPayloadBytes == 0 {
		cfg.Ingestion.MaxPayloadBytes = cfg.Ingestion.RequiredPayloadBytes()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects configurations the service cannot run with.
func (c *Config) Validate() error {
	var errs []error
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port %d out of range", c.Server.Port))
	}
	if c.NATS.URL == "" {
		errs = append(errs, errors.New("nats.url is required"))
	}
	if c.NATS.ConnectAttempts < 1 {
		errs = append(errs, errors.New("nats.connect_attempts must be at least 1"))
	}
	if c.Queue.Name == "" || c.Queue.Subject == "" {
		errs = append(errs, errors.New("queue.name and queue.subject are required"))
	}
	if c.Ingestion.MaxAttachments < 0 {
		errs = append(errs, errors.New("ingestion.max_attachments must not be negative"))
	}
	if c.Ingestion.MaxAttachmentBytes < 0 {
		errs = append(errs, errors.New("ingestion.max_attachment_bytes must not be negative"))
	}
	if need := c.Ingestion.RequiredPayloadBytes(); c.Ingestion.MaxPayloadBytes < need {
		errs = append(errs, fmt.Errorf("ingestion.max_payload_bytes %d is below the %d bytes needed for %d attachments of %d bytes",
			c.Ingestion.MaxPayloadBytes, need, c.Ingestion.MaxAttachments, c.Ingestion.MaxAttachmentBytes))
	}
	if c.Auth.Enabled && c.Auth.JWTSecret == "" {
		errs = append(errs, errors.New("auth.jwt_secret is required when auth is enabled"))
	}
	return errors.Join(errs...)
}
