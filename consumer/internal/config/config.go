package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/helm-app/landregistry/common/database"
)

type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	NATS      NATSConfig      `mapstructure:"nats"`
	Queue     QueueConfig     `mapstructure:"queue"`
	DLQ       DLQConfig       `mapstructure:"dlq"`
	Ingestion IngestionConfig `mapstructure:"ingestion"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Redis     RedisConfig     `mapstructure:"redis"`
	BlobStore BlobStoreConfig `mapstructure:"blobstore"`
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
	Name          string        `mapstructure:"name"`
	Subject       string        `mapstructure:"subject"`
	ConsumerName  string        `mapstructure:"consumer_name"`
	AckWait       time.Duration `mapstructure:"ack_wait"`
	MaxDeliver    int           `mapstructure:"max_deliver"`
	RequeueDelay  time.Duration `mapstructure:"requeue_delay"`
	MaxAckPending int           `mapstructure:"max_ack_pending"`
}

type DLQConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Stream  string `mapstructure:"stream"`
	Subject string `mapstructure:"subject"`
}

type IngestionConfig struct {
	MaxAttachments     int   `mapstructure:"max_attachments"`
	MaxAttachmentBytes int64 `mapstructure:"max_attachment_bytes"`
}

type DatabaseConfig struct {
	// Driver is "postgres" or "memory".
	Driver         string                  `mapstructure:"driver"`
	Postgres       database.PostgresConfig `mapstructure:"postgres"`
	MigrationsPath string                  `mapstructure:"migrations_path"`
	WriteTimeout   time.Duration           `mapstructure:"write_timeout"`
	MaxConns       int32                   `mapstructure:"max_conns"`
}

type RedisConfig struct {
	Enabled   bool          `mapstructure:"enabled"`
	URL       string        `mapstructure:"url"`
	DedupeTTL time.Duration `mapstructure:"dedupe_ttl"`
}

type BlobStoreConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	Endpoint  string `mapstructure:"endpoint"`
	AccessKey string `mapstructure:"access_key"`
	SecretKey string `mapstructure:"secret_key"`
	UseTLS    bool   `mapstructure:"use_tls"`
	Bucket    string `mapstructure:"bucket"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

func Load(configPath string) (*Config, error) {
	v := viper.New()

	v.SetDefault("server.port", 4001)
	v.SetDefault("server.read_timeout", "15s")
	v.SetDefault("server.write_timeout", "15s")
	v.SetDefault("server.idle_timeout", "60s")
	v.SetDefault("server.shutdown_timeout", "30s")
	v.SetDefault("nats.url", "nats://localhost:4222")
	v.SetDefault("nats.name", "landregistry-consumer")
	v.SetDefault("nats.username", "")
	v.SetDefault("nats.password", "")
	v.SetDefault("nats.token", "")
	v.SetDefault("nats.connect_timeout", "5s")
	v.SetDefault("nats.connect_attempts", 10)
	v.SetDefault("nats.connect_delay", "3s")
	v.SetDefault("nats.reconnect_delay", "3s")
	v.SetDefault("queue.name", "submit_queue")
	v.SetDefault("queue.subject", "landregistry.submissions")
	v.SetDefault("queue.consumer_name", "landregistry-consumer")
	v.SetDefault("queue.ack_wait", "30s")
	v.SetDefault("queue.max_deliver", 5)
	v.SetDefault("queue.requeue_delay", "5s")
	v.SetDefault("queue.max_ack_pending", 16)
	v.SetDefault("dlq.enabled", true)
	v.SetDefault("dlq.stream", "submit_queue_dlq")
	v.SetDefault("dlq.subject", "landregistry.deadletter.submissions")
	v.SetDefault("ingestion.max_attachments", 5)
	v.SetDefault("ingestion.max_attachment_bytes", 10<<20)
	v.SetDefault("database.driver", "postgres")
	v.SetDefault("database.postgres.host", "localhost")
	v.SetDefault("database.postgres.port", 5432)
	v.SetDefault("database.postgres.user", "landregistry")
	v.SetDefault("database.postgres.password", "landregistry")
	v.SetDefault("database.postgres.database", "landregistry")
	v.SetDefault("database.postgres.sslmode", "disable")
	v.SetDefault("database.migrations_path", "consumer/migrations")
	v.SetDefault("database.write_timeout", "5s")
	v.SetDefault("database.max_conns", 10)
	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.url", "redis://localhost:6379/0")
	v.SetDefault("redis.dedupe_ttl", "24h")
	v.SetDefault("blobstore.enabled", false)
	v.SetDefault("blobstore.endpoint", "localhost:9000")
	v.SetDefault("blobstore.access_key", "")
	v.SetDefault("blobstore.secret_key", "")
	v.SetDefault("blobstore.use_tls", false)
	v.SetDefault("blobstore.bucket", "land-title-attachments")
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/landregistry/consumer")
	}

	v.SetEnvPrefix("CONSUMER")
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
	if c.Queue.Name == "" || c.Queue.Subject == "" || c.Queue.ConsumerName == "" {
		errs = append(errs, errors.New("queue.name, queue.subject and queue.consumer_name are required"))
	}
	if c.Queue.MaxDeliver < 1 {
		errs = append(errs, errors.New("queue.max_deliver must be at least 1"))
	}
	if c.DLQ.Enabled && (c.DLQ.Stream == "" || c.DLQ.Subject == "") {
		errs = append(errs, errors.New("dlq.stream and dlq.subject are required when the DLQ is enabled"))
	}
	if c.DLQ.Enabled && c.DLQ.Subject == c.Queue.Subject {
		errs = append(errs, errors.New("dlq.subject must differ from queue.subject"))
	}
	if c.Database.Driver != "postgres" && c.Database.Driver != "memory" {
		errs = append(errs, fmt.Errorf("database.driver %q must be postgres or memory", c.Database.Driver))
	}
	if c.Redis.Enabled && c.Redis.URL == "" {
		errs = append(errs, errors.New("redis.url is required when redis is enabled"))
	}
	if c.BlobStore.Enabled && (c.BlobStore.Endpoint == "" || c.BlobStore.Bucket == "") {
		errs = append(errs, errors.New("blobstore.endpoint and blobstore.bucket are required when the blob store is enabled"))
	}
	return errors.Join(errs...)
}
