package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Transport kinds understood by the poller and the server.
const (
	TransportKafka    = "kafka"
	TransportRabbitMQ = "rabbitmq"
	TransportRedis    = "redis"
)

// Config top-level struct
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Postgres  PostgresConfig  `yaml:"postgres"`
	Redis     RedisConfig     `yaml:"redis"`
	Kafka     KafkaConfig     `yaml:"kafka"`
	RabbitMQ  RabbitMQConfig  `yaml:"rabbitmq"`
	Transport TransportConfig `yaml:"transport"`
	Outbox    OutboxConfig    `yaml:"outbox"`
	RateLimit RateLimitConfig `yaml:"ratelimit"`
	Log       LogConfig       `yaml:"log"`
}

type ServerConfig struct {
	Port int `yaml:"port"`
	// RunPoller starts an in-process outbox scheduler next to the HTTP server.
	RunPoller bool `yaml:"run_poller"`
}

type PostgresConfig struct {
	DSN string `yaml:"dsn"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	// Channel prefix used when redis is the outbox transport.
	ChannelPrefix string `yaml:"channel_prefix"`
}

type KafkaConfig struct {
	Brokers []string `yaml:"brokers"`
	Topic   string   `yaml:"topic"`
}

type RabbitMQConfig struct {
	URL      string `yaml:"url"`
	Exchange string `yaml:"exchange"`
}

type TransportConfig struct {
	Kind        string `yaml:"kind"`
	ServiceName string `yaml:"service_name"`
}

// OutboxConfig drives the dispatcher and its scheduler.
type OutboxConfig struct {
	Interval         time.Duration `yaml:"interval"`
	BatchSize        int           `yaml:"batch_size"`
	ClaimLease       time.Duration `yaml:"claim_lease"`
	MaxRetries       int           `yaml:"max_retries"`
	ReleaseOnFailure bool          `yaml:"release_on_failure"`
	InstanceID       string        `yaml:"instance_id"`
	PartitionID      int           `yaml:"partition_id"`
	PartitionCount   int           `yaml:"partition_count"`
}

type RateLimitConfig struct {
	RPS   int `yaml:"rps"`
	Burst int `yaml:"burst"`
}

type LogConfig struct {
	Level string `yaml:"level"`
}

var ErrInvalidConfig = errors.New("invalid config")

// Load reads yaml file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(data)
}

// Parse decodes yaml bytes, applies env overrides and defaults, then validates.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	// override DSN password from env if present
	if pw := os.Getenv("POSTGRES_PASSWORD"); pw != "" {
		cfg.Postgres.DSN = cfg.Postgres.DSN + " password=" + pw
	}
	if id := os.Getenv("OUTBOX_INSTANCE_ID"); id != "" {
		cfg.Outbox.InstanceID = id
	}
	if kind := os.Getenv("TRANSPORT_KIND"); kind != "" {
		cfg.Transport.Kind = kind
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Transport.Kind == "" {
		c.Transport.Kind = TransportKafka
	}
	c.Transport.Kind = strings.ToLower(strings.TrimSpace(c.Transport.Kind))
	if c.Transport.ServiceName == "" {
		c.Transport.ServiceName = "ticket-service"
	}
	if c.Redis.ChannelPrefix == "" {
		c.Redis.ChannelPrefix = "events"
	}
	if c.RabbitMQ.Exchange == "" {
		c.RabbitMQ.Exchange = "event_exchange"
	}
	if c.Outbox.Interval <= 0 {
		c.Outbox.Interval = 5 * time.Second
	}
	if c.Outbox.BatchSize <= 0 {
		c.Outbox.BatchSize = 20
	}
	if c.RateLimit.RPS <= 0 {
		c.RateLimit.RPS = 50
	}
	if c.RateLimit.Burst <= 0 {
		c.RateLimit.Burst = 100
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
}

// Validate checks the fields a misconfigured deployment would otherwise trip over at runtime.
func (c *Config) Validate() error {
	switch c.Transport.Kind {
	case TransportKafka:
		if len(c.Kafka.Brokers) == 0 || c.Kafka.Topic == "" {
			return fmt.Errorf("%w: kafka transport needs brokers and topic", ErrInvalidConfig)
		}
	case TransportRabbitMQ:
		if c.RabbitMQ.URL == "" {
			return fmt.Errorf("%w: rabbitmq transport needs url", ErrInvalidConfig)
		}
	case TransportRedis:
		if c.Redis.Addr == "" {
			return fmt.Errorf("%w: redis transport needs addr", ErrInvalidConfig)
		}
	default:
		return fmt.Errorf("%w: unknown transport kind %q", ErrInvalidConfig, c.Transport.Kind)
	}
	if c.Outbox.ClaimLease < 0 {
		return fmt.Errorf("%w: outbox.claim_lease must not be negative", ErrInvalidConfig)
	}
	if c.Outbox.MaxRetries < 0 {
		return fmt.Errorf("%w: outbox.max_retries must not be negative", ErrInvalidConfig)
	}
	if c.Outbox.PartitionCount < 0 {
		return fmt.Errorf("%w: outbox.partition_count must not be negative", ErrInvalidConfig)
	}
	if c.Outbox.PartitionCount > 0 &&
		(c.Outbox.PartitionID < 0 || c.Outbox.PartitionID >= c.Outbox.PartitionCount) {
		return fmt.Errorf("%w: outbox.partition_id %d outside [0,%d)",
			ErrInvalidConfig, c.Outbox.PartitionID, c.Outbox.PartitionCount)
	}
	return nil
}
