package config

import (
	"fmt"
	"net"
	"net/url"
	"strconv"
	"time"

	"taskflow/pkg/retry"
)

type Config struct {
	Server         ServerConfig         `mapstructure:"server"`
	Database       DatabaseConfig       `mapstructure:"database"`
	Broker         BrokerConfig         `mapstructure:"broker"`
	Logging        LoggingConfig        `mapstructure:"logging"`
	Ingestor       IngestorConfig       `mapstructure:"ingestor"`
	Extractor      ExtractorConfig      `mapstructure:"extractor"`
	Platform       PlatformConfig       `mapstructure:"platform"`
	CircuitBreaker CircuitBreakerConfig `mapstructure:"circuit_breaker"`
	Tracing        TracingConfig        `mapstructure:"tracing"`
}

type ServerConfig struct {
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

func (c ServerConfig) Addr() string {
	return ":" + strconv.Itoa(c.Port)
}

type DatabaseConfig struct {
	Postgres      PostgresConfig `mapstructure:"postgres"`
	Redis         RedisConfig    `mapstructure:"redis"`
	RunMigrations bool           `mapstructure:"run_migrations"`
}

type PostgresConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	DBName   string `mapstructure:"dbname"`
	SSLMode  string `mapstructure:"sslmode"`
}

// Enabled reports whether a Postgres store was configured at all.
func (c PostgresConfig) Enabled() bool {
	return c.Host != ""
}

func (c PostgresConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.DBName, c.SSLMode)
}

type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

func (c RedisConfig) Enabled() bool {
	return c.Host != ""
}

func (c RedisConfig) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

type BrokerConfig struct {
	Type     string         `mapstructure:"type"`
	Exchange string         `mapstructure:"exchange"`
	RabbitMQ RabbitMQConfig `mapstructure:"rabbitmq"`
	Kafka    KafkaConfig    `mapstructure:"kafka"`
	Retry    RetryConfig    `mapstructure:"retry"`
}

type RabbitMQConfig struct {
	Host      string        `mapstructure:"host"`
	Port      int           `mapstructure:"port"`
	User      string        `mapstructure:"user"`
	Password  string        `mapstructure:"password"`
	VHost     string        `mapstructure:"vhost"`
	Heartbeat time.Duration `mapstructure:"heartbeat"`
}

// URL builds the AMQP URI. Credentials default to guest/guest when unset,
// matching the broker's own default account.
func (c RabbitMQConfig) URL() string {
	user, password := c.User, c.Password
	if user == "" {
		user, password = "guest", "guest"
	}
	u := url.URL{
		Scheme: "amqp",
		User:   url.UserPassword(user, password),
		Host:   net.JoinHostPort(c.Host, strconv.Itoa(c.Port)),
		Path:   "/" + c.VHost,
	}
	if c.VHost == "" || c.VHost == "/" {
		u.Path = "/"
	}
	return u.String()
}

type KafkaConfig struct {
	Brokers           []string `mapstructure:"brokers"`
	GroupPrefix       string   `mapstructure:"group_prefix"`
	Partitions        int      `mapstructure:"partitions"`
	ReplicationFactor int      `mapstructure:"replication_factor"`
}

type RetryConfig struct {
	MaxAttempts     int           `mapstructure:"max_attempts"`
	InitialInterval time.Duration `mapstructure:"initial_interval"`
	MaxInterval     time.Duration `mapstructure:"max_interval"`
	Multiplier      float64       `mapstructure:"multiplier"`
	Jitter          float64       `mapstructure:"jitter"`
}

func (c RetryConfig) Policy() retry.Policy {
	return retry.Policy{
		MaxAttempts:         c.MaxAttempts,
		InitialInterval:     c.InitialInterval,
		MaxInterval:         c.MaxInterval,
		Multiplier:          c.Multiplier,
		RandomizationFactor: c.Jitter,
	}
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type IngestorConfig struct {
	DefaultSource string          `mapstructure:"default_source"`
	MaxBatchSize  int             `mapstructure:"max_batch_size"`
	RateLimit     RateLimitConfig `mapstructure:"rate_limit"`
}

type RateLimitConfig struct {
	Enabled         bool    `mapstructure:"enabled"`
	RPS             float64 `mapstructure:"rps"`
	Burst           int     `mapstructure:"burst"`
	CleanupInterval int     `mapstructure:"cleanup_interval"`
	MaxAge          int     `mapstructure:"max_age"`
}

type ExtractorConfig struct {
	Strategy string    `mapstructure:"strategy"`
	LLM      LLMConfig `mapstructure:"llm"`
}

type LLMConfig struct {
	BaseURL           string        `mapstructure:"base_url"`
	APIKey            string        `mapstructure:"api_key"`
	Model             string        `mapstructure:"model"`
	Temperature       float64       `mapstructure:"temperature"`
	Timeout           time.Duration `mapstructure:"timeout"`
	RequestsPerMinute int           `mapstructure:"requests_per_minute"`
	Retry             RetryConfig   `mapstructure:"retry"`
}

type PlatformConfig struct {
	Default string   `mapstructure:"default"`
	Enabled []string `mapstructure:"enabled"`
}

type CircuitBreakerConfig struct {
	Enabled      bool          `mapstructure:"enabled"`
	MaxRequests  uint32        `mapstructure:"max_requests"`
	Interval     time.Duration `mapstructure:"interval"`
	Timeout      time.Duration `mapstructure:"timeout"`
	FailureRatio float64       `mapstructure:"failure_ratio"`
	MinRequests  uint32        `mapstructure:"min_requests"`
}

type TracingConfig struct {
	Enabled     bool          `mapstructure:"enabled"`
	ServiceName string        `mapstructure:"service_name"`
	OTLP        OTLPConfig    `mapstructure:"otlp"`
	Sampler     SamplerConfig `mapstructure:"sampler"`
}

type OTLPConfig struct {
	Endpoint string `mapstructure:"endpoint"`
	Insecure bool   `mapstructure:"insecure"`
}

type SamplerConfig struct {
	Type  string  `mapstructure:"type"`
	Param float64 `mapstructure:"param"`
}

func Load(configFile string) (*Config, error) {
	return LoadConfig(configFile)
}
