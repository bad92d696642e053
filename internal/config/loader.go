package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"taskflow/internal/constants"
)

// LoadConfig reads configuration from an optional YAML file, then the
// environment. An empty configFile means defaults plus environment only.
func LoadConfig(configFile string) (*Config, error) {
	v := viper.New()

	v.SetConfigType("yaml")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)
	if err := bindEnvVariables(v); err != nil {
		return nil, fmt.Errorf("failed to bind environment variables: %w", err)
	}

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", configFile, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	applyEnvOverrides(v, &cfg)

	if err := ValidateStatic(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", 10*time.Second)
	v.SetDefault("server.write_timeout", 10*time.Second)

	v.SetDefault("broker.type", constants.BrokerTypeRabbitMQ)
	v.SetDefault("broker.exchange", constants.DefaultExchange)
	v.SetDefault("broker.rabbitmq.host", "localhost")
	v.SetDefault("broker.rabbitmq.port", 5672)
	v.SetDefault("broker.rabbitmq.user", "")
	v.SetDefault("broker.rabbitmq.password", "")
	v.SetDefault("broker.rabbitmq.vhost", "/")
	v.SetDefault("broker.rabbitmq.heartbeat", 10*time.Second)
	v.SetDefault("broker.kafka.brokers", []string{"localhost:9092"})
	v.SetDefault("broker.kafka.group_prefix", "taskflow")
	v.SetDefault("broker.kafka.partitions", 1)
	v.SetDefault("broker.kafka.replication_factor", 1)
	v.SetDefault("broker.retry.max_attempts", 3)
	v.SetDefault("broker.retry.initial_interval", 2*time.Second)
	v.SetDefault("broker.retry.max_interval", 30*time.Second)
	v.SetDefault("broker.retry.multiplier", 2.0)
	v.SetDefault("broker.retry.jitter", 0.0)

	v.SetDefault("database.postgres.host", "")
	v.SetDefault("database.postgres.port", 5432)
	v.SetDefault("database.postgres.user", "taskflow")
	v.SetDefault("database.postgres.password", "")
	v.SetDefault("database.postgres.dbname", "taskflow")
	v.SetDefault("database.postgres.sslmode", "disable")
	v.SetDefault("database.redis.host", "")
	v.SetDefault("database.redis.port", 6379)
	v.SetDefault("database.redis.password", "")
	v.SetDefault("database.redis.db", 0)
	v.SetDefault("database.run_migrations", true)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	v.SetDefault("ingestor.default_source", constants.DefaultMessageSource)
	v.SetDefault("ingestor.max_batch_size", constants.MaxBatchSize)
	v.SetDefault("ingestor.rate_limit.enabled", true)
	v.SetDefault("ingestor.rate_limit.rps", 50.0)
	v.SetDefault("ingestor.rate_limit.burst", 100)
	v.SetDefault("ingestor.rate_limit.cleanup_interval", 60)
	v.SetDefault("ingestor.rate_limit.max_age", 300)

	v.SetDefault("extractor.strategy", constants.StrategyLLM)
	v.SetDefault("extractor.llm.base_url", constants.DefaultLLMBaseURL)
	v.SetDefault("extractor.llm.api_key", "")
	v.SetDefault("extractor.llm.model", constants.DefaultLLMModel)
	v.SetDefault("extractor.llm.temperature", 0.0)
	v.SetDefault("extractor.llm.timeout", 30*time.Second)
	v.SetDefault("extractor.llm.requests_per_minute", 30)
	v.SetDefault("extractor.llm.retry.max_attempts", 3)
	v.SetDefault("extractor.llm.retry.initial_interval", time.Second)
	v.SetDefault("extractor.llm.retry.max_interval", 10*time.Second)
	v.SetDefault("extractor.llm.retry.multiplier", 2.0)
	v.SetDefault("extractor.llm.retry.jitter", 0.2)

	v.SetDefault("platform.default", constants.PlatformConsole)
	v.SetDefault("platform.enabled", []string{constants.PlatformConsole})

	v.SetDefault("circuit_breaker.enabled", true)
	v.SetDefault("circuit_breaker.max_requests", 1)
	v.SetDefault("circuit_breaker.interval", 60*time.Second)
	v.SetDefault("circuit_breaker.timeout", 30*time.Second)
	v.SetDefault("circuit_breaker.failure_ratio", 0.6)
	v.SetDefault("circuit_breaker.min_requests", 5)

	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.service_name", "")
	v.SetDefault("tracing.otlp.endpoint", "localhost:4317")
	v.SetDefault("tracing.otlp.insecure", true)
	v.SetDefault("tracing.sampler.type", "always_on")
	v.SetDefault("tracing.sampler.param", 1.0)
}

// bindEnvVariables binds the variable names the services have always used
// next to the BROKER_RABBITMQ_HOST style names AutomaticEnv derives.
func bindEnvVariables(v *viper.Viper) error {
	bindings := map[string][]string{
		"broker.exchange":          {"RABBITMQ_EXCHANGE", "BROKER_EXCHANGE"},
		"broker.rabbitmq.host":     {"RABBITMQ_HOST", "BROKER_RABBITMQ_HOST"},
		"broker.rabbitmq.port":     {"RABBITMQ_PORT", "BROKER_RABBITMQ_PORT"},
		"broker.rabbitmq.user":     {"RABBITMQ_USERNAME", "BROKER_RABBITMQ_USER"},
		"broker.rabbitmq.password": {"RABBITMQ_PASSWORD", "BROKER_RABBITMQ_PASSWORD"},
		"broker.rabbitmq.vhost":    {"RABBITMQ_VHOST", "BROKER_RABBITMQ_VHOST"},
		"logging.level":            {"LOG_LEVEL", "LOGGING_LEVEL"},
		"logging.format":           {"LOG_FORMAT", "LOGGING_FORMAT"},
		"extractor.llm.api_key":    {"EXTRACTOR_LLM_API_KEY", "GROQ_API_KEY", "OPENAI_API_KEY"},
		"server.port":              {"SERVER_PORT"},
	}

	for key, envs := range bindings {
		args := append([]string{key}, envs...)
		if err := v.BindEnv(args...); err != nil {
			return err
		}
	}
	return nil
}

func applyEnvOverrides(v *viper.Viper, cfg *Config) {
	if brokersEnv := v.GetString("BROKER_KAFKA_BROKERS"); brokersEnv != "" {
		if brokers := splitList(brokersEnv); len(brokers) > 0 {
			cfg.Broker.Kafka.Brokers = brokers
		}
	}

	if enabledEnv := v.GetString("PLATFORM_ENABLED"); enabledEnv != "" {
		if enabled := splitList(enabledEnv); len(enabled) > 0 {
			cfg.Platform.Enabled = enabled
		}
	}

	cfg.Broker.Type = strings.ToLower(strings.TrimSpace(cfg.Broker.Type))
	cfg.Extractor.Strategy = strings.ToLower(strings.TrimSpace(cfg.Extractor.Strategy))
}

func splitList(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
