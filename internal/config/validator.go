package config

import (
	"errors"
	"fmt"
	"strings"

	"taskflow/internal/constants"
)

type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error for field '%s': %s", e.Field, e.Message)
}

// ValidateStatic checks the configuration without touching the network. All
// problems are reported together; use errors.As to reach a *ValidationError.
func ValidateStatic(cfg *Config) error {
	var errs []error

	if err := validateServer(cfg.Server); err != nil {
		errs = append(errs, err)
	}

	if err := validateBroker(cfg.Broker); err != nil {
		errs = append(errs, err)
	}

	if err := validateDatabase(cfg.Database); err != nil {
		errs = append(errs, err)
	}

	if err := validateExtractor(cfg.Extractor); err != nil {
		errs = append(errs, err)
	}

	if err := validatePlatform(cfg.Platform, cfg.Database); err != nil {
		errs = append(errs, err)
	}

	if err := validateCircuitBreaker(cfg.CircuitBreaker); err != nil {
		errs = append(errs, err)
	}

	return errors.Join(errs...)
}

func validatePort(field string, port int) error {
	if port < 1 || port > 65535 {
		return &ValidationError{
			Field:   field,
			Message: fmt.Sprintf("port must be between 1 and 65535, got %d", port),
		}
	}
	return nil
}

func validateServer(cfg ServerConfig) error {
	if err := validatePort("server.port", cfg.Port); err != nil {
		return err
	}

	if cfg.ReadTimeout <= 0 {
		return &ValidationError{
			Field:   "server.read_timeout",
			Message: "read timeout must be positive",
		}
	}

	if cfg.WriteTimeout <= 0 {
		return &ValidationError{
			Field:   "server.write_timeout",
			Message: "write timeout must be positive",
		}
	}

	return nil
}

func validateBroker(cfg BrokerConfig) error {
	if cfg.Exchange == "" {
		return &ValidationError{
			Field:   "broker.exchange",
			Message: "exchange name is required",
		}
	}

	if err := validateRetry("broker.retry", cfg.Retry); err != nil {
		return err
	}

	switch cfg.Type {
	case "":
		return &ValidationError{
			Field:   "broker.type",
			Message: "broker type is required",
		}
	case constants.BrokerTypeKafka:
		return validateKafka(cfg.Kafka)
	case constants.BrokerTypeRabbitMQ:
		return validateRabbitMQ(cfg.RabbitMQ)
	default:
		return &ValidationError{
			Field:   "broker.type",
			Message: fmt.Sprintf("unknown broker type: %s (supported: rabbitmq, kafka)", cfg.Type),
		}
	}
}

func validateRetry(prefix string, cfg RetryConfig) error {
	if cfg.MaxAttempts < 1 {
		return &ValidationError{
			Field:   prefix + ".max_attempts",
			Message: "max_attempts must be at least 1",
		}
	}

	if cfg.InitialInterval < 0 {
		return &ValidationError{
			Field:   prefix + ".initial_interval",
			Message: "initial_interval must be non-negative",
		}
	}

	if cfg.MaxInterval > 0 && cfg.InitialInterval > 0 && cfg.MaxInterval < cfg.InitialInterval {
		return &ValidationError{
			Field:   prefix + ".max_interval",
			Message: "max_interval must be greater than or equal to initial_interval",
		}
	}

	if cfg.Multiplier <= 0 {
		return &ValidationError{
			Field:   prefix + ".multiplier",
			Message: "multiplier must be positive",
		}
	}

	if cfg.Jitter < 0 || cfg.Jitter >= 1 {
		return &ValidationError{
			Field:   prefix + ".jitter",
			Message: "jitter must be in [0, 1)",
		}
	}

	return nil
}

func validateKafka(cfg KafkaConfig) error {
	if len(cfg.Brokers) == 0 {
		return &ValidationError{
			Field:   "broker.kafka.brokers",
			Message: "at least one Kafka broker is required",
		}
	}

	for i, broker := range cfg.Brokers {
		if broker == "" {
			return &ValidationError{
				Field:   fmt.Sprintf("broker.kafka.brokers[%d]", i),
				Message: "broker address cannot be empty",
			}
		}
	}

	if cfg.GroupPrefix == "" {
		return &ValidationError{
			Field:   "broker.kafka.group_prefix",
			Message: "Kafka consumer group prefix is required",
		}
	}

	if cfg.Partitions < 1 {
		return &ValidationError{
			Field:   "broker.kafka.partitions",
			Message: "partitions must be at least 1",
		}
	}

	return nil
}

func validateRabbitMQ(cfg RabbitMQConfig) error {
	if cfg.Host == "" {
		return &ValidationError{
			Field:   "broker.rabbitmq.host",
			Message: "RabbitMQ host is required",
		}
	}

	if cfg.User == "" && cfg.Password != "" {
		return &ValidationError{
			Field:   "broker.rabbitmq.user",
			Message: "a password was given without a user",
		}
	}

	return validatePort("broker.rabbitmq.port", cfg.Port)
}

func validateDatabase(cfg DatabaseConfig) error {
	if cfg.Postgres.Enabled() {
		if err := validatePostgres(cfg.Postgres); err != nil {
			return err
		}
	}

	if cfg.Redis.Enabled() {
		if err := validatePort("database.redis.port", cfg.Redis.Port); err != nil {
			return err
		}
		if cfg.Redis.DB < 0 {
			return &ValidationError{
				Field:   "database.redis.db",
				Message: "Redis DB index must be non-negative",
			}
		}
	}

	return nil
}

func validatePostgres(cfg PostgresConfig) error {
	if err := validatePort("database.postgres.port", cfg.Port); err != nil {
		return err
	}

	if cfg.User == "" {
		return &ValidationError{
			Field:   "database.postgres.user",
			Message: "PostgreSQL user is required",
		}
	}

	if cfg.DBName == "" {
		return &ValidationError{
			Field:   "database.postgres.dbname",
			Message: "PostgreSQL database name is required",
		}
	}

	validSSLModes := map[string]bool{
		"disable": true, "allow": true, "prefer": true,
		"require": true, "verify-ca": true, "verify-full": true,
	}
	if cfg.SSLMode != "" && !validSSLModes[strings.ToLower(cfg.SSLMode)] {
		return &ValidationError{
			Field:   "database.postgres.sslmode",
			Message: fmt.Sprintf("invalid SSL mode: %s (valid: disable, allow, prefer, require, verify-ca, verify-full)", cfg.SSLMode),
		}
	}

	return nil
}

func validateExtractor(cfg ExtractorConfig) error {
	switch cfg.Strategy {
	case constants.StrategyRules:
		return nil
	case constants.StrategyLLM:
	default:
		return &ValidationError{
			Field:   "extractor.strategy",
			Message: fmt.Sprintf("unknown strategy: %s (supported: llm, rules)", cfg.Strategy),
		}
	}

	if cfg.LLM.Model == "" {
		return &ValidationError{
			Field:   "extractor.llm.model",
			Message: "model is required for the llm strategy",
		}
	}

	if cfg.LLM.RequestsPerMinute < 0 {
		return &ValidationError{
			Field:   "extractor.llm.requests_per_minute",
			Message: "requests_per_minute must be non-negative",
		}
	}

	return validateRetry("extractor.llm.retry", cfg.LLM.Retry)
}

func validatePlatform(cfg PlatformConfig, db DatabaseConfig) error {
	if cfg.Default == "" {
		return &ValidationError{
			Field:   "platform.default",
			Message: "a default platform is required",
		}
	}

	enabled := false
	for _, name := range cfg.Enabled {
		switch name {
		case constants.PlatformConsole:
		case constants.PlatformRedis:
			if !db.Redis.Enabled() {
				return &ValidationError{
					Field:   "platform.enabled",
					Message: "the redis platform needs database.redis.host",
				}
			}
		case constants.PlatformPostgres:
			if !db.Postgres.Enabled() {
				return &ValidationError{
					Field:   "platform.enabled",
					Message: "the postgres platform needs database.postgres.host",
				}
			}
		default:
			return &ValidationError{
				Field:   "platform.enabled",
				Message: fmt.Sprintf("unknown platform: %s (supported: console, redis, postgres)", name),
			}
		}
		if name == cfg.Default {
			enabled = true
		}
	}

	if !enabled {
		return &ValidationError{
			Field:   "platform.default",
			Message: fmt.Sprintf("default platform %s is not enabled", cfg.Default),
		}
	}

	return nil
}

func validateCircuitBreaker(cfg CircuitBreakerConfig) error {
	if !cfg.Enabled {
		return nil
	}

	if cfg.FailureRatio <= 0 || cfg.FailureRatio > 1 {
		return &ValidationError{
			Field:   "circuit_breaker.failure_ratio",
			Message: "failure_ratio must be in (0, 1]",
		}
	}

	if cfg.Timeout <= 0 {
		return &ValidationError{
			Field:   "circuit_breaker.timeout",
			Message: "timeout must be positive",
		}
	}

	return nil
}
