package broker

import (
	"fmt"

	"taskflow/internal/config"
	"taskflow/internal/constants"
	"taskflow/internal/logger"
)

// New builds the broker selected by cfg.Type for the named service.
func New(cfg config.BrokerConfig, log logger.Logger, serviceName string) (Broker, error) {
	switch cfg.Type {
	case constants.BrokerTypeRabbitMQ, "":
		return NewRabbitMQ(cfg, log, serviceName), nil
	case constants.BrokerTypeKafka:
		return NewKafka(cfg, log, serviceName), nil
	default:
		return nil, fmt.Errorf("unknown broker type: %s", cfg.Type)
	}
}
