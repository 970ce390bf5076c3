package messagebus

import (
	"github.com/rs/zerolog"

	"github.com/akriventsev/shopsaga/framework/core"
	"github.com/akriventsev/shopsaga/framework/metrics"
	"github.com/akriventsev/shopsaga/framework/transport"
)

// Драйверы шины
const (
	DriverRabbitMQ = "rabbitmq"
	DriverInMemory = "memory"
)

// Config конфигурация выбора адаптера шины
type Config struct {
	Driver   string         `yaml:"driver"`
	RabbitMQ RabbitMQConfig `yaml:"rabbitmq"`
	InMemory InMemoryConfig `yaml:"memory"`
}

// DefaultConfig возвращает конфигурацию с RabbitMQ по умолчанию
func DefaultConfig() Config {
	return Config{
		Driver:   DriverRabbitMQ,
		RabbitMQ: DefaultRabbitMQConfig(),
		InMemory: DefaultInMemoryConfig(),
	}
}

// FatalErrors источник фатальных ошибок шины
type FatalErrors interface {
	Errors() <-chan error
}

// New создает шину по имени драйвера
func New(config Config, logger zerolog.Logger, m *metrics.Metrics) (transport.MessageBus, error) {
	switch config.Driver {
	case DriverRabbitMQ, "":
		return NewRabbitMQBusBuilder().
			WithConfig(config.RabbitMQ).
			WithLogger(logger).
			WithMetrics(m).
			Build()
	case DriverInMemory:
		return NewInMemoryBus(config.InMemory, logger, m), nil
	default:
		return nil, core.Errorf(core.ErrInvalidConfig, "unknown message bus driver: %s", config.Driver)
	}
}

// Fatal возвращает канал фатальных ошибок шины или nil, если адаптер их не порождает
func Fatal(bus transport.MessageBus) <-chan error {
	if f, ok := bus.(FatalErrors); ok {
		return f.Errors()
	}
	return nil
}
