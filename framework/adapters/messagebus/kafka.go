package messagebus

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"

	"github.com/akriventsev/shopsaga/framework/core"
	"github.com/akriventsev/shopsaga/framework/transport"
)

// KafkaConfig конфигурация Kafka producer для пересылки событий
type KafkaConfig struct {
	Brokers      []string      `yaml:"brokers"`
	Topic        string        `yaml:"topic"`
	Compression  string        `yaml:"compression"` // none, gzip, snappy, lz4, zstd
	BatchSize    int           `yaml:"batch_size"`
	BatchTimeout time.Duration `yaml:"batch_timeout"`
	RequiredAcks int           `yaml:"required_acks"` // 0, 1, -1 (all)
	MaxAttempts  int           `yaml:"max_attempts"`
}

// Validate проверяет корректность конфигурации
func (c KafkaConfig) Validate() error {
	if len(c.Brokers) == 0 {
		return fmt.Errorf("brokers cannot be empty")
	}
	for i, broker := range c.Brokers {
		if broker == "" {
			return fmt.Errorf("broker[%d] cannot be empty", i)
		}
		// Простая проверка формата host:port
		if !strings.Contains(broker, ":") {
			return fmt.Errorf("broker[%d] must be in format host:port", i)
		}
	}
	if c.Topic == "" {
		return fmt.Errorf("topic cannot be empty")
	}
	return nil
}

// DefaultKafkaConfig возвращает конфигурацию Kafka по умолчанию
func DefaultKafkaConfig() KafkaConfig {
	return KafkaConfig{
		Brokers:      []string{"localhost:9092"},
		Topic:        "order-lifecycle",
		Compression:  "snappy",
		BatchSize:    100,
		BatchTimeout: 10 * time.Millisecond,
		RequiredAcks: -1,
		MaxAttempts:  3,
	}
}

// MessageWriter минимальный интерфейс kafka.Writer
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// NewKafkaWriter создает kafka.Writer по конфигурации
func NewKafkaWriter(config KafkaConfig) (*kafka.Writer, error) {
	if err := config.Validate(); err != nil {
		return nil, core.Wrap(err, core.ErrInvalidConfig, "invalid kafka config")
	}
	return &kafka.Writer{
		Addr:                   kafka.TCP(config.Brokers...),
		Topic:                  config.Topic,
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequiredAcks(config.RequiredAcks),
		MaxAttempts:            config.MaxAttempts,
		Async:                  false,
		BatchSize:              config.BatchSize,
		BatchTimeout:           config.BatchTimeout,
		Compression:            getCompression(config.Compression),
		AllowAutoTopicCreation: true,
	}, nil
}

// getCompression преобразует строку в kafka.Compression
func getCompression(compression string) kafka.Compression {
	switch compression {
	case "gzip":
		return kafka.Gzip
	case "snappy":
		return kafka.Snappy
	case "lz4":
		return kafka.Lz4
	case "zstd":
		return kafka.Zstd
	default:
		return kafka.Compression(0) // zero value - no compression
	}
}

// KafkaForwarder пересылает сообщения из очереди шины в топик Kafka.
// Ключ сообщения извлекается KeyFunc (по умолчанию routing key), что сохраняет
// порядок событий одного агрегата внутри партиции.
type KafkaForwarder struct {
	bus     transport.Subscriber
	writer  MessageWriter
	logger  zerolog.Logger
	keyFunc func(d *transport.Delivery) []byte

	mu      sync.Mutex
	queue   string
	running bool
}

// NewKafkaForwarder создает пересылку
func NewKafkaForwarder(bus transport.Subscriber, writer MessageWriter, logger zerolog.Logger) *KafkaForwarder {
	return &KafkaForwarder{
		bus:    bus,
		writer: writer,
		logger: logger.With().Str("component", "kafka-forwarder").Logger(),
		keyFunc: func(d *transport.Delivery) []byte {
			return []byte(d.RoutingKey)
		},
	}
}

// WithKeyFunc задает функцию ключа партиционирования
func (f *KafkaForwarder) WithKeyFunc(fn func(d *transport.Delivery) []byte) *KafkaForwarder {
	f.keyFunc = fn
	return f
}

// Forward подписывает очередь queue на routingKeys exchange и начинает пересылку
func (f *KafkaForwarder) Forward(ctx context.Context, exchange, queue string, routingKeys ...string) error {
	if len(routingKeys) == 0 {
		return fmt.Errorf("at least one routing key must be specified")
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.running {
		return core.NewError(core.ErrAlreadyExists, "forwarder is already running")
	}

	err := f.bus.Subscribe(ctx, exchange, queue, routingKeys[0], f.handle,
		transport.AlsoBind(routingKeys[1:]...))
	if err != nil {
		return fmt.Errorf("failed to subscribe forwarder: %w", err)
	}
	f.queue = queue
	f.running = true
	return nil
}

func (f *KafkaForwarder) handle(ctx context.Context, d *transport.Delivery) transport.Result {
	msg := kafka.Message{
		Key:   f.keyFunc(d),
		Value: d.Body,
		Headers: []kafka.Header{
			{Key: "exchange", Value: []byte(d.Exchange)},
			{Key: "routing_key", Value: []byte(d.RoutingKey)},
		},
		Time: time.Now(),
	}

	if err := f.writer.WriteMessages(ctx, msg); err != nil {
		return transport.Retry(fmt.Errorf("failed to write to kafka: %w", err))
	}

	f.logger.Debug().Str("routing_key", d.RoutingKey).Msg("forwarded to kafka")
	return transport.Ack()
}

// Stop закрывает writer. Durable очередь остается на брокере и накапливает события до следующего запуска.
func (f *KafkaForwarder) Stop(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.running {
		return nil
	}
	f.running = false
	return f.writer.Close()
}
