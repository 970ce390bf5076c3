// Package transport предоставляет абстракции для работы с message bus
// поверх topic exchange: публикация, подписка очередей и результат обработки доставки.
package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// Delivery доставленное из очереди сообщение
type Delivery struct {
	Exchange    string
	RoutingKey  string
	Queue       string
	Body        []byte
	Redelivered bool
}

// Disposition решение обработчика о судьбе доставки
type Disposition int

const (
	// DispositionAck подтверждает сообщение
	DispositionAck Disposition = iota
	// DispositionRetry возвращает сообщение в очередь для повторной доставки
	DispositionRetry
	// DispositionDrop отбрасывает сообщение без повторной доставки
	DispositionDrop
)

// String возвращает имя решения для логов и метрик
func (d Disposition) String() string {
	switch d {
	case DispositionAck:
		return "ack"
	case DispositionRetry:
		return "retry"
	case DispositionDrop:
		return "drop"
	default:
		return fmt.Sprintf("disposition(%d)", int(d))
	}
}

// Result результат обработки доставки
type Result struct {
	Disposition Disposition
	Err         error
	// Delay пауза перед возвратом в очередь для Retry
	Delay time.Duration
}

// Ack успешная обработка
func Ack() Result {
	return Result{Disposition: DispositionAck}
}

// Retry временная ошибка, сообщение будет доставлено повторно
func Retry(err error) Result {
	return Result{Disposition: DispositionRetry, Err: err}
}

// RetryAfter как Retry, но сообщение возвращается в очередь не раньше чем через delay
func RetryAfter(err error, delay time.Duration) Result {
	return Result{Disposition: DispositionRetry, Err: err, Delay: delay}
}

// Drop постоянная ошибка, сообщение отбрасывается
func Drop(err error) Result {
	return Result{Disposition: DispositionDrop, Err: err}
}

// Handler обработчик доставленных сообщений
type Handler func(ctx context.Context, d *Delivery) Result

// Publisher публикатор сообщений в topic exchange
type Publisher interface {
	// Publish публикует payload в exchange с routing key.
	// []byte и json.RawMessage передаются как есть, остальное сериализуется в JSON.
	Publish(ctx context.Context, exchange, routingKey string, payload any) error
}

// Subscriber подписчик на очереди
type Subscriber interface {
	// Subscribe объявляет exchange и очередь, привязывает routing key и запускает consumer
	Subscribe(ctx context.Context, exchange, queue, routingKey string, handler Handler, opts ...SubscribeOption) error
	// Unsubscribe останавливает consumer и удаляет очередь
	Unsubscribe(ctx context.Context, queue string) error
}

// MessageBus клиент брокера с явным жизненным циклом
type MessageBus interface {
	Publisher
	Subscriber
	// Connect устанавливает соединение; повторный вызов ничего не делает
	Connect(ctx context.Context) error
	// Close закрывает соединение и останавливает consumers
	Close(ctx context.Context) error
}

// SubscribeOptions параметры подписки
type SubscribeOptions struct {
	// Temporary очередь exclusive + auto-delete, не переживает соединение
	Temporary bool
	// ExtraBindings дополнительные routing key для той же очереди
	ExtraBindings []string
}

// SubscribeOption опция подписки
type SubscribeOption func(*SubscribeOptions)

// Temporary делает очередь временной (exclusive, auto-delete, non-durable)
func Temporary() SubscribeOption {
	return func(o *SubscribeOptions) {
		o.Temporary = true
	}
}

// AlsoBind добавляет routing keys к очереди подписки
func AlsoBind(keys ...string) SubscribeOption {
	return func(o *SubscribeOptions) {
		o.ExtraBindings = append(o.ExtraBindings, keys...)
	}
}

// BuildSubscribeOptions применяет опции
func BuildSubscribeOptions(opts ...SubscribeOption) SubscribeOptions {
	var o SubscribeOptions
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// Bindings возвращает все routing keys подписки
func (o SubscribeOptions) Bindings(routingKey string) []string {
	return append([]string{routingKey}, o.ExtraBindings...)
}

// Marshal сериализует payload для публикации
func Marshal(payload any) ([]byte, error) {
	switch p := payload.(type) {
	case nil:
		return nil, fmt.Errorf("payload cannot be nil")
	case []byte:
		return p, nil
	case json.RawMessage:
		return p, nil
	default:
		body, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal payload: %w", err)
		}
		return body, nil
	}
}
