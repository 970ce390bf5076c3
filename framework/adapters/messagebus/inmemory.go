// Package messagebus предоставляет адаптеры MessageBus для различных брокеров.
package messagebus

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/akriventsev/shopsaga/framework/core"
	"github.com/akriventsev/shopsaga/framework/metrics"
	"github.com/akriventsev/shopsaga/framework/transport"
)

// InMemoryConfig конфигурация для InMemory адаптера
type InMemoryConfig struct {
	// RedeliveryDelay задержка перед повторной доставкой после Retry
	RedeliveryDelay time.Duration `yaml:"redelivery_delay"`
}

// DefaultInMemoryConfig возвращает конфигурацию InMemory по умолчанию
func DefaultInMemoryConfig() InMemoryConfig {
	return InMemoryConfig{
		RedeliveryDelay: 10 * time.Millisecond,
	}
}

// PublishRecord запись журнала публикаций
type PublishRecord struct {
	Exchange   string
	RoutingKey string
	Body       []byte
	// Routed false, если ни одна очередь не приняла сообщение
	Routed bool
}

// InMemoryBus реализация transport.MessageBus в памяти с семантикой topic exchange:
// сообщение копируется в каждую очередь с подходящей привязкой, внутри очереди доставка FIFO
// одним consumer, Retry возвращает сообщение в хвост очереди.
type InMemoryBus struct {
	config  InMemoryConfig
	logger  zerolog.Logger
	metrics *metrics.Metrics

	mu        sync.RWMutex
	queues    map[string]*memQueue
	exchanges map[string]struct{}
	published []PublishRecord
	connected bool
	closed    bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

type memBinding struct {
	exchange string
	pattern  string
}

type memQueue struct {
	name      string
	temporary bool
	bindings  []memBinding
	handler   transport.Handler

	mu      sync.Mutex
	pending []*transport.Delivery
	signal  chan struct{}
	stop    chan struct{}
	stopped bool
}

// NewInMemoryBus создает новую in-memory шину
func NewInMemoryBus(config InMemoryConfig, logger zerolog.Logger, m *metrics.Metrics) *InMemoryBus {
	ctx, cancel := context.WithCancel(context.Background())
	return &InMemoryBus{
		config:    config,
		logger:    logger.With().Str("component", "inmemory-bus").Logger(),
		metrics:   m,
		queues:    make(map[string]*memQueue),
		exchanges: make(map[string]struct{}),
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Name реализует core.Component
func (b *InMemoryBus) Name() string {
	return "inmemory-bus"
}

// Type реализует core.Component
func (b *InMemoryBus) Type() core.ComponentType {
	return core.ComponentTypeAdapter
}

// Connect помечает шину подключенной
func (b *InMemoryBus) Connect(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return core.NewError(core.ErrShutdown, "bus is closed")
	}
	b.connected = true
	return nil
}

// HealthCheck реализует core.HealthCheckable
func (b *InMemoryBus) HealthCheck(ctx context.Context) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed || !b.connected {
		return core.NewError(core.ErrNotConnected, "bus is not connected")
	}
	return nil
}

// Publish копирует сообщение во все очереди, привязанные к exchange подходящим pattern
func (b *InMemoryBus) Publish(ctx context.Context, exchange, routingKey string, payload any) error {
	start := time.Now()
	body, err := transport.Marshal(payload)
	if err != nil {
		return err
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		b.metrics.RecordPublish(ctx, exchange, routingKey, time.Since(start), false)
		return core.NewError(core.ErrShutdown, "bus is closed")
	}
	b.connected = true
	b.exchanges[exchange] = struct{}{}

	var targets []*memQueue
	for _, q := range b.queues {
		if q.matches(exchange, routingKey) {
			targets = append(targets, q)
		}
	}
	b.published = append(b.published, PublishRecord{
		Exchange:   exchange,
		RoutingKey: routingKey,
		Body:       body,
		Routed:     len(targets) > 0,
	})
	b.mu.Unlock()

	for _, q := range targets {
		q.push(&transport.Delivery{
			Exchange:   exchange,
			RoutingKey: routingKey,
			Queue:      q.name,
			Body:       append([]byte(nil), body...),
		})
	}

	if len(targets) == 0 {
		b.logger.Debug().Str("exchange", exchange).Str("routing_key", routingKey).Msg("message unroutable, dropped")
	}
	b.metrics.RecordPublish(ctx, exchange, routingKey, time.Since(start), true)
	return nil
}

// Subscribe объявляет очередь, привязывает её и запускает consumer
func (b *InMemoryBus) Subscribe(ctx context.Context, exchange, queue, routingKey string, handler transport.Handler, opts ...transport.SubscribeOption) error {
	if handler == nil {
		return fmt.Errorf("handler cannot be nil")
	}
	if queue == "" {
		return fmt.Errorf("queue name cannot be empty")
	}
	o := transport.BuildSubscribeOptions(opts...)

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return core.NewError(core.ErrShutdown, "bus is closed")
	}
	if _, exists := b.queues[queue]; exists {
		return core.NewError(core.ErrAlreadyExists, "queue "+queue+" already has a consumer")
	}
	b.connected = true
	b.exchanges[exchange] = struct{}{}

	q := &memQueue{
		name:      queue,
		temporary: o.Temporary,
		handler:   handler,
		signal:    make(chan struct{}, 1),
		stop:      make(chan struct{}),
	}
	for _, key := range o.Bindings(routingKey) {
		q.bindings = append(q.bindings, memBinding{exchange: exchange, pattern: key})
	}
	b.queues[queue] = q

	b.wg.Add(1)
	go b.consume(q)

	b.logger.Debug().Str("exchange", exchange).Str("queue", queue).Str("routing_key", routingKey).
		Bool("temporary", o.Temporary).Msg("subscribed")
	return nil
}

// Unsubscribe останавливает consumer и удаляет очередь; отсутствие очереди не ошибка
func (b *InMemoryBus) Unsubscribe(ctx context.Context, queue string) error {
	b.mu.Lock()
	q, exists := b.queues[queue]
	delete(b.queues, queue)
	b.mu.Unlock()

	if !exists {
		return nil
	}
	q.close()
	return nil
}

// Close останавливает все consumers
func (b *InMemoryBus) Close(ctx context.Context) error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	b.connected = false
	queues := b.queues
	b.queues = make(map[string]*memQueue)
	b.mu.Unlock()

	b.cancel()
	for _, q := range queues {
		q.close()
	}

	done := make(chan struct{})
	go func() {
		b.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// QueueExists проверяет, объявлена ли очередь (для тестирования)
func (b *InMemoryBus) QueueExists(queue string) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	_, ok := b.queues[queue]
	return ok
}

// QueueCount возвращает количество объявленных очередей (для тестирования)
func (b *InMemoryBus) QueueCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.queues)
}

// Published возвращает копию журнала публикаций (для тестирования)
func (b *InMemoryBus) Published() []PublishRecord {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]PublishRecord, len(b.published))
	copy(out, b.published)
	return out
}

// PublishedCount считает публикации с routing key (для тестирования)
func (b *InMemoryBus) PublishedCount(exchange, routingKey string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	n := 0
	for _, r := range b.published {
		if r.Exchange == exchange && r.RoutingKey == routingKey {
			n++
		}
	}
	return n
}

func (b *InMemoryBus) consume(q *memQueue) {
	defer b.wg.Done()

	for {
		d, ok := q.next()
		if !ok {
			return
		}

		start := time.Now()
		res := dispatch(b.ctx, q.handler, d)
		b.metrics.RecordDelivery(b.ctx, q.name, res.Disposition.String(), time.Since(start))

		switch res.Disposition {
		case transport.DispositionAck:
		case transport.DispositionRetry:
			b.logger.Warn().Err(res.Err).Str("queue", q.name).Str("routing_key", d.RoutingKey).
				Msg("handler asked for redelivery")
			redelivery := *d
			redelivery.Redelivered = true
			delay := max(b.config.RedeliveryDelay, res.Delay)
			time.AfterFunc(delay, func() { q.push(&redelivery) })
		case transport.DispositionDrop:
			b.logger.Error().Err(res.Err).Str("queue", q.name).Str("routing_key", d.RoutingKey).
				Msg("message dropped")
		}
	}
}

// dispatch вызывает handler, превращая panic в Retry
func dispatch(ctx context.Context, handler transport.Handler, d *transport.Delivery) (res transport.Result) {
	defer func() {
		if r := recover(); r != nil {
			res = transport.Retry(fmt.Errorf("handler panic: %v", r))
		}
	}()
	return handler(ctx, d)
}

func (q *memQueue) matches(exchange, routingKey string) bool {
	for _, bnd := range q.bindings {
		if bnd.exchange == exchange && transport.MatchTopic(bnd.pattern, routingKey) {
			return true
		}
	}
	return false
}

func (q *memQueue) push(d *transport.Delivery) {
	q.mu.Lock()
	if q.stopped {
		q.mu.Unlock()
		return
	}
	q.pending = append(q.pending, d)
	q.mu.Unlock()

	select {
	case q.signal <- struct{}{}:
	default:
	}
}

func (q *memQueue) next() (*transport.Delivery, bool) {
	for {
		q.mu.Lock()
		if q.stopped {
			q.mu.Unlock()
			return nil, false
		}
		if len(q.pending) > 0 {
			d := q.pending[0]
			q.pending = q.pending[1:]
			q.mu.Unlock()
			return d, true
		}
		q.mu.Unlock()

		select {
		case <-q.signal:
		case <-q.stop:
			return nil, false
		}
	}
}

func (q *memQueue) close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.stopped {
		return
	}
	q.stopped = true
	q.pending = nil
	close(q.stop)
}

// Start реализует core.Lifecycle
func (b *InMemoryBus) Start(ctx context.Context) error {
	return b.Connect(ctx)
}

// Stop реализует core.Lifecycle
func (b *InMemoryBus) Stop(ctx context.Context) error {
	return b.Close(ctx)
}

// IsRunning реализует core.Lifecycle
func (b *InMemoryBus) IsRunning() bool {
	return b.HealthCheck(context.Background()) == nil
}
