// Package invoke реализует request/reply поверх шины: запрос публикуется в topic exchange,
// ответ приходит во временную очередь, привязанную к response.<correlationId>.
package invoke

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/akriventsev/shopsaga/framework/core"
	"github.com/akriventsev/shopsaga/framework/transport"
)

// Requester клиент correlation-based запросов.
// Каждый запрос получает собственную временную очередь и таймер, поэтому конкурентные
// запросы изолированы друг от друга.
type Requester struct {
	bus     transport.MessageBus
	logger  zerolog.Logger
	opts    RequesterOptions
	pending atomic.Int64
}

// NewRequester создает Requester поверх шины
func NewRequester(bus transport.MessageBus, logger zerolog.Logger, opts ...RequesterOption) *Requester {
	o := DefaultRequesterOptions()
	for _, opt := range opts {
		opt(&o)
	}
	return &Requester{
		bus:    bus,
		logger: logger.With().Str("component", "requester").Logger(),
		opts:   o,
	}
}

// replySlot ячейка однократного присваивания: первый resolve побеждает
type replySlot struct {
	once sync.Once
	done chan struct{}
	env  *transport.Envelope
	err  error
}

func newReplySlot() *replySlot {
	return &replySlot{done: make(chan struct{})}
}

func (s *replySlot) resolve(env *transport.Envelope, err error) bool {
	resolved := false
	s.once.Do(func() {
		s.env, s.err = env, err
		close(s.done)
		resolved = true
	})
	return resolved
}

// Request отправляет {type, correlationId, data{...payload, replyTo}} в exchange с routingKey
// и ждет ответа не дольше timeout. Payload обязан сериализоваться в JSON-объект.
//
// Ошибки: REQUEST_TIMEOUT, PUBLISH_FAILED, RESPONDER_ERROR (data.error в ответе),
// INVALID_PAYLOAD и ошибка контекста.
func (r *Requester) Request(ctx context.Context, exchange, routingKey string, payload any, timeout time.Duration) (*transport.Envelope, error) {
	if timeout <= 0 {
		timeout = r.opts.DefaultTimeout
	}

	correlationID := GenerateCorrelationID()
	replyKey := ReplyRoutingKey(correlationID)
	queue := r.opts.QueuePrefix + "." + correlationID

	data, err := transport.MergeData(payload, map[string]any{"replyTo": replyKey})
	if err != nil {
		return nil, NewInvalidPayloadError(err)
	}

	logger := r.logger.With().
		Str("routing_key", routingKey).
		Str("correlation_id", correlationID).
		Logger()

	slot := newReplySlot()
	handler := func(_ context.Context, d *transport.Delivery) transport.Result {
		env, err := transport.DecodeEnvelope(d.Body)
		if err != nil {
			return transport.Drop(err)
		}
		if env.CorrelationID != correlationID {
			logger.Debug().Str("foreign_correlation_id", env.CorrelationID).Msg("ignoring reply for another request")
			return transport.Ack()
		}
		if !slot.resolve(env, nil) {
			logger.Debug().Msg("reply arrived after request settled")
		}
		return transport.Ack()
	}

	if err := r.bus.Subscribe(ctx, exchange, queue, replyKey, handler, transport.Temporary()); err != nil {
		return nil, NewPublishFailedError(routingKey, err)
	}

	start := time.Now()
	r.pending.Add(1)
	r.opts.Metrics.RequestStarted(ctx, routingKey)
	defer func() {
		r.pending.Add(-1)
		r.cleanup(queue, logger)
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	request := &transport.Envelope{Type: routingKey, CorrelationID: correlationID, Data: data}
	if err := r.bus.Publish(ctx, exchange, routingKey, request); err != nil {
		slot.resolve(nil, NewPublishFailedError(routingKey, err))
	}

	select {
	case <-slot.done:
	case <-timer.C:
		slot.resolve(nil, NewRequestTimeoutError(routingKey, correlationID, timeout))
	case <-ctx.Done():
		slot.resolve(nil, ctx.Err())
	}
	<-slot.done

	env, err := slot.env, slot.err
	if err == nil {
		if msg := env.ErrorMessage(); msg != "" {
			err = NewResponderError(routingKey, msg)
		}
	}

	outcome := requestOutcome(err)
	r.opts.Metrics.RecordRequest(ctx, routingKey, outcome, time.Since(start))
	if err != nil {
		logger.Warn().Err(err).Str("outcome", outcome).Dur("elapsed", time.Since(start)).Msg("request failed")
		return nil, err
	}
	logger.Debug().Dur("elapsed", time.Since(start)).Msg("reply received")
	return env, nil
}

// cleanup удаляет временную очередь сразу или после CleanupDelay
func (r *Requester) cleanup(queue string, logger zerolog.Logger) {
	remove := func() {
		if err := r.bus.Unsubscribe(context.Background(), queue); err != nil {
			logger.Warn().Err(err).Str("queue", queue).Msg("failed to remove reply queue")
		}
	}
	if r.opts.CleanupDelay <= 0 {
		remove()
		return
	}
	time.AfterFunc(r.opts.CleanupDelay, remove)
}

// Pending возвращает количество запросов, ожидающих ответа
func (r *Requester) Pending() int {
	return int(r.pending.Load())
}

// Call выполняет Request и декодирует data ответа в T
func Call[T any](ctx context.Context, r *Requester, exchange, routingKey string, payload any, timeout time.Duration) (T, error) {
	var out T
	env, err := r.Request(ctx, exchange, routingKey, payload, timeout)
	if err != nil {
		return out, err
	}
	if err := env.Decode(&out); err != nil {
		return out, NewInvalidReplyError(routingKey, err)
	}
	return out, nil
}

func requestOutcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case core.HasCode(err, ErrRequestTimeout):
		return "timeout"
	case core.IsConnectivity(err):
		return "broker_unavailable"
	case core.HasCode(err, ErrPublishFailed):
		return "publish_failed"
	case core.HasCode(err, ErrResponderError):
		return "responder_error"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "canceled"
	default:
		return "error"
	}
}
