package invoke

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"

	"github.com/akriventsev/shopsaga/framework/observability"
	"github.com/akriventsev/shopsaga/framework/transport"
)

// RespondFunc обработчик запроса; ошибка превращается в ответ с data.error
type RespondFunc[Req any, Resp any] func(ctx context.Context, req Req) (Resp, error)

// errorReply тело ответа с ошибкой
type errorReply struct {
	Error string `json:"error"`
}

// Respond подписывает durable очередь queue на routingKey и отвечает на запросы через fn.
// Ответ публикуется в тот же exchange с routing key из data.replyTo.
func Respond[Req any, Resp any](ctx context.Context, bus transport.MessageBus, logger zerolog.Logger, exchange, queue, routingKey string, fn RespondFunc[Req, Resp]) error {
	handler := ResponderHandler(bus, logger, exchange, fn)
	if err := bus.Subscribe(ctx, exchange, queue, routingKey, handler); err != nil {
		return fmt.Errorf("failed to start responder for %s: %w", routingKey, err)
	}
	return nil
}

// ResponderHandler строит transport.Handler для запросов.
// Нераспознаваемые сообщения и запросы без replyTo отбрасываются, ошибка публикации ответа
// возвращает запрос в очередь.
func ResponderHandler[Req any, Resp any](pub transport.Publisher, logger zerolog.Logger, exchange string, fn RespondFunc[Req, Resp]) transport.Handler {
	return func(ctx context.Context, d *transport.Delivery) transport.Result {
		env, err := transport.DecodeEnvelope(d.Body)
		if err != nil {
			return transport.Drop(err)
		}
		replyTo := env.ReplyTo()
		if replyTo == "" {
			return transport.Drop(errors.New("request " + env.Type + " has no replyTo"))
		}

		log := logger.With().Str("type", env.Type).Str("correlation_id", env.CorrelationID).Logger()
		ctx = WithCorrelationID(log.WithContext(ctx), env.CorrelationID)

		var data any
		var req Req
		if err := env.Decode(&req); err != nil {
			data = errorReply{Error: "invalid request: " + err.Error()}
		} else {
			err := observability.TraceOperation(ctx, "responder", env.Type, func(ctx context.Context) error {
				resp, err := fn(ctx, req)
				if err != nil {
					return err
				}
				data = resp
				return nil
			}, attribute.String("correlation_id", env.CorrelationID))
			if err != nil {
				log.Warn().Err(err).Msg("request handler failed")
				data = errorReply{Error: err.Error()}
			}
		}

		reply, err := transport.NewEnvelope(ResponseType(env.Type), env.CorrelationID, data)
		if err != nil {
			return transport.Drop(err)
		}
		if err := pub.Publish(ctx, exchange, replyTo, reply); err != nil {
			return transport.Retry(fmt.Errorf("failed to publish reply: %w", err))
		}
		return transport.Ack()
	}
}
