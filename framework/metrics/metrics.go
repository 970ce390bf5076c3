// Package metrics предоставляет систему метрик на основе OpenTelemetry.
package metrics

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics сборщик метрик приложения.
// Все методы безопасны для nil-получателя, компоненты принимают *Metrics опционально.
type Metrics struct {
	meter metric.Meter

	publishedTotal   metric.Int64Counter
	publishDuration  metric.Float64Histogram
	consumedTotal    metric.Int64Counter
	handlerDuration  metric.Float64Histogram
	reconnectsTotal  metric.Int64Counter
	requestsTotal    metric.Int64Counter
	requestDuration  metric.Float64Histogram
	pendingRequests  metric.Int64UpDownCounter
	sagaTransitions  metric.Int64Counter
	sagaSteps        metric.Int64Counter
	stockDecrements  metric.Int64Counter
	stockShortfall   metric.Int64Counter
	paymentsTotal    metric.Int64Counter
}

// NewMetrics создает новый сборщик метрик
func NewMetrics() (*Metrics, error) {
	meter := otel.Meter("shopsaga")
	m := &Metrics{meter: meter}

	var err error
	if m.publishedTotal, err = meter.Int64Counter(
		"bus_messages_published_total",
		metric.WithDescription("Total number of messages published to the broker"),
	); err != nil {
		return nil, err
	}
	if m.publishDuration, err = meter.Float64Histogram(
		"bus_publish_duration_seconds",
		metric.WithDescription("Publish duration in seconds"),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}
	if m.consumedTotal, err = meter.Int64Counter(
		"bus_messages_consumed_total",
		metric.WithDescription("Total number of delivered messages by handler disposition"),
	); err != nil {
		return nil, err
	}
	if m.handlerDuration, err = meter.Float64Histogram(
		"bus_handler_duration_seconds",
		metric.WithDescription("Message handler duration in seconds"),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}
	if m.reconnectsTotal, err = meter.Int64Counter(
		"bus_reconnect_attempts_total",
		metric.WithDescription("Broker reconnect attempts by outcome"),
	); err != nil {
		return nil, err
	}
	if m.requestsTotal, err = meter.Int64Counter(
		"correlation_requests_total",
		metric.WithDescription("Correlated request/reply calls by outcome"),
	); err != nil {
		return nil, err
	}
	if m.requestDuration, err = meter.Float64Histogram(
		"correlation_request_duration_seconds",
		metric.WithDescription("Time until a correlated request settled"),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}
	if m.pendingRequests, err = meter.Int64UpDownCounter(
		"correlation_requests_pending",
		metric.WithDescription("Number of requests awaiting a reply"),
	); err != nil {
		return nil, err
	}
	if m.sagaTransitions, err = meter.Int64Counter(
		"saga_transitions_total",
		metric.WithDescription("Order status transitions"),
	); err != nil {
		return nil, err
	}
	if m.sagaSteps, err = meter.Int64Counter(
		"saga_steps_total",
		metric.WithDescription("Saga step executions by status"),
	); err != nil {
		return nil, err
	}
	if m.stockDecrements, err = meter.Int64Counter(
		"stock_decrements_total",
		metric.WithDescription("Stock decrement attempts by outcome"),
	); err != nil {
		return nil, err
	}
	if m.stockShortfall, err = meter.Int64Counter(
		"stock_shortfall_units_total",
		metric.WithDescription("Units that could not be decremented because stock ran out"),
	); err != nil {
		return nil, err
	}
	if m.paymentsTotal, err = meter.Int64Counter(
		"payments_created_total",
		metric.WithDescription("Payment creation attempts by method and outcome"),
	); err != nil {
		return nil, err
	}

	return m, nil
}

// RecordPublish записывает метрику публикации
func (m *Metrics) RecordPublish(ctx context.Context, exchange, routingKey string, duration time.Duration, success bool) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("exchange", exchange),
		attribute.String("routing_key", routingKey),
		attribute.Bool("success", success),
	)
	m.publishedTotal.Add(ctx, 1, attrs)
	m.publishDuration.Record(ctx, duration.Seconds(), attrs)
}

// RecordDelivery записывает результат обработки доставленного сообщения
func (m *Metrics) RecordDelivery(ctx context.Context, queue, disposition string, duration time.Duration) {
	if m == nil {
		return
	}
	m.consumedTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("queue", queue),
		attribute.String("disposition", disposition),
	))
	m.handlerDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(attribute.String("queue", queue)))
}

// RecordReconnect записывает попытку переподключения
func (m *Metrics) RecordReconnect(ctx context.Context, success bool) {
	if m == nil {
		return
	}
	m.reconnectsTotal.Add(ctx, 1, metric.WithAttributes(attribute.Bool("success", success)))
}

// RequestStarted увеличивает счетчик ожидающих ответа запросов
func (m *Metrics) RequestStarted(ctx context.Context, routingKey string) {
	if m == nil {
		return
	}
	m.pendingRequests.Add(ctx, 1, metric.WithAttributes(attribute.String("routing_key", routingKey)))
}

// RecordRequest записывает завершение запроса с исходом ok|timeout|publish_failed|responder_error|canceled
func (m *Metrics) RecordRequest(ctx context.Context, routingKey, outcome string, duration time.Duration) {
	if m == nil {
		return
	}
	m.pendingRequests.Add(ctx, -1, metric.WithAttributes(attribute.String("routing_key", routingKey)))
	attrs := metric.WithAttributes(
		attribute.String("routing_key", routingKey),
		attribute.String("outcome", outcome),
	)
	m.requestsTotal.Add(ctx, 1, attrs)
	m.requestDuration.Record(ctx, duration.Seconds(), attrs)
}

// RecordTransition записывает переход статуса
func (m *Metrics) RecordTransition(ctx context.Context, entity, from, to string) {
	if m == nil {
		return
	}
	m.sagaTransitions.Add(ctx, 1, metric.WithAttributes(
		attribute.String("entity", entity),
		attribute.String("from", from),
		attribute.String("to", to),
	))
}

// RecordStep записывает выполнение шага саги
func (m *Metrics) RecordStep(ctx context.Context, saga, step, status string) {
	if m == nil {
		return
	}
	m.sagaSteps.Add(ctx, 1, metric.WithAttributes(
		attribute.String("saga", saga),
		attribute.String("step", step),
		attribute.String("status", status),
	))
}

// RecordStockDecrement записывает списание остатка; shortfall - недостающие единицы
func (m *Metrics) RecordStockDecrement(ctx context.Context, outcome string, shortfall int) {
	if m == nil {
		return
	}
	m.stockDecrements.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
	if shortfall > 0 {
		m.stockShortfall.Add(ctx, int64(shortfall))
	}
}

// RecordPayment записывает попытку создания платежа
func (m *Metrics) RecordPayment(ctx context.Context, method string, success bool) {
	if m == nil {
		return
	}
	m.paymentsTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("method", method),
		attribute.Bool("success", success),
	))
}
