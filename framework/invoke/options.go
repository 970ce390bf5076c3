// Package invoke предоставляет опции конфигурации для модуля Invoke.
package invoke

import (
	"time"

	"github.com/akriventsev/shopsaga/framework/metrics"
)

// RequesterOptions параметры Requester
type RequesterOptions struct {
	// DefaultTimeout используется, когда Request вызван с timeout <= 0
	DefaultTimeout time.Duration
	// CleanupDelay задержка удаления временной очереди после завершения запроса; 0 - синхронно
	CleanupDelay time.Duration
	// QueuePrefix префикс имени временной очереди ответа
	QueuePrefix string
	Metrics     *metrics.Metrics
}

// RequesterOption функциональная опция Requester
type RequesterOption func(*RequesterOptions)

// DefaultRequesterOptions возвращает опции по умолчанию
func DefaultRequesterOptions() RequesterOptions {
	return RequesterOptions{
		DefaultTimeout: 30 * time.Second,
		CleanupDelay:   time.Second,
		QueuePrefix:    "reply",
	}
}

// WithDefaultTimeout устанавливает таймаут по умолчанию
func WithDefaultTimeout(timeout time.Duration) RequesterOption {
	return func(o *RequesterOptions) {
		o.DefaultTimeout = timeout
	}
}

// WithCleanupDelay устанавливает задержку удаления временной очереди
func WithCleanupDelay(delay time.Duration) RequesterOption {
	return func(o *RequesterOptions) {
		o.CleanupDelay = delay
	}
}

// WithQueuePrefix устанавливает префикс временных очередей
func WithQueuePrefix(prefix string) RequesterOption {
	return func(o *RequesterOptions) {
		o.QueuePrefix = prefix
	}
}

// WithMetrics включает метрики запросов
func WithMetrics(m *metrics.Metrics) RequesterOption {
	return func(o *RequesterOptions) {
		o.Metrics = m
	}
}
