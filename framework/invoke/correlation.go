// Package invoke предоставляет утилиты для работы с correlation ID.
package invoke

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

type contextKey string

// CorrelationIDKey ключ correlation ID в контексте
const CorrelationIDKey contextKey = "correlation_id"

// ReplyKeyPrefix префикс routing key ответов
const ReplyKeyPrefix = "response."

// GenerateCorrelationID генерирует correlation ID: миллисекунды unix time и случайный суффикс
func GenerateCorrelationID() string {
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
	return fmt.Sprintf("%d-%s", time.Now().UnixMilli(), suffix)
}

// ReplyRoutingKey возвращает routing key ответа для correlation ID
func ReplyRoutingKey(correlationID string) string {
	return ReplyKeyPrefix + correlationID
}

// ResponseType возвращает тип ответа для типа запроса: "x.request" -> "x.response"
func ResponseType(requestType string) string {
	return strings.TrimSuffix(requestType, ".request") + ".response"
}

// ExtractCorrelationID извлекает correlation ID из контекста
func ExtractCorrelationID(ctx context.Context) string {
	if id, ok := ctx.Value(CorrelationIDKey).(string); ok {
		return id
	}
	return ""
}

// WithCorrelationID добавляет correlation ID в контекст
func WithCorrelationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, CorrelationIDKey, id)
}
