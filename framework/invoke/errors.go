// Package invoke предоставляет систему ошибок для модуля Invoke.
package invoke

import (
	"time"

	"github.com/akriventsev/shopsaga/framework/core"
)

// Коды ошибок модуля Invoke
const (
	ErrRequestTimeout = "REQUEST_TIMEOUT"
	ErrPublishFailed  = "PUBLISH_FAILED"
	ErrResponderError = "RESPONDER_ERROR"
	ErrInvalidPayload = "INVALID_PAYLOAD"
	ErrInvalidReply   = "INVALID_REPLY"
)

// NewRequestTimeoutError создает ошибку таймаута ожидания ответа
func NewRequestTimeoutError(routingKey, correlationID string, timeout time.Duration) *core.FrameworkError {
	return core.NewError(
		ErrRequestTimeout,
		"request timeout: routing_key="+routingKey+", correlation_id="+correlationID+", timeout="+timeout.String(),
	)
}

// NewPublishFailedError создает ошибку публикации запроса
func NewPublishFailedError(routingKey string, cause error) *core.FrameworkError {
	return core.Wrap(
		cause,
		ErrPublishFailed,
		"failed to publish request: "+routingKey,
	)
}

// NewResponderError создает ошибку, которую вернула отвечающая сторона в data.error
func NewResponderError(routingKey, message string) *core.FrameworkError {
	return core.NewError(
		ErrResponderError,
		routingKey+": "+message,
	)
}

// NewInvalidPayloadError создает ошибку некорректного payload запроса
func NewInvalidPayloadError(cause error) *core.FrameworkError {
	return core.Wrap(
		cause,
		ErrInvalidPayload,
		"invalid request payload",
	)
}

// NewInvalidReplyError создает ошибку разбора ответа
func NewInvalidReplyError(routingKey string, cause error) *core.FrameworkError {
	return core.Wrap(
		cause,
		ErrInvalidReply,
		"invalid reply to "+routingKey,
	)
}

// IsTimeout проверяет, является ли ошибка таймаутом запроса
func IsTimeout(err error) bool {
	return core.HasCode(err, ErrRequestTimeout)
}

// IsResponderError проверяет, вернул ли ошибку responder
func IsResponderError(err error) bool {
	return core.HasCode(err, ErrResponderError)
}
