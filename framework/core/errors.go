// Package core содержит общие интерфейсы компонентов и коды ошибок инфраструктуры.
package core

import (
	"errors"
	"fmt"
)

// Коды ошибок
const (
	ErrNotFound             = "NOT_FOUND"
	ErrAlreadyExists        = "ALREADY_EXISTS"
	ErrInvalidConfig        = "INVALID_CONFIG"
	ErrInitializationFailed = "INITIALIZATION_FAILED"
	ErrNotConnected         = "NOT_CONNECTED"
	ErrConnectionLost       = "CONNECTION_LOST"
	ErrShutdown             = "SHUTDOWN"
)

// FrameworkError ошибка с машинно-читаемым кодом. errors.Is сравнивает только коды.
type FrameworkError struct {
	Code    string
	Message string
	Cause   error
}

func (e *FrameworkError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *FrameworkError) Unwrap() error {
	return e.Cause
}

func (e *FrameworkError) Is(target error) bool {
	t, ok := target.(*FrameworkError)
	return ok && e.Code == t.Code
}

// NewError создает ошибку с кодом
func NewError(code, message string) *FrameworkError {
	return &FrameworkError{Code: code, Message: message}
}

// Errorf создает ошибку с кодом и форматированным сообщением
func Errorf(code, format string, args ...any) *FrameworkError {
	return &FrameworkError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap оборачивает err кодом. Для nil возвращает nil.
func Wrap(err error, code, message string) *FrameworkError {
	if err == nil {
		return nil
	}
	return &FrameworkError{Code: code, Message: message, Cause: err}
}

// HasCode проверяет, есть ли в цепочке ошибок FrameworkError с указанным кодом
func HasCode(err error, code string) bool {
	var fe *FrameworkError
	for err != nil {
		if !errors.As(err, &fe) {
			return false
		}
		if fe.Code == code {
			return true
		}
		err = fe.Cause
	}
	return false
}

// CodeOf возвращает код первой FrameworkError в цепочке или пустую строку
func CodeOf(err error) string {
	var fe *FrameworkError
	if errors.As(err, &fe) {
		return fe.Code
	}
	return ""
}

// IsConnectivity истинно для ошибок потери или отсутствия соединения с брокером
func IsConnectivity(err error) bool {
	return HasCode(err, ErrNotConnected) || HasCode(err, ErrConnectionLost)
}
