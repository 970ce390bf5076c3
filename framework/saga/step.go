package saga

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Step шаг саги над состоянием T
type Step[T any] interface {
	// Name возвращает имя шага
	Name() string
	// Execute выполняет forward action
	Execute(ctx context.Context, state T) error
	// Compensate откатывает результат успешно выполненного шага
	Compensate(ctx context.Context, state T) error
	// CanExecute проверяет возможность выполнения шага (guard)
	CanExecute(ctx context.Context, state T) bool
	// Timeout возвращает таймаут выполнения шага, 0 - без таймаута
	Timeout() time.Duration
	// RetryPolicy возвращает политику повторов, nil - без повторов
	RetryPolicy() *RetryPolicy
}

// RetryPolicy политика повторов для шага
type RetryPolicy struct {
	MaxAttempts  int
	InitialDelay time.Duration
	Backoff      float64
	// RetryableErrors если задан, повторяются только ошибки, совпадающие через errors.Is
	RetryableErrors []error
}

// ShouldRetry определяет, нужно ли повторить попытку после attempt (с нуля)
func (p *RetryPolicy) ShouldRetry(err error, attempt int) bool {
	if attempt+1 >= p.MaxAttempts {
		return false
	}
	if len(p.RetryableErrors) == 0 {
		return true
	}
	for _, retryable := range p.RetryableErrors {
		if errors.Is(err, retryable) {
			return true
		}
	}
	return false
}

// CalculateDelay вычисляет задержку перед повтором
func (p *RetryPolicy) CalculateDelay(attempt int) time.Duration {
	delay := float64(p.InitialDelay)
	for i := 0; i < attempt; i++ {
		delay *= p.Backoff
	}
	return time.Duration(delay)
}

// NoRetry создает политику без повторов
func NoRetry() *RetryPolicy {
	return &RetryPolicy{MaxAttempts: 1, Backoff: 1.0}
}

// ExponentialBackoff создает политику с экспоненциальной задержкой
func ExponentialBackoff(maxAttempts int, initialDelay time.Duration, backoff float64) *RetryPolicy {
	return &RetryPolicy{
		MaxAttempts:  maxAttempts,
		InitialDelay: initialDelay,
		Backoff:      backoff,
	}
}

// BaseStep базовая реализация Step на функциях
type BaseStep[T any] struct {
	name        string
	execute     func(ctx context.Context, state T) error
	guard       func(ctx context.Context, state T) bool
	timeout     time.Duration
	retryPolicy *RetryPolicy
}

// NewStep создает новый шаг
func NewStep[T any](name string) *BaseStep[T] {
	return &BaseStep[T]{name: name}
}

func (s *BaseStep[T]) Name() string {
	return s.name
}

func (s *BaseStep[T]) Execute(ctx context.Context, state T) error {
	if s.execute == nil {
		return fmt.Errorf("execute action not set for step %s", s.name)
	}
	return s.execute(ctx, state)
}

// Compensate ничего не делает. Шаги с откатом встраивают BaseStep и переопределяют Compensate.
func (s *BaseStep[T]) Compensate(ctx context.Context, state T) error {
	return nil
}

func (s *BaseStep[T]) CanExecute(ctx context.Context, state T) bool {
	if s.guard == nil {
		return true
	}
	return s.guard(ctx, state)
}

func (s *BaseStep[T]) Timeout() time.Duration {
	return s.timeout
}

func (s *BaseStep[T]) RetryPolicy() *RetryPolicy {
	return s.retryPolicy
}

// WithExecute устанавливает execute action
func (s *BaseStep[T]) WithExecute(action func(ctx context.Context, state T) error) *BaseStep[T] {
	s.execute = action
	return s
}

// WithGuard устанавливает guard функцию
func (s *BaseStep[T]) WithGuard(guard func(ctx context.Context, state T) bool) *BaseStep[T] {
	s.guard = guard
	return s
}

// WithTimeout устанавливает timeout
func (s *BaseStep[T]) WithTimeout(timeout time.Duration) *BaseStep[T] {
	s.timeout = timeout
	return s
}

// WithRetry устанавливает retry policy
func (s *BaseStep[T]) WithRetry(policy *RetryPolicy) *BaseStep[T] {
	s.retryPolicy = policy
	return s
}
