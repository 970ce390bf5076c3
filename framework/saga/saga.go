// Package saga предоставляет оркестрацию последовательных шагов с компенсацией в обратном порядке.
package saga

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/akriventsev/shopsaga/framework/metrics"
)

// ErrGuardRejected шаг отклонен guard функцией
var ErrGuardRejected = errors.New("guard check failed")

// SagaStatus статус выполнения саги
type SagaStatus string

const (
	SagaStatusRunning     SagaStatus = "running"
	SagaStatusCompleted   SagaStatus = "completed"
	SagaStatusCompensated SagaStatus = "compensated"
	SagaStatusFailed      SagaStatus = "failed"
)

// StepStatus статус выполнения шага
type StepStatus string

const (
	StepStatusRunning      StepStatus = "running"
	StepStatusCompleted    StepStatus = "completed"
	StepStatusFailed       StepStatus = "failed"
	StepStatusCompensating StepStatus = "compensating"
	StepStatusCompensated  StepStatus = "compensated"
)

// SagaHistory запись истории выполнения шага
type SagaHistory struct {
	StepName     string
	Status       StepStatus
	StartedAt    time.Time
	CompletedAt  *time.Time
	Error        error
	RetryAttempt int
}

// StepError ошибка шага, на котором остановилась сага
type StepError struct {
	Step string
	Err  error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("step %s failed: %v", e.Step, e.Err)
}

func (e *StepError) Unwrap() error {
	return e.Err
}

// FailedStep возвращает имя шага из цепочки ошибок или пустую строку
func FailedStep(err error) string {
	var se *StepError
	if errors.As(err, &se) {
		return se.Step
	}
	return ""
}

// FailureHook вызывается после компенсации упавшей саги
type FailureHook[T any] func(ctx context.Context, state T, failure *StepError) error

// Execution результат одного запуска саги
type Execution struct {
	SagaID      string
	Name        string
	Status      SagaStatus
	History     []SagaHistory
	StartedAt   time.Time
	CompletedAt time.Time
}

// Definition упорядоченный набор шагов. После настройки только читается
// и может выполняться конкурентно для разных состояний.
type Definition[T any] struct {
	name      string
	steps     []Step[T]
	onFailure FailureHook[T]
	logger    zerolog.Logger
	metrics   *metrics.Metrics
}

// NewDefinition создает определение саги
func NewDefinition[T any](name string) *Definition[T] {
	return &Definition[T]{name: name, logger: zerolog.Nop()}
}

// Name возвращает имя саги
func (d *Definition[T]) Name() string {
	return d.name
}

// Steps возвращает копию списка шагов
func (d *Definition[T]) Steps() []Step[T] {
	out := make([]Step[T], len(d.steps))
	copy(out, d.steps)
	return out
}

// AddStep добавляет шаг в конец
func (d *Definition[T]) AddStep(step Step[T]) *Definition[T] {
	d.steps = append(d.steps, step)
	return d
}

// OnFailure устанавливает hook, вызываемый после компенсации
func (d *Definition[T]) OnFailure(hook FailureHook[T]) *Definition[T] {
	d.onFailure = hook
	return d
}

// WithLogger устанавливает логгер
func (d *Definition[T]) WithLogger(logger zerolog.Logger) *Definition[T] {
	d.logger = logger
	return d
}

// WithMetrics устанавливает метрики
func (d *Definition[T]) WithMetrics(m *metrics.Metrics) *Definition[T] {
	d.metrics = m
	return d
}

// Execute выполняет шаги по порядку. При ошибке шага выполненные шаги
// компенсируются в обратном порядке, затем вызывается OnFailure.
// Возвращаемая ошибка всегда содержит *StepError.
func (d *Definition[T]) Execute(ctx context.Context, sagaID string, state T) (*Execution, error) {
	tracer := otel.Tracer("shopsaga/saga")
	ctx, span := tracer.Start(ctx, "saga."+d.name)
	span.SetAttributes(attribute.String("saga.id", sagaID))
	defer span.End()

	exec := &Execution{
		SagaID:    sagaID,
		Name:      d.name,
		Status:    SagaStatusRunning,
		StartedAt: time.Now(),
	}
	log := d.logger.With().Str("saga", d.name).Str("saga_id", sagaID).Logger()

	for i, step := range d.steps {
		entry := SagaHistory{StepName: step.Name(), Status: StepStatusRunning, StartedAt: time.Now()}
		d.metrics.RecordStep(ctx, d.name, step.Name(), string(StepStatusRunning))

		var err error
		if !step.CanExecute(ctx, state) {
			err = ErrGuardRejected
		} else {
			entry.RetryAttempt, err = d.runStep(ctx, step, state)
		}

		finished := time.Now()
		entry.CompletedAt = &finished
		if err == nil {
			entry.Status = StepStatusCompleted
			exec.History = append(exec.History, entry)
			d.metrics.RecordStep(ctx, d.name, step.Name(), string(StepStatusCompleted))
			log.Debug().Str("step", step.Name()).Dur("duration", finished.Sub(entry.StartedAt)).Msg("saga step completed")
			continue
		}

		entry.Status = StepStatusFailed
		entry.Error = err
		exec.History = append(exec.History, entry)
		d.metrics.RecordStep(ctx, d.name, step.Name(), string(StepStatusFailed))
		log.Warn().Err(err).Str("step", step.Name()).Msg("saga step failed, compensating")

		failure := &StepError{Step: step.Name(), Err: err}
		span.RecordError(failure)
		span.SetStatus(codes.Error, failure.Error())

		exec.Status = SagaStatusCompensated
		if cerr := d.compensate(ctx, exec, state, i-1, log); cerr != nil {
			exec.Status = SagaStatusFailed
		}
		if d.onFailure != nil {
			if herr := d.onFailure(ctx, state, failure); herr != nil {
				log.Error().Err(herr).Str("step", step.Name()).Msg("saga failure hook failed")
				exec.Status = SagaStatusFailed
			}
		}
		exec.CompletedAt = time.Now()
		return exec, failure
	}

	exec.Status = SagaStatusCompleted
	exec.CompletedAt = time.Now()
	return exec, nil
}

// runStep выполняет шаг с учетом timeout и retry policy, возвращает номер последней попытки
func (d *Definition[T]) runStep(ctx context.Context, step Step[T], state T) (int, error) {
	policy := step.RetryPolicy()
	if policy == nil {
		policy = NoRetry()
	}

	ctx, span := otel.Tracer("shopsaga/saga").Start(ctx, "saga.step."+step.Name())
	defer span.End()

	var err error
	for attempt := 0; ; attempt++ {
		stepCtx := ctx
		cancel := context.CancelFunc(func() {})
		if timeout := step.Timeout(); timeout > 0 {
			stepCtx, cancel = context.WithTimeout(ctx, timeout)
		}
		err = step.Execute(stepCtx, state)
		cancel()

		if err == nil || !policy.ShouldRetry(err, attempt) {
			if err != nil {
				span.RecordError(err)
				span.SetStatus(codes.Error, err.Error())
			}
			return attempt, err
		}

		select {
		case <-time.After(policy.CalculateDelay(attempt)):
		case <-ctx.Done():
			return attempt, ctx.Err()
		}
	}
}

// compensate откатывает выполненные шаги с lastIndex до нулевого.
// Ошибка компенсации не останавливает откат остальных шагов.
func (d *Definition[T]) compensate(ctx context.Context, exec *Execution, state T, lastIndex int, log zerolog.Logger) error {
	var errs []error
	for i := lastIndex; i >= 0; i-- {
		step := d.steps[i]
		entry := SagaHistory{StepName: step.Name(), Status: StepStatusCompensating, StartedAt: time.Now()}

		err := step.Compensate(ctx, state)
		finished := time.Now()
		entry.CompletedAt = &finished
		if err != nil {
			entry.Status = StepStatusFailed
			entry.Error = err
			errs = append(errs, fmt.Errorf("compensate %s: %w", step.Name(), err))
			log.Error().Err(err).Str("step", step.Name()).Msg("saga compensation failed")
		} else {
			entry.Status = StepStatusCompensated
		}
		exec.History = append(exec.History, entry)
		d.metrics.RecordStep(ctx, d.name, step.Name(), string(entry.Status))
	}
	return errors.Join(errs...)
}
