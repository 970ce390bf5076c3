package saga

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type trace struct {
	calls []string
}

func (t *trace) add(s string) { t.calls = append(t.calls, s) }

// undoStep шаг с откатом поверх BaseStep
type undoStep struct {
	*BaseStep[*trace]
	undo func(ctx context.Context, tr *trace) error
}

func (s undoStep) Compensate(ctx context.Context, tr *trace) error { return s.undo(ctx, tr) }

func recordingStep(name string, fail error) undoStep {
	return undoStep{
		BaseStep: NewStep[*trace](name).WithExecute(func(ctx context.Context, tr *trace) error {
			tr.add("exec:" + name)
			return fail
		}),
		undo: func(ctx context.Context, tr *trace) error {
			tr.add("comp:" + name)
			return nil
		},
	}
}

func TestDefinition_AllStepsComplete(t *testing.T) {
	def := NewDefinition[*trace]("checkout").
		AddStep(recordingStep("a", nil)).
		AddStep(recordingStep("b", nil))

	tr := &trace{}
	exec, err := def.Execute(context.Background(), "saga-1", tr)
	require.NoError(t, err)

	assert.Equal(t, SagaStatusCompleted, exec.Status)
	assert.Equal(t, []string{"exec:a", "exec:b"}, tr.calls)
	require.Len(t, exec.History, 2)
	assert.Equal(t, StepStatusCompleted, exec.History[1].Status)
	assert.Equal(t, "saga-1", exec.SagaID)
}

func TestDefinition_CompensatesInReverseOrder(t *testing.T) {
	boom := errors.New("boom")
	var hookFailure *StepError

	def := NewDefinition[*trace]("checkout").
		AddStep(recordingStep("a", nil)).
		AddStep(recordingStep("b", nil)).
		AddStep(recordingStep("c", boom)).
		AddStep(recordingStep("d", nil)).
		OnFailure(func(ctx context.Context, tr *trace, failure *StepError) error {
			tr.add("hook")
			hookFailure = failure
			return nil
		})

	tr := &trace{}
	exec, err := def.Execute(context.Background(), "saga-2", tr)
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, "c", FailedStep(err))

	assert.Equal(t, []string{"exec:a", "exec:b", "exec:c", "comp:b", "comp:a", "hook"}, tr.calls)
	assert.Equal(t, SagaStatusCompensated, exec.Status)
	require.NotNil(t, hookFailure)
	assert.Equal(t, "c", hookFailure.Step)

	statuses := make([]StepStatus, 0, len(exec.History))
	for _, h := range exec.History {
		statuses = append(statuses, h.Status)
	}
	assert.Equal(t, []StepStatus{StepStatusCompleted, StepStatusCompleted, StepStatusFailed, StepStatusCompensated, StepStatusCompensated}, statuses)
}

func TestDefinition_GuardRejects(t *testing.T) {
	def := NewDefinition[*trace]("checkout").
		AddStep(recordingStep("a", nil).WithGuard(func(ctx context.Context, tr *trace) bool { return false }))

	tr := &trace{}
	_, err := def.Execute(context.Background(), "saga-3", tr)
	require.ErrorIs(t, err, ErrGuardRejected)
	assert.Equal(t, "a", FailedStep(err))
	assert.Empty(t, tr.calls)
}

func TestDefinition_CompensationFailureMarksSagaFailed(t *testing.T) {
	step := recordingStep("a", nil)
	step.undo = func(ctx context.Context, tr *trace) error {
		return errors.New("cannot undo")
	}
	def := NewDefinition[*trace]("checkout").
		AddStep(step).
		AddStep(recordingStep("b", errors.New("boom")))

	exec, err := def.Execute(context.Background(), "saga-4", &trace{})
	require.Error(t, err)
	assert.Equal(t, SagaStatusFailed, exec.Status)
}

func TestDefinition_StepTimeout(t *testing.T) {
	slow := NewStep[*trace]("slow").
		WithTimeout(20 * time.Millisecond).
		WithExecute(func(ctx context.Context, tr *trace) error {
			<-ctx.Done()
			return ctx.Err()
		})

	_, err := NewDefinition[*trace]("checkout").AddStep(slow).Execute(context.Background(), "saga-5", &trace{})
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestDefinition_RetryPolicy(t *testing.T) {
	attempts := 0
	flaky := NewStep[*trace]("flaky").
		WithRetry(ExponentialBackoff(3, time.Millisecond, 2)).
		WithExecute(func(ctx context.Context, tr *trace) error {
			attempts++
			if attempts < 3 {
				return errors.New("transient")
			}
			return nil
		})

	exec, err := NewDefinition[*trace]("checkout").AddStep(flaky).Execute(context.Background(), "saga-6", &trace{})
	require.NoError(t, err)
	assert.Equal(t, 3, attempts)
	assert.Equal(t, 2, exec.History[0].RetryAttempt)
}

func TestRetryPolicy(t *testing.T) {
	permanent := errors.New("permanent")
	transient := errors.New("transient")
	p := &RetryPolicy{MaxAttempts: 3, InitialDelay: 10 * time.Millisecond, Backoff: 2, RetryableErrors: []error{transient}}

	assert.True(t, p.ShouldRetry(transient, 0))
	assert.True(t, p.ShouldRetry(transient, 1))
	assert.False(t, p.ShouldRetry(transient, 2))
	assert.False(t, p.ShouldRetry(permanent, 0))

	assert.Equal(t, 10*time.Millisecond, p.CalculateDelay(0))
	assert.Equal(t, 40*time.Millisecond, p.CalculateDelay(2))
	assert.False(t, NoRetry().ShouldRetry(transient, 0))
}

func TestBaseStep_WithoutExecute(t *testing.T) {
	step := NewStep[*trace]("empty")
	assert.Error(t, step.Execute(context.Background(), &trace{}))
	assert.NoError(t, step.Compensate(context.Background(), &trace{}))
	assert.True(t, step.CanExecute(context.Background(), &trace{}))
}
