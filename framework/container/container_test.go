package container

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/akriventsev/shopsaga/framework/core"
)

type recorder struct {
	mu    sync.Mutex
	calls []string
}

func (r *recorder) hook(call string, err error) Hook {
	return func(context.Context) error {
		r.mu.Lock()
		defer r.mu.Unlock()
		r.calls = append(r.calls, call)
		return err
	}
}

func (r *recorder) list() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.calls...)
}

func TestContainer_StartStopOrder(t *testing.T) {
	rec := &recorder{}
	c := NewContainer(nil, zerolog.Nop())
	require.NoError(t, c.Register("bus", rec.hook("start bus", nil), rec.hook("stop bus", nil)))
	require.NoError(t, c.Register("consumer", rec.hook("start consumer", nil), rec.hook("stop consumer", nil)))
	require.NoError(t, c.RegisterCloser("pool", rec.hook("close pool", nil)))

	require.NoError(t, c.Start(context.Background()))
	assert.True(t, c.IsRunning())
	require.NoError(t, c.Shutdown(context.Background()))
	assert.False(t, c.IsRunning())

	assert.Equal(t, []string{
		"start bus", "start consumer",
		"close pool", "stop consumer", "stop bus",
	}, rec.list())

	// повторная остановка ничего не делает
	require.NoError(t, c.Shutdown(context.Background()))
	assert.Len(t, rec.list(), 5)
}

func TestContainer_Register_Duplicate(t *testing.T) {
	c := NewContainer(nil, zerolog.Nop())
	require.NoError(t, c.Register("bus", nil, nil))
	assert.Error(t, c.Register("bus", nil, nil))
	assert.Equal(t, []string{"bus"}, c.Names())
}

func TestContainer_FailedStartRollsBack(t *testing.T) {
	rec := &recorder{}
	boom := errors.New("boom")
	c := NewContainer(nil, zerolog.Nop())
	require.NoError(t, c.Register("a", rec.hook("start a", nil), rec.hook("stop a", nil)))
	require.NoError(t, c.Register("b", rec.hook("start b", boom), rec.hook("stop b", nil)))
	require.NoError(t, c.Register("c", rec.hook("start c", nil), rec.hook("stop c", nil)))

	err := c.Start(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	assert.True(t, core.HasCode(err, core.ErrInitializationFailed))
	assert.Equal(t, []string{"start a", "start b", "stop a"}, rec.list())
}

func TestContainer_ShutdownJoinsErrors(t *testing.T) {
	c := NewContainer(&Config{ShutdownTimeout: time.Second}, zerolog.Nop())
	stopErr := errors.New("stop failed")
	require.NoError(t, c.Register("a", nil, func(context.Context) error { return stopErr }))
	require.NoError(t, c.Register("b", nil, nil))

	require.NoError(t, c.Start(context.Background()))
	err := c.Shutdown(context.Background())
	assert.ErrorIs(t, err, stopErr)
	assert.Contains(t, err.Error(), "a: stop failed")
}

func TestContainer_RunStopsOnFatal(t *testing.T) {
	rec := &recorder{}
	c := NewContainer(nil, zerolog.Nop())
	require.NoError(t, c.Register("bus", rec.hook("start bus", nil), rec.hook("stop bus", nil)))

	fatal := make(chan error, 1)
	fatal <- errors.New("connection lost")

	err := c.Run(context.Background(), fatal, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection lost")
	assert.Equal(t, []string{"start bus", "stop bus"}, rec.list())
}

func TestContainer_RunStopsOnCancel(t *testing.T) {
	rec := &recorder{}
	c := NewContainer(nil, zerolog.Nop())
	require.NoError(t, c.Register("http", rec.hook("start http", nil), rec.hook("stop http", nil)))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()

	require.Eventually(t, c.IsRunning, time.Second, 5*time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
	assert.Equal(t, []string{"start http", "stop http"}, rec.list())
}

type fakeService struct {
	running bool
}

func (f *fakeService) Name() string { return "fake-bus" }
func (f *fakeService) Type() core.ComponentType { return core.ComponentTypeAdapter }
func (f *fakeService) Start(ctx context.Context) error { f.running = true; return nil }
func (f *fakeService) Stop(ctx context.Context) error { f.running = false; return nil }
func (f *fakeService) IsRunning() bool { return f.running }

func TestContainer_AddUsesComponentName(t *testing.T) {
	svc := &fakeService{}
	c := NewContainer(nil, zerolog.Nop())
	require.NoError(t, c.Add(svc))
	assert.Equal(t, []string{"fake-bus"}, c.Names())

	require.NoError(t, c.Start(context.Background()))
	assert.True(t, svc.IsRunning())
	require.NoError(t, c.Shutdown(context.Background()))
	assert.False(t, svc.IsRunning())
}
