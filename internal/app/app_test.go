package app

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/akriventsev/shopsaga/framework/adapters/messagebus"
	"github.com/akriventsev/shopsaga/internal/config"
)

func testConfig() *config.Config {
	cfg := config.Default("test-service")
	cfg.Broker.Driver = messagebus.DriverInMemory
	cfg.HTTP.Addr = "127.0.0.1:0"
	return cfg
}

func TestApp_RunAndShutdown(t *testing.T) {
	a, err := NewWithConfig(testConfig())
	require.NoError(t, err)

	var started atomic.Bool
	require.NoError(t, a.Container.Register("domain", func(context.Context) error {
		started.Store(true)
		return nil
	}, nil))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()

	require.Eventually(t, started.Load, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, "healthy", a.Health.Run(context.Background()).Status)
	assert.Equal(t, []string{"tracing", "metrics", "inmemory-bus", "domain", "http"}, a.Container.Names())

	rec := httptest.NewRecorder()
	a.Router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	a.Router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return")
	}
}

func TestApp_UnknownBusDriver(t *testing.T) {
	cfg := testConfig()
	cfg.Broker.Driver = "carrier-pigeon"
	_, err := NewWithConfig(cfg)
	assert.Error(t, err)
}
