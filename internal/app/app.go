// Package app собирает общую инфраструктуру сервисов: конфигурацию, логгер, метрики,
// трассировку, шину сообщений, HTTP сервер и health checks.
// Доменные компоненты регистрируются в контейнере между шиной и HTTP сервером.
package app

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/akriventsev/shopsaga/framework/adapters/messagebus"
	"github.com/akriventsev/shopsaga/framework/container"
	"github.com/akriventsev/shopsaga/framework/core"
	"github.com/akriventsev/shopsaga/framework/logging"
	"github.com/akriventsev/shopsaga/framework/metrics"
	"github.com/akriventsev/shopsaga/framework/observability"
	"github.com/akriventsev/shopsaga/framework/transport"
	"github.com/akriventsev/shopsaga/internal/config"
)

// App общая часть процесса сервиса
type App struct {
	Config    *config.Config
	Logger    zerolog.Logger
	Metrics   *metrics.Metrics
	Bus       transport.MessageBus
	Router    *gin.Engine
	Health    *observability.Health
	Container *container.Container

	server    *http.Server
	serverErr chan error
}

// New загружает конфигурацию сервиса и собирает инфраструктуру. Ничего не запускается до Run.
func New(service, configPath string) (*App, error) {
	cfg, err := config.Load(service, configPath)
	if err != nil {
		return nil, err
	}
	return NewWithConfig(cfg)
}

// NewWithConfig собирает инфраструктуру по готовой конфигурации
func NewWithConfig(cfg *config.Config) (*App, error) {
	logger := logging.New(cfg.Log, cfg.Service)
	c := container.NewContainer(&container.Config{ShutdownTimeout: cfg.HTTP.ShutdownTimeout}, logger)

	tracing, err := observability.NewTracingManager(cfg.Tracing)
	if err != nil {
		return nil, err
	}
	if err := c.RegisterLifecycle("tracing", tracing); err != nil {
		return nil, err
	}

	var exporter *metrics.Exporter
	if cfg.Metrics.Enabled {
		if exporter, err = metrics.SetupMetrics(&cfg.Metrics, cfg.Service); err != nil {
			return nil, err
		}
		if err := c.RegisterCloser("metrics", exporter.Shutdown); err != nil {
			return nil, err
		}
	}
	m, err := metrics.NewMetrics()
	if err != nil {
		return nil, err
	}

	bus, err := messagebus.New(cfg.Broker, logger, m)
	if err != nil {
		return nil, err
	}
	if svc, ok := bus.(core.Service); ok {
		err = c.Add(svc)
	} else {
		err = c.Register("messagebus", bus.Connect, bus.Close)
	}
	if err != nil {
		return nil, err
	}

	health := observability.NewHealth(5 * time.Second)
	if hc, ok := bus.(core.HealthCheckable); ok {
		health.Register(observability.NewCheck("messagebus", hc.HealthCheck))
	}

	if cfg.Log.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(
		gin.Recovery(),
		observability.CorrelationIDMiddleware(),
		observability.HTTPTracingMiddleware(cfg.Service, "/healthz", cfg.Metrics.Path),
		logging.RequestLogger(logger),
	)
	router.GET("/healthz", health.Handler())
	if exporter != nil {
		router.GET(cfg.Metrics.Path, gin.WrapH(exporter.Handler()))
	}

	return &App{
		Config:    cfg,
		Logger:    logger,
		Metrics:   m,
		Bus:       bus,
		Router:    router,
		Health:    health,
		Container: c,
		serverErr: make(chan error, 1),
	}, nil
}

// Run регистрирует HTTP сервер последним компонентом, запускает все компоненты
// и блокируется до отмены ctx, фатальной ошибки шины или падения HTTP сервера
func (a *App) Run(ctx context.Context) error {
	a.server = &http.Server{
		Addr:         a.Config.HTTP.Addr,
		Handler:      a.Router,
		ReadTimeout:  a.Config.HTTP.ReadTimeout,
		WriteTimeout: a.Config.HTTP.WriteTimeout,
	}
	if err := a.Container.Register("http", a.startHTTP, a.server.Shutdown); err != nil {
		return err
	}

	a.Logger.Info().Str("addr", a.Config.HTTP.Addr).Strs("components", a.Container.Names()).Msg("service starting")
	err := a.Container.Run(ctx, messagebus.Fatal(a.Bus), a.serverErr)
	a.Logger.Info().Err(err).Msg("service stopped")
	return err
}

func (a *App) startHTTP(ctx context.Context) error {
	ln, err := net.Listen("tcp", a.server.Addr)
	if err != nil {
		return err
	}
	go func() {
		if err := a.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.serverErr <- err
		}
	}()
	return nil
}
