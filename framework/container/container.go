// Package container управляет жизненным циклом компонентов сервиса.
//
// Компоненты запускаются в порядке регистрации и останавливаются в обратном.
// Если запуск одного из компонентов падает, уже запущенные останавливаются.
package container

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/akriventsev/shopsaga/framework/core"
)

// Config конфигурация контейнера
type Config struct {
	ShutdownTimeout time.Duration
}

// Hook функция запуска или остановки
type Hook func(ctx context.Context) error

type entry struct {
	name  string
	start Hook
	stop  Hook
}

// Container реестр компонентов с упорядоченным запуском и остановкой
type Container struct {
	config Config
	logger zerolog.Logger

	mu       sync.Mutex
	entries  []entry
	started  []entry
	running  bool
	stopOnce sync.Once
	stopErr  error
}

// NewContainer создает новый контейнер
func NewContainer(config *Config, logger zerolog.Logger) *Container {
	if config == nil {
		config = &Config{ShutdownTimeout: 30 * time.Second}
	}
	return &Container{
		config: *config,
		logger: logger.With().Str("component", "container").Logger(),
	}
}

// Register добавляет компонент с функциями запуска и остановки. Любая из них может быть nil.
func (c *Container) Register(name string, start, stop Hook) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.running {
		return fmt.Errorf("cannot register %s: container already started", name)
	}
	for _, e := range c.entries {
		if e.name == name {
			return fmt.Errorf("component %s already registered", name)
		}
	}
	c.entries = append(c.entries, entry{name: name, start: start, stop: stop})
	return nil
}

// RegisterLifecycle добавляет компонент, реализующий core.Lifecycle
func (c *Container) RegisterLifecycle(name string, l core.Lifecycle) error {
	return c.Register(name, l.Start, l.Stop)
}

// Add регистрирует компонент под его собственным именем
func (c *Container) Add(s core.Service) error {
	if err := c.RegisterLifecycle(s.Name(), s); err != nil {
		return err
	}
	c.logger.Debug().Str("name", s.Name()).Str("type", string(s.Type())).Msg("component registered")
	return nil
}

// RegisterCloser добавляет ресурс, которому нужна только остановка (пулы соединений, клиенты)
func (c *Container) RegisterCloser(name string, stop Hook) error {
	return c.Register(name, nil, stop)
}

// Start запускает компоненты по порядку регистрации
func (c *Container) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return fmt.Errorf("container already started")
	}
	c.running = true
	entries := append([]entry(nil), c.entries...)
	c.mu.Unlock()

	for _, e := range entries {
		if e.start != nil {
			if err := e.start(ctx); err != nil {
				c.logger.Error().Err(err).Str("name", e.name).Msg("component failed to start")
				if stopErr := c.Shutdown(context.WithoutCancel(ctx)); stopErr != nil {
					c.logger.Error().Err(stopErr).Msg("rollback after failed start")
				}
				return core.Wrap(err, core.ErrInitializationFailed, fmt.Sprintf("failed to start %s", e.name))
			}
		}
		c.mu.Lock()
		c.started = append(c.started, e)
		c.mu.Unlock()
		c.logger.Debug().Str("name", e.name).Msg("component started")
	}
	return nil
}

// Shutdown останавливает запущенные компоненты в обратном порядке.
// Повторный вызов возвращает результат первого.
func (c *Container) Shutdown(ctx context.Context) error {
	c.stopOnce.Do(func() {
		if c.config.ShutdownTimeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, c.config.ShutdownTimeout)
			defer cancel()
		}

		c.mu.Lock()
		started := c.started
		c.started = nil
		c.mu.Unlock()

		var errs []error
		for i := len(started) - 1; i >= 0; i-- {
			e := started[i]
			if e.stop == nil {
				continue
			}
			if err := e.stop(ctx); err != nil {
				c.logger.Error().Err(err).Str("name", e.name).Msg("component failed to stop")
				errs = append(errs, fmt.Errorf("%s: %w", e.name, err))
				continue
			}
			c.logger.Debug().Str("name", e.name).Msg("component stopped")
		}

		c.mu.Lock()
		c.running = false
		c.mu.Unlock()
		c.stopErr = errors.Join(errs...)
	})
	return c.stopErr
}

// Run запускает компоненты и ждет отмены ctx или ошибки из fatal, затем останавливает их
func (c *Container) Run(ctx context.Context, fatal ...<-chan error) error {
	if err := c.Start(ctx); err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, ch := range fatal {
		ch := ch
		if ch == nil {
			continue
		}
		g.Go(func() error {
			select {
			case err := <-ch:
				return err
			case <-gctx.Done():
				return nil
			}
		})
	}
	<-gctx.Done()

	runErr := g.Wait()
	if runErr != nil {
		c.logger.Error().Err(runErr).Msg("fatal component error, shutting down")
	} else {
		c.logger.Info().Msg("shutdown requested")
	}

	stopErr := c.Shutdown(context.WithoutCancel(ctx))
	return errors.Join(runErr, stopErr)
}

// IsRunning проверяет, запущен ли контейнер
func (c *Container) IsRunning() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.running
}

// Names возвращает имена зарегистрированных компонентов в порядке запуска
func (c *Container) Names() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	names := make([]string, len(c.entries))
	for i, e := range c.entries {
		names[i] = e.name
	}
	return names
}
