// Package testing предоставляет утилиты для тестов сервисов: готовую in-memory шину и
// контейнеры внешних зависимостей для интеграционных тестов.
package testing

import (
	"context"
	"testing"

	"github.com/rs/zerolog"

	"github.com/akriventsev/shopsaga/framework/adapters/messagebus"
	"github.com/akriventsev/shopsaga/framework/invoke"
)

// NewInMemoryBus создает подключенную in-memory шину, закрываемую по завершении теста
func NewInMemoryBus(t testing.TB) *messagebus.InMemoryBus {
	t.Helper()
	bus := messagebus.NewInMemoryBus(messagebus.DefaultInMemoryConfig(), zerolog.Nop(), nil)
	if err := bus.Connect(context.Background()); err != nil {
		t.Fatalf("failed to connect in-memory bus: %v", err)
	}
	t.Cleanup(func() { _ = bus.Close(context.Background()) })
	return bus
}

// NewRequester создает requester без задержки удаления reply-очередей
func NewRequester(bus *messagebus.InMemoryBus) *invoke.Requester {
	return invoke.NewRequester(bus, zerolog.Nop(), invoke.WithCleanupDelay(0))
}
