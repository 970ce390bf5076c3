package core

import "context"

// ComponentType категория компонента, попадает в логи запуска
type ComponentType string

const (
	ComponentTypeAdapter ComponentType = "adapter"
	ComponentTypeService ComponentType = "service"
)

// Component именованный компонент процесса
type Component interface {
	Name() string
	Type() ComponentType
}

// Lifecycle компонент с явным запуском и остановкой
type Lifecycle interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	IsRunning() bool
}

// Service компонент, которым целиком управляет контейнер
type Service interface {
	Component
	Lifecycle
}

// HealthCheckable компонент, участвующий в /healthz
type HealthCheckable interface {
	HealthCheck(ctx context.Context) error
}
