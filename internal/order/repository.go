// Package order реализует order-service: прием заказов, сагу оформления и обработку результатов оплаты.
package order

import (
	"context"
	"errors"

	"github.com/akriventsev/shopsaga/internal/domain"
)

// Ошибки репозитория заказов
var (
	ErrNotFound                = errors.New("order not found")
	ErrDuplicateIdempotencyKey = errors.New("duplicate idempotency key")
	ErrConcurrentUpdate        = errors.New("order was modified concurrently")
)

// Repository хранилище заказов.
// Create обеспечивает уникальность IdempotencyKey; Update сохраняет заказ, только если
// хранимая версия совпадает с o.Version, и увеличивает версию.
type Repository interface {
	Create(ctx context.Context, o *domain.Order) error
	Get(ctx context.Context, id string) (*domain.Order, error)
	FindByIdempotencyKey(ctx context.Context, key string) (*domain.Order, error)
	Update(ctx context.Context, o *domain.Order) error
}
