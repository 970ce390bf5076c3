// Package product реализует product-service: каталог, проверку наличия для саги и списание остатков.
package product

import (
	"context"
	"errors"

	"github.com/akriventsev/shopsaga/internal/domain"
)

// Ошибки репозитория товаров
var (
	ErrNotFound      = errors.New("product not found")
	ErrAlreadyExists = errors.New("product already exists")
)

// Repository хранилище товаров
type Repository interface {
	Create(ctx context.Context, p *domain.Product) error
	Get(ctx context.Context, id string) (*domain.Product, error)
	// DecrementStock атомарно уменьшает остаток на qty, не опускаясь ниже нуля.
	// Повторный вызов с той же парой (orderID, productID) ничего не списывает
	// и возвращает результат первого вызова с AlreadyApplied.
	DecrementStock(ctx context.Context, orderID, productID string, qty int) (domain.StockDecrement, error)
}
