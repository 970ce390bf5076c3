// Package payment реализует payment-service: создание платежей для саги, прямой HTTP вызов
// и подтверждение оплаты через webhook провайдера.
package payment

import (
	"context"
	"errors"

	"github.com/akriventsev/shopsaga/internal/domain"
)

var (
	ErrNotFound = errors.New("payment not found")
	// ErrAlreadyExists для заказа уже создан платеж
	ErrAlreadyExists = errors.New("payment for order already exists")
)

// Repository хранилище платежей; на заказ приходится не более одного платежа
type Repository interface {
	Create(ctx context.Context, p *domain.Payment) error
	Get(ctx context.Context, id string) (*domain.Payment, error)
	FindByOrderID(ctx context.Context, orderID string) (*domain.Payment, error)
	FindByProviderID(ctx context.Context, providerPaymentID string) (*domain.Payment, error)
	Update(ctx context.Context, p *domain.Payment) error
}
