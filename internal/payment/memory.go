package payment

import (
	"context"
	"fmt"
	"sync"

	"github.com/akriventsev/shopsaga/internal/domain"
)

// MemoryRepository Repository в памяти
type MemoryRepository struct {
	mu       sync.RWMutex
	payments map[string]*domain.Payment
	byOrder  map[string]string
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		payments: make(map[string]*domain.Payment),
		byOrder:  make(map[string]string),
	}
}

func (r *MemoryRepository) Create(ctx context.Context, p *domain.Payment) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.byOrder[p.OrderID]; exists {
		return fmt.Errorf("%w: %s", ErrAlreadyExists, p.OrderID)
	}
	r.payments[p.ID] = p.Clone()
	r.byOrder[p.OrderID] = p.ID
	return nil
}

func (r *MemoryRepository) Get(ctx context.Context, id string) (*domain.Payment, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.payments[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return p.Clone(), nil
}

func (r *MemoryRepository) FindByOrderID(ctx context.Context, orderID string) (*domain.Payment, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.byOrder[orderID]
	if !ok {
		return nil, fmt.Errorf("%w: order %s", ErrNotFound, orderID)
	}
	return r.payments[id].Clone(), nil
}

func (r *MemoryRepository) FindByProviderID(ctx context.Context, providerPaymentID string) (*domain.Payment, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, p := range r.payments {
		if p.ProviderPaymentID != "" && p.ProviderPaymentID == providerPaymentID {
			return p.Clone(), nil
		}
	}
	return nil, fmt.Errorf("%w: provider payment %s", ErrNotFound, providerPaymentID)
}

func (r *MemoryRepository) Update(ctx context.Context, p *domain.Payment) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.payments[p.ID]; !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, p.ID)
	}
	r.payments[p.ID] = p.Clone()
	return nil
}
