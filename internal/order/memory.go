package order

import (
	"context"
	"fmt"
	"sync"

	"github.com/akriventsev/shopsaga/internal/domain"
)

// MemoryRepository Repository в памяти. Хранит копии, чтобы вызывающий код
// не мог изменить сохраненный заказ в обход Update.
type MemoryRepository struct {
	mu     sync.RWMutex
	orders map[string]*domain.Order
	keys   map[string]string
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		orders: make(map[string]*domain.Order),
		keys:   make(map[string]string),
	}
}

func (r *MemoryRepository) Create(ctx context.Context, o *domain.Order) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.orders[o.ID]; exists {
		return fmt.Errorf("order %s already exists", o.ID)
	}
	if o.IdempotencyKey != "" {
		if _, taken := r.keys[o.IdempotencyKey]; taken {
			return fmt.Errorf("%w: %s", ErrDuplicateIdempotencyKey, o.IdempotencyKey)
		}
		r.keys[o.IdempotencyKey] = o.ID
	}
	o.Version = 1
	r.orders[o.ID] = o.Clone()
	return nil
}

func (r *MemoryRepository) Get(ctx context.Context, id string) (*domain.Order, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	o, ok := r.orders[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return o.Clone(), nil
}

func (r *MemoryRepository) FindByIdempotencyKey(ctx context.Context, key string) (*domain.Order, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.keys[key]
	if !ok {
		return nil, fmt.Errorf("%w: idempotency key %s", ErrNotFound, key)
	}
	return r.orders[id].Clone(), nil
}

func (r *MemoryRepository) Update(ctx context.Context, o *domain.Order) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored, ok := r.orders[o.ID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, o.ID)
	}
	if stored.Version != o.Version {
		return fmt.Errorf("%w: %s has version %d, got %d", ErrConcurrentUpdate, o.ID, stored.Version, o.Version)
	}
	o.Version++
	r.orders[o.ID] = o.Clone()
	return nil
}
