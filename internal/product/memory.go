package product

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/akriventsev/shopsaga/internal/domain"
)

type ledgerKey struct {
	orderID   string
	productID string
}

// MemoryRepository Repository в памяти; все операции под одной блокировкой
type MemoryRepository struct {
	mu       sync.Mutex
	products map[string]domain.Product
	ledger   map[ledgerKey]domain.StockDecrement
	now      func() time.Time
}

// NewMemoryRepository создает пустое хранилище
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		products: make(map[string]domain.Product),
		ledger:   make(map[ledgerKey]domain.StockDecrement),
		now:      time.Now,
	}
}

func (r *MemoryRepository) Create(ctx context.Context, p *domain.Product) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.products[p.ID]; exists {
		return fmt.Errorf("%w: %s", ErrAlreadyExists, p.ID)
	}
	r.products[p.ID] = *p
	return nil
}

func (r *MemoryRepository) Get(ctx context.Context, id string) (*domain.Product, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.products[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return &p, nil
}

func (r *MemoryRepository) DecrementStock(ctx context.Context, orderID, productID string, qty int) (domain.StockDecrement, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.products[productID]
	if !ok {
		return domain.StockDecrement{}, fmt.Errorf("%w: %s", ErrNotFound, productID)
	}

	key := ledgerKey{orderID: orderID, productID: productID}
	if prev, done := r.ledger[key]; done {
		prev.AlreadyApplied = true
		prev.Remaining = p.Stock
		return prev, nil
	}

	applied := min(qty, p.Stock)
	p.Stock -= applied
	p.UpdatedAt = r.now()
	r.products[productID] = p

	res := domain.StockDecrement{ProductID: productID, Requested: qty, Applied: applied, Remaining: p.Stock}
	r.ledger[key] = res
	return res, nil
}
