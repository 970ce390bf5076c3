package product

import (
	"context"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/akriventsev/shopsaga/internal/contracts"
	"github.com/akriventsev/shopsaga/internal/domain"
)

func seed(t *testing.T, repo *MemoryRepository, stock int) *domain.Product {
	t.Helper()
	p := &domain.Product{
		ID:       uuid.NewString(),
		Name:     "Keyboard",
		SellerID: "seller-1",
		Price:    decimal.RequireFromString("49.90"),
		Stock:    stock,
	}
	require.NoError(t, repo.Create(context.Background(), p))
	return p
}

func TestStockValidator_InsufficientStock(t *testing.T) {
	repo := NewMemoryRepository()
	p := seed(t, repo, 5)
	v := NewStockValidator(repo, zerolog.Nop())

	reply, err := v.Validate(context.Background(), contracts.ValidationRequest{
		Products: []contracts.ValidationItem{{ProductID: p.ID, Quantity: 7}},
	})
	require.NoError(t, err)
	assert.False(t, reply.IsValid)
	require.Len(t, reply.Items, 1)

	item := reply.Items[0]
	assert.True(t, item.IsValid)
	assert.False(t, item.HasStock)
	assert.Equal(t, 5, item.CurrentStock)
	assert.Equal(t, "Insufficient stock: requested 7, available 5", item.Error)
	require.NotNil(t, item.ProductDetails)
	assert.True(t, item.ProductDetails.Price.Equal(p.Price))

	stored, err := repo.Get(context.Background(), p.ID)
	require.NoError(t, err)
	assert.Equal(t, 5, stored.Stock, "validation must not reserve stock")
}

func TestStockValidator_Items(t *testing.T) {
	repo := NewMemoryRepository()
	p := seed(t, repo, 10)
	v := NewStockValidator(repo, zerolog.Nop())

	tests := []struct {
		name     string
		item     contracts.ValidationItem
		valid    bool
		hasStock bool
		errText  string
	}{
		{"enough stock", contracts.ValidationItem{ProductID: p.ID, Quantity: 10}, true, true, ""},
		{"unknown product", contracts.ValidationItem{ProductID: uuid.NewString(), Quantity: 1}, false, false, "Product not found"},
		{"malformed id", contracts.ValidationItem{ProductID: "not-a-uuid", Quantity: 1}, false, false, "Invalid product ID"},
		{"zero quantity", contracts.ValidationItem{ProductID: p.ID, Quantity: 0}, false, false, "Invalid quantity: 0"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reply, err := v.Validate(context.Background(), contracts.ValidationRequest{
				Products: []contracts.ValidationItem{tt.item},
			})
			require.NoError(t, err)
			require.Len(t, reply.Items, 1)
			assert.Equal(t, tt.valid, reply.Items[0].IsValid)
			assert.Equal(t, tt.hasStock, reply.Items[0].HasStock)
			assert.Equal(t, tt.errText, reply.Items[0].Error)
			assert.Equal(t, tt.valid && tt.hasStock, reply.IsValid)
		})
	}
}

func TestStockValidator_RepeatedProductSumsQuantities(t *testing.T) {
	repo := NewMemoryRepository()
	p := seed(t, repo, 5)
	v := NewStockValidator(repo, zerolog.Nop())

	reply, err := v.Validate(context.Background(), contracts.ValidationRequest{
		Products: []contracts.ValidationItem{{ProductID: p.ID, Quantity: 3}, {ProductID: p.ID, Quantity: 3}},
	})
	require.NoError(t, err)
	assert.False(t, reply.IsValid)
	require.Len(t, reply.Items, 2)
	for _, item := range reply.Items {
		assert.False(t, item.HasStock)
		assert.Equal(t, "Insufficient stock: requested 6, available 5", item.Error)
	}
}

func TestStockValidator_EmptyRequest(t *testing.T) {
	v := NewStockValidator(NewMemoryRepository(), zerolog.Nop())
	reply, err := v.Validate(context.Background(), contracts.ValidationRequest{})
	require.NoError(t, err)
	assert.False(t, reply.IsValid)
}

func TestMemoryRepository_DecrementClamps(t *testing.T) {
	repo := NewMemoryRepository()
	p := seed(t, repo, 3)

	res, err := repo.DecrementStock(context.Background(), "order-1", p.ID, 5)
	require.NoError(t, err)
	assert.Equal(t, 3, res.Applied)
	assert.Equal(t, 0, res.Remaining)
	assert.Equal(t, 2, res.Shortfall())
}

func TestMemoryRepository_DecrementIsIdempotentPerOrder(t *testing.T) {
	repo := NewMemoryRepository()
	p := seed(t, repo, 10)
	ctx := context.Background()

	first, err := repo.DecrementStock(ctx, "order-1", p.ID, 4)
	require.NoError(t, err)
	assert.False(t, first.AlreadyApplied)

	again, err := repo.DecrementStock(ctx, "order-1", p.ID, 4)
	require.NoError(t, err)
	assert.True(t, again.AlreadyApplied)
	assert.Equal(t, 6, again.Remaining)

	other, err := repo.DecrementStock(ctx, "order-2", p.ID, 4)
	require.NoError(t, err)
	assert.Equal(t, 2, other.Remaining)
}

func TestMemoryRepository_ConcurrentDecrementsNeverGoNegative(t *testing.T) {
	repo := NewMemoryRepository()
	p := seed(t, repo, 25)

	const orders = 40
	results := make([]domain.StockDecrement, orders)
	var wg sync.WaitGroup
	for i := 0; i < orders; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := repo.DecrementStock(context.Background(), uuid.NewString(), p.ID, 2)
			assert.NoError(t, err)
			results[i] = res
		}(i)
	}
	wg.Wait()

	total := 0
	for _, r := range results {
		assert.GreaterOrEqual(t, r.Remaining, 0)
		total += r.Applied
	}
	assert.Equal(t, 25, total)

	stored, err := repo.Get(context.Background(), p.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, stored.Stock)
}

func TestMemoryRepository_UnknownProduct(t *testing.T) {
	repo := NewMemoryRepository()
	_, err := repo.DecrementStock(context.Background(), "order-1", "missing", 1)
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = repo.Get(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}
