package order

import (
	"context"
	"time"

	"github.com/akriventsev/shopsaga/internal/contracts"
	"github.com/akriventsev/shopsaga/internal/domain"
)

// DetailsResponder отвечает на order.details.request авторитетными данными заказа
type DetailsResponder struct {
	repo Repository
}

func NewDetailsResponder(repo Repository) *DetailsResponder {
	return &DetailsResponder{repo: repo}
}

func (r *DetailsResponder) Details(ctx context.Context, q contracts.OrderDetailsQuery) (contracts.OrderDetails, error) {
	ord, err := r.repo.Get(ctx, q.OrderID)
	if err != nil {
		return contracts.OrderDetails{}, err
	}
	return contracts.OrderDetails{
		OrderID:     ord.ID,
		UserID:      ord.UserID,
		Status:      string(ord.Status()),
		Items:       contractItems(ord.Items),
		TotalAmount: ord.TotalAmount,
		Currency:    ord.Currency,
	}, nil
}

// OrderEvent тело событий жизненного цикла заказа
func OrderEvent(ord *domain.Order, step, reason string, at time.Time) contracts.OrderEvent {
	return contracts.OrderEvent{
		OrderID:     ord.ID,
		UserID:      ord.UserID,
		Status:      string(ord.Status()),
		Items:       contractItems(ord.Items),
		TotalAmount: ord.TotalAmount,
		Currency:    ord.Currency,
		Step:        step,
		Reason:      reason,
		OccurredAt:  at,
	}
}

func contractItems(items []domain.OrderItem) []contracts.OrderItem {
	out := make([]contracts.OrderItem, 0, len(items))
	for _, it := range items {
		out = append(out, contracts.OrderItem{
			ProductID: it.ProductID,
			SellerID:  it.SellerID,
			Quantity:  it.Quantity,
			Price:     it.Price,
		})
	}
	return out
}
