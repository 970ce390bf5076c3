package product

import (
	"context"

	"github.com/akriventsev/shopsaga/internal/contracts"
)

// DetailsResponder отвечает на product.details.request
type DetailsResponder struct {
	repo Repository
}

func NewDetailsResponder(repo Repository) *DetailsResponder {
	return &DetailsResponder{repo: repo}
}

func (r *DetailsResponder) Details(ctx context.Context, q contracts.ProductDetailsQuery) (contracts.ProductDetails, error) {
	p, err := r.repo.Get(ctx, q.ProductID)
	if err != nil {
		return contracts.ProductDetails{}, err
	}
	return toDetails(p), nil
}
