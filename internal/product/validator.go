package product

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/akriventsev/shopsaga/internal/contracts"
)

// StockValidator отвечает на product.validation.request. Остатки только читаются.
type StockValidator struct {
	repo   Repository
	logger zerolog.Logger
}

// NewStockValidator создает validator
func NewStockValidator(repo Repository, logger zerolog.Logger) *StockValidator {
	return &StockValidator{repo: repo, logger: logger.With().Str("component", "stock-validator").Logger()}
}

// Validate проверяет каждую позицию. Остаток сравнивается с суммой всех позиций того же товара.
func (v *StockValidator) Validate(ctx context.Context, req contracts.ValidationRequest) (contracts.ValidationReply, error) {
	requested := make(map[string]int, len(req.Products))
	for _, it := range req.Products {
		if it.Quantity > 0 {
			requested[it.ProductID] += it.Quantity
		}
	}

	items := make([]contracts.ItemValidation, 0, len(req.Products))
	for _, it := range req.Products {
		res, err := v.validateItem(ctx, it, requested[it.ProductID])
		if err != nil {
			return contracts.ValidationReply{}, err
		}
		items = append(items, res)
	}

	reply := contracts.NewValidationReply(items)
	v.logger.Debug().Int("items", len(items)).Bool("valid", reply.IsValid).Msg("validation request processed")
	return reply, nil
}

func (v *StockValidator) validateItem(ctx context.Context, it contracts.ValidationItem, total int) (contracts.ItemValidation, error) {
	res := contracts.ItemValidation{ProductID: it.ProductID}

	if _, err := uuid.Parse(it.ProductID); err != nil {
		res.Error = "Invalid product ID"
		return res, nil
	}
	if it.Quantity <= 0 {
		res.Error = fmt.Sprintf("Invalid quantity: %d", it.Quantity)
		return res, nil
	}

	p, err := v.repo.Get(ctx, it.ProductID)
	if errors.Is(err, ErrNotFound) {
		res.Error = "Product not found"
		return res, nil
	}
	if err != nil {
		return res, fmt.Errorf("failed to load product %s: %w", it.ProductID, err)
	}

	res.IsValid = true
	res.CurrentStock = p.Stock
	res.HasStock = p.Stock >= total
	res.ProductDetails = &contracts.ProductSnapshot{Name: p.Name, Price: p.Price, SellerID: p.SellerID}
	if !res.HasStock {
		res.Error = fmt.Sprintf("Insufficient stock: requested %d, available %d", total, p.Stock)
	}
	return res, nil
}
