package product

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/akriventsev/shopsaga/framework/invoke"
	"github.com/akriventsev/shopsaga/framework/transport"
	"github.com/akriventsev/shopsaga/internal/contracts"
	"github.com/akriventsev/shopsaga/internal/domain"
)

// CreateProductCommand данные нового товара
type CreateProductCommand struct {
	Name     string          `json:"name" binding:"required"`
	SellerID string          `json:"sellerId" binding:"required"`
	Price    decimal.Decimal `json:"price"`
	Stock    int             `json:"stock"`
}

// Service каталог товаров и обработчики сообщений product-service
type Service struct {
	repo      Repository
	bus       transport.MessageBus
	validator *StockValidator
	details   *DetailsResponder
	reducer   *StockReducer
	logger    zerolog.Logger
	now       func() time.Time
}

// NewService создает сервис
func NewService(repo Repository, bus transport.MessageBus, reducer *StockReducer, logger zerolog.Logger) *Service {
	return &Service{
		repo:      repo,
		bus:       bus,
		validator: NewStockValidator(repo, logger),
		details:   NewDetailsResponder(repo),
		reducer:   reducer,
		logger:    logger,
		now:       time.Now,
	}
}

// Start подписывает responders и обработчик order.completed
func (s *Service) Start(ctx context.Context) error {
	if err := invoke.Respond(ctx, s.bus, s.logger, contracts.ProductExchange,
		contracts.QueueProductValidation, contracts.ProductValidationRequest, s.validator.Validate); err != nil {
		return err
	}
	if err := invoke.Respond(ctx, s.bus, s.logger, contracts.ProductExchange,
		contracts.QueueProductDetails, contracts.ProductDetailsRequest, s.details.Details); err != nil {
		return err
	}
	if err := s.bus.Subscribe(ctx, contracts.OrderExchange, contracts.QueueProductOrderDone,
		contracts.OrderCompleted, s.reducer.Handle); err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", contracts.OrderCompleted, err)
	}
	return nil
}

// Create создает товар и публикует product.created
func (s *Service) Create(ctx context.Context, cmd CreateProductCommand) (*domain.Product, error) {
	if cmd.Price.IsNegative() {
		return nil, fmt.Errorf("price cannot be negative")
	}
	if cmd.Stock < 0 {
		return nil, fmt.Errorf("stock cannot be negative")
	}
	p := &domain.Product{
		ID:        uuid.NewString(),
		Name:      cmd.Name,
		SellerID:  cmd.SellerID,
		Price:     cmd.Price,
		Stock:     cmd.Stock,
		UpdatedAt: s.now(),
	}
	if err := s.repo.Create(ctx, p); err != nil {
		return nil, err
	}

	event, err := contracts.NewEvent(contracts.ProductCreated, toDetails(p))
	if err == nil {
		err = s.bus.Publish(ctx, contracts.ProductExchange, contracts.ProductCreated, event)
	}
	if err != nil {
		s.logger.Warn().Err(err).Str("product_id", p.ID).Msg("failed to publish product.created")
	}
	return p, nil
}

// Get возвращает товар
func (s *Service) Get(ctx context.Context, id string) (*domain.Product, error) {
	return s.repo.Get(ctx, id)
}

func toDetails(p *domain.Product) contracts.ProductDetails {
	return contracts.ProductDetails{ID: p.ID, Name: p.Name, SellerID: p.SellerID, Price: p.Price, Stock: p.Stock}
}
