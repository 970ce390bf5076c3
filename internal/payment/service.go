package payment

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/akriventsev/shopsaga/framework/invoke"
	"github.com/akriventsev/shopsaga/framework/metrics"
	"github.com/akriventsev/shopsaga/framework/transport"
	"github.com/akriventsev/shopsaga/internal/contracts"
	"github.com/akriventsev/shopsaga/internal/domain"
)

// ErrInvalidRequest некорректный запрос на создание или подтверждение платежа
var ErrInvalidRequest = errors.New("invalid payment request")

// Options параметры сервиса
type Options struct {
	DefaultCurrency string
	LockTTL         time.Duration
}

// Service создает и подтверждает платежи
type Service struct {
	repo     Repository
	provider Provider
	locker   Locker
	bus      transport.MessageBus
	opts     Options
	logger   zerolog.Logger
	metrics  *metrics.Metrics
	now      func() time.Time
}

func NewService(repo Repository, provider Provider, locker Locker, bus transport.MessageBus, opts Options,
	logger zerolog.Logger, m *metrics.Metrics) *Service {
	if opts.DefaultCurrency == "" {
		opts.DefaultCurrency = "usd"
	}
	if opts.LockTTL <= 0 {
		opts.LockTTL = 30 * time.Second
	}
	return &Service{
		repo:     repo,
		provider: provider,
		locker:   locker,
		bus:      bus,
		opts:     opts,
		logger:   logger.With().Str("component", "payment-service").Logger(),
		metrics:  m,
		now:      time.Now,
	}
}

// Start подписывает responder payment.create.request
func (s *Service) Start(ctx context.Context) error {
	return invoke.Respond(ctx, s.bus, s.logger, contracts.PaymentExchange,
		contracts.QueuePaymentCreate, contracts.PaymentCreateRequest, NewCreator(s).Create)
}

// CreatePayment создает платеж для заказа. Существующий платеж заказа возвращается
// без повторного обращения к провайдеру.
func (s *Service) CreatePayment(ctx context.Context, cmd contracts.PaymentCreateCommand) (*domain.Payment, error) {
	if cmd.OrderID == "" {
		return nil, fmt.Errorf("%w: orderId is required", ErrInvalidRequest)
	}
	method, err := domain.ParsePaymentMethod(cmd.PaymentMethod)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	log := s.logger.With().Str("order_id", cmd.OrderID).Str("method", string(method)).Logger()

	release, err := s.locker.Acquire(ctx, CreateLockKey(cmd.OrderID), s.opts.LockTTL)
	if err != nil {
		return nil, err
	}
	defer release()

	existing, err := s.repo.FindByOrderID(ctx, cmd.OrderID)
	if err == nil {
		log.Info().Str("payment_id", existing.ID).Msg("payment already exists for order")
		return existing, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	currency := strings.ToLower(cmd.Currency)
	if currency == "" {
		currency = s.opts.DefaultCurrency
	}
	now := s.now()

	var p *domain.Payment
	if !method.RequiresProvider() {
		p = domain.NewPayment(uuid.NewString(), cmd.OrderID, cmd.UserID, cmd.Amount, currency, method,
			domain.PaymentStatusPending, now)
	} else {
		key := cmd.IdempotencyKey
		if key == "" {
			key = cmd.OrderID
		}
		intent, err := s.provider.CreateIntent(ctx, IntentRequest{
			OrderID:        cmd.OrderID,
			Amount:         cmd.Amount,
			Currency:       currency,
			Method:         string(method),
			IdempotencyKey: key,
		})
		s.metrics.RecordPayment(ctx, string(method), err == nil)
		if err != nil {
			log.Error().Err(err).Msg("payment provider rejected intent")
			return nil, fmt.Errorf("failed to create payment intent: %w", err)
		}
		p = domain.NewPayment(uuid.NewString(), cmd.OrderID, cmd.UserID, cmd.Amount, currency, method,
			domain.PaymentStatusCreated, now)
		p.ProviderPaymentID = intent.ID
		p.ClientSecret = intent.ClientSecret
		if err := p.TransitionTo(domain.PaymentStatusPending, "Awaiting provider confirmation", now); err != nil {
			return nil, err
		}
	}

	if err := s.repo.Create(ctx, p); err != nil {
		if errors.Is(err, ErrAlreadyExists) {
			return s.repo.FindByOrderID(ctx, cmd.OrderID)
		}
		return nil, err
	}
	log.Info().Str("payment_id", p.ID).Str("amount", p.Amount.String()).Msg("payment created")

	s.publish(ctx, contracts.PaymentCreated, contracts.PaymentCreatedEvent{
		PaymentID:         p.ID,
		OrderID:           p.OrderID,
		Amount:            p.Amount,
		Currency:          p.Currency,
		Method:            string(p.Method),
		Status:            string(p.Status()),
		ProviderPaymentID: p.ProviderPaymentID,
	})
	return p, nil
}

// Confirmation подтверждение провайдера
type Confirmation struct {
	PaymentID         string
	ProviderPaymentID string
	Succeeded         bool
	Error             string
}

// Confirm фиксирует итог оплаты и публикует payment.result.
// Повторное подтверждение с тем же итогом публикует результат снова: потребитель идемпотентен.
func (s *Service) Confirm(ctx context.Context, c Confirmation) (*domain.Payment, error) {
	p, err := s.find(ctx, c)
	if err != nil {
		return nil, err
	}

	target := domain.PaymentStatusCompleted
	if !c.Succeeded {
		target = domain.PaymentStatusFailed
	}
	if p.Status() != target {
		if c.Error != "" {
			p.Error = c.Error
		}
		if err := p.TransitionTo(target, "", s.now()); err != nil {
			return nil, err
		}
		if err := s.repo.Update(ctx, p); err != nil {
			return nil, err
		}
		s.logger.Info().Str("payment_id", p.ID).Str("order_id", p.OrderID).Str("status", string(target)).
			Msg("payment confirmed by provider")
	}

	result := contracts.PaymentResultCompleted
	if target == domain.PaymentStatusFailed {
		result = contracts.PaymentResultFailed
	}
	s.publish(ctx, contracts.PaymentResult, contracts.PaymentResultEvent{
		PaymentID:         p.ID,
		OrderID:           p.OrderID,
		Status:            result,
		ProviderPaymentID: p.ProviderPaymentID,
		Error:             p.Error,
		OccurredAt:        s.now(),
	})
	return p, nil
}

func (s *Service) find(ctx context.Context, c Confirmation) (*domain.Payment, error) {
	switch {
	case c.PaymentID != "":
		return s.repo.Get(ctx, c.PaymentID)
	case c.ProviderPaymentID != "":
		return s.repo.FindByProviderID(ctx, c.ProviderPaymentID)
	}
	return nil, fmt.Errorf("%w: paymentId or providerPaymentId is required", ErrInvalidRequest)
}

// Get возвращает платеж
func (s *Service) Get(ctx context.Context, id string) (*domain.Payment, error) {
	return s.repo.Get(ctx, id)
}

func (s *Service) publish(ctx context.Context, routingKey string, data any) {
	event, err := contracts.NewEvent(routingKey, data)
	if err == nil {
		err = s.bus.Publish(ctx, contracts.PaymentExchange, routingKey, event)
	}
	if err != nil {
		s.logger.Error().Err(err).Str("routing_key", routingKey).Msg("failed to publish payment event")
	}
}
