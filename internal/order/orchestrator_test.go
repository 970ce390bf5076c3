package order

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/akriventsev/shopsaga/framework/adapters/messagebus"
	"github.com/akriventsev/shopsaga/framework/core"
	"github.com/akriventsev/shopsaga/framework/invoke"
	"github.com/akriventsev/shopsaga/framework/transport"
	"github.com/akriventsev/shopsaga/internal/contracts"
	"github.com/akriventsev/shopsaga/internal/domain"
	"github.com/akriventsev/shopsaga/internal/product"
)

type harness struct {
	t            *testing.T
	bus          *messagebus.InMemoryBus
	repo         *MemoryRepository
	products     *product.MemoryRepository
	orchestrator *Orchestrator
	validations  atomic.Int32
	payments     atomic.Int32
}

type harnessOption func(*harnessConfig)

type harnessConfig struct {
	validator         bool
	paymentResponder  bool
	paymentErr        string
	fallback          PaymentFallback
	validationTimeout time.Duration
	paymentTimeout    time.Duration
	failValidations   int32
}

func withoutValidator() harnessOption {
	return func(c *harnessConfig) { c.validator = false }
}

// withValidationPublishFailures первые n публикаций запроса валидации не доходят до брокера
func withValidationPublishFailures(n int32) harnessOption {
	return func(c *harnessConfig) { c.failValidations = n }
}

func withoutPaymentResponder() harnessOption {
	return func(c *harnessConfig) { c.paymentResponder = false }
}

func withPaymentError(msg string) harnessOption {
	return func(c *harnessConfig) { c.paymentErr = msg }
}

func withFallback(f PaymentFallback) harnessOption {
	return func(c *harnessConfig) { c.fallback = f }
}

func newHarness(t *testing.T, opts ...harnessOption) *harness {
	t.Helper()
	cfg := harnessConfig{validator: true, paymentResponder: true, validationTimeout: time.Second, paymentTimeout: time.Second}
	for _, opt := range opts {
		opt(&cfg)
	}
	if !cfg.validator {
		cfg.validationTimeout = 50 * time.Millisecond
	}
	if !cfg.paymentResponder {
		cfg.paymentTimeout = 50 * time.Millisecond
	}

	ctx := context.Background()
	bus := messagebus.NewInMemoryBus(messagebus.DefaultInMemoryConfig(), zerolog.Nop(), nil)
	require.NoError(t, bus.Connect(ctx))
	t.Cleanup(func() { _ = bus.Close(context.Background()) })

	h := &harness{t: t, bus: bus, repo: NewMemoryRepository(), products: product.NewMemoryRepository()}

	if cfg.validator {
		validator := product.NewStockValidator(h.products, zerolog.Nop())
		require.NoError(t, invoke.Respond(ctx, bus, zerolog.Nop(), contracts.ProductExchange,
			contracts.QueueProductValidation, contracts.ProductValidationRequest,
			func(ctx context.Context, req contracts.ValidationRequest) (contracts.ValidationReply, error) {
				h.validations.Add(1)
				return validator.Validate(ctx, req)
			}))
	}

	if cfg.paymentResponder {
		require.NoError(t, invoke.Respond(ctx, bus, zerolog.Nop(), contracts.PaymentExchange,
			contracts.QueuePaymentCreate, contracts.PaymentCreateRequest,
			func(ctx context.Context, cmd contracts.PaymentCreateCommand) (contracts.PaymentCreateReply, error) {
				h.payments.Add(1)
				if cfg.paymentErr != "" {
					return contracts.PaymentCreateReply{}, errors.New(cfg.paymentErr)
				}
				return contracts.PaymentCreateReply{
					PaymentID:         "pay-" + cmd.OrderID,
					OrderID:           cmd.OrderID,
					ProviderPaymentID: "pi_123",
					ClientToken:       "pi_123_secret",
				}, nil
			}))
	}

	var requestBus transport.MessageBus = bus
	if cfg.failValidations > 0 {
		flaky := &flakyBus{InMemoryBus: bus, routingKey: contracts.ProductValidationRequest}
		flaky.failures.Store(cfg.failValidations)
		requestBus = flaky
	}
	requester := invoke.NewRequester(requestBus, zerolog.Nop(), invoke.WithCleanupDelay(0))
	h.orchestrator = NewOrchestrator(h.repo, bus, requester, cfg.fallback, Options{
		ValidationTimeout: cfg.validationTimeout,
		PaymentTimeout:    cfg.paymentTimeout,
		EarlyResultDelay:  20 * time.Millisecond,
	}, zerolog.Nop(), nil)
	require.NoError(t, h.orchestrator.Start(ctx))
	return h
}

func (h *harness) addProduct(stock int, price string) string {
	h.t.Helper()
	id := uuid.NewString()
	require.NoError(h.t, h.products.Create(context.Background(), &domain.Product{
		ID:       id,
		Name:     "Lamp",
		SellerID: "seller-" + id[:4],
		Price:    decimal.RequireFromString(price),
		Stock:    stock,
	}))
	return id
}

func (h *harness) orderEvents(routingKey string) []contracts.OrderEvent {
	h.t.Helper()
	var events []contracts.OrderEvent
	for _, rec := range h.bus.Published() {
		if rec.Exchange != contracts.OrderExchange || rec.RoutingKey != routingKey {
			continue
		}
		ev, err := contracts.DecodeEvent[contracts.OrderEvent](&transport.Delivery{Body: rec.Body})
		require.NoError(h.t, err)
		events = append(events, ev)
	}
	return events
}

func (h *harness) publishPaymentResult(orderID, status, reason string) {
	h.t.Helper()
	event, err := contracts.NewEvent(contracts.PaymentResult, contracts.PaymentResultEvent{
		PaymentID: "pay-" + orderID,
		OrderID:   orderID,
		Status:    status,
		Error:     reason,
	})
	require.NoError(h.t, err)
	require.NoError(h.t, h.bus.Publish(context.Background(), contracts.PaymentExchange, contracts.PaymentResult, event))
}

func statuses(o *domain.Order) []domain.OrderStatus {
	var out []domain.OrderStatus
	for _, h := range o.History() {
		out = append(out, h.State)
	}
	return out
}

func TestOrchestrator_CashHappyPath(t *testing.T) {
	h := newHarness(t)
	lamp := h.addProduct(10, "12.50")
	desk := h.addProduct(3, "100")

	ord, err := h.orchestrator.Submit(context.Background(), CreateOrderCommand{
		UserID:        "user-1",
		PaymentMethod: "cash",
		Items: []CreateOrderItem{
			{ProductID: lamp, Quantity: 2},
			{ProductID: desk, Quantity: 1},
		},
	})
	require.NoError(t, err)

	assert.Equal(t, domain.OrderStatusCompleted, ord.Status())
	assert.Equal(t, []domain.OrderStatus{
		domain.OrderStatusPending,
		domain.OrderStatusStockValidating,
		domain.OrderStatusStockValidated,
		domain.OrderStatusCompleted,
	}, statuses(ord))
	assert.True(t, ord.TotalAmount.Equal(decimal.RequireFromString("125")))
	require.NotNil(t, ord.Payment)
	assert.Equal(t, "completed", ord.Payment.Status)
	assert.Nil(t, ord.Error)

	events := h.orderEvents(contracts.OrderCompleted)
	require.Len(t, events, 1)
	assert.Equal(t, ord.ID, events[0].OrderID)
	assert.Equal(t, "user-1", events[0].UserID)
	assert.Len(t, events[0].Items, 2)
	assert.Equal(t, 0, h.bus.PublishedCount(contracts.PaymentExchange, contracts.PaymentCreateRequest))
}

func TestOrchestrator_CardPathWaitsForConfirmation(t *testing.T) {
	h := newHarness(t)
	lamp := h.addProduct(5, "20")

	ord, err := h.orchestrator.Submit(context.Background(), CreateOrderCommand{
		UserID:        "user-2",
		PaymentMethod: "card",
		Items:         []CreateOrderItem{{ProductID: lamp, Quantity: 1}},
	})
	require.NoError(t, err)
	require.Equal(t, domain.OrderStatusPaymentPending, ord.Status())
	require.NotNil(t, ord.Payment)
	assert.Equal(t, "pi_123_secret", ord.Payment.ClientSecret)
	assert.Equal(t, "pi_123", ord.Payment.ProviderPaymentID)
	assert.Empty(t, h.orderEvents(contracts.OrderCompleted))

	h.publishPaymentResult(ord.ID, contracts.PaymentResultCompleted, "")
	assert.Eventually(t, func() bool {
		o, err := h.repo.Get(context.Background(), ord.ID)
		return err == nil && o.Status() == domain.OrderStatusCompleted
	}, 2*time.Second, 10*time.Millisecond)

	// повтор подтверждения не создает второго события
	h.publishPaymentResult(ord.ID, contracts.PaymentResultCompleted, "")
	time.Sleep(50 * time.Millisecond)

	assert.Len(t, h.orderEvents(contracts.OrderCompleted), 1)
	final, err := h.repo.Get(context.Background(), ord.ID)
	require.NoError(t, err)
	assert.Equal(t, []domain.OrderStatus{
		domain.OrderStatusPending,
		domain.OrderStatusStockValidating,
		domain.OrderStatusStockValidated,
		domain.OrderStatusPaymentPending,
		domain.OrderStatusPaymentCompleted,
		domain.OrderStatusCompleted,
	}, statuses(final))
}

func TestOrchestrator_PaymentDeclined(t *testing.T) {
	h := newHarness(t)
	lamp := h.addProduct(5, "20")

	ord, err := h.orchestrator.Submit(context.Background(), CreateOrderCommand{
		UserID:        "user-3",
		PaymentMethod: "stripe",
		Items:         []CreateOrderItem{{ProductID: lamp, Quantity: 1}},
	})
	require.NoError(t, err)
	require.Equal(t, domain.OrderStatusPaymentPending, ord.Status())

	h.publishPaymentResult(ord.ID, contracts.PaymentResultFailed, "card_declined")
	assert.Eventually(t, func() bool {
		o, err := h.repo.Get(context.Background(), ord.ID)
		return err == nil && o.Status() == domain.OrderStatusFailed
	}, 2*time.Second, 10*time.Millisecond)

	final, err := h.repo.Get(context.Background(), ord.ID)
	require.NoError(t, err)
	require.NotNil(t, final.Error)
	assert.Equal(t, StepPayment, final.Error.Step)
	assert.Equal(t, "card_declined", final.Error.Message)

	events := h.orderEvents(contracts.OrderFailed)
	require.Len(t, events, 1)
	assert.Equal(t, StepPayment, events[0].Step)
}

func TestOrchestrator_ValidationFailureSkipsPayment(t *testing.T) {
	h := newHarness(t)
	lamp := h.addProduct(5, "20")

	ord, err := h.orchestrator.Submit(context.Background(), CreateOrderCommand{
		UserID:        "user-4",
		PaymentMethod: "card",
		Items:         []CreateOrderItem{{ProductID: lamp, Quantity: 7}},
	})
	require.NoError(t, err)

	assert.Equal(t, domain.OrderStatusFailed, ord.Status())
	require.NotNil(t, ord.Error)
	assert.Equal(t, StepValidation, ord.Error.Step)
	assert.Contains(t, ord.Error.Message, "Insufficient stock: requested 7, available 5")
	assert.Nil(t, ord.Payment)

	assert.Equal(t, 0, h.bus.PublishedCount(contracts.PaymentExchange, contracts.PaymentCreateRequest))
	assert.Len(t, h.orderEvents(contracts.OrderFailed), 1)
	assert.Empty(t, h.orderEvents(contracts.OrderCompleted))
}

func TestOrchestrator_ValidationTimeout(t *testing.T) {
	h := newHarness(t, withoutValidator())
	lamp := h.addProduct(5, "20")

	ord, err := h.orchestrator.Submit(context.Background(), CreateOrderCommand{
		UserID:        "user-11",
		PaymentMethod: "card",
		Items:         []CreateOrderItem{{ProductID: lamp, Quantity: 1}},
	})
	require.NoError(t, err)

	assert.Equal(t, domain.OrderStatusFailed, ord.Status())
	require.NotNil(t, ord.Error)
	assert.Equal(t, StepValidation, ord.Error.Step)
	assert.Contains(t, ord.Error.Message, invoke.ErrRequestTimeout)
	assert.Equal(t, 0, h.bus.PublishedCount(contracts.PaymentExchange, contracts.PaymentCreateRequest))

	events := h.orderEvents(contracts.OrderFailed)
	require.Len(t, events, 1)
	assert.Equal(t, StepValidation, events[0].Step)
}

func TestOrchestrator_ValidationRetriesUnpublishedRequest(t *testing.T) {
	h := newHarness(t, withValidationPublishFailures(2))
	lamp := h.addProduct(5, "20")

	ord, err := h.orchestrator.Submit(context.Background(), CreateOrderCommand{
		UserID:        "user-12",
		PaymentMethod: "cash",
		Items:         []CreateOrderItem{{ProductID: lamp, Quantity: 1}},
	})
	require.NoError(t, err)

	assert.Equal(t, domain.OrderStatusCompleted, ord.Status())
	assert.Equal(t, int32(1), h.validations.Load())
	assert.Equal(t, []domain.OrderStatus{
		domain.OrderStatusPending,
		domain.OrderStatusStockValidating,
		domain.OrderStatusStockValidated,
		domain.OrderStatusCompleted,
	}, statuses(ord))
}

func TestOrchestrator_ValidationGivesUpWhenBrokerStaysDown(t *testing.T) {
	h := newHarness(t, withValidationPublishFailures(10))
	lamp := h.addProduct(5, "20")

	ord, err := h.orchestrator.Submit(context.Background(), CreateOrderCommand{
		UserID:        "user-13",
		PaymentMethod: "cash",
		Items:         []CreateOrderItem{{ProductID: lamp, Quantity: 1}},
	})
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusFailed, ord.Status())
	assert.Equal(t, StepValidation, ord.Error.Step)
	assert.Equal(t, int32(0), h.validations.Load())
}

func TestOrchestrator_RepeatedProductLinesAreMerged(t *testing.T) {
	h := newHarness(t)
	lamp := h.addProduct(5, "10")

	ord, err := h.orchestrator.Submit(context.Background(), CreateOrderCommand{
		UserID:        "user-14",
		PaymentMethod: "cash",
		Items: []CreateOrderItem{
			{ProductID: lamp, Quantity: 2},
			{ProductID: lamp, Quantity: 2},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusCompleted, ord.Status())
	require.Len(t, ord.Items, 1)
	assert.Equal(t, 4, ord.Items[0].Quantity)
	assert.True(t, ord.TotalAmount.Equal(decimal.NewFromInt(40)))

	// суммарное количество превышает остаток
	rejected, err := h.orchestrator.Submit(context.Background(), CreateOrderCommand{
		UserID:        "user-14",
		PaymentMethod: "cash",
		Items: []CreateOrderItem{
			{ProductID: lamp, Quantity: 3},
			{ProductID: lamp, Quantity: 3},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusFailed, rejected.Status())
	assert.Contains(t, rejected.Error.Message, "Insufficient stock: requested 6, available 5")
}

func TestOrchestrator_PaymentStepSkipsCancelledOrder(t *testing.T) {
	h := newHarness(t)
	now := time.Now()
	ord := domain.NewOrder(uuid.NewString(), "user-15", []domain.OrderItem{{ProductID: "p", Quantity: 1}},
		"usd", domain.PaymentMethodCard, "", now)
	require.NoError(t, ord.TransitionTo(domain.OrderStatusStockValidating, "", now))
	require.NoError(t, ord.TransitionTo(domain.OrderStatusStockValidated, "", now))
	require.NoError(t, h.repo.Create(context.Background(), ord))

	st := &sagaState{orderID: ord.ID}
	assert.True(t, h.orchestrator.awaitingPayment(context.Background(), st))

	_, err := h.orchestrator.Cancel(context.Background(), ord.ID, "")
	require.NoError(t, err)
	assert.False(t, h.orchestrator.awaitingPayment(context.Background(), st))
	assert.False(t, h.orchestrator.awaitingPayment(context.Background(), &sagaState{orderID: "missing"}))
}

func TestOrchestrator_IdempotentSubmit(t *testing.T) {
	h := newHarness(t)
	lamp := h.addProduct(5, "20")
	cmd := CreateOrderCommand{
		UserID:         "user-5",
		PaymentMethod:  "cash",
		IdempotencyKey: "checkout-42",
		Items:          []CreateOrderItem{{ProductID: lamp, Quantity: 1}},
	}

	first, err := h.orchestrator.Submit(context.Background(), cmd)
	require.NoError(t, err)
	second, err := h.orchestrator.Submit(context.Background(), cmd)
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, int32(1), h.validations.Load())
	assert.Len(t, h.orderEvents(contracts.OrderCompleted), 1)
}

func TestOrchestrator_PaymentFallback(t *testing.T) {
	fallback := &stubFallback{reply: contracts.PaymentCreateReply{PaymentID: "pay-direct", ClientToken: "direct_secret"}}
	h := newHarness(t, withoutPaymentResponder(), withFallback(fallback))
	lamp := h.addProduct(5, "20")

	ord, err := h.orchestrator.Submit(context.Background(), CreateOrderCommand{
		UserID:        "user-6",
		PaymentMethod: "online",
		Items:         []CreateOrderItem{{ProductID: lamp, Quantity: 2}},
	})
	require.NoError(t, err)

	assert.Equal(t, domain.OrderStatusPaymentPending, ord.Status())
	assert.Equal(t, "direct_secret", ord.Payment.ClientSecret)
	assert.Equal(t, int32(1), fallback.calls.Load())
	assert.True(t, fallback.last.Amount.Equal(decimal.NewFromInt(40)))
}

func TestOrchestrator_PaymentFailsAfterFallback(t *testing.T) {
	fallback := &stubFallback{err: errors.New("connection refused")}
	h := newHarness(t, withPaymentError("provider unavailable"), withFallback(fallback))
	lamp := h.addProduct(5, "20")

	ord, err := h.orchestrator.Submit(context.Background(), CreateOrderCommand{
		UserID:        "user-7",
		PaymentMethod: "card",
		Items:         []CreateOrderItem{{ProductID: lamp, Quantity: 1}},
	})
	require.NoError(t, err)

	assert.Equal(t, domain.OrderStatusFailed, ord.Status())
	require.NotNil(t, ord.Error)
	assert.Equal(t, StepPayment, ord.Error.Step)
	assert.Contains(t, ord.Error.Message, "provider unavailable")
	assert.Equal(t, int32(1), h.payments.Load())
	assert.Equal(t, int32(1), fallback.calls.Load())
}

func TestOrchestrator_Cancel(t *testing.T) {
	h := newHarness(t)
	lamp := h.addProduct(5, "20")

	pending, err := h.orchestrator.Submit(context.Background(), CreateOrderCommand{
		UserID:        "user-8",
		PaymentMethod: "card",
		Items:         []CreateOrderItem{{ProductID: lamp, Quantity: 1}},
	})
	require.NoError(t, err)

	cancelled, err := h.orchestrator.Cancel(context.Background(), pending.ID, "changed my mind")
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusCancelled, cancelled.Status())
	assert.Len(t, h.orderEvents(contracts.OrderCancelled), 1)

	_, err = h.orchestrator.Cancel(context.Background(), pending.ID, "")
	assert.ErrorIs(t, err, ErrNotCancellable)

	// оплата, пришедшая после отмены, не завершает заказ, но требует возврата
	h.publishPaymentResult(pending.ID, contracts.PaymentResultCompleted, "")
	require.Eventually(t, func() bool {
		return len(h.orderEvents(contracts.OrderRefundRequired)) == 1
	}, 2*time.Second, 10*time.Millisecond)
	assert.Empty(t, h.orderEvents(contracts.OrderCompleted))

	refund := h.orderEvents(contracts.OrderRefundRequired)[0]
	assert.Equal(t, pending.ID, refund.OrderID)
	assert.Equal(t, "cancelled", refund.Status)
	stored, err := h.repo.Get(context.Background(), pending.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusCancelled, stored.Status())
	require.NotNil(t, stored.Payment)
	assert.Equal(t, contracts.PaymentResultCompleted, stored.Payment.Status)

	// повтор подтверждения не дублирует сигнал
	h.publishPaymentResult(pending.ID, contracts.PaymentResultCompleted, "")
	time.Sleep(50 * time.Millisecond)
	assert.Len(t, h.orderEvents(contracts.OrderRefundRequired), 1)

	_, err = h.orchestrator.Cancel(context.Background(), "missing", "")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestOrchestrator_EarlyPaymentResultIsRequeued(t *testing.T) {
	h := newHarness(t)
	now := time.Now()
	ord := domain.NewOrder(uuid.NewString(), "user-9", []domain.OrderItem{{ProductID: "p", Quantity: 1}},
		"usd", domain.PaymentMethodCard, "", now)
	require.NoError(t, ord.TransitionTo(domain.OrderStatusStockValidating, "", now))
	require.NoError(t, h.repo.Create(context.Background(), ord))

	event, err := contracts.NewEvent(contracts.PaymentResult, contracts.PaymentResultEvent{
		OrderID: ord.ID, Status: contracts.PaymentResultCompleted,
	})
	require.NoError(t, err)
	body, err := transport.Marshal(event)
	require.NoError(t, err)

	res := h.orchestrator.HandlePaymentResult(context.Background(), &transport.Delivery{Body: body})
	assert.Equal(t, transport.DispositionRetry, res.Disposition)
	assert.Equal(t, 20*time.Millisecond, res.Delay, "early results are requeued with a pause")

	res = h.orchestrator.HandlePaymentResult(context.Background(), &transport.Delivery{Body: []byte("{not json")})
	assert.Equal(t, transport.DispositionDrop, res.Disposition)
}

func TestOrchestrator_RejectsInvalidCommands(t *testing.T) {
	h := newHarness(t)
	tests := []struct {
		name string
		cmd  CreateOrderCommand
	}{
		{"no items", CreateOrderCommand{UserID: "u", PaymentMethod: "cash"}},
		{"no user", CreateOrderCommand{PaymentMethod: "cash", Items: []CreateOrderItem{{ProductID: "p", Quantity: 1}}}},
		{"bad method", CreateOrderCommand{UserID: "u", PaymentMethod: "barter", Items: []CreateOrderItem{{ProductID: "p", Quantity: 1}}}},
		{"zero quantity", CreateOrderCommand{UserID: "u", PaymentMethod: "cash", Items: []CreateOrderItem{{ProductID: "p"}}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := h.orchestrator.Submit(context.Background(), tt.cmd)
			assert.ErrorIs(t, err, ErrInvalidOrder)
		})
	}
	assert.Equal(t, int32(0), h.validations.Load())
}

func TestOrchestrator_DetailsResponder(t *testing.T) {
	h := newHarness(t)
	lamp := h.addProduct(5, "20")
	ord, err := h.orchestrator.Submit(context.Background(), CreateOrderCommand{
		UserID:        "user-10",
		PaymentMethod: "cash",
		Items:         []CreateOrderItem{{ProductID: lamp, Quantity: 1}},
	})
	require.NoError(t, err)

	requester := invoke.NewRequester(h.bus, zerolog.Nop(), invoke.WithCleanupDelay(0))
	details, err := invoke.Call[contracts.OrderDetails](context.Background(), requester, contracts.OrderExchange,
		contracts.OrderDetailsRequest, contracts.OrderDetailsQuery{OrderID: ord.ID}, time.Second)
	require.NoError(t, err)
	assert.Equal(t, "completed", details.Status)
	require.Len(t, details.Items, 1)
	assert.Equal(t, lamp, details.Items[0].ProductID)

	_, err = invoke.Call[contracts.OrderDetails](context.Background(), requester, contracts.OrderExchange,
		contracts.OrderDetailsRequest, contracts.OrderDetailsQuery{OrderID: "missing"}, time.Second)
	assert.True(t, invoke.IsResponderError(err))
}

type stubFallback struct {
	reply contracts.PaymentCreateReply
	err   error
	calls atomic.Int32
	last  contracts.PaymentCreateCommand
}

func (s *stubFallback) CreatePayment(ctx context.Context, cmd contracts.PaymentCreateCommand) (contracts.PaymentCreateReply, error) {
	s.calls.Add(1)
	s.last = cmd
	return s.reply, s.err
}

// flakyBus теряет первые публикации с заданным routing key
type flakyBus struct {
	*messagebus.InMemoryBus
	routingKey string
	failures   atomic.Int32
}

func (b *flakyBus) Publish(ctx context.Context, exchange, routingKey string, payload any) error {
	if routingKey == b.routingKey && b.failures.Add(-1) >= 0 {
		return core.NewError(core.ErrNotConnected, "broker unavailable")
	}
	return b.InMemoryBus.Publish(ctx, exchange, routingKey, payload)
}
