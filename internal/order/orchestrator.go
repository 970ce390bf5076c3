package order

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/akriventsev/shopsaga/framework/core"
	"github.com/akriventsev/shopsaga/framework/invoke"
	"github.com/akriventsev/shopsaga/framework/metrics"
	"github.com/akriventsev/shopsaga/framework/saga"
	"github.com/akriventsev/shopsaga/framework/transport"
	"github.com/akriventsev/shopsaga/internal/contracts"
	"github.com/akriventsev/shopsaga/internal/domain"
)

// Шаги саги оформления заказа
const (
	StepValidation = "validation"
	StepPayment    = "payment"
)

const (
	maxUpdateAttempts = 3
	// stepSlack запас таймаута шага сверх таймаутов его запросов
	stepSlack = 5 * time.Second
)

var (
	// ErrInvalidOrder некорректные данные нового заказа
	ErrInvalidOrder = errors.New("invalid order")
	// ErrNotCancellable заказ уже завершен или оплачен
	ErrNotCancellable = errors.New("order cannot be cancelled")
	// ErrValidationRejected product-service отклонил позиции заказа
	ErrValidationRejected = errors.New("stock validation rejected")
	// ErrNoPaymentToken ни шина, ни fallback не вернули токен оплаты
	ErrNoPaymentToken = errors.New("payment provider returned no client token")

	errUnexpectedStatus = errors.New("unexpected order status")
	errPublishFailed    = core.NewError(invoke.ErrPublishFailed, "request was not published")
)

// CreateOrderItem позиция нового заказа
type CreateOrderItem struct {
	ProductID string `json:"productId" binding:"required"`
	Quantity  int    `json:"quantity" binding:"required,gt=0"`
}

// CreateOrderCommand данные для оформления заказа
type CreateOrderCommand struct {
	UserID         string            `json:"userId" binding:"required"`
	Items          []CreateOrderItem `json:"items" binding:"required,min=1,dive"`
	Currency       string            `json:"currency"`
	PaymentMethod  string            `json:"paymentMethod" binding:"required"`
	IdempotencyKey string            `json:"idempotencyKey"`
}

// Options параметры оркестратора
type Options struct {
	ValidationTimeout time.Duration
	PaymentTimeout    time.Duration
	// FallbackTimeout таймаут прямого HTTP вызова payment-service, входит в таймаут шага payment
	FallbackTimeout time.Duration
	// EarlyResultDelay пауза перед повторной доставкой payment.result, обогнавшего payment_pending
	EarlyResultDelay time.Duration
	DefaultCurrency  string
}

// sagaState состояние одного прохода саги; заказ всегда перечитывается из хранилища
type sagaState struct {
	orderID    string
	validating bool
}

// Orchestrator ведет заказ через валидацию, оплату и завершение.
// Единственный, кто меняет статус заказа.
type Orchestrator struct {
	repo      Repository
	bus       transport.MessageBus
	requester *invoke.Requester
	fallback  PaymentFallback
	opts      Options
	logger    zerolog.Logger
	metrics   *metrics.Metrics
	now       func() time.Time

	definition *saga.Definition[*sagaState]
}

// NewOrchestrator создает оркестратор. fallback может быть nil.
func NewOrchestrator(repo Repository, bus transport.MessageBus, requester *invoke.Requester, fallback PaymentFallback,
	opts Options, logger zerolog.Logger, m *metrics.Metrics) *Orchestrator {
	if opts.DefaultCurrency == "" {
		opts.DefaultCurrency = "usd"
	}
	if opts.EarlyResultDelay <= 0 {
		opts.EarlyResultDelay = time.Second
	}
	o := &Orchestrator{
		repo:      repo,
		bus:       bus,
		requester: requester,
		fallback:  fallback,
		opts:      opts,
		logger:    logger.With().Str("component", "order-saga").Logger(),
		metrics:   m,
		now:       time.Now,
	}

	paymentTimeout := opts.PaymentTimeout + stepSlack
	if fallback != nil {
		paymentTimeout += opts.FallbackTimeout
	}
	o.definition = saga.NewDefinition[*sagaState]("order-fulfillment").
		AddStep(saga.NewStep[*sagaState](StepValidation).
			WithExecute(o.validate).
			WithTimeout(opts.ValidationTimeout + stepSlack).
			// запрос не ушел в брокер: повтор безопасен, ответа еще никто не готовил
			WithRetry(&saga.RetryPolicy{
				MaxAttempts:     3,
				InitialDelay:    200 * time.Millisecond,
				Backoff:         2,
				RetryableErrors: []error{errPublishFailed},
			})).
		AddStep(saga.NewStep[*sagaState](StepPayment).
			WithGuard(o.awaitingPayment).
			WithExecute(o.pay).
			WithTimeout(paymentTimeout)).
		OnFailure(o.fail).
		WithLogger(o.logger).
		WithMetrics(m)
	return o
}

// Start подписывает responder деталей заказа и потребителя payment.result
func (o *Orchestrator) Start(ctx context.Context) error {
	details := NewDetailsResponder(o.repo)
	if err := invoke.Respond(ctx, o.bus, o.logger, contracts.OrderExchange,
		contracts.QueueOrderDetails, contracts.OrderDetailsRequest, details.Details); err != nil {
		return err
	}
	if err := o.bus.Subscribe(ctx, contracts.PaymentExchange, contracts.QueueOrderPaymentResults,
		contracts.PaymentResult, o.HandlePaymentResult); err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", contracts.PaymentResult, err)
	}
	return nil
}

// Submit создает заказ и прогоняет сагу. Повтор с тем же ключом идемпотентности
// возвращает существующий заказ без повторного запуска саги.
// Бизнес-отказ (нет товара, платеж не создан) не является ошибкой: заказ возвращается в статусе failed.
func (o *Orchestrator) Submit(ctx context.Context, cmd CreateOrderCommand) (*domain.Order, error) {
	method, items, err := o.checkCommand(cmd)
	if err != nil {
		return nil, err
	}

	if cmd.IdempotencyKey != "" {
		existing, err := o.repo.FindByIdempotencyKey(ctx, cmd.IdempotencyKey)
		if err == nil {
			o.logger.Info().Str("order_id", existing.ID).Str("idempotency_key", cmd.IdempotencyKey).
				Msg("idempotent replay, returning existing order")
			return existing, nil
		}
		if !errors.Is(err, ErrNotFound) {
			return nil, err
		}
	}

	currency := strings.ToLower(cmd.Currency)
	if currency == "" {
		currency = o.opts.DefaultCurrency
	}
	ord := domain.NewOrder(uuid.NewString(), cmd.UserID, items, currency, method, cmd.IdempotencyKey, o.now())
	ord.SagaID = uuid.NewString()

	if err := o.repo.Create(ctx, ord); err != nil {
		if errors.Is(err, ErrDuplicateIdempotencyKey) {
			return o.repo.FindByIdempotencyKey(ctx, cmd.IdempotencyKey)
		}
		return nil, err
	}
	log := o.logger.With().Str("order_id", ord.ID).Str("saga_id", ord.SagaID).Logger()
	log.Info().Str("payment_method", string(method)).Int("items", len(items)).Msg("order created")

	// сага не должна обрываться вместе с HTTP запросом, иначе заказ застрянет в промежуточном статусе
	sagaCtx := context.WithoutCancel(ctx)
	exec, err := o.definition.Execute(sagaCtx, ord.SagaID, &sagaState{orderID: ord.ID})
	if err != nil {
		log.Warn().Err(err).Str("step", saga.FailedStep(err)).Msg("order saga failed")
	}

	final, gerr := o.repo.Get(sagaCtx, ord.ID)
	if gerr != nil {
		return nil, gerr
	}
	if exec != nil && exec.Status == saga.SagaStatusFailed {
		return final, fmt.Errorf("order %s: failure could not be recorded: %w", ord.ID, err)
	}
	return final, nil
}

func (o *Orchestrator) checkCommand(cmd CreateOrderCommand) (domain.PaymentMethod, []domain.OrderItem, error) {
	if cmd.UserID == "" {
		return "", nil, fmt.Errorf("%w: userId is required", ErrInvalidOrder)
	}
	if len(cmd.Items) == 0 {
		return "", nil, fmt.Errorf("%w: order has no items", ErrInvalidOrder)
	}
	method, err := domain.ParsePaymentMethod(cmd.PaymentMethod)
	if err != nil {
		return "", nil, fmt.Errorf("%w: %v", ErrInvalidOrder, err)
	}
	// повторяющиеся товары сводятся в одну позицию
	items := make([]domain.OrderItem, 0, len(cmd.Items))
	index := make(map[string]int, len(cmd.Items))
	for _, it := range cmd.Items {
		if it.ProductID == "" || it.Quantity <= 0 {
			return "", nil, fmt.Errorf("%w: item %q has invalid quantity %d", ErrInvalidOrder, it.ProductID, it.Quantity)
		}
		if i, ok := index[it.ProductID]; ok {
			items[i].Quantity += it.Quantity
			continue
		}
		index[it.ProductID] = len(items)
		items = append(items, domain.OrderItem{ProductID: it.ProductID, Quantity: it.Quantity})
	}
	return method, items, nil
}

// validate шаг validation: pending → stock_validating → stock_validated с перерасчетом цен
func (o *Orchestrator) validate(ctx context.Context, st *sagaState) error {
	ord, err := o.update(ctx, st.orderID, func(ord *domain.Order) (bool, error) {
		// повтор шага после неудачной публикации застает заказ уже в stock_validating
		if st.validating && ord.Status() == domain.OrderStatusStockValidating {
			return false, nil
		}
		if err := expectStatus(ord, domain.OrderStatusPending); err != nil {
			return false, err
		}
		return true, ord.TransitionTo(domain.OrderStatusStockValidating, "Stock validation started", o.now())
	})
	if err != nil {
		return err
	}
	st.validating = true

	req := contracts.ValidationRequest{Products: make([]contracts.ValidationItem, 0, len(ord.Items))}
	for _, it := range ord.Items {
		req.Products = append(req.Products, contracts.ValidationItem{ProductID: it.ProductID, Quantity: it.Quantity})
	}
	reply, err := invoke.Call[contracts.ValidationReply](ctx, o.requester, contracts.ProductExchange,
		contracts.ProductValidationRequest, req, o.opts.ValidationTimeout)
	if err != nil {
		return fmt.Errorf("stock validation request failed: %w", err)
	}
	if !reply.IsValid {
		return fmt.Errorf("%w: %s", ErrValidationRejected, reply.Problems())
	}

	prices := make(map[string]domain.ItemPrice, len(reply.Items))
	for _, it := range reply.Items {
		if it.ProductDetails != nil {
			prices[it.ProductID] = domain.ItemPrice{Price: it.ProductDetails.Price, SellerID: it.ProductDetails.SellerID}
		}
	}
	_, err = o.update(ctx, st.orderID, func(ord *domain.Order) (bool, error) {
		if err := expectStatus(ord, domain.OrderStatusStockValidating); err != nil {
			return false, err
		}
		ord.Reprice(prices)
		return true, ord.TransitionTo(domain.OrderStatusStockValidated, "Stock validated", o.now())
	})
	return err
}

// awaitingPayment guard шага payment: заказ могли отменить между шагами
func (o *Orchestrator) awaitingPayment(ctx context.Context, st *sagaState) bool {
	ord, err := o.repo.Get(ctx, st.orderID)
	if err != nil {
		o.logger.Warn().Err(err).Str("order_id", st.orderID).Msg("failed to load order before payment")
		return false
	}
	return ord.Status() == domain.OrderStatusStockValidated
}

// pay шаг payment: cash завершает заказ сразу, остальные способы ждут подтверждения провайдера
func (o *Orchestrator) pay(ctx context.Context, st *sagaState) error {
	ord, err := o.repo.Get(ctx, st.orderID)
	if err != nil {
		return err
	}
	if err := expectStatus(ord, domain.OrderStatusStockValidated); err != nil {
		return err
	}
	if !ord.PaymentMethod.RequiresProvider() {
		return o.completeCash(ctx, st.orderID)
	}

	cmd := contracts.PaymentCreateCommand{
		OrderID:        ord.ID,
		UserID:         ord.UserID,
		Amount:         ord.TotalAmount,
		Currency:       ord.Currency,
		PaymentMethod:  string(ord.PaymentMethod),
		IdempotencyKey: ord.ID,
	}
	reply, err := o.createPayment(ctx, cmd)
	o.metrics.RecordPayment(ctx, string(ord.PaymentMethod), err == nil)
	if err != nil {
		return err
	}

	_, err = o.update(ctx, st.orderID, func(ord *domain.Order) (bool, error) {
		if err := expectStatus(ord, domain.OrderStatusStockValidated); err != nil {
			return false, err
		}
		ord.AttachPayment(domain.PaymentInfo{
			PaymentID:         reply.PaymentID,
			Status:            "pending",
			ProviderPaymentID: reply.ProviderPaymentID,
			ClientSecret:      reply.ClientToken,
			Amount:            ord.TotalAmount,
			RedirectURL:       reply.RedirectURL,
		}, o.now())
		return true, ord.TransitionTo(domain.OrderStatusPaymentPending, "Awaiting payment confirmation", o.now())
	})
	return err
}

// createPayment запрашивает платеж через шину, при любом сбое один раз вызывает fallback
func (o *Orchestrator) createPayment(ctx context.Context, cmd contracts.PaymentCreateCommand) (contracts.PaymentCreateReply, error) {
	log := o.logger.With().Str("order_id", cmd.OrderID).Logger()

	reply, err := invoke.Call[contracts.PaymentCreateReply](ctx, o.requester, contracts.PaymentExchange,
		contracts.PaymentCreateRequest, cmd, o.opts.PaymentTimeout)
	if err == nil && reply.ClientToken != "" {
		return reply, nil
	}
	if err == nil {
		err = ErrNoPaymentToken
	}
	if o.fallback == nil {
		return contracts.PaymentCreateReply{}, fmt.Errorf("payment request failed: %w", err)
	}

	log.Warn().Err(err).Msg("payment request over bus failed, trying direct call")
	reply, ferr := o.fallback.CreatePayment(ctx, cmd)
	if ferr == nil && reply.ClientToken == "" {
		ferr = ErrNoPaymentToken
	}
	if ferr != nil {
		return contracts.PaymentCreateReply{}, fmt.Errorf("payment request failed: %w", errors.Join(err, ferr))
	}
	log.Info().Str("payment_id", reply.PaymentID).Msg("payment created through direct call")
	return reply, nil
}

func (o *Orchestrator) completeCash(ctx context.Context, orderID string) error {
	ord, err := o.update(ctx, orderID, func(ord *domain.Order) (bool, error) {
		if err := expectStatus(ord, domain.OrderStatusStockValidated); err != nil {
			return false, err
		}
		ord.AttachPayment(domain.PaymentInfo{Status: "completed", Amount: ord.TotalAmount}, o.now())
		return true, ord.TransitionTo(domain.OrderStatusCompleted, "Cash order completed", o.now())
	})
	if err != nil {
		return err
	}
	o.publish(ctx, ord, contracts.OrderCompleted, "", "")
	return nil
}

// fail хук отказа саги: заказ переходит в failed, публикуется order.failed
func (o *Orchestrator) fail(ctx context.Context, st *sagaState, failure *saga.StepError) error {
	reason := failure.Err.Error()
	changed := false
	ord, err := o.update(ctx, st.orderID, func(ord *domain.Order) (bool, error) {
		// отмена или другой обработчик уже завершили заказ
		if ord.IsTerminal() {
			return false, nil
		}
		changed = true
		return true, ord.Fail(failure.Step, reason, o.now())
	})
	if err != nil {
		return err
	}
	if changed {
		o.publish(ctx, ord, contracts.OrderFailed, failure.Step, reason)
	}
	return nil
}

// HandlePaymentResult потребитель payment.result.
// Повтор для уже завершенного заказа подтверждается без эффектов; результат,
// обогнавший переход в payment_pending, возвращается в очередь.
func (o *Orchestrator) HandlePaymentResult(ctx context.Context, d *transport.Delivery) transport.Result {
	ev, err := contracts.DecodeEvent[contracts.PaymentResultEvent](d)
	if err != nil {
		return transport.Drop(err)
	}
	if ev.OrderID == "" {
		return transport.Drop(errors.New("payment.result without orderId"))
	}
	if ev.Status != contracts.PaymentResultCompleted && ev.Status != contracts.PaymentResultFailed {
		return transport.Drop(fmt.Errorf("unknown payment result status %q", ev.Status))
	}
	log := o.logger.With().Str("order_id", ev.OrderID).Str("payment_id", ev.PaymentID).Logger()

	changed, refund := false, false
	ord, err := o.update(ctx, ev.OrderID, func(ord *domain.Order) (bool, error) {
		if ord.IsTerminal() {
			// деньги списаны за отмененный заказ; оплата фиксируется один раз, чтобы повтор не дублировал сигнал
			if ord.Status() == domain.OrderStatusCancelled && ev.Status == contracts.PaymentResultCompleted &&
				(ord.Payment == nil || ord.Payment.Status != contracts.PaymentResultCompleted) {
				payment := domain.PaymentInfo{PaymentID: ev.PaymentID, Amount: ord.TotalAmount}
				if ord.Payment != nil {
					payment = *ord.Payment
				}
				payment.Status = ev.Status
				if ev.ProviderPaymentID != "" {
					payment.ProviderPaymentID = ev.ProviderPaymentID
				}
				ord.AttachPayment(payment, o.now())
				refund = true
				return true, nil
			}
			return false, nil
		}
		status := ord.Status()
		if status != domain.OrderStatusPaymentPending && status != domain.OrderStatusPaymentCompleted {
			return false, fmt.Errorf("%w: %s is %s, not awaiting payment", errUnexpectedStatus, ord.ID, status)
		}
		now := o.now()
		payment := domain.PaymentInfo{PaymentID: ev.PaymentID, Amount: ord.TotalAmount}
		if ord.Payment != nil {
			payment = *ord.Payment
		}
		if ev.ProviderPaymentID != "" {
			payment.ProviderPaymentID = ev.ProviderPaymentID
		}
		payment.Status = ev.Status
		ord.AttachPayment(payment, now)

		changed = true
		if ev.Status == contracts.PaymentResultFailed {
			reason := ev.Error
			if reason == "" {
				reason = "payment declined"
			}
			return true, ord.Fail(StepPayment, reason, now)
		}
		if status == domain.OrderStatusPaymentPending {
			if err := ord.TransitionTo(domain.OrderStatusPaymentCompleted, "Payment confirmed", now); err != nil {
				return false, err
			}
		}
		return true, ord.TransitionTo(domain.OrderStatusCompleted, "Order completed", now)
	})

	switch {
	case errors.Is(err, ErrNotFound):
		return transport.Drop(err)
	case errors.Is(err, errUnexpectedStatus):
		log.Warn().Err(err).Dur("delay", o.opts.EarlyResultDelay).Msg("payment result arrived early, requeueing")
		return transport.RetryAfter(err, o.opts.EarlyResultDelay)
	case err != nil:
		return transport.Retry(err)
	}

	if refund {
		log.Error().Str("provider_payment_id", ord.Payment.ProviderPaymentID).
			Msg("payment captured for cancelled order, refund required")
		o.publish(ctx, ord, contracts.OrderRefundRequired, StepPayment, "payment captured after cancellation")
		return transport.Ack()
	}
	if !changed {
		log.Info().Str("status", string(ord.Status())).Msg("duplicate payment result ignored")
		return transport.Ack()
	}
	if ord.Status() == domain.OrderStatusCompleted {
		o.publish(ctx, ord, contracts.OrderCompleted, "", "")
	} else {
		o.publish(ctx, ord, contracts.OrderFailed, StepPayment, ord.Error.Message)
	}
	log.Info().Str("status", string(ord.Status())).Msg("payment result applied")
	return transport.Ack()
}

// Cancel отменяет заказ, пока он не завершен и не оплачен
func (o *Orchestrator) Cancel(ctx context.Context, orderID, reason string) (*domain.Order, error) {
	if reason == "" {
		reason = "cancelled by customer"
	}
	ord, err := o.update(ctx, orderID, func(ord *domain.Order) (bool, error) {
		if err := ord.TransitionTo(domain.OrderStatusCancelled, "Order cancelled: "+reason, o.now()); err != nil {
			return false, fmt.Errorf("%w: %v", ErrNotCancellable, err)
		}
		return true, nil
	})
	if err != nil {
		return nil, err
	}
	o.publish(ctx, ord, contracts.OrderCancelled, "", reason)
	return ord, nil
}

// Get возвращает заказ
func (o *Orchestrator) Get(ctx context.Context, id string) (*domain.Order, error) {
	return o.repo.Get(ctx, id)
}

// update перечитывает заказ, применяет fn и сохраняет с проверкой версии.
// fn возвращает false, если сохранять нечего. Конфликт версий повторяется до maxUpdateAttempts раз.
func (o *Orchestrator) update(ctx context.Context, id string, fn func(*domain.Order) (bool, error)) (*domain.Order, error) {
	for attempt := 1; ; attempt++ {
		ord, err := o.repo.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		from := ord.Status()
		changed, err := fn(ord)
		if err != nil {
			return nil, err
		}
		if !changed {
			return ord, nil
		}

		err = o.repo.Update(ctx, ord)
		if errors.Is(err, ErrConcurrentUpdate) && attempt < maxUpdateAttempts {
			o.logger.Debug().Str("order_id", id).Int("attempt", attempt).Msg("order version conflict, retrying")
			continue
		}
		if err != nil {
			return nil, err
		}
		if to := ord.Status(); to != from {
			o.metrics.RecordTransition(ctx, "order", string(from), string(to))
		}
		return ord, nil
	}
}

func (o *Orchestrator) publish(ctx context.Context, ord *domain.Order, routingKey, step, reason string) {
	event, err := contracts.NewEvent(routingKey, OrderEvent(ord, step, reason, o.now()))
	if err == nil {
		err = o.bus.Publish(ctx, contracts.OrderExchange, routingKey, event)
	}
	if err != nil {
		o.logger.Error().Err(err).Str("order_id", ord.ID).Str("routing_key", routingKey).Msg("failed to publish order event")
	}
}

func expectStatus(ord *domain.Order, want domain.OrderStatus) error {
	if got := ord.Status(); got != want {
		return fmt.Errorf("%w: order %s is %s, expected %s", errUnexpectedStatus, ord.ID, got, want)
	}
	return nil
}
