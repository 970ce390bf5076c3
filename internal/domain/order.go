// Package domain содержит сущности заказа, платежа и товара с их таблицами статусов.
package domain

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/akriventsev/shopsaga/framework/fsm"
)

// OrderStatus статус заказа
type OrderStatus string

const (
	OrderStatusPending          OrderStatus = "pending"
	OrderStatusStockValidating  OrderStatus = "stock_validating"
	OrderStatusStockValidated   OrderStatus = "stock_validated"
	OrderStatusPaymentPending   OrderStatus = "payment_pending"
	OrderStatusPaymentCompleted OrderStatus = "payment_completed"
	OrderStatusCompleted        OrderStatus = "completed"
	OrderStatusFailed           OrderStatus = "failed"
	OrderStatusCancelled        OrderStatus = "cancelled"
)

// ParseOrderStatus проверяет строковое значение статуса
func ParseOrderStatus(s string) (OrderStatus, error) {
	switch st := OrderStatus(s); st {
	case OrderStatusPending, OrderStatusStockValidating, OrderStatusStockValidated, OrderStatusPaymentPending,
		OrderStatusPaymentCompleted, OrderStatusCompleted, OrderStatusFailed, OrderStatusCancelled:
		return st, nil
	}
	return "", fmt.Errorf("unknown order status %q", s)
}

// OrderTransitions таблица переходов заказа
var OrderTransitions = fsm.NewTable[OrderStatus]("order").
	Allow(OrderStatusPending, OrderStatusStockValidating, OrderStatusFailed, OrderStatusCancelled).
	Allow(OrderStatusStockValidating, OrderStatusStockValidated, OrderStatusFailed, OrderStatusCancelled).
	Allow(OrderStatusStockValidated, OrderStatusCompleted, OrderStatusPaymentPending, OrderStatusFailed, OrderStatusCancelled).
	Allow(OrderStatusPaymentPending, OrderStatusPaymentCompleted, OrderStatusFailed, OrderStatusCancelled).
	Allow(OrderStatusPaymentCompleted, OrderStatusCompleted, OrderStatusFailed).
	Terminal(OrderStatusCompleted, OrderStatusFailed, OrderStatusCancelled)

// PaymentMethod способ оплаты
type PaymentMethod string

const (
	PaymentMethodCash   PaymentMethod = "cash"
	PaymentMethodCard   PaymentMethod = "card"
	PaymentMethodStripe PaymentMethod = "stripe"
	PaymentMethodOnline PaymentMethod = "online"
)

// ParsePaymentMethod проверяет способ оплаты
func ParsePaymentMethod(s string) (PaymentMethod, error) {
	switch m := PaymentMethod(s); m {
	case PaymentMethodCash, PaymentMethodCard, PaymentMethodStripe, PaymentMethodOnline:
		return m, nil
	}
	return "", fmt.Errorf("unknown payment method %q", s)
}

// RequiresProvider истинно для способов, требующих платежного провайдера
func (m PaymentMethod) RequiresProvider() bool {
	return m != PaymentMethodCash
}

// OrderItem позиция заказа; цена и продавец фиксируются при валидации
type OrderItem struct {
	ProductID string
	SellerID  string
	Quantity  int
	Price     decimal.Decimal
}

// PaymentInfo сведения о платеже внутри заказа
type PaymentInfo struct {
	PaymentID         string
	Status            string
	ProviderPaymentID string
	ClientSecret      string
	Amount            decimal.Decimal
	RedirectURL       string
	UpdatedAt         time.Time
}

// Failure терминальная ошибка заказа
type Failure struct {
	Message   string
	Step      string
	Timestamp time.Time
}

// StatusChange запись истории статусов
type StatusChange = fsm.HistoryEntry[OrderStatus]

// Order заказ. Статус меняется только через TransitionTo / Fail, каждое изменение попадает в историю.
type Order struct {
	ID             string
	UserID         string
	Items          []OrderItem
	TotalAmount    decimal.Decimal
	Currency       string
	PaymentMethod  PaymentMethod
	Payment        *PaymentInfo
	IdempotencyKey string
	SagaID         string
	Error          *Failure
	Version        int64
	CreatedAt      time.Time
	UpdatedAt      time.Time

	status *fsm.Machine[OrderStatus]
}

// NewOrder создает заказ в статусе pending
func NewOrder(id, userID string, items []OrderItem, currency string, method PaymentMethod, idempotencyKey string, now time.Time) *Order {
	o := &Order{
		ID:             id,
		UserID:         userID,
		Items:          append([]OrderItem(nil), items...),
		Currency:       currency,
		PaymentMethod:  method,
		IdempotencyKey: idempotencyKey,
		CreatedAt:      now,
		UpdatedAt:      now,
		status:         fsm.NewMachine(OrderTransitions, OrderStatusPending, now, "Order created"),
	}
	o.TotalAmount = o.computeTotal()
	return o
}

// RestoreOrder восстанавливает заказ из хранилища; история не может быть пустой
func RestoreOrder(o Order, status OrderStatus, history []StatusChange) (*Order, error) {
	if len(history) == 0 {
		return nil, fmt.Errorf("order %s has empty status history", o.ID)
	}
	o.Items = append([]OrderItem(nil), o.Items...)
	o.status = fsm.Restore(OrderTransitions, status, history)
	return &o, nil
}

// Status возвращает текущий статус
func (o *Order) Status() OrderStatus {
	return o.status.Current()
}

// History возвращает копию истории статусов
func (o *Order) History() []StatusChange {
	return o.status.History()
}

// IsTerminal истинно для completed, failed и cancelled
func (o *Order) IsTerminal() bool {
	return o.status.IsTerminal()
}

// TransitionTo меняет статус с проверкой таблицы переходов
func (o *Order) TransitionTo(to OrderStatus, message string, now time.Time) error {
	if message == "" {
		message = fmt.Sprintf("Order status changed to %s", to)
	}
	if err := o.status.Transition(to, now, message); err != nil {
		return fmt.Errorf("order %s: %w", o.ID, err)
	}
	o.UpdatedAt = now
	return nil
}

// Fail переводит заказ в failed с указанием шага
func (o *Order) Fail(step, message string, now time.Time) error {
	if err := o.TransitionTo(OrderStatusFailed, fmt.Sprintf("Order failed at %s: %s", step, message), now); err != nil {
		return err
	}
	o.Error = &Failure{Message: message, Step: step, Timestamp: now}
	return nil
}

// ItemPrice цена и продавец для перерасчета
type ItemPrice struct {
	Price    decimal.Decimal
	SellerID string
}

// Reprice подставляет актуальные цены и продавцов, пересчитывает сумму.
// Позиции без данных в prices сохраняют прежние значения.
func (o *Order) Reprice(prices map[string]ItemPrice) {
	for i := range o.Items {
		p, ok := prices[o.Items[i].ProductID]
		if !ok {
			continue
		}
		o.Items[i].Price = p.Price
		if p.SellerID != "" {
			o.Items[i].SellerID = p.SellerID
		}
	}
	o.TotalAmount = o.computeTotal()
}

// AttachPayment записывает сведения о платеже
func (o *Order) AttachPayment(p PaymentInfo, now time.Time) {
	p.UpdatedAt = now
	o.Payment = &p
	o.UpdatedAt = now
}

func (o *Order) computeTotal() decimal.Decimal {
	total := decimal.Zero
	for _, it := range o.Items {
		total = total.Add(it.Price.Mul(decimal.NewFromInt(int64(it.Quantity))))
	}
	return total
}

// Clone возвращает независимую копию заказа
func (o *Order) Clone() *Order {
	c := *o
	c.Items = append([]OrderItem(nil), o.Items...)
	if o.Payment != nil {
		p := *o.Payment
		c.Payment = &p
	}
	if o.Error != nil {
		e := *o.Error
		c.Error = &e
	}
	c.status = fsm.Restore(OrderTransitions, o.status.Current(), o.status.History())
	return &c
}
