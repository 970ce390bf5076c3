// Package contracts описывает exchanges, routing keys и сообщения, которыми обмениваются сервисы.
package contracts

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/akriventsev/shopsaga/framework/transport"
)

// Exchanges
const (
	ProductExchange = "product-events"
	OrderExchange   = "order-events"
	PaymentExchange = "payment-events"
)

// Routing keys
const (
	ProductValidationRequest = "product.validation.request"
	ProductDetailsRequest    = "product.details.request"
	ProductCreated           = "product.created"
	ProductStockUpdated      = "product.stock.updated"

	OrderDetailsRequest = "order.details.request"
	OrderCompleted      = "order.completed"
	OrderFailed         = "order.failed"
	OrderCancelled      = "order.cancelled"
	// OrderRefundRequired оплата подтверждена после отмены заказа
	OrderRefundRequired = "order.refund_required"

	PaymentCreateRequest = "payment.create.request"
	PaymentCreated       = "payment.created"
	PaymentResult        = "payment.result"
)

// Durable очереди сервисов
const (
	QueueProductValidation   = "product-service.validation-requests"
	QueueProductDetails      = "product-service.details-requests"
	QueueProductOrderDone    = "product-service.order-completed"
	QueueOrderDetails        = "order-service.details-requests"
	QueueOrderPaymentResults = "order-service.payment-results"
	QueuePaymentCreate       = "payment-service.create-requests"
	QueueLifecycleRelay      = "relay.order-lifecycle"
)

// ValidationItem позиция запроса валидации
type ValidationItem struct {
	ProductID string `json:"productId"`
	Quantity  int    `json:"quantity"`
}

// ValidationRequest запрос product.validation.request
type ValidationRequest struct {
	Products []ValidationItem `json:"products"`
}

// ProductSnapshot цена и продавец на момент валидации
type ProductSnapshot struct {
	Name     string          `json:"name"`
	Price    decimal.Decimal `json:"price"`
	SellerID string          `json:"sellerId"`
}

// ItemValidation результат проверки одной позиции
type ItemValidation struct {
	ProductID      string           `json:"productId"`
	IsValid        bool             `json:"isValid"`
	HasStock       bool             `json:"hasStock"`
	CurrentStock   int              `json:"currentStock"`
	Error          string           `json:"error,omitempty"`
	ProductDetails *ProductSnapshot `json:"productDetails,omitempty"`
}

// ValidationReply ответ на product.validation.request
type ValidationReply struct {
	IsValid bool             `json:"isValid"`
	Items   []ItemValidation `json:"items"`
}

// NewValidationReply собирает ответ; IsValid истинно только для непустого списка,
// где каждая позиция валидна и в наличии
func NewValidationReply(items []ItemValidation) ValidationReply {
	valid := len(items) > 0
	for _, it := range items {
		valid = valid && it.IsValid && it.HasStock
	}
	return ValidationReply{IsValid: valid, Items: items}
}

// Problems объединяет ошибки позиций в одно сообщение
func (r ValidationReply) Problems() string {
	if len(r.Items) == 0 {
		return "order has no items"
	}
	var parts []string
	for _, it := range r.Items {
		switch {
		case it.Error != "":
			parts = append(parts, fmt.Sprintf("%s: %s", it.ProductID, it.Error))
		case !it.IsValid || !it.HasStock:
			parts = append(parts, fmt.Sprintf("%s: not available", it.ProductID))
		}
	}
	return strings.Join(parts, "; ")
}

// ProductDetailsQuery запрос product.details.request
type ProductDetailsQuery struct {
	ProductID string `json:"productId"`
}

// ProductDetails ответ на product.details.request
type ProductDetails struct {
	ID       string          `json:"id"`
	Name     string          `json:"name"`
	SellerID string          `json:"sellerId"`
	Price    decimal.Decimal `json:"price"`
	Stock    int             `json:"stock"`
}

// StockUpdatedEvent тело product.stock.updated
type StockUpdatedEvent struct {
	ProductID string `json:"productId"`
	OrderID   string `json:"orderId"`
	Applied   int    `json:"applied"`
	Stock     int    `json:"stock"`
}

// OrderItem позиция заказа в сообщениях
type OrderItem struct {
	ProductID string          `json:"productId"`
	SellerID  string          `json:"sellerId,omitempty"`
	Quantity  int             `json:"quantity"`
	Price     decimal.Decimal `json:"price"`
}

// OrderDetailsQuery запрос order.details.request
type OrderDetailsQuery struct {
	OrderID string `json:"orderId"`
}

// OrderDetails ответ на order.details.request
type OrderDetails struct {
	OrderID     string          `json:"orderId"`
	UserID      string          `json:"userId"`
	Status      string          `json:"status"`
	Items       []OrderItem     `json:"items"`
	TotalAmount decimal.Decimal `json:"totalAmount"`
	Currency    string          `json:"currency"`
}

// OrderEvent тело order.completed / order.failed / order.cancelled
type OrderEvent struct {
	OrderID     string          `json:"orderId"`
	UserID      string          `json:"userId"`
	Status      string          `json:"status"`
	Items       []OrderItem     `json:"items,omitempty"`
	TotalAmount decimal.Decimal `json:"totalAmount"`
	Currency    string          `json:"currency"`
	Step        string          `json:"step,omitempty"`
	Reason      string          `json:"reason,omitempty"`
	OccurredAt  time.Time       `json:"occurredAt"`
}

// PaymentCreateCommand запрос payment.create.request
type PaymentCreateCommand struct {
	OrderID        string          `json:"orderId"`
	UserID         string          `json:"userId"`
	Amount         decimal.Decimal `json:"amount"`
	Currency       string          `json:"currency"`
	PaymentMethod  string          `json:"paymentMethod"`
	IdempotencyKey string          `json:"idempotencyKey,omitempty"`
}

// PaymentCreateReply ответ на payment.create.request
type PaymentCreateReply struct {
	PaymentID         string `json:"paymentId"`
	OrderID           string `json:"orderId"`
	Status            string `json:"status,omitempty"`
	ProviderPaymentID string `json:"providerPaymentId,omitempty"`
	ClientToken       string `json:"clientToken,omitempty"`
	RedirectURL       string `json:"redirectUrl,omitempty"`
}

// PaymentCreatedEvent тело payment.created
type PaymentCreatedEvent struct {
	PaymentID         string          `json:"paymentId"`
	OrderID           string          `json:"orderId"`
	Amount            decimal.Decimal `json:"amount"`
	Currency          string          `json:"currency"`
	Method            string          `json:"method"`
	Status            string          `json:"status"`
	ProviderPaymentID string          `json:"providerPaymentId,omitempty"`
}

// Статусы в payment.result
const (
	PaymentResultCompleted = "completed"
	PaymentResultFailed    = "failed"
)

// PaymentResultEvent тело payment.result: подтверждение или отказ провайдера
type PaymentResultEvent struct {
	PaymentID         string    `json:"paymentId"`
	OrderID           string    `json:"orderId"`
	Status            string    `json:"status"`
	ProviderPaymentID string    `json:"providerPaymentId,omitempty"`
	Error             string    `json:"error,omitempty"`
	OccurredAt        time.Time `json:"occurredAt"`
}

// NewEvent заворачивает событие в envelope с type = routing key
func NewEvent(routingKey string, data any) (*transport.Envelope, error) {
	return transport.NewEnvelope(routingKey, "", data)
}

// DecodeEvent разбирает envelope события из доставки
func DecodeEvent[T any](d *transport.Delivery) (T, error) {
	var out T
	env, err := transport.DecodeEnvelope(d.Body)
	if err != nil {
		return out, err
	}
	if err := env.Decode(&out); err != nil {
		return out, err
	}
	return out, nil
}
