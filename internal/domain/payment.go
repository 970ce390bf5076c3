package domain

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/akriventsev/shopsaga/framework/fsm"
)

// PaymentStatus статус платежа
type PaymentStatus string

const (
	PaymentStatusCreated   PaymentStatus = "created"
	PaymentStatusApproved  PaymentStatus = "approved"
	PaymentStatusPending   PaymentStatus = "pending"
	PaymentStatusCompleted PaymentStatus = "completed"
	PaymentStatusFailed    PaymentStatus = "failed"
	PaymentStatusCancelled PaymentStatus = "cancelled"
)

// PaymentTransitions переходы платежа только вперед, completed неизменяем
var PaymentTransitions = fsm.NewTable[PaymentStatus]("payment").
	Allow(PaymentStatusCreated, PaymentStatusApproved, PaymentStatusPending, PaymentStatusCompleted, PaymentStatusFailed, PaymentStatusCancelled).
	Allow(PaymentStatusApproved, PaymentStatusPending, PaymentStatusCompleted, PaymentStatusFailed, PaymentStatusCancelled).
	Allow(PaymentStatusPending, PaymentStatusCompleted, PaymentStatusFailed, PaymentStatusCancelled).
	Terminal(PaymentStatusCompleted, PaymentStatusFailed, PaymentStatusCancelled)

// PaymentStatusChange запись истории платежа
type PaymentStatusChange = fsm.HistoryEntry[PaymentStatus]

// Payment платеж, принадлежит payment-service
type Payment struct {
	ID                string
	OrderID           string
	UserID            string
	Amount            decimal.Decimal
	Currency          string
	Method            PaymentMethod
	ProviderPaymentID string
	ClientSecret      string
	Error             string
	CreatedAt         time.Time
	UpdatedAt         time.Time

	status *fsm.Machine[PaymentStatus]
}

// NewPayment создает платеж в начальном статусе
func NewPayment(id, orderID, userID string, amount decimal.Decimal, currency string, method PaymentMethod, initial PaymentStatus, now time.Time) *Payment {
	return &Payment{
		ID:        id,
		OrderID:   orderID,
		UserID:    userID,
		Amount:    amount,
		Currency:  currency,
		Method:    method,
		CreatedAt: now,
		UpdatedAt: now,
		status:    fsm.NewMachine(PaymentTransitions, initial, now, "Payment "+string(initial)),
	}
}

// RestorePayment восстанавливает платеж из хранилища
func RestorePayment(p Payment, status PaymentStatus, history []PaymentStatusChange) (*Payment, error) {
	if len(history) == 0 {
		return nil, fmt.Errorf("payment %s has empty status history", p.ID)
	}
	p.status = fsm.Restore(PaymentTransitions, status, history)
	return &p, nil
}

// Status возвращает текущий статус
func (p *Payment) Status() PaymentStatus {
	return p.status.Current()
}

// History возвращает копию истории
func (p *Payment) History() []PaymentStatusChange {
	return p.status.History()
}

// IsFinal истинно для completed, failed и cancelled
func (p *Payment) IsFinal() bool {
	return p.status.IsTerminal()
}

// TransitionTo меняет статус платежа
func (p *Payment) TransitionTo(to PaymentStatus, message string, now time.Time) error {
	if message == "" {
		message = "Payment " + string(to)
	}
	if err := p.status.Transition(to, now, message); err != nil {
		return fmt.Errorf("payment %s: %w", p.ID, err)
	}
	p.UpdatedAt = now
	return nil
}

// Clone возвращает независимую копию
func (p *Payment) Clone() *Payment {
	c := *p
	c.status = fsm.Restore(PaymentTransitions, p.status.Current(), p.status.History())
	return &c
}
