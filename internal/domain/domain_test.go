package domain

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/akriventsev/shopsaga/framework/fsm"
)

var t0 = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func newTestOrder() *Order {
	return NewOrder("o-1", "u-1", []OrderItem{
		{ProductID: "p-1", Quantity: 2, Price: decimal.RequireFromString("10.00")},
		{ProductID: "p-2", Quantity: 1, Price: decimal.RequireFromString("5.50")},
	}, "USD", PaymentMethodCard, "key-1", t0)
}

func TestNewOrder(t *testing.T) {
	o := newTestOrder()
	assert.Equal(t, OrderStatusPending, o.Status())
	require.Len(t, o.History(), 1)
	assert.True(t, decimal.RequireFromString("25.50").Equal(o.TotalAmount))
	assert.Nil(t, o.Payment)
}

func TestOrder_TransitionTo(t *testing.T) {
	o := newTestOrder()
	require.NoError(t, o.TransitionTo(OrderStatusStockValidating, "", t0.Add(time.Second)))
	require.NoError(t, o.TransitionTo(OrderStatusStockValidated, "Stock validated", t0.Add(2*time.Second)))
	require.NoError(t, o.TransitionTo(OrderStatusPaymentPending, "", t0.Add(3*time.Second)))

	err := o.TransitionTo(OrderStatusStockValidating, "", t0.Add(4*time.Second))
	require.ErrorIs(t, err, fsm.ErrInvalidTransition)
	assert.Equal(t, OrderStatusPaymentPending, o.Status())

	history := o.History()
	require.Len(t, history, 4)
	assert.Equal(t, "Stock validated", history[2].Message)
	assert.Equal(t, "Order status changed to payment_pending", history[3].Message)
	assert.Equal(t, t0.Add(3*time.Second), o.UpdatedAt)
}

func TestOrder_TerminalStatesAreFinal(t *testing.T) {
	for _, terminal := range []OrderStatus{OrderStatusCompleted, OrderStatusFailed, OrderStatusCancelled} {
		for _, to := range []OrderStatus{OrderStatusPending, OrderStatusPaymentPending, OrderStatusCompleted, OrderStatusFailed} {
			assert.False(t, OrderTransitions.CanTransition(terminal, to), "%s -> %s", terminal, to)
		}
	}
	assert.False(t, OrderTransitions.CanTransition(OrderStatusPaymentCompleted, OrderStatusCancelled))
}

func TestOrder_Fail(t *testing.T) {
	o := newTestOrder()
	require.NoError(t, o.TransitionTo(OrderStatusStockValidating, "", t0))
	require.NoError(t, o.Fail("validation", "p-1: Product not found", t0.Add(time.Second)))

	assert.Equal(t, OrderStatusFailed, o.Status())
	require.NotNil(t, o.Error)
	assert.Equal(t, "validation", o.Error.Step)
	assert.True(t, o.IsTerminal())
	assert.Error(t, o.Fail("payment", "again", t0.Add(2*time.Second)))
	assert.Equal(t, "validation", o.Error.Step)
}

func TestOrder_Reprice(t *testing.T) {
	o := newTestOrder()
	o.Reprice(map[string]ItemPrice{
		"p-1": {Price: decimal.RequireFromString("12.00"), SellerID: "s-9"},
	})
	assert.Equal(t, "s-9", o.Items[0].SellerID)
	assert.True(t, decimal.RequireFromString("29.50").Equal(o.TotalAmount))
}

func TestOrder_CloneIsIndependent(t *testing.T) {
	o := newTestOrder()
	c := o.Clone()
	require.NoError(t, c.TransitionTo(OrderStatusCancelled, "", t0))
	c.Items[0].Quantity = 99

	assert.Equal(t, OrderStatusPending, o.Status())
	assert.Equal(t, 2, o.Items[0].Quantity)
	assert.Len(t, o.History(), 1)
}

func TestRestoreOrder(t *testing.T) {
	_, err := RestoreOrder(Order{ID: "x"}, OrderStatusPending, nil)
	assert.Error(t, err)

	o, err := RestoreOrder(Order{ID: "x"}, OrderStatusStockValidated, []StatusChange{
		{State: OrderStatusPending, Timestamp: t0},
		{State: OrderStatusStockValidating, Timestamp: t0},
		{State: OrderStatusStockValidated, Timestamp: t0},
	})
	require.NoError(t, err)
	assert.Equal(t, OrderStatusStockValidated, o.Status())
	assert.NoError(t, o.TransitionTo(OrderStatusCompleted, "", t0))
}

func TestParse(t *testing.T) {
	_, err := ParseOrderStatus("shipped")
	assert.Error(t, err)
	s, err := ParseOrderStatus("payment_pending")
	require.NoError(t, err)
	assert.Equal(t, OrderStatusPaymentPending, s)

	m, err := ParsePaymentMethod("stripe")
	require.NoError(t, err)
	assert.True(t, m.RequiresProvider())
	assert.False(t, PaymentMethodCash.RequiresProvider())
	_, err = ParsePaymentMethod("barter")
	assert.Error(t, err)
}

func TestPayment_ForwardOnly(t *testing.T) {
	p := NewPayment("pay-1", "o-1", "u-1", decimal.NewFromInt(10), "USD", PaymentMethodCard, PaymentStatusPending, t0)
	require.NoError(t, p.TransitionTo(PaymentStatusCompleted, "", t0.Add(time.Second)))
	assert.True(t, p.IsFinal())

	err := p.TransitionTo(PaymentStatusFailed, "", t0.Add(2*time.Second))
	require.ErrorIs(t, err, fsm.ErrInvalidTransition)
	assert.Equal(t, PaymentStatusCompleted, p.Status())
	assert.Len(t, p.History(), 2)

	assert.False(t, PaymentTransitions.CanTransition(PaymentStatusPending, PaymentStatusCreated))
}

func TestStockDecrement_Shortfall(t *testing.T) {
	assert.Equal(t, 2, StockDecrement{Requested: 7, Applied: 5}.Shortfall())
}
