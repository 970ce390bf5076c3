package order

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/akriventsev/shopsaga/framework/observability"
	"github.com/akriventsev/shopsaga/internal/contracts"
)

func TestHTTPPaymentFallback_CreatePayment(t *testing.T) {
	var got contracts.PaymentCreateCommand
	var correlationID string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/payments", r.URL.Path)
		correlationID = r.Header.Get(observability.CorrelationIDHeader)
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"payment":{"paymentId":"pay-1","clientSecret":"sec_1","providerPaymentId":"pi_1"}}`))
	}))
	defer srv.Close()

	ctx := observability.InjectCorrelationID(context.Background(), "corr-1")
	fb := NewHTTPPaymentFallback(srv.URL+"/", time.Second)
	reply, err := fb.CreatePayment(ctx, contracts.PaymentCreateCommand{
		OrderID:       "order-1",
		UserID:        "user-1",
		Amount:        decimal.RequireFromString("10.50"),
		Currency:      "usd",
		PaymentMethod: "card",
	})
	require.NoError(t, err)

	assert.Equal(t, "pay-1", reply.PaymentID)
	assert.Equal(t, "sec_1", reply.ClientToken)
	assert.Equal(t, "pi_1", reply.ProviderPaymentID)
	assert.Equal(t, "order-1", reply.OrderID)
	assert.Equal(t, "order-1", got.OrderID)
	assert.True(t, got.Amount.Equal(decimal.RequireFromString("10.5")))
	assert.Equal(t, "corr-1", correlationID)
}

func TestHTTPPaymentFallback_ErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte(`{"error":"provider down"}`))
	}))
	defer srv.Close()

	_, err := NewHTTPPaymentFallback(srv.URL, time.Second).CreatePayment(context.Background(),
		contracts.PaymentCreateCommand{OrderID: "order-1"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "provider down")
}
