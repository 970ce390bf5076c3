package order

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/akriventsev/shopsaga/framework/observability"
	"github.com/akriventsev/shopsaga/internal/contracts"
)

// PaymentFallback прямой вызов payment-service в обход шины
type PaymentFallback interface {
	CreatePayment(ctx context.Context, cmd contracts.PaymentCreateCommand) (contracts.PaymentCreateReply, error)
}

// HTTPPaymentFallback вызывает POST {baseURL}/api/payments
type HTTPPaymentFallback struct {
	baseURL string
	client  *http.Client
	tracer  trace.Tracer
}

// NewHTTPPaymentFallback создает клиент; timeout ограничивает весь вызов
func NewHTTPPaymentFallback(baseURL string, timeout time.Duration) *HTTPPaymentFallback {
	return &HTTPPaymentFallback{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
		tracer:  otel.Tracer("shopsaga/order"),
	}
}

type fallbackResponse struct {
	Payment struct {
		PaymentID         string `json:"paymentId"`
		ClientSecret      string `json:"clientSecret"`
		ProviderPaymentID string `json:"providerPaymentId"`
		RedirectURL       string `json:"redirectUrl,omitempty"`
	} `json:"payment"`
	Error string `json:"error,omitempty"`
}

func (f *HTTPPaymentFallback) CreatePayment(ctx context.Context, cmd contracts.PaymentCreateCommand) (contracts.PaymentCreateReply, error) {
	url := f.baseURL + "/api/payments"
	ctx, span := f.tracer.Start(ctx, "payment.fallback", trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()
	span.SetAttributes(attribute.String("http.url", url), attribute.String("order.id", cmd.OrderID))

	fail := func(err error) (contracts.PaymentCreateReply, error) {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return contracts.PaymentCreateReply{}, err
	}

	body, err := json.Marshal(cmd)
	if err != nil {
		return fail(err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fail(err)
	}
	req.Header.Set("Content-Type", "application/json")
	if cmd.IdempotencyKey != "" {
		req.Header.Set("Idempotency-Key", cmd.IdempotencyKey)
	}
	observability.PropagateCorrelationID(ctx, req.Header)

	resp, err := f.client.Do(req)
	if err != nil {
		return fail(fmt.Errorf("payment fallback request failed: %w", err))
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fail(fmt.Errorf("failed to read payment fallback response: %w", err))
	}
	var out fallbackResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return fail(fmt.Errorf("invalid payment fallback response (status %d): %w", resp.StatusCode, err))
	}
	if resp.StatusCode >= 300 {
		return fail(fmt.Errorf("payment fallback returned status %s: %s", resp.Status, out.Error))
	}

	return contracts.PaymentCreateReply{
		PaymentID:         out.Payment.PaymentID,
		OrderID:           cmd.OrderID,
		ProviderPaymentID: out.Payment.ProviderPaymentID,
		ClientToken:       out.Payment.ClientSecret,
		RedirectURL:       out.Payment.RedirectURL,
	}, nil
}
