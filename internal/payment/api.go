package payment

import (
	"crypto/subtle"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"github.com/akriventsev/shopsaga/internal/contracts"
	"github.com/akriventsev/shopsaga/internal/domain"
)

// WebhookSecretHeader заголовок общего секрета webhook
const WebhookSecretHeader = "X-Webhook-Secret"

// API HTTP точка входа payment-service
type API struct {
	service       *Service
	webhookSecret string
}

// NewAPI создает API; пустой webhookSecret отключает проверку заголовка
func NewAPI(s *Service, webhookSecret string) *API {
	return &API{service: s, webhookSecret: webhookSecret}
}

func (a *API) Register(r gin.IRouter) {
	r.POST("/api/payments", a.create)
	r.POST("/api/payments/webhook", a.webhook)
	r.GET("/api/payments/:id", a.get)
}

type paymentView struct {
	PaymentID         string          `json:"paymentId"`
	OrderID           string          `json:"orderId"`
	Status            string          `json:"status"`
	Amount            decimal.Decimal `json:"amount"`
	Currency          string          `json:"currency"`
	Method            string          `json:"method"`
	ProviderPaymentID string          `json:"providerPaymentId,omitempty"`
	ClientSecret      string          `json:"clientSecret,omitempty"`
	Error             string          `json:"error,omitempty"`
	CreatedAt         time.Time       `json:"createdAt"`
	UpdatedAt         time.Time       `json:"updatedAt"`
}

func newPaymentView(p *domain.Payment) paymentView {
	return paymentView{
		PaymentID:         p.ID,
		OrderID:           p.OrderID,
		Status:            string(p.Status()),
		Amount:            p.Amount,
		Currency:          p.Currency,
		Method:            string(p.Method),
		ProviderPaymentID: p.ProviderPaymentID,
		ClientSecret:      p.ClientSecret,
		Error:             p.Error,
		CreatedAt:         p.CreatedAt,
		UpdatedAt:         p.UpdatedAt,
	}
}

// create прямой вызов из order-service в обход шины
func (a *API) create(c *gin.Context) {
	var cmd contracts.PaymentCreateCommand
	if err := c.ShouldBindJSON(&cmd); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if cmd.IdempotencyKey == "" {
		cmd.IdempotencyKey = c.GetHeader("Idempotency-Key")
	}

	p, err := a.service.CreatePayment(c.Request.Context(), cmd)
	switch {
	case errors.Is(err, ErrInvalidRequest):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, ErrLocked):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case err != nil:
		_ = c.Error(err)
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusCreated, gin.H{"payment": newPaymentView(p)})
	}
}

type webhookRequest struct {
	PaymentID         string `json:"paymentId"`
	ProviderPaymentID string `json:"providerPaymentId"`
	Status            string `json:"status" binding:"required"`
	Error             string `json:"error"`
}

// webhook подтверждение провайдера; результат уходит в payment.result
func (a *API) webhook(c *gin.Context) {
	if a.webhookSecret != "" &&
		subtle.ConstantTimeCompare([]byte(c.GetHeader(WebhookSecretHeader)), []byte(a.webhookSecret)) != 1 {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid webhook secret"})
		return
	}
	var req webhookRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	var succeeded bool
	switch req.Status {
	case "succeeded", "completed":
		succeeded = true
	case "failed", "canceled", "cancelled":
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown status " + req.Status})
		return
	}

	p, err := a.service.Confirm(c.Request.Context(), Confirmation{
		PaymentID:         req.PaymentID,
		ProviderPaymentID: req.ProviderPaymentID,
		Succeeded:         succeeded,
		Error:             req.Error,
	})
	switch {
	case errors.Is(err, ErrInvalidRequest):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case err != nil:
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusOK, newPaymentView(p))
	}
}

func (a *API) get(c *gin.Context) {
	p, err := a.service.Get(c.Request.Context(), c.Param("id"))
	switch {
	case errors.Is(err, ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case err != nil:
		_ = c.Error(err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	default:
		c.JSON(http.StatusOK, newPaymentView(p))
	}
}
