package order

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"github.com/akriventsev/shopsaga/internal/contracts"
	"github.com/akriventsev/shopsaga/internal/domain"
)

// IdempotencyKeyHeader заголовок ключа идемпотентности; имеет приоритет над полем тела
const IdempotencyKeyHeader = "Idempotency-Key"

// API HTTP точка входа order-service
type API struct {
	orchestrator *Orchestrator
}

func NewAPI(o *Orchestrator) *API {
	return &API{orchestrator: o}
}

// Register регистрирует маршруты
func (a *API) Register(r gin.IRouter) {
	r.POST("/api/orders", a.create)
	r.GET("/api/orders/:id", a.get)
	r.POST("/api/orders/:id/cancel", a.cancel)
}

type historyView struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
	Message   string    `json:"message"`
}

type paymentView struct {
	PaymentID         string          `json:"paymentId,omitempty"`
	Status            string          `json:"status"`
	ProviderPaymentID string          `json:"providerPaymentId,omitempty"`
	ClientSecret      string          `json:"clientSecret,omitempty"`
	Amount            decimal.Decimal `json:"amount"`
	RedirectURL       string          `json:"redirectUrl,omitempty"`
}

type errorView struct {
	Message   string    `json:"message"`
	Step      string    `json:"step"`
	Timestamp time.Time `json:"timestamp"`
}

type orderView struct {
	ID             string                `json:"id"`
	UserID         string                `json:"userId"`
	Status         string                `json:"status"`
	Items          []contracts.OrderItem `json:"items"`
	TotalAmount    decimal.Decimal       `json:"totalAmount"`
	Currency       string                `json:"currency"`
	PaymentMethod  string                `json:"paymentMethod"`
	Payment        *paymentView          `json:"payment,omitempty"`
	IdempotencyKey string                `json:"idempotencyKey,omitempty"`
	SagaID         string                `json:"sagaId,omitempty"`
	Error          *errorView            `json:"error,omitempty"`
	StatusHistory  []historyView         `json:"statusHistory"`
	CreatedAt      time.Time             `json:"createdAt"`
	UpdatedAt      time.Time             `json:"updatedAt"`
}

func newOrderView(o *domain.Order) orderView {
	v := orderView{
		ID:             o.ID,
		UserID:         o.UserID,
		Status:         string(o.Status()),
		Items:          contractItems(o.Items),
		TotalAmount:    o.TotalAmount,
		Currency:       o.Currency,
		PaymentMethod:  string(o.PaymentMethod),
		IdempotencyKey: o.IdempotencyKey,
		SagaID:         o.SagaID,
		CreatedAt:      o.CreatedAt,
		UpdatedAt:      o.UpdatedAt,
	}
	for _, h := range o.History() {
		v.StatusHistory = append(v.StatusHistory, historyView{Status: string(h.State), Timestamp: h.Timestamp, Message: h.Message})
	}
	if p := o.Payment; p != nil {
		v.Payment = &paymentView{
			PaymentID:         p.PaymentID,
			Status:            p.Status,
			ProviderPaymentID: p.ProviderPaymentID,
			ClientSecret:      p.ClientSecret,
			Amount:            p.Amount,
			RedirectURL:       p.RedirectURL,
		}
	}
	if e := o.Error; e != nil {
		v.Error = &errorView{Message: e.Message, Step: e.Step, Timestamp: e.Timestamp}
	}
	return v
}

func (a *API) create(c *gin.Context) {
	var cmd CreateOrderCommand
	if err := c.ShouldBindJSON(&cmd); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if key := c.GetHeader(IdempotencyKeyHeader); key != "" {
		cmd.IdempotencyKey = key
	}

	ord, err := a.orchestrator.Submit(c.Request.Context(), cmd)
	switch {
	case errors.Is(err, ErrInvalidOrder):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case err != nil && ord == nil:
		_ = c.Error(err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create order"})
	default:
		if err != nil {
			_ = c.Error(err)
		}
		c.JSON(http.StatusCreated, newOrderView(ord))
	}
}

func (a *API) get(c *gin.Context) {
	ord, err := a.orchestrator.Get(c.Request.Context(), c.Param("id"))
	switch {
	case errors.Is(err, ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case err != nil:
		_ = c.Error(err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	default:
		c.JSON(http.StatusOK, newOrderView(ord))
	}
}

type cancelRequest struct {
	Reason string `json:"reason"`
}

func (a *API) cancel(c *gin.Context) {
	var req cancelRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}
	ord, err := a.orchestrator.Cancel(c.Request.Context(), c.Param("id"), req.Reason)
	switch {
	case errors.Is(err, ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, ErrNotCancellable):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case err != nil:
		_ = c.Error(err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	default:
		c.JSON(http.StatusOK, newOrderView(ord))
	}
}
