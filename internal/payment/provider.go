package payment

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ErrProviderNotConfigured у провайдера нет секретного ключа
var ErrProviderNotConfigured = errors.New("payment provider is not configured")

// IntentRequest запрос на создание намерения оплаты
type IntentRequest struct {
	OrderID        string
	Amount         decimal.Decimal
	Currency       string
	Method         string
	IdempotencyKey string
}

// Intent созданное у провайдера намерение оплаты
type Intent struct {
	ID           string
	ClientSecret string
	RedirectURL  string
}

// Provider платежный провайдер. Внутренности SDK вне области сервиса,
// нужна только возможность создать намерение оплаты.
type Provider interface {
	CreateIntent(ctx context.Context, req IntentRequest) (Intent, error)
}

// SandboxProvider провайдер для локального запуска и тестов.
// Повтор с тем же ключом идемпотентности возвращает то же намерение.
type SandboxProvider struct {
	secretKey string

	mu      sync.Mutex
	intents map[string]Intent
}

func NewSandboxProvider(secretKey string) *SandboxProvider {
	return &SandboxProvider{secretKey: secretKey, intents: make(map[string]Intent)}
}

func (p *SandboxProvider) CreateIntent(ctx context.Context, req IntentRequest) (Intent, error) {
	if p.secretKey == "" {
		return Intent{}, ErrProviderNotConfigured
	}
	if !req.Amount.IsPositive() {
		return Intent{}, fmt.Errorf("invalid amount %s", req.Amount)
	}
	if err := ctx.Err(); err != nil {
		return Intent{}, err
	}

	key := req.IdempotencyKey
	if key == "" {
		key = req.OrderID
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if intent, ok := p.intents[key]; ok {
		return intent, nil
	}

	id := "pi_" + strings.ReplaceAll(uuid.NewString(), "-", "")
	intent := Intent{ID: id, ClientSecret: id + "_secret_" + uuid.NewString()[:8]}
	p.intents[key] = intent
	return intent, nil
}
