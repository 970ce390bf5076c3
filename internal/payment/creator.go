package payment

import (
	"context"

	"github.com/akriventsev/shopsaga/internal/contracts"
	"github.com/akriventsev/shopsaga/internal/domain"
)

// Creator отвечает на payment.create.request
type Creator struct {
	service *Service
}

func NewCreator(s *Service) *Creator {
	return &Creator{service: s}
}

// Create для cash возвращает только идентификаторы, для остальных способов еще
// ссылку на провайдера и клиентский токен. Ошибка провайдера уходит в data.error ответа.
func (c *Creator) Create(ctx context.Context, cmd contracts.PaymentCreateCommand) (contracts.PaymentCreateReply, error) {
	p, err := c.service.CreatePayment(ctx, cmd)
	if err != nil {
		return contracts.PaymentCreateReply{}, err
	}
	return createReply(p), nil
}

func createReply(p *domain.Payment) contracts.PaymentCreateReply {
	reply := contracts.PaymentCreateReply{PaymentID: p.ID, OrderID: p.OrderID}
	if p.Method.RequiresProvider() {
		reply.Status = string(p.Status())
		reply.ProviderPaymentID = p.ProviderPaymentID
		reply.ClientToken = p.ClientSecret
	}
	return reply
}
