// Package relay пересылает события жизненного цикла заказа в Kafka для внешних потребителей (уведомления, аналитика).
package relay

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/akriventsev/shopsaga/framework/adapters/messagebus"
	"github.com/akriventsev/shopsaga/framework/transport"
	"github.com/akriventsev/shopsaga/internal/contracts"
)

// LifecycleKeys routing keys, которые уходят в Kafka
var LifecycleKeys = []string{contracts.OrderCompleted, contracts.OrderFailed, contracts.OrderCancelled, contracts.OrderRefundRequired}

// OrderLifecycleRelay ключ сообщения Kafka - id заказа, поэтому события одного заказа
// попадают в одну партицию в порядке публикации
type OrderLifecycleRelay struct {
	forwarder *messagebus.KafkaForwarder
}

func New(bus transport.Subscriber, writer messagebus.MessageWriter, logger zerolog.Logger) *OrderLifecycleRelay {
	forwarder := messagebus.NewKafkaForwarder(bus, writer, logger).WithKeyFunc(orderKey)
	return &OrderLifecycleRelay{forwarder: forwarder}
}

func (r *OrderLifecycleRelay) Start(ctx context.Context) error {
	return r.forwarder.Forward(ctx, contracts.OrderExchange, contracts.QueueLifecycleRelay, LifecycleKeys...)
}

func (r *OrderLifecycleRelay) Stop(ctx context.Context) error {
	return r.forwarder.Stop(ctx)
}

func orderKey(d *transport.Delivery) []byte {
	ev, err := contracts.DecodeEvent[contracts.OrderEvent](d)
	if err != nil || ev.OrderID == "" {
		return []byte(d.RoutingKey)
	}
	return []byte(ev.OrderID)
}
