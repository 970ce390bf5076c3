package product

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"github.com/akriventsev/shopsaga/framework/invoke"
	"github.com/akriventsev/shopsaga/framework/metrics"
	"github.com/akriventsev/shopsaga/framework/transport"
	"github.com/akriventsev/shopsaga/internal/contracts"
)

// OrderDetailsFetcher получает авторитетные данные заказа
type OrderDetailsFetcher func(ctx context.Context, orderID string) (contracts.OrderDetails, error)

// RequestOrderDetails fetcher поверх Requester: order.details.request в order-events
func RequestOrderDetails(r *invoke.Requester, timeout time.Duration) OrderDetailsFetcher {
	return func(ctx context.Context, orderID string) (contracts.OrderDetails, error) {
		return invoke.Call[contracts.OrderDetails](ctx, r, contracts.OrderExchange, contracts.OrderDetailsRequest,
			contracts.OrderDetailsQuery{OrderID: orderID}, timeout)
	}
}

// StockReducer списывает остатки по событию order.completed
type StockReducer struct {
	repo      Repository
	fetch     OrderDetailsFetcher
	publisher transport.Publisher
	logger    zerolog.Logger
	metrics   *metrics.Metrics
}

// NewStockReducer создает обработчик
func NewStockReducer(repo Repository, fetch OrderDetailsFetcher, pub transport.Publisher, logger zerolog.Logger, m *metrics.Metrics) *StockReducer {
	return &StockReducer{
		repo:      repo,
		fetch:     fetch,
		publisher: pub,
		logger:    logger.With().Str("component", "stock-reducer").Logger(),
		metrics:   m,
	}
}

// Handle обрабатывает order.completed. Позиции списываются независимо; сбой одной позиции
// по причине, отличной от отсутствия товара, возвращает сообщение в очередь, а журнал
// списаний не дает повторно уменьшить уже обработанные позиции.
func (s *StockReducer) Handle(ctx context.Context, d *transport.Delivery) transport.Result {
	event, err := contracts.DecodeEvent[contracts.OrderEvent](d)
	if err != nil {
		return transport.Drop(err)
	}
	if event.OrderID == "" {
		return transport.Drop(errors.New("order.completed without orderId"))
	}
	log := s.logger.With().Str("order_id", event.OrderID).Logger()

	order, err := s.fetch(ctx, event.OrderID)
	switch {
	case invoke.IsResponderError(err):
		log.Error().Err(err).Msg("order details unavailable, skipping stock reduction")
		return transport.Drop(err)
	case err != nil:
		return transport.Retry(err)
	}

	if order.Status != "completed" {
		log.Warn().Str("status", order.Status).Msg("order is not completed, stock left untouched")
		return transport.Ack()
	}

	var transient error
	for _, item := range mergeItems(order.Items) {
		res, err := s.repo.DecrementStock(ctx, order.OrderID, item.ProductID, item.Quantity)
		itemLog := log.With().Str("product_id", item.ProductID).Int("quantity", item.Quantity).Logger()
		switch {
		case errors.Is(err, ErrNotFound):
			s.metrics.RecordStockDecrement(ctx, "not_found", item.Quantity)
			itemLog.Error().Err(err).Msg("stock reduction failed")
			continue
		case err != nil:
			s.metrics.RecordStockDecrement(ctx, "error", item.Quantity)
			itemLog.Error().Err(err).Msg("stock reduction failed")
			transient = errors.Join(transient, err)
			continue
		case res.AlreadyApplied:
			s.metrics.RecordStockDecrement(ctx, "duplicate", 0)
			itemLog.Info().Int("applied", res.Applied).Msg("stock already reduced for this order")
			continue
		}

		outcome := "ok"
		if res.Shortfall() > 0 {
			outcome = "clamped"
			itemLog.Warn().Int("applied", res.Applied).Int("shortfall", res.Shortfall()).Msg("stock clamped at zero")
		} else {
			itemLog.Info().Int("remaining", res.Remaining).Msg("stock reduced")
		}
		s.metrics.RecordStockDecrement(ctx, outcome, res.Shortfall())

		updated, err := contracts.NewEvent(contracts.ProductStockUpdated, contracts.StockUpdatedEvent{
			ProductID: item.ProductID,
			OrderID:   order.OrderID,
			Applied:   res.Applied,
			Stock:     res.Remaining,
		})
		if err == nil {
			err = s.publisher.Publish(ctx, contracts.ProductExchange, contracts.ProductStockUpdated, updated)
		}
		if err != nil {
			itemLog.Warn().Err(err).Msg("failed to publish stock update")
		}
	}

	if transient != nil {
		return transport.Retry(transient)
	}
	return transport.Ack()
}

// mergeItems сводит позиции одного товара в одну: журнал списаний ведется по паре заказ/товар
func mergeItems(items []contracts.OrderItem) []contracts.OrderItem {
	merged := make([]contracts.OrderItem, 0, len(items))
	index := make(map[string]int, len(items))
	for _, it := range items {
		if i, ok := index[it.ProductID]; ok {
			merged[i].Quantity += it.Quantity
			continue
		}
		index[it.ProductID] = len(merged)
		merged = append(merged, it)
	}
	return merged
}
