package relay

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	fwtesting "github.com/akriventsev/shopsaga/framework/testing"
	"github.com/akriventsev/shopsaga/internal/contracts"
)

type captureWriter struct {
	mu   sync.Mutex
	msgs []kafka.Message
}

func (w *captureWriter) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *captureWriter) Close() error { return nil }

func (w *captureWriter) keys() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	var out []string
	for _, m := range w.msgs {
		out = append(out, string(m.Key))
	}
	return out
}

func TestOrderLifecycleRelay(t *testing.T) {
	ctx := context.Background()
	bus := fwtesting.NewInMemoryBus(t)

	writer := &captureWriter{}
	r := New(bus, writer, zerolog.Nop())
	require.NoError(t, r.Start(ctx))

	for _, key := range []string{contracts.OrderCompleted, contracts.OrderFailed, contracts.OrderRefundRequired, contracts.OrderDetailsRequest} {
		ev, err := contracts.NewEvent(key, contracts.OrderEvent{OrderID: "order-" + key})
		require.NoError(t, err)
		require.NoError(t, bus.Publish(ctx, contracts.OrderExchange, key, ev))
	}

	assert.Eventually(t, func() bool { return len(writer.keys()) == 3 }, time.Second, 10*time.Millisecond)
	assert.ElementsMatch(t, []string{"order-order.completed", "order-order.failed", "order-order.refund_required"}, writer.keys())
	require.NoError(t, r.Stop(ctx))
}
