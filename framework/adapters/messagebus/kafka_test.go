package messagebus

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeWriter struct {
	mu       sync.Mutex
	msgs     []kafka.Message
	failures int
	closed   bool
}

func (w *fakeWriter) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.failures > 0 {
		w.failures--
		return errors.New("leader not available")
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *fakeWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.closed = true
	return nil
}

func (w *fakeWriter) written() []kafka.Message {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]kafka.Message(nil), w.msgs...)
}

func TestKafkaForwarder_ForwardsBoundKeys(t *testing.T) {
	ctx := context.Background()
	bus := newTestBus(t)
	writer := &fakeWriter{failures: 1}

	fwd := NewKafkaForwarder(bus, writer, zerolog.Nop())
	require.NoError(t, fwd.Forward(ctx, "order-events", "relay.kafka", "order.completed", "order.failed"))
	require.Error(t, fwd.Forward(ctx, "order-events", "relay.kafka", "order.completed"))

	require.NoError(t, bus.Publish(ctx, "order-events", "order.completed", map[string]string{"orderId": "o-1"}))
	require.NoError(t, bus.Publish(ctx, "order-events", "order.details.request", map[string]string{}))
	require.NoError(t, bus.Publish(ctx, "order-events", "order.failed", map[string]string{"orderId": "o-2"}))

	require.Eventually(t, func() bool { return len(writer.written()) == 2 }, time.Second, 5*time.Millisecond)

	msgs := writer.written()
	keys := []string{string(msgs[0].Key), string(msgs[1].Key)}
	assert.ElementsMatch(t, []string{"order.completed", "order.failed"}, keys)
	assert.Equal(t, "exchange", msgs[0].Headers[0].Key)

	require.NoError(t, fwd.Stop(ctx))
	assert.True(t, writer.closed)
}

func TestKafkaConfig_Validate(t *testing.T) {
	cfg := DefaultKafkaConfig()
	require.NoError(t, cfg.Validate())

	cfg.Brokers = []string{"localhost"}
	assert.Error(t, cfg.Validate())

	cfg = DefaultKafkaConfig()
	cfg.Topic = ""
	assert.Error(t, cfg.Validate())

	_, err := NewKafkaWriter(KafkaConfig{})
	assert.Error(t, err)
}
