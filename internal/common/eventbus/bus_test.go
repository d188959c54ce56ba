package eventbus

import (
	"context"
	"sync"
	"testing"
	"time"

	"admission-pipeline/internal/common/logger"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestBus(t *testing.T) (*RedisBus, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	return NewRedisBus(client, logger.NewTestLogger(t)), mr
}

func TestRedisBus_PublishSubscribe(t *testing.T) {
	bus, _ := newTestBus(t)
	defer bus.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var mu sync.Mutex
	var received [][]byte

	err := bus.Subscribe(ctx, "student.created", func(_ context.Context, payload []byte) {
		mu.Lock()
		received = append(received, payload)
		mu.Unlock()
	})
	require.NoError(t, err)

	err = bus.Publish(ctx, "student.created", map[string]interface{}{
		"studentId": "7f9d0c8e-3b1a-4f6d-9e2c-1a5b8d7c6e4f",
	})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(received) == 1
	}, 2*time.Second, 10*time.Millisecond)

	mu.Lock()
	assert.JSONEq(t, `{"studentId":"7f9d0c8e-3b1a-4f6d-9e2c-1a5b8d7c6e4f"}`, string(received[0]))
	mu.Unlock()
}

func TestRedisBus_TopicIsolation(t *testing.T) {
	bus, _ := newTestBus(t)
	defer bus.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var mu sync.Mutex
	counts := map[string]int{}

	for _, topic := range []string{"student.created", "ocr.completed"} {
		topic := topic
		require.NoError(t, bus.Subscribe(ctx, topic, func(_ context.Context, _ []byte) {
			mu.Lock()
			counts[topic]++
			mu.Unlock()
		}))
	}

	require.NoError(t, bus.Publish(ctx, "ocr.completed", map[string]interface{}{"studentId": "s1"}))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return counts["ocr.completed"] == 1
	}, 2*time.Second, 10*time.Millisecond)

	mu.Lock()
	assert.Zero(t, counts["student.created"])
	mu.Unlock()
}

func TestRedisBus_HandlerPanicDoesNotKillConsumer(t *testing.T) {
	bus, _ := newTestBus(t)
	defer bus.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var mu sync.Mutex
	processed := 0

	require.NoError(t, bus.Subscribe(ctx, "student.created", func(_ context.Context, payload []byte) {
		mu.Lock()
		processed++
		current := processed
		mu.Unlock()
		if current == 1 {
			panic("poison message")
		}
	}))

	require.NoError(t, bus.Publish(ctx, "student.created", map[string]interface{}{"bad": true}))
	require.NoError(t, bus.Publish(ctx, "student.created", map[string]interface{}{"ok": true}))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return processed == 2
	}, 2*time.Second, 10*time.Millisecond)
}
