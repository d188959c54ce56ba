// internal/common/eventbus/bus.go
package eventbus

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"admission-pipeline/internal/common/logger"
	"admission-pipeline/internal/common/observability"

	"github.com/redis/go-redis/v9"
)

// Handler processes one raw event payload. Handlers own their error
// handling: a handler must validate, process and never panic outward, so the
// bus never redelivers and cannot loop on a poison message.
type Handler func(ctx context.Context, payload []byte)

// Bus is the typed publish/subscribe surface the pipeline consumes events
// from. Backed by Redis pub/sub in production.
type Bus interface {
	Subscribe(ctx context.Context, topic string, handler Handler) error
	Publish(ctx context.Context, topic string, payload interface{}) error
	Close() error
}

// RedisBus implements Bus over Redis pub/sub channels.
type RedisBus struct {
	client *redis.Client
	logger logger.Logger
	obs    *observability.Observability

	mu   sync.Mutex
	subs []*redis.PubSub
	wg   sync.WaitGroup
}

func NewRedisBus(client *redis.Client, log logger.Logger) *RedisBus {
	return &RedisBus{
		client: client,
		logger: log,
	}
}

// WithObservability attaches the OTel recorder; nil leaves dispatch untimed.
func (b *RedisBus) WithObservability(obs *observability.Observability) *RedisBus {
	b.obs = obs
	return b
}

// Subscribe registers handler for topic and starts a consumer goroutine.
// The goroutine exits when ctx is cancelled or the bus closes.
func (b *RedisBus) Subscribe(ctx context.Context, topic string, handler Handler) error {
	pubsub := b.client.Subscribe(ctx, topic)

	// Force the subscription to be established before returning.
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return fmt.Errorf("subscribe to %s: %w", topic, err)
	}

	b.mu.Lock()
	b.subs = append(b.subs, pubsub)
	b.mu.Unlock()

	b.wg.Add(1)
	go b.consume(ctx, topic, pubsub, handler)

	b.logger.Info("Subscribed to topic", map[string]interface{}{
		"topic": topic,
	})
	return nil
}

func (b *RedisBus) consume(ctx context.Context, topic string, pubsub *redis.PubSub, handler Handler) {
	defer b.wg.Done()

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			b.dispatch(ctx, topic, []byte(msg.Payload), handler)
		}
	}
}

// dispatch isolates handler panics so a single bad payload cannot take the
// consumer loop down.
func (b *RedisBus) dispatch(ctx context.Context, topic string, payload []byte, handler Handler) {
	start := time.Now()
	status := "ok"
	defer func() {
		if r := recover(); r != nil {
			status = "panic"
			b.logger.Error("Event handler panicked", map[string]interface{}{
				"topic": topic,
				"panic": fmt.Sprintf("%v", r),
			})
		}
		if b.obs != nil {
			b.obs.RecordEventProcessed(ctx, topic, status)
			b.obs.RecordEventDuration(ctx, topic, time.Since(start))
		}
	}()
	handler(ctx, payload)
}

// Publish marshals payload to JSON and publishes it on topic.
func (b *RedisBus) Publish(ctx context.Context, topic string, payload interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal event for %s: %w", topic, err)
	}
	if err := b.client.Publish(ctx, topic, body).Err(); err != nil {
		return fmt.Errorf("publish to %s: %w", topic, err)
	}
	return nil
}

// Close unsubscribes all consumers and waits for their goroutines.
func (b *RedisBus) Close() error {
	b.mu.Lock()
	subs := b.subs
	b.subs = nil
	b.mu.Unlock()

	for _, s := range subs {
		_ = s.Close()
	}
	b.wg.Wait()
	return nil
}
