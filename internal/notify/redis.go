package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// publishTimeout bounds a single Redis publish so a slow server only delays
// the notification, never the caller for long
const publishTimeout = 2 * time.Second

// RedisHub publishes events on a Redis channel and relays everything
// received on that channel to local subscribers, so several server
// processes share one event stream.
type RedisHub struct {
	client  *redis.Client
	channel string
	local   *MemoryHub
	pubsub  *redis.PubSub
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewRedisHub subscribes to channel and starts relaying messages
func NewRedisHub(ctx context.Context, client *redis.Client, channel string) (*RedisHub, error) {
	pubsub := client.Subscribe(ctx, channel)
	// Wait for the subscription to be confirmed before returning
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return nil, fmt.Errorf("failed to subscribe to %s: %w", channel, err)
	}

	relayCtx, cancel := context.WithCancel(context.Background())
	h := &RedisHub{
		client:  client,
		channel: channel,
		local:   NewMemoryHub(),
		pubsub:  pubsub,
		cancel:  cancel,
	}

	h.wg.Add(1)
	go h.relay(relayCtx)

	log.Info().Str("channel", channel).Msg("redis notification hub started")
	return h, nil
}

// Publish sends event to the shared channel. Failures are logged only.
func (h *RedisHub) Publish(ctx context.Context, event Event) {
	payload, err := encodeEvent(event)
	if err != nil {
		log.Warn().Err(err).Str("type", event.Type).Msg("failed to encode event")
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
	defer cancel()
	if err := h.client.Publish(ctx, h.channel, payload).Err(); err != nil {
		log.Warn().Err(err).Str("channel", h.channel).Msg("failed to publish event")
	}
}

// Subscribe implements Hub
func (h *RedisHub) Subscribe(ctx context.Context) (<-chan Event, func()) {
	return h.local.Subscribe(ctx)
}

// Close stops relaying and ends local subscriptions. The Redis client is
// owned by the caller.
func (h *RedisHub) Close() error {
	h.cancel()
	err := h.pubsub.Close()
	h.wg.Wait()
	h.local.Close()
	return err
}

func (h *RedisHub) relay(ctx context.Context) {
	defer h.wg.Done()

	messages := h.pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-messages:
			if !ok {
				return
			}
			event, err := decodeEvent(msg.Payload)
			if err != nil {
				log.Warn().Err(err).Str("channel", msg.Channel).Msg("dropping malformed event")
				continue
			}
			h.local.Publish(ctx, event)
		}
	}
}

func encodeEvent(event Event) (string, error) {
	data, err := json.Marshal(event)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func decodeEvent(payload string) (Event, error) {
	var event Event
	if err := json.Unmarshal([]byte(payload), &event); err != nil {
		return Event{}, err
	}
	if event.Type == "" {
		return Event{}, fmt.Errorf("event has no type")
	}
	return event, nil
}
