package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/zatekoja/patientjourney/internal/domain/entities"
	"github.com/zatekoja/patientjourney/internal/domain/providers"
	redisclient "github.com/zatekoja/patientjourney/internal/infrastructure/clients/redis"
)

// journeyPattern matches the firehose and every per-journey channel
const journeyPattern = providers.EventChannelJourneyPrefix + "*"

// RedisEventBus publishes journey events over Redis Pub/Sub so every API
// instance sees events committed by any other. Each bus holds a single
// pattern subscription, opened on the first Subscribe, and fans received
// events out to its local subscribers.
type RedisEventBus struct {
	client *redisclient.Client
	local  *LocalEventBus

	mu     sync.Mutex
	pubsub *redis.PubSub
	done   chan struct{}
	ctx    context.Context
	cancel context.CancelFunc
}

// NewRedisEventBus creates a new Redis-based event bus
func NewRedisEventBus(client *redisclient.Client) providers.EventBus {
	ctx, cancel := context.WithCancel(context.Background())
	return &RedisEventBus{
		client: client,
		local:  NewLocalEventBus(),
		done:   make(chan struct{}),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Publish sends the event to Redis; local subscribers receive it back
// through the pattern subscription like every other instance.
func (b *RedisEventBus) Publish(ctx context.Context, channel string, event *entities.JourneyEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	if err := b.client.Client().Publish(ctx, channel, data).Err(); err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}

	log.Debug().Str("channel", channel).Str("event_id", event.ID).Str("event_type", string(event.EventType)).Msg("Published journey event")
	return nil
}

// Subscribe subscribes to events on a channel. The returned channel is closed
// when ctx is done or the bus shuts down.
func (b *RedisEventBus) Subscribe(ctx context.Context, channel string) (<-chan *entities.JourneyEvent, error) {
	if err := b.listen(ctx); err != nil {
		return nil, err
	}
	return b.local.Subscribe(ctx, channel)
}

func (b *RedisEventBus) listen(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.pubsub != nil {
		return nil
	}
	if b.ctx.Err() != nil {
		return errors.New("event bus is closed")
	}

	pubsub := b.client.Client().PSubscribe(b.ctx, journeyPattern)
	// Wait for the confirmation so events published right after Subscribe are seen
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return fmt.Errorf("failed to subscribe to %s: %w", journeyPattern, err)
	}

	b.pubsub = pubsub
	go b.receive(pubsub)
	log.Debug().Str("pattern", journeyPattern).Msg("Subscribed to journey events")
	return nil
}

func (b *RedisEventBus) receive(pubsub *redis.PubSub) {
	defer close(b.done)

	for msg := range pubsub.Channel() {
		var event entities.JourneyEvent
		if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
			log.Warn().Err(err).Str("channel", msg.Channel).Msg("Failed to unmarshal journey event")
			continue
		}
		_ = b.local.Publish(b.ctx, msg.Channel, &event)
	}
}

// Unsubscribe drops every local subscriber of a channel
func (b *RedisEventBus) Unsubscribe(ctx context.Context, channel string) error {
	return b.local.Unsubscribe(ctx, channel)
}

// Close ends the pattern subscription and closes all subscribers
func (b *RedisEventBus) Close() error {
	b.cancel()

	b.mu.Lock()
	pubsub := b.pubsub
	b.mu.Unlock()

	var err error
	if pubsub != nil {
		err = pubsub.Close()
		<-b.done
	}
	return errors.Join(err, b.local.Close())
}
