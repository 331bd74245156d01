package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"inkediin-backend/config"
)

// RedisBroker publishes messages on a per-user Redis channel so every API
// instance can serve the user's sessions.
type RedisBroker struct {
	client *redis.Client
	prefix string
}

// NewRedisClient connects to the configured Redis server. It returns nil when
// no address is configured or the server does not answer a ping, in which case
// callers fall back to the in-memory broker.
func NewRedisClient(cfg config.RedisConfig) *redis.Client {
	if cfg.Addr == "" {
		return nil
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		log.Printf("realtime: redis at %s unavailable: %v", cfg.Addr, err)
		_ = client.Close()
		return nil
	}
	return client
}

func NewRedisBroker(client *redis.Client, prefix string) *RedisBroker {
	if prefix == "" {
		prefix = "inkediin"
	}
	return &RedisBroker{client: client, prefix: prefix}
}

// Channel returns the pub/sub channel carrying userID's messages.
func (b *RedisBroker) Channel(userID string) string {
	return fmt.Sprintf("%s:user:%s", b.prefix, userID)
}

func (b *RedisBroker) Publish(ctx context.Context, userID string, msg Message) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to encode message: %w", err)
	}
	if err := b.client.Publish(ctx, b.Channel(userID), payload).Err(); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", b.Channel(userID), err)
	}
	return nil
}

func (b *RedisBroker) Subscribe(ctx context.Context, userID string) (<-chan Message, func(), error) {
	pubsub := b.client.Subscribe(ctx, b.Channel(userID))
	// Wait for the subscription to be confirmed so no message published
	// after Subscribe returns is lost.
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, nil, fmt.Errorf("failed to subscribe to %s: %w", b.Channel(userID), err)
	}

	out := make(chan Message, sessionBuffer)
	done := make(chan struct{})
	go func() {
		defer close(out)
		in := pubsub.Channel()
		for {
			select {
			case raw, ok := <-in:
				if !ok {
					return
				}
				var msg Message
				if err := json.Unmarshal([]byte(raw.Payload), &msg); err != nil {
					log.Printf("realtime: dropping malformed message on %s: %v", raw.Channel, err)
					continue
				}
				select {
				case out <- msg:
				case <-done:
					return
				}
			case <-done:
				return
			}
		}
	}()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			close(done)
			_ = pubsub.Close()
		})
	}
	return out, cancel, nil
}
