package notify

import (
	"context"
	"fmt"
	"log/slog"

	goredis "github.com/redis/go-redis/v9"
)

// Redis sends hints over Redis pub/sub
type Redis struct {
	client *goredis.Client
	logger *slog.Logger
}

// NewRedis creates a hub on Redis pub/sub
func NewRedis(client *goredis.Client, logger *slog.Logger) *Redis {
	return &Redis{client: client, logger: logger}
}

// Notify publishes on the queue's channel
func (r *Redis) Notify(ctx context.Context, queue string) error {
	if err := r.client.Publish(ctx, Channel(queue), queue).Err(); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", Channel(queue), err)
	}
	return nil
}

// Subscribe subscribes to the channels of queues
func (r *Redis) Subscribe(ctx context.Context, queues []string) (<-chan string, error) {
	index := queueIndex(queues)
	channels := make([]string, 0, len(index))
	for channel := range index {
		channels = append(channels, channel)
	}

	ps := r.client.Subscribe(ctx, channels...)
	// wait for the subscription confirmation so no hint published after return is missed
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, fmt.Errorf("failed to subscribe: %w", err)
	}

	out := make(chan string, subscriberBuffer)
	go func() {
		defer close(out)
		defer ps.Close()

		messages := ps.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-messages:
				if !ok {
					r.logger.Warn("Redis subscription closed")
					return
				}
				if q, known := index[msg.Channel]; known {
					offer(out, q)
				}
			}
		}
	}()
	return out, nil
}

// Close is a no-op; the client is owned by the caller
func (r *Redis) Close() error {
	return nil
}
