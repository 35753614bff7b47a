package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/cuongbtq/jobvault/shared/rabbitmq"
)

type enqueueEvent struct {
	Queue string `json:"queue"`
}

// RabbitMQ fans hints out over a topic exchange keyed by channel name
type RabbitMQ struct {
	client *rabbitmq.Client
	logger *slog.Logger
}

// NewRabbitMQ creates a hub on a RabbitMQ topic exchange
func NewRabbitMQ(client *rabbitmq.Client, logger *slog.Logger) *RabbitMQ {
	return &RabbitMQ{client: client, logger: logger}
}

// Notify publishes an enqueue event with the queue's channel as routing key
func (r *RabbitMQ) Notify(ctx context.Context, queue string) error {
	body, err := json.Marshal(enqueueEvent{Queue: queue})
	if err != nil {
		return fmt.Errorf("failed to marshal enqueue event: %w", err)
	}
	return r.client.PublishWithRetry(ctx, Channel(queue), body)
}

// Subscribe binds an exclusive queue to the channels of queues
func (r *RabbitMQ) Subscribe(ctx context.Context, queues []string) (<-chan string, error) {
	index := queueIndex(queues)
	keys := make([]string, 0, len(index))
	for channel := range index {
		keys = append(keys, channel)
	}

	deliveries, err := r.client.Subscribe(keys)
	if err != nil {
		return nil, err
	}

	out := make(chan string, subscriberBuffer)
	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case d, ok := <-deliveries:
				if !ok {
					r.logger.Warn("RabbitMQ delivery channel closed")
					return
				}
				if q, known := index[d.RoutingKey]; known {
					offer(out, q)
				}
			}
		}
	}()
	return out, nil
}

// Close is a no-op; the client is owned by the caller
func (r *RabbitMQ) Close() error {
	return nil
}
