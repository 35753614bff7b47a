// Package notify carries "work was enqueued on queue X" hints from producers
// to brokers. Hints are lossy: a broker that misses one still finds the work
// on its next poll, so no backend here needs delivery guarantees.
package notify

import (
	"context"
	"fmt"
	"log/slog"

	goredis "github.com/redis/go-redis/v9"

	"github.com/cuongbtq/jobvault/shared/postgresql"
	"github.com/cuongbtq/jobvault/shared/rabbitmq"
)

// Backend names accepted by Open
const (
	BackendPostgres = "postgres"
	BackendRabbitMQ = "rabbitmq"
	BackendRedis    = "redis"
	BackendMemory   = "memory"
)

// Notifier publishes an enqueue hint for a queue
type Notifier interface {
	Notify(ctx context.Context, queue string) error
}

// Subscriber delivers the names of queues that received work. The returned
// channel is closed once ctx is done or the subscription fails for good.
type Subscriber interface {
	Subscribe(ctx context.Context, queues []string) (<-chan string, error)
}

// Hub is a notification backend usable from both sides
type Hub interface {
	Notifier
	Subscriber
	Close() error
}

// Channel is the notification channel name for a queue
func Channel(queue string) string {
	return "jobvault." + queue + ".enqueue"
}

// Backends holds the already connected clients a hub may be built on
type Backends struct {
	Postgres *postgresql.Client
	RabbitMQ *rabbitmq.Client
	Redis    *goredis.Client
}

// Open builds the hub named by backend
func Open(backend string, b Backends, logger *slog.Logger) (Hub, error) {
	switch backend {
	case BackendPostgres, "":
		if b.Postgres == nil {
			return nil, fmt.Errorf("notify backend %q requires a PostgreSQL client", backend)
		}
		return NewPostgres(b.Postgres, logger), nil
	case BackendRabbitMQ:
		if b.RabbitMQ == nil {
			return nil, fmt.Errorf("notify backend %q requires a RabbitMQ client", backend)
		}
		return NewRabbitMQ(b.RabbitMQ, logger), nil
	case BackendRedis:
		if b.Redis == nil {
			return nil, fmt.Errorf("notify backend %q requires a Redis client", backend)
		}
		return NewRedis(b.Redis, logger), nil
	case BackendMemory:
		return NewMemory(), nil
	default:
		return nil, fmt.Errorf("unknown notify backend %q", backend)
	}
}

// queueIndex maps channel names back to queue names
func queueIndex(queues []string) map[string]string {
	index := make(map[string]string, len(queues))
	for _, q := range queues {
		index[Channel(q)] = q
	}
	return index
}

// offer sends queue on out without blocking; a full buffer already holds a wake-up
func offer(out chan<- string, queue string) {
	select {
	case out <- queue:
	default:
	}
}
