package notify

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/cuongbtq/jobvault/shared/postgresql"
)

const (
	listenerMinReconnect = 100 * time.Millisecond
	listenerMaxReconnect = 10 * time.Second
	listenerPingInterval = 90 * time.Second
)

// Postgres sends hints with pg_notify and receives them with LISTEN
type Postgres struct {
	client *postgresql.Client
	logger *slog.Logger
}

// NewPostgres creates a hub on the job database itself
func NewPostgres(client *postgresql.Client, logger *slog.Logger) *Postgres {
	return &Postgres{client: client, logger: logger}
}

// Notify issues pg_notify on the queue's channel
func (p *Postgres) Notify(ctx context.Context, queue string) error {
	if _, err := p.client.GetDB().ExecContext(ctx, `SELECT pg_notify($1, $2)`, Channel(queue), queue); err != nil {
		return fmt.Errorf("failed to notify %s: %w", queue, err)
	}
	return nil
}

// Subscribe opens a dedicated listener connection for queues
func (p *Postgres) Subscribe(ctx context.Context, queues []string) (<-chan string, error) {
	listener := p.client.NewListener(listenerMinReconnect, listenerMaxReconnect)
	index := queueIndex(queues)

	for channel := range index {
		if err := listener.Listen(channel); err != nil {
			listener.Close()
			return nil, fmt.Errorf("failed to listen on %s: %w", channel, err)
		}
	}

	out := make(chan string, subscriberBuffer)
	go func() {
		defer close(out)
		defer listener.Close()

		ping := time.NewTicker(listenerPingInterval)
		defer ping.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case n, ok := <-listener.Notify:
				if !ok {
					return
				}
				// nil after a reconnect: hints may have been lost, wake every queue
				if n == nil {
					for _, q := range queues {
						offer(out, q)
					}
					continue
				}
				if q, known := index[n.Channel]; known {
					offer(out, q)
				}
			case <-ping.C:
				if err := listener.Ping(); err != nil {
					p.logger.Warn("PostgreSQL listener ping failed", slog.Any("error", err))
				}
			}
		}
	}()
	return out, nil
}

// Close is a no-op; the client is owned by the caller
func (p *Postgres) Close() error {
	return nil
}
