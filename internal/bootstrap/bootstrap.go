// Package bootstrap turns loaded configuration into connected clients and
// wired services for the service mains.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/cuongbtq/jobvault/internal/auth"
	"github.com/cuongbtq/jobvault/internal/broker"
	"github.com/cuongbtq/jobvault/internal/config"
	"github.com/cuongbtq/jobvault/internal/notify"
	"github.com/cuongbtq/jobvault/internal/retry"
	"github.com/cuongbtq/jobvault/migrations"
	"github.com/cuongbtq/jobvault/shared/logger"
	"github.com/cuongbtq/jobvault/shared/postgresql"
	"github.com/cuongbtq/jobvault/shared/rabbitmq"
	"github.com/cuongbtq/jobvault/shared/redis"
)

// InitLogger initializes and configures the application logger
func InitLogger(cfg *config.LoggingConfig) (*logger.Logger, error) {
	return logger.New(&logger.Config{
		Level:        cfg.Level,
		Format:       cfg.Format,
		Output:       cfg.Output,
		EnableSource: cfg.EnableCaller,
		TimeFormat:   time.RFC3339,
		NoColor:      cfg.NoColor,
	})
}

// InitPostgreSQL connects to PostgreSQL and applies the embedded schema
// when auto_migrate is set
func InitPostgreSQL(cfg *config.DatabaseConfig, log *slog.Logger) (*postgresql.Client, error) {
	client, err := postgresql.NewClient(&postgresql.Config{
		Host:            cfg.Host,
		Port:            cfg.Port,
		User:            cfg.User,
		Password:        cfg.Password,
		Database:        cfg.Database,
		SSLMode:         cfg.SSLMode,
		MaxOpenConns:    cfg.MaxOpenConns,
		MaxIdleConns:    cfg.MaxIdleConns,
		ConnMaxLifetime: cfg.ConnMaxLifetime,
		ConnMaxIdleTime: cfg.ConnMaxIdleTime,
		ConnectTimeout:  cfg.ConnectTimeout,
	}, log)
	if err != nil {
		return nil, err
	}

	if cfg.AutoMigrate {
		if err := client.Migrate(migrations.FS); err != nil {
			_ = client.Close()
			return nil, err
		}
	}
	return client, nil
}

// InitRabbitMQ initializes the RabbitMQ client
func InitRabbitMQ(cfg *config.RabbitMQConfig, log *slog.Logger) (*rabbitmq.Client, error) {
	return rabbitmq.NewClient(&rabbitmq.Config{
		Host:               cfg.Host,
		Port:               cfg.Port,
		User:               cfg.User,
		Password:           cfg.Password,
		VHost:              cfg.VHost,
		ExchangeName:       cfg.Exchange.Name,
		ExchangeDurable:    cfg.Exchange.Durable,
		RetryAttempts:      cfg.Connection.RetryAttempts,
		RetryInterval:      cfg.Connection.RetryInterval,
		Heartbeat:          cfg.Connection.Heartbeat,
		PublishRetries:     cfg.Publish.RetryAttempts,
		PublishRetryDelay:  cfg.Publish.RetryInterval,
		PublishBackoffMult: cfg.Publish.BackoffMultiplier,
	}, log)
}

// Notifications is an open notification hub plus what it was built on
type Notifications struct {
	Hub notify.Hub
	// Health is nil when the backend has no connection of its own
	Health  func(ctx context.Context) error
	closers []func() error
}

// Close closes the hub and then its backing clients
func (n *Notifications) Close() error {
	errs := []error{n.Hub.Close()}
	for _, c := range n.closers {
		errs = append(errs, c())
	}
	return errors.Join(errs...)
}

// InitNotifications connects the configured notification backend. pg may be
// nil only for the memory backend.
func InitNotifications(ctx context.Context, cfg *config.Config, pg *postgresql.Client, log *slog.Logger) (*Notifications, error) {
	n := &Notifications{}
	backends := notify.Backends{Postgres: pg}

	switch cfg.Notify.Backend {
	case config.NotifyRabbitMQ:
		client, err := InitRabbitMQ(&cfg.RabbitMQ, log)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize RabbitMQ: %w", err)
		}
		backends.RabbitMQ = client
		n.closers = append(n.closers, client.Close)
		n.Health = func(context.Context) error {
			if !client.IsConnected() {
				return rabbitmq.ErrNotConnected
			}
			return nil
		}
	case config.NotifyRedis:
		client, err := redis.Connect(ctx, &redis.Config{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			Timeout:  cfg.Redis.Timeout,
		}, log)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize Redis: %w", err)
		}
		backends.Redis = client
		n.closers = append(n.closers, client.Close)
		n.Health = func(ctx context.Context) error {
			return client.Ping(ctx).Err()
		}
	}

	hub, err := notify.Open(cfg.Notify.Backend, backends, log)
	if err != nil {
		for _, c := range n.closers {
			_ = c()
		}
		return nil, err
	}
	n.Hub = hub

	log.Info("Notification channel ready", slog.String("backend", cfg.Notify.Backend))
	return n, nil
}

// RetryPolicy converts the store retry settings
func RetryPolicy(cfg config.RetryConfig) retry.Policy {
	p := retry.DefaultPolicy
	if cfg.MaxAttempts > 0 {
		p.MaxAttempts = cfg.MaxAttempts
	}
	if cfg.BaseDelay > 0 {
		p.BaseDelay = cfg.BaseDelay
	}
	if cfg.MaxDelay > 0 {
		p.MaxDelay = cfg.MaxDelay
	}
	return p
}

// AuthConfig converts the token service settings
func AuthConfig(cfg *config.AuthConfig) auth.Config {
	return auth.Config{
		Secret:            []byte(cfg.Secret),
		TokenTTL:          cfg.TokenTTL,
		BcryptCost:        cfg.BcryptCost,
		PasswordMinLength: cfg.PasswordMinLength,
	}
}

// BrokerConfig converts the broker settings. An empty worker_id becomes
// hostname-pid so that lease ownership stays distinct per process.
func BrokerConfig(cfg *config.Config) broker.Config {
	workerID := cfg.Broker.WorkerID
	if workerID == "" {
		host, err := os.Hostname()
		if err != nil {
			host = "worker"
		}
		workerID = fmt.Sprintf("%s-%d", host, os.Getpid())
	}

	return broker.Config{
		WorkerID:          workerID,
		Queues:            cfg.Broker.Queues,
		Concurrency:       cfg.Broker.Concurrency,
		PollInterval:      cfg.Broker.PollInterval,
		JobTimeout:        cfg.Broker.JobTimeout,
		ResultTTL:         cfg.Broker.ResultTTL,
		LeaseDuration:     cfg.Broker.StaleAfter,
		HeartbeatInterval: cfg.Broker.HeartbeatInterval,
		ReclaimInterval:   cfg.Broker.ReclaimInterval,
		Retry:             RetryPolicy(cfg.Database.Retry),
	}
}

// NewHTTPServer creates the HTTP server for handler
func NewHTTPServer(cfg *config.ServerConfig, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      handler,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}
}

// Serve runs srv until ctx is done and then shuts it down within shutdownTimeout
func Serve(ctx context.Context, srv *http.Server, shutdownTimeout time.Duration, log *slog.Logger) error {
	errCh := make(chan error, 1)
	go func() {
		log.Info("Starting HTTP server", slog.String("address", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok {
			return fmt.Errorf("http server on %s failed: %w", srv.Addr, err)
		}
		return nil
	case <-ctx.Done():
	}

	log.Info("Shutting down HTTP server", slog.String("address", srv.Addr))
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("Server forced to shutdown", slog.Any("error", err))
		return err
	}
	return nil
}
