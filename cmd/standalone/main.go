// Command standalone runs the API and a broker in one process on the
// in-memory store and notification hub. Nothing survives a restart; it is
// meant for local development and demos.
package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"log"
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"github.com/cuongbtq/jobvault/internal/actors"
	"github.com/cuongbtq/jobvault/internal/api/handler"
	"github.com/cuongbtq/jobvault/internal/api/router"
	"github.com/cuongbtq/jobvault/internal/auth"
	"github.com/cuongbtq/jobvault/internal/bootstrap"
	"github.com/cuongbtq/jobvault/internal/broker"
	"github.com/cuongbtq/jobvault/internal/config"
	"github.com/cuongbtq/jobvault/internal/jobs"
	"github.com/cuongbtq/jobvault/internal/notify"
	"github.com/cuongbtq/jobvault/internal/policy"
	"github.com/cuongbtq/jobvault/internal/profile"
	"github.com/cuongbtq/jobvault/internal/storage"
)

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	_ = godotenv.Load()

	configPath := flag.String("config", "configs/standalone/config.yaml", "Path to configuration file")
	flag.Parse()

	cfg, err := loadConfig(*configPath)
	if err != nil {
		return err
	}

	appLogger, err := bootstrap.InitLogger(&cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer appLogger.Close()

	if cfg.Auth.Secret == "" {
		secret := make([]byte, config.MinSecretLength)
		if _, err := rand.Read(secret); err != nil {
			return fmt.Errorf("failed to generate signing secret: %w", err)
		}
		cfg.Auth.Secret = hex.EncodeToString(secret)
		appLogger.Warn("No signing secret configured, tokens will not survive a restart")
	}
	if len(cfg.Broker.Queues) == 0 {
		cfg.Broker.Queues = []string{actors.JobQueue}
	}

	registry := broker.NewRegistry()
	if err := actors.Register(registry); err != nil {
		return fmt.Errorf("failed to register actors: %w", err)
	}

	store := storage.NewMemory(policy.NewEvaluator())
	hub := notify.NewMemory()
	defer hub.Close()

	authService, err := auth.NewService(store, bootstrap.AuthConfig(&cfg.Auth), appLogger.Logger)
	if err != nil {
		return fmt.Errorf("failed to initialize auth service: %w", err)
	}

	brokerConfig := bootstrap.BrokerConfig(cfg)
	b, err := broker.New(brokerConfig, store, hub, registry, appLogger.Logger)
	if err != nil {
		return fmt.Errorf("failed to create broker: %w", err)
	}

	gin.SetMode(gin.DebugMode)
	r := router.SetupRouter(&handler.Dependencies{
		Logger:       appLogger.Logger,
		ServiceName:  cfg.App.Name,
		Auth:         authService,
		Profiles:     profile.NewService(store, appLogger.Logger),
		Jobs:         jobs.NewService(store, registry, hub, bootstrap.RetryPolicy(cfg.Database.Retry), appLogger.Logger),
		HealthChecks: map[string]handler.HealthCheck{},
	}, router.Options{
		AuthRPS:        cfg.Server.AuthRateLimit,
		AuthBurst:      cfg.Server.AuthBurst,
		MetricsEnabled: cfg.Metrics.Enabled,
	})
	srv := bootstrap.NewHTTPServer(&cfg.Server, r)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	appLogger.Info("Starting standalone mode",
		slog.String("address", srv.Addr),
		slog.Any("queues", brokerConfig.Queues),
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return b.Run(gctx)
	})
	g.Go(func() error {
		return bootstrap.Serve(gctx, srv, cfg.Server.ShutdownTimeout, appLogger.Logger)
	})

	return g.Wait()
}

// loadConfig reads path when it exists and falls back to defaults otherwise
func loadConfig(path string) (*config.Config, error) {
	cfg, err := config.Load(path)
	if errors.Is(err, fs.ErrNotExist) {
		cfg, err = config.FromEnv()
		if err != nil {
			return nil, err
		}
		cfg.Logging.Format = "console"
		return cfg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return cfg, nil
}
