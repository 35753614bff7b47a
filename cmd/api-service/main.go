package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"

	"github.com/cuongbtq/jobvault/internal/actors"
	"github.com/cuongbtq/jobvault/internal/api/handler"
	"github.com/cuongbtq/jobvault/internal/api/router"
	"github.com/cuongbtq/jobvault/internal/auth"
	"github.com/cuongbtq/jobvault/internal/bootstrap"
	"github.com/cuongbtq/jobvault/internal/broker"
	"github.com/cuongbtq/jobvault/internal/config"
	"github.com/cuongbtq/jobvault/internal/jobs"
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
	// Load .env file if it exists
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables or flags")
	}

	// Parse command-line flags
	defaultConfigPath := os.Getenv("API_SERVICE_CONFIG_PATH")
	if defaultConfigPath == "" {
		defaultConfigPath = "configs/api-service/config.yaml"
	}
	configPath := flag.String("config", defaultConfigPath, "Path to configuration file")
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if err := cfg.ValidateAPIConfig(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	// Initialize logger
	appLogger, err := bootstrap.InitLogger(&cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer appLogger.Close()

	appLogger.Info("Starting API service",
		slog.String("app", cfg.App.Name),
		slog.String("version", cfg.App.Version),
		slog.String("environment", cfg.App.Environment),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Initialize PostgreSQL client
	dbClient, err := bootstrap.InitPostgreSQL(&cfg.Database, appLogger.Logger)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer dbClient.Close()

	appLogger.Info("Database connection established")

	notifications, err := bootstrap.InitNotifications(ctx, cfg, dbClient, appLogger.Logger)
	if err != nil {
		return fmt.Errorf("failed to initialize notifications: %w", err)
	}
	defer notifications.Close()

	// The catalog lets enqueue reject actors no broker can run
	registry := broker.NewRegistry()
	if err := actors.Register(registry); err != nil {
		return fmt.Errorf("failed to register actors: %w", err)
	}

	evaluator := policy.NewEvaluator()
	identityStore := storage.NewIdentityStore(dbClient.GetDB(), evaluator, appLogger.Logger)
	jobStore := storage.NewJobStore(dbClient.GetDB(), evaluator, appLogger.Logger)

	authService, err := auth.NewService(identityStore, bootstrap.AuthConfig(&cfg.Auth), appLogger.Logger)
	if err != nil {
		return fmt.Errorf("failed to initialize auth service: %w", err)
	}

	healthChecks := map[string]handler.HealthCheck{
		"database": dbClient.HealthCheck,
	}
	if notifications.Health != nil {
		healthChecks["notify"] = notifications.Health
	}

	if cfg.App.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	} else {
		gin.SetMode(gin.DebugMode)
	}

	r := router.SetupRouter(&handler.Dependencies{
		Logger:       appLogger.Logger,
		ServiceName:  cfg.App.Name,
		Auth:         authService,
		Profiles:     profile.NewService(identityStore, appLogger.Logger),
		Jobs:         jobs.NewService(jobStore, registry, notifications.Hub, bootstrap.RetryPolicy(cfg.Database.Retry), appLogger.Logger),
		HealthChecks: healthChecks,
	}, router.Options{
		AuthRPS:        cfg.Server.AuthRateLimit,
		AuthBurst:      cfg.Server.AuthBurst,
		MetricsEnabled: cfg.Metrics.Enabled,
	})

	srv := bootstrap.NewHTTPServer(&cfg.Server, r)
	if err := bootstrap.Serve(ctx, srv, cfg.Server.ShutdownTimeout, appLogger.Logger); err != nil {
		return err
	}

	appLogger.Info("Server shutdown complete")
	return nil
}
