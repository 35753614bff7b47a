// Package config loads service configuration from a YAML file and overlays
// JOBVAULT_* environment variables on top of it.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

const (
	// MinPort is the minimum valid port number
	MinPort = 1
	// MaxPort is the maximum valid port number
	MaxPort = 65535

	// MinSecretLength is the shortest accepted token signing secret, in bytes
	MinSecretLength = 32

	// EnvPrefix prefixes every environment override
	EnvPrefix = "JOBVAULT_"
)

// Notification backends
const (
	NotifyPostgres = "postgres"
	NotifyRabbitMQ = "rabbitmq"
	NotifyRedis    = "redis"
	NotifyMemory   = "memory"
)

// Config represents the complete application configuration
type Config struct {
	App      AppConfig      `yaml:"app" envPrefix:"APP_"`
	Server   ServerConfig   `yaml:"server" envPrefix:"SERVER_"`
	Database DatabaseConfig `yaml:"database" envPrefix:"DB_"`
	RabbitMQ RabbitMQConfig `yaml:"rabbitmq" envPrefix:"RABBITMQ_"`
	Redis    RedisConfig    `yaml:"redis" envPrefix:"REDIS_"`
	Notify   NotifyConfig   `yaml:"notify" envPrefix:"NOTIFY_"`
	Logging  LoggingConfig  `yaml:"logging" envPrefix:"LOG_"`
	Auth     AuthConfig     `yaml:"auth"`
	Broker   BrokerConfig   `yaml:"broker" envPrefix:"BROKER_"`
	Metrics  MetricsConfig  `yaml:"metrics" envPrefix:"METRICS_"`
}

// AppConfig holds application metadata
type AppConfig struct {
	Name        string `yaml:"name" env:"NAME"`
	Version     string `yaml:"version" env:"VERSION"`
	Environment string `yaml:"environment" env:"ENV"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port            int           `yaml:"port" env:"PORT"`
	ReadTimeout     time.Duration `yaml:"read_timeout" env:"READ_TIMEOUT"`
	WriteTimeout    time.Duration `yaml:"write_timeout" env:"WRITE_TIMEOUT"`
	IdleTimeout     time.Duration `yaml:"idle_timeout" env:"IDLE_TIMEOUT"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"SHUTDOWN_TIMEOUT"`
	// AuthRateLimit is the sustained signup/login rate per client IP, per second
	AuthRateLimit float64 `yaml:"auth_rate_limit" env:"AUTH_RATE_LIMIT"`
	AuthBurst     int     `yaml:"auth_burst" env:"AUTH_BURST"`
}

// DatabaseConfig holds PostgreSQL connection configuration
type DatabaseConfig struct {
	Host            string        `yaml:"host" env:"HOST"`
	Port            int           `yaml:"port" env:"PORT"`
	User            string        `yaml:"user" env:"USER"`
	Password        string        `yaml:"password" env:"PASSWORD"`
	Database        string        `yaml:"database" env:"NAME"`
	SSLMode         string        `yaml:"sslmode" env:"SSLMODE"`
	MaxOpenConns    int           `yaml:"max_open_conns" env:"MAX_OPEN_CONNS"`
	MaxIdleConns    int           `yaml:"max_idle_conns" env:"MAX_IDLE_CONNS"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" env:"CONN_MAX_LIFETIME"`
	ConnMaxIdleTime time.Duration `yaml:"conn_max_idle_time" env:"CONN_MAX_IDLE_TIME"`
	ConnectTimeout  time.Duration `yaml:"connect_timeout" env:"CONNECT_TIMEOUT"`
	// AutoMigrate applies the embedded schema on startup
	AutoMigrate bool        `yaml:"auto_migrate" env:"AUTO_MIGRATE"`
	Retry       RetryConfig `yaml:"retry" envPrefix:"RETRY_"`
}

// RetryConfig bounds retries of transient store failures
type RetryConfig struct {
	MaxAttempts int           `yaml:"max_attempts" env:"MAX_ATTEMPTS"`
	BaseDelay   time.Duration `yaml:"base_delay" env:"BASE_DELAY"`
	MaxDelay    time.Duration `yaml:"max_delay" env:"MAX_DELAY"`
}

// RabbitMQConfig holds RabbitMQ connection and exchange configuration
type RabbitMQConfig struct {
	Host       string           `yaml:"host" env:"HOST"`
	Port       int              `yaml:"port" env:"PORT"`
	User       string           `yaml:"user" env:"USER"`
	Password   string           `yaml:"password" env:"PASSWORD"`
	VHost      string           `yaml:"vhost" env:"VHOST"`
	Exchange   ExchangeConfig   `yaml:"exchange" envPrefix:"EXCHANGE_"`
	Connection ConnectionConfig `yaml:"connection" envPrefix:"CONNECTION_"`
	Publish    PublishConfig    `yaml:"publish" envPrefix:"PUBLISH_"`
}

// ExchangeConfig holds RabbitMQ exchange configuration
type ExchangeConfig struct {
	Name    string `yaml:"name" env:"NAME"`
	Durable bool   `yaml:"durable" env:"DURABLE"`
}

// ConnectionConfig holds RabbitMQ connection settings
type ConnectionConfig struct {
	RetryAttempts int           `yaml:"retry_attempts" env:"RETRY_ATTEMPTS"`
	RetryInterval time.Duration `yaml:"retry_interval" env:"RETRY_INTERVAL"`
	Heartbeat     time.Duration `yaml:"heartbeat" env:"HEARTBEAT"`
}

// PublishConfig holds RabbitMQ publish retry settings
type PublishConfig struct {
	RetryAttempts     int           `yaml:"retry_attempts" env:"RETRY_ATTEMPTS"`
	RetryInterval     time.Duration `yaml:"retry_interval" env:"RETRY_INTERVAL"`
	BackoffMultiplier float64       `yaml:"backoff_multiplier" env:"BACKOFF_MULTIPLIER"`
}

// RedisConfig holds Redis connection configuration
type RedisConfig struct {
	Addr     string        `yaml:"addr" env:"ADDR"`
	Password string        `yaml:"password" env:"PASSWORD"`
	DB       int           `yaml:"db" env:"DB"`
	Timeout  time.Duration `yaml:"timeout" env:"TIMEOUT"`
}

// NotifyConfig selects the notification channel backend
type NotifyConfig struct {
	Backend string `yaml:"backend" env:"BACKEND"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level        string `yaml:"level" env:"LEVEL"`
	Format       string `yaml:"format" env:"FORMAT"`
	Output       string `yaml:"output" env:"OUTPUT"`
	EnableCaller bool   `yaml:"enable_caller" env:"ENABLE_CALLER"`
	NoColor      bool   `yaml:"no_color" env:"NO_COLOR"`
}

// AuthConfig holds the token service settings. The secret is normally
// provided through JOBVAULT_JWT_SECRET rather than the file.
type AuthConfig struct {
	Secret            string        `yaml:"jwt_secret" env:"JWT_SECRET"`
	TokenTTL          time.Duration `yaml:"token_ttl" env:"TOKEN_TTL"`
	BcryptCost        int           `yaml:"bcrypt_cost" env:"BCRYPT_COST"`
	PasswordMinLength int           `yaml:"password_min_length" env:"PASSWORD_MIN_LENGTH"`
}

// BrokerConfig holds worker service configuration
type BrokerConfig struct {
	WorkerID          string        `yaml:"worker_id" env:"WORKER_ID"`
	Queues            []string      `yaml:"queues" env:"QUEUES" envSeparator:","`
	Concurrency       int           `yaml:"concurrency" env:"CONCURRENCY"`
	PollInterval      time.Duration `yaml:"poll_interval" env:"POLL_INTERVAL"`
	JobTimeout        time.Duration `yaml:"job_timeout" env:"JOB_TIMEOUT"`
	ResultTTL         time.Duration `yaml:"result_ttl" env:"RESULT_TTL"`
	StaleAfter        time.Duration `yaml:"stale_after" env:"STALE_AFTER"`
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval" env:"HEARTBEAT_INTERVAL"`
	ReclaimInterval   time.Duration `yaml:"reclaim_interval" env:"RECLAIM_INTERVAL"`
	ShutdownTimeout   time.Duration `yaml:"shutdown_timeout" env:"SHUTDOWN_TIMEOUT"`
}

// MetricsConfig controls the Prometheus endpoint
type MetricsConfig struct {
	Enabled bool `yaml:"enabled" env:"ENABLED"`
	// Addr is the listen address of the worker's metrics server
	Addr string `yaml:"addr" env:"ADDR"`
}

// Load reads and parses the configuration file, fills defaults and then
// applies environment overrides
func Load(configPath string) (*Config, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := Default()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if err := applyEnv(config); err != nil {
		return nil, err
	}
	return config, nil
}

// FromEnv returns the defaults with environment overrides applied, for
// processes started without a config file
func FromEnv() (*Config, error) {
	config := Default()
	if err := applyEnv(config); err != nil {
		return nil, err
	}
	return config, nil
}

func applyEnv(config *Config) error {
	if err := env.ParseWithOptions(config, env.Options{Prefix: EnvPrefix}); err != nil {
		return fmt.Errorf("failed to parse environment overrides: %w", err)
	}
	return nil
}

// Default returns the configuration used for any key the file leaves out
func Default() *Config {
	return &Config{
		App: AppConfig{Name: "jobvault", Environment: "development"},
		Server: ServerConfig{
			Port:            8080,
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    15 * time.Second,
			IdleTimeout:     60 * time.Second,
			ShutdownTimeout: 30 * time.Second,
			AuthRateLimit:   5,
			AuthBurst:       10,
		},
		Database: DatabaseConfig{
			Port:            5432,
			SSLMode:         "disable",
			MaxOpenConns:    25,
			MaxIdleConns:    5,
			ConnMaxLifetime: 5 * time.Minute,
			ConnMaxIdleTime: 5 * time.Minute,
			ConnectTimeout:  5 * time.Second,
			AutoMigrate:     true,
			Retry: RetryConfig{
				MaxAttempts: 5,
				BaseDelay:   50 * time.Millisecond,
				MaxDelay:    2 * time.Second,
			},
		},
		RabbitMQ: RabbitMQConfig{
			Port:     5672,
			VHost:    "/",
			Exchange: ExchangeConfig{Name: "jobvault.notify", Durable: true},
			Connection: ConnectionConfig{
				RetryAttempts: 5,
				RetryInterval: 2 * time.Second,
				Heartbeat:     10 * time.Second,
			},
			Publish: PublishConfig{
				RetryAttempts:     3,
				RetryInterval:     100 * time.Millisecond,
				BackoffMultiplier: 2,
			},
		},
		Redis:   RedisConfig{Addr: "localhost:6379", Timeout: 5 * time.Second},
		Notify:  NotifyConfig{Backend: NotifyPostgres},
		Logging: LoggingConfig{Level: "info", Format: "json", Output: "stdout"},
		Auth: AuthConfig{
			TokenTTL:          time.Hour,
			BcryptCost:        10,
			PasswordMinLength: 1,
		},
		Broker: BrokerConfig{
			Concurrency:     4,
			PollInterval:    5 * time.Second,
			JobTimeout:      5 * time.Minute,
			ShutdownTimeout: 30 * time.Second,
		},
		Metrics: MetricsConfig{Enabled: true, Addr: ":9091"},
	}
}

// ValidateAPIConfig checks the settings the API service depends on
func (c *Config) ValidateAPIConfig() error {
	if c.Server.Port < MinPort || c.Server.Port > MaxPort {
		return fmt.Errorf("invalid server port: %d (must be between %d and %d)", c.Server.Port, MinPort, MaxPort)
	}

	if err := c.validateDatabase(); err != nil {
		return err
	}

	if len(c.Auth.Secret) < MinSecretLength {
		return fmt.Errorf("auth jwt_secret must be at least %d bytes", MinSecretLength)
	}

	if c.Auth.TokenTTL <= 0 {
		return errors.New("auth token_ttl must be greater than 0")
	}

	if c.Auth.PasswordMinLength < 1 {
		return errors.New("auth password_min_length must be at least 1")
	}

	return c.validateNotify()
}

// ValidateWorkerConfig checks the settings the worker service depends on
func (c *Config) ValidateWorkerConfig() error {
	if err := c.validateDatabase(); err != nil {
		return err
	}

	if len(c.Broker.Queues) == 0 {
		return errors.New("broker queues must not be empty")
	}

	if c.Broker.Concurrency <= 0 {
		return errors.New("broker concurrency must be greater than 0")
	}

	if c.Broker.PollInterval <= 0 {
		return errors.New("broker poll_interval must be greater than 0")
	}

	if c.Broker.JobTimeout <= 0 {
		return errors.New("broker job_timeout must be greater than 0")
	}

	if c.Broker.StaleAfter > 0 {
		if c.Broker.HeartbeatInterval <= 0 || c.Broker.HeartbeatInterval >= c.Broker.StaleAfter {
			return errors.New("broker heartbeat_interval must be greater than 0 and shorter than stale_after")
		}
	}

	if c.Broker.ReclaimInterval > 0 && c.Broker.StaleAfter <= 0 {
		return errors.New("broker reclaim_interval requires stale_after")
	}

	return c.validateNotify()
}

func (c *Config) validateDatabase() error {
	if c.Database.Host == "" {
		return errors.New("database host is required")
	}

	if c.Database.Port < MinPort || c.Database.Port > MaxPort {
		return fmt.Errorf("invalid database port: %d (must be between %d and %d)", c.Database.Port, MinPort, MaxPort)
	}

	if c.Database.Database == "" {
		return errors.New("database name is required")
	}

	return nil
}

func (c *Config) validateNotify() error {
	switch c.Notify.Backend {
	case NotifyPostgres, NotifyMemory:
		return nil
	case NotifyRabbitMQ:
		if c.RabbitMQ.Host == "" {
			return errors.New("rabbitmq host is required")
		}
		if c.RabbitMQ.Port < MinPort || c.RabbitMQ.Port > MaxPort {
			return fmt.Errorf("invalid rabbitmq port: %d (must be between %d and %d)", c.RabbitMQ.Port, MinPort, MaxPort)
		}
		if c.RabbitMQ.Exchange.Name == "" {
			return errors.New("rabbitmq exchange name is required")
		}
		return nil
	case NotifyRedis:
		if c.Redis.Addr == "" {
			return errors.New("redis addr is required")
		}
		return nil
	default:
		return fmt.Errorf("unknown notify backend %q", c.Notify.Backend)
	}
}
