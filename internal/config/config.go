// Package config загружает конфигурацию сервисов: значения по умолчанию, YAML файл, .env и переменные окружения.
package config

import (
	"errors"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/akriventsev/shopsaga/framework/adapters/messagebus"
	"github.com/akriventsev/shopsaga/framework/adapters/repository"
	"github.com/akriventsev/shopsaga/framework/core"
	"github.com/akriventsev/shopsaga/framework/logging"
	"github.com/akriventsev/shopsaga/framework/metrics"
	"github.com/akriventsev/shopsaga/framework/observability"
)

// Хранилища
const (
	StoreMemory   = "memory"
	StoreMongo    = "mongo"
	StorePostgres = "postgres"
)

// HTTPConfig параметры HTTP сервера
type HTTPConfig struct {
	Addr            string        `yaml:"addr"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// TimeoutsConfig таймауты запросов саги
type TimeoutsConfig struct {
	Validation   time.Duration `yaml:"validation"`
	Payment      time.Duration `yaml:"payment"`
	OrderDetails time.Duration `yaml:"order_details"`
	ReplyCleanup time.Duration `yaml:"reply_cleanup"`
}

// RelayConfig пересылка событий жизненного цикла заказа в Kafka
type RelayConfig struct {
	Enabled bool                   `yaml:"enabled"`
	Kafka   messagebus.KafkaConfig `yaml:"kafka"`
}

// PaymentConfig параметры платежей
type PaymentConfig struct {
	// SecretKey ключ платежного провайдера
	SecretKey string `yaml:"secret_key"`
	// FallbackURL базовый адрес payment-service для прямого HTTP вызова
	FallbackURL     string        `yaml:"fallback_url"`
	FallbackTimeout time.Duration `yaml:"fallback_timeout"`
	DefaultCurrency string        `yaml:"default_currency"`
	// LockTTL время жизни блокировки создания платежа в Redis
	LockTTL time.Duration `yaml:"lock_ttl"`
	// WebhookSecret общий секрет заголовка X-Webhook-Secret; пустой отключает проверку
	WebhookSecret string `yaml:"webhook_secret"`
}

// Config конфигурация сервиса
type Config struct {
	Service  string                      `yaml:"service"`
	Store    string                      `yaml:"store"`
	Log      logging.Config              `yaml:"log"`
	HTTP     HTTPConfig                  `yaml:"http"`
	Broker   messagebus.Config           `yaml:"broker"`
	Timeouts TimeoutsConfig              `yaml:"timeouts"`
	Mongo    repository.MongoConfig      `yaml:"mongo"`
	Postgres repository.PostgresConfig   `yaml:"postgres"`
	Redis    repository.RedisConfig      `yaml:"redis"`
	Relay    RelayConfig                 `yaml:"relay"`
	Payment  PaymentConfig               `yaml:"payment"`
	Metrics  metrics.MetricsConfig       `yaml:"metrics"`
	Tracing  observability.TracingConfig `yaml:"tracing"`
}

// Default возвращает конфигурацию по умолчанию для сервиса
func Default(service string) *Config {
	return &Config{
		Service: service,
		Store:   StoreMemory,
		Log:     logging.Config{Level: "info", Format: "json"},
		HTTP: HTTPConfig{
			Addr:            ":8080",
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    60 * time.Second,
			ShutdownTimeout: 10 * time.Second,
		},
		Broker: messagebus.DefaultConfig(),
		Timeouts: TimeoutsConfig{
			Validation:   10 * time.Second,
			Payment:      15 * time.Second,
			OrderDetails: 10 * time.Second,
			ReplyCleanup: time.Second,
		},
		Mongo:    repository.DefaultMongoConfig(),
		Postgres: repository.DefaultPostgresConfig(),
		Redis:    repository.DefaultRedisConfig(),
		Relay:    RelayConfig{Kafka: messagebus.DefaultKafkaConfig()},
		Payment: PaymentConfig{
			FallbackURL:     "http://localhost:8083",
			FallbackTimeout: 10 * time.Second,
			DefaultCurrency: "USD",
			LockTTL:         30 * time.Second,
		},
		Metrics: metrics.MetricsConfig{Enabled: true, ExporterType: "prometheus", Path: "/metrics"},
		Tracing: observability.TracingConfig{Exporter: "stdout", SamplingRate: 1.0, Environment: "development"},
	}
}

// Load собирает конфигурацию: Default → YAML (path или CONFIG_FILE) → .env → переменные окружения
func Load(service, path string) (*Config, error) {
	cfg := Default(service)

	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, core.Wrap(err, core.ErrInvalidConfig, "failed to load .env")
	}

	if path == "" {
		path = os.Getenv("CONFIG_FILE")
	}
	if path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	cfg.Tracing.ServiceName = cfg.Service
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return core.Wrap(err, core.ErrInvalidConfig, "failed to read config file "+path)
	}
	return c.Parse(data)
}

// Parse накладывает YAML поверх текущих значений
func (c *Config) Parse(data []byte) error {
	if err := yaml.Unmarshal(data, c); err != nil {
		return core.Wrap(err, core.ErrInvalidConfig, "failed to parse config")
	}
	return nil
}

func (c *Config) applyEnv() error {
	setString(&c.Store, "STORE")
	setString(&c.HTTP.Addr, "HTTP_ADDR")
	setString(&c.Log.Level, "LOG_LEVEL")
	setString(&c.Log.Format, "LOG_FORMAT")
	setString(&c.Broker.Driver, "BROKER_DRIVER")
	setString(&c.Broker.RabbitMQ.URL, "RABBITMQ_URL")
	setString(&c.Mongo.URI, "MONGO_URI")
	setString(&c.Mongo.Database, "MONGO_DATABASE")
	setString(&c.Postgres.DSN, "POSTGRES_DSN")
	setString(&c.Redis.Addr, "REDIS_ADDR")
	setString(&c.Payment.SecretKey, "PAYMENT_SECRET_KEY")
	setString(&c.Payment.FallbackURL, "PAYMENT_FALLBACK_URL")
	setString(&c.Payment.WebhookSecret, "PAYMENT_WEBHOOK_SECRET")
	setString(&c.Tracing.Exporter, "TRACING_EXPORTER")
	setString(&c.Tracing.ExporterEndpoint, "TRACING_ENDPOINT")

	if v := os.Getenv("KAFKA_BROKERS"); v != "" {
		c.Relay.Kafka.Brokers = splitList(v)
		c.Relay.Enabled = true
	}
	if v := os.Getenv("MAX_RECONNECT_ATTEMPTS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return core.Wrap(err, core.ErrInvalidConfig, "invalid MAX_RECONNECT_ATTEMPTS")
		}
		c.Broker.RabbitMQ.MaxReconnectAttempts = n
	}
	if v := os.Getenv("TRACING_ENABLED"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return core.Wrap(err, core.ErrInvalidConfig, "invalid TRACING_ENABLED")
		}
		c.Tracing.Enabled = b
	}
	for env, dst := range map[string]*time.Duration{
		"VALIDATION_TIMEOUT": &c.Timeouts.Validation,
		"PAYMENT_TIMEOUT":    &c.Timeouts.Payment,
		"HTTP_WRITE_TIMEOUT": &c.HTTP.WriteTimeout,
		"RECONNECT_INTERVAL": &c.Broker.RabbitMQ.ReconnectInterval,
	} {
		v := os.Getenv(env)
		if v == "" {
			continue
		}
		d, err := time.ParseDuration(v)
		if err != nil {
			return core.Wrap(err, core.ErrInvalidConfig, "invalid "+env)
		}
		*dst = d
	}
	return nil
}

// Validate проверяет конфигурацию
func (c *Config) Validate() error {
	if c.Service == "" {
		return core.NewError(core.ErrInvalidConfig, "service name cannot be empty")
	}
	if c.HTTP.Addr == "" {
		return core.NewError(core.ErrInvalidConfig, "http addr cannot be empty")
	}
	switch c.Store {
	case StoreMemory, StoreMongo, StorePostgres:
	default:
		return core.Errorf(core.ErrInvalidConfig, "unknown store %q", c.Store)
	}
	switch c.Broker.Driver {
	case messagebus.DriverRabbitMQ:
		if err := c.Broker.RabbitMQ.Validate(); err != nil {
			return core.Wrap(err, core.ErrInvalidConfig, "invalid broker config")
		}
	case messagebus.DriverInMemory:
	default:
		return core.Errorf(core.ErrInvalidConfig, "unknown broker driver %q", c.Broker.Driver)
	}
	if c.Timeouts.Validation <= 0 || c.Timeouts.Payment <= 0 || c.Timeouts.OrderDetails <= 0 {
		return core.NewError(core.ErrInvalidConfig, "request timeouts must be positive")
	}
	if c.Timeouts.ReplyCleanup < 0 {
		return core.NewError(core.ErrInvalidConfig, "reply cleanup delay cannot be negative")
	}
	// POST /api/orders отвечает только после саги: ответ должен уложиться в write timeout
	if budget := c.SagaBudget(); c.HTTP.WriteTimeout > 0 && c.HTTP.WriteTimeout <= budget {
		return core.Errorf(core.ErrInvalidConfig, "http write timeout %s must exceed saga budget %s",
			c.HTTP.WriteTimeout, budget)
	}
	if err := c.Tracing.Validate(); err != nil {
		return core.Wrap(err, core.ErrInvalidConfig, "invalid tracing config")
	}
	if c.Relay.Enabled {
		if err := c.Relay.Kafka.Validate(); err != nil {
			return core.Wrap(err, core.ErrInvalidConfig, "invalid relay config")
		}
	}
	return nil
}

// SagaBudget худшее время синхронной саги: валидация, запрос платежа по шине и fallback
func (c *Config) SagaBudget() time.Duration {
	budget := c.Timeouts.Validation + c.Timeouts.Payment
	if c.Payment.FallbackURL != "" {
		budget += c.Payment.FallbackTimeout
	}
	return budget
}

func setString(dst *string, env string) {
	if v, ok := os.LookupEnv(env); ok && v != "" {
		*dst = v
	}
}

func splitList(v string) []string {
	var out []string
	for _, s := range strings.Split(v, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
