package app

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"github.com/vladislavdragonenkov/quickshop/internal/domain"
	"github.com/vladislavdragonenkov/quickshop/internal/messaging/kafka"
)

const (
	StorageDriverMemory   = "memory"
	StorageDriverPostgres = "postgres"

	// EnvConfigPath: путь к YAML-файлу конфигурации.
	EnvConfigPath = "QUICKSHOP_CONFIG"
)

// HTTPConfig описывает публичный API.
type HTTPConfig struct {
	Addr            string        `yaml:"addr"`
	RequestTimeout  time.Duration `yaml:"request_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// MetricsConfig описывает служебный порт с /metrics, /healthz и /livez.
type MetricsConfig struct {
	Addr string `yaml:"addr"`
}

// StorageConfig выбирает хранилище.
type StorageConfig struct {
	Driver       string `yaml:"driver"`
	PostgresDSN  string `yaml:"postgres_dsn"`
	AutoMigrate  bool   `yaml:"auto_migrate"`
	MaxOpenConns int    `yaml:"max_open_conns"`
}

// AuthConfig описывает общий секрет подписи пользовательских токенов.
type AuthConfig struct {
	Secret string `yaml:"secret"`
}

// GatewayConfig описывает платёжный шлюз. Stub включает локальную заглушку вместо Midtrans.
type GatewayConfig struct {
	ServerKey  string        `yaml:"server_key"`
	Production bool          `yaml:"production"`
	BaseURL    string        `yaml:"base_url"`
	Timeout    time.Duration `yaml:"timeout"`
	Stub       bool          `yaml:"stub"`

	// BreakerFailures подряд идущих отказов Midtrans открывают breaker, 0 отключает его.
	BreakerFailures int           `yaml:"breaker_failures"`
	BreakerReset    time.Duration `yaml:"breaker_reset"`
}

// OutboxConfig описывает доставку событий заказов.
type OutboxConfig struct {
	PollInterval time.Duration `yaml:"poll_interval"`
	BatchSize    int           `yaml:"batch_size"`
	// MaxAttempts неудачных публикаций отправляют событие в DLQ.
	MaxAttempts   int           `yaml:"max_attempts"`
	RetryDelay    time.Duration `yaml:"retry_delay"`
	MaxRetryDelay time.Duration `yaml:"max_retry_delay"`
	Lease         time.Duration `yaml:"lease"`
	// MaxPending и MaxAge: пороги, после которых /healthz отвечает degraded.
	MaxPending int           `yaml:"max_pending"`
	MaxAge     time.Duration `yaml:"max_age"`
}

// KafkaConfig описывает брокер событий. Пустой Brokers отключает доставку.
type KafkaConfig struct {
	Brokers  []string `yaml:"brokers"`
	ClientID string   `yaml:"client_id"`
	Topic    string   `yaml:"topic"`
	DLQTopic string   `yaml:"dlq_topic"`
}

// CleanupConfig описывает удаление просроченных ключей идемпотентности.
type CleanupConfig struct {
	Interval  time.Duration `yaml:"interval"`
	BatchSize int           `yaml:"batch_size"`
}

// Config содержит полную конфигурацию сервиса витрины.
type Config struct {
	LogLevel           string             `yaml:"log_level"`
	HTTP               HTTPConfig         `yaml:"http"`
	Metrics            MetricsConfig      `yaml:"metrics"`
	Storage            StorageConfig      `yaml:"storage"`
	Auth               AuthConfig         `yaml:"auth"`
	Gateway            GatewayConfig      `yaml:"gateway"`
	Pricing            domain.PricingRule `yaml:"pricing"`
	Outbox             OutboxConfig       `yaml:"outbox"`
	Kafka              KafkaConfig        `yaml:"kafka"`
	IdempotencyCleanup CleanupConfig      `yaml:"idempotency_cleanup"`
}

// DefaultConfig возвращает настройки для локального запуска.
func DefaultConfig() Config {
	return Config{
		LogLevel: "info",
		HTTP: HTTPConfig{
			Addr:            ":8080",
			RequestTimeout:  30 * time.Second,
			ShutdownTimeout: 10 * time.Second,
		},
		Metrics: MetricsConfig{Addr: ":9090"},
		Storage: StorageConfig{
			Driver:      StorageDriverMemory,
			AutoMigrate: true,
		},
		Gateway: GatewayConfig{
			Timeout:         10 * time.Second,
			BreakerFailures: 5,
			BreakerReset:    30 * time.Second,
		},
		Pricing: domain.DefaultPricingRule(),
		Outbox: OutboxConfig{
			PollInterval:  time.Second,
			BatchSize:     100,
			MaxAttempts:   5,
			RetryDelay:    time.Second,
			MaxRetryDelay: 5 * time.Minute,
			Lease:         30 * time.Second,
			MaxPending:    1000,
			MaxAge:        5 * time.Minute,
		},
		Kafka: KafkaConfig{
			ClientID: "quickshop-storefront",
			Topic:    kafka.TopicOrderEvents,
			DLQTopic: kafka.TopicDeadLetterQueue,
		},
		IdempotencyCleanup: CleanupConfig{
			Interval:  10 * time.Minute,
			BatchSize: 500,
		},
	}
}

// LoadConfig читает YAML поверх значений по умолчанию. Пустой path возвращает DefaultConfig.
// Неизвестные ключи считаются ошибкой, чтобы опечатки не проходили молча.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config %s: %w", path, err)
	}
	decoder := yaml.NewDecoder(bytes.NewReader(raw))
	decoder.KnownFields(true)
	if err := decoder.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return Config{}, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}

// ApplyEnv переопределяет поля из переменных окружения QUICKSHOP_*.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	if lookup == nil {
		lookup = os.LookupEnv
	}

	str := func(name string, dst *string) {
		if v, ok := lookup(name); ok && strings.TrimSpace(v) != "" {
			*dst = strings.TrimSpace(v)
		}
	}
	var errs []error
	boolean := func(name string, dst *bool) {
		if v, ok := lookup(name); ok && strings.TrimSpace(v) != "" {
			parsed, err := strconv.ParseBool(strings.TrimSpace(v))
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", name, err))
				return
			}
			*dst = parsed
		}
	}
	integer := func(name string, dst *int64) {
		if v, ok := lookup(name); ok && strings.TrimSpace(v) != "" {
			parsed, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", name, err))
				return
			}
			*dst = parsed
		}
	}

	str("QUICKSHOP_LOG_LEVEL", &c.LogLevel)
	str("QUICKSHOP_HTTP_ADDR", &c.HTTP.Addr)
	str("QUICKSHOP_METRICS_ADDR", &c.Metrics.Addr)
	str("QUICKSHOP_STORAGE_DRIVER", &c.Storage.Driver)
	str("QUICKSHOP_POSTGRES_DSN", &c.Storage.PostgresDSN)
	boolean("QUICKSHOP_POSTGRES_AUTO_MIGRATE", &c.Storage.AutoMigrate)
	str("QUICKSHOP_AUTH_SECRET", &c.Auth.Secret)
	str("QUICKSHOP_MIDTRANS_SERVER_KEY", &c.Gateway.ServerKey)
	str("QUICKSHOP_MIDTRANS_BASE_URL", &c.Gateway.BaseURL)
	boolean("QUICKSHOP_MIDTRANS_PRODUCTION", &c.Gateway.Production)
	boolean("QUICKSHOP_GATEWAY_STUB", &c.Gateway.Stub)
	integer("QUICKSHOP_FREE_SHIPPING_THRESHOLD", &c.Pricing.FreeShippingThreshold)
	integer("QUICKSHOP_SHIPPING_FEE", &c.Pricing.ShippingFee)
	if v, ok := lookup("QUICKSHOP_KAFKA_BROKERS"); ok && strings.TrimSpace(v) != "" {
		c.Kafka.Brokers = splitList(v)
	}

	return errors.Join(errs...)
}

// Validate отклоняет несогласованные настройки до запуска серверов.
func (c Config) Validate() error {
	var errs []error
	if c.HTTP.Addr == "" {
		errs = append(errs, errors.New("http.addr is required"))
	}
	switch c.Storage.Driver {
	case StorageDriverMemory:
	case StorageDriverPostgres:
		if c.Storage.PostgresDSN == "" {
			errs = append(errs, errors.New("storage.postgres_dsn is required for postgres driver"))
		}
	default:
		errs = append(errs, fmt.Errorf("unsupported storage driver %q", c.Storage.Driver))
	}
	if strings.TrimSpace(c.Auth.Secret) == "" {
		errs = append(errs, errors.New("auth.secret is required"))
	}
	// Ключ нужен и заглушке: им проверяются подписи уведомлений.
	if strings.TrimSpace(c.Gateway.ServerKey) == "" {
		errs = append(errs, errors.New("gateway.server_key is required"))
	}
	if c.Gateway.BreakerFailures < 0 {
		errs = append(errs, errors.New("gateway.breaker_failures must not be negative"))
	}
	if c.Outbox.MaxRetryDelay > 0 && c.Outbox.MaxRetryDelay < c.Outbox.RetryDelay {
		errs = append(errs, errors.New("outbox.max_retry_delay must not be shorter than outbox.retry_delay"))
	}
	if c.Pricing.FreeShippingThreshold < 0 || c.Pricing.ShippingFee < 0 {
		errs = append(errs, errors.New("pricing values must not be negative"))
	}
	if _, err := log.ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, fmt.Errorf("log_level: %w", err))
	}
	return errors.Join(errs...)
}

func splitList(value string) []string {
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
