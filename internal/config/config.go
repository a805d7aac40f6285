package config

import (
	"crypto/tls"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/Shopify/sarama"
	"github.com/flexprice/lifecycle/internal/types"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Configuration struct {
	Deployment     DeploymentConfig     `validate:"required"`
	Logging        LoggingConfig        `validate:"required"`
	Postgres       PostgresConfig       `validate:"required"`
	ClickHouse     ClickHouseConfig     `mapstructure:"clickhouse"`
	Redis          RedisConfig          `mapstructure:"redis"`
	Cache          CacheConfig          `mapstructure:"cache" validate:"required"`
	Stripe         StripeConfig         `mapstructure:"stripe"`
	Billing        BillingConfig        `mapstructure:"billing" validate:"required"`
	Temporal       TemporalConfig       `mapstructure:"temporal"`
	EventPublisher EventPublisherConfig `mapstructure:"event_publisher"`
	Kafka          KafkaConfig          `mapstructure:"kafka"`
	Sentry         SentryConfig         `mapstructure:"sentry"`
	Metrics        MetricsConfig        `mapstructure:"metrics"`
}

type DeploymentConfig struct {
	Mode types.RunMode `validate:"required"`
}

type LoggingConfig struct {
	Level types.LogLevel `validate:"required"`
}

type PostgresConfig struct {
	Host                   string
	Port                   int
	User                   string
	Password               string
	DBName                 string `mapstructure:"dbname"`
	SSLMode                string `mapstructure:"sslmode"`
	MaxOpenConns           int    `mapstructure:"max_open_conns"`
	MaxIdleConns           int    `mapstructure:"max_idle_conns"`
	ConnMaxLifetimeMinutes int    `mapstructure:"conn_max_lifetime_minutes"`
}

type ClickHouseConfig struct {
	Address  string
	TLS      bool
	Username string
	Password string
	Database string
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// CacheConfig controls the stale-while-revalidate windows. Values younger than
// FreshFor are served as is, values younger than StaleFor are served while a
// refresh runs in the background, anything older is reloaded synchronously.
type CacheConfig struct {
	Backend  types.CacheBackend `mapstructure:"backend" validate:"required"`
	FreshFor time.Duration      `mapstructure:"fresh_for" validate:"required"`
	StaleFor time.Duration      `mapstructure:"stale_for" validate:"required,gtefield=FreshFor"`
}

type StripeConfig struct {
	SecretKey string  `mapstructure:"secret_key"`
	RateLimit float64 `mapstructure:"rate_limit"`
	Burst     int     `mapstructure:"burst"`
}

type BillingConfig struct {
	MaxPaymentAttempts  int           `mapstructure:"max_payment_attempts" validate:"required,min=1"`
	ProcessTimeout      time.Duration `mapstructure:"process_timeout" validate:"required"`
	LockRetryMaxElapsed time.Duration `mapstructure:"lock_retry_max_elapsed"`
	MaxCatchupCycles    int           `mapstructure:"max_catchup_cycles" validate:"required,min=1"`
	ScanBatchSize       int           `mapstructure:"scan_batch_size" validate:"required,min=1"`
	MaxConcurrency      int           `mapstructure:"max_concurrency" validate:"required,min=1"`
	ScheduleInterval    time.Duration `mapstructure:"schedule_interval"`
	BackgroundWorkers   int           `mapstructure:"background_workers" validate:"required,min=1"`
}

type TemporalConfig struct {
	Enabled   bool
	Address   string
	Namespace string
	TaskQueue string `mapstructure:"task_queue"`
	APIKey    string `mapstructure:"api_key"`
	TLS       bool
}

type EventPublisherConfig struct {
	PubSub types.PubSubType `mapstructure:"pubsub"`
	Topic  string           `mapstructure:"topic"`
}

type KafkaConfig struct {
	Brokers       []string
	ClientID      string `mapstructure:"client_id"`
	TLS           bool
	UseSASL       bool                 `mapstructure:"use_sasl"`
	SASLMechanism sarama.SASLMechanism `mapstructure:"sasl_mechanism"`
	SASLUser      string               `mapstructure:"sasl_user"`
	SASLPassword  string               `mapstructure:"sasl_password"`
}

type SentryConfig struct {
	Enabled     bool
	DSN         string
	Environment string
	SampleRate  float64 `mapstructure:"sample_rate"`
}

type MetricsConfig struct {
	Enabled   bool
	Namespace string
	Address   string
}

func NewConfig() (*Configuration, error) {
	// local development reads secrets from .env, a missing file is fine
	_ = godotenv.Load()

	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath("./internal/config")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AddConfigPath("/etc/lifecycle")

	v.SetEnvPrefix("LIFECYCLE")
	v.SetEnvKeyReplacer(strings.NewReplacer(
		".", "_",
		"-", "_",
	))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		fmt.Printf("Error reading config file: %v\n", err)
		if !errors.As(err, &viper.ConfigFileNotFoundError{}) {
			return nil, err
		}
	} else {
		fmt.Printf("Using config file: %s\n", v.ConfigFileUsed())
	}

	var config Configuration
	if err := v.Unmarshal(&config); err != nil {
		return nil, err
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return &config, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("deployment.mode", types.ModeLocal)
	v.SetDefault("logging.level", types.LogLevelInfo)
	v.SetDefault("postgres.port", 5432)
	v.SetDefault("postgres.sslmode", "disable")
	v.SetDefault("postgres.max_open_conns", 20)
	v.SetDefault("postgres.max_idle_conns", 5)
	v.SetDefault("postgres.conn_max_lifetime_minutes", 30)
	v.SetDefault("cache.backend", types.CacheBackendMemory)
	v.SetDefault("cache.fresh_for", time.Minute)
	v.SetDefault("cache.stale_for", 10*time.Minute)
	v.SetDefault("stripe.rate_limit", 25)
	v.SetDefault("stripe.burst", 5)
	v.SetDefault("billing.max_payment_attempts", 3)
	v.SetDefault("billing.process_timeout", 2*time.Minute)
	v.SetDefault("billing.lock_retry_max_elapsed", 30*time.Second)
	v.SetDefault("billing.max_catchup_cycles", 12)
	v.SetDefault("billing.scan_batch_size", 500)
	v.SetDefault("billing.max_concurrency", 8)
	v.SetDefault("billing.schedule_interval", 5*time.Minute)
	v.SetDefault("billing.background_workers", 4)
	v.SetDefault("temporal.namespace", "default")
	v.SetDefault("temporal.task_queue", "subscription-lifecycle")
	v.SetDefault("event_publisher.pubsub", types.MemoryPubSub)
	v.SetDefault("event_publisher.topic", "subscription_lifecycle")
	v.SetDefault("metrics.namespace", "lifecycle")
	v.SetDefault("metrics.address", ":9090")
}

func (c Configuration) Validate() error {
	validate := validator.New()
	return validate.Struct(c)
}

// GetDefaultConfig returns a default configuration for local development and tests
func GetDefaultConfig() *Configuration {
	return &Configuration{
		Deployment: DeploymentConfig{Mode: types.ModeLocal},
		Logging:    LoggingConfig{Level: types.LogLevelDebug},
		Cache: CacheConfig{
			Backend:  types.CacheBackendMemory,
			FreshFor: time.Minute,
			StaleFor: 10 * time.Minute,
		},
		Billing: BillingConfig{
			MaxPaymentAttempts:  3,
			ProcessTimeout:      2 * time.Minute,
			LockRetryMaxElapsed: 30 * time.Second,
			MaxCatchupCycles:    12,
			ScanBatchSize:       500,
			MaxConcurrency:      8,
			ScheduleInterval:    5 * time.Minute,
			BackgroundWorkers:   4,
		},
		EventPublisher: EventPublisherConfig{
			PubSub: types.MemoryPubSub,
			Topic:  "subscription_lifecycle",
		},
		Metrics: MetricsConfig{Namespace: "lifecycle"},
	}
}

func (c ClickHouseConfig) GetClientOptions() *clickhouse.Options {
	options := &clickhouse.Options{
		Addr: []string{c.Address},
		Auth: clickhouse.Auth{
			Database: c.Database,
			Username: c.Username,
			Password: c.Password,
		},
		ConnOpenStrategy: clickhouse.ConnOpenInOrder,
	}
	if c.TLS {
		options.TLS = &tls.Config{}
	}
	return options
}

func (c PostgresConfig) GetDSN() string {
	return fmt.Sprintf(
		"user=%s password=%s dbname=%s host=%s port=%d sslmode=%s",
		c.User,
		c.Password,
		c.DBName,
		c.Host,
		c.Port,
		c.SSLMode,
	)
}
