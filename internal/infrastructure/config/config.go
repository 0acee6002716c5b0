package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
)

const envPrefix = "MARKET"

type Config struct {
	Environment   string              `mapstructure:"environment"`
	InstanceID    string              `mapstructure:"instance_id"`
	Server        ServerConfig        `mapstructure:"server"`
	Database      DatabaseConfig      `mapstructure:"database"`
	Redis         RedisConfig         `mapstructure:"redis"`
	Payment       PaymentConfig       `mapstructure:"payment"`
	Gateway       GatewayConfig       `mapstructure:"gateway"`
	Notifications NotificationsConfig `mapstructure:"notifications"`
	Worker        WorkerConfig        `mapstructure:"worker"`
	Observability ObservabilityConfig `mapstructure:"observability"`
	Auth          AuthConfig          `mapstructure:"auth"`
	Bootstrap     BootstrapConfig     `mapstructure:"bootstrap"`
}

type ServerConfig struct {
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	CallbackRPM     int           `mapstructure:"callback_rpm"`
	CORS            CORSConfig    `mapstructure:"cors"`
}

type CORSConfig struct {
	AllowedOrigins   []string `mapstructure:"allowed_origins"`
	AllowCredentials bool     `mapstructure:"allow_credentials"`
}

type AuthConfig struct {
	JWTSecret string        `mapstructure:"jwt_secret"`
	JWTExpiry time.Duration `mapstructure:"jwt_expiry"`
}

type DatabaseConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	Database        string        `mapstructure:"database"`
	MaxConnections  int           `mapstructure:"max_connections"`
	MinConnections  int           `mapstructure:"min_connections"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	SSLMode         string        `mapstructure:"ssl_mode"`
	// StatementTimeout caps any single statement; a stuck row lock surfaces as a retryable 503.
	StatementTimeout time.Duration `mapstructure:"statement_timeout"`
}

type RedisConfig struct {
	Host              string        `mapstructure:"host"`
	Port              int           `mapstructure:"port"`
	DB                int           `mapstructure:"db"`
	Password          string        `mapstructure:"password"`
	ConnectRetries    int           `mapstructure:"connect_retries"`
	ConnectRetryDelay time.Duration `mapstructure:"connect_retry_delay"`
}

// Reconciliation policies.
const (
	PolicyStrict     = "strict"
	PolicyBestEffort = "best_effort"
)

type PaymentConfig struct {
	CommissionRate        string        `mapstructure:"commission_rate"`
	Currency              string        `mapstructure:"currency"`
	AutoCompleteOnPayment bool          `mapstructure:"auto_complete_on_payment"`
	ReconciliationPolicy  string        `mapstructure:"reconciliation_policy"`
	PublicBaseURL         string        `mapstructure:"public_base_url"`
	LockTTL               time.Duration `mapstructure:"lock_ttl"`
	LockRetries           int           `mapstructure:"lock_retries"`
	LockRetryDelay        time.Duration `mapstructure:"lock_retry_delay"`
	PendingExpiry         time.Duration `mapstructure:"pending_expiry"`
}

// Rate parses CommissionRate; Validate guarantees it succeeds.
func (c PaymentConfig) Rate() decimal.Decimal {
	rate, err := decimal.NewFromString(c.CommissionRate)
	if err != nil {
		return decimal.Zero
	}
	return rate
}

type GatewayConfig struct {
	Driver                  string        `mapstructure:"driver"`
	BaseURL                 string        `mapstructure:"base_url"`
	StoreID                 string        `mapstructure:"store_id"`
	StorePassword           string        `mapstructure:"store_password"`
	Timeout                 time.Duration `mapstructure:"timeout"`
	MaxRetries              int           `mapstructure:"max_retries"`
	RetryDelay              time.Duration `mapstructure:"retry_delay"`
	CircuitBreakerThreshold int           `mapstructure:"circuit_breaker_threshold"`
	CircuitBreakerTimeout   time.Duration `mapstructure:"circuit_breaker_timeout"`
}

type NotificationsConfig struct {
	Driver       string   `mapstructure:"driver"`
	Stream       string   `mapstructure:"stream"`
	StreamMaxLen int64    `mapstructure:"stream_max_len"`
	KafkaBrokers []string `mapstructure:"kafka_brokers"`
	KafkaTopic   string   `mapstructure:"kafka_topic"`
}

type WorkerConfig struct {
	BatchSize          int           `mapstructure:"batch_size"`
	OutboxPollInterval time.Duration `mapstructure:"outbox_poll_interval"`
	SweepInterval      time.Duration `mapstructure:"sweep_interval"`
	PendingMaxAge      time.Duration `mapstructure:"pending_max_age"`
	IdempotencyTTL     time.Duration `mapstructure:"idempotency_ttl"`
	// NotificationRetention is how long published notifications stay in the outbox.
	NotificationRetention time.Duration `mapstructure:"notification_retention"`
}

type ObservabilityConfig struct {
	LogLevel       string `mapstructure:"log_level"`
	LogFormat      string `mapstructure:"log_format"`
	JaegerEndpoint string `mapstructure:"jaeger_endpoint"`
	EnableMetrics  bool   `mapstructure:"enable_metrics"`
	EnableTracing  bool   `mapstructure:"enable_tracing"`
}

type BootstrapConfig struct {
	AdminEmail string `mapstructure:"admin_email"`
	AdminName  string `mapstructure:"admin_name"`
}

// IsProduction reports whether the service runs with production guarantees.
func (c *Config) IsProduction() bool {
	env := strings.ToLower(c.Environment)
	return env == "production" || env == "prod"
}

func Load() (*Config, error) {
	// .env is a local convenience; real deployments set the environment directly.
	_ = godotenv.Load()

	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AddConfigPath("/etc/marketplace")

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &cfg, nil
}

func (c *Config) Validate() error {
	var errs []error

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port must be between 1 and 65535, got %d", c.Server.Port))
	}
	if c.Server.ReadTimeout <= 0 {
		errs = append(errs, fmt.Errorf("server.read_timeout must be positive"))
	}
	if c.Server.WriteTimeout <= 0 {
		errs = append(errs, fmt.Errorf("server.write_timeout must be positive"))
	}
	if c.Database.Host == "" {
		errs = append(errs, fmt.Errorf("database.host is required"))
	}
	if c.Database.Port <= 0 {
		errs = append(errs, fmt.Errorf("database.port must be positive"))
	}
	if c.Redis.Port <= 0 {
		errs = append(errs, fmt.Errorf("redis.port must be positive"))
	}

	errs = append(errs, c.Payment.validate()...)
	errs = append(errs, c.Gateway.validate()...)
	errs = append(errs, c.Notifications.validate()...)

	if f := c.Observability.LogFormat; f != "" && f != "json" && f != "console" {
		errs = append(errs, fmt.Errorf("observability.log_format must be json or console, got %q", f))
	}

	if c.Worker.BatchSize <= 0 {
		errs = append(errs, fmt.Errorf("worker.batch_size must be positive"))
	}

	if c.IsProduction() {
		if c.Database.Password == "" {
			errs = append(errs, fmt.Errorf("database.password required in production"))
		}
		if c.Auth.JWTSecret == "" {
			errs = append(errs, fmt.Errorf("auth.jwt_secret required in production"))
		}
		if c.Payment.ReconciliationPolicy == PolicyBestEffort {
			errs = append(errs, fmt.Errorf("payment.reconciliation_policy best_effort is not allowed in production"))
		}
		if c.Gateway.Driver == "sandbox" {
			errs = append(errs, fmt.Errorf("gateway.driver sandbox is not allowed in production"))
		}
	}

	if c.Auth.JWTSecret != "" && len(c.Auth.JWTSecret) < 32 {
		errs = append(errs, fmt.Errorf("auth.jwt_secret must be at least 32 characters"))
	}

	return errors.Join(errs...)
}

func (c PaymentConfig) validate() []error {
	var errs []error
	rate, err := decimal.NewFromString(c.CommissionRate)
	switch {
	case err != nil:
		errs = append(errs, fmt.Errorf("payment.commission_rate must be a decimal, got %q", c.CommissionRate))
	case rate.IsNegative() || rate.GreaterThan(decimal.NewFromInt(1)):
		errs = append(errs, fmt.Errorf("payment.commission_rate must be between 0 and 1"))
	}
	if len(c.Currency) != 3 {
		errs = append(errs, fmt.Errorf("payment.currency must be a 3-letter ISO code"))
	}
	if c.ReconciliationPolicy != PolicyStrict && c.ReconciliationPolicy != PolicyBestEffort {
		errs = append(errs, fmt.Errorf("payment.reconciliation_policy must be %q or %q", PolicyStrict, PolicyBestEffort))
	}
	if c.LockTTL <= 0 {
		errs = append(errs, fmt.Errorf("payment.lock_ttl must be positive"))
	}
	if c.PendingExpiry < 0 {
		errs = append(errs, fmt.Errorf("payment.pending_expiry must not be negative"))
	}
	return errs
}

func (c GatewayConfig) validate() []error {
	var errs []error
	switch c.Driver {
	case "sandbox":
	case "hosted":
		if c.BaseURL == "" {
			errs = append(errs, fmt.Errorf("gateway.base_url is required for the hosted driver"))
		}
		if c.StoreID == "" || c.StorePassword == "" {
			errs = append(errs, fmt.Errorf("gateway.store_id and gateway.store_password are required for the hosted driver"))
		}
	default:
		errs = append(errs, fmt.Errorf("gateway.driver must be hosted or sandbox, got %q", c.Driver))
	}
	if c.Timeout <= 0 {
		errs = append(errs, fmt.Errorf("gateway.timeout must be positive"))
	}
	return errs
}

func (c NotificationsConfig) validate() []error {
	switch c.Driver {
	case "redis", "log":
		return nil
	case "kafka":
		if len(c.KafkaBrokers) == 0 || c.KafkaTopic == "" {
			return []error{fmt.Errorf("notifications.kafka_brokers and notifications.kafka_topic are required for the kafka driver")}
		}
		return nil
	default:
		return []error{fmt.Errorf("notifications.driver must be redis, kafka or log, got %q", c.Driver)}
	}
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("environment", "development")
	v.SetDefault("instance_id", "marketplace-1")

	// Server defaults
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", "15s")
	v.SetDefault("server.write_timeout", "30s")
	v.SetDefault("server.idle_timeout", "120s")
	v.SetDefault("server.shutdown_timeout", "30s")
	v.SetDefault("server.callback_rpm", 600)
	v.SetDefault("server.cors.allowed_origins", []string{"*"})
	v.SetDefault("server.cors.allow_credentials", false)

	// Database defaults
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "marketplace")
	v.SetDefault("database.database", "marketplace")
	v.SetDefault("database.max_connections", 25)
	v.SetDefault("database.min_connections", 5)
	v.SetDefault("database.conn_max_lifetime", "1h")
	v.SetDefault("database.ssl_mode", "disable")
	v.SetDefault("database.statement_timeout", "15s")

	// Redis defaults
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.connect_retries", 5)
	v.SetDefault("redis.connect_retry_delay", "1s")

	// Payment defaults
	v.SetDefault("payment.commission_rate", "0.05")
	v.SetDefault("payment.currency", "BDT")
	v.SetDefault("payment.auto_complete_on_payment", true)
	v.SetDefault("payment.reconciliation_policy", PolicyStrict)
	v.SetDefault("payment.public_base_url", "http://localhost:8080")
	v.SetDefault("payment.lock_ttl", "30s")
	v.SetDefault("payment.lock_retries", 10)
	v.SetDefault("payment.lock_retry_delay", "100ms")
	// Charges the gateway never saw are failed after this long; 0 keeps them pending.
	v.SetDefault("payment.pending_expiry", "24h")

	// Gateway defaults
	v.SetDefault("gateway.driver", "sandbox")
	v.SetDefault("gateway.base_url", "https://sandbox.sslcommerz.com")
	v.SetDefault("gateway.timeout", "15s")
	v.SetDefault("gateway.max_retries", 3)
	v.SetDefault("gateway.retry_delay", "500ms")
	v.SetDefault("gateway.circuit_breaker_threshold", 10)
	v.SetDefault("gateway.circuit_breaker_timeout", "30s")

	// Notification defaults
	v.SetDefault("notifications.driver", "redis")
	v.SetDefault("notifications.stream", "notifications:outbound")
	v.SetDefault("notifications.stream_max_len", 100000)
	v.SetDefault("notifications.kafka_topic", "marketplace.notifications")

	// Worker defaults
	v.SetDefault("worker.batch_size", 50)
	v.SetDefault("worker.outbox_poll_interval", "2s")
	v.SetDefault("worker.sweep_interval", "1m")
	v.SetDefault("worker.pending_max_age", "15m")
	v.SetDefault("worker.idempotency_ttl", "24h")
	v.SetDefault("worker.notification_retention", "168h")

	// Observability defaults
	v.SetDefault("observability.log_level", "info")
	v.SetDefault("observability.log_format", "json")
	v.SetDefault("observability.jaeger_endpoint", "http://localhost:14268/api/traces")
	v.SetDefault("observability.enable_metrics", true)
	v.SetDefault("observability.enable_tracing", false)

	// Auth defaults
	v.SetDefault("auth.jwt_expiry", "24h")

	// Bootstrap defaults
	v.SetDefault("bootstrap.admin_name", "Platform Admin")
}

func (c *DatabaseConfig) DatabaseDSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}

// MigrateURL is the URL form golang-migrate expects.
func (c *DatabaseConfig) MigrateURL() string {
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(c.User, c.Password),
		Host:     fmt.Sprintf("%s:%d", c.Host, c.Port),
		Path:     "/" + c.Database,
		RawQuery: "sslmode=" + url.QueryEscape(c.SSLMode),
	}
	return u.String()
}

func (c *RedisConfig) RedisAddr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}
