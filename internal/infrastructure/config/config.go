package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration
type Config struct {
	App          AppConfig
	Database     DatabaseConfig
	Redis        RedisConfig
	JWT          JWTConfig
	Log          LogConfig
	HTTP         HTTPConfig
	Supplier     SupplierConfig
	Platform     PlatformConfig
	Fulfillment  FulfillmentConfig
	Pricing      PricingConfig
	Balance      BalanceConfig
	Notification NotificationConfig
	Telemetry    TelemetryConfig
}

// AppConfig holds application-specific settings
type AppConfig struct {
	Name string
	Env  string
	Port string
}

// DatabaseConfig holds database connection settings
type DatabaseConfig struct {
	Host            string
	Port            int
	User            string
	Password        string
	DBName          string
	SSLMode         string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime int // in minutes
	ConnMaxIdleTime int // in minutes
}

// RedisConfig holds Redis connection settings
type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
}

// JWTConfig holds admin API token settings
type JWTConfig struct {
	Secret                string
	AccessTokenExpiration time.Duration
	Issuer                string
}

// LogConfig holds logging configuration
type LogConfig struct {
	Level  string // debug, info, warn, error
	Format string // json, console
	Output string // stdout, stderr, or file path
}

// HTTPConfig holds HTTP server configuration
type HTTPConfig struct {
	ReadTimeout      time.Duration
	WriteTimeout     time.Duration
	IdleTimeout      time.Duration
	MaxHeaderBytes   int
	MaxBodySize      int64
	CORSAllowOrigins []string
	CORSAllowMethods []string
	CORSAllowHeaders []string
	TrustedProxies   []string
	// RateLimitPerMinute caps requests per client IP. Zero disables limiting.
	RateLimitPerMinute int
}

// SupplierConfig holds wholesale API credentials and webhook settings
type SupplierConfig struct {
	ClientID       string
	ClientSecret   string
	APIBaseURL     string
	Sandbox        bool
	TimeoutSeconds int
	WebhookSecret  string
	EventTTL       time.Duration // how long processed webhook event IDs are remembered
}

// PlatformConfig holds commerce platform merchant API settings
type PlatformConfig struct {
	APIBaseURL     string
	APIKey         string
	TimeoutSeconds int
}

// FulfillmentConfig holds purchase retry and scheduler settings
type FulfillmentConfig struct {
	MaxAttempts      int
	BaseDelay        time.Duration
	MaxDelay         time.Duration
	SchedulerEnabled bool
	PollInterval     time.Duration
	BatchSize        int
	WorkerCount      int
	BackstopInterval time.Duration // how often to sweep for paid orders with no records
	BackstopLookback time.Duration // how far back the sweep looks
}

// PricingConfig holds the retail markup rule applied during catalog sync
type PricingConfig struct {
	MarkupMode  string // percentage, fixed
	MarkupValue float64
}

// BalanceConfig holds wholesale balance monitoring settings
type BalanceConfig struct {
	Enabled       bool
	CheckInterval time.Duration
	LowThreshold  float64
	Currency      string
}

// NotificationConfig holds operator alert webhook settings. An empty
// WebhookURL disables alerting.
type NotificationConfig struct {
	WebhookURL     string
	TimeoutSeconds int
}

// TelemetryConfig holds OpenTelemetry configuration
type TelemetryConfig struct {
	Enabled           bool
	CollectorEndpoint string  // OTEL Collector endpoint (e.g., "localhost:4317")
	SamplingRatio     float64 // 0.0-1.0, 1.0 = 100%
	ServiceName       string
	Insecure          bool // non-TLS connection, development only
}

// Load loads configuration from TOML file and environment variables
// Priority (highest to lowest):
// 1. Environment variables with KEYSYNC_ prefix (e.g., KEYSYNC_DATABASE_PASSWORD)
// 2. config.toml
// 3. Built-in defaults
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("toml")
	v.AddConfigPath(".")
	v.AddConfigPath("/app")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// Config file not found is OK, we'll use defaults and env vars
	}

	v.SetEnvPrefix("KEYSYNC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	cfg := &Config{
		App: AppConfig{
			Name: v.GetString("app.name"),
			Env:  v.GetString("app.env"),
			Port: v.GetString("app.port"),
		},
		Database: DatabaseConfig{
			Host:            v.GetString("database.host"),
			Port:            v.GetInt("database.port"),
			User:            v.GetString("database.user"),
			Password:        v.GetString("database.password"),
			DBName:          v.GetString("database.dbname"),
			SSLMode:         v.GetString("database.sslmode"),
			MaxOpenConns:    v.GetInt("database.max_open_conns"),
			MaxIdleConns:    v.GetInt("database.max_idle_conns"),
			ConnMaxLifetime: v.GetInt("database.conn_max_lifetime"),
			ConnMaxIdleTime: v.GetInt("database.conn_max_idle_time"),
		},
		Redis: RedisConfig{
			Host:     v.GetString("redis.host"),
			Port:     v.GetInt("redis.port"),
			Password: v.GetString("redis.password"),
			DB:       v.GetInt("redis.db"),
		},
		JWT: JWTConfig{
			Secret:                v.GetString("jwt.secret"),
			AccessTokenExpiration: v.GetDuration("jwt.access_token_expiration"),
			Issuer:                v.GetString("jwt.issuer"),
		},
		Log: LogConfig{
			Level:  v.GetString("log.level"),
			Format: v.GetString("log.format"),
			Output: v.GetString("log.output"),
		},
		HTTP: HTTPConfig{
			ReadTimeout:        v.GetDuration("http.read_timeout"),
			WriteTimeout:       v.GetDuration("http.write_timeout"),
			IdleTimeout:        v.GetDuration("http.idle_timeout"),
			MaxHeaderBytes:     v.GetInt("http.max_header_bytes"),
			MaxBodySize:        v.GetInt64("http.max_body_size"),
			CORSAllowOrigins:   v.GetStringSlice("http.cors_allow_origins"),
			CORSAllowMethods:   v.GetStringSlice("http.cors_allow_methods"),
			CORSAllowHeaders:   v.GetStringSlice("http.cors_allow_headers"),
			TrustedProxies:     v.GetStringSlice("http.trusted_proxies"),
			RateLimitPerMinute: v.GetInt("http.rate_limit_per_minute"),
		},
		Supplier: SupplierConfig{
			ClientID:       v.GetString("supplier.client_id"),
			ClientSecret:   v.GetString("supplier.client_secret"),
			APIBaseURL:     v.GetString("supplier.api_base_url"),
			Sandbox:        v.GetBool("supplier.sandbox"),
			TimeoutSeconds: v.GetInt("supplier.timeout_seconds"),
			WebhookSecret:  v.GetString("supplier.webhook_secret"),
			EventTTL:       v.GetDuration("supplier.event_ttl"),
		},
		Platform: PlatformConfig{
			APIBaseURL:     v.GetString("platform.api_base_url"),
			APIKey:         v.GetString("platform.api_key"),
			TimeoutSeconds: v.GetInt("platform.timeout_seconds"),
		},
		Fulfillment: FulfillmentConfig{
			MaxAttempts:      v.GetInt("fulfillment.max_attempts"),
			BaseDelay:        v.GetDuration("fulfillment.base_delay"),
			MaxDelay:         v.GetDuration("fulfillment.max_delay"),
			SchedulerEnabled: v.GetBool("fulfillment.scheduler_enabled"),
			PollInterval:     v.GetDuration("fulfillment.poll_interval"),
			BatchSize:        v.GetInt("fulfillment.batch_size"),
			WorkerCount:      v.GetInt("fulfillment.worker_count"),
			BackstopInterval: v.GetDuration("fulfillment.backstop_interval"),
			BackstopLookback: v.GetDuration("fulfillment.backstop_lookback"),
		},
		Pricing: PricingConfig{
			MarkupMode:  v.GetString("pricing.markup_mode"),
			MarkupValue: v.GetFloat64("pricing.markup_value"),
		},
		Balance: BalanceConfig{
			Enabled:       v.GetBool("balance.enabled"),
			CheckInterval: v.GetDuration("balance.check_interval"),
			LowThreshold:  v.GetFloat64("balance.low_threshold"),
			Currency:      v.GetString("balance.currency"),
		},
		Notification: NotificationConfig{
			WebhookURL:     v.GetString("notification.webhook_url"),
			TimeoutSeconds: v.GetInt("notification.timeout_seconds"),
		},
		Telemetry: TelemetryConfig{
			Enabled:           v.GetBool("telemetry.enabled"),
			CollectorEndpoint: v.GetString("telemetry.collector_endpoint"),
			SamplingRatio:     v.GetFloat64("telemetry.sampling_ratio"),
			ServiceName:       v.GetString("telemetry.service_name"),
			Insecure:          v.GetBool("telemetry.insecure"),
		},
	}

	applyDefaults(cfg)

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// applyDefaults sets default values for any empty config fields
func applyDefaults(cfg *Config) {
	if cfg.App.Name == "" {
		cfg.App.Name = "keysync-backend"
	}
	if cfg.App.Env == "" {
		cfg.App.Env = "development"
	}
	if cfg.App.Port == "" {
		cfg.App.Port = "8080"
	}
	if cfg.Database.Host == "" {
		cfg.Database.Host = "localhost"
	}
	if cfg.Database.Port == 0 {
		cfg.Database.Port = 5432
	}
	if cfg.Database.User == "" {
		cfg.Database.User = "postgres"
	}
	if cfg.Database.DBName == "" {
		cfg.Database.DBName = "keysync"
	}
	if cfg.Database.SSLMode == "" {
		cfg.Database.SSLMode = "disable"
	}
	if cfg.Database.MaxOpenConns == 0 {
		cfg.Database.MaxOpenConns = 25
	}
	if cfg.Database.MaxIdleConns == 0 {
		cfg.Database.MaxIdleConns = 5
	}
	if cfg.Database.ConnMaxLifetime == 0 {
		cfg.Database.ConnMaxLifetime = 60
	}
	if cfg.Database.ConnMaxIdleTime == 0 {
		cfg.Database.ConnMaxIdleTime = 30
	}
	if cfg.Redis.Host == "" {
		cfg.Redis.Host = "localhost"
	}
	if cfg.Redis.Port == 0 {
		cfg.Redis.Port = 6379
	}
	if cfg.JWT.AccessTokenExpiration == 0 {
		cfg.JWT.AccessTokenExpiration = 15 * time.Minute
	}
	if cfg.JWT.Issuer == "" {
		cfg.JWT.Issuer = "keysync-backend"
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "console"
	}
	if cfg.Log.Output == "" {
		cfg.Log.Output = "stdout"
	}
	if cfg.HTTP.ReadTimeout == 0 {
		cfg.HTTP.ReadTimeout = 15 * time.Second
	}
	if cfg.HTTP.WriteTimeout == 0 {
		cfg.HTTP.WriteTimeout = 15 * time.Second
	}
	if cfg.HTTP.IdleTimeout == 0 {
		cfg.HTTP.IdleTimeout = 60 * time.Second
	}
	if cfg.HTTP.MaxHeaderBytes == 0 {
		cfg.HTTP.MaxHeaderBytes = 1 << 20 // 1MB
	}
	if cfg.HTTP.MaxBodySize == 0 {
		cfg.HTTP.MaxBodySize = 1 << 20 // 1MB, webhook and admin payloads are small
	}
	if cfg.HTTP.RateLimitPerMinute == 0 {
		cfg.HTTP.RateLimitPerMinute = 300
	}
	// CORS origins intentionally have no wildcard fallback; an empty list
	// means no cross-origin requests until explicitly configured.
	if len(cfg.HTTP.CORSAllowMethods) == 0 {
		cfg.HTTP.CORSAllowMethods = []string{"GET", "POST", "PUT", "DELETE", "PATCH", "OPTIONS"}
	}
	if len(cfg.HTTP.CORSAllowHeaders) == 0 {
		cfg.HTTP.CORSAllowHeaders = []string{"Content-Type", "Authorization", "X-Request-ID"}
	}
	if cfg.Supplier.TimeoutSeconds == 0 {
		cfg.Supplier.TimeoutSeconds = 30
	}
	if cfg.Supplier.EventTTL == 0 {
		cfg.Supplier.EventTTL = 72 * time.Hour
	}
	if cfg.Platform.TimeoutSeconds == 0 {
		cfg.Platform.TimeoutSeconds = 15
	}
	if cfg.Notification.TimeoutSeconds == 0 {
		cfg.Notification.TimeoutSeconds = 10
	}
	if cfg.Fulfillment.MaxAttempts == 0 {
		cfg.Fulfillment.MaxAttempts = 5
	}
	if cfg.Fulfillment.BaseDelay == 0 {
		cfg.Fulfillment.BaseDelay = time.Minute
	}
	if cfg.Fulfillment.MaxDelay == 0 {
		cfg.Fulfillment.MaxDelay = time.Hour
	}
	if cfg.Fulfillment.PollInterval == 0 {
		cfg.Fulfillment.PollInterval = 30 * time.Second
	}
	if cfg.Fulfillment.BatchSize == 0 {
		cfg.Fulfillment.BatchSize = 50
	}
	if cfg.Fulfillment.WorkerCount == 0 {
		cfg.Fulfillment.WorkerCount = 4
	}
	if cfg.Fulfillment.BackstopInterval == 0 {
		cfg.Fulfillment.BackstopInterval = 5 * time.Minute
	}
	if cfg.Fulfillment.BackstopLookback == 0 {
		cfg.Fulfillment.BackstopLookback = 24 * time.Hour
	}
	if cfg.Pricing.MarkupMode == "" {
		cfg.Pricing.MarkupMode = "percentage"
	}
	if cfg.Pricing.MarkupValue == 0 {
		cfg.Pricing.MarkupValue = 20
	}
	if cfg.Balance.CheckInterval == 0 {
		cfg.Balance.CheckInterval = 15 * time.Minute
	}
	if cfg.Balance.LowThreshold == 0 {
		cfg.Balance.LowThreshold = 100
	}
	if cfg.Balance.Currency == "" {
		cfg.Balance.Currency = "EUR"
	}
	if cfg.Telemetry.CollectorEndpoint == "" {
		cfg.Telemetry.CollectorEndpoint = "localhost:4317"
	}
	if cfg.Telemetry.SamplingRatio == 0 {
		cfg.Telemetry.SamplingRatio = 1.0
	}
	if cfg.Telemetry.ServiceName == "" {
		cfg.Telemetry.ServiceName = "keysync-backend"
	}
}

// validate performs validation on the configuration
func (c *Config) validate() error {
	if c.Database.MaxOpenConns <= 0 {
		return fmt.Errorf("database.max_open_conns must be positive")
	}
	if c.Database.MaxIdleConns < 0 {
		return fmt.Errorf("database.max_idle_conns cannot be negative")
	}
	if c.Database.MaxIdleConns > c.Database.MaxOpenConns {
		return fmt.Errorf("database.max_idle_conns (%d) cannot exceed database.max_open_conns (%d)",
			c.Database.MaxIdleConns, c.Database.MaxOpenConns)
	}

	if c.Fulfillment.MaxAttempts < 1 {
		return fmt.Errorf("fulfillment.max_attempts must be at least 1")
	}
	if c.Fulfillment.BaseDelay <= 0 {
		return fmt.Errorf("fulfillment.base_delay must be positive")
	}
	if c.Fulfillment.MaxDelay < c.Fulfillment.BaseDelay {
		return fmt.Errorf("fulfillment.max_delay (%s) cannot be shorter than fulfillment.base_delay (%s)",
			c.Fulfillment.MaxDelay, c.Fulfillment.BaseDelay)
	}

	if mode := c.Pricing.MarkupMode; mode != "percentage" && mode != "fixed" {
		return fmt.Errorf("pricing.markup_mode must be 'percentage' or 'fixed', got %q", mode)
	}
	if c.Pricing.MarkupValue < 0 {
		return fmt.Errorf("pricing.markup_value cannot be negative")
	}

	if c.App.Env == "production" {
		if c.JWT.Secret == "" {
			return fmt.Errorf("jwt.secret is required in production")
		}
		if len(c.JWT.Secret) < 32 {
			return fmt.Errorf("jwt.secret must be at least 32 characters in production")
		}
		if c.Database.Password == "" {
			return fmt.Errorf("database.password is required in production")
		}
		if c.Database.SSLMode == "disable" {
			return fmt.Errorf("database.sslmode cannot be 'disable' in production")
		}
		if c.Supplier.ClientID == "" || c.Supplier.ClientSecret == "" {
			return fmt.Errorf("supplier.client_id and supplier.client_secret are required in production")
		}
		if c.Supplier.WebhookSecret == "" {
			return fmt.Errorf("supplier.webhook_secret is required in production")
		}
		if c.Supplier.Sandbox {
			return fmt.Errorf("supplier.sandbox must be false in production")
		}
		if c.Platform.APIBaseURL == "" || c.Platform.APIKey == "" {
			return fmt.Errorf("platform.api_base_url and platform.api_key are required in production")
		}
		for _, origin := range c.HTTP.CORSAllowOrigins {
			if origin == "*" {
				return fmt.Errorf("cors_allow_origins cannot be '*' in production (use specific origins)")
			}
		}
	}

	if c.Telemetry.SamplingRatio < 0.0 || c.Telemetry.SamplingRatio > 1.0 {
		return fmt.Errorf("telemetry.sampling_ratio must be between 0.0 and 1.0, got %f", c.Telemetry.SamplingRatio)
	}

	return nil
}

// DSN returns the database connection string with properly escaped values
func (d *DatabaseConfig) DSN() string {
	u := url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(d.User, d.Password),
		Host:   fmt.Sprintf("%s:%d", d.Host, d.Port),
		Path:   d.DBName,
	}
	q := u.Query()
	q.Set("sslmode", d.SSLMode)
	u.RawQuery = q.Encode()
	return u.String()
}
