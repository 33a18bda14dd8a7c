package config

import (
	"errors"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Upstream  UpstreamConfig  `mapstructure:"upstream"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Sync      SyncConfig      `mapstructure:"sync"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Server    ServerConfig    `mapstructure:"server"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

type UpstreamConfig struct {
	BaseURL      string `mapstructure:"base_url"`
	TokenURL     string `mapstructure:"token_url"`
	ClientID     string `mapstructure:"client_id"`
	ClientSecret string `mapstructure:"client_secret"`
	Timeout      string `mapstructure:"timeout"`
}

func (u UpstreamConfig) GetTimeout() time.Duration {
	d, err := time.ParseDuration(u.Timeout)
	if err != nil || d <= 0 {
		return 30 * time.Second
	}
	return d
}

type DatabaseConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	Database string `mapstructure:"database"`
}

type SyncConfig struct {
	Orders  OrdersConfig  `mapstructure:"orders"`
	Freight FreightConfig `mapstructure:"freight"`
	Catalog CatalogConfig `mapstructure:"catalog"`
}

// OrdersConfig drives the windowed order synchronizer. The upstream order
// endpoints share a 100 req/min quota, so the limiter ceiling stays below it.
type OrdersConfig struct {
	WindowDays      int `mapstructure:"window_days"`
	PageSize        int `mapstructure:"page_size"`
	MaxRequests     int `mapstructure:"max_requests"`
	MaxRequestsFull int `mapstructure:"max_requests_full"`
	RatePerMinute   int `mapstructure:"rate_per_minute"`
	RetryBudget     int `mapstructure:"retry_budget"`
	BackoffBaseMs   int `mapstructure:"backoff_base_ms"`
	BackoffCapMs    int `mapstructure:"backoff_cap_ms"`
	PageDelayMs     int `mapstructure:"page_delay_ms"`
}

type FreightConfig struct {
	SelectLimit  int `mapstructure:"select_limit"`
	BatchSize    int `mapstructure:"batch_size"`
	BatchDelayMs int `mapstructure:"batch_delay_ms"`
	MaxPasses    int `mapstructure:"max_passes"`
}

// CatalogConfig drives the adaptive product sync engine. The product endpoints
// carry a much larger quota than the order endpoints.
type CatalogConfig struct {
	PageSize           int    `mapstructure:"page_size"`
	CronPageSize       int    `mapstructure:"cron_page_size"`
	Workers            int    `mapstructure:"workers"`
	RatePerMinute      int    `mapstructure:"rate_per_minute"`
	RetryBudget        int    `mapstructure:"retry_budget"`
	BackoffBaseMs      int    `mapstructure:"backoff_base_ms"`
	BackoffCapMs       int    `mapstructure:"backoff_cap_ms"`
	TimeboxManual      string `mapstructure:"timebox_manual"`
	TimeboxCron        string `mapstructure:"timebox_cron"`
	TimeboxBackfill    string `mapstructure:"timebox_backfill"`
	CursorSafetyMargin string `mapstructure:"cursor_safety_margin"`
	CursorKey          string `mapstructure:"cursor_key"`
	BackfillMaxPages   int    `mapstructure:"backfill_max_pages"`
}

func (c CatalogConfig) GetTimebox(mode string) time.Duration {
	var raw string
	switch mode {
	case "cron":
		raw = c.TimeboxCron
	case "backfill":
		raw = c.TimeboxBackfill
	default:
		raw = c.TimeboxManual
	}
	d, err := time.ParseDuration(raw)
	if err != nil || d <= 0 {
		return time.Minute
	}
	return d
}

func (c CatalogConfig) GetCursorSafetyMargin() time.Duration {
	d, err := time.ParseDuration(c.CursorSafetyMargin)
	if err != nil || d <= 0 {
		return 12 * time.Hour
	}
	return d
}

type SchedulerConfig struct {
	Enabled          bool   `mapstructure:"enabled"`
	OrdersCron       string `mapstructure:"orders_cron"`
	CatalogCron      string `mapstructure:"catalog_cron"`
	TokenRefreshCron string `mapstructure:"token_refresh_cron"`
	OrdersRecentDays int    `mapstructure:"orders_recent_days"`
}

type ServerConfig struct {
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	AuthToken    string `mapstructure:"auth_token"`
	ReadTimeout  string `mapstructure:"read_timeout"`
	WriteTimeout string `mapstructure:"write_timeout"`
}

func (s ServerConfig) GetReadTimeout() time.Duration {
	d, _ := time.ParseDuration(s.ReadTimeout)
	return d
}

func (s ServerConfig) GetWriteTimeout() time.Duration {
	d, _ := time.ParseDuration(s.WriteTimeout)
	return d
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

func LoadConfig(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)

	v.SetEnvPrefix("ERPSYNC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		// Missing file is tolerated; env vars and defaults still apply.
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !os.IsNotExist(err) {
			return nil, err
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("upstream.timeout", "30s")

	v.SetDefault("database.port", 3306)

	v.SetDefault("sync.orders.window_days", 3)
	v.SetDefault("sync.orders.page_size", 100)
	v.SetDefault("sync.orders.max_requests", 1000)
	v.SetDefault("sync.orders.max_requests_full", 2000)
	v.SetDefault("sync.orders.rate_per_minute", 90)
	v.SetDefault("sync.orders.retry_budget", 8)
	v.SetDefault("sync.orders.backoff_base_ms", 1000)
	v.SetDefault("sync.orders.backoff_cap_ms", 60000)
	v.SetDefault("sync.orders.page_delay_ms", 500)

	v.SetDefault("sync.freight.select_limit", 100)
	v.SetDefault("sync.freight.batch_size", 10)
	v.SetDefault("sync.freight.batch_delay_ms", 2000)
	v.SetDefault("sync.freight.max_passes", 5)

	v.SetDefault("sync.catalog.page_size", 100)
	v.SetDefault("sync.catalog.cron_page_size", 8)
	v.SetDefault("sync.catalog.workers", 4)
	v.SetDefault("sync.catalog.rate_per_minute", 1300)
	v.SetDefault("sync.catalog.retry_budget", 8)
	v.SetDefault("sync.catalog.backoff_base_ms", 1000)
	v.SetDefault("sync.catalog.backoff_cap_ms", 32000)
	v.SetDefault("sync.catalog.timebox_manual", "2m")
	v.SetDefault("sync.catalog.timebox_cron", "7s")
	v.SetDefault("sync.catalog.timebox_backfill", "10m")
	v.SetDefault("sync.catalog.cursor_safety_margin", "12h")
	v.SetDefault("sync.catalog.cursor_key", "products")
	v.SetDefault("sync.catalog.backfill_max_pages", 10)

	v.SetDefault("scheduler.enabled", false)
	v.SetDefault("scheduler.orders_recent_days", 7)

	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", "15s")
	v.SetDefault("server.write_timeout", "30s")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
}
