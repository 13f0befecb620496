package config

import (
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/spf13/viper"
)

// Config represents the complete application configuration.
type Config struct {
	Sync        SyncConfig        `mapstructure:"sync"`
	Differ      DifferConfig      `mapstructure:"differ"`
	Correlation CorrelationConfig `mapstructure:"correlation"`
	Alerts      AlertsConfig      `mapstructure:"alerts"`
	Sources     SourcesConfig     `mapstructure:"sources"`
	Telegram    TelegramConfig    `mapstructure:"telegram"`
	Storage     StorageConfig     `mapstructure:"storage"`
	Health      HealthConfig      `mapstructure:"health"`
	Logging     LoggingConfig     `mapstructure:"logging"`
}

// SyncConfig holds scheduler cadence and concurrency settings.
type SyncConfig struct {
	CyclePeriod         time.Duration `mapstructure:"cycle_period"`
	IdleInterval        time.Duration `mapstructure:"idle_interval"`
	Workers             int           `mapstructure:"workers"`
	FetchTimeout        time.Duration `mapstructure:"fetch_timeout"`
	CycleDeadlineFactor int           `mapstructure:"cycle_deadline_factor"`
	DrainTimeout        time.Duration `mapstructure:"drain_timeout"`
	MaxBackoffCycles    int           `mapstructure:"max_backoff_cycles"`
}

// DifferConfig holds change-detection settings.
type DifferConfig struct {
	ThresholdPct float64  `mapstructure:"threshold_pct"`
	ScoreFields  []string `mapstructure:"score_fields"`
	PriceFields  []string `mapstructure:"price_fields"`
}

// CorrelationConfig holds the reading-window settings and the mapping
// from tracked entities to their correlated market entities.
type CorrelationConfig struct {
	Lookback  time.Duration     `mapstructure:"lookback"`
	Lookahead time.Duration     `mapstructure:"lookahead"`
	Retention time.Duration     `mapstructure:"retention"`
	MarketMap map[string]string `mapstructure:"market_map"`
}

// AlertsConfig holds dispatch settings. Cooldowns are keyed by alert
// type; a zero duration disables dedup for that type.
type AlertsConfig struct {
	Cooldowns   map[string]time.Duration `mapstructure:"cooldowns"`
	SinkTimeout time.Duration            `mapstructure:"sink_timeout"`
}

// SourceConfig holds settings for one upstream adapter.
type SourceConfig struct {
	BaseURL     string        `mapstructure:"base_url"`
	Timeout     time.Duration `mapstructure:"timeout"`
	MinInterval time.Duration `mapstructure:"min_interval"`
}

// SourcesConfig holds the per-kind adapter settings.
type SourcesConfig struct {
	Scores SourceConfig `mapstructure:"scores"`
	Market SourceConfig `mapstructure:"market"`
}

// TelegramConfig holds Telegram notification configuration.
type TelegramConfig struct {
	BotToken       string        `mapstructure:"bot_token"`
	ChatID         string        `mapstructure:"chat_id"`
	Enabled        bool          `mapstructure:"enabled"`
	MaxRetries     int           `mapstructure:"max_retries"`
	RetryDelayBase time.Duration `mapstructure:"retry_delay_base"`
}

// StorageConfig holds persistence configuration.
type StorageConfig struct {
	DBPath string `mapstructure:"db_path"`
}

// HealthConfig holds the health endpoint configuration.
type HealthConfig struct {
	Enabled    bool   `mapstructure:"enabled"`
	ListenAddr string `mapstructure:"listen_addr"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Load reads configuration from file and environment variables.
// All settings have defaults; a missing file just means defaults plus
// env overrides, while a present-but-broken file is an error.
func Load(path string) (*Config, error) {
	v := viper.New()

	v.SetConfigFile(path)
	setDefaults(v)

	v.SetEnvPrefix("GAMEPULSE")
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}

// Default returns the built-in configuration without reading a file.
func Default() *Config {
	v := viper.New()
	setDefaults(v)
	var cfg Config
	_ = v.Unmarshal(&cfg)
	return &cfg
}

// setDefaults configures default values for all configuration options.
func setDefaults(v *viper.Viper) {
	// Scheduler defaults
	v.SetDefault("sync.cycle_period", "5s")
	v.SetDefault("sync.idle_interval", "60s")
	v.SetDefault("sync.workers", 4)
	v.SetDefault("sync.fetch_timeout", "10s")
	v.SetDefault("sync.cycle_deadline_factor", 3)
	v.SetDefault("sync.drain_timeout", "5s")
	v.SetDefault("sync.max_backoff_cycles", 8)

	// Differ defaults
	v.SetDefault("differ.threshold_pct", 0.10)
	v.SetDefault("differ.score_fields", []string{"home_score", "away_score", "score"})
	v.SetDefault("differ.price_fields", []string{"price", "yes_price"})

	// Correlation defaults
	v.SetDefault("correlation.lookback", "90s")
	v.SetDefault("correlation.lookahead", "90s")
	v.SetDefault("correlation.retention", "5m")
	v.SetDefault("correlation.market_map", map[string]string{})

	// Alert defaults
	v.SetDefault("alerts.cooldowns", map[string]string{
		"score_change":      "0s",
		"status_change":     "0s",
		"threshold_crossed": "300s",
	})
	v.SetDefault("alerts.sink_timeout", "5s")

	// Source defaults
	v.SetDefault("sources.scores.base_url", "http://localhost:8080")
	v.SetDefault("sources.scores.timeout", "10s")
	v.SetDefault("sources.scores.min_interval", "1s")
	v.SetDefault("sources.market.base_url", "http://localhost:8081")
	v.SetDefault("sources.market.timeout", "10s")
	v.SetDefault("sources.market.min_interval", "1s")

	// Storage defaults
	v.SetDefault("storage.db_path", "")

	// Health defaults
	v.SetDefault("health.enabled", true)
	v.SetDefault("health.listen_addr", ":8090")

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
}

// Validate checks that all configuration values are valid. A
// violation here is fatal at startup; nothing else in the process
// treats configuration as an error source.
func (c *Config) Validate() error {
	if c.Sync.CyclePeriod < time.Second {
		return fmt.Errorf("sync.cycle_period must be at least 1 second")
	}
	if c.Sync.IdleInterval < c.Sync.CyclePeriod {
		return fmt.Errorf("sync.idle_interval must be at least the cycle period")
	}
	if c.Sync.Workers < 1 {
		return fmt.Errorf("sync.workers must be at least 1")
	}
	if c.Sync.FetchTimeout <= 0 {
		return fmt.Errorf("sync.fetch_timeout must be positive")
	}
	if c.Sync.CycleDeadlineFactor < 1 {
		return fmt.Errorf("sync.cycle_deadline_factor must be at least 1")
	}
	if c.Sync.DrainTimeout <= 0 {
		return fmt.Errorf("sync.drain_timeout must be positive")
	}
	if c.Sync.MaxBackoffCycles < 1 {
		return fmt.Errorf("sync.max_backoff_cycles must be at least 1")
	}

	if c.Differ.ThresholdPct <= 0.0 || c.Differ.ThresholdPct > 1.0 {
		return fmt.Errorf("differ.threshold_pct must be between 0.0 and 1.0")
	}

	if c.Correlation.Lookback <= 0 {
		return fmt.Errorf("correlation.lookback must be positive")
	}
	if c.Correlation.Lookahead <= 0 {
		return fmt.Errorf("correlation.lookahead must be positive")
	}
	if c.Correlation.Retention < c.Correlation.Lookback {
		return fmt.Errorf("correlation.retention must cover the lookback window")
	}

	for typ, d := range c.Alerts.Cooldowns {
		if d < 0 {
			return fmt.Errorf("alerts.cooldowns.%s must not be negative", typ)
		}
	}
	if c.Alerts.SinkTimeout <= 0 {
		return fmt.Errorf("alerts.sink_timeout must be positive")
	}

	if c.Sources.Scores.BaseURL == "" {
		return fmt.Errorf("sources.scores.base_url is required")
	}
	if c.Sources.Market.BaseURL == "" {
		return fmt.Errorf("sources.market.base_url is required")
	}
	if c.Sources.Scores.Timeout <= 0 || c.Sources.Market.Timeout <= 0 {
		return fmt.Errorf("source timeouts must be positive")
	}

	if c.Telegram.Enabled {
		if c.Telegram.BotToken == "" {
			return fmt.Errorf("telegram.bot_token is required when telegram is enabled")
		}
		if c.Telegram.ChatID == "" {
			return fmt.Errorf("telegram.chat_id is required when telegram is enabled")
		}
	}

	if c.Health.Enabled && c.Health.ListenAddr == "" {
		return fmt.Errorf("health.listen_addr is required when health is enabled")
	}

	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[c.Logging.Level] {
		return fmt.Errorf("logging.level must be one of: debug, info, warn, error")
	}
	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[c.Logging.Format] {
		return fmt.Errorf("logging.format must be one of: json, text")
	}

	return nil
}
