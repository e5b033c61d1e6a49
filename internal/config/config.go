package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/rewired-gh/quantstream/internal/indicator"
)

// Config represents the complete application configuration
type Config struct {
	Series     SeriesConfig      `mapstructure:"series"`
	Indicators []IndicatorConfig `mapstructure:"indicators"`
	Outlier    OutlierConfig     `mapstructure:"outlier"`
	ZigZag     ZigZagConfig      `mapstructure:"zigzag"`
	Engine     EngineConfig      `mapstructure:"engine"`
	Storage    StorageConfig     `mapstructure:"storage"`
	Telegram   TelegramConfig    `mapstructure:"telegram"`
	Metrics    MetricsConfig     `mapstructure:"metrics"`
	Logging    LoggingConfig     `mapstructure:"logging"`
}

// SeriesConfig names the series and where its bars come from
type SeriesConfig struct {
	Name       string        `mapstructure:"name"`
	Input      string        `mapstructure:"input"`
	TimeLayout string        `mapstructure:"time_layout"`
	Pace       time.Duration `mapstructure:"pace"` // delay between replayed bars; 0 = as fast as possible
}

// IndicatorConfig holds one crossing indicator definition
type IndicatorConfig struct {
	Name     string `mapstructure:"name"`
	Kind     string `mapstructure:"kind"`
	Fast     int    `mapstructure:"fast"`
	Slow     int    `mapstructure:"slow"`
	Signal   int    `mapstructure:"signal"`
	Period   int    `mapstructure:"period"`
	Inverted bool   `mapstructure:"inverted"`
}

// Params converts the definition to indicator parameters.
func (c IndicatorConfig) Params() indicator.Params {
	return indicator.Params{Fast: c.Fast, Slow: c.Slow, Signal: c.Signal, Period: c.Period, Inverted: c.Inverted}
}

// OutlierConfig holds the streaming outlier filter configuration
type OutlierConfig struct {
	Enabled            bool    `mapstructure:"enabled"`
	Window             int     `mapstructure:"window"`
	Threshold          float64 `mapstructure:"threshold"`
	CorrectedReference bool    `mapstructure:"corrected_reference"`
}

// ZigZagConfig holds swing detection configuration
type ZigZagConfig struct {
	Enabled   bool    `mapstructure:"enabled"`
	Depth     int     `mapstructure:"depth"`
	Deviation float64 `mapstructure:"deviation"`
	Backstep  int     `mapstructure:"backstep"`
	Capacity  int     `mapstructure:"capacity"`
}

// EngineConfig holds signal handling configuration
type EngineConfig struct {
	CheckpointInterval int `mapstructure:"checkpoint_interval"` // bars between journal flushes
	TopK               int `mapstructure:"top_k"`               // signals per notification
	CooldownBars       int `mapstructure:"cooldown_bars"`       // bars before a source may repeat a direction
}

// StorageConfig holds storage and persistence configuration
type StorageConfig struct {
	DBPath     string `mapstructure:"db_path"`
	MaxSignals int    `mapstructure:"max_signals"`
}

// TelegramConfig holds Telegram notification configuration
type TelegramConfig struct {
	BotToken       string        `mapstructure:"bot_token"`
	ChatID         string        `mapstructure:"chat_id"`
	Enabled        bool          `mapstructure:"enabled"`
	MaxRetries     int           `mapstructure:"max_retries"`
	RetryDelayBase time.Duration `mapstructure:"retry_delay_base"`
}

// MetricsConfig holds the Prometheus endpoint configuration
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Addr    string `mapstructure:"addr"`
	Path    string `mapstructure:"path"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Load reads configuration from file and environment variables.
// An empty path loads defaults and environment only.
func Load(path string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	// QUANTSTREAM_STORAGE_DB_PATH overrides storage.db_path
	v.SetEnvPrefix("QUANTSTREAM")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}

// setDefaults configures default values for all configuration options
func setDefaults(v *viper.Viper) {
	v.SetDefault("series.name", "default")
	v.SetDefault("series.time_layout", time.RFC3339)
	v.SetDefault("series.pace", "0s")

	v.SetDefault("indicators", []map[string]any{
		{"name": "sma", "kind": "sma", "fast": 10, "slow": 30},
		{"name": "macd", "kind": "macd", "fast": 12, "slow": 26, "signal": 9},
	})

	v.SetDefault("outlier.enabled", true)
	v.SetDefault("outlier.window", 30)
	v.SetDefault("outlier.threshold", 6.0)
	v.SetDefault("outlier.corrected_reference", false)

	v.SetDefault("zigzag.enabled", true)
	v.SetDefault("zigzag.depth", 12)
	v.SetDefault("zigzag.deviation", 5.0)
	v.SetDefault("zigzag.backstep", 3)
	v.SetDefault("zigzag.capacity", 300)

	v.SetDefault("engine.checkpoint_interval", 100)
	v.SetDefault("engine.top_k", 10)
	v.SetDefault("engine.cooldown_bars", 0)

	v.SetDefault("storage.db_path", "")
	v.SetDefault("storage.max_signals", 10000)

	v.SetDefault("telegram.enabled", false)
	v.SetDefault("telegram.max_retries", 3)
	v.SetDefault("telegram.retry_delay_base", "1s")

	v.SetDefault("metrics.enabled", false)
	v.SetDefault("metrics.addr", ":9090")
	v.SetDefault("metrics.path", "/metrics")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
}

// Validate checks that all configuration values are valid
func (c *Config) Validate() error {
	if c.Series.Name == "" {
		return fmt.Errorf("series.name is required")
	}
	if c.Series.Pace < 0 {
		return fmt.Errorf("series.pace must not be negative")
	}

	seen := make(map[string]bool)
	for i, ind := range c.Indicators {
		if _, err := indicator.ParseKind(ind.Kind); err != nil {
			return fmt.Errorf("indicators[%d].kind: %w", i, err)
		}
		name := ind.Name
		if name == "" {
			name = ind.Kind
		}
		if seen[name] {
			return fmt.Errorf("indicators[%d]: duplicate name %q", i, name)
		}
		seen[name] = true
	}

	if c.Outlier.Enabled {
		if c.Outlier.Window < 30 {
			return fmt.Errorf("outlier.window must be at least 30")
		}
		if c.Outlier.Threshold <= 0 {
			return fmt.Errorf("outlier.threshold must be positive")
		}
	}

	if c.ZigZag.Enabled {
		if c.ZigZag.Depth < 2 {
			return fmt.Errorf("zigzag.depth must be at least 2")
		}
		if c.ZigZag.Backstep < 0 || c.ZigZag.Backstep >= c.ZigZag.Depth {
			return fmt.Errorf("zigzag.backstep must be in [0, depth)")
		}
		if c.ZigZag.Deviation < 0 {
			return fmt.Errorf("zigzag.deviation must not be negative")
		}
		if c.ZigZag.Capacity != 0 && c.ZigZag.Capacity < c.ZigZag.Depth {
			return fmt.Errorf("zigzag.capacity must be at least depth")
		}
	}

	if c.Engine.CheckpointInterval < 1 {
		return fmt.Errorf("engine.checkpoint_interval must be at least 1")
	}
	if c.Engine.TopK < 1 {
		return fmt.Errorf("engine.top_k must be at least 1")
	}
	if c.Engine.CooldownBars < 0 {
		return fmt.Errorf("engine.cooldown_bars must not be negative")
	}

	if c.Storage.MaxSignals < 1 {
		return fmt.Errorf("storage.max_signals must be at least 1")
	}

	if c.Telegram.Enabled {
		if c.Telegram.BotToken == "" {
			return fmt.Errorf("telegram.bot_token is required when telegram is enabled")
		}
		if c.Telegram.ChatID == "" {
			return fmt.Errorf("telegram.chat_id is required when telegram is enabled")
		}
	}

	if c.Metrics.Enabled && c.Metrics.Addr == "" {
		return fmt.Errorf("metrics.addr is required when metrics are enabled")
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
