// Package config loads the referlane configuration from an optional YAML file
// and REFERLANE_* environment variables, with sane defaults for everything
// except the inference API key.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	Storage StorageConfig `mapstructure:"storage"`
	Enrich  EnrichConfig  `mapstructure:"enrich"`
	Budget  BudgetConfig  `mapstructure:"budget"`
	Nudge   NudgeConfig   `mapstructure:"nudge"`
	Log     LogConfig     `mapstructure:"log"`
}

type ServerConfig struct {
	Port     int    `mapstructure:"port"`
	MCPPort  int    `mapstructure:"mcp_port"`
	APIToken string `mapstructure:"api_token"`
}

type StorageConfig struct {
	DataDir string `mapstructure:"data_dir"`
}

type EnrichConfig struct {
	BaseURL        string  `mapstructure:"base_url"`
	APIKey         string  `mapstructure:"api_key"`
	Model          string  `mapstructure:"model"`
	TimeoutSeconds int     `mapstructure:"timeout_seconds"`
	CostPer1KUSD   float64 `mapstructure:"cost_per_1k_usd"`
}

// Timeout returns the bounded timeout for a single inference call.
func (e EnrichConfig) Timeout() time.Duration {
	return time.Duration(e.TimeoutSeconds) * time.Second
}

type BudgetConfig struct {
	DailyLimitUSD    float64 `mapstructure:"daily_limit_usd"`
	DailyTokenLimit  int64   `mapstructure:"daily_token_limit"`
	HourlyCallLimit  int     `mapstructure:"hourly_call_limit"`
	CacheTTLMinutes  int     `mapstructure:"cache_ttl_minutes"`
	SweepIntervalMin int     `mapstructure:"sweep_interval_minutes"`
}

func (b BudgetConfig) CacheTTL() time.Duration {
	return time.Duration(b.CacheTTLMinutes) * time.Minute
}

func (b BudgetConfig) SweepInterval() time.Duration {
	return time.Duration(b.SweepIntervalMin) * time.Minute
}

type NudgeConfig struct {
	MaxCandidates     int `mapstructure:"max_candidates"`
	EnrichConcurrency int `mapstructure:"enrich_concurrency"`
}

type LogConfig struct {
	Level string `mapstructure:"level"`
}

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".referlane"
	}
	return filepath.Join(home, ".referlane")
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 4600)
	v.SetDefault("server.mcp_port", 4601)
	v.SetDefault("storage.data_dir", defaultDataDir())
	v.SetDefault("enrich.base_url", "https://openrouter.ai/api/v1")
	v.SetDefault("enrich.model", "openai/gpt-4o-mini")
	v.SetDefault("enrich.timeout_seconds", 20)
	v.SetDefault("enrich.cost_per_1k_usd", 0.002)
	v.SetDefault("budget.daily_limit_usd", 5.0)
	v.SetDefault("budget.daily_token_limit", 2_000_000)
	v.SetDefault("budget.hourly_call_limit", 120)
	v.SetDefault("budget.cache_ttl_minutes", 1440)
	v.SetDefault("budget.sweep_interval_minutes", 5)
	v.SetDefault("nudge.max_candidates", 5)
	v.SetDefault("nudge.enrich_concurrency", 3)
	v.SetDefault("log.level", "info")
}

// Load reads configuration from referlane.yaml (searched in the working
// directory and $HOME/.referlane) and REFERLANE_* environment variables.
// Environment variables override file values: REFERLANE_ENRICH_API_KEY maps
// to enrich.api_key.
func Load() (Config, error) {
	v := viper.New()
	v.SetConfigName("referlane")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath(defaultDataDir())

	v.SetEnvPrefix("REFERLANE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return Config{}, fmt.Errorf("reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshalling config: %w", err)
	}

	if err := validate(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func validate(cfg Config) error {
	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		return fmt.Errorf("invalid server.port %d", cfg.Server.Port)
	}
	if cfg.Budget.DailyLimitUSD < 0 {
		return fmt.Errorf("budget.daily_limit_usd must not be negative")
	}
	if cfg.Budget.HourlyCallLimit <= 0 {
		return fmt.Errorf("budget.hourly_call_limit must be positive")
	}
	if cfg.Nudge.MaxCandidates <= 0 {
		return fmt.Errorf("nudge.max_candidates must be positive")
	}
	return nil
}
