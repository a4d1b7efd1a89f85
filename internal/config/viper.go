// Package config provides Viper-based hierarchical configuration management
package config

import (
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment variable override, e.g.
// TXRULES_LOG_LEVEL or TXRULES_ENGINE_WORKERS.
const EnvPrefix = "TXRULES"

// Config represents the complete application configuration
type Config struct {
	Log struct {
		Level  string `mapstructure:"level" yaml:"level"`
		Format string `mapstructure:"format" yaml:"format"`
	} `mapstructure:"log" yaml:"log"`

	Database struct {
		Path string `mapstructure:"path" yaml:"path"`
	} `mapstructure:"database" yaml:"database"`

	Engine struct {
		Workers             int `mapstructure:"workers" yaml:"workers"`
		SequentialThreshold int `mapstructure:"sequential_threshold" yaml:"sequential_threshold"`
	} `mapstructure:"engine" yaml:"engine"`

	Learning struct {
		CategoryPriority    int `mapstructure:"category_priority" yaml:"category_priority"`
		BeneficiaryPriority int `mapstructure:"beneficiary_priority" yaml:"beneficiary_priority"`
		MaxKeywords         int `mapstructure:"max_keywords" yaml:"max_keywords"`
		MinKeywordLength    int `mapstructure:"min_keyword_length" yaml:"min_keyword_length"`
	} `mapstructure:"learning" yaml:"learning"`

	Server struct {
		Addr string `mapstructure:"addr" yaml:"addr"`
	} `mapstructure:"server" yaml:"server"`

	CSV struct {
		Delimiter  string `mapstructure:"delimiter" yaml:"delimiter"`
		DateFormat string `mapstructure:"date_format" yaml:"date_format"`
	} `mapstructure:"csv" yaml:"csv"`

	Cache struct {
		SettingsTTLSeconds int   `mapstructure:"settings_ttl_seconds" yaml:"settings_ttl_seconds"`
		MaxCost            int64 `mapstructure:"max_cost" yaml:"max_cost"`
	} `mapstructure:"cache" yaml:"cache"`
}

// InitializeConfig initializes Viper configuration with hierarchical loading:
// defaults, then config.yaml, then TXRULES_* environment variables.
func InitializeConfig() (*Config, error) {
	v := viper.New()

	// 1. Set defaults
	setDefaults(v)

	// 2. Config file locations
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath("$HOME/.txrules")
	v.AddConfigPath(".txrules")
	v.AddConfigPath(".")

	// 3. Environment variables
	v.SetEnvPrefix(EnvPrefix)
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// 4. Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file %s: %w", v.ConfigFileUsed(), err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// 5. Validate configuration
	if err := validateConfig(&config); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

// Default returns a configuration populated with defaults only.
func Default() *Config {
	v := viper.New()
	setDefaults(v)
	var config Config
	// Defaults always decode.
	_ = v.Unmarshal(&config)
	return &config
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")

	v.SetDefault("database.path", "txrules.db")

	v.SetDefault("engine.workers", 4)
	v.SetDefault("engine.sequential_threshold", 16)

	v.SetDefault("learning.category_priority", 500)
	v.SetDefault("learning.beneficiary_priority", 300)
	v.SetDefault("learning.max_keywords", 3)
	v.SetDefault("learning.min_keyword_length", 4)

	v.SetDefault("server.addr", ":8080")

	v.SetDefault("csv.delimiter", ",")
	v.SetDefault("csv.date_format", "2006-01-02")

	v.SetDefault("cache.settings_ttl_seconds", 300)
	v.SetDefault("cache.max_cost", 1000)
}

// validateConfig validates the configuration values
func validateConfig(config *Config) error {
	if _, err := logrus.ParseLevel(config.Log.Level); err != nil {
		return fmt.Errorf("invalid log level: %s", config.Log.Level)
	}

	if config.Log.Format != "text" && config.Log.Format != "json" {
		return fmt.Errorf("invalid log format: %s (must be 'text' or 'json')", config.Log.Format)
	}

	if strings.TrimSpace(config.Database.Path) == "" {
		return fmt.Errorf("database.path must not be empty")
	}

	if config.Engine.Workers < 1 || config.Engine.Workers > 256 {
		return fmt.Errorf("engine.workers must be between 1 and 256, got: %d", config.Engine.Workers)
	}

	if config.Engine.SequentialThreshold < 0 {
		return fmt.Errorf("engine.sequential_threshold must not be negative, got: %d", config.Engine.SequentialThreshold)
	}

	for name, p := range map[string]int{
		"learning.category_priority":    config.Learning.CategoryPriority,
		"learning.beneficiary_priority": config.Learning.BeneficiaryPriority,
	} {
		if p < 1 || p > 1000 {
			return fmt.Errorf("%s must be between 1 and 1000, got: %d", name, p)
		}
	}

	if config.Learning.MaxKeywords < 1 {
		return fmt.Errorf("learning.max_keywords must be at least 1, got: %d", config.Learning.MaxKeywords)
	}

	if config.Learning.MinKeywordLength < 1 {
		return fmt.Errorf("learning.min_keyword_length must be at least 1, got: %d", config.Learning.MinKeywordLength)
	}

	if len([]rune(config.CSV.Delimiter)) != 1 {
		return fmt.Errorf("CSV delimiter must be a single character, got: %s", config.CSV.Delimiter)
	}

	if config.Cache.SettingsTTLSeconds < 0 {
		return fmt.Errorf("cache.settings_ttl_seconds must not be negative, got: %d", config.Cache.SettingsTTLSeconds)
	}

	if config.Cache.MaxCost < 1 {
		return fmt.Errorf("cache.max_cost must be positive, got: %d", config.Cache.MaxCost)
	}

	return nil
}
