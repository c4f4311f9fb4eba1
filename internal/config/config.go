// Package config loads service configuration from file, environment,
// and defaults.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/viper"
)

// configName is the config file name without extension.
const configName = ".unsafe-track"

// configType is the config file format.
const configType = "yaml"

// envPrefix is the environment variable prefix for settings, e.g.
// UNSAFE_TRACK_SERVER_PORT.
const envPrefix = "UNSAFE_TRACK"

// Defaults.
const (
	DefaultServerPort   = 8080
	DefaultCacheEntries = 50000
	DefaultLogLevel     = "info"
)

// Validation errors.
var (
	ErrBadPort         = errors.New("config: server.port out of range")
	ErrBadCacheEntries = errors.New("config: cache.entries must not be negative")
)

// Config is the full service configuration.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Cache     CacheConfig     `mapstructure:"cache"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// CacheConfig configures the blob result cache.
type CacheConfig struct {
	// Entries caps the number of memoized blob results. Zero disables
	// the cache.
	Entries int `mapstructure:"entries"`
}

// TelemetryConfig configures logging and trace export.
type TelemetryConfig struct {
	OTLPEndpoint string `mapstructure:"otlp_endpoint"`
	LogLevel     string `mapstructure:"log_level"`
	LogJSON      bool   `mapstructure:"log_json"`
}

// Validate checks the configuration for out-of-range values.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("%w: %d", ErrBadPort, c.Server.Port)
	}

	if c.Cache.Entries < 0 {
		return fmt.Errorf("%w: %d", ErrBadCacheEntries, c.Cache.Entries)
	}

	return nil
}

// Load reads configuration from file, env vars, and defaults. A
// non-empty configPath names an explicit file; otherwise the file is
// searched in the working directory and $HOME. A missing file is not an
// error.
func Load(configPath string) (*Config, error) {
	viperCfg := viper.New()

	applyDefaults(viperCfg)

	viperCfg.SetConfigType(configType)
	viperCfg.SetEnvPrefix(envPrefix)
	viperCfg.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viperCfg.AutomaticEnv()

	if configPath != "" {
		viperCfg.SetConfigFile(configPath)
	} else {
		viperCfg.SetConfigName(configName)
		viperCfg.AddConfigPath(".")

		home, err := os.UserHomeDir()
		if err == nil {
			viperCfg.AddConfigPath(home)
		}
	}

	readErr := viperCfg.ReadInConfig()
	if readErr != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(readErr, &notFound) {
			return nil, fmt.Errorf("read config: %w", readErr)
		}
	}

	var cfg Config

	unmarshalErr := viperCfg.Unmarshal(&cfg)
	if unmarshalErr != nil {
		return nil, fmt.Errorf("unmarshal config: %w", unmarshalErr)
	}

	validateErr := cfg.Validate()
	if validateErr != nil {
		return nil, validateErr
	}

	return &cfg, nil
}

func applyDefaults(viperCfg *viper.Viper) {
	viperCfg.SetDefault("server.port", DefaultServerPort)
	viperCfg.SetDefault("cache.entries", DefaultCacheEntries)
	viperCfg.SetDefault("telemetry.otlp_endpoint", "")
	viperCfg.SetDefault("telemetry.log_level", DefaultLogLevel)
	viperCfg.SetDefault("telemetry.log_json", false)
}
