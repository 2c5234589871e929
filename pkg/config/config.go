// Package config loads application configuration from a YAML file and
// ITEMD_-prefixed environment variables.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/viper"

	"github.com/edgeloop/itemd/pkg/changelog"
	"github.com/edgeloop/itemd/pkg/notify"
)

// Config holds application-wide configuration
type Config struct {
	Environment string         `mapstructure:"environment"`
	API         APIConfig      `mapstructure:"api"`
	Notifier    NotifierConfig `mapstructure:"notifier"`
}

// APIConfig configures the HTTP server and its store backend.
type APIConfig struct {
	ListenAddr string      `mapstructure:"listenAddr"`
	Backend    string      `mapstructure:"backend"` // memory, redis or postgres
	PG         PGConfig    `mapstructure:"pg"`
	Redis      RedisConfig `mapstructure:"redis"`
}

type PGConfig struct {
	ConnString string `mapstructure:"connString"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// NotifierConfig configures the change notification processor.
type NotifierConfig struct {
	BatchSize int                   `mapstructure:"batchSize"`
	Topic     string                `mapstructure:"topic"`
	Changelog changelog.RedisConfig `mapstructure:"changelog"`
	Peer      notify.Peer           `mapstructure:"peer"`
}

// Default returns the configuration used when no file or environment
// overrides are present.
func Default() *Config {
	return &Config{
		Environment: "dev",
		API: APIConfig{
			ListenAddr: ":8080",
			Backend:    "memory",
			Redis:      RedisConfig{Addr: "localhost:6379"},
		},
		Notifier: NotifierConfig{
			BatchSize: 100,
			Topic:     "items",
			Changelog: changelog.RedisConfig{
				Addr:     "localhost:6379",
				Stream:   "itemd:changes",
				Group:    "notifier",
				Consumer: "notifier-0",
			},
			Peer: notify.Peer{ConnectorName: notify.ConnectorDebug},
		},
	}
}

// Load reads config from file or environment
func Load(cfgFile string) (*Config, error) {
	v := viper.New()

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.SetConfigName("itemd")
		v.SetConfigType("yaml")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".config"))
		}
		v.AddConfigPath(".")
	}

	v.AutomaticEnv()
	v.SetEnvPrefix("ITEMD")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	cfg := Default()
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}

	return cfg, nil
}
