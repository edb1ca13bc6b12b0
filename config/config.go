package config

import (
	"os"

	postgres_wrapper "github.com/dsarman/2016-wood-challenge/pkg/infra/postgres"
	redis_wrapper "github.com/dsarman/2016-wood-challenge/pkg/infra/redis"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// StoreConfig selects the durable backend for the exchange state.
type StoreConfig struct {
	// Backend is one of "memory", "pebble" or "postgres".
	Backend    string                           `yaml:"backend"`
	PebblePath string                           `yaml:"pebble_path"`
	DB         *postgres_wrapper.PostgresConfig `yaml:"db"`
}

type AppConfig struct {
	ServiceName string                     `yaml:"service_name"`
	LogLevel    string                     `yaml:"log_level"`
	ClientAddr  string                     `yaml:"client_addr"`
	FeedAddr    string                     `yaml:"feed_addr"`
	HTTPAddr    string                     `yaml:"http_addr"`
	Store       *StoreConfig               `yaml:"store"`
	Redis       *redis_wrapper.RedisConfig `yaml:"redis"`
}

// Load load config from file and environment variables.
func Load(filePath string) (*AppConfig, error) {
	if len(filePath) == 0 {
		filePath = os.Getenv("CONFIG_FILE")
	}

	fields := []interface{}{
		"func",
		"config.readFromFile",
		"filePath",
		filePath,
	}

	sugar := zap.S().With(fields...)

	sugar.Debug("Load config...")
	zap.S().Debugf("CONFIG_FILE=%v", filePath)

	configBytes, err := os.ReadFile(filePath)
	if err != nil {
		sugar.Error("Failed to load config file")
		return nil, err
	}
	configBytes = []byte(os.ExpandEnv(string(configBytes)))

	cfg := &AppConfig{}

	err = yaml.Unmarshal(configBytes, cfg)
	if err != nil {
		sugar.Error("Failed to parse config file")
		return nil, err
	}

	zap.S().Debugf("config: %+v", cfg)

	return cfg, nil
}
