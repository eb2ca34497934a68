package config

import (
	"fmt"

	"github.com/kelseyhightower/envconfig"
	"github.com/sirupsen/logrus"
)

type envOverrides struct {
	LogLevel         string `envconfig:"LOG_LEVEL"`
	PostgresPassword string `envconfig:"POSTGRES_PASSWORD"`
	RedisAddr        string `envconfig:"REDIS_ADDR"`
	PresenterHost    string `envconfig:"PRESENTER_HOST"`
}

const envPrefix = "BRIDGE"

func applyEnvOverrides(cfg *Config) error {
	var env envOverrides
	if err := envconfig.Process(envPrefix, &env); err != nil {
		return fmt.Errorf("can't read environment: %w", err)
	}
	if env.LogLevel != "" {
		level, err := logrus.ParseLevel(env.LogLevel)
		if err != nil {
			return fmt.Errorf("can't parse %s_LOG_LEVEL: %w", envPrefix, err)
		}
		cfg.LogLevel = level
	}
	if env.PostgresPassword != "" && cfg.DBConfig != nil {
		cfg.DBConfig.Password = env.PostgresPassword
	}
	if env.RedisAddr != "" {
		if cfg.Redis == nil {
			cfg.Redis = &RedisConfig{}
			cfg.setDefaults()
		}
		cfg.Redis.Addr = env.RedisAddr
	}
	if env.PresenterHost != "" {
		if cfg.Presenter == nil {
			cfg.Presenter = &PresenterConfig{}
		}
		cfg.Presenter.Host = env.PresenterHost
	}
	return nil
}
