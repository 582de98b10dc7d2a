package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

type Config struct {
	LogLevel string `yaml:"log-level" env:"LOG_LEVEL" env-default:"info"`
	Redis    Redis  `yaml:"redis"`
	Game     Game   `yaml:"game"`
	Player   Player `yaml:"player"`
}

type Redis struct {
	Host     string `yaml:"host" env:"REDIS_HOST" env-default:"localhost"`
	Port     string `yaml:"port" env:"REDIS_PORT" env-default:"6379"`
	Password string `yaml:"password" env:"REDIS_PASSWORD"`
	DB       int    `yaml:"db" env:"REDIS_DB" env-default:"0"`
}

type Game struct {
	ID                string        `yaml:"id" env:"GAME_ID" env-default:"foo"`
	KeyPrefix         string        `yaml:"key-prefix" env:"GAME_KEY_PREFIX" env-default:"ultimatettt"`
	BlockTimeout      time.Duration `yaml:"block-timeout" env:"GAME_BLOCK_TIMEOUT" env-default:"5s"`
	ReconnectInterval time.Duration `yaml:"reconnect-interval" env:"GAME_RECONNECT_INTERVAL" env-default:"2s"`
}

type Player struct {
	ID string `yaml:"id" env:"PLAYER_ID"`
}

// MustLoad - load configuration from the yaml file at path, or from the environment when there is no file.
func MustLoad(path string) *Config {
	config, err := Load(path)
	if err != nil {
		panic(err)
	}

	return config
}

func Load(path string) (*Config, error) {
	config := &Config{}

	_, err := os.Stat(path)

	switch {
	case path != "" && err == nil:
		if err = cleanenv.ReadConfig(path, config); err != nil {
			return nil, fmt.Errorf("unable to load config file: %w", err)
		}
	case path == "" || errors.Is(err, os.ErrNotExist):
		if err = cleanenv.ReadEnv(config); err != nil {
			return nil, fmt.Errorf("unable to load config from environment: %w", err)
		}
	default:
		return nil, fmt.Errorf("unable to stat config file: %w", err)
	}

	return config, nil
}

func (that *Redis) GetRedisAddr() string {
	if that.Host == "" || that.Port == "" {
		return ""
	}

	return fmt.Sprintf("%s:%s", that.Host, that.Port)
}
