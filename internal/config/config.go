package config

import (
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Env                     string        `mapstructure:"ENV"`
	Port                    string        `mapstructure:"PORT"`
	DatabaseURL             string        `mapstructure:"DB_DSN"`
	RedisURL                string        `mapstructure:"REDIS_URL"`
	RedisChannel            string        `mapstructure:"REDIS_CHANNEL"`
	RateLimitPerMinute      int           `mapstructure:"RATE_LIMIT_PER_MIN"`
	RateLimitBurst          int           `mapstructure:"RATE_LIMIT_BURST"`
	StaffRateLimitPerMinute int           `mapstructure:"STAFF_RATE_LIMIT_PER_MIN"`
	StaffRateLimitBurst     int           `mapstructure:"STAFF_RATE_LIMIT_BURST"`
	RegisterMaxAttempts     int           `mapstructure:"REGISTER_MAX_ATTEMPTS"`
	HistorySize             int           `mapstructure:"HISTORY_SIZE"`
	SessionTTL              time.Duration `mapstructure:"SESSION_TTL"`
	Timezone                string        `mapstructure:"TIMEZONE"`
	LogLevel                string        `mapstructure:"LOG_LEVEL"`
	RealtimeBuffer          int           `mapstructure:"REALTIME_BUFFER"`
	AdminUsername           string        `mapstructure:"ADMIN_USERNAME"`
	AdminPassword           string        `mapstructure:"ADMIN_PASSWORD"`
}

// Load reads .env when present, then the environment, which wins.
func Load() (Config, error) {
	return LoadFile(".env")
}

func LoadFile(path string) (Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("env")
	v.AutomaticEnv()
	if err := v.ReadInConfig(); err != nil && !missingConfigFile(err) {
		return Config{}, fmt.Errorf("read %s: %w", path, err)
	}

	v.SetDefault("ENV", "dev")
	v.SetDefault("PORT", "8080")
	v.SetDefault("DB_DSN", "")
	v.SetDefault("REDIS_URL", "")
	v.SetDefault("REDIS_CHANNEL", "qms.events")
	v.SetDefault("RATE_LIMIT_PER_MIN", 120)
	v.SetDefault("RATE_LIMIT_BURST", 30)
	v.SetDefault("STAFF_RATE_LIMIT_PER_MIN", 600)
	v.SetDefault("STAFF_RATE_LIMIT_BURST", 120)
	v.SetDefault("REGISTER_MAX_ATTEMPTS", 3)
	v.SetDefault("HISTORY_SIZE", 4)
	v.SetDefault("SESSION_TTL", "12h")
	v.SetDefault("TIMEZONE", "America/Santiago")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("REALTIME_BUFFER", 16)
	v.SetDefault("ADMIN_USERNAME", "admin")
	v.SetDefault("ADMIN_PASSWORD", "admin")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func missingConfigFile(err error) bool {
	var notFound viper.ConfigFileNotFoundError
	return errors.As(err, &notFound) || errors.Is(err, fs.ErrNotExist)
}

func (c Config) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("load timezone %q: %w", c.Timezone, err)
	}
	return loc, nil
}
