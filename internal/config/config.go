// Package config loads docqueue settings from DOCQUEUE_* environment variables.
package config

import (
	"fmt"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/kelseyhightower/envconfig"
	"github.com/rs/zerolog"

	"docqueue/internal/queue"
	"docqueue/internal/scheduler"
)

const (
	StoreMongo  = "mongo"
	StoreSQLite = "sqlite"
	StoreMemory = "memory"
)

type Config struct {
	Addr                string        `envconfig:"ADDR" default:":8080"`
	Store               string        `envconfig:"STORE" default:"sqlite"`
	MongoURI            string        `envconfig:"MONGO_URI" default:"mongodb://localhost:27017"`
	MongoDatabase       string        `envconfig:"MONGO_DATABASE" default:"docqueue"`
	MongoConnectTimeout time.Duration `envconfig:"MONGO_CONNECT_TIMEOUT" default:"30s"`
	SQLitePath          string        `envconfig:"SQLITE_PATH" default:"docqueue.db"`

	Visibility       time.Duration `envconfig:"VISIBILITY" default:"30s"`
	Delay            time.Duration `envconfig:"DELAY" default:"0s"`
	DeadLetterSuffix string        `envconfig:"DEAD_LETTER_SUFFIX"`
	MaxRetries       int           `envconfig:"MAX_RETRIES" default:"5"`

	Workers       int           `envconfig:"WORKERS" default:"8"`
	Poll          time.Duration `envconfig:"POLL" default:"250ms"`
	PurgeSchedule string        `envconfig:"PURGE_SCHEDULE" default:"@every 1h"`
	LogLevel      string        `envconfig:"LOG_LEVEL" default:"info"`
}

// Load reads the environment and validates the result.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("docqueue", &cfg); err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}

func (c Config) Validate() error {
	return validation.ValidateStruct(&c,
		validation.Field(&c.Store, validation.Required, validation.In(StoreMongo, StoreSQLite, StoreMemory)),
		validation.Field(&c.MongoURI, validation.When(c.Store == StoreMongo, validation.Required)),
		validation.Field(&c.MongoDatabase, validation.When(c.Store == StoreMongo, validation.Required)),
		validation.Field(&c.SQLitePath, validation.When(c.Store == StoreSQLite, validation.Required)),
		validation.Field(&c.Visibility, validation.Required, validation.Min(time.Second)),
		validation.Field(&c.Delay, validation.Min(time.Duration(0))),
		validation.Field(&c.MaxRetries, validation.Min(0)),
		validation.Field(&c.Workers, validation.Required, validation.Min(1)),
		validation.Field(&c.Poll, validation.Required, validation.Min(time.Millisecond)),
		validation.Field(&c.PurgeSchedule, validation.By(cronSpec)),
		validation.Field(&c.LogLevel, validation.By(logLevel)),
	)
}

func cronSpec(value interface{}) error {
	s, _ := value.(string)
	if s == "" {
		return nil
	}
	if err := scheduler.ValidateCronExpression(s); err != nil {
		return fmt.Errorf("invalid cron expression: %w", err)
	}
	return nil
}

func logLevel(value interface{}) error {
	s, _ := value.(string)
	_, err := zerolog.ParseLevel(s)
	return err
}

// Level returns the configured log level, defaulting to info.
func (c Config) Level() zerolog.Level {
	lvl, err := zerolog.ParseLevel(c.LogLevel)
	if err != nil || lvl == zerolog.NoLevel {
		return zerolog.InfoLevel
	}
	return lvl
}

// Queues derives the settings shared by every managed queue.
func (c Config) Queues() queue.ManagerConfig {
	return queue.ManagerConfig{
		Visibility:       c.Visibility,
		Delay:            c.Delay,
		DeadLetterSuffix: c.DeadLetterSuffix,
		MaxRetries:       c.MaxRetries,
	}
}
