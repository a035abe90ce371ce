// Package config loads run settings for the player wall from
// MULTIPLAYER_* environment variables. Command-line flags override them.
package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// EnvPrefix is prepended to every variable name below.
const EnvPrefix = "MULTIPLAYER_"

// ErrInvalidConfig wraps every validation failure.
var ErrInvalidConfig = errors.New("invalid configuration")

// Config holds every setting of the run command.
type Config struct {
	Rows   int    `env:"ROWS" envDefault:"3"`
	Cols   int    `env:"COLS" envDefault:"3"`
	Layout string `env:"LAYOUT"` // JSON file or preset name; overrides rows/cols

	Playlist string   `env:"PLAYLIST"` // directory or list file
	URLs     []string `env:"URLS" envSeparator:","`

	MinActive int           `env:"MIN_ACTIVE" envDefault:"1"`
	MaxActive int           `env:"MAX_ACTIVE"` // 0 means every slot
	MinDelay  time.Duration `env:"MIN_DELAY" envDefault:"5s"`
	MaxDelay  time.Duration `env:"MAX_DELAY" envDefault:"44s"`
	Volume    int           `env:"VOLUME" envDefault:"5"`
	Seed      int64         `env:"SEED"` // 0 picks a random seed

	HistoryDB    string `env:"HISTORY_DB"`
	IdentityPath string `env:"IDENTITY"`

	ScreenWidth  int `env:"SCREEN_WIDTH" envDefault:"1920"`
	ScreenHeight int `env:"SCREEN_HEIGHT" envDefault:"1080"`

	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"text"`
}

// Load reads the process environment.
func Load() (Config, error) {
	return parse(env.Options{Prefix: EnvPrefix})
}

// LoadFrom reads the given environment instead of the process one.
func LoadFrom(environ map[string]string) (Config, error) {
	return parse(env.Options{Prefix: EnvPrefix, Environment: environ})
}

func parse(opts env.Options) (Config, error) {
	var cfg Config
	if err := env.ParseWithOptions(&cfg, opts); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	return cfg, nil
}

// Validate checks ranges that do not depend on the grid size.
func (c *Config) Validate() error {
	if c.MinActive < 1 {
		return fmt.Errorf("%w: min active must be at least 1", ErrInvalidConfig)
	}
	if c.MaxActive < 0 || (c.MaxActive > 0 && c.MaxActive < c.MinActive) {
		return fmt.Errorf("%w: max active %d below min active %d", ErrInvalidConfig, c.MaxActive, c.MinActive)
	}
	if c.MinDelay < time.Second {
		return fmt.Errorf("%w: min delay must be at least 1s", ErrInvalidConfig)
	}
	if c.MaxDelay < c.MinDelay {
		return fmt.Errorf("%w: max delay %s below min delay %s", ErrInvalidConfig, c.MaxDelay, c.MinDelay)
	}
	if c.Volume < 0 || c.Volume > 100 {
		return fmt.Errorf("%w: volume must be 0-100", ErrInvalidConfig)
	}
	if c.ScreenWidth <= 0 || c.ScreenHeight <= 0 {
		return fmt.Errorf("%w: screen must be positive", ErrInvalidConfig)
	}
	if c.LogFormat != "text" && c.LogFormat != "json" {
		return fmt.Errorf("%w: log format %q", ErrInvalidConfig, c.LogFormat)
	}
	return nil
}
