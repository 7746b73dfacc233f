/*
Package config loads runtime settings for the achievement server.

PURPOSE:
  Settings come from three layers, later layers winning:
    1. Built-in defaults (Default)
    2. An optional YAML file
    3. ACHIEVE_* environment variables (ACHIEVE_STORE_DRIVER, ACHIEVE_HTTP_ADDR, ...)

  A missing file is not an error; the defaults and environment still apply.

SEE ALSO:
  - cmd/server/main.go: Command line flags that override single fields
*/
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/viper"

	"github.com/warp/achievement-engine/generic"
)

const envPrefix = "ACHIEVE"

// Store drivers.
const (
	DriverMemory   = "memory"
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

type StoreConfig struct {
	Driver      string `mapstructure:"driver" yaml:"driver"`
	SQLitePath  string `mapstructure:"sqlite_path" yaml:"sqlite_path"`
	PostgresDSN string `mapstructure:"postgres_dsn" yaml:"postgres_dsn"`
}

type HTTPConfig struct {
	Addr        string   `mapstructure:"addr" yaml:"addr"`
	CORSOrigins []string `mapstructure:"cors_origins" yaml:"cors_origins"`
}

type LogConfig struct {
	Mode       string `mapstructure:"mode" yaml:"mode"`
	File       string `mapstructure:"file" yaml:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb" yaml:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days" yaml:"max_age_days"`
}

type CatalogConfig struct {
	// File replaces the built-in catalog when set (.json, .yaml or .yml).
	File string `mapstructure:"file" yaml:"file"`
	// Seed writes the catalog into the store on startup.
	Seed bool `mapstructure:"seed" yaml:"seed"`
}

type StatsConfig struct {
	LeaderboardLimit int `mapstructure:"leaderboard_limit" yaml:"leaderboard_limit"`
	RecentLimit      int `mapstructure:"recent_limit" yaml:"recent_limit"`
}

type NotifyConfig struct {
	From      string `mapstructure:"from" yaml:"from"`
	OutboxDir string `mapstructure:"outbox_dir" yaml:"outbox_dir"`
}

// Config is the top-level application configuration.
type Config struct {
	Store   StoreConfig   `mapstructure:"store" yaml:"store"`
	HTTP    HTTPConfig    `mapstructure:"http" yaml:"http"`
	Log     LogConfig     `mapstructure:"log" yaml:"log"`
	Catalog CatalogConfig `mapstructure:"catalog" yaml:"catalog"`
	Stats   StatsConfig   `mapstructure:"stats" yaml:"stats"`
	Notify  NotifyConfig  `mapstructure:"notify" yaml:"notify"`
}

var defaults = map[string]any{
	"store.driver":            DriverSQLite,
	"store.sqlite_path":       "./achievements.db",
	"store.postgres_dsn":      "",
	"http.addr":               ":8080",
	"http.cors_origins":       []string{"http://localhost:3000", "http://localhost:5173"},
	"log.mode":                "dev",
	"log.file":                "",
	"log.max_size_mb":         10,
	"log.max_backups":         3,
	"log.max_age_days":        28,
	"catalog.file":            "",
	"catalog.seed":            true,
	"stats.leaderboard_limit": 10,
	"stats.recent_limit":      10,
	"notify.from":             "achievements@localhost",
	"notify.outbox_dir":       "",
}

// Default returns the configuration used when no file or environment is set.
func Default() Config {
	cfg, err := decode(newViper())
	if err != nil {
		// defaults are static; a decode failure is a programming error
		panic(err)
	}
	return cfg
}

// Load reads the YAML file at path (may be empty) and applies environment
// overrides on top of the defaults.
func Load(path string) (Config, error) {
	v := newViper()
	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			var pathErr *os.PathError
			if !errors.As(err, &notFound) && !errors.As(err, &pathErr) {
				return Config{}, fmt.Errorf("reading config %s: %w", path, err)
			}
		}
	}

	cfg, err := decode(v)
	if err != nil {
		return Config{}, fmt.Errorf("parsing config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func newViper() *viper.Viper {
	v := viper.New()
	for key, value := range defaults {
		v.SetDefault(key, value)
	}
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

func decode(v *viper.Viper) (Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, err
	}
	// env values arrive comma separated, possibly with spaces
	cfg.HTTP.CORSOrigins = splitList(strings.Join(cfg.HTTP.CORSOrigins, ","))
	return cfg, nil
}

// Validate checks the fields the server cannot start without.
func (c Config) Validate() error {
	switch c.Store.Driver {
	case DriverMemory:
	case DriverSQLite:
		if c.Store.SQLitePath == "" {
			return &generic.ValidationError{Field: "store.sqlite_path", Reason: "is required for the sqlite driver"}
		}
	case DriverPostgres:
		if c.Store.PostgresDSN == "" {
			return &generic.ValidationError{Field: "store.postgres_dsn", Reason: "is required for the postgres driver"}
		}
	default:
		return &generic.ValidationError{Field: "store.driver", Reason: fmt.Sprintf("unknown driver %q", c.Store.Driver)}
	}
	if c.HTTP.Addr == "" {
		return &generic.ValidationError{Field: "http.addr", Reason: "is required"}
	}
	if c.Stats.LeaderboardLimit < 0 || c.Stats.RecentLimit < 0 {
		return &generic.ValidationError{Field: "stats", Reason: "limits must not be negative"}
	}
	return nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
