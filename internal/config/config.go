// Package config loads socketpoold settings from defaults, an optional YAML
// file, a .env file and SOCKETPOOL_* environment variables, in increasing
// order of precedence. Command-line flags bound by the caller win over all.
package config

import (
	"runtime"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// EnvPrefix is the prefix of environment variables read by Load.
const EnvPrefix = "SOCKETPOOL"

// Config is the daemon configuration.
type Config struct {
	Server struct {
		Addr            string        `mapstructure:"addr"`
		Workers         int           `mapstructure:"workers"`
		QueueSize       int           `mapstructure:"queue_size"`
		ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	} `mapstructure:"server"`

	Session struct {
		Backoff  time.Duration `mapstructure:"backoff"`
		MaxFrame int           `mapstructure:"max_frame"`
	} `mapstructure:"session"`

	Log struct {
		Level  string `mapstructure:"level"`
		Format string `mapstructure:"format"`
	} `mapstructure:"log"`
}

// flagKeys maps command-line flag names to configuration keys.
var flagKeys = map[string]string{
	"addr":             "server.addr",
	"workers":          "server.workers",
	"queue":            "server.queue_size",
	"shutdown-timeout": "server.shutdown_timeout",
	"backoff":          "session.backoff",
	"max-frame":        "session.max_frame",
	"log-level":        "log.level",
	"log-format":       "log.format",
}

// Load reads the configuration. path may be empty. flags may be nil; only
// flags the user set override lower layers.
func Load(path string, flags *pflag.FlagSet) (*Config, error) {
	// A missing .env file is not an error.
	_ = godotenv.Load()

	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, errors.Wrap(err, "failed to read config")
		}
	}

	if flags != nil {
		for name, key := range flagKeys {
			if f := flags.Lookup(name); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return nil, errors.Wrapf(err, "failed to bind flag %s", name)
				}
			}
		}
	}

	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return nil, errors.Wrap(err, "failed to unmarshal config")
	}

	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.addr", "127.0.0.1:8080")
	v.SetDefault("server.workers", runtime.NumCPU())
	v.SetDefault("server.queue_size", 0)
	v.SetDefault("server.shutdown_timeout", 5*time.Second)
	v.SetDefault("session.backoff", 10*time.Millisecond)
	v.SetDefault("session.max_frame", 1024*1024)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
}

// Validate checks value ranges.
func (c *Config) Validate() error {
	var errs []string

	if c.Server.Addr == "" {
		errs = append(errs, "server.addr must be set")
	}
	if c.Server.Workers < 1 {
		errs = append(errs, "server.workers must be at least 1")
	}
	if c.Server.QueueSize < 0 {
		errs = append(errs, "server.queue_size must not be negative")
	}
	if c.Server.ShutdownTimeout < 0 {
		errs = append(errs, "server.shutdown_timeout must not be negative")
	}
	if c.Session.Backoff <= 0 {
		errs = append(errs, "session.backoff must be positive")
	}
	if c.Session.MaxFrame < 1 {
		errs = append(errs, "session.max_frame must be at least 1")
	}

	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, "log.level must be one of: debug, info, warn, error")
	}
	switch strings.ToLower(c.Log.Format) {
	case "text", "json":
	default:
		errs = append(errs, "log.format must be one of: text, json")
	}

	if len(errs) > 0 {
		return errors.Errorf("configuration validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}
