// Package config loads the hub configuration from defaults, an optional
// YAML file, KNUT_* environment variables and command line flags.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.uber.org/zap/zapcore"

	"github.com/pearjo/knut-server/internal/backend"
	kerr "github.com/pearjo/knut-server/internal/errors"
)

// EnvPrefix is the prefix of environment overrides, e.g. KNUT_SERVER_PORT.
const EnvPrefix = "knut"

type Config struct {
	Server struct {
		Address        string        `mapstructure:"address"`
		Port           int           `mapstructure:"port"`
		MaxMessageSize uint32        `mapstructure:"maxMessageSize"`
		IdleTimeout    time.Duration `mapstructure:"idleTimeout"`
		WriteTimeout   time.Duration `mapstructure:"writeTimeout"`
		PushQueueSize  int           `mapstructure:"pushQueueSize"`
		Heartbeat      time.Duration `mapstructure:"heartbeat"`
	} `mapstructure:"server"`
	WebSocket struct {
		Enabled bool `mapstructure:"enabled"`
		Port    int  `mapstructure:"port"`
	} `mapstructure:"websocket"`
	Metrics struct {
		Enabled bool `mapstructure:"enabled"`
		Port    int  `mapstructure:"port"`
	} `mapstructure:"metrics"`
	Task struct {
		Dir string `mapstructure:"dir"`
	} `mapstructure:"task"`
	Temperature struct {
		HistorySize    int           `mapstructure:"historySize"`
		SampleInterval time.Duration `mapstructure:"sampleInterval"`
	} `mapstructure:"temperature"`
	Local struct {
		CheckInterval time.Duration `mapstructure:"checkInterval"`
	} `mapstructure:"local"`
	Log struct {
		Level string `mapstructure:"level"`
		File  string `mapstructure:"file"`
	} `mapstructure:"log"`
	Backends struct {
		Lights      []backend.Config `mapstructure:"lights"`
		Temperature []backend.Config `mapstructure:"temperature"`
		Local       []backend.Config `mapstructure:"local"`
	} `mapstructure:"backends"`

	// File is the configuration file that was read, empty if the defaults
	// are used.
	File string `mapstructure:"-"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.address", "127.0.0.1")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.maxMessageSize", 1<<20)
	v.SetDefault("server.idleTimeout", 30*time.Minute)
	v.SetDefault("server.writeTimeout", 10*time.Second)
	v.SetDefault("server.pushQueueSize", 256)
	v.SetDefault("server.heartbeat", 4*time.Second)
	v.SetDefault("websocket.enabled", false)
	v.SetDefault("websocket.port", 8081)
	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.port", 9123)
	v.SetDefault("task.dir", "~/.local/share/knut/tasks")
	v.SetDefault("temperature.historySize", 1440)
	v.SetDefault("temperature.sampleInterval", time.Minute)
	v.SetDefault("local.checkInterval", time.Minute)
	v.SetDefault("log.level", "warn")
	v.SetDefault("log.file", "")
}

// Flags returns the command line flags understood by Load.
func Flags(name string) *pflag.FlagSet {
	flags := pflag.NewFlagSet(name, pflag.ContinueOnError)
	flags.StringP("conf", "c", "knut.yaml", "Path to the configuration file.")
	flags.StringP("log", "l", "", "Log level: debug, info, warn or error.")
	return flags
}

// Load builds the configuration. flags may be nil. A missing
// configuration file is not an error.
func Load(flags *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.SetEnvPrefix(EnvPrefix)
	v.AutomaticEnv()
	v.SetConfigType("yaml")

	path := "knut.yaml"
	if flags != nil {
		if f := flags.Lookup("conf"); f != nil {
			path = f.Value.String()
		}
		if f := flags.Lookup("log"); f != nil && f.Changed {
			if err := v.BindPFlag("log.level", f); err != nil {
				return nil, err
			}
		}
	}

	var c Config
	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
	case err != nil:
		return nil, fmt.Errorf("read config: %w", err)
	default:
		if err := v.ReadConfig(bytes.NewReader(data)); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
		c.File = path
	}

	if err := v.Unmarshal(&c); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// Validate checks value ranges and the uniqueness of backend ids.
func (c *Config) Validate() error {
	const op = "config.Validate"
	for key, port := range map[string]int{
		"server.port":    c.Server.Port,
		"websocket.port": c.WebSocket.Port,
		"metrics.port":   c.Metrics.Port,
	} {
		if port < 0 || port > 65535 {
			return kerr.Validation(op, key, "port %d out of range", port)
		}
	}
	if c.Server.MaxMessageSize == 0 {
		return kerr.Validation(op, "server.maxMessageSize", "must be positive")
	}
	if c.Server.PushQueueSize <= 0 {
		return kerr.Validation(op, "server.pushQueueSize", "must be positive")
	}
	if c.Temperature.HistorySize <= 0 {
		return kerr.Validation(op, "temperature.historySize", "must be positive")
	}
	if _, err := zapcore.ParseLevel(c.Log.Level); err != nil {
		return kerr.Validation(op, "log.level", "unknown level %q", c.Log.Level)
	}
	for key, list := range map[string][]backend.Config{
		"backends.lights":      c.Backends.Lights,
		"backends.temperature": c.Backends.Temperature,
		"backends.local":       c.Backends.Local,
	} {
		seen := make(map[string]bool, len(list))
		for _, b := range list {
			if seen[b.ID] {
				err := kerr.DuplicateID(op, b.ID)
				err.Field = key
				return err
			}
			seen[b.ID] = true
		}
	}
	return nil
}
