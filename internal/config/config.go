// Package config loads ec-flash-tester settings from file, environment and
// command line flags.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes environment overrides, e.g. EC_FLASH_SERIAL_PORT.
const EnvPrefix = "EC_FLASH"

// FileName is the config file name searched for without an explicit path.
const FileName = "ec-flash-tester"

// Config is the full configuration of one test session. It is loaded once
// per run and not modified afterwards.
type Config struct {
	Serial SerialConfig `mapstructure:"serial"`
	Test   TestConfig   `mapstructure:"test"`
	Log    LogConfig    `mapstructure:"log"`
}

// SerialConfig selects the EC console.
type SerialConfig struct {
	Port        string        `mapstructure:"port"`
	BaudRate    int           `mapstructure:"baud_rate"`
	ReadTimeout time.Duration `mapstructure:"read_timeout"`
	Simulate    bool          `mapstructure:"simulate"`
}

// TestConfig controls the flash tests.
type TestConfig struct {
	// Seed seeds the write parameter source. Runs with the same seed and
	// the same sequence of writes send identical write commands.
	Seed        uint64        `mapstructure:"seed"`
	WaitTimeout time.Duration `mapstructure:"wait_timeout"`
	Report      string        `mapstructure:"report"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string        `mapstructure:"level"`
	Format string        `mapstructure:"format"`
	Output string        `mapstructure:"output"`
	File   LogFileConfig `mapstructure:"file"`
}

// LogFileConfig configures the rotated log file.
type LogFileConfig struct {
	Path       string `mapstructure:"path"`
	Filename   string `mapstructure:"filename"`
	MaxSize    int    `mapstructure:"max_size"`
	MaxAge     int    `mapstructure:"max_age"`
	MaxBackups int    `mapstructure:"max_backups"`
	Compress   bool   `mapstructure:"compress"`
}

// flagKeys maps command line flags to config keys.
var flagKeys = map[string]string{
	"port":      "serial.port",
	"baud":      "serial.baud_rate",
	"simulate":  "serial.simulate",
	"seed":      "test.seed",
	"timeout":   "test.wait_timeout",
	"report":    "test.report",
	"log-level": "log.level",
}

// Load reads the configuration. An empty path searches ./ and ./config for
// ec-flash-tester.yaml and falls back to defaults if none exists. Flags that
// were set on the command line override the file and environment.
func Load(path string, flags *pflag.FlagSet) (*Config, error) {
	v := viper.New()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName(FileName)
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if flags != nil {
		for name, key := range flagKeys {
			if f := flags.Lookup(name); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return nil, fmt.Errorf("failed to bind flag %s: %w", name, err)
				}
			}
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// setDefaults sets the default config values.
func setDefaults(v *viper.Viper) {
	v.SetDefault("serial.port", "")
	v.SetDefault("serial.baud_rate", 115200)
	v.SetDefault("serial.read_timeout", "100ms")
	v.SetDefault("serial.simulate", false)

	v.SetDefault("test.seed", 1234)
	v.SetDefault("test.wait_timeout", "5s")
	v.SetDefault("test.report", "")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")
	v.SetDefault("log.output", "stderr")
	v.SetDefault("log.file.path", "./logs")
	v.SetDefault("log.file.filename", "ec-flash-tester.log")
	v.SetDefault("log.file.max_size", 10)
	v.SetDefault("log.file.max_age", 30)
	v.SetDefault("log.file.max_backups", 5)
	v.SetDefault("log.file.compress", true)
}

// Validate checks values that would otherwise fail late.
func (c *Config) Validate() error {
	if c.Serial.BaudRate <= 0 {
		return fmt.Errorf("invalid serial.baud_rate %d", c.Serial.BaudRate)
	}
	if c.Serial.ReadTimeout <= 0 {
		return fmt.Errorf("invalid serial.read_timeout %s", c.Serial.ReadTimeout)
	}
	if c.Test.WaitTimeout <= 0 {
		return fmt.Errorf("invalid test.wait_timeout %s", c.Test.WaitTimeout)
	}

	switch c.Log.Format {
	case "console", "json":
	default:
		return fmt.Errorf("invalid log.format %q", c.Log.Format)
	}

	switch c.Log.Output {
	case "stderr", "file", "both":
	default:
		return fmt.Errorf("invalid log.output %q", c.Log.Output)
	}
	return nil
}
