package main

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/pumped-fn/incr/extensions"
)

// Config holds the incrsheet settings. Values come from the YAML file, then
// the environment, then flags.
type Config struct {
	LogLevel    string        `yaml:"log_level"`
	LogFormat   string        `yaml:"log_format"`
	MetricsAddr string        `yaml:"metrics_addr"`
	Trace       bool          `yaml:"trace"`
	Debounce    time.Duration `yaml:"debounce"`
}

// DefaultConfig returns the settings used when nothing is configured.
func DefaultConfig() *Config {
	return &Config{
		LogLevel:  "info",
		LogFormat: "text",
		Debounce:  100 * time.Millisecond,
	}
}

// LoadConfig reads path over the defaults and applies environment
// overrides. An empty path skips the file.
func LoadConfig(path string) (*Config, error) {
	cfg, err := readConfig(path)
	if err != nil {
		return nil, err
	}
	return cfg, cfg.Validate()
}

func readConfig(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config %s: %w", path, err)
		}
	}
	cfg.applyEnv()
	return cfg, nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv("INCR_LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}
	if v := os.Getenv("INCR_METRICS_ADDR"); v != "" {
		c.MetricsAddr = v
	}
}

// Validate checks the settings for values the commands cannot use.
func (c *Config) Validate() error {
	var errs []error
	if _, err := c.level(); err != nil {
		errs = append(errs, err)
	}
	switch c.LogFormat {
	case "text", "json", "human":
	default:
		errs = append(errs, fmt.Errorf("log_format must be text, json or human, got %q", c.LogFormat))
	}
	if c.Debounce < 0 {
		errs = append(errs, fmt.Errorf("debounce must not be negative, got %s", c.Debounce))
	}
	return errors.Join(errs...)
}

func (c *Config) level() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.ToUpper(c.LogLevel))); err != nil {
		return 0, fmt.Errorf("invalid log_level %q: %w", c.LogLevel, err)
	}
	return level, nil
}

// Logger builds the logger described by the settings, writing to w.
func (c *Config) Logger(w io.Writer) *slog.Logger {
	level, err := c.level()
	if err != nil {
		level = slog.LevelInfo
	}

	var handler slog.Handler
	switch c.LogFormat {
	case "json":
		handler = slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level})
	case "human":
		handler = extensions.NewHumanHandler(w, level)
	default:
		handler = slog.NewTextHandler(w, &slog.HandlerOptions{Level: level})
	}
	return slog.New(handler)
}
