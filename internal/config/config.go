// Package config holds runbox's runtime configuration.
//
// Precedence (highest wins): CLI flags, RUNBOX_* environment variables,
// the YAML config file, defaults.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Port      int    `yaml:"port"`
	DBPath    string `yaml:"db_path"`
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`

	Interpreter     string        `yaml:"interpreter"`
	InterpreterArgs []string      `yaml:"interpreter_args"`
	GracePeriod     time.Duration `yaml:"grace_period"`
	SettlePeriod    time.Duration `yaml:"settle_period"`
	KillOnClose     bool          `yaml:"kill_on_close"`
	ExecTimeout     time.Duration `yaml:"exec_timeout"`

	PollInterval time.Duration `yaml:"poll_interval"`

	// Shepherd hosts sessions in a separate daemon so they outlive the
	// HTTP server.
	Shepherd bool `yaml:"shepherd"`
}

// Default returns a Config with every field at its default.
func Default() *Config {
	return &Config{
		Port:            DefaultPort,
		DBPath:          defaultDBPath(),
		LogLevel:        DefaultLogLevel,
		LogFormat:       DefaultLogFormat,
		Interpreter:     DefaultInterpreter,
		InterpreterArgs: slices.Clone(DefaultInterpreterArgs),
		GracePeriod:     DefaultGracePeriod,
		SettlePeriod:    DefaultSettlePeriod,
		KillOnClose:     true,
		ExecTimeout:     DefaultExecTimeout,
		PollInterval:    DefaultPollInterval,
		Shepherd:        true,
	}
}

// Dir returns runbox's state directory, ~/.runbox.
func Dir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".runbox"), nil
}

func defaultDBPath() string {
	dir, err := Dir()
	if err != nil {
		return "runbox.db"
	}
	return filepath.Join(dir, "runbox.db")
}

// DefaultPath is the config file location used when none is given.
func DefaultPath() string {
	dir, err := Dir()
	if err != nil {
		return "runbox.yaml"
	}
	return filepath.Join(dir, "config.yaml")
}

// Load reads path over the defaults, overlays the environment and
// validates the result. A missing file is not an error.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
	case err != nil:
		return nil, fmt.Errorf("read config: %w", err)
	default:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	LoadFromEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that the configuration is usable.
func (c *Config) Validate() error {
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("config: port %d out of range 1-65535", c.Port)
	}
	if strings.TrimSpace(c.Interpreter) == "" {
		return fmt.Errorf("config: interpreter is required")
	}
	if c.GracePeriod <= 0 {
		return fmt.Errorf("config: grace_period must be positive, got %s", c.GracePeriod)
	}
	if c.SettlePeriod < 0 {
		return fmt.Errorf("config: settle_period must not be negative, got %s", c.SettlePeriod)
	}
	if c.PollInterval <= 0 {
		return fmt.Errorf("config: poll_interval must be positive, got %s", c.PollInterval)
	}
	if c.ExecTimeout <= 0 {
		return fmt.Errorf("config: exec_timeout must be positive, got %s", c.ExecTimeout)
	}
	switch c.LogFormat {
	case "text", "json":
	default:
		return fmt.Errorf("config: log_format must be text or json, got %q", c.LogFormat)
	}
	return nil
}
