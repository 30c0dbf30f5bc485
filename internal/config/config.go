// Package config loads webpilot configuration from YAML with environment
// variable overrides. Defaults are applied first so a missing file is valid.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all webpilot configuration.
type Config struct {
	// Address the command API listens on.
	ListenAddr string `yaml:"listen_addr"`

	// Browser settings
	Browser BrowserConfig `yaml:"browser"`

	// Timeouts and retry budgets
	Timeouts TimeoutConfig `yaml:"timeouts"`

	// Logging
	Logging LoggingConfig `yaml:"logging"`
}

// BrowserConfig configures the supervised Chrome instance.
type BrowserConfig struct {
	// DebuggingPort is the default remote-debugging port commands address.
	DebuggingPort int `yaml:"debugging_port"`

	// BinaryPath overrides browser executable discovery. Empty means probe
	// the well-known install locations.
	BinaryPath string `yaml:"binary_path"`

	// Display is the X display the browser is launched on.
	Display string `yaml:"display"`

	// Profile selects the Chrome profile directory.
	Profile string `yaml:"profile"`
}

// TimeoutConfig bounds every wait the service performs.
type TimeoutConfig struct {
	ElementWait   time.Duration `yaml:"element_wait"`
	Navigation    time.Duration `yaml:"navigation"`
	DialogPoll    time.Duration `yaml:"dialog_poll"`
	LaunchSettle  time.Duration `yaml:"launch_settle"`
	RetryAttempts int           `yaml:"retry_attempts"`
	RetryBackoff  time.Duration `yaml:"retry_backoff"`
	TypeDelay     time.Duration `yaml:"type_delay"`
}

// LoggingConfig configures the zap logger.
type LoggingConfig struct {
	Level string `yaml:"level"`
	Dev   bool   `yaml:"dev"`
}

// Default returns the configuration used when no file or overrides exist.
func Default() Config {
	return Config{
		ListenAddr: ":5553",
		Browser: BrowserConfig{
			DebuggingPort: 9222,
			Display:       ":1",
			Profile:       "Default",
		},
		Timeouts: TimeoutConfig{
			ElementWait:   10 * time.Second,
			Navigation:    10 * time.Second,
			DialogPoll:    2 * time.Second,
			LaunchSettle:  2 * time.Second,
			RetryAttempts: 3,
			RetryBackoff:  time.Second,
			TypeDelay:     100 * time.Millisecond,
		},
		Logging: LoggingConfig{Level: "info"},
	}
}

// Load reads the config file at path, applies it over the defaults, then
// applies environment overrides. A missing file is not an error.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return cfg, fmt.Errorf("read config %s: %w", path, err)
			}
		} else if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	cfg.applyEnvOverrides()

	if err := cfg.validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// applyEnvOverrides lets WEBPILOT_* variables win over file values.
func (c *Config) applyEnvOverrides() {
	if addr := os.Getenv("WEBPILOT_LISTEN_ADDR"); addr != "" {
		c.ListenAddr = addr
	}
	if port := os.Getenv("WEBPILOT_DEBUGGING_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			c.Browser.DebuggingPort = p
		}
	}
	if path := os.Getenv("WEBPILOT_CHROME_PATH"); path != "" {
		c.Browser.BinaryPath = path
	}
	if display := os.Getenv("WEBPILOT_DISPLAY"); display != "" {
		c.Browser.Display = display
	}
	if profile := os.Getenv("WEBPILOT_PROFILE"); profile != "" {
		c.Browser.Profile = profile
	}
	if level := os.Getenv("WEBPILOT_LOG_LEVEL"); level != "" {
		c.Logging.Level = level
	}
}

func (c *Config) validate() error {
	if c.Browser.DebuggingPort <= 0 || c.Browser.DebuggingPort > 65535 {
		return fmt.Errorf("invalid debugging_port %d", c.Browser.DebuggingPort)
	}
	if c.Timeouts.RetryAttempts < 1 {
		return fmt.Errorf("retry_attempts must be at least 1, got %d", c.Timeouts.RetryAttempts)
	}
	return nil
}
