// Copyright 2026 The Courier Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"slices"
	"time"

	"gopkg.in/yaml.v3"
)

// EnvironmentVariable names the config file when no flag is given.
const EnvironmentVariable = "COURIER_CONFIG"

// Config is the courier configuration.
type Config struct {
	// Paths configures file and directory locations.
	Paths PathsConfig `yaml:"paths"`

	// Logging configures the CLI logger.
	Logging LoggingConfig `yaml:"logging"`

	// Delivery configures client-side delivery behavior.
	Delivery DeliveryConfig `yaml:"delivery"`
}

// PathsConfig configures file and directory locations.
type PathsConfig struct {
	// Root is the base directory for courier data.
	Root string `yaml:"root"`

	// Registry is the provider registry directory: one subdirectory
	// per installed application, each with a manifest.yaml.
	Registry string `yaml:"registry"`

	// Settings is the mutable settings document (selection, verify
	// flag, allow-list).
	Settings string `yaml:"settings"`
}

// LoggingConfig configures the CLI logger.
type LoggingConfig struct {
	// Level is one of debug, info, warn, error.
	// Default: info
	Level string `yaml:"level"`

	// Format is one of auto, text, json. "auto" picks text on a
	// terminal and JSON otherwise.
	// Default: auto
	Format string `yaml:"format"`
}

// DeliveryConfig configures client-side delivery behavior.
type DeliveryConfig struct {
	// WaitTimeout bounds how long a one-shot delivery (courier send)
	// waits for its result before giving up. The delivery itself is
	// not cancelled by this; the caller just stops waiting.
	// Default: 8s
	WaitTimeout string `yaml:"wait_timeout"`
}

var (
	logLevels  = []string{"debug", "info", "warn", "error"}
	logFormats = []string{"auto", "text", "json"}
)

// Default returns the configuration used when no file is given, and the
// base that a loaded file is merged over.
func Default() *Config {
	configDirectory, err := os.UserConfigDir()
	if err != nil {
		homeDirectory, _ := os.UserHomeDir()
		configDirectory = filepath.Join(homeDirectory, ".config")
	}
	root := filepath.Join(configDirectory, "courier")

	return &Config{
		Paths: PathsConfig{
			Root:     root,
			Registry: filepath.Join(root, "providers"),
			Settings: filepath.Join(root, "settings.yaml"),
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "auto",
		},
		Delivery: DeliveryConfig{
			WaitTimeout: "8s",
		},
	}
}

// Load loads the file named by COURIER_CONFIG. It fails when the
// variable is not set.
func Load() (*Config, error) {
	configPath := os.Getenv(EnvironmentVariable)
	if configPath == "" {
		return nil, fmt.Errorf("%s environment variable not set; "+
			"set it to the path of your courier.yaml config file, or use --config flag", EnvironmentVariable)
	}
	return LoadFile(configPath)
}

// LoadFile loads configuration from path, merged over Default, with
// path variables expanded.
func LoadFile(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}

	cfg.expandVariables()
	return cfg, nil
}

// Resolve picks the configuration for a command: the --config flag
// value when non-empty, else COURIER_CONFIG when set, else Default.
func Resolve(flagPath string) (*Config, error) {
	if flagPath != "" {
		return LoadFile(flagPath)
	}
	if os.Getenv(EnvironmentVariable) != "" {
		return Load()
	}
	return Default(), nil
}

// expandVariables expands ${VAR} and ${VAR:-default} patterns in paths.
func (c *Config) expandVariables() {
	vars := map[string]string{
		"COURIER_ROOT": c.Paths.Root,
		"HOME":         os.Getenv("HOME"),
	}

	c.Paths.Root = expandVars(c.Paths.Root, vars)
	vars["COURIER_ROOT"] = c.Paths.Root

	c.Paths.Registry = expandVars(c.Paths.Registry, vars)
	c.Paths.Settings = expandVars(c.Paths.Settings, vars)
}

var varPattern = regexp.MustCompile(`\$\{([^}:]+)(?::-([^}]*))?\}`)

func expandVars(s string, vars map[string]string) string {
	return varPattern.ReplaceAllStringFunc(s, func(match string) string {
		parts := varPattern.FindStringSubmatch(match)
		if len(parts) < 2 {
			return match
		}

		name := parts[1]
		defaultValue := ""
		if len(parts) >= 3 {
			defaultValue = parts[2]
		}

		if value, ok := vars[name]; ok && value != "" {
			return value
		}
		if value := os.Getenv(name); value != "" {
			return value
		}
		return defaultValue
	})
}

// WaitTimeoutDuration parses Delivery.WaitTimeout. Call Validate first.
func (c *Config) WaitTimeoutDuration() time.Duration {
	duration, err := time.ParseDuration(c.Delivery.WaitTimeout)
	if err != nil {
		return 0
	}
	return duration
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var errs []error

	if c.Paths.Registry == "" {
		errs = append(errs, fmt.Errorf("paths.registry is required"))
	}
	if c.Paths.Settings == "" {
		errs = append(errs, fmt.Errorf("paths.settings is required"))
	}

	if !slices.Contains(logLevels, c.Logging.Level) {
		errs = append(errs, fmt.Errorf("logging.level must be one of: %v", logLevels))
	}
	if !slices.Contains(logFormats, c.Logging.Format) {
		errs = append(errs, fmt.Errorf("logging.format must be one of: %v", logFormats))
	}

	duration, err := time.ParseDuration(c.Delivery.WaitTimeout)
	switch {
	case err != nil:
		errs = append(errs, fmt.Errorf("delivery.wait_timeout: %w", err))
	case duration <= 0:
		errs = append(errs, fmt.Errorf("delivery.wait_timeout must be positive, got %s", c.Delivery.WaitTimeout))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// EnsurePaths creates the registry directory and the settings file's
// parent directory.
func (c *Config) EnsurePaths() error {
	for _, path := range []string{c.Paths.Registry, filepath.Dir(c.Paths.Settings)} {
		if path == "" || path == "." {
			continue
		}
		if err := os.MkdirAll(path, 0o700); err != nil {
			return fmt.Errorf("creating %s: %w", path, err)
		}
	}
	return nil
}
