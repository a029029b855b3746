// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// =============================================================================
// CONFIG STRUCTURES
// =============================================================================

// Config is the complete chatstream configuration.
type Config struct {
	// Backend configuration
	Backend BackendConfig `toml:"backend"`

	// Storage configuration
	Storage StorageConfig `toml:"storage"`
}

// BackendConfig describes the chat backend and how to talk to it.
type BackendConfig struct {
	// BaseURL is the root URL of the backend service
	BaseURL string `toml:"base_url"`
	// UserID is the fixed client identity presented to /auth
	UserID string `toml:"user_id"`
	// Password is the client secret presented to /auth
	Password string `toml:"password"`
	// Transport selects the stream transport: "eventstream" or "progressive"
	Transport string `toml:"transport"`
	// TurnTimeoutSecs bounds a whole turn; 0 disables the engine timeout
	TurnTimeoutSecs int `toml:"turn_timeout_secs"`
}

// StorageConfig describes where durable state lives.
type StorageConfig struct {
	// Dir is the state directory (credential database and key file).
	// Empty means ~/.chatstream.
	Dir string `toml:"dir"`
}

// =============================================================================
// DEFAULTS AND PATHS
// =============================================================================

// Default returns a Config with sensible default values.
func Default() *Config {
	return &Config{
		Backend: BackendConfig{
			BaseURL:         "http://127.0.0.1:8080",
			Transport:       "eventstream",
			TurnTimeoutSecs: 0,
		},
	}
}

// Dir returns the chatstream configuration directory path.
func Dir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("could not determine home directory: %w", err)
	}
	return filepath.Join(home, ".chatstream"), nil
}

// Path returns the path to the TOML config file.
func Path() (string, error) {
	dir, err := Dir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.toml"), nil
}

// StorageDir resolves the effective state directory.
func (c *Config) StorageDir() (string, error) {
	if c.Storage.Dir != "" {
		return c.Storage.Dir, nil
	}
	return Dir()
}

// TurnTimeout returns the configured per-turn timeout as a Duration.
func (c *Config) TurnTimeout() time.Duration {
	return time.Duration(c.Backend.TurnTimeoutSecs) * time.Second
}

// ensureSecurePermissions fixes overly permissive modes on the config file.
// SECURITY: config holds the backend password; anything wider than 0600 is
// tightened on load.
func ensureSecurePermissions(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	if mode := info.Mode().Perm(); mode != 0600 {
		if err := os.Chmod(path, 0600); err != nil {
			return fmt.Errorf("failed to fix insecure permissions (was %o): %w", mode, err)
		}
	}
	return nil
}

// =============================================================================
// LOAD FUNCTIONS
// =============================================================================

// Load loads configuration from the default file location. A missing file is
// not an error; defaults plus environment overrides apply.
func Load() (*Config, error) {
	path, err := Path()
	if err != nil {
		return nil, err
	}
	if _, statErr := os.Stat(path); statErr != nil {
		cfg := Default()
		cfg.ApplyEnvOverrides()
		cfg.SetDefaults()
		if err := cfg.Validate(); err != nil {
			return nil, fmt.Errorf("invalid config: %w", err)
		}
		return cfg, nil
	}
	return LoadFromPath(path)
}

// LoadFromPath loads configuration from a specific TOML file with full
// validation and environment overrides applied.
func LoadFromPath(path string) (*Config, error) {
	if err := ensureSecurePermissions(path); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: could not ensure secure permissions on %s: %v\n", path, err)
	}

	cfg := Default()
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, fmt.Errorf("failed to decode TOML file: %w", err)
	}

	cfg.ApplyEnvOverrides()
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// =============================================================================
// SAVE FUNCTIONS
// =============================================================================

// Save writes the configuration to the default TOML file.
func Save(cfg *Config) error {
	path, err := Path()
	if err != nil {
		return err
	}
	return SaveTOML(cfg, path)
}

// SaveTOML writes the configuration to a TOML file.
// SECURITY: created with 0600 permissions (owner read/write only).
func SaveTOML(cfg *Config, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	file, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}
	defer file.Close()

	if err := os.Chmod(path, 0600); err != nil {
		return fmt.Errorf("failed to set config file permissions: %w", err)
	}

	fmt.Fprintln(file, "# chatstream configuration file")
	fmt.Fprintln(file, "# Generated by chatstream - edit with care")
	fmt.Fprintln(file, "")

	if err := toml.NewEncoder(file).Encode(cfg); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	return nil
}

// =============================================================================
// VALIDATION
// =============================================================================

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidateErrors is a collection of validation errors.
type ValidateErrors []ValidationError

func (e ValidateErrors) Error() string {
	if len(e) == 0 {
		return "no validation errors"
	}
	var msgs []string
	for _, err := range e {
		msgs = append(msgs, err.Error())
	}
	return strings.Join(msgs, "; ")
}

// Validate validates the configuration and returns any errors.
func (c *Config) Validate() error {
	var errs ValidateErrors

	if c.Backend.BaseURL == "" {
		errs = append(errs, ValidationError{
			Field:   "backend.base_url",
			Message: "must not be empty",
		})
	} else if u, err := url.Parse(c.Backend.BaseURL); err != nil || u.Scheme == "" || u.Host == "" {
		errs = append(errs, ValidationError{
			Field:   "backend.base_url",
			Message: fmt.Sprintf("invalid URL '%s'", c.Backend.BaseURL),
		})
	}

	validTransports := map[string]bool{"eventstream": true, "progressive": true}
	if !validTransports[strings.ToLower(c.Backend.Transport)] {
		errs = append(errs, ValidationError{
			Field:   "backend.transport",
			Message: fmt.Sprintf("invalid transport '%s', must be one of: eventstream, progressive", c.Backend.Transport),
		})
	}

	if c.Backend.TurnTimeoutSecs < 0 {
		errs = append(errs, ValidationError{
			Field:   "backend.turn_timeout_secs",
			Message: "must be non-negative",
		})
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}

// SetDefaults fills in any missing values with defaults.
func (c *Config) SetDefaults() {
	defaults := Default()

	if c.Backend.BaseURL == "" {
		c.Backend.BaseURL = defaults.Backend.BaseURL
	}
	if c.Backend.Transport == "" {
		c.Backend.Transport = defaults.Backend.Transport
	}
}

// =============================================================================
// ENVIRONMENT OVERRIDES
// =============================================================================

// ApplyEnvOverrides applies environment variable overrides to the config.
//
// Supported environment variables:
//   - CHATSTREAM_BASE_URL: overrides backend.base_url
//   - CHATSTREAM_USER_ID: overrides backend.user_id
//   - CHATSTREAM_PASSWORD: overrides backend.password
//   - CHATSTREAM_TRANSPORT: overrides backend.transport
//   - CHATSTREAM_TURN_TIMEOUT_SECS: overrides backend.turn_timeout_secs
//   - CHATSTREAM_DIR: overrides storage.dir
func (c *Config) ApplyEnvOverrides() {
	if v := os.Getenv("CHATSTREAM_BASE_URL"); v != "" {
		c.Backend.BaseURL = v
	}
	if v := os.Getenv("CHATSTREAM_USER_ID"); v != "" {
		c.Backend.UserID = v
	}
	if v := os.Getenv("CHATSTREAM_PASSWORD"); v != "" {
		c.Backend.Password = v
	}
	if v := os.Getenv("CHATSTREAM_TRANSPORT"); v != "" {
		c.Backend.Transport = v
	}
	if v := os.Getenv("CHATSTREAM_TURN_TIMEOUT_SECS"); v != "" {
		if secs, err := strconv.Atoi(v); err == nil {
			c.Backend.TurnTimeoutSecs = secs
		}
	}
	if v := os.Getenv("CHATSTREAM_DIR"); v != "" {
		c.Storage.Dir = v
	}
}
