// Package config handles configuration loading and validation for loadctl.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/hay-kot/loadctl/pkg/backoff"
)

// Config holds the application configuration.
type Config struct {
	API           APIConfig           `yaml:"api"`
	Stream        StreamConfig        `yaml:"stream"`
	Tracking      TrackingConfig      `yaml:"tracking"`
	Notifications NotificationsConfig `yaml:"notifications"`
	DataDir       string              `yaml:"-"` // set by caller, not from config file
}

// APIConfig configures the REST backend.
type APIConfig struct {
	BaseURL     string        `yaml:"base_url"`
	RefreshPath string        `yaml:"refresh_path"`
	Timeout     time.Duration `yaml:"timeout"`
}

// StreamConfig configures the server-sent notification feed.
type StreamConfig struct {
	URL     string        `yaml:"url"` // defaults to api.base_url
	Path    string        `yaml:"path"`
	Backoff BackoffConfig `yaml:"backoff"`
}

// TrackingConfig configures the live-position websocket.
type TrackingConfig struct {
	SocketURL string        `yaml:"socket_url"`
	Reconnect *bool         `yaml:"reconnect"`
	Backoff   BackoffConfig `yaml:"backoff"`
}

// BackoffConfig bounds reconnect delays.
type BackoffConfig struct {
	Base time.Duration `yaml:"base"`
	Max  time.Duration `yaml:"max"`
}

// NotificationsConfig controls retention and toasts.
type NotificationsConfig struct {
	Max       int      `yaml:"max"`
	Muted     bool     `yaml:"muted"`
	MuteTypes []string `yaml:"mute_types"`
}

// Policy converts the config into a backoff policy.
func (b BackoffConfig) Policy() backoff.Policy {
	return backoff.Policy{Base: b.Base, Max: b.Max}
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	reconnect := true
	return Config{
		API: APIConfig{
			BaseURL:     "http://localhost:4000/api",
			RefreshPath: "/auth/refresh",
			Timeout:     30 * time.Second,
		},
		Stream: StreamConfig{
			Path: "/events",
			Backoff: BackoffConfig{
				Base: backoff.DefaultBase,
				Max:  backoff.DefaultMax,
			},
		},
		Tracking: TrackingConfig{
			SocketURL: "ws://localhost:4000/socket",
			Reconnect: &reconnect,
			Backoff: BackoffConfig{
				Base: backoff.DefaultBase,
				Max:  backoff.DefaultMax,
			},
		},
		Notifications: NotificationsConfig{
			Max: 50,
		},
	}
}

// Load reads configuration from the given path and sets the data directory.
// If configPath is empty or doesn't exist, returns defaults with the provided dataDir.
// The result is not validated; callers apply overrides and then call Validate.
func Load(configPath, dataDir string) (*Config, error) {
	cfg := DefaultConfig()
	cfg.DataDir = dataDir

	if configPath != "" {
		if _, err := os.Stat(configPath); err == nil {
			data, err := os.ReadFile(configPath)
			if err != nil {
				return nil, fmt.Errorf("read config file: %w", err)
			}

			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return nil, fmt.Errorf("parse config file: %w", err)
			}

			// Re-set dataDir since Unmarshal may have cleared it
			cfg.DataDir = dataDir
		}
	}

	cfg.applyDefaults()

	return &cfg, nil
}

// applyDefaults sets default values for any unset configuration options.
func (c *Config) applyDefaults() {
	defaults := DefaultConfig()
	if c.API.RefreshPath == "" {
		c.API.RefreshPath = defaults.API.RefreshPath
	}
	if c.API.Timeout == 0 {
		c.API.Timeout = defaults.API.Timeout
	}
	if c.Stream.Path == "" {
		c.Stream.Path = defaults.Stream.Path
	}
	if c.Stream.Backoff.Base == 0 {
		c.Stream.Backoff.Base = defaults.Stream.Backoff.Base
	}
	if c.Stream.Backoff.Max == 0 {
		c.Stream.Backoff.Max = defaults.Stream.Backoff.Max
	}
	if c.Tracking.Reconnect == nil {
		c.Tracking.Reconnect = defaults.Tracking.Reconnect
	}
	if c.Tracking.Backoff.Base == 0 {
		c.Tracking.Backoff.Base = defaults.Tracking.Backoff.Base
	}
	if c.Tracking.Backoff.Max == 0 {
		c.Tracking.Backoff.Max = defaults.Tracking.Backoff.Max
	}
	if c.Notifications.Max == 0 {
		c.Notifications.Max = defaults.Notifications.Max
	}
}

// StreamURL returns the base URL of the event stream service.
func (c *Config) StreamURL() string {
	if c.Stream.URL != "" {
		return c.Stream.URL
	}
	return c.API.BaseURL
}

// TrackingReconnect reports whether the socket transport reconnects on its own.
func (c *Config) TrackingReconnect() bool {
	return c.Tracking.Reconnect == nil || *c.Tracking.Reconnect
}

// SessionFile returns the path to the persisted session.
func (c *Config) SessionFile() string {
	return filepath.Join(c.DataDir, "session.json")
}

// NotificationsFile returns the path to the notification history.
func (c *Config) NotificationsFile() string {
	return filepath.Join(c.DataDir, "notifications.json")
}
