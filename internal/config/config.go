// Package config handles configuration loading and management for Foreman.
// It supports XDG config paths, project-level overrides, and environment variables.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Config holds all configuration for Foreman.
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Session    SessionConfig    `mapstructure:"session"`
	Classifier ClassifierConfig `mapstructure:"classifier"`
	Resources  ResourcesConfig  `mapstructure:"resources"`
	Archive    ArchiveConfig    `mapstructure:"archive"`
	Debug      DebugConfig      `mapstructure:"debug"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	// Addr is the listen address, host:port.
	Addr string `mapstructure:"addr"`
	// ShutdownTimeout bounds graceful shutdown.
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// SessionConfig holds per-session defaults.
type SessionConfig struct {
	// QueueSize is the event queue capacity per session.
	QueueSize int `mapstructure:"queue_size"`
	// HistoryLimit is the conversation history ceiling in bytes.
	HistoryLimit int `mapstructure:"history_limit"`
}

// ClassifierConfig selects and configures the request classifier.
type ClassifierConfig struct {
	// Provider is one of "anthropic", "bedrock", or "heuristic".
	Provider string `mapstructure:"provider"`
	// Model is the LLM model name for the anthropic and bedrock providers.
	Model string `mapstructure:"model"`
	// APIKey is the Anthropic API key. ${VAR} references are expanded.
	APIKey string `mapstructure:"api_key"`
	// AWSRegion and AWSProfile configure the bedrock provider.
	AWSRegion  string `mapstructure:"aws_region"`
	AWSProfile string `mapstructure:"aws_profile"`
}

// ResourcesConfig locates the resource inventory.
type ResourcesConfig struct {
	// InventoryPath is the YAML resource inventory file. Empty means no
	// pooled resources.
	InventoryPath string `mapstructure:"inventory_path"`
	// Watch enables hot-reload of the inventory file.
	Watch bool `mapstructure:"watch"`
}

// ArchiveConfig locates the terminated-session archive.
type ArchiveConfig struct {
	// Path is the SQLite archive file. Empty selects the default under
	// the user's data directory.
	Path string `mapstructure:"path"`
	// RetentionDays is how long archived sessions are kept; zero keeps
	// them forever.
	RetentionDays int `mapstructure:"retention_days"`
}

// DebugConfig holds debug trace settings.
type DebugConfig struct {
	// DataDir is where per-session debug logs land. Empty disables them.
	DataDir string `mapstructure:"data_dir"`
}

// Validate checks cross-field constraints.
func (c *Config) Validate() error {
	switch c.Classifier.Provider {
	case "anthropic", "bedrock", "heuristic":
	default:
		return fmt.Errorf("unknown classifier provider %q", c.Classifier.Provider)
	}
	if c.Session.HistoryLimit < 0 {
		return fmt.Errorf("session.history_limit must be non-negative")
	}
	if c.Session.QueueSize < 0 {
		return fmt.Errorf("session.queue_size must be non-negative")
	}
	return nil
}

// Default returns a Config with default values.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:            "127.0.0.1:7180",
			ShutdownTimeout: 10 * time.Second,
		},
		Session: SessionConfig{
			QueueSize:    64,
			HistoryLimit: 512 * 1024,
		},
		Classifier: ClassifierConfig{
			Provider: "heuristic",
		},
	}
}

// GetUserConfigPath returns the path to the user config file.
func GetUserConfigPath() string {
	return filepath.Join(getUserConfigDir(), "config.yaml")
}

// GetProjectConfigPath returns the path to the project config file if it exists.
func GetProjectConfigPath() string {
	return findProjectConfig()
}

// getUserConfigDir returns the XDG config directory for Foreman.
func getUserConfigDir() string {
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "foreman")
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", ".config", "foreman")
	}
	return filepath.Join(home, ".config", "foreman")
}

// findProjectConfig searches for .foreman.yaml in the current directory and parents.
func findProjectConfig() string {
	cwd, err := os.Getwd()
	if err != nil {
		return ""
	}

	for {
		configPath := filepath.Join(cwd, ".foreman.yaml")
		if _, err := os.Stat(configPath); err == nil {
			return configPath
		}

		parent := filepath.Dir(cwd)
		if parent == cwd {
			break
		}
		cwd = parent
	}

	return ""
}

// expandEnv expands ${VAR} references in a string.
func expandEnv(s string) string {
	return os.ExpandEnv(s)
}
