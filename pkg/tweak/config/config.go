// Package config provides configuration management for tweakctl.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/adrg/xdg"
	"github.com/spf13/viper"
)

// Default configuration values.
const (
	// DefaultRootStateDir holds root-scope transactions.
	DefaultRootStateDir = "/var/lib/tweakctl"

	// DefaultRegistryName is the knob registry file name inside the
	// config directory.
	DefaultRegistryName = "knobs.yaml"

	// DefaultOwnershipTTLHours is how long package-ownership answers
	// stay cached.
	DefaultOwnershipTTLHours = 24

	// DefaultRetentionDays is how long reverted transactions are kept
	// before `history clean` removes them.
	DefaultRetentionDays = 90
)

// LoggingConfig configures application logging.
type LoggingConfig struct {
	Level      string            `mapstructure:"level"`
	Path       string            `mapstructure:"path"`
	Components map[string]string `mapstructure:"components"`
}

// OwnershipConfig configures the package-ownership cache.
type OwnershipConfig struct {
	CachePath string `mapstructure:"cache_path"`
	TTLHours  int    `mapstructure:"ttl_hours"`
}

// Config is the application configuration.
type Config struct {
	// Registry is the path to the knob registry YAML.
	Registry string `mapstructure:"registry"`

	// UserStateDir holds user-scope transactions.
	UserStateDir string `mapstructure:"user_state_dir"`

	// RootStateDir holds root-scope transactions.
	RootStateDir string `mapstructure:"root_state_dir"`

	// Output selects the default output format.
	Output string `mapstructure:"output"`

	// RetentionDays bounds `history clean`.
	RetentionDays int `mapstructure:"retention_days"`

	Logging   LoggingConfig   `mapstructure:"logging"`
	Ownership OwnershipConfig `mapstructure:"ownership"`
}

// Load loads configuration from file and environment variables.
// Config file locations (in order of precedence):
//   - $XDG_CONFIG_HOME/tweakctl/config.yaml
//   - $HOME/.config/tweakctl/config.yaml
//
// Environment variables are prefixed with TWEAKCTL_.
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")

	if xdgConfigHome := os.Getenv("XDG_CONFIG_HOME"); xdgConfigHome != "" {
		v.AddConfigPath(filepath.Join(xdgConfigHome, "tweakctl"))
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("failed to get user home directory: %w", err)
	}
	v.AddConfigPath(filepath.Join(homeDir, ".config", "tweakctl"))

	v.SetEnvPrefix("TWEAKCTL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// Config file not found is acceptable; defaults apply.
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	for _, p := range []*string{&cfg.Registry, &cfg.UserStateDir, &cfg.RootStateDir, &cfg.Ownership.CachePath} {
		expanded, err := ExpandPath(*p)
		if err != nil {
			return nil, err
		}
		*p = expanded
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("registry", filepath.Join(ConfigDir(), DefaultRegistryName))
	v.SetDefault("user_state_dir", StateDir())
	v.SetDefault("root_state_dir", DefaultRootStateDir)
	v.SetDefault("output", "table")
	v.SetDefault("retention_days", DefaultRetentionDays)
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.path", "")
	v.SetDefault("logging.components", map[string]string{
		"engine":  "info",
		"txn":     "info",
		"system":  "info",
		"watcher": "warn",
	})
	v.SetDefault("ownership.cache_path", filepath.Join(CacheDir(), "pkgown"))
	v.SetDefault("ownership.ttl_hours", DefaultOwnershipTTLHours)
}

// ConfigDir returns $XDG_CONFIG_HOME/tweakctl.
func ConfigDir() string {
	return filepath.Join(xdg.ConfigHome, "tweakctl")
}

// StateDir returns $XDG_STATE_HOME/tweakctl, the user-scope transaction
// store and log location.
func StateDir() string {
	return filepath.Join(xdg.StateHome, "tweakctl")
}

// CacheDir returns $XDG_CACHE_HOME/tweakctl.
func CacheDir() string {
	return filepath.Join(xdg.CacheHome, "tweakctl")
}

// ExpandPath expands a leading ~ to the user's home directory.
func ExpandPath(path string) (string, error) {
	if !strings.HasPrefix(path, "~") {
		return path, nil
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get user home directory: %w", err)
	}
	return filepath.Join(homeDir, path[1:]), nil
}

// EnsureConfigDir creates the config directory if it doesn't exist.
func EnsureConfigDir() error {
	if err := os.MkdirAll(ConfigDir(), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	return nil
}

// WriteDefault writes a default config file if none exists. Returns nil if
// a config file already exists.
func WriteDefault() error {
	if err := EnsureConfigDir(); err != nil {
		return err
	}
	configPath := filepath.Join(ConfigDir(), "config.yaml")

	if _, err := os.Stat(configPath); err == nil {
		return nil
	} else if !os.IsNotExist(err) {
		return fmt.Errorf("failed to check config file: %w", err)
	}

	defaultConfig := fmt.Sprintf(`# tweakctl configuration

# Knob registry file
registry: %s

# Transaction state directories
user_state_dir: %s
root_state_dir: %s

# Default output format: table, plain, json, yaml
output: table

# Days to retain reverted transactions before 'history clean'
retention_days: %d

# Logging configuration
logging:
  # Log level: debug, info, warn, error
  level: info
  # Log file path (empty means $XDG_STATE_HOME/tweakctl/tweakctl.log)
  path: ""
  # Per-component log levels
  components:
    engine: info
    txn: info
    system: info
    watcher: warn

# Package ownership cache
ownership:
  cache_path: %s
  ttl_hours: %d
`,
		filepath.Join(ConfigDir(), DefaultRegistryName),
		StateDir(),
		DefaultRootStateDir,
		DefaultRetentionDays,
		filepath.Join(CacheDir(), "pkgown"),
		DefaultOwnershipTTLHours,
	)

	if err := os.WriteFile(configPath, []byte(defaultConfig), 0o644); err != nil {
		return fmt.Errorf("failed to write default config: %w", err)
	}
	return nil
}
