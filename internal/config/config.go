// Package config loads the vnfuse configuration from a YAML file, VNFUSE_*
// environment variables and command-line flags.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Config is the complete vnfuse configuration.
//
// Sources, highest precedence first:
//  1. Command-line flags
//  2. Environment variables (VNFUSE_*)
//  3. Configuration file (YAML)
//  4. Default values
type Config struct {
	Logging LoggingConfig `mapstructure:"logging" yaml:"logging"`
	Mount   MountConfig   `mapstructure:"mount" yaml:"mount"`
	Engine  EngineConfig  `mapstructure:"engine" yaml:"engine"`
	Bridge  BridgeConfig  `mapstructure:"bridge" yaml:"bridge"`
}

// LoggingConfig controls log output.
type LoggingConfig struct {
	// Level is the minimum level written: ERROR, WARN, INFO, DEBUG or TRACE.
	Level string `mapstructure:"level" yaml:"level" validate:"required,oneof=ERROR WARN INFO DEBUG TRACE"`
}

// MountConfig describes the FUSE mount.
type MountConfig struct {
	// Point is the directory the filesystem is mounted on.
	Point string `mapstructure:"point" yaml:"point" validate:"required"`

	FSName  string `mapstructure:"fsname" yaml:"fsname" validate:"required"`
	Subtype string `mapstructure:"subtype" yaml:"subtype" validate:"required"`

	// AllowOther lets users other than the mounter access the filesystem.
	AllowOther bool `mapstructure:"allow_other" yaml:"allow_other"`

	// DefaultPermissions makes the kernel check permissions from the
	// reported mode bits.
	DefaultPermissions bool `mapstructure:"default_permissions" yaml:"default_permissions"`

	// Debug logs every kernel message at TRACE level.
	Debug bool `mapstructure:"debug" yaml:"debug"`
}

// EngineConfig configures the host-directory engine.
type EngineConfig struct {
	// Source is the directory exported through the mount.
	Source string `mapstructure:"source" yaml:"source" validate:"required"`

	// StateDir holds the persistent node-ID table. Empty keeps the table
	// in memory, so node IDs are only stable for one mount.
	StateDir string `mapstructure:"state_dir" yaml:"state_dir"`
}

// BridgeConfig sets the cache lifetimes granted to the kernel.
type BridgeConfig struct {
	EntryTimeout time.Duration `mapstructure:"entry_timeout" yaml:"entry_timeout" validate:"gte=0"`
	AttrTimeout  time.Duration `mapstructure:"attr_timeout" yaml:"attr_timeout" validate:"gte=0"`
}

// flagKeys maps command-line flags to configuration keys.
var flagKeys = map[string]string{
	"log-level":   "logging.level",
	"mountpoint":  "mount.point",
	"allow-other": "mount.allow_other",
	"debug":       "mount.debug",
	"source":      "engine.source",
	"state-dir":   "engine.state_dir",
}

// Load reads the configuration. configPath may be empty to use the default
// location; a missing file is not an error. Flags present in flags and
// listed in flagKeys override every other source.
func Load(configPath string, flags *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	setupViper(v, configPath)

	if flags != nil {
		for name, key := range flagKeys {
			if f := flags.Lookup(name); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return nil, fmt.Errorf("failed to bind flag %s: %w", name, err)
				}
			}
		}
	}

	if err := readConfigFile(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	ApplyDefaults(&cfg)

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return &cfg, nil
}

// setupViper configures environment lookup and the config file location.
func setupViper(v *viper.Viper, configPath string) {
	// VNFUSE_MOUNT_POINT=/mnt/x sets mount.point
	v.SetEnvPrefix("VNFUSE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Unmarshal only consults the environment for keys viper knows about.
	d := GetDefaultConfig()
	v.SetDefault("logging.level", d.Logging.Level)
	v.SetDefault("mount.point", d.Mount.Point)
	v.SetDefault("mount.fsname", d.Mount.FSName)
	v.SetDefault("mount.subtype", d.Mount.Subtype)
	v.SetDefault("mount.allow_other", d.Mount.AllowOther)
	v.SetDefault("mount.default_permissions", d.Mount.DefaultPermissions)
	v.SetDefault("mount.debug", d.Mount.Debug)
	v.SetDefault("engine.source", d.Engine.Source)
	v.SetDefault("engine.state_dir", d.Engine.StateDir)
	v.SetDefault("bridge.entry_timeout", d.Bridge.EntryTimeout)
	v.SetDefault("bridge.attr_timeout", d.Bridge.AttrTimeout)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.AddConfigPath(getConfigDir())
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}
}

// readConfigFile reads the configuration file if there is one.
func readConfigFile(v *viper.Viper) error {
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) || errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("failed to read config file: %w", err)
	}
	return nil
}

// getConfigDir returns $XDG_CONFIG_HOME/vnfuse, ~/.config/vnfuse, or the
// current directory when neither can be determined.
func getConfigDir() string {
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "vnfuse")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(home, ".config", "vnfuse")
}

// GetDefaultConfigPath returns the default configuration file path.
func GetDefaultConfigPath() string {
	return filepath.Join(getConfigDir(), "config.yaml")
}
