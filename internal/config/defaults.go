package config

import (
	"strings"
	"time"
)

// ApplyDefaults fills unset fields. Explicit values are kept; the log
// level is normalized to the upper-case names the validator accepts.
func ApplyDefaults(cfg *Config) {
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "INFO"
	}
	cfg.Logging.Level = strings.ToUpper(cfg.Logging.Level)
	if cfg.Logging.Level == "WARNING" {
		cfg.Logging.Level = "WARN"
	}

	if cfg.Mount.FSName == "" {
		cfg.Mount.FSName = "vnfuse"
	}
	if cfg.Mount.Subtype == "" {
		cfg.Mount.Subtype = "vnfuse"
	}

	if cfg.Bridge.EntryTimeout == 0 {
		cfg.Bridge.EntryTimeout = time.Second
	}
	if cfg.Bridge.AttrTimeout == 0 {
		cfg.Bridge.AttrTimeout = time.Second
	}
}

// GetDefaultConfig returns a configuration with every default applied.
// Mount.Point and Engine.Source have no default and must be set.
func GetDefaultConfig() *Config {
	cfg := &Config{}
	ApplyDefaults(cfg)
	return cfg
}
