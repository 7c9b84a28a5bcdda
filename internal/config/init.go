package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

const fileHeader = `# vnfuse configuration file
#
# Every key can be overridden with a VNFUSE_* environment variable,
# e.g. VNFUSE_MOUNT_POINT=/mnt/src or VNFUSE_LOGGING_LEVEL=DEBUG.

`

// WriteDefault writes cfg (or the defaults when cfg is nil) as YAML to
// path. An existing file is only replaced when force is set.
func WriteDefault(path string, cfg *Config, force bool) error {
	if !force {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config file already exists at %s (use force to overwrite)", path)
		}
	}
	if cfg == nil {
		cfg = GetDefaultConfig()
	}

	var buf bytes.Buffer
	buf.WriteString(fileHeader)
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(cfg); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	if err := os.WriteFile(path, buf.Bytes(), 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}
