package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoadFile(t *testing.T) {
	path := writeConfig(t, `
logging:
  level: debug
mount:
  point: /mnt/src
  allow_other: true
engine:
  source: /srv/data
  state_dir: /var/lib/vnfuse
bridge:
  entry_timeout: 5s
`)

	cfg, err := Load(path, nil)
	require.NoError(t, err)

	assert.Equal(t, "DEBUG", cfg.Logging.Level)
	assert.Equal(t, "/mnt/src", cfg.Mount.Point)
	assert.True(t, cfg.Mount.AllowOther)
	assert.False(t, cfg.Mount.DefaultPermissions)
	assert.Equal(t, "vnfuse", cfg.Mount.FSName)
	assert.Equal(t, "vnfuse", cfg.Mount.Subtype)
	assert.Equal(t, "/srv/data", cfg.Engine.Source)
	assert.Equal(t, "/var/lib/vnfuse", cfg.Engine.StateDir)
	assert.Equal(t, 5*time.Second, cfg.Bridge.EntryTimeout)
	assert.Equal(t, time.Second, cfg.Bridge.AttrTimeout)
}

func TestLoadMissingFileNeedsRequiredKeys(t *testing.T) {
	path := filepath.Join(t.TempDir(), "missing.yaml")

	_, err := Load(path, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "validation failed")
}

func TestLoadInvalidYAML(t *testing.T) {
	path := writeConfig(t, "mount: [unterminated\n")

	_, err := Load(path, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read config file")
}

func TestLoadEnvironment(t *testing.T) {
	path := writeConfig(t, `
mount:
  point: /mnt/file
engine:
  source: /srv/data
`)
	t.Setenv("VNFUSE_MOUNT_POINT", "/mnt/env")
	t.Setenv("VNFUSE_BRIDGE_ATTR_TIMEOUT", "250ms")

	cfg, err := Load(path, nil)
	require.NoError(t, err)
	assert.Equal(t, "/mnt/env", cfg.Mount.Point)
	assert.Equal(t, 250*time.Millisecond, cfg.Bridge.AttrTimeout)
}

func TestLoadFlagsOverride(t *testing.T) {
	path := writeConfig(t, `
logging:
  level: WARN
mount:
  point: /mnt/file
engine:
  source: /srv/data
`)

	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	flags.String("mountpoint", "", "")
	flags.String("source", "", "")
	flags.String("log-level", "", "")
	flags.Bool("debug", false, "")
	require.NoError(t, flags.Parse([]string{"--mountpoint", "/mnt/flag", "--debug"}))

	cfg, err := Load(path, flags)
	require.NoError(t, err)
	assert.Equal(t, "/mnt/flag", cfg.Mount.Point)
	assert.Equal(t, "/srv/data", cfg.Engine.Source, "unset flags keep the file value")
	assert.Equal(t, "WARN", cfg.Logging.Level)
	assert.True(t, cfg.Mount.Debug)
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		cfg := GetDefaultConfig()
		cfg.Mount.Point = "/mnt/x"
		cfg.Engine.Source = "/srv/x"
		return cfg
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"valid", func(*Config) {}, false},
		{"bad level", func(c *Config) { c.Logging.Level = "LOUD" }, true},
		{"no mount point", func(c *Config) { c.Mount.Point = "" }, true},
		{"no source", func(c *Config) { c.Engine.Source = "" }, true},
		{"negative timeout", func(c *Config) { c.Bridge.EntryTimeout = -time.Second }, true},
		{"mount over source", func(c *Config) { c.Mount.Point = "/srv/x/" }, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			err := Validate(cfg)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestWriteDefault(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sub", "config.yaml")

	cfg := GetDefaultConfig()
	cfg.Mount.Point = "/mnt/src"
	cfg.Engine.Source = "/srv/data"
	require.NoError(t, WriteDefault(path, cfg, false))

	content, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(content), "# vnfuse configuration file")

	var raw map[string]any
	require.NoError(t, yaml.Unmarshal(content, &raw))
	for _, section := range []string{"logging", "mount", "engine", "bridge"} {
		assert.Contains(t, raw, section)
	}

	loaded, err := Load(path, nil)
	require.NoError(t, err)
	assert.Equal(t, cfg, loaded)

	assert.Error(t, WriteDefault(path, nil, false))
	require.NoError(t, WriteDefault(path, nil, true))
}

func TestApplyDefaultsNormalizesLevel(t *testing.T) {
	tests := []struct{ in, want string }{
		{"", "INFO"},
		{"debug", "DEBUG"},
		{"warning", "WARN"},
		{"WARNING", "WARN"},
		{"trace", "TRACE"},
	}
	for _, tt := range tests {
		cfg := &Config{Logging: LoggingConfig{Level: tt.in}}
		ApplyDefaults(cfg)
		assert.Equal(t, tt.want, cfg.Logging.Level, "level %q", tt.in)
	}

	path := writeConfig(t, `
logging:
  level: warning
mount:
  point: /mnt/src
engine:
  source: /srv/data
`)
	cfg, err := Load(path, nil)
	require.NoError(t, err)
	assert.Equal(t, "WARN", cfg.Logging.Level)
}
