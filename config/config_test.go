package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	return path
}

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1:1400", cfg.Server.Addr())
	assert.Equal(t, "glo2000.ca", cfg.Server.Domain)
	assert.Equal(t, "filesystem", cfg.Storage.Type)
	assert.Equal(t, "@lost", cfg.Storage.LostDir)
	assert.False(t, cfg.SMTP.Enabled)
	assert.False(t, cfg.IMAP.Enabled)
	assert.Equal(t, "info", cfg.Log.Level)
}

func TestLoadConfigFile(t *testing.T) {
	path := writeConfig(t, `
server:
  port: 4000
  domain: example.test
storage:
  type: sqlite
  path: /tmp/mail.db
smtp:
  enabled: true
  port: 2626
log:
  level: debug
`)

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, 4000, cfg.Server.Port)
	assert.Equal(t, "example.test", cfg.Server.Domain)
	assert.Equal(t, "127.0.0.1", cfg.Server.Address)
	assert.Equal(t, "sqlite", cfg.Storage.Type)
	assert.Equal(t, "/tmp/mail.db", cfg.Storage.Path)
	assert.True(t, cfg.SMTP.Enabled)
	assert.Equal(t, "127.0.0.1:2626", cfg.SMTP.Addr())
	assert.Equal(t, "debug", cfg.Log.Level)
}

func TestLoadConfigEnvOverride(t *testing.T) {
	t.Setenv("GLOMAIL_SERVER_DOMAIN", "env.test")
	t.Setenv("GLOMAIL_STORAGE_DATA_DIR", "/srv/mail")

	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)

	assert.Equal(t, "env.test", cfg.Server.Domain)
	assert.Equal(t, "/srv/mail", cfg.Storage.DataDir)
}

func TestLoadConfigMalformed(t *testing.T) {
	path := writeConfig(t, "server: [unterminated")

	_, err := LoadConfig(path)
	require.Error(t, err)
}

func TestValidate(t *testing.T) {
	base := func() *Config {
		return &Config{
			Server:  ServerConfig{Address: "127.0.0.1", Port: 1400, Domain: "glo2000.ca", MaxFrameBytes: 1024},
			Storage: StorageConfig{Type: "filesystem", DataDir: "data", LostDir: "@lost"},
		}
	}

	require.NoError(t, base().Validate())

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"empty domain", func(c *Config) { c.Server.Domain = " " }},
		{"bad port", func(c *Config) { c.Server.Port = 70000 }},
		{"unknown storage", func(c *Config) { c.Storage.Type = "redis" }},
		{"lost dir is a username", func(c *Config) { c.Storage.LostDir = "lost" }},
		{"lost dir with separator", func(c *Config) { c.Storage.LostDir = "@a/b" }},
		{"empty lost dir", func(c *Config) { c.Storage.LostDir = "" }},
		{"no frame size", func(c *Config) { c.Server.MaxFrameBytes = 0 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}
