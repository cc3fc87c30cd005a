package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.NotNil(t, cfg)
	assert.Equal(t, "default", cfg.DefaultAccount)
	assert.Equal(t, BackendJSON, cfg.Storage.Backend)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.False(t, cfg.Metrics.Enabled)
	assert.NoError(t, cfg.Validate())
}

func TestDefaultTranslationConfig(t *testing.T) {
	cfg := DefaultTranslationConfig()

	assert.False(t, cfg.Enabled)
	assert.Equal(t, "ollama", cfg.Provider)
	assert.Equal(t, "llama3.2:latest", cfg.Model)
	assert.Equal(t, "http://localhost:11434/api/generate", cfg.Endpoint)
	assert.Equal(t, "20s", cfg.Timeout)
	assert.Equal(t, 512, cfg.CacheSize)
	assert.Equal(t, "English", cfg.TargetLanguage)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"empty_data_dir", func(c *Config) { c.DataDir = " " }, "data_dir"},
		{"bad_backend", func(c *Config) { c.Storage.Backend = "redis" }, "storage.backend"},
		{"bad_log_format", func(c *Config) { c.Log.Format = "xml" }, "log.format"},
		{"bad_provider", func(c *Config) {
			c.Translation.Enabled = true
			c.Translation.Provider = "openai"
		}, "translation.provider"},
		{"missing_model", func(c *Config) {
			c.Translation.Enabled = true
			c.Translation.Model = ""
		}, "translation.model"},
		{"bad_timeout", func(c *Config) { c.Translation.Timeout = "soon" }, "translation.timeout"},
		{"negative_cache", func(c *Config) { c.Translation.CacheSize = -1 }, "cache_size"},
		{"metrics_without_addr", func(c *Config) {
			c.Metrics.Enabled = true
			c.Metrics.Addr = ""
		}, "metrics.addr"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			cfg.DataDir = t.TempDir()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestLoadConfig_FileAndEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
data_dir: `+filepath.Join(dir, "data")+`
default_account: work
storage:
  backend: sqlite
translation:
  enabled: true
  provider: bedrock
  model: anthropic.claude-3-haiku
  region: eu-west-1
`), 0o600))

	t.Setenv("QUICKREPLY_DEFAULT_ACCOUNT", "personal")
	t.Setenv("QUICKREPLY_LOG_LEVEL", "debug")

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "data"), cfg.DataDir)
	assert.Equal(t, "personal", cfg.DefaultAccount, "env overrides file")
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, BackendSQLite, cfg.Storage.Backend)
	assert.Equal(t, "bedrock", cfg.Translation.Provider)
	assert.Equal(t, "eu-west-1", cfg.Translation.Region)
	assert.Equal(t, 512, cfg.Translation.CacheSize, "unset keys keep defaults")
}

func TestLoadConfig_DotEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"data_dir": "`+filepath.ToSlash(dir)+`"}`), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("QUICKREPLY_METRICS_ADDR=127.0.0.1:9999\n"), 0o600))
	t.Cleanup(func() { _ = os.Unsetenv("QUICKREPLY_METRICS_ADDR") })

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:9999", cfg.Metrics.Addr)
}

func TestLoadConfig_Errors(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("storage:\n  backend: mongo\n"), 0o600))
	_, err = LoadConfig(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid configuration")
}

func TestSaveConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.json")
	cfg := DefaultConfig()
	cfg.DefaultAccount = "saved"
	require.NoError(t, cfg.SaveConfig(path))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	loaded, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "saved", loaded.DefaultAccount)
}

func TestGetTranslationTimeout(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, 20*time.Second, cfg.GetTranslationTimeout())
	cfg.Translation.Timeout = "3s"
	assert.Equal(t, 3*time.Second, cfg.GetTranslationTimeout())
	cfg.Translation.Timeout = "bogus"
	assert.Equal(t, 20*time.Second, cfg.GetTranslationTimeout())
}

func TestLoadTemplate(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "prompt.md")
	require.NoError(t, os.WriteFile(file, []byte("  from file {{text}}  \n"), 0o600))

	assert.Equal(t, "from file {{text}}", LoadTemplate(file, "inline", "fallback"))
	assert.Equal(t, "inline", LoadTemplate(filepath.Join(dir, "missing.md"), "inline", "fallback"))
	assert.Equal(t, "fallback", LoadTemplate("", "  ", "fallback"))

	tc := DefaultTranslationConfig()
	assert.Equal(t, DefaultTranslationPrompt, tc.GetTranslationPrompt())
	tc.Prompt = "custom {{text}}"
	assert.Equal(t, "custom {{text}}", tc.GetTranslationPrompt())
}

func TestExpandHome(t *testing.T) {
	home, err := os.UserHomeDir()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(home, "data"), expandHome("~/data"))
	assert.Equal(t, "/abs", expandHome("/abs"))
}
