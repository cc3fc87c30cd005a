package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

const appName = "quickreply"

// Storage backends
const (
	BackendJSON   = "json"
	BackendSQLite = "sqlite"
)

// TranslationConfig holds all translation-related configuration
type TranslationConfig struct {
	Enabled  bool   `json:"enabled" yaml:"enabled" mapstructure:"enabled"`
	Provider string `json:"provider" yaml:"provider" mapstructure:"provider"` // ollama, bedrock
	Model    string `json:"model" yaml:"model" mapstructure:"model"`
	Endpoint string `json:"endpoint" yaml:"endpoint" mapstructure:"endpoint"`
	Region   string `json:"region" yaml:"region" mapstructure:"region"` // For AWS Bedrock
	Timeout  string `json:"timeout" yaml:"timeout" mapstructure:"timeout"`

	// Size of the in-memory translation cache (entries)
	CacheSize int `json:"cache_size" yaml:"cache_size" mapstructure:"cache_size"`

	// Defaults applied when an account has no preference of its own
	TargetLanguage string `json:"target_language" yaml:"target_language" mapstructure:"target_language"`
	Style          string `json:"style" yaml:"style" mapstructure:"style"`

	// Prompt template file (relative to config dir or absolute) and inline override
	PromptTemplate string `json:"prompt_template,omitempty" yaml:"prompt_template,omitempty" mapstructure:"prompt_template"`
	Prompt         string `json:"prompt,omitempty" yaml:"prompt,omitempty" mapstructure:"prompt"`
}

// StorageConfig selects the persistence backend
type StorageConfig struct {
	Backend string `json:"backend" yaml:"backend" mapstructure:"backend"`
}

// LogConfig configures the zap logger
type LogConfig struct {
	Level  string `json:"level" yaml:"level" mapstructure:"level"`
	Format string `json:"format" yaml:"format" mapstructure:"format"` // json, console
	File   string `json:"file" yaml:"file" mapstructure:"file"`
}

// MetricsConfig configures the Prometheus endpoint of the shell
type MetricsConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled" mapstructure:"enabled"`
	Addr    string `json:"addr" yaml:"addr" mapstructure:"addr"`
}

// Config holds all configuration for quickreply
type Config struct {
	// Root directory holding one sub-directory per account
	DataDir string `json:"data_dir" yaml:"data_dir" mapstructure:"data_dir"`

	// Account used when none is given on the command line
	DefaultAccount string `json:"default_account" yaml:"default_account" mapstructure:"default_account"`

	Storage     StorageConfig     `json:"storage" yaml:"storage" mapstructure:"storage"`
	Log         LogConfig         `json:"log" yaml:"log" mapstructure:"log"`
	Translation TranslationConfig `json:"translation" yaml:"translation" mapstructure:"translation"`
	Metrics     MetricsConfig     `json:"metrics" yaml:"metrics" mapstructure:"metrics"`
}

// DefaultConfig returns a Config with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		DataDir:        DefaultDataDir(),
		DefaultAccount: "default",
		Storage:        StorageConfig{Backend: BackendJSON},
		Log: LogConfig{
			Level:  "info",
			Format: "console",
		},
		Translation: DefaultTranslationConfig(),
		Metrics: MetricsConfig{
			Enabled: false,
			Addr:    "127.0.0.1:9464",
		},
	}
}

// DefaultTranslationConfig returns default translation configuration
func DefaultTranslationConfig() TranslationConfig {
	return TranslationConfig{
		Enabled:        false,
		Provider:       "ollama",
		Model:          "llama3.2:latest",
		Endpoint:       "http://localhost:11434/api/generate",
		Timeout:        "20s",
		CacheSize:      512,
		TargetLanguage: "English",
		Style:          "neutral",
	}
}

// Validate reports the first invalid setting
func (c *Config) Validate() error {
	if strings.TrimSpace(c.DataDir) == "" {
		return fmt.Errorf("data_dir is required")
	}
	switch c.Storage.Backend {
	case BackendJSON, BackendSQLite:
	default:
		return fmt.Errorf("storage.backend must be %q or %q, got %q", BackendJSON, BackendSQLite, c.Storage.Backend)
	}
	switch c.Log.Format {
	case "json", "console", "":
	default:
		return fmt.Errorf("log.format must be json or console, got %q", c.Log.Format)
	}
	if c.Translation.Enabled {
		switch c.Translation.Provider {
		case "ollama", "bedrock":
		default:
			return fmt.Errorf("translation.provider must be ollama or bedrock, got %q", c.Translation.Provider)
		}
		if strings.TrimSpace(c.Translation.Model) == "" {
			return fmt.Errorf("translation.model is required when translation is enabled")
		}
	}
	if c.Translation.Timeout != "" {
		if _, err := time.ParseDuration(c.Translation.Timeout); err != nil {
			return fmt.Errorf("translation.timeout: %w", err)
		}
	}
	if c.Translation.CacheSize < 0 {
		return fmt.Errorf("translation.cache_size must not be negative")
	}
	if c.Metrics.Enabled && strings.TrimSpace(c.Metrics.Addr) == "" {
		return fmt.Errorf("metrics.addr is required when metrics are enabled")
	}
	return nil
}

// DefaultConfigPath returns the default configuration file path
func DefaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", appName, "config.yaml")
}

// DefaultDataDir returns the default account data directory
func DefaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", appName, "accounts")
}

// SaveConfig saves the configuration to a file
func (c *Config) SaveConfig(path string) error {
	// Ensure directory exists
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}

	return os.WriteFile(path, data, 0o600)
}

// GetTranslationTimeout returns parsed timeout for translation requests
func (c *Config) GetTranslationTimeout() time.Duration {
	if c.Translation.Timeout != "" {
		if d, err := time.ParseDuration(c.Translation.Timeout); err == nil {
			return d
		}
	}
	return 20 * time.Second
}

// LoadTemplate loads a template with proper priority: file first, then inline, then fallback
func LoadTemplate(templatePath, inlinePrompt, fallbackPrompt string) string {
	if strings.TrimSpace(templatePath) != "" {
		// Make path relative to config directory if not absolute
		var fullPath string
		if filepath.IsAbs(templatePath) {
			fullPath = templatePath
		} else {
			configDir := filepath.Dir(DefaultConfigPath())
			fullPath = filepath.Join(configDir, templatePath)
		}

		if content, err := os.ReadFile(fullPath); err == nil {
			return strings.TrimSpace(string(content))
		}
	}

	if strings.TrimSpace(inlinePrompt) != "" {
		return inlinePrompt
	}

	return fallbackPrompt
}

// DefaultTranslationPrompt is used when no template or inline prompt is set.
// Available variables: {{text}}, {{language}}, {{style}}
const DefaultTranslationPrompt = "Translate the following message into {{language}} using a {{style}} tone. Keep placeholders, emoji, URLs and line breaks unchanged. Output only the translation.\n\n{{text}}"

// GetTranslationPrompt returns the translation prompt, loading from template file if needed
func (c *TranslationConfig) GetTranslationPrompt() string {
	return LoadTemplate(c.PromptTemplate, c.Prompt, DefaultTranslationPrompt)
}
