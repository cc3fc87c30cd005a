package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override, e.g. QUICKREPLY_DATA_DIR or
// QUICKREPLY_TRANSLATION_MODEL.
const EnvPrefix = "QUICKREPLY"

// LoadConfig loads configuration from an optional file, a .env file and the
// environment, in increasing priority. A missing file is not an error when
// configPath is the default path.
func LoadConfig(configPath string) (*Config, error) {
	loadEnvFile(configPath)

	v := viper.New()
	setDefaults(v, DefaultConfig())

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			switch {
			case errors.As(err, &notFound), errors.Is(err, os.ErrNotExist):
				if configPath != DefaultConfigPath() {
					return nil, fmt.Errorf("config file %s not found", configPath)
				}
			default:
				return nil, fmt.Errorf("error reading config: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	cfg.DataDir = expandHome(cfg.DataDir)
	cfg.Log.File = expandHome(cfg.Log.File)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// setDefaults registers every key so AutomaticEnv can override it.
func setDefaults(v *viper.Viper, d *Config) {
	v.SetDefault("data_dir", d.DataDir)
	v.SetDefault("default_account", d.DefaultAccount)
	v.SetDefault("storage.backend", d.Storage.Backend)
	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.format", d.Log.Format)
	v.SetDefault("log.file", d.Log.File)
	v.SetDefault("translation.enabled", d.Translation.Enabled)
	v.SetDefault("translation.provider", d.Translation.Provider)
	v.SetDefault("translation.model", d.Translation.Model)
	v.SetDefault("translation.endpoint", d.Translation.Endpoint)
	v.SetDefault("translation.region", d.Translation.Region)
	v.SetDefault("translation.timeout", d.Translation.Timeout)
	v.SetDefault("translation.cache_size", d.Translation.CacheSize)
	v.SetDefault("translation.target_language", d.Translation.TargetLanguage)
	v.SetDefault("translation.style", d.Translation.Style)
	v.SetDefault("translation.prompt_template", d.Translation.PromptTemplate)
	v.SetDefault("translation.prompt", d.Translation.Prompt)
	v.SetDefault("metrics.enabled", d.Metrics.Enabled)
	v.SetDefault("metrics.addr", d.Metrics.Addr)
}

// loadEnvFile loads the first .env found next to the config file or in the
// working directory. Variables already set in the environment win.
func loadEnvFile(configPath string) {
	candidates := []string{".env"}
	if configPath != "" {
		candidates = append([]string{filepath.Join(filepath.Dir(configPath), ".env")}, candidates...)
	}
	for _, path := range candidates {
		if _, err := os.Stat(path); err == nil {
			if err := godotenv.Load(path); err == nil {
				return
			}
		}
	}
}

func expandHome(path string) string {
	if !strings.HasPrefix(path, "~") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~"))
}
