package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/ajramos/quickreply/internal/config"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// getConfigPath returns the configuration file path using the following priority:
// 1. CLI flag
// 2. Environment variable QUICKREPLY_CONFIG
// 3. Default path ~/.config/quickreply/config.yaml
func getConfigPath(flagValue string) string {
	if flagValue != "" {
		return expandPath(flagValue)
	}

	if envPath := os.Getenv("QUICKREPLY_CONFIG"); envPath != "" {
		return expandPath(envPath)
	}

	return config.DefaultConfigPath()
}

// expandPath expands ~ to the user's home directory
func expandPath(path string) string {
	if !strings.HasPrefix(path, "~") {
		return path
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}

	if path == "~" {
		return home
	}

	return filepath.Join(home, path[2:])
}
