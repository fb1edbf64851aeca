// Package cliconfig resolves the configuration file and logger shared by the
// staffdesk commands.
package cliconfig

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/papercomputeco/staffdesk/pkg/config"
	"github.com/papercomputeco/staffdesk/pkg/logger"
)

const (
	ConfigFlag = "config"
	DebugFlag  = "debug"

	configEnv = "STAFFDESK_CONFIG"
)

// ResolvePath picks the config file: the flag value, then $STAFFDESK_CONFIG,
// then ~/.staffdesk/config.toml when it exists. An empty result means
// defaults and environment only.
func ResolvePath(flagPath string) (string, error) {
	if flagPath != "" {
		return flagPath, nil
	}
	if p := os.Getenv(configEnv); p != "" {
		return p, nil
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("could not resolve home directory: %w", err)
	}
	p := filepath.Join(home, ".staffdesk", "config.toml")
	if _, err := os.Stat(p); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", nil
		}
		return "", err
	}
	return p, nil
}

// Load resolves and loads the configuration for cmd. It returns the path that
// was used so callers can watch it.
func Load(cmd *cobra.Command) (*config.Config, string, error) {
	flagPath, _ := cmd.Flags().GetString(ConfigFlag)
	path, err := ResolvePath(flagPath)
	if err != nil {
		return nil, "", err
	}

	cfg, err := config.Load(path)
	if err != nil {
		return nil, "", fmt.Errorf("could not load config: %w", err)
	}

	if debug, _ := cmd.Flags().GetBool(DebugFlag); debug {
		cfg.Log.Debug = true
	}
	return cfg, path, nil
}

// Logger builds the process logger for cfg.
func Logger(cfg *config.Config) *zap.Logger {
	return logger.NewLogger(cfg.Log.Debug)
}
