/*
Author: KleaSCM
Email: KleaSCM@gmail.com
File: utils.go
Description: Shared utilities for the guesser commands: configuration loading from file
and environment, and logger setup.
*/

package commands

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/kleascm/akaylee-pcfg/pkg/logging"
	"github.com/kleascm/akaylee-pcfg/pkg/session"
	"github.com/spf13/viper"
)

// LoadConfig loads configuration from files and environment
func LoadConfig() error {
	// Set config file if specified
	if configFile := viper.GetString("config"); configFile != "" {
		viper.SetConfigFile(configFile)
		if err := viper.ReadInConfig(); err != nil {
			return fmt.Errorf("failed to read config file: %w", err)
		}
	}

	// PCFG_OVERFLOW_MAX_SIZE sets overflow.max_size
	viper.SetEnvPrefix("PCFG")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	viper.AutomaticEnv()

	return nil
}

// SetupLogging builds the logger from the log_* settings
func SetupLogging() (*logging.Logger, error) {
	cfg := logging.DefaultLoggerConfig()
	if level := viper.GetString("log_level"); level != "" {
		cfg.Level = logging.LogLevel(level)
	}
	if format := viper.GetString("log_format"); format != "" {
		cfg.Format = logging.LogFormat(format)
	}
	cfg.OutputDir = viper.GetString("log_dir")
	if maxFiles := viper.GetInt("log_max_files"); maxFiles > 0 {
		cfg.MaxFiles = maxFiles
	}

	logger, err := logging.NewLogger(cfg, os.Stderr)
	if err != nil {
		return nil, fmt.Errorf("invalid logging configuration: %w", err)
	}
	return logger, nil
}

// setup runs LoadConfig then SetupLogging
func setup() (*logging.Logger, error) {
	if err := LoadConfig(); err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	return SetupLogging()
}

// openSessions opens the session database inside dir, creating dir when needed
func openSessions(dir string) (*session.Store, error) {
	if dir == "" {
		return nil, fmt.Errorf("session directory is not set")
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create session directory: %w", err)
	}
	return session.Open(filepath.Join(dir, session.DatabaseFile))
}
