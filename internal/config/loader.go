package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"podauth/pkg/logging"

	"github.com/joeshaw/envdecode"
	"gopkg.in/yaml.v3"
)

const (
	userConfigDir  = ".config/podauth"
	configFileName = "config.yaml"
	stateFileName  = "state.yaml"
)

var osUserHomeDir = os.UserHomeDir

// GetUserConfigDir returns ~/.config/podauth.
func GetUserConfigDir() (string, error) {
	homeDir, err := osUserHomeDir()
	if err != nil {
		return "", fmt.Errorf("could not determine user config directory: %w", err)
	}
	return filepath.Join(homeDir, userConfigDir), nil
}

// LoadConfig loads config.yaml from configPath, applies environment
// overrides and validates the result. An empty configPath means the user
// config directory.
func LoadConfig(configPath string) (Config, error) {
	if configPath == "" {
		dir, err := GetUserConfigDir()
		if err != nil {
			return Config{}, err
		}
		configPath = dir
	}

	config := GetDefaultConfig()

	configFilePath := filepath.Join(configPath, configFileName)
	data, err := os.ReadFile(configFilePath)
	switch {
	case errors.Is(err, os.ErrNotExist):
		logging.Debug("ConfigLoader", "No config.yaml found at %s, using defaults", configFilePath)
	case err != nil:
		return Config{}, fmt.Errorf("error reading config from %s: %w", configFilePath, err)
	default:
		if err := yaml.Unmarshal(data, &config); err != nil {
			return Config{}, fmt.Errorf("error loading config from %s: %w", configFilePath, err)
		}
		logging.Debug("ConfigLoader", "Loaded configuration from %s", configFilePath)
	}

	if err := applyEnv(&config); err != nil {
		return Config{}, err
	}

	if config.StatePath == "" {
		config.StatePath = filepath.Join(configPath, stateFileName)
	}

	if err := config.Validate(); err != nil {
		return Config{}, err
	}
	return config, nil
}

// applyEnv overrides config fields whose environment variable is set.
func applyEnv(config *Config) error {
	err := envdecode.Decode(config)
	if err != nil && !errors.Is(err, envdecode.ErrNoTargetFieldsAreSet) {
		return fmt.Errorf("invalid environment override: %w", err)
	}
	return nil
}
