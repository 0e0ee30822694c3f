package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"

	"k3smcp/pkg/logging"
)

// For mocking in tests
var osUserHomeDir = os.UserHomeDir
var osGetwd = os.Getwd
var environ = os.Environ

const (
	userConfigDir    = ".config/k3smcp"
	projectConfigDir = ".k3smcp"
	configFileName   = "config.yaml"
	envPrefix        = "K3SMCP_"
)

// LoadConfig loads the k3smcp configuration by layering default, user,
// project and explicit file settings, then environment variables.
// explicitPath may be empty; if set, the file must exist.
func LoadConfig(explicitPath string) (Config, error) {
	// 1. Start with the default configuration
	config := GetDefaultConfig()

	// 2. User-specific configuration
	userConfigPath, err := getUserConfigPath()
	if err != nil {
		logging.Warn("Config", "Could not determine user config path: %v", err)
	} else if err := applyFileIfExists(&config, userConfigPath); err != nil {
		return Config{}, fmt.Errorf("error loading user config from %s: %w", userConfigPath, err)
	}

	// 3. Project-specific configuration
	projectConfigPath, err := getProjectConfigPath()
	if err != nil {
		logging.Warn("Config", "Could not determine project config path: %v", err)
	} else if err := applyFileIfExists(&config, projectConfigPath); err != nil {
		return Config{}, fmt.Errorf("error loading project config from %s: %w", projectConfigPath, err)
	}

	// 4. Explicit --config file
	if explicitPath != "" {
		if err := applyFile(&config, explicitPath); err != nil {
			return Config{}, fmt.Errorf("error loading config from %s: %w", explicitPath, err)
		}
	}

	// 5. Environment
	if err := applyEnv(&config); err != nil {
		return Config{}, fmt.Errorf("error reading environment: %w", err)
	}

	return config, nil
}

var getUserConfigPath = func() (string, error) {
	homeDir, err := osUserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(homeDir, userConfigDir, configFileName), nil
}

var getProjectConfigPath = func() (string, error) {
	wd, err := osGetwd()
	if err != nil {
		return "", err
	}
	return filepath.Join(wd, projectConfigDir, configFileName), nil
}

func applyFileIfExists(config *Config, path string) error {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}
	logging.Debug("Config", "Applying config file %s", path)
	return applyFile(config, path)
}

// applyFile decodes a YAML file on top of config. Keys absent from the file
// leave the existing values untouched, so an explicit `readOnly: false`
// overrides an earlier `true` while an omitted key does not.
func applyFile(config *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := yaml.Unmarshal(data, config); err != nil {
		return err
	}
	return nil
}

func applyEnv(config *Config) error {
	return env.ParseWithOptions(config, env.Options{
		Prefix:      envPrefix,
		Environment: env.ToMap(environ()),
	})
}
