package config

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Load loads, validates, and returns ready-to-use configuration.
// Steps performed:
//  1. Start from documented defaults.
//  2. If forge.yaml exists in configDir, expand env vars and overlay it.
//  3. Validate the merged result.
func Load(_ context.Context, configDir string) (*Config, error) {
	log := slog.With("config_dir", configDir)
	log.Info("loading configuration")

	cfg := defaults()
	cfg.configDir = configDir

	path := filepath.Join(configDir, "forge.yaml")
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		data = ExpandEnv(data)
		if yerr := yaml.Unmarshal(data, cfg); yerr != nil {
			return nil, NewLoadError("forge.yaml", fmt.Errorf("%w: %v", ErrInvalidYAML, yerr))
		}
	case os.IsNotExist(err):
		log.Info("no forge.yaml found, using defaults")
	default:
		return nil, NewLoadError("forge.yaml", err)
	}

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	log.Info("configuration loaded",
		"session_cap_usd", cfg.Budget.SessionCapUSD,
		"max_fix_attempts", cfg.Pipeline.MaxFixAttempts,
		"critic_policy", cfg.Pipeline.CriticPolicy)

	return cfg, nil
}
