// Package config loads and validates YAML configuration for the coordinator
// and worker daemons.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// Load reads a config file, expands ${ENV_VAR} references, fills defaults,
// and validates the result.
func Load(configPath string) (*Config, error) {
	absPath, err := filepath.Abs(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve config path %q: %w", configPath, err)
	}

	data, err := os.ReadFile(absPath)
	if err != nil {
		return nil, fmt.Errorf("config file not found: %s\n"+
			"Hint: Check the path or run with --config flag", absPath)
	}

	expanded := expandEnvVars(string(data))

	cfg := Defaults()
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", absPath, err)
	}

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Validate checks structural constraints and cross-field invariants.
func Validate(cfg *Config) error {
	v := validator.New()
	if err := v.Struct(cfg); err != nil {
		return err
	}

	// A worker that heartbeats slower than the coordinator's staleness cutoff
	// would be swept while healthy.
	if cfg.Coordinator.StaleThreshold <= cfg.Worker.HeartbeatInterval {
		return fmt.Errorf("coordinator.stale_threshold (%s) must exceed worker.heartbeat_interval (%s)",
			cfg.Coordinator.StaleThreshold, cfg.Worker.HeartbeatInterval)
	}
	if cfg.Worker.ClaimBackoffMin > 0 && cfg.Worker.ClaimBackoffMax > 0 &&
		cfg.Worker.ClaimBackoffMin > cfg.Worker.ClaimBackoffMax {
		return fmt.Errorf("worker.claim_backoff_min (%s) must not exceed worker.claim_backoff_max (%s)",
			cfg.Worker.ClaimBackoffMin, cfg.Worker.ClaimBackoffMax)
	}
	return nil
}

// expandEnvVars replaces ${VAR} with the environment value. Unset variables
// expand to the empty string.
func expandEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		name := envVarPattern.FindStringSubmatch(match)[1]
		return os.Getenv(name)
	})
}
