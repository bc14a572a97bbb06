package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "casparian.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	t.Parallel()

	path := writeConfig(t, `
state:
  path: /var/lib/casparian/state.db
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.State.Path != "/var/lib/casparian/state.db" {
		t.Fatalf("state path: %q", cfg.State.Path)
	}
	if cfg.Coordinator.Listen != "127.0.0.1:8311" {
		t.Fatalf("default listen: %q", cfg.Coordinator.Listen)
	}
	if cfg.Worker.HeartbeatInterval != 5*time.Second {
		t.Fatalf("default heartbeat: %v", cfg.Worker.HeartbeatInterval)
	}
	if len(cfg.Worker.Interpreter) == 0 {
		t.Fatalf("default interpreter empty")
	}
}

func TestLoadOverridesDefaults(t *testing.T) {
	t.Parallel()

	path := writeConfig(t, `
service:
  log_level: debug
state:
  path: ./state.db
coordinator:
  listen: 0.0.0.0:9000
  stale_threshold: 1m
  sweep_interval: 20s
worker:
  coordinator: http://coord.internal:9000
  interpreter: ["python3", "-u"]
  heartbeat_interval: 10s
  quarantine_dir: /var/lib/casparian/quarantine
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Coordinator.Listen != "0.0.0.0:9000" || cfg.Coordinator.StaleThreshold != time.Minute {
		t.Fatalf("coordinator: %#v", cfg.Coordinator)
	}
	if len(cfg.Worker.Interpreter) != 2 || cfg.Worker.Interpreter[1] != "-u" {
		t.Fatalf("interpreter: %#v", cfg.Worker.Interpreter)
	}
}

func TestLoadExpandsEnvVars(t *testing.T) {
	t.Setenv("CASPARIAN_TEST_STATE", "/tmp/casparian-test.db")

	path := writeConfig(t, `
state:
  path: ${CASPARIAN_TEST_STATE}
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.State.Path != "/tmp/casparian-test.db" {
		t.Fatalf("env var not expanded: %q", cfg.State.Path)
	}
}

func TestLoadMissingFile(t *testing.T) {
	t.Parallel()

	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if err == nil || !strings.Contains(err.Error(), "not found") {
		t.Fatalf("missing file: %v", err)
	}
}

func TestValidateStaleThresholdVersusHeartbeat(t *testing.T) {
	t.Parallel()

	cfg := Defaults()
	cfg.Coordinator.StaleThreshold = 3 * time.Second
	cfg.Worker.HeartbeatInterval = 5 * time.Second

	err := Validate(cfg)
	if err == nil || !strings.Contains(err.Error(), "stale_threshold") {
		t.Fatalf("sweep-faster-than-heartbeat accepted: %v", err)
	}
}

func TestValidateBackoffOrdering(t *testing.T) {
	t.Parallel()

	cfg := Defaults()
	cfg.Worker.ClaimBackoffMin = 20 * time.Second
	cfg.Worker.ClaimBackoffMax = time.Second

	err := Validate(cfg)
	if err == nil || !strings.Contains(err.Error(), "claim_backoff") {
		t.Fatalf("inverted backoff accepted: %v", err)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	t.Parallel()

	cfg := Defaults()
	cfg.Service.LogLevel = "verbose"
	if err := Validate(cfg); err == nil {
		t.Fatalf("bad log level accepted")
	}

	cfg = Defaults()
	cfg.Worker.Coordinator = "not a url"
	if err := Validate(cfg); err == nil {
		t.Fatalf("bad coordinator url accepted")
	}

	cfg = Defaults()
	cfg.State.Path = ""
	if err := Validate(cfg); err == nil {
		t.Fatalf("empty state path accepted")
	}
}
