package config

import "time"

// Config represents the complete CasparianFlow configuration. The coordinator
// and worker sections are independent; a host running only a worker can leave
// the coordinator section at its defaults.
type Config struct {
	Service     ServiceConfig     `yaml:"service"`
	State       StateConfig       `yaml:"state"`
	Coordinator CoordinatorConfig `yaml:"coordinator"`
	Worker      WorkerConfig      `yaml:"worker"`
}

// ServiceConfig defines shared service settings.
type ServiceConfig struct {
	Name      string `yaml:"name"`
	LogLevel  string `yaml:"log_level" validate:"omitempty,oneof=debug info warn error DEBUG INFO WARN ERROR"`
	LogFormat string `yaml:"log_format"`
}

// StateConfig defines state storage settings.
type StateConfig struct {
	Path string `yaml:"path" validate:"required"`
}

// CoordinatorConfig defines coordinator daemon settings.
type CoordinatorConfig struct {
	Listen         string        `yaml:"listen" validate:"required,hostname_port"`
	StaleThreshold time.Duration `yaml:"stale_threshold" validate:"required"`
	SweepInterval  time.Duration `yaml:"sweep_interval" validate:"required"`
	QuarantineDir  string        `yaml:"quarantine_dir"`
	// CheckCommand validates plugin source on `plugin validate`; the source
	// file path is appended (e.g. a compile-only interpreter invocation).
	CheckCommand []string `yaml:"check_command"`
}

// WorkerConfig defines worker daemon settings.
type WorkerConfig struct {
	Coordinator       string        `yaml:"coordinator" validate:"required,url"`
	Host              string        `yaml:"host,omitempty"`
	Interpreter       []string      `yaml:"interpreter" validate:"required,min=1"`
	EnvSignatureFile  string        `yaml:"env_signature_file"`
	WorkDir           string        `yaml:"work_dir"`
	QuarantineDir     string        `yaml:"quarantine_dir" validate:"required"`
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval" validate:"required"`
	ClaimBackoffMin   time.Duration `yaml:"claim_backoff_min"`
	ClaimBackoffMax   time.Duration `yaml:"claim_backoff_max"`
	JobTimeout        time.Duration `yaml:"job_timeout"`
}

// Defaults returns a Config with working single-host defaults.
func Defaults() *Config {
	return &Config{
		Service: ServiceConfig{
			Name:      "casparianflow",
			LogLevel:  "info",
			LogFormat: "json",
		},
		State: StateConfig{
			Path: "./data/casparian.db",
		},
		Coordinator: CoordinatorConfig{
			Listen:         "127.0.0.1:8311",
			StaleThreshold: 30 * time.Second,
			SweepInterval:  10 * time.Second,
			QuarantineDir:  "./data/quarantine",
			CheckCommand:   []string{"python3", "-m", "py_compile"},
		},
		Worker: WorkerConfig{
			Coordinator:       "http://127.0.0.1:8311",
			Interpreter:       []string{"python3"},
			WorkDir:           "",
			QuarantineDir:     "./data/quarantine",
			HeartbeatInterval: 5 * time.Second,
			ClaimBackoffMin:   500 * time.Millisecond,
			ClaimBackoffMax:   10 * time.Second,
			JobTimeout:        10 * time.Minute,
		},
	}
}
