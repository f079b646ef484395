package model

type Config struct {
	Project ProjectConfig `yaml:"project"`
	Clipkit ClipkitConfig `yaml:"clipkit"`
	Staging StagingConfig `yaml:"staging"`
	Watcher WatcherConfig `yaml:"watcher"`
	Limits  LimitsConfig  `yaml:"limits"`
	Daemon  DaemonConfig  `yaml:"daemon"`
	Logging LoggingConfig `yaml:"logging"`
	Notify  NotifyConfig  `yaml:"notify"`
}

type ProjectConfig struct {
	Name        string `yaml:"name"`
	Description string `yaml:"description"`
}

type ClipkitConfig struct {
	// Binary is the executable name or path; looked up on PATH when bare.
	Binary string `yaml:"binary"`
	// TimeoutSec bounds one trim invocation. 0 disables the timeout.
	TimeoutSec int `yaml:"timeout_sec"`
}

type StagingConfig struct {
	// StoreRoot is the directory standing in for the platform object store
	// that latch:/// URIs resolve against.
	StoreRoot string `yaml:"store_root"`
}

type WatcherConfig struct {
	DebounceSec     float64 `yaml:"debounce_sec"`
	ScanIntervalSec int     `yaml:"scan_interval_sec"`
}

type LimitsConfig struct {
	MaxYAMLFileBytes int `yaml:"max_yaml_file_bytes"`
}

type DaemonConfig struct {
	ShutdownTimeoutSec int `yaml:"shutdown_timeout_sec"`
}

type LoggingConfig struct {
	Level string `yaml:"level"`
}

type NotifyConfig struct {
	// Enabled raises a desktop notification when a trim finishes.
	Enabled bool `yaml:"enabled"`
}

// DefaultConfig returns the configuration used when no config.yaml overrides
// are present.
func DefaultConfig() Config {
	return ApplyDefaults(Config{})
}

// ApplyDefaults fills zero-valued fields with their defaults.
func ApplyDefaults(cfg Config) Config {
	if cfg.Clipkit.Binary == "" {
		cfg.Clipkit.Binary = "clipkit"
	}
	if cfg.Clipkit.TimeoutSec < 0 {
		cfg.Clipkit.TimeoutSec = 0
	}
	if cfg.Staging.StoreRoot == "" {
		cfg.Staging.StoreRoot = "store"
	}
	if cfg.Watcher.DebounceSec <= 0 {
		cfg.Watcher.DebounceSec = 0.5
	}
	if cfg.Watcher.ScanIntervalSec <= 0 {
		cfg.Watcher.ScanIntervalSec = 10
	}
	if cfg.Limits.MaxYAMLFileBytes <= 0 {
		cfg.Limits.MaxYAMLFileBytes = 5 * 1024 * 1024
	}
	if cfg.Daemon.ShutdownTimeoutSec <= 0 {
		cfg.Daemon.ShutdownTimeoutSec = 30
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	return cfg
}
