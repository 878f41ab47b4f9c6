package config

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultPath is where the runtime configuration is looked up.
const DefaultPath = ".nexus/config.yaml"

// Config represents the runtime configuration from .nexus/config.yaml.
type Config struct {
	Mode      string          `yaml:"mode"` // "interactive" or "agent"
	LogLevel  string          `yaml:"log_level"`
	LogFile   string          `yaml:"log_file"` // "" or "stderr" logs to stderr
	Model     ModelConfig     `yaml:"model"`
	Dispatch  DispatchConfig  `yaml:"dispatch"`
	Sandbox   SandboxConfig   `yaml:"sandbox"`
	Approval  ApprovalConfig  `yaml:"approval"`
	History   HistoryConfig   `yaml:"history"`
	Inspector InspectorConfig `yaml:"inspector"`
	Monitor   MonitorConfig   `yaml:"monitor"`
}

// ModelConfig points at the model server.
type ModelConfig struct {
	Endpoint string        `yaml:"endpoint"`
	Name     string        `yaml:"name"`
	Timeout  time.Duration `yaml:"timeout"`
}

// DispatchConfig controls how actions execute.
type DispatchConfig struct {
	CommandTimeout time.Duration `yaml:"command_timeout"`
	Workdir        string        `yaml:"workdir"` // "" is the process working directory
	Shell          string        `yaml:"shell"`   // "" is sh, or cmd on Windows
}

// SandboxConfig defines filesystem and command restrictions. Empty
// lists impose no restriction.
type SandboxConfig struct {
	AllowedPaths    []string `yaml:"allowed_paths"`
	DeniedPaths     []string `yaml:"denied_paths"`
	MaxFileSize     string   `yaml:"max_file_size"`
	AllowedCommands []string `yaml:"allowed_commands"`
	DeniedCommands  []string `yaml:"denied_commands"`
}

// ApprovalConfig defines which actions need confirmation.
type ApprovalConfig struct {
	Mode string `yaml:"mode"` // "never", "destructive", "always"
}

// HistoryConfig defines exchange history settings.
type HistoryConfig struct {
	MaxEntries int    `yaml:"max_entries"`
	Persist    bool   `yaml:"persist"`
	Path       string `yaml:"path"`
}

// InspectorConfig defines the HTTP inspector settings.
type InspectorConfig struct {
	Enabled bool   `yaml:"enabled"`
	Host    string `yaml:"host"`
	Port    int    `yaml:"port"`
	// AllowDispatch mounts POST /api/dispatch. Keep Host on loopback
	// when it is set.
	AllowDispatch bool `yaml:"allow_dispatch"`
}

// MonitorConfig defines the background resource monitor.
type MonitorConfig struct {
	Interval   time.Duration `yaml:"interval"`
	CPUHigh    float64       `yaml:"cpu_high"`
	MemoryHigh float64       `yaml:"memory_high"`
	DiskHigh   float64       `yaml:"disk_high"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Mode:     "interactive",
		LogLevel: "info",
		LogFile:  "nexus.log",
		Model: ModelConfig{
			Endpoint: "http://localhost:11434",
			Name:     "llama2",
			Timeout:  120 * time.Second,
		},
		Dispatch: DispatchConfig{
			CommandTimeout: 60 * time.Second,
		},
		Approval: ApprovalConfig{
			Mode: "never",
		},
		History: HistoryConfig{
			MaxEntries: 1000,
			Persist:    true,
			Path:       ".nexus/history.db",
		},
		Inspector: InspectorConfig{
			Host: "127.0.0.1",
			Port: 4200,
		},
		Monitor: MonitorConfig{
			Interval:   2 * time.Second,
			CPUHigh:    80,
			MemoryHigh: 80,
			DiskHigh:   85,
		},
	}
}

// LoadConfig reads and parses a runtime config YAML file, interpolating
// ${VAR} references and applying environment overrides. Returns the
// default config if the file doesn't exist.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return cfg, fmt.Errorf("read config %s: %w", path, err)
	}
	if err == nil {
		if err := yaml.Unmarshal([]byte(interpolateEnvVars(string(data))), &cfg); err != nil {
			return cfg, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	applyEnv(&cfg)
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// applyEnv lets NEXUS_* variables override file settings.
func applyEnv(cfg *Config) {
	if v := os.Getenv("NEXUS_MODEL"); v != "" {
		cfg.Model.Name = v
	}
	if v := os.Getenv("NEXUS_ENDPOINT"); v != "" {
		cfg.Model.Endpoint = v
	}
	if v := os.Getenv("NEXUS_MODE"); v != "" {
		cfg.Mode = v
	}
	if v := os.Getenv("NEXUS_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
}

// Validate reports every invalid setting at once.
func (c Config) Validate() error {
	var errs []error
	switch c.Mode {
	case "interactive", "agent":
	default:
		errs = append(errs, fmt.Errorf("mode %q: want interactive or agent", c.Mode))
	}
	switch strings.ToLower(c.LogLevel) {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("log_level %q: want debug, info, warn or error", c.LogLevel))
	}
	switch strings.ToLower(c.Approval.Mode) {
	case "", "never", "destructive", "always":
	default:
		errs = append(errs, fmt.Errorf("approval.mode %q: want never, destructive or always", c.Approval.Mode))
	}
	if c.Model.Endpoint == "" {
		errs = append(errs, errors.New("model.endpoint is empty"))
	}
	if c.Model.Name == "" {
		errs = append(errs, errors.New("model.name is empty"))
	}
	if c.Dispatch.CommandTimeout < 0 {
		errs = append(errs, fmt.Errorf("dispatch.command_timeout %s is negative", c.Dispatch.CommandTimeout))
	}
	if c.History.MaxEntries < 0 {
		errs = append(errs, fmt.Errorf("history.max_entries %d is negative", c.History.MaxEntries))
	}
	if c.Inspector.Port < 0 || c.Inspector.Port > 65535 {
		errs = append(errs, fmt.Errorf("inspector.port %d out of range", c.Inspector.Port))
	}
	if c.Monitor.Interval < 0 {
		errs = append(errs, fmt.Errorf("monitor.interval %s is negative", c.Monitor.Interval))
	}
	return errors.Join(errs...)
}

// envVarPattern matches ${VAR_NAME} patterns.
var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// interpolateEnvVars replaces ${VAR_NAME} patterns with environment variable values.
func interpolateEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		varName := strings.TrimPrefix(strings.TrimSuffix(match, "}"), "${")
		if val, ok := os.LookupEnv(varName); ok {
			return val
		}
		return match // Leave unresolved if not set.
	})
}
