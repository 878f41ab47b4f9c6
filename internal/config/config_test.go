package config

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.Mode != "interactive" {
		t.Errorf("Mode = %q, want %q", cfg.Mode, "interactive")
	}
	if cfg.Approval.Mode != "never" {
		t.Errorf("Approval.Mode = %q, want %q", cfg.Approval.Mode, "never")
	}
	if cfg.Dispatch.CommandTimeout != 60*time.Second {
		t.Errorf("Dispatch.CommandTimeout = %s, want 60s", cfg.Dispatch.CommandTimeout)
	}
	if cfg.Model.Endpoint != "http://localhost:11434" {
		t.Errorf("Model.Endpoint = %q", cfg.Model.Endpoint)
	}
	if cfg.Inspector.Host != "127.0.0.1" {
		t.Errorf("Inspector.Host = %q, want loopback", cfg.Inspector.Host)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config should be valid: %v", err)
	}
}

func TestLoadConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")

	yaml := `
mode: agent
log_level: debug
model:
  name: mistral
  timeout: 30s
dispatch:
  command_timeout: 5s
  workdir: /tmp/work
approval:
  mode: destructive
sandbox:
  allowed_commands: [ls, cat]
  max_file_size: 1MB
monitor:
  interval: 500ms
`
	if err := os.WriteFile(path, []byte(yaml), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}

	if cfg.Mode != "agent" {
		t.Errorf("Mode = %q, want %q", cfg.Mode, "agent")
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("LogLevel = %q, want %q", cfg.LogLevel, "debug")
	}
	if cfg.Model.Name != "mistral" {
		t.Errorf("Model.Name = %q, want mistral", cfg.Model.Name)
	}
	if cfg.Model.Endpoint != "http://localhost:11434" {
		t.Errorf("Model.Endpoint should keep its default, got %q", cfg.Model.Endpoint)
	}
	if cfg.Model.Timeout != 30*time.Second {
		t.Errorf("Model.Timeout = %s, want 30s", cfg.Model.Timeout)
	}
	if cfg.Dispatch.CommandTimeout != 5*time.Second {
		t.Errorf("Dispatch.CommandTimeout = %s, want 5s", cfg.Dispatch.CommandTimeout)
	}
	if cfg.Approval.Mode != "destructive" {
		t.Errorf("Approval.Mode = %q, want destructive", cfg.Approval.Mode)
	}
	if len(cfg.Sandbox.AllowedCommands) != 2 {
		t.Errorf("AllowedCommands = %v", cfg.Sandbox.AllowedCommands)
	}
	if cfg.Monitor.Interval != 500*time.Millisecond {
		t.Errorf("Monitor.Interval = %s, want 500ms", cfg.Monitor.Interval)
	}
	if cfg.Monitor.DiskHigh != 85 {
		t.Errorf("Monitor.DiskHigh should keep its default, got %v", cfg.Monitor.DiskHigh)
	}
}

func TestLoadConfigMissing(t *testing.T) {
	cfg, err := LoadConfig("/nonexistent/config.yaml")
	if err != nil {
		t.Fatalf("expected no error for missing file, got: %v", err)
	}
	if cfg.Mode != "interactive" {
		t.Errorf("expected default mode, got %q", cfg.Mode)
	}
}

func TestLoadConfigInvalid(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte("mode: [unclosed"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadConfig(path); err == nil {
		t.Error("expected parse error")
	}
}

func TestValidate(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Mode = "batch"
	cfg.Approval.Mode = "sometimes"
	cfg.Inspector.Port = 70000
	cfg.Dispatch.CommandTimeout = -time.Second

	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected validation error")
	}
	for _, want := range []string{"mode", "approval.mode", "inspector.port", "command_timeout"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error %q should mention %s", err, want)
		}
	}
}

func TestInterpolation(t *testing.T) {
	t.Setenv("TEST_NEXUS_HOST", "gpu-box")

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	yaml := `
model:
  endpoint: http://${TEST_NEXUS_HOST}:11434
  name: ${UNSET_NEXUS_MODEL_VAR}
`
	if err := os.WriteFile(path, []byte(yaml), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.Model.Endpoint != "http://gpu-box:11434" {
		t.Errorf("Endpoint = %q, want interpolated", cfg.Model.Endpoint)
	}
	if cfg.Model.Name != "${UNSET_NEXUS_MODEL_VAR}" {
		t.Errorf("Name = %q, want unresolved var", cfg.Model.Name)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("NEXUS_MODEL", "codellama")
	t.Setenv("NEXUS_ENDPOINT", "http://remote:11434")
	t.Setenv("NEXUS_MODE", "agent")

	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.Model.Name != "codellama" {
		t.Errorf("Model.Name = %q, want codellama", cfg.Model.Name)
	}
	if cfg.Model.Endpoint != "http://remote:11434" {
		t.Errorf("Model.Endpoint = %q", cfg.Model.Endpoint)
	}
	if cfg.Mode != "agent" {
		t.Errorf("Mode = %q, want agent", cfg.Mode)
	}
}

func TestWatch(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte("model:\n  name: first\n"), 0644); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	changes := make(chan Config, 4)
	done := make(chan error, 1)
	go func() {
		done <- Watch(ctx, path, func(cfg Config, err error) {
			if err == nil {
				changes <- cfg
			}
		})
	}()

	// Give the watcher time to register before writing.
	time.Sleep(100 * time.Millisecond)
	if err := os.WriteFile(path, []byte("model:\n  name: second\n"), 0644); err != nil {
		t.Fatal(err)
	}

	select {
	case cfg := <-changes:
		if cfg.Model.Name != "second" {
			t.Errorf("reloaded Model.Name = %q, want second", cfg.Model.Name)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("no reload observed")
	}

	cancel()
	if err := <-done; err != nil {
		t.Errorf("Watch returned %v", err)
	}
}
