package sandbox

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestNew(t *testing.T) {
	t.Run("empty config", func(t *testing.T) {
		cfg := Config{}
		if !cfg.Empty() {
			t.Error("zero Config should be empty")
		}
		s, err := New(cfg)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(s.allowedPaths) != 0 || s.maxFileSize != 0 || len(s.allowedCommands) != 0 {
			t.Errorf("expected no restrictions, got %+v", s)
		}
	})

	t.Run("with file size", func(t *testing.T) {
		s, err := New(Config{MaxFileSize: "10MB"})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if s.MaxFileSize() != 10*1024*1024 {
			t.Errorf("expected 10MB = %d bytes, got %d", 10*1024*1024, s.MaxFileSize())
		}
	})

	t.Run("invalid file size", func(t *testing.T) {
		if _, err := New(Config{MaxFileSize: "notasize"}); err == nil {
			t.Fatal("expected error for invalid file size")
		}
	})

	t.Run("blank command entries dropped", func(t *testing.T) {
		s, err := New(Config{AllowedCommands: []string{" ", "ls"}})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(s.allowedCommands) != 1 {
			t.Errorf("expected 1 allowed command, got %v", s.allowedCommands)
		}
	})
}

func TestNilSandboxAllowsEverything(t *testing.T) {
	var s *Sandbox
	if err := s.CheckPath("/etc/shadow"); err != nil {
		t.Errorf("CheckPath: %v", err)
	}
	if err := s.CheckFileSize(1 << 40); err != nil {
		t.Errorf("CheckFileSize: %v", err)
	}
	if err := s.CheckCommand("rm -rf /tmp/x"); err != nil {
		t.Errorf("CheckCommand: %v", err)
	}
	if s.MaxFileSize() != 0 || s.AllowedPaths() != nil || s.DeniedPaths() != nil {
		t.Error("nil sandbox accessors should return zero values")
	}
}

func TestCheckPath(t *testing.T) {
	tmpDir := t.TempDir()
	allowedDir := filepath.Join(tmpDir, "allowed")
	deniedDir := filepath.Join(tmpDir, "denied")
	otherDir := filepath.Join(tmpDir, "other")
	os.MkdirAll(allowedDir, 0755)
	os.MkdirAll(deniedDir, 0755)
	os.MkdirAll(otherDir, 0755)

	s, err := New(Config{
		AllowedPaths: []string{allowedDir, deniedDir},
		DeniedPaths:  []string{deniedDir},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	tests := []struct {
		name    string
		path    string
		wantErr bool
	}{
		{"allowed dir itself", allowedDir, false},
		{"file in allowed dir", filepath.Join(allowedDir, "file.txt"), false},
		{"nested in allowed dir", filepath.Join(allowedDir, "sub", "file.txt"), false},
		{"sibling with shared prefix", allowedDir + "-evil", true},
		{"escape with dot-dot", filepath.Join(allowedDir, "..", "other", "x"), true},
		{"denied dir itself", deniedDir, true},
		{"file in denied dir", filepath.Join(deniedDir, "secret.txt"), true},
		{"path not in allowed list", otherDir, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := s.CheckPath(tt.path)
			if (err != nil) != tt.wantErr {
				t.Errorf("CheckPath(%q) error = %v, wantErr %v", tt.path, err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, ErrDenied) {
				t.Errorf("expected ErrDenied, got %v", err)
			}
		})
	}
}

func TestCheckPath_NoAllowedPaths(t *testing.T) {
	tmpDir := t.TempDir()
	deniedDir := filepath.Join(tmpDir, "denied")
	os.MkdirAll(deniedDir, 0755)

	s, err := New(Config{DeniedPaths: []string{deniedDir}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if err := s.CheckPath(tmpDir); err != nil {
		t.Errorf("expected no error for non-denied path, got: %v", err)
	}
	if err := s.CheckPath(deniedDir); err == nil {
		t.Error("expected error for denied path")
	}
}

func TestCheckFileSize(t *testing.T) {
	s, err := New(Config{MaxFileSize: "1KB"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	tests := []struct {
		name    string
		size    int64
		wantErr bool
	}{
		{"zero bytes", 0, false},
		{"within limit", 512, false},
		{"exactly at limit", 1024, false},
		{"over limit", 1025, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := s.CheckFileSize(tt.size)
			if (err != nil) != tt.wantErr {
				t.Errorf("CheckFileSize(%d) error = %v, wantErr %v", tt.size, err, tt.wantErr)
			}
		})
	}
}

func TestCheckCommand(t *testing.T) {
	s, err := New(Config{
		AllowedCommands: []string{"ls", "git status", "echo"},
		DeniedCommands:  []string{"rm"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	tests := []struct {
		line    string
		wantErr bool
	}{
		{"ls", false},
		{"ls -la /tmp", false},
		{"/bin/ls -la", false},
		{"git status -s", false},
		{"git push", true},
		{"echo hi; rm -rf /", true},
		{"echo $(whoami)", true},
		{"ls | wc -l", true},
		{"rm file", true},
		{"cat /etc/passwd", true},
		{"   ", true},
	}

	for _, tt := range tests {
		t.Run(tt.line, func(t *testing.T) {
			err := s.CheckCommand(tt.line)
			if (err != nil) != tt.wantErr {
				t.Errorf("CheckCommand(%q) error = %v, wantErr %v", tt.line, err, tt.wantErr)
			}
		})
	}
}

func TestCheckCommand_DenyOnly(t *testing.T) {
	s, err := New(Config{DeniedCommands: []string{"shutdown"}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := s.CheckCommand("ls | wc -l"); err != nil {
		t.Errorf("pipelines are fine without an allow list: %v", err)
	}
	if err := s.CheckCommand("shutdown -h now"); err == nil {
		t.Error("expected denied command to be rejected")
	}
}

func TestParseFileSize(t *testing.T) {
	tests := []struct {
		input    string
		expected int64
		wantErr  bool
	}{
		{"100", 100, false},
		{"100B", 100, false},
		{"1KB", 1024, false},
		{"1MB", 1024 * 1024, false},
		{"1GB", 1024 * 1024 * 1024, false},
		{"0.5MB", 512 * 1024, false},
		{"  5MB  ", 5 * 1024 * 1024, false},
		{"1mb", 1024 * 1024, false},
		{"", 0, true},
		{"abc", 0, true},
		{"MB", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			result, err := parseFileSize(tt.input)
			if (err != nil) != tt.wantErr {
				t.Errorf("parseFileSize(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
			if err == nil && result != tt.expected {
				t.Errorf("parseFileSize(%q) = %d, want %d", tt.input, result, tt.expected)
			}
		})
	}
}

func TestFormatFileSize(t *testing.T) {
	tests := map[int64]string{
		10:      "10B",
		2048:    "2.0KB",
		5 << 20: "5.0MB",
		3 << 30: "3.0GB",
	}
	for in, want := range tests {
		if got := formatFileSize(in); got != want {
			t.Errorf("formatFileSize(%d) = %q, want %q", in, got, want)
		}
	}
}
