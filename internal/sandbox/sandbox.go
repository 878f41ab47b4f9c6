package sandbox

import (
	"errors"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
)

// ErrDenied is wrapped by every rejection the sandbox produces.
var ErrDenied = errors.New("sandbox: denied")

// Sandbox restricts which paths file actions may touch, how large files
// may be, and which command lines the command action may run.
//
// A nil *Sandbox allows everything. That is the default: model-supplied
// paths and commands run with the privileges of the nexus process.
type Sandbox struct {
	allowedPaths    []string
	deniedPaths     []string
	maxFileSize     int64 // bytes, 0 means unlimited
	allowedCommands []string
	deniedCommands  []string
}

// Config holds the sandbox configuration.
type Config struct {
	AllowedPaths    []string
	DeniedPaths     []string
	MaxFileSize     string // e.g. "10MB", "1GB", "500KB"
	AllowedCommands []string
	DeniedCommands  []string
}

// Empty reports whether the configuration imposes no restriction.
func (c Config) Empty() bool {
	return len(c.AllowedPaths) == 0 && len(c.DeniedPaths) == 0 && c.MaxFileSize == "" &&
		len(c.AllowedCommands) == 0 && len(c.DeniedCommands) == 0
}

// New creates a Sandbox from the given configuration.
// Allowed and denied paths are resolved to absolute paths.
func New(cfg Config) (*Sandbox, error) {
	s := &Sandbox{}

	for _, p := range cfg.AllowedPaths {
		abs, err := filepath.Abs(p)
		if err != nil {
			return nil, fmt.Errorf("sandbox: resolve allowed path %q: %w", p, err)
		}
		s.allowedPaths = append(s.allowedPaths, abs)
	}

	for _, p := range cfg.DeniedPaths {
		abs, err := filepath.Abs(p)
		if err != nil {
			return nil, fmt.Errorf("sandbox: resolve denied path %q: %w", p, err)
		}
		s.deniedPaths = append(s.deniedPaths, abs)
	}

	if cfg.MaxFileSize != "" {
		size, err := parseFileSize(cfg.MaxFileSize)
		if err != nil {
			return nil, fmt.Errorf("sandbox: parse max_file_size %q: %w", cfg.MaxFileSize, err)
		}
		s.maxFileSize = size
	}

	for _, c := range cfg.AllowedCommands {
		if c = strings.TrimSpace(c); c != "" {
			s.allowedCommands = append(s.allowedCommands, c)
		}
	}
	for _, c := range cfg.DeniedCommands {
		if c = strings.TrimSpace(c); c != "" {
			s.deniedCommands = append(s.deniedCommands, c)
		}
	}

	return s, nil
}

// CheckPath validates that the given path is allowed by the sandbox.
// The path is resolved to an absolute path before checking.
func (s *Sandbox) CheckPath(path string) error {
	if s == nil {
		return nil
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("sandbox: resolve path %q: %w", path, err)
	}

	// Deny takes precedence.
	for _, denied := range s.deniedPaths {
		if within(abs, denied) {
			return fmt.Errorf("%w: path %q is under denied path %q", ErrDenied, abs, denied)
		}
	}

	if len(s.allowedPaths) == 0 {
		return nil
	}
	for _, allowed := range s.allowedPaths {
		if within(abs, allowed) {
			return nil
		}
	}
	return fmt.Errorf("%w: path %q is not under any allowed path %v", ErrDenied, abs, s.allowedPaths)
}

// CheckFileSize validates that size does not exceed the configured maximum.
func (s *Sandbox) CheckFileSize(size int64) error {
	if s == nil || s.maxFileSize <= 0 {
		return nil
	}
	if size > s.maxFileSize {
		return fmt.Errorf("%w: file size %d bytes exceeds maximum %d bytes (%s)",
			ErrDenied, size, s.maxFileSize, formatFileSize(s.maxFileSize))
	}
	return nil
}

// CheckCommand validates a shell command line against the command lists.
// Entries match on the program name (first word) or as a prefix of the
// whole line, so "git status" allows "git status -s" but not "git push".
// Lines chaining several commands are rejected once any allow list is set.
func (s *Sandbox) CheckCommand(line string) error {
	if s == nil {
		return nil
	}
	line = strings.TrimSpace(line)
	if line == "" {
		return fmt.Errorf("%w: empty command", ErrDenied)
	}

	for _, d := range s.deniedCommands {
		if matchCommand(line, d) {
			return fmt.Errorf("%w: command %q matches denied entry %q", ErrDenied, line, d)
		}
	}

	if len(s.allowedCommands) == 0 {
		return nil
	}
	if strings.ContainsAny(line, ";&|`\n") || strings.Contains(line, "$(") {
		return fmt.Errorf("%w: command %q chains or substitutes commands", ErrDenied, line)
	}
	for _, a := range s.allowedCommands {
		if matchCommand(line, a) {
			return nil
		}
	}
	return fmt.Errorf("%w: command %q is not in the allowed list", ErrDenied, line)
}

// MaxFileSize returns the configured maximum file size in bytes.
// Returns 0 if no limit is configured.
func (s *Sandbox) MaxFileSize() int64 {
	if s == nil {
		return 0
	}
	return s.maxFileSize
}

// AllowedPaths returns the list of allowed absolute paths.
func (s *Sandbox) AllowedPaths() []string {
	if s == nil {
		return nil
	}
	return s.allowedPaths
}

// DeniedPaths returns the list of denied absolute paths.
func (s *Sandbox) DeniedPaths() []string {
	if s == nil {
		return nil
	}
	return s.deniedPaths
}

func within(path, root string) bool {
	return path == root || strings.HasPrefix(path, root+string(filepath.Separator))
}

func matchCommand(line, entry string) bool {
	fields := strings.Fields(line)
	if len(fields) > 0 && (fields[0] == entry || filepath.Base(fields[0]) == entry) {
		return true
	}
	return line == entry || strings.HasPrefix(line, entry+" ")
}

// parseFileSize parses a human-readable file size string into bytes.
// Supported suffixes: B, KB, MB, GB, TB (case-insensitive).
func parseFileSize(s string) (int64, error) {
	s = strings.ToUpper(strings.TrimSpace(s))

	suffixes := []struct {
		suffix     string
		multiplier int64
	}{
		{"TB", 1 << 40},
		{"GB", 1 << 30},
		{"MB", 1 << 20},
		{"KB", 1 << 10},
		{"B", 1},
	}

	for _, sf := range suffixes {
		if strings.HasSuffix(s, sf.suffix) {
			numStr := strings.TrimSpace(strings.TrimSuffix(s, sf.suffix))
			n, err := strconv.ParseFloat(numStr, 64)
			if err != nil {
				return 0, fmt.Errorf("invalid number %q", numStr)
			}
			return int64(n * float64(sf.multiplier)), nil
		}
	}

	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid file size %q", s)
	}
	return n, nil
}

func formatFileSize(bytes int64) string {
	switch {
	case bytes >= 1<<40:
		return fmt.Sprintf("%.1fTB", float64(bytes)/(1<<40))
	case bytes >= 1<<30:
		return fmt.Sprintf("%.1fGB", float64(bytes)/(1<<30))
	case bytes >= 1<<20:
		return fmt.Sprintf("%.1fMB", float64(bytes)/(1<<20))
	case bytes >= 1<<10:
		return fmt.Sprintf("%.1fKB", float64(bytes)/(1<<10))
	default:
		return fmt.Sprintf("%dB", bytes)
	}
}
