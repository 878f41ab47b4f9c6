// Package fs performs the file reads and writes requested by model
// actions. Paths are taken verbatim from the action, resolved against a
// root directory when relative, and checked against an optional sandbox.
package fs

import (
	"fmt"
	"path/filepath"

	"github.com/cgast/nexus/internal/sandbox"
)

// FS is the file access used by the create, code and read actions.
// The zero value resolves relative paths against the process working
// directory and performs no sandbox checks.
type FS struct {
	Root    string
	Sandbox *sandbox.Sandbox
}

// Resolve returns the absolute path for name and checks it against the
// sandbox.
func (f FS) Resolve(name string) (string, error) {
	if name == "" {
		return "", fmt.Errorf("empty file path")
	}
	p := name
	if !filepath.IsAbs(p) && f.Root != "" {
		p = filepath.Join(f.Root, p)
	}
	abs, err := filepath.Abs(p)
	if err != nil {
		return "", fmt.Errorf("resolve path %q: %w", name, err)
	}
	if err := f.Sandbox.CheckPath(abs); err != nil {
		return "", err
	}
	return abs, nil
}
