package fs

import (
	"errors"
	"fmt"
	"os"
)

// ReadResult describes a completed read.
type ReadResult struct {
	Path    string `json:"path"`
	Content string `json:"content"`
	Size    int64  `json:"size"`
}

// Read returns the full contents of the file name.
func (f FS) Read(name string) (ReadResult, error) {
	path, err := f.Resolve(name)
	if err != nil {
		return ReadResult{}, fmt.Errorf("fs:read: %w", err)
	}

	info, err := os.Stat(path)
	if err != nil {
		return ReadResult{}, fmt.Errorf("fs:read: %w", describe(err, path))
	}
	if info.IsDir() {
		return ReadResult{}, fmt.Errorf("fs:read: %s is a directory", path)
	}
	if err := f.Sandbox.CheckFileSize(info.Size()); err != nil {
		return ReadResult{}, fmt.Errorf("fs:read: %w", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return ReadResult{}, fmt.Errorf("fs:read: %w", describe(err, path))
	}
	return ReadResult{Path: path, Content: string(data), Size: int64(len(data))}, nil
}

// describe keeps the os error in the chain but leads with a plain
// message for the common cases.
func describe(err error, path string) error {
	switch {
	case errors.Is(err, os.ErrNotExist):
		return fmt.Errorf("file not found: %s: %w", path, err)
	case errors.Is(err, os.ErrPermission):
		return fmt.Errorf("permission denied: %s: %w", path, err)
	}
	return err
}
