package fs

import (
	"fmt"
	"os"
	"path/filepath"
)

// WriteResult describes a completed write.
type WriteResult struct {
	Path         string `json:"path"`
	BytesWritten int    `json:"bytes_written"`
}

// Write stores content in the file name, creating parent directories as
// needed and replacing any existing file. Concurrent writes to the same
// path are last-write-wins.
func (f FS) Write(name, content string) (WriteResult, error) {
	path, err := f.Resolve(name)
	if err != nil {
		return WriteResult{}, fmt.Errorf("fs:write: %w", err)
	}
	if err := f.Sandbox.CheckFileSize(int64(len(content))); err != nil {
		return WriteResult{}, fmt.Errorf("fs:write: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return WriteResult{}, fmt.Errorf("fs:write: create dir: %w", describe(err, path))
	}
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		return WriteResult{}, fmt.Errorf("fs:write: %w", describe(err, path))
	}
	return WriteResult{Path: path, BytesWritten: len(content)}, nil
}
