package config

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// reloadDelay lets an editor finish a save before the file is reread.
const reloadDelay = 200 * time.Millisecond

// Watch calls onChange with the freshly loaded config whenever the file
// at path is written, created or replaced, until ctx is done. The parent
// directory is watched so that rename-on-save editors are seen. Load
// errors are passed to onChange and watching continues.
func Watch(ctx context.Context, path string, onChange func(Config, error)) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("config watch: %w", err)
	}
	defer w.Close()

	abs, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("config watch: %w", err)
	}
	if err := w.Add(filepath.Dir(abs)); err != nil {
		return fmt.Errorf("config watch %s: %w", filepath.Dir(abs), err)
	}

	var pending <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != abs {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0 {
				pending = time.After(reloadDelay)
			}
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			onChange(Config{}, fmt.Errorf("config watch: %w", err))
		case <-pending:
			pending = nil
			onChange(LoadConfig(path))
		}
	}
}
