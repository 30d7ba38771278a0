// Package artifact owns downloaded files until delivery finishes.
package artifact

import (
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
)

// held tracks paths between Hold and Release so the janitor never removes
// a file that is still being delivered.
var held = struct {
	sync.Mutex
	paths map[string]int
}{paths: make(map[string]int)}

func heldKey(path string) string {
	if abs, err := filepath.Abs(path); err == nil {
		return abs
	}
	return filepath.Clean(path)
}

// IsHeld reports whether path is owned by an unreleased Artifact.
func IsHeld(path string) bool {
	held.Lock()
	defer held.Unlock()
	return held.paths[heldKey(path)] > 0
}

// Artifact is a temporary file scheduled for removal. Use it as
//
//	a := artifact.Hold(res.FilePath, logger)
//	defer a.Release()
type Artifact struct {
	path   string
	logger *slog.Logger
	once   sync.Once
}

func Hold(path string, logger *slog.Logger) *Artifact {
	if logger == nil {
		logger = slog.Default()
	}
	if path != "" {
		held.Lock()
		held.paths[heldKey(path)]++
		held.Unlock()
	}
	return &Artifact{path: path, logger: logger}
}

func (a *Artifact) Path() string {
	if a == nil {
		return ""
	}
	return a.path
}

// Release removes the file. Only the first call does work; failures are
// logged at debug level and never returned.
func (a *Artifact) Release() {
	if a == nil || a.path == "" {
		return
	}
	a.once.Do(func() {
		defer unhold(a.path)
		defer func() {
			if r := recover(); r != nil {
				a.logger.Debug("artifact removal panicked", "path", a.path, "panic", r)
			}
		}()
		if err := os.Remove(a.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			a.logger.Debug("artifact removal failed", "path", a.path, "err", err)
			return
		}
		a.logger.Debug("artifact removed", "path", a.path)
	})
}

func unhold(path string) {
	key := heldKey(path)
	held.Lock()
	defer held.Unlock()
	if held.paths[key] <= 1 {
		delete(held.paths, key)
		return
	}
	held.paths[key]--
}
