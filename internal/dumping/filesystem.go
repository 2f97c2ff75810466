package dumping

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"
)

// Manager performs the primitive, safe directory lifecycle operations:
// create with safeguard marker, verified delete, relative symlink creation.
// It has no domain knowledge; every path it touches is handed to it.
//
// All operations are no-ops under dry-run mode.
type Manager struct {
	mode Mode
	log  *slog.Logger
}

// NewManager creates a filesystem manager for the given mode.
func NewManager(mode Mode, log *slog.Logger) *Manager {
	return &Manager{mode: mode, log: log}
}

// Prepare creates the directory (idempotently) and (re)touches the safeguard
// marker inside it.
//
// Under overwrite mode, a pre-existing non-empty directory without the marker
// is a safeguard violation for container paths: the engine refuses to guess
// whether unmanaged content is safe to touch. For leaf node directories the
// directory is assumed to be the engine's own prior output and is recreated
// from scratch.
func (m *Manager) Prepare(path string, isLeafNodeDir bool) error {
	if m.mode == ModeDryRun {
		return nil
	}

	if m.mode == ModeOverwrite {
		unmanaged, err := isNonEmptyUnmarked(path)
		if err != nil {
			return err
		}
		if unmanaged {
			if !isLeafNodeDir {
				return NewSafeguardError(path, "path exists, is not empty, but safeguard file missing")
			}
			if err := os.RemoveAll(path); err != nil {
				return fmt.Errorf("recreate leaf directory %s: %w", path, err)
			}
		}
	}

	if err := os.MkdirAll(path, 0o755); err != nil {
		return fmt.Errorf("create directory %s: %w", path, err)
	}

	marker := filepath.Join(path, SafeguardFileName)
	f, err := os.OpenFile(marker, os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("touch safeguard file %s: %w", marker, err)
	}
	return f.Close()
}

// Delete removes a directory only if the safeguard marker is present inside
// it. This is the sole guard against deleting user data the engine did not
// create. A missing path is a no-op; an existing directory without the marker
// is a safeguard violation.
func (m *Manager) Delete(path string) error {
	if m.mode == ModeDryRun {
		return nil
	}

	info, err := os.Lstat(path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("stat %s: %w", path, err)
	}
	if !info.IsDir() {
		return NewSafeguardError(path, "refusing to delete non-directory path")
	}

	marker := filepath.Join(path, SafeguardFileName)
	if _, err := os.Stat(marker); err != nil {
		return NewSafeguardError(path, "refusing to delete directory without safeguard file")
	}

	if err := os.RemoveAll(path); err != nil {
		return fmt.Errorf("delete directory %s: %w", path, err)
	}
	m.log.Debug("deleted managed directory", "path", path)
	return nil
}

// Symlink creates a path-relative symbolic link at target pointing at source,
// so the tree remains portable when moved as a whole. A pre-existing target
// (file, directory, or dangling link) and a missing source are both no-ops.
func (m *Manager) Symlink(source, target string) error {
	if m.mode == ModeDryRun {
		return nil
	}

	if _, err := os.Lstat(target); err == nil {
		return nil
	}
	if _, err := os.Stat(source); err != nil {
		return nil
	}

	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return fmt.Errorf("create parent of symlink %s: %w", target, err)
	}

	rel, err := filepath.Rel(filepath.Dir(target), source)
	if err != nil {
		return fmt.Errorf("relativize symlink %s -> %s: %w", target, source, err)
	}
	if err := os.Symlink(rel, target); err != nil {
		return fmt.Errorf("create symlink %s -> %s: %w", target, rel, err)
	}
	return nil
}

// RemoveSymlink removes a symbolic link. Refuses anything that is not a
// symlink; a missing path is a no-op.
func (m *Manager) RemoveSymlink(path string) error {
	if m.mode == ModeDryRun {
		return nil
	}

	info, err := os.Lstat(path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("stat %s: %w", path, err)
	}
	if info.Mode()&os.ModeSymlink == 0 {
		return NewSafeguardError(path, "refusing to remove non-symlink path")
	}
	if err := os.Remove(path); err != nil {
		return fmt.Errorf("remove symlink %s: %w", path, err)
	}
	return nil
}

// isNonEmptyUnmarked reports whether path is an existing non-empty directory
// lacking the safeguard marker.
func isNonEmptyUnmarked(path string) (bool, error) {
	entries, err := os.ReadDir(path)
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("read directory %s: %w", path, err)
	}
	if len(entries) == 0 {
		return false, nil
	}
	for _, entry := range entries {
		if entry.Name() == SafeguardFileName {
			return false, nil
		}
	}
	return true, nil
}

// DirStats walks a directory and returns its latest file modification time
// and total size. Symlinks contribute their own mtime but not their target's
// size. Returns a nil mtime for a missing or empty directory.
func DirStats(path string) (*time.Time, int64, error) {
	info, err := os.Stat(path)
	if os.IsNotExist(err) || (err == nil && !info.IsDir()) {
		return nil, 0, nil
	}
	if err != nil {
		return nil, 0, fmt.Errorf("stat %s: %w", path, err)
	}

	var (
		latest time.Time
		size   int64
	)
	err = filepath.Walk(path, func(p string, fi os.FileInfo, err error) error {
		if err != nil {
			// File vanished during walk.
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if fi.IsDir() {
			return nil
		}
		if fi.Mode()&os.ModeSymlink == 0 {
			size += fi.Size()
		}
		if fi.ModTime().After(latest) {
			latest = fi.ModTime()
		}
		return nil
	})
	if err != nil {
		return nil, 0, fmt.Errorf("walk %s: %w", path, err)
	}

	if latest.IsZero() {
		return nil, size, nil
	}
	utc := latest.UTC()
	return &utc, size, nil
}
