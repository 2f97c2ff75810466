package testutil

import (
	"os"
	"path/filepath"
	"testing"
)

// AssertDir fails the test unless path exists and is a directory.
func AssertDir(t *testing.T, parts ...string) {
	t.Helper()
	path := filepath.Join(parts...)
	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("expected directory %s: %v", path, err)
	}
	if !info.IsDir() {
		t.Fatalf("expected directory %s, got a file", path)
	}
}

// AssertFile fails the test unless path exists and is a regular file.
func AssertFile(t *testing.T, parts ...string) {
	t.Helper()
	path := filepath.Join(parts...)
	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("expected file %s: %v", path, err)
	}
	if info.IsDir() {
		t.Fatalf("expected file %s, got a directory", path)
	}
}

// AssertSymlink fails the test unless path is a symbolic link.
func AssertSymlink(t *testing.T, parts ...string) {
	t.Helper()
	path := filepath.Join(parts...)
	info, err := os.Lstat(path)
	if err != nil {
		t.Fatalf("expected symlink %s: %v", path, err)
	}
	if info.Mode()&os.ModeSymlink == 0 {
		t.Fatalf("expected symlink %s, got mode %v", path, info.Mode())
	}
}

// AssertAbsent fails the test if path exists.
func AssertAbsent(t *testing.T, parts ...string) {
	t.Helper()
	path := filepath.Join(parts...)
	if _, err := os.Lstat(path); err == nil {
		t.Fatalf("expected %s to be absent", path)
	} else if !os.IsNotExist(err) {
		t.Fatalf("lstat %s: %v", path, err)
	}
}

// ReadFile reads a file, failing the test on error.
func ReadFile(t *testing.T, parts ...string) string {
	t.Helper()
	path := filepath.Join(parts...)
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read %s: %v", path, err)
	}
	return string(data)
}

// ListDir returns the sorted names of entries directly under path.
func ListDir(t *testing.T, parts ...string) []string {
	t.Helper()
	path := filepath.Join(parts...)
	entries, err := os.ReadDir(path)
	if err != nil {
		t.Fatalf("read dir %s: %v", path, err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return names
}
