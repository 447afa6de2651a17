// SPDX-License-Identifier: MIT

// Package fsutil provides filesystem helpers: atomic writes and path
// confinement for untrusted upload filenames.
package fsutil

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/renameio/v2"
)

// WriteFileAtomic writes data to path atomically via a temp file and rename.
// Readers never observe a partially written file.
func WriteFileAtomic(path string, data []byte, perm os.FileMode) error {
	return renameio.WriteFile(path, data, perm)
}

// WriteReaderAtomic streams r to path atomically.
func WriteReaderAtomic(path string, r io.Reader) error {
	t, err := renameio.TempFile("", path)
	if err != nil {
		return err
	}
	defer func() { _ = t.Cleanup() }()

	if _, err := io.Copy(t, r); err != nil {
		return err
	}
	return t.CloseAtomicallyReplace()
}

// SafeJoin joins an untrusted relative name under root and rejects anything
// that would escape it. The name must be relative and free of backslashes.
func SafeJoin(root, name string) (string, error) {
	if strings.Contains(name, "\\") {
		return "", fmt.Errorf("name contains backslash: %s", name)
	}

	clean := filepath.Clean(name)
	if clean == "" || clean == "." {
		return "", fmt.Errorf("empty name")
	}
	if filepath.IsAbs(clean) || strings.HasPrefix(clean, "/") {
		return "", fmt.Errorf("name must be relative: %s", name)
	}
	if clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("path traversal attempt: %s", name)
	}

	absRoot, err := filepath.Abs(root)
	if err != nil {
		return "", fmt.Errorf("invalid root path: %w", err)
	}
	return filepath.Join(absRoot, clean), nil
}

// SanitizeFilename reduces an untrusted upload filename to its base name and
// strips characters that are problematic on disk. Returns an error when
// nothing usable remains.
func SanitizeFilename(name string) (string, error) {
	base := filepath.Base(strings.ReplaceAll(name, "\\", "/"))
	base = strings.TrimSpace(base)
	if base == "" || base == "." || base == ".." {
		return "", fmt.Errorf("unusable filename: %q", name)
	}

	var b strings.Builder
	for _, r := range base {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '.', r == '-', r == '_', r == ' ':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	out := strings.Trim(b.String(), ". ")
	if out == "" {
		return "", fmt.Errorf("unusable filename: %q", name)
	}
	return out, nil
}

// EnsureDir creates dir (and parents) with restrictive permissions.
func EnsureDir(dir string) error {
	return os.MkdirAll(dir, 0o750)
}
