// Package security keeps files the tools write inside the directory they
// were pointed at.
package security

import (
	"fmt"
	"path/filepath"
	"strings"
)

// maxNameLen bounds names built from sensor ids.
const maxNameLen = 128

// WithinDirectory returns an error unless path resolves inside dir. Symlinks
// are followed for the longest existing prefix of path, so a link inside dir
// pointing elsewhere is rejected even when the final file does not exist yet.
func WithinDirectory(path, dir string) error {
	absPath, err := filepath.Abs(filepath.Clean(path))
	if err != nil {
		return fmt.Errorf("resolve %s: %w", path, err)
	}
	absDir, err := filepath.Abs(dir)
	if err != nil {
		return fmt.Errorf("resolve %s: %w", dir, err)
	}
	realDir, err := filepath.EvalSymlinks(absDir)
	if err != nil {
		return fmt.Errorf("resolve %s: %w", dir, err)
	}

	rel, err := filepath.Rel(realDir, resolveExisting(absPath))
	if err != nil {
		return fmt.Errorf("%s is outside %s: %w", path, dir, err)
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) || filepath.IsAbs(rel) {
		return fmt.Errorf("%s escapes %s", path, dir)
	}
	return nil
}

// resolveExisting follows symlinks in the deepest existing ancestor of p and
// re-attaches the missing tail.
func resolveExisting(p string) string {
	for cur := p; ; {
		if real, err := filepath.EvalSymlinks(cur); err == nil {
			tail, _ := filepath.Rel(cur, p)
			return filepath.Join(real, tail)
		}
		parent := filepath.Dir(cur)
		if parent == cur {
			return p
		}
		cur = parent
	}
}

// SanitizeFilename maps s onto ASCII letters, digits, dot, dash and
// underscore. Runs of other characters become one underscore.
func SanitizeFilename(s string) string {
	var b strings.Builder
	under := false
	for _, r := range s {
		if b.Len() >= maxNameLen {
			break
		}
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '.', r == '-', r == '_':
			b.WriteRune(r)
			under = false
		case !under:
			b.WriteByte('_')
			under = true
		}
	}
	out := strings.Trim(b.String(), "._")
	if out == "" {
		return "unknown"
	}
	return out
}

// OutputPath joins dir with a sanitised name built from prefix, id and ext
// and checks the result stays inside dir.
func OutputPath(dir, prefix, id, ext string) (string, error) {
	path := filepath.Join(dir, prefix+SanitizeFilename(id)+ext)
	if err := WithinDirectory(path, dir); err != nil {
		return "", err
	}
	return path, nil
}
