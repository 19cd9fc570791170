// Package security confines file access to configured directories and
// interprets document permission flags.
package security

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Confiner keeps file access inside one directory tree.
type Confiner struct {
	root string
}

// NewConfiner creates a Confiner rooted at dir. The directory does not
// have to exist yet.
func NewConfiner(dir string) (*Confiner, error) {
	if dir == "" {
		return nil, fmt.Errorf("confinement directory cannot be empty")
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve directory: %w", err)
	}
	return &Confiner{root: filepath.Clean(abs)}, nil
}

// Root returns the absolute confinement directory.
func (c *Confiner) Root() string {
	return c.root
}

// Resolve turns name into an absolute path inside the root. Relative names
// are taken relative to the root. Paths that leave the root, directly or
// through a symlink, are rejected.
func (c *Confiner) Resolve(name string) (string, error) {
	name = strings.ReplaceAll(name, "\x00", "")
	if strings.TrimSpace(name) == "" {
		return "", fmt.Errorf("path cannot be empty")
	}

	if !filepath.IsAbs(name) {
		name = filepath.Join(c.root, name)
	}
	abs, err := filepath.Abs(name)
	if err != nil {
		return "", fmt.Errorf("failed to resolve path: %w", err)
	}
	abs = filepath.Clean(abs)

	if !c.Within(abs) {
		return "", fmt.Errorf("path is outside %s: %s", c.root, name)
	}
	return abs, nil
}

// Within reports whether path lies inside the root, following symlinks of
// both path and root where they exist.
func (c *Confiner) Within(path string) bool {
	abs, err := filepath.Abs(path)
	if err != nil {
		return false
	}
	abs = filepath.Clean(abs)

	roots := []string{c.root}
	if real, err := filepath.EvalSymlinks(c.root); err == nil && real != c.root {
		roots = append(roots, real)
	}

	if !under(abs, roots) {
		return false
	}

	if info, err := os.Lstat(abs); err == nil && info.Mode()&os.ModeSymlink != 0 {
		real, err := filepath.EvalSymlinks(abs)
		if err != nil {
			return false
		}
		return under(real, roots)
	}
	return true
}

// FileName validates a bare file name for creation inside the root and
// returns its absolute path. Names containing separators are rejected.
func (c *Confiner) FileName(name string) (string, error) {
	if name == "" || name == "." || name == ".." {
		return "", fmt.Errorf("invalid file name %q", name)
	}
	if strings.ContainsAny(name, `/\`) || strings.ContainsRune(name, 0) {
		return "", fmt.Errorf("file name %q must not contain path separators", name)
	}
	return c.Resolve(name)
}

func under(path string, roots []string) bool {
	for _, root := range roots {
		if path == root {
			return true
		}
		prefix := root
		if !strings.HasSuffix(prefix, string(filepath.Separator)) {
			prefix += string(filepath.Separator)
		}
		if strings.HasPrefix(path, prefix) {
			return true
		}
	}
	return false
}
