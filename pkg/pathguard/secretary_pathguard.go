// Package pathguard confines caller-supplied file paths to configured
// directories.
package pathguard

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

var ErrOutsideRoots = errors.New("path is outside the allowed directories")

// Guard resolves paths against a fixed set of root directories.
// The zero value and a nil *Guard reject every path.
type Guard struct {
	roots []string
}

// New creates a guard. Empty roots are ignored. Relative input paths are
// joined to the first root.
func New(roots ...string) *Guard {
	g := &Guard{}
	for _, r := range roots {
		if r = strings.TrimSpace(r); r != "" {
			g.roots = append(g.roots, filepath.Clean(r))
		}
	}
	return g
}

// Roots returns the configured root directories.
func (g *Guard) Roots() []string {
	if g == nil {
		return nil
	}
	return append([]string(nil), g.roots...)
}

// Resolve returns the symlink-free absolute path of an existing file that
// lies strictly inside one of the roots.
func (g *Guard) Resolve(path string) (string, error) {
	if g == nil || len(g.roots) == 0 {
		return "", ErrOutsideRoots
	}
	if strings.TrimSpace(path) == "" {
		return "", fmt.Errorf("empty path: %w", ErrOutsideRoots)
	}
	if !filepath.IsAbs(path) {
		path = filepath.Join(g.roots[0], path)
	}

	resolved, err := filepath.EvalSymlinks(filepath.Clean(path))
	if err != nil {
		return "", fmt.Errorf("cannot resolve %q: %w", path, err)
	}
	info, err := os.Stat(resolved)
	if err != nil {
		return "", fmt.Errorf("cannot stat %q: %w", path, err)
	}
	if info.IsDir() {
		return "", fmt.Errorf("%q is a directory: %w", path, ErrOutsideRoots)
	}

	for _, root := range g.roots {
		rootResolved, err := filepath.EvalSymlinks(root)
		if err != nil {
			continue
		}
		if within(rootResolved, resolved) {
			return resolved, nil
		}
	}
	return "", fmt.Errorf("%q: %w", path, ErrOutsideRoots)
}

func within(root, path string) bool {
	rel, err := filepath.Rel(root, path)
	if err != nil || rel == "." {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)) && !filepath.IsAbs(rel)
}
