// Package pathguard confines user-supplied relative paths to a fixed set of
// root directories.
//
// Paths are canonicalized (lexically cleaned, symlinks resolved on the
// longest existing ancestor) before the containment check, and containment
// is decided per path segment so that a root /data/up never matches
// /data/upper.
package pathguard

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/lgulliver/strongbox/internal/apperr"
)

// Guard holds the canonical permitted roots
type Guard struct {
	roots []string
}

// New canonicalizes every root (creating it when missing) and rejects root
// sets where one root contains another, so an accepted path always belongs
// to exactly one root.
func New(roots ...string) (*Guard, error) {
	if len(roots) == 0 {
		return nil, fmt.Errorf("at least one root is required")
	}

	canonical := make([]string, 0, len(roots))
	for _, root := range roots {
		if root == "" {
			return nil, fmt.Errorf("empty root")
		}
		if err := os.MkdirAll(root, 0755); err != nil {
			return nil, fmt.Errorf("failed to create root %s: %w", root, err)
		}
		abs, err := filepath.Abs(root)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve root %s: %w", root, err)
		}
		resolved, err := filepath.EvalSymlinks(abs)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve root %s: %w", root, err)
		}
		canonical = append(canonical, filepath.Clean(resolved))
	}

	for i, a := range canonical {
		for j, b := range canonical {
			if i != j && IsWithin(a, b) {
				return nil, fmt.Errorf("roots must not nest: %s is inside %s", a, b)
			}
		}
	}

	return &Guard{roots: canonical}, nil
}

// Roots returns the canonical roots in construction order
func (g *Guard) Roots() []string {
	out := make([]string, len(g.roots))
	copy(out, g.roots)
	return out
}

// Root returns the canonical form of the i-th root
func (g *Guard) Root(i int) string {
	return g.roots[i]
}

// Resolve joins userPath under base (which must be one of the roots or a
// path inside them) and returns the canonical absolute result if it stays
// inside a permitted root.
func (g *Guard) Resolve(base, userPath string) (string, error) {
	if strings.ContainsRune(userPath, 0) {
		return "", apperr.InvalidPath("path contains NUL byte")
	}
	if filepath.IsAbs(userPath) || strings.HasPrefix(userPath, "/") || strings.HasPrefix(userPath, `\`) || filepath.VolumeName(userPath) != "" {
		return "", apperr.InvalidPath("absolute path not allowed: %q", userPath)
	}

	canonicalBase, err := canonicalize(base)
	if err != nil {
		return "", apperr.InvalidPath("cannot resolve base: %v", err)
	}
	if !g.Within(canonicalBase) {
		return "", apperr.InvalidPath("base %q is outside permitted roots", base)
	}

	resolved, err := canonicalize(filepath.Join(canonicalBase, filepath.FromSlash(userPath)))
	if err != nil {
		return "", apperr.InvalidPath("cannot resolve %q: %v", userPath, err)
	}
	if !g.Within(resolved) {
		return "", apperr.InvalidPath("%q escapes permitted roots", userPath)
	}
	return resolved, nil
}

// Check canonicalizes an absolute path and verifies containment
func (g *Guard) Check(absPath string) (string, error) {
	resolved, err := canonicalize(absPath)
	if err != nil {
		return "", apperr.InvalidPath("cannot resolve %q: %v", absPath, err)
	}
	if !g.Within(resolved) {
		return "", apperr.InvalidPath("%q escapes permitted roots", absPath)
	}
	return resolved, nil
}

// Within reports whether an already canonical absolute path equals or
// descends from one of the roots
func (g *Guard) Within(canonical string) bool {
	for _, root := range g.roots {
		if IsWithin(canonical, root) {
			return true
		}
	}
	return false
}

// Rel returns canonical relative to the root that contains it, using
// forward slashes. The root itself is returned as "".
func (g *Guard) Rel(canonical string) (string, error) {
	for _, root := range g.roots {
		if IsWithin(canonical, root) {
			rel, err := filepath.Rel(root, canonical)
			if err != nil {
				return "", apperr.InvalidPath("%v", err)
			}
			if rel == "." {
				return "", nil
			}
			return filepath.ToSlash(rel), nil
		}
	}
	return "", apperr.InvalidPath("%q escapes permitted roots", canonical)
}

// IsWithin compares segment-wise: path must equal root or continue it with a
// separator.
func IsWithin(path, root string) bool {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return false
	}
	if rel == "." {
		return true
	}
	if filepath.IsAbs(rel) {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

// canonicalize returns an absolute, cleaned path with symlinks resolved on the
// longest existing ancestor. The non-existent tail is appended verbatim.
func canonicalize(p string) (string, error) {
	abs, err := filepath.Abs(p)
	if err != nil {
		return "", err
	}
	abs = filepath.Clean(abs)

	existing := abs
	var tail []string
	for {
		if _, err := os.Lstat(existing); err == nil {
			break
		} else if !os.IsNotExist(err) {
			return "", err
		}
		parent := filepath.Dir(existing)
		if parent == existing {
			return "", fmt.Errorf("no existing ancestor for %s", abs)
		}
		tail = append([]string{filepath.Base(existing)}, tail...)
		existing = parent
	}

	resolved, err := filepath.EvalSymlinks(existing)
	if err != nil {
		return "", err
	}
	return filepath.Join(append([]string{resolved}, tail...)...), nil
}
