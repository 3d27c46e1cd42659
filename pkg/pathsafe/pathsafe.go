// Package pathsafe confines filesystem access to a single root directory.
//
// Every path a client supplies is resolved against a Root before any
// filesystem operation happens. Resolution joins the candidate onto a base
// directory, folds "." and ".." lexically, resolves symlinks, and accepts
// the result only if it is the root itself or a descendant of it.
// Absolute-looking input is neutralized by the join; ascent that survives
// normalization is rejected.
package pathsafe

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ErrEscapesRoot is returned when a resolved path would land outside the
// confinement root.
var ErrEscapesRoot = errors.New("path escapes confinement root")

// Root is a canonical absolute directory that bounds all resolutions.
type Root struct {
	path string
}

// NewRoot establishes a confinement root at dir, creating the directory if
// it does not exist. The stored path is absolute with symlinks resolved, so
// later containment checks compare canonical forms.
func NewRoot(dir string) (*Root, error) {
	if dir == "" {
		return nil, errors.New("confinement root must not be empty")
	}

	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("resolve root %q: %w", dir, err)
	}

	if err := os.MkdirAll(abs, 0755); err != nil {
		return nil, fmt.Errorf("create root %q: %w", abs, err)
	}

	canonical, err := filepath.EvalSymlinks(abs)
	if err != nil {
		return nil, fmt.Errorf("canonicalize root %q: %w", abs, err)
	}

	return &Root{path: canonical}, nil
}

// Path returns the canonical absolute root path.
func (r *Root) Path() string {
	return r.path
}

// Contains reports whether the canonical absolute path p is the root or a
// descendant of it. p must already be canonical.
func (r *Root) Contains(p string) bool {
	if p == r.path {
		return true
	}
	return strings.HasPrefix(p, r.path+string(filepath.Separator))
}

// Resolve joins candidate onto base and canonicalizes the result, requiring
// it to stay inside the root. base must be an absolute path inside the root
// (typically a client's current directory); candidate is untrusted input
// and may contain "..", be absolute-looking, or point at a symlink.
//
// The target does not have to exist. Symlinks are resolved on the longest
// existing ancestor so that a link pointing outside the root cannot smuggle
// writes out.
func (r *Root) Resolve(base, candidate string) (string, error) {
	if base == "" {
		base = r.path
	}
	if !r.Contains(base) {
		return "", fmt.Errorf("base %q: %w", base, ErrEscapesRoot)
	}

	joined := filepath.Clean(filepath.Join(base, filepath.FromSlash(candidate)))

	canonical, err := canonicalize(joined)
	if err != nil {
		return "", err
	}
	if !r.Contains(canonical) {
		return "", fmt.Errorf("%q: %w", candidate, ErrEscapesRoot)
	}
	return canonical, nil
}

// ResolveExisting is Resolve restricted to targets that exist. It returns
// os.ErrNotExist wrapped when the final target is missing.
func (r *Root) ResolveExisting(base, candidate string) (string, error) {
	p, err := r.Resolve(base, candidate)
	if err != nil {
		return "", err
	}
	if _, err := os.Lstat(p); err != nil {
		return "", fmt.Errorf("stat %q: %w", p, err)
	}
	return p, nil
}

// Rel returns the POSIX-style path of abs relative to the root. The root
// itself maps to "".
func (r *Root) Rel(abs string) (string, error) {
	if !r.Contains(abs) {
		return "", fmt.Errorf("%q: %w", abs, ErrEscapesRoot)
	}
	if abs == r.path {
		return "", nil
	}
	rel, err := filepath.Rel(r.path, abs)
	if err != nil {
		return "", err
	}
	return filepath.ToSlash(rel), nil
}

// canonicalize resolves symlinks over the longest existing prefix of p and
// reattaches the non-existing remainder. This lets creation targets be
// validated before they exist while still seeing through symlinked
// ancestors.
func canonicalize(p string) (string, error) {
	resolved, err := filepath.EvalSymlinks(p)
	if err == nil {
		return resolved, nil
	}
	if !errors.Is(err, os.ErrNotExist) {
		return "", fmt.Errorf("canonicalize %q: %w", p, err)
	}

	// Walk up until an existing ancestor is found, then reattach the
	// missing suffix to the ancestor's canonical form.
	var missing []string
	cur := p
	for {
		parent := filepath.Dir(cur)
		if parent == cur {
			return "", fmt.Errorf("canonicalize %q: no existing ancestor", p)
		}
		missing = append(missing, filepath.Base(cur))
		cur = parent

		resolved, err = filepath.EvalSymlinks(cur)
		if err == nil {
			break
		}
		if !errors.Is(err, os.ErrNotExist) {
			return "", fmt.Errorf("canonicalize %q: %w", p, err)
		}
	}

	for i := len(missing) - 1; i >= 0; i-- {
		resolved = filepath.Join(resolved, missing[i])
	}
	return resolved, nil
}

// ValidateComponents applies the bulk-upload structural rules to a
// root-relative POSIX path: no empty or "." / ".." components, component
// length at most maxName, and depth at most maxDepth. A maxDepth or
// maxName of zero disables that check.
func ValidateComponents(rel string, maxName, maxDepth int) error {
	if rel == "" {
		return errors.New("empty path")
	}
	parts := strings.Split(rel, "/")
	if maxDepth > 0 && len(parts) > maxDepth {
		return fmt.Errorf("path depth %d exceeds limit %d", len(parts), maxDepth)
	}
	for _, part := range parts {
		switch part {
		case "", ".", "..":
			return fmt.Errorf("illegal path component %q", part)
		}
		if maxName > 0 && len(part) > maxName {
			return fmt.Errorf("path component longer than %d bytes", maxName)
		}
	}
	return nil
}
