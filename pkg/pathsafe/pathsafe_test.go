package pathsafe

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRoot(t *testing.T) *Root {
	t.Helper()
	root, err := NewRoot(t.TempDir())
	require.NoError(t, err)
	return root
}

func TestNewRootCreatesDirectory(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "root")
	root, err := NewRoot(dir)
	require.NoError(t, err)

	info, err := os.Stat(root.Path())
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}

func TestNewRootEmpty(t *testing.T) {
	_, err := NewRoot("")
	assert.Error(t, err)
}

func TestResolveInside(t *testing.T) {
	root := newTestRoot(t)

	p, err := root.Resolve(root.Path(), "sub/file.txt")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(root.Path(), "sub", "file.txt"), p)
}

func TestResolveTraversalRejected(t *testing.T) {
	root := newTestRoot(t)

	tests := []string{
		"../../etc",
		"..",
		"../sibling",
		"a/../../..",
		"a/b/../../../../etc/passwd",
	}

	for _, candidate := range tests {
		_, err := root.Resolve(root.Path(), candidate)
		assert.ErrorIs(t, err, ErrEscapesRoot, "candidate %q", candidate)
	}
}

func TestResolveAbsoluteNeutralized(t *testing.T) {
	root := newTestRoot(t)

	// An absolute-looking candidate is joined underneath the base, so it
	// stays confined instead of escaping.
	p, err := root.Resolve(root.Path(), "/etc/passwd")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(root.Path(), "etc", "passwd"), p)
}

func TestResolveDotDotWithinRoot(t *testing.T) {
	root := newTestRoot(t)
	sub := filepath.Join(root.Path(), "sub")
	require.NoError(t, os.Mkdir(sub, 0755))

	// Ascending from a subdirectory back to the root is legal.
	p, err := root.Resolve(sub, "..")
	require.NoError(t, err)
	assert.Equal(t, root.Path(), p)
}

func TestResolveForeignBaseRejected(t *testing.T) {
	root := newTestRoot(t)

	_, err := root.Resolve(t.TempDir(), "file")
	assert.ErrorIs(t, err, ErrEscapesRoot)
}

func TestResolveSymlinkEscapeRejected(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("symlink test on unix only")
	}

	root := newTestRoot(t)
	outside := t.TempDir()

	link := filepath.Join(root.Path(), "leak")
	require.NoError(t, os.Symlink(outside, link))

	_, err := root.Resolve(root.Path(), "leak/file.txt")
	assert.ErrorIs(t, err, ErrEscapesRoot)
}

func TestResolveExisting(t *testing.T) {
	root := newTestRoot(t)

	file := filepath.Join(root.Path(), "present.txt")
	require.NoError(t, os.WriteFile(file, []byte("x"), 0644))

	p, err := root.ResolveExisting(root.Path(), "present.txt")
	require.NoError(t, err)
	assert.Equal(t, file, p)

	_, err = root.ResolveExisting(root.Path(), "absent.txt")
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestRel(t *testing.T) {
	root := newTestRoot(t)

	rel, err := root.Rel(root.Path())
	require.NoError(t, err)
	assert.Equal(t, "", rel)

	rel, err = root.Rel(filepath.Join(root.Path(), "a", "b"))
	require.NoError(t, err)
	assert.Equal(t, "a/b", rel)

	_, err = root.Rel("/somewhere/else")
	assert.ErrorIs(t, err, ErrEscapesRoot)
}

func TestContainsPrefixTrap(t *testing.T) {
	root := newTestRoot(t)

	// A sibling whose name extends the root's final component must not
	// count as contained.
	assert.False(t, root.Contains(root.Path()+"2"))
	assert.True(t, root.Contains(root.Path()))
	assert.True(t, root.Contains(filepath.Join(root.Path(), "x")))
}

func TestValidateComponents(t *testing.T) {
	tests := []struct {
		name    string
		rel     string
		maxName int
		maxDep  int
		wantErr bool
	}{
		{"simple", "a/b/c", 255, 10, false},
		{"empty", "", 255, 10, true},
		{"dotdot", "a/../b", 255, 10, true},
		{"dot", "./a", 255, 10, true},
		{"double slash", "a//b", 255, 10, true},
		{"too deep", "a/b/c/d", 255, 3, true},
		{"long component", "aaaa/b", 3, 10, true},
		{"limits disabled", "a/b/c/d/e/f/g/h/i/j/k/l", 0, 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateComponents(tt.rel, tt.maxName, tt.maxDep)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
