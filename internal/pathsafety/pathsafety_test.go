package pathsafety

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/handoffhq/handoff/internal/apperr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolve_WithinRoot(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "a.txt"), []byte("hi"), 0o644))

	got, err := Resolve(root, "a.txt")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(root, "a.txt"), got)
}

func TestResolve_NestedNewFile(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "sub"), 0o755))

	got, err := Resolve(root, "sub/new.txt")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(root, "sub", "new.txt"), got)
}

func TestResolve_RejectsTraversal(t *testing.T) {
	root := t.TempDir()

	_, err := Resolve(root, "../../etc/passwd")
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.PathViolation))
}

func TestResolve_RejectsSymlinkEscape(t *testing.T) {
	root := t.TempDir()
	outside := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(outside, "secret.txt"), []byte("s"), 0o644))
	require.NoError(t, os.Symlink(outside, filepath.Join(root, "escape")))

	_, err := Resolve(root, "escape/secret.txt")
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.PathViolation))
}

func TestResolve_AbsolutePathOutsideRoot(t *testing.T) {
	root := t.TempDir()
	other := t.TempDir()

	_, err := Resolve(root, filepath.Join(other, "x.txt"))
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.PathViolation))
}
