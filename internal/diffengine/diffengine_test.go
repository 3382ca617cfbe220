package diffengine

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/handoffhq/handoff/internal/apperr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleDiff = `--- a/greeting.txt
+++ b/greeting.txt
@@ -1,3 +1,3 @@
 hello
-old world
+new world
 goodbye
`

func TestParse(t *testing.T) {
	p, err := Parse(sampleDiff)
	require.NoError(t, err)
	assert.Equal(t, "greeting.txt", p.OldPath)
	assert.Equal(t, "greeting.txt", p.NewPath)
	require.Len(t, p.Hunks, 1)
	assert.Equal(t, 1, p.Hunks[0].OldStart)
	assert.Equal(t, 3, p.Hunks[0].OldLines)
}

func TestParse_NoHunks(t *testing.T) {
	_, err := Parse("--- a/x\n+++ b/x\n")
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.Diff))
}

func TestApply_Success(t *testing.T) {
	root := t.TempDir()
	path := filepath.Join(root, "greeting.txt")
	require.NoError(t, os.WriteFile(path, []byte("hello\nold world\ngoodbye\n"), 0o644))

	origHash, err := HashFile(path)
	require.NoError(t, err)

	patch, err := Parse(sampleDiff)
	require.NoError(t, err)

	newHash, canonicalPath, overridden, err := Apply(root, patch, origHash, false)
	require.NoError(t, err)
	assert.NotEqual(t, origHash, newHash)
	assert.Equal(t, path, canonicalPath)
	assert.False(t, overridden)

	got, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "hello\nnew world\ngoodbye\n", string(got))
}

func TestApply_ConflictOnStaleHash(t *testing.T) {
	root := t.TempDir()
	path := filepath.Join(root, "greeting.txt")
	require.NoError(t, os.WriteFile(path, []byte("hello\nSOMEONE ELSE EDITED\ngoodbye\n"), 0o644))

	patch, err := Parse(sampleDiff)
	require.NoError(t, err)

	_, _, _, err = Apply(root, patch, "stale-hash-value", false)
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.PatchConflict))
}

func TestApply_ForceOverridesStaleHash(t *testing.T) {
	root := t.TempDir()
	path := filepath.Join(root, "greeting.txt")
	require.NoError(t, os.WriteFile(path, []byte("hello\nold world\ngoodbye\n"), 0o644))

	patch, err := Parse(sampleDiff)
	require.NoError(t, err)

	newHash, _, overridden, err := Apply(root, patch, "stale-hash-value", true)
	require.NoError(t, err)
	assert.True(t, overridden)
	assert.NotEmpty(t, newHash)

	got, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "hello\nnew world\ngoodbye\n", string(got))
}

func TestApply_NewFile(t *testing.T) {
	root := t.TempDir()
	diff := `--- /dev/null
+++ b/new.txt
@@ -0,0 +1,2 @@
+line one
+line two
`
	patch, err := Parse(diff)
	require.NoError(t, err)

	_, _, _, err = Apply(root, patch, "", false)
	require.NoError(t, err)

	got, err := os.ReadFile(filepath.Join(root, "new.txt"))
	require.NoError(t, err)
	assert.Equal(t, "line one\nline two\n", string(got))
}

func TestIsPatch(t *testing.T) {
	assert.True(t, IsPatch("--- a/x\n+++ b/x\n"))
	assert.True(t, IsPatch("diff --git a/x b/x\n"))
	assert.False(t, IsPatch("just the new file contents\n"))
}

func TestApplyFullFile(t *testing.T) {
	root := t.TempDir()

	newHash, canonicalPath, err := ApplyFullFile(root, "notes.txt", []byte("entire new content\n"))
	require.NoError(t, err)
	assert.NotEmpty(t, newHash)
	assert.Equal(t, filepath.Join(root, "notes.txt"), canonicalPath)

	got, err := os.ReadFile(canonicalPath)
	require.NoError(t, err)
	assert.Equal(t, "entire new content\n", string(got))
}
