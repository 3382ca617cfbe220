// Package pathsafety canonicalizes and validates file paths proposed by
// agents before any diff or read touches disk, rejecting traversal and
// symlink escapes outside a session's workspace root.
package pathsafety

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/handoffhq/handoff/internal/apperr"
)

// Resolve canonicalizes candidate (which may be relative or absolute)
// against root and verifies the result stays within root, including
// through symlinks. It returns the canonical absolute path on success.
func Resolve(root, candidate string) (string, error) {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return "", apperr.Wrap(apperr.PathViolation, "resolve workspace root", err)
	}
	canonRoot, err := canonicalizeExisting(absRoot)
	if err != nil {
		return "", apperr.Wrap(apperr.PathViolation, "canonicalize workspace root", err)
	}

	var joined string
	if filepath.IsAbs(candidate) {
		joined = filepath.Clean(candidate)
	} else {
		joined = filepath.Clean(filepath.Join(canonRoot, candidate))
	}

	if !withinRoot(canonRoot, joined) {
		return "", apperr.New(apperr.PathViolation, "path escapes workspace root: "+candidate)
	}

	canonPath, err := canonicalizeDeepest(joined)
	if err != nil {
		return "", apperr.Wrap(apperr.PathViolation, "canonicalize path", err)
	}

	if !withinRoot(canonRoot, canonPath) {
		return "", apperr.New(apperr.PathViolation, "path escapes workspace root via symlink: "+candidate)
	}

	return canonPath, nil
}

// withinRoot reports whether path is root itself or a descendant of root,
// compared lexically after Clean (both arguments must already be clean,
// absolute paths).
func withinRoot(root, path string) bool {
	if path == root {
		return true
	}
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

// canonicalizeExisting resolves symlinks for a path that must already
// exist (used for the workspace root itself).
func canonicalizeExisting(path string) (string, error) {
	resolved, err := filepath.EvalSymlinks(path)
	if err != nil {
		return "", err
	}
	return filepath.Clean(resolved), nil
}

// canonicalizeDeepest resolves symlinks along path, tolerating a
// not-yet-existing final component (the common case for a file an agent
// is about to create): it walks up from path until it finds an existing
// ancestor, resolves that ancestor's symlinks, then reappends the
// non-existent suffix.
func canonicalizeDeepest(path string) (string, error) {
	if _, err := os.Lstat(path); err == nil {
		return canonicalizeExisting(path)
	}

	parent := filepath.Dir(path)
	if parent == path {
		return path, nil
	}
	resolvedParent, err := canonicalizeDeepest(parent)
	if err != nil {
		return "", err
	}
	return filepath.Join(resolvedParent, filepath.Base(path)), nil
}
