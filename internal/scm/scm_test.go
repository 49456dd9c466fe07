package scm

import (
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func runGit(t *testing.T, dir string, args ...string) {
	t.Helper()
	cmd := exec.Command("git", args...)
	cmd.Dir = dir
	cmd.Env = append(os.Environ(),
		"GIT_AUTHOR_NAME=test", "GIT_AUTHOR_EMAIL=test@example.com",
		"GIT_COMMITTER_NAME=test", "GIT_COMMITTER_EMAIL=test@example.com",
	)
	out, err := cmd.CombinedOutput()
	require.NoErrorf(t, err, "git %v: %s", args, out)
}

func initRepo(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	runGit(t, root, "init")
	return root
}

func TestNewReturnsNilWithoutGitDir(t *testing.T) {
	root := t.TempDir()
	assert.Nil(t, New(root))
}

func TestNewReturnsGitWhenDotGitPresent(t *testing.T) {
	root := initRepo(t)
	assert.NotNil(t, New(root))
}

func TestNewFallbackReturnsStubWithoutGitDir(t *testing.T) {
	root := t.TempDir()
	s := NewFallback(root)
	assert.Empty(t, s.ChangedFiles("", true, root))
}

func TestChangedFilesIncludesUntracked(t *testing.T) {
	root := initRepo(t)
	require.NoError(t, os.WriteFile(filepath.Join(root, "committed.txt"), []byte("a"), 0o644))
	runGit(t, root, "add", "committed.txt")
	runGit(t, root, "commit", "-m", "initial")

	require.NoError(t, os.WriteFile(filepath.Join(root, "untracked.txt"), []byte("b"), 0o644))

	repo := New(root)
	require.NotNil(t, repo)
	changed := repo.ChangedFiles("", true, root)
	assert.Contains(t, changed, "untracked.txt")
}

func TestChangedFilesExcludesUntrackedWhenDisabled(t *testing.T) {
	root := initRepo(t)
	require.NoError(t, os.WriteFile(filepath.Join(root, "committed.txt"), []byte("a"), 0o644))
	runGit(t, root, "add", "committed.txt")
	runGit(t, root, "commit", "-m", "initial")

	require.NoError(t, os.WriteFile(filepath.Join(root, "untracked.txt"), []byte("b"), 0o644))

	repo := New(root)
	require.NotNil(t, repo)
	changed := repo.ChangedFiles("", false, root)
	assert.NotContains(t, changed, "untracked.txt")
}

func TestChangedFilesDetectsModification(t *testing.T) {
	root := initRepo(t)
	require.NoError(t, os.WriteFile(filepath.Join(root, "committed.txt"), []byte("a"), 0o644))
	runGit(t, root, "add", "committed.txt")
	runGit(t, root, "commit", "-m", "initial")

	require.NoError(t, os.WriteFile(filepath.Join(root, "committed.txt"), []byte("changed"), 0o644))

	repo := New(root)
	require.NotNil(t, repo)
	changed := repo.ChangedFiles("", false, root)
	assert.Contains(t, changed, "committed.txt")
}
