package taskhash

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHashIsDeterministic(t *testing.T) {
	content := HashContent{
		Command: "build",
		Args:    []string{"--flag"},
		Env:     map[string]string{"B": "2", "A": "1"},
		Inputs: []InputEntry{
			{Path: "src/b.go", ContentHash: "bbb"},
			{Path: "src/a.go", ContentHash: "aaa"},
		},
	}

	h1, err := Hash(content)
	require.NoError(t, err)
	h2, err := Hash(content)
	require.NoError(t, err)
	assert.Equal(t, h1, h2)
	assert.Len(t, h1, 64)
}

func TestHashChangesWithAnyField(t *testing.T) {
	base := HashContent{Command: "build", Inputs: []InputEntry{{Path: "a", ContentHash: "1"}}}
	baseHash, err := Hash(base)
	require.NoError(t, err)

	changed := base
	changed.Args = []string{"--verbose"}
	changedHash, err := Hash(changed)
	require.NoError(t, err)

	assert.NotEqual(t, baseHash, changedHash)
}

func TestHashInputOrderDoesNotMatter(t *testing.T) {
	a := HashContent{Command: "build", Inputs: []InputEntry{
		{Path: "z", ContentHash: "1"},
		{Path: "a", ContentHash: "2"},
	}}
	b := HashContent{Command: "build", Inputs: []InputEntry{
		{Path: "a", ContentHash: "2"},
		{Path: "z", ContentHash: "1"},
	}}

	ha, err := Hash(a)
	require.NoError(t, err)
	hb, err := Hash(b)
	require.NoError(t, err)
	assert.Equal(t, ha, hb)
}

func TestGitFileHasherManualFallback(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "a.txt"), []byte("hello"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "b.txt"), []byte("hello"), 0o644))

	hashes, err := manualHashFiles(root, []string{"a.txt", "b.txt"})
	require.NoError(t, err)
	assert.Equal(t, hashes["a.txt"], hashes["b.txt"], "identical content must hash identically")
	assert.Len(t, hashes["a.txt"], 64)
}

func TestTrackerResolveDepHashes(t *testing.T) {
	tr := NewTracker()
	tr.RecordTaskHash("lib:build", "deadbeef")

	deps, err := tr.ResolveDepHashes([]string{"lib:build", "other:lint"}, map[string]bool{"other:lint": true})
	require.NoError(t, err)
	assert.Equal(t, "deadbeef", deps["lib:build"])
	assert.Equal(t, "passthrough", deps["other:lint"])
}

func TestTrackerResolveDepHashesMissingIsError(t *testing.T) {
	tr := NewTracker()
	_, err := tr.ResolveDepHashes([]string{"missing:task"}, nil)
	assert.Error(t, err)
}
