// Package taskhash computes the content-addressed hash of a task
// (SPEC_FULL.md §4.6): canonical JSON over a HashContent value, SHA-256'd.
//
// Adapted from internal/taskhash/taskhash.go's Tracker shape (hash once per
// task in topological order, cache by task id, protect the cache with a
// mutex since tasks hash concurrently once their deps are known) and from
// internal/hashing/package_deps_hash.go's `git hash-object` strategy for
// per-file content hashes, reworked against plain workspace-relative paths
// instead of turbopath's package-oriented types.
package taskhash

import (
	"bufio"
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"sort"
	"sync"

	"github.com/pkg/errors"
)

// ToolchainContent is one toolchain's contribution to a task's hash
// content, per §4.6.
type ToolchainContent struct {
	ID           string            `json:"id"`
	Version      string            `json:"version,omitempty"`
	Contents     json.RawMessage   `json:"contents,omitempty"`
	Dependencies map[string]string `json:"dependencies,omitempty"`
}

// HashContent is the exact set of fields that feed a task's hash, per
// §4.6. Field order here is irrelevant to the hash (canonicalization sorts
// object keys); it's only relevant to readers of this source.
type HashContent struct {
	Command string   `json:"command"`
	Args    []string `json:"args,omitempty"`
	Script  string   `json:"script,omitempty"`

	Env map[string]string `json:"env,omitempty"`

	Inputs []InputEntry `json:"inputs"`

	// Deps maps a dependency's target string to its TaskHash; a
	// Passthrough dependency contributes the literal string "passthrough".
	Deps map[string]string `json:"deps,omitempty"`

	Toolchain []ToolchainContent `json:"toolchain,omitempty"`
}

// InputEntry is one `(path, content_hash)` pair; directories contribute
// their recursive listing flattened to individual entries by the caller.
type InputEntry struct {
	Path        string `json:"path"`
	ContentHash string `json:"content_hash"`
}

// Hash canonicalizes content as sorted-key, whitespace-free JSON and
// returns its SHA-256 as a 64-character hex digest. Go's encoding/json
// sorts map keys but writes struct fields in declaration order, so the
// marshaled struct is decoded into a generic value and marshaled again,
// which sorts every object's keys at every depth.
func Hash(content HashContent) (string, error) {
	sort.Slice(content.Inputs, func(i, j int) bool { return content.Inputs[i].Path < content.Inputs[j].Path })

	encoded, err := json.Marshal(content)
	if err != nil {
		return "", errors.Wrap(err, "taskhash: marshaling hash content")
	}
	var generic interface{}
	dec := json.NewDecoder(bytes.NewReader(encoded))
	dec.UseNumber()
	if err := dec.Decode(&generic); err != nil {
		return "", errors.Wrap(err, "taskhash: canonicalizing hash content")
	}
	if encoded, err = json.Marshal(generic); err != nil {
		return "", errors.Wrap(err, "taskhash: marshaling hash content")
	}
	sum := sha256.Sum256(encoded)
	return hex.EncodeToString(sum[:]), nil
}

// FileHasher computes a content hash for one file, keyed by its
// workspace-relative path.
type FileHasher interface {
	HashFile(root, relPath string) (string, error)
}

// GitFileHasher hashes files with `git hash-object`, batching all paths
// into one invocation the same way internal/hashing/package_deps_hash.go's
// gitHashObject does, falling back to a manual SHA-256 read per file when
// the git invocation fails (for example, git is unavailable).
type GitFileHasher struct{}

// HashFiles hashes every path in paths (workspace-relative, '/'-separated)
// rooted at root, returning a map keyed by the same paths.
func (GitFileHasher) HashFiles(root string, paths []string) (map[string]string, error) {
	if len(paths) == 0 {
		return map[string]string{}, nil
	}

	hashes, err := gitHashObject(root, paths)
	if err == nil {
		return hashes, nil
	}
	return manualHashFiles(root, paths)
}

func gitHashObject(root string, paths []string) (map[string]string, error) {
	cmd := exec.Command("git", "hash-object", "--stdin-paths")
	cmd.Dir = root

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, err
	}
	var stdout bytes.Buffer
	cmd.Stdout = &stdout

	if err := cmd.Start(); err != nil {
		return nil, err
	}

	go func() {
		defer stdin.Close()
		for _, p := range paths {
			fmt.Fprintln(stdin, p)
		}
	}()

	if err := cmd.Wait(); err != nil {
		return nil, err
	}

	hashes := make(map[string]string, len(paths))
	scanner := bufio.NewScanner(&stdout)
	i := 0
	for scanner.Scan() && i < len(paths) {
		hashes[paths[i]] = scanner.Text()
		i++
	}
	if i != len(paths) {
		return nil, errors.New("taskhash: git hash-object returned fewer hashes than inputs")
	}
	return hashes, nil
}

func manualHashFiles(root string, paths []string) (map[string]string, error) {
	hashes := make(map[string]string, len(paths))
	for _, p := range paths {
		full := root + "/" + p
		data, err := os.ReadFile(full)
		if err != nil {
			return nil, errors.Wrapf(err, "taskhash: hashing %q", p)
		}
		sum := sha256.Sum256(data)
		hashes[p] = hex.EncodeToString(sum[:])
	}
	return hashes, nil
}

// Tracker caches per-task hashes as they're computed in topological order.
//
// Mirrors internal/taskhash/taskhash.go's Tracker: the task-hash map is
// written once per task as the pipeline executor completes it and read by
// dependents' workers; an RWMutex protects it. File hashes and toolchain
// content are not cached here.
type Tracker struct {
	mu         sync.RWMutex
	taskHashes map[string]string // target string -> TaskHash
}

// NewTracker creates an empty Tracker.
func NewTracker() *Tracker {
	return &Tracker{taskHashes: make(map[string]string)}
}

// TaskHash returns the previously recorded hash for targetKey, if any.
func (t *Tracker) TaskHash(targetKey string) (string, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	h, ok := t.taskHashes[targetKey]
	return h, ok
}

// RecordTaskHash stores the hash computed for targetKey.
func (t *Tracker) RecordTaskHash(targetKey, hash string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.taskHashes[targetKey] = hash
}

// ResolveDepHashes builds the `deps` field of a HashContent from a list of
// dependency target keys, looking each up in the tracker. passthrough
// marks keys whose dependency ran with status Passthrough and so
// contributes the literal string "passthrough" instead of a real hash.
func (t *Tracker) ResolveDepHashes(depKeys []string, passthrough map[string]bool) (map[string]string, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	deps := make(map[string]string, len(depKeys))
	for _, key := range depKeys {
		if passthrough[key] {
			deps[key] = "passthrough"
			continue
		}
		h, ok := t.taskHashes[key]
		if !ok {
			return nil, errors.Errorf("taskhash: missing hash for dependency %q", key)
		}
		deps[key] = h
	}
	return deps, nil
}
