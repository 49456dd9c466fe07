package cache

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"gotest.tools/v3/assert"

	"github.com/riftrun/rift/internal/turbopath"
)

func newTestCache(t *testing.T, mode Mode) *Cache {
	t.Helper()
	c, err := New(Options{
		Dir:  turbopath.AbsoluteSystemPath(t.TempDir()),
		Mode: mode,
	})
	assert.NilError(t, err, "New")
	return c
}

func TestCacheStoreThenLookup(t *testing.T) {
	c := newTestCache(t, ModeReadWrite)

	src := turbopath.AbsoluteSystemPath(t.TempDir())
	aPath := turbopath.AnchoredUnixPath("a.txt").ToSystemPath()
	writeSourceFile(t, src, aPath, "hello")

	err := c.Store("hash-1", src, []turbopath.AnchoredSystemPath{aPath}, 10*time.Millisecond, []byte("out"), []byte("err"))
	assert.NilError(t, err, "Store")

	entry, hit, err := c.Lookup("hash-1")
	assert.NilError(t, err, "Lookup")
	assert.Assert(t, hit)
	assert.Equal(t, entry.Hash, "hash-1")
	assert.Equal(t, string(entry.Stdout), "out")
	assert.Equal(t, string(entry.Stderr), "err")
}

func TestCacheReadOnlyModeSkipsStore(t *testing.T) {
	c := newTestCache(t, ModeReadOnly)

	src := turbopath.AbsoluteSystemPath(t.TempDir())
	aPath := turbopath.AnchoredUnixPath("a.txt").ToSystemPath()
	writeSourceFile(t, src, aPath, "hello")

	assert.NilError(t, c.Store("hash-2", src, []turbopath.AnchoredSystemPath{aPath}, 0, nil, nil), "Store")

	_, hit, err := c.Lookup("hash-2")
	assert.NilError(t, err, "Lookup")
	assert.Assert(t, !hit, "read-only Store must be a no-op")
}

func TestCacheWriteOnlyModeSkipsLookup(t *testing.T) {
	c := newTestCache(t, ModeWriteOnly)

	src := turbopath.AbsoluteSystemPath(t.TempDir())
	aPath := turbopath.AnchoredUnixPath("a.txt").ToSystemPath()
	writeSourceFile(t, src, aPath, "hello")

	assert.NilError(t, c.Store("hash-3", src, []turbopath.AnchoredSystemPath{aPath}, 0, nil, nil), "Store")

	_, hit, err := c.Lookup("hash-3")
	assert.NilError(t, err, "Lookup")
	assert.Assert(t, !hit, "write-only Lookup must short-circuit to a miss")
}

func TestCacheLookupMissWithoutStore(t *testing.T) {
	c := newTestCache(t, ModeReadWrite)
	entry, hit, err := c.Lookup("never-stored")
	assert.NilError(t, err, "Lookup")
	assert.Assert(t, !hit)
	assert.Assert(t, entry == nil)
}

// recordingBackend counts uploads and lets a test block until N have landed.
type recordingBackend struct {
	mu      sync.Mutex
	uploads []string
	done    chan struct{}
	want    int32
	got     int32
}

func (b *recordingBackend) Upload(hash string, archive turbopath.AbsoluteSystemPath) error {
	b.mu.Lock()
	b.uploads = append(b.uploads, hash)
	b.mu.Unlock()
	if atomic.AddInt32(&b.got, 1) == b.want {
		close(b.done)
	}
	return nil
}

func TestCacheMirrorUploadsToRemoteBackend(t *testing.T) {
	backend := &recordingBackend{done: make(chan struct{}), want: 1}

	c, err := New(Options{
		Dir:    turbopath.AbsoluteSystemPath(t.TempDir()),
		Mode:   ModeReadWrite,
		Remote: backend,
	})
	assert.NilError(t, err, "New")
	defer c.Shutdown()

	src := turbopath.AbsoluteSystemPath(t.TempDir())
	aPath := turbopath.AnchoredUnixPath("a.txt").ToSystemPath()
	writeSourceFile(t, src, aPath, "hello")
	assert.NilError(t, c.Store("hash-4", src, []turbopath.AnchoredSystemPath{aPath}, 0, nil, nil), "Store")

	c.Mirror("hash-4")

	select {
	case <-backend.done:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for mirror upload")
	}

	backend.mu.Lock()
	defer backend.mu.Unlock()
	assert.Equal(t, len(backend.uploads), 1)
	assert.Equal(t, backend.uploads[0], "hash-4")
}

func TestCacheMirrorWithoutRemoteIsNoop(t *testing.T) {
	c := newTestCache(t, ModeReadWrite)
	// Must not panic or block when no remote backend is configured.
	c.Mirror("whatever")
	c.Shutdown()
}
