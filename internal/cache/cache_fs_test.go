package cache

import (
	"testing"
	"time"

	"gotest.tools/v3/assert"

	"github.com/riftrun/rift/internal/turbopath"
)

func writeSourceFile(t *testing.T, anchor turbopath.AbsoluteSystemPath, rel turbopath.AnchoredSystemPath, contents string) {
	t.Helper()
	full := rel.RestoreAnchor(anchor)
	assert.NilError(t, full.Dir().MkdirAll(0775), "mkdir parent")
	f, err := full.Create()
	assert.NilError(t, err, "create")
	_, err = f.WriteString(contents)
	assert.NilError(t, err, "write")
	assert.NilError(t, f.Close(), "close")
}

func TestFsStoreStoreThenLookupThenRestore(t *testing.T) {
	src := turbopath.AbsoluteSystemPath(t.TempDir())
	aPath := turbopath.AnchoredUnixPath("a.txt").ToSystemPath()
	writeSourceFile(t, src, aPath, "hello")

	dir := turbopath.AbsoluteSystemPath(t.TempDir())
	store, err := newFsStore(dir)
	assert.NilError(t, err, "newFsStore")

	hash := "deadbeef"
	outputs := []turbopath.AnchoredSystemPath{aPath}
	assert.NilError(t, store.store(hash, src, outputs, 42*time.Millisecond, []byte("stdout"), []byte("stderr")), "store")

	entry, hit, err := store.lookup(hash)
	assert.NilError(t, err, "lookup")
	assert.Assert(t, hit, "expected a hit after store")
	assert.Equal(t, entry.Hash, hash)
	assert.Equal(t, entry.Duration, 42*time.Millisecond)
	assert.Equal(t, len(entry.Outputs), 1)
	assert.Equal(t, string(entry.Stdout), "stdout")
	assert.Equal(t, string(entry.Stderr), "stderr")

	dst := turbopath.AbsoluteSystemPath(t.TempDir())
	restored, err := store.restore(hash, dst)
	assert.NilError(t, err, "restore")
	assert.Assert(t, len(restored) >= 1)

	restoredContents, err := dst.UntypedJoin("a.txt").ReadFile()
	assert.NilError(t, err, "read restored file")
	assert.Equal(t, string(restoredContents), "hello")
}

func TestFsStoreLookupMissIsNotAnError(t *testing.T) {
	dir := turbopath.AbsoluteSystemPath(t.TempDir())
	store, err := newFsStore(dir)
	assert.NilError(t, err, "newFsStore")

	entry, hit, err := store.lookup("never-stored")
	assert.NilError(t, err, "lookup")
	assert.Assert(t, !hit)
	assert.Assert(t, entry == nil)
}

func TestFsStoreStoreIsAtomic(t *testing.T) {
	src := turbopath.AbsoluteSystemPath(t.TempDir())
	aPath := turbopath.AnchoredUnixPath("a.txt").ToSystemPath()
	writeSourceFile(t, src, aPath, "hello")

	dir := turbopath.AbsoluteSystemPath(t.TempDir())
	store, err := newFsStore(dir)
	assert.NilError(t, err, "newFsStore")

	hash := "atomic-hash"
	assert.NilError(t, store.store(hash, src, []turbopath.AnchoredSystemPath{aPath}, 0, nil, nil), "store")

	// No .tmp artifacts should remain once store() returns.
	assert.Assert(t, !dir.UntypedJoin(hash+".tar.zst.tmp").FileExists())
	assert.Assert(t, !dir.UntypedJoin(hash+"-meta.json.tmp").FileExists())
	assert.Assert(t, dir.UntypedJoin(hash+".tar.zst").FileExists())
	assert.Assert(t, dir.UntypedJoin(hash+"-meta.json").FileExists())
}
