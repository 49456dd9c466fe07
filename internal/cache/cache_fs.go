package cache

import (
	"encoding/json"
	"os"
	"time"

	"github.com/riftrun/rift/internal/cacheitem"
	"github.com/riftrun/rift/internal/turbopath"
)

// fsStore is the filesystem-backed archive store behind Cache: one
// `<hash>.tar.zst` archive plus a `<hash>-meta.json` sidecar per entry.
//
// Adapted from internal/cache/cache_fs.go's fsCache — same tar+zstd
// cacheitem archive and JSON sidecar metadata, but Put/Fetch are renamed
// to store/lookup and store now writes through a `.tmp` suffix before an
// atomic rename, satisfying §4.7's "a crashed store leaves either no
// entry or a complete entry, never a partial one" (the teacher's version
// wrote the final path directly and didn't need this guarantee, since its
// cache was advisory rather than this core's sole source of truth for
// cache correctness).
type fsStore struct {
	dir turbopath.AbsoluteSystemPath
}

func newFsStore(dir turbopath.AbsoluteSystemPath) (*fsStore, error) {
	if err := dir.MkdirAll(0775); err != nil {
		return nil, err
	}
	return &fsStore{dir: dir}, nil
}

func (s *fsStore) archivePath(hash string) turbopath.AbsoluteSystemPath {
	return s.dir.UntypedJoin(hash + ".tar.zst")
}

func (s *fsStore) metaPath(hash string) turbopath.AbsoluteSystemPath {
	return s.dir.UntypedJoin(hash + "-meta.json")
}

type cacheMeta struct {
	Hash       string   `json:"hash"`
	DurationMS int64    `json:"duration_ms"`
	Outputs    []string `json:"outputs"`
	// Stdout, Stderr: captured process output replayed verbatim on a
	// cache hit (§4.10 step 2). encoding/json marshals []byte as
	// base64 automatically, so this needs no bespoke encoding.
	Stdout []byte `json:"stdout,omitempty"`
	Stderr []byte `json:"stderr,omitempty"`
}

func (s *fsStore) lookup(hash string) (*CacheEntry, bool, error) {
	archive := s.archivePath(hash)
	if !archive.FileExists() {
		return nil, false, nil
	}

	meta, err := s.readMeta(hash)
	if err != nil {
		if os.IsNotExist(err) {
			// Archive renamed into place but metadata hasn't landed yet
			// (a store() in progress); treat as a clean miss rather than
			// surfacing a transient error.
			return nil, false, nil
		}
		return nil, false, err
	}

	outputs := make([]turbopath.AnchoredSystemPath, len(meta.Outputs))
	for i, o := range meta.Outputs {
		outputs[i] = turbopath.AnchoredSystemPath(o)
	}
	return &CacheEntry{
		Hash:     hash,
		Duration: time.Duration(meta.DurationMS) * time.Millisecond,
		Outputs:  outputs,
		Stdout:   meta.Stdout,
		Stderr:   meta.Stderr,
	}, true, nil
}

// restore replays a previously stored entry's files into anchor.
func (s *fsStore) restore(hash string, anchor turbopath.AbsoluteSystemPath) ([]turbopath.AnchoredSystemPath, error) {
	item, err := cacheitem.Open(s.archivePath(hash))
	if err != nil {
		return nil, err
	}
	defer item.Close()
	return item.Restore(anchor)
}

func (s *fsStore) store(hash string, anchor turbopath.AbsoluteSystemPath, outputs []turbopath.AnchoredSystemPath, duration time.Duration, stdout, stderr []byte) error {
	tmpArchive := s.dir.UntypedJoin(hash + ".tar.zst.tmp")

	item, err := cacheitem.Create(tmpArchive)
	if err != nil {
		return err
	}
	for _, f := range outputs {
		if err := item.AddFile(anchor, f); err != nil {
			_ = item.Close()
			_ = os.Remove(tmpArchive.ToString())
			return err
		}
	}
	if err := item.Close(); err != nil {
		_ = os.Remove(tmpArchive.ToString())
		return err
	}

	outputStrs := make([]string, len(outputs))
	for i, o := range outputs {
		outputStrs[i] = o.ToString()
	}
	meta := cacheMeta{Hash: hash, DurationMS: duration.Milliseconds(), Outputs: outputStrs, Stdout: stdout, Stderr: stderr}
	metaBytes, err := json.Marshal(meta)
	if err != nil {
		_ = os.Remove(tmpArchive.ToString())
		return err
	}
	tmpMeta := s.dir.UntypedJoin(hash + "-meta.json.tmp")
	if err := tmpMeta.WriteFile(metaBytes, 0644); err != nil {
		_ = os.Remove(tmpArchive.ToString())
		return err
	}

	// Rename the archive first, then the metadata: a reader that sees the
	// archive but not yet the metadata treats it as a miss, never a
	// partial hit.
	if err := os.Rename(tmpArchive.ToString(), s.archivePath(hash).ToString()); err != nil {
		_ = os.Remove(tmpMeta.ToString())
		return err
	}
	return os.Rename(tmpMeta.ToString(), s.metaPath(hash).ToString())
}

func (s *fsStore) readMeta(hash string) (*cacheMeta, error) {
	data, err := s.metaPath(hash).ReadFile()
	if err != nil {
		return nil, err
	}
	var meta cacheMeta
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, err
	}
	return &meta, nil
}
