package cache

import (
	"sync"

	"github.com/hashicorp/go-hclog"
)

// mirrorQueue fans out background uploads to a RemoteBackend across a fixed
// pool of workers, adapted from the teacher's async_cache.go queue/worker-pool
// shape (there wrapping Put itself; here scoped to the Mirror side channel
// only, since lookup/store stay synchronous against fsStore).
type mirrorQueue struct {
	remote RemoteBackend
	store  *fsStore
	logger hclog.Logger

	hashes chan string
	wg     sync.WaitGroup
}

func newMirrorQueue(remote RemoteBackend, store *fsStore, workers int, logger hclog.Logger) *mirrorQueue {
	q := &mirrorQueue{
		remote: remote,
		store:  store,
		logger: logger.Named("mirror"),
		hashes: make(chan string, 64),
	}
	q.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go q.run()
	}
	return q
}

// enqueue schedules hash for upload. It never blocks the caller beyond a full
// queue, and a full queue simply drops the request: a missed mirror upload
// never invalidates the local cache entry that already exists.
func (q *mirrorQueue) enqueue(hash string) {
	select {
	case q.hashes <- hash:
	default:
		q.logger.Warn("mirror queue full, dropping upload", "hash", hash)
	}
}

func (q *mirrorQueue) run() {
	defer q.wg.Done()
	for hash := range q.hashes {
		archive := q.store.archivePath(hash)
		if !archive.FileExists() {
			continue
		}
		if err := q.remote.Upload(hash, archive); err != nil {
			q.logger.Warn("remote upload failed", "hash", hash, "error", err)
		}
	}
}

func (q *mirrorQueue) shutdown() {
	close(q.hashes)
	q.wg.Wait()
}
