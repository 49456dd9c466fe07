package pipeline

// semaphore is a bounded worker-pool gate: a buffered channel of capacity N
// (SPEC_FULL.md §5's "the bounded worker pool is a buffered-channel
// semaphore"). Grounded on internal/core/scheduler.go's use of
// util.NewSemaphore around its dag.Walk dispatch — that helper's source was
// not present in the retrieved pack, so it's reimplemented here as the
// smallest type that satisfies the same acquire/release contract.
type semaphore chan struct{}

// newSemaphore creates a semaphore with n permits. n <= 0 is treated as 1:
// the pipeline always makes forward progress on at least one worker.
func newSemaphore(n int) semaphore {
	if n <= 0 {
		n = 1
	}
	return make(semaphore, n)
}

// acquire blocks until a permit is free.
func (s semaphore) acquire() {
	s <- struct{}{}
}

// release returns a permit.
func (s semaphore) release() {
	<-s
}
