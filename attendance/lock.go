package attendance

import "sync"

// workerLocks serializes operations per worker. Entries are dropped once no
// goroutine holds or waits for them.
type workerLocks struct {
	mu    sync.Mutex
	locks map[WorkerID]*workerLock
}

type workerLock struct {
	sync.Mutex
	refs int
}

func newWorkerLocks() *workerLocks {
	return &workerLocks{locks: make(map[WorkerID]*workerLock)}
}

// Lock blocks until the worker is free and returns the matching unlock.
func (w *workerLocks) Lock(id WorkerID) func() {
	w.mu.Lock()
	l, ok := w.locks[id]
	if !ok {
		l = &workerLock{}
		w.locks[id] = l
	}
	l.refs++
	w.mu.Unlock()

	l.Lock()
	return func() {
		l.Unlock()
		w.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(w.locks, id)
		}
		w.mu.Unlock()
	}
}
