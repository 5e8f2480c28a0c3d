package server

import "sync"

// instanceLocks serializes lifecycle transitions per instance id. Callers
// that lose the race get a busy reply instead of queueing.
type instanceLocks struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func newInstanceLocks() *instanceLocks {
	return &instanceLocks{locks: make(map[string]*sync.Mutex)}
}

func (l *instanceLocks) get(id string) *sync.Mutex {
	l.mu.Lock()
	defer l.mu.Unlock()
	m, ok := l.locks[id]
	if !ok {
		m = &sync.Mutex{}
		l.locks[id] = m
	}
	return m
}

func (l *instanceLocks) TryLock(id string) bool {
	return l.get(id).TryLock()
}

func (l *instanceLocks) Unlock(id string) {
	l.get(id).Unlock()
}

// Busy reports whether a transition currently holds the lock for id.
func (l *instanceLocks) Busy(id string) bool {
	m := l.get(id)
	if m.TryLock() {
		m.Unlock()
		return false
	}
	return true
}
