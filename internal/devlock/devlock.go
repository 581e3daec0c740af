package devlock

import "sync"

// Locker hands out one mutex per device key. Every path that read-modify-
// writes a device row (bus handlers, HTTP handlers) must serialize through
// the same Locker instance, or concurrent merges lose updates.
type Locker struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// New creates an empty locker.
func New() *Locker {
	return &Locker{locks: make(map[string]*sync.Mutex)}
}

// Lock acquires the key's mutex, creating it on first use, and returns the
// unlock function. Distinct keys never contend.
func (l *Locker) Lock(key string) func() {
	l.mu.Lock()
	m, ok := l.locks[key]
	if !ok {
		m = &sync.Mutex{}
		l.locks[key] = m
	}
	l.mu.Unlock()
	m.Lock()
	return m.Unlock
}
