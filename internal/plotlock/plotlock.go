package plotlock

import "sync"

// Locker hands out one mutex per plot so that read-merge-write sequences
// for the same plot never interleave. Different plots never contend.
type Locker struct {
	mu    sync.Mutex
	locks map[int64]*entry
}

type entry struct {
	mu   sync.Mutex
	refs int
}

// New creates an empty Locker.
func New() *Locker {
	return &Locker{locks: make(map[int64]*entry)}
}

// Lock blocks until the plot's mutex is held and returns its release func.
func (l *Locker) Lock(plotID int64) func() {
	l.mu.Lock()
	e, ok := l.locks[plotID]
	if !ok {
		e = &entry{}
		l.locks[plotID] = e
	}
	e.refs++
	l.mu.Unlock()

	e.mu.Lock()
	return func() {
		e.mu.Unlock()

		l.mu.Lock()
		e.refs--
		if e.refs == 0 {
			delete(l.locks, plotID)
		}
		l.mu.Unlock()
	}
}

// Len returns the number of plots currently locked or waited on.
func (l *Locker) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}
