package subscriptions

import "sync"

// userLocks serializes control operations per username so a double-submitted
// cancel does not send two mutation requests to the processor.
type userLocks struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func newUserLocks() *userLocks {
	return &userLocks{locks: map[string]*sync.Mutex{}}
}

func (l *userLocks) lock(username string) func() {
	l.mu.Lock()
	m, ok := l.locks[username]
	if !ok {
		m = &sync.Mutex{}
		l.locks[username] = m
	}
	l.mu.Unlock()

	m.Lock()
	return m.Unlock
}
