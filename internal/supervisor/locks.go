package supervisor

import (
	"context"
	"sync"
)

// sessionLocks serializes Start calls per session. Entries are refcounted so
// the map does not grow with every session ever seen.
type sessionLocks struct {
	mu    sync.Mutex
	locks map[string]*sessionLock
}

type sessionLock struct {
	sem  chan struct{}
	refs int
}

func newSessionLocks() *sessionLocks {
	return &sessionLocks{locks: make(map[string]*sessionLock)}
}

// Lock blocks until the session's lock is held or ctx is done. On success
// the returned function releases it.
func (l *sessionLocks) Lock(ctx context.Context, sessionID string) (func(), error) {
	l.mu.Lock()
	sl, ok := l.locks[sessionID]
	if !ok {
		sl = &sessionLock{sem: make(chan struct{}, 1)}
		l.locks[sessionID] = sl
	}
	sl.refs++
	l.mu.Unlock()

	select {
	case sl.sem <- struct{}{}:
		var once sync.Once
		return func() {
			once.Do(func() {
				<-sl.sem
				l.release(sessionID, sl)
			})
		}, nil
	case <-ctx.Done():
		l.release(sessionID, sl)
		return nil, ctx.Err()
	}
}

func (l *sessionLocks) release(sessionID string, sl *sessionLock) {
	l.mu.Lock()
	sl.refs--
	if sl.refs == 0 {
		delete(l.locks, sessionID)
	}
	l.mu.Unlock()
}

// Len returns the number of sessions with a held or awaited lock.
func (l *sessionLocks) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}
