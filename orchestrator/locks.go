package orchestrator

import (
	"context"
	"sync"
	"time"

	"github.com/deepmedical/core/session"
)

// localLocker is the in-process fallback for session.RunLocker, used when
// a Store backend (e.g. the sqlite one) doesn't need a distributed lease
// because nothing outside this process ever drives the same session.
type localLocker struct {
	mu    sync.Mutex
	owner map[string]string
}

var _ session.RunLocker = (*localLocker)(nil)

func newLocalLocker() *localLocker {
	return &localLocker{owner: map[string]string{}}
}

func (l *localLocker) AcquireRunLock(ctx context.Context, sessionID, owner string, ttl time.Duration) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if cur, held := l.owner[sessionID]; held && cur != owner {
		return false, nil
	}
	l.owner[sessionID] = owner
	return true, nil
}

func (l *localLocker) ReleaseRunLock(ctx context.Context, sessionID, owner string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if cur, held := l.owner[sessionID]; held && cur == owner {
		delete(l.owner, sessionID)
	}
	return nil
}
