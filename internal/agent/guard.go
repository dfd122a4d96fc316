package agent

import (
	"context"
	"sync"
)

// TurnGuard enforces at most one active turn per session. TryAcquire never
// waits: a held session yields ErrSessionBusy.
type TurnGuard interface {
	TryAcquire(ctx context.Context, sessionID string) (release func(), err error)
}

// LocalGuard is an in-process TurnGuard.
type LocalGuard struct {
	mu     sync.Mutex
	active map[string]struct{}
}

// NewLocalGuard creates an empty guard.
func NewLocalGuard() *LocalGuard {
	return &LocalGuard{active: make(map[string]struct{})}
}

// TryAcquire marks sessionID active or reports ErrSessionBusy.
func (g *LocalGuard) TryAcquire(_ context.Context, sessionID string) (func(), error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, busy := g.active[sessionID]; busy {
		return nil, ErrSessionBusy
	}
	g.active[sessionID] = struct{}{}

	var once sync.Once
	return func() {
		once.Do(func() {
			g.mu.Lock()
			delete(g.active, sessionID)
			g.mu.Unlock()
		})
	}, nil
}

// Active reports whether a turn currently holds sessionID.
func (g *LocalGuard) Active(sessionID string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	_, ok := g.active[sessionID]
	return ok
}
