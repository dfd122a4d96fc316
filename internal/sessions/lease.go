package sessions

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/haasonsaas/agentbridge/internal/agent"
)

// LeaseGuardConfig configures the DB-backed turn guard.
type LeaseGuardConfig struct {
	OwnerID         string
	TTL             time.Duration
	RefreshInterval time.Duration
	Logger          *slog.Logger
}

// DefaultLeaseGuardConfig returns default settings for LeaseGuard.
func DefaultLeaseGuardConfig() LeaseGuardConfig {
	return LeaseGuardConfig{
		TTL:             2 * time.Minute,
		RefreshInterval: 30 * time.Second,
	}
}

// LeaseGuard implements agent.TurnGuard with a lease row per session in
// session_leases, so replicas sharing a database never run two turns for
// one session. A lease held by a crashed owner expires after TTL; live
// owners renew theirs every RefreshInterval.
type LeaseGuard struct {
	db      *sql.DB
	dialect dialect
	config  LeaseGuardConfig
	logger  *slog.Logger

	mu     sync.Mutex
	renew  map[string]context.CancelFunc
	closed bool
}

var _ agent.TurnGuard = (*LeaseGuard)(nil)

// NewLeaseGuard creates a lease guard on the store's database.
func NewLeaseGuard(store *SQLStore, cfg LeaseGuardConfig) (*LeaseGuard, error) {
	if store == nil {
		return nil, errors.New("store is required")
	}
	return newLeaseGuard(store.db, store.dialect, cfg), nil
}

func newLeaseGuard(db *sql.DB, d dialect, cfg LeaseGuardConfig) *LeaseGuard {
	defaults := DefaultLeaseGuardConfig()
	if cfg.OwnerID == "" {
		cfg.OwnerID = uuid.NewString()
	}
	if cfg.TTL <= 0 {
		cfg.TTL = defaults.TTL
	}
	if cfg.RefreshInterval <= 0 {
		cfg.RefreshInterval = cfg.TTL / 4
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &LeaseGuard{
		db:      db,
		dialect: d,
		config:  cfg,
		logger:  logger.With("component", "lease_guard", "owner_id", cfg.OwnerID),
		renew:   make(map[string]context.CancelFunc),
	}
}

// TryAcquire takes the session lease or fails with agent.ErrSessionBusy.
// It never waits for a held lease.
func (l *LeaseGuard) TryAcquire(ctx context.Context, sessionID string) (func(), error) {
	if strings.TrimSpace(sessionID) == "" {
		return nil, errors.New("session_id is required")
	}

	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil, errors.New("lease guard closed")
	}
	if _, held := l.renew[sessionID]; held {
		l.mu.Unlock()
		return nil, agent.ErrSessionBusy
	}
	renewCtx, cancel := context.WithCancel(context.Background())
	l.renew[sessionID] = cancel
	l.mu.Unlock()

	ok, err := l.tryAcquire(ctx, sessionID)
	if err != nil || !ok {
		l.forget(sessionID)
		cancel()
		if err != nil {
			return nil, fmt.Errorf("acquire lease for %s: %w", sessionID, err)
		}
		return nil, agent.ErrSessionBusy
	}

	go l.renewLoop(renewCtx, sessionID)

	var once sync.Once
	return func() {
		once.Do(func() { l.release(sessionID) })
	}, nil
}

// Close stops all renew loops. Held leases expire via TTL.
func (l *LeaseGuard) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil
	}
	l.closed = true
	for _, cancel := range l.renew {
		cancel()
	}
	l.renew = make(map[string]context.CancelFunc)
	return nil
}

func (l *LeaseGuard) tryAcquire(ctx context.Context, sessionID string) (bool, error) {
	now := time.Now().UTC()
	expiresAt := now.Add(l.config.TTL)
	var owner string
	err := l.db.QueryRowContext(ctx, l.dialect.rebind(`
		INSERT INTO session_leases (session_id, owner_id, acquired_at, expires_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (session_id) DO UPDATE
		SET owner_id = EXCLUDED.owner_id,
			acquired_at = EXCLUDED.acquired_at,
			expires_at = EXCLUDED.expires_at
		WHERE session_leases.expires_at < EXCLUDED.acquired_at
		RETURNING owner_id
	`), sessionID, l.config.OwnerID, now, expiresAt).Scan(&owner)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return owner == l.config.OwnerID, nil
}

func (l *LeaseGuard) release(sessionID string) {
	if cancel := l.forget(sessionID); cancel != nil {
		cancel()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if _, err := l.db.ExecContext(ctx, l.dialect.rebind(`
		DELETE FROM session_leases
		WHERE session_id = ? AND owner_id = ?
	`), sessionID, l.config.OwnerID); err != nil {
		l.logger.Warn("lease release failed; it will expire", "session_id", sessionID, "error", err)
	}
}

func (l *LeaseGuard) forget(sessionID string) context.CancelFunc {
	l.mu.Lock()
	defer l.mu.Unlock()
	cancel, ok := l.renew[sessionID]
	if !ok {
		return nil
	}
	delete(l.renew, sessionID)
	return cancel
}

func (l *LeaseGuard) renewLoop(ctx context.Context, sessionID string) {
	ticker := time.NewTicker(l.config.RefreshInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !l.extendLease(ctx, sessionID) {
				l.logger.Warn("lease lost", "session_id", sessionID)
				return
			}
		}
	}
}

func (l *LeaseGuard) extendLease(ctx context.Context, sessionID string) bool {
	expiresAt := time.Now().UTC().Add(l.config.TTL)
	result, err := l.db.ExecContext(ctx, l.dialect.rebind(`
		UPDATE session_leases
		SET expires_at = ?
		WHERE session_id = ? AND owner_id = ?
	`), expiresAt, sessionID, l.config.OwnerID)
	if err != nil {
		return false
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false
	}
	return rows > 0
}
