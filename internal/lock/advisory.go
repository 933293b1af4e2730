package lock

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
)

// AdvisoryLock is an exclusive run lock backed by a Postgres session
// advisory lock. The lock is session-scoped, so it lives on a dedicated
// connection held for the run's duration; if the process dies, Postgres
// releases the lock server-side.
type AdvisoryLock struct {
	db  *sql.DB
	key int64

	mu   sync.Mutex
	conn *sql.Conn
}

// NewAdvisoryLock creates an AdvisoryLock on the given key. All jobsync
// invocations sharing the same database must use the same key.
func NewAdvisoryLock(db *sql.DB, key int64) *AdvisoryLock {
	return &AdvisoryLock{db: db, key: key}
}

// Acquire takes the advisory lock without blocking.
// Returns ErrHeld if another session holds it.
func (l *AdvisoryLock) Acquire() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.conn != nil {
		return fmt.Errorf("advisory lock: already acquired")
	}

	ctx := context.Background()
	conn, err := l.db.Conn(ctx)
	if err != nil {
		return fmt.Errorf("advisory lock: dedicated connection: %w", err)
	}

	var acquired bool
	if err := conn.QueryRowContext(ctx, "SELECT pg_try_advisory_lock($1)", l.key).Scan(&acquired); err != nil {
		conn.Close()
		return fmt.Errorf("advisory lock: query: %w", err)
	}
	if !acquired {
		conn.Close()
		return fmt.Errorf("%w (advisory key %d)", ErrHeld, l.key)
	}

	l.conn = conn
	return nil
}

// Release unlocks and returns the dedicated connection to the pool.
func (l *AdvisoryLock) Release() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.conn == nil {
		return nil
	}
	conn := l.conn
	l.conn = nil

	_, err := conn.ExecContext(context.Background(), "SELECT pg_advisory_unlock($1)", l.key)
	if cerr := conn.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return fmt.Errorf("advisory lock: release: %w", err)
	}
	return nil
}
