package postgres

import (
	"context"
	"fmt"
	"time"

	"dlnIndexer/internal/storage"
)

const unlockTimeout = 5 * time.Second

// LockOwner takes a session advisory lock keyed by the owner name on a dedicated
// connection. The lock is dropped by the server if the connection is lost, so a
// crashed processor never blocks its successor.
func (s *Store) LockOwner(ctx context.Context, owner string) (func(), error) {
	if owner == "" {
		return nil, fmt.Errorf("lock owner required")
	}

	conn, err := s.pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire connection: %w", err)
	}

	var locked bool
	if err := conn.QueryRow(ctx, `SELECT pg_try_advisory_lock(hashtextextended($1, 0))`, owner).Scan(&locked); err != nil {
		conn.Release()
		return nil, fmt.Errorf("lock owner: %w", err)
	}
	if !locked {
		conn.Release()
		return nil, fmt.Errorf("lock owner %s: %w", owner, storage.ErrOwnerInUse)
	}

	unlock := func() {
		unlockCtx, cancel := context.WithTimeout(context.Background(), unlockTimeout)
		defer cancel()
		if _, err := conn.Exec(unlockCtx, `SELECT pg_advisory_unlock(hashtextextended($1, 0))`, owner); err != nil {
			// Closing the session drops the lock; the pool discards the closed connection.
			_ = conn.Conn().Close(unlockCtx)
		}
		conn.Release()
	}
	return unlock, nil
}
