package database

import (
	"context"
	"fmt"
	"hash/fnv"
	"log"
)

// Session-level advisory locks serialize concurrent migrations of the same
// schema. pg_advisory_lock is scoped to the acquiring session, so the pooled
// connection that took a lock is pinned until the matching release.

// SchemaLockKey hashes a schema name into the advisory-lock key space. The
// hash is deterministic so every process derives the same key for a schema.
func SchemaLockKey(schemaName string) int64 {
	h := fnv.New64a()
	h.Write([]byte(schemaName))
	return int64(h.Sum64())
}

// AcquireAdvisoryLock attempts a non-blocking session advisory lock. It
// returns false when another session holds the key, which callers interpret
// as "a migration is already in progress".
func (db *Database) AcquireAdvisoryLock(ctx context.Context, key int64) (bool, error) {
	acquireCtx, cancel := context.WithTimeout(ctx, db.cfg.AcquireTimeout)
	defer cancel()

	conn, err := db.pool.Acquire(acquireCtx)
	if err != nil {
		// A timed-out acquire usually means the pool is saturated; surface
		// utilization alongside the failure.
		db.reportPressure("lock acquire failure")
		log.Printf("error: failed to acquire connection for advisory lock %d: %v", key, err)
		return false, fmt.Errorf("acquiring connection for advisory lock: %w", err)
	}

	var locked bool
	if err := conn.QueryRow(ctx, "SELECT pg_try_advisory_lock($1)", key).Scan(&locked); err != nil {
		conn.Release()
		return false, fmt.Errorf("acquiring advisory lock %d: %w", key, err)
	}
	if !locked {
		conn.Release()
		return false, nil
	}

	db.mu.Lock()
	db.lockConns[key] = conn
	db.mu.Unlock()
	return true, nil
}

// ReleaseAdvisoryLock releases a lock taken by AcquireAdvisoryLock and returns
// the pinned connection to the pool. Releasing a key that is not held is a
// no-op so cleanup paths can call it unconditionally.
func (db *Database) ReleaseAdvisoryLock(ctx context.Context, key int64) error {
	db.mu.Lock()
	conn, ok := db.lockConns[key]
	delete(db.lockConns, key)
	db.mu.Unlock()
	if !ok {
		return nil
	}
	defer conn.Release()

	var released bool
	if err := conn.QueryRow(ctx, "SELECT pg_advisory_unlock($1)", key).Scan(&released); err != nil {
		return fmt.Errorf("releasing advisory lock %d: %w", key, err)
	}
	if !released {
		log.Printf("warning: advisory lock %d was not held by its pinned session", key)
	}
	return nil
}
