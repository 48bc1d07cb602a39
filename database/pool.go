// Package database owns the engine's pgx connection pool. The pool coexists
// with a separately-pooled ORM layer on the same database, so it is sized to a
// fraction of the shared connection budget and watches its own pressure.
package database

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/base64"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"metahub/schemacore/config"
)

// Utilization ratio above which acquires are logged at warning level.
const pressureWarnRatio = 0.7

const heartbeatInterval = 30 * time.Second

// Executor is the subset of pgx query methods shared by *pgxpool.Pool and
// pgx.Tx. Components take an Executor so the same DDL helpers run standalone
// or inside a caller's transaction.
type Executor interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Database wraps the process-wide pgx pool plus the advisory-lock bookkeeping
// built on top of it.
type Database struct {
	pool *pgxpool.Pool
	cfg  *config.DatabaseConfig

	mu        sync.Mutex
	lockConns map[int64]*pgxpool.Conn

	heartbeatStop chan struct{}
}

var (
	instance     *Database
	instanceOnce sync.Once
)

// Instance lazily constructs the process-wide Database from the environment.
// Prefer Connect with an explicit config and dependency injection; Instance
// exists for call sites that want exactly-one-pool semantics without plumbing.
func Instance(ctx context.Context) (*Database, error) {
	var err error
	instanceOnce.Do(func() {
		var cfg *config.DatabaseConfig
		cfg, err = config.LoadEnv("")
		if err != nil {
			return
		}
		instance, err = Connect(ctx, cfg)
	})
	if err != nil {
		return nil, err
	}
	if instance == nil {
		return nil, fmt.Errorf("database instance failed to initialize on a previous call")
	}
	return instance, nil
}

// Connect builds the pool from cfg and verifies connectivity with a ping.
func Connect(ctx context.Context, cfg *config.DatabaseConfig) (*Database, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("database configuration: %w", err)
	}

	poolCfg, err := pgxpool.ParseConfig(cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("parsing DSN: %w", err)
	}

	poolCfg.MaxConns = int32(cfg.MaxConns)
	poolCfg.MinConns = 0
	poolCfg.MaxConnIdleTime = cfg.IdleTimeout
	poolCfg.ConnConfig.ConnectTimeout = cfg.ConnectTimeout

	if cfg.IsTransactionPooler() {
		// Transaction poolers multiplex sessions, so holding connections is
		// cheap for the server but session state is unreliable. Shorten the
		// idle window and flag it loudly.
		poolCfg.MaxConnIdleTime = 30 * time.Second
		log.Printf("warning: port %d looks like a transaction pooler; session-level features (advisory locks) need a direct connection", cfg.Port)
	}

	if cfg.CACertBase64 != "" {
		tlsCfg, err := tlsConfigFromBase64CA(cfg.CACertBase64, cfg.Host)
		if err != nil {
			return nil, fmt.Errorf("building TLS config: %w", err)
		}
		poolCfg.ConnConfig.TLSConfig = tlsCfg
	}

	db := &Database{
		cfg:       cfg,
		lockConns: make(map[int64]*pgxpool.Conn),
	}

	poolCfg.BeforeAcquire = func(_ context.Context, _ *pgx.Conn) bool {
		db.reportPressure("acquire")
		return true
	}
	poolCfg.AfterRelease = func(_ *pgx.Conn) bool {
		db.reportPressure("release")
		return true
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("creating connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}
	db.pool = pool

	if cfg.Debug {
		db.heartbeatStop = make(chan struct{})
		go db.heartbeat()
	}

	return db, nil
}

// Pool exposes the underlying pgxpool for callers that need pgx-specific
// surface (CopyFrom, listen/notify).
func (db *Database) Pool() *pgxpool.Pool { return db.pool }

// Begin starts a transaction on the pool.
func (db *Database) Begin(ctx context.Context) (pgx.Tx, error) {
	tx, err := db.pool.Begin(ctx)
	if err != nil {
		log.Printf("error: failed to begin transaction: %v", err)
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	return tx, nil
}

func (db *Database) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	return db.pool.Exec(ctx, sql, args...)
}

func (db *Database) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	return db.pool.Query(ctx, sql, args...)
}

func (db *Database) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	return db.pool.QueryRow(ctx, sql, args...)
}

// Ping checks connectivity.
func (db *Database) Ping(ctx context.Context) error {
	return db.pool.Ping(ctx)
}

// PoolStatus is a point-in-time view of pool pressure.
type PoolStatus struct {
	Used    int32
	Free    int32
	Pending int32
	Max     int32
}

// Status reports current pool utilization.
func (db *Database) Status() PoolStatus {
	stat := db.pool.Stat()
	return PoolStatus{
		Used:    stat.AcquiredConns(),
		Free:    stat.IdleConns(),
		Pending: int32(stat.EmptyAcquireCount()),
		Max:     stat.MaxConns(),
	}
}

// Destroy tears the pool down. Held advisory-lock connections are released
// first so Close does not block on them. Used on shutdown and in tests.
func (db *Database) Destroy() {
	if db.heartbeatStop != nil {
		close(db.heartbeatStop)
		db.heartbeatStop = nil
	}
	db.mu.Lock()
	for key, conn := range db.lockConns {
		conn.Release()
		delete(db.lockConns, key)
	}
	db.mu.Unlock()
	db.pool.Close()
}

func (db *Database) reportPressure(op string) {
	if db.pool == nil {
		return
	}
	stat := db.pool.Stat()
	if underPressure(stat.AcquiredConns(), stat.MaxConns()) {
		log.Printf("warning: connection pool pressure on %s: %d/%d used, %d idle", op, stat.AcquiredConns(), stat.MaxConns(), stat.IdleConns())
	}
}

// underPressure reports whether utilization is at or above the warn ratio.
func underPressure(used, max int32) bool {
	if max <= 0 {
		return false
	}
	return float64(used)/float64(max) >= pressureWarnRatio
}

func (db *Database) heartbeat() {
	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-db.heartbeatStop:
			return
		case <-ticker.C:
			s := db.Status()
			log.Printf("pool status: used=%d free=%d pending=%d max=%d", s.Used, s.Free, s.Pending, s.Max)
		}
	}
}

func tlsConfigFromBase64CA(caBase64, host string) (*tls.Config, error) {
	pem, err := base64.StdEncoding.DecodeString(caBase64)
	if err != nil {
		return nil, fmt.Errorf("decoding CA certificate: %w", err)
	}
	roots := x509.NewCertPool()
	if !roots.AppendCertsFromPEM(pem) {
		return nil, fmt.Errorf("CA certificate contains no valid PEM data")
	}
	return &tls.Config{RootCAs: roots, ServerName: host}, nil
}
