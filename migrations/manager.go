// Package migrations persists the append-only history of applied migrations
// in a per-schema _sys_migrations table. Rows are created exactly once per
// recorded migration and never updated or deleted.
package migrations

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"metahub/schemacore/database"
	"metahub/schemacore/diff"
	"metahub/schemacore/naming"
	"metahub/schemacore/snapshot"
)

// TableName is the per-schema migration history table.
const TableName = "_sys_migrations"

// MetaFormatVersion is stamped into every meta blob, mirroring the snapshot
// format version, so future shape changes are detectable on read.
const MetaFormatVersion = 1

const maxDescriptionLength = 50

// Postgres error codes for "history does not exist yet", which is a normal
// state rather than a failure.
const (
	codeUndefinedTable    = "42P01"
	codeInvalidSchemaName = "3F000"
)

// MigrationMeta is the versioned JSON blob stored with every migration.
type MigrationMeta struct {
	Version        int                      `json:"version"`
	SnapshotBefore *snapshot.SchemaSnapshot `json:"snapshotBefore"`
	SnapshotAfter  *snapshot.SchemaSnapshot `json:"snapshotAfter"`
	Changes        []diff.SchemaChange      `json:"changes"`
	HasDestructive bool                     `json:"hasDestructive"`
}

// MigrationRecord is one applied migration.
type MigrationRecord struct {
	ID        uuid.UUID     `json:"id"`
	Name      string        `json:"name"`
	AppliedAt time.Time     `json:"appliedAt"`
	Meta      MigrationMeta `json:"meta"`
}

// MigrationPage is one page of history plus the total row count.
type MigrationPage struct {
	Migrations []MigrationRecord `json:"migrations"`
	Total      int               `json:"total"`
}

// ListOptions paginates ListMigrations.
type ListOptions struct {
	Limit  int
	Offset int
}

// Manager reads and writes migration history.
type Manager struct {
	exec database.Executor
}

func New(exec database.Executor) *Manager {
	return &Manager{exec: exec}
}

var nonAlnumRun = regexp.MustCompile(`[^a-z0-9]+`)

// GenerateMigrationName renders "{YYYYMMDD}_{HHMMSS}_{sanitized description}".
// Deterministic for a fixed clock: the caller supplies the timestamp.
func GenerateMigrationName(now time.Time, description string) string {
	sanitized := strings.ToLower(description)
	sanitized = nonAlnumRun.ReplaceAllString(sanitized, "_")
	sanitized = strings.Trim(sanitized, "_")
	if len(sanitized) > maxDescriptionLength {
		sanitized = strings.TrimRight(sanitized[:maxDescriptionLength], "_")
	}
	return now.Format("20060102_150405") + "_" + sanitized
}

// RecordMigration inserts one history row. When exec is the caller's
// transaction the record commits or rolls back atomically with the DDL it
// describes. Returns the generated record id.
func (m *Manager) RecordMigration(ctx context.Context, exec database.Executor, schemaName, name string, before, after *snapshot.SchemaSnapshot, d *diff.SchemaDiff) (uuid.UUID, error) {
	if exec == nil {
		exec = m.exec
	}
	schema, err := naming.Safe(schemaName)
	if err != nil {
		return uuid.Nil, fmt.Errorf("record migration: %w", err)
	}

	if err := m.ensureTable(ctx, exec, schema); err != nil {
		return uuid.Nil, err
	}

	meta := MigrationMeta{
		Version:        MetaFormatVersion,
		SnapshotBefore: before,
		SnapshotAfter:  after,
		Changes:        d.All(),
		HasDestructive: len(d.Destructive) > 0,
	}
	metaJSON, err := json.Marshal(meta)
	if err != nil {
		return uuid.Nil, fmt.Errorf("marshaling migration meta: %w", err)
	}

	id := uuid.New()
	_, err = exec.Exec(ctx,
		"INSERT INTO "+qualify(schema, TableName)+" (id, name, applied_at, meta) VALUES ($1, $2, now(), $3)",
		id, name, metaJSON,
	)
	if err != nil {
		return uuid.Nil, fmt.Errorf("recording migration %q: %w", name, err)
	}
	return id, nil
}

// ListMigrations returns a page of history ordered newest first. A schema or
// table that does not exist yet yields an empty page, not an error.
func (m *Manager) ListMigrations(ctx context.Context, schemaName string, opts ListOptions) (*MigrationPage, error) {
	schema, err := naming.Safe(schemaName)
	if err != nil {
		return nil, fmt.Errorf("list migrations: %w", err)
	}
	if opts.Limit <= 0 {
		opts.Limit = 50
	}
	if opts.Offset < 0 {
		opts.Offset = 0
	}

	page := &MigrationPage{Migrations: []MigrationRecord{}}

	err = m.exec.QueryRow(ctx, "SELECT count(*) FROM "+qualify(schema, TableName)).Scan(&page.Total)
	if err != nil {
		if isMissingHistory(err) {
			return page, nil
		}
		return nil, fmt.Errorf("counting migrations for %s: %w", schemaName, err)
	}

	rows, err := m.exec.Query(ctx,
		"SELECT id, name, applied_at, meta FROM "+qualify(schema, TableName)+" ORDER BY applied_at DESC LIMIT $1 OFFSET $2",
		opts.Limit, opts.Offset,
	)
	if err != nil {
		if isMissingHistory(err) {
			return page, nil
		}
		return nil, fmt.Errorf("listing migrations for %s: %w", schemaName, err)
	}
	defer rows.Close()

	for rows.Next() {
		record, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		page.Migrations = append(page.Migrations, *record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reading migrations for %s: %w", schemaName, err)
	}
	return page, nil
}

// GetMigration looks up a single record by id. A missing table or row yields
// nil, not an error.
func (m *Manager) GetMigration(ctx context.Context, schemaName string, id uuid.UUID) (*MigrationRecord, error) {
	schema, err := naming.Safe(schemaName)
	if err != nil {
		return nil, fmt.Errorf("get migration: %w", err)
	}
	row := m.exec.QueryRow(ctx,
		"SELECT id, name, applied_at, meta FROM "+qualify(schema, TableName)+" WHERE id = $1",
		id,
	)
	return m.scanOne(row, schemaName)
}

// GetLatestMigration returns the most recently applied migration, or nil when
// no history exists. The migrator uses it to reconstruct snapshotBefore.
func (m *Manager) GetLatestMigration(ctx context.Context, schemaName string) (*MigrationRecord, error) {
	schema, err := naming.Safe(schemaName)
	if err != nil {
		return nil, fmt.Errorf("get latest migration: %w", err)
	}
	row := m.exec.QueryRow(ctx,
		"SELECT id, name, applied_at, meta FROM "+qualify(schema, TableName)+" ORDER BY applied_at DESC LIMIT 1",
	)
	return m.scanOne(row, schemaName)
}

func (m *Manager) scanOne(row pgx.Row, schemaName string) (*MigrationRecord, error) {
	record, err := scanRecord(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) || isMissingHistory(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading migration for %s: %w", schemaName, err)
	}
	return record, nil
}

func (m *Manager) ensureTable(ctx context.Context, exec database.Executor, schema naming.SafeIdentifier) error {
	_, err := exec.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS `+qualify(schema, TableName)+` (
			id UUID PRIMARY KEY,
			name TEXT NOT NULL,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			meta JSONB NOT NULL
		)
	`)
	if err != nil {
		return fmt.Errorf("ensuring %s: %w", TableName, err)
	}
	return nil
}

func scanRecord(row pgx.Row) (*MigrationRecord, error) {
	var record MigrationRecord
	var metaJSON []byte
	if err := row.Scan(&record.ID, &record.Name, &record.AppliedAt, &metaJSON); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(metaJSON, &record.Meta); err != nil {
		return nil, fmt.Errorf("parsing migration meta: %w", err)
	}
	return &record, nil
}

func isMissingHistory(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == codeUndefinedTable || pgErr.Code == codeInvalidSchemaName
	}
	return false
}

func qualify(schema naming.SafeIdentifier, table string) string {
	return pgx.Identifier{schema.String(), table}.Sanitize()
}
