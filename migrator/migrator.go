// Package migrator applies schema diffs transactionally. Every attempt moves
// through acquire-lock, single transaction, commit-or-rollback, release-lock;
// the advisory lock is scoped per schema so different schemas migrate in
// parallel while concurrent attempts on one schema serialize strictly.
package migrator

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"metahub/schemacore/database"
	"metahub/schemacore/diff"
	"metahub/schemacore/entity"
	"metahub/schemacore/generator"
	"metahub/schemacore/metadata"
	"metahub/schemacore/migrations"
	"metahub/schemacore/naming"
	"metahub/schemacore/snapshot"
)

// DB is what the migrator needs from the pool manager: query execution,
// transactions and per-schema advisory locks.
type DB interface {
	database.Executor
	Begin(ctx context.Context) (pgx.Tx, error)
	AcquireAdvisoryLock(ctx context.Context, key int64) (bool, error)
	ReleaseAdvisoryLock(ctx context.Context, key int64) error
}

// MigrationResult reports one apply attempt. Driver errors are re-wrapped
// with the change they belong to; callers inspect Success and Errors, never
// pgx error types.
type MigrationResult struct {
	Success        bool       `json:"success"`
	SchemaName     string     `json:"schemaName"`
	ChangesApplied int        `json:"changesApplied"`
	MigrationID    *uuid.UUID `json:"migrationId,omitempty"`
	MigrationName  string     `json:"migrationName,omitempty"`
	Errors         []string   `json:"errors,omitempty"`
}

// ApplyOptions tunes one apply call.
type ApplyOptions struct {
	// RecordMigration writes a history row inside the same transaction.
	RecordMigration bool
	// Description feeds the generated migration name; the diff summary is
	// used when empty.
	Description string
}

// Migrator applies classified schema diffs.
type Migrator struct {
	db      DB
	gen     *generator.Generator
	manager *migrations.Manager
	meta    *metadata.Synchronizer

	// now is injectable for deterministic migration names in tests.
	now func() time.Time
}

func New(db DB, gen *generator.Generator, manager *migrations.Manager, meta *metadata.Synchronizer) *Migrator {
	return &Migrator{
		db:      db,
		gen:     gen,
		manager: manager,
		meta:    meta,
		now:     time.Now,
	}
}

// ApplyAdditiveChanges applies only the additive half of a diff. Lock failure
// means another migration holds the schema and fails the call immediately.
func (m *Migrator) ApplyAdditiveChanges(ctx context.Context, schemaName string, d *diff.SchemaDiff, entities []entity.EntityDefinition, opts ApplyOptions) *MigrationResult {
	additive := &diff.SchemaDiff{
		Additive:   d.Additive,
		HasChanges: len(d.Additive) > 0,
		Summary:    d.Summary,
	}
	return m.apply(ctx, schemaName, additive, entities, opts)
}

// ApplyAllChanges applies destructive changes first, then additive ones, in
// one transaction. When the diff contains destructive changes and
// confirmedDestructive is false the call is refused before any lock or DDL:
// the error message enumerates every destructive change for review.
func (m *Migrator) ApplyAllChanges(ctx context.Context, schemaName string, d *diff.SchemaDiff, entities []entity.EntityDefinition, confirmedDestructive bool, opts ApplyOptions) *MigrationResult {
	if len(d.Destructive) > 0 && !confirmedDestructive {
		descriptions := make([]string, len(d.Destructive))
		for i, change := range d.Destructive {
			descriptions[i] = change.Description
		}
		return &MigrationResult{
			SchemaName: schemaName,
			Errors: []string{
				fmt.Sprintf("refusing to apply %d destructive change(s) without confirmation: %s",
					len(d.Destructive), strings.Join(descriptions, "; ")),
			},
		}
	}
	return m.apply(ctx, schemaName, d, entities, opts)
}

func (m *Migrator) apply(ctx context.Context, schemaName string, d *diff.SchemaDiff, entities []entity.EntityDefinition, opts ApplyOptions) *MigrationResult {
	result := &MigrationResult{SchemaName: schemaName}

	schema, err := naming.Safe(schemaName)
	if err != nil {
		result.Errors = append(result.Errors, err.Error())
		return result
	}

	if !d.HasChanges {
		result.Success = true
		return result
	}

	// The previous snapshot comes from recorded history, so callers never
	// persist snapshots themselves. Read it before taking the lock; it only
	// feeds the audit record.
	var snapshotBefore *snapshot.SchemaSnapshot
	if opts.RecordMigration {
		latest, err := m.manager.GetLatestMigration(ctx, schemaName)
		if err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("loading previous snapshot: %v", err))
			return result
		}
		if latest != nil {
			snapshotBefore = latest.Meta.SnapshotAfter
		}
	}

	lockKey := database.SchemaLockKey(schemaName)
	locked, err := m.db.AcquireAdvisoryLock(ctx, lockKey)
	if err != nil {
		result.Errors = append(result.Errors, fmt.Sprintf("acquiring migration lock: %v", err))
		return result
	}
	if !locked {
		result.Errors = append(result.Errors, fmt.Sprintf("could not acquire advisory lock for schema %s: another migration is in progress", schemaName))
		return result
	}
	// Guaranteed release on every exit path, including mid-transaction
	// failures. Background context so a canceled caller cannot leak the lock.
	defer func() {
		if err := m.db.ReleaseAdvisoryLock(context.Background(), lockKey); err != nil {
			log.Printf("error: failed to release advisory lock for schema %s: %v", schemaName, err)
		}
	}()

	tx, err := m.db.Begin(ctx)
	if err != nil {
		result.Errors = append(result.Errors, fmt.Sprintf("beginning migration transaction: %v", err))
		return result
	}
	defer rollbackOrCommit(tx, &err)

	for _, change := range d.All() {
		if err = m.applyChange(ctx, tx, schema, change, entities); err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("%s: %v", change.Description, err))
			// The rollback undoes everything already applied.
			result.ChangesApplied = 0
			return result
		}
		result.ChangesApplied++
	}

	// Stale metadata rows only exist after destructive changes.
	if err = m.meta.Sync(ctx, tx, schemaName, entities, metadata.SyncOptions{RemoveMissing: len(d.Destructive) > 0}); err != nil {
		result.Errors = append(result.Errors, err.Error())
		result.ChangesApplied = 0
		return result
	}

	if opts.RecordMigration {
		description := opts.Description
		if description == "" {
			description = d.Summary
		}
		name := migrations.GenerateMigrationName(m.now(), description)
		snapshotAfter := snapshot.Build(entities)
		var id uuid.UUID
		id, err = m.manager.RecordMigration(ctx, tx, schemaName, name, snapshotBefore, snapshotAfter, d)
		if err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("recording migration: %v", err))
			result.ChangesApplied = 0
			return result
		}
		result.MigrationID = &id
		result.MigrationName = name
	}

	// rollbackOrCommit commits on the way out since err is nil here; a failed
	// commit flips err and the result below reflects it.
	if commitErr := finishTx(tx, &err); commitErr != nil {
		result.Errors = append(result.Errors, fmt.Sprintf("committing migration: %v", commitErr))
		result.ChangesApplied = 0
		return result
	}

	result.Success = true
	return result
}

// applyChange renders and executes the DDL for one change inside tx.
func (m *Migrator) applyChange(ctx context.Context, exec database.Executor, schema naming.SafeIdentifier, change diff.SchemaChange, entities []entity.EntityDefinition) error {
	switch change.Type {
	case diff.ChangeAddTable:
		ent := entity.FindByID(entities, change.EntityID)
		if ent == nil {
			return fmt.Errorf("entity %s not found in model", change.EntityID)
		}
		return m.gen.CreateEntityTable(ctx, exec, schema.String(), *ent)

	case diff.ChangeDropTable:
		_, err := exec.Exec(ctx, "DROP TABLE IF EXISTS "+qualify(schema, change.TableName)+" CASCADE")
		return err

	case diff.ChangeAddColumn:
		sql := fmt.Sprintf("ALTER TABLE %s ADD COLUMN IF NOT EXISTS %s %s",
			qualify(schema, change.TableName), quote(change.ColumnName), generator.MapDataType(change.DataType))
		if _, err := exec.Exec(ctx, sql); err != nil {
			return err
		}
		if change.IsRequired {
			// A NOT NULL addition with no default fails on populated tables,
			// so the constraint lands in a second statement after the column
			// exists. Callers accept transient nulls or pre-populate first.
			sql := fmt.Sprintf("ALTER TABLE %s ALTER COLUMN %s SET NOT NULL",
				qualify(schema, change.TableName), quote(change.ColumnName))
			if _, err := exec.Exec(ctx, sql); err != nil {
				return err
			}
		}
		return nil

	case diff.ChangeDropColumn:
		sql := fmt.Sprintf("ALTER TABLE %s DROP COLUMN IF EXISTS %s",
			qualify(schema, change.TableName), quote(change.ColumnName))
		_, err := exec.Exec(ctx, sql)
		return err

	case diff.ChangeAlterColumn:
		return m.applyAlterColumn(ctx, exec, schema, change)

	case diff.ChangeAddFK:
		if change.TargetEntityID == nil {
			return nil
		}
		target := entity.FindByID(entities, *change.TargetEntityID)
		if target == nil {
			log.Printf("warning: foreign-key target entity %s not found in model; skipping %s", *change.TargetEntityID, change.ConstraintName)
			return nil
		}
		targetTable := naming.GenerateTableName(target.ID, target.Kind)
		sql := fmt.Sprintf("ALTER TABLE %s ADD CONSTRAINT %s FOREIGN KEY (%s) REFERENCES %s (id) ON DELETE SET NULL",
			qualify(schema, change.TableName), quote(change.ConstraintName), quote(change.ColumnName), qualify(schema, targetTable))
		_, err := exec.Exec(ctx, sql)
		return err

	case diff.ChangeDropFK:
		sql := fmt.Sprintf("ALTER TABLE %s DROP CONSTRAINT IF EXISTS %s",
			qualify(schema, change.TableName), quote(change.ConstraintName))
		_, err := exec.Exec(ctx, sql)
		return err

	case diff.ChangeRenameTable:
		sql := fmt.Sprintf("ALTER TABLE %s RENAME TO %s",
			qualify(schema, change.OldValue), quote(change.NewValue))
		_, err := exec.Exec(ctx, sql)
		return err

	default:
		return fmt.Errorf("unsupported change type %s", change.Type)
	}
}

func (m *Migrator) applyAlterColumn(ctx context.Context, exec database.Executor, schema naming.SafeIdentifier, change diff.SchemaChange) error {
	table := qualify(schema, change.TableName)
	column := quote(change.ColumnName)

	switch change.Attribute {
	case diff.AttributeRequired:
		verb := "DROP NOT NULL"
		if change.NewValue == "true" {
			verb = "SET NOT NULL"
		}
		_, err := exec.Exec(ctx, fmt.Sprintf("ALTER TABLE %s ALTER COLUMN %s %s", table, column, verb))
		return err

	case diff.AttributeDataType:
		newType := generator.MapDataType(entity.DataType(change.NewValue))
		// Explicit USING cast: not all type pairs convert implicitly. The
		// cast itself may still fail on incompatible data, which aborts the
		// transaction and surfaces in the result.
		sql := fmt.Sprintf("ALTER TABLE %s ALTER COLUMN %s TYPE %s USING %s::%s",
			table, column, newType, column, newType)
		_, err := exec.Exec(ctx, sql)
		return err

	default:
		return fmt.Errorf("unsupported column attribute %q", change.Attribute)
	}
}

// rollbackOrCommit rolls the transaction back when *err is set on the way
// out. Commit is handled explicitly by finishTx so its error can be surfaced.
func rollbackOrCommit(tx pgx.Tx, err *error) {
	if *err == nil {
		return
	}
	if rbErr := tx.Rollback(context.Background()); rbErr != nil && rbErr != pgx.ErrTxClosed {
		log.Printf("transaction rollback failed: %v (original error: %v)", rbErr, *err)
	}
}

func finishTx(tx pgx.Tx, err *error) error {
	if cmErr := tx.Commit(context.Background()); cmErr != nil {
		*err = fmt.Errorf("commit failed: %w", cmErr)
		return *err
	}
	return nil
}

func quote(ident string) string {
	return pgx.Identifier{ident}.Sanitize()
}

func qualify(schema naming.SafeIdentifier, table string) string {
	return pgx.Identifier{schema.String(), table}.Sanitize()
}
