// Package schemacore turns user-defined entity models into live PostgreSQL
// schemas and evolves them safely as the model changes: snapshot, diff,
// transactional apply under an advisory lock, and an append-only migration
// history.
package schemacore

import (
	"context"

	"github.com/google/uuid"

	"metahub/schemacore/diff"
	"metahub/schemacore/entity"
	"metahub/schemacore/generator"
	"metahub/schemacore/metadata"
	"metahub/schemacore/migrations"
	"metahub/schemacore/migrator"
	"metahub/schemacore/naming"
	"metahub/schemacore/snapshot"
)

// Engine wires the schema-generation and migration components around one
// injected database handle. Construct it once per process next to the pool.
type Engine struct {
	db       migrator.DB
	gen      *generator.Generator
	meta     *metadata.Synchronizer
	manager  *migrations.Manager
	migrator *migrator.Migrator
}

// NewEngine builds the component graph on top of db. The pool handle is the
// only process-wide resource; every component borrows it and none construct
// their own.
func NewEngine(db migrator.DB) *Engine {
	meta := metadata.New(db)
	gen := generator.New(db, meta)
	manager := migrations.New(db)
	return &Engine{
		db:       db,
		gen:      gen,
		meta:     meta,
		manager:  manager,
		migrator: migrator.New(db, gen, manager, meta),
	}
}

// Generator exposes the schema generator for callers needing its primitives.
func (e *Engine) Generator() *generator.Generator { return e.gen }

// Migrations exposes the migration history manager.
func (e *Engine) Migrations() *migrations.Manager { return e.manager }

// SchemaNameFor derives the namespace name for an application id.
func SchemaNameFor(applicationID uuid.UUID) string {
	return naming.GenerateSchemaName(applicationID)
}

// ProvisionSchema first-time provisions the schema for an application: the
// namespace, one table per entity, foreign keys in a second pass, and the
// system metadata tables.
func (e *Engine) ProvisionSchema(ctx context.Context, applicationID uuid.UUID, entities []entity.EntityDefinition) *generator.SchemaGenerationResult {
	return e.gen.GenerateFullSchema(ctx, SchemaNameFor(applicationID), entities)
}

// PreviewChanges diffs the current entity model against the latest recorded
// snapshot without applying anything. With no recorded history the diff is
// the fully-additive bootstrap diff.
func (e *Engine) PreviewChanges(ctx context.Context, schemaName string, entities []entity.EntityDefinition) (*diff.SchemaDiff, error) {
	baseline, err := e.latestSnapshot(ctx, schemaName)
	if err != nil {
		return nil, err
	}
	return diff.Calculate(baseline, entities), nil
}

// MigrateSchema runs one full cycle: snapshot, diff against recorded history,
// apply under the schema's advisory lock, record the migration. Destructive
// changes are refused unless confirmedDestructive is set.
func (e *Engine) MigrateSchema(ctx context.Context, schemaName string, entities []entity.EntityDefinition, confirmedDestructive bool) *migrator.MigrationResult {
	baseline, err := e.latestSnapshot(ctx, schemaName)
	if err != nil {
		return &migrator.MigrationResult{SchemaName: schemaName, Errors: []string{err.Error()}}
	}
	d := diff.Calculate(baseline, entities)
	return e.migrator.ApplyAllChanges(ctx, schemaName, d, entities, confirmedDestructive, migrator.ApplyOptions{
		RecordMigration: true,
	})
}

func (e *Engine) latestSnapshot(ctx context.Context, schemaName string) (*snapshot.SchemaSnapshot, error) {
	latest, err := e.manager.GetLatestMigration(ctx, schemaName)
	if err != nil {
		return nil, err
	}
	if latest == nil {
		return nil, nil
	}
	return latest.Meta.SnapshotAfter, nil
}
