// Package generator provisions PostgreSQL schemas and tables from an entity
// model and provides the DDL primitives the migrator reuses per change.
package generator

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/jackc/pgx/v5"

	"metahub/schemacore/database"
	"metahub/schemacore/entity"
	"metahub/schemacore/metadata"
	"metahub/schemacore/naming"
	"metahub/schemacore/snapshot"
)

// Generator issues schema and table DDL through an injected executor.
type Generator struct {
	exec database.Executor
	meta *metadata.Synchronizer
}

// New builds a Generator. meta may be nil when system-metadata tables are
// managed elsewhere.
func New(exec database.Executor, meta *metadata.Synchronizer) *Generator {
	return &Generator{exec: exec, meta: meta}
}

// SchemaGenerationResult reports the outcome of a full provisioning pass.
// Per-table errors are collected rather than aborting the batch; Success is
// true only when no error accumulated.
type SchemaGenerationResult struct {
	Success       bool     `json:"success"`
	SchemaName    string   `json:"schemaName"`
	TablesCreated int      `json:"tablesCreated"`
	Errors        []string `json:"errors"`
}

// MapDataType maps a user-facing data type to its PostgreSQL storage type.
// Unknown types fall back to TEXT so a new data type arriving ahead of this
// mapping degrades to lossless storage instead of failing.
func MapDataType(dt entity.DataType) string {
	switch dt {
	case entity.DataTypeString:
		return "TEXT"
	case entity.DataTypeNumber:
		return "NUMERIC"
	case entity.DataTypeBoolean:
		return "BOOLEAN"
	case entity.DataTypeDate:
		return "DATE"
	case entity.DataTypeDateTime:
		return "TIMESTAMPTZ"
	case entity.DataTypeRef:
		return "UUID"
	case entity.DataTypeJSON:
		return "JSONB"
	default:
		return "TEXT"
	}
}

// CreateSchema validates the name and issues CREATE SCHEMA IF NOT EXISTS. An
// invalid name never reaches the database: schema names cannot be
// parameterized, so validation is the injection guard.
func (g *Generator) CreateSchema(ctx context.Context, schemaName string) error {
	schema, err := naming.Safe(schemaName)
	if err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	if _, err := g.exec.Exec(ctx, "CREATE SCHEMA IF NOT EXISTS "+quote(schema.String())); err != nil {
		return fmt.Errorf("creating schema %s: %w", schema, err)
	}
	return nil
}

// DropSchema validates the name and drops the schema with CASCADE. Callers
// must gate this behind explicit confirmation upstream.
func (g *Generator) DropSchema(ctx context.Context, schemaName string) error {
	schema, err := naming.Safe(schemaName)
	if err != nil {
		return fmt.Errorf("drop schema: %w", err)
	}
	if _, err := g.exec.Exec(ctx, "DROP SCHEMA IF EXISTS "+quote(schema.String())+" CASCADE"); err != nil {
		return fmt.Errorf("dropping schema %s: %w", schema, err)
	}
	return nil
}

// CreateEntityTable creates the table for one entity: UUID primary key with a
// server-side default, created_at/updated_at timestamps, and one column per
// field. When exec is nil the generator's own executor is used; pass the
// caller's transaction to run inside it.
func (g *Generator) CreateEntityTable(ctx context.Context, exec database.Executor, schemaName string, ent entity.EntityDefinition) error {
	if exec == nil {
		exec = g.exec
	}
	schema, err := naming.Safe(schemaName)
	if err != nil {
		return fmt.Errorf("create entity table: %w", err)
	}
	tableName := naming.GenerateTableName(ent.ID, ent.Kind)

	var b strings.Builder
	fmt.Fprintf(&b, "CREATE TABLE IF NOT EXISTS %s (\n", qualify(schema, tableName))
	b.WriteString("\tid UUID PRIMARY KEY DEFAULT gen_random_uuid(),\n")
	b.WriteString("\tcreated_at TIMESTAMPTZ NOT NULL DEFAULT now(),\n")
	b.WriteString("\tupdated_at TIMESTAMPTZ NOT NULL DEFAULT now()")
	for _, field := range ent.Fields {
		fmt.Fprintf(&b, ",\n\t%s %s", quote(naming.GenerateColumnName(field.ID)), MapDataType(field.DataType))
		if field.IsRequired {
			b.WriteString(" NOT NULL")
		}
	}
	b.WriteString("\n)")

	if _, err := exec.Exec(ctx, b.String()); err != nil {
		return fmt.Errorf("creating table %s for entity %q: %w", tableName, ent.Codename, err)
	}
	return nil
}

// AddForeignKey adds the named FK constraint for a REF field. A missing
// target entity is logged and skipped: the schema still functions without the
// constraint, and failing the whole operation would be disproportionate to a
// dangling reference.
func (g *Generator) AddForeignKey(ctx context.Context, exec database.Executor, schemaName string, ent entity.EntityDefinition, field entity.FieldDefinition, entities []entity.EntityDefinition) error {
	if exec == nil {
		exec = g.exec
	}
	schema, err := naming.Safe(schemaName)
	if err != nil {
		return fmt.Errorf("add foreign key: %w", err)
	}
	if field.DataType != entity.DataTypeRef || field.TargetEntityID == nil {
		return nil
	}

	target := entity.FindByID(entities, *field.TargetEntityID)
	if target == nil {
		log.Printf("warning: field %q of entity %q references unknown entity %s; skipping foreign key", field.Codename, ent.Codename, *field.TargetEntityID)
		return nil
	}

	tableName := naming.GenerateTableName(ent.ID, ent.Kind)
	columnName := naming.GenerateColumnName(field.ID)
	targetTable := naming.GenerateTableName(target.ID, target.Kind)
	constraint := naming.BuildFkConstraintName(tableName, columnName)

	// ON DELETE SET NULL so deleting a referenced row degrades gracefully
	// instead of cascading deletes or blocking.
	sql := fmt.Sprintf(
		"ALTER TABLE %s ADD CONSTRAINT %s FOREIGN KEY (%s) REFERENCES %s (id) ON DELETE SET NULL",
		qualify(schema, tableName), quote(constraint), quote(columnName), qualify(schema, targetTable),
	)
	if _, err := exec.Exec(ctx, sql); err != nil {
		return fmt.Errorf("adding foreign key %s on %s.%s: %w", constraint, tableName, columnName, err)
	}
	return nil
}

// GenerateFullSchema provisions a brand-new schema: the namespace itself, one
// table per entity, then all foreign keys in a second pass once every table
// exists (any table may reference any other). Per-table errors are collected
// so one bad entity does not block the rest.
func (g *Generator) GenerateFullSchema(ctx context.Context, schemaName string, entities []entity.EntityDefinition) *SchemaGenerationResult {
	result := &SchemaGenerationResult{SchemaName: schemaName}

	if err := g.CreateSchema(ctx, schemaName); err != nil {
		result.Errors = append(result.Errors, err.Error())
		return result
	}

	for _, ent := range entities {
		if err := g.CreateEntityTable(ctx, nil, schemaName, ent); err != nil {
			result.Errors = append(result.Errors, err.Error())
			continue
		}
		result.TablesCreated++
	}

	for _, ent := range entities {
		for _, field := range ent.Fields {
			if field.DataType != entity.DataTypeRef {
				continue
			}
			if err := g.AddForeignKey(ctx, nil, schemaName, ent, field, entities); err != nil {
				result.Errors = append(result.Errors, err.Error())
			}
		}
	}

	if g.meta != nil {
		if err := g.meta.Sync(ctx, nil, schemaName, entities, metadata.SyncOptions{}); err != nil {
			result.Errors = append(result.Errors, err.Error())
		}
	}

	result.Success = len(result.Errors) == 0
	return result
}

// SchemaExists checks information_schema for the namespace.
func (g *Generator) SchemaExists(ctx context.Context, schemaName string) (bool, error) {
	var exists bool
	err := g.exec.QueryRow(ctx,
		"SELECT EXISTS (SELECT 1 FROM information_schema.schemata WHERE schema_name = $1)",
		schemaName,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("checking schema %s: %w", schemaName, err)
	}
	return exists, nil
}

// GenerateSnapshot delegates to the snapshot builder; kept as a method so the
// migrator composes provisioning and snapshotting through one dependency.
func (g *Generator) GenerateSnapshot(entities []entity.EntityDefinition) *snapshot.SchemaSnapshot {
	return snapshot.Build(entities)
}

func quote(ident string) string {
	return pgx.Identifier{ident}.Sanitize()
}

func qualify(schema naming.SafeIdentifier, table string) string {
	return pgx.Identifier{schema.String(), table}.Sanitize()
}
