// Package metadata maintains the per-schema system tables (_sys_entities,
// _sys_fields) that map stable entity/field ids to their derived tables and
// columns. Both the generator and the migrator consume it through the single
// Sync contract.
package metadata

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"metahub/schemacore/database"
	"metahub/schemacore/entity"
	"metahub/schemacore/naming"
)

// SyncOptions controls a sync pass. RemoveMissing prunes rows for entities
// and fields no longer present in the model; it is only set after destructive
// migrations so additive passes never delete metadata.
type SyncOptions struct {
	RemoveMissing bool
}

// Synchronizer reconciles system metadata tables with an entity model.
type Synchronizer struct {
	exec database.Executor
}

func New(exec database.Executor) *Synchronizer {
	return &Synchronizer{exec: exec}
}

// Sync upserts one row per entity and field. When exec is non-nil (the
// caller's transaction) all statements run inside it, so metadata commits or
// rolls back together with the DDL it describes.
func (s *Synchronizer) Sync(ctx context.Context, exec database.Executor, schemaName string, entities []entity.EntityDefinition, opts SyncOptions) error {
	if exec == nil {
		exec = s.exec
	}
	schema, err := naming.Safe(schemaName)
	if err != nil {
		return fmt.Errorf("metadata sync: %w", err)
	}

	if err := s.ensureTables(ctx, exec, schema); err != nil {
		return err
	}

	entityIDs := make([]string, 0, len(entities))
	fieldIDs := make([]string, 0)

	for _, ent := range entities {
		entityIDs = append(entityIDs, ent.ID.String())
		_, err := exec.Exec(ctx, `
			INSERT INTO `+qualify(schema, "_sys_entities")+` (entity_id, codename, kind, table_name, synced_at)
			VALUES ($1, $2, $3, $4, now())
			ON CONFLICT (entity_id)
			DO UPDATE SET codename = EXCLUDED.codename, kind = EXCLUDED.kind, table_name = EXCLUDED.table_name, synced_at = now()
		`, ent.ID, ent.Codename, string(ent.Kind), naming.GenerateTableName(ent.ID, ent.Kind))
		if err != nil {
			return fmt.Errorf("syncing entity %q metadata: %w", ent.Codename, err)
		}

		for _, field := range ent.Fields {
			fieldIDs = append(fieldIDs, field.ID.String())
			_, err := exec.Exec(ctx, `
				INSERT INTO `+qualify(schema, "_sys_fields")+` (field_id, entity_id, codename, column_name, data_type, is_required, target_entity_id, synced_at)
				VALUES ($1, $2, $3, $4, $5, $6, $7, now())
				ON CONFLICT (field_id)
				DO UPDATE SET codename = EXCLUDED.codename, column_name = EXCLUDED.column_name, data_type = EXCLUDED.data_type,
					is_required = EXCLUDED.is_required, target_entity_id = EXCLUDED.target_entity_id, synced_at = now()
			`, field.ID, ent.ID, field.Codename, naming.GenerateColumnName(field.ID), string(field.DataType), field.IsRequired, field.TargetEntityID)
			if err != nil {
				return fmt.Errorf("syncing field %q metadata: %w", field.Codename, err)
			}
		}
	}

	if opts.RemoveMissing {
		if _, err := exec.Exec(ctx,
			"DELETE FROM "+qualify(schema, "_sys_fields")+" WHERE NOT (field_id = ANY($1::uuid[]))",
			fieldIDs,
		); err != nil {
			return fmt.Errorf("pruning stale field metadata: %w", err)
		}
		if _, err := exec.Exec(ctx,
			"DELETE FROM "+qualify(schema, "_sys_entities")+" WHERE NOT (entity_id = ANY($1::uuid[]))",
			entityIDs,
		); err != nil {
			return fmt.Errorf("pruning stale entity metadata: %w", err)
		}
	}

	return nil
}

func (s *Synchronizer) ensureTables(ctx context.Context, exec database.Executor, schema naming.SafeIdentifier) error {
	_, err := exec.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS `+qualify(schema, "_sys_entities")+` (
			entity_id UUID PRIMARY KEY,
			codename TEXT NOT NULL,
			kind TEXT NOT NULL,
			table_name TEXT NOT NULL,
			synced_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)
	`)
	if err != nil {
		return fmt.Errorf("ensuring _sys_entities: %w", err)
	}
	_, err = exec.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS `+qualify(schema, "_sys_fields")+` (
			field_id UUID PRIMARY KEY,
			entity_id UUID NOT NULL,
			codename TEXT NOT NULL,
			column_name TEXT NOT NULL,
			data_type TEXT NOT NULL,
			is_required BOOLEAN NOT NULL DEFAULT false,
			target_entity_id UUID,
			synced_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)
	`)
	if err != nil {
		return fmt.Errorf("ensuring _sys_fields: %w", err)
	}
	return nil
}

func qualify(schema naming.SafeIdentifier, table string) string {
	return pgx.Identifier{schema.String(), table}.Sanitize()
}
