// Package diff compares a previous schema snapshot against a new entity model
// and classifies every difference as additive or destructive. Field and
// entity identity is id-based: codenames are cosmetic labels, so a rename is
// invisible here and only id-level add/drop and attribute changes surface.
package diff

import (
	"fmt"
	"sort"

	"github.com/google/uuid"

	"metahub/schemacore/entity"
	"metahub/schemacore/naming"
	"metahub/schemacore/snapshot"
)

// Calculate diffs the previous snapshot against a fresh snapshot of
// newEntities. A nil old snapshot is the bootstrap case: every entity becomes
// an ADD_TABLE (plus ADD_FK for its REF fields), nothing is destructive.
func Calculate(old *snapshot.SchemaSnapshot, newEntities []entity.EntityDefinition) *SchemaDiff {
	d := &SchemaDiff{}
	newSnap := snapshot.Build(newEntities)

	// ADD_FK changes collect here and land at the tail of the additive list:
	// any table may reference any other, so constraints go in only after
	// every table and column of this diff exists.
	var fks []SchemaChange

	if old == nil {
		for _, ent := range newEntities {
			d.Additive = append(d.Additive, addTableChange(ent.ID, newSnap.Entities[ent.ID]))
		}
		for _, ent := range newEntities {
			appendAddFKs(&fks, ent.ID, newSnap.Entities[ent.ID])
		}
		d.Additive = append(d.Additive, fks...)
		finalize(d)
		return d
	}

	// Dropped entities, sorted by table name for deterministic output.
	for _, id := range sortedEntityIDs(old.Entities) {
		if _, ok := newSnap.Entities[id]; !ok {
			oldEnt := old.Entities[id]
			d.Destructive = append(d.Destructive, SchemaChange{
				Type:          ChangeDropTable,
				EntityID:      id,
				TableName:     oldEnt.TableName,
				IsDestructive: true,
				Description:   fmt.Sprintf("drop table %s (entity %q)", oldEnt.TableName, oldEnt.Codename),
			})
		}
	}

	// Added and retained entities, in model order.
	for _, ent := range newEntities {
		newEnt := newSnap.Entities[ent.ID]
		oldEnt, existed := old.Entities[ent.ID]
		if !existed {
			d.Additive = append(d.Additive, addTableChange(ent.ID, newEnt))
			appendAddFKs(&fks, ent.ID, newEnt)
			continue
		}
		diffEntity(d, &fks, ent.ID, oldEnt, newEnt)
	}

	d.Additive = append(d.Additive, fks...)
	finalize(d)
	return d
}

func diffEntity(d *SchemaDiff, fks *[]SchemaChange, entityID uuid.UUID, oldEnt, newEnt snapshot.SchemaEntitySnapshot) {
	// A kind change renames the table. The rename is additive and leads the
	// additive list for this entity; destructive changes run before additive
	// ones, so they must still address the old table name.
	if oldEnt.TableName != newEnt.TableName {
		d.Additive = append(d.Additive, SchemaChange{
			Type:        ChangeRenameTable,
			EntityID:    entityID,
			TableName:   newEnt.TableName,
			OldValue:    oldEnt.TableName,
			NewValue:    newEnt.TableName,
			Description: fmt.Sprintf("rename table %s to %s (entity %q)", oldEnt.TableName, newEnt.TableName, newEnt.Codename),
		})
	}

	// Dropped columns first, sorted by column name.
	for _, fieldID := range sortedFieldIDs(oldEnt.Fields) {
		if _, ok := newEnt.Fields[fieldID]; !ok {
			oldField := oldEnt.Fields[fieldID]
			id := fieldID
			d.Destructive = append(d.Destructive, SchemaChange{
				Type:          ChangeDropColumn,
				EntityID:      entityID,
				FieldID:       &id,
				TableName:     oldEnt.TableName,
				ColumnName:    oldField.ColumnName,
				IsDestructive: true,
				Description:   fmt.Sprintf("drop column %s (field %q) from table %s", oldField.ColumnName, oldField.Codename, oldEnt.TableName),
			})
		}
	}

	for _, fieldID := range sortedFieldIDs(newEnt.Fields) {
		newField := newEnt.Fields[fieldID]
		oldField, existed := oldEnt.Fields[fieldID]
		id := fieldID
		if !existed {
			d.Additive = append(d.Additive, SchemaChange{
				Type:        ChangeAddColumn,
				EntityID:    entityID,
				FieldID:     &id,
				TableName:   newEnt.TableName,
				ColumnName:  newField.ColumnName,
				DataType:    newField.DataType,
				IsRequired:  newField.IsRequired,
				Description: fmt.Sprintf("add column %s (field %q, %s) to table %s", newField.ColumnName, newField.Codename, newField.DataType, newEnt.TableName),
			})
			if newField.DataType == entity.DataTypeRef && newField.TargetEntityID != nil {
				*fks = append(*fks, addFKChange(entityID, id, newEnt.TableName, newField))
			}
			continue
		}

		diffField(d, fks, entityID, id, oldEnt.TableName, newEnt.TableName, oldField, newField)
	}
}

func diffField(d *SchemaDiff, fks *[]SchemaChange, entityID, fieldID uuid.UUID, oldTable, newTable string, oldField, newField snapshot.SchemaFieldSnapshot) {
	id := fieldID

	if oldField.DataType != newField.DataType {
		// Retyping away from REF loses the constraint; drop it before the
		// column type changes (destructive runs before additive anyway).
		if oldField.DataType == entity.DataTypeRef {
			d.Destructive = append(d.Destructive, dropFKChange(entityID, id, oldTable, oldField))
		}
		d.Destructive = append(d.Destructive, SchemaChange{
			Type:          ChangeAlterColumn,
			EntityID:      entityID,
			FieldID:       &id,
			TableName:     oldTable,
			ColumnName:    newField.ColumnName,
			Attribute:     AttributeDataType,
			OldValue:      string(oldField.DataType),
			NewValue:      string(newField.DataType),
			IsDestructive: true,
			Description:   fmt.Sprintf("change type of column %s (field %q) on table %s from %s to %s", newField.ColumnName, newField.Codename, oldTable, oldField.DataType, newField.DataType),
		})
		if newField.DataType == entity.DataTypeRef && newField.TargetEntityID != nil {
			*fks = append(*fks, addFKChange(entityID, id, newTable, newField))
		}
	} else if oldField.DataType == entity.DataTypeRef && !sameTarget(oldField.TargetEntityID, newField.TargetEntityID) {
		// Retargeted reference: replace the constraint, column stays UUID.
		d.Destructive = append(d.Destructive, dropFKChange(entityID, id, oldTable, oldField))
		if newField.TargetEntityID != nil {
			*fks = append(*fks, addFKChange(entityID, id, newTable, newField))
		}
	} else if oldTable != newTable && oldField.DataType == entity.DataTypeRef && newField.TargetEntityID != nil {
		// A table rename keeps the FK constraint under its old derived name,
		// so the constraint is recreated to keep names tracking the table.
		// Enforcement never lapses inside the transaction, so the pair is
		// additive. The drop addresses the renamed table but the constraint
		// name derived from the old one.
		drop := dropFKChange(entityID, id, oldTable, oldField)
		drop.TableName = newTable
		drop.IsDestructive = false
		drop.Description = fmt.Sprintf("recreate foreign key on %s.%s (field %q) under its post-rename name", newTable, newField.ColumnName, newField.Codename)
		d.Additive = append(d.Additive, drop)
		*fks = append(*fks, addFKChange(entityID, id, newTable, newField))
	}

	if oldField.IsRequired != newField.IsRequired {
		change := SchemaChange{
			Type:       ChangeAlterColumn,
			EntityID:   entityID,
			FieldID:    &id,
			ColumnName: newField.ColumnName,
			Attribute:  AttributeRequired,
			OldValue:   fmt.Sprintf("%t", oldField.IsRequired),
			NewValue:   fmt.Sprintf("%t", newField.IsRequired),
		}
		if newField.IsRequired {
			// Existing NULLs would violate the new constraint.
			change.TableName = oldTable
			change.IsDestructive = true
			change.Description = fmt.Sprintf("make column %s (field %q) on table %s required", newField.ColumnName, newField.Codename, oldTable)
			d.Destructive = append(d.Destructive, change)
		} else {
			change.TableName = newTable
			change.Description = fmt.Sprintf("make column %s (field %q) on table %s nullable", newField.ColumnName, newField.Codename, newTable)
			d.Additive = append(d.Additive, change)
		}
	}
}

func addTableChange(entityID uuid.UUID, entSnap snapshot.SchemaEntitySnapshot) SchemaChange {
	return SchemaChange{
		Type:        ChangeAddTable,
		EntityID:    entityID,
		TableName:   entSnap.TableName,
		Description: fmt.Sprintf("add table %s (entity %q, %d fields)", entSnap.TableName, entSnap.Codename, len(entSnap.Fields)),
	}
}

// appendAddFKs emits ADD_FK changes for every REF field of a new table.
func appendAddFKs(fks *[]SchemaChange, entityID uuid.UUID, entSnap snapshot.SchemaEntitySnapshot) {
	for _, fieldID := range sortedFieldIDs(entSnap.Fields) {
		field := entSnap.Fields[fieldID]
		if field.DataType != entity.DataTypeRef || field.TargetEntityID == nil {
			continue
		}
		*fks = append(*fks, addFKChange(entityID, fieldID, entSnap.TableName, field))
	}
}

func addFKChange(entityID, fieldID uuid.UUID, tableName string, field snapshot.SchemaFieldSnapshot) SchemaChange {
	id := fieldID
	target := *field.TargetEntityID
	return SchemaChange{
		Type:           ChangeAddFK,
		EntityID:       entityID,
		FieldID:        &id,
		TableName:      tableName,
		ColumnName:     field.ColumnName,
		TargetEntityID: &target,
		ConstraintName: naming.BuildFkConstraintName(tableName, field.ColumnName),
		Description:    fmt.Sprintf("add foreign key on %s.%s (field %q)", tableName, field.ColumnName, field.Codename),
	}
}

func dropFKChange(entityID, fieldID uuid.UUID, tableName string, field snapshot.SchemaFieldSnapshot) SchemaChange {
	id := fieldID
	return SchemaChange{
		Type:           ChangeDropFK,
		EntityID:       entityID,
		FieldID:        &id,
		TableName:      tableName,
		ColumnName:     field.ColumnName,
		ConstraintName: naming.BuildFkConstraintName(tableName, field.ColumnName),
		IsDestructive:  true,
		Description:    fmt.Sprintf("drop foreign key on %s.%s (field %q)", tableName, field.ColumnName, field.Codename),
	}
}

func finalize(d *SchemaDiff) {
	d.HasChanges = len(d.Additive) > 0 || len(d.Destructive) > 0
	if !d.HasChanges {
		d.Summary = "no schema changes"
		return
	}
	d.Summary = fmt.Sprintf("%d additive and %d destructive change(s)", len(d.Additive), len(d.Destructive))
}

func sameTarget(a, b *uuid.UUID) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func sortedEntityIDs(m map[uuid.UUID]snapshot.SchemaEntitySnapshot) []uuid.UUID {
	ids := make([]uuid.UUID, 0, len(m))
	for id := range m {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return m[ids[i]].TableName < m[ids[j]].TableName })
	return ids
}

func sortedFieldIDs(m map[uuid.UUID]snapshot.SchemaFieldSnapshot) []uuid.UUID {
	ids := make([]uuid.UUID, 0, len(m))
	for id := range m {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return m[ids[i]].ColumnName < m[ids[j]].ColumnName })
	return ids
}
