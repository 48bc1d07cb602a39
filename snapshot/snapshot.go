// Package snapshot produces versioned, serializable descriptions of the shape
// a generated schema should have. Snapshots are the diffing baseline: built
// fresh from the current entity model on every cycle, never mutated in place.
package snapshot

import (
	"time"

	"github.com/google/uuid"

	"metahub/schemacore/entity"
	"metahub/schemacore/naming"
)

// FormatVersion is stamped into every snapshot. Bump it whenever the snapshot
// shape itself changes so old persisted snapshots are never silently
// misinterpreted on read.
const FormatVersion = 1

// SchemaFieldSnapshot captures one field's derived column plus its semantic
// attributes at snapshot time.
type SchemaFieldSnapshot struct {
	Codename       string          `json:"codename"`
	ColumnName     string          `json:"columnName"`
	DataType       entity.DataType `json:"dataType"`
	IsRequired     bool            `json:"isRequired"`
	TargetEntityID *uuid.UUID      `json:"targetEntityId,omitempty"`
}

// SchemaEntitySnapshot captures one entity's derived table and fields.
type SchemaEntitySnapshot struct {
	Kind      entity.Kind                       `json:"kind"`
	Codename  string                            `json:"codename"`
	TableName string                            `json:"tableName"`
	Fields    map[uuid.UUID]SchemaFieldSnapshot `json:"fields"`
}

// SchemaSnapshot is an immutable record of a schema's desired shape at a point
// in time, keyed by stable entity id.
type SchemaSnapshot struct {
	Version     int                                `json:"version"`
	GeneratedAt time.Time                          `json:"generatedAt"`
	Entities    map[uuid.UUID]SchemaEntitySnapshot `json:"entities"`
}

// Build derives a snapshot from an entity model. Table and column names come
// from the naming package so they match what the generator will create; no
// I/O happens here.
func Build(entities []entity.EntityDefinition) *SchemaSnapshot {
	snap := &SchemaSnapshot{
		Version:     FormatVersion,
		GeneratedAt: time.Now().UTC(),
		Entities:    make(map[uuid.UUID]SchemaEntitySnapshot, len(entities)),
	}

	for _, ent := range entities {
		entSnap := SchemaEntitySnapshot{
			Kind:      ent.Kind,
			Codename:  ent.Codename,
			TableName: naming.GenerateTableName(ent.ID, ent.Kind),
			Fields:    make(map[uuid.UUID]SchemaFieldSnapshot, len(ent.Fields)),
		}
		for _, field := range ent.Fields {
			fieldSnap := SchemaFieldSnapshot{
				Codename:   field.Codename,
				ColumnName: naming.GenerateColumnName(field.ID),
				DataType:   field.DataType,
				IsRequired: field.IsRequired,
			}
			if field.TargetEntityID != nil {
				target := *field.TargetEntityID
				fieldSnap.TargetEntityID = &target
			}
			entSnap.Fields[field.ID] = fieldSnap
		}
		snap.Entities[ent.ID] = entSnap
	}

	return snap
}
