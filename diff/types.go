package diff

import (
	"github.com/google/uuid"

	"metahub/schemacore/entity"
)

// ChangeType enumerates the atomic DDL intents a diff can produce.
type ChangeType string

const (
	ChangeAddTable    ChangeType = "ADD_TABLE"
	ChangeDropTable   ChangeType = "DROP_TABLE"
	ChangeAddColumn   ChangeType = "ADD_COLUMN"
	ChangeDropColumn  ChangeType = "DROP_COLUMN"
	ChangeAlterColumn ChangeType = "ALTER_COLUMN"
	ChangeAddFK       ChangeType = "ADD_FK"
	ChangeDropFK      ChangeType = "DROP_FK"
	ChangeRenameTable ChangeType = "RENAME_TABLE"
)

// Attribute names an ALTER_COLUMN discriminates on.
const (
	AttributeRequired = "isRequired"
	AttributeDataType = "dataType"
)

// SchemaChange is one atomic DDL intent with enough context to execute it and
// to render a human-readable description.
type SchemaChange struct {
	Type       ChangeType `json:"type"`
	EntityID   uuid.UUID  `json:"entityId"`
	FieldID    *uuid.UUID `json:"fieldId,omitempty"`
	TableName  string     `json:"tableName"`
	ColumnName string     `json:"columnName,omitempty"`

	// Attribute plus OldValue/NewValue describe ALTER_COLUMN mutations and
	// RENAME_TABLE (old/new table name).
	Attribute string `json:"attribute,omitempty"`
	OldValue  string `json:"oldValue,omitempty"`
	NewValue  string `json:"newValue,omitempty"`

	// Column shape for ADD_COLUMN.
	DataType   entity.DataType `json:"dataType,omitempty"`
	IsRequired bool            `json:"isRequired,omitempty"`

	// Constraint context for ADD_FK / DROP_FK.
	TargetEntityID *uuid.UUID `json:"targetEntityId,omitempty"`
	ConstraintName string     `json:"constraintName,omitempty"`

	IsDestructive bool   `json:"isDestructive"`
	Description   string `json:"description"`
}

// SchemaDiff is the classified output of comparing two snapshots. Change
// order within each list is the application order.
type SchemaDiff struct {
	Additive    []SchemaChange `json:"additive"`
	Destructive []SchemaChange `json:"destructive"`
	HasChanges  bool           `json:"hasChanges"`
	Summary     string         `json:"summary"`
}

// All returns destructive changes followed by additive ones, the order the
// migrator applies them in.
func (d *SchemaDiff) All() []SchemaChange {
	all := make([]SchemaChange, 0, len(d.Destructive)+len(d.Additive))
	all = append(all, d.Destructive...)
	all = append(all, d.Additive...)
	return all
}
