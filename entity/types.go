package entity

import "github.com/google/uuid"

// DataType is the user-facing type of a field. Storage types are derived from
// it by the generator; unknown values fall back to TEXT there.
type DataType string

const (
	DataTypeString   DataType = "STRING"
	DataTypeNumber   DataType = "NUMBER"
	DataTypeBoolean  DataType = "BOOLEAN"
	DataTypeDate     DataType = "DATE"
	DataTypeDateTime DataType = "DATETIME"
	DataTypeRef      DataType = "REF"
	DataTypeJSON     DataType = "JSON"
)

// Kind discriminates entity flavors and only affects table-name derivation.
type Kind string

const (
	KindCatalog Kind = "CATALOG"
	KindLink    Kind = "LINK"
)

// FieldDefinition describes one user-defined field of an entity. The ID is the
// stable storage key; Codename is a display label and may change freely.
type FieldDefinition struct {
	ID             uuid.UUID
	Codename       string
	DataType       DataType
	IsRequired     bool
	TargetEntityID *uuid.UUID // set only for REF fields
}

// EntityDefinition describes one user-defined record type. Field order is
// preserved from the upstream editor and drives DDL statement order.
type EntityDefinition struct {
	ID       uuid.UUID
	Codename string
	Kind     Kind
	Fields   []FieldDefinition
}

// FindByID returns the entity with the given id from a model, or nil.
func FindByID(entities []EntityDefinition, id uuid.UUID) *EntityDefinition {
	for i := range entities {
		if entities[i].ID == id {
			return &entities[i]
		}
	}
	return nil
}
