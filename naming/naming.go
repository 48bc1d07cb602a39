// Package naming derives PostgreSQL identifiers (schema, table, column and
// constraint names) from opaque entity and field ids. All functions are pure
// and deterministic: derived names are embedded in persisted snapshots and
// compared structurally across process restarts, so the same id must always
// yield the same name.
package naming

import (
	"fmt"
	"hash/fnv"
	"regexp"
	"strings"

	"github.com/google/uuid"

	"metahub/schemacore/entity"
)

// MaxIdentifierLength is the PostgreSQL identifier limit (NAMEDATALEN - 1).
const MaxIdentifierLength = 63

var identPattern = regexp.MustCompile(`^[a-z_][a-z0-9_]*$`)

// SafeIdentifier is an identifier that passed validation. DDL builders accept
// only this type so an unvalidated string can never be interpolated into raw
// SQL (identifiers cannot be parameterized inside CREATE SCHEMA and friends).
type SafeIdentifier string

func (s SafeIdentifier) String() string { return string(s) }

// Safe validates name and returns it as a SafeIdentifier.
func Safe(name string) (SafeIdentifier, error) {
	if !IsValidSchemaName(name) {
		return "", fmt.Errorf("invalid identifier %q: must match %s and be at most %d characters", name, identPattern.String(), MaxIdentifierLength)
	}
	return SafeIdentifier(name), nil
}

// IsValidSchemaName reports whether name is usable as a raw DDL identifier:
// lowercase letters, digits and underscores, not starting with a digit.
func IsValidSchemaName(name string) bool {
	return name != "" && len(name) <= MaxIdentifierLength && identPattern.MatchString(name)
}

// GenerateSchemaName derives the namespace identifier for an application.
func GenerateSchemaName(applicationID uuid.UUID) string {
	return "app_" + hexID(applicationID)
}

// GenerateTableName derives a table name for an entity. The kind becomes a
// short prefix so tables of one flavor group together in listings.
func GenerateTableName(entityID uuid.UUID, kind entity.Kind) string {
	return kindPrefix(kind) + "_" + hexID(entityID)
}

// GenerateColumnName derives a column name from a field id. The codename is
// deliberately not part of the name: it is a display label, and renaming it
// must not move data.
func GenerateColumnName(fieldID uuid.UUID) string {
	return "f_" + hexID(fieldID)
}

// BuildFkConstraintName derives a deterministic foreign-key constraint name.
// Names exceeding the identifier limit are truncated with an FNV-32a hash
// suffix of the full name, so distinct long inputs stay distinct.
func BuildFkConstraintName(tableName, columnName string) string {
	name := "fk_" + tableName + "_" + columnName
	if len(name) <= MaxIdentifierLength {
		return name
	}
	h := fnv.New32a()
	h.Write([]byte(name))
	suffix := fmt.Sprintf("_%08x", h.Sum32())
	return name[:MaxIdentifierLength-len(suffix)] + suffix
}

func kindPrefix(kind entity.Kind) string {
	switch kind {
	case entity.KindCatalog:
		return "cat"
	case entity.KindLink:
		return "lnk"
	default:
		return "ent"
	}
}

func hexID(id uuid.UUID) string {
	return strings.ReplaceAll(strings.ToLower(id.String()), "-", "")
}
