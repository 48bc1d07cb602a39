package naming_test

import (
	"strings"
	"testing"

	"github.com/google/uuid"

	"metahub/schemacore/entity"
	"metahub/schemacore/naming"
)

func TestGenerateTableName_Idempotent(t *testing.T) {
	id := uuid.MustParse("3f2c8a4e-1b5d-4e6f-9a0b-7c8d9e0f1a2b")

	first := naming.GenerateTableName(id, entity.KindCatalog)
	for i := 0; i < 10; i++ {
		if got := naming.GenerateTableName(id, entity.KindCatalog); got != first {
			t.Fatalf("GenerateTableName not idempotent: got %q, want %q", got, first)
		}
	}
	if !strings.HasPrefix(first, "cat_") {
		t.Errorf("catalog table name %q missing kind prefix", first)
	}
	if !naming.IsValidSchemaName(first) {
		t.Errorf("generated table name %q is not a valid identifier", first)
	}
}

func TestGenerateTableName_KindPrefixes(t *testing.T) {
	id := uuid.New()

	tests := []struct {
		kind   entity.Kind
		prefix string
	}{
		{entity.KindCatalog, "cat_"},
		{entity.KindLink, "lnk_"},
		{entity.Kind("SOMETHING_NEW"), "ent_"},
	}

	for _, test := range tests {
		name := naming.GenerateTableName(id, test.kind)
		if !strings.HasPrefix(name, test.prefix) {
			t.Errorf("kind %s: got %q, want prefix %q", test.kind, name, test.prefix)
		}
	}
}

func TestGenerateSchemaName(t *testing.T) {
	id := uuid.MustParse("3f2c8a4e-1b5d-4e6f-9a0b-7c8d9e0f1a2b")

	name := naming.GenerateSchemaName(id)
	if name != "app_3f2c8a4e1b5d4e6f9a0b7c8d9e0f1a2b" {
		t.Errorf("unexpected schema name %q", name)
	}
	if !naming.IsValidSchemaName(name) {
		t.Errorf("schema name %q failed its own validation", name)
	}
}

func TestGenerateColumnName_IgnoresCodename(t *testing.T) {
	id := uuid.New()
	// Column names derive only from the field id; two calls must agree no
	// matter what the display label does in between.
	if naming.GenerateColumnName(id) != naming.GenerateColumnName(id) {
		t.Fatal("GenerateColumnName is not deterministic")
	}
	if !strings.HasPrefix(naming.GenerateColumnName(id), "f_") {
		t.Errorf("column name %q missing f_ prefix", naming.GenerateColumnName(id))
	}
}

func TestIsValidSchemaName(t *testing.T) {
	tests := []struct {
		name  string
		valid bool
	}{
		{"app_3f2c8a4e", true},
		{"_leading_underscore", true},
		{"a", true},
		{"", false},
		{"1bad", false},
		{"1bad-name; DROP", false},
		{"has space", false},
		{"has-dash", false},
		{"semi;colon", false},
		{"UPPER", false},
		{strings.Repeat("a", 64), false},
		{strings.Repeat("a", 63), true},
	}

	for _, test := range tests {
		if got := naming.IsValidSchemaName(test.name); got != test.valid {
			t.Errorf("IsValidSchemaName(%q) = %t, want %t", test.name, got, test.valid)
		}
	}
}

func TestSafe_RejectsInvalid(t *testing.T) {
	if _, err := naming.Safe("1bad-name; DROP"); err == nil {
		t.Fatal("expected error for invalid identifier")
	}
	ident, err := naming.Safe("app_ok")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ident.String() != "app_ok" {
		t.Errorf("Safe returned %q", ident)
	}
}

func TestBuildFkConstraintName(t *testing.T) {
	table := naming.GenerateTableName(uuid.New(), entity.KindCatalog)
	column := naming.GenerateColumnName(uuid.New())

	name := naming.BuildFkConstraintName(table, column)
	if len(name) > naming.MaxIdentifierLength {
		t.Errorf("constraint name %q exceeds %d characters", name, naming.MaxIdentifierLength)
	}
	if name != naming.BuildFkConstraintName(table, column) {
		t.Error("constraint name not deterministic")
	}
	if !strings.HasPrefix(name, "fk_") {
		t.Errorf("constraint name %q missing fk_ prefix", name)
	}
}

func TestBuildFkConstraintName_LongInputsStayDistinct(t *testing.T) {
	long := strings.Repeat("x", 60)
	a := naming.BuildFkConstraintName(long, "col_one")
	b := naming.BuildFkConstraintName(long, "col_two")

	if len(a) > naming.MaxIdentifierLength || len(b) > naming.MaxIdentifierLength {
		t.Fatalf("truncated names exceed limit: %d, %d", len(a), len(b))
	}
	if a == b {
		t.Errorf("distinct long inputs collided: %q", a)
	}
}
