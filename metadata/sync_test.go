package metadata_test

import (
	"context"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"metahub/schemacore/entity"
	"metahub/schemacore/metadata"
)

type recordingExec struct {
	statements []string
}

func (r *recordingExec) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	r.statements = append(r.statements, sql)
	return pgconn.CommandTag{}, nil
}

func (r *recordingExec) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	panic("Query not expected in this test")
}

func (r *recordingExec) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	panic("QueryRow not expected in this test")
}

func (r *recordingExec) joined() string { return strings.Join(r.statements, "\n") }

func testEntities() []entity.EntityDefinition {
	return []entity.EntityDefinition{
		{
			ID:       uuid.New(),
			Codename: "Product",
			Kind:     entity.KindCatalog,
			Fields: []entity.FieldDefinition{
				{ID: uuid.New(), Codename: "name", DataType: entity.DataTypeString, IsRequired: true},
			},
		},
	}
}

func TestSync_UpsertsEntitiesAndFields(t *testing.T) {
	exec := &recordingExec{}
	sync := metadata.New(exec)

	err := sync.Sync(context.Background(), nil, "app_test", testEntities(), metadata.SyncOptions{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	ddl := exec.joined()
	for _, want := range []string{
		"CREATE TABLE IF NOT EXISTS",
		"_sys_entities",
		"_sys_fields",
		"ON CONFLICT (entity_id)",
		"ON CONFLICT (field_id)",
	} {
		if !strings.Contains(ddl, want) {
			t.Errorf("statements missing %q:\n%s", want, ddl)
		}
	}
	if strings.Contains(ddl, "DELETE FROM") {
		t.Errorf("additive sync must not prune:\n%s", ddl)
	}
}

func TestSync_RemoveMissingPrunes(t *testing.T) {
	exec := &recordingExec{}
	sync := metadata.New(exec)

	err := sync.Sync(context.Background(), nil, "app_test", testEntities(), metadata.SyncOptions{RemoveMissing: true})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	ddl := exec.joined()
	deletes := strings.Count(ddl, "DELETE FROM")
	if deletes != 2 {
		t.Errorf("got %d DELETE statements, want 2 (fields then entities):\n%s", deletes, ddl)
	}
}

func TestSync_InvalidSchemaName(t *testing.T) {
	exec := &recordingExec{}
	sync := metadata.New(exec)

	err := sync.Sync(context.Background(), nil, "bad; DROP", testEntities(), metadata.SyncOptions{})
	if err == nil {
		t.Fatal("invalid schema name must be rejected")
	}
	if len(exec.statements) != 0 {
		t.Errorf("invalid name reached the database: %v", exec.statements)
	}
}
