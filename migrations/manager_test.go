package migrations_test

import (
	"context"
	"encoding/json"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"metahub/schemacore/diff"
	"metahub/schemacore/migrations"
)

func TestGenerateMigrationName(t *testing.T) {
	clock := time.Date(2025, 3, 14, 9, 26, 53, 0, time.UTC)

	tests := []struct {
		description string
		want        string
	}{
		{"Add NEW Products-Table!", "20250314_092653_add_new_products_table"},
		{"", "20250314_092653_"},
		{"  spaced   out  ", "20250314_092653_spaced_out"},
		{"already_snake_case", "20250314_092653_already_snake_case"},
		{"Ünïcödé galore", "20250314_092653_n_c_d_galore"},
	}

	for _, test := range tests {
		if got := migrations.GenerateMigrationName(clock, test.description); got != test.want {
			t.Errorf("GenerateMigrationName(%q) = %q, want %q", test.description, got, test.want)
		}
	}
}

func TestGenerateMigrationName_Format(t *testing.T) {
	clock := time.Date(2025, 3, 14, 9, 26, 53, 0, time.UTC)

	pattern := regexp.MustCompile(`^\d{8}_\d{6}_add_new_products_table$`)
	if got := migrations.GenerateMigrationName(clock, "Add NEW Products-Table!"); !pattern.MatchString(got) {
		t.Errorf("%q does not match %s", got, pattern)
	}

	empty := regexp.MustCompile(`^\d{8}_\d{6}_$`)
	if got := migrations.GenerateMigrationName(clock, ""); !empty.MatchString(got) {
		t.Errorf("%q does not match %s", got, empty)
	}
}

func TestGenerateMigrationName_TruncatesLongDescriptions(t *testing.T) {
	clock := time.Date(2025, 3, 14, 9, 26, 53, 0, time.UTC)
	long := strings.Repeat("verylongword ", 10) // well over 100 characters

	name := migrations.GenerateMigrationName(clock, long)

	description := strings.TrimPrefix(name, "20250314_092653_")
	if len(description) > 50 {
		t.Errorf("description portion is %d characters, want at most 50: %q", len(description), description)
	}
	if strings.HasSuffix(description, "_") {
		t.Errorf("truncated description has trailing underscore: %q", description)
	}
}

func TestGenerateMigrationName_Deterministic(t *testing.T) {
	clock := time.Date(2024, 12, 31, 23, 59, 59, 0, time.UTC)
	a := migrations.GenerateMigrationName(clock, "same input")
	b := migrations.GenerateMigrationName(clock, "same input")
	if a != b {
		t.Errorf("non-deterministic names: %q vs %q", a, b)
	}
}

func TestMigrationMeta_JSONShape(t *testing.T) {
	meta := migrations.MigrationMeta{
		Version:        migrations.MetaFormatVersion,
		Changes:        []diff.SchemaChange{{Type: diff.ChangeAddTable, Description: "add table"}},
		HasDestructive: false,
	}

	data, err := json.Marshal(meta)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	for _, key := range []string{`"version"`, `"snapshotBefore"`, `"snapshotAfter"`, `"changes"`, `"hasDestructive"`} {
		if !strings.Contains(string(data), key) {
			t.Errorf("meta JSON missing %s: %s", key, data)
		}
	}

	var restored migrations.MigrationMeta
	if err := json.Unmarshal(data, &restored); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if restored.Version != migrations.MetaFormatVersion {
		t.Errorf("version lost: %d", restored.Version)
	}
}

// fakeExec returns a missing-table error for every query, standing in for a
// schema whose history table was never created.
type fakeExec struct {
	err error
}

func (f *fakeExec) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	return pgconn.CommandTag{}, f.err
}

func (f *fakeExec) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	return nil, f.err
}

func (f *fakeExec) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	return errRow{f.err}
}

type errRow struct{ err error }

func (r errRow) Scan(dest ...any) error { return r.err }

func TestListMigrations_MissingTableYieldsEmptyPage(t *testing.T) {
	missing := &pgconn.PgError{Code: "42P01", Message: `relation "_sys_migrations" does not exist`}
	manager := migrations.New(&fakeExec{err: missing})

	page, err := manager.ListMigrations(context.Background(), "app_missing", migrations.ListOptions{})
	if err != nil {
		t.Fatalf("missing history should not error: %v", err)
	}
	if page.Total != 0 || len(page.Migrations) != 0 {
		t.Errorf("expected empty page, got %+v", page)
	}
}

func TestListMigrations_MissingSchemaYieldsEmptyPage(t *testing.T) {
	missing := &pgconn.PgError{Code: "3F000", Message: `schema "app_missing" does not exist`}
	manager := migrations.New(&fakeExec{err: missing})

	page, err := manager.ListMigrations(context.Background(), "app_missing", migrations.ListOptions{})
	if err != nil {
		t.Fatalf("missing schema should not error: %v", err)
	}
	if page.Total != 0 {
		t.Errorf("expected zero total, got %d", page.Total)
	}
}

func TestGetLatestMigration_NoHistory(t *testing.T) {
	manager := migrations.New(&fakeExec{err: pgx.ErrNoRows})

	record, err := manager.GetLatestMigration(context.Background(), "app_empty")
	if err != nil {
		t.Fatalf("empty history should not error: %v", err)
	}
	if record != nil {
		t.Errorf("expected nil record, got %+v", record)
	}
}

func TestGetMigration_InvalidSchemaName(t *testing.T) {
	manager := migrations.New(&fakeExec{})

	if _, err := manager.ListMigrations(context.Background(), "1bad-name; DROP", migrations.ListOptions{}); err == nil {
		t.Error("invalid schema name should be rejected before any query")
	}
}
