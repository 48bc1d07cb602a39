package database_test

import (
	"testing"

	"metahub/schemacore/database"
)

func TestSchemaLockKey(t *testing.T) {
	a := database.SchemaLockKey("app_aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa")
	b := database.SchemaLockKey("app_bbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb")

	if a == b {
		t.Error("distinct schemas must map to distinct lock keys")
	}
	if a != database.SchemaLockKey("app_aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa") {
		t.Error("lock key must be stable for a given schema name")
	}
}
