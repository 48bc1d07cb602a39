package snapshot_test

import (
	"encoding/json"
	"testing"

	"github.com/google/uuid"

	"metahub/schemacore/entity"
	"metahub/schemacore/naming"
	"metahub/schemacore/snapshot"
)

func TestBuild(t *testing.T) {
	productID := uuid.New()
	categoryID := uuid.New()
	nameFieldID := uuid.New()
	categoryFieldID := uuid.New()

	entities := []entity.EntityDefinition{
		{
			ID:       productID,
			Codename: "Product",
			Kind:     entity.KindCatalog,
			Fields: []entity.FieldDefinition{
				{ID: nameFieldID, Codename: "name", DataType: entity.DataTypeString, IsRequired: true},
				{ID: categoryFieldID, Codename: "category", DataType: entity.DataTypeRef, TargetEntityID: &categoryID},
			},
		},
		{ID: categoryID, Codename: "Category", Kind: entity.KindCatalog},
	}

	snap := snapshot.Build(entities)

	if snap.Version != snapshot.FormatVersion {
		t.Errorf("version = %d, want %d", snap.Version, snapshot.FormatVersion)
	}
	if snap.GeneratedAt.IsZero() {
		t.Error("GeneratedAt not stamped")
	}
	if len(snap.Entities) != 2 {
		t.Fatalf("got %d entities, want 2", len(snap.Entities))
	}

	product := snap.Entities[productID]
	if product.TableName != naming.GenerateTableName(productID, entity.KindCatalog) {
		t.Errorf("table name %q does not match naming derivation", product.TableName)
	}
	if product.Codename != "Product" {
		t.Errorf("codename = %q", product.Codename)
	}

	nameField := product.Fields[nameFieldID]
	if nameField.ColumnName != naming.GenerateColumnName(nameFieldID) {
		t.Errorf("column name %q does not match naming derivation", nameField.ColumnName)
	}
	if !nameField.IsRequired || nameField.DataType != entity.DataTypeString {
		t.Errorf("name field attributes not copied: %+v", nameField)
	}

	refField := product.Fields[categoryFieldID]
	if refField.TargetEntityID == nil || *refField.TargetEntityID != categoryID {
		t.Errorf("ref target not copied: %+v", refField)
	}
}

func TestBuild_TargetIDIsCopied(t *testing.T) {
	target := uuid.New()
	fieldID := uuid.New()
	entities := []entity.EntityDefinition{
		{
			ID:   uuid.New(),
			Kind: entity.KindCatalog,
			Fields: []entity.FieldDefinition{
				{ID: fieldID, Codename: "ref", DataType: entity.DataTypeRef, TargetEntityID: &target},
			},
		},
	}

	snap := snapshot.Build(entities)

	// Mutating the input model after the fact must not reach into the
	// snapshot: snapshots are immutable once produced.
	// target is the variable the field points at, so save the original value
	// before the aliasing write below overwrites it.
	want := target
	mutated := uuid.New()
	*entities[0].Fields[0].TargetEntityID = mutated

	got := snap.Entities[entities[0].ID].Fields[fieldID].TargetEntityID
	if got == nil || *got != want {
		t.Errorf("snapshot target changed with the model: got %v, want %v", got, want)
	}
}

func TestSnapshot_JSONRoundTrip(t *testing.T) {
	entities := []entity.EntityDefinition{
		{
			ID:       uuid.New(),
			Codename: "Order",
			Kind:     entity.KindLink,
			Fields: []entity.FieldDefinition{
				{ID: uuid.New(), Codename: "total", DataType: entity.DataTypeNumber, IsRequired: true},
			},
		},
	}
	snap := snapshot.Build(entities)

	data, err := json.Marshal(snap)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var restored snapshot.SchemaSnapshot
	if err := json.Unmarshal(data, &restored); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	if restored.Version != snap.Version {
		t.Errorf("version lost in round trip: %d", restored.Version)
	}
	if len(restored.Entities) != len(snap.Entities) {
		t.Fatalf("entity count lost in round trip")
	}
	for id, ent := range snap.Entities {
		got, ok := restored.Entities[id]
		if !ok {
			t.Fatalf("entity %s lost in round trip", id)
		}
		if got.TableName != ent.TableName || len(got.Fields) != len(ent.Fields) {
			t.Errorf("entity %s changed in round trip: %+v vs %+v", id, got, ent)
		}
	}
}
