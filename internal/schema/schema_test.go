package schema

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/objgraph/objgraph/internal/model"
	"github.com/objgraph/objgraph/internal/sqlitedb"
)

func openTestDB(t *testing.T) *sqlitedb.Database {
	t.Helper()
	dir, err := os.MkdirTemp("", "schema-test-")
	if err != nil {
		t.Fatalf("MkdirTemp: %v", err)
	}
	t.Cleanup(func() { os.RemoveAll(dir) })
	db, err := sqlitedb.Open(filepath.Join(dir, "test.db"), "")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func buildModel(t *testing.T, version string, extraAttr bool) *model.Model {
	t.Helper()
	attrs := []model.Attribute{
		{Name: "name", Type: model.AttributeText, Default: model.NewText(""), HasDefault: true},
	}
	if extraAttr {
		attrs = append(attrs, model.Attribute{Name: "age", Type: model.AttributeInteger, Default: model.NewInteger(0), HasDefault: true})
	}
	m, err := model.New(version, []model.Entity{
		{Name: "A", Attributes: attrs, Relations: []model.Relation{{Name: "ref", Target: "B", Many: true}}},
		{Name: "B"},
	}, []model.Index{{Name: "idx_a_name", Entity: "A", Attributes: []string{"name"}}})
	if err != nil {
		t.Fatalf("model.New: %v", err)
	}
	return m
}

func TestSetupCreatesFresh(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	m := buildModel(t, "1.0", false)

	info, err := Setup(ctx, db, m)
	if err != nil {
		t.Fatalf("Setup: %v", err)
	}
	if info.Version != "1.0" || info.CurSaveID != 0 || info.LastSaveID != 0 {
		t.Fatalf("info = %+v, want {1.0 0 0}", info)
	}

	for _, table := range []string{"A", "B", "rel_A_ref"} {
		exists, err := db.TableExists(ctx, table)
		if err != nil {
			t.Fatalf("TableExists(%s): %v", table, err)
		}
		if !exists {
			t.Errorf("expected table %q to exist", table)
		}
	}
	exists, err := db.IndexExists(ctx, "idx_a_name")
	if err != nil {
		t.Fatalf("IndexExists: %v", err)
	}
	if !exists {
		t.Errorf("expected index idx_a_name to exist")
	}
}

func TestSetupIsIdempotent(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	m := buildModel(t, "1.0", false)

	if _, err := Setup(ctx, db, m); err != nil {
		t.Fatalf("first Setup: %v", err)
	}
	if _, err := Setup(ctx, db, m); err != nil {
		t.Fatalf("second Setup: %v", err)
	}
}

func TestMigrateAddsColumnAdditively(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	v1 := buildModel(t, "1.0", false)
	if _, err := Setup(ctx, db, v1); err != nil {
		t.Fatalf("Setup v1: %v", err)
	}

	v2 := buildModel(t, "1.1", true)
	info, err := Setup(ctx, db, v2)
	if err != nil {
		t.Fatalf("Setup v2: %v", err)
	}
	if info.Version != "1.1" {
		t.Fatalf("version = %q, want 1.1", info.Version)
	}

	has, err := db.ColumnExists(ctx, "A", "age")
	if err != nil {
		t.Fatalf("ColumnExists: %v", err)
	}
	if !has {
		t.Errorf("expected additive migration to add column age")
	}
}

func TestMigrateNoOpOnSameOrOlderVersion(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	v1 := buildModel(t, "2.0", true)
	if _, err := Setup(ctx, db, v1); err != nil {
		t.Fatalf("Setup v1: %v", err)
	}

	older := buildModel(t, "1.0", false)
	info, err := Setup(ctx, db, older)
	if err != nil {
		t.Fatalf("Setup older: %v", err)
	}
	// version is written back even though migration was a structural no-op
	if info.Version != "1.0" {
		t.Fatalf("version = %q, want 1.0 (written back)", info.Version)
	}
	has, err := db.ColumnExists(ctx, "A", "age")
	if err != nil {
		t.Fatalf("ColumnExists: %v", err)
	}
	if !has {
		t.Errorf("expected additive-only migration to never drop column age")
	}
}
