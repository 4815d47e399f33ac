// Package schema creates or migrates the on-disk tables for a compiled
// model: the db_info row, one table per entity, one side table per
// relation, and declared indices.
package schema

import (
	"context"
	"fmt"

	"github.com/objgraph/objgraph/internal/model"
	"github.com/objgraph/objgraph/internal/sqlbuilder"
	"github.com/objgraph/objgraph/internal/sqlitedb"
)

const infoTable = "db_info"

// Info mirrors the single db_info row.
type Info struct {
	Version     string
	CurSaveID   int64
	LastSaveID  int64
}

// systemColumnDefs renders the CREATE TABLE column definitions of the
// four system columns every entity table carries.
func systemColumnDefs() []string {
	return []string{
		model.ColPKID + " INTEGER PRIMARY KEY AUTOINCREMENT",
		model.ColObjID + " INTEGER NOT NULL DEFAULT 0",
		model.ColSaveID + " INTEGER NOT NULL DEFAULT 0",
		model.ColAction + " TEXT NOT NULL DEFAULT 'insert'",
	}
}

func attributeColumnDef(a model.Attribute) string {
	def := a.Name + " " + a.Type.String()
	if a.NotNull {
		def += " NOT NULL"
	}
	if a.HasDefault {
		lit, err := a.Default.Literal()
		if err == nil {
			def += " DEFAULT " + lit
		}
	}
	if a.Primary {
		def += " PRIMARY KEY"
	}
	if a.Unique {
		def += " UNIQUE"
	}
	return def
}

func entityColumnDefs(e *model.Entity) []string {
	defs := systemColumnDefs()
	for _, a := range e.Attributes {
		defs = append(defs, attributeColumnDef(a))
	}
	return defs
}

func relationColumnDefs() []string {
	return []string{
		model.RelColPKID + " INTEGER PRIMARY KEY AUTOINCREMENT",
		model.RelColSrcPKID + " INTEGER",
		model.RelColSrcObjID + " INTEGER",
		model.RelColTgtObjID + " INTEGER",
		model.RelColSaveID + " INTEGER",
	}
}

// Setup creates or migrates the schema for m inside a caller-managed
// transaction on db, and returns the db_info row afterward.
func Setup(ctx context.Context, db *sqlitedb.Database, m *model.Model) (Info, error) {
	exists, err := db.TableExists(ctx, infoTable)
	if err != nil {
		return Info{}, fmt.Errorf("schema: check db_info: %w", err)
	}
	if !exists {
		if err := createFresh(ctx, db, m); err != nil {
			return Info{}, err
		}
	} else {
		if err := migrate(ctx, db, m); err != nil {
			return Info{}, err
		}
	}
	return readInfo(ctx, db)
}

func createFresh(ctx context.Context, db *sqlitedb.Database, m *model.Model) error {
	if err := db.ExecuteUpdate(ctx, sqlbuilder.CreateTable(infoTable, []string{
		"version TEXT", "cur_save_id INTEGER", "last_save_id INTEGER",
	}), nil); err != nil {
		return fmt.Errorf("schema: create db_info: %w", err)
	}
	for _, e := range m.Entities() {
		if err := createEntity(ctx, db, e); err != nil {
			return err
		}
	}
	if err := createMissingIndices(ctx, db, m); err != nil {
		return err
	}
	if err := db.ExecuteUpdate(ctx, sqlbuilder.Insert(infoTable, []string{"version", "cur_save_id", "last_save_id"}),
		map[string]any{"version": m.Version, "cur_save_id": int64(0), "last_save_id": int64(0)}); err != nil {
		return fmt.Errorf("schema: insert db_info: %w", err)
	}
	return nil
}

func createEntity(ctx context.Context, db *sqlitedb.Database, e *model.Entity) error {
	if err := db.ExecuteUpdate(ctx, sqlbuilder.CreateTable(e.Name, entityColumnDefs(e)), nil); err != nil {
		return fmt.Errorf("schema: create entity table %q: %w", e.Name, err)
	}
	for _, r := range e.Relations {
		if err := db.ExecuteUpdate(ctx, sqlbuilder.CreateTable(r.TableName(), relationColumnDefs()), nil); err != nil {
			return fmt.Errorf("schema: create relation table %q: %w", r.TableName(), err)
		}
	}
	return nil
}

func createMissingIndices(ctx context.Context, db *sqlitedb.Database, m *model.Model) error {
	for _, idx := range m.Indices() {
		exists, err := db.IndexExists(ctx, idx.Name)
		if err != nil {
			return fmt.Errorf("schema: check index %q: %w", idx.Name, err)
		}
		if exists {
			continue
		}
		if err := db.ExecuteUpdate(ctx, sqlbuilder.CreateIndex(idx.Name, idx.Entity, idx.Attributes), nil); err != nil {
			return fmt.Errorf("schema: create index %q: %w", idx.Name, err)
		}
	}
	return nil
}

// migrate handles the case where db_info already exists: it always
// writes the current model version back and, if the stored version is
// already current or newer, only creates missing indices. Migration is additive
// only: new columns, new tables, new indices; nothing is ever dropped
// or retyped.
func migrate(ctx context.Context, db *sqlitedb.Database, m *model.Model) error {
	stored, err := readInfo(ctx, db)
	if err != nil {
		return err
	}
	if err := db.ExecuteUpdate(ctx, sqlbuilder.Update(infoTable, []string{"version"}, ""),
		map[string]any{"version": m.Version}); err != nil {
		return fmt.Errorf("schema: write back model version: %w", err)
	}
	if model.CompareVersions(m.Version, stored.Version) <= 0 {
		return createMissingIndices(ctx, db, m)
	}
	for _, e := range m.Entities() {
		exists, err := db.TableExists(ctx, e.Name)
		if err != nil {
			return fmt.Errorf("schema: check entity table %q: %w", e.Name, err)
		}
		if !exists {
			if err := createEntity(ctx, db, e); err != nil {
				return err
			}
			continue
		}
		for _, a := range e.Attributes {
			has, err := db.ColumnExists(ctx, e.Name, a.Name)
			if err != nil {
				return fmt.Errorf("schema: check column %q.%q: %w", e.Name, a.Name, err)
			}
			if has {
				continue
			}
			if err := db.ExecuteUpdate(ctx, sqlbuilder.AddColumn(e.Name, attributeColumnDef(a)), nil); err != nil {
				return fmt.Errorf("schema: add column %q.%q: %w", e.Name, a.Name, err)
			}
		}
		for _, r := range e.Relations {
			exists, err := db.TableExists(ctx, r.TableName())
			if err != nil {
				return fmt.Errorf("schema: check relation table %q: %w", r.TableName(), err)
			}
			if !exists {
				if err := db.ExecuteUpdate(ctx, sqlbuilder.CreateTable(r.TableName(), relationColumnDefs()), nil); err != nil {
					return fmt.Errorf("schema: create relation table %q: %w", r.TableName(), err)
				}
			}
		}
	}
	return createMissingIndices(ctx, db, m)
}

func readInfo(ctx context.Context, db *sqlitedb.Database) (Info, error) {
	rows, err := db.ExecuteQuery(ctx, sqlbuilder.Select(sqlbuilder.SelectOption{
		Table: infoTable, Fields: []string{"version", "cur_save_id", "last_save_id"},
	}), nil)
	if err != nil {
		return Info{}, fmt.Errorf("schema: select db_info: %w", err)
	}
	defer rows.Close()
	if !rows.Next() {
		return Info{}, fmt.Errorf("schema: db_info table has no row")
	}
	var info Info
	if err := rows.Scan(&info.Version, &info.CurSaveID, &info.LastSaveID); err != nil {
		return Info{}, fmt.Errorf("schema: scan db_info: %w", err)
	}
	return info, rows.Err()
}

// WriteInfo persists info as the single db_info row.
func WriteInfo(ctx context.Context, db *sqlitedb.Database, info Info) error {
	if err := db.ExecuteUpdate(ctx, sqlbuilder.Update(infoTable, []string{"version", "cur_save_id", "last_save_id"}, ""),
		map[string]any{"version": info.Version, "cur_save_id": info.CurSaveID, "last_save_id": info.LastSaveID}); err != nil {
		return fmt.Errorf("schema: update db_info: %w", err)
	}
	return nil
}

// ReadInfo re-reads the current db_info row.
func ReadInfo(ctx context.Context, db *sqlitedb.Database) (Info, error) {
	return readInfo(ctx, db)
}
