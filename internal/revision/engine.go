// Package revision composes the SQL that realizes the append-only
// revision log: effective-row reads, undo/redo/revert row selection,
// save orchestration (including inverse-relation fix-up on delete),
// purge, and clear. Every exported function is pure SQL composition and
// orchestration over a *sqlitedb.Database; none of it touches Object
// handles or the identity map; that belongs to the manager.
package revision

import (
	"context"
	"fmt"

	"github.com/objgraph/objgraph/internal/model"
	"github.com/objgraph/objgraph/internal/object"
	"github.com/objgraph/objgraph/internal/objectid"
	"github.com/objgraph/objgraph/internal/sqlbuilder"
	"github.com/objgraph/objgraph/internal/sqlitedb"
)

// Engine is a stateless handle pairing a database connection with the
// compiled model whose tables it reads and writes.
type Engine struct {
	DB    *sqlitedb.Database
	Model *model.Model
}

// New returns an Engine over db and m.
func New(db *sqlitedb.Database, m *model.Model) *Engine {
	return &Engine{DB: db, Model: m}
}

// lastWhereClause renders the restriction inside the effective-row
// subquery (MAX(pk_id) grouped by obj_id): save_id <= cur AND extraWhere.
// curParam names the cur_save_id bind parameter so callers composing
// several of these in one statement can keep them distinct.
func lastWhereClause(extraWhere, curParam string) string {
	clause := fmt.Sprintf("save_id <= :%s", curParam)
	if extraWhere != "" {
		clause += " AND (" + extraWhere + ")"
	}
	return clause
}

// effectiveRowsWhere renders "pk_id IN (<max-rowid-per-obj_id subquery>)"
// against table, the single place the revision model leaks into reads.
// Unless includeRemoved, the chosen row must also have action != 'remove',
// so an object whose latest revision removes it yields no row at all.
func effectiveRowsWhere(table, extraWhere, curParam string, includeRemoved bool) string {
	sub := fmt.Sprintf("SELECT MAX(pk_id) FROM %s WHERE %s GROUP BY obj_id", table, lastWhereClause(extraWhere, curParam))
	where := fmt.Sprintf("pk_id IN (%s)", sub)
	if !includeRemoved {
		where += " AND action != 'remove'"
	}
	return where
}

// scanEntityRow scans one row of entity's table (system columns plus
// every declared custom attribute) into an object.Data. Relations are
// not populated; callers enrich separately.
func scanEntityRow(entity *model.Entity, rows *sqlitedb.Rows) (object.Data, error) {
	var pkID, objID, saveID int64
	var action string
	dest := []any{&pkID, &objID, &saveID, &action}

	type scanSlot struct {
		attr  model.Attribute
		iNum  *int64
		rNum  *float64
		sText *string
		bBlob *[]byte
		null  bool
	}
	slots := make([]scanSlot, len(entity.Attributes))
	for i, a := range entity.Attributes {
		slots[i].attr = a
		switch a.Type.ValueKindFor() {
		case model.KindInteger:
			slots[i].iNum = new(int64)
			dest = append(dest, slots[i].iNum)
		case model.KindReal:
			slots[i].rNum = new(float64)
			dest = append(dest, slots[i].rNum)
		case model.KindBlob:
			slots[i].bBlob = new([]byte)
			dest = append(dest, slots[i].bBlob)
		default:
			slots[i].sText = new(string)
			dest = append(dest, slots[i].sText)
		}
	}

	if err := rows.Scan(dest...); err != nil {
		return object.Data{}, fmt.Errorf("revision: scan %s row: %w", entity.Name, err)
	}

	attrs := make(map[string]model.Value, len(entity.Attributes))
	for _, s := range slots {
		switch s.attr.Type.ValueKindFor() {
		case model.KindInteger:
			attrs[s.attr.Name] = model.NewInteger(*s.iNum)
		case model.KindReal:
			attrs[s.attr.Name] = model.NewReal(*s.rNum)
		case model.KindBlob:
			attrs[s.attr.Name] = model.NewBlob(*s.bBlob)
		default:
			attrs[s.attr.Name] = model.NewText(*s.sText)
		}
	}

	return object.Data{
		ObjectID:   objectid.NewStable(objID),
		PKID:       pkID,
		SaveID:     saveID,
		Action:     action,
		Attributes: attrs,
		Relations:  make(map[string][]objectid.ID),
	}, nil
}

// maxObjID returns the highest obj_id ever used in table (irrespective of
// save_id or action), or 0 if the table is empty.
func maxObjID(ctx context.Context, db *sqlitedb.Database, table string) (int64, error) {
	rows, err := db.ExecuteQuery(ctx, fmt.Sprintf("SELECT COALESCE(MAX(obj_id), 0) FROM %s", table), nil)
	if err != nil {
		return 0, fmt.Errorf("revision: max obj_id on %s: %w", table, err)
	}
	defer rows.Close()
	if !rows.Next() {
		return 0, nil
	}
	var max int64
	if err := rows.Scan(&max); err != nil {
		return 0, fmt.Errorf("revision: scan max obj_id on %s: %w", table, err)
	}
	return max, rows.Err()
}

func attributeInsertValues(data object.Data, entity *model.Entity, objID, saveID int64) map[string]any {
	args := map[string]any{
		"obj_id":  objID,
		"save_id": saveID,
		"action":  data.Action,
	}
	for _, a := range entity.Attributes {
		if v, ok := data.Attributes[a.Name]; ok {
			args[a.Name] = v.Raw()
		} else {
			args[a.Name] = a.ZeroDefault().Raw()
		}
	}
	return args
}

func insertEntityRow(ctx context.Context, db *sqlitedb.Database, entity *model.Entity, data object.Data, objID, saveID int64) (int64, error) {
	fields := append([]string{"obj_id", "save_id", "action"}, attributeNames(entity)...)
	sql := sqlbuilder.Insert(entity.Name, fields)
	if err := db.ExecuteUpdate(ctx, sql, attributeInsertValues(data, entity, objID, saveID)); err != nil {
		return 0, fmt.Errorf("revision: insert %s row: %w", entity.Name, err)
	}
	return db.LastInsertRowID(), nil
}

func attributeNames(entity *model.Entity) []string {
	names := make([]string, len(entity.Attributes))
	for i, a := range entity.Attributes {
		names[i] = a.Name
	}
	return names
}

func insertRelationRows(ctx context.Context, db *sqlitedb.Database, entity *model.Entity, relName string, srcPKID, srcObjID, saveID int64, targets []objectid.ID) error {
	rel, ok := entity.Relation(relName)
	if !ok {
		return fmt.Errorf("revision: entity %q has no relation %q", entity.Name, relName)
	}
	sql := sqlbuilder.Insert(rel.TableName(), rel.InsertColumns())
	for _, tgt := range targets {
		if err := db.ExecuteUpdate(ctx, sql, map[string]any{
			model.RelColSrcPKID:  srcPKID,
			model.RelColSrcObjID: srcObjID,
			model.RelColTgtObjID: tgt.Stable(),
			model.RelColSaveID:   saveID,
		}); err != nil {
			return fmt.Errorf("revision: insert relation row %s: %w", rel.TableName(), err)
		}
	}
	return nil
}

// readRelationIDs returns the ordered target ids of relName for the
// object whose effective row has (obj_id=srcObjID, save_id=saveID),
// reading directly from the side table in insertion (pk_id) order.
func readRelationIDs(ctx context.Context, db *sqlitedb.Database, entity *model.Entity, relName string, srcObjID, saveID int64) ([]objectid.ID, error) {
	rel, ok := entity.Relation(relName)
	if !ok {
		return nil, fmt.Errorf("revision: entity %q has no relation %q", entity.Name, relName)
	}
	rows, err := db.ExecuteQuery(ctx, sqlbuilder.Select(sqlbuilder.SelectOption{
		Table:  rel.TableName(),
		Fields: []string{model.RelColTgtObjID},
		Where:  fmt.Sprintf("%s = :src_obj_id AND %s = :save_id", model.RelColSrcObjID, model.RelColSaveID),
		FieldOrders: []sqlbuilder.FieldOrder{{Field: model.RelColPKID}},
	}), map[string]any{"src_obj_id": srcObjID, "save_id": saveID})
	if err != nil {
		return nil, fmt.Errorf("revision: read relation %s: %w", rel.TableName(), err)
	}
	defer rows.Close()
	var ids []objectid.ID
	for rows.Next() {
		var tgt int64
		if err := rows.Scan(&tgt); err != nil {
			return nil, fmt.Errorf("revision: scan relation %s: %w", rel.TableName(), err)
		}
		ids = append(ids, objectid.NewStable(tgt))
	}
	return ids, rows.Err()
}

// enrichWithRelations populates data.Relations for every relation the
// entity declares, reading each side table constrained to
// (save_id = data.SaveID AND src_obj_id = data.ObjectID.Stable()).
func enrichWithRelations(ctx context.Context, db *sqlitedb.Database, entity *model.Entity, data *object.Data) error {
	for _, r := range entity.Relations {
		ids, err := readRelationIDs(ctx, db, entity, r.Name, data.ObjectID.Stable(), data.SaveID)
		if err != nil {
			return err
		}
		data.Relations[r.Name] = ids
	}
	return nil
}
