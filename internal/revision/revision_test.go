package revision

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/objgraph/objgraph/internal/model"
	"github.com/objgraph/objgraph/internal/object"
	"github.com/objgraph/objgraph/internal/objectid"
	"github.com/objgraph/objgraph/internal/schema"
	"github.com/objgraph/objgraph/internal/sqlitedb"
)

func testEngine(t *testing.T) (*Engine, context.Context) {
	t.Helper()
	dir, err := os.MkdirTemp("", "revision-test-")
	if err != nil {
		t.Fatalf("MkdirTemp: %v", err)
	}
	t.Cleanup(func() { os.RemoveAll(dir) })
	db, err := sqlitedb.Open(filepath.Join(dir, "test.db"), "")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	m, err := model.New("1.0", []model.Entity{
		{
			Name: "A",
			Attributes: []model.Attribute{
				{Name: "name", Type: model.AttributeText, Default: model.NewText(""), HasDefault: true},
				{Name: "age", Type: model.AttributeInteger, Default: model.NewInteger(0), HasDefault: true},
			},
		},
		{
			Name:       "B",
			Attributes: []model.Attribute{{Name: "label", Type: model.AttributeText, Default: model.NewText(""), HasDefault: true}},
			Relations:  []model.Relation{{Name: "ref", Target: "A", Many: false}},
		},
	}, nil)
	if err != nil {
		t.Fatalf("model.New: %v", err)
	}

	ctx := context.Background()
	if _, err := schema.Setup(ctx, db, m); err != nil {
		t.Fatalf("schema.Setup: %v", err)
	}
	return New(db, m), ctx
}

func TestInsertObjectsAssignsSequentialObjIDs(t *testing.T) {
	e, ctx := testEngine(t)
	entityA, _ := e.Model.Entity("A")

	loaded, err := e.InsertObjects(ctx, "A", []map[string]model.Value{
		{"name": model.NewText("x"), "age": model.NewInteger(7)},
		{"name": model.NewText("y"), "age": model.NewInteger(9)},
	}, 1)
	if err != nil {
		t.Fatalf("InsertObjects: %v", err)
	}
	if len(loaded) != 2 {
		t.Fatalf("len(loaded) = %d, want 2", len(loaded))
	}
	if loaded[0].ObjectID.Stable() != 1 || loaded[1].ObjectID.Stable() != 2 {
		t.Fatalf("obj_ids = %d,%d want 1,2", loaded[0].ObjectID.Stable(), loaded[1].ObjectID.Stable())
	}
	if loaded[0].Attributes["name"].Text() != "x" {
		t.Errorf("name = %q, want x", loaded[0].Attributes["name"].Text())
	}

	rows, err := e.SelectLast(ctx, entityA, 1, false, "", nil)
	if err != nil {
		t.Fatalf("SelectLast: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("effective rows = %d, want 2", len(rows))
	}
}

// TestSaveChangedThenUndo walks scenario 2 from the end-to-end set: a
// second revision, then reverting to the first, checking the effective
// row reverts to the pre-edit state.
func TestSaveChangedThenUndo(t *testing.T) {
	e, ctx := testEngine(t)
	entityA, _ := e.Model.Entity("A")

	inserted, err := e.InsertObjects(ctx, "A", []map[string]model.Value{
		{"name": model.NewText("x"), "age": model.NewInteger(7)},
	}, 1)
	if err != nil {
		t.Fatalf("InsertObjects: %v", err)
	}
	obj1 := inserted[0].ObjectID

	edited := object.Data{
		ObjectID:   obj1,
		Action:     model.ActionUpdate,
		Attributes: map[string]model.Value{"name": model.NewText("x"), "age": model.NewInteger(8)},
		Relations:  map[string][]objectid.ID{},
	}
	if _, err := e.SaveChanged(ctx, map[string][]object.Data{"A": {edited}}, 1, 2); err != nil {
		t.Fatalf("SaveChanged: %v", err)
	}

	rows, err := e.SelectLast(ctx, entityA, 2, false, "", nil)
	if err != nil {
		t.Fatalf("SelectLast at cur=2: %v", err)
	}
	if len(rows) != 1 || rows[0].Attributes["age"].Integer() != 8 {
		t.Fatalf("effective row at cur=2 = %+v, want age=8", rows)
	}

	result, err := e.Revert(ctx, 1, 2)
	if err != nil {
		t.Fatalf("Revert: %v", err)
	}
	undoA := result["A"]
	if len(undoA.Restored) != 1 || undoA.Restored[0].Attributes["age"].Integer() != 7 {
		t.Fatalf("reverted A rows = %+v, want age=7", undoA.Restored)
	}
}

// TestInverseFixupOnDelete walks scenario 3: removing A1 propagates to
// B1's relation on the next save.
func TestInverseFixupOnDelete(t *testing.T) {
	e, ctx := testEngine(t)

	insA, err := e.InsertObjects(ctx, "A", []map[string]model.Value{
		{"name": model.NewText("x"), "age": model.NewInteger(1)},
	}, 1)
	if err != nil {
		t.Fatalf("InsertObjects A: %v", err)
	}
	a1 := insA[0].ObjectID

	insB, err := e.InsertObjects(ctx, "B", []map[string]model.Value{
		{"label": model.NewText("b1")},
	}, 1)
	if err != nil {
		t.Fatalf("InsertObjects B: %v", err)
	}
	b1 := insB[0].ObjectID

	// attach B1.ref = [A1] as a save at save_id=2
	bEdit := object.Data{
		ObjectID:   b1,
		Action:     model.ActionUpdate,
		Attributes: map[string]model.Value{"label": model.NewText("b1")},
		Relations:  map[string][]objectid.ID{"ref": {a1}},
	}
	if _, err := e.SaveChanged(ctx, map[string][]object.Data{"B": {bEdit}}, 1, 2); err != nil {
		t.Fatalf("SaveChanged attach ref: %v", err)
	}

	// remove A1 at save_id=3
	aRemove := object.Data{
		ObjectID: a1,
		Action:   model.ActionRemove,
	}
	result, err := e.SaveChanged(ctx, map[string][]object.Data{"A": {aRemove}}, 2, 3)
	if err != nil {
		t.Fatalf("SaveChanged remove A1: %v", err)
	}

	bFixups, ok := result["B"]
	if !ok || len(bFixups) != 1 {
		t.Fatalf("expected one B fix-up row, got %+v", result["B"])
	}
	if len(bFixups[0].Relations["ref"]) != 0 {
		t.Fatalf("expected B1.ref emptied after A1 removal, got %+v", bFixups[0].Relations["ref"])
	}
	if bFixups[0].Action != model.ActionUpdate {
		t.Fatalf("expected fix-up action=update, got %q", bFixups[0].Action)
	}

	entityB, _ := e.Model.Entity("B")
	onDisk, err := e.SelectLast(ctx, entityB, 3, false, "", nil)
	if err != nil {
		t.Fatalf("SelectLast B: %v", err)
	}
	if err := enrichWithRelations(ctx, e.DB, entityB, &onDisk[0]); err != nil {
		t.Fatalf("enrichWithRelations: %v", err)
	}
	if len(onDisk[0].Relations["ref"]) != 0 {
		t.Fatalf("expected on-disk B1.ref emptied, got %+v", onDisk[0].Relations["ref"])
	}
}

// TestInverseFixupSkipsReferrerAlreadySavedThisPass covers the case the
// manager actually exercises: B's ref is stripped in memory before the
// save (the manager already ran RemoveRelationID on the cached referrer),
// so B arrives in the same SaveChanged call as A's removal, already
// carrying the emptied relation. fixupInverseReferences must recognize
// B's own just-written row as already consistent and must not also write
// a second row for B at the same save_id.
func TestInverseFixupSkipsReferrerAlreadySavedThisPass(t *testing.T) {
	e, ctx := testEngine(t)
	entityB, _ := e.Model.Entity("B")

	insA, err := e.InsertObjects(ctx, "A", []map[string]model.Value{
		{"name": model.NewText("x"), "age": model.NewInteger(1)},
	}, 1)
	if err != nil {
		t.Fatalf("InsertObjects A: %v", err)
	}
	a1 := insA[0].ObjectID

	insB, err := e.InsertObjects(ctx, "B", []map[string]model.Value{
		{"label": model.NewText("b1")},
	}, 1)
	if err != nil {
		t.Fatalf("InsertObjects B: %v", err)
	}
	b1 := insB[0].ObjectID

	bEdit := object.Data{
		ObjectID:   b1,
		Action:     model.ActionUpdate,
		Attributes: map[string]model.Value{"label": model.NewText("b1")},
		Relations:  map[string][]objectid.ID{"ref": {a1}},
	}
	if _, err := e.SaveChanged(ctx, map[string][]object.Data{"B": {bEdit}}, 1, 2); err != nil {
		t.Fatalf("SaveChanged attach ref: %v", err)
	}

	// Remove A1 and, in the same save, B1 with its ref already emptied -
	// the state the manager's in-memory RemoveRelationID would have left
	// on the cached referrer before handing it to save.
	aRemove := object.Data{
		ObjectID: a1,
		Action:   model.ActionRemove,
	}
	bAlreadyStripped := object.Data{
		ObjectID:   b1,
		Action:     model.ActionUpdate,
		Attributes: map[string]model.Value{"label": model.NewText("b1")},
		Relations:  map[string][]objectid.ID{"ref": {}},
	}
	result, err := e.SaveChanged(ctx, map[string][]object.Data{
		"A": {aRemove},
		"B": {bAlreadyStripped},
	}, 2, 3)
	if err != nil {
		t.Fatalf("SaveChanged remove A1 + save B1: %v", err)
	}

	if len(result["B"]) != 1 {
		t.Fatalf("expected exactly one B row returned from save, got %d: %+v", len(result["B"]), result["B"])
	}

	rows, err := e.DB.ExecuteQuery(ctx, "SELECT COUNT(*) FROM B WHERE obj_id = :obj_id AND save_id = :save_id",
		map[string]any{"obj_id": b1.Stable(), "save_id": int64(3)})
	if err != nil {
		t.Fatalf("count query: %v", err)
	}
	defer rows.Close()
	if !rows.Next() {
		t.Fatalf("count query returned no rows")
	}
	var count int64
	if err := rows.Scan(&count); err != nil {
		t.Fatalf("scan count: %v", err)
	}
	if count != 1 {
		t.Fatalf("physical B rows at save_id=3 = %d, want exactly 1 (no duplicate insert from fix-up)", count)
	}

	onDisk, err := e.SelectLast(ctx, entityB, 3, false, "", nil)
	if err != nil {
		t.Fatalf("SelectLast B: %v", err)
	}
	if len(onDisk) != 1 {
		t.Fatalf("effective B rows at save_id=3 = %d, want 1", len(onDisk))
	}
	if err := enrichWithRelations(ctx, e.DB, entityB, &onDisk[0]); err != nil {
		t.Fatalf("enrichWithRelations: %v", err)
	}
	if len(onDisk[0].Relations["ref"]) != 0 {
		t.Fatalf("expected B1.ref to remain emptied, got %+v", onDisk[0].Relations["ref"])
	}
}

func TestPurgeCollapsesHistory(t *testing.T) {
	e, ctx := testEngine(t)
	entityA, _ := e.Model.Entity("A")

	inserted, err := e.InsertObjects(ctx, "A", []map[string]model.Value{
		{"name": model.NewText("x"), "age": model.NewInteger(0)},
	}, 1)
	if err != nil {
		t.Fatalf("InsertObjects: %v", err)
	}
	obj1 := inserted[0].ObjectID

	cur := int64(1)
	for i := 1; i <= 4; i++ {
		next := cur + 1
		edit := object.Data{
			ObjectID:   obj1,
			Action:     model.ActionUpdate,
			Attributes: map[string]model.Value{"name": model.NewText("x"), "age": model.NewInteger(int64(i))},
			Relations:  map[string][]objectid.ID{},
		}
		if _, err := e.SaveChanged(ctx, map[string][]object.Data{"A": {edit}}, cur, next); err != nil {
			t.Fatalf("SaveChanged %d: %v", i, err)
		}
		cur = next
	}

	if err := e.Purge(ctx, cur, cur); err != nil {
		t.Fatalf("Purge: %v", err)
	}

	rows, err := e.SelectLast(ctx, entityA, 1, true, "", nil)
	if err != nil {
		t.Fatalf("SelectLast after purge: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("rows after purge = %d, want 1", len(rows))
	}
	if rows[0].SaveID != 1 {
		t.Fatalf("save_id after purge = %d, want 1", rows[0].SaveID)
	}
}

func TestClearEmptiesEveryTable(t *testing.T) {
	e, ctx := testEngine(t)
	entityA, _ := e.Model.Entity("A")

	if _, err := e.InsertObjects(ctx, "A", []map[string]model.Value{
		{"name": model.NewText("x"), "age": model.NewInteger(0)},
	}, 1); err != nil {
		t.Fatalf("InsertObjects: %v", err)
	}

	if err := e.Clear(ctx); err != nil {
		t.Fatalf("Clear: %v", err)
	}

	rows, err := e.SelectLast(ctx, entityA, 1, true, "", nil)
	if err != nil {
		t.Fatalf("SelectLast after clear: %v", err)
	}
	if len(rows) != 0 {
		t.Fatalf("rows after clear = %d, want 0", len(rows))
	}
}
