package manager

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/objgraph/objgraph/internal/model"
	"github.com/objgraph/objgraph/internal/object"
	"github.com/objgraph/objgraph/internal/schema"
	"github.com/objgraph/objgraph/internal/sqlitedb"
)

func testManager(t *testing.T) (*Manager, context.Context) {
	t.Helper()
	dir, err := os.MkdirTemp("", "manager-test-")
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
			Relations:  []model.Relation{{Name: "ref", Target: "A", Many: true}},
		},
	}, nil)
	if err != nil {
		t.Fatalf("model.New: %v", err)
	}

	mgr := New(db, m)
	t.Cleanup(mgr.Close)

	ctx := context.Background()
	if err := mgr.Setup(ctx); err != nil {
		t.Fatalf("Setup: %v", err)
	}
	return mgr, ctx
}

func TestSetupPublishesDBInfo(t *testing.T) {
	mgr, _ := testManager(t)

	var got schema.Info
	unsub := mgr.ObserveDBInfo(func(info schema.Info) {
		got = info
	})
	defer unsub()

	if got.Version != "1.0" || got.CurSaveID != 0 || got.LastSaveID != 0 {
		t.Fatalf("info on subscribe = %+v, want version 1.0, 0, 0", got)
	}
}

func TestCreateObjectThenSaveAssignsStableID(t *testing.T) {
	mgr, ctx := testManager(t)

	o, err := mgr.CreateObject("A")
	if err != nil {
		t.Fatalf("CreateObject: %v", err)
	}
	if o.Status() != object.StatusCreated {
		t.Fatalf("status = %v, want Created", o.Status())
	}
	if err := o.SetAttributeValue("name", model.NewText("alice")); err != nil {
		t.Fatalf("SetAttributeValue: %v", err)
	}
	if !mgr.HasCreatedObjects() {
		t.Fatalf("expected HasCreatedObjects true before Save")
	}

	if err := mgr.Save(ctx); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if mgr.HasCreatedObjects() {
		t.Fatalf("expected HasCreatedObjects false after Save")
	}
	if !o.ObjectID().HasStable() {
		t.Fatalf("expected stable id assigned after save")
	}
	if o.ObjectID().Stable() != 1 {
		t.Fatalf("stable id = %d, want 1", o.ObjectID().Stable())
	}
}

// TestSaveEditUndoRedo walks the same undo/redo scenario the revision
// engine tests cover, but end to end through Manager.Save/Revert.
func TestSaveEditUndoRedo(t *testing.T) {
	mgr, ctx := testManager(t)

	a, err := mgr.CreateObject("A")
	if err != nil {
		t.Fatalf("CreateObject: %v", err)
	}
	if err := a.SetAttributeValue("age", model.NewInteger(7)); err != nil {
		t.Fatalf("SetAttributeValue: %v", err)
	}
	if err := mgr.Save(ctx); err != nil {
		t.Fatalf("Save 1: %v", err)
	}
	info, err := mgr.Info(ctx)
	if err != nil {
		t.Fatalf("Info: %v", err)
	}
	if info.CurSaveID != 1 {
		t.Fatalf("cur save id = %d, want 1", info.CurSaveID)
	}

	if err := a.SetAttributeValue("age", model.NewInteger(8)); err != nil {
		t.Fatalf("SetAttributeValue: %v", err)
	}
	if err := mgr.Save(ctx); err != nil {
		t.Fatalf("Save 2: %v", err)
	}
	v, err := a.AttributeValue("age")
	if err != nil {
		t.Fatalf("AttributeValue: %v", err)
	}
	if v.Integer() != 8 {
		t.Fatalf("age after save 2 = %d, want 8", v.Integer())
	}

	if err := mgr.Revert(ctx, 1); err != nil {
		t.Fatalf("Revert: %v", err)
	}
	v, err = a.AttributeValue("age")
	if err != nil {
		t.Fatalf("AttributeValue after revert: %v", err)
	}
	if v.Integer() != 7 {
		t.Fatalf("age after revert = %d, want 7", v.Integer())
	}

	if err := mgr.Revert(ctx, 2); err != nil {
		t.Fatalf("Revert redo: %v", err)
	}
	v, err = a.AttributeValue("age")
	if err != nil {
		t.Fatalf("AttributeValue after redo: %v", err)
	}
	if v.Integer() != 8 {
		t.Fatalf("age after redo = %d, want 8", v.Integer())
	}
}

func TestRevertOutOfRangeRejected(t *testing.T) {
	mgr, ctx := testManager(t)

	a, err := mgr.CreateObject("A")
	if err != nil {
		t.Fatalf("CreateObject: %v", err)
	}
	if err := a.SetAttributeValue("age", model.NewInteger(1)); err != nil {
		t.Fatalf("SetAttributeValue: %v", err)
	}
	if err := mgr.Save(ctx); err != nil {
		t.Fatalf("Save: %v", err)
	}

	err = mgr.Revert(ctx, 5)
	if err == nil {
		t.Fatalf("expected Revert(5) to fail when last save id is 1")
	}
}

// TestInverseFixupPropagatesToCachedObject walks scenario 3 through the
// manager: removing a referenced A empties B's cached relation after the
// save that removes A completes.
func TestInverseFixupPropagatesToCachedObject(t *testing.T) {
	mgr, ctx := testManager(t)

	a, err := mgr.CreateObject("A")
	if err != nil {
		t.Fatalf("CreateObject A: %v", err)
	}
	b, err := mgr.CreateObject("B")
	if err != nil {
		t.Fatalf("CreateObject B: %v", err)
	}
	if err := mgr.Save(ctx); err != nil {
		t.Fatalf("Save initial: %v", err)
	}

	if err := b.AddRelationID("ref", a.ObjectID()); err != nil {
		t.Fatalf("AddRelationID: %v", err)
	}
	if err := mgr.Save(ctx); err != nil {
		t.Fatalf("Save attach ref: %v", err)
	}
	size, err := b.RelationSize("ref")
	if err != nil {
		t.Fatalf("RelationSize: %v", err)
	}
	if size != 1 {
		t.Fatalf("B.ref size = %d, want 1", size)
	}

	a.Remove()
	if err := mgr.Save(ctx); err != nil {
		t.Fatalf("Save remove A: %v", err)
	}

	size, err = b.RelationSize("ref")
	if err != nil {
		t.Fatalf("RelationSize after removal: %v", err)
	}
	if size != 0 {
		t.Fatalf("B.ref size after A removed = %d, want 0", size)
	}

	// B was already stripped in memory (and so arrived in the same save
	// as A's removal, already consistent) before the on-disk fix-up ran;
	// that must not produce a second physical row for B at this save_id.
	info, err := mgr.Info(ctx)
	if err != nil {
		t.Fatalf("Info: %v", err)
	}
	rows, err := mgr.db.ExecuteQuery(ctx, "SELECT COUNT(*) FROM B WHERE obj_id = :obj_id AND save_id = :save_id",
		map[string]any{"obj_id": b.ObjectID().Stable(), "save_id": info.CurSaveID})
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
		t.Fatalf("physical B rows at save_id=%d = %d, want exactly 1", info.CurSaveID, count)
	}
}

func TestFetchObjectsCachesByIdentity(t *testing.T) {
	mgr, ctx := testManager(t)

	a, err := mgr.CreateObject("A")
	if err != nil {
		t.Fatalf("CreateObject: %v", err)
	}
	if err := a.SetAttributeValue("name", model.NewText("x")); err != nil {
		t.Fatalf("SetAttributeValue: %v", err)
	}
	if err := mgr.Save(ctx); err != nil {
		t.Fatalf("Save: %v", err)
	}

	fetched, err := mgr.FetchObjects(ctx, "A", "", nil, false)
	if err != nil {
		t.Fatalf("FetchObjects: %v", err)
	}
	if len(fetched) != 1 {
		t.Fatalf("len(fetched) = %d, want 1", len(fetched))
	}
	if fetched[0] != a {
		t.Fatalf("expected fetched handle to be identical to the cached created handle")
	}
}

func TestObserveDBInfoDeliversCurrentValueOnSubscribe(t *testing.T) {
	mgr, ctx := testManager(t)

	a, err := mgr.CreateObject("A")
	if err != nil {
		t.Fatalf("CreateObject: %v", err)
	}
	if err := a.SetAttributeValue("name", model.NewText("x")); err != nil {
		t.Fatalf("SetAttributeValue: %v", err)
	}
	if err := mgr.Save(ctx); err != nil {
		t.Fatalf("Save: %v", err)
	}

	var got schema.Info
	unsub := mgr.ObserveDBInfo(func(info schema.Info) {
		got = info
	})
	unsub()

	if got.CurSaveID != 1 || got.LastSaveID != 1 {
		t.Fatalf("info on late subscribe = %+v, want cur=last=1", got)
	}
}

func TestClearErasesCachedObjects(t *testing.T) {
	mgr, ctx := testManager(t)

	a, err := mgr.CreateObject("A")
	if err != nil {
		t.Fatalf("CreateObject: %v", err)
	}
	if err := mgr.Save(ctx); err != nil {
		t.Fatalf("Save: %v", err)
	}

	erased := false
	a.Events(func(e object.Event) {
		if e.Kind == object.EventErased {
			erased = true
		}
	})

	if err := mgr.Clear(ctx); err != nil {
		t.Fatalf("Clear: %v", err)
	}
	if !erased {
		t.Fatalf("expected cached object to be erased on Clear")
	}

	info, err := mgr.Info(ctx)
	if err != nil {
		t.Fatalf("Info: %v", err)
	}
	if info.CurSaveID != 0 || info.LastSaveID != 0 {
		t.Fatalf("info after clear = %+v, want (0,0)", info)
	}
}
