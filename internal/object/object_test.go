package object

import (
	"testing"

	"github.com/objgraph/objgraph/internal/model"
	"github.com/objgraph/objgraph/internal/objectid"
)

func testModel(t *testing.T) *model.Model {
	t.Helper()
	m, err := model.New("1.0", []model.Entity{
		{
			Name: "A",
			Attributes: []model.Attribute{
				{Name: "name", Type: model.AttributeText, Default: model.NewText(""), HasDefault: true},
				{Name: "age", Type: model.AttributeInteger, Default: model.NewInteger(0), HasDefault: true},
			},
			Relations: []model.Relation{
				{Name: "ref", Target: "B", Many: true},
			},
		},
		{Name: "B"},
	}, nil)
	if err != nil {
		t.Fatalf("model.New: %v", err)
	}
	return m
}

func TestInitCreatedFillsDefaults(t *testing.T) {
	m := testModel(t)
	entity, _ := m.Entity("A")
	o := New(entity, objectid.NewTemporary())
	o.InitCreated()

	if o.Status() != StatusCreated {
		t.Fatalf("status = %v, want created", o.Status())
	}
	v, err := o.AttributeValue("name")
	if err != nil {
		t.Fatalf("AttributeValue: %v", err)
	}
	if v.Text() != "" {
		t.Errorf("name default = %q, want empty", v.Text())
	}
}

func TestSetAttributeValueTransitionsToChanged(t *testing.T) {
	m := testModel(t)
	entity, _ := m.Entity("A")
	o := New(entity, objectid.NewStable(1))
	if err := o.LoadData(Data{
		ObjectID: objectid.NewStable(1),
		Action:   model.ActionInsert,
		Attributes: map[string]model.Value{
			"name": model.NewText("x"),
			"age":  model.NewInteger(7),
		},
	}, true); err != nil {
		t.Fatalf("LoadData: %v", err)
	}
	if o.Status() != StatusSaved {
		t.Fatalf("status after load = %v, want saved", o.Status())
	}

	var got []Event
	o.Events(func(e Event) { got = append(got, e) })

	if err := o.SetAttributeValue("age", model.NewInteger(8)); err != nil {
		t.Fatalf("SetAttributeValue: %v", err)
	}
	if o.Status() != StatusChanged {
		t.Fatalf("status after mutation = %v, want changed", o.Status())
	}
	if o.Action() != model.ActionUpdate {
		t.Fatalf("action = %q, want update", o.Action())
	}
	if len(got) != 1 || got[0].Kind != EventAttributeUpdated {
		t.Fatalf("events = %+v, want one attribute_updated", got)
	}
}

func TestSetAttributeValueRejectsUnknownAndObjID(t *testing.T) {
	m := testModel(t)
	entity, _ := m.Entity("A")
	o := New(entity, objectid.NewTemporary())
	o.InitCreated()

	if err := o.SetAttributeValue("obj_id", model.NewInteger(1)); err == nil {
		t.Errorf("expected error setting obj_id as an attribute")
	}
	if err := o.SetAttributeValue("nope", model.NewInteger(1)); err == nil {
		t.Errorf("expected error setting unknown attribute")
	}
}

func TestCreatedObjectStaysInsertThroughEdits(t *testing.T) {
	m := testModel(t)
	entity, _ := m.Entity("A")
	o := New(entity, objectid.NewTemporary())
	o.InitCreated()

	if err := o.SetAttributeValue("name", model.NewText("x")); err != nil {
		t.Fatalf("SetAttributeValue: %v", err)
	}
	if o.Status() != StatusCreated {
		t.Fatalf("status = %v, want created (stays through local edits)", o.Status())
	}
	if o.Action() != model.ActionInsert {
		t.Fatalf("action = %q, want insert", o.Action())
	}
}

func TestRelationMutators(t *testing.T) {
	m := testModel(t)
	entity, _ := m.Entity("A")
	o := New(entity, objectid.NewStable(1))
	if err := o.LoadData(Data{ObjectID: objectid.NewStable(1), Action: model.ActionInsert}, true); err != nil {
		t.Fatalf("LoadData: %v", err)
	}

	b1 := objectid.NewStable(10)
	b2 := objectid.NewStable(20)
	if err := o.AddRelationID("ref", b1); err != nil {
		t.Fatalf("AddRelationID: %v", err)
	}
	if err := o.AddRelationID("ref", b2); err != nil {
		t.Fatalf("AddRelationID: %v", err)
	}
	size, err := o.RelationSize("ref")
	if err != nil {
		t.Fatalf("RelationSize: %v", err)
	}
	if size != 2 {
		t.Fatalf("size = %d, want 2", size)
	}

	if err := o.RemoveRelationID("ref", b1); err != nil {
		t.Fatalf("RemoveRelationID: %v", err)
	}
	ids, err := o.RelationIDs("ref")
	if err != nil {
		t.Fatalf("RelationIDs: %v", err)
	}
	if len(ids) != 1 || !ids[0].Equal(b2) {
		t.Fatalf("ids = %v, want [b2]", ids)
	}
}

func TestRelationRejectsNonPositiveStableTarget(t *testing.T) {
	m := testModel(t)
	entity, _ := m.Entity("A")
	o := New(entity, objectid.NewStable(1))
	o.LoadData(Data{ObjectID: objectid.NewStable(1), Action: model.ActionInsert}, true)

	if err := o.AddRelationID("ref", objectid.NewStable(0)); err == nil {
		t.Errorf("expected error for non-positive stable relation target")
	}
	if err := o.AddRelationID("nope", objectid.NewStable(1)); err == nil {
		t.Errorf("expected error for unknown relation name")
	}
}

func TestRemoveClearsAttributesAndIsIdempotent(t *testing.T) {
	m := testModel(t)
	entity, _ := m.Entity("A")
	o := New(entity, objectid.NewStable(1))
	o.LoadData(Data{
		ObjectID:   objectid.NewStable(1),
		Action:     model.ActionInsert,
		Attributes: map[string]model.Value{"name": model.NewText("x")},
	}, true)

	o.Remove()
	if o.Action() != model.ActionRemove {
		t.Fatalf("action = %q, want remove", o.Action())
	}
	v, _ := o.AttributeValue("name")
	if !v.IsNull() {
		t.Errorf("expected attribute cleared after remove, got %v", v)
	}

	// idempotent: calling again must not panic or change state
	o.Remove()
	if o.Action() != model.ActionRemove {
		t.Fatalf("action after second Remove = %q, want remove", o.Action())
	}
}

func TestSaveDataRoundTrip(t *testing.T) {
	m := testModel(t)
	entity, _ := m.Entity("A")
	o := New(entity, objectid.NewStable(1))
	o.LoadData(Data{
		ObjectID: objectid.NewStable(1),
		Action:   model.ActionInsert,
		Attributes: map[string]model.Value{
			"name": model.NewText("x"),
			"age":  model.NewInteger(7),
		},
		Relations: map[string][]objectid.ID{
			"ref": {objectid.NewStable(5)},
		},
	}, true)

	pool := objectid.NewPool()
	data := o.SaveData(pool)

	other := New(entity, objectid.NewStable(1))
	if err := other.LoadData(data, true); err != nil {
		t.Fatalf("LoadData: %v", err)
	}

	v1, _ := o.AttributeValue("name")
	v2, _ := other.AttributeValue("name")
	if !v1.Equal(v2) {
		t.Errorf("name mismatch after round trip: %v != %v", v1, v2)
	}
	ids1, _ := o.RelationIDs("ref")
	ids2, _ := other.RelationIDs("ref")
	if len(ids1) != len(ids2) || !ids1[0].Equal(ids2[0]) {
		t.Errorf("relation mismatch after round trip: %v != %v", ids1, ids2)
	}
}

func TestErasedEmittedOnce(t *testing.T) {
	m := testModel(t)
	entity, _ := m.Entity("A")
	o := New(entity, objectid.NewTemporary())
	count := 0
	o.Events(func(e Event) {
		if e.Kind == EventErased {
			count++
		}
	})
	o.Erase()
	o.Erase()
	if count != 1 {
		t.Fatalf("erased emitted %d times, want 1", count)
	}
}
