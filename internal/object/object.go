package object

import (
	"fmt"
	"sync"

	"github.com/objgraph/objgraph/internal/model"
	"github.com/objgraph/objgraph/internal/objectid"
)

// ConstObject is the read-only projection of an Object: entity, id,
// attribute map, and relation map, with no mutators. A *Object satisfies
// it directly.
type ConstObject interface {
	Entity() *model.Entity
	ObjectID() objectid.ID
	Status() Status
	AttributeValue(name string) (model.Value, error)
	RelationIDs(name string) ([]objectid.ID, error)
	RelationID(name string, idx int) (objectid.ID, error)
	RelationSize(name string) (int, error)
}

// Object is the main-lane handle applications mutate. All exported
// methods assume single-threaded main-lane access; the internal mutex
// only guards the bookkeeping fields the identity map and save_data path
// read from a different goroutine during a brief handoff.
type Object struct {
	mu     sync.Mutex
	entity *model.Entity
	id     objectid.ID
	status Status
	action string
	pkID   int64
	saveID int64

	attrs     map[string]model.Value
	relations map[string][]objectid.ID

	events     Signal[Event]
	erasedOnce sync.Once
}

// New returns an Object in StatusInvalid for entity/id; the caller
// transitions it via InitCreated or LoadData.
func New(entity *model.Entity, id objectid.ID) *Object {
	return &Object{
		entity:    entity,
		id:        id,
		status:    StatusInvalid,
		attrs:     make(map[string]model.Value),
		relations: make(map[string][]objectid.ID),
	}
}

// InitCreated fills attrs with each custom attribute's declared default
// (or null) and transitions invalid -> created, action = insert.
func (o *Object) InitCreated() {
	o.mu.Lock()
	for _, a := range o.entity.Attributes {
		o.attrs[a.Name] = a.ZeroDefault()
	}
	o.status = StatusCreated
	o.action = model.ActionInsert
	o.mu.Unlock()
	o.emit(EventFetched, "")
}

// Entity returns the compiled entity this object belongs to.
func (o *Object) Entity() *model.Entity { return o.entity }

// ObjectID returns the object's identity.
func (o *Object) ObjectID() objectid.ID {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.id
}

// Status returns the current lifecycle status.
func (o *Object) Status() Status {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.status
}

// Action returns the row action ("insert"/"update"/"remove") that the
// next save will write for this object.
func (o *Object) Action() string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.action
}

// SetUpdating marks the object as having a save in flight.
func (o *Object) SetUpdating() {
	o.mu.Lock()
	o.status = StatusUpdating
	o.mu.Unlock()
}

// Events subscribes to this object's event stream and returns an
// unsubscribe func.
func (o *Object) Events(handler func(Event)) func() {
	return o.events.Subscribe(handler)
}

func (o *Object) emit(kind EventKind, field string) {
	o.events.Emit(Event{Kind: kind, EntityName: o.entity.Name, ObjectID: o.ObjectID(), FieldName: field})
}

// AttributeValue returns the current value of a custom attribute. "obj_id"
// and any name not declared on the entity are rejected; identity travels
// through ObjectID(), never through the attribute map.
func (o *Object) AttributeValue(name string) (model.Value, error) {
	if name == model.ColObjID {
		return model.Null, fmt.Errorf("object: %q is not an attribute, use ObjectID()", name)
	}
	if !o.entity.HasAttribute(name) {
		return model.Null, fmt.Errorf("object: entity %q has no attribute %q", o.entity.Name, name)
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.attrs[name], nil
}

// SetAttributeValue sets a custom attribute and marks the object changed.
func (o *Object) SetAttributeValue(name string, v model.Value) error {
	if name == model.ColObjID {
		return fmt.Errorf("object: %q is not an attribute, use ObjectID()", name)
	}
	attr, ok := o.entity.Attribute(name)
	if !ok {
		return fmt.Errorf("object: entity %q has no attribute %q", o.entity.Name, name)
	}
	if !v.IsNull() && v.Kind() != attr.Type.ValueKindFor() {
		return fmt.Errorf("object: attribute %q expects kind %s, got %s", name, attr.Type.ValueKindFor(), v.Kind())
	}
	if attr.NotNull && v.IsNull() {
		return fmt.Errorf("object: attribute %q is not_null", name)
	}
	o.mu.Lock()
	o.attrs[name] = v
	o.mutateLocked()
	o.mu.Unlock()
	o.emit(EventAttributeUpdated, name)
	return nil
}

// RelationIDs returns the ordered target ids of relation name.
func (o *Object) RelationIDs(name string) ([]objectid.ID, error) {
	if !o.entity.HasRelation(name) {
		return nil, fmt.Errorf("object: entity %q has no relation %q", o.entity.Name, name)
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	ids := o.relations[name]
	out := make([]objectid.ID, len(ids))
	copy(out, ids)
	return out, nil
}

// RelationID returns the target id at idx within relation name.
func (o *Object) RelationID(name string, idx int) (objectid.ID, error) {
	ids, err := o.RelationIDs(name)
	if err != nil {
		return objectid.ID{}, err
	}
	if idx < 0 || idx >= len(ids) {
		return objectid.ID{}, fmt.Errorf("object: relation %q index %d out of range [0,%d)", name, idx, len(ids))
	}
	return ids[idx], nil
}

// RelationSize returns the number of target ids in relation name.
func (o *Object) RelationSize(name string) (int, error) {
	ids, err := o.RelationIDs(name)
	if err != nil {
		return 0, err
	}
	return len(ids), nil
}

func (o *Object) validateRelationTarget(name string, id objectid.ID) error {
	if !o.entity.HasRelation(name) {
		return fmt.Errorf("object: entity %q has no relation %q", o.entity.Name, name)
	}
	if !id.HasStable() && !id.HasTemporary() {
		return fmt.Errorf("object: relation %q target id must not be null", name)
	}
	if id.HasStable() && id.Stable() <= 0 {
		return fmt.Errorf("object: relation %q target stable id must be positive, got %d", name, id.Stable())
	}
	return nil
}

// SetRelationIDs replaces the entire ordered target list for name.
func (o *Object) SetRelationIDs(name string, ids []objectid.ID) error {
	for _, id := range ids {
		if err := o.validateRelationTarget(name, id); err != nil {
			return err
		}
	}
	cp := make([]objectid.ID, len(ids))
	copy(cp, ids)
	o.mu.Lock()
	o.relations[name] = cp
	o.mutateLocked()
	o.mu.Unlock()
	o.emit(EventRelationReplaced, name)
	return nil
}

// AddRelationID appends id to the end of relation name.
func (o *Object) AddRelationID(name string, id objectid.ID) error {
	if err := o.validateRelationTarget(name, id); err != nil {
		return err
	}
	o.mu.Lock()
	o.relations[name] = append(o.relations[name], id)
	o.mutateLocked()
	o.mu.Unlock()
	o.emit(EventRelationInserted, name)
	return nil
}

// InsertRelationID inserts id at position idx within relation name.
func (o *Object) InsertRelationID(name string, idx int, id objectid.ID) error {
	if err := o.validateRelationTarget(name, id); err != nil {
		return err
	}
	o.mu.Lock()
	ids := o.relations[name]
	if idx < 0 || idx > len(ids) {
		o.mu.Unlock()
		return fmt.Errorf("object: relation %q index %d out of range [0,%d]", name, idx, len(ids))
	}
	ids = append(ids, objectid.ID{})
	copy(ids[idx+1:], ids[idx:])
	ids[idx] = id
	o.relations[name] = ids
	o.mutateLocked()
	o.mu.Unlock()
	o.emit(EventRelationInserted, name)
	return nil
}

// RemoveRelationID removes the first target in relation name equal to id.
// A no-op (no event) if id is not present.
func (o *Object) RemoveRelationID(name string, id objectid.ID) error {
	if !o.entity.HasRelation(name) {
		return fmt.Errorf("object: entity %q has no relation %q", o.entity.Name, name)
	}
	o.mu.Lock()
	ids := o.relations[name]
	idx := -1
	for i, existing := range ids {
		if existing.Equal(id) {
			idx = i
			break
		}
	}
	if idx == -1 {
		o.mu.Unlock()
		return nil
	}
	o.relations[name] = append(ids[:idx], ids[idx+1:]...)
	o.mutateLocked()
	o.mu.Unlock()
	o.emit(EventRelationRemoved, name)
	return nil
}

// RemoveRelationAt removes the target at idx within relation name.
func (o *Object) RemoveRelationAt(name string, idx int) error {
	if !o.entity.HasRelation(name) {
		return fmt.Errorf("object: entity %q has no relation %q", o.entity.Name, name)
	}
	o.mu.Lock()
	ids := o.relations[name]
	if idx < 0 || idx >= len(ids) {
		o.mu.Unlock()
		return fmt.Errorf("object: relation %q index %d out of range [0,%d)", name, idx, len(ids))
	}
	o.relations[name] = append(ids[:idx], ids[idx+1:]...)
	o.mutateLocked()
	o.mu.Unlock()
	o.emit(EventRelationRemoved, name)
	return nil
}

// RemoveAllRelations empties relation name's target list.
func (o *Object) RemoveAllRelations(name string) error {
	if !o.entity.HasRelation(name) {
		return fmt.Errorf("object: entity %q has no relation %q", o.entity.Name, name)
	}
	o.mu.Lock()
	o.relations[name] = nil
	o.mutateLocked()
	o.mu.Unlock()
	o.emit(EventRelationReplaced, name)
	return nil
}

// Remove clears every custom attribute and relation, keeping pk_id,
// obj_id, and action, and sets action = "remove". Idempotent.
func (o *Object) Remove() {
	o.mu.Lock()
	if o.action == model.ActionRemove {
		o.mu.Unlock()
		return
	}
	o.attrs = make(map[string]model.Value)
	o.relations = make(map[string][]objectid.ID)
	o.action = model.ActionRemove
	if o.status != StatusCreated {
		o.status = StatusChanged
	}
	o.mu.Unlock()
	o.emit(EventCleared, "")
}

// IsRemoved reports whether this object's pending action is remove.
func (o *Object) IsRemoved() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.action == model.ActionRemove
}

// mutateLocked applies the _set_update_action/status-transition rule
// described for every mutating operation. Caller must hold o.mu.
func (o *Object) mutateLocked() {
	switch {
	case o.status == StatusCreated:
		// stays action = insert regardless of interim edits
	case o.action == model.ActionRemove:
		// terminal; Remove() is the only way out of this state
	case o.action == model.ActionUpdate:
		// already the next save's action
	default:
		o.action = model.ActionUpdate
	}
	if o.status != StatusCreated {
		o.status = StatusChanged
	}
}

// SaveData produces the Data the revision engine will persist: the self
// id interned through pool, every custom attribute (filled with its
// declared default when absent), and every relation's target ids interned
// through pool. A created object's id carries no stable half yet, so the
// revision engine assigns obj_id itself.
func (o *Object) SaveData(pool *objectid.Pool) Data {
	o.mu.Lock()
	defer o.mu.Unlock()

	id := pool.Intern(o.entity.Name, o.id.Key(), o.id)

	attrs := make(map[string]model.Value, len(o.entity.Attributes))
	for _, a := range o.entity.Attributes {
		if v, ok := o.attrs[a.Name]; ok {
			attrs[a.Name] = v
		} else {
			attrs[a.Name] = a.ZeroDefault()
		}
	}

	relations := make(map[string][]objectid.ID, len(o.relations))
	for name, ids := range o.relations {
		interned := make([]objectid.ID, len(ids))
		for i, tid := range ids {
			interned[i] = pool.Intern(o.relationTargetEntity(name), tid.Key(), tid)
		}
		relations[name] = interned
	}

	return Data{
		ObjectID:   id,
		PKID:       o.pkID,
		SaveID:     o.saveID,
		Action:     o.action,
		Attributes: attrs,
		Relations:  relations,
	}
}

func (o *Object) relationTargetEntity(name string) string {
	r, ok := o.entity.Relation(name)
	if !ok {
		return ""
	}
	return r.Target
}

// LoadData overwrites this object's state from data. When force is
// false, loading is refused while the object is locally changed; the
// background-save-completion path uses force=false so it never clobbers
// an edit made while the save was in flight.
func (o *Object) LoadData(data Data, force bool) error {
	o.mu.Lock()
	if !force && o.status == StatusChanged {
		o.mu.Unlock()
		return nil
	}
	o.id = data.ObjectID
	o.pkID = data.PKID
	o.saveID = data.SaveID
	o.action = data.Action
	o.attrs = make(map[string]model.Value, len(data.Attributes))
	for k, v := range data.Attributes {
		o.attrs[k] = v
	}
	o.relations = make(map[string][]objectid.ID, len(data.Relations))
	for k, v := range data.Relations {
		cp := make([]objectid.ID, len(v))
		copy(cp, v)
		o.relations[k] = cp
	}
	o.status = StatusSaved
	o.mu.Unlock()
	o.emit(EventLoaded, "")
	return nil
}

// PKID returns the row id of the last-loaded revision, or 0 if this
// object has never been loaded from or saved to disk.
func (o *Object) PKID() int64 {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.pkID
}

// SaveID returns the save id of the last-loaded revision.
func (o *Object) SaveID() int64 {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.saveID
}

// Erase emits the terminal "erased" event exactly once; the manager
// subscribes to this to evict the identity map entry. It carries only
// the entity name and object id, never the handle itself.
func (o *Object) Erase() {
	o.erasedOnce.Do(func() {
		o.emit(EventErased, "")
	})
}
