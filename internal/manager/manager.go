// Package manager ties the revision engine, the compiled model, and the
// object identity map together: create/fetch/save/revert/purge/clear,
// weak identity caching, change tracking, and the background task queue
// described by the two-lane concurrency model.
package manager

import (
	"context"
	"fmt"

	"github.com/objgraph/objgraph/internal/lane"
	"github.com/objgraph/objgraph/internal/model"
	"github.com/objgraph/objgraph/internal/object"
	"github.com/objgraph/objgraph/internal/objectid"
	"github.com/objgraph/objgraph/internal/revision"
	"github.com/objgraph/objgraph/internal/schema"
	"github.com/objgraph/objgraph/internal/sqlitedb"
)

type cacheKey struct {
	entity string
	objID  int64
}

// Manager is the application-facing entry point: it owns the database
// handle, the compiled model, the identity map, and the DB-lane task
// queue every operation but CreateObject runs on.
type Manager struct {
	db     *sqlitedb.Database
	model  *model.Model
	engine *revision.Engine

	cached  map[cacheKey]*object.Object
	created map[string]map[string]*object.Object
	changed map[string]map[int64]*object.Object

	dbInfo        *ValueSignal[schema.Info]
	dbObjectEvent object.Signal[object.ConstObject]

	queue       *lane.Queue
	trampoline  *lane.Trampoline
	laneCtx     context.Context
	laneCancel  context.CancelFunc
}

// New wires a Manager over db and m and starts its DB-lane worker.
func New(db *sqlitedb.Database, m *model.Model) *Manager {
	ctx, cancel := context.WithCancel(context.Background())
	mgr := &Manager{
		db:         db,
		model:      m,
		engine:     revision.New(db, m),
		cached:     make(map[cacheKey]*object.Object),
		created:    make(map[string]map[string]*object.Object),
		changed:    make(map[string]map[int64]*object.Object),
		dbInfo:     NewValueSignal[schema.Info](),
		queue:      lane.NewQueue(),
		trampoline: lane.NewTrampoline(),
		laneCtx:    ctx,
		laneCancel: cancel,
	}
	go mgr.queue.Run(ctx)
	go mgr.trampoline.Run(ctx)
	return mgr
}

// Close stops the DB-lane worker and main-lane trampoline. It does not
// close the underlying database handle.
func (m *Manager) Close() {
	m.queue.Close()
	m.laneCancel()
}

// Model returns the compiled model this manager serves.
func (m *Manager) Model() *model.Model { return m.model }

// Suspend pauses task dispatch; Resume un-pauses it. Both delegate to
// the queue's suspend counter.
func (m *Manager) Suspend() { m.queue.Suspend() }
func (m *Manager) Resume()  { m.queue.Resume() }

// run submits work to the DB lane at priority and blocks for its result,
// delivering the result through the trampoline so it is observed as a
// main-lane completion like every other callback.
func run[T any](m *Manager, priority int, cancel lane.Cancellation, work func(ctx context.Context) (T, *Error)) (T, *Error) {
	type outcome struct {
		v   T
		err *Error
	}
	ch := make(chan outcome, 1)
	m.queue.Submit(priority, cancel, func(ctx context.Context) {
		v, err := work(ctx)
		ch <- outcome{v, err}
	})
	o := <-ch
	var result T
	m.trampoline.RunOnMain(func() {
		result = o.v
	})
	return result, o.err
}

// CreateObject synchronously constructs an Object with a fresh temporary
// id, loads its insertion defaults, and records it under
// created_objects[entity][tmp_id]. This is the one operation the
// concurrency model runs entirely on the main lane.
func (m *Manager) CreateObject(entityName string) (*object.Object, error) {
	entity, ok := m.model.Entity(entityName)
	if !ok {
		return nil, fmt.Errorf("manager: unknown entity %q", entityName)
	}
	id := objectid.NewTemporary()
	o := object.New(entity, id)
	o.InitCreated()
	m.observe(o)

	if m.created[entityName] == nil {
		m.created[entityName] = make(map[string]*object.Object)
	}
	m.created[entityName][id.Temporary()] = o
	return o, nil
}

// CachedOrCreatedObject returns the live handle for (entity, id) if one
// exists: temporary ids are looked up in created_objects, stable ids in
// the identity map.
func (m *Manager) CachedOrCreatedObject(entityName string, id objectid.ID) (*object.Object, bool) {
	if id.HasTemporary() {
		if byTmp, ok := m.created[entityName]; ok {
			if o, ok := byTmp[id.Temporary()]; ok {
				return o, true
			}
		}
	}
	if id.HasStable() {
		o, ok := m.cached[cacheKey{entity: entityName, objID: id.Stable()}]
		return o, ok
	}
	return nil, false
}

// observe wires the manager's eviction and change-tracking hooks onto a
// freshly constructed Object.
func (m *Manager) observe(o *object.Object) {
	o.Events(func(e object.Event) {
		if e.Kind == object.EventErased {
			delete(m.cached, cacheKey{entity: e.EntityName, objID: e.ObjectID.Stable()})
			return
		}
		if e.IsChanged() || e.Kind == object.EventCleared {
			m.objectDidChange(o)
		}
	})
}

// objectDidChange implements the change-tracking and in-memory half of
// the inverse-relation fix-up described for every mutation.
func (m *Manager) objectDidChange(o *object.Object) {
	entityName := o.Entity().Name
	id := o.ObjectID()

	if o.Status() == object.StatusCreated {
		if o.IsRemoved() {
			if byTmp := m.created[entityName]; byTmp != nil {
				delete(byTmp, id.Temporary())
			}
			return
		}
	} else {
		if m.changed[entityName] == nil {
			m.changed[entityName] = make(map[int64]*object.Object)
		}
		m.changed[entityName][id.Stable()] = o
	}

	if o.IsRemoved() {
		for _, inv := range m.model.InverseRelations(entityName) {
			for key, cachedObj := range m.cached {
				if key.entity != inv.SourceEntity {
					continue
				}
				cachedObj.RemoveRelationID(inv.Name, id)
			}
		}
	}

	m.dbObjectEvent.Emit(o)
}

// loadAndCache applies one loaded object.Data, reconciling a pending
// temporary id against its freshly assigned stable id when data
// completes a save, else updating or creating the cached handle.
func (m *Manager) loadAndCache(entityName string, data object.Data, isSaveCompletion bool) *object.Object {
	entity, ok := m.model.Entity(entityName)
	if !ok {
		return nil
	}

	if isSaveCompletion && data.ObjectID.HasTemporary() {
		if byTmp := m.created[entityName]; byTmp != nil {
			if o, ok := byTmp[data.ObjectID.Temporary()]; ok {
				delete(byTmp, data.ObjectID.Temporary())
				o.LoadData(data, true)
				m.cached[cacheKey{entity: entityName, objID: data.ObjectID.Stable()}] = o
				return o
			}
		}
	}

	key := cacheKey{entity: entityName, objID: data.ObjectID.Stable()}
	o, ok := m.cached[key]
	if !ok {
		o = object.New(entity, data.ObjectID)
		m.observe(o)
		m.cached[key] = o
	}
	o.LoadData(data, !isSaveCompletion)
	return o
}

// HasCreatedObjects reports whether any entity has in-memory-only
// objects awaiting their first save.
func (m *Manager) HasCreatedObjects() bool {
	for _, byTmp := range m.created {
		if len(byTmp) > 0 {
			return true
		}
	}
	return false
}

// HasChangedObjects reports whether any loaded object has unsaved edits.
func (m *Manager) HasChangedObjects() bool {
	for _, byStable := range m.changed {
		if len(byStable) > 0 {
			return true
		}
	}
	return false
}
