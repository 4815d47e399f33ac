package manager

import (
	"sync"

	"github.com/objgraph/objgraph/internal/object"
	"github.com/objgraph/objgraph/internal/schema"
)

// ValueSignal is a Signal that remembers its last published value and
// delivers it synchronously to every new subscriber, matching the
// "observe_db_info: synchronous, receives the full current value on
// subscribe, and every subsequent update" contract.
type ValueSignal[T any] struct {
	mu      sync.Mutex
	has     bool
	value   T
	signal  object.Signal[T]
}

// NewValueSignal returns an empty ValueSignal with nothing published yet.
func NewValueSignal[T any]() *ValueSignal[T] {
	return &ValueSignal[T]{}
}

// Set publishes value, notifying every current subscriber and priming
// future subscribers to receive it immediately on Subscribe.
func (v *ValueSignal[T]) Set(value T) {
	v.mu.Lock()
	v.has = true
	v.value = value
	v.mu.Unlock()
	v.signal.Emit(value)
}

// Subscribe registers handler and, if a value has already been
// published, delivers it synchronously before returning. The returned
// func unsubscribes.
func (v *ValueSignal[T]) Subscribe(handler func(T)) func() {
	v.mu.Lock()
	has, value := v.has, v.value
	v.mu.Unlock()
	unsub := v.signal.Subscribe(handler)
	if has {
		handler(value)
	}
	return unsub
}

// ObserveDBInfo registers handler to receive the current schema.Info
// immediately and on every subsequent Setup/Save/Revert/Purge/Clear.
func (m *Manager) ObserveDBInfo(handler func(schema.Info)) func() {
	return m.dbInfo.Subscribe(handler)
}

// ObserveDBObject registers handler to receive every object at the moment
// a main-lane edit changes it: an attribute or relation mutation on a
// created or loaded object, or the removal of a loaded object. Removing a
// never-saved object, loading, and save completion emit nothing. Unlike
// ObserveDBInfo this carries no replay of past state.
func (m *Manager) ObserveDBObject(handler func(object.ConstObject)) func() {
	return m.dbObjectEvent.Subscribe(handler)
}
