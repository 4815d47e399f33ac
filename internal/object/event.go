package object

import "github.com/objgraph/objgraph/internal/objectid"

// EventKind is the closed sum of events an Object's stream can carry.
type EventKind int

const (
	EventFetched EventKind = iota
	EventLoaded
	EventCleared
	EventAttributeUpdated
	EventRelationInserted
	EventRelationRemoved
	EventRelationReplaced
	EventErased
)

func (k EventKind) String() string {
	switch k {
	case EventFetched:
		return "fetched"
	case EventLoaded:
		return "loaded"
	case EventCleared:
		return "cleared"
	case EventAttributeUpdated:
		return "attribute_updated"
	case EventRelationInserted:
		return "relation_inserted"
	case EventRelationRemoved:
		return "relation_removed"
	case EventRelationReplaced:
		return "relation_replaced"
	case EventErased:
		return "erased"
	default:
		return "unknown"
	}
}

// Event is emitted on an Object's own stream. Erased carries only the
// entity name and object id (no handle, since the object is gone);
// every other kind carries the name of the attribute or relation
// involved, where applicable.
type Event struct {
	Kind       EventKind
	EntityName string
	ObjectID   objectid.ID
	FieldName  string
}

// IsChanged reports whether this event kind corresponds to the object
// transitioning out of a clean state: the trigger the manager uses to
// add an object to changed_objects.
func (e Event) IsChanged() bool {
	switch e.Kind {
	case EventAttributeUpdated, EventRelationInserted, EventRelationRemoved, EventRelationReplaced:
		return true
	default:
		return false
	}
}
