// Package objectid implements the dual stable/temporary object identity
// and the per-save pool that reconciles them.
package objectid

import (
	"fmt"

	"github.com/google/uuid"
)

// ID holds at most one stable value (assigned on save) and at most one
// temporary value (assigned at creation). At least one must be present.
// Once Stable is set it never changes.
type ID struct {
	stable    *int64
	temporary *string
}

// NewTemporary returns a fresh ID carrying a process-unique synthetic
// temporary value and no stable value yet.
func NewTemporary() ID {
	t := "tmp-" + uuid.NewString()
	return ID{temporary: &t}
}

// NewStable returns an ID carrying only a stable value, e.g. one built
// from a row already persisted to disk.
func NewStable(stable int64) ID {
	return ID{stable: &stable}
}

// NewBoth returns an ID carrying both halves, used when reconciling a
// temporary id with its freshly assigned stable counterpart.
func NewBoth(stable int64, temporary string) ID {
	return ID{stable: &stable, temporary: &temporary}
}

// HasStable reports whether a stable integer id has been assigned.
func (id ID) HasStable() bool { return id.stable != nil }

// HasTemporary reports whether a temporary text id is present.
func (id ID) HasTemporary() bool { return id.temporary != nil }

// Stable returns the stable value, or 0 if unset.
func (id ID) Stable() int64 {
	if id.stable == nil {
		return 0
	}
	return *id.stable
}

// Temporary returns the temporary value, or "" if unset.
func (id ID) Temporary() string {
	if id.temporary == nil {
		return ""
	}
	return *id.temporary
}

// SetStable assigns the stable half. It is the only mutation ID permits;
// calling it on an ID that already has a stable value is a programming
// error, since a stable id never changes once assigned.
func (id *ID) SetStable(stable int64) {
	if id.stable != nil {
		panic(fmt.Sprintf("objectid: stable id already assigned (%d), cannot reassign to %d", *id.stable, stable))
	}
	id.stable = &stable
}

// Copy deep-copies both halves.
func (id ID) Copy() ID {
	var out ID
	if id.stable != nil {
		v := *id.stable
		out.stable = &v
	}
	if id.temporary != nil {
		v := *id.temporary
		out.temporary = &v
	}
	return out
}

// Equal compares ids: equal iff their temporaries match when both are
// present, else their stables match.
func (id ID) Equal(o ID) bool {
	if id.temporary != nil && o.temporary != nil {
		return *id.temporary == *o.temporary
	}
	if id.stable != nil && o.stable != nil {
		return *id.stable == *o.stable
	}
	return false
}

// Key returns a value usable as a map key, preferring the temporary half.
func (id ID) Key() any {
	if id.temporary != nil {
		return "t:" + *id.temporary
	}
	if id.stable != nil {
		return *id.stable
	}
	return nil
}

func (id ID) String() string {
	switch {
	case id.stable != nil && id.temporary != nil:
		return fmt.Sprintf("ID{stable:%d,temp:%s}", *id.stable, *id.temporary)
	case id.stable != nil:
		return fmt.Sprintf("ID{stable:%d}", *id.stable)
	case id.temporary != nil:
		return fmt.Sprintf("ID{temp:%s}", *id.temporary)
	default:
		return "ID{invalid}"
	}
}
