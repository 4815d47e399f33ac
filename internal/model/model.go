package model

import (
	"fmt"
	"strconv"
	"strings"
)

// InverseRelation records that SourceEntity references the entity this
// map is keyed by, via relation Name.
type InverseRelation struct {
	SourceEntity string
	Name         string
}

// Model is the immutable, compiled description of an application's data
// model: its entities (with system + custom attributes), relations, and
// indices, plus the inverse-relation map the revision engine uses to keep
// the graph consistent on delete.
type Model struct {
	Version string

	entities map[string]*Entity
	indices  map[string]Index

	// inverse[target] lists every (source, relation) pair that points at
	// target. Computed once at construction time.
	inverse map[string][]InverseRelation
}

// New compiles entities/indices into a Model, validating as it goes.
// Invalid input (empty names, duplicate attributes, not_null without a
// default, etc.) is rejected with an error.
func New(version string, entities []Entity, indices []Index) (*Model, error) {
	if err := validateVersion(version); err != nil {
		return nil, err
	}
	m := &Model{
		Version:  version,
		entities: make(map[string]*Entity, len(entities)),
		indices:  make(map[string]Index, len(indices)),
		inverse:  make(map[string][]InverseRelation),
	}
	for i := range entities {
		e := entities[i]
		if err := e.build(); err != nil {
			return nil, err
		}
		if _, dup := m.entities[e.Name]; dup {
			return nil, fmt.Errorf("model: duplicate entity %q", e.Name)
		}
		ePtr := e
		m.entities[e.Name] = &ePtr
	}
	for _, idx := range indices {
		if err := idx.validate(); err != nil {
			return nil, err
		}
		ent, ok := m.entities[idx.Entity]
		if !ok {
			return nil, fmt.Errorf("model: index %q references unknown entity %q", idx.Name, idx.Entity)
		}
		for _, attr := range idx.Attributes {
			if attr != ColObjID && attr != ColSaveID && attr != ColAction && !ent.HasAttribute(attr) {
				return nil, fmt.Errorf("model: index %q references unknown attribute %q on entity %q", idx.Name, attr, idx.Entity)
			}
		}
		if _, dup := m.indices[idx.Name]; dup {
			return nil, fmt.Errorf("model: duplicate index %q", idx.Name)
		}
		m.indices[idx.Name] = idx
	}

	// Compute the inverse-relation map: for every src.R -> tgt, record
	// under tgt's entry that src references it via R.
	for _, e := range m.entities {
		for _, r := range e.Relations {
			if _, ok := m.entities[r.Target]; !ok {
				return nil, fmt.Errorf("model: relation %q.%q targets unknown entity %q", e.Name, r.Name, r.Target)
			}
			m.inverse[r.Target] = append(m.inverse[r.Target], InverseRelation{SourceEntity: e.Name, Name: r.Name})
		}
	}

	return m, nil
}

// Entity looks up an entity by name.
func (m *Model) Entity(name string) (*Entity, bool) {
	e, ok := m.entities[name]
	return e, ok
}

// HasEntity reports whether name is a declared entity.
func (m *Model) HasEntity(name string) bool {
	_, ok := m.entities[name]
	return ok
}

// Entities returns every entity, order unspecified.
func (m *Model) Entities() []*Entity {
	out := make([]*Entity, 0, len(m.entities))
	for _, e := range m.entities {
		out = append(out, e)
	}
	return out
}

// Index looks up an index by name.
func (m *Model) Index(name string) (Index, bool) {
	idx, ok := m.indices[name]
	return idx, ok
}

// Indices returns every index, order unspecified.
func (m *Model) Indices() []Index {
	out := make([]Index, 0, len(m.indices))
	for _, idx := range m.indices {
		out = append(out, idx)
	}
	return out
}

// InverseRelations returns the (source entity, relation name) pairs that
// reference entityName, i.e. the reverse direction of every declared
// relation targeting it. Used by the revision engine and the manager to
// fix up references at delete time.
func (m *Model) InverseRelations(entityName string) []InverseRelation {
	return m.inverse[entityName]
}

// validateVersion rejects anything that isn't a dotted sequence of
// non-negative integers, e.g. "1.2.10".
func validateVersion(v string) error {
	if v == "" {
		return fmt.Errorf("model: version must not be empty")
	}
	for _, part := range strings.Split(v, ".") {
		if part == "" {
			return fmt.Errorf("model: invalid version text %q", v)
		}
		if _, err := strconv.ParseUint(part, 10, 64); err != nil {
			return fmt.Errorf("model: invalid version text %q: %w", v, err)
		}
	}
	return nil
}

// CompareVersions compares two dotted-numeric version strings
// lexicographically by integer tuple, e.g. "1.9" < "1.10". Malformed
// segments compare as zero.
func CompareVersions(a, b string) int {
	as := strings.Split(a, ".")
	bs := strings.Split(b, ".")
	for i := 0; i < len(as) || i < len(bs); i++ {
		var av, bv uint64
		if i < len(as) {
			av, _ = strconv.ParseUint(as[i], 10, 64)
		}
		if i < len(bs) {
			bv, _ = strconv.ParseUint(bs[i], 10, 64)
		}
		if av != bv {
			if av < bv {
				return -1
			}
			return 1
		}
	}
	return 0
}
