package objectid

import "sync"

// poolKey identifies a scratch slot within a Pool.
type poolKey struct {
	entity string
	key    any
}

// Pool is a per-save scratch structure. GetOrCreate returns an ID equal to
// key on first encounter and the same ID on subsequent calls with the same
// key, so a relation vector and the related object's own id share identity
// after save.
type Pool struct {
	mu   sync.Mutex
	seen map[poolKey]ID
}

// NewPool returns an empty pool.
func NewPool() *Pool {
	return &Pool{seen: make(map[poolKey]ID)}
}

// GetOrCreate returns the pooled ID for (entityName, key), invoking factory
// to create one on first encounter.
func (p *Pool) GetOrCreate(entityName string, key any, factory func() ID) ID {
	p.mu.Lock()
	defer p.mu.Unlock()
	pk := poolKey{entity: entityName, key: key}
	if id, ok := p.seen[pk]; ok {
		return id
	}
	id := factory()
	p.seen[pk] = id
	return id
}

// Intern registers id under (entityName, key) if not already present, and
// returns the canonical pooled value for that slot.
func (p *Pool) Intern(entityName string, key any, id ID) ID {
	return p.GetOrCreate(entityName, key, func() ID { return id })
}
