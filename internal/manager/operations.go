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
)

// defaultPriority is the task priority every public operation submits
// at unless the caller asks for something more urgent.
const defaultPriority = 0

// Setup creates or migrates the schema for the manager's model and
// publishes the resulting db_info to every ObserveDBInfo subscriber.
func (m *Manager) Setup(ctx context.Context) error {
	info, err := run(m, defaultPriority, nil, func(ctx context.Context) (schema.Info, *Error) {
		if err := m.db.BeginExclusive(ctx); err != nil {
			return schema.Info{}, newError(ErrBeginTransactionFailed, err)
		}
		info, err := schema.Setup(ctx, m.db, m.model)
		if err != nil {
			m.db.Rollback(ctx)
			return schema.Info{}, newError(ErrCreateEntityTableFailed, err)
		}
		if err := m.db.Commit(ctx); err != nil {
			return schema.Info{}, newError(ErrBeginTransactionFailed, err)
		}
		return info, nil
	})
	if err != nil {
		return err
	}
	m.dbInfo.Set(info)
	return nil
}

// Info reads the db_info row fresh from disk on every call and publishes
// it to every ObserveDBInfo subscriber.
func (m *Manager) Info(ctx context.Context) (schema.Info, error) {
	info, err := run(m, defaultPriority, nil, func(ctx context.Context) (schema.Info, *Error) {
		info, dbErr := schema.ReadInfo(ctx, m.db)
		if dbErr != nil {
			return schema.Info{}, newError(ErrSelectInfoFailed, dbErr)
		}
		return info, nil
	})
	if err != nil {
		return schema.Info{}, err
	}
	m.dbInfo.Set(info)
	return info, nil
}

// InsertObjects inserts len(values) new rows for entityName at a fresh
// save id (cur = last = cur+1), returning one newly cached Object per
// row in the same order as values.
func (m *Manager) InsertObjects(ctx context.Context, entityName string, values []map[string]model.Value) ([]*object.Object, error) {
	if !m.model.HasEntity(entityName) {
		return nil, fmt.Errorf("manager: unknown entity %q", entityName)
	}
	engine := m.engine

	type result struct {
		rows []object.Data
		info schema.Info
	}
	res, err := run(m, defaultPriority, nil, func(ctx context.Context) (result, *Error) {
		if err := m.db.BeginExclusive(ctx); err != nil {
			return result{}, newError(ErrBeginTransactionFailed, err)
		}
		cur, dbErr := schema.ReadInfo(ctx, m.db)
		if dbErr != nil {
			m.db.Rollback(ctx)
			return result{}, newError(ErrSelectInfoFailed, dbErr)
		}
		next := cur.CurSaveID + 1
		rows, insErr := engine.InsertObjects(ctx, entityName, values, next)
		if insErr != nil {
			m.db.Rollback(ctx)
			return result{}, newError(ErrInsertAttributesFailed, insErr)
		}
		info := schema.Info{Version: cur.Version, CurSaveID: next, LastSaveID: next}
		if dbErr := schema.WriteInfo(ctx, m.db, info); dbErr != nil {
			m.db.Rollback(ctx)
			return result{}, newError(ErrUpdateSaveIdFailed, dbErr)
		}
		if err := m.db.Commit(ctx); err != nil {
			return result{}, newError(ErrBeginTransactionFailed, err)
		}
		return result{rows: rows, info: info}, nil
	})
	if err != nil {
		return nil, err
	}

	m.dbInfo.Set(res.info)
	out := make([]*object.Object, 0, len(res.rows))
	for _, data := range res.rows {
		out = append(out, m.loadAndCache(entityName, data, false))
	}
	return out, nil
}

// FetchObjects reads the current effective rows for entityName matching
// where/args (where may be empty to select every live row), caching and
// returning a handle per row.
func (m *Manager) FetchObjects(ctx context.Context, entityName, where string, args map[string]any, includeRemoved bool) ([]*object.Object, error) {
	engine := m.engine

	rows, err := run(m, defaultPriority, nil, func(ctx context.Context) (map[string][]object.Data, *Error) {
		cur, dbErr := schema.ReadInfo(ctx, m.db)
		if dbErr != nil {
			return nil, newError(ErrSelectInfoFailed, dbErr)
		}
		fetched, fetchErr := engine.Fetch(ctx, cur.CurSaveID, map[string]revision.FetchOption{
			entityName: {Where: where, Args: args, IncludeRemoved: includeRemoved},
		})
		if fetchErr != nil {
			return nil, newError(ErrSelectLastFailed, fetchErr)
		}
		return fetched, nil
	})
	if err != nil {
		return nil, err
	}

	out := make([]*object.Object, 0, len(rows[entityName]))
	for _, data := range rows[entityName] {
		out = append(out, m.loadAndCache(entityName, data, false))
	}
	return out, nil
}

// FetchConstObjects is FetchObjects's read-only-projection flavor.
func (m *Manager) FetchConstObjects(ctx context.Context, entityName, where string, args map[string]any, includeRemoved bool) ([]object.ConstObject, error) {
	objs, err := m.FetchObjects(ctx, entityName, where, args, includeRemoved)
	if err != nil {
		return nil, err
	}
	out := make([]object.ConstObject, len(objs))
	for i, o := range objs {
		out[i] = o
	}
	return out, nil
}

// Save writes every created and changed object as a new revision: it
// discards abandoned redo history first if cur < last, reconciles
// temporary ids to freshly assigned stable ids, and applies any
// inverse-relation fix-up rows the engine produces.
func (m *Manager) Save(ctx context.Context) error {
	if !m.HasCreatedObjects() && !m.HasChangedObjects() {
		return nil
	}

	pool := objectid.NewPool()
	changed := make(map[string][]object.Data)
	changedEntities := make([]string, 0, len(m.changed))

	for entityName, byTmp := range m.created {
		for _, o := range byTmp {
			o.SetUpdating()
			changed[entityName] = append(changed[entityName], o.SaveData(pool))
		}
	}
	for entityName, byStable := range m.changed {
		if len(byStable) == 0 {
			continue
		}
		changedEntities = append(changedEntities, entityName)
		for _, o := range byStable {
			o.SetUpdating()
			changed[entityName] = append(changed[entityName], o.SaveData(pool))
		}
	}

	engine := m.engine

	type result struct {
		rows map[string][]object.Data
		info schema.Info
	}
	res, err := run(m, defaultPriority, nil, func(ctx context.Context) (result, *Error) {
		if err := m.db.BeginExclusive(ctx); err != nil {
			return result{}, newError(ErrBeginTransactionFailed, err)
		}
		cur, dbErr := schema.ReadInfo(ctx, m.db)
		if dbErr != nil {
			m.db.Rollback(ctx)
			return result{}, newError(ErrSelectInfoFailed, dbErr)
		}
		if cur.CurSaveID < cur.LastSaveID {
			if err := engine.DiscardRedoHistory(ctx, cur.CurSaveID); err != nil {
				m.db.Rollback(ctx)
				return result{}, newError(ErrDeleteFailed, err)
			}
		}
		next := cur.CurSaveID + 1
		rows, saveErr := engine.SaveChanged(ctx, changed, cur.CurSaveID, next)
		if saveErr != nil {
			m.db.Rollback(ctx)
			return result{}, newError(ErrInsertAttributesFailed, saveErr)
		}
		info := schema.Info{Version: cur.Version, CurSaveID: next, LastSaveID: next}
		if dbErr := schema.WriteInfo(ctx, m.db, info); dbErr != nil {
			m.db.Rollback(ctx)
			return result{}, newError(ErrUpdateSaveIdFailed, dbErr)
		}
		if err := m.db.Commit(ctx); err != nil {
			return result{}, newError(ErrBeginTransactionFailed, err)
		}
		return result{rows: rows, info: info}, nil
	})
	if err != nil {
		return err
	}

	for entityName, rows := range res.rows {
		for _, data := range rows {
			m.loadAndCache(entityName, data, true)
		}
	}
	for _, entityName := range changedEntities {
		delete(m.changed, entityName)
	}
	m.dbInfo.Set(res.info)
	return nil
}

// Revert moves the effective database state to target, restoring and
// emptying cached objects to match, and validates target against the
// current save-id window: target must equal cur, or lie within (0, last].
func (m *Manager) Revert(ctx context.Context, target int64) error {
	engine := m.engine

	type result struct {
		byEntity map[string]revision.UndoResult
		info     schema.Info
	}
	res, err := run(m, defaultPriority, nil, func(ctx context.Context) (result, *Error) {
		if err := m.db.BeginExclusive(ctx); err != nil {
			return result{}, newError(ErrBeginTransactionFailed, err)
		}
		cur, dbErr := schema.ReadInfo(ctx, m.db)
		if dbErr != nil {
			m.db.Rollback(ctx)
			return result{}, newError(ErrSelectInfoFailed, dbErr)
		}
		if target != cur.CurSaveID && (target <= 0 || target > cur.LastSaveID) {
			m.db.Rollback(ctx)
			return result{}, newError(ErrOutOfRangeSaveId, fmt.Errorf("target=%d cur=%d last=%d", target, cur.CurSaveID, cur.LastSaveID))
		}
		byEntity, revertErr := engine.Revert(ctx, target, cur.CurSaveID)
		if revertErr != nil {
			m.db.Rollback(ctx)
			return result{}, newError(ErrSelectRevertFailed, revertErr)
		}
		info := schema.Info{Version: cur.Version, CurSaveID: target, LastSaveID: cur.LastSaveID}
		if dbErr := schema.WriteInfo(ctx, m.db, info); dbErr != nil {
			m.db.Rollback(ctx)
			return result{}, newError(ErrUpdateSaveIdFailed, dbErr)
		}
		if err := m.db.Commit(ctx); err != nil {
			return result{}, newError(ErrBeginTransactionFailed, err)
		}
		return result{byEntity: byEntity, info: info}, nil
	})
	if err != nil {
		return err
	}

	for entityName, result := range res.byEntity {
		for _, data := range result.Restored {
			m.loadAndCache(entityName, data, false)
		}
		for _, id := range result.Emptied {
			if o, ok := m.CachedOrCreatedObject(entityName, id); ok {
				o.Erase()
			}
		}
	}
	m.dbInfo.Set(res.info)
	return nil
}

// Purge collapses revision history down to a single row per live obj_id
// at save_id 1, running VACUUM afterward. Cached object handles keep
// their in-memory state; only their PKID/SaveID bookkeeping is stale
// until next loaded, which is harmless since only obj_id identity
// matters for the identity map.
func (m *Manager) Purge(ctx context.Context) error {
	engine := m.engine
	info, err := run(m, defaultPriority, nil, func(ctx context.Context) (schema.Info, *Error) {
		if err := m.db.BeginExclusive(ctx); err != nil {
			return schema.Info{}, newError(ErrBeginTransactionFailed, err)
		}
		cur, dbErr := schema.ReadInfo(ctx, m.db)
		if dbErr != nil {
			m.db.Rollback(ctx)
			return schema.Info{}, newError(ErrSelectInfoFailed, dbErr)
		}
		if err := engine.Purge(ctx, cur.CurSaveID, cur.LastSaveID); err != nil {
			m.db.Rollback(ctx)
			return schema.Info{}, newError(ErrPurgeFailed, err)
		}
		info := schema.Info{Version: cur.Version, CurSaveID: 1, LastSaveID: 1}
		if dbErr := schema.WriteInfo(ctx, m.db, info); dbErr != nil {
			m.db.Rollback(ctx)
			return schema.Info{}, newError(ErrUpdateSaveIdFailed, dbErr)
		}
		if err := m.db.Commit(ctx); err != nil {
			return schema.Info{}, newError(ErrBeginTransactionFailed, err)
		}
		// VACUUM runs outside the transaction and is pure file compaction:
		// the row collapse and db_info rewrite above are already durable, so
		// a VACUUM failure is surfaced to the caller but does not unwind or
		// withhold the db_info update the purge already committed.
		vacErr := engine.Vacuum(ctx)
		if vacErr != nil {
			return info, newError(ErrVacuumFailed, vacErr)
		}
		return info, nil
	})
	if err == nil || err.Kind == ErrVacuumFailed {
		m.dbInfo.Set(info)
	}
	if err != nil {
		return err
	}
	return nil
}

// Clear deletes every row from every table and resets db_info to (0, 0),
// erasing every cached object.
func (m *Manager) Clear(ctx context.Context) error {
	engine := m.engine
	info, err := run(m, defaultPriority, nil, func(ctx context.Context) (schema.Info, *Error) {
		if err := m.db.BeginExclusive(ctx); err != nil {
			return schema.Info{}, newError(ErrBeginTransactionFailed, err)
		}
		cur, dbErr := schema.ReadInfo(ctx, m.db)
		if dbErr != nil {
			m.db.Rollback(ctx)
			return schema.Info{}, newError(ErrSelectInfoFailed, dbErr)
		}
		if err := engine.Clear(ctx); err != nil {
			m.db.Rollback(ctx)
			return schema.Info{}, newError(ErrDeleteFailed, err)
		}
		info := schema.Info{Version: cur.Version, CurSaveID: 0, LastSaveID: 0}
		if dbErr := schema.WriteInfo(ctx, m.db, info); dbErr != nil {
			m.db.Rollback(ctx)
			return schema.Info{}, newError(ErrUpdateSaveIdFailed, dbErr)
		}
		if err := m.db.Commit(ctx); err != nil {
			return schema.Info{}, newError(ErrBeginTransactionFailed, err)
		}
		return info, nil
	})
	if err != nil {
		return err
	}
	for key, o := range m.cached {
		o.Erase()
		delete(m.cached, key)
	}
	for entity := range m.created {
		delete(m.created, entity)
	}
	for entity := range m.changed {
		delete(m.changed, entity)
	}
	m.dbInfo.Set(info)
	return nil
}

// Reset discards every uncommitted Object the application has created
// or changed since the last Save, reloading changed objects from their
// last-saved state and erasing created ones. It reads the database (the
// current db_info through the task queue, then each changed object's
// effective row directly on the calling goroutine) but never writes it.
func (m *Manager) Reset(ctx context.Context) error {
	engine := m.engine
	cur, err := m.Info(ctx)
	if err != nil {
		return err
	}

	for entityName, byTmp := range m.created {
		for tmp, o := range byTmp {
			delete(byTmp, tmp)
			o.Erase()
		}
		delete(m.created, entityName)
	}

	for entityName, byStable := range m.changed {
		entity, ok := m.model.Entity(entityName)
		if !ok {
			continue
		}
		for objID, o := range byStable {
			data, found, selErr := engine.SelectLastOne(ctx, entity, cur.CurSaveID, true, objID)
			if selErr != nil {
				return fmt.Errorf("manager: reset: reselect %s#%d: %w", entityName, objID, selErr)
			}
			if !found {
				o.Erase()
				continue
			}
			o.LoadData(data, true)
		}
		delete(m.changed, entityName)
	}

	return nil
}

// CancelIf converts pred into a lane.Cancellation. The Manager's own
// operations take no cancellation from the caller; each submits its task
// with none.
func CancelIf(pred func() bool) lane.Cancellation { return pred }
