package revision

import (
	"context"
	"fmt"

	"github.com/objgraph/objgraph/internal/model"
	"github.com/objgraph/objgraph/internal/object"
	"github.com/objgraph/objgraph/internal/objectid"
)

// DiscardRedoHistory deletes every row with save_id > cur from every
// entity and relation table. Called when cur < last at the start of a
// save, so the about-to-be-written revision replaces abandoned redo
// history rather than coexisting with it.
func (e *Engine) DiscardRedoHistory(ctx context.Context, cur int64) error {
	for _, ent := range e.Model.Entities() {
		if err := e.DB.ExecuteUpdate(ctx, fmt.Sprintf("DELETE FROM %s WHERE save_id > :cur", ent.Name), map[string]any{"cur": cur}); err != nil {
			return fmt.Errorf("revision: discard redo history on %s: %w", ent.Name, err)
		}
		for _, r := range ent.Relations {
			if err := e.DB.ExecuteUpdate(ctx, fmt.Sprintf("DELETE FROM %s WHERE save_id > :cur", r.TableName()), map[string]any{"cur": cur}); err != nil {
				return fmt.Errorf("revision: discard redo history on %s: %w", r.TableName(), err)
			}
		}
	}
	return nil
}

// SaveChanged writes one new revision row per changed object.Data, per
// §4.6's save sequence: strip pk_id, overwrite save_id, assign obj_id
// when absent, insert, then insert one relation row per target. It
// returns the loaded Data for every written row (own changes plus any
// inverse-relation fix-up rows), keyed by entity name, for the manager to
// rewrite its cache with.
//
// The caller is responsible for calling DiscardRedoHistory first when
// cur < last, and for committing the enclosing transaction.
func (e *Engine) SaveChanged(ctx context.Context, changed map[string][]object.Data, cur, next int64) (map[string][]object.Data, error) {
	out := make(map[string][]object.Data)
	removedByEntity := make(map[string][]int64)

	for entityName, datas := range changed {
		entity, ok := e.Model.Entity(entityName)
		if !ok {
			return nil, fmt.Errorf("revision: save: unknown entity %q", entityName)
		}
		nextObjID, err := maxObjID(ctx, e.DB, entity.Name)
		if err != nil {
			return nil, err
		}
		for _, data := range datas {
			objID := data.ObjectID.Stable()
			if !data.ObjectID.HasStable() {
				nextObjID++
				objID = nextObjID
			}
			pkID, err := insertEntityRow(ctx, e.DB, entity, data, objID, next)
			if err != nil {
				return nil, err
			}
			for relName, targets := range data.Relations {
				if err := insertRelationRows(ctx, e.DB, entity, relName, pkID, objID, next, targets); err != nil {
					return nil, err
				}
			}
			loaded := data
			loaded.ObjectID = data.ObjectID
			if !loaded.ObjectID.HasStable() {
				loaded.ObjectID = loaded.ObjectID.Copy()
				loaded.ObjectID.SetStable(objID)
			}
			loaded.PKID = pkID
			loaded.SaveID = next
			out[entityName] = append(out[entityName], loaded)

			if data.Action == model.ActionRemove {
				removedByEntity[entityName] = append(removedByEntity[entityName], objID)
			}
		}
	}

	for entityName, removed := range removedByEntity {
		if len(removed) == 0 {
			continue
		}
		fixups, err := e.fixupInverseReferences(ctx, entityName, removed, next)
		if err != nil {
			return nil, err
		}
		for invEntityName, rows := range fixups {
			out[invEntityName] = append(out[invEntityName], rows...)
		}
	}

	return out, nil
}

// fixupInverseReferences is the on-disk half of §4.5's inverse-relation
// fix-up: every live referrer of a just-removed object gets a brand new
// revision with that reference stripped, so the revision log stays
// self-consistent - deleting X atomically appears to erase the reference
// from Y.
//
// Referrers are read at next, not cur: the main loop above has already
// written this save's explicit changes at save_id=next, so reading at
// next (rather than the pre-save cur) picks up a referrer's own
// just-written row instead of its stale pre-save one. Without this, a
// referrer that already had the reference stripped as part of its own
// explicit change would be rewritten a second time at the same save_id,
// producing two rows for the same obj_id at save_id=next.
func (e *Engine) fixupInverseReferences(ctx context.Context, removedEntity string, removedObjIDs []int64, next int64) (map[string][]object.Data, error) {
	removedSet := make(map[int64]bool, len(removedObjIDs))
	for _, id := range removedObjIDs {
		removedSet[id] = true
	}

	out := make(map[string][]object.Data)
	for _, inv := range e.Model.InverseRelations(removedEntity) {
		invEntity, ok := e.Model.Entity(inv.SourceEntity)
		if !ok {
			continue
		}
		liveRows, err := e.SelectLast(ctx, invEntity, next, false, "", nil)
		if err != nil {
			return nil, err
		}
		for _, row := range liveRows {
			ids, err := readRelationIDs(ctx, e.DB, invEntity, inv.Name, row.ObjectID.Stable(), row.SaveID)
			if err != nil {
				return nil, err
			}
			filtered := filterOutRemoved(ids, removedSet)
			if len(filtered) == len(ids) {
				continue // this object doesn't reference anything just removed
			}

			full := row
			full.Relations = make(map[string][]objectid.ID, len(invEntity.Relations))
			if err := enrichWithRelations(ctx, e.DB, invEntity, &full); err != nil {
				return nil, err
			}
			full.Relations[inv.Name] = filtered
			full.Action = model.ActionUpdate

			objID := full.ObjectID.Stable()
			pkID, err := insertEntityRow(ctx, e.DB, invEntity, full, objID, next)
			if err != nil {
				return nil, err
			}
			for relName, targets := range full.Relations {
				if err := insertRelationRows(ctx, e.DB, invEntity, relName, pkID, objID, next, targets); err != nil {
					return nil, err
				}
			}
			full.PKID = pkID
			full.SaveID = next
			out[invEntity.Name] = append(out[invEntity.Name], full)
		}
	}
	return out, nil
}

func filterOutRemoved(ids []objectid.ID, removed map[int64]bool) []objectid.ID {
	out := make([]objectid.ID, 0, len(ids))
	for _, id := range ids {
		if id.HasStable() && removed[id.Stable()] {
			continue
		}
		out = append(out, id)
	}
	return out
}
