package revision

import (
	"context"
	"fmt"

	"github.com/objgraph/objgraph/internal/model"
	"github.com/objgraph/objgraph/internal/object"
	"github.com/objgraph/objgraph/internal/objectid"
	"github.com/objgraph/objgraph/internal/sqlbuilder"
)

// UndoResult is the row set a revert computes for one entity: rows to
// restore to the cache as-is, plus the ids of objects that did not exist
// yet at the target save id and must be emptied (erased) from the cache.
type UndoResult struct {
	Restored []object.Data
	Emptied  []objectid.ID
}

// SelectForUndo computes the rows needed to move an entity's effective
// state backward from current to revert (revert < current): for every
// obj_id mutated in (revert, current], either its max-rowid row at
// save_id <= revert (restored), or, when no such row exists (i.e. the
// object's very first row falls inside the window), a marker that it
// must be emptied, since it did not exist at the revert point.
func (e *Engine) SelectForUndo(ctx context.Context, entity *model.Entity, revert, current int64) (UndoResult, error) {
	if current <= revert {
		return UndoResult{}, fmt.Errorf("revision: select_for_undo requires current > revert, got current=%d revert=%d", current, revert)
	}
	mutated, err := e.mutatedObjIDs(ctx, entity, revert, current)
	if err != nil {
		return UndoResult{}, err
	}
	if len(mutated) == 0 {
		return UndoResult{}, nil
	}

	where := sqlbuilder.InExprIntegerSet("obj_id", mutated)
	restored, err := e.SelectLast(ctx, entity, revert, true, where, nil)
	if err != nil {
		return UndoResult{}, err
	}

	restoredSet := make(map[int64]bool, len(restored))
	for _, r := range restored {
		restoredSet[r.ObjectID.Stable()] = true
	}
	var emptied []objectid.ID
	for _, objID := range mutated {
		if !restoredSet[objID] {
			emptied = append(emptied, objectid.NewStable(objID))
		}
	}
	return UndoResult{Restored: restored, Emptied: emptied}, nil
}

// SelectForRedo computes the rows needed to move an entity's effective
// state forward from current to revert (revert > current): the
// effective-row read at save_id <= revert, restricted to rows written
// after current, including removed rows (a redo can restore a removal).
func (e *Engine) SelectForRedo(ctx context.Context, entity *model.Entity, revert, current int64) ([]object.Data, error) {
	if revert <= current {
		return nil, fmt.Errorf("revision: select_for_redo requires revert > current, got revert=%d current=%d", revert, current)
	}
	return e.SelectLast(ctx, entity, revert, true, "save_id > :since", map[string]any{"since": current})
}

// SelectForRevert dispatches to SelectForUndo or SelectForRedo depending
// on how target compares to current; equal returns an empty result.
func (e *Engine) SelectForRevert(ctx context.Context, entity *model.Entity, target, current int64) (UndoResult, error) {
	switch {
	case target == current:
		return UndoResult{}, nil
	case target < current:
		return e.SelectForUndo(ctx, entity, target, current)
	default:
		rows, err := e.SelectForRedo(ctx, entity, target, current)
		if err != nil {
			return UndoResult{}, err
		}
		return UndoResult{Restored: rows}, nil
	}
}

func (e *Engine) mutatedObjIDs(ctx context.Context, entity *model.Entity, revert, current int64) ([]int64, error) {
	rows, err := e.DB.ExecuteQuery(ctx, fmt.Sprintf(
		"SELECT DISTINCT obj_id FROM %s WHERE save_id > :revert AND save_id <= :current", entity.Name),
		map[string]any{"revert": revert, "current": current})
	if err != nil {
		return nil, fmt.Errorf("revision: mutated obj_ids on %s: %w", entity.Name, err)
	}
	defer rows.Close()
	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("revision: scan mutated obj_id on %s: %w", entity.Name, err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// Revert computes the reverted effective state for every entity and
// enriches it with relations, for the manager's revert operation. It
// does not write db_info; the caller updates cur_save_id after this
// succeeds.
func (e *Engine) Revert(ctx context.Context, target, current int64) (map[string]UndoResult, error) {
	out := make(map[string]UndoResult, len(e.Model.Entities()))
	for _, entity := range e.Model.Entities() {
		result, err := e.SelectForRevert(ctx, entity, target, current)
		if err != nil {
			return nil, fmt.Errorf("revision: revert entity %q: %w", entity.Name, err)
		}
		for i := range result.Restored {
			if err := enrichWithRelations(ctx, e.DB, entity, &result.Restored[i]); err != nil {
				return nil, err
			}
		}
		out[entity.Name] = result
	}
	return out, nil
}
