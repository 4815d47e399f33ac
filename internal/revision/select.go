package revision

import (
	"context"
	"fmt"

	"github.com/objgraph/objgraph/internal/model"
	"github.com/objgraph/objgraph/internal/object"
	"github.com/objgraph/objgraph/internal/sqlbuilder"
)

// SelectLast runs the effective-row ("last where") read against entity's
// table: per obj_id, the row with the maximum save_id <= curSaveID among
// the rows matching extraWhere; unless includeRemoved, an obj_id whose
// chosen row has action 'remove' yields nothing. Relations are not
// populated.
func (e *Engine) SelectLast(ctx context.Context, entity *model.Entity, curSaveID int64, includeRemoved bool, extraWhere string, extraArgs map[string]any) ([]object.Data, error) {
	where := effectiveRowsWhere(entity.Name, extraWhere, "cur", includeRemoved)
	args := map[string]any{"cur": curSaveID}
	for k, v := range extraArgs {
		args[k] = v
	}
	sql := sqlbuilder.Select(sqlbuilder.SelectOption{Table: entity.Name, Where: where})
	rows, err := e.DB.ExecuteQuery(ctx, sql, args)
	if err != nil {
		return nil, fmt.Errorf("revision: select_last %s: %w", entity.Name, err)
	}
	defer rows.Close()

	var out []object.Data
	for rows.Next() {
		data, err := scanEntityRow(entity, rows)
		if err != nil {
			return nil, err
		}
		out = append(out, data)
	}
	return out, rows.Err()
}

// SelectLastOne returns the single effective row for one obj_id, or ok=false
// if none exists (e.g. it was never inserted, or is removed and
// includeRemoved is false).
func (e *Engine) SelectLastOne(ctx context.Context, entity *model.Entity, curSaveID int64, includeRemoved bool, objID int64) (object.Data, bool, error) {
	rows, err := e.SelectLast(ctx, entity, curSaveID, includeRemoved, "obj_id = :obj_id", map[string]any{"obj_id": objID})
	if err != nil {
		return object.Data{}, false, err
	}
	if len(rows) == 0 {
		return object.Data{}, false, nil
	}
	return rows[0], true, nil
}

// FetchOption mirrors a per-entity select request for Fetch.
type FetchOption struct {
	Where          string
	Args           map[string]any
	IncludeRemoved bool
}

// Fetch reads the current effective rows for every entity named in opts,
// at the manager-supplied curSaveID, and enriches each with its relations.
func (e *Engine) Fetch(ctx context.Context, curSaveID int64, opts map[string]FetchOption) (map[string][]object.Data, error) {
	out := make(map[string][]object.Data, len(opts))
	for entityName, opt := range opts {
		entity, ok := e.Model.Entity(entityName)
		if !ok {
			return nil, fmt.Errorf("revision: fetch: unknown entity %q", entityName)
		}
		rows, err := e.SelectLast(ctx, entity, curSaveID, opt.IncludeRemoved, opt.Where, opt.Args)
		if err != nil {
			return nil, err
		}
		for i := range rows {
			if err := enrichWithRelations(ctx, e.DB, entity, &rows[i]); err != nil {
				return nil, err
			}
		}
		out[entityName] = rows
	}
	return out, nil
}

// FetchByIDs is FetchOption's "by id-set" flavor, rewritten to an
// obj_id IN (...) where clause per entity.
func FetchByIDs(ids map[string][]int64, includeRemoved bool) map[string]FetchOption {
	out := make(map[string]FetchOption, len(ids))
	for entity, objIDs := range ids {
		where := sqlbuilder.InExprIntegerSet("obj_id", objIDs)
		out[entity] = FetchOption{Where: where, IncludeRemoved: includeRemoved}
	}
	return out
}
