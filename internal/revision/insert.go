package revision

import (
	"context"
	"fmt"

	"github.com/objgraph/objgraph/internal/model"
	"github.com/objgraph/objgraph/internal/object"
)

// InsertObjects assigns sequential obj_ids starting at max(obj_id)+1 per
// entity, writes rows at save_id = nextSaveID, then re-selects them to
// populate pk_id. It does not touch db_info; the caller bumps it (the
// manager's insert_objects flow sets db_info to (next, next)).
func (e *Engine) InsertObjects(ctx context.Context, entityName string, initial []map[string]model.Value, nextSaveID int64) ([]object.Data, error) {
	entity, ok := e.Model.Entity(entityName)
	if !ok {
		return nil, fmt.Errorf("revision: insert_objects: unknown entity %q", entityName)
	}
	start, err := maxObjID(ctx, e.DB, entity.Name)
	if err != nil {
		return nil, err
	}

	out := make([]object.Data, 0, len(initial))
	for i, attrs := range initial {
		objID := start + int64(i) + 1
		data := object.Data{Action: model.ActionInsert, Attributes: attrs}
		pkID, err := insertEntityRow(ctx, e.DB, entity, data, objID, nextSaveID)
		if err != nil {
			return nil, err
		}
		loaded, found, err := e.SelectLastOne(ctx, entity, nextSaveID, true, objID)
		if err != nil {
			return nil, err
		}
		if !found {
			return nil, fmt.Errorf("revision: insert_objects: inserted row %d for %q not found on re-select", pkID, entity.Name)
		}
		out = append(out, loaded)
	}
	return out, nil
}
