package revision

import (
	"context"
	"fmt"
)

// Purge collapses every entity and relation table down to exactly one
// row per live obj_id (per live source row), all at save_id = 1. The
// caller is expected to run this inside a transaction and issue VACUUM
// afterward: SQLite requires VACUUM run outside any transaction, so it
// is not part of this call. db_info is not written here either; the
// caller sets it to (1, 1) in the same transaction, before VACUUM.
func (e *Engine) Purge(ctx context.Context, cur, last int64) error {
	if cur < last {
		if err := e.DiscardRedoHistory(ctx, cur); err != nil {
			return err
		}
	}
	for _, ent := range e.Model.Entities() {
		if err := e.DB.ExecuteUpdate(ctx, fmt.Sprintf(
			"DELETE FROM %s WHERE pk_id NOT IN (SELECT MAX(pk_id) FROM %s GROUP BY obj_id)",
			ent.Name, ent.Name), nil); err != nil {
			return fmt.Errorf("revision: purge collapse %s: %w", ent.Name, err)
		}
		if err := e.DB.ExecuteUpdate(ctx, fmt.Sprintf("UPDATE %s SET save_id = 1", ent.Name), nil); err != nil {
			return fmt.Errorf("revision: purge reset save_id on %s: %w", ent.Name, err)
		}
		for _, r := range ent.Relations {
			table := r.TableName()
			if err := e.DB.ExecuteUpdate(ctx, fmt.Sprintf(
				"DELETE FROM %s WHERE src_pk_id NOT IN (SELECT pk_id FROM %s)", table, ent.Name), nil); err != nil {
				return fmt.Errorf("revision: purge collapse relation %s: %w", table, err)
			}
			if err := e.DB.ExecuteUpdate(ctx, fmt.Sprintf("UPDATE %s SET save_id = 1", table), nil); err != nil {
				return fmt.Errorf("revision: purge reset save_id on relation %s: %w", table, err)
			}
		}
	}
	return nil
}

// Vacuum runs VACUUM on the underlying connection. Must not be called
// from inside a transaction.
func (e *Engine) Vacuum(ctx context.Context) error {
	return e.DB.Vacuum(ctx)
}

// Clear deletes every row from every entity table and every relation
// side table. The caller sets db_info to (0, 0) afterward.
func (e *Engine) Clear(ctx context.Context) error {
	for _, ent := range e.Model.Entities() {
		for _, r := range ent.Relations {
			if err := e.DB.ExecuteUpdate(ctx, "DELETE FROM "+r.TableName(), nil); err != nil {
				return fmt.Errorf("revision: clear relation %s: %w", r.TableName(), err)
			}
		}
		if err := e.DB.ExecuteUpdate(ctx, "DELETE FROM "+ent.Name, nil); err != nil {
			return fmt.Errorf("revision: clear entity %s: %w", ent.Name, err)
		}
	}
	return nil
}
