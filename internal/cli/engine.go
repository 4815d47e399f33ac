package cli

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/objgraph/objgraph/internal/manager"
	"github.com/objgraph/objgraph/internal/model"
	"github.com/objgraph/objgraph/internal/object"
	"github.com/objgraph/objgraph/internal/objectid"
	"github.com/objgraph/objgraph/internal/sqlitedb"
)

// openManager opens the database at path and wires a Manager over the
// demo model, raising the log level when verbose is set.
func openManager(path string, verbose bool) (*manager.Manager, error) {
	level := zerolog.InfoLevel
	if verbose {
		level = zerolog.DebugLevel
	}
	logger := log.Logger.Level(level)

	db, err := sqlitedb.Open(path, "", sqlitedb.WithLogger(logger))
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	m, err := demoModel()
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("compile model: %w", err)
	}

	return manager.New(db, m), nil
}

// RunSetup creates or migrates the schema, then prints the resulting
// db_info row.
func RunSetup(path string, verbose bool) error {
	mgr, err := openManager(path, verbose)
	if err != nil {
		return err
	}
	defer mgr.Close()

	ctx := context.Background()
	if err := mgr.Setup(ctx); err != nil {
		return err
	}
	info, err := mgr.Info(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("schema ready: version=%s cur_save_id=%d last_save_id=%d\n", info.Version, info.CurSaveID, info.LastSaveID)
	return nil
}

// RunInfo prints the current db_info row.
func RunInfo(path string, verbose bool) error {
	mgr, err := openManager(path, verbose)
	if err != nil {
		return err
	}
	defer mgr.Close()

	info, err := mgr.Info(context.Background())
	if err != nil {
		return err
	}
	fmt.Printf("version=%s cur_save_id=%d last_save_id=%d\n", info.Version, info.CurSaveID, info.LastSaveID)
	return nil
}

// RunCreate creates a new object of entityName with fields applied,
// saves it, and prints the stable id the save assigned.
func RunCreate(path string, verbose bool, entityName string, fields []string) error {
	mgr, err := openManager(path, verbose)
	if err != nil {
		return err
	}
	defer mgr.Close()

	ctx := context.Background()
	if err := mgr.Setup(ctx); err != nil {
		return err
	}

	o, err := mgr.CreateObject(entityName)
	if err != nil {
		return err
	}
	if err := applyFields(o, fields); err != nil {
		return err
	}
	if err := mgr.Save(ctx); err != nil {
		return err
	}
	fmt.Printf("created %s#%d\n", entityName, o.ObjectID().Stable())
	return nil
}

// RunSet applies a single field=value edit to an already-saved object.
func RunSet(path string, verbose bool, entityName, idText, field string) error {
	mgr, err := openManager(path, verbose)
	if err != nil {
		return err
	}
	defer mgr.Close()

	ctx := context.Background()
	if err := mgr.Setup(ctx); err != nil {
		return err
	}
	o, err := fetchOne(ctx, mgr, entityName, idText)
	if err != nil {
		return err
	}
	if err := applyFields(o, []string{field}); err != nil {
		return err
	}
	return mgr.Save(ctx)
}

// RunRemove marks an object removed and saves immediately.
func RunRemove(path string, verbose bool, entityName, idText string) error {
	mgr, err := openManager(path, verbose)
	if err != nil {
		return err
	}
	defer mgr.Close()

	ctx := context.Background()
	if err := mgr.Setup(ctx); err != nil {
		return err
	}
	o, err := fetchOne(ctx, mgr, entityName, idText)
	if err != nil {
		return err
	}
	o.Remove()
	return mgr.Save(ctx)
}

// RunList prints the current effective rows for entityName.
func RunList(path string, verbose bool, entityName string, includeRemoved bool) error {
	mgr, err := openManager(path, verbose)
	if err != nil {
		return err
	}
	defer mgr.Close()

	ctx := context.Background()
	if err := mgr.Setup(ctx); err != nil {
		return err
	}
	objs, err := mgr.FetchObjects(ctx, entityName, "", nil, includeRemoved)
	if err != nil {
		return err
	}
	entity, ok := mgr.Model().Entity(entityName)
	if !ok {
		return fmt.Errorf("unknown entity %q", entityName)
	}
	for _, o := range objs {
		printObject(entity, o)
	}
	fmt.Fprintf(os.Stdout, "%d row(s)\n", len(objs))
	return nil
}

// RunLink appends targetID to relation on an object.
func RunLink(path string, verbose bool, entityName, idText, relation, targetText string) error {
	return modifyRelation(path, verbose, entityName, idText, relation, targetText, func(o *object.Object, name string, id objectid.ID) error {
		return o.AddRelationID(name, id)
	})
}

// RunUnlink removes targetID from relation on an object.
func RunUnlink(path string, verbose bool, entityName, idText, relation, targetText string) error {
	return modifyRelation(path, verbose, entityName, idText, relation, targetText, func(o *object.Object, name string, id objectid.ID) error {
		return o.RemoveRelationID(name, id)
	})
}

func modifyRelation(path string, verbose bool, entityName, idText, relation, targetText string, apply func(*object.Object, string, objectid.ID) error) error {
	mgr, err := openManager(path, verbose)
	if err != nil {
		return err
	}
	defer mgr.Close()

	ctx := context.Background()
	if err := mgr.Setup(ctx); err != nil {
		return err
	}
	o, err := fetchOne(ctx, mgr, entityName, idText)
	if err != nil {
		return err
	}
	targetID, err := strconv.ParseInt(targetText, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid target obj_id %q: %w", targetText, err)
	}
	if err := apply(o, relation, objectid.NewStable(targetID)); err != nil {
		return err
	}
	return mgr.Save(ctx)
}

// RunSave persists every created and changed object.
func RunSave(path string, verbose bool) error {
	mgr, err := openManager(path, verbose)
	if err != nil {
		return err
	}
	defer mgr.Close()
	ctx := context.Background()
	if err := mgr.Setup(ctx); err != nil {
		return err
	}
	if err := mgr.Save(ctx); err != nil {
		return err
	}
	info, err := mgr.Info(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("saved: cur_save_id=%d last_save_id=%d\n", info.CurSaveID, info.LastSaveID)
	return nil
}

// RunRevert moves the effective state to targetText's save id.
func RunRevert(path string, verbose bool, targetText string) error {
	target, err := strconv.ParseInt(targetText, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid save id %q: %w", targetText, err)
	}
	mgr, err := openManager(path, verbose)
	if err != nil {
		return err
	}
	defer mgr.Close()

	ctx := context.Background()
	if err := mgr.Setup(ctx); err != nil {
		return err
	}
	if err := mgr.Revert(ctx, target); err != nil {
		return err
	}
	info, err := mgr.Info(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("reverted to save_id=%d\n", info.CurSaveID)
	return nil
}

// RunPurge collapses history to one row per object and vacuums.
func RunPurge(path string, verbose bool) error {
	mgr, err := openManager(path, verbose)
	if err != nil {
		return err
	}
	defer mgr.Close()
	ctx := context.Background()
	if err := mgr.Setup(ctx); err != nil {
		return err
	}
	if err := mgr.Purge(ctx); err != nil {
		return err
	}
	fmt.Println("purged")
	return nil
}

// RunClear empties every table and resets save ids.
func RunClear(path string, verbose bool) error {
	mgr, err := openManager(path, verbose)
	if err != nil {
		return err
	}
	defer mgr.Close()
	ctx := context.Background()
	if err := mgr.Setup(ctx); err != nil {
		return err
	}
	if err := mgr.Clear(ctx); err != nil {
		return err
	}
	fmt.Println("cleared")
	return nil
}

// fetchOne fetches the single effective row for entityName whose obj_id
// matches idText.
func fetchOne(ctx context.Context, mgr *manager.Manager, entityName, idText string) (*object.Object, error) {
	objID, err := strconv.ParseInt(idText, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid obj_id %q: %w", idText, err)
	}
	objs, err := mgr.FetchObjects(ctx, entityName, "obj_id = :obj_id", map[string]any{"obj_id": objID}, false)
	if err != nil {
		return nil, err
	}
	if len(objs) == 0 {
		return nil, fmt.Errorf("%s#%d not found", entityName, objID)
	}
	return objs[0], nil
}

// applyFields parses "field=value" strings against o's entity and sets
// each one.
func applyFields(o *object.Object, fields []string) error {
	entity := o.Entity()
	for _, kv := range fields {
		name, raw, ok := strings.Cut(kv, "=")
		if !ok {
			return fmt.Errorf("expected field=value, got %q", kv)
		}
		attr, ok := entity.Attribute(name)
		if !ok {
			return fmt.Errorf("entity %q has no attribute %q", entity.Name, name)
		}
		v, err := parseValue(attr, raw)
		if err != nil {
			return fmt.Errorf("field %q: %w", name, err)
		}
		if err := o.SetAttributeValue(name, v); err != nil {
			return err
		}
	}
	return nil
}

func parseValue(attr model.Attribute, raw string) (model.Value, error) {
	switch attr.Type {
	case model.AttributeInteger:
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return model.Null, err
		}
		return model.NewInteger(n), nil
	case model.AttributeReal:
		f, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return model.Null, err
		}
		return model.NewReal(f), nil
	default:
		return model.NewText(raw), nil
	}
}

func printObject(entity *model.Entity, o *object.Object) {
	fmt.Printf("%s#%d", entity.Name, o.ObjectID().Stable())
	for _, a := range entity.Attributes {
		v, err := o.AttributeValue(a.Name)
		if err != nil {
			continue
		}
		fmt.Printf(" %s=%s", a.Name, v.String())
	}
	for _, r := range entity.Relations {
		ids, err := o.RelationIDs(r.Name)
		if err != nil {
			continue
		}
		fmt.Printf(" %s=%v", r.Name, ids)
	}
	fmt.Println()
}
