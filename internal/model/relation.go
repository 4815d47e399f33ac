package model

import "fmt"

// Relation is a named, ordered list of references from a source entity to
// a target entity, stored in a side table rel_<source>_<name>.
type Relation struct {
	Name   string
	Target string
	Many   bool

	// source is set during Model construction.
	source string
}

func (r Relation) validate() error {
	if r.Name == "" {
		return fmt.Errorf("model: relation name must not be empty")
	}
	if r.Target == "" {
		return fmt.Errorf("model: relation %q declares no target entity", r.Name)
	}
	return nil
}

// TableName is the side table holding this relation's rows.
func (r Relation) TableName() string {
	return "rel_" + r.source + "_" + r.Name
}

// System column names shared by every relation side table.
const (
	RelColPKID    = "pk_id"
	RelColSrcPKID = "src_pk_id"
	RelColSrcObjID = "src_obj_id"
	RelColTgtObjID = "tgt_obj_id"
	RelColSaveID  = "save_id"
)

// InsertColumns lists the side table's columns in insert order.
func (r Relation) InsertColumns() []string {
	return []string{RelColSrcPKID, RelColSrcObjID, RelColTgtObjID, RelColSaveID}
}
