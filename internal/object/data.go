package object

import (
	"github.com/objgraph/objgraph/internal/model"
	"github.com/objgraph/objgraph/internal/objectid"
)

// Data is the wire/transfer form the revision engine reads and writes: an
// object id, the row's bookkeeping columns, a flat custom-attribute map,
// and a relation map of ordered target ids. PKID and SaveID are zero for
// data that has not yet been written to a row (e.g. a created object's
// pending save_data).
type Data struct {
	ObjectID   objectid.ID
	PKID       int64
	SaveID     int64
	Action     string
	Attributes map[string]model.Value
	Relations  map[string][]objectid.ID
}

// NewData returns an empty Data for id with action defaulted to insert.
func NewData(id objectid.ID) Data {
	return Data{
		ObjectID:   id,
		Action:     model.ActionInsert,
		Attributes: make(map[string]model.Value),
		Relations:  make(map[string][]objectid.ID),
	}
}
