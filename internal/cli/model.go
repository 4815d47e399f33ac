package cli

import (
	"github.com/objgraph/objgraph/internal/model"
)

// demoModel compiles the small "notes and tags" model the CLI exercises:
// a Note with a body, and a Tag entity many-related from Note, so
// relation linking and inverse-relation fix-up on delete have something
// concrete to demonstrate.
func demoModel() (*model.Model, error) {
	return model.New("1.0", []model.Entity{
		{
			Name: "Note",
			Attributes: []model.Attribute{
				{Name: "title", Type: model.AttributeText, Default: model.NewText(""), HasDefault: true},
				{Name: "body", Type: model.AttributeText, Default: model.NewText(""), HasDefault: true},
			},
			Relations: []model.Relation{
				{Name: "tags", Target: "Tag", Many: true},
			},
		},
		{
			Name: "Tag",
			Attributes: []model.Attribute{
				{Name: "name", Type: model.AttributeText, Default: model.NewText(""), HasDefault: true, NotNull: true},
			},
		},
	}, []model.Index{
		{Name: "idx_tag_name", Entity: "Tag", Attributes: []string{"name"}},
	})
}
