package model

import "fmt"

// Index is a named index bound to an entity over one or more attributes.
type Index struct {
	Name       string
	Entity     string
	Attributes []string
}

func (i Index) validate() error {
	if i.Name == "" {
		return fmt.Errorf("model: index name must not be empty")
	}
	if i.Entity == "" {
		return fmt.Errorf("model: index %q declares no entity", i.Name)
	}
	if len(i.Attributes) == 0 {
		return fmt.Errorf("model: index %q declares no attributes", i.Name)
	}
	return nil
}
