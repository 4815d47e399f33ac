package model

import "fmt"

// AttributeType is the discriminated column type of a custom attribute.
type AttributeType int

const (
	AttributeInteger AttributeType = iota
	AttributeReal
	AttributeText
	AttributeBlob
)

func (t AttributeType) String() string {
	switch t {
	case AttributeInteger:
		return "INTEGER"
	case AttributeReal:
		return "REAL"
	case AttributeText:
		return "TEXT"
	case AttributeBlob:
		return "BLOB"
	default:
		return "TEXT"
	}
}

// ValueKindFor returns the ValueKind a column of this type holds.
func (t AttributeType) ValueKindFor() ValueKind {
	switch t {
	case AttributeInteger:
		return KindInteger
	case AttributeReal:
		return KindReal
	case AttributeBlob:
		return KindBlob
	default:
		return KindText
	}
}

// Attribute is a user-declared scalar column on an entity.
type Attribute struct {
	Name     string
	Type     AttributeType
	Default  Value
	HasDefault bool
	NotNull  bool
	Primary  bool
	Unique   bool
}

// validate rejects empty names and not_null attributes without a default.
func (a Attribute) validate() error {
	if a.Name == "" {
		return fmt.Errorf("model: attribute name must not be empty")
	}
	if a.NotNull && !a.HasDefault {
		return fmt.Errorf("model: attribute %q is not_null but declares no default", a.Name)
	}
	if a.HasDefault && a.Default.Kind() != a.Type.ValueKindFor() && a.Default.Kind() != KindNull {
		return fmt.Errorf("model: attribute %q default kind %s does not match declared type %s", a.Name, a.Default.Kind(), a.Type)
	}
	return nil
}

// ZeroDefault returns the declared default, or the type's null, for use
// when an attribute is absent from an incoming object.
func (a Attribute) ZeroDefault() Value {
	if a.HasDefault {
		return a.Default
	}
	return Null
}
