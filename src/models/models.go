package models

import "fmt"

// PropertyType is the semantic type of one property of an object type.
type PropertyType int

const (
	TypeInt PropertyType = iota
	TypeBool
	TypeFloat
	TypeString
	TypeData
	TypeDate
	TypeAny

	// TypeObject is a link to a single object of another type.
	TypeObject

	// TypeArray is a list of links to objects of another type.
	TypeArray
)

// ColumnUnresolved marks a property whose table column has not been
// assigned by reconciliation yet. Reading or writing through an
// unresolved property is invalid.
const ColumnUnresolved = -1

func (t PropertyType) String() string {
	switch t {
	case TypeInt:
		return "int"
	case TypeBool:
		return "bool"
	case TypeFloat:
		return "float"
	case TypeString:
		return "string"
	case TypeData:
		return "data"
	case TypeDate:
		return "date"
	case TypeAny:
		return "any"
	case TypeObject:
		return "object"
	case TypeArray:
		return "array"
	}
	return fmt.Sprintf("unknown(%d)", int(t))
}

// IsLink reports whether the type refers to another object type.
func (t PropertyType) IsLink() bool {
	return t == TypeObject || t == TypeArray
}

// IsIndexable reports whether a search index can be placed on a column
// of this type.
func (t PropertyType) IsIndexable() bool {
	switch t {
	case TypeInt, TypeBool, TypeString, TypeDate:
		return true
	}
	return false
}

type Property struct {
	// Name is the name of the property, unique within its object type.
	Name string

	// Type is the semantic type of the property.
	Type PropertyType

	// ObjectType is the name of the target object type for link
	// properties, empty otherwise.
	ObjectType string

	// Nullable indicates whether the property may hold no value.
	Nullable bool

	// Indexed requests a search index on the backing column.
	Indexed bool

	// Primary marks the property as the primary key of its object type.
	Primary bool

	// TableColumn is the persisted column position resolved during
	// reconciliation, or ColumnUnresolved.
	TableColumn int
}

// Copy returns an independent copy of the property.
func (p *Property) Copy() *Property {
	c := *p
	return &c
}

type ObjectSchema struct {
	// Name is the name of the object type, unique within the schema.
	Name string

	// Properties is the ordered property list. Order is significant:
	// it matches persisted column order for tables created by this run.
	Properties []*Property

	// PrimaryKey is the name of the primary key property, empty if the
	// type has none.
	PrimaryKey string
}

// PropertyForName returns the property with the given name, or nil.
func (os *ObjectSchema) PropertyForName(name string) *Property {
	for _, prop := range os.Properties {
		if prop.Name == name {
			return prop
		}
	}
	return nil
}

// PrimaryKeyProperty returns the declared primary key property, or nil.
func (os *ObjectSchema) PrimaryKeyProperty() *Property {
	if os.PrimaryKey == "" {
		return nil
	}
	return os.PropertyForName(os.PrimaryKey)
}

// Validate checks the object schema's internal consistency and returns
// every problem found as a human-readable message.
func (os *ObjectSchema) Validate() []string {
	var errs []string

	seen := make(map[string]bool, len(os.Properties))
	primaries := 0
	for _, prop := range os.Properties {
		if seen[prop.Name] {
			errs = append(errs, fmt.Sprintf("Duplicate property '%s'", prop.Name))
		}
		seen[prop.Name] = true

		if prop.Primary {
			primaries++
			if prop.Name != os.PrimaryKey {
				errs = append(errs, fmt.Sprintf("Property '%s' is marked primary but primary key is '%s'", prop.Name, os.PrimaryKey))
			}
		}
		if prop.Type.IsLink() && prop.ObjectType == "" {
			errs = append(errs, fmt.Sprintf("Link property '%s' has no target object type", prop.Name))
		}
		if !prop.Type.IsLink() && prop.ObjectType != "" {
			errs = append(errs, fmt.Sprintf("Property '%s' of type %s must not have a target object type", prop.Name, prop.Type))
		}
	}
	if primaries > 1 {
		errs = append(errs, "At most one property may be marked primary")
	}

	if os.PrimaryKey != "" {
		pk := os.PropertyForName(os.PrimaryKey)
		if pk == nil {
			errs = append(errs, fmt.Sprintf("No property matching primary key '%s'", os.PrimaryKey))
		} else if pk.Type != TypeInt && pk.Type != TypeString {
			errs = append(errs, fmt.Sprintf("Primary key property '%s' must be of type int or string", os.PrimaryKey))
		}
	}

	return errs
}

// Copy returns an independent deep copy of the object schema.
func (os *ObjectSchema) Copy() *ObjectSchema {
	c := &ObjectSchema{
		Name:       os.Name,
		PrimaryKey: os.PrimaryKey,
		Properties: make([]*Property, len(os.Properties)),
	}
	for i, prop := range os.Properties {
		c.Properties[i] = prop.Copy()
	}
	return c
}

// Schema is the whole object model: an ordered list of object types.
type Schema struct {
	Objects []*ObjectSchema
}

// NewSchema builds a schema from object types, marking each declared
// primary key property.
func NewSchema(objects ...*ObjectSchema) *Schema {
	s := &Schema{Objects: objects}
	for _, os := range s.Objects {
		for _, prop := range os.Properties {
			prop.TableColumn = ColumnUnresolved
			if os.PrimaryKey != "" && prop.Name == os.PrimaryKey {
				prop.Primary = true
			}
		}
	}
	return s
}

// Find returns the object schema with the given name, or nil.
func (s *Schema) Find(name string) *ObjectSchema {
	for _, os := range s.Objects {
		if os.Name == name {
			return os
		}
	}
	return nil
}

// Validate checks every object type plus schema-level uniqueness and
// link-target resolution.
func (s *Schema) Validate() []string {
	var errs []string
	seen := make(map[string]bool, len(s.Objects))
	for _, os := range s.Objects {
		if seen[os.Name] {
			errs = append(errs, fmt.Sprintf("Duplicate object type '%s'", os.Name))
		}
		seen[os.Name] = true
		errs = append(errs, os.Validate()...)
	}
	for _, os := range s.Objects {
		for _, prop := range os.Properties {
			if prop.Type.IsLink() && prop.ObjectType != "" && s.Find(prop.ObjectType) == nil {
				errs = append(errs, fmt.Sprintf("Property '%s.%s' links to missing object type '%s'", os.Name, prop.Name, prop.ObjectType))
			}
		}
	}
	return errs
}

// Copy returns an independent deep copy of the schema. Each instance
// holds its own copy so column resolution on one never disturbs
// another.
func (s *Schema) Copy() *Schema {
	c := &Schema{Objects: make([]*ObjectSchema, len(s.Objects))}
	for i, os := range s.Objects {
		c.Objects[i] = os.Copy()
	}
	return c
}
