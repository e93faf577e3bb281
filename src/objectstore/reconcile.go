package objectstore

import (
	"fmt"

	"stratadb/src/models"
	"stratadb/src/storage"
)

func columnTypeForProperty(t models.PropertyType) storage.ColumnType {
	switch t {
	case models.TypeInt:
		return storage.ColInt
	case models.TypeBool:
		return storage.ColBool
	case models.TypeFloat:
		return storage.ColFloat
	case models.TypeString:
		return storage.ColString
	case models.TypeData:
		return storage.ColData
	case models.TypeDate:
		return storage.ColDate
	case models.TypeObject:
		return storage.ColLink
	case models.TypeArray:
		return storage.ColLinkList
	default:
		return storage.ColAny
	}
}

func propertyTypeForColumn(t storage.ColumnType) models.PropertyType {
	switch t {
	case storage.ColInt:
		return models.TypeInt
	case storage.ColBool:
		return models.TypeBool
	case storage.ColFloat:
		return models.TypeFloat
	case storage.ColString:
		return models.TypeString
	case storage.ColData:
		return models.TypeData
	case storage.ColDate:
		return models.TypeDate
	case storage.ColLink:
		return models.TypeObject
	case storage.ColLinkList:
		return models.TypeArray
	default:
		return models.TypeAny
	}
}

// ValidateSchema verifies one object type against its persisted table
// without mutating anything, resolving column positions on success.
// All problems are reported together as a *SchemaValidationError.
func (s *Store) ValidateSchema(g storage.Group, objectSchema *models.ObjectSchema) error {
	if problems := s.validateAndMapColumns(g, objectSchema); len(problems) > 0 {
		return &SchemaValidationError{ObjectType: objectSchema.Name, Problems: problems}
	}
	return nil
}

// validateAndMapColumns is the validate-only reconcile: every declared
// property must match a persisted column and vice versa. Column
// positions are assigned only when no problem was found, so a failed
// validation leaves the schema unannotated.
func (s *Store) validateAndMapColumns(g storage.Group, objectSchema *models.ObjectSchema) []string {
	problems := objectSchema.Validate()
	if len(problems) > 0 {
		return problems
	}

	table, err := s.TableForObjectType(g, objectSchema.Name)
	if err != nil {
		problems = append(problems, fmt.Sprintf("Missing table for object type '%s'", objectSchema.Name))
		for _, prop := range objectSchema.Properties {
			problems = append(problems, fmt.Sprintf("Property '%s' is missing from the persisted table", prop.Name))
		}
		return problems
	}

	positions := make(map[*models.Property]int, len(objectSchema.Properties))
	matched := make(map[int]bool, table.ColumnCount())
	for _, prop := range objectSchema.Properties {
		col, found := table.FindColumn(prop.Name)
		if !found {
			problems = append(problems, fmt.Sprintf("Property '%s' is missing from the persisted table", prop.Name))
			continue
		}
		matched[col] = true
		problems = append(problems, s.checkColumn(table, col, prop)...)
		positions[prop] = col
	}

	for col := 0; col < table.ColumnCount(); col++ {
		if !matched[col] {
			problems = append(problems, fmt.Sprintf("Persisted column '%s' has no matching property", table.ColumnName(col)))
		}
	}

	if len(problems) > 0 {
		return problems
	}
	for prop, col := range positions {
		prop.TableColumn = col
	}
	return nil
}

// checkColumn verifies a name-matched property/column pair.
func (s *Store) checkColumn(table storage.Table, col int, prop *models.Property) []string {
	var problems []string

	declared := columnTypeForProperty(prop.Type)
	persisted := table.ColumnType(col)
	if declared != persisted {
		problems = append(problems, fmt.Sprintf("Property '%s' of type '%s' does not match persisted column of type '%s'",
			prop.Name, prop.Type, propertyTypeForColumn(persisted)))
		return problems
	}

	if prop.Type.IsLink() {
		target := ObjectTypeForTableName(table.LinkTarget(col))
		if target != prop.ObjectType {
			problems = append(problems, fmt.Sprintf("Property '%s' links to object type '%s' but persisted column targets '%s'",
				prop.Name, prop.ObjectType, target))
		}
	} else if table.ColumnNullable(col) != prop.Nullable {
		problems = append(problems, fmt.Sprintf("Property '%s' nullability does not match the persisted column", prop.Name))
	}

	return problems
}

// reconcileTable is the update-existing reconcile used by migration:
// missing columns are appended, obsolete persisted columns are kept in
// place, index state is synchronized, and the recorded primary key is
// compared against the declared one. Runs inside the migration write
// transaction; a non-empty problem list aborts the whole transaction
// at the caller.
func (s *Store) reconcileTable(g storage.Group, objectSchema *models.ObjectSchema) (bool, []string, error) {
	if problems := objectSchema.Validate(); len(problems) > 0 {
		return false, problems, nil
	}

	table, err := s.TableForObjectType(g, objectSchema.Name)
	if err != nil {
		return false, nil, err
	}

	changed := false
	var problems []string
	positions := make(map[*models.Property]int, len(objectSchema.Properties))

	for _, prop := range objectSchema.Properties {
		col, found := table.FindColumn(prop.Name)
		if !found {
			col, err = s.addColumnForProperty(table, prop)
			if err != nil {
				return false, nil, err
			}
			changed = true
		} else if mismatches := s.checkColumn(table, col, prop); len(mismatches) > 0 {
			problems = append(problems, mismatches...)
			continue
		}
		positions[prop] = col
	}

	// Synchronize index state with the declared flags. Obsolete
	// columns keep whatever index they have.
	for prop, col := range positions {
		if table.HasSearchIndex(col) == prop.Indexed {
			continue
		}
		if prop.Indexed && !prop.Type.IsIndexable() {
			problems = append(problems, fmt.Sprintf("Property '%s' of type '%s' cannot be indexed", prop.Name, prop.Type))
			continue
		}
		if err := table.SetSearchIndex(col, prop.Indexed); err != nil {
			return false, nil, err
		}
		changed = true
	}

	if len(problems) > 0 {
		return false, problems, nil
	}

	// Record the declared primary key when it differs from the stored
	// one. Existing rows are not re-keyed here; callers remap rows
	// from the migration callback where table access is available.
	oldKey := s.PrimaryKeyForObject(g, objectSchema.Name)
	if oldKey != objectSchema.PrimaryKey {
		if err := s.setPrimaryKeyForObject(g, objectSchema.Name, objectSchema.PrimaryKey); err != nil {
			return false, nil, err
		}
		changed = true
	}

	for prop, col := range positions {
		prop.TableColumn = col
	}
	return changed, nil, nil
}

func (s *Store) addColumnForProperty(table storage.Table, prop *models.Property) (int, error) {
	if prop.Type.IsLink() {
		return table.AddLinkColumn(columnTypeForProperty(prop.Type), prop.Name, TableNameForObjectType(prop.ObjectType))
	}
	return table.AddColumn(columnTypeForProperty(prop.Type), prop.Name, prop.Nullable)
}
