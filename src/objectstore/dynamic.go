package objectstore

import (
	"fmt"

	"stratadb/src/models"
	"stratadb/src/storage"
)

// SchemaFromGroup derives the object model persisted in a group:
// one ObjectSchema per object table, reserved tables skipped. Used by
// dynamic opens that declare no schema of their own.
func (s *Store) SchemaFromGroup(g storage.Group) (*models.Schema, error) {
	var objects []*models.ObjectSchema
	for i := 0; i < g.TableCount(); i++ {
		objectType := ObjectTypeForTableName(g.TableName(i))
		if objectType == "" {
			continue
		}
		objectSchema, err := s.ObjectSchemaFromTable(g, objectType)
		if err != nil {
			return nil, err
		}
		objects = append(objects, objectSchema)
	}
	return &models.Schema{Objects: objects}, nil
}

// ObjectSchemaFromTable reads one object type's schema back out of its
// persisted table, with column positions resolved.
func (s *Store) ObjectSchemaFromTable(g storage.Group, objectType string) (*models.ObjectSchema, error) {
	table, err := s.TableForObjectType(g, objectType)
	if err != nil {
		return nil, fmt.Errorf("error resolving table for object type '%s': %w", objectType, err)
	}

	objectSchema := &models.ObjectSchema{Name: objectType}
	for col := 0; col < table.ColumnCount(); col++ {
		prop := &models.Property{
			Name:        table.ColumnName(col),
			Type:        propertyTypeForColumn(table.ColumnType(col)),
			Nullable:    table.ColumnNullable(col),
			Indexed:     table.HasSearchIndex(col),
			TableColumn: col,
		}
		if prop.Type.IsLink() {
			prop.ObjectType = ObjectTypeForTableName(table.LinkTarget(col))
		}
		objectSchema.Properties = append(objectSchema.Properties, prop)
	}

	primaryKey := s.PrimaryKeyForObject(g, objectType)
	if primaryKey != "" {
		prop := objectSchema.PropertyForName(primaryKey)
		if prop == nil {
			return nil, &SchemaValidationError{
				ObjectType: objectType,
				Problems:   []string{fmt.Sprintf("No property matching primary key '%s'", primaryKey)},
			}
		}
		prop.Primary = true
		objectSchema.PrimaryKey = primaryKey
	}

	return objectSchema, nil
}
