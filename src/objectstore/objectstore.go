package objectstore

import (
	"fmt"
	"strings"

	"stratadb/src/models"
	"stratadb/src/storage"

	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// Reserved metadata layout. One table records the global schema
// version, one records the primary key property per object type.
const (
	metadataTableName = "metadata"
	versionColumnName = "version"
	versionColumnIdx  = 0

	primaryKeyTableName      = "pk"
	primaryKeyTypeColumnName = "pk_table"
	primaryKeyTypeColumnIdx  = 0
	primaryKeyPropColumnName = "pk_property"
	primaryKeyPropColumnIdx  = 1

	tableNamePrefix = "class_"
)

// NotVersioned is the schema version of a file that predates any
// schema: metadata tables absent, or the seeded sentinel value.
const NotVersioned = ^uint64(0)

// MigrationFunc runs inside the migration write transaction with full
// read/write access to the structurally updated tables.
type MigrationFunc func(group storage.Group) error

// Store drives schema reconciliation and versioned migration against a
// group.
type Store struct {
	logger *zap.SugaredLogger
}

// NewStore creates a new object store service
func NewStore(logger *zap.SugaredLogger) *Store {
	return &Store{logger: logger}
}

// TableNameForObjectType returns the persisted table name backing an
// object type.
func TableNameForObjectType(objectType string) string {
	return tableNamePrefix + objectType
}

// ObjectTypeForTableName returns the object type persisted under a
// table name, or "" for reserved tables.
func ObjectTypeForTableName(tableName string) string {
	if !strings.HasPrefix(tableName, tableNamePrefix) {
		return ""
	}
	return strings.TrimPrefix(tableName, tableNamePrefix)
}

// TableForObjectType resolves the table backing an object type.
func (s *Store) TableForObjectType(g storage.Group, objectType string) (storage.Table, error) {
	return g.Table(TableNameForObjectType(objectType))
}

func (s *Store) tableForObjectTypeCreateIfNeeded(g storage.Group, objectType string) (storage.Table, bool, error) {
	return g.GetOrCreateTable(TableNameForObjectType(objectType))
}

// SchemaVersion returns the stored schema version of the group, or
// NotVersioned when the file has none recorded.
func (s *Store) SchemaVersion(g storage.Group) uint64 {
	table, err := g.Table(metadataTableName)
	if err != nil {
		return NotVersioned
	}
	if table.ColumnCount() == 0 || table.RowCount() == 0 {
		return NotVersioned
	}
	v, ok := table.Get(0, versionColumnIdx).(int64)
	if !ok {
		return NotVersioned
	}
	return uint64(v)
}

func (s *Store) setSchemaVersion(g storage.Group, version uint64) error {
	table, err := g.Table(metadataTableName)
	if err != nil {
		return err
	}
	return table.Set(0, versionColumnIdx, int64(version))
}

func (s *Store) hasMetadataTables(g storage.Group) bool {
	return g.HasTable(primaryKeyTableName) && g.HasTable(metadataTableName)
}

// CreateMetadataTables creates the reserved metadata tables when
// absent. Idempotent; must run inside a write transaction. It reports
// whether anything was created.
func (s *Store) CreateMetadataTables(g storage.Group) (bool, error) {
	changed := false

	table, _, err := g.GetOrCreateTable(primaryKeyTableName)
	if err != nil {
		return false, fmt.Errorf("error creating primary key table: %w", err)
	}
	if table.ColumnCount() == 0 {
		if _, err := table.AddColumn(storage.ColString, primaryKeyTypeColumnName, false); err != nil {
			return false, err
		}
		if _, err := table.AddColumn(storage.ColString, primaryKeyPropColumnName, false); err != nil {
			return false, err
		}
		changed = true
	}

	table, _, err = g.GetOrCreateTable(metadataTableName)
	if err != nil {
		return false, fmt.Errorf("error creating metadata table: %w", err)
	}
	if table.ColumnCount() == 0 {
		if _, err := table.AddColumn(storage.ColInt, versionColumnName, false); err != nil {
			return false, err
		}
		row, err := table.AddRow()
		if err != nil {
			return false, err
		}
		// seed the unversioned sentinel
		unversioned := uint64(NotVersioned)
		if err := table.Set(row, versionColumnIdx, int64(unversioned)); err != nil {
			return false, err
		}
		changed = true
	}

	return changed, nil
}

// PrimaryKeyForObject returns the recorded primary key property name
// for an object type, or "".
func (s *Store) PrimaryKeyForObject(g storage.Group, objectType string) string {
	table, err := g.Table(primaryKeyTableName)
	if err != nil {
		return ""
	}
	row, found := table.FindFirstString(primaryKeyTypeColumnIdx, objectType)
	if !found {
		return ""
	}
	pk, _ := table.Get(row, primaryKeyPropColumnIdx).(string)
	return pk
}

func (s *Store) setPrimaryKeyForObject(g storage.Group, objectType, primaryKey string) error {
	table, err := g.Table(primaryKeyTableName)
	if err != nil {
		return err
	}

	row, found := table.FindFirstString(primaryKeyTypeColumnIdx, objectType)
	if !found {
		if primaryKey == "" {
			return nil
		}
		row, err = table.AddRow()
		if err != nil {
			return err
		}
		if err := table.Set(row, primaryKeyTypeColumnIdx, objectType); err != nil {
			return err
		}
	}

	// clear removes the row, anything else updates it
	if primaryKey == "" {
		return table.RemoveRow(row)
	}
	return table.Set(row, primaryKeyPropColumnIdx, primaryKey)
}

// UpdateWithSchema brings the group's structure and stored version up
// to the target schema/version pair, running the migration callback
// when the stored version is behind. It must be called inside a write
// transaction; the caller commits on success and rolls back on error,
// so no failure leaves partial changes behind. It reports whether any
// structural or version change was made.
//
// The target schema is annotated with resolved column positions in
// every successful path, including the fast path where the file is
// already current.
func (s *Store) UpdateWithSchema(g storage.Group, version uint64, schema *models.Schema, migration MigrationFunc) (bool, error) {
	if !g.InTransaction() {
		return false, storage.ErrNotInTransaction
	}

	changed, err := s.CreateMetadataTables(g)
	if err != nil {
		return false, err
	}

	oldVersion := s.SchemaVersion(g)
	if oldVersion == version && !changed {
		// Already current: a clean validation pass resolves column
		// positions without structural writes or the callback.
		var verr error
		for _, objectSchema := range schema.Objects {
			if problems := s.validateAndMapColumns(g, objectSchema); len(problems) > 0 {
				verr = multierr.Append(verr, &SchemaValidationError{ObjectType: objectSchema.Name, Problems: problems})
			}
		}
		if verr != nil {
			return false, verr
		}
		return false, nil
	}
	if oldVersion != NotVersioned && oldVersion > version {
		return false, &VersionRegressionError{Stored: oldVersion, Target: version}
	}

	tablesChanged, err := s.createTables(g, schema)
	if err != nil {
		return false, err
	}
	changed = changed || tablesChanged

	if migration != nil && (oldVersion == NotVersioned || oldVersion < version) {
		s.logger.Infof("Running migration for %s from version %d to %d", g.Path(), oldVersion, version)
		if err := migration(g); err != nil {
			return false, fmt.Errorf("migration from version %d to %d failed: %w", oldVersion, version, err)
		}
	}

	if oldVersion != version {
		if err := s.setSchemaVersion(g, version); err != nil {
			return false, err
		}
		changed = true
	}

	return changed, nil
}

// createTables creates or updates the table of every object type in
// update-existing mode. Tables are all created before any columns so
// link columns can resolve their targets.
func (s *Store) createTables(g storage.Group, schema *models.Schema) (bool, error) {
	changed := false
	created := make(map[string]bool, len(schema.Objects))

	for _, objectSchema := range schema.Objects {
		_, wasCreated, err := s.tableForObjectTypeCreateIfNeeded(g, objectSchema.Name)
		if err != nil {
			return false, err
		}
		if wasCreated {
			s.logger.Debugf("Created table for object type '%s'", objectSchema.Name)
			created[objectSchema.Name] = true
			changed = true
		}
	}

	var verr error
	for _, objectSchema := range schema.Objects {
		tableChanged, problems, err := s.reconcileTable(g, objectSchema)
		if err != nil {
			return false, err
		}
		if len(problems) > 0 {
			verr = multierr.Append(verr, &SchemaValidationError{ObjectType: objectSchema.Name, Problems: problems})
			continue
		}
		changed = changed || tableChanged || created[objectSchema.Name]
	}
	if verr != nil {
		return false, verr
	}

	return changed, nil
}
