package objectstore

import (
	"errors"
	"testing"

	"stratadb/src/models"
	"stratadb/src/storage"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

func testStore() *Store {
	return NewStore(zap.NewNop().Sugar())
}

func testGroup(t *testing.T) storage.Group {
	t.Helper()
	eng := storage.NewEngine(zap.NewNop().Sugar())
	g, err := eng.Open(storage.GroupConfig{Path: t.Name(), InMemory: true})
	require.NoError(t, err)
	return g
}

func personSchema() *models.Schema {
	return models.NewSchema(&models.ObjectSchema{
		Name:       "Person",
		PrimaryKey: "id",
		Properties: []*models.Property{
			{Name: "id", Type: models.TypeInt},
			{Name: "name", Type: models.TypeString},
		},
	})
}

// migrate runs UpdateWithSchema inside a write transaction, committing
// on success and rolling back on failure, the way the lifecycle layer
// drives it.
func migrate(t *testing.T, store *Store, g storage.Group, version uint64, schema *models.Schema, fn MigrationFunc) (bool, error) {
	t.Helper()
	require.NoError(t, g.BeginWrite())
	changed, err := store.UpdateWithSchema(g, version, schema, fn)
	if err != nil {
		require.NoError(t, g.Rollback())
		return false, err
	}
	if changed {
		require.NoError(t, g.Commit())
	} else {
		require.NoError(t, g.Rollback())
	}
	return changed, nil
}

func TestUpdateWithSchema_CreatesTablesInDeclaredOrder(t *testing.T) {
	g := testGroup(t)
	store := testStore()
	schema := personSchema()

	changed, err := migrate(t, store, g, 1, schema, nil)
	require.NoError(t, err)
	assert.True(t, changed)

	table, err := store.TableForObjectType(g, "Person")
	require.NoError(t, err)
	require.Equal(t, 2, table.ColumnCount())
	assert.Equal(t, "id", table.ColumnName(0))
	assert.Equal(t, "name", table.ColumnName(1))

	person := schema.Find("Person")
	assert.Equal(t, 0, person.PropertyForName("id").TableColumn)
	assert.Equal(t, 1, person.PropertyForName("name").TableColumn)

	assert.Equal(t, "id", store.PrimaryKeyForObject(g, "Person"))
	assert.Equal(t, uint64(1), store.SchemaVersion(g))
}

func TestUpdateWithSchema_Idempotent(t *testing.T) {
	g := testGroup(t)
	store := testStore()

	first := personSchema()
	changed, err := migrate(t, store, g, 1, first, nil)
	require.NoError(t, err)
	require.True(t, changed)

	// the second run is a fast read-only pass with identical mapping
	second := personSchema()
	changed, err = migrate(t, store, g, 1, second, nil)
	require.NoError(t, err)
	assert.False(t, changed)

	for _, objectSchema := range second.Objects {
		for _, prop := range objectSchema.Properties {
			expected := first.Find(objectSchema.Name).PropertyForName(prop.Name).TableColumn
			assert.Equal(t, expected, prop.TableColumn)
		}
	}
}

func TestUpdateWithSchema_ResolvesEveryColumnPosition(t *testing.T) {
	g := testGroup(t)
	store := testStore()

	schema := models.NewSchema(
		&models.ObjectSchema{
			Name:       "Person",
			PrimaryKey: "id",
			Properties: []*models.Property{
				{Name: "id", Type: models.TypeInt},
				{Name: "name", Type: models.TypeString, Indexed: true},
				{Name: "birthday", Type: models.TypeDate, Nullable: true},
			},
		},
		&models.ObjectSchema{
			Name: "Dog",
			Properties: []*models.Property{
				{Name: "name", Type: models.TypeString},
				{Name: "owner", Type: models.TypeObject, ObjectType: "Person"},
				{Name: "toys", Type: models.TypeArray, ObjectType: "Dog"},
			},
		},
	)

	changed, err := migrate(t, store, g, 1, schema, nil)
	require.NoError(t, err)
	require.True(t, changed)

	for _, objectSchema := range schema.Objects {
		for _, prop := range objectSchema.Properties {
			assert.NotEqual(t, models.ColumnUnresolved, prop.TableColumn,
				"property %s.%s not resolved", objectSchema.Name, prop.Name)
		}
	}

	dogs, err := store.TableForObjectType(g, "Dog")
	require.NoError(t, err)
	owner := schema.Find("Dog").PropertyForName("owner")
	assert.Equal(t, "class_Person", dogs.LinkTarget(owner.TableColumn))

	people, err := store.TableForObjectType(g, "Person")
	require.NoError(t, err)
	name := schema.Find("Person").PropertyForName("name")
	assert.True(t, people.HasSearchIndex(name.TableColumn))
}

func TestUpdateWithSchema_VersionRegression(t *testing.T) {
	g := testGroup(t)
	store := testStore()

	_, err := migrate(t, store, g, 2, personSchema(), nil)
	require.NoError(t, err)

	_, err = migrate(t, store, g, 1, personSchema(), nil)
	require.Error(t, err)

	var regression *VersionRegressionError
	require.True(t, errors.As(err, &regression))
	assert.Equal(t, uint64(2), regression.Stored)
	assert.Equal(t, uint64(1), regression.Target)

	// the stored version is untouched
	assert.Equal(t, uint64(2), store.SchemaVersion(g))
}

func TestUpdateWithSchema_MissingPrimaryKeyProperty(t *testing.T) {
	g := testGroup(t)
	store := testStore()

	schema := models.NewSchema(&models.ObjectSchema{
		Name:       "Person",
		PrimaryKey: "uuid",
		Properties: []*models.Property{
			{Name: "id", Type: models.TypeInt},
		},
	})

	_, err := migrate(t, store, g, 1, schema, nil)
	require.Error(t, err)

	var verr *SchemaValidationError
	require.True(t, errors.As(err, &verr))
	assert.Equal(t, "Person", verr.ObjectType)
	require.Len(t, verr.Problems, 1)
	assert.Contains(t, verr.Problems[0], "uuid")
}

func TestUpdateWithSchema_AppendsMissingColumns(t *testing.T) {
	g := testGroup(t)
	store := testStore()

	_, err := migrate(t, store, g, 1, personSchema(), nil)
	require.NoError(t, err)

	grown := models.NewSchema(&models.ObjectSchema{
		Name:       "Person",
		PrimaryKey: "id",
		Properties: []*models.Property{
			{Name: "id", Type: models.TypeInt},
			{Name: "name", Type: models.TypeString},
			{Name: "email", Type: models.TypeString, Nullable: true},
		},
	})

	changed, err := migrate(t, store, g, 2, grown, nil)
	require.NoError(t, err)
	assert.True(t, changed)

	// appended after the existing columns
	assert.Equal(t, 2, grown.Find("Person").PropertyForName("email").TableColumn)
	assert.Equal(t, uint64(2), store.SchemaVersion(g))
}

func TestUpdateWithSchema_ToleratesObsoleteColumns(t *testing.T) {
	g := testGroup(t)
	store := testStore()

	_, err := migrate(t, store, g, 1, personSchema(), nil)
	require.NoError(t, err)

	shrunk := models.NewSchema(&models.ObjectSchema{
		Name:       "Person",
		PrimaryKey: "id",
		Properties: []*models.Property{
			{Name: "id", Type: models.TypeInt},
		},
	})

	_, err = migrate(t, store, g, 2, shrunk, nil)
	require.NoError(t, err)

	// the obsolete column is kept in place, not dropped
	table, err := store.TableForObjectType(g, "Person")
	require.NoError(t, err)
	assert.Equal(t, 2, table.ColumnCount())

	// but validate-only mode reports it
	err = store.ValidateSchema(g, shrunk.Find("Person").Copy())
	require.Error(t, err)
	var verr *SchemaValidationError
	require.True(t, errors.As(err, &verr))
	require.Len(t, verr.Problems, 1)
	assert.Contains(t, verr.Problems[0], "no matching property")
}

func TestUpdateWithSchema_TypeMismatch(t *testing.T) {
	g := testGroup(t)
	store := testStore()

	_, err := migrate(t, store, g, 1, personSchema(), nil)
	require.NoError(t, err)

	retyped := models.NewSchema(&models.ObjectSchema{
		Name:       "Person",
		PrimaryKey: "id",
		Properties: []*models.Property{
			{Name: "id", Type: models.TypeInt},
			{Name: "name", Type: models.TypeInt},
		},
	})

	_, err = migrate(t, store, g, 2, retyped, nil)
	require.Error(t, err)

	var verr *SchemaValidationError
	require.True(t, errors.As(err, &verr))
	require.Len(t, verr.Problems, 1)
	assert.Contains(t, verr.Problems[0], "'name'")

	// rolled back: stored version and structure are untouched
	assert.Equal(t, uint64(1), store.SchemaVersion(g))
}

func TestUpdateWithSchema_CollectsErrorsAcrossTypes(t *testing.T) {
	g := testGroup(t)
	store := testStore()

	schema := models.NewSchema(
		&models.ObjectSchema{
			Name:       "Person",
			PrimaryKey: "uuid",
			Properties: []*models.Property{{Name: "id", Type: models.TypeInt}},
		},
		&models.ObjectSchema{
			Name:       "Dog",
			PrimaryKey: "tag",
			Properties: []*models.Property{{Name: "name", Type: models.TypeString}},
		},
	)

	_, err := migrate(t, store, g, 1, schema, nil)
	require.Error(t, err)

	errs := multierr.Errors(err)
	require.Len(t, errs, 2)
}

func TestUpdateWithSchema_IndexSync(t *testing.T) {
	g := testGroup(t)
	store := testStore()

	_, err := migrate(t, store, g, 1, personSchema(), nil)
	require.NoError(t, err)

	indexed := personSchema()
	indexed.Find("Person").PropertyForName("name").Indexed = true
	changed, err := migrate(t, store, g, 2, indexed, nil)
	require.NoError(t, err)
	assert.True(t, changed)

	table, err := store.TableForObjectType(g, "Person")
	require.NoError(t, err)
	assert.True(t, table.HasSearchIndex(1))

	// dropping the flag removes the index on the next migration
	changed, err = migrate(t, store, g, 3, personSchema(), nil)
	require.NoError(t, err)
	assert.True(t, changed)
	table, err = store.TableForObjectType(g, "Person")
	require.NoError(t, err)
	assert.False(t, table.HasSearchIndex(1))
}

func TestUpdateWithSchema_IndexOnNonIndexableType(t *testing.T) {
	g := testGroup(t)
	store := testStore()

	schema := models.NewSchema(&models.ObjectSchema{
		Name: "Attachment",
		Properties: []*models.Property{
			{Name: "payload", Type: models.TypeData, Indexed: true},
		},
	})

	_, err := migrate(t, store, g, 1, schema, nil)
	require.Error(t, err)

	var verr *SchemaValidationError
	require.True(t, errors.As(err, &verr))
	require.Len(t, verr.Problems, 1)
	assert.Contains(t, verr.Problems[0], "cannot be indexed")
}

func TestUpdateWithSchema_MigrationCallback(t *testing.T) {
	g := testGroup(t)
	store := testStore()

	_, err := migrate(t, store, g, 1, personSchema(), nil)
	require.NoError(t, err)

	// the callback sees the structurally updated tables and has write
	// access inside the same transaction
	ran := false
	_, err = migrate(t, store, g, 2, personSchema(), func(group storage.Group) error {
		ran = true
		table, err := store.TableForObjectType(group, "Person")
		if err != nil {
			return err
		}
		row, err := table.AddRow()
		if err != nil {
			return err
		}
		return table.Set(row, 0, int64(7))
	})
	require.NoError(t, err)
	assert.True(t, ran)

	table, err := store.TableForObjectType(g, "Person")
	require.NoError(t, err)
	assert.Equal(t, 1, table.RowCount())
	assert.Equal(t, int64(7), table.Get(0, 0))
}

func TestUpdateWithSchema_MigrationCallbackSkippedWhenCurrent(t *testing.T) {
	g := testGroup(t)
	store := testStore()

	_, err := migrate(t, store, g, 1, personSchema(), nil)
	require.NoError(t, err)

	_, err = migrate(t, store, g, 1, personSchema(), func(storage.Group) error {
		t.Fatal("migration callback ran on an already-current file")
		return nil
	})
	require.NoError(t, err)
}

func TestUpdateWithSchema_MigrationCallbackFailureAborts(t *testing.T) {
	g := testGroup(t)
	store := testStore()

	_, err := migrate(t, store, g, 1, personSchema(), nil)
	require.NoError(t, err)

	boom := errors.New("boom")
	_, err = migrate(t, store, g, 2, personSchema(), func(storage.Group) error {
		return boom
	})
	require.ErrorIs(t, err, boom)

	// file is left at its pre-migration version
	assert.Equal(t, uint64(1), store.SchemaVersion(g))
}

func TestUpdateWithSchema_RequiresWriteTransaction(t *testing.T) {
	g := testGroup(t)
	store := testStore()

	_, err := store.UpdateWithSchema(g, 1, personSchema(), nil)
	assert.ErrorIs(t, err, storage.ErrNotInTransaction)
}

func TestCreateMetadataTables_Idempotent(t *testing.T) {
	g := testGroup(t)
	store := testStore()

	require.NoError(t, g.BeginWrite())
	changed, err := store.CreateMetadataTables(g)
	require.NoError(t, err)
	assert.True(t, changed)

	// freshly seeded files are unversioned
	assert.Equal(t, NotVersioned, store.SchemaVersion(g))

	changed, err = store.CreateMetadataTables(g)
	require.NoError(t, err)
	assert.False(t, changed)
	require.NoError(t, g.Commit())
}

func TestSchemaVersion_Unversioned(t *testing.T) {
	g := testGroup(t)
	store := testStore()
	assert.Equal(t, NotVersioned, store.SchemaVersion(g))
}

func TestPrimaryKeyMetadata_UpdateAndClear(t *testing.T) {
	g := testGroup(t)
	store := testStore()

	_, err := migrate(t, store, g, 1, personSchema(), nil)
	require.NoError(t, err)
	require.Equal(t, "id", store.PrimaryKeyForObject(g, "Person"))

	// clearing the declared primary key removes the metadata row
	unkeyed := models.NewSchema(&models.ObjectSchema{
		Name: "Person",
		Properties: []*models.Property{
			{Name: "id", Type: models.TypeInt},
			{Name: "name", Type: models.TypeString},
		},
	})
	changed, err := migrate(t, store, g, 2, unkeyed, nil)
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, "", store.PrimaryKeyForObject(g, "Person"))
}

func TestSchemaFromGroup_RoundTrip(t *testing.T) {
	g := testGroup(t)
	store := testStore()

	declared := models.NewSchema(
		&models.ObjectSchema{
			Name:       "Person",
			PrimaryKey: "id",
			Properties: []*models.Property{
				{Name: "id", Type: models.TypeInt},
				{Name: "name", Type: models.TypeString, Indexed: true},
			},
		},
		&models.ObjectSchema{
			Name: "Dog",
			Properties: []*models.Property{
				{Name: "owner", Type: models.TypeObject, ObjectType: "Person"},
			},
		},
	)
	_, err := migrate(t, store, g, 1, declared, nil)
	require.NoError(t, err)

	derived, err := store.SchemaFromGroup(g)
	require.NoError(t, err)
	require.Len(t, derived.Objects, 2)

	person := derived.Find("Person")
	require.NotNil(t, person)
	assert.Equal(t, "id", person.PrimaryKey)
	assert.True(t, person.PropertyForName("id").Primary)
	assert.True(t, person.PropertyForName("name").Indexed)
	assert.Equal(t, 0, person.PropertyForName("id").TableColumn)

	dog := derived.Find("Dog")
	require.NotNil(t, dog)
	owner := dog.PropertyForName("owner")
	require.NotNil(t, owner)
	assert.Equal(t, models.TypeObject, owner.Type)
	assert.Equal(t, "Person", owner.ObjectType)
}

func TestTableNames(t *testing.T) {
	assert.Equal(t, "class_Person", TableNameForObjectType("Person"))
	assert.Equal(t, "Person", ObjectTypeForTableName("class_Person"))
	assert.Equal(t, "", ObjectTypeForTableName("metadata"))
	assert.Equal(t, "", ObjectTypeForTableName("pk"))
}
