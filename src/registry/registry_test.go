package registry

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// fakeInstance is a minimal OpenInstance for cache tests.
type fakeInstance struct {
	id       string
	path     string
	readOnly bool
	gid      uint64
	notified int
}

func (f *fakeInstance) ID() string          { return f.id }
func (f *fakeInstance) Path() string        { return f.path }
func (f *fakeInstance) ReadOnly() bool      { return f.readOnly }
func (f *fakeInstance) InMemory() bool      { return false }
func (f *fakeInstance) Dynamic() bool       { return false }
func (f *fakeInstance) GoroutineID() uint64 { return f.gid }
func (f *fakeInstance) NotifyChange()       { f.notified++ }

func testRegistry(opts ...Option) *Registry {
	return NewRegistry(zap.NewNop().Sugar(), opts...)
}

func TestEncryptionKey_RoundTrip(t *testing.T) {
	reg := testRegistry()

	assert.Nil(t, reg.KeyForPath("a.strata"))

	require.NoError(t, reg.SetEncryptionKey("a.strata", []byte("key")))
	assert.Equal(t, []byte("key"), reg.KeyForPath("a.strata"))

	// returned keys are copies
	reg.KeyForPath("a.strata")[0] = 'x'
	assert.Equal(t, []byte("key"), reg.KeyForPath("a.strata"))
}

func TestEncryptionKey_CannotChangeUnderLiveInstances(t *testing.T) {
	reg := testRegistry()
	require.NoError(t, reg.SetEncryptionKey("a.strata", []byte("key")))

	reg.Register(&fakeInstance{id: "1", path: "a.strata", gid: 1})

	err := reg.SetEncryptionKey("a.strata", []byte("other"))
	assert.ErrorIs(t, err, ErrKeyInUse)

	// re-registering the same key is fine
	assert.NoError(t, reg.SetEncryptionKey("a.strata", []byte("key")))

	// and a first-time key under live instances conflicts too: they
	// opened the file in plaintext
	reg.Register(&fakeInstance{id: "2", path: "b.strata", gid: 1})
	assert.ErrorIs(t, reg.SetEncryptionKey("b.strata", []byte("key")), ErrKeyInUse)
}

func TestEncryptionDisabled_OverridesKeys(t *testing.T) {
	reg := testRegistry(WithEncryptionDisabled())
	require.NoError(t, reg.SetEncryptionKey("a.strata", []byte("key")))

	assert.True(t, reg.EncryptionDisabled())
	assert.Nil(t, reg.KeyForPath("a.strata"))
}

func TestSchemaVersion_DefaultsToZero(t *testing.T) {
	reg := testRegistry()
	version, migration := reg.SchemaVersionForPath("a.strata")
	assert.Equal(t, uint64(0), version)
	assert.Nil(t, migration)
}

func TestSchemaVersion_CannotChangeUnderLiveInstances(t *testing.T) {
	reg := testRegistry()
	require.NoError(t, reg.SetSchemaVersion("a.strata", 2, nil))

	reg.Register(&fakeInstance{id: "1", path: "a.strata", gid: 1})

	assert.ErrorIs(t, reg.SetSchemaVersion("a.strata", 3, nil), ErrVersionInUse)
	assert.NoError(t, reg.SetSchemaVersion("a.strata", 2, nil))

	version, _ := reg.SchemaVersionForPath("a.strata")
	assert.Equal(t, uint64(2), version)
}

func TestInstanceCache_PerGoroutineLookup(t *testing.T) {
	reg := testRegistry()
	a := &fakeInstance{id: "a", path: "x.strata", gid: 1}
	b := &fakeInstance{id: "b", path: "x.strata", gid: 2}
	reg.Register(a)
	reg.Register(b)

	assert.Equal(t, a, reg.CachedInstance("x.strata", 1))
	assert.Equal(t, b, reg.CachedInstance("x.strata", 2))
	assert.Nil(t, reg.CachedInstance("x.strata", 3))
	assert.Nil(t, reg.CachedInstance("y.strata", 1))

	assert.Len(t, reg.InstancesForPath("x.strata"), 2)

	reg.Unregister(a)
	assert.Nil(t, reg.CachedInstance("x.strata", 1))
	assert.Len(t, reg.InstancesForPath("x.strata"), 1)
}

func TestReset_ClearsEverything(t *testing.T) {
	reg := testRegistry()
	require.NoError(t, reg.SetEncryptionKey("a.strata", []byte("key")))
	require.NoError(t, reg.SetSchemaVersion("a.strata", 5, nil))
	reg.Register(&fakeInstance{id: "1", path: "a.strata", gid: 1})

	reg.Reset()

	assert.Nil(t, reg.KeyForPath("a.strata"))
	version, _ := reg.SchemaVersionForPath("a.strata")
	assert.Equal(t, uint64(0), version)
	assert.Empty(t, reg.InstancesForPath("a.strata"))
}
