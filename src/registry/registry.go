package registry

import (
	"bytes"
	"fmt"
	"sync"

	"stratadb/src/objectstore"

	"go.uber.org/zap"
)

// OpenInstance is the registry's view of a live instance. The concrete
// type lives in src/instance; the registry only needs identity, open
// flags and the change-notification entry point.
type OpenInstance interface {
	ID() string
	Path() string
	ReadOnly() bool
	InMemory() bool
	Dynamic() bool
	GoroutineID() uint64

	// NotifyChange is invoked when a sibling instance on the same path
	// commits a write transaction.
	NotifyChange()
}

type versionEntry struct {
	version   uint64
	migration objectstore.MigrationFunc
}

// Registry is the process-wide, path-keyed registry of encryption
// keys, target schema versions with migration callbacks, and live
// instances. Each logical sub-map is guarded by its own mutex; Reset
// takes all three. Entries live for the process unless Reset.
type Registry struct {
	logger             *zap.SugaredLogger
	encryptionDisabled bool

	keyMu sync.Mutex
	keys  map[string][]byte

	versionMu sync.Mutex
	versions  map[string]versionEntry

	cacheMu   sync.Mutex
	instances map[string][]OpenInstance
}

type Option func(*Registry)

// WithEncryptionDisabled makes the registry report a nil key for every
// path, overriding registered keys. Process-start granularity: it can
// only be set at construction.
func WithEncryptionDisabled() Option {
	return func(r *Registry) { r.encryptionDisabled = true }
}

// NewRegistry creates a new instance registry
func NewRegistry(logger *zap.SugaredLogger, opts ...Option) *Registry {
	r := &Registry{
		logger:    logger,
		keys:      make(map[string][]byte),
		versions:  make(map[string]versionEntry),
		instances: make(map[string][]OpenInstance),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// EncryptionDisabled reports whether the process-wide encryption
// override is active.
func (r *Registry) EncryptionDisabled() bool {
	return r.encryptionDisabled
}

// SetEncryptionKey registers the canonical encryption key for a path.
// Changing the key under live instances is a usage error; keys are
// never swapped beneath an open file.
func (r *Registry) SetEncryptionKey(path string, key []byte) error {
	r.keyMu.Lock()
	defer r.keyMu.Unlock()

	if !bytes.Equal(r.keys[path], key) && r.hasInstances(path) {
		return fmt.Errorf("path %s: %w", path, ErrKeyInUse)
	}
	if key == nil {
		delete(r.keys, path)
		return nil
	}
	r.keys[path] = append([]byte(nil), key...)
	return nil
}

// KeyForPath returns the registered key for the path, or nil. The
// process-wide disable override takes precedence over any key.
func (r *Registry) KeyForPath(path string) []byte {
	if r.encryptionDisabled {
		return nil
	}
	r.keyMu.Lock()
	defer r.keyMu.Unlock()
	key, ok := r.keys[path]
	if !ok {
		return nil
	}
	return append([]byte(nil), key...)
}

// SetSchemaVersion registers the target schema version and optional
// migration callback for a path. Changing the version under live
// instances at a different version is a usage error.
func (r *Registry) SetSchemaVersion(path string, version uint64, migration objectstore.MigrationFunc) error {
	r.versionMu.Lock()
	defer r.versionMu.Unlock()

	// unregistered paths are open at the default version 0
	if existing := r.versions[path]; existing.version != version && r.hasInstances(path) {
		return fmt.Errorf("path %s is open at version %d: %w", path, existing.version, ErrVersionInUse)
	}
	r.versions[path] = versionEntry{version: version, migration: migration}
	return nil
}

// SchemaVersionForPath returns the registered target version for the
// path. Unregistered paths target version 0 with no migration.
func (r *Registry) SchemaVersionForPath(path string) (uint64, objectstore.MigrationFunc) {
	r.versionMu.Lock()
	defer r.versionMu.Unlock()
	entry := r.versions[path]
	return entry.version, entry.migration
}

// Register adds a live instance to the per-path cache.
func (r *Registry) Register(inst OpenInstance) {
	r.cacheMu.Lock()
	defer r.cacheMu.Unlock()
	r.instances[inst.Path()] = append(r.instances[inst.Path()], inst)
}

// Unregister removes a live instance from the per-path cache.
func (r *Registry) Unregister(inst OpenInstance) {
	r.cacheMu.Lock()
	defer r.cacheMu.Unlock()
	list := r.instances[inst.Path()]
	for i, cached := range list {
		if cached.ID() == inst.ID() {
			r.instances[inst.Path()] = append(list[:i], list[i+1:]...)
			break
		}
	}
	if len(r.instances[inst.Path()]) == 0 {
		delete(r.instances, inst.Path())
	}
}

// CachedInstance returns the live instance for a path already open on
// the given goroutine, or nil.
func (r *Registry) CachedInstance(path string, goroutineID uint64) OpenInstance {
	r.cacheMu.Lock()
	defer r.cacheMu.Unlock()
	for _, inst := range r.instances[path] {
		if inst.GoroutineID() == goroutineID {
			return inst
		}
	}
	return nil
}

// InstancesForPath returns a snapshot of every live instance on the
// path, across goroutines. Used for commit notification fan-out and
// for compaction's exclusive-access check.
func (r *Registry) InstancesForPath(path string) []OpenInstance {
	r.cacheMu.Lock()
	defer r.cacheMu.Unlock()
	return append([]OpenInstance(nil), r.instances[path]...)
}

// hasInstances reports whether any instance is open on the path.
// Callers hold one of the other sub-map locks; cacheMu is always the
// innermost lock.
func (r *Registry) hasInstances(path string) bool {
	r.cacheMu.Lock()
	defer r.cacheMu.Unlock()
	return len(r.instances[path]) > 0
}

// Reset atomically clears keys, versions and the instance cache. For
// test harness use; live instances are forgotten, not closed.
func (r *Registry) Reset() {
	r.keyMu.Lock()
	defer r.keyMu.Unlock()
	r.versionMu.Lock()
	defer r.versionMu.Unlock()
	r.cacheMu.Lock()
	defer r.cacheMu.Unlock()

	if n := len(r.instances); n > 0 {
		r.logger.Warnf("Registry reset with %d paths still open", n)
	}
	r.keys = make(map[string][]byte)
	r.versions = make(map[string]versionEntry)
	r.instances = make(map[string][]OpenInstance)
}
