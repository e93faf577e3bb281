package instance

import (
	"fmt"
	"sync"

	"stratadb/src/helpers"
	"stratadb/src/models"
	"stratadb/src/objectstore"
	"stratadb/src/registry"
	"stratadb/src/storage"

	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// Config describes one open request.
type Config struct {
	Path string

	// Key is the encryption key for this open. When nil the key
	// registered for the path is used.
	Key []byte

	ReadOnly bool
	InMemory bool

	// Dynamic derives the schema from the file instead of reconciling
	// a declared one. A dynamic open with a custom Schema still runs
	// the migration engine against that schema.
	Dynamic bool

	// Schema is a caller-supplied schema. When nil, non-dynamic opens
	// use the shared declared schema from the binding layer.
	Schema *models.Schema
}

// NotificationFunc is invoked after a sibling instance on the same
// path commits, on the committing goroutine. Receivers typically call
// Refresh from it.
type NotificationFunc func()

// declared schema supplied by the surrounding binding layer, which
// owns reflection over native type declarations. This core only
// consumes the resulting property lists.
var (
	declaredMu     sync.Mutex
	declaredSchema *models.Schema
)

// SetDeclaredSchema installs the shared declared schema used by opens
// that pass no schema of their own.
func SetDeclaredSchema(s *models.Schema) {
	declaredMu.Lock()
	defer declaredMu.Unlock()
	declaredSchema = s
}

func sharedDeclaredSchema() *models.Schema {
	declaredMu.Lock()
	defer declaredMu.Unlock()
	return declaredSchema
}

// Instance is one open, goroutine-affine connection to a database
// file. All operations on an instance are single-goroutine; only
// NotifyChange arrives from other goroutines.
type Instance struct {
	id  string
	cfg Config
	gid uint64

	engine *storage.Engine
	reg    *registry.Registry
	store  *objectstore.Store
	group  storage.Group
	schema *models.Schema
	logger *zap.SugaredLogger

	notifMu       sync.Mutex
	notifications map[string]NotificationFunc

	closed bool
}

// Open opens an instance on cfg.Path, reusing a live instance already
// open on the calling goroutine when its flags match exactly. First
// opens consult the registry for the path's key and target schema
// version, and writable opens run the migration engine inside a single
// write transaction before the instance becomes visible to siblings.
func Open(engine *storage.Engine, reg *registry.Registry, cfg Config, logger *zap.SugaredLogger) (*Instance, error) {
	gid := helpers.GoroutineID()

	if cached := reg.CachedInstance(cfg.Path, gid); cached != nil {
		if cached.ReadOnly() != cfg.ReadOnly || cached.InMemory() != cfg.InMemory || cached.Dynamic() != cfg.Dynamic {
			return nil, fmt.Errorf("path %s: %w", cfg.Path, ErrFlagMismatch)
		}
		inst, ok := cached.(*Instance)
		if !ok {
			return nil, fmt.Errorf("path %s: cached instance has unexpected type %T", cfg.Path, cached)
		}
		return inst, nil
	}

	key := cfg.Key
	if key == nil {
		key = reg.KeyForPath(cfg.Path)
	}
	if reg.EncryptionDisabled() {
		key = nil
	}

	group, err := engine.Open(storage.GroupConfig{
		Path:     cfg.Path,
		Key:      key,
		ReadOnly: cfg.ReadOnly,
		InMemory: cfg.InMemory,
	})
	if err != nil {
		return nil, err
	}

	inst := &Instance{
		id:            helpers.GenerateUUID(),
		cfg:           cfg,
		gid:           gid,
		engine:        engine,
		reg:           reg,
		store:         objectstore.NewStore(logger),
		group:         group,
		logger:        logger,
		notifications: make(map[string]NotificationFunc),
	}

	if err := inst.initSchema(); err != nil {
		group.Close()
		return nil, err
	}

	reg.Register(inst)
	logger.Debugf("Opened instance %s on %s (read-only=%v, in-memory=%v, dynamic=%v)",
		inst.id, cfg.Path, cfg.ReadOnly, cfg.InMemory, cfg.Dynamic)
	return inst, nil
}

// initSchema resolves the instance's own schema copy: validated
// against the file for read-only opens, derived from the file for
// dynamic opens, reconciled through the migration engine otherwise.
func (i *Instance) initSchema() error {
	switch {
	case i.cfg.ReadOnly:
		if i.store.SchemaVersion(i.group) == objectstore.NotVersioned {
			return fmt.Errorf("path %s: %w", i.cfg.Path, ErrUnversioned)
		}
		if i.cfg.Schema == nil {
			schema, err := i.store.SchemaFromGroup(i.group)
			if err != nil {
				return err
			}
			i.schema = schema
			return nil
		}
		schema := i.cfg.Schema.Copy()
		var verr error
		for _, objectSchema := range schema.Objects {
			verr = multierr.Append(verr, i.store.ValidateSchema(i.group, objectSchema))
		}
		if verr != nil {
			return verr
		}
		i.schema = schema
		return nil

	case i.cfg.Dynamic && i.cfg.Schema == nil:
		schema, err := i.store.SchemaFromGroup(i.group)
		if err != nil {
			return err
		}
		i.schema = schema
		return nil

	default:
		source := i.cfg.Schema
		if source == nil {
			source = sharedDeclaredSchema()
		}
		if source == nil {
			return fmt.Errorf("path %s: %w", i.cfg.Path, ErrNoSchema)
		}
		schema := source.Copy()

		version, migration := i.reg.SchemaVersionForPath(i.cfg.Path)
		if err := i.group.BeginWrite(); err != nil {
			return err
		}
		changed, err := i.store.UpdateWithSchema(i.group, version, schema, migration)
		if err != nil {
			i.group.Rollback()
			return err
		}
		if changed {
			if err := i.group.Commit(); err != nil {
				i.group.Rollback()
				return err
			}
			i.notifySiblings()
		} else if err := i.group.Rollback(); err != nil {
			return err
		}
		i.schema = schema
		return nil
	}
}

func (i *Instance) ID() string           { return i.id }
func (i *Instance) Path() string         { return i.cfg.Path }
func (i *Instance) ReadOnly() bool       { return i.cfg.ReadOnly }
func (i *Instance) InMemory() bool       { return i.cfg.InMemory }
func (i *Instance) Dynamic() bool        { return i.cfg.Dynamic }
func (i *Instance) GoroutineID() uint64  { return i.gid }
func (i *Instance) InTransaction() bool  { return !i.closed && i.group.InTransaction() }
func (i *Instance) Group() storage.Group { return i.group }

// Schema returns the instance's own schema copy, with column positions
// resolved against the file.
func (i *Instance) Schema() *models.Schema { return i.schema }

// BeginTransaction starts the instance's write transaction, blocking
// until other writers on the path release the write lock.
func (i *Instance) BeginTransaction() error {
	if i.closed {
		return ErrClosed
	}
	if i.cfg.ReadOnly {
		return ErrReadOnly
	}
	if i.group.InTransaction() {
		return ErrInTransaction
	}
	return i.group.BeginWrite()
}

// CommitTransaction commits the active write transaction and notifies
// every sibling instance on the same path.
func (i *Instance) CommitTransaction() error {
	if i.closed {
		return ErrClosed
	}
	if !i.group.InTransaction() {
		return ErrNotInTransaction
	}
	if err := i.group.Commit(); err != nil {
		return err
	}
	i.notifySiblings()
	return nil
}

// CancelTransaction discards every write made since BeginTransaction
// and restores the pre-transaction read view.
func (i *Instance) CancelTransaction() error {
	if i.closed {
		return ErrClosed
	}
	if !i.group.InTransaction() {
		return ErrNotInTransaction
	}
	return i.group.Rollback()
}

// Invalidate releases the read view. Every table handle resolved
// through the instance's group is stale until the next Refresh. An
// active write transaction is discarded.
func (i *Instance) Invalidate() {
	if i.closed {
		return
	}
	i.group.Invalidate()
}

// Refresh advances the instance to the latest committed state,
// reporting false when nothing changed.
func (i *Instance) Refresh() (bool, error) {
	if i.closed {
		return false, ErrClosed
	}
	return i.group.Refresh()
}

// AddNotification registers a callback for sibling commits and
// returns its token. Read-only instances never change, so registering
// on one is a usage error.
func (i *Instance) AddNotification(fn NotificationFunc) (string, error) {
	if i.closed {
		return "", ErrClosed
	}
	if i.cfg.ReadOnly {
		return "", ErrReadOnly
	}
	token := helpers.GenerateUUID()
	i.notifMu.Lock()
	i.notifications[token] = fn
	i.notifMu.Unlock()
	return token, nil
}

// RemoveNotification detaches the callback registered under token.
func (i *Instance) RemoveNotification(token string) {
	i.notifMu.Lock()
	delete(i.notifications, token)
	i.notifMu.Unlock()
}

// NotifyChange delivers a sibling's commit to this instance's
// registered callbacks. Runs on the committing goroutine.
func (i *Instance) NotifyChange() {
	i.notifMu.Lock()
	callbacks := make([]NotificationFunc, 0, len(i.notifications))
	for _, fn := range i.notifications {
		callbacks = append(callbacks, fn)
	}
	i.notifMu.Unlock()

	for _, fn := range callbacks {
		fn()
	}
}

func (i *Instance) notifySiblings() {
	for _, sibling := range i.reg.InstancesForPath(i.cfg.Path) {
		if sibling.ID() == i.id {
			continue
		}
		sibling.NotifyChange()
	}
}

// Compact rewrites the file to reclaim space. It requires exclusive
// access: no active transaction and no sibling instances on the path.
func (i *Instance) Compact() (bool, error) {
	if i.closed {
		return false, ErrClosed
	}
	if i.group.InTransaction() {
		return false, ErrInTransaction
	}
	for _, sibling := range i.reg.InstancesForPath(i.cfg.Path) {
		if sibling.ID() != i.id {
			return false, fmt.Errorf("path %s: %w", i.cfg.Path, ErrExclusiveAccess)
		}
	}
	return i.group.Compact()
}

// WriteCopy writes a full copy of the instance's current view to a new
// path, sealed with the given key (nil writes plaintext).
func (i *Instance) WriteCopy(path string, key []byte) error {
	if i.closed {
		return ErrClosed
	}
	return i.group.WriteCopy(path, key)
}

// Close cancels any active transaction, detaches the instance from the
// registry and releases the group. Tokens still attached are logged as
// leaks rather than failing the close.
func (i *Instance) Close() error {
	if i.closed {
		return nil
	}
	if i.group.InTransaction() {
		if err := i.group.Rollback(); err != nil {
			return err
		}
	}

	i.notifMu.Lock()
	if n := len(i.notifications); n > 0 {
		i.logger.Warnf("Instance %s on %s closed with %d notification token(s) still attached", i.id, i.cfg.Path, n)
	}
	i.notifications = make(map[string]NotificationFunc)
	i.notifMu.Unlock()

	i.reg.Unregister(i)
	i.closed = true
	return i.group.Close()
}
