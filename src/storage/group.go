package storage

import (
	"fmt"
	"os"
)

// group is the engine's Group implementation. It owns a private deep
// copy of the committed image as its read view; a write transaction
// mutates that copy and publishes it on commit.
type group struct {
	eng    *Engine
	shared *sharedState
	cfg    GroupConfig

	data     *groupImage
	version  uint64
	inTxn    bool
	attached bool
	closed   bool
}

func (g *group) Path() string   { return g.cfg.Path }
func (g *group) ReadOnly() bool { return g.cfg.ReadOnly }

// view returns the current read view. Access through a closed or
// detached group is a caller logic error and panics.
func (g *group) view() *groupImage {
	if g.closed {
		panic("stratadb: access through a closed group")
	}
	if !g.attached {
		panic("stratadb: access through an invalidated group; refresh first")
	}
	return g.data
}

func (g *group) TableCount() int {
	return len(g.view().Tables)
}

func (g *group) TableName(i int) string {
	return g.view().Tables[i].Name
}

func (g *group) HasTable(name string) bool {
	return g.view().table(name) != nil
}

func (g *group) Table(name string) (Table, error) {
	if g.closed {
		return nil, ErrClosed
	}
	if !g.attached {
		return nil, ErrDetached
	}
	if g.data.table(name) == nil {
		return nil, fmt.Errorf("%w: %s", ErrTableNotFound, name)
	}
	return &table{g: g, name: name}, nil
}

func (g *group) GetOrCreateTable(name string) (Table, bool, error) {
	if g.closed {
		return nil, false, ErrClosed
	}
	if !g.attached {
		return nil, false, ErrDetached
	}
	if g.data.table(name) != nil {
		return &table{g: g, name: name}, false, nil
	}
	if g.cfg.ReadOnly {
		return nil, false, ErrReadOnlyGroup
	}
	if !g.inTxn {
		return nil, false, ErrNotInTransaction
	}
	g.data.Tables = append(g.data.Tables, &tableImage{Name: name})
	return &table{g: g, name: name}, true, nil
}

func (g *group) InTransaction() bool { return g.inTxn }

func (g *group) BeginWrite() error {
	if g.closed {
		return ErrClosed
	}
	if g.cfg.ReadOnly {
		return ErrReadOnlyGroup
	}
	if g.inTxn {
		return ErrInTransaction
	}

	// Blocks until every other writer on this path has committed or
	// rolled back.
	g.shared.writer.Lock()
	g.data, g.version = g.shared.snapshot()
	g.attached = true
	g.inTxn = true
	return nil
}

func (g *group) Commit() error {
	if g.closed {
		return ErrClosed
	}
	if !g.inTxn {
		return ErrNotInTransaction
	}

	if !g.cfg.InMemory {
		encoded, err := encodeImage(g.data, g.shared.key)
		if err != nil {
			return err
		}
		if err := writeImageFile(g.cfg.Path, encoded); err != nil {
			return err
		}
	}

	g.version = g.shared.publish(g.data.clone())
	g.inTxn = false
	g.shared.writer.Unlock()
	return nil
}

func (g *group) Rollback() error {
	if g.closed {
		return ErrClosed
	}
	if !g.inTxn {
		return ErrNotInTransaction
	}

	g.data, g.version = g.shared.snapshot()
	g.attached = true
	g.inTxn = false
	g.shared.writer.Unlock()
	return nil
}

func (g *group) Refresh() (bool, error) {
	if g.closed {
		return false, ErrClosed
	}
	if g.inTxn {
		// A write transaction always sits on the latest version.
		return false, nil
	}
	if g.attached && g.version == g.shared.currentVersion() {
		return false, nil
	}
	g.data, g.version = g.shared.snapshot()
	g.attached = true
	return true, nil
}

func (g *group) Invalidate() {
	if g.closed {
		return
	}
	if g.inTxn {
		// Invalidation discards the write transaction along with the
		// read view.
		g.inTxn = false
		g.shared.writer.Unlock()
	}
	g.attached = false
	g.data = nil
}

func (g *group) WriteCopy(path string, key []byte) error {
	if g.closed {
		return ErrClosed
	}
	if !g.attached {
		return ErrDetached
	}
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("%w: %s", ErrFileExists, path)
	} else if !os.IsNotExist(err) {
		return fmt.Errorf("error checking %s: %w", path, err)
	}

	encoded, err := encodeImage(g.data, key)
	if err != nil {
		return err
	}
	return writeImageFile(path, encoded)
}

func (g *group) Compact() (bool, error) {
	if g.closed {
		return false, ErrClosed
	}
	if g.inTxn {
		return false, ErrInTransaction
	}
	if g.cfg.InMemory {
		return false, nil
	}

	// Serialize with writers, then rewrite the file from the latest
	// committed image.
	g.shared.writer.Lock()
	defer g.shared.writer.Unlock()

	img, _ := g.shared.snapshot()
	encoded, err := encodeImage(img, g.shared.key)
	if err != nil {
		return false, err
	}
	if err := writeImageFile(g.cfg.Path, encoded); err != nil {
		return false, err
	}
	return true, nil
}

func (g *group) Close() error {
	if g.closed {
		return nil
	}
	if g.inTxn {
		if err := g.Rollback(); err != nil {
			return err
		}
	}
	g.closed = true
	g.data = nil
	g.eng.release(g.shared)
	return nil
}
