package storage

import (
	"bytes"
	"fmt"
	"os"
	"sync"

	"go.uber.org/zap"
)

// Engine is the process-wide storage engine. It keeps one shared state
// per database path so every group opened on a path observes the same
// committed data and contends for the same write lock.
type Engine struct {
	mu     sync.Mutex
	shared map[string]*sharedState
	logger *zap.SugaredLogger
}

// sharedState is the committed side of one database: the latest
// committed image, a version counter bumped on every commit, and the
// write lock serializing writers within the process. Cross-process
// writers serialize on the file lock instead.
type sharedState struct {
	path     string
	inMemory bool
	key      []byte

	writer sync.Mutex

	mu        sync.Mutex
	committed *groupImage
	version   uint64
	refs      int
}

func (st *sharedState) snapshot() (*groupImage, uint64) {
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.committed.clone(), st.version
}

func (st *sharedState) publish(img *groupImage) uint64 {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.committed = img
	st.version++
	return st.version
}

func (st *sharedState) currentVersion() uint64 {
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.version
}

// NewEngine creates a new storage engine
func NewEngine(logger *zap.SugaredLogger) *Engine {
	return &Engine{
		shared: make(map[string]*sharedState),
		logger: logger,
	}
}

// Open opens a group on the database identified by cfg.Path, loading
// the file image on the first open of a path in this process.
func (e *Engine) Open(cfg GroupConfig) (Group, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	st, exists := e.shared[cfg.Path]
	if exists {
		if st.inMemory != cfg.InMemory {
			return nil, fmt.Errorf("path %s is already open with in-memory=%v", cfg.Path, st.inMemory)
		}
		if !bytes.Equal(st.key, cfg.Key) {
			return nil, fmt.Errorf("path %s: %w", cfg.Path, ErrKeyMismatch)
		}
	} else {
		img := newGroupImage()
		if !cfg.InMemory {
			if _, err := os.Stat(cfg.Path); err == nil {
				loaded, err := readImageFile(cfg.Path, cfg.Key)
				if err != nil {
					return nil, err
				}
				img = loaded
			} else if !os.IsNotExist(err) {
				return nil, fmt.Errorf("error opening %s: %w", cfg.Path, err)
			} else if cfg.ReadOnly {
				return nil, fmt.Errorf("error opening %s read-only: %w", cfg.Path, os.ErrNotExist)
			}
		}
		st = &sharedState{
			path:      cfg.Path,
			inMemory:  cfg.InMemory,
			key:       append([]byte(nil), cfg.Key...),
			committed: img,
			version:   1,
		}
		e.shared[cfg.Path] = st
		e.logger.Debugf("Opened database %s (in-memory=%v, sealed=%v)", cfg.Path, cfg.InMemory, len(cfg.Key) > 0)
	}
	st.refs++

	data, version := st.snapshot()
	return &group{
		eng:      e,
		shared:   st,
		cfg:      cfg,
		data:     data,
		version:  version,
		attached: true,
	}, nil
}

func (e *Engine) release(st *sharedState) {
	e.mu.Lock()
	defer e.mu.Unlock()
	st.refs--
	if st.refs <= 0 {
		delete(e.shared, st.path)
		e.logger.Debugf("Released database %s", st.path)
	}
}
