package storage

import "fmt"

// ColumnType is the persisted type of one table column. It mirrors the
// semantic property types of the object model layer, which maps between
// the two during reconciliation.
type ColumnType int

const (
	ColInt ColumnType = iota
	ColBool
	ColFloat
	ColString
	ColData
	ColDate
	ColAny

	// ColLink holds a row index into a target table.
	ColLink

	// ColLinkList holds an ordered list of row indexes into a target
	// table.
	ColLinkList
)

func (t ColumnType) String() string {
	switch t {
	case ColInt:
		return "int"
	case ColBool:
		return "bool"
	case ColFloat:
		return "float"
	case ColString:
		return "string"
	case ColData:
		return "data"
	case ColDate:
		return "date"
	case ColAny:
		return "any"
	case ColLink:
		return "link"
	case ColLinkList:
		return "linklist"
	}
	return fmt.Sprintf("unknown(%d)", int(t))
}

// IsLink reports whether the column refers to another table.
func (t ColumnType) IsLink() bool {
	return t == ColLink || t == ColLinkList
}

// IsIndexable reports whether a search index can be created on a
// column of this type.
func (t ColumnType) IsIndexable() bool {
	switch t {
	case ColInt, ColBool, ColString, ColDate:
		return true
	}
	return false
}

// GroupConfig describes one open request against the engine.
type GroupConfig struct {
	// Path identifies the database. In-memory databases are still
	// keyed by path so instances sharing a path share data.
	Path string

	// Key is the encryption key the file is sealed with, or nil for a
	// plaintext file.
	Key []byte

	// ReadOnly opens a group that rejects write transactions.
	ReadOnly bool

	// InMemory keeps the group off disk entirely.
	InMemory bool
}

// Group is one connection's transactional view of a whole database
// file. A Group is not safe for concurrent use; callers serialize
// access externally, one goroutine per group.
type Group interface {
	Path() string
	ReadOnly() bool

	// TableCount and TableName enumerate tables in creation order.
	TableCount() int
	TableName(i int) string
	HasTable(name string) bool

	// Table resolves a handle to an existing table.
	Table(name string) (Table, error)

	// GetOrCreateTable resolves a table, creating it inside the
	// current write transaction when absent. The second result
	// reports whether the table was created.
	GetOrCreateTable(name string) (Table, bool, error)

	// BeginWrite acquires the database's write lock, blocking until
	// other writers release it, and refreshes the view to the latest
	// committed state.
	BeginWrite() error
	Commit() error
	Rollback() error
	InTransaction() bool

	// Refresh advances the view to the latest committed state. It
	// reports false when the view was already current. Refresh is also
	// the only way to reattach an invalidated group.
	Refresh() (bool, error)

	// Invalidate releases the read view. Every table handle resolved
	// from the group becomes stale until the next Refresh.
	Invalidate()

	// WriteCopy writes a full copy of the current view to a new file,
	// sealed with the given key (nil writes plaintext). The target
	// must not exist.
	WriteCopy(path string, key []byte) error

	// Compact rewrites the backing file to reclaim space. It reports
	// false for in-memory groups.
	Compact() (bool, error)

	Close() error
}

// Table is a borrowed handle into a group's view. Handles resolve
// through the owning group on every call, so a handle held across
// Invalidate fails instead of dangling. Accessing a detached or closed
// group through a table handle panics: it is a caller logic error, not
// a recoverable condition.
type Table interface {
	Name() string

	ColumnCount() int
	ColumnName(col int) string
	ColumnType(col int) ColumnType
	ColumnNullable(col int) bool

	// LinkTarget returns the target table name of a link column.
	LinkTarget(col int) string

	// FindColumn returns the position of the named column.
	FindColumn(name string) (int, bool)

	AddColumn(t ColumnType, name string, nullable bool) (int, error)
	AddLinkColumn(t ColumnType, name, target string) (int, error)
	RemoveColumn(col int) error

	HasSearchIndex(col int) bool
	SetSearchIndex(col int, indexed bool) error

	RowCount() int
	AddRow() (int, error)
	RemoveRow(row int) error
	Get(row, col int) interface{}
	Set(row, col int, value interface{}) error

	// FindFirstString returns the first row whose string cell in col
	// equals value.
	FindFirstString(col int, value string) (int, bool)
}
