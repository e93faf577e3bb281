package storage

import (
	"fmt"
)

// table is a borrowed handle: it holds no table data itself and
// re-resolves through the owning group on every call.
type table struct {
	g    *group
	name string
}

func (t *table) resolve() *tableImage {
	ti := t.g.view().table(t.name)
	if ti == nil {
		panic(fmt.Sprintf("stratadb: table %s no longer exists in group", t.name))
	}
	return ti
}

func (t *table) writable() (*tableImage, error) {
	if t.g.closed {
		return nil, ErrClosed
	}
	if !t.g.attached {
		return nil, ErrDetached
	}
	if t.g.cfg.ReadOnly {
		return nil, ErrReadOnlyGroup
	}
	if !t.g.inTxn {
		return nil, ErrNotInTransaction
	}
	ti := t.g.data.table(t.name)
	if ti == nil {
		return nil, fmt.Errorf("%w: %s", ErrTableNotFound, t.name)
	}
	return ti, nil
}

func (t *table) Name() string { return t.name }

func (t *table) ColumnCount() int {
	return len(t.resolve().Columns)
}

func (t *table) ColumnName(col int) string {
	return t.resolve().Columns[col].Name
}

func (t *table) ColumnType(col int) ColumnType {
	return t.resolve().Columns[col].Type
}

func (t *table) ColumnNullable(col int) bool {
	return t.resolve().Columns[col].Nullable
}

func (t *table) LinkTarget(col int) string {
	return t.resolve().Columns[col].Target
}

func (t *table) FindColumn(name string) (int, bool) {
	for i, c := range t.resolve().Columns {
		if c.Name == name {
			return i, true
		}
	}
	return 0, false
}

func (t *table) AddColumn(typ ColumnType, name string, nullable bool) (int, error) {
	if typ.IsLink() {
		return 0, fmt.Errorf("column %s: link columns require a target table", name)
	}
	return t.addColumn(columnImage{Name: name, Type: typ, Nullable: nullable})
}

func (t *table) AddLinkColumn(typ ColumnType, name, target string) (int, error) {
	if !typ.IsLink() {
		return 0, fmt.Errorf("column %s: type %s is not a link type", name, typ)
	}
	if _, err := t.writable(); err != nil {
		return 0, err
	}
	if t.g.data.table(target) == nil {
		return 0, fmt.Errorf("column %s: %w: %s", name, ErrTableNotFound, target)
	}
	return t.addColumn(columnImage{Name: name, Type: typ, Target: target, Nullable: true})
}

func (t *table) addColumn(col columnImage) (int, error) {
	ti, err := t.writable()
	if err != nil {
		return 0, err
	}
	if _, exists := t.FindColumn(col.Name); exists {
		return 0, fmt.Errorf("table %s already has a column named %s", t.name, col.Name)
	}
	ti.Columns = append(ti.Columns, col)
	for i := range ti.Rows {
		ti.Rows[i] = append(ti.Rows[i], zeroValue(col))
	}
	return len(ti.Columns) - 1, nil
}

func (t *table) RemoveColumn(col int) error {
	ti, err := t.writable()
	if err != nil {
		return err
	}
	if col < 0 || col >= len(ti.Columns) {
		return fmt.Errorf("table %s has no column %d", t.name, col)
	}
	ti.Columns = append(ti.Columns[:col], ti.Columns[col+1:]...)
	for i, row := range ti.Rows {
		ti.Rows[i] = append(row[:col], row[col+1:]...)
	}
	return nil
}

func (t *table) HasSearchIndex(col int) bool {
	return t.resolve().Columns[col].Indexed
}

func (t *table) SetSearchIndex(col int, indexed bool) error {
	ti, err := t.writable()
	if err != nil {
		return err
	}
	c := &ti.Columns[col]
	if indexed && !c.Type.IsIndexable() {
		return fmt.Errorf("cannot index column %s of type %s", c.Name, c.Type)
	}
	c.Indexed = indexed
	return nil
}

func (t *table) RowCount() int {
	return len(t.resolve().Rows)
}

func (t *table) AddRow() (int, error) {
	ti, err := t.writable()
	if err != nil {
		return 0, err
	}
	row := make([]interface{}, len(ti.Columns))
	for i, c := range ti.Columns {
		row[i] = zeroValue(c)
	}
	ti.Rows = append(ti.Rows, row)
	return len(ti.Rows) - 1, nil
}

func (t *table) RemoveRow(row int) error {
	ti, err := t.writable()
	if err != nil {
		return err
	}
	if row < 0 || row >= len(ti.Rows) {
		return fmt.Errorf("table %s has no row %d", t.name, row)
	}
	ti.Rows = append(ti.Rows[:row], ti.Rows[row+1:]...)
	return nil
}

func (t *table) Get(row, col int) interface{} {
	return t.resolve().Rows[row][col]
}

func (t *table) Set(row, col int, value interface{}) error {
	ti, err := t.writable()
	if err != nil {
		return err
	}
	if row < 0 || row >= len(ti.Rows) {
		return fmt.Errorf("table %s has no row %d", t.name, row)
	}
	c := ti.Columns[col]
	v, err := normalizeValue(c.Type, value)
	if err != nil {
		return fmt.Errorf("table %s column %s: %w", t.name, c.Name, err)
	}
	if v == nil && !c.Nullable && !c.Type.IsLink() && c.Type != ColAny {
		return fmt.Errorf("table %s column %s is not nullable", t.name, c.Name)
	}
	ti.Rows[row][col] = v
	return nil
}

func (t *table) FindFirstString(col int, value string) (int, bool) {
	for i, row := range t.resolve().Rows {
		if s, ok := row[col].(string); ok && s == value {
			return i, true
		}
	}
	return 0, false
}
