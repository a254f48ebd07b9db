// SPDX-License-Identifier: Apache-2.0

// Package schema is the in-memory model of the database that the
// migration engine tracks as it applies a sequence of actions. It is
// seeded from Postgres' catalogs at the start of a migrate cycle and is
// mutated, action by action, by each action's UpdateSchema method.
// Complete and abort do not re-read the catalogs: they rebuild the
// tracker by replaying those UpdateSchema calls onto the pre-start
// snapshot persisted at migrate time. The view & trigger generator is the only other
// consumer: it reads the tracker's final state to decide what views and
// triggers to emit.
package schema

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
)

// New returns an empty schema snapshot.
func New() *Schema {
	return &Schema{
		Tables: make(map[string]*Table),
		Enums:  make(map[string]*Enum),
	}
}

// Schema is a snapshot of the tables, columns, indices, foreign keys and
// enums known to the engine, keyed by the *presented* (virtual) name.
type Schema struct {
	Tables map[string]*Table `json:"tables"`
	Enums  map[string]*Enum  `json:"enums"`
}

// Table is a table record as tracked by the engine: the presented shape
// of the table as it should appear through the current view namespace.
type Table struct {
	// Name is the real, underlying table name in Postgres.
	Name string `json:"name"`

	// Columns holds the table's columns in order; lookups match on the
	// presented column name.
	Columns []*Column `json:"columns"`

	PrimaryKey  []string               `json:"primaryKey"`
	ForeignKeys map[string]*ForeignKey `json:"foreignKeys"`
	Indices     map[string]*Index      `json:"indices"`

	// Deleted marks a table removed in the new schema version; it is
	// kept (rather than deleted outright from the map) so abort can
	// still find it.
	Deleted bool `json:"-"`
}

// Column is a single tracked column.
type Column struct {
	// Name is the presented (virtual) column name.
	Name string `json:"name"`

	// Alias is the real underlying column name when it differs from
	// Name — e.g. while alter_column has a temporary column in flight.
	// Empty means Name is also the physical name.
	Alias string `json:"alias,omitempty"`

	Type       string  `json:"type"`
	Nullable   bool    `json:"nullable"`
	Default    *string `json:"default,omitempty"`
	Generated  *string `json:"generated,omitempty"`
	EnumType   string  `json:"enumType,omitempty"`
	Deleted    bool    `json:"-"`
}

// PhysicalName returns the real underlying column name.
func (c *Column) PhysicalName() string {
	if c.Alias != "" {
		return c.Alias
	}
	return c.Name
}

// Index is a tracked index.
type Index struct {
	Name      string   `json:"name"`
	Columns   []string `json:"columns"`
	Unique    bool     `json:"unique"`
	Method    string   `json:"method,omitempty"`
	Predicate string   `json:"predicate,omitempty"`
}

// ForeignKey is a tracked foreign key constraint.
type ForeignKey struct {
	Name              string   `json:"name"`
	Columns           []string `json:"columns"`
	ReferencedTable   string   `json:"referencedTable"`
	ReferencedColumns []string `json:"referencedColumns"`
	OnDelete          string   `json:"onDelete,omitempty"`
}

// Enum is a tracked Postgres enum type.
type Enum struct {
	Name   string   `json:"name"`
	Values []string `json:"values"`
}

// GetTable returns a live (non-deleted) table by presented name, or nil.
func (s *Schema) GetTable(name string) *Table {
	t, ok := s.Tables[name]
	if !ok || t.Deleted {
		return nil
	}
	return t
}

// AddTable registers a table under its presented name.
func (s *Schema) AddTable(name string, t *Table) {
	if s.Tables == nil {
		s.Tables = make(map[string]*Table)
	}
	s.Tables[name] = t
}

// RenameTable changes the presented name a table is tracked under. The
// underlying Name is untouched — the rename is only reflected in the
// view namespace until `complete` issues the real `ALTER TABLE ...
// RENAME`.
func (s *Schema) RenameTable(from, to string) error {
	t := s.GetTable(from)
	if t == nil {
		return fmt.Errorf("table %q does not exist", from)
	}
	if s.GetTable(to) != nil {
		return fmt.Errorf("table %q already exists", to)
	}
	s.Tables[to] = t
	delete(s.Tables, from)
	return nil
}

// RemoveTable marks a table as deleted in the tracked (new) schema.
func (s *Schema) RemoveTable(name string) {
	if t, ok := s.Tables[name]; ok {
		t.Deleted = true
	}
}

// GetColumn returns a live column on the table by presented name.
func (t *Table) GetColumn(name string) *Column {
	for _, c := range t.Columns {
		if c.Name == name && !c.Deleted {
			return c
		}
	}
	return nil
}

// AddColumn appends a column to the table's tracked column list.
func (t *Table) AddColumn(c *Column) {
	t.Columns = append(t.Columns, c)
}

// RemoveColumn marks a column as deleted in the tracked schema.
func (t *Table) RemoveColumn(name string) {
	if c := t.GetColumn(name); c != nil {
		c.Deleted = true
	}
}

// RenameColumn changes the presented name of a column. The column's
// current physical name is pinned as its Alias first, if it does not
// already have one, since the underlying ALTER TABLE ... RENAME COLUMN
// only happens at complete — until then the physical column is still
// named `from`.
func (t *Table) RenameColumn(from, to string) error {
	c := t.GetColumn(from)
	if c == nil {
		return fmt.Errorf("column %q does not exist", from)
	}
	if t.GetColumn(to) != nil {
		return fmt.Errorf("column %q already exists", to)
	}
	if c.Alias == "" {
		c.Alias = from
	}
	c.Name = to
	return nil
}

// ColumnByPhysical returns the live column whose physical (underlying)
// name is physical, or nil. Used wherever a physical catalog name (e.g.
// a tracked primary key column) must be resolved back to its presented
// name.
func (t *Table) ColumnByPhysical(physical string) *Column {
	for _, c := range t.Columns {
		if !c.Deleted && c.PhysicalName() == physical {
			return c
		}
	}
	return nil
}

// GetIndex returns a tracked index by name.
func (t *Table) GetIndex(name string) *Index {
	if t.Indices == nil {
		return nil
	}
	return t.Indices[name]
}

// AddIndex registers an index on the table.
func (t *Table) AddIndex(idx *Index) {
	if t.Indices == nil {
		t.Indices = make(map[string]*Index)
	}
	t.Indices[idx.Name] = idx
}

// RemoveIndex drops an index from the tracked schema.
func (t *Table) RemoveIndex(name string) {
	delete(t.Indices, name)
}

// IndicesCovering returns every tracked index that references the given
// physical column name, used when alter_column needs to duplicate the
// indices that cover the column being changed.
func (t *Table) IndicesCovering(physicalColumn string) []*Index {
	var out []*Index
	for _, idx := range t.Indices {
		for _, col := range idx.Columns {
			if col == physicalColumn {
				out = append(out, idx)
				break
			}
		}
	}
	return out
}

// GetForeignKey returns a tracked foreign key by name.
func (t *Table) GetForeignKey(name string) *ForeignKey {
	if t.ForeignKeys == nil {
		return nil
	}
	return t.ForeignKeys[name]
}

// AddForeignKey registers a foreign key on the table.
func (t *Table) AddForeignKey(fk *ForeignKey) {
	if t.ForeignKeys == nil {
		t.ForeignKeys = make(map[string]*ForeignKey)
	}
	t.ForeignKeys[fk.Name] = fk
}

// RemoveForeignKey drops a foreign key from the tracked schema.
func (t *Table) RemoveForeignKey(name string) {
	delete(t.ForeignKeys, name)
}

// GetEnum returns a tracked enum type by name.
func (s *Schema) GetEnum(name string) *Enum {
	if s.Enums == nil {
		return nil
	}
	return s.Enums[name]
}

// AddEnum registers an enum type.
func (s *Schema) AddEnum(e *Enum) {
	if s.Enums == nil {
		s.Enums = make(map[string]*Enum)
	}
	s.Enums[e.Name] = e
}

// RemoveEnum drops an enum type from the tracked schema.
func (s *Schema) RemoveEnum(name string) {
	delete(s.Enums, name)
}

// ColumnsUsingEnum returns every (table, column) pair whose type is the
// given enum, used by remove_enum to verify no column still depends on
// it before dropping the type.
func (s *Schema) ColumnsUsingEnum(enumName string) []string {
	var out []string
	for tname, t := range s.Tables {
		if t.Deleted {
			continue
		}
		for _, c := range t.Columns {
			if c.Deleted {
				continue
			}
			if c.EnumType == enumName {
				out = append(out, tname+"."+c.Name)
			}
		}
	}
	return out
}

// Clone returns a deep copy of the schema, used to snapshot the
// pre-start schema for abort-time restoration (spec invariant 4). A
// manual copy is used rather than a JSON round-trip because Deleted
// markers are tagged json:"-" and must still survive the clone.
func (s *Schema) Clone() *Schema {
	clone := New()
	for name, t := range s.Tables {
		clone.Tables[name] = t.clone()
	}
	for name, e := range s.Enums {
		ev := *e
		ev.Values = append([]string(nil), e.Values...)
		clone.Enums[name] = &ev
	}
	return clone
}

func (t *Table) clone() *Table {
	ct := &Table{
		Name:       t.Name,
		PrimaryKey: append([]string(nil), t.PrimaryKey...),
		Deleted:    t.Deleted,
	}
	for _, c := range t.Columns {
		cv := *c
		ct.Columns = append(ct.Columns, &cv)
	}
	if t.ForeignKeys != nil {
		ct.ForeignKeys = make(map[string]*ForeignKey, len(t.ForeignKeys))
		for name, fk := range t.ForeignKeys {
			fkv := *fk
			fkv.Columns = append([]string(nil), fk.Columns...)
			fkv.ReferencedColumns = append([]string(nil), fk.ReferencedColumns...)
			ct.ForeignKeys[name] = &fkv
		}
	}
	if t.Indices != nil {
		ct.Indices = make(map[string]*Index, len(t.Indices))
		for name, idx := range t.Indices {
			idxv := *idx
			idxv.Columns = append([]string(nil), idx.Columns...)
			ct.Indices[name] = &idxv
		}
	}
	return ct
}

// Value implements driver.Valuer so a Schema can be stored directly in a
// JSONB column.
func (s Schema) Value() (driver.Value, error) {
	return json.Marshal(s)
}

// Scan implements sql.Scanner so a Schema can be read back from a JSONB
// column.
func (s *Schema) Scan(value interface{}) error {
	b, ok := value.([]byte)
	if !ok {
		return errors.New("schema: scan: type assertion to []byte failed")
	}
	return json.Unmarshal(b, s)
}
