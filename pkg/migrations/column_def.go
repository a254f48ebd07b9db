// SPDX-License-Identifier: Apache-2.0

package migrations

import (
	"encoding/json"
	"fmt"

	"github.com/lib/pq"
)

// ColumnDef is the declarative shape of a column as it appears in a
// migration file (spec §3, §6): name, type, nullability, default
// expression, generation clause.
type ColumnDef struct {
	Name      string  `json:"name"`
	Type      string  `json:"type"`
	Nullable  bool    `json:"nullable"`
	Default   *string `json:"default,omitempty"`
	Generated *string `json:"generated,omitempty"`
}

// ToSQL renders the column fragment used inside CREATE TABLE / ADD
// COLUMN, using physicalName as the underlying column name (which may
// differ from Name while a temporary column is in flight).
func (c ColumnDef) ToSQL(physicalName string) string {
	sql := fmt.Sprintf("%s %s", pq.QuoteIdentifier(physicalName), c.Type)
	if !c.Nullable {
		sql += " NOT NULL"
	}
	if c.Default != nil {
		sql += fmt.Sprintf(" DEFAULT %s", *c.Default)
	}
	if c.Generated != nil {
		sql += fmt.Sprintf(" GENERATED ALWAYS AS (%s) STORED", *c.Generated)
	}
	return sql
}

// ForeignKeyDef is the declarative shape of a foreign key constraint.
type ForeignKeyDef struct {
	Columns           []string `json:"columns"`
	ReferencedTable   string   `json:"referencedTable"`
	ReferencedColumns []string `json:"referencedColumns"`
	OnDelete          string   `json:"onDelete,omitempty"`
}

// Expr is an up/down value translation rule (spec §4.4.6, Glossary):
// either a bare scalar SQL expression evaluated against the row being
// written, or a cross-table form `{table, value, where}` naming a
// dependent table to update instead.
type Expr struct {
	Scalar string

	Table string
	Value string
	Where string
}

// CrossTable reports whether this is the `{table, value, where}` form.
func (e Expr) CrossTable() bool {
	return e.Table != ""
}

func (e Expr) MarshalJSON() ([]byte, error) {
	if e.CrossTable() {
		return json.Marshal(struct {
			Table string `json:"table"`
			Value string `json:"value"`
			Where string `json:"where"`
		}{e.Table, e.Value, e.Where})
	}
	return json.Marshal(e.Scalar)
}

func (e *Expr) UnmarshalJSON(data []byte) error {
	var scalar string
	if err := json.Unmarshal(data, &scalar); err == nil {
		*e = Expr{Scalar: scalar}
		return nil
	}

	var crossTable struct {
		Table string `json:"table"`
		Value string `json:"value"`
		Where string `json:"where"`
	}
	if err := json.Unmarshal(data, &crossTable); err != nil {
		return fmt.Errorf("migrations: up/down expression must be a string or a {table, value, where} object: %w", err)
	}
	*e = Expr{Table: crossTable.Table, Value: crossTable.Value, Where: crossTable.Where}
	return nil
}
