// SPDX-License-Identifier: Apache-2.0

package migrations

import (
	"context"
	"fmt"

	"github.com/lib/pq"

	"github.com/reshapehq/reshape/pkg/db"
	"github.com/reshapehq/reshape/pkg/schema"
)

var _ Operation = (*AddForeignKey)(nil)

// AddForeignKey is the add_foreign_key action (spec §4.4.4): the
// constraint is added NOT VALID (instant) and validated in a second
// statement (scans without holding an exclusive lock).
type AddForeignKey struct {
	coordinates

	Table             string   `json:"table"`
	Columns           []string `json:"columns"`
	ReferencedTable   string   `json:"referencedTable"`
	ReferencedColumns []string `json:"referencedColumns"`
	OnDelete          string   `json:"onDelete,omitempty"`
}

// Run is idempotent modulo the schema tracker (spec §4.4): a retried
// start after a partial failure finds the NOT VALID constraint already
// in place and only re-runs the (idempotent) VALIDATE.
func (o *AddForeignKey) Run(ctx context.Context, conn db.DB, s *schema.Schema) error {
	name := o.transient("fk")

	var exists bool
	err := conn.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM pg_constraint WHERE conname = $1 AND conrelid = $2::regclass)`,
		name, o.Table).Scan(&exists)
	if err != nil {
		return fmt.Errorf("checking foreign key %q on %q: %w", name, o.Table, err)
	}
	if !exists {
		_, err := conn.ExecContext(ctx, fmt.Sprintf(
			"ALTER TABLE %s ADD CONSTRAINT %s FOREIGN KEY (%s) REFERENCES %s (%s)%s NOT VALID",
			pq.QuoteIdentifier(o.Table),
			pq.QuoteIdentifier(name),
			quoteIdentifierList(o.Columns),
			pq.QuoteIdentifier(o.ReferencedTable),
			quoteIdentifierList(o.ReferencedColumns),
			onDeleteClause(o.OnDelete),
		))
		if err != nil {
			return fmt.Errorf("adding foreign key %q on %q: %w", name, o.Table, err)
		}
	}

	_, err = conn.ExecContext(ctx, fmt.Sprintf("ALTER TABLE %s VALIDATE CONSTRAINT %s",
		pq.QuoteIdentifier(o.Table), pq.QuoteIdentifier(name)))
	if err != nil {
		return fmt.Errorf("validating foreign key %q on %q: %w", name, o.Table, err)
	}

	return nil
}

func (o *AddForeignKey) Complete(ctx context.Context, conn db.DB, s *schema.Schema) error {
	finalName := ForeignKeyName(o.Table, o.Columns)

	var alreadyFinal bool
	err := conn.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM pg_constraint WHERE conname = $1 AND conrelid = $2::regclass)`,
		finalName, o.Table).Scan(&alreadyFinal)
	if err != nil {
		return fmt.Errorf("checking foreign key %q on %q: %w", finalName, o.Table, err)
	}
	if alreadyFinal {
		return nil
	}

	_, err = conn.ExecContext(ctx, fmt.Sprintf("ALTER TABLE IF EXISTS %s RENAME CONSTRAINT %s TO %s",
		pq.QuoteIdentifier(o.Table), pq.QuoteIdentifier(o.transient("fk")), pq.QuoteIdentifier(finalName)))
	if err != nil {
		return fmt.Errorf("renaming foreign key %q: %w", o.transient("fk"), err)
	}
	return nil
}

func (o *AddForeignKey) Abort(ctx context.Context, conn db.DB, s *schema.Schema) error {
	_, err := conn.ExecContext(ctx, fmt.Sprintf("ALTER TABLE IF EXISTS %s DROP CONSTRAINT IF EXISTS %s",
		pq.QuoteIdentifier(o.Table), pq.QuoteIdentifier(o.transient("fk"))))
	return err
}

func (o *AddForeignKey) UpdateSchema(s *schema.Schema) {
	t := s.GetTable(o.Table)
	if t == nil {
		return
	}
	t.AddForeignKey(&schema.ForeignKey{
		Name:              ForeignKeyName(o.Table, o.Columns),
		Columns:           o.Columns,
		ReferencedTable:   o.ReferencedTable,
		ReferencedColumns: o.ReferencedColumns,
		OnDelete:          o.OnDelete,
	})
}

func (o *AddForeignKey) Validate(s *schema.Schema) error {
	t := s.GetTable(o.Table)
	if t == nil {
		return TableDoesNotExistError{Name: o.Table}
	}
	for _, col := range o.Columns {
		if t.GetColumn(col) == nil {
			return ColumnDoesNotExistError{Table: o.Table, Name: col}
		}
	}
	if s.GetTable(o.ReferencedTable) == nil {
		return TableDoesNotExistError{Name: o.ReferencedTable}
	}
	return nil
}
