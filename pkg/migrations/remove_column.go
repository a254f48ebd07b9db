// SPDX-License-Identifier: Apache-2.0

package migrations

import (
	"context"
	"fmt"

	"github.com/lib/pq"

	"github.com/reshapehq/reshape/pkg/db"
	"github.com/reshapehq/reshape/pkg/schema"
)

var _ Operation = (*RemoveColumn)(nil)

// RemoveColumn is the remove_column action (spec §4.4.8). The column
// keeps backing the old namespace until complete; if it is NOT NULL
// without a default, Down must supply a rule for populating it from
// writes that arrive through the new (column-less) namespace.
type RemoveColumn struct {
	coordinates

	Table  string `json:"table"`
	Column string `json:"column"`
	Down   *Expr  `json:"down,omitempty"`
}

func (o *RemoveColumn) triggerName() string { return o.transient("down") }

func (o *RemoveColumn) Run(ctx context.Context, conn db.DB, s *schema.Schema) error {
	t := s.GetTable(o.Table)
	if t == nil {
		return TableDoesNotExistError{Name: o.Table}
	}
	col := t.GetColumn(o.Column)
	if col == nil {
		return ColumnDoesNotExistError{Table: o.Table, Name: o.Column}
	}

	needsDown := !col.Nullable && col.Default == nil
	if needsDown && o.Down == nil {
		return FieldRequiredError{Field: "down"}
	}
	if o.Down == nil {
		return nil
	}

	if o.Down.CrossTable() {
		return createCrossTableTrigger(ctx, conn, crossTableTriggerConfig{
			FunctionName:    o.triggerName(),
			TriggerName:     o.triggerName(),
			TableName:       o.Table,
			DependentTable:  o.Down.Table,
			DependentColumn: col.PhysicalName(),
			Expr:            o.Down.Value,
			Where:           o.Down.Where,
			Side:            sideOld,
		})
	}

	return createTrigger(ctx, conn, triggerConfig{
		FunctionName:   o.triggerName(),
		TriggerName:    o.triggerName(),
		TableName:      o.Table,
		PhysicalColumn: col.PhysicalName(),
		Expr:           o.Down.Scalar,
		Guard:          alwaysGuard,
		Columns:        shadowColumns(t),
	})
}

func (o *RemoveColumn) Complete(ctx context.Context, conn db.DB, s *schema.Schema) error {
	if o.Down != nil {
		if err := dropTrigger(ctx, conn, o.Table, o.triggerName(), o.triggerName()); err != nil {
			return err
		}
	}
	_, err := conn.ExecContext(ctx, fmt.Sprintf("ALTER TABLE IF EXISTS %s DROP COLUMN IF EXISTS %s",
		pq.QuoteIdentifier(o.Table), pq.QuoteIdentifier(o.Column)))
	if err != nil {
		return fmt.Errorf("dropping column %q on %q: %w", o.Column, o.Table, err)
	}
	return nil
}

func (o *RemoveColumn) Abort(ctx context.Context, conn db.DB, s *schema.Schema) error {
	if o.Down == nil {
		return nil
	}
	return dropTrigger(ctx, conn, o.Table, o.triggerName(), o.triggerName())
}

func (o *RemoveColumn) UpdateSchema(s *schema.Schema) {
	t := s.GetTable(o.Table)
	if t == nil {
		return
	}
	t.RemoveColumn(o.Column)
}

func (o *RemoveColumn) Validate(s *schema.Schema) error {
	t := s.GetTable(o.Table)
	if t == nil {
		return TableDoesNotExistError{Name: o.Table}
	}
	col := t.GetColumn(o.Column)
	if col == nil {
		return ColumnDoesNotExistError{Table: o.Table, Name: o.Column}
	}
	if !col.Nullable && col.Default == nil && o.Down == nil {
		return FieldRequiredError{Field: "down"}
	}
	return nil
}
