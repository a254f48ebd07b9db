// SPDX-License-Identifier: Apache-2.0

package migrations

import (
	"context"
	"fmt"
	"strings"

	"github.com/lib/pq"

	"github.com/reshapehq/reshape/pkg/db"
	"github.com/reshapehq/reshape/pkg/schema"
)

var _ Operation = (*AlterEnum)(nil)

// AlterEnum is the alter_enum action (spec §4.4.12). Postgres' native
// ALTER TYPE ... ADD VALUE is not transactional and cannot be rolled
// back, so instead a whole new enum type is created alongside temp
// columns and bidirectional sync triggers, exactly like alter_column's
// approach to changing a column's type — the enum itself is the type
// being changed.
type AlterEnum struct {
	coordinates

	Name   string            `json:"name"`
	Values []string          `json:"values"`
	Down   map[string]string `json:"down,omitempty"`
}

func (o *AlterEnum) newTypeName() string { return o.Name + "__reshape_new" }

func (o *AlterEnum) tempColumn(table, column string) string {
	return o.transient(table + "_" + column)
}

func (o *AlterEnum) upTrigger(table, column string) string   { return o.transient(table + "_" + column + "_up") }
func (o *AlterEnum) downTrigger(table, column string) string { return o.transient(table + "_" + column + "_down") }

func (o *AlterEnum) Run(ctx context.Context, conn db.DB, s *schema.Schema) error {
	if err := o.createNewType(ctx, conn); err != nil {
		return err
	}

	for _, tc := range s.ColumnsUsingEnum(o.Name) {
		table, column, _ := strings.Cut(tc, ".")
		t := s.GetTable(table)
		col := t.GetColumn(column)
		temp := o.tempColumn(table, column)

		_, err := conn.ExecContext(ctx, fmt.Sprintf("ALTER TABLE %s ADD COLUMN IF NOT EXISTS %s %s",
			pq.QuoteIdentifier(table), pq.QuoteIdentifier(temp), pq.QuoteIdentifier(o.newTypeName())))
		if err != nil {
			return fmt.Errorf("adding temp column %q on %q: %w", temp, table, err)
		}

		if err := backfillScalar(ctx, conn, t, temp, fmt.Sprintf("%s::text::%s",
			pq.QuoteIdentifier(col.PhysicalName()), pq.QuoteIdentifier(o.newTypeName()))); err != nil {
			return err
		}

		upExpr := fmt.Sprintf("%s::text::%s", pq.QuoteIdentifier(col.PhysicalName()), pq.QuoteIdentifier(o.newTypeName()))
		if err := createTrigger(ctx, conn, triggerConfig{
			FunctionName:   o.upTrigger(table, column),
			TriggerName:    o.upTrigger(table, column),
			TableName:      table,
			PhysicalColumn: temp,
			Expr:           upExpr,
			Guard:          pairedGuard(temp, col.PhysicalName()),
			Columns:        shadowColumns(t),
		}); err != nil {
			return fmt.Errorf("creating up trigger for %q.%q: %w", table, column, err)
		}

		downExpr := o.downCaseExpr(temp)
		if err := createTrigger(ctx, conn, triggerConfig{
			FunctionName:   o.downTrigger(table, column),
			TriggerName:    o.downTrigger(table, column),
			TableName:      table,
			PhysicalColumn: col.PhysicalName(),
			Expr:           downExpr,
			Guard:          pairedGuard(col.PhysicalName(), temp),
			Columns:        shadowColumns(t),
		}); err != nil {
			return fmt.Errorf("creating down trigger for %q.%q: %w", table, column, err)
		}
	}

	return nil
}

// downCaseExpr builds the CASE expression that maps a value of the new
// enum type back to the old one: values present in both enums cast
// directly, values only present in the new enum go through their
// declared Down rule.
func (o *AlterEnum) downCaseExpr(tempColumn string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "CASE NEW.%s::text", pq.QuoteIdentifier(tempColumn))
	for val, expr := range o.Down {
		fmt.Fprintf(&b, " WHEN %s THEN %s", pq.QuoteLiteral(val), expr)
	}
	fmt.Fprintf(&b, " ELSE NEW.%s::text::%s END", pq.QuoteIdentifier(tempColumn), pq.QuoteIdentifier(o.Name))
	return b.String()
}

func (o *AlterEnum) createNewType(ctx context.Context, conn db.DB) error {
	var exists bool
	if err := conn.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM pg_type WHERE typname = $1)`, o.newTypeName()).Scan(&exists); err != nil {
		return fmt.Errorf("checking enum %q: %w", o.newTypeName(), err)
	}
	if exists {
		return nil
	}

	values := make([]string, len(o.Values))
	for i, v := range o.Values {
		values[i] = pq.QuoteLiteral(v)
	}
	_, err := conn.ExecContext(ctx, fmt.Sprintf("CREATE TYPE %s AS ENUM (%s)",
		pq.QuoteIdentifier(o.newTypeName()), strings.Join(values, ", ")))
	if err != nil {
		return fmt.Errorf("creating enum %q: %w", o.newTypeName(), err)
	}
	return nil
}

func (o *AlterEnum) Complete(ctx context.Context, conn db.DB, s *schema.Schema) error {
	pairs := s.ColumnsUsingEnum(o.newTypeName())
	if len(pairs) == 0 {
		// A re-run after a previous complete already moved every
		// column; nothing left to do (spec P3).
		pairs = s.ColumnsUsingEnum(o.Name)
	}

	for _, tc := range pairs {
		table, column, _ := strings.Cut(tc, ".")
		if err := dropTrigger(ctx, conn, table, o.upTrigger(table, column), o.upTrigger(table, column)); err != nil {
			return err
		}
		if err := dropTrigger(ctx, conn, table, o.downTrigger(table, column), o.downTrigger(table, column)); err != nil {
			return err
		}
		_, err := conn.ExecContext(ctx, fmt.Sprintf("ALTER TABLE IF EXISTS %s DROP COLUMN IF EXISTS %s",
			pq.QuoteIdentifier(table), pq.QuoteIdentifier(column)))
		if err != nil {
			return fmt.Errorf("dropping old column %q on %q: %w", column, table, err)
		}
	}

	_, err := conn.ExecContext(ctx, fmt.Sprintf("DROP TYPE IF EXISTS %s", pq.QuoteIdentifier(o.Name)))
	if err != nil {
		return fmt.Errorf("dropping old enum %q: %w", o.Name, err)
	}

	var newTypeExists bool
	if err := conn.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM pg_type WHERE typname = $1)`, o.newTypeName()).Scan(&newTypeExists); err != nil {
		return fmt.Errorf("checking enum %q: %w", o.newTypeName(), err)
	}
	if newTypeExists {
		_, err = conn.ExecContext(ctx, fmt.Sprintf("ALTER TYPE %s RENAME TO %s",
			pq.QuoteIdentifier(o.newTypeName()), pq.QuoteIdentifier(o.Name)))
		if err != nil {
			return fmt.Errorf("renaming enum %q to %q: %w", o.newTypeName(), o.Name, err)
		}
	}

	for _, tc := range pairs {
		table, column, _ := strings.Cut(tc, ".")
		temp := o.tempColumn(table, column)
		_, err := conn.ExecContext(ctx, fmt.Sprintf("ALTER TABLE IF EXISTS %s RENAME COLUMN %s TO %s",
			pq.QuoteIdentifier(table), pq.QuoteIdentifier(temp), pq.QuoteIdentifier(column)))
		if err != nil {
			return fmt.Errorf("renaming temp column %q to %q: %w", temp, column, err)
		}
	}

	return nil
}

func (o *AlterEnum) Abort(ctx context.Context, conn db.DB, s *schema.Schema) error {
	for _, tc := range s.ColumnsUsingEnum(o.newTypeName()) {
		table, column, _ := strings.Cut(tc, ".")
		if err := dropTrigger(ctx, conn, table, o.upTrigger(table, column), o.upTrigger(table, column)); err != nil {
			return err
		}
		if err := dropTrigger(ctx, conn, table, o.downTrigger(table, column), o.downTrigger(table, column)); err != nil {
			return err
		}
		temp := o.tempColumn(table, column)
		_, err := conn.ExecContext(ctx, fmt.Sprintf("ALTER TABLE IF EXISTS %s DROP COLUMN IF EXISTS %s",
			pq.QuoteIdentifier(table), pq.QuoteIdentifier(temp)))
		if err != nil {
			return fmt.Errorf("dropping temp column %q on %q: %w", temp, table, err)
		}
	}

	_, err := conn.ExecContext(ctx, fmt.Sprintf("DROP TYPE IF EXISTS %s", pq.QuoteIdentifier(o.newTypeName())))
	return err
}

func (o *AlterEnum) UpdateSchema(s *schema.Schema) {
	for _, tc := range s.ColumnsUsingEnum(o.Name) {
		table, column, _ := strings.Cut(tc, ".")
		t := s.GetTable(table)
		col := t.GetColumn(column)
		col.Alias = o.tempColumn(table, column)
		col.EnumType = o.newTypeName()
	}
	s.AddEnum(&schema.Enum{Name: o.newTypeName(), Values: o.Values})
}

func (o *AlterEnum) Validate(s *schema.Schema) error {
	e := s.GetEnum(o.Name)
	if e == nil {
		return EnumDoesNotExistError{Name: o.Name}
	}
	old := make(map[string]bool, len(e.Values))
	for _, v := range e.Values {
		old[v] = true
	}
	for _, v := range o.Values {
		if !old[v] && o.Down[v] == "" {
			return FieldRequiredError{Field: fmt.Sprintf("down[%s]", v)}
		}
	}
	return nil
}
