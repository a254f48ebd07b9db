// SPDX-License-Identifier: Apache-2.0

// Package view is the view & trigger generator (spec §4.5): given the
// schema tracker's state after a migration's actions have run, it
// materialises the migration's view namespace — one schema-qualified
// view per live table, presenting that table's tracked (virtual) shape
// over the real, physical tables underneath.
package view

import (
	"context"
	"fmt"
	"strings"

	"github.com/lib/pq"

	"github.com/reshapehq/reshape/pkg/db"
	"github.com/reshapehq/reshape/pkg/migrations"
	"github.com/reshapehq/reshape/pkg/schema"
)

// Namespace returns the schema a migration's views live in.
func Namespace(migrationName string) string {
	return migrations.ViewNamespace(migrationName)
}

// Generate materialises the view namespace for migrationName from the
// final state of s: a plain, auto-updatable view for tables where every
// column is presented under its physical name, or a view backed by
// INSTEAD OF triggers
// for tables where a column's physical name diverges from what the
// namespace presents (spec §4.5).
func Generate(ctx context.Context, conn db.DB, migrationName string, s *schema.Schema) error {
	ns := Namespace(migrationName)

	if _, err := conn.ExecContext(ctx, fmt.Sprintf("CREATE SCHEMA IF NOT EXISTS %s", pq.QuoteIdentifier(ns))); err != nil {
		return fmt.Errorf("view: creating namespace %q: %w", ns, err)
	}

	for presented, t := range s.Tables {
		if t.Deleted {
			continue
		}
		if err := generateTable(ctx, conn, ns, presented, t); err != nil {
			return fmt.Errorf("view: generating view for table %q: %w", presented, err)
		}
	}

	return nil
}

// Drop removes a migration's entire view namespace, including any
// INSTEAD OF trigger functions left behind (CASCADE takes the triggers
// down with their views).
func Drop(ctx context.Context, conn db.DB, migrationName string) error {
	ns := Namespace(migrationName)
	_, err := conn.ExecContext(ctx, fmt.Sprintf("DROP SCHEMA IF EXISTS %s CASCADE", pq.QuoteIdentifier(ns)))
	if err != nil {
		return fmt.Errorf("view: dropping namespace %q: %w", ns, err)
	}
	return nil
}

func generateTable(ctx context.Context, conn db.DB, ns, presented string, t *schema.Table) error {
	cols := liveColumns(t)

	if _, err := conn.ExecContext(ctx, fmt.Sprintf("DROP VIEW IF EXISTS %s.%s CASCADE",
		pq.QuoteIdentifier(ns), pq.QuoteIdentifier(presented))); err != nil {
		return fmt.Errorf("dropping prior view: %w", err)
	}

	selectList := make([]string, len(cols))
	for i, c := range cols {
		selectList[i] = fmt.Sprintf("%s AS %s", pq.QuoteIdentifier(c.PhysicalName()), pq.QuoteIdentifier(c.Name))
	}
	_, err := conn.ExecContext(ctx, fmt.Sprintf("CREATE VIEW %s.%s AS SELECT %s FROM %s",
		pq.QuoteIdentifier(ns), pq.QuoteIdentifier(presented), strings.Join(selectList, ", "), pq.QuoteIdentifier(t.Name)))
	if err != nil {
		return fmt.Errorf("creating view: %w", err)
	}

	if !diverges(cols) {
		return nil
	}
	return installInsteadOfTriggers(ctx, conn, ns, presented, t, cols)
}

func liveColumns(t *schema.Table) []*schema.Column {
	cols := make([]*schema.Column, 0, len(t.Columns))
	for _, c := range t.Columns {
		if !c.Deleted {
			cols = append(cols, c)
		}
	}
	return cols
}

// diverges reports whether any column's physical name differs from what
// the namespace presents for it. A plain Postgres view stays
// automatically updatable through a column rename, but diverging
// columns are where the engine wants explicit control over the
// translation rather than relying on that implicit behaviour.
func diverges(cols []*schema.Column) bool {
	for _, c := range cols {
		if c.Alias != "" {
			return true
		}
	}
	return false
}

func installInsteadOfTriggers(ctx context.Context, conn db.DB, ns, presented string, t *schema.Table, cols []*schema.Column) error {
	base := ns + "_" + presented
	insertFn, updateFn, deleteFn := base+"_instead_insert", base+"_instead_update", base+"_instead_delete"

	destCols := make([]string, len(cols))
	values := make([]string, len(cols))
	setClauses := make([]string, len(cols))
	for i, c := range cols {
		destCols[i] = pq.QuoteIdentifier(c.PhysicalName())
		values[i] = "NEW." + pq.QuoteIdentifier(c.Name)
		setClauses[i] = fmt.Sprintf("%s = NEW.%s", pq.QuoteIdentifier(c.PhysicalName()), pq.QuoteIdentifier(c.Name))
	}

	pkWhere, err := primaryKeyWhere(t, cols, "OLD")
	if err != nil {
		return err
	}

	stmts := []string{
		fmt.Sprintf(`CREATE OR REPLACE FUNCTION %s() RETURNS TRIGGER LANGUAGE PLPGSQL AS $$
BEGIN
  INSERT INTO %s (%s) VALUES (%s);
  RETURN NEW;
END;
$$`, pq.QuoteIdentifier(insertFn), pq.QuoteIdentifier(t.Name), strings.Join(destCols, ", "), strings.Join(values, ", ")),

		fmt.Sprintf(`CREATE OR REPLACE TRIGGER %s INSTEAD OF INSERT ON %s.%s FOR EACH ROW EXECUTE PROCEDURE %s()`,
			pq.QuoteIdentifier(base+"_insert"), pq.QuoteIdentifier(ns), pq.QuoteIdentifier(presented), pq.QuoteIdentifier(insertFn)),

		fmt.Sprintf(`CREATE OR REPLACE FUNCTION %s() RETURNS TRIGGER LANGUAGE PLPGSQL AS $$
BEGIN
  UPDATE %s SET %s WHERE %s;
  RETURN NEW;
END;
$$`, pq.QuoteIdentifier(updateFn), pq.QuoteIdentifier(t.Name), strings.Join(setClauses, ", "), pkWhere),

		fmt.Sprintf(`CREATE OR REPLACE TRIGGER %s INSTEAD OF UPDATE ON %s.%s FOR EACH ROW EXECUTE PROCEDURE %s()`,
			pq.QuoteIdentifier(base+"_update"), pq.QuoteIdentifier(ns), pq.QuoteIdentifier(presented), pq.QuoteIdentifier(updateFn)),

		fmt.Sprintf(`CREATE OR REPLACE FUNCTION %s() RETURNS TRIGGER LANGUAGE PLPGSQL AS $$
BEGIN
  DELETE FROM %s WHERE %s;
  RETURN OLD;
END;
$$`, pq.QuoteIdentifier(deleteFn), pq.QuoteIdentifier(t.Name), pkWhere),

		fmt.Sprintf(`CREATE OR REPLACE TRIGGER %s INSTEAD OF DELETE ON %s.%s FOR EACH ROW EXECUTE PROCEDURE %s()`,
			pq.QuoteIdentifier(base+"_delete"), pq.QuoteIdentifier(ns), pq.QuoteIdentifier(presented), pq.QuoteIdentifier(deleteFn)),
	}

	for _, stmt := range stmts {
		if _, err := conn.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("installing instead-of trigger: %w", err)
		}
	}

	return nil
}

// primaryKeyWhere builds a `col = rowVar.presented_col AND ...` clause
// identifying a row by its tracked primary key, used by the UPDATE and
// DELETE instead-of triggers.
func primaryKeyWhere(t *schema.Table, cols []*schema.Column, rowVar string) (string, error) {
	if len(t.PrimaryKey) == 0 {
		return "", fmt.Errorf("table %q has no tracked primary key; cannot build instead-of update/delete", t.Name)
	}
	parts := make([]string, len(t.PrimaryKey))
	for i, physical := range t.PrimaryKey {
		c := columnByPhysical(cols, physical)
		if c == nil {
			return "", fmt.Errorf("table %q: primary key column %q is not present in the view", t.Name, physical)
		}
		parts[i] = fmt.Sprintf("%s = %s.%s", pq.QuoteIdentifier(physical), rowVar, pq.QuoteIdentifier(c.Name))
	}
	return strings.Join(parts, " AND "), nil
}

func columnByPhysical(cols []*schema.Column, physical string) *schema.Column {
	for _, c := range cols {
		if c.PhysicalName() == physical {
			return c
		}
	}
	return nil
}
