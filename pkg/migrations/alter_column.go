// SPDX-License-Identifier: Apache-2.0

package migrations

import (
	"context"
	"fmt"

	"github.com/lib/pq"

	"github.com/reshapehq/reshape/pkg/db"
	"github.com/reshapehq/reshape/pkg/schema"
)

var _ Operation = (*AlterColumn)(nil)

// ColumnChanges is the declarative set of changes alter_column can make
// to a single column in one action. Per spec §4.4.7, a rename combined
// with any of Type/Nullable/Default is treated as one logical change
// over a single temp column; Name alone is a pure rename, handled
// without any temp column.
type ColumnChanges struct {
	Name     *string `json:"name,omitempty"`
	Type     *string `json:"type,omitempty"`
	Nullable *bool   `json:"nullable,omitempty"`
	Default  *string `json:"default,omitempty"`
}

// RenameOnly reports whether this change set touches only the presented
// name, leaving the underlying column untouched.
func (c ColumnChanges) RenameOnly() bool {
	return c.Name != nil && c.Type == nil && c.Nullable == nil && c.Default == nil
}

// AlterColumn is the alter_column action (spec §4.4.7). Up and Down
// translate values bidirectionally between the old and new column
// shape; both are required unless Changes is rename-only.
type AlterColumn struct {
	coordinates

	Table   string        `json:"table"`
	Column  string        `json:"column"`
	Up      string        `json:"up,omitempty"`
	Down    string        `json:"down,omitempty"`
	Changes ColumnChanges `json:"changes"`
}

func (o *AlterColumn) newName() string {
	if o.Changes.Name != nil {
		return *o.Changes.Name
	}
	return o.Column
}

func (o *AlterColumn) upTriggerName() string   { return o.transient("up") }
func (o *AlterColumn) downTriggerName() string { return o.transient("down") }
func (o *AlterColumn) indexPrefix() string     { return o.transient("idx") + "_" }

func (o *AlterColumn) Run(ctx context.Context, conn db.DB, s *schema.Schema) error {
	if o.Changes.RenameOnly() {
		return nil
	}

	t := s.GetTable(o.Table)
	if t == nil {
		return TableDoesNotExistError{Name: o.Table}
	}
	col := t.GetColumn(o.Column)
	if col == nil {
		return ColumnDoesNotExistError{Table: o.Table, Name: o.Column}
	}

	tempPhysical := o.transient(o.Column)

	newType := col.Type
	if o.Changes.Type != nil {
		newType = *o.Changes.Type
	}
	// No Default here: the up/down trigger pair uses tempPhysical being
	// NULL as the "not yet written by this statement" sentinel
	// (pairedGuard), which a column default would defeat. The declared
	// default is applied for real once the temp column is renamed into
	// place, in Complete.
	def := ColumnDef{Type: newType, Nullable: true}
	_, err := conn.ExecContext(ctx, fmt.Sprintf("ALTER TABLE %s ADD COLUMN IF NOT EXISTS %s",
		pq.QuoteIdentifier(o.Table), def.ToSQL(tempPhysical)))
	if err != nil {
		return fmt.Errorf("adding temp column %q on %q: %w", tempPhysical, o.Table, err)
	}

	origPhysical := col.PhysicalName()

	if err := createTrigger(ctx, conn, triggerConfig{
		FunctionName:   o.upTriggerName(),
		TriggerName:    o.upTriggerName(),
		TableName:      o.Table,
		PhysicalColumn: tempPhysical,
		Expr:           o.Up,
		Guard:          pairedGuard(tempPhysical, origPhysical),
		Columns:        shadowColumns(t),
	}); err != nil {
		return fmt.Errorf("creating up trigger for %q: %w", o.Column, err)
	}

	if err := createTrigger(ctx, conn, triggerConfig{
		FunctionName:   o.downTriggerName(),
		TriggerName:    o.downTriggerName(),
		TableName:      o.Table,
		PhysicalColumn: origPhysical,
		Expr:           o.Down,
		Guard:          pairedGuard(origPhysical, tempPhysical),
		Columns:        shadowColumnsAfter(t, o.Column, tempPhysical),
	}); err != nil {
		return fmt.Errorf("creating down trigger for %q: %w", o.Column, err)
	}

	if err := backfillScalar(ctx, conn, t, tempPhysical, o.Up); err != nil {
		return err
	}

	for _, idx := range t.IndicesCovering(col.PhysicalName()) {
		if err := o.duplicateIndex(ctx, conn, idx, col.PhysicalName(), tempPhysical); err != nil {
			return err
		}
	}

	return nil
}

func (o *AlterColumn) duplicateIndex(ctx context.Context, conn db.DB, idx *schema.Index, origPhysical, tempPhysical string) error {
	name := o.indexPrefix() + idx.Name
	cols := make([]string, len(idx.Columns))
	for i, c := range idx.Columns {
		if c == origPhysical {
			c = tempPhysical
		}
		cols[i] = c
	}

	unique := ""
	if idx.Unique {
		unique = "UNIQUE "
	}
	using := ""
	if idx.Method != "" {
		using = fmt.Sprintf(" USING %s", idx.Method)
	}
	where := ""
	if idx.Predicate != "" {
		where = fmt.Sprintf(" WHERE %s", idx.Predicate)
	}

	_, err := conn.ExecContext(ctx, fmt.Sprintf("CREATE %sINDEX CONCURRENTLY IF NOT EXISTS %s ON %s%s (%s)%s",
		unique, pq.QuoteIdentifier(name), pq.QuoteIdentifier(o.Table), using, quoteIdentifierList(cols), where))
	if err != nil {
		return fmt.Errorf("duplicating index %q: %w", idx.Name, err)
	}
	return nil
}

func (o *AlterColumn) Complete(ctx context.Context, conn db.DB, s *schema.Schema) error {
	if o.Changes.RenameOnly() {
		_, err := conn.ExecContext(ctx, fmt.Sprintf("ALTER TABLE IF EXISTS %s RENAME COLUMN %s TO %s",
			pq.QuoteIdentifier(o.Table), pq.QuoteIdentifier(o.Column), pq.QuoteIdentifier(o.newName())))
		if err != nil {
			return fmt.Errorf("renaming column %q to %q: %w", o.Column, o.newName(), err)
		}
		return nil
	}

	if err := dropTrigger(ctx, conn, o.Table, o.upTriggerName(), o.upTriggerName()); err != nil {
		return err
	}
	if err := dropTrigger(ctx, conn, o.Table, o.downTriggerName(), o.downTriggerName()); err != nil {
		return err
	}

	// Dropping the original column cascades to any index that covered
	// only it; duplicated indices live under the transient name and
	// survive, ready to be renamed into the final index's place.
	_, err := conn.ExecContext(ctx, fmt.Sprintf("ALTER TABLE IF EXISTS %s DROP COLUMN IF EXISTS %s",
		pq.QuoteIdentifier(o.Table), pq.QuoteIdentifier(o.Column)))
	if err != nil {
		return fmt.Errorf("dropping old column %q: %w", o.Column, err)
	}

	_, err = conn.ExecContext(ctx, fmt.Sprintf("ALTER TABLE IF EXISTS %s RENAME COLUMN %s TO %s",
		pq.QuoteIdentifier(o.Table), pq.QuoteIdentifier(o.transient(o.Column)), pq.QuoteIdentifier(o.newName())))
	if err != nil {
		return fmt.Errorf("renaming temp column to %q: %w", o.newName(), err)
	}

	if o.Changes.Nullable != nil && !*o.Changes.Nullable {
		_, err := conn.ExecContext(ctx, fmt.Sprintf("ALTER TABLE %s ALTER COLUMN %s SET NOT NULL",
			pq.QuoteIdentifier(o.Table), pq.QuoteIdentifier(o.newName())))
		if err != nil {
			return fmt.Errorf("setting not null on %q: %w", o.newName(), err)
		}
	}

	if o.Changes.Default != nil {
		_, err := conn.ExecContext(ctx, fmt.Sprintf("ALTER TABLE %s ALTER COLUMN %s SET DEFAULT %s",
			pq.QuoteIdentifier(o.Table), pq.QuoteIdentifier(o.newName()), *o.Changes.Default))
		if err != nil {
			return fmt.Errorf("setting default on %q: %w", o.newName(), err)
		}
	}

	names, err := matchingIndexNames(ctx, conn, o.Table, o.indexPrefix())
	if err != nil {
		return err
	}
	for _, name := range names {
		final := name[len(o.indexPrefix()):]
		_, err := conn.ExecContext(ctx, fmt.Sprintf("ALTER INDEX IF EXISTS %s RENAME TO %s",
			pq.QuoteIdentifier(name), pq.QuoteIdentifier(final)))
		if err != nil {
			return fmt.Errorf("renaming duplicated index %q: %w", name, err)
		}
	}

	return nil
}

func (o *AlterColumn) Abort(ctx context.Context, conn db.DB, s *schema.Schema) error {
	if o.Changes.RenameOnly() {
		return nil
	}

	if err := dropTrigger(ctx, conn, o.Table, o.upTriggerName(), o.upTriggerName()); err != nil {
		return err
	}
	if err := dropTrigger(ctx, conn, o.Table, o.downTriggerName(), o.downTriggerName()); err != nil {
		return err
	}

	// CREATE INDEX CONCURRENTLY can leave an INVALID index behind if it
	// failed partway through; abort must find and drop these regardless
	// of validity (spec §9 open question), so this queries the live
	// catalog by name prefix rather than trusting the tracker.
	names, err := matchingIndexNames(ctx, conn, o.Table, o.indexPrefix())
	if err != nil {
		return err
	}
	for _, name := range names {
		if _, err := conn.ExecContext(ctx, fmt.Sprintf("DROP INDEX CONCURRENTLY IF EXISTS %s", pq.QuoteIdentifier(name))); err != nil {
			return fmt.Errorf("dropping duplicated index %q: %w", name, err)
		}
	}

	_, err = conn.ExecContext(ctx, fmt.Sprintf("ALTER TABLE IF EXISTS %s DROP COLUMN IF EXISTS %s",
		pq.QuoteIdentifier(o.Table), pq.QuoteIdentifier(o.transient(o.Column))))
	return err
}

func (o *AlterColumn) UpdateSchema(s *schema.Schema) {
	t := s.GetTable(o.Table)
	if t == nil {
		return
	}
	col := t.GetColumn(o.Column)
	if col == nil {
		return
	}

	if o.Changes.RenameOnly() {
		_ = t.RenameColumn(o.Column, o.newName())
		return
	}

	origPhysical := col.PhysicalName()
	if o.Changes.Type != nil {
		col.Type = *o.Changes.Type
	}
	if o.Changes.Default != nil {
		col.Default = o.Changes.Default
	}
	if o.Changes.Nullable != nil {
		col.Nullable = *o.Changes.Nullable
	}
	col.Alias = o.transient(o.Column)
	retargetIndices(t, origPhysical, col.Alias)
	if o.Changes.Name != nil {
		col.Name = *o.Changes.Name
	}
}

func (o *AlterColumn) Validate(s *schema.Schema) error {
	t := s.GetTable(o.Table)
	if t == nil {
		return TableDoesNotExistError{Name: o.Table}
	}
	if t.GetColumn(o.Column) == nil {
		return ColumnDoesNotExistError{Table: o.Table, Name: o.Column}
	}
	if o.Changes.Name != nil && *o.Changes.Name != o.Column && t.GetColumn(*o.Changes.Name) != nil {
		return ColumnAlreadyExistsError{Table: o.Table, Name: *o.Changes.Name}
	}
	if !o.Changes.RenameOnly() {
		if o.Up == "" {
			return FieldRequiredError{Field: "up"}
		}
		if o.Down == "" {
			return FieldRequiredError{Field: "down"}
		}
	}
	return nil
}

// matchingIndexNames returns the names of every index on table whose
// name starts with prefix, queried directly from the catalog (not the
// tracker) so abort can find CONCURRENTLY-created indices left INVALID
// by a failed build.
func matchingIndexNames(ctx context.Context, conn db.DB, table, prefix string) ([]string, error) {
	rows, err := conn.QueryContext(ctx, `
		SELECT ic.relname
		FROM pg_catalog.pg_index i
		JOIN pg_catalog.pg_class ic ON ic.oid = i.indexrelid
		JOIN pg_catalog.pg_class c ON c.oid = i.indrelid
		WHERE c.relname = $1 AND ic.relname LIKE $2`, table, prefix+"%")
	if err != nil {
		return nil, fmt.Errorf("listing indices on %q: %w", table, err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

// retargetIndices rewrites the tracked column list of every index
// covering from to point at to, mirroring the CREATE INDEX CONCURRENTLY
// duplication Run performs on the live catalog.
func retargetIndices(t *schema.Table, from, to string) {
	for _, idx := range t.Indices {
		for i, c := range idx.Columns {
			if c == from {
				idx.Columns[i] = to
			}
		}
	}
}
