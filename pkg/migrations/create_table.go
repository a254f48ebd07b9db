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

var _ Operation = (*CreateTable)(nil)

// CreateTableSync declares the optional backfill-and-sync source for a
// newly created table (spec §4.4.1): a trigger keeps the new table
// populated from Table going forward, and a one-shot backfill pass
// catches rows that already existed.
type CreateTableSync struct {
	Table            string            `json:"table"`
	Columns          map[string]string `json:"columns"`
	UpsertConstraint string            `json:"upsertConstraint,omitempty"`
}

// CreateTable is the create_table action (spec §4.4.1).
type CreateTable struct {
	coordinates

	Name        string           `json:"name"`
	Columns     []ColumnDef      `json:"columns"`
	PrimaryKey  []string         `json:"primaryKey,omitempty"`
	ForeignKeys []ForeignKeyDef  `json:"foreignKeys,omitempty"`
	Up          *CreateTableSync `json:"up,omitempty"`
}

func (o *CreateTable) Run(ctx context.Context, conn db.DB, s *schema.Schema) error {
	var parts []string
	for _, col := range o.Columns {
		parts = append(parts, col.ToSQL(col.Name))
	}
	if len(o.PrimaryKey) > 0 {
		parts = append(parts, fmt.Sprintf("PRIMARY KEY (%s)", quoteIdentifierList(o.PrimaryKey)))
	}
	for _, fk := range o.ForeignKeys {
		parts = append(parts, fmt.Sprintf("FOREIGN KEY (%s) REFERENCES %s (%s)%s",
			quoteIdentifierList(fk.Columns),
			pq.QuoteIdentifier(fk.ReferencedTable),
			quoteIdentifierList(fk.ReferencedColumns),
			onDeleteClause(fk.OnDelete),
		))
	}

	_, err := conn.ExecContext(ctx, fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (%s)",
		pq.QuoteIdentifier(o.Name), strings.Join(parts, ", ")))
	if err != nil {
		return fmt.Errorf("creating table %q: %w", o.Name, err)
	}

	if o.Up != nil {
		if err := o.installSync(ctx, conn); err != nil {
			return err
		}
	}

	return nil
}

func (o *CreateTable) installSync(ctx context.Context, conn db.DB) error {
	functionName := o.Name + "_sync_trigger_fn"
	triggerName := o.Name + "_sync_trigger"

	setClauses := make([]string, 0, len(o.Up.Columns))
	for destCol, srcExpr := range o.Up.Columns {
		setClauses = append(setClauses, fmt.Sprintf("%s = %s", pq.QuoteIdentifier(destCol), srcExpr))
	}

	conflictClause := "ON CONFLICT DO NOTHING"
	if o.Up.UpsertConstraint != "" {
		conflictClause = fmt.Sprintf("ON CONFLICT ON CONSTRAINT %s DO UPDATE SET %s",
			pq.QuoteIdentifier(o.Up.UpsertConstraint), strings.Join(setClauses, ", "))
	}

	destCols := make([]string, 0, len(o.Up.Columns))
	selectExprs := make([]string, 0, len(o.Up.Columns))
	for destCol, srcExpr := range o.Up.Columns {
		destCols = append(destCols, pq.QuoteIdentifier(destCol))
		selectExprs = append(selectExprs, srcExpr)
	}

	funcSQL := fmt.Sprintf(`CREATE OR REPLACE FUNCTION %s()
		RETURNS TRIGGER
		LANGUAGE PLPGSQL
		AS $$
		BEGIN
		  INSERT INTO %s (%s) VALUES (%s) %s;
		  RETURN NEW;
		END; $$`,
		pq.QuoteIdentifier(functionName),
		pq.QuoteIdentifier(o.Name),
		strings.Join(destCols, ", "),
		strings.Join(selectExprs, ", "),
		conflictClause,
	)
	if _, err := conn.ExecContext(ctx, funcSQL); err != nil {
		return fmt.Errorf("creating sync trigger function for table %q: %w", o.Name, err)
	}

	triggerSQL := fmt.Sprintf(`CREATE OR REPLACE TRIGGER %s
		AFTER INSERT OR UPDATE ON %s
		FOR EACH ROW
		EXECUTE PROCEDURE %s()`,
		pq.QuoteIdentifier(triggerName),
		pq.QuoteIdentifier(o.Up.Table),
		pq.QuoteIdentifier(functionName),
	)
	if _, err := conn.ExecContext(ctx, triggerSQL); err != nil {
		return fmt.Errorf("creating sync trigger on %q: %w", o.Up.Table, err)
	}

	return backfillInsertSelect(ctx, conn, o.Up.Table, o.Name, o.Up.Columns, o.Up.UpsertConstraint)
}

func (o *CreateTable) Complete(ctx context.Context, conn db.DB, s *schema.Schema) error {
	if o.Up == nil {
		return nil
	}
	return dropTrigger(ctx, conn, o.Up.Table, o.Name+"_sync_trigger", o.Name+"_sync_trigger_fn")
}

func (o *CreateTable) Abort(ctx context.Context, conn db.DB, s *schema.Schema) error {
	if o.Up != nil {
		if err := dropTrigger(ctx, conn, o.Up.Table, o.Name+"_sync_trigger", o.Name+"_sync_trigger_fn"); err != nil {
			return err
		}
	}
	_, err := conn.ExecContext(ctx, fmt.Sprintf("DROP TABLE IF EXISTS %s CASCADE", pq.QuoteIdentifier(o.Name)))
	return err
}

func (o *CreateTable) UpdateSchema(s *schema.Schema) {
	t := &schema.Table{Name: o.Name, PrimaryKey: o.PrimaryKey}
	for _, col := range o.Columns {
		t.AddColumn(&schema.Column{
			Name:      col.Name,
			Type:      col.Type,
			Nullable:  col.Nullable,
			Default:   col.Default,
			Generated: col.Generated,
		})
	}
	for _, fk := range o.ForeignKeys {
		t.AddForeignKey(&schema.ForeignKey{
			Name:              ForeignKeyName(o.Name, fk.Columns),
			Columns:           fk.Columns,
			ReferencedTable:   fk.ReferencedTable,
			ReferencedColumns: fk.ReferencedColumns,
			OnDelete:          fk.OnDelete,
		})
	}
	s.AddTable(o.Name, t)
}

func (o *CreateTable) Validate(s *schema.Schema) error {
	if s.GetTable(o.Name) != nil {
		return TableAlreadyExistsError{Name: o.Name}
	}
	if len(o.Columns) == 0 {
		return FieldRequiredError{Field: "columns"}
	}
	for _, fk := range o.ForeignKeys {
		if s.GetTable(fk.ReferencedTable) == nil {
			return TableDoesNotExistError{Name: fk.ReferencedTable}
		}
	}
	if o.Up != nil {
		if s.GetTable(o.Up.Table) == nil {
			return TableDoesNotExistError{Name: o.Up.Table}
		}
		if len(o.Up.Columns) == 0 {
			return FieldRequiredError{Field: "up.columns"}
		}
	}
	return nil
}

func quoteIdentifierList(names []string) string {
	quoted := make([]string, len(names))
	for i, n := range names {
		quoted[i] = pq.QuoteIdentifier(n)
	}
	return strings.Join(quoted, ", ")
}

func onDeleteClause(onDelete string) string {
	if onDelete == "" {
		return ""
	}
	return " ON DELETE " + onDelete
}
