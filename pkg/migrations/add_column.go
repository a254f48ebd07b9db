// SPDX-License-Identifier: Apache-2.0

package migrations

import (
	"context"
	"errors"
	"fmt"

	"github.com/lib/pq"

	"github.com/reshapehq/reshape/pkg/db"
	"github.com/reshapehq/reshape/pkg/schema"
)

var _ Operation = (*AddColumn)(nil)

// AddColumn is the add_column action (spec §4.4.6). The column is added
// under a temporary physical name so existing application instances,
// bound to the old view namespace, never see it until complete renames
// it into place.
type AddColumn struct {
	coordinates

	Table  string    `json:"table"`
	Column ColumnDef `json:"column"`
	Up     *Expr     `json:"up,omitempty"`
}

func (o *AddColumn) physicalName() string {
	return o.transient(o.Column.Name)
}

func (o *AddColumn) checkName() string {
	return o.transient(o.Column.Name + "_check")
}

func (o *AddColumn) Run(ctx context.Context, conn db.DB, s *schema.Schema) error {
	physical := o.physicalName()

	def := o.Column
	def.Nullable = true // the real NOT NULL is enforced via the proxy CHECK below
	_, err := conn.ExecContext(ctx, fmt.Sprintf("ALTER TABLE %s ADD COLUMN IF NOT EXISTS %s",
		pq.QuoteIdentifier(o.Table), def.ToSQL(physical)))
	if err != nil {
		return fmt.Errorf("adding column %q on %q: %w", physical, o.Table, err)
	}

	if !o.Column.Nullable {
		// A proxy CHECK, added NOT VALID then validated, stands in for
		// a blocking SET NOT NULL; complete later promotes it.
		_, err := conn.ExecContext(ctx, fmt.Sprintf(
			"ALTER TABLE %s ADD CONSTRAINT %s CHECK (%s IS NOT NULL) NOT VALID",
			pq.QuoteIdentifier(o.Table), pq.QuoteIdentifier(o.checkName()), pq.QuoteIdentifier(physical)))
		if err != nil && !isDuplicateObject(err) {
			return fmt.Errorf("adding not-null check on %q: %w", physical, err)
		}
	}

	if o.Up != nil {
		if o.Up.CrossTable() {
			if err := createCrossTableTrigger(ctx, conn, crossTableTriggerConfig{
				FunctionName:    TriggerFunctionName(o.transient(""), "up"),
				TriggerName:     TriggerFunctionName(o.transient(""), "up"),
				TableName:       o.Table,
				DependentTable:  o.Up.Table,
				DependentColumn: physical,
				Expr:            o.Up.Value,
				Where:           o.Up.Where,
				Side:            sideNew,
			}); err != nil {
				return err
			}
			if err := backfillCrossTable(ctx, conn, o.Table, physical, o.Up.Table, o.Up.Value, o.Up.Where); err != nil {
				return err
			}
		} else {
			t := s.GetTable(o.Table)
			if t == nil {
				return TableDoesNotExistError{Name: o.Table}
			}
			if err := backfillScalar(ctx, conn, t, physical, o.Up.Scalar); err != nil {
				return err
			}
		}
	} else if o.Column.Default == nil && !o.Column.Nullable {
		return FieldRequiredError{Field: "up"}
	}

	if !o.Column.Nullable {
		_, err := conn.ExecContext(ctx, fmt.Sprintf("ALTER TABLE %s VALIDATE CONSTRAINT %s",
			pq.QuoteIdentifier(o.Table), pq.QuoteIdentifier(o.checkName())))
		if err != nil {
			return fmt.Errorf("validating not-null check on %q: %w", physical, err)
		}
	}

	return nil
}

func (o *AddColumn) Complete(ctx context.Context, conn db.DB, s *schema.Schema) error {
	physical := o.physicalName()

	if o.Up != nil && o.Up.CrossTable() {
		name := TriggerFunctionName(o.transient(""), "up")
		if err := dropTrigger(ctx, conn, o.Table, name, name); err != nil {
			return err
		}
	}

	_, err := conn.ExecContext(ctx, fmt.Sprintf("ALTER TABLE IF EXISTS %s RENAME COLUMN %s TO %s",
		pq.QuoteIdentifier(o.Table), pq.QuoteIdentifier(physical), pq.QuoteIdentifier(o.Column.Name)))
	if err != nil {
		return fmt.Errorf("renaming column %q to %q: %w", physical, o.Column.Name, err)
	}

	if !o.Column.Nullable {
		_, err := conn.ExecContext(ctx, fmt.Sprintf("ALTER TABLE %s ALTER COLUMN %s SET NOT NULL",
			pq.QuoteIdentifier(o.Table), pq.QuoteIdentifier(o.Column.Name)))
		if err != nil {
			return fmt.Errorf("promoting not-null on %q: %w", o.Column.Name, err)
		}
		_, err = conn.ExecContext(ctx, fmt.Sprintf("ALTER TABLE %s DROP CONSTRAINT IF EXISTS %s",
			pq.QuoteIdentifier(o.Table), pq.QuoteIdentifier(o.checkName())))
		if err != nil {
			return fmt.Errorf("dropping proxy not-null check on %q: %w", o.Column.Name, err)
		}
	}

	return nil
}

func (o *AddColumn) Abort(ctx context.Context, conn db.DB, s *schema.Schema) error {
	if o.Up != nil && o.Up.CrossTable() {
		name := TriggerFunctionName(o.transient(""), "up")
		if err := dropTrigger(ctx, conn, o.Table, name, name); err != nil {
			return err
		}
	}
	_, err := conn.ExecContext(ctx, fmt.Sprintf("ALTER TABLE IF EXISTS %s DROP COLUMN IF EXISTS %s",
		pq.QuoteIdentifier(o.Table), pq.QuoteIdentifier(o.physicalName())))
	return err
}

func (o *AddColumn) UpdateSchema(s *schema.Schema) {
	t := s.GetTable(o.Table)
	if t == nil {
		return
	}
	t.AddColumn(&schema.Column{
		Name:      o.Column.Name,
		Alias:     o.physicalName(),
		Type:      o.Column.Type,
		Nullable:  o.Column.Nullable,
		Default:   o.Column.Default,
		Generated: o.Column.Generated,
	})
}

func (o *AddColumn) Validate(s *schema.Schema) error {
	t := s.GetTable(o.Table)
	if t == nil {
		return TableDoesNotExistError{Name: o.Table}
	}
	if t.GetColumn(o.Column.Name) != nil {
		return ColumnAlreadyExistsError{Table: o.Table, Name: o.Column.Name}
	}
	if !o.Column.Nullable && o.Column.Default == nil && o.Up == nil {
		return FieldRequiredError{Field: "up"}
	}
	return nil
}

// isDuplicateObject reports whether err is Postgres' "duplicate_object"
// class, used to make constraint creation idempotent across retries.
func isDuplicateObject(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "42710"
}
