// SPDX-License-Identifier: Apache-2.0

package migrations

import (
	"bytes"
	"context"
	"fmt"
	"text/template"

	"github.com/lib/pq"

	"github.com/reshapehq/reshape/pkg/db"
	"github.com/reshapehq/reshape/pkg/migrations/templates"
	"github.com/reshapehq/reshape/pkg/schema"
)

// triggerSide identifies which view namespace a translation trigger
// belongs to, used as the value written to WritingSideGUC.
type triggerSide string

const (
	sideOld triggerSide = "old"
	sideNew triggerSide = "new"
)

// shadowColumn is one entry of a trigger function's DECLARE block: a
// local variable named after the presented column, bound to NEW's
// current value of the underlying physical column.
type shadowColumn struct {
	Name         string
	PhysicalName string
}

// shadowColumns builds the DECLARE-block column list for every live
// column of t, so up/down expressions can reference bare presented
// column names.
func shadowColumns(t *schema.Table) []shadowColumn {
	cols := make([]shadowColumn, 0, len(t.Columns))
	for _, c := range t.Columns {
		if c.Deleted {
			continue
		}
		cols = append(cols, shadowColumn{Name: c.Name, PhysicalName: c.PhysicalName()})
	}
	return cols
}

// shadowColumnsAfter builds the same DECLARE-block list as shadowColumns,
// except the named column is bound to altPhysical instead of its
// pre-action physical name. A trigger whose expression reads the
// presented name of a column that an action just retargeted to a new
// physical column (e.g. a down trigger translating out of a temporary
// column) needs this post-action view rather than shadowColumns' stale
// one.
func shadowColumnsAfter(t *schema.Table, column, altPhysical string) []shadowColumn {
	cols := shadowColumns(t)
	for i := range cols {
		if cols[i].Name == column {
			cols[i].PhysicalName = altPhysical
		}
	}
	return cols
}

// pairedGuard builds the condition under which a translation trigger
// should compute and write target from other, for a column pair where
// writes can arrive through either of two namespaces (one trigger
// translating each direction). target must be freshly added with no
// column default, so NULL reliably means "not yet written by this
// statement":
//
//   - an INSERT always needs a translated value, since target starts
//     NULL;
//   - an UPDATE needs one only when other actually changed and target
//     did not, i.e. the write came in through other's namespace rather
//     than being an echo of this trigger's own sibling already having
//     written target.
//
// This makes the two triggers of a pair self-guarding regardless of
// which one Postgres fires first for a given statement, without
// relying on any session-level flag being set ahead of time.
func pairedGuard(target, other string) string {
	return fmt.Sprintf(
		"(TG_OP = 'INSERT' AND NEW.%[1]s IS NULL) OR (TG_OP = 'UPDATE' AND NEW.%[2]s IS DISTINCT FROM OLD.%[2]s AND NEW.%[1]s IS NOT DISTINCT FROM OLD.%[1]s)",
		pq.QuoteIdentifier(target), pq.QuoteIdentifier(other),
	)
}

// alwaysGuard is used by triggers with no sibling to ping-pong with
// (e.g. remove_column's single down-only trigger): they should run on
// every statement.
const alwaysGuard = "TRUE"

// triggerConfig parameterises a single translation trigger/function
// pair (spec §4.5, §9).
type triggerConfig struct {
	FunctionName   string
	TriggerName    string
	TableName      string
	PhysicalColumn string
	Expr           string
	Guard          string
	Columns        []shadowColumn
}

// crossTableTriggerConfig parameterises a cross-table up/down trigger
// (add_column/remove_column with a {table, value, where} form).
type crossTableTriggerConfig struct {
	FunctionName    string
	TriggerName     string
	TableName       string
	DependentTable  string
	DependentColumn string
	Expr            string
	Where           string
	Side            triggerSide
	WritingSideGUC  string
}

// createTrigger installs a single-direction value-translation trigger.
func createTrigger(ctx context.Context, conn db.DB, cfg triggerConfig) error {
	funcSQL, err := render("function", templates.Function, cfg)
	if err != nil {
		return err
	}
	if _, err := conn.ExecContext(ctx, funcSQL); err != nil {
		return fmt.Errorf("migrations: creating trigger function %q: %w", cfg.FunctionName, err)
	}

	triggerSQL, err := render("trigger", templates.Trigger, cfg)
	if err != nil {
		return err
	}
	if _, err := conn.ExecContext(ctx, triggerSQL); err != nil {
		return fmt.Errorf("migrations: creating trigger %q: %w", cfg.TriggerName, err)
	}

	return nil
}

// createCrossTableTrigger installs a cross-table up/down trigger.
func createCrossTableTrigger(ctx context.Context, conn db.DB, cfg crossTableTriggerConfig) error {
	cfg.WritingSideGUC = WritingSideGUC

	funcSQL, err := render("cross_table_function", templates.CrossTableFunction, cfg)
	if err != nil {
		return err
	}
	if _, err := conn.ExecContext(ctx, funcSQL); err != nil {
		return fmt.Errorf("migrations: creating cross-table trigger function %q: %w", cfg.FunctionName, err)
	}

	triggerSQL, err := render("cross_table_trigger", templates.CrossTableTrigger, cfg)
	if err != nil {
		return err
	}
	if _, err := conn.ExecContext(ctx, triggerSQL); err != nil {
		return fmt.Errorf("migrations: creating cross-table trigger %q: %w", cfg.TriggerName, err)
	}

	return nil
}

// dropTrigger removes a trigger and its function, tolerating either
// already being gone (used by abort/complete, which must tolerate
// partial application).
func dropTrigger(ctx context.Context, conn db.DB, tableName, triggerName, functionName string) error {
	_, err := conn.ExecContext(ctx, fmt.Sprintf("DROP TRIGGER IF EXISTS %s ON %s",
		pq.QuoteIdentifier(triggerName), pq.QuoteIdentifier(tableName)))
	if err != nil {
		return fmt.Errorf("migrations: dropping trigger %q: %w", triggerName, err)
	}

	_, err = conn.ExecContext(ctx, fmt.Sprintf("DROP FUNCTION IF EXISTS %s() CASCADE",
		pq.QuoteIdentifier(functionName)))
	if err != nil {
		return fmt.Errorf("migrations: dropping trigger function %q: %w", functionName, err)
	}

	return nil
}

// TriggerFunctionName returns the deterministic function/trigger name
// for a translation trigger belonging to a given transient object.
func TriggerFunctionName(transientName, side string) string {
	return transientName + "_trigger_" + side
}

func render(name, body string, data interface{}) (string, error) {
	tmpl := template.Must(template.New(name).Funcs(template.FuncMap{
		"qi": pq.QuoteIdentifier,
		"ql": pq.QuoteLiteral,
	}).Parse(body))

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("migrations: rendering %s template: %w", name, err)
	}
	return buf.String(), nil
}
