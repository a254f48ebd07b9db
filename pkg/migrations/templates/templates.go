// SPDX-License-Identifier: Apache-2.0

// Package templates holds the text/template bodies used to generate
// translation trigger functions and triggers (spec §4.5, §9).
package templates

// Function is the trigger function body for a single-direction value
// translation. Guard is the condition under which it actually computes
// and writes the translated value; when a column has a paired trigger
// translating the opposite direction (alter_column, alter_enum),
// Guard is built by pairedGuard so the two triggers of a pair consult
// NEW/OLD rather than a session-level flag, and stay correct regardless
// of which one Postgres fires first for a given statement. A trigger
// with no sibling (remove_column) uses alwaysGuard.
//
// The DECLARE block shadows every tracked column of the table with a
// local variable bound to NEW's current value, so that an up/down
// expression like `age::TEXT` can refer to the bare presented column
// name rather than having to know the row's physical layout.
const Function = `CREATE OR REPLACE FUNCTION {{ .FunctionName | qi }}()
    RETURNS TRIGGER
    LANGUAGE PLPGSQL
    AS $$
    DECLARE
      {{- range .Columns }}
      {{ .Name | qi }} {{ $.TableName | qi }}.{{ .PhysicalName | qi }}%TYPE := NEW.{{ .PhysicalName | qi }};
      {{- end }}
    BEGIN
      IF NOT ({{ .Guard }}) THEN
        RETURN NEW;
      END IF;

      NEW.{{ .PhysicalColumn | qi }} = {{ .Expr }};
      RETURN NEW;
    END; $$
`

// Trigger is the CREATE TRIGGER statement pairing a function with a
// table, firing BEFORE INSERT OR UPDATE so the translated value lands in
// the same row version being written.
const Trigger = `CREATE OR REPLACE TRIGGER {{ .TriggerName | qi }}
    BEFORE INSERT OR UPDATE ON {{ .TableName | qi }}
    FOR EACH ROW
    EXECUTE PROCEDURE {{ .FunctionName | qi }}();
`

// CrossTableFunction is the AFTER INSERT OR UPDATE trigger function body
// used for cross-table up/down rules (add_column/remove_column with a
// `{table, value, where}` form): it performs a one-row UPDATE against
// the dependent table rather than computing NEW directly.
const CrossTableFunction = `CREATE OR REPLACE FUNCTION {{ .FunctionName | qi }}()
    RETURNS TRIGGER
    LANGUAGE PLPGSQL
    AS $$
    BEGIN
      IF current_setting({{ .WritingSideGUC | ql }}, true) = {{ .Side | ql }} THEN
        RETURN NEW;
      END IF;

      PERFORM set_config({{ .WritingSideGUC | ql }}, {{ .Side | ql }}, true);
      UPDATE {{ .DependentTable | qi }} SET {{ .DependentColumn | qi }} = {{ .Expr }}
        WHERE {{ .Where }};
      RETURN NEW;
    END; $$
`

// CrossTableTrigger mirrors Trigger but fires AFTER the row exists, since
// CrossTableFunction writes to a different table keyed off the new row.
const CrossTableTrigger = `CREATE OR REPLACE TRIGGER {{ .TriggerName | qi }}
    AFTER INSERT OR UPDATE ON {{ .TableName | qi }}
    FOR EACH ROW
    EXECUTE PROCEDURE {{ .FunctionName | qi }}();
`
