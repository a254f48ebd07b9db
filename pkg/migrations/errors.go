// SPDX-License-Identifier: Apache-2.0

package migrations

import "fmt"

// ConfigurationError corresponds to error taxonomy kind 1 (spec §7): a
// missing or invalid migration file, unknown action type, or an
// unparseable SQL fragment in up/down.
type ConfigurationError struct {
	Reason string
}

func (e ConfigurationError) Error() string {
	return fmt.Sprintf("configuration error: %s", e.Reason)
}

// ActionError wraps any error raised while running an action with the
// coordinates spec §7 requires every user-visible error to carry:
// migration name, action index, and action type.
type ActionError struct {
	MigrationName string
	ActionIndex   int
	ActionType    OpType
	Err           error
}

func (e ActionError) Error() string {
	return fmt.Sprintf("migration %q, action %d (%s): %s", e.MigrationName, e.ActionIndex, e.ActionType, e.Err)
}

func (e ActionError) Unwrap() error { return e.Err }

// TableAlreadyExistsError signals a create_table/rename_table collision.
type TableAlreadyExistsError struct{ Name string }

func (e TableAlreadyExistsError) Error() string {
	return fmt.Sprintf("table %q already exists", e.Name)
}

// TableDoesNotExistError signals a reference to a table the tracker has
// no record of.
type TableDoesNotExistError struct{ Name string }

func (e TableDoesNotExistError) Error() string {
	return fmt.Sprintf("table %q does not exist", e.Name)
}

// ColumnAlreadyExistsError signals an add_column collision.
type ColumnAlreadyExistsError struct{ Table, Name string }

func (e ColumnAlreadyExistsError) Error() string {
	return fmt.Sprintf("column %q already exists on table %q", e.Name, e.Table)
}

// ColumnDoesNotExistError signals a reference to a column the tracker
// has no record of.
type ColumnDoesNotExistError struct{ Table, Name string }

func (e ColumnDoesNotExistError) Error() string {
	return fmt.Sprintf("column %q does not exist on table %q", e.Name, e.Table)
}

// IndexDoesNotExistError signals a remove_index referencing an unknown
// index.
type IndexDoesNotExistError struct{ Name string }

func (e IndexDoesNotExistError) Error() string {
	return fmt.Sprintf("index %q does not exist", e.Name)
}

// EnumAlreadyExistsError signals a create_enum collision.
type EnumAlreadyExistsError struct{ Name string }

func (e EnumAlreadyExistsError) Error() string {
	return fmt.Sprintf("enum %q already exists", e.Name)
}

// EnumDoesNotExistError signals a reference to an unknown enum type.
type EnumDoesNotExistError struct{ Name string }

func (e EnumDoesNotExistError) Error() string {
	return fmt.Sprintf("enum %q does not exist", e.Name)
}

// EnumInUseError signals remove_enum finding a column still using the
// type (spec §4.4.11: "verify no column uses it").
type EnumInUseError struct {
	Name    string
	Columns []string
}

func (e EnumInUseError) Error() string {
	return fmt.Sprintf("enum %q is still in use by columns: %v", e.Name, e.Columns)
}

// FieldRequiredError signals a missing required action parameter, e.g.
// `up` on a non-nullable add_column with no default.
type FieldRequiredError struct{ Field string }

func (e FieldRequiredError) Error() string {
	return fmt.Sprintf("field %q is required", e.Field)
}

// ForeignKeyDoesNotExistError signals remove_foreign_key referencing an
// unknown constraint.
type ForeignKeyDoesNotExistError struct{ Table, Name string }

func (e ForeignKeyDoesNotExistError) Error() string {
	return fmt.Sprintf("foreign key %q does not exist on table %q", e.Name, e.Table)
}

// InvariantViolationError corresponds to taxonomy kind 6 (spec §7): the
// tracker and the live catalog disagree, indicating either a bug or
// out-of-band DDL (e.g. a custom action that silently created an object
// a later declarative action then assumes exists — spec §9 Open
// Question).
type InvariantViolationError struct{ Reason string }

func (e InvariantViolationError) Error() string {
	return fmt.Sprintf("invariant violation: %s", e.Reason)
}
