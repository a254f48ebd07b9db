// SPDX-License-Identifier: Apache-2.0

package migrations

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reshapehq/reshape/pkg/schema"
)

func TestOperationsRoundTrip(t *testing.T) {
	raw := []byte(`[
		{"type": "create_table", "name": "users", "columns": [{"name": "id", "type": "serial"}], "primaryKey": ["id"]},
		{"type": "add_column", "table": "users", "column": {"name": "age", "type": "int4", "nullable": true}}
	]`)

	var ops Operations
	require.NoError(t, ops.UnmarshalJSON(raw))
	require.Len(t, ops, 2)

	create, ok := ops[0].(*CreateTable)
	require.True(t, ok)
	assert.Equal(t, "users", create.Name)

	add, ok := ops[1].(*AddColumn)
	require.True(t, ok)
	assert.Equal(t, "users", add.Table)
	assert.Equal(t, "age", add.Column.Name)

	encoded, err := ops.MarshalJSON()
	require.NoError(t, err)

	var roundTripped Operations
	require.NoError(t, roundTripped.UnmarshalJSON(encoded))
	require.Len(t, roundTripped, 2)
	assert.Equal(t, OpCreateTable, TypeOf(roundTripped[0]))
	assert.Equal(t, OpAddColumn, TypeOf(roundTripped[1]))
}

func TestOperationsUnmarshalMissingType(t *testing.T) {
	var ops Operations
	err := ops.UnmarshalJSON([]byte(`[{"table": "users"}]`))
	assert.Error(t, err)
}

func TestOperationsUnmarshalUnknownType(t *testing.T) {
	var ops Operations
	err := ops.UnmarshalJSON([]byte(`[{"type": "nonsense"}]`))
	assert.Error(t, err)
}

func TestOperationsUnmarshalRejectsUnknownFields(t *testing.T) {
	var ops Operations
	err := ops.UnmarshalJSON([]byte(`[{"type": "create_enum", "name": "mood", "values": ["sad"], "bogus": true}]`))
	assert.Error(t, err)
}

func TestOperationsEmpty(t *testing.T) {
	var ops Operations
	body, err := ops.MarshalJSON()
	require.NoError(t, err)
	assert.Equal(t, "[]", string(body))
}

func TestMigrationValidateThreadsSchemaAcrossActions(t *testing.T) {
	m := &Migration{
		Name: "add_then_remove",
		Operations: Operations{
			&CreateTable{Name: "widgets", Columns: []ColumnDef{{Name: "id", Type: "serial"}}, PrimaryKey: []string{"id"}},
			&RemoveTable{Name: "widgets"},
		},
	}

	err := m.Validate(schema.New())
	assert.NoError(t, err)
}

func TestMigrationValidateWrapsActionError(t *testing.T) {
	m := &Migration{
		Name:       "remove_missing",
		Operations: Operations{&RemoveTable{Name: "does_not_exist"}},
	}

	err := m.Validate(schema.New())
	require.Error(t, err)

	var actionErr ActionError
	require.ErrorAs(t, err, &actionErr)
	assert.Equal(t, 0, actionErr.ActionIndex)
	assert.Equal(t, OpRemoveTable, actionErr.ActionType)
}
