// SPDX-License-Identifier: Apache-2.0

package loader

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reshapehq/reshape/pkg/migrations"
)

func writeFile(t *testing.T, dir, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
}

func TestLoadJSONAndTOML(t *testing.T) {
	dir := t.TempDir()

	writeFile(t, dir, "001_create_users.json", `{
		"actions": [
			{"type": "create_table", "name": "users", "columns": [{"name": "id", "type": "serial"}], "primaryKey": ["id"]}
		]
	}`)

	writeFile(t, dir, "002_add_age.toml", `
[[actions]]
type = "add_column"
table = "users"

  [actions.column]
  name = "age"
  type = "int4"
  nullable = true
`)

	migs, err := Load(dir)
	require.NoError(t, err)
	require.Len(t, migs, 2)

	assert.Equal(t, "001_create_users", migs[0].Name)
	require.Len(t, migs[0].Operations, 1)
	assert.Equal(t, migrations.OpCreateTable, migrations.TypeOf(migs[0].Operations[0]))

	assert.Equal(t, "002_add_age", migs[1].Name)
	require.Len(t, migs[1].Operations, 1)
	add, ok := migs[1].Operations[0].(*migrations.AddColumn)
	require.True(t, ok)
	assert.Equal(t, "users", add.Table)
	assert.Equal(t, "age", add.Column.Name)
}

func TestLoadRejectsUnknownActionType(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "001_bad.json", `{"actions": [{"type": "not_a_real_action"}]}`)

	_, err := Load(dir)
	assert.Error(t, err)
}

func TestLoadRejectsMissingActions(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "001_bad.json", `{"name": "no_actions"}`)

	_, err := Load(dir)
	assert.Error(t, err)
}

func TestLoadHonorsExplicitName(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "001_x.json", `{"name": "custom_name", "actions": [{"type": "create_table", "name": "t", "columns": [{"name": "id", "type": "serial"}]}]}`)

	migs, err := Load(dir)
	require.NoError(t, err)
	require.Len(t, migs, 1)
	assert.Equal(t, "custom_name", migs[0].Name)
}
