// SPDX-License-Identifier: Apache-2.0

package view

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/reshapehq/reshape/pkg/schema"
)

func TestDiverges(t *testing.T) {
	plain := []*schema.Column{
		{Name: "id", Type: "int4"},
		{Name: "name", Type: "text"},
	}
	assert.False(t, diverges(plain))

	aliased := []*schema.Column{
		{Name: "id", Type: "int4"},
		{Name: "full_name", Alias: "name", Type: "text"},
	}
	assert.True(t, diverges(aliased))
}

func TestPrimaryKeyWhere(t *testing.T) {
	tbl := &schema.Table{Name: "users", PrimaryKey: []string{"id"}}
	cols := []*schema.Column{
		{Name: "id", Type: "int4"},
		{Name: "full_name", Alias: "name", Type: "text"},
	}

	clause, err := primaryKeyWhere(tbl, cols, "OLD")
	assert.NoError(t, err)
	assert.Equal(t, `"id" = OLD."id"`, clause)
}

func TestPrimaryKeyWhereMissingColumn(t *testing.T) {
	tbl := &schema.Table{Name: "users", PrimaryKey: []string{"user_id"}}
	cols := []*schema.Column{{Name: "id", Type: "int4"}}

	_, err := primaryKeyWhere(tbl, cols, "OLD")
	assert.Error(t, err)
}

func TestPrimaryKeyWhereNoPrimaryKey(t *testing.T) {
	tbl := &schema.Table{Name: "users"}
	_, err := primaryKeyWhere(tbl, nil, "OLD")
	assert.Error(t, err)
}

func TestNamespace(t *testing.T) {
	assert.Equal(t, "migration_add_users", Namespace("add_users"))
}
