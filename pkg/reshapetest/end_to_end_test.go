//go:build integration

// SPDX-License-Identifier: Apache-2.0

package reshapetest_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reshapehq/reshape/pkg/migrations"
	"github.com/reshapehq/reshape/pkg/reshapetest"
)

func TestMain(m *testing.M) {
	reshapetest.SharedTestMain(m)
}

// TestRenameColumnWithLiveWrites exercises spec §8 scenario 1: a row
// written through the old view namespace after start is visible under
// the new column name through the new namespace.
func TestRenameColumnWithLiveWrites(t *testing.T) {
	t.Parallel()

	reshapetest.WithFixture(t, "1.0.0", func(f *reshapetest.Fixture) {
		ctx := context.Background()

		_, err := f.DB.ExecContext(ctx, `CREATE TABLE users (id serial PRIMARY KEY, name text)`)
		require.NoError(t, err)
		_, err = f.DB.ExecContext(ctx, `INSERT INTO users (name) VALUES ('Ada')`)
		require.NoError(t, err)

		m2 := &migrations.Migration{
			Name: "02_rename_name_to_family_name",
			Operations: migrations.Operations{
				&migrations.AlterColumn{
					Table:   "users",
					Column:  "name",
					Changes: migrations.ColumnChanges{Name: strPtr("family_name")},
				},
			},
		}
		require.NoError(t, f.Orchestrator.Start(ctx, m2))

		_, err = f.DB.ExecContext(ctx, `INSERT INTO users (name) VALUES ('Boyd')`)
		require.NoError(t, err)

		var familyName string
		err = f.DB.QueryRowContext(ctx,
			`SELECT family_name FROM migration_02_rename_name_to_family_name.users WHERE family_name = 'Boyd'`,
		).Scan(&familyName)
		require.NoError(t, err)
		assert.Equal(t, "Boyd", familyName)

		require.NoError(t, f.Orchestrator.Complete(ctx))

		var column string
		err = f.DB.QueryRowContext(ctx,
			`SELECT column_name FROM information_schema.columns WHERE table_name = 'users' AND column_name = 'family_name'`,
		).Scan(&column)
		require.NoError(t, err)
		assert.Equal(t, "family_name", column)
	})
}

// TestAlterColumnTypeWithLiveWrites exercises spec §8 scenario 2: an
// INTEGER->TEXT type change where a write through either view namespace
// is visible, correctly translated, through the other one, and neither
// namespace's trigger undoes the other's write to the same row.
func TestAlterColumnTypeWithLiveWrites(t *testing.T) {
	t.Parallel()

	reshapetest.WithFixture(t, "1.0.0", func(f *reshapetest.Fixture) {
		ctx := context.Background()

		_, err := f.DB.ExecContext(ctx, `CREATE TABLE users (id serial PRIMARY KEY, age integer)`)
		require.NoError(t, err)
		_, err = f.DB.ExecContext(ctx, `INSERT INTO users (age) VALUES (30)`)
		require.NoError(t, err)

		m := &migrations.Migration{
			Name: "02_alter_age_to_text",
			Operations: migrations.Operations{
				&migrations.AlterColumn{
					Table:   "users",
					Column:  "age",
					Up:      "age::TEXT",
					Down:    "age::INTEGER",
					Changes: migrations.ColumnChanges{Type: strPtr("TEXT")},
				},
			},
		}
		require.NoError(t, f.Orchestrator.Start(ctx, m))

		// A write through the new (TEXT) namespace must be visible,
		// translated, through the old (INTEGER) namespace, and must
		// stick rather than being clobbered by the down trigger.
		_, err = f.DB.ExecContext(ctx, `UPDATE migration_02_alter_age_to_text.users SET age = '31' WHERE id = 1`)
		require.NoError(t, err)

		var ageNew string
		err = f.DB.QueryRowContext(ctx, `SELECT age FROM migration_02_alter_age_to_text.users WHERE id = 1`).Scan(&ageNew)
		require.NoError(t, err)
		assert.Equal(t, "31", ageNew)

		var ageOld int
		err = f.DB.QueryRowContext(ctx, `SELECT age FROM public.users WHERE id = 1`).Scan(&ageOld)
		require.NoError(t, err)
		assert.Equal(t, 31, ageOld)

		// A write through the old (INTEGER) namespace must translate
		// the other way and must not be undone by the up trigger.
		_, err = f.DB.ExecContext(ctx, `UPDATE public.users SET age = 42 WHERE id = 1`)
		require.NoError(t, err)

		err = f.DB.QueryRowContext(ctx, `SELECT age FROM migration_02_alter_age_to_text.users WHERE id = 1`).Scan(&ageNew)
		require.NoError(t, err)
		assert.Equal(t, "42", ageNew)

		require.NoError(t, f.Orchestrator.Complete(ctx))

		var dataType string
		err = f.DB.QueryRowContext(ctx,
			`SELECT data_type FROM information_schema.columns WHERE table_name = 'users' AND column_name = 'age'`,
		).Scan(&dataType)
		require.NoError(t, err)
		assert.Equal(t, "text", dataType)
	})
}

func strPtr(s string) *string { return &s }
