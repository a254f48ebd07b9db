// SPDX-License-Identifier: Apache-2.0

package migrations

import (
	"context"
	"fmt"

	"github.com/lib/pq"

	"github.com/reshapehq/reshape/pkg/db"
	"github.com/reshapehq/reshape/pkg/schema"
)

var _ Operation = (*RemoveForeignKey)(nil)

// RemoveForeignKey is the remove_foreign_key action (spec §4.4.5): the
// constraint still protects the old namespace's writes until complete.
type RemoveForeignKey struct {
	coordinates

	Table string `json:"table"`
	Name  string `json:"name"`
}

func (o *RemoveForeignKey) Run(ctx context.Context, conn db.DB, s *schema.Schema) error {
	var exists bool
	err := conn.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM pg_constraint WHERE conname = $1 AND conrelid = $2::regclass)`,
		o.Name, o.Table).Scan(&exists)
	if err != nil {
		return fmt.Errorf("checking foreign key %q on %q: %w", o.Name, o.Table, err)
	}
	if !exists {
		return ForeignKeyDoesNotExistError{Table: o.Table, Name: o.Name}
	}
	return nil
}

func (o *RemoveForeignKey) Complete(ctx context.Context, conn db.DB, s *schema.Schema) error {
	_, err := conn.ExecContext(ctx, fmt.Sprintf("ALTER TABLE IF EXISTS %s DROP CONSTRAINT IF EXISTS %s",
		pq.QuoteIdentifier(o.Table), pq.QuoteIdentifier(o.Name)))
	if err != nil {
		return fmt.Errorf("dropping foreign key %q on %q: %w", o.Name, o.Table, err)
	}
	return nil
}

func (o *RemoveForeignKey) Abort(ctx context.Context, conn db.DB, s *schema.Schema) error {
	return nil
}

func (o *RemoveForeignKey) UpdateSchema(s *schema.Schema) {
	t := s.GetTable(o.Table)
	if t == nil {
		return
	}
	t.RemoveForeignKey(o.Name)
}

func (o *RemoveForeignKey) Validate(s *schema.Schema) error {
	t := s.GetTable(o.Table)
	if t == nil {
		return TableDoesNotExistError{Name: o.Table}
	}
	if t.GetForeignKey(o.Name) == nil {
		return ForeignKeyDoesNotExistError{Table: o.Table, Name: o.Name}
	}
	return nil
}
