// SPDX-License-Identifier: Apache-2.0

package migrations

import (
	"context"
	"fmt"

	"github.com/lib/pq"

	"github.com/reshapehq/reshape/pkg/db"
	"github.com/reshapehq/reshape/pkg/schema"
)

var _ Operation = (*RenameTable)(nil)

// RenameTable is the rename_table action (spec §4.4.2): purely a
// view-namespace change until complete, so concurrent old-namespace
// traffic keeps working against the unrenamed table.
type RenameTable struct {
	coordinates

	From string `json:"from"`
	To   string `json:"to"`
}

func (o *RenameTable) Run(ctx context.Context, conn db.DB, s *schema.Schema) error {
	return nil
}

func (o *RenameTable) Complete(ctx context.Context, conn db.DB, s *schema.Schema) error {
	_, err := conn.ExecContext(ctx, fmt.Sprintf("ALTER TABLE IF EXISTS %s RENAME TO %s",
		pq.QuoteIdentifier(o.From), pq.QuoteIdentifier(o.To)))
	if err != nil {
		return fmt.Errorf("renaming table %q to %q: %w", o.From, o.To, err)
	}
	return nil
}

func (o *RenameTable) Abort(ctx context.Context, conn db.DB, s *schema.Schema) error {
	return nil
}

func (o *RenameTable) UpdateSchema(s *schema.Schema) {
	_ = s.RenameTable(o.From, o.To)
}

func (o *RenameTable) Validate(s *schema.Schema) error {
	if s.GetTable(o.From) == nil {
		return TableDoesNotExistError{Name: o.From}
	}
	if s.GetTable(o.To) != nil {
		return TableAlreadyExistsError{Name: o.To}
	}
	return nil
}
