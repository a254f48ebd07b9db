// SPDX-License-Identifier: Apache-2.0

package migrations

import (
	"context"
	"fmt"

	"github.com/lib/pq"

	"github.com/reshapehq/reshape/pkg/db"
	"github.com/reshapehq/reshape/pkg/schema"
)

var _ Operation = (*RemoveTable)(nil)

// RemoveTable is the remove_table action (spec §4.4.3): the table keeps
// backing the old namespace until complete, so it can only be dropped
// once the old namespace is retired.
type RemoveTable struct {
	coordinates

	Name string `json:"name"`
}

func (o *RemoveTable) Run(ctx context.Context, conn db.DB, s *schema.Schema) error {
	return nil
}

func (o *RemoveTable) Complete(ctx context.Context, conn db.DB, s *schema.Schema) error {
	_, err := conn.ExecContext(ctx, fmt.Sprintf("DROP TABLE IF EXISTS %s CASCADE", pq.QuoteIdentifier(o.Name)))
	if err != nil {
		return fmt.Errorf("dropping table %q: %w", o.Name, err)
	}
	return nil
}

func (o *RemoveTable) Abort(ctx context.Context, conn db.DB, s *schema.Schema) error {
	return nil
}

func (o *RemoveTable) UpdateSchema(s *schema.Schema) {
	s.RemoveTable(o.Name)
}

func (o *RemoveTable) Validate(s *schema.Schema) error {
	if s.GetTable(o.Name) == nil {
		return TableDoesNotExistError{Name: o.Name}
	}
	return nil
}
