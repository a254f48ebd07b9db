// SPDX-License-Identifier: Apache-2.0

package migrations

import (
	"context"
	"fmt"

	"github.com/lib/pq"

	"github.com/reshapehq/reshape/pkg/db"
	"github.com/reshapehq/reshape/pkg/schema"
)

var _ Operation = (*RemoveIndex)(nil)

// RemoveIndex is the remove_index action (spec §4.4.10): the index
// keeps serving the old namespace's query planner until complete.
type RemoveIndex struct {
	coordinates

	Table string `json:"table"`
	Name  string `json:"name"`
}

func (o *RemoveIndex) Run(ctx context.Context, conn db.DB, s *schema.Schema) error {
	t := s.GetTable(o.Table)
	if t == nil || t.GetIndex(o.Name) == nil {
		return IndexDoesNotExistError{Name: o.Name}
	}
	return nil
}

func (o *RemoveIndex) Complete(ctx context.Context, conn db.DB, s *schema.Schema) error {
	_, err := conn.ExecContext(ctx, fmt.Sprintf("DROP INDEX CONCURRENTLY IF EXISTS %s", pq.QuoteIdentifier(o.Name)))
	if err != nil {
		return fmt.Errorf("dropping index %q: %w", o.Name, err)
	}
	return nil
}

func (o *RemoveIndex) Abort(ctx context.Context, conn db.DB, s *schema.Schema) error {
	return nil
}

func (o *RemoveIndex) UpdateSchema(s *schema.Schema) {
	t := s.GetTable(o.Table)
	if t == nil {
		return
	}
	t.RemoveIndex(o.Name)
}

func (o *RemoveIndex) Validate(s *schema.Schema) error {
	t := s.GetTable(o.Table)
	if t == nil {
		return TableDoesNotExistError{Name: o.Table}
	}
	if t.GetIndex(o.Name) == nil {
		return IndexDoesNotExistError{Name: o.Name}
	}
	return nil
}
