// SPDX-License-Identifier: Apache-2.0

package migrations

import (
	"context"
	"fmt"

	"github.com/lib/pq"

	"github.com/reshapehq/reshape/pkg/db"
	"github.com/reshapehq/reshape/pkg/schema"
)

var _ Operation = (*RemoveEnum)(nil)

// RemoveEnum is the remove_enum action (spec §4.4.11): Run verifies no
// tracked column still uses the type, since the engine has no way to
// enforce that against out-of-band DDL once the type is gone.
type RemoveEnum struct {
	coordinates

	Name string `json:"name"`
}

func (o *RemoveEnum) Run(ctx context.Context, conn db.DB, s *schema.Schema) error {
	if cols := s.ColumnsUsingEnum(o.Name); len(cols) > 0 {
		return EnumInUseError{Name: o.Name, Columns: cols}
	}
	return nil
}

func (o *RemoveEnum) Complete(ctx context.Context, conn db.DB, s *schema.Schema) error {
	_, err := conn.ExecContext(ctx, fmt.Sprintf("DROP TYPE IF EXISTS %s", pq.QuoteIdentifier(o.Name)))
	if err != nil {
		return fmt.Errorf("dropping enum %q: %w", o.Name, err)
	}
	return nil
}

func (o *RemoveEnum) Abort(ctx context.Context, conn db.DB, s *schema.Schema) error {
	return nil
}

func (o *RemoveEnum) UpdateSchema(s *schema.Schema) {
	s.RemoveEnum(o.Name)
}

func (o *RemoveEnum) Validate(s *schema.Schema) error {
	if s.GetEnum(o.Name) == nil {
		return EnumDoesNotExistError{Name: o.Name}
	}
	if cols := s.ColumnsUsingEnum(o.Name); len(cols) > 0 {
		return EnumInUseError{Name: o.Name, Columns: cols}
	}
	return nil
}
