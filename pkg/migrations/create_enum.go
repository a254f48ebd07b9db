// SPDX-License-Identifier: Apache-2.0

package migrations

import (
	"context"
	"fmt"
	"strings"

	"github.com/lib/pq"

	"github.com/reshapehq/reshape/pkg/db"
	"github.com/reshapehq/reshape/pkg/schema"
)

var _ Operation = (*CreateEnum)(nil)

// CreateEnum is the create_enum action (spec §4.4.11).
type CreateEnum struct {
	coordinates

	Name   string   `json:"name"`
	Values []string `json:"values"`
}

func (o *CreateEnum) Run(ctx context.Context, conn db.DB, s *schema.Schema) error {
	var exists bool
	if err := conn.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM pg_type WHERE typname = $1)`, o.Name).Scan(&exists); err != nil {
		return fmt.Errorf("checking enum %q: %w", o.Name, err)
	}
	if exists {
		return nil
	}

	values := make([]string, len(o.Values))
	for i, v := range o.Values {
		values[i] = pq.QuoteLiteral(v)
	}
	_, err := conn.ExecContext(ctx, fmt.Sprintf("CREATE TYPE %s AS ENUM (%s)",
		pq.QuoteIdentifier(o.Name), strings.Join(values, ", ")))
	if err != nil {
		return fmt.Errorf("creating enum %q: %w", o.Name, err)
	}
	return nil
}

func (o *CreateEnum) Complete(ctx context.Context, conn db.DB, s *schema.Schema) error {
	return nil
}

func (o *CreateEnum) Abort(ctx context.Context, conn db.DB, s *schema.Schema) error {
	_, err := conn.ExecContext(ctx, fmt.Sprintf("DROP TYPE IF EXISTS %s", pq.QuoteIdentifier(o.Name)))
	return err
}

func (o *CreateEnum) UpdateSchema(s *schema.Schema) {
	s.AddEnum(&schema.Enum{Name: o.Name, Values: o.Values})
}

func (o *CreateEnum) Validate(s *schema.Schema) error {
	if s.GetEnum(o.Name) != nil {
		return EnumAlreadyExistsError{Name: o.Name}
	}
	if len(o.Values) == 0 {
		return FieldRequiredError{Field: "values"}
	}
	return nil
}
