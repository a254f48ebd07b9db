// SPDX-License-Identifier: Apache-2.0

package migrations

import (
	"context"
	"fmt"

	"github.com/lib/pq"

	"github.com/reshapehq/reshape/pkg/db"
	"github.com/reshapehq/reshape/pkg/schema"
)

var _ Operation = (*AddIndex)(nil)

// AddIndex is the add_index action (spec §4.4.9): built CONCURRENTLY
// under a transient name so a failed or in-progress build never
// collides with the declared name until complete.
type AddIndex struct {
	coordinates

	Table     string   `json:"table"`
	Name      string   `json:"name"`
	Columns   []string `json:"columns"`
	Unique    bool     `json:"unique,omitempty"`
	Method    string   `json:"method,omitempty"`
	Predicate string   `json:"predicate,omitempty"`
}

func (o *AddIndex) transientIndexName() string { return o.transient(o.Name) }

func (o *AddIndex) Run(ctx context.Context, conn db.DB, s *schema.Schema) error {
	unique := ""
	if o.Unique {
		unique = "UNIQUE "
	}
	using := ""
	if o.Method != "" {
		using = fmt.Sprintf(" USING %s", o.Method)
	}
	where := ""
	if o.Predicate != "" {
		where = fmt.Sprintf(" WHERE %s", o.Predicate)
	}

	_, err := conn.ExecContext(ctx, fmt.Sprintf("CREATE %sINDEX CONCURRENTLY IF NOT EXISTS %s ON %s%s (%s)%s",
		unique, pq.QuoteIdentifier(o.transientIndexName()), pq.QuoteIdentifier(o.Table), using, quoteIdentifierList(o.Columns), where))
	if err != nil {
		return fmt.Errorf("creating index %q on %q: %w", o.Name, o.Table, err)
	}
	return nil
}

func (o *AddIndex) Complete(ctx context.Context, conn db.DB, s *schema.Schema) error {
	_, err := conn.ExecContext(ctx, fmt.Sprintf("ALTER INDEX IF EXISTS %s RENAME TO %s",
		pq.QuoteIdentifier(o.transientIndexName()), pq.QuoteIdentifier(o.Name)))
	if err != nil {
		return fmt.Errorf("renaming index %q to %q: %w", o.transientIndexName(), o.Name, err)
	}
	return nil
}

func (o *AddIndex) Abort(ctx context.Context, conn db.DB, s *schema.Schema) error {
	_, err := conn.ExecContext(ctx, fmt.Sprintf("DROP INDEX CONCURRENTLY IF EXISTS %s",
		pq.QuoteIdentifier(o.transientIndexName())))
	return err
}

func (o *AddIndex) UpdateSchema(s *schema.Schema) {
	t := s.GetTable(o.Table)
	if t == nil {
		return
	}
	t.AddIndex(&schema.Index{
		Name:      o.Name,
		Columns:   o.Columns,
		Unique:    o.Unique,
		Method:    o.Method,
		Predicate: o.Predicate,
	})
}

func (o *AddIndex) Validate(s *schema.Schema) error {
	t := s.GetTable(o.Table)
	if t == nil {
		return TableDoesNotExistError{Name: o.Table}
	}
	if t.GetIndex(o.Name) != nil {
		return InvariantViolationError{Reason: fmt.Sprintf("index %q already tracked on table %q", o.Name, o.Table)}
	}
	for _, col := range o.Columns {
		if t.GetColumn(col) == nil {
			return ColumnDoesNotExistError{Table: o.Table, Name: col}
		}
	}
	return nil
}
