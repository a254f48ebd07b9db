// SPDX-License-Identifier: Apache-2.0

package migrations

import (
	"context"
	"fmt"

	"github.com/reshapehq/reshape/pkg/db"
	"github.com/reshapehq/reshape/pkg/schema"
)

var _ Operation = (*Custom)(nil)

// Custom is the custom action (spec §4.4.13): each lifecycle method
// executes operator-supplied SQL verbatim. Payloads must be idempotent
// (IF [NOT] EXISTS) since Run can be retried after a partial start
// failure. UpdateSchema is intentionally a no-op: custom actions are
// invisible to the schema tracker, so the engine's contract is that
// they must not create objects a later declarative action depends on
// (spec §9 open question) — behaviour is undefined if they do.
type Custom struct {
	coordinates

	StartSQL    string `json:"start,omitempty"`
	CompleteSQL string `json:"complete,omitempty"`
	AbortSQL    string `json:"abort,omitempty"`
}

func (o *Custom) Run(ctx context.Context, conn db.DB, s *schema.Schema) error {
	if o.StartSQL == "" {
		return nil
	}
	if _, err := conn.ExecContext(ctx, o.StartSQL); err != nil {
		return fmt.Errorf("running custom start SQL: %w", err)
	}
	return nil
}

func (o *Custom) Complete(ctx context.Context, conn db.DB, s *schema.Schema) error {
	if o.CompleteSQL == "" {
		return nil
	}
	if _, err := conn.ExecContext(ctx, o.CompleteSQL); err != nil {
		return fmt.Errorf("running custom complete SQL: %w", err)
	}
	return nil
}

func (o *Custom) Abort(ctx context.Context, conn db.DB, s *schema.Schema) error {
	if o.AbortSQL == "" {
		return nil
	}
	if _, err := conn.ExecContext(ctx, o.AbortSQL); err != nil {
		return fmt.Errorf("running custom abort SQL: %w", err)
	}
	return nil
}

func (o *Custom) UpdateSchema(s *schema.Schema) {}

func (o *Custom) Validate(s *schema.Schema) error {
	if o.StartSQL == "" && o.CompleteSQL == "" && o.AbortSQL == "" {
		return FieldRequiredError{Field: "start/complete/abort"}
	}
	return nil
}
