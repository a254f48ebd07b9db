// SPDX-License-Identifier: Apache-2.0

package orchestrator

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/reshapehq/reshape/pkg/db"
	"github.com/reshapehq/reshape/pkg/migrations"
	"github.com/reshapehq/reshape/pkg/schema"
)

// recordingOp is a bare-bones Operation used to observe call order
// without touching a real database.
type recordingOp struct {
	name     string
	abortErr error
	calls    *[]string
}

func (o *recordingOp) Run(ctx context.Context, conn db.DB, s *schema.Schema) error { return nil }
func (o *recordingOp) Complete(ctx context.Context, conn db.DB, s *schema.Schema) error {
	return nil
}
func (o *recordingOp) Abort(ctx context.Context, conn db.DB, s *schema.Schema) error {
	*o.calls = append(*o.calls, o.name)
	return o.abortErr
}
func (o *recordingOp) UpdateSchema(s *schema.Schema) {
	s.AddTable(o.name, &schema.Table{Name: o.name})
}
func (o *recordingOp) Validate(s *schema.Schema) error          { return nil }
func (o *recordingOp) SetCoordinates(migIdx, actionIdx int) {}

func TestAbortOpsRunsInReverseOrder(t *testing.T) {
	var calls []string
	ops := []migrations.Operation{
		&recordingOp{name: "first", calls: &calls},
		&recordingOp{name: "second", calls: &calls},
		&recordingOp{name: "third", calls: &calls},
	}

	err := abortOps(context.Background(), &db.Fake{}, ops, schema.New())
	assert.NoError(t, err)
	assert.Equal(t, []string{"third", "second", "first"}, calls)
}

func TestAbortOpsJoinsErrors(t *testing.T) {
	var calls []string
	boom := errors.New("boom")
	ops := []migrations.Operation{
		&recordingOp{name: "first", calls: &calls, abortErr: boom},
		&recordingOp{name: "second", calls: &calls},
	}

	err := abortOps(context.Background(), &db.Fake{}, ops, schema.New())
	assert.Error(t, err)
	assert.True(t, errors.Is(err, boom))
}

func TestReplayTrackerAppliesEveryOperation(t *testing.T) {
	var calls []string
	m := &migrations.Migration{
		Name: "add_tables",
		Operations: migrations.Operations{
			&recordingOp{name: "a", calls: &calls},
			&recordingOp{name: "b", calls: &calls},
		},
	}

	tracker := replayTracker(schema.New(), m)
	assert.NotNil(t, tracker.GetTable("a"))
	assert.NotNil(t, tracker.GetTable("b"))
}
