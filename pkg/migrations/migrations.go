// SPDX-License-Identifier: Apache-2.0

// Package migrations implements the action set (spec §4.4): one type per
// action, each satisfying the Operation contract of run/complete/abort
// plus schema tracking. Migration is an ordered, named sequence of
// Operations; Operations is a tagged-union slice that marshals to/from
// the `type`-discriminated JSON form used by the state store and the
// migration file format.
package migrations

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"github.com/reshapehq/reshape/pkg/db"
	"github.com/reshapehq/reshape/pkg/schema"
)

// Operation is the contract every action type implements (spec §4.4).
type Operation interface {
	// Run applies forward, non-blocking DDL for the action. It must be
	// idempotent modulo the schema tracker: if a named object it would
	// create already exists with the right shape, Run succeeds without
	// re-creating it, so that a retried `start` after a partial
	// failure is safe.
	Run(ctx context.Context, conn db.DB, s *schema.Schema) error

	// Complete finalises the action: drops old columns/triggers,
	// validates constraints, renames temporary objects to their final
	// names. Complete must be idempotent action-by-action (spec
	// P3/§4.6) since a failure partway through `complete` leaves the
	// engine in `Completing` for the operator to re-run.
	Complete(ctx context.Context, conn db.DB, s *schema.Schema) error

	// Abort removes everything Run created. It must tolerate partial
	// application — Run may have failed partway through.
	Abort(ctx context.Context, conn db.DB, s *schema.Schema) error

	// UpdateSchema mutates the tracker to the post-action shape, as
	// seen through the new view namespace. Called after Run succeeds.
	UpdateSchema(s *schema.Schema)

	// Validate returns a descriptive error if the action cannot be
	// applied to the given (pre-action) schema.
	Validate(s *schema.Schema) error

	// SetCoordinates records this action's position within its
	// migration, called by the orchestrator before Run/Complete/Abort.
	// Actions that create transient objects need it to compute
	// `__reshape_{migration_idx}_{action_idx}` names (spec §3).
	SetCoordinates(migrationIdx, actionIdx int)
}

// OpType is the discriminator tag used in the migration file format and
// in the persisted state JSON (spec §9: "use an explicit discriminator
// field (type) rather than language-native reflection").
type OpType string

const (
	OpCreateTable      OpType = "create_table"
	OpRenameTable      OpType = "rename_table"
	OpRemoveTable      OpType = "remove_table"
	OpAddForeignKey    OpType = "add_foreign_key"
	OpRemoveForeignKey OpType = "remove_foreign_key"
	OpAddColumn        OpType = "add_column"
	OpAlterColumn      OpType = "alter_column"
	OpRemoveColumn     OpType = "remove_column"
	OpAddIndex         OpType = "add_index"
	OpRemoveIndex      OpType = "remove_index"
	OpCreateEnum       OpType = "create_enum"
	OpAlterEnum        OpType = "alter_enum"
	OpRemoveEnum       OpType = "remove_enum"
	OpCustom           OpType = "custom"
)

// Operations is a tagged-union slice of Operation values, marshalled
// to/from a JSON array of flat objects whose `type` field names the
// action, alongside that action's own fields.
type Operations []Operation

// Migration is a named, ordered sequence of actions. Identity is the
// file name the operator chose; migrations are immutable once applied
// (spec §3).
type Migration struct {
	Name       string     `json:"name"`
	Operations Operations `json:"actions"`
}

// UnmarshalJSON implements the tagged-union decode described in spec §9:
// each action is a flat JSON object whose `type` field selects which
// concrete Operation to decode the rest of the object's fields into.
func (v *Operations) UnmarshalJSON(data []byte) error {
	var raw []map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("migrations: decoding action list: %w", err)
	}

	ops := make([]Operation, len(raw))
	for i, obj := range raw {
		typeRaw, ok := obj["type"]
		if !ok {
			return fmt.Errorf("migrations: action %d is missing its %q field", i, "type")
		}
		var opType OpType
		if err := json.Unmarshal(typeRaw, &opType); err != nil {
			return fmt.Errorf("migrations: action %d: decoding type: %w", i, err)
		}
		delete(obj, "type")

		op, err := newOperation(opType)
		if err != nil {
			return fmt.Errorf("migrations: action %d: %w", i, err)
		}

		body, err := json.Marshal(obj)
		if err != nil {
			return fmt.Errorf("migrations: action %d: re-encoding fields: %w", i, err)
		}

		dec := json.NewDecoder(bytes.NewReader(body))
		dec.DisallowUnknownFields()
		if err := dec.Decode(op); err != nil {
			return fmt.Errorf("migrations: action %d (%s): %w", i, opType, err)
		}

		ops[i] = op
	}

	*v = ops
	return nil
}

// MarshalJSON implements the tagged-union encode described in spec §9,
// flattening each Operation's own fields alongside its `type` tag.
func (v Operations) MarshalJSON() ([]byte, error) {
	if len(v) == 0 {
		return []byte(`[]`), nil
	}

	out := make([]json.RawMessage, len(v))
	for i, op := range v {
		body, err := json.Marshal(op)
		if err != nil {
			return nil, fmt.Errorf("migrations: encoding action %d: %w", i, err)
		}

		var fields map[string]json.RawMessage
		if err := json.Unmarshal(body, &fields); err != nil {
			return nil, fmt.Errorf("migrations: encoding action %d: %w", i, err)
		}

		typeTag, err := json.Marshal(TypeOf(op))
		if err != nil {
			return nil, fmt.Errorf("migrations: encoding action %d: %w", i, err)
		}
		fields["type"] = typeTag

		merged, err := json.Marshal(fields)
		if err != nil {
			return nil, fmt.Errorf("migrations: encoding action %d: %w", i, err)
		}
		out[i] = merged
	}

	return json.Marshal(out)
}

// TypeOf returns the discriminator tag for an Operation value.
func TypeOf(op Operation) OpType {
	switch op.(type) {
	case *CreateTable:
		return OpCreateTable
	case *RenameTable:
		return OpRenameTable
	case *RemoveTable:
		return OpRemoveTable
	case *AddForeignKey:
		return OpAddForeignKey
	case *RemoveForeignKey:
		return OpRemoveForeignKey
	case *AddColumn:
		return OpAddColumn
	case *AlterColumn:
		return OpAlterColumn
	case *RemoveColumn:
		return OpRemoveColumn
	case *AddIndex:
		return OpAddIndex
	case *RemoveIndex:
		return OpRemoveIndex
	case *CreateEnum:
		return OpCreateEnum
	case *AlterEnum:
		return OpAlterEnum
	case *RemoveEnum:
		return OpRemoveEnum
	case *Custom:
		return OpCustom
	default:
		panic(fmt.Errorf("migrations: unregistered operation type %T", op))
	}
}

func newOperation(t OpType) (Operation, error) {
	switch t {
	case OpCreateTable:
		return &CreateTable{}, nil
	case OpRenameTable:
		return &RenameTable{}, nil
	case OpRemoveTable:
		return &RemoveTable{}, nil
	case OpAddForeignKey:
		return &AddForeignKey{}, nil
	case OpRemoveForeignKey:
		return &RemoveForeignKey{}, nil
	case OpAddColumn:
		return &AddColumn{}, nil
	case OpAlterColumn:
		return &AlterColumn{}, nil
	case OpRemoveColumn:
		return &RemoveColumn{}, nil
	case OpAddIndex:
		return &AddIndex{}, nil
	case OpRemoveIndex:
		return &RemoveIndex{}, nil
	case OpCreateEnum:
		return &CreateEnum{}, nil
	case OpAlterEnum:
		return &AlterEnum{}, nil
	case OpRemoveEnum:
		return &RemoveEnum{}, nil
	case OpCustom:
		return &Custom{}, nil
	default:
		return nil, ConfigurationError{Reason: fmt.Sprintf("unknown action type %q", t)}
	}
}

// Validate checks every action in order against the given schema,
// threading a cloned, mutated tracker through so later actions see the
// effect of earlier ones (spec P6).
func (m *Migration) Validate(s *schema.Schema) error {
	working := s.Clone()
	for i, op := range m.Operations {
		if err := op.Validate(working); err != nil {
			return ActionError{MigrationName: m.Name, ActionIndex: i, ActionType: TypeOf(op), Err: err}
		}
		op.UpdateSchema(working)
	}
	return nil
}
