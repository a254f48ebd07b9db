// SPDX-License-Identifier: Apache-2.0

// Package orchestrator is the orchestrator component (spec §4.6): it
// drives the Idle → Applying → InProgress → Completing/Aborting → Idle
// state machine, serialising every operation behind the gateway's
// advisory lock and wiring the schema tracker, the action set, the view
// generator and the state store together.
package orchestrator

import (
	"context"
	"errors"
	"fmt"

	"github.com/reshapehq/reshape/pkg/db"
	"github.com/reshapehq/reshape/pkg/migrations"
	"github.com/reshapehq/reshape/pkg/schema"
	"github.com/reshapehq/reshape/pkg/state"
	"github.com/reshapehq/reshape/pkg/view"
)

// Orchestrator ties the gateway, schema tracker, action set, view
// generator and state store together into the lifecycle described by
// spec §4.6.
type Orchestrator struct {
	gateway       *db.Gateway
	store         *state.Store
	targetSchema  string
	engineVersion string
}

// New returns an Orchestrator acting on targetSchema (the application's
// schema, e.g. "public"), persisting its state via store.
func New(gateway *db.Gateway, store *state.Store, targetSchema, engineVersion string) *Orchestrator {
	return &Orchestrator{
		gateway:       gateway,
		store:         store,
		targetSchema:  targetSchema,
		engineVersion: engineVersion,
	}
}

// Init prepares the reserved metadata schema. Must be called once
// before any other operation against a fresh database.
func (o *Orchestrator) Init(ctx context.Context) error {
	return o.store.Init(ctx)
}

// Status is a snapshot of the orchestrator's persisted state, as
// reported by the `status` command (spec's supplemented status
// feature).
type Status struct {
	Status              state.Status
	CurrentVersion      string
	InProgressMigration string
	CompletedMigrations []string
}

// Status reports the current migration status without taking the
// advisory lock — it is read-only and safe to call while another
// invocation is in flight.
func (o *Orchestrator) Status(ctx context.Context) (*Status, error) {
	st, err := o.store.Load(ctx)
	if err != nil {
		return nil, err
	}

	history, err := o.store.History(ctx)
	if err != nil {
		return nil, err
	}

	out := &Status{Status: st.Status, CompletedMigrations: history}
	if st.CurrentVersion != nil {
		out.CurrentVersion = *st.CurrentVersion
	}
	if len(st.Migrations) > 0 {
		out.InProgressMigration = st.Migrations[0].Name
	}
	return out, nil
}

// Start applies a single migration's actions and materialises its view
// namespace (spec §4.6 Idle → Applying → InProgress). The migration is
// left in progress: a subsequent Complete (to finish cutting over) or
// Abort (to undo) is required before another Start may run.
func (o *Orchestrator) Start(ctx context.Context, m *migrations.Migration) error {
	handle, err := o.gateway.Acquire(ctx)
	if err != nil {
		return err
	}
	defer handle.Release(ctx)

	st, err := o.store.Load(ctx)
	if err != nil {
		return err
	}
	if err := state.CheckVersion(st, o.engineVersion); err != nil {
		return err
	}
	if st.Status == state.Applying {
		return state.ErrDirtyState
	}
	if !st.Idle() {
		return state.ErrNotIdle
	}

	tracker, err := schema.Read(ctx, o.gateway, o.targetSchema)
	if err != nil {
		return fmt.Errorf("orchestrator: reading live schema: %w", err)
	}
	preStart := tracker.Clone()

	applying := &state.State{
		Status:         state.Applying,
		Migrations:     []*migrations.Migration{m},
		PreStartSchema: preStart,
		EngineVersion:  o.engineVersion,
		CurrentVersion: st.CurrentVersion,
	}
	if err := o.store.Save(ctx, applying); err != nil {
		return err
	}

	if err := m.Validate(tracker); err != nil {
		// nothing has touched the database yet; safe to drop straight
		// back to idle rather than going through abort.
		_ = o.store.Save(ctx, &state.State{Status: state.Idle, CurrentVersion: st.CurrentVersion})
		return fmt.Errorf("orchestrator: migration %q is invalid: %w", m.Name, err)
	}

	for ai, op := range m.Operations {
		op.SetCoordinates(0, ai)
		if runErr := op.Run(ctx, o.gateway, tracker); runErr != nil {
			abortErr := abortOps(ctx, o.gateway, m.Operations[:ai+1], tracker)
			saveErr := o.store.Save(ctx, &state.State{Status: state.Idle, CurrentVersion: st.CurrentVersion})
			return errors.Join(fmt.Errorf("orchestrator: running action %d of migration %q: %w", ai, m.Name, runErr), abortErr, saveErr)
		}
		op.UpdateSchema(tracker)
	}

	if err := view.Generate(ctx, o.gateway, m.Name, tracker); err != nil {
		abortErr := abortOps(ctx, o.gateway, m.Operations, tracker)
		saveErr := o.store.Save(ctx, &state.State{Status: state.Idle, CurrentVersion: st.CurrentVersion})
		return errors.Join(fmt.Errorf("orchestrator: generating views for migration %q: %w", m.Name, err), abortErr, saveErr)
	}

	inProgress := &state.State{
		Status:         state.InProgress,
		Migrations:     []*migrations.Migration{m},
		PreStartSchema: preStart,
		EngineVersion:  o.engineVersion,
		CurrentVersion: st.CurrentVersion,
	}
	return o.store.Save(ctx, inProgress)
}

// Complete finalises the in-progress migration: runs every action's
// Complete method, drops the previous view namespace now that it is no
// longer needed, and records the migration in the history table (spec
// §4.6 InProgress → Completing → Idle).
func (o *Orchestrator) Complete(ctx context.Context) error {
	handle, err := o.gateway.Acquire(ctx)
	if err != nil {
		return err
	}
	defer handle.Release(ctx)

	st, err := o.store.Load(ctx)
	if err != nil {
		return err
	}
	if err := state.CheckVersion(st, o.engineVersion); err != nil {
		return err
	}
	switch st.Status {
	case state.Idle, state.Applying:
		return state.ErrNotInProgress
	case state.Aborting:
		return fmt.Errorf("orchestrator: a previous abort was interrupted; run abort again before completing")
	}
	if len(st.Migrations) == 0 || st.PreStartSchema == nil {
		return fmt.Errorf("orchestrator: persisted state is %s but has no in-progress migration recorded", st.Status)
	}

	m := st.Migrations[0]
	tracker := replayTracker(st.PreStartSchema, m)

	if st.Status != state.Completing {
		st.Status = state.Completing
		if err := o.store.Save(ctx, st); err != nil {
			return err
		}
	}

	for ai, op := range m.Operations {
		op.SetCoordinates(0, ai)
		if err := op.Complete(ctx, o.gateway, tracker); err != nil {
			return fmt.Errorf("orchestrator: completing action %d of migration %q: %w", ai, m.Name, err)
		}
	}

	if st.CurrentVersion != nil {
		if err := view.Drop(ctx, o.gateway, *st.CurrentVersion); err != nil {
			return fmt.Errorf("orchestrator: dropping previous view namespace: %w", err)
		}
	}

	if err := o.store.RecordComplete(ctx, []string{m.Name}); err != nil {
		return err
	}

	name := m.Name
	return o.store.Save(ctx, &state.State{Status: state.Idle, CurrentVersion: &name})
}

// Abort undoes the in-progress migration: runs every action's Abort
// method in reverse order, drops the migration's (never-cut-over) view
// namespace, and restores Idle with the previous migration still
// canonical (spec §4.6 InProgress/Applying → Aborting → Idle, Invariant
// 4). Abort also recovers from a crash that happened mid-Start, since
// every action's Abort tolerates partial (or no) application.
func (o *Orchestrator) Abort(ctx context.Context) error {
	handle, err := o.gateway.Acquire(ctx)
	if err != nil {
		return err
	}
	defer handle.Release(ctx)

	st, err := o.store.Load(ctx)
	if err != nil {
		return err
	}
	if err := state.CheckVersion(st, o.engineVersion); err != nil {
		return err
	}
	switch st.Status {
	case state.Idle:
		return state.ErrNotInProgress
	case state.Completing:
		return fmt.Errorf("orchestrator: a previous complete was interrupted; run complete again rather than aborting")
	}
	if len(st.Migrations) == 0 || st.PreStartSchema == nil {
		return fmt.Errorf("orchestrator: persisted state is %s but has no in-progress migration recorded", st.Status)
	}

	m := st.Migrations[0]
	tracker := replayTracker(st.PreStartSchema, m)

	if st.Status != state.Aborting {
		st.Status = state.Aborting
		if err := o.store.Save(ctx, st); err != nil {
			return err
		}
	}

	if err := abortOps(ctx, o.gateway, m.Operations, tracker); err != nil {
		return fmt.Errorf("orchestrator: aborting migration %q: %w", m.Name, err)
	}

	if err := view.Drop(ctx, o.gateway, m.Name); err != nil {
		return fmt.Errorf("orchestrator: dropping view namespace for migration %q: %w", m.Name, err)
	}

	return o.store.Save(ctx, &state.State{Status: state.Idle, CurrentVersion: st.CurrentVersion})
}

// Remove tears down the engine's own metadata: the current view
// namespace and the reserved schema itself. It refuses to run while a
// migration is in progress — abort it first (supplemented safety
// check).
func (o *Orchestrator) Remove(ctx context.Context) error {
	handle, err := o.gateway.Acquire(ctx)
	if err != nil {
		return err
	}
	defer handle.Release(ctx)

	st, err := o.store.Load(ctx)
	if err != nil {
		return err
	}
	if !st.Idle() {
		return fmt.Errorf("orchestrator: a migration is %s; abort or complete it before running remove", st.Status)
	}

	if st.CurrentVersion != nil {
		if err := view.Drop(ctx, o.gateway, *st.CurrentVersion); err != nil {
			return fmt.Errorf("orchestrator: dropping view namespace: %w", err)
		}
	}

	return o.store.Drop(ctx)
}

// replayTracker rebuilds the single consistent schema tracker that
// every Complete/Abort call should see: a clone of the schema exactly
// as it was before Start ran, with every action's UpdateSchema replayed
// against it in order. This is deliberately not re-read from the live
// catalog, since by the time Complete/Abort runs the catalog may
// already be mid-transition.
func replayTracker(preStart *schema.Schema, m *migrations.Migration) *schema.Schema {
	tracker := preStart.Clone()
	for ai, op := range m.Operations {
		op.SetCoordinates(0, ai)
		op.UpdateSchema(tracker)
	}
	return tracker
}

// abortOps calls Abort on every operation in ops, in reverse order,
// against tracker. It is used both for a genuine Abort and to unwind a
// Start that failed partway through Run — every action's Abort must
// tolerate the possibility that Run never got to it.
func abortOps(ctx context.Context, conn db.DB, ops []migrations.Operation, tracker *schema.Schema) error {
	var errs []error
	for i := len(ops) - 1; i >= 0; i-- {
		if err := ops[i].Abort(ctx, conn, tracker); err != nil {
			errs = append(errs, fmt.Errorf("aborting action %d: %w", i, err))
		}
	}
	return errors.Join(errs...)
}
