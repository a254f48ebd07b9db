// SPDX-License-Identifier: Apache-2.0

package state

import "errors"

var (
	// ErrDirtyState is returned by the orchestrator's start operation
	// when the persisted state is Applying: a previous invocation
	// crashed between running actions and reaching InProgress, so the
	// batch's final membership is unknown and must be aborted rather
	// than resumed (spec §4.6, §4.7).
	ErrDirtyState = errors.New("state: a previous start was interrupted before completing; run abort before starting again")

	// ErrNotIdle is returned by start when a migration batch is already
	// in progress.
	ErrNotIdle = errors.New("state: a migration is already in progress")

	// ErrNotInProgress is returned by complete/abort when there is no
	// in-progress batch to act on.
	ErrNotInProgress = errors.New("state: no migration is in progress")
)
