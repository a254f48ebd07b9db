// SPDX-License-Identifier: Apache-2.0

// Package state is the state store component (spec §4.2): it persists
// the migration state machine's current state and the append-only
// migration history in a reserved metadata schema, so that a crashed or
// restarted invocation can recover where the last one left off.
package state

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/lib/pq"
	"golang.org/x/mod/semver"

	"github.com/reshapehq/reshape/pkg/db"
	"github.com/reshapehq/reshape/pkg/migrations"
	"github.com/reshapehq/reshape/pkg/schema"
)

// Status is the lifecycle state of the migration state machine (spec
// §4.6).
type Status string

const (
	Idle       Status = "idle"
	Applying   Status = "applying"
	InProgress Status = "in_progress"
	Completing Status = "completing"
	Aborting   Status = "aborting"
)

// State is the single persisted record describing what, if anything, is
// currently in flight (spec §3 "Migration state").
type State struct {
	Status Status `json:"status"`

	// Migrations is the ordered, in-progress batch: every migration
	// whose actions have run but not yet been completed or aborted.
	Migrations []*migrations.Migration `json:"migrations,omitempty"`

	// PreStartSchema is a snapshot of the schema tracker taken
	// immediately before the batch's actions ran; complete and abort
	// replay the batch's UpdateSchema calls onto a clone of it to rebuild
	// the tracker they run against (spec Invariant 4).
	PreStartSchema *schema.Schema `json:"preStartSchema,omitempty"`

	// EngineVersion is the version of the binary that wrote this state,
	// used to refuse to operate against state written by a newer engine
	// (spec §9 versioning).
	EngineVersion string `json:"engineVersion,omitempty"`

	// CurrentVersion is the name of the migration whose view namespace
	// is currently canonical — the one application instances still on
	// the old side of a migration should be pointed at. Nil before the
	// very first migration has ever completed.
	CurrentVersion *string `json:"currentVersion,omitempty"`
}

// Idle reports whether the state represents no migration in progress.
func (s *State) Idle() bool {
	return s == nil || s.Status == "" || s.Status == Idle
}

// Store is the reserved-schema-backed implementation of the state store.
type Store struct {
	conn   db.DB
	schema string
}

// New returns a Store backed by conn, persisting into reservedSchema
// (the engine's metadata schema — distinct from any view namespace).
func New(conn db.DB, reservedSchema string) *Store {
	return &Store{conn: conn, schema: reservedSchema}
}

// Init creates the reserved metadata schema and its two relations if
// they do not already exist: idempotent, so it is safe to call on every
// invocation.
func (s *Store) Init(ctx context.Context) error {
	schemaID := pq.QuoteIdentifier(s.schema)
	_, err := s.conn.ExecContext(ctx, fmt.Sprintf(`
CREATE SCHEMA IF NOT EXISTS %[1]s;

CREATE TABLE IF NOT EXISTS %[1]s.data (
	id    BOOLEAN PRIMARY KEY DEFAULT true,
	state JSONB NOT NULL,
	CONSTRAINT data_single_row CHECK (id)
);

CREATE TABLE IF NOT EXISTS %[1]s.migrations (
	name         TEXT PRIMARY KEY,
	completed_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
`, schemaID))
	if err != nil {
		return fmt.Errorf("state: initializing reserved schema %q: %w", s.schema, err)
	}
	return nil
}

// Load returns the currently persisted state, or an Idle state if none
// has ever been saved (spec §4.2). If a previous invocation crashed
// between writing Applying/InProgress and reaching Idle again, Load
// faithfully returns that interrupted state — recovery is the caller's
// (the orchestrator's) responsibility, not this store's.
func (s *Store) Load(ctx context.Context) (*State, error) {
	var raw []byte
	err := s.conn.QueryRowContext(ctx, fmt.Sprintf(
		`SELECT state FROM %s.data WHERE id`, pq.QuoteIdentifier(s.schema))).Scan(&raw)
	if err == sql.ErrNoRows {
		return &State{Status: Idle}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("state: loading state: %w", err)
	}

	var st State
	if err := json.Unmarshal(raw, &st); err != nil {
		return nil, fmt.Errorf("state: decoding state: %w", err)
	}
	return &st, nil
}

// Save atomically replaces the persisted state (spec §4.2).
func (s *Store) Save(ctx context.Context, st *State) error {
	raw, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("state: encoding state: %w", err)
	}

	_, err = s.conn.ExecContext(ctx, fmt.Sprintf(
		`INSERT INTO %[1]s.data (id, state) VALUES (true, $1)
		 ON CONFLICT (id) DO UPDATE SET state = EXCLUDED.state`,
		pq.QuoteIdentifier(s.schema)), raw)
	if err != nil {
		return fmt.Errorf("state: saving state: %w", err)
	}
	return nil
}

// Clear resets the persisted state to Idle with no in-progress batch and
// no CurrentVersion. The orchestrator's complete and abort do not call
// it; they save an Idle state that keeps CurrentVersion.
func (s *Store) Clear(ctx context.Context) error {
	return s.Save(ctx, &State{Status: Idle})
}

// RecordComplete appends entries to the migration history for every
// migration name in names (spec §4.2 record_complete). Safe to call
// more than once for the same name: the insert is a no-op on conflict,
// which matters because complete can be retried after a partial
// failure.
func (s *Store) RecordComplete(ctx context.Context, names []string) error {
	for _, name := range names {
		_, err := s.conn.ExecContext(ctx, fmt.Sprintf(
			`INSERT INTO %s.migrations (name) VALUES ($1) ON CONFLICT (name) DO NOTHING`,
			pq.QuoteIdentifier(s.schema)), name)
		if err != nil {
			return fmt.Errorf("state: recording completed migration %q: %w", name, err)
		}
	}
	return nil
}

// Forget removes a single migration from the recorded history (spec
// §4.2 forget), so that the migration can be applied again. The
// orchestrator's `remove` does not call it: it drops the whole reserved
// schema instead.
func (s *Store) Forget(ctx context.Context, name string) error {
	_, err := s.conn.ExecContext(ctx, fmt.Sprintf(
		`DELETE FROM %s.migrations WHERE name = $1`, pq.QuoteIdentifier(s.schema)), name)
	if err != nil {
		return fmt.Errorf("state: forgetting migration %q: %w", name, err)
	}
	return nil
}

// History returns the names of every completed migration, oldest first.
func (s *Store) History(ctx context.Context) ([]string, error) {
	rows, err := s.conn.QueryContext(ctx, fmt.Sprintf(
		`SELECT name FROM %s.migrations ORDER BY completed_at, name`, pq.QuoteIdentifier(s.schema)))
	if err != nil {
		return nil, fmt.Errorf("state: reading migration history: %w", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("state: scanning migration history: %w", err)
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

// Drop removes the entire reserved metadata schema, used by `remove`
// once every view namespace and transient object has already been torn
// down.
func (s *Store) Drop(ctx context.Context) error {
	_, err := s.conn.ExecContext(ctx, fmt.Sprintf("DROP SCHEMA IF EXISTS %s CASCADE", pq.QuoteIdentifier(s.schema)))
	if err != nil {
		return fmt.Errorf("state: dropping reserved schema %q: %w", s.schema, err)
	}
	return nil
}

// CheckVersion refuses to proceed when the state on disk was written by
// a strictly newer engine than currentVersion (spec §9 versioning):
// an older binary has no business interpreting a newer state's
// semantics. Malformed or development (non-semver) versions on either
// side are treated as compatible, since they can't be meaningfully
// ordered.
func CheckVersion(st *State, currentVersion string) error {
	if st == nil || st.EngineVersion == "" || currentVersion == "" {
		return nil
	}

	recorded, current := "v"+st.EngineVersion, "v"+currentVersion
	if !semver.IsValid(recorded) || !semver.IsValid(current) {
		return nil
	}

	if semver.Compare(recorded, current) > 0 {
		return fmt.Errorf("state: persisted state was written by reshape %s, which is newer than this binary (%s)",
			st.EngineVersion, currentVersion)
	}
	return nil
}
