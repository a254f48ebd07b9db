// SPDX-License-Identifier: Apache-2.0

// Package reshapetest is a helper for the integration-tagged tests
// (//go:build integration) that boots a real PostgreSQL container and wires up a gateway, state store and
// orchestrator against it, for the end-to-end scenarios of spec §8.
package reshapetest

import (
	"context"
	"database/sql"
	"fmt"
	"math/rand"
	"net/url"
	"os"
	"testing"
	"time"

	"github.com/lib/pq"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/reshapehq/reshape/pkg/db"
	"github.com/reshapehq/reshape/pkg/orchestrator"
	"github.com/reshapehq/reshape/pkg/state"
)

// defaultPostgresVersion is used when POSTGRES_VERSION is unset. The
// spec requires PostgreSQL 12+; 15 is a representative recent LTS.
const defaultPostgresVersion = "15.3"

// sharedConnStr holds the connection string of the container started by
// SharedTestMain, shared by every test in a package.
var sharedConnStr string

// SharedTestMain starts a single PostgreSQL container for the whole
// package and tears it down after all tests run. Call it from a
// TestMain in an integration-tagged test file.
func SharedTestMain(m *testing.M) {
	ctx := context.Background()

	waitForLogs := wait.
		ForLog("database system is ready to accept connections").
		WithOccurrence(2).
		WithStartupTimeout(30 * time.Second)

	pgVersion := os.Getenv("POSTGRES_VERSION")
	if pgVersion == "" {
		pgVersion = defaultPostgresVersion
	}

	ctr, err := postgres.RunContainer(ctx,
		testcontainers.WithImage("postgres:"+pgVersion),
		testcontainers.WithWaitStrategy(waitForLogs),
	)
	if err != nil {
		fmt.Fprintln(os.Stderr, "reshapetest: starting postgres container:", err)
		os.Exit(1)
	}

	sharedConnStr, err = ctr.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		fmt.Fprintln(os.Stderr, "reshapetest: connection string:", err)
		os.Exit(1)
	}

	code := m.Run()

	if err := ctr.Terminate(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "reshapetest: terminating container:", err)
	}
	os.Exit(code)
}

// setupDatabase creates a fresh, randomly named database in the shared
// container and returns an open connection to it plus its DSN.
func setupDatabase(t *testing.T) (*sql.DB, string) {
	t.Helper()
	ctx := context.Background()

	admin, err := sql.Open("postgres", sharedConnStr)
	if err != nil {
		t.Fatalf("reshapetest: opening admin connection: %v", err)
	}
	t.Cleanup(func() { admin.Close() })

	name := fmt.Sprintf("reshape_test_%d", rand.Int63())
	if _, err := admin.ExecContext(ctx, "CREATE DATABASE "+pq.QuoteIdentifier(name)); err != nil {
		t.Fatalf("reshapetest: creating database: %v", err)
	}

	u, err := url.Parse(sharedConnStr)
	if err != nil {
		t.Fatalf("reshapetest: parsing connection string: %v", err)
	}
	u.Path = "/" + name
	dsn := u.String()

	conn, err := sql.Open("postgres", dsn)
	if err != nil {
		t.Fatalf("reshapetest: opening database connection: %v", err)
	}
	t.Cleanup(func() { conn.Close() })

	return conn, dsn
}

// Fixture bundles everything an end-to-end scenario needs: a raw
// connection for assertions against the underlying tables, and an
// Orchestrator wired to a fresh reserved metadata schema.
type Fixture struct {
	DB           *sql.DB
	Gateway      *db.Gateway
	Orchestrator *orchestrator.Orchestrator
}

// WithFixture creates a fresh database in the shared container,
// initialises the reserved metadata schema and invokes fn with a ready
// Fixture.
func WithFixture(t *testing.T, engineVersion string, fn func(f *Fixture)) {
	t.Helper()
	ctx := context.Background()

	conn, _ := setupDatabase(t)

	gw := db.New(conn)
	store := state.New(gw, "reshape")
	orch := orchestrator.New(gw, store, "public", engineVersion)

	if err := orch.Init(ctx); err != nil {
		t.Fatalf("reshapetest: initialising metadata schema: %v", err)
	}

	fn(&Fixture{DB: conn, Gateway: gw, Orchestrator: orch})
}
