// SPDX-License-Identifier: Apache-2.0

package migrations

import (
	"strconv"
	"strings"
)

// ViewNamespace returns the per-migration view namespace name for a
// migration (spec §3): `migration_{migration_name}`.
func ViewNamespace(migrationName string) string {
	return "migration_" + migrationName
}

// TransientName returns the name for a transient database object owned
// by a single action (spec §3): `__reshape_{migration_idx}_{action_idx}`,
// optionally with a disambiguating suffix appended.
func TransientName(migrationIdx, actionIdx int, suffix string) string {
	name := transientPrefixf(migrationIdx, actionIdx)
	if suffix != "" {
		name += "_" + suffix
	}
	return name
}

func transientPrefixf(migrationIdx, actionIdx int) string {
	return "__reshape_" + strconv.Itoa(migrationIdx) + "_" + strconv.Itoa(actionIdx)
}

// ForeignKeyName returns the final constraint name for a foreign key
// (spec §3): `{table}_{col1_col2_...}_fkey`.
func ForeignKeyName(table string, columns []string) string {
	return table + "_" + strings.Join(columns, "_") + "_fkey"
}

// IsTransientName reports whether a database object name matches the
// engine-owned `__reshape_*` pattern (spec Invariant 3, P5).
func IsTransientName(name string) bool {
	return strings.HasPrefix(name, "__reshape_")
}

// WritingSideGUC is the connection-local setting cross-table up/down
// triggers (add_column/remove_column's `{table, value, where}` form)
// read to avoid re-triggering themselves on the write they just made to
// their dependent table. Same-table paired triggers (alter_column,
// alter_enum) instead guard on NEW/OLD via pairedGuard, since they fire
// on the very table being written and Postgres gives no hook to set a
// GUC ahead of that write; remove_column's scalar-form trigger has no
// sibling and uses alwaysGuard.
const WritingSideGUC = "reshape.writing_side"
