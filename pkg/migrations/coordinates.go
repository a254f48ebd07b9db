// SPDX-License-Identifier: Apache-2.0

package migrations

// coordinates locates an action within its migration. It is embedded by
// every action type that needs to name a transient database object;
// the orchestrator sets it via SetCoordinates before invoking
// Run/Complete/Abort, and it is never part of an action's JSON form.
type coordinates struct {
	migrationIdx int
	actionIdx    int
}

func (c *coordinates) SetCoordinates(migrationIdx, actionIdx int) {
	c.migrationIdx, c.actionIdx = migrationIdx, actionIdx
}

// transient returns this action's transient object name, optionally
// suffixed to disambiguate multiple objects it owns.
func (c *coordinates) transient(suffix string) string {
	return TransientName(c.migrationIdx, c.actionIdx, suffix)
}
