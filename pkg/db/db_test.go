// SPDX-License-Identifier: Apache-2.0

package db_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/reshapehq/reshape/pkg/db"
)

func TestAdvisoryLockKeyIsStable(t *testing.T) {
	t.Parallel()

	// The advisory lock key must never change between releases: any
	// change would let two different binary versions both believe
	// they hold mutual exclusion against each other.
	assert.Equal(t, int64(0x72657368617065), db.AdvisoryLockKey)
}

func TestErrAlreadyRunningHasStableMessage(t *testing.T) {
	t.Parallel()

	assert.Contains(t, db.ErrAlreadyRunning.Error(), "already running")
}
