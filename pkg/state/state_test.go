// SPDX-License-Identifier: Apache-2.0

package state

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStateIdle(t *testing.T) {
	assert.True(t, (*State)(nil).Idle())
	assert.True(t, (&State{}).Idle())
	assert.True(t, (&State{Status: Idle}).Idle())
	assert.False(t, (&State{Status: Applying}).Idle())
	assert.False(t, (&State{Status: InProgress}).Idle())
}

func TestCheckVersion(t *testing.T) {
	cases := []struct {
		name      string
		recorded  string
		current   string
		wantError bool
	}{
		{"no recorded version", "", "1.2.0", false},
		{"no current version", "1.2.0", "", false},
		{"older recorded", "1.1.0", "1.2.0", false},
		{"equal", "1.2.0", "1.2.0", false},
		{"newer recorded", "1.3.0", "1.2.0", true},
		{"non-semver recorded is ignored", "dev", "1.2.0", false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := CheckVersion(&State{EngineVersion: tc.recorded}, tc.current)
			if tc.wantError {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestCheckVersionNilState(t *testing.T) {
	assert.NoError(t, CheckVersion(nil, "1.2.0"))
}
