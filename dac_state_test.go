package edsim

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDacStateTransitions(t *testing.T) {
	s := Idle
	assert.False(t, s.begin(), "begin from IDLE must fail")
	assert.Equal(t, Idle, s)

	assert.True(t, s.prepare())
	assert.Equal(t, Prepared, s)
	assert.False(t, s.prepare(), "prepare from PREPARED must fail")
	assert.Equal(t, Prepared, s)

	assert.True(t, s.begin())
	assert.Equal(t, Running, s)
	assert.False(t, s.prepare())
	assert.False(t, s.begin())
	assert.Equal(t, Running, s)
}

func TestDacStateString(t *testing.T) {
	tests := []struct {
		s    DacState
		want string
	}{
		{Idle, "IDLE"},
		{Prepared, "PREPARED"},
		{Running, "RUNNING"},
		{DacState(9), "DacState(9)"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.s.String())
	}
	// Wire values of playback_state
	assert.Equal(t, uint8(0), uint8(Idle))
	assert.Equal(t, uint8(1), uint8(Prepared))
	assert.Equal(t, uint8(2), uint8(Running))
}
