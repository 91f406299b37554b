package edsim

import "fmt"

// DacState is the playback state of the simulated DAC, as reported in the
// playback_state status field.
type DacState uint8

// Names for the possible values of DacState
const (
	Idle     DacState = iota // power-on state, and the state after every connection reset
	Prepared                 // after a successful 'p'
	Running                  // after a successful 'b'; points drain only in this state
)

func (s DacState) String() string {
	switch s {
	case Idle:
		return "IDLE"
	case Prepared:
		return "PREPARED"
	case Running:
		return "RUNNING"
	}
	return fmt.Sprintf("DacState(%d)", uint8(s))
}

// prepare moves Idle to Prepared. It reports false, leaving the state alone,
// from any other state.
func (s *DacState) prepare() bool {
	if *s != Idle {
		return false
	}
	*s = Prepared
	return true
}

// begin moves Prepared to Running. It reports false, leaving the state alone,
// from any other state.
func (s *DacState) begin() bool {
	if *s != Prepared {
		return false
	}
	*s = Running
	return true
}
