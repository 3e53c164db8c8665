// Package agents provides the agent data model: a structure-of-arrays store
// where an agent is nothing more than an index shared by every column.
package agents

import (
	"github.com/talgya/morphosim/internal/space"
)

// State is the discrete tag that governs an agent's color and which field
// channel it feeds.
type State uint8

const (
	StateNeutral State = 0 // Contributes to neither channel
	StateA       State = 1 // Feeds channel A
	StateB       State = 2 // Feeds channel B
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateNeutral:
		return "neutral"
	case StateA:
		return "a"
	case StateB:
		return "b"
	default:
		return "unknown"
	}
}

// Agent is a boxed view of one row of the store. It is only used to pass
// attributes in and out; the store never holds Agent values.
type Agent struct {
	Location space.Vec3 `json:"location"`
	Radius   float64    `json:"radius"`
	State    State      `json:"state"`
}

// Color returns the RGB display color for the state.
func (s State) Color() [3]uint8 {
	switch s {
	case StateA:
		return [3]uint8{255, 0, 0}
	case StateB:
		return [3]uint8{0, 0, 255}
	default:
		return [3]uint8{255, 255, 0}
	}
}
