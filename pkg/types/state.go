package types

import "fmt"

// ControllerState is the motion controller operating mode. It replaces
// string-keyed state comparisons with a closed sum type and an explicit
// transition table.
type ControllerState int

const (
	StateInitializing ControllerState = iota
	StateIdle
	StateNavigation
	StateManipulation
	StateInteraction
	StateEmergencyStop
)

func (s ControllerState) String() string {
	switch s {
	case StateInitializing:
		return "initializing"
	case StateIdle:
		return "idle"
	case StateNavigation:
		return "navigation"
	case StateManipulation:
		return "manipulation"
	case StateInteraction:
		return "interaction"
	case StateEmergencyStop:
		return "emergency_stop"
	default:
		return fmt.Sprintf("controller_state(%d)", int(s))
	}
}

// Active reports whether the state corresponds to an executing mission.
func (s ControllerState) Active() bool {
	switch s {
	case StateNavigation, StateManipulation, StateInteraction:
		return true
	default:
		return false
	}
}

// transitions enumerates every legal non-emergency edge. Emergency stop is
// reachable from any state and handled in CanTransition.
var transitions = map[ControllerState][]ControllerState{
	StateInitializing: {StateIdle},
	StateIdle:         {StateNavigation, StateManipulation, StateInteraction},
	StateNavigation:   {StateIdle},
	StateManipulation: {StateIdle},
	StateInteraction:  {StateIdle},
	// EMERGENCY_STOP exits only to IDLE, and only via operator reset.
	StateEmergencyStop: {StateIdle},
}

// CanTransition reports whether the edge from s to next is legal.
func (s ControllerState) CanTransition(next ControllerState) bool {
	if next == StateEmergencyStop {
		return true
	}
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// StateForMission maps a mission type onto the controller state that
// executes it.
func StateForMission(t MissionType) ControllerState {
	switch t {
	case MissionNavigation:
		return StateNavigation
	case MissionManipulation:
		return StateManipulation
	default:
		return StateInteraction
	}
}
