package libre

// SensorState is the decoded sensor lifecycle state.
type SensorState int

const (
	StateUnknown SensorState = iota
	StateNotStarted
	StateStarting
	StateReady
	StateExpired
	StateShutdown
	StateFailure
)

var stateNames = map[SensorState]string{
	StateUnknown:    "unknown",
	StateNotStarted: "not_started",
	StateStarting:   "starting",
	StateReady:      "ready",
	StateExpired:    "expired",
	StateShutdown:   "shutdown",
	StateFailure:    "failure",
}

func (s SensorState) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return "unknown"
}

// Active reports whether the sensor is producing usable measurements.
func (s SensorState) Active() bool {
	return s == StateReady
}

// StateFromName maps a state name (as produced by String) back to the
// SensorState value. Unrecognised names map to StateUnknown.
func StateFromName(name string) SensorState {
	for state, n := range stateNames {
		if n == name {
			return state
		}
	}
	return StateUnknown
}

// DefaultStateCodes returns the firmware status-byte table observed on
// Libre 1 family sensors. The mapping is firmware-defined and opaque;
// unknown codes decode to StateUnknown.
func DefaultStateCodes() map[byte]SensorState {
	return map[byte]SensorState{
		0x01: StateNotStarted,
		0x02: StateStarting,
		0x03: StateReady,
		0x04: StateExpired,
		0x05: StateShutdown,
		0x06: StateFailure,
	}
}
