// Package calibration owns the calibration state machine of the device:
//
//   - State: the discrete calibration states and their legal transitions
//   - Snapshot: the persisted runtime state managed by the daemon
//   - Status: a synthesized view model returned by HTTP APIs
//
// These types are shared across daemon and client code to keep JSON
// contracts consistent.
package calibration

import "time"

// State defines the calibration states of the device.
type State string

const (
	StateUncalibrated State = "Uncalibrated"
	StateCalibrating  State = "Calibrating"
	StateCalibrated   State = "Calibrated"
	// StateDegraded is sticky: it signals hardware requiring physical
	// attention and is only left through an explicit reset.
	StateDegraded State = "Degraded"
)

// legalTransitions enumerates the only permitted state changes.
var legalTransitions = map[State][]State{
	StateUncalibrated: {StateCalibrating},
	StateCalibrating:  {StateCalibrated, StateUncalibrated, StateDegraded},
	StateCalibrated:   {StateCalibrating, StateDegraded},
	StateDegraded:     {StateUncalibrated},
}

// CanTransition reports whether from -> to is a legal transition.
func CanTransition(from, to State) bool {
	for _, s := range legalTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Probe is one step of the calibration sequence: a fixed circuit whose
// ideal per-qubit one-probabilities are known, so the deviation of the
// observed response measures drift.
type Probe struct {
	Index    int       `json:"index"`
	Expected []float64 `json:"expected"`
}

// DefaultProbes covers the three canonical probe circuits: all-zeros,
// all-ones, and even superposition, over 4 qubits.
var DefaultProbes = []Probe{
	{Index: 0, Expected: []float64{0, 0, 0, 0}},
	{Index: 1, Expected: []float64{1, 1, 1, 1}},
	{Index: 2, Expected: []float64{0.5, 0.5, 0.5, 0.5}},
}

// Snapshot is the runtime state persisted to disk so a daemon restart
// does not lose the drift history or a sticky Degraded state.
type Snapshot struct {
	State               State     `json:"state"`
	LastCalibratedAt    time.Time `json:"lastCalibratedAt"`
	DriftScore          float64   `json:"driftScore"`
	ConsecutiveFailures int       `json:"consecutiveFailures"`
	LastError           string    `json:"lastError,omitempty"`
}

// Status is the view model exposed via HTTP.
type Status struct {
	State               State     `json:"state"`
	LastCalibratedAt    time.Time `json:"lastCalibratedAt"`
	AgeSeconds          int       `json:"ageSeconds"`
	DriftScore          float64   `json:"driftScore"`
	ConsecutiveFailures int       `json:"consecutiveFailures"`
	LastError           string    `json:"lastError,omitempty"`
	ScheduledAt         time.Time `json:"scheduledAt,omitempty"`
}
