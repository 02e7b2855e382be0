package qpu

// Op identifies what the device is asked to do. The actual wire encoding
// of an op is up to the Transport vendor binding.
type Op string

const (
	// OpExecute runs a parameterized circuit and measures it.
	OpExecute Op = "execute"
	// OpProbe runs a fixed calibration probe circuit.
	OpProbe Op = "probe"
	// OpPing is a minimal no-op round trip used to check link liveness.
	OpPing Op = "ping"
)

// Command is one unit sent to the device.
type Command struct {
	Op Op `json:"op"`
	// Params are rotation parameters encoded into the circuit. For probes
	// this selects the probe index.
	Params []float64 `json:"params"`
	// Shots is the number of repetitions to measure. Zero means the
	// transport default.
	Shots int `json:"shots"`
}

// RawResponse is the unprocessed measurement record returned by the
// device. Each shot is one bit vector, one bit per qubit.
type RawResponse struct {
	Qubits int     `json:"qubits"`
	Shots  [][]int `json:"shots"`
}

// ShotCount returns the number of measured shots.
func (r RawResponse) ShotCount() int {
	return len(r.Shots)
}

// Transport is the vendor-specific binding to the physical device. It is
// expected to block in Exchange until the device answers; deadlines are
// enforced by the Channel, not here.
type Transport interface {
	Open() error
	Exchange(cmd Command) (RawResponse, error)
	Close() error
}
