package events

import "encoding/json"

// Name identifies an event stream; it doubles as the SSE event name.
type Name string

const (
	HealthStatus     Name = "health.status"
	CalibrationState Name = "calibration.state"
	JobCompleted     Name = "job.completed"
	JobFailed        Name = "job.failed"
)

// Event is a generic SSE event from the daemon.
type Event struct {
	Name Name            // SSE event name
	Data json.RawMessage // Raw JSON payload
}

// HealthStatusEvent is the typed payload for health.status.
type HealthStatusEvent struct {
	From   string `json:"from"`
	To     string `json:"to"`
	Reason string `json:"reason,omitempty"`
	Ts     int64  `json:"ts"`
}

// CalibrationStateEvent is the typed payload for calibration.state.
type CalibrationStateEvent struct {
	From string `json:"from"`
	To   string `json:"to"`
	Ts   int64  `json:"ts"`
}

// JobEvent is the typed payload for job.completed and job.failed.
type JobEvent struct {
	JobID      string  `json:"jobId"`
	Kind       string  `json:"kind"`
	Outcome    string  `json:"outcome"`
	Confidence float64 `json:"confidence,omitempty"`
	Attempts   int     `json:"attempts"`
	Ts         int64   `json:"ts"`
}

// DecodeAs decodes the event payload into the caller-specified generic
// type T. It ignores the event name and simply unmarshals Data into T.
// If Data is empty, it returns the zero value of T with a nil error.
func DecodeAs[T any](e Event) (T, error) {
	var zero T
	if len(e.Data) == 0 {
		return zero, nil
	}
	var v T
	if err := json.Unmarshal(e.Data, &v); err != nil {
		return zero, err
	}
	return v, nil
}
