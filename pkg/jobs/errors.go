package jobs

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// ErrorKind is the failure taxonomy surfaced to callers.
type ErrorKind string

const (
	// ErrKindHardwareUnreachable means the health monitor reports the
	// device unreachable; the job was rejected before touching hardware.
	ErrKindHardwareUnreachable ErrorKind = "HardwareUnreachable"
	// ErrKindHardwareDegraded means calibration is exhausted; the device
	// needs physical attention and an explicit reset.
	ErrKindHardwareDegraded ErrorKind = "HardwareDegraded"
	// ErrKindDeviceFailure means the retry budget was exhausted on
	// transient transport failures.
	ErrKindDeviceFailure ErrorKind = "DeviceFailure"
	// ErrKindResultRejected means mitigation judged the result too noisy
	// to trust.
	ErrKindResultRejected ErrorKind = "ResultRejected"
	// ErrKindLowConfidence means the retry budget ran out before an
	// acceptable result; the best observed result is attached so the
	// caller can decide whether to use it.
	ErrKindLowConfidence ErrorKind = "LowConfidence"
	// ErrKindInvalidJob means the job payload violates the contract.
	ErrKindInvalidJob ErrorKind = "InvalidJob"
)

var (
	errEmptyPayload     = errors.New("pattern-recognition job requires a non-empty payload vector")
	errEmptyParams      = errors.New("movement-optimization job requires a non-empty parameter map")
	errNonFinitePayload = errors.New("job payload contains NaN or Inf")
	errUnknownKind      = errors.New("unknown job kind")
)

// Error carries enough structured context for external logging: the job,
// how many attempts were made, the confidence of the best result where
// one exists, and the health status observed at failure time.
type Error struct {
	Kind       ErrorKind `json:"kind"`
	JobID      uuid.UUID `json:"jobId"`
	Attempts   int       `json:"attempts"`
	Confidence float64   `json:"confidence,omitempty"`
	Health     string    `json:"health,omitempty"`
	// BestResult is populated for LowConfidence failures so callers may
	// use a degraded answer knowingly.
	BestResult *ProcessedResult `json:"bestResult,omitempty"`

	Err error `json:"-"`
}

// NewError returns a structured job error.
func NewError(kind ErrorKind, jobID uuid.UUID, attempts int, confidence float64, health string, err error) *Error {
	return &Error{
		Kind:       kind,
		JobID:      jobID,
		Attempts:   attempts,
		Confidence: confidence,
		Health:     health,
		Err:        err,
	}
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("job %s failed: %s (attempts=%d)", e.JobID, e.Kind, e.Attempts)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// KindOf extracts the error kind, or the empty string for non-job
// errors.
func KindOf(err error) ErrorKind {
	var je *Error
	if errors.As(err, &je) {
		return je.Kind
	}
	return ""
}

// AsError extracts the structured job error, if any.
func AsError(err error) (*Error, bool) {
	var je *Error
	ok := errors.As(err, &je)
	return je, ok
}
