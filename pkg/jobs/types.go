package jobs

import (
	"math"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/OneNessQBAI/QPUMyRobotLabMiddleware/pkg/qpu"
)

// Kind selects the processing the hardware and the mitigation pipeline
// apply to a job.
type Kind string

const (
	KindPatternRecognition   Kind = "pattern-recognition"
	KindMovementOptimization Kind = "movement-optimization"
	// KindCalibration is the privileged job kind used internally for
	// calibration sequences. It is not accepted from external callers.
	KindCalibration Kind = "calibration"
)

// Job is one unit of work submitted to the hardware interface.
type Job struct {
	ID uuid.UUID `json:"id"`
	// Kind selects hardware encoding and mitigation strategy.
	Kind Kind `json:"kind"`
	// Payload is the input vector for pattern-recognition jobs.
	Payload []float64 `json:"payload,omitempty"`
	// Params is the parameter mapping for movement-optimization jobs.
	Params map[string]float64 `json:"params,omitempty"`
	// Shots overrides the number of measurement repetitions. Zero means
	// the device default.
	Shots       int       `json:"shots,omitempty"`
	SubmittedAt time.Time `json:"submittedAt"`
	// Retries counts dispatch attempts beyond the first.
	Retries int `json:"retries"`
}

// New returns a pattern-recognition or movement-optimization job with a
// fresh id.
func New(kind Kind, payload []float64, params map[string]float64) Job {
	return Job{
		ID:          uuid.New(),
		Kind:        kind,
		Payload:     payload,
		Params:      params,
		SubmittedAt: time.Now(),
	}
}

// Validate checks the job payload against its kind. Contract violations
// fail immediately and are never retried.
func (j Job) Validate() error {
	switch j.Kind {
	case KindPatternRecognition:
		if len(j.Payload) == 0 {
			return NewError(ErrKindInvalidJob, j.ID, 0, 0, "", errEmptyPayload)
		}
		for _, v := range j.Payload {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return NewError(ErrKindInvalidJob, j.ID, 0, 0, "", errNonFinitePayload)
			}
		}
	case KindMovementOptimization:
		if len(j.Params) == 0 {
			return NewError(ErrKindInvalidJob, j.ID, 0, 0, "", errEmptyParams)
		}
		for _, v := range j.Params {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return NewError(ErrKindInvalidJob, j.ID, 0, 0, "", errNonFinitePayload)
			}
		}
	case KindCalibration:
		// Calibration jobs carry no caller payload.
	default:
		return NewError(ErrKindInvalidJob, j.ID, 0, 0, "", errUnknownKind)
	}
	return nil
}

// Command encodes the job into a device command. Movement parameters are
// ordered by key so the encoding is deterministic.
func (j Job) Command() qpu.Command {
	params := j.Payload
	if j.Kind == KindMovementOptimization {
		keys := make([]string, 0, len(j.Params))
		for k := range j.Params {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		params = make([]float64, 0, len(keys))
		for _, k := range keys {
			params = append(params, j.Params[k])
		}
	}
	return qpu.Command{Op: qpu.OpExecute, Params: params, Shots: j.Shots}
}

// ProcessedResult is what callers get back after mitigation accepted a
// hardware response.
type ProcessedResult struct {
	JobID uuid.UUID `json:"jobId"`
	Kind  Kind      `json:"kind"`
	// Values are the per-qubit mitigated measurement means.
	Values []float64 `json:"values"`
	// PatternDetected is set for pattern-recognition jobs.
	PatternDetected bool `json:"patternDetected,omitempty"`
	// BestOutcome is the modal measurement outcome for
	// movement-optimization jobs, encoded as the bit vector's integer
	// value.
	BestOutcome int     `json:"bestOutcome,omitempty"`
	Confidence  float64 `json:"confidence"`
	Attempts    int     `json:"attempts"`
}
