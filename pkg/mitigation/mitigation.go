// Package mitigation post-processes raw hardware results to reduce
// noise before they reach callers. It is pure: no hardware access, and
// identical inputs plus identical configuration always produce the same
// report. Hardware is nondeterministic; this package must not be.
package mitigation

import (
	"github.com/OneNessQBAI/QPUMyRobotLabMiddleware/pkg/jobs"
	"github.com/OneNessQBAI/QPUMyRobotLabMiddleware/pkg/qpu"
)

// Decision is the pipeline's verdict on a raw result.
type Decision string

const (
	DecisionAccept Decision = "Accept"
	DecisionReject Decision = "Reject"
	DecisionRetry  Decision = "RetryRecommended"
)

// Config holds the confidence cutoffs.
type Config struct {
	// RejectThreshold: confidence below this is Reject.
	RejectThreshold float64
	// RetryThreshold: confidence below this (but at or above
	// RejectThreshold) is RetryRecommended.
	RetryThreshold float64
}

// Report carries a raw result, its confidence estimate and the decision.
// It is produced per job and consumed immediately by the facade.
type Report struct {
	Raw        qpu.RawResponse `json:"-"`
	Decision   Decision        `json:"decision"`
	Confidence float64         `json:"confidence"`
	// Values are the per-qubit mitigated measurement means.
	Values          []float64 `json:"values"`
	PatternDetected bool      `json:"patternDetected,omitempty"`
	BestOutcome     int       `json:"bestOutcome,omitempty"`
}

// Mitigate applies kind-specific noise reduction and scores the result.
func Mitigate(raw qpu.RawResponse, kind jobs.Kind, cfg Config) Report {
	var rep Report
	switch kind {
	case jobs.KindPatternRecognition:
		rep = mitigatePattern(raw)
	case jobs.KindMovementOptimization:
		rep = mitigateMovement(raw)
	default:
		rep = Report{Raw: raw}
	}

	switch {
	case rep.Confidence < cfg.RejectThreshold:
		rep.Decision = DecisionReject
	case rep.Confidence < cfg.RetryThreshold:
		rep.Decision = DecisionRetry
	default:
		rep.Decision = DecisionAccept
	}
	return rep
}

// mitigatePattern filters out noise shots by majority vote: shots whose
// Hamming distance to the per-qubit majority vector exceeds a quarter of
// the qubit count are treated as outliers and dropped. Confidence is the
// surviving fraction.
func mitigatePattern(raw qpu.RawResponse) Report {
	if len(raw.Shots) == 0 || raw.Qubits == 0 {
		return Report{Raw: raw}
	}

	majority := majorityVector(raw)
	cutoff := raw.Qubits / 4
	if cutoff < 1 {
		cutoff = 1
	}

	survivors := make([][]int, 0, len(raw.Shots))
	for _, shot := range raw.Shots {
		if hammingDistance(shot, majority) <= cutoff {
			survivors = append(survivors, shot)
		}
	}

	values := shotMeans(survivors, raw.Qubits)
	detected := len(values) > 0 && values[0] > 0.5

	return Report{
		Raw:             raw,
		Confidence:      float64(len(survivors)) / float64(len(raw.Shots)),
		Values:          values,
		PatternDetected: detected,
	}
}

// mitigateMovement histograms the shot outcomes and picks the modal one.
// Confidence is the modal share; the mitigated values are the per-qubit
// means clamped to [0,1].
func mitigateMovement(raw qpu.RawResponse) Report {
	if len(raw.Shots) == 0 || raw.Qubits == 0 {
		return Report{Raw: raw}
	}

	counts := make(map[int]int)
	for _, shot := range raw.Shots {
		counts[outcomeValue(shot)]++
	}

	best, bestCount := 0, -1
	for outcome, count := range counts {
		// Deterministic tie-break on the lower outcome value.
		if count > bestCount || (count == bestCount && outcome < best) {
			best, bestCount = outcome, count
		}
	}

	values := shotMeans(raw.Shots, raw.Qubits)
	for i, v := range values {
		values[i] = clamp(v, 0, 1)
	}

	return Report{
		Raw:         raw,
		Confidence:  float64(bestCount) / float64(len(raw.Shots)),
		Values:      values,
		BestOutcome: best,
	}
}

func majorityVector(raw qpu.RawResponse) []int {
	means := shotMeans(raw.Shots, raw.Qubits)
	majority := make([]int, raw.Qubits)
	for q, mean := range means {
		if mean > 0.5 {
			majority[q] = 1
		}
	}
	return majority
}

func shotMeans(shots [][]int, qubits int) []float64 {
	if len(shots) == 0 || qubits == 0 {
		return nil
	}
	means := make([]float64, qubits)
	for _, shot := range shots {
		for q, bit := range shot {
			if q >= qubits {
				break
			}
			means[q] += float64(bit)
		}
	}
	for q := range means {
		means[q] /= float64(len(shots))
	}
	return means
}

func hammingDistance(a, b []int) int {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	d := 0
	for i := 0; i < n; i++ {
		if a[i] != b[i] {
			d++
		}
	}
	return d
}

// outcomeValue encodes a shot's bit vector as an integer, first qubit as
// the most significant bit.
func outcomeValue(shot []int) int {
	v := 0
	for _, bit := range shot {
		v = v<<1 | (bit & 1)
	}
	return v
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
