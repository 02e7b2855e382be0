package calibration

import (
	"context"
	"encoding/json"
	"math"
	"os"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/OneNessQBAI/QPUMyRobotLabMiddleware/pkg/config"
	"github.com/OneNessQBAI/QPUMyRobotLabMiddleware/pkg/qpu"
)

// driftAlpha is the EWMA weight of the newest probe deviation.
const driftAlpha = 0.3

var (
	ErrExhausted  = &calibrationError{"calibration failures exhausted; device marked degraded"}
	ErrDegraded   = &calibrationError{"device is degraded; reset required before calibrating"}
	ErrInProgress = &calibrationError{"calibration already in progress"}
)

type calibrationError struct{ msg string }

func (e *calibrationError) Error() string { return e.msg }

// Sender is the slice of the device channel the manager needs.
type Sender interface {
	SendReceive(ctx context.Context, cmd qpu.Command) (qpu.RawResponse, error)
}

// Manager owns the calibration state machine. All mutations go through
// transition(), which enforces the legal transitions; callers only ever
// observe consistent snapshots.
type Manager struct {
	// OnHealth, if set, receives (degraded, driftScore) after every
	// state change; the health monitor hooks in here.
	OnHealth func(degraded bool, drift float64)
	// OnTransition, if set, receives every state change for event
	// publishing.
	OnTransition func(from, to State)

	channel   Sender
	conf      config.Config
	probes    []Probe
	statePath string

	mu   sync.Mutex
	snap Snapshot

	// now is a test seam.
	now func() time.Time
}

// NewManager returns a Manager over the given channel. statePath may be
// empty to disable persistence. Previous state (including a sticky
// Degraded) is reloaded from statePath if present.
func NewManager(channel Sender, conf config.Config, statePath string) *Manager {
	m := &Manager{
		channel:   channel,
		conf:      conf,
		probes:    DefaultProbes,
		statePath: statePath,
		snap:      Snapshot{State: StateUncalibrated},
		now:       time.Now,
	}
	m.loadState()
	return m
}

func (m *Manager) loadState() {
	if m.statePath == "" {
		return
	}
	b, err := os.ReadFile(m.statePath)
	if err != nil {
		if !os.IsNotExist(err) {
			logrus.WithError(err).Warn("failed to read calibration state")
		}
		return
	}
	var snap Snapshot
	if err := json.Unmarshal(b, &snap); err != nil {
		logrus.WithError(err).Warn("failed to unmarshal calibration state")
		return
	}
	// A restart mid-calibration means the sequence never finished.
	if snap.State == StateCalibrating {
		snap.State = StateUncalibrated
	}
	m.snap = snap
}

func (m *Manager) persistState() {
	if m.statePath == "" {
		return
	}
	b, err := json.MarshalIndent(m.snap, "", "  ")
	if err != nil {
		logrus.WithError(err).Error("marshal calibration state")
		return
	}
	if err := os.WriteFile(m.statePath, b, 0644); err != nil {
		logrus.WithError(err).Error("write calibration state")
	}
}

// Snapshot returns a copy of the current state.
func (m *Manager) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snap
}

// State returns the current calibration state.
func (m *Manager) State() State {
	return m.Snapshot().State
}

// transition moves the state machine. Illegal transitions are refused;
// they indicate a programming error, not a hardware condition. Caller
// holds m.mu.
func (m *Manager) transition(to State) bool {
	from := m.snap.State
	if from == to {
		return true
	}
	if !CanTransition(from, to) {
		logrus.WithFields(logrus.Fields{
			"from": from,
			"to":   to,
		}).Error("illegal calibration transition refused")
		return false
	}
	m.snap.State = to

	logrus.WithFields(logrus.Fields{
		"from":  from,
		"to":    to,
		"drift": m.snap.DriftScore,
	}).Info("calibration state changed")

	if m.OnTransition != nil {
		m.OnTransition(from, to)
	}
	if m.OnHealth != nil {
		m.OnHealth(to == StateDegraded, m.snap.DriftScore)
	}
	return true
}

// EnsureCalibrated makes sure the device calibration is fresh. If the
// state is Calibrated and younger than maxDriftAge it returns
// immediately; calibration is expensive and must not be repeated
// needlessly. Otherwise it runs the probe sequence through the channel.
// After CalibrationFailureThreshold consecutive failed sequences the
// device goes Degraded and ErrExhausted is returned; Degraded is sticky
// until Reset.
//
// The caller must hold the exclusive execution slot: the probe sequence
// must not interleave with ordinary jobs.
func (m *Manager) EnsureCalibrated(ctx context.Context) error {
	m.mu.Lock()

	switch m.snap.State {
	case StateDegraded:
		m.mu.Unlock()
		return ErrDegraded
	case StateCalibrating:
		m.mu.Unlock()
		return ErrInProgress
	case StateCalibrated:
		if m.now().Sub(m.snap.LastCalibratedAt) <= m.conf.MaxDriftAge() {
			m.mu.Unlock()
			return nil
		}
	}

	return m.calibrate(ctx)
}

// Recalibrate runs the probe sequence regardless of how fresh the
// current calibration is. Like EnsureCalibrated, the caller must hold
// the exclusive execution slot.
func (m *Manager) Recalibrate(ctx context.Context) error {
	m.mu.Lock()

	switch m.snap.State {
	case StateDegraded:
		m.mu.Unlock()
		return ErrDegraded
	case StateCalibrating:
		m.mu.Unlock()
		return ErrInProgress
	}

	return m.calibrate(ctx)
}

// calibrate runs the sequence with retries. It is entered with m.mu
// held and returns with it released. The lock is dropped while probes
// are on the wire so Snapshot and Status stay prompt during a run;
// concurrent entry is excluded by the Calibrating state itself.
func (m *Manager) calibrate(ctx context.Context) error {
	defer m.mu.Unlock()

	if !m.transition(StateCalibrating) {
		return ErrInProgress
	}
	m.persistState()

	threshold := m.conf.CalibrationFailureThreshold()
	for {
		m.mu.Unlock()
		deviation, err := m.runSequence(ctx)
		m.mu.Lock()

		if err == nil {
			m.snap.DriftScore = ewma(m.snap.DriftScore, deviation)
			m.snap.LastCalibratedAt = m.now()
			m.snap.ConsecutiveFailures = 0
			m.snap.LastError = ""
			m.transition(StateCalibrated)
			m.persistState()
			return nil
		}

		m.snap.ConsecutiveFailures++
		m.snap.LastError = err.Error()
		logrus.WithError(err).WithFields(logrus.Fields{
			"consecutiveFailures": m.snap.ConsecutiveFailures,
			"threshold":           threshold,
		}).Warn("calibration sequence failed")

		if m.snap.ConsecutiveFailures >= threshold {
			m.transition(StateDegraded)
			m.persistState()
			return ErrExhausted
		}
		if ctx.Err() != nil {
			// Give up without burning the remaining budget; the device
			// is not at fault for a canceled context.
			m.transition(StateUncalibrated)
			m.persistState()
			return ctx.Err()
		}
	}
}

// runSequence issues all probes and returns the mean absolute deviation
// between expected and observed per-qubit one-fractions. It touches no
// mutable Manager state and runs without m.mu held.
func (m *Manager) runSequence(ctx context.Context) (float64, error) {
	shots := m.conf.ProbeShots()
	total := 0.0
	count := 0

	for _, p := range m.probes {
		resp, err := m.channel.SendReceive(ctx, qpu.Command{
			Op:     qpu.OpProbe,
			Params: []float64{float64(p.Index)},
			Shots:  shots,
		})
		if err != nil {
			return 0, err
		}

		observed := onesFractions(resp)
		for q, exp := range p.Expected {
			if q >= len(observed) {
				break
			}
			total += math.Abs(observed[q] - exp)
			count++
		}
	}

	if count == 0 {
		return 0, nil
	}
	return total / float64(count), nil
}

// Reset clears a Degraded state after physical intervention, forcing a
// fresh calibration on the next job. Resetting a non-degraded device is
// allowed and simply discards the current calibration.
func (m *Manager) Reset() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.snap.State == StateCalibrating {
		return ErrInProgress
	}

	logrus.WithField("previous", m.snap.State).Info("calibration reset")

	from := m.snap.State
	m.snap = Snapshot{State: StateUncalibrated}
	if from != StateUncalibrated {
		if m.OnTransition != nil {
			m.OnTransition(from, StateUncalibrated)
		}
		if m.OnHealth != nil {
			m.OnHealth(false, 0)
		}
	}
	m.persistState()
	return nil
}

// Status synthesizes the HTTP view model.
func (m *Manager) Status() Status {
	snap := m.Snapshot()
	age := 0
	if !snap.LastCalibratedAt.IsZero() {
		age = int(m.now().Sub(snap.LastCalibratedAt).Seconds())
	}
	return Status{
		State:               snap.State,
		LastCalibratedAt:    snap.LastCalibratedAt,
		AgeSeconds:          age,
		DriftScore:          snap.DriftScore,
		ConsecutiveFailures: snap.ConsecutiveFailures,
		LastError:           snap.LastError,
	}
}

func ewma(prev, sample float64) float64 {
	if prev == 0 {
		return sample
	}
	return (1-driftAlpha)*prev + driftAlpha*sample
}

// onesFractions returns the fraction of 1 measurements per qubit.
func onesFractions(resp qpu.RawResponse) []float64 {
	if resp.Qubits == 0 || len(resp.Shots) == 0 {
		return nil
	}
	ones := make([]float64, resp.Qubits)
	for _, shot := range resp.Shots {
		for q, bit := range shot {
			if q >= resp.Qubits {
				break
			}
			if bit == 1 {
				ones[q]++
			}
		}
	}
	for q := range ones {
		ones[q] /= float64(len(resp.Shots))
	}
	return ones
}
