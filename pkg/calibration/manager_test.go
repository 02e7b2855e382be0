package calibration

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/OneNessQBAI/QPUMyRobotLabMiddleware/pkg/config"
	"github.com/OneNessQBAI/QPUMyRobotLabMiddleware/pkg/qpu"
	"github.com/OneNessQBAI/QPUMyRobotLabMiddleware/pkg/utils/ptr"
)

func testConfig() config.Config {
	return config.NewFileFromConfig(&config.RawFileConfig{
		ProbeShots:                  ptr.To(10),
		CalibrationFailureThreshold: ptr.To(3),
		MaxDriftAgeSeconds:          ptr.To(300),
	}, "")
}

// probeSender answers probe commands with their ideal responses, so a
// calibration sequence observes zero deviation.
type probeSender struct {
	mu    sync.Mutex
	calls int
	// err, if set, fails every exchange.
	err error
	// noisyProbe2 answers probe 2 with all ones instead of an even
	// superposition, producing a non-zero deviation.
	noisyProbe2 bool
}

func (s *probeSender) SendReceive(_ context.Context, cmd qpu.Command) (qpu.RawResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++

	if s.err != nil {
		return qpu.RawResponse{}, s.err
	}

	idx := 0
	if len(cmd.Params) > 0 {
		idx = int(cmd.Params[0])
	}

	shots := cmd.Shots
	resp := qpu.RawResponse{Qubits: 4, Shots: make([][]int, shots)}
	for i := range resp.Shots {
		bits := make([]int, 4)
		switch idx {
		case 1:
			for q := range bits {
				bits[q] = 1
			}
		case 2:
			if s.noisyProbe2 || i < shots/2 {
				for q := range bits {
					bits[q] = 1
				}
			}
		}
		resp.Shots[i] = bits
	}
	return resp, nil
}

func (s *probeSender) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func TestCalibrateTransitions(t *testing.T) {
	sender := &probeSender{}
	m := NewManager(sender, testConfig(), "")

	var transitions []State
	m.OnTransition = func(_, to State) {
		transitions = append(transitions, to)
	}

	if err := m.EnsureCalibrated(context.Background()); err != nil {
		t.Fatalf("EnsureCalibrated returned error: %v", err)
	}

	if got := m.State(); got != StateCalibrated {
		t.Fatalf("expected Calibrated, got %s", got)
	}
	want := []State{StateCalibrating, StateCalibrated}
	if len(transitions) != len(want) || transitions[0] != want[0] || transitions[1] != want[1] {
		t.Fatalf("expected transitions %v, got %v", want, transitions)
	}
	// One exchange per probe circuit.
	if got := sender.callCount(); got != len(DefaultProbes) {
		t.Fatalf("expected %d probe exchanges, got %d", len(DefaultProbes), got)
	}

	snap := m.Snapshot()
	if snap.DriftScore != 0 {
		t.Fatalf("ideal probe responses must give zero deviation, got %v", snap.DriftScore)
	}
	if snap.LastCalibratedAt.IsZero() {
		t.Fatalf("expected LastCalibratedAt to be set")
	}
}

// gateSender answers probes ideally but blocks every exchange until
// release is closed, signalling started on the first one.
type gateSender struct {
	probeSender
	once    sync.Once
	started chan struct{}
	release chan struct{}
}

func (s *gateSender) SendReceive(ctx context.Context, cmd qpu.Command) (qpu.RawResponse, error) {
	s.once.Do(func() { close(s.started) })
	<-s.release
	return s.probeSender.SendReceive(ctx, cmd)
}

func TestSnapshotPromptDuringCalibration(t *testing.T) {
	sender := &gateSender{started: make(chan struct{}), release: make(chan struct{})}
	m := NewManager(sender, testConfig(), "")

	done := make(chan error, 1)
	go func() { done <- m.EnsureCalibrated(context.Background()) }()

	<-sender.started

	// Status reads must not wait for the probe sequence to finish.
	snapCh := make(chan Snapshot, 1)
	go func() { snapCh <- m.Snapshot() }()
	select {
	case snap := <-snapCh:
		if snap.State != StateCalibrating {
			t.Fatalf("expected Calibrating while a probe is in flight, got %s", snap.State)
		}
	case <-time.After(time.Second):
		t.Fatalf("Snapshot blocked while a probe was in flight")
	}

	close(sender.release)
	if err := <-done; err != nil {
		t.Fatalf("EnsureCalibrated returned error: %v", err)
	}
	if got := m.State(); got != StateCalibrated {
		t.Fatalf("expected Calibrated after release, got %s", got)
	}
}

func TestFreshCalibrationSkipsProbes(t *testing.T) {
	sender := &probeSender{}
	m := NewManager(sender, testConfig(), "")

	if err := m.EnsureCalibrated(context.Background()); err != nil {
		t.Fatalf("EnsureCalibrated returned error: %v", err)
	}
	before := sender.callCount()

	// Calibration is fresh; a second call must not touch the device.
	if err := m.EnsureCalibrated(context.Background()); err != nil {
		t.Fatalf("EnsureCalibrated returned error: %v", err)
	}
	if got := sender.callCount(); got != before {
		t.Fatalf("fresh calibration must not re-probe: %d -> %d exchanges", before, got)
	}
}

func TestStaleCalibrationReruns(t *testing.T) {
	sender := &probeSender{}
	m := NewManager(sender, testConfig(), "")

	if err := m.EnsureCalibrated(context.Background()); err != nil {
		t.Fatalf("EnsureCalibrated returned error: %v", err)
	}
	before := sender.callCount()

	// Age the calibration past maxDriftAge.
	m.now = func() time.Time { return time.Now().Add(10 * time.Minute) }

	if err := m.EnsureCalibrated(context.Background()); err != nil {
		t.Fatalf("EnsureCalibrated returned error: %v", err)
	}
	if got := sender.callCount(); got <= before {
		t.Fatalf("stale calibration must re-probe, exchanges stayed at %d", got)
	}
}

func TestRecalibrateIgnoresFreshness(t *testing.T) {
	sender := &probeSender{}
	m := NewManager(sender, testConfig(), "")

	if err := m.EnsureCalibrated(context.Background()); err != nil {
		t.Fatalf("EnsureCalibrated returned error: %v", err)
	}
	before := sender.callCount()

	if err := m.Recalibrate(context.Background()); err != nil {
		t.Fatalf("Recalibrate returned error: %v", err)
	}
	if got := sender.callCount(); got <= before {
		t.Fatalf("Recalibrate must re-probe even when fresh")
	}
}

func TestDegradedAfterFailureThreshold(t *testing.T) {
	sender := &probeSender{err: qpu.ErrLink}
	m := NewManager(sender, testConfig(), "")

	var healthDegraded bool
	m.OnHealth = func(degraded bool, _ float64) {
		healthDegraded = degraded
	}

	err := m.EnsureCalibrated(context.Background())
	if !errors.Is(err, ErrExhausted) {
		t.Fatalf("expected ErrExhausted after threshold, got %v", err)
	}
	if got := m.State(); got != StateDegraded {
		t.Fatalf("expected Degraded, got %s", got)
	}
	// Each failing sequence aborts on its first probe.
	if got := sender.callCount(); got != 3 {
		t.Fatalf("expected 3 failed sequences before degrading, got %d exchanges", got)
	}
	if !healthDegraded {
		t.Fatalf("expected health callback with degraded=true")
	}
}

func TestDegradedIsSticky(t *testing.T) {
	sender := &probeSender{err: qpu.ErrLink}
	m := NewManager(sender, testConfig(), "")

	if err := m.EnsureCalibrated(context.Background()); !errors.Is(err, ErrExhausted) {
		t.Fatalf("expected ErrExhausted, got %v", err)
	}

	// The device now answers perfectly, but Degraded must hold until an
	// explicit reset.
	sender.mu.Lock()
	sender.err = nil
	sender.mu.Unlock()
	before := sender.callCount()

	if err := m.EnsureCalibrated(context.Background()); !errors.Is(err, ErrDegraded) {
		t.Fatalf("expected ErrDegraded while degraded, got %v", err)
	}
	if err := m.Recalibrate(context.Background()); !errors.Is(err, ErrDegraded) {
		t.Fatalf("expected ErrDegraded from Recalibrate while degraded, got %v", err)
	}
	if got := sender.callCount(); got != before {
		t.Fatalf("degraded device must not be probed, got %d new exchanges", got-before)
	}
}

func TestResetClearsDegraded(t *testing.T) {
	sender := &probeSender{err: qpu.ErrLink}
	m := NewManager(sender, testConfig(), "")

	if err := m.EnsureCalibrated(context.Background()); !errors.Is(err, ErrExhausted) {
		t.Fatalf("expected ErrExhausted, got %v", err)
	}

	if err := m.Reset(); err != nil {
		t.Fatalf("Reset returned error: %v", err)
	}
	if got := m.State(); got != StateUncalibrated {
		t.Fatalf("expected Uncalibrated after reset, got %s", got)
	}

	sender.mu.Lock()
	sender.err = nil
	sender.mu.Unlock()

	if err := m.EnsureCalibrated(context.Background()); err != nil {
		t.Fatalf("expected calibration to succeed after reset, got %v", err)
	}
	if got := m.State(); got != StateCalibrated {
		t.Fatalf("expected Calibrated after reset and recovery, got %s", got)
	}
}

func TestCanceledContextAbortsSequence(t *testing.T) {
	sender := &probeSender{err: qpu.ErrTimeout}
	m := NewManager(sender, testConfig(), "")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := m.EnsureCalibrated(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	// A canceled calibration is not the device's fault.
	if got := m.State(); got != StateUncalibrated {
		t.Fatalf("expected Uncalibrated after cancel, got %s", got)
	}
}

func TestDriftScoreFromDeviation(t *testing.T) {
	sender := &probeSender{noisyProbe2: true}
	m := NewManager(sender, testConfig(), "")

	if err := m.EnsureCalibrated(context.Background()); err != nil {
		t.Fatalf("EnsureCalibrated returned error: %v", err)
	}

	snap := m.Snapshot()
	if snap.DriftScore <= 0 {
		t.Fatalf("expected non-zero drift from noisy probe, got %v", snap.DriftScore)
	}
}

func TestStatePersistence(t *testing.T) {
	statePath := filepath.Join(t.TempDir(), "calibration.json")

	sender := &probeSender{err: qpu.ErrLink}
	m := NewManager(sender, testConfig(), statePath)
	if err := m.EnsureCalibrated(context.Background()); !errors.Is(err, ErrExhausted) {
		t.Fatalf("expected ErrExhausted, got %v", err)
	}

	// A fresh manager over the same state file must come back Degraded.
	reloaded := NewManager(&probeSender{}, testConfig(), statePath)
	if got := reloaded.State(); got != StateDegraded {
		t.Fatalf("expected Degraded to survive restart, got %s", got)
	}
}

func TestCalibratingStateNotReloaded(t *testing.T) {
	statePath := filepath.Join(t.TempDir(), "calibration.json")

	// Simulate a crash mid-calibration.
	b, err := json.Marshal(Snapshot{State: StateCalibrating})
	if err != nil {
		t.Fatalf("failed to marshal snapshot: %v", err)
	}
	if err := os.WriteFile(statePath, b, 0644); err != nil {
		t.Fatalf("failed to write state file: %v", err)
	}

	m := NewManager(&probeSender{}, testConfig(), statePath)
	if got := m.State(); got != StateUncalibrated {
		t.Fatalf("interrupted calibration must reload as Uncalibrated, got %s", got)
	}
}
