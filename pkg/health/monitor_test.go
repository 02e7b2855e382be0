package health

import (
	"sync"
	"testing"
)

func TestMonitorStartsHealthy(t *testing.T) {
	m := NewMonitor(3, 2, 0.25, nil)
	if st := m.Current(); st.State != StateHealthy {
		t.Fatalf("expected initial state Healthy, got %s", st.State)
	}
}

func TestMonitorLinkHysteresisDown(t *testing.T) {
	m := NewMonitor(3, 2, 0.25, nil)

	// Two failures are not enough to downgrade.
	m.ObserveLink(false)
	m.ObserveLink(false)
	if st := m.Current(); st.State != StateHealthy {
		t.Fatalf("expected Healthy after 2 failures with downAfter=3, got %s", st.State)
	}

	m.ObserveLink(false)
	if st := m.Current(); st.State != StateUnreachable {
		t.Fatalf("expected Unreachable after 3 consecutive failures, got %s", st.State)
	}
}

func TestMonitorLinkFlapFiltered(t *testing.T) {
	m := NewMonitor(3, 2, 0.25, nil)

	// A success in between resets the failure streak.
	m.ObserveLink(false)
	m.ObserveLink(false)
	m.ObserveLink(true)
	m.ObserveLink(false)
	m.ObserveLink(false)
	if st := m.Current(); st.State != StateHealthy {
		t.Fatalf("interrupted failure streak must not downgrade, got %s", st.State)
	}
}

func TestMonitorLinkHysteresisUp(t *testing.T) {
	m := NewMonitor(3, 2, 0.25, nil)

	for i := 0; i < 3; i++ {
		m.ObserveLink(false)
	}
	if st := m.Current(); st.State != StateUnreachable {
		t.Fatalf("expected Unreachable, got %s", st.State)
	}

	// One success is not enough to recover.
	m.ObserveLink(true)
	if st := m.Current(); st.State != StateUnreachable {
		t.Fatalf("expected Unreachable after 1 success with upAfter=2, got %s", st.State)
	}

	m.ObserveLink(true)
	if st := m.Current(); st.State != StateHealthy {
		t.Fatalf("expected Healthy after 2 consecutive successes, got %s", st.State)
	}
}

func TestMonitorCalibrationDegradedImmediate(t *testing.T) {
	m := NewMonitor(3, 2, 0.25, nil)

	// Calibration signals are not hysteresis-filtered.
	m.ObserveCalibration(true, 0)
	if st := m.Current(); st.State != StateDegraded {
		t.Fatalf("expected Degraded immediately after calibration signal, got %s", st.State)
	}

	m.ObserveCalibration(false, 0)
	if st := m.Current(); st.State != StateHealthy {
		t.Fatalf("expected Healthy after calibration cleared, got %s", st.State)
	}
}

func TestMonitorDriftAboveLimit(t *testing.T) {
	m := NewMonitor(3, 2, 0.25, nil)

	m.ObserveCalibration(false, 0.3)
	if st := m.Current(); st.State != StateDegraded {
		t.Fatalf("expected Degraded for drift above limit, got %s", st.State)
	}

	m.ObserveCalibration(false, 0.1)
	if st := m.Current(); st.State != StateHealthy {
		t.Fatalf("expected Healthy for drift below limit, got %s", st.State)
	}
}

func TestMonitorUnreachableWinsOverDegraded(t *testing.T) {
	m := NewMonitor(1, 1, 0.25, nil)

	m.ObserveCalibration(true, 0)
	m.ObserveLink(false)
	if st := m.Current(); st.State != StateUnreachable {
		t.Fatalf("link down must dominate degraded calibration, got %s", st.State)
	}

	m.ObserveLink(true)
	if st := m.Current(); st.State != StateDegraded {
		t.Fatalf("expected Degraded once link recovers, got %s", st.State)
	}
}

func TestMonitorOnChange(t *testing.T) {
	var mu sync.Mutex
	var transitions []State

	m := NewMonitor(1, 1, 0.25, func(_, to Status) {
		mu.Lock()
		transitions = append(transitions, to.State)
		mu.Unlock()
	})

	m.ObserveLink(false)
	m.ObserveLink(false) // no change, no callback
	m.ObserveLink(true)

	mu.Lock()
	defer mu.Unlock()
	if len(transitions) != 2 {
		t.Fatalf("expected 2 transitions, got %d: %v", len(transitions), transitions)
	}
	if transitions[0] != StateUnreachable || transitions[1] != StateHealthy {
		t.Fatalf("unexpected transition sequence: %v", transitions)
	}
}
