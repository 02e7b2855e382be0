package health

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
)

// State is the aggregated device health.
type State string

const (
	StateHealthy     State = "Healthy"
	StateDegraded    State = "Degraded"
	StateUnreachable State = "Unreachable"
)

// Status is the derived health exposed to the facade and to external
// monitoring. It is never mutated by readers.
type Status struct {
	State  State     `json:"state"`
	Reason string    `json:"reason,omitempty"`
	Since  time.Time `json:"since"`
}

// ChangeFunc is notified on every status transition.
type ChangeFunc func(from, to Status)

// Monitor aggregates link-quality and calibration signals into a single
// health status. Link signals are filtered with hysteresis (downAfter
// consecutive failures to downgrade, upAfter consecutive successes to
// upgrade) so a single flaky exchange does not flap the status.
// Calibration signals apply immediately: a degraded calibration is
// already sticky and a drift score is already smoothed at the source.
//
// Readers never block: Current is a single atomic load.
type Monitor struct {
	downAfter  int
	upAfter    int
	driftLimit float64
	onChange   ChangeFunc

	status atomic.Value // Status

	mu          sync.Mutex
	badLink     int
	goodLink    int
	linkDown    bool
	calDegraded bool
	drift       float64
}

// NewMonitor returns a Monitor starting out Healthy. onChange may be
// nil.
func NewMonitor(downAfter, upAfter int, driftLimit float64, onChange ChangeFunc) *Monitor {
	m := &Monitor{
		downAfter:  downAfter,
		upAfter:    upAfter,
		driftLimit: driftLimit,
		onChange:   onChange,
	}
	m.status.Store(Status{State: StateHealthy, Since: time.Now()})
	return m
}

// Current returns the most recent consistent status without blocking.
func (m *Monitor) Current() Status {
	return m.status.Load().(Status)
}

// ObserveLink records the outcome of one device exchange.
func (m *Monitor) ObserveLink(ok bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if ok {
		m.goodLink++
		m.badLink = 0
		if m.linkDown && m.goodLink >= m.upAfter {
			m.linkDown = false
		}
	} else {
		m.badLink++
		m.goodLink = 0
		if !m.linkDown && m.badLink >= m.downAfter {
			m.linkDown = true
		}
	}

	m.recompute()
}

// ObserveCalibration records the calibration manager's state: whether it
// is Degraded and its current drift score.
func (m *Monitor) ObserveCalibration(degraded bool, drift float64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.calDegraded = degraded
	m.drift = drift

	m.recompute()
}

// recompute derives the status from current inputs. Caller holds m.mu.
func (m *Monitor) recompute() {
	next := Status{State: StateHealthy}

	switch {
	case m.linkDown:
		next.State = StateUnreachable
		next.Reason = fmt.Sprintf("%d or more consecutive link failures", m.downAfter)
	case m.calDegraded:
		next.State = StateDegraded
		next.Reason = "calibration exhausted; device needs attention"
	case m.drift > m.driftLimit:
		next.State = StateDegraded
		next.Reason = fmt.Sprintf("drift score %.3f above limit %.3f", m.drift, m.driftLimit)
	}

	prev := m.Current()
	if prev.State == next.State && prev.Reason == next.Reason {
		return
	}
	next.Since = time.Now()
	m.status.Store(next)

	logrus.WithFields(logrus.Fields{
		"from":   prev.State,
		"to":     next.State,
		"reason": next.Reason,
	}).Info("health status changed")

	if m.onChange != nil {
		m.onChange(prev, next)
	}
}
