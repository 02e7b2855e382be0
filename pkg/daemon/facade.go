package daemon

import (
	"context"
	"errors"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/OneNessQBAI/QPUMyRobotLabMiddleware/pkg/calibration"
	"github.com/OneNessQBAI/QPUMyRobotLabMiddleware/pkg/config"
	"github.com/OneNessQBAI/QPUMyRobotLabMiddleware/pkg/events"
	"github.com/OneNessQBAI/QPUMyRobotLabMiddleware/pkg/health"
	"github.com/OneNessQBAI/QPUMyRobotLabMiddleware/pkg/jobs"
	"github.com/OneNessQBAI/QPUMyRobotLabMiddleware/pkg/mitigation"
	"github.com/OneNessQBAI/QPUMyRobotLabMiddleware/pkg/qpu"
)

// ErrResetDenied is returned when reset is requested while a job holds
// the execution slot.
var ErrResetDenied = errors.New("reset denied: a job is in flight")

// deviceChannel is the slice of qpu.Channel the facade needs; tests
// substitute a fake.
type deviceChannel interface {
	SendReceive(ctx context.Context, cmd qpu.Command) (qpu.RawResponse, error)
}

// Facade is the single entry point for job submission. It owns the
// exclusive execution slot: at most one operation (job or calibration
// sequence) is ever in flight against the device. Concurrent Submit
// calls queue on the slot; the runtime wakes blocked acquirers in FIFO
// order.
type Facade struct {
	channel deviceChannel
	calman  *calibration.Manager
	monitor *health.Monitor
	conf    config.Config
	hub     *events.EventHub

	// slot is a capacity-1 semaphore guarding the device. Never replace
	// this with ad hoc flags.
	slot chan struct{}

	// sleep is a test seam for backoff waits.
	sleep func(time.Duration)
}

// NewFacade wires the facade. hub may be nil.
func NewFacade(channel deviceChannel, calman *calibration.Manager, monitor *health.Monitor, conf config.Config, hub *events.EventHub) *Facade {
	return &Facade{
		channel: channel,
		calman:  calman,
		monitor: monitor,
		conf:    conf,
		hub:     hub,
		slot:    make(chan struct{}, 1),
		sleep:   time.Sleep,
	}
}

// Submit runs one job through the device and the mitigation pipeline.
// It is synchronous: it returns the processed result or a structured
// *jobs.Error. No result ever reaches a caller without passing through
// mitigation.
func (f *Facade) Submit(ctx context.Context, job jobs.Job) (jobs.ProcessedResult, error) {
	if err := job.Validate(); err != nil {
		return jobs.ProcessedResult{}, err
	}

	// Fail fast before queueing: an unreachable or degraded device will
	// not get better by waiting in line.
	if st := f.monitor.Current(); st.State == health.StateUnreachable {
		return jobs.ProcessedResult{}, f.fail(jobs.ErrKindHardwareUnreachable, job, 0, 0, nil)
	}
	if f.calman.State() == calibration.StateDegraded {
		return jobs.ProcessedResult{}, f.fail(jobs.ErrKindHardwareDegraded, job, 0, 0, calibration.ErrDegraded)
	}

	if err := f.acquireSlot(ctx); err != nil {
		return jobs.ProcessedResult{}, jobs.NewError(jobs.ErrKindDeviceFailure, job.ID, 0, 0, string(f.monitor.Current().State), err)
	}
	defer f.releaseSlot()

	// Calibration is a privileged job: it runs under the same slot so it
	// can never interleave with an ordinary job.
	if err := f.calman.EnsureCalibrated(ctx); err != nil {
		if errors.Is(err, calibration.ErrExhausted) || errors.Is(err, calibration.ErrDegraded) {
			return jobs.ProcessedResult{}, f.fail(jobs.ErrKindHardwareDegraded, job, 0, 0, err)
		}
		return jobs.ProcessedResult{}, f.fail(jobs.ErrKindDeviceFailure, job, 0, 0, err)
	}

	return f.dispatch(ctx, job)
}

// dispatch owns the retry loop. Caller holds the slot.
func (f *Facade) dispatch(ctx context.Context, job jobs.Job) (jobs.ProcessedResult, error) {
	maxRetries := f.conf.MaxRetries()
	backoff := f.conf.BackoffBase()
	mitCfg := mitigation.Config{
		RejectThreshold: f.conf.RejectThreshold(),
		RetryThreshold:  f.conf.RetryThreshold(),
	}
	cmd := job.Command()

	attempts := 0
	var best *mitigation.Report
	var lastErr error

	for attempts < maxRetries+1 {
		attempts++
		job.Retries = attempts - 1

		resp, err := f.channel.SendReceive(ctx, cmd)
		if err != nil {
			lastErr = err
			if !isTransient(err) {
				break
			}
			logrus.WithError(err).WithFields(logrus.Fields{
				"jobId":   job.ID,
				"attempt": attempts,
			}).Warn("transient device failure")
			if attempts < maxRetries+1 {
				f.sleep(backoff)
				backoff = time.Duration(float64(backoff) * f.conf.BackoffMultiplier())
			}
			continue
		}

		rep := mitigation.Mitigate(resp, job.Kind, mitCfg)
		switch rep.Decision {
		case mitigation.DecisionAccept:
			result := toResult(job, rep, attempts)
			f.publishJob(events.JobCompleted, job, string(rep.Decision), rep.Confidence, attempts)
			return result, nil
		case mitigation.DecisionReject:
			// Too noisy to trust; surfaced explicitly, never silently
			// substituted.
			return jobs.ProcessedResult{}, f.fail(jobs.ErrKindResultRejected, job, attempts, rep.Confidence, nil)
		case mitigation.DecisionRetry:
			if best == nil || rep.Confidence > best.Confidence {
				r := rep
				best = &r
			}
			logrus.WithFields(logrus.Fields{
				"jobId":      job.ID,
				"attempt":    attempts,
				"confidence": rep.Confidence,
			}).Debug("mitigation recommends retry")
		}
	}

	if best != nil {
		// Retry budget exhausted on marginal results: hand the caller
		// the best one observed and let them decide.
		jerr := jobs.NewError(jobs.ErrKindLowConfidence, job.ID, attempts, best.Confidence, string(f.monitor.Current().State), nil)
		br := toResult(job, *best, attempts)
		jerr.BestResult = &br
		f.publishJob(events.JobFailed, job, string(jobs.ErrKindLowConfidence), best.Confidence, attempts)
		return jobs.ProcessedResult{}, jerr
	}

	return jobs.ProcessedResult{}, f.fail(jobs.ErrKindDeviceFailure, job, attempts, 0, lastErr)
}

// Ping sends a liveness probe if the slot is free. The recovery loop
// uses it while the device is unreachable; if a job holds the slot the
// link is being exercised anyway, so Ping is a no-op.
func (f *Facade) Ping(ctx context.Context) error {
	select {
	case f.slot <- struct{}{}:
	default:
		return nil
	}
	defer f.releaseSlot()

	_, err := f.channel.SendReceive(ctx, qpu.Command{Op: qpu.OpPing, Shots: 1})
	return err
}

// Calibrate forces a full calibration pass under the execution slot.
func (f *Facade) Calibrate(ctx context.Context) error {
	if err := f.acquireSlot(ctx); err != nil {
		return err
	}
	defer f.releaseSlot()

	return f.calman.Recalibrate(ctx)
}

// Reset clears a Degraded calibration state. It refuses to run while a
// job holds the slot; resetting under a live operation would let a
// half-degraded device accept work.
func (f *Facade) Reset() error {
	select {
	case f.slot <- struct{}{}:
	default:
		return ErrResetDenied
	}
	defer f.releaseSlot()

	return f.calman.Reset()
}

func (f *Facade) acquireSlot(ctx context.Context) error {
	select {
	case f.slot <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (f *Facade) releaseSlot() {
	<-f.slot
}

func (f *Facade) fail(kind jobs.ErrorKind, job jobs.Job, attempts int, confidence float64, cause error) *jobs.Error {
	st := f.monitor.Current()
	jerr := jobs.NewError(kind, job.ID, attempts, confidence, string(st.State), cause)
	logrus.WithFields(logrus.Fields{
		"jobId":    job.ID,
		"kind":     job.Kind,
		"error":    kind,
		"attempts": attempts,
		"health":   st.State,
	}).Warn("job failed")
	f.publishJob(events.JobFailed, job, string(kind), confidence, attempts)
	return jerr
}

func (f *Facade) publishJob(name events.Name, job jobs.Job, outcome string, confidence float64, attempts int) {
	if f.hub == nil {
		return
	}
	f.hub.Publish(name, events.JobEvent{
		JobID:      job.ID.String(),
		Kind:       string(job.Kind),
		Outcome:    outcome,
		Confidence: confidence,
		Attempts:   attempts,
		Ts:         time.Now().Unix(),
	})
}

func isTransient(err error) bool {
	return errors.Is(err, qpu.ErrTimeout) ||
		errors.Is(err, qpu.ErrLink) ||
		errors.Is(err, qpu.ErrDeviceBusy)
}

func toResult(job jobs.Job, rep mitigation.Report, attempts int) jobs.ProcessedResult {
	return jobs.ProcessedResult{
		JobID:           job.ID,
		Kind:            job.Kind,
		Values:          rep.Values,
		PatternDetected: rep.PatternDetected,
		BestOutcome:     rep.BestOutcome,
		Confidence:      rep.Confidence,
		Attempts:        attempts,
	}
}
