package qpu

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
)

// ObserverFunc receives the outcome of every exchange. The health
// monitor hooks in here.
type ObserverFunc func(ok bool)

// Channel owns the single live connection to the device. All hardware
// access in the process goes through it. It enforces a per-command
// deadline on top of the blocking Transport and keeps a rolling
// link-quality window. It performs no retries; retry policy belongs to
// the facade.
type Channel struct {
	transport Transport
	timeout   time.Duration
	recorder  *LinkRecorder
	observer  ObserverFunc

	open bool
	// pending holds the reply slot of a command that timed out but whose
	// transport call may still complete. It is drained before the next
	// exchange so a late reply is never mistaken for a fresh one.
	pending chan exchangeResult
}

type exchangeResult struct {
	resp RawResponse
	err  error
}

// NewChannel returns a Channel over the given transport. timeout bounds
// every SendReceive. observer may be nil.
func NewChannel(transport Transport, timeout time.Duration, observer ObserverFunc) *Channel {
	return &Channel{
		transport: transport,
		timeout:   timeout,
		recorder:  NewLinkRecorder(60),
		observer:  observer,
	}
}

// Recorder exposes the rolling link-quality window.
func (c *Channel) Recorder() *LinkRecorder {
	return c.recorder
}

// Open opens the underlying transport.
func (c *Channel) Open() error {
	if c.open {
		return nil
	}
	if err := c.transport.Open(); err != nil {
		return fmt.Errorf("%w: %v", ErrLink, err)
	}
	c.open = true
	return nil
}

// Close closes the underlying transport.
func (c *Channel) Close() error {
	if !c.open {
		return nil
	}
	c.open = false
	return c.transport.Close()
}

// SendReceive sends one command and waits for the reply, at most for the
// configured timeout. A timed-out command leaves the channel in a
// recoverable state: the late reply is discarded on the next call.
func (c *Channel) SendReceive(ctx context.Context, cmd Command) (RawResponse, error) {
	if !c.open {
		return RawResponse{}, ErrNotOpen
	}

	if c.pending != nil {
		select {
		case <-c.pending:
			// Late reply from a timed-out command; discard.
			c.pending = nil
		default:
			// The previous command is genuinely still executing.
			c.record(false)
			return RawResponse{}, ErrDeviceBusy
		}
	}

	logrus.WithFields(logrus.Fields{
		"op":    cmd.Op,
		"shots": cmd.Shots,
	}).Trace("sending command to device")

	ch := make(chan exchangeResult, 1)
	go func() {
		resp, err := c.transport.Exchange(cmd)
		ch <- exchangeResult{resp: resp, err: err}
	}()

	timer := time.NewTimer(c.timeout)
	defer timer.Stop()

	select {
	case res := <-ch:
		if res.err != nil {
			c.record(false)
			if errors.Is(res.err, ErrDeviceBusy) || errors.Is(res.err, ErrLink) {
				return RawResponse{}, res.err
			}
			return RawResponse{}, fmt.Errorf("%w: %v", ErrLink, res.err)
		}
		c.record(true)
		logrus.WithFields(logrus.Fields{
			"op":    cmd.Op,
			"shots": res.resp.ShotCount(),
		}).Trace("device replied")
		return res.resp, nil
	case <-timer.C:
		c.pending = ch
		c.record(false)
		return RawResponse{}, ErrTimeout
	case <-ctx.Done():
		c.pending = ch
		c.record(false)
		return RawResponse{}, ctx.Err()
	}
}

func (c *Channel) record(ok bool) {
	c.recorder.AddRecordNow(ok)
	if c.observer != nil {
		c.observer(ok)
	}
}
