package qpu

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func newOpenChannel(t *testing.T, mt *MockTransport, timeout time.Duration, observer ObserverFunc) *Channel {
	t.Helper()
	c := NewChannel(mt, timeout, observer)
	if err := c.Open(); err != nil {
		t.Fatalf("Open returned error: %v", err)
	}
	return c
}

func TestChannelNotOpen(t *testing.T) {
	c := NewChannel(NewMockTransport(), time.Second, nil)
	_, err := c.SendReceive(context.Background(), Command{Op: OpPing})
	if !errors.Is(err, ErrNotOpen) {
		t.Fatalf("expected ErrNotOpen before Open, got %v", err)
	}
}

func TestChannelRoundTrip(t *testing.T) {
	mt := NewMockTransport()
	mt.EnqueueResponse(RawResponse{Qubits: 4, Shots: [][]int{{1, 0, 1, 0}}})
	c := newOpenChannel(t, mt, time.Second, nil)

	resp, err := c.SendReceive(context.Background(), Command{Op: OpExecute, Shots: 1})
	if err != nil {
		t.Fatalf("SendReceive returned error: %v", err)
	}
	if resp.ShotCount() != 1 || resp.Qubits != 4 {
		t.Fatalf("unexpected response: %+v", resp)
	}

	cmds := mt.Commands()
	if len(cmds) != 1 || cmds[0].Op != OpExecute {
		t.Fatalf("unexpected commands recorded: %+v", cmds)
	}
}

func TestChannelTimeout(t *testing.T) {
	mt := NewMockTransport()
	mt.Delay = 200 * time.Millisecond
	c := newOpenChannel(t, mt, 20*time.Millisecond, nil)

	_, err := c.SendReceive(context.Background(), Command{Op: OpExecute})
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("expected ErrTimeout, got %v", err)
	}
}

func TestChannelBusyWhileLateReplyOutstanding(t *testing.T) {
	mt := NewMockTransport()
	mt.Delay = 200 * time.Millisecond
	c := newOpenChannel(t, mt, 20*time.Millisecond, nil)

	if _, err := c.SendReceive(context.Background(), Command{Op: OpExecute}); !errors.Is(err, ErrTimeout) {
		t.Fatalf("expected ErrTimeout, got %v", err)
	}

	// The timed-out exchange is still executing, so the channel must
	// refuse new work instead of interleaving commands.
	if _, err := c.SendReceive(context.Background(), Command{Op: OpExecute}); !errors.Is(err, ErrDeviceBusy) {
		t.Fatalf("expected ErrDeviceBusy while reply outstanding, got %v", err)
	}
}

func TestChannelRecoversAfterLateReply(t *testing.T) {
	mt := NewMockTransport()
	mt.Delay = 50 * time.Millisecond
	c := newOpenChannel(t, mt, 10*time.Millisecond, nil)

	if _, err := c.SendReceive(context.Background(), Command{Op: OpExecute}); !errors.Is(err, ErrTimeout) {
		t.Fatalf("expected ErrTimeout, got %v", err)
	}

	// Let the late reply arrive, then verify it is discarded and a fresh
	// command goes through.
	time.Sleep(100 * time.Millisecond)
	mt.SetDelay(0)
	mt.EnqueueResponse(RawResponse{Qubits: 4, Shots: [][]int{{0, 0, 0, 0}}})

	resp, err := c.SendReceive(context.Background(), Command{Op: OpExecute, Shots: 1})
	if err != nil {
		t.Fatalf("expected recovery after late reply drained, got %v", err)
	}
	if resp.ShotCount() != 1 {
		t.Fatalf("fresh reply expected, got %+v", resp)
	}
}

func TestChannelWrapsTransportErrors(t *testing.T) {
	mt := NewMockTransport()
	mt.EnqueueError(errors.New("vendor firmware fault 0x2a"))
	c := newOpenChannel(t, mt, time.Second, nil)

	_, err := c.SendReceive(context.Background(), Command{Op: OpExecute})
	if !errors.Is(err, ErrLink) {
		t.Fatalf("expected unknown transport errors to wrap ErrLink, got %v", err)
	}
}

func TestChannelContextCanceled(t *testing.T) {
	mt := NewMockTransport()
	mt.Delay = 200 * time.Millisecond
	c := newOpenChannel(t, mt, time.Second, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := c.SendReceive(ctx, Command{Op: OpExecute})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestChannelObserver(t *testing.T) {
	var mu sync.Mutex
	var outcomes []bool

	mt := NewMockTransport()
	mt.EnqueueResponse(RawResponse{Qubits: 4, Shots: [][]int{{0, 0, 0, 0}}})
	mt.EnqueueError(ErrLink)

	c := newOpenChannel(t, mt, time.Second, func(ok bool) {
		mu.Lock()
		outcomes = append(outcomes, ok)
		mu.Unlock()
	})

	if _, err := c.SendReceive(context.Background(), Command{Op: OpExecute}); err != nil {
		t.Fatalf("first exchange should succeed: %v", err)
	}
	if _, err := c.SendReceive(context.Background(), Command{Op: OpExecute}); !errors.Is(err, ErrLink) {
		t.Fatalf("second exchange should fail with ErrLink: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(outcomes) != 2 || !outcomes[0] || outcomes[1] {
		t.Fatalf("expected observer outcomes [true false], got %v", outcomes)
	}

	if q := c.Recorder().Quality(); q != 0.5 {
		t.Fatalf("expected link quality 0.5, got %v", q)
	}
}
