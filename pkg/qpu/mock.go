package qpu

import (
	"sync"
	"time"
)

// ExchangeFunc produces a scripted reply for one command.
type ExchangeFunc func(cmd Command) (RawResponse, error)

// MockTransport is a scriptable Transport for tests. Replies are served
// from a FIFO script; when the script is exhausted the Default function
// is used. It records every command it sees and the maximum number of
// concurrent exchanges, so tests can assert single-flight behavior.
type MockTransport struct {
	// Default is used when the script is empty. If nil, an all-zeros
	// 4-qubit response is returned.
	Default ExchangeFunc
	// Delay is applied to every exchange before answering.
	Delay time.Duration

	mu          sync.Mutex
	script      []ExchangeFunc
	commands    []Command
	inflight    int
	maxInflight int
	opened      bool
}

// NewMockTransport returns an empty scriptable transport.
func NewMockTransport() *MockTransport {
	return &MockTransport{}
}

// Enqueue appends scripted replies.
func (m *MockTransport) Enqueue(fns ...ExchangeFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.script = append(m.script, fns...)
}

// EnqueueResponse appends a fixed successful reply.
func (m *MockTransport) EnqueueResponse(resp RawResponse) {
	m.Enqueue(func(Command) (RawResponse, error) { return resp, nil })
}

// EnqueueError appends a fixed failed reply.
func (m *MockTransport) EnqueueError(err error) {
	m.Enqueue(func(Command) (RawResponse, error) { return RawResponse{}, err })
}

// SetDelay changes the per-exchange delay.
func (m *MockTransport) SetDelay(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Delay = d
}

// Commands returns a copy of all commands received so far.
func (m *MockTransport) Commands() []Command {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Command, len(m.commands))
	copy(out, m.commands)
	return out
}

// MaxInflight returns the maximum number of exchanges that were ever
// active at the same time.
func (m *MockTransport) MaxInflight() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.maxInflight
}

// Open implements Transport.
func (m *MockTransport) Open() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.opened = true
	return nil
}

// Close implements Transport.
func (m *MockTransport) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.opened = false
	return nil
}

// Exchange implements Transport.
func (m *MockTransport) Exchange(cmd Command) (RawResponse, error) {
	m.mu.Lock()
	if !m.opened {
		m.mu.Unlock()
		return RawResponse{}, ErrNotOpen
	}
	m.commands = append(m.commands, cmd)
	m.inflight++
	if m.inflight > m.maxInflight {
		m.maxInflight = m.inflight
	}
	var fn ExchangeFunc
	if len(m.script) > 0 {
		fn = m.script[0]
		m.script = m.script[1:]
	} else {
		fn = m.Default
	}
	delay := m.Delay
	m.mu.Unlock()

	if delay > 0 {
		time.Sleep(delay)
	}

	defer func() {
		m.mu.Lock()
		m.inflight--
		m.mu.Unlock()
	}()

	if fn == nil {
		shots := cmd.Shots
		if shots <= 0 {
			shots = 100
		}
		resp := RawResponse{Qubits: 4, Shots: make([][]int, shots)}
		for i := range resp.Shots {
			resp.Shots[i] = make([]int, 4)
		}
		return resp, nil
	}
	return fn(cmd)
}
