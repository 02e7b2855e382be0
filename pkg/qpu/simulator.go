package qpu

import (
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// SimulatorConfig tunes the built-in simulated device.
type SimulatorConfig struct {
	Qubits       int
	DefaultShots int
	Seed         int64
	// FailEvery injects a link failure on every Nth exchange. Zero
	// disables fault injection.
	FailEvery int
	// Latency is added to every exchange, for exercising timeouts.
	Latency time.Duration
	// ReadoutNoise is the per-bit flip probability, simulating imperfect
	// readout fidelity.
	ReadoutNoise float64
}

// DefaultSimulatorConfig mirrors the nominal hardware: 4 qubits, 100
// shots, 2% readout noise.
func DefaultSimulatorConfig() SimulatorConfig {
	return SimulatorConfig{
		Qubits:       4,
		DefaultShots: 100,
		Seed:         1,
		ReadoutNoise: 0.02,
	}
}

// Simulator is a Transport that stands in for real hardware. Given the
// same seed and command sequence it is fully deterministic, which keeps
// daemon runs without a physical device reproducible.
type Simulator struct {
	conf SimulatorConfig

	mu        sync.Mutex
	rng       *rand.Rand
	exchanges int
	opened    bool
}

// NewSimulator returns a simulated device transport.
func NewSimulator(conf SimulatorConfig) *Simulator {
	if conf.Qubits <= 0 {
		conf.Qubits = 4
	}
	if conf.DefaultShots <= 0 {
		conf.DefaultShots = 100
	}
	return &Simulator{
		conf: conf,
		rng:  rand.New(rand.NewSource(conf.Seed)),
	}
}

// Open implements Transport.
func (s *Simulator) Open() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.opened = true
	logrus.WithFields(logrus.Fields{
		"qubits": s.conf.Qubits,
		"seed":   s.conf.Seed,
	}).Info("simulated device opened")
	return nil
}

// Close implements Transport.
func (s *Simulator) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.opened = false
	return nil
}

// Exchange implements Transport.
func (s *Simulator) Exchange(cmd Command) (RawResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.opened {
		return RawResponse{}, ErrNotOpen
	}

	if s.conf.Latency > 0 {
		time.Sleep(s.conf.Latency)
	}

	s.exchanges++
	if s.conf.FailEvery > 0 && s.exchanges%s.conf.FailEvery == 0 {
		return RawResponse{}, ErrLink
	}

	shots := cmd.Shots
	if shots <= 0 {
		shots = s.conf.DefaultShots
	}

	probs := s.oneProbabilities(cmd)
	resp := RawResponse{Qubits: s.conf.Qubits, Shots: make([][]int, shots)}
	for i := 0; i < shots; i++ {
		bits := make([]int, s.conf.Qubits)
		for q := 0; q < s.conf.Qubits; q++ {
			p := probs[q]
			// Imperfect readout flips the measured bit either way.
			if s.rng.Float64() < s.conf.ReadoutNoise {
				p = 1 - p
			}
			if s.rng.Float64() < p {
				bits[q] = 1
			}
		}
		resp.Shots[i] = bits
	}
	return resp, nil
}

// oneProbabilities derives the per-qubit probability of measuring 1.
func (s *Simulator) oneProbabilities(cmd Command) []float64 {
	probs := make([]float64, s.conf.Qubits)

	switch cmd.Op {
	case OpProbe:
		idx := 0
		if len(cmd.Params) > 0 {
			idx = int(cmd.Params[0])
		}
		for q := range probs {
			probs[q] = probeOneProbability(idx)
		}
	default:
		// A Y(theta/pi) rotation on |0> measures 1 with probability
		// sin^2(theta/2). Unparameterized qubits sit in superposition.
		for q := range probs {
			if q < len(cmd.Params) {
				half := cmd.Params[q] / 2
				probs[q] = math.Sin(half) * math.Sin(half)
			} else {
				probs[q] = 0.5
			}
		}
	}
	return probs
}

// probeOneProbability is the ideal response of the fixed probe circuits:
// probe 0 holds qubits in |0>, probe 1 flips to |1>, probe 2 is an even
// superposition.
func probeOneProbability(idx int) float64 {
	switch idx {
	case 0:
		return 0.0
	case 1:
		return 1.0
	default:
		return 0.5
	}
}
