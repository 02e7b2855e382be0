package main

import (
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/OneNessQBAI/QPUMyRobotLabMiddleware/pkg/daemon"
	"github.com/OneNessQBAI/QPUMyRobotLabMiddleware/pkg/qpu"
	"github.com/OneNessQBAI/QPUMyRobotLabMiddleware/pkg/version"
)

var (
	// alwaysAllowNonRootAccess indicates whether to always allow non-root users to access the qpud daemon.
	alwaysAllowNonRootAccess = false

	simSeed          int64
	simFailEvery     int
	simLatencyMillis int
	simReadoutNoise  = 0.02
	devicePath       string
)

// NewDaemonCommand .
func NewDaemonCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "daemon",
		Hidden:  true,
		Short:   "Run the qpud daemon in the foreground",
		GroupID: gAdvanced,
		RunE: func(_ *cobra.Command, _ []string) error {
			logrus.WithFields(logrus.Fields{
				"version": version.Version,
				"commit":  version.GitCommit,
			}).Info("qpud daemon starting")

			transport := newTransport()
			return daemon.Run(configPath, unixSocketPath, transport, alwaysAllowNonRootAccess)
		},
	}

	f := cmd.Flags()

	f.BoolVar(&alwaysAllowNonRootAccess, "always-allow-non-root-access", false,
		"Always allow non-root users to access the daemon.")
	f.StringVar(&devicePath, "device", "",
		"Hardware device endpoint. Empty runs the built-in simulator.")
	f.Int64Var(&simSeed, "sim-seed", 0,
		"Simulator RNG seed. 0 seeds from the clock.")
	f.IntVar(&simFailEvery, "sim-fail-every", 0,
		"Make every Nth simulated exchange fail. 0 disables injected failures.")
	f.IntVar(&simLatencyMillis, "sim-latency", 0,
		"Simulated exchange latency in milliseconds.")
	f.Float64Var(&simReadoutNoise, "sim-readout-noise", 0.02,
		"Simulated per-qubit readout flip probability.")

	return cmd
}

// newTransport picks the device transport. Real hardware endpoints are
// not wired yet, so everything currently runs on the simulator.
//
// TODO: dial devicePath once the vendor link protocol is published.
func newTransport() qpu.Transport {
	if devicePath != "" {
		logrus.Warnf("hardware endpoint %s not supported yet, using simulator", devicePath)
	}
	seed := simSeed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return qpu.NewSimulator(qpu.SimulatorConfig{
		Seed:         seed,
		FailEvery:    simFailEvery,
		Latency:      time.Duration(simLatencyMillis) * time.Millisecond,
		ReadoutNoise: simReadoutNoise,
	})
}
