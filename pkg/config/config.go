package config

import (
	"time"

	"github.com/sirupsen/logrus"
)

// Config is the tunable surface of the middleware. All values have
// documented defaults; see defaultFileConfig in file.go.
type Config interface {
	// CommandTimeout bounds every device channel exchange.
	CommandTimeout() time.Duration
	// MaxDriftAge is how long a calibration stays fresh.
	MaxDriftAge() time.Duration
	// MaxRetries is the retry budget for transient dispatch failures.
	MaxRetries() int
	// BackoffBase and BackoffMultiplier shape the exponential backoff
	// between retries.
	BackoffBase() time.Duration
	BackoffMultiplier() float64
	// RejectThreshold and RetryThreshold split mitigation confidence
	// into Reject / RetryRecommended / Accept.
	RejectThreshold() float64
	RetryThreshold() float64
	// HysteresisDown is the number of consecutive bad signals before the
	// health monitor downgrades; HysteresisUp the number of consecutive
	// good signals before it upgrades.
	HysteresisDown() int
	HysteresisUp() int
	// CalibrationFailureThreshold is the number of consecutive failed
	// calibration sequences before the device is marked Degraded.
	CalibrationFailureThreshold() int
	// DriftDegradedThreshold is the drift score above which health is
	// reported Degraded even while nominally Calibrated.
	DriftDegradedThreshold() float64
	// ProbeShots is the number of measurement repetitions per
	// calibration probe.
	ProbeShots() int
	// CalibrationCron optionally schedules recalibration.
	CalibrationCron() string
	AllowNonRootAccess() bool

	SetCalibrationCron(string)
	SetAllowNonRootAccess(bool)

	// Load reads the configuration from the source.
	Load() error
	// Save saves the configuration to the source.
	Save() error

	LogrusFields() logrus.Fields
}
