package qpu

import "errors"

var (
	// ErrTimeout is returned when the device does not answer a command
	// within the configured deadline.
	ErrTimeout = errors.New("device command timed out")

	// ErrLink is returned on a transport-level failure.
	ErrLink = errors.New("device link failure")

	// ErrDeviceBusy is returned when the device reports it cannot accept
	// a command. The facade enforces single-flight, so this should not
	// happen, but vendor firmware has been known to disagree.
	ErrDeviceBusy = errors.New("device busy")

	// ErrNotOpen is returned when a command is sent before Open.
	ErrNotOpen = errors.New("device channel not open")
)
