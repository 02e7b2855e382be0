package config

import (
	"encoding/json"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	pkgerrors "github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/OneNessQBAI/QPUMyRobotLabMiddleware/pkg/utils/ptr"
)

var defaultFileConfig = &RawFileConfig{
	CommandTimeoutMillis:        ptr.To(2000),
	MaxDriftAgeSeconds:          ptr.To(300),
	MaxRetries:                  ptr.To(3),
	BackoffBaseMillis:           ptr.To(200),
	BackoffMultiplier:           ptr.To(2.0),
	RejectThreshold:             ptr.To(0.4),
	RetryThreshold:              ptr.To(0.7),
	HysteresisDown:              ptr.To(3),
	HysteresisUp:                ptr.To(2),
	CalibrationFailureThreshold: ptr.To(3),
	DriftDegradedThreshold:      ptr.To(0.25),
	ProbeShots:                  ptr.To(50),
	CalibrationCron:             ptr.To(""),
	AllowNonRootAccess:          ptr.To(false),
}

var _ Config = &File{}

// File is a JSON-file-backed Config. Absent fields fall back to package
// defaults, so an empty file is a valid configuration.
type File struct {
	c        *RawFileConfig
	mu       *sync.RWMutex
	filepath string
}

// NewFile loads a file-backed config from configPath.
func NewFile(configPath string) (*File, error) {
	f := &File{
		filepath: configPath,
		mu:       &sync.RWMutex{},
	}
	err := f.Load()
	if err != nil {
		return nil, err
	}

	return f, nil
}

// NewFileFromConfig wraps an in-memory raw config, for tests.
func NewFileFromConfig(c *RawFileConfig, configPath string) *File {
	if c == nil {
		c = &RawFileConfig{}
	}

	return &File{
		c:        c,
		mu:       &sync.RWMutex{},
		filepath: configPath,
	}
}

// RawFileConfig is the on-disk representation. Pointers distinguish
// "not set" from zero values.
type RawFileConfig struct {
	CommandTimeoutMillis        *int     `json:"commandTimeoutMillis,omitempty"`
	MaxDriftAgeSeconds          *int     `json:"maxDriftAgeSeconds,omitempty"`
	MaxRetries                  *int     `json:"maxRetries,omitempty"`
	BackoffBaseMillis           *int     `json:"backoffBaseMillis,omitempty"`
	BackoffMultiplier           *float64 `json:"backoffMultiplier,omitempty"`
	RejectThreshold             *float64 `json:"rejectThreshold,omitempty"`
	RetryThreshold              *float64 `json:"retryThreshold,omitempty"`
	HysteresisDown              *int     `json:"hysteresisDown,omitempty"`
	HysteresisUp                *int     `json:"hysteresisUp,omitempty"`
	CalibrationFailureThreshold *int     `json:"calibrationFailureThreshold,omitempty"`
	DriftDegradedThreshold      *float64 `json:"driftDegradedThreshold,omitempty"`
	ProbeShots                  *int     `json:"probeShots,omitempty"`
	CalibrationCron             *string  `json:"calibrationCron,omitempty"`
	AllowNonRootAccess          *bool    `json:"allowNonRootAccess,omitempty"`
}

// NewRawFileConfigFromConfig snapshots a Config into its raw form, e.g.
// to serve over HTTP.
func NewRawFileConfigFromConfig(c Config) (*RawFileConfig, error) {
	if c == nil {
		return nil, pkgerrors.New("config is nil")
	}

	return &RawFileConfig{
		CommandTimeoutMillis:        ptr.To(int(c.CommandTimeout() / time.Millisecond)),
		MaxDriftAgeSeconds:          ptr.To(int(c.MaxDriftAge() / time.Second)),
		MaxRetries:                  ptr.To(c.MaxRetries()),
		BackoffBaseMillis:           ptr.To(int(c.BackoffBase() / time.Millisecond)),
		BackoffMultiplier:           ptr.To(c.BackoffMultiplier()),
		RejectThreshold:             ptr.To(c.RejectThreshold()),
		RetryThreshold:              ptr.To(c.RetryThreshold()),
		HysteresisDown:              ptr.To(c.HysteresisDown()),
		HysteresisUp:                ptr.To(c.HysteresisUp()),
		CalibrationFailureThreshold: ptr.To(c.CalibrationFailureThreshold()),
		DriftDegradedThreshold:      ptr.To(c.DriftDegradedThreshold()),
		ProbeShots:                  ptr.To(c.ProbeShots()),
		CalibrationCron:             ptr.To(c.CalibrationCron()),
		AllowNonRootAccess:          ptr.To(c.AllowNonRootAccess()),
	}, nil
}

func value[T any](v, def *T) T {
	if v != nil {
		return *v
	}
	return *def
}

func (f *File) CommandTimeout() time.Duration {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return time.Duration(value(f.c.CommandTimeoutMillis, defaultFileConfig.CommandTimeoutMillis)) * time.Millisecond
}

func (f *File) MaxDriftAge() time.Duration {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return time.Duration(value(f.c.MaxDriftAgeSeconds, defaultFileConfig.MaxDriftAgeSeconds)) * time.Second
}

func (f *File) MaxRetries() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return value(f.c.MaxRetries, defaultFileConfig.MaxRetries)
}

func (f *File) BackoffBase() time.Duration {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return time.Duration(value(f.c.BackoffBaseMillis, defaultFileConfig.BackoffBaseMillis)) * time.Millisecond
}

func (f *File) BackoffMultiplier() float64 {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return value(f.c.BackoffMultiplier, defaultFileConfig.BackoffMultiplier)
}

func (f *File) RejectThreshold() float64 {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return value(f.c.RejectThreshold, defaultFileConfig.RejectThreshold)
}

func (f *File) RetryThreshold() float64 {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return value(f.c.RetryThreshold, defaultFileConfig.RetryThreshold)
}

func (f *File) HysteresisDown() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return value(f.c.HysteresisDown, defaultFileConfig.HysteresisDown)
}

func (f *File) HysteresisUp() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return value(f.c.HysteresisUp, defaultFileConfig.HysteresisUp)
}

func (f *File) CalibrationFailureThreshold() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return value(f.c.CalibrationFailureThreshold, defaultFileConfig.CalibrationFailureThreshold)
}

func (f *File) DriftDegradedThreshold() float64 {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return value(f.c.DriftDegradedThreshold, defaultFileConfig.DriftDegradedThreshold)
}

func (f *File) ProbeShots() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return value(f.c.ProbeShots, defaultFileConfig.ProbeShots)
}

func (f *File) CalibrationCron() string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return value(f.c.CalibrationCron, defaultFileConfig.CalibrationCron)
}

func (f *File) AllowNonRootAccess() bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return value(f.c.AllowNonRootAccess, defaultFileConfig.AllowNonRootAccess)
}

func (f *File) SetCalibrationCron(expr string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.c.CalibrationCron = &expr
}

func (f *File) SetAllowNonRootAccess(b bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.c.AllowNonRootAccess = &b
}

func (f *File) Load() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	fp, err := os.Open(f.filepath)
	if err != nil {
		if os.IsNotExist(err) {
			// If the file does not exist, use the empty config.
			// Do not make f.c a nil.
			f.c = &RawFileConfig{}
			return nil
		}
		return pkgerrors.Wrapf(err, "failed to open file %s", f.filepath)
	}
	defer func(fp *os.File) {
		err := fp.Close()
		if err != nil {
			logrus.Warnf("failed to close file %s", f.filepath)
		}
	}(fp)

	b, err := io.ReadAll(fp)
	if err != nil {
		return pkgerrors.Wrapf(err, "failed to read file %s", f.filepath)
	}

	if strings.TrimSpace(string(b)) == "" {
		// An empty file is a valid (all-defaults) config.
		f.c = &RawFileConfig{}
		return nil
	}

	conf := RawFileConfig{}
	err = json.Unmarshal(b, &conf)
	if err != nil {
		return pkgerrors.Wrapf(err, "failed to unmarshal config from file %s", f.filepath)
	}
	f.c = &conf

	return nil
}

func (f *File) Save() error {
	f.mu.RLock()
	defer f.mu.RUnlock()

	if f.c == nil {
		return pkgerrors.New("config is nil")
	}

	fp, err := os.OpenFile(f.filepath, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return pkgerrors.Wrapf(err, "failed to open file %s", f.filepath)
	}
	defer func(fp *os.File) {
		err := fp.Close()
		if err != nil {
			logrus.Warnf("failed to close file %s", f.filepath)
		}
	}(fp)

	enc := json.NewEncoder(fp)
	enc.SetIndent("", "  ")
	err = enc.Encode(f.c)
	if err != nil {
		return pkgerrors.Wrapf(err, "failed to encode config to file %s", f.filepath)
	}

	return nil
}

func (f *File) LogrusFields() logrus.Fields {
	return logrus.Fields{
		"commandTimeout":              f.CommandTimeout().String(),
		"maxDriftAge":                 f.MaxDriftAge().String(),
		"maxRetries":                  f.MaxRetries(),
		"backoffBase":                 f.BackoffBase().String(),
		"backoffMultiplier":           f.BackoffMultiplier(),
		"rejectThreshold":             f.RejectThreshold(),
		"retryThreshold":              f.RetryThreshold(),
		"hysteresisDown":              f.HysteresisDown(),
		"hysteresisUp":                f.HysteresisUp(),
		"calibrationFailureThreshold": f.CalibrationFailureThreshold(),
		"driftDegradedThreshold":      f.DriftDegradedThreshold(),
		"probeShots":                  f.ProbeShots(),
		"calibrationCron":             f.CalibrationCron(),
		"allowNonRootAccess":          f.AllowNonRootAccess(),
	}
}
