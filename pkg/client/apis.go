package client

import (
	"encoding/json"
	"time"

	pkgerrors "github.com/pkg/errors"

	"github.com/OneNessQBAI/QPUMyRobotLabMiddleware/pkg/calibration"
	"github.com/OneNessQBAI/QPUMyRobotLabMiddleware/pkg/config"
	"github.com/OneNessQBAI/QPUMyRobotLabMiddleware/pkg/health"
	"github.com/OneNessQBAI/QPUMyRobotLabMiddleware/pkg/jobs"
)

// SubmitRequest is the body for job submission.
type SubmitRequest struct {
	Kind    string             `json:"kind"`
	Payload []float64          `json:"payload,omitempty"`
	Params  map[string]float64 `json:"params,omitempty"`
	Shots   int                `json:"shots,omitempty"`
}

// Submit sends a job to the daemon and waits for its processed result.
// Submission is synchronous; this blocks until the job completes, is
// rejected, or fails.
func (c *Client) Submit(req SubmitRequest) (*jobs.ProcessedResult, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}

	ret, err := c.Post("/jobs", string(payload))
	if err != nil {
		return nil, pkgerrors.Wrapf(err, "failed to submit job")
	}

	var result jobs.ProcessedResult
	if err := json.Unmarshal([]byte(ret), &result); err != nil {
		return nil, pkgerrors.Wrapf(err, "failed to unmarshal job result")
	}
	return &result, nil
}

func (c *Client) GetHealth() (*health.Status, error) {
	ret, err := c.Get("/health")
	if err != nil {
		return nil, pkgerrors.Wrapf(err, "failed to get health status")
	}

	var st health.Status
	if err := json.Unmarshal([]byte(ret), &st); err != nil {
		return nil, pkgerrors.Wrapf(err, "failed to unmarshal health status")
	}
	return &st, nil
}

func (c *Client) GetCalibration() (*calibration.Status, error) {
	ret, err := c.Get("/calibration")
	if err != nil {
		return nil, pkgerrors.Wrapf(err, "failed to get calibration status")
	}

	var st calibration.Status
	if err := json.Unmarshal([]byte(ret), &st); err != nil {
		return nil, pkgerrors.Wrapf(err, "failed to unmarshal calibration status")
	}
	return &st, nil
}

// StartCalibration forces a full calibration pass. It blocks until the
// pass finishes.
func (c *Client) StartCalibration() (*calibration.Status, error) {
	ret, err := c.Post("/calibration/run", "")
	if err != nil {
		return nil, pkgerrors.Wrapf(err, "failed to start calibration")
	}

	var st calibration.Status
	if err := json.Unmarshal([]byte(ret), &st); err != nil {
		return nil, pkgerrors.Wrapf(err, "failed to unmarshal calibration status")
	}
	return &st, nil
}

// Schedule sets the calibration cron expression and returns the next
// run times. An empty expression disables the schedule.
func (c *Client) Schedule(cronExpr string) ([]time.Time, error) {
	payload, err := json.Marshal(cronExpr)
	if err != nil {
		return nil, err
	}

	ret, err := c.Put("/calibration/schedule", string(payload))
	if err != nil {
		return nil, pkgerrors.Wrapf(err, "failed to set calibration schedule")
	}

	if cronExpr == "" {
		return nil, nil
	}

	var nextRuns []time.Time
	if err := json.Unmarshal([]byte(ret), &nextRuns); err != nil {
		return nil, pkgerrors.Wrapf(err, "failed to unmarshal next run times")
	}
	return nextRuns, nil
}

// SkipSchedule skips the next scheduled calibration run and returns the
// one after it.
func (c *Client) SkipSchedule() (time.Time, error) {
	ret, err := c.Post("/calibration/schedule/skip", "")
	if err != nil {
		return time.Time{}, pkgerrors.Wrapf(err, "failed to skip next run")
	}

	var next time.Time
	if err := json.Unmarshal([]byte(ret), &next); err != nil {
		return time.Time{}, pkgerrors.Wrapf(err, "failed to unmarshal next run time")
	}
	return next, nil
}

// Reset clears a degraded device state after physical intervention.
func (c *Client) Reset() error {
	_, err := c.Post("/reset", "")
	if err != nil {
		return pkgerrors.Wrapf(err, "failed to reset device")
	}
	return nil
}

func (c *Client) GetConfig() (*config.RawFileConfig, error) {
	ret, err := c.Get("/config")
	if err != nil {
		return nil, pkgerrors.Wrapf(err, "failed to get config")
	}

	var conf config.RawFileConfig
	if err := json.Unmarshal([]byte(ret), &conf); err != nil {
		return nil, pkgerrors.Wrapf(err, "failed to unmarshal config")
	}

	return &conf, nil
}

func (c *Client) GetVersion() (string, error) {
	ret, err := c.Get("/version")
	if err != nil {
		return "", pkgerrors.Wrapf(err, "failed to get version")
	}
	// Remove "" around JSON string. I don't want to use a JSON decoder just for this.
	if len(ret) >= 2 {
		ret = ret[1 : len(ret)-1]
	}
	return ret, nil
}
