package daemon

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/OneNessQBAI/QPUMyRobotLabMiddleware/pkg/config"
	"github.com/OneNessQBAI/QPUMyRobotLabMiddleware/pkg/jobs"
	"github.com/OneNessQBAI/QPUMyRobotLabMiddleware/pkg/version"
)

// submitRequest is the external job submission body.
type submitRequest struct {
	Kind    string             `json:"kind"`
	Payload []float64          `json:"payload,omitempty"`
	Params  map[string]float64 `json:"params,omitempty"`
	Shots   int                `json:"shots,omitempty"`
}

// jobErrorResponse is the structured failure body. Message carries the
// human-readable chain; the rest is machine-readable context.
type jobErrorResponse struct {
	Error   *jobs.Error `json:"error"`
	Message string      `json:"message"`
}

func submitJob(c *gin.Context) {
	var req submitRequest
	if err := c.BindJSON(&req); err != nil {
		c.IndentedJSON(http.StatusBadRequest, err.Error())
		_ = c.AbortWithError(http.StatusBadRequest, err)
		return
	}

	kind := jobs.Kind(req.Kind)
	if kind == jobs.KindCalibration {
		err := fmt.Errorf("calibration jobs cannot be submitted externally; use /calibration/run")
		c.IndentedJSON(http.StatusBadRequest, err.Error())
		_ = c.AbortWithError(http.StatusBadRequest, err)
		return
	}

	job := jobs.New(kind, req.Payload, req.Params)
	job.Shots = req.Shots

	result, err := facade.Submit(c.Request.Context(), job)
	if err != nil {
		if jerr, ok := jobs.AsError(err); ok {
			c.IndentedJSON(jobErrorStatus(jerr.Kind), jobErrorResponse{
				Error:   jerr,
				Message: err.Error(),
			})
			return
		}
		c.IndentedJSON(http.StatusInternalServerError, err.Error())
		_ = c.AbortWithError(http.StatusInternalServerError, err)
		return
	}

	c.IndentedJSON(http.StatusOK, result)
}

// jobErrorStatus maps the failure taxonomy onto HTTP status codes.
func jobErrorStatus(kind jobs.ErrorKind) int {
	switch kind {
	case jobs.ErrKindInvalidJob:
		return http.StatusBadRequest
	case jobs.ErrKindHardwareUnreachable, jobs.ErrKindHardwareDegraded:
		return http.StatusServiceUnavailable
	case jobs.ErrKindDeviceFailure:
		return http.StatusBadGateway
	case jobs.ErrKindResultRejected, jobs.ErrKindLowConfidence:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

func getHealth(c *gin.Context) {
	c.IndentedJSON(http.StatusOK, monitor.Current())
}

func getCalibration(c *gin.Context) {
	status := calman.Status()
	if next, running := scheduler.Status(); running {
		status.ScheduledAt = next
	}
	c.IndentedJSON(http.StatusOK, status)
}

func runCalibration(c *gin.Context) {
	if err := facade.Calibrate(c.Request.Context()); err != nil {
		logrus.WithError(err).Error("forced calibration failed")
		c.IndentedJSON(http.StatusServiceUnavailable, err.Error())
		_ = c.AbortWithError(http.StatusServiceUnavailable, err)
		return
	}
	c.IndentedJSON(http.StatusOK, calman.Status())
}

func setCalibrationSchedule(c *gin.Context) {
	var cronExpr string
	if err := c.BindJSON(&cronExpr); err != nil {
		c.IndentedJSON(http.StatusBadRequest, err.Error())
		_ = c.AbortWithError(http.StatusBadRequest, err)
		return
	}

	nextRuns, err := schedule(cronExpr)
	if err != nil {
		c.IndentedJSON(http.StatusBadRequest, err.Error())
		_ = c.AbortWithError(http.StatusBadRequest, err)
		return
	}

	if cronExpr == "" {
		c.IndentedJSON(http.StatusCreated, "calibration schedule disabled")
		return
	}
	c.IndentedJSON(http.StatusCreated, nextRuns)
}

func skipCalibrationSchedule(c *gin.Context) {
	if err := scheduler.Skip(); err != nil {
		c.IndentedJSON(http.StatusBadRequest, err.Error())
		_ = c.AbortWithError(http.StatusBadRequest, err)
		return
	}
	next, _ := scheduler.Status()
	c.IndentedJSON(http.StatusCreated, next)
}

func resetDevice(c *gin.Context) {
	if err := facade.Reset(); err != nil {
		if errors.Is(err, ErrResetDenied) {
			c.IndentedJSON(http.StatusConflict, err.Error())
			_ = c.AbortWithError(http.StatusConflict, err)
			return
		}
		c.IndentedJSON(http.StatusInternalServerError, err.Error())
		_ = c.AbortWithError(http.StatusInternalServerError, err)
		return
	}

	logrus.Info("degraded state cleared by reset")
	c.IndentedJSON(http.StatusCreated, "ok")
}

func getConfig(c *gin.Context) {
	fc, err := config.NewRawFileConfigFromConfig(conf)
	if err != nil {
		_ = c.AbortWithError(http.StatusInternalServerError, err)
		return
	}
	c.IndentedJSON(http.StatusOK, fc)
}

func getVersion(c *gin.Context) {
	c.IndentedJSON(http.StatusOK, version.Version)
}

// getEvents streams daemon events over SSE.
func getEvents(c *gin.Context) {
	ch := hub.Subscribe()
	defer hub.Unsubscribe(ch)

	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")

	keepalive := time.NewTicker(30 * time.Second)
	defer keepalive.Stop()

	c.Stream(func(_ io.Writer) bool {
		select {
		case ev, ok := <-ch:
			if !ok {
				return false
			}
			c.SSEvent(string(ev.Name), string(ev.Data))
			return true
		case <-keepalive.C:
			c.SSEvent("keepalive", time.Now().Unix())
			return true
		case <-c.Request.Context().Done():
			return false
		}
	})
}

// schedule applies a cron expression for scheduled calibrations and
// returns the next run times. An empty expression disables scheduling.
func schedule(cronExpr string) ([]time.Time, error) {
	if cronExpr == "" {
		if conf.CalibrationCron() == "" {
			// Already disabled
			return nil, nil
		}

		conf.SetCalibrationCron("")
		if err := conf.Save(); err != nil {
			logrus.WithError(err).Error("failed to save config")
			return nil, fmt.Errorf("failed to save config: %w", err)
		}
		scheduler.Stop()
		return nil, nil
	}

	if err := scheduler.Schedule(cronExpr); err != nil {
		return nil, fmt.Errorf("invalid cron expression: %w", err)
	}

	conf.SetCalibrationCron(cronExpr)
	if err := conf.Save(); err != nil {
		logrus.WithError(err).Error("failed to save config")
		return nil, fmt.Errorf("failed to save config: %w", err)
	}
	scheduler.Start()

	// generate the next three run times for the response
	nextRuns := []time.Time{}
	next, _ := scheduler.Status()
	for i := 0; i < 3; i++ {
		nextRuns = append(nextRuns, next)
		next = nextAfter(cronExpr, next)
	}
	return nextRuns, nil
}

func nextAfter(cronExpr string, t time.Time) time.Time {
	sched, err := scheduler.parser.Parse(cronExpr)
	if err != nil {
		return time.Time{}
	}
	return sched.Next(t)
}
