package daemon

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/OneNessQBAI/QPUMyRobotLabMiddleware/pkg/calibration"
	"github.com/OneNessQBAI/QPUMyRobotLabMiddleware/pkg/config"
	"github.com/OneNessQBAI/QPUMyRobotLabMiddleware/pkg/events"
	"github.com/OneNessQBAI/QPUMyRobotLabMiddleware/pkg/health"
	"github.com/OneNessQBAI/QPUMyRobotLabMiddleware/pkg/qpu"
)

// recoveryProbeInterval is how often the daemon pings an unreachable
// device to let the health status recover once the link is back.
const recoveryProbeInterval = 30 * time.Second

var (
	conf      config.Config
	channel   *qpu.Channel
	calman    *calibration.Manager
	monitor   *health.Monitor
	facade    *Facade
	hub       *events.EventHub
	scheduler *Scheduler
)

func setupRoutes() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(requestLogger(logrus.StandardLogger()))
	router.POST("/jobs", submitJob)
	router.GET("/health", getHealth)
	router.GET("/calibration", getCalibration)
	router.POST("/calibration/run", runCalibration)
	router.PUT("/calibration/schedule", setCalibrationSchedule)
	router.POST("/calibration/schedule/skip", skipCalibrationSchedule)
	router.POST("/reset", resetDevice)
	router.GET("/config", getConfig)
	router.GET("/version", getVersion)
	router.GET("/events", getEvents)

	return router
}

// Run starts the daemon: it owns the single device transport for the
// whole process and serves the job/health/reset contract over HTTP on
// a unix socket.
func Run(configPath, unixSocketPath string, transport qpu.Transport, allowNonRoot bool) error {
	router := setupRoutes()

	var err error
	conf, err = config.NewFile(configPath)
	if err != nil {
		logrus.Fatalf("failed to parse config during startup: %v", err)
	}
	logrus.WithFields(conf.LogrusFields()).Infof("config loaded")

	// Receive SIGHUP to reload config
	go func() {
		sigc := make(chan os.Signal, 1)
		signal.Notify(sigc, syscall.SIGHUP)
		for range sigc {
			err := conf.Load()
			if err != nil {
				logrus.Errorf("failed to reload config: %v", err)
				continue
			}
			logrus.Infof("config reloaded")
		}
	}()

	hub = events.NewEventHub()

	monitor = health.NewMonitor(
		conf.HysteresisDown(),
		conf.HysteresisUp(),
		conf.DriftDegradedThreshold(),
		func(from, to health.Status) {
			hub.Publish(events.HealthStatus, events.HealthStatusEvent{
				From:   string(from.State),
				To:     string(to.State),
				Reason: to.Reason,
				Ts:     time.Now().Unix(),
			})
		},
	)

	// Open the device. Exactly one channel exists process-wide; every
	// hardware access goes through it.
	channel = qpu.NewChannel(transport, conf.CommandTimeout(), monitor.ObserveLink)
	if err := channel.Open(); err != nil {
		logrus.Fatal(err)
	}

	calman = calibration.NewManager(channel, conf, configPath+".calibration")
	calman.OnHealth = monitor.ObserveCalibration
	calman.OnTransition = func(from, to calibration.State) {
		hub.Publish(events.CalibrationState, events.CalibrationStateEvent{
			From: string(from),
			To:   string(to),
			Ts:   time.Now().Unix(),
		})
	}
	// Push the reloaded state into the monitor so a persisted Degraded
	// is reflected immediately.
	snap := calman.Snapshot()
	monitor.ObserveCalibration(snap.State == calibration.StateDegraded, snap.DriftScore)

	facade = NewFacade(channel, calman, monitor, conf, hub)

	scheduler = NewScheduler(
		func() error {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
			defer cancel()
			return facade.Calibrate(ctx)
		},
		func() error {
			if st := monitor.Current(); st.State == health.StateUnreachable {
				return fmt.Errorf("device unreachable")
			}
			if calman.State() == calibration.StateDegraded {
				return fmt.Errorf("device degraded; reset required")
			}
			return nil
		},
		func(data any) {
			logrus.Errorf("scheduled calibration: %v", data)
		},
	)
	if cronExpr := conf.CalibrationCron(); cronExpr != "" {
		if err := scheduler.Schedule(cronExpr); err != nil {
			logrus.WithError(err).Error("invalid calibration cron in config; scheduling disabled")
		} else {
			scheduler.Start()
		}
	}

	// Recovery loop: while the device is unreachable no jobs touch the
	// channel, so ping it periodically to give the link a way back.
	probeStop := make(chan struct{})
	go func() {
		ticker := time.NewTicker(recoveryProbeInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if monitor.Current().State != health.StateUnreachable {
					continue
				}
				ctx, cancel := context.WithTimeout(context.Background(), conf.CommandTimeout())
				if err := facade.Ping(ctx); err != nil {
					logrus.WithError(err).Debug("recovery probe failed")
				}
				cancel()
			case <-probeStop:
				return
			}
		}
	}()

	srv := &http.Server{
		Handler: router,
	}

	// Remove a stale socket from a previous run before listening.
	if _, err := os.Stat(unixSocketPath); err == nil {
		if err := os.Remove(unixSocketPath); err != nil {
			logrus.Fatal(err)
		}
	}
	l, err := net.Listen("unix", unixSocketPath)
	if err != nil {
		logrus.Fatal(err)
	}

	if conf.AllowNonRootAccess() || allowNonRoot {
		logrus.Infof("non-root access is allowed, changing permissions of %s to 0777", unixSocketPath)
		err = os.Chmod(unixSocketPath, 0777)
		if err != nil {
			logrus.Fatal(err)
		}
	}

	// Serve HTTP on unix socket
	go func() {
		logrus.Infof("http server listening on %s", l.Addr().String())
		if err := srv.Serve(l); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logrus.Fatal(err)
		}
	}()

	// Handle common process-killing signals, so we can gracefully shut down:
	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM)
	// Wait for a SIGINT or SIGTERM:
	sig := <-sigc
	logrus.Infof("caught signal \"%s\": shutting down.", sig)

	logrus.Info("shutting down http server")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	err = srv.Shutdown(ctx)
	if err != nil {
		logrus.Errorf("failed to shutdown http server: %v", err)
	}
	cancel()

	close(probeStop)
	scheduler.Stop()

	logrus.Info("closing device channel")
	err = channel.Close()
	if err != nil {
		logrus.Errorf("failed to close device channel: %v", err)
	}

	logrus.Info("exiting")
	return nil
}
