package main

import (
	"fmt"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/OneNessQBAI/QPUMyRobotLabMiddleware/pkg/calibration"
	"github.com/OneNessQBAI/QPUMyRobotLabMiddleware/pkg/config"
	"github.com/OneNessQBAI/QPUMyRobotLabMiddleware/pkg/health"
)

type statusData struct {
	health      *health.Status
	calibration *calibration.Status
	config      *config.RawFileConfig
}

// fetchStatusData gathers all data required for the status command from the daemon.
func fetchStatusData() (*statusData, error) {
	h, err := apiClient.GetHealth()
	if err != nil {
		return nil, fmt.Errorf("failed to get health status: %w", err)
	}

	cal, err := apiClient.GetCalibration()
	if err != nil {
		return nil, fmt.Errorf("failed to get calibration status: %w", err)
	}

	conf, err := apiClient.GetConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to get config: %w", err)
	}

	return &statusData{
		health:      h,
		calibration: cal,
		config:      conf,
	}, nil
}

func NewStatusCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "status",
		GroupID: gBasic,
		Short:   "Get the current status of the device",
		Long:    `Get device health, calibration state, and daemon configuration.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			data, err := fetchStatusData()
			if err != nil {
				return err
			}

			conf := config.NewFileFromConfig(data.config, "")

			// Health.
			cmd.Println(bold("Device health:"))
			cmd.Printf("  State: %s\n", healthText(data.health.State))
			if data.health.Reason != "" {
				cmd.Printf("  Reason: %s\n", data.health.Reason)
			}
			if !data.health.Since.IsZero() {
				cmd.Printf("  Since: %s (%s ago)\n",
					data.health.Since.Local().Format(time.DateTime),
					time.Since(data.health.Since).Round(time.Second))
			}
			switch data.health.State {
			case health.StateUnreachable:
				cmd.Println("    The device link is down. Jobs are failing fast until it recovers.")
			case health.StateDegraded:
				cmd.Println("    The device needs attention. Run \"qpuctl reset\" after physical intervention.")
			}

			cmd.Println()

			// Calibration.
			cmd.Println(bold("Calibration:"))
			cmd.Printf("  State: %s\n", calibrationText(data.calibration.State))
			if !data.calibration.LastCalibratedAt.IsZero() {
				cmd.Printf("  Last calibrated: %s (%ds ago)\n",
					data.calibration.LastCalibratedAt.Local().Format(time.DateTime),
					data.calibration.AgeSeconds)
				cmd.Printf("  Drift score: %s\n", bold("%.4f", data.calibration.DriftScore))
			}
			if data.calibration.ConsecutiveFailures > 0 {
				cmd.Printf("  Consecutive failures: %s\n", bold("%d", data.calibration.ConsecutiveFailures))
			}
			if data.calibration.LastError != "" {
				cmd.Printf("  Last error: %s\n", data.calibration.LastError)
			}
			if !data.calibration.ScheduledAt.IsZero() {
				cmd.Printf("  Next scheduled run: %s\n",
					data.calibration.ScheduledAt.Local().Format(time.DateTime))
			}

			cmd.Println()

			// Config.
			cmd.Println(bold("Daemon configuration:"))
			cmd.Printf("  Command timeout: %s\n", bold(conf.CommandTimeout().String()))
			cmd.Printf("  Max calibration age: %s\n", bold(conf.MaxDriftAge().String()))
			cmd.Printf("  Max retries: %s\n", bold("%d", conf.MaxRetries()))
			cmd.Printf("  Backoff: %s base, x%s\n", bold(conf.BackoffBase().String()), bold("%.1f", conf.BackoffMultiplier()))
			cmd.Printf("  Mitigation thresholds: reject below %s, retry below %s\n",
				bold("%.2f", conf.RejectThreshold()), bold("%.2f", conf.RetryThreshold()))
			cmd.Printf("  Calibration cron: %s\n", cronText(conf.CalibrationCron()))
			cmd.Printf("  Allow non-root users to access the daemon: %s\n", bool2Text(conf.AllowNonRootAccess()))
			return nil
		},
	}
}

func healthText(s health.State) string {
	switch s {
	case health.StateHealthy:
		return color.New(color.Bold, color.FgGreen).Sprint(string(s))
	case health.StateDegraded:
		return color.New(color.Bold, color.FgYellow).Sprint(string(s))
	default:
		return color.New(color.Bold, color.FgRed).Sprint(string(s))
	}
}

func calibrationText(s calibration.State) string {
	switch s {
	case calibration.StateCalibrated:
		return color.New(color.Bold, color.FgGreen).Sprint(string(s))
	case calibration.StateDegraded:
		return color.New(color.Bold, color.FgRed).Sprint(string(s))
	default:
		return color.New(color.Bold, color.FgYellow).Sprint(string(s))
	}
}

func cronText(expr string) string {
	if expr == "" {
		return "not set"
	}
	return bold(expr)
}

func bool2Text(b bool) string {
	if b {
		return color.New(color.Bold, color.FgGreen).Sprint("✔")
	}
	return color.New(color.Bold, color.FgRed).Sprint("✘")
}

func bold(format string, a ...interface{}) string {
	return color.New(color.Bold).Sprintf(format, a...)
}
