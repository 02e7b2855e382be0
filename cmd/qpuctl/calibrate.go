package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/OneNessQBAI/QPUMyRobotLabMiddleware/pkg/calibration"
)

func NewCalibrationCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "calibration",
		Aliases: []string{"calibrate", "cali"},
		Short:   "Manage device calibration",
		Long:    "Run the probe-circuit calibration sequence and inspect its state.",
		GroupID: gAdvanced,
	}

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Run a full calibration pass now",
		Long: `Run a full calibration pass now, regardless of how fresh the current
calibration is. Blocks until the pass finishes; if a job is running, the
pass waits its turn for the device.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			st, err := apiClient.StartCalibration()
			if err != nil {
				return fmt.Errorf("calibration failed: %w", err)
			}
			cmd.Println("Calibration finished.")
			printCalibrationStatus(cmd, st)
			return nil
		},
	}

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show current calibration status",
		RunE: func(cmd *cobra.Command, _ []string) error {
			st, err := apiClient.GetCalibration()
			if err != nil {
				return fmt.Errorf("failed to fetch calibration status: %w", err)
			}
			printCalibrationStatus(cmd, st)
			return nil
		},
	}

	cmd.AddCommand(runCmd, statusCmd)
	return cmd
}

func printCalibrationStatus(cmd *cobra.Command, st *calibration.Status) {
	cmd.Printf("State: %s\n", calibrationText(st.State))
	if !st.LastCalibratedAt.IsZero() {
		cmd.Printf("Last calibrated: %s (%ds ago)\n",
			st.LastCalibratedAt.Local().Format(time.DateTime), st.AgeSeconds)
		cmd.Printf("Drift score: %s\n", bold("%.4f", st.DriftScore))
	}
	if st.ConsecutiveFailures > 0 {
		cmd.Printf("Consecutive failures: %s\n", bold("%d", st.ConsecutiveFailures))
	}
	if st.LastError != "" {
		cmd.Printf("Last error: %s\n", st.LastError)
	}
	if !st.ScheduledAt.IsZero() {
		cmd.Printf("Next scheduled run: %s\n", st.ScheduledAt.Local().Format(time.DateTime))
	}
}
