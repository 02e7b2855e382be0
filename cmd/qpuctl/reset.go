package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func NewResetCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "reset",
		Short:   "Clear a degraded device state",
		GroupID: gBasic,
		Long: `Clear a degraded device state after physical intervention.

The device refuses jobs while degraded. After you have physically
inspected or serviced the hardware, reset discards the degraded state
and forces a fresh calibration on the next job. Reset is refused while a
job is running.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := apiClient.Reset(); err != nil {
				return fmt.Errorf("failed to reset device: %w", err)
			}
			cmd.Println("Device state cleared. The next job will trigger a fresh calibration.")
			return nil
		},
	}
}
