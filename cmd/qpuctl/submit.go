package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/OneNessQBAI/QPUMyRobotLabMiddleware/pkg/client"
	"github.com/OneNessQBAI/QPUMyRobotLabMiddleware/pkg/jobs"
)

func NewSubmitCommand() *cobra.Command {
	var shots int

	cmd := &cobra.Command{
		Use:     "submit",
		Short:   "Submit a job to the device",
		Long:    `Submit a job to the device and wait for its mitigated result.`,
		GroupID: gBasic,
	}

	patternCmd := &cobra.Command{
		Use:   "pattern <value>...",
		Short: "Submit a pattern-recognition job",
		Long: `Submit a pattern-recognition job.

Each value is one element of the input vector, encoded onto one qubit.`,
		Example: `  qpuctl submit pattern 0.1 0.9 0.4 0.8
  qpuctl submit pattern --shots 200 1.2 0.3`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			payload := make([]float64, 0, len(args))
			for _, a := range args {
				v, err := strconv.ParseFloat(a, 64)
				if err != nil {
					return fmt.Errorf("invalid value %q: %v", a, err)
				}
				payload = append(payload, v)
			}

			result, err := apiClient.Submit(client.SubmitRequest{
				Kind:    string(jobs.KindPatternRecognition),
				Payload: payload,
				Shots:   shots,
			})
			if err != nil {
				return err
			}

			printResult(cmd, result)
			return nil
		},
	}

	movementCmd := &cobra.Command{
		Use:   "movement <name=value>...",
		Short: "Submit a movement-optimization job",
		Long: `Submit a movement-optimization job.

Each argument is a named joint parameter. Parameters are encoded onto
qubits in name order, so naming is part of the contract.`,
		Example: `  qpuctl submit movement shoulder=1.2 elbow=0.4 wrist=2.1`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			params := make(map[string]float64, len(args))
			for _, a := range args {
				name, value, ok := strings.Cut(a, "=")
				if !ok || name == "" {
					return fmt.Errorf("invalid parameter %q, expected name=value", a)
				}
				v, err := strconv.ParseFloat(value, 64)
				if err != nil {
					return fmt.Errorf("invalid parameter %q: %v", a, err)
				}
				params[name] = v
			}

			result, err := apiClient.Submit(client.SubmitRequest{
				Kind:   string(jobs.KindMovementOptimization),
				Params: params,
				Shots:  shots,
			})
			if err != nil {
				return err
			}

			printResult(cmd, result)
			return nil
		},
	}

	cmd.PersistentFlags().IntVar(&shots, "shots", 0, "measurement repetitions (0 uses the device default)")
	cmd.AddCommand(patternCmd, movementCmd)

	return cmd
}

func printResult(cmd *cobra.Command, r *jobs.ProcessedResult) {
	cmd.Println(bold("Job result:"))
	cmd.Printf("  Job ID: %s\n", r.JobID)
	cmd.Printf("  Kind: %s\n", r.Kind)
	switch r.Kind {
	case jobs.KindPatternRecognition:
		cmd.Printf("  Pattern detected: %s\n", bool2Text(r.PatternDetected))
	case jobs.KindMovementOptimization:
		cmd.Printf("  Best outcome: %s\n", bold("%d", r.BestOutcome))
	}
	cmd.Printf("  Values: %s\n", formatValues(r.Values))
	cmd.Printf("  Confidence: %s\n", bold("%.3f", r.Confidence))
	cmd.Printf("  Attempts: %s\n", bold("%d", r.Attempts))
}

func formatValues(values []float64) string {
	parts := make([]string, 0, len(values))
	for _, v := range values {
		parts = append(parts, fmt.Sprintf("%.3f", v))
	}
	return "[" + strings.Join(parts, ", ") + "]"
}
