package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"audio-transcriber/internal/config"
	"audio-transcriber/internal/diagnostics"
	"audio-transcriber/internal/domain"
)

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Check external tools, model files, and data directories",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.FromEnv()
		if err != nil {
			return err
		}

		report := diagnostics.NewChecker().Run(cfg)
		for _, item := range report.Items {
			marker := "ok  "
			if item.Status == domain.DiagnosticStatusFail {
				marker = "FAIL"
			}
			fmt.Fprintf(cmd.OutOrStdout(), "[%s] %-22s %s\n", marker, item.Name, item.Message)
			if item.Hint != "" && item.Status == domain.DiagnosticStatusFail {
				fmt.Fprintf(cmd.OutOrStdout(), "       hint: %s\n", item.Hint)
			}
		}

		if report.HasFailures {
			os.Exit(1)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(doctorCmd)
}
