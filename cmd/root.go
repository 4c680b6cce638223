package cmd

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "transcriber",
	Short: "Asynchronous audio transcription service",
	Long: `transcriber accepts audio uploads over HTTP, normalizes them with
ffmpeg, and transcribes them with whisper.cpp or a remote whisper
server. Jobs are processed asynchronously by a worker pool and survive
process restarts.`,
	SilenceUsage: true,
}

// Execute runs the CLI and exits nonzero on error.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// newLogger builds the process-wide structured logger.
func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
}
