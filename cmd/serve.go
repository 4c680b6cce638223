package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"audio-transcriber/internal/api"
	"audio-transcriber/internal/config"
	"audio-transcriber/internal/events"
	"audio-transcriber/internal/pipeline"
	"audio-transcriber/internal/store"
	"audio-transcriber/internal/transcode"
	"audio-transcriber/internal/transcribe"
	"audio-transcriber/internal/watch"
)

// eventHistory bounds the in-memory event feed per process.
const eventHistory = 1024

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API and the transcription worker pool",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.FromEnv()
		if err != nil {
			return err
		}
		return runServe(cfg)
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cfg config.Config) error {
	logger := newLogger()

	jobs, err := store.OpenJobStore(cfg.DatabasePath())
	if err != nil {
		return fmt.Errorf("open job store: %w", err)
	}
	defer jobs.Close()

	blobs, err := store.NewBlobStore(cfg.AudioDir(), cfg.TranscriptDir())
	if err != nil {
		return fmt.Errorf("open blob store: %w", err)
	}

	engine, err := buildEngine(cfg)
	if err != nil {
		return err
	}

	transcoder := transcode.NewFFmpeg(transcode.Options{
		BinPath:    cfg.FFmpegPath,
		SampleRate: cfg.SampleRate,
		Channels:   cfg.Channels,
	})

	bus := events.NewBus(eventHistory)
	pipe := pipeline.New(jobs, blobs, transcoder, engine, bus, logger, pipeline.Settings{
		Workers:      cfg.Workers,
		StageTimeout: cfg.StageTimeout,
		MaxAttempts:  cfg.MaxAttempts,
		BackoffBase:  cfg.BackoffBase,
		Language:     cfg.Language,
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := pipe.Start(ctx); err != nil {
		return fmt.Errorf("start pipeline: %w", err)
	}

	if cfg.InboxDir != "" {
		inbox := watch.NewInbox(cfg.InboxDir, pipe, logger)
		go func() {
			if err := inbox.Run(ctx); err != nil {
				logger.Error("inbox watcher stopped", "error", err)
			}
		}()
	}

	server := api.New(pipe, jobs, blobs, bus, logger)
	serverErr := make(chan error, 1)
	go func() {
		serverErr <- server.Start(cfg.Addr())
	}()
	logger.Info("listening", "addr", cfg.Addr(), "engine", engine.Name(), "workers", cfg.Workers)

	select {
	case <-ctx.Done():
	case err := <-serverErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown", "error", err)
	}
	pipe.Wait()
	logger.Info("stopped")
	return nil
}

// buildEngine selects the transcription backend from configuration.
func buildEngine(cfg config.Config) (transcribe.Engine, error) {
	switch cfg.Engine {
	case config.EngineWhisperCPP:
		return transcribe.NewWhisperCPP(cfg.WhisperPath, cfg.ModelPath), nil
	case config.EngineRemote:
		return transcribe.NewRemote(cfg.RemoteURL, cfg.RemoteToken), nil
	default:
		return nil, fmt.Errorf("unknown engine: %s", cfg.Engine)
	}
}
