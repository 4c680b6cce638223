package transcode

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"

	"audio-transcriber/internal/command"
)

// Error is a transcoding failure with command context. Retryable marks
// transient causes (timeouts) eligible for another attempt; malformed
// or unsupported input is not retryable.
type Error struct {
	Message    string      `json:"message"`
	CommandLog command.Log `json:"commandLog"`
	Retryable  bool        `json:"retryable"`
	Err        error       `json:"-"`
}

// Error formats transcoding failures for logs and job records.
func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.CommandLog.Command == "" {
		return fmt.Sprintf("transcode: %s", e.Message)
	}
	return fmt.Sprintf(
		"transcode: %s (cmd=%s exit=%d)",
		e.Message,
		e.CommandLog.Command,
		e.CommandLog.ExitCode,
	)
}

// Unwrap exposes the underlying error for errors.Is / errors.As.
func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// FFmpeg normalizes arbitrary input audio into the canonical format
// required by the transcription engine: fixed sample rate, fixed
// channel count, 16-bit PCM WAV. The format is configured once and
// applied identically to every job.
type FFmpeg struct {
	binPath    string
	sampleRate int
	channels   int
	runner     command.Runner
	stat       func(name string) (os.FileInfo, error)
}

// Options configures the ffmpeg adapter.
type Options struct {
	BinPath    string
	SampleRate int
	Channels   int
}

// NewFFmpeg constructs the production adapter with OS dependencies.
func NewFFmpeg(opts Options) *FFmpeg {
	if opts.BinPath == "" {
		opts.BinPath = "ffmpeg"
	}
	if opts.SampleRate <= 0 {
		opts.SampleRate = 16000
	}
	if opts.Channels <= 0 {
		opts.Channels = 1
	}
	return &FFmpeg{
		binPath:    opts.BinPath,
		sampleRate: opts.SampleRate,
		channels:   opts.Channels,
		runner:     command.ExecRunner{},
		stat:       os.Stat,
	}
}

// Normalize converts the source audio into canonical WAV at outPath.
// The caller bounds the invocation through ctx. Re-running on the
// same source overwrites outPath with equivalent output, so retries
// are safe.
func (f *FFmpeg) Normalize(ctx context.Context, sourcePath, outPath string) error {
	if _, err := f.stat(sourcePath); err != nil {
		return &Error{
			Message: fmt.Sprintf("cannot access source audio: %s", sourcePath),
			Err:     err,
		}
	}

	args := buildFFmpegArgs(sourcePath, outPath, f.sampleRate, f.channels)
	result, runErr := f.runner.Run(ctx, f.binPath, args...)
	log := command.Log{
		Command:  f.binPath,
		Args:     args,
		ExitCode: result.ExitCode,
		Stdout:   result.Stdout,
		Stderr:   result.Stderr,
	}
	if runErr != nil {
		if errors.Is(runErr, context.DeadlineExceeded) {
			return &Error{
				Message:    "ffmpeg timed out",
				CommandLog: log,
				Retryable:  true,
				Err:        runErr,
			}
		}
		return &Error{
			Message:    "ffmpeg audio conversion failed",
			CommandLog: log,
			Err:        runErr,
		}
	}

	if _, err := f.stat(outPath); err != nil {
		return &Error{
			Message:    "ffmpeg completed but output file is missing",
			CommandLog: log,
			Err:        err,
		}
	}
	return nil
}

// NewFFmpegForTests constructs an adapter with injectable dependencies.
func NewFFmpegForTests(
	binPath string,
	sampleRate int,
	channels int,
	runner command.Runner,
	stat func(name string) (os.FileInfo, error),
) *FFmpeg {
	return &FFmpeg{
		binPath:    binPath,
		sampleRate: sampleRate,
		channels:   channels,
		runner:     runner,
		stat:       stat,
	}
}

// buildFFmpegArgs builds conversion args for PCM WAV at the canonical
// sample rate and channel count.
func buildFFmpegArgs(inputPath, outPath string, sampleRate, channels int) []string {
	return []string{
		"-hide_banner",
		"-nostdin",
		"-y",
		"-i", inputPath,
		"-vn",
		"-ac", strconv.Itoa(channels),
		"-ar", strconv.Itoa(sampleRate),
		"-c:a", "pcm_s16le",
		outPath,
	}
}
