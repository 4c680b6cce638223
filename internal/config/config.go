package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// envPrefix namespaces every configuration variable.
const envPrefix = "TRANSCRIBER_"

// Engine identifiers selectable via TRANSCRIBER_ENGINE.
const (
	EngineWhisperCPP = "whispercpp"
	EngineRemote     = "remote"
)

// Config carries all runtime settings for the service.
type Config struct {
	Port         int
	DataDir      string
	InboxDir     string
	Workers      int
	StageTimeout time.Duration
	MaxAttempts  int
	BackoffBase  time.Duration

	SampleRate int
	Channels   int
	Language   string

	Engine      string
	ModelPath   string
	FFmpegPath  string
	WhisperPath string

	RemoteURL   string
	RemoteToken string
}

// Default returns baseline configuration for a local deployment.
func Default() Config {
	return Config{
		Port:         8000,
		DataDir:      "data",
		Workers:      4,
		StageTimeout: 5 * time.Minute,
		MaxAttempts:  3,
		BackoffBase:  time.Second,
		SampleRate:   16000,
		Channels:     1,
		Language:     "auto",
		Engine:       EngineWhisperCPP,
		ModelPath:    filepath.Join("models", "ggml-base.en.bin"),
		FFmpegPath:   "ffmpeg",
		WhisperPath:  "whisper.cpp",
	}
}

// FromEnv builds configuration from TRANSCRIBER_* variables over defaults.
func FromEnv() (Config, error) {
	cfg := Default()

	var err error
	if cfg.Port, err = envInt("PORT", cfg.Port); err != nil {
		return Config{}, err
	}
	cfg.DataDir = envString("DATA_DIR", cfg.DataDir)
	cfg.InboxDir = envString("INBOX_DIR", cfg.InboxDir)
	if cfg.Workers, err = envInt("WORKERS", cfg.Workers); err != nil {
		return Config{}, err
	}
	if cfg.StageTimeout, err = envDuration("STAGE_TIMEOUT", cfg.StageTimeout); err != nil {
		return Config{}, err
	}
	if cfg.MaxAttempts, err = envInt("MAX_ATTEMPTS", cfg.MaxAttempts); err != nil {
		return Config{}, err
	}
	if cfg.BackoffBase, err = envDuration("BACKOFF_BASE", cfg.BackoffBase); err != nil {
		return Config{}, err
	}
	if cfg.SampleRate, err = envInt("SAMPLE_RATE", cfg.SampleRate); err != nil {
		return Config{}, err
	}
	if cfg.Channels, err = envInt("CHANNELS", cfg.Channels); err != nil {
		return Config{}, err
	}
	cfg.Language = envString("LANGUAGE", cfg.Language)
	cfg.Engine = envString("ENGINE", cfg.Engine)
	cfg.ModelPath = envString("MODEL_PATH", cfg.ModelPath)
	cfg.FFmpegPath = envString("FFMPEG_PATH", cfg.FFmpegPath)
	cfg.WhisperPath = envString("WHISPER_PATH", cfg.WhisperPath)
	cfg.RemoteURL = envString("REMOTE_URL", cfg.RemoteURL)
	cfg.RemoteToken = envString("REMOTE_TOKEN", cfg.RemoteToken)

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects configurations the service cannot run with.
func (c Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("port out of range: %d", c.Port)
	}
	if strings.TrimSpace(c.DataDir) == "" {
		return fmt.Errorf("data directory is required")
	}
	if c.Workers <= 0 {
		return fmt.Errorf("worker count must be positive: %d", c.Workers)
	}
	if c.MaxAttempts <= 0 {
		return fmt.Errorf("max attempts must be positive: %d", c.MaxAttempts)
	}
	if c.StageTimeout <= 0 {
		return fmt.Errorf("stage timeout must be positive: %s", c.StageTimeout)
	}
	if c.SampleRate <= 0 || c.Channels <= 0 {
		return fmt.Errorf("invalid canonical format: %d Hz / %d ch", c.SampleRate, c.Channels)
	}
	switch c.Engine {
	case EngineWhisperCPP:
	case EngineRemote:
		if strings.TrimSpace(c.RemoteURL) == "" {
			return fmt.Errorf("remote engine requires %sREMOTE_URL", envPrefix)
		}
	default:
		return fmt.Errorf("unknown engine: %s", c.Engine)
	}
	return nil
}

// AudioDir is where raw and canonical audio blobs live.
func (c Config) AudioDir() string {
	return filepath.Join(c.DataDir, "audio")
}

// TranscriptDir is where transcript text files live.
func (c Config) TranscriptDir() string {
	return filepath.Join(c.DataDir, "transcripts")
}

// DatabasePath locates the job index next to the blob directories.
func (c Config) DatabasePath() string {
	return filepath.Join(c.DataDir, "jobs.db")
}

// Addr formats the listen address for the HTTP server.
func (c Config) Addr() string {
	return fmt.Sprintf(":%d", c.Port)
}

// envString reads a prefixed variable, falling back when unset or blank.
func envString(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(envPrefix + key)); v != "" {
		return v
	}
	return fallback
}

// envInt parses a prefixed integer variable.
func envInt(key string, fallback int) (int, error) {
	raw := strings.TrimSpace(os.Getenv(envPrefix + key))
	if raw == "" {
		return fallback, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%s%s: %w", envPrefix, key, err)
	}
	return v, nil
}

// envDuration parses a prefixed duration variable ("30s", "5m").
func envDuration(key string, fallback time.Duration) (time.Duration, error) {
	raw := strings.TrimSpace(os.Getenv(envPrefix + key))
	if raw == "" {
		return fallback, nil
	}
	v, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("%s%s: %w", envPrefix, key, err)
	}
	return v, nil
}
