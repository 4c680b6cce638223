package config

import (
	"path/filepath"
	"testing"
	"time"
)

// TestDefaultConfig verifies baseline defaults are usable as-is.
func TestDefaultConfig(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
	if cfg.Port != 8000 {
		t.Fatalf("port = %d, want 8000", cfg.Port)
	}
	if cfg.Engine != EngineWhisperCPP {
		t.Fatalf("engine = %q, want %q", cfg.Engine, EngineWhisperCPP)
	}
	if cfg.SampleRate != 16000 || cfg.Channels != 1 {
		t.Fatalf("canonical format = %d Hz / %d ch, want 16000/1", cfg.SampleRate, cfg.Channels)
	}
}

// TestFromEnvOverrides verifies environment variables take precedence.
func TestFromEnvOverrides(t *testing.T) {
	t.Setenv("TRANSCRIBER_PORT", "9090")
	t.Setenv("TRANSCRIBER_DATA_DIR", "/var/lib/transcriber")
	t.Setenv("TRANSCRIBER_WORKERS", "8")
	t.Setenv("TRANSCRIBER_STAGE_TIMEOUT", "90s")
	t.Setenv("TRANSCRIBER_LANGUAGE", "en")

	cfg, err := FromEnv()
	if err != nil {
		t.Fatalf("FromEnv() error = %v", err)
	}
	if cfg.Port != 9090 {
		t.Fatalf("port = %d, want 9090", cfg.Port)
	}
	if cfg.DataDir != "/var/lib/transcriber" {
		t.Fatalf("data dir = %q", cfg.DataDir)
	}
	if cfg.Workers != 8 {
		t.Fatalf("workers = %d, want 8", cfg.Workers)
	}
	if cfg.StageTimeout != 90*time.Second {
		t.Fatalf("stage timeout = %s, want 90s", cfg.StageTimeout)
	}
	if cfg.Language != "en" {
		t.Fatalf("language = %q, want en", cfg.Language)
	}
}

// TestFromEnvRejectsMalformedValues checks parse error propagation.
func TestFromEnvRejectsMalformedValues(t *testing.T) {
	t.Setenv("TRANSCRIBER_PORT", "not-a-number")
	if _, err := FromEnv(); err == nil {
		t.Fatal("expected error for malformed port")
	}
}

// TestValidateRemoteEngineRequiresURL checks engine-specific validation.
func TestValidateRemoteEngineRequiresURL(t *testing.T) {
	cfg := Default()
	cfg.Engine = EngineRemote
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for remote engine without URL")
	}

	cfg.RemoteURL = "http://localhost:9000"
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
}

// TestValidateRejectsUnknownEngine checks engine name validation.
func TestValidateRejectsUnknownEngine(t *testing.T) {
	cfg := Default()
	cfg.Engine = "napkin"
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for unknown engine")
	}
}

// TestDerivedPaths verifies data layout helpers.
func TestDerivedPaths(t *testing.T) {
	cfg := Default()
	cfg.DataDir = "/srv/data"
	if got := cfg.AudioDir(); got != filepath.Join("/srv/data", "audio") {
		t.Fatalf("audio dir = %q", got)
	}
	if got := cfg.TranscriptDir(); got != filepath.Join("/srv/data", "transcripts") {
		t.Fatalf("transcript dir = %q", got)
	}
	if got := cfg.DatabasePath(); got != filepath.Join("/srv/data", "jobs.db") {
		t.Fatalf("database path = %q", got)
	}
	if got := cfg.Addr(); got != ":8000" {
		t.Fatalf("addr = %q", got)
	}
}
