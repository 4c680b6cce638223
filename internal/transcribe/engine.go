package transcribe

import (
	"context"
	"fmt"
	"strings"
)

// Options carries per-job transcription settings.
type Options struct {
	Language string // "" or "auto" means engine auto-detection
}

// Engine is a pluggable transcription capability. Implementations
// consume canonical audio and return text; they never touch job
// records or the blob store. The caller bounds the call through ctx.
type Engine interface {
	Name() string
	Transcribe(ctx context.Context, audioPath string, opts Options) (string, error)
}

// Error is a transcription failure. Retryable marks transient engine
// or resource errors; corrupt or unsupported audio is not retryable.
type Error struct {
	Engine    string `json:"engine"`
	Message   string `json:"message"`
	Detail    string `json:"detail,omitempty"`
	Retryable bool   `json:"retryable"`
	Err       error  `json:"-"`
}

// Error formats engine failures for logs and job records.
func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Detail == "" {
		return fmt.Sprintf("transcribe(%s): %s", e.Engine, e.Message)
	}
	return fmt.Sprintf("transcribe(%s): %s: %s", e.Engine, e.Message, e.Detail)
}

// Unwrap exposes the underlying error for errors.Is / errors.As.
func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// normalizeLanguage maps "auto" and empty language to no override.
func normalizeLanguage(raw string) string {
	lang := strings.TrimSpace(raw)
	if lang == "" || strings.EqualFold(lang, "auto") {
		return ""
	}
	return lang
}
