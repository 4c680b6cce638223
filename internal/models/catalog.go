package models

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"audio-transcriber/internal/domain"
)

// catalog lists built-in whisper.cpp model presets available for download.
var catalog = []domain.WhisperModelOption{
	{
		ID:          "tiny.en",
		Name:        "Tiny (English)",
		FileName:    "ggml-tiny.en.bin",
		URL:         "https://huggingface.co/ggerganov/whisper.cpp/resolve/main/ggml-tiny.en.bin",
		SizeLabel:   "~75 MB",
		Description: "Fastest, English-only model.",
	},
	{
		ID:          "tiny",
		Name:        "Tiny (Multilingual)",
		FileName:    "ggml-tiny.bin",
		URL:         "https://huggingface.co/ggerganov/whisper.cpp/resolve/main/ggml-tiny.bin",
		SizeLabel:   "~75 MB",
		Description: "Fastest multilingual model.",
	},
	{
		ID:          "base.en",
		Name:        "Base (English)",
		FileName:    "ggml-base.en.bin",
		URL:         "https://huggingface.co/ggerganov/whisper.cpp/resolve/main/ggml-base.en.bin",
		SizeLabel:   "~142 MB",
		Description: "Balanced speed/quality, English-only.",
	},
	{
		ID:          "base",
		Name:        "Base (Multilingual)",
		FileName:    "ggml-base.bin",
		URL:         "https://huggingface.co/ggerganov/whisper.cpp/resolve/main/ggml-base.bin",
		SizeLabel:   "~142 MB",
		Description: "Balanced speed/quality, multilingual.",
	},
	{
		ID:          "small.en",
		Name:        "Small (English)",
		FileName:    "ggml-small.en.bin",
		URL:         "https://huggingface.co/ggerganov/whisper.cpp/resolve/main/ggml-small.en.bin",
		SizeLabel:   "~466 MB",
		Description: "Higher quality, English-only.",
	},
	{
		ID:          "small",
		Name:        "Small (Multilingual)",
		FileName:    "ggml-small.bin",
		URL:         "https://huggingface.co/ggerganov/whisper.cpp/resolve/main/ggml-small.bin",
		SizeLabel:   "~466 MB",
		Description: "Higher quality multilingual model.",
	},
	{
		ID:          "large-v3-turbo",
		Name:        "Large v3 Turbo",
		FileName:    "ggml-large-v3-turbo.bin",
		URL:         "https://huggingface.co/ggerganov/whisper.cpp/resolve/main/ggml-large-v3-turbo.bin",
		SizeLabel:   "~1.6 GB",
		Description: "Faster large-v3 variant.",
	},
}

// List returns all model presets, marking the ones already present in dir.
func List(dir string) []domain.WhisperModelOption {
	out := make([]domain.WhisperModelOption, len(catalog))
	copy(out, catalog)

	if strings.TrimSpace(dir) == "" {
		return out
	}
	for i := range out {
		candidate := filepath.Join(dir, out[i].FileName)
		info, err := os.Stat(candidate)
		if err != nil || info.IsDir() {
			continue
		}
		out[i].Downloaded = true
		out[i].LocalPath = candidate
	}
	return out
}

// Find looks up a preset by its catalog ID.
func Find(id string) (domain.WhisperModelOption, bool) {
	for _, model := range catalog {
		if model.ID == strings.TrimSpace(id) {
			return model, true
		}
	}
	return domain.WhisperModelOption{}, false
}

// Downloader fetches model files into a local directory.
type Downloader struct {
	client *http.Client
}

// NewDownloader builds a downloader using the default HTTP client.
func NewDownloader() *Downloader {
	return &Downloader{client: http.DefaultClient}
}

// NewDownloaderForTests builds a downloader with an injectable client.
func NewDownloaderForTests(client *http.Client) *Downloader {
	return &Downloader{client: client}
}

// Fetch downloads the model identified by id into dir and returns the
// final file path. Downloads go through a temp file so an interrupted
// transfer never leaves a truncated model behind.
func (d *Downloader) Fetch(ctx context.Context, id, dir string) (string, error) {
	model, found := Find(id)
	if !found {
		return "", fmt.Errorf("unknown model id: %s", id)
	}
	if strings.TrimSpace(dir) == "" {
		return "", fmt.Errorf("model directory is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("prepare model directory: %w", err)
	}

	targetPath := filepath.Join(dir, model.FileName)
	tmpPath := targetPath + ".download"
	if err := os.Remove(tmpPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		return "", fmt.Errorf("remove stale temp file: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, model.URL, nil)
	if err != nil {
		return "", fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", "audio-transcriber")

	resp, err := d.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("request download: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("unexpected HTTP status: %s", resp.Status)
	}

	file, err := os.OpenFile(tmpPath, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return "", fmt.Errorf("create temporary file: %w", err)
	}

	_, copyErr := io.Copy(file, resp.Body)
	closeErr := file.Close()
	if copyErr != nil {
		_ = os.Remove(tmpPath)
		return "", fmt.Errorf("write model file: %w", copyErr)
	}
	if closeErr != nil {
		_ = os.Remove(tmpPath)
		return "", fmt.Errorf("close model file: %w", closeErr)
	}

	if err := os.Rename(tmpPath, targetPath); err != nil {
		_ = os.Remove(tmpPath)
		return "", fmt.Errorf("move model into place: %w", err)
	}
	return targetPath, nil
}
