package transcribe

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"
)

// Remote is an Engine backed by an HTTP Whisper API. One call is one
// attempt; the pipeline owns the retry loop.
type Remote struct {
	baseURL string
	token   string
	client  *http.Client
}

// NewRemote creates a remote engine client. The per-call context
// carries the deadline, so the underlying client has no timeout of
// its own.
func NewRemote(baseURL, token string) *Remote {
	return &Remote{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		client:  &http.Client{},
	}
}

// Name returns the engine identifier.
func (r *Remote) Name() string {
	return "remote"
}

// remoteResponse mirrors the JSON shape returned by the remote API.
type remoteResponse struct {
	Text     string `json:"text"`
	Segments []struct {
		Text string `json:"text"`
	} `json:"segments"`
}

// Transcribe uploads the audio as multipart form data and returns the
// transcript text. Server errors and network failures are retryable;
// client errors are not.
func (r *Remote) Transcribe(ctx context.Context, audioPath string, opts Options) (string, error) {
	f, err := os.Open(audioPath)
	if err != nil {
		return "", &Error{Engine: r.Name(), Message: "open canonical audio", Err: err}
	}
	defer f.Close()

	pr, pw := io.Pipe()
	writer := multipart.NewWriter(pw)

	errCh := make(chan error, 1)
	go func() {
		defer pw.Close()

		part, err := writer.CreateFormFile("file", filepath.Base(audioPath))
		if err != nil {
			errCh <- fmt.Errorf("create form file: %w", err)
			return
		}
		if _, err := io.Copy(part, f); err != nil {
			errCh <- fmt.Errorf("copy audio data: %w", err)
			return
		}
		_ = writer.WriteField("language", normalizeLanguage(opts.Language))

		errCh <- writer.Close()
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.baseURL+"/v1/transcribe", pr)
	if err != nil {
		return "", &Error{Engine: r.Name(), Message: "create request", Err: err}
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	if r.token != "" {
		req.Header.Set("Authorization", "Bearer "+r.token)
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return "", &Error{
			Engine:    r.Name(),
			Message:   "http request failed",
			Retryable: true,
			Err:       err,
		}
	}
	defer resp.Body.Close()

	if writeErr := <-errCh; writeErr != nil {
		return "", &Error{Engine: r.Name(), Message: "multipart write", Err: writeErr}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", &Error{
			Engine:    r.Name(),
			Message:   "read response body",
			Retryable: true,
			Err:       err,
		}
	}

	if resp.StatusCode >= 500 {
		return "", &Error{
			Engine:    r.Name(),
			Message:   fmt.Sprintf("server error %d", resp.StatusCode),
			Detail:    truncate(body, 200),
			Retryable: true,
			Err:       errors.New(http.StatusText(resp.StatusCode)),
		}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", &Error{
			Engine:  r.Name(),
			Message: fmt.Sprintf("http %d", resp.StatusCode),
			Detail:  truncate(body, 200),
			Err:     errors.New(http.StatusText(resp.StatusCode)),
		}
	}

	var parsed remoteResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", &Error{Engine: r.Name(), Message: "decode response", Err: err}
	}

	text := strings.TrimSpace(parsed.Text)
	if text == "" && len(parsed.Segments) > 0 {
		parts := make([]string, 0, len(parsed.Segments))
		for _, seg := range parsed.Segments {
			if s := strings.TrimSpace(seg.Text); s != "" {
				parts = append(parts, s)
			}
		}
		text = strings.Join(parts, " ")
	}
	return text, nil
}

// NewRemoteForTests creates a client with an injectable HTTP client.
func NewRemoteForTests(baseURL, token string, client *http.Client) *Remote {
	return &Remote{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		client:  client,
	}
}

// truncate returns the first n bytes of body as a string.
func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
