package watch

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"audio-transcriber/internal/domain"
)

// Submitter accepts raw audio for processing.
type Submitter interface {
	Submit(data []byte) (domain.Job, error)
}

// Inbox watches a drop directory and submits files placed there as
// transcription jobs. Ingested files are removed from the inbox.
type Inbox struct {
	dir       string
	submitter Submitter
	logger    *slog.Logger
	settle    time.Duration

	mu       sync.Mutex
	inflight map[string]struct{}
}

// NewInbox creates an inbox watcher for dir.
func NewInbox(dir string, submitter Submitter, logger *slog.Logger) *Inbox {
	if logger == nil {
		logger = slog.Default()
	}
	return &Inbox{
		dir:       dir,
		submitter: submitter,
		logger:    logger,
		settle:    500 * time.Millisecond,
		inflight:  make(map[string]struct{}),
	}
}

// Run watches the inbox until ctx is cancelled. Files already present
// at startup are ingested first.
func (i *Inbox) Run(ctx context.Context) error {
	if err := os.MkdirAll(i.dir, 0o755); err != nil {
		return fmt.Errorf("create inbox directory: %w", err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create inbox watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(i.dir); err != nil {
		return fmt.Errorf("watch inbox directory: %w", err)
	}

	i.sweepExisting()

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if event.Op.Has(fsnotify.Create) || event.Op.Has(fsnotify.Write) {
				i.schedule(event.Name)
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			i.logger.Error("inbox watcher error", "error", err)
		}
	}
}

// sweepExisting ingests files left in the inbox from a previous run.
func (i *Inbox) sweepExisting() {
	entries, err := os.ReadDir(i.dir)
	if err != nil {
		i.logger.Error("inbox sweep failed", "error", err)
		return
	}
	for _, entry := range entries {
		if !entry.IsDir() {
			i.schedule(filepath.Join(i.dir, entry.Name()))
		}
	}
}

// schedule starts ingestion of one path unless it is already pending.
func (i *Inbox) schedule(path string) {
	base := filepath.Base(path)
	if strings.HasPrefix(base, ".") {
		return
	}

	i.mu.Lock()
	if _, busy := i.inflight[path]; busy {
		i.mu.Unlock()
		return
	}
	i.inflight[path] = struct{}{}
	i.mu.Unlock()

	go func() {
		defer func() {
			i.mu.Lock()
			delete(i.inflight, path)
			i.mu.Unlock()
		}()
		i.ingestWhenStable(path)
	}()
}

// ingestWhenStable waits for the file size to stop changing, then
// submits the content and removes the file.
func (i *Inbox) ingestWhenStable(path string) {
	var lastSize int64 = -1
	deadline := time.Now().Add(30 * time.Second)
	for time.Now().Before(deadline) {
		info, err := os.Stat(path)
		if err != nil {
			return // removed or unreadable, nothing to ingest
		}
		if info.IsDir() {
			return
		}
		if info.Size() == lastSize {
			break
		}
		lastSize = info.Size()
		time.Sleep(i.settle)
	}

	if err := i.ingest(path); err != nil {
		i.logger.Error("inbox ingest failed", "path", path, "error", err)
	}
}

// ingest submits one file's bytes and removes the file on success.
func (i *Inbox) ingest(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read inbox file: %w", err)
	}
	if len(data) == 0 {
		return fmt.Errorf("inbox file is empty: %s", path)
	}

	job, err := i.submitter.Submit(data)
	if err != nil {
		return fmt.Errorf("submit inbox file: %w", err)
	}
	i.logger.Info("inbox file ingested", "path", path, "job", job.ID)

	if err := os.Remove(path); err != nil {
		return fmt.Errorf("remove ingested file: %w", err)
	}
	return nil
}
