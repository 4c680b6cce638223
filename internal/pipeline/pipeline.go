package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"audio-transcriber/internal/domain"
	"audio-transcriber/internal/events"
	"audio-transcriber/internal/store"
	"audio-transcriber/internal/transcode"
	"audio-transcriber/internal/transcribe"
)

// Transcoder isolates the audio normalization adapter.
type Transcoder interface {
	Normalize(ctx context.Context, sourcePath, outPath string) error
}

// Settings tunes worker pool, retry, and timeout behavior.
type Settings struct {
	Workers      int
	StageTimeout time.Duration
	MaxAttempts  int
	BackoffBase  time.Duration
	PollInterval time.Duration
	Language     string
}

// Pipeline drives each job through transcoding, transcription, and
// persistence on a bounded worker pool. It is the sole writer of job
// status; claims go through the store's compare-and-update, so a job
// is advanced by at most one worker at a time.
type Pipeline struct {
	jobs       *store.JobStore
	blobs      *store.BlobStore
	transcoder Transcoder
	engine     transcribe.Engine
	bus        *events.Bus
	logger     *slog.Logger
	settings   Settings

	queue chan string
	wg    sync.WaitGroup
}

// New assembles a pipeline. Zero settings fields get safe defaults.
func New(
	jobs *store.JobStore,
	blobs *store.BlobStore,
	transcoder Transcoder,
	engine transcribe.Engine,
	bus *events.Bus,
	logger *slog.Logger,
	settings Settings,
) *Pipeline {
	if settings.Workers <= 0 {
		settings.Workers = 4
	}
	if settings.StageTimeout <= 0 {
		settings.StageTimeout = 5 * time.Minute
	}
	if settings.MaxAttempts <= 0 {
		settings.MaxAttempts = 3
	}
	if settings.BackoffBase <= 0 {
		settings.BackoffBase = time.Second
	}
	if settings.PollInterval <= 0 {
		settings.PollInterval = 5 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{
		jobs:       jobs,
		blobs:      blobs,
		transcoder: transcoder,
		engine:     engine,
		bus:        bus,
		logger:     logger,
		settings:   settings,
		queue:      make(chan string, 256),
	}
}

// Submit stores the raw audio, creates a pending job record, and
// schedules it. It returns as soon as the record is durable; the
// caller never waits for processing.
func (p *Pipeline) Submit(data []byte) (domain.Job, error) {
	if len(data) == 0 {
		return domain.Job{}, fmt.Errorf("empty audio payload")
	}

	ref, err := p.blobs.PutAudio(data)
	if err != nil {
		return domain.Job{}, err
	}

	job, err := p.jobs.Create(ref)
	if err != nil {
		return domain.Job{}, err
	}

	p.enqueue(job.ID)
	p.logger.Info("job submitted", "job", job.ID, "bytes", len(data))
	return job, nil
}

// Start recovers stale jobs, then launches the worker pool and the
// pending sweep. It returns immediately; ctx cancellation stops all
// goroutines and Wait blocks until they exit.
func (p *Pipeline) Start(ctx context.Context) error {
	stale, err := p.jobs.RecoverStale()
	if err != nil {
		return fmt.Errorf("recover stale jobs: %w", err)
	}
	for _, job := range stale {
		p.logger.Warn("recovered stale job", "job", job.ID)
		p.enqueue(job.ID)
	}

	pending, err := p.jobs.ListByStatus(domain.JobStatusPending)
	if err != nil {
		return fmt.Errorf("list pending jobs: %w", err)
	}
	for _, job := range pending {
		p.enqueue(job.ID)
	}

	for i := 0; i < p.settings.Workers; i++ {
		p.wg.Add(1)
		go p.worker(ctx, i)
	}
	p.wg.Add(1)
	go p.sweep(ctx)
	return nil
}

// Wait blocks until all workers have exited after ctx cancellation.
func (p *Pipeline) Wait() {
	p.wg.Wait()
}

// enqueue schedules a job id without blocking. A full queue is fine:
// the job stays pending in the store and the sweep re-offers it.
func (p *Pipeline) enqueue(id string) {
	select {
	case p.queue <- id:
	default:
	}
}

// worker pulls job ids and processes them one at a time.
func (p *Pipeline) worker(ctx context.Context, id int) {
	defer p.wg.Done()
	for {
		select {
		case <-ctx.Done():
			p.logger.Debug("worker shutting down", "worker", id)
			return
		case jobID := <-p.queue:
			p.process(ctx, jobID)
		}
	}
}

// sweep periodically re-offers pending jobs so nothing dropped from
// the wake-up queue is ever lost.
func (p *Pipeline) sweep(ctx context.Context) {
	defer p.wg.Done()
	ticker := time.NewTicker(p.settings.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			pending, err := p.jobs.ListByStatus(domain.JobStatusPending)
			if err != nil {
				p.logger.Error("pending sweep failed", "error", err)
				continue
			}
			for _, job := range pending {
				p.enqueue(job.ID)
			}
		}
	}
}

// process advances one job through both stages. The initial claim is
// a compare-and-update, so duplicate triggers for an in-flight or
// finished job are no-ops.
func (p *Pipeline) process(ctx context.Context, id string) {
	claimed, err := p.jobs.Claim(id, domain.JobStatusPending, domain.JobStatusTranscoding)
	if err != nil {
		p.logger.Error("claim failed", "job", id, "error", err)
		return
	}
	if !claimed {
		return
	}
	p.publishStatus(id, domain.JobStatusTranscoding)

	job, err := p.jobs.Get(id)
	if err != nil {
		p.fail(id, fmt.Errorf("load claimed job: %w", err))
		return
	}

	outPath := p.blobs.CanonicalPath(job.SourcePath)
	err = p.runStage(ctx, id, "transcoding", func(stageCtx context.Context) error {
		return p.transcoder.Normalize(stageCtx, p.blobs.AudioPath(job.SourcePath), outPath)
	})
	if err != nil {
		p.stageDone(ctx, id, err)
		return
	}

	ok, err := p.jobs.MarkTranscoded(id, outPath)
	if err != nil {
		p.fail(id, fmt.Errorf("record canonical audio: %w", err))
		return
	}
	if !ok {
		p.logger.Warn("lost claim after transcoding", "job", id)
		return
	}
	p.publishStatus(id, domain.JobStatusTranscribing)

	var text string
	err = p.runStage(ctx, id, "transcribing", func(stageCtx context.Context) error {
		out, err := p.engine.Transcribe(stageCtx, outPath, transcribe.Options{Language: p.settings.Language})
		if err != nil {
			return err
		}
		text = out
		return nil
	})
	if err != nil {
		p.stageDone(ctx, id, err)
		return
	}

	if err := p.blobs.PutTranscript(id, text); err != nil && !errors.Is(err, store.ErrTranscriptExists) {
		p.fail(id, fmt.Errorf("persist transcript: %w", err))
		return
	}

	ok, err = p.jobs.MarkDone(id, text)
	if err != nil {
		p.fail(id, fmt.Errorf("record transcript: %w", err))
		return
	}
	if !ok {
		p.logger.Warn("lost claim after transcribing", "job", id)
		return
	}

	p.publishStatus(id, domain.JobStatusDone)
	p.bus.Publish(events.Event{JobID: id, Type: events.TypeResult, Message: "transcription complete"})
	p.logger.Info("job done", "job", id, "chars", len(text))
}

// stageDone handles a stage error. A shutdown cancellation is not a
// job failure: the claim stays in place and the next startup recovery
// resets it to pending.
func (p *Pipeline) stageDone(ctx context.Context, id string, err error) {
	if ctx.Err() != nil {
		p.logger.Warn("stage interrupted by shutdown", "job", id)
		return
	}
	p.fail(id, err)
}

// fail records the terminal failure and publishes it.
func (p *Pipeline) fail(id string, cause error) {
	reason := cause.Error()
	ok, err := p.jobs.MarkFailed(id, reason)
	if err != nil {
		p.logger.Error("recording job failure failed", "job", id, "error", err)
	} else if !ok {
		p.logger.Warn("job no longer active while failing", "job", id)
	}

	p.publishStatus(id, domain.JobStatusFailed)
	p.bus.Publish(events.Event{JobID: id, Type: events.TypeError, Message: reason})
	p.logger.Error("job failed", "job", id, "reason", reason)
}

// runStage executes one stage with the bounded retry policy. Only
// retryable failures consume the retry budget; a non-retryable
// failure returns immediately.
func (p *Pipeline) runStage(ctx context.Context, id, stage string, fn func(context.Context) error) error {
	var lastErr error
	for attempt := 1; attempt <= p.settings.MaxAttempts; attempt++ {
		if attempt > 1 {
			p.bus.Publish(events.Event{
				JobID:   id,
				Type:    events.TypeRetry,
				Message: fmt.Sprintf("%s retry", stage),
				Attempt: attempt,
			})
			if err := sleepCtx(ctx, p.backoff(attempt-1)); err != nil {
				return err
			}
		}
		if err := p.jobs.IncrementAttempts(id); err != nil {
			p.logger.Warn("attempt counter update failed", "job", id, "error", err)
		}

		stageCtx, cancel := context.WithTimeout(ctx, p.settings.StageTimeout)
		err := fn(stageCtx)
		cancel()
		if err == nil {
			return nil
		}
		lastErr = err

		if !retryable(err) {
			return err
		}
		p.logger.Warn("stage attempt failed",
			"job", id, "stage", stage, "attempt", attempt, "error", err)
	}
	return fmt.Errorf("%s: %d attempts exhausted: %w", stage, p.settings.MaxAttempts, lastErr)
}

// retryable classifies adapter errors for the retry policy.
func retryable(err error) bool {
	var tcErr *transcode.Error
	if errors.As(err, &tcErr) {
		return tcErr.Retryable
	}
	var tsErr *transcribe.Error
	if errors.As(err, &tsErr) {
		return tsErr.Retryable
	}
	return errors.Is(err, context.DeadlineExceeded)
}

// backoff returns exponential delay: base * 2^(n-1) plus 0-25% jitter.
func (p *Pipeline) backoff(n int) time.Duration {
	delay := p.settings.BackoffBase
	for i := 1; i < n; i++ {
		delay *= 2
	}
	jitter := time.Duration(rand.Int63n(int64(delay/4) + 1))
	return delay + jitter
}

// sleepCtx sleeps for d unless ctx ends first.
func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// publishStatus emits a status transition event.
func (p *Pipeline) publishStatus(id string, status domain.JobStatus) {
	p.bus.Publish(events.Event{JobID: id, Type: events.TypeStatus, Status: status})
}
