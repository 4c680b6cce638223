package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"audio-transcriber/internal/domain"
	"audio-transcriber/internal/events"
	"audio-transcriber/internal/store"
	"audio-transcriber/internal/transcode"
	"audio-transcriber/internal/transcribe"
)

// fakeTranscoder counts invocations and delegates to injected behavior.
type fakeTranscoder struct {
	mu    sync.Mutex
	calls int
	fn    func(call int) error
}

// Normalize records the call and applies the scripted outcome.
func (f *fakeTranscoder) Normalize(ctx context.Context, sourcePath, outPath string) error {
	f.mu.Lock()
	f.calls++
	call := f.calls
	f.mu.Unlock()
	if f.fn == nil {
		return nil
	}
	return f.fn(call)
}

// Calls returns the number of Normalize invocations.
func (f *fakeTranscoder) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// fakeEngine counts invocations and delegates to injected behavior.
type fakeEngine struct {
	mu    sync.Mutex
	calls int
	fn    func(call int) (string, error)
}

// Name returns the fake engine identifier.
func (f *fakeEngine) Name() string { return "fake" }

// Transcribe records the call and applies the scripted outcome.
func (f *fakeEngine) Transcribe(ctx context.Context, audioPath string, opts transcribe.Options) (string, error) {
	f.mu.Lock()
	f.calls++
	call := f.calls
	f.mu.Unlock()
	if f.fn == nil {
		return "hello world", nil
	}
	return f.fn(call)
}

// Calls returns the number of Transcribe invocations.
func (f *fakeEngine) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// testHarness bundles a pipeline with its stores and fakes.
type testHarness struct {
	jobs       *store.JobStore
	blobs      *store.BlobStore
	transcoder *fakeTranscoder
	engine     *fakeEngine
	bus        *events.Bus
	pipeline   *Pipeline
}

// newHarness builds a pipeline over real stores in a temp directory.
func newHarness(t *testing.T, transcoder *fakeTranscoder, engine *fakeEngine) *testHarness {
	t.Helper()
	root := t.TempDir()

	jobs, err := store.OpenJobStore(filepath.Join(root, "jobs.db"))
	if err != nil {
		t.Fatalf("OpenJobStore() error = %v", err)
	}
	t.Cleanup(func() { _ = jobs.Close() })

	blobs, err := store.NewBlobStore(filepath.Join(root, "audio"), filepath.Join(root, "transcripts"))
	if err != nil {
		t.Fatalf("NewBlobStore() error = %v", err)
	}

	bus := events.NewBus(100)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	p := New(jobs, blobs, transcoder, engine, bus, logger, Settings{
		Workers:      2,
		StageTimeout: time.Second,
		MaxAttempts:  3,
		BackoffBase:  time.Millisecond,
		PollInterval: 20 * time.Millisecond,
		Language:     "auto",
	})

	return &testHarness{
		jobs:       jobs,
		blobs:      blobs,
		transcoder: transcoder,
		engine:     engine,
		bus:        bus,
		pipeline:   p,
	}
}

// start runs the pipeline and wires shutdown into test cleanup.
func (h *testHarness) start(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	if err := h.pipeline.Start(ctx); err != nil {
		cancel()
		t.Fatalf("Start() error = %v", err)
	}
	t.Cleanup(func() {
		cancel()
		h.pipeline.Wait()
	})
}

// waitTerminal polls until the job reaches a terminal state.
func (h *testHarness) waitTerminal(t *testing.T, id string) domain.Job {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		job, err := h.jobs.Get(id)
		if err != nil {
			t.Fatalf("Get() error = %v", err)
		}
		if job.Status.Terminal() {
			return job
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("job %s did not reach a terminal state", id)
	return domain.Job{}
}

// TestPipelineHappyPath drives one upload to done with a transcript.
func TestPipelineHappyPath(t *testing.T) {
	h := newHarness(t, &fakeTranscoder{}, &fakeEngine{})
	h.start(t)

	job, err := h.pipeline.Submit([]byte("RIFF wav bytes"))
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}

	// Submitted jobs are immediately retrievable.
	got, err := h.jobs.Get(job.ID)
	if err != nil {
		t.Fatalf("Get() right after submit error = %v", err)
	}
	if got.Status.Terminal() && got.Status != domain.JobStatusDone {
		t.Fatalf("unexpected early terminal status %s", got.Status)
	}

	final := h.waitTerminal(t, job.ID)
	if final.Status != domain.JobStatusDone {
		t.Fatalf("status = %s (error=%q), want done", final.Status, final.Error)
	}
	if final.Transcript != "hello world" {
		t.Fatalf("transcript = %q, want hello world", final.Transcript)
	}
	if final.Error != "" {
		t.Fatalf("error = %q, want empty", final.Error)
	}
	if final.CanonicalPath == "" {
		t.Fatal("expected canonical path recorded")
	}

	// Transcript file persisted write-once alongside the job record.
	text, err := h.blobs.ReadTranscript(job.ID)
	if err != nil {
		t.Fatalf("ReadTranscript() error = %v", err)
	}
	if text != "hello world" {
		t.Fatalf("stored transcript = %q", text)
	}
}

// TestPipelineEmptyPayloadRejected checks upload validation.
func TestPipelineEmptyPayloadRejected(t *testing.T) {
	h := newHarness(t, &fakeTranscoder{}, &fakeEngine{})
	if _, err := h.pipeline.Submit(nil); err == nil {
		t.Fatal("expected error for empty payload")
	}
}

// TestPipelineDuplicateTriggersRunOnce checks the at-most-one-worker
// invariant under concurrent scheduling of the same job id.
func TestPipelineDuplicateTriggersRunOnce(t *testing.T) {
	h := newHarness(t, &fakeTranscoder{}, &fakeEngine{})
	h.start(t)

	job, err := h.pipeline.Submit([]byte("audio"))
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	for i := 0; i < 10; i++ {
		h.pipeline.enqueue(job.ID)
	}

	final := h.waitTerminal(t, job.ID)
	if final.Status != domain.JobStatusDone {
		t.Fatalf("status = %s, want done", final.Status)
	}

	// Allow queued duplicates to drain before counting.
	time.Sleep(50 * time.Millisecond)
	if got := h.transcoder.Calls(); got != 1 {
		t.Fatalf("transcoder calls = %d, want 1", got)
	}
	if got := h.engine.Calls(); got != 1 {
		t.Fatalf("engine calls = %d, want 1", got)
	}
}

// TestPipelineNonRetryableFailureSkipsRetries checks corrupt-input
// handling: immediate terminal failure, no retry attempts.
func TestPipelineNonRetryableFailureSkipsRetries(t *testing.T) {
	transcoder := &fakeTranscoder{fn: func(call int) error {
		return &transcode.Error{Message: "ffmpeg audio conversion failed", Retryable: false}
	}}
	h := newHarness(t, transcoder, &fakeEngine{})
	h.start(t)

	job, err := h.pipeline.Submit([]byte("not audio at all"))
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}

	final := h.waitTerminal(t, job.ID)
	if final.Status != domain.JobStatusFailed {
		t.Fatalf("status = %s, want failed", final.Status)
	}
	if final.Error == "" {
		t.Fatal("expected descriptive error on failed job")
	}
	if final.Transcript != "" {
		t.Fatal("failed job must not carry a transcript")
	}
	if got := transcoder.Calls(); got != 1 {
		t.Fatalf("transcoder calls = %d, want 1 (no retries)", got)
	}
	if got := h.engine.Calls(); got != 0 {
		t.Fatalf("engine calls = %d, want 0", got)
	}
}

// TestPipelineRetryThenSucceed checks two retryable engine timeouts
// followed by success within the retry bound.
func TestPipelineRetryThenSucceed(t *testing.T) {
	engine := &fakeEngine{fn: func(call int) (string, error) {
		if call <= 2 {
			return "", &transcribe.Error{Engine: "fake", Message: "timed out", Retryable: true}
		}
		return "third time lucky", nil
	}}
	h := newHarness(t, &fakeTranscoder{}, engine)
	h.start(t)

	job, err := h.pipeline.Submit([]byte("audio"))
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}

	final := h.waitTerminal(t, job.ID)
	if final.Status != domain.JobStatusDone {
		t.Fatalf("status = %s (error=%q), want done", final.Status, final.Error)
	}
	if final.Transcript != "third time lucky" {
		t.Fatalf("transcript = %q", final.Transcript)
	}
	if got := engine.Calls(); got != 3 {
		t.Fatalf("engine calls = %d, want 3", got)
	}
}

// TestPipelineRetriesExhausted checks the bounded retry budget ends
// in a terminal failure carrying the last error.
func TestPipelineRetriesExhausted(t *testing.T) {
	engine := &fakeEngine{fn: func(call int) (string, error) {
		return "", &transcribe.Error{Engine: "fake", Message: "engine overloaded", Retryable: true}
	}}
	h := newHarness(t, &fakeTranscoder{}, engine)
	h.start(t)

	job, err := h.pipeline.Submit([]byte("audio"))
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}

	final := h.waitTerminal(t, job.ID)
	if final.Status != domain.JobStatusFailed {
		t.Fatalf("status = %s, want failed", final.Status)
	}
	if got := engine.Calls(); got != 3 {
		t.Fatalf("engine calls = %d, want 3", got)
	}
	if final.Error == "" {
		t.Fatal("expected exhaustion error recorded")
	}
}

// TestPipelineCrashResume checks a job stranded in an active stage is
// recovered and driven to done on the next start.
func TestPipelineCrashResume(t *testing.T) {
	h := newHarness(t, &fakeTranscoder{}, &fakeEngine{})

	// Simulate a previous process dying mid-transcode: claimed job,
	// no live worker.
	ref, err := h.blobs.PutAudio([]byte("audio"))
	if err != nil {
		t.Fatalf("PutAudio() error = %v", err)
	}
	job, err := h.jobs.Create(ref)
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if ok, err := h.jobs.Claim(job.ID, domain.JobStatusPending, domain.JobStatusTranscoding); err != nil || !ok {
		t.Fatalf("claim: ok=%v err=%v", ok, err)
	}

	h.start(t)

	final := h.waitTerminal(t, job.ID)
	if final.Status != domain.JobStatusDone {
		t.Fatalf("status = %s (error=%q), want done after recovery", final.Status, final.Error)
	}
	if final.Transcript == "" {
		t.Fatal("expected transcript after recovery")
	}
}

// TestPipelineTerminalExclusivity checks exactly one of transcript
// and error is set for every terminal job.
func TestPipelineTerminalExclusivity(t *testing.T) {
	transcoder := &fakeTranscoder{fn: func(call int) error {
		if call%2 == 0 {
			return &transcode.Error{Message: "bad input"}
		}
		return nil
	}}
	h := newHarness(t, transcoder, &fakeEngine{})
	h.start(t)

	ids := make([]string, 0, 6)
	for i := 0; i < 6; i++ {
		job, err := h.pipeline.Submit([]byte(fmt.Sprintf("audio-%d", i)))
		if err != nil {
			t.Fatalf("Submit() error = %v", err)
		}
		ids = append(ids, job.ID)
	}

	for _, id := range ids {
		final := h.waitTerminal(t, id)
		hasTranscript := final.Transcript != ""
		hasError := final.Error != ""
		if hasTranscript == hasError {
			t.Fatalf("job %s: transcript=%v error=%v, want exactly one", id, hasTranscript, hasError)
		}
	}
}

// TestPipelineStatusEventsOrdered checks the event feed mirrors the
// forward-only status path.
func TestPipelineStatusEventsOrdered(t *testing.T) {
	h := newHarness(t, &fakeTranscoder{}, &fakeEngine{})
	h.start(t)

	job, err := h.pipeline.Submit([]byte("audio"))
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	h.waitTerminal(t, job.ID)

	var statuses []domain.JobStatus
	for _, ev := range h.bus.SinceJob(job.ID, 0) {
		if ev.Type == events.TypeStatus {
			statuses = append(statuses, ev.Status)
		}
	}

	want := []domain.JobStatus{domain.JobStatusTranscoding, domain.JobStatusTranscribing, domain.JobStatusDone}
	if len(statuses) != len(want) {
		t.Fatalf("status events = %v, want %v", statuses, want)
	}
	for i := range want {
		if statuses[i] != want[i] {
			t.Fatalf("status events = %v, want %v", statuses, want)
		}
	}
}

// TestRetryableClassification checks adapter error classification.
func TestRetryableClassification(t *testing.T) {
	if retryable(errors.New("plain")) {
		t.Fatal("plain errors should not be retryable")
	}
	if !retryable(&transcode.Error{Retryable: true}) {
		t.Fatal("retryable transcode error misclassified")
	}
	if retryable(&transcode.Error{}) {
		t.Fatal("non-retryable transcode error misclassified")
	}
	if !retryable(&transcribe.Error{Retryable: true}) {
		t.Fatal("retryable transcribe error misclassified")
	}
	if !retryable(fmt.Errorf("wrap: %w", context.DeadlineExceeded)) {
		t.Fatal("deadline errors should be retryable")
	}
}

// TestBackoffGrows checks the exponential delay shape.
func TestBackoffGrows(t *testing.T) {
	p := New(nil, nil, nil, nil, events.NewBus(1), slog.New(slog.NewTextHandler(io.Discard, nil)), Settings{
		BackoffBase: 100 * time.Millisecond,
	})

	first := p.backoff(1)
	if first < 100*time.Millisecond || first > 125*time.Millisecond {
		t.Fatalf("backoff(1) = %s, want 100ms plus up to 25%% jitter", first)
	}
	third := p.backoff(3)
	if third < 400*time.Millisecond || third > 500*time.Millisecond {
		t.Fatalf("backoff(3) = %s, want 400ms plus up to 25%% jitter", third)
	}
}
