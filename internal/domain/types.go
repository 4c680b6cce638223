package domain

import (
	"errors"
	"time"
)

// ErrNotFound is returned for lookups of unknown jobs or blobs.
var ErrNotFound = errors.New("not found")

// JobStatus tracks each pipeline stage for a single transcription job.
type JobStatus string

const (
	JobStatusPending      JobStatus = "pending"
	JobStatusTranscoding  JobStatus = "transcoding"
	JobStatusTranscribing JobStatus = "transcribing"
	JobStatusDone         JobStatus = "done"
	JobStatusFailed       JobStatus = "failed"
)

// Job stores one submitted audio file's end-to-end processing record.
type Job struct {
	ID            string    `json:"id"`
	Status        JobStatus `json:"status"`
	SourcePath    string    `json:"sourcePath"`
	CanonicalPath string    `json:"canonicalPath,omitempty"`
	Transcript    string    `json:"transcript,omitempty"`
	Error         string    `json:"error,omitempty"`
	Attempts      int       `json:"attempts"`
	CreatedAt     time.Time `json:"createdAt"`
	UpdatedAt     time.Time `json:"updatedAt"`
}

// Terminal reports whether no further transitions can occur.
func (s JobStatus) Terminal() bool {
	return s == JobStatusDone || s == JobStatusFailed
}

// Active reports whether the status represents a claimed in-flight stage.
func (s JobStatus) Active() bool {
	return s == JobStatusTranscoding || s == JobStatusTranscribing
}

// ValidTransition enforces the allowed job state machine edges.
// The pending edges out of active stages exist only for crash
// recovery, which releases a stale claim back to the queue.
func ValidTransition(from, to JobStatus) bool {
	switch from {
	case JobStatusPending:
		return to == JobStatusTranscoding
	case JobStatusTranscoding:
		return to == JobStatusTranscribing || to == JobStatusFailed || to == JobStatusPending
	case JobStatusTranscribing:
		return to == JobStatusDone || to == JobStatusFailed || to == JobStatusPending
	default:
		return false
	}
}
