package api

import (
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"audio-transcriber/internal/domain"
)

// jobResponse is the status/result payload for one job.
type jobResponse struct {
	JobID      string           `json:"job_id"`
	Status     domain.JobStatus `json:"status"`
	Transcript string           `json:"transcript,omitempty"`
	Error      string           `json:"error,omitempty"`
	CreatedAt  time.Time        `json:"created_at"`
	UpdatedAt  time.Time        `json:"updated_at"`
}

// submitJob accepts raw audio bytes and returns the job id without
// waiting for processing.
func (s *Server) submitJob(c echo.Context) error {
	data, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "cannot read request body")
	}
	if len(data) == 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "empty audio payload")
	}

	job, err := s.pipeline.Submit(data)
	if err != nil {
		s.logger.Error("submit failed", "error", err)
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to store upload")
	}

	return c.JSON(http.StatusAccepted, map[string]string{"job_id": job.ID})
}

// getJob returns current status plus transcript or error once terminal.
func (s *Server) getJob(c echo.Context) error {
	job, err := s.jobs.Get(c.Param("id"))
	if err != nil {
		return mapStoreError(err)
	}

	return c.JSON(http.StatusOK, jobResponse{
		JobID:      job.ID,
		Status:     job.Status,
		Transcript: job.Transcript,
		Error:      job.Error,
		CreatedAt:  job.CreatedAt,
		UpdatedAt:  job.UpdatedAt,
	})
}

// getTranscript serves the transcript as plain text once the job is done.
func (s *Server) getTranscript(c echo.Context) error {
	job, err := s.jobs.Get(c.Param("id"))
	if err != nil {
		return mapStoreError(err)
	}
	if job.Status != domain.JobStatusDone {
		return echo.NewHTTPError(http.StatusNotFound, "transcript not ready")
	}

	text, err := s.blobs.ReadTranscript(job.ID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			// Job record is authoritative when the file is missing.
			return c.String(http.StatusOK, job.Transcript)
		}
		s.logger.Error("transcript read failed", "job", job.ID, "error", err)
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to read transcript")
	}
	return c.String(http.StatusOK, text)
}

// getAudio serves the stored source audio blob for a job.
func (s *Server) getAudio(c echo.Context) error {
	job, err := s.jobs.Get(c.Param("id"))
	if err != nil {
		return mapStoreError(err)
	}
	return c.Attachment(s.blobs.AudioPath(job.SourcePath), job.ID+".audio")
}

// health reports liveness.
func (s *Server) health(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "healthy"})
}

// mapStoreError translates storage errors to HTTP errors.
func mapStoreError(err error) error {
	if errors.Is(err, domain.ErrNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, "job not found")
	}
	return echo.NewHTTPError(http.StatusInternalServerError, "storage error")
}
