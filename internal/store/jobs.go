package store

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"audio-transcriber/internal/domain"
)

// JobStore is the durable job index. Every mutation is a guarded
// update keyed on the expected current status, so the status column
// doubles as the processing claim and concurrent writers for the
// same job id serialize on it.
type JobStore struct {
	db  *sql.DB
	now func() time.Time
}

const jobsSchema = `create table if not exists jobs(
	id text primary key,
	status text not null,
	source_path text not null,
	canonical_path text not null default '',
	transcript text not null default '',
	error text not null default '',
	attempts integer not null default 0,
	created_at datetime not null,
	updated_at datetime not null
);
create index if not exists idx_jobs_status on jobs(status);`

// OpenJobStore opens (or creates) the sqlite index at path.
func OpenJobStore(path string) (*JobStore, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open job index: %w", err)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping job index: %w", err)
	}
	if _, err := db.Exec(jobsSchema); err != nil {
		return nil, fmt.Errorf("init job index schema: %w", err)
	}
	return &JobStore{db: db, now: time.Now}, nil
}

// Close releases the underlying database handle.
func (s *JobStore) Close() error {
	return s.db.Close()
}

// Create inserts a new pending job for a stored audio blob.
func (s *JobStore) Create(sourceRef string) (domain.Job, error) {
	now := s.now().UTC()
	job := domain.Job{
		ID:         uuid.NewString(),
		Status:     domain.JobStatusPending,
		SourcePath: sourceRef,
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	_, err := s.db.Exec(
		`insert into jobs (id, status, source_path, created_at, updated_at) values (?,?,?,?,?)`,
		job.ID, job.Status, job.SourcePath, job.CreatedAt, job.UpdatedAt,
	)
	if err != nil {
		return domain.Job{}, fmt.Errorf("create job: %w", err)
	}
	return job, nil
}

// Get returns one job by id or domain.ErrNotFound.
func (s *JobStore) Get(id string) (domain.Job, error) {
	row := s.db.QueryRow(
		`select id, status, source_path, canonical_path, transcript, error, attempts, created_at, updated_at
		 from jobs where id = ?`, id)

	job, err := scanJob(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Job{}, fmt.Errorf("job %s: %w", id, domain.ErrNotFound)
		}
		return domain.Job{}, fmt.Errorf("get job %s: %w", id, err)
	}
	return job, nil
}

// Claim performs a compare-and-update status transition. It reports
// false when the job is no longer in the expected status, which makes
// duplicate scheduling triggers a no-op.
func (s *JobStore) Claim(id string, from, to domain.JobStatus) (bool, error) {
	if !domain.ValidTransition(from, to) {
		return false, fmt.Errorf("invalid transition: %s -> %s", from, to)
	}

	res, err := s.db.Exec(
		`update jobs set status = ?, updated_at = ? where id = ? and status = ?`,
		to, s.now().UTC(), id, from,
	)
	if err != nil {
		return false, fmt.Errorf("claim job %s: %w", id, err)
	}
	return affectedOne(res)
}

// MarkTranscoded records the canonical audio path and advances the
// job from transcoding to transcribing.
func (s *JobStore) MarkTranscoded(id, canonicalPath string) (bool, error) {
	res, err := s.db.Exec(
		`update jobs set status = ?, canonical_path = ?, updated_at = ? where id = ? and status = ?`,
		domain.JobStatusTranscribing, canonicalPath, s.now().UTC(), id, domain.JobStatusTranscoding,
	)
	if err != nil {
		return false, fmt.Errorf("mark job %s transcoded: %w", id, err)
	}
	return affectedOne(res)
}

// MarkDone records the transcript and moves the job to its terminal
// done state. The guard keeps transcript and error mutually exclusive.
func (s *JobStore) MarkDone(id, transcript string) (bool, error) {
	res, err := s.db.Exec(
		`update jobs set status = ?, transcript = ?, error = '', updated_at = ? where id = ? and status = ?`,
		domain.JobStatusDone, transcript, s.now().UTC(), id, domain.JobStatusTranscribing,
	)
	if err != nil {
		return false, fmt.Errorf("mark job %s done: %w", id, err)
	}
	return affectedOne(res)
}

// MarkFailed records the failure reason from either active stage.
func (s *JobStore) MarkFailed(id, reason string) (bool, error) {
	res, err := s.db.Exec(
		`update jobs set status = ?, error = ?, transcript = '', updated_at = ?
		 where id = ? and status in (?, ?)`,
		domain.JobStatusFailed, reason, s.now().UTC(), id,
		domain.JobStatusTranscoding, domain.JobStatusTranscribing,
	)
	if err != nil {
		return false, fmt.Errorf("mark job %s failed: %w", id, err)
	}
	return affectedOne(res)
}

// IncrementAttempts bumps the persisted retry counter for a job.
func (s *JobStore) IncrementAttempts(id string) error {
	_, err := s.db.Exec(
		`update jobs set attempts = attempts + 1, updated_at = ? where id = ?`,
		s.now().UTC(), id,
	)
	if err != nil {
		return fmt.Errorf("increment attempts for job %s: %w", id, err)
	}
	return nil
}

// ListByStatus returns jobs in a given status, oldest first.
func (s *JobStore) ListByStatus(status domain.JobStatus) ([]domain.Job, error) {
	rows, err := s.db.Query(
		`select id, status, source_path, canonical_path, transcript, error, attempts, created_at, updated_at
		 from jobs where status = ? order by created_at asc`, status)
	if err != nil {
		return nil, fmt.Errorf("list jobs by status %s: %w", status, err)
	}
	defer rows.Close()

	var jobs []domain.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan job row: %w", err)
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

// RecoverStale releases jobs stuck in an active stage back to pending
// and returns them. Only meaningful at startup, before any worker has
// claimed work, when an active status with no live worker means the
// previous process died mid-pipeline.
func (s *JobStore) RecoverStale() ([]domain.Job, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return nil, fmt.Errorf("recover stale jobs: %w", err)
	}
	defer tx.Rollback()

	rows, err := tx.Query(
		`select id, status, source_path, canonical_path, transcript, error, attempts, created_at, updated_at
		 from jobs where status in (?, ?) order by created_at asc`,
		domain.JobStatusTranscoding, domain.JobStatusTranscribing)
	if err != nil {
		return nil, fmt.Errorf("list stale jobs: %w", err)
	}

	var stale []domain.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan stale job: %w", err)
		}
		stale = append(stale, job)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()

	now := s.now().UTC()
	for i, job := range stale {
		if _, err := tx.Exec(
			`update jobs set status = ?, updated_at = ? where id = ?`,
			domain.JobStatusPending, now, job.ID,
		); err != nil {
			return nil, fmt.Errorf("release stale job %s: %w", job.ID, err)
		}
		stale[i].Status = domain.JobStatusPending
		stale[i].UpdatedAt = now
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("recover stale jobs: %w", err)
	}
	return stale, nil
}

// rowScanner covers *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

// scanJob reads one job row in column order.
func scanJob(r rowScanner) (domain.Job, error) {
	var job domain.Job
	err := r.Scan(
		&job.ID,
		&job.Status,
		&job.SourcePath,
		&job.CanonicalPath,
		&job.Transcript,
		&job.Error,
		&job.Attempts,
		&job.CreatedAt,
		&job.UpdatedAt,
	)
	return job, err
}

// affectedOne reports whether a guarded update matched its row.
func affectedOne(res sql.Result) (bool, error) {
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}
