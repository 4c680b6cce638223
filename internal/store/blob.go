package store

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"audio-transcriber/internal/domain"
)

// ErrTranscriptExists is returned when a second transcript write is
// attempted for the same job. Transcript files are write-once.
var ErrTranscriptExists = errors.New("transcript already exists")

// BlobStore persists audio blobs and transcript text on the local
// filesystem under the two data directories.
type BlobStore struct {
	audioDir      string
	transcriptDir string
}

// NewBlobStore creates both data directories and returns the store.
func NewBlobStore(audioDir, transcriptDir string) (*BlobStore, error) {
	for _, dir := range []string{audioDir, transcriptDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create data directory %s: %w", dir, err)
		}
	}
	return &BlobStore{audioDir: audioDir, transcriptDir: transcriptDir}, nil
}

// PutAudio stores raw audio bytes and returns an opaque blob reference.
// The write is synced to disk before the reference is returned.
func (s *BlobStore) PutAudio(data []byte) (string, error) {
	ref := uuid.NewString()
	if err := writeDurable(filepath.Join(s.audioDir, ref), data, false); err != nil {
		return "", fmt.Errorf("store audio blob: %w", err)
	}
	return ref, nil
}

// AudioPath resolves a blob reference to its on-disk location.
func (s *BlobStore) AudioPath(ref string) string {
	return filepath.Join(s.audioDir, filepath.Base(ref))
}

// CanonicalPath is the location of the normalized audio for a source blob.
func (s *BlobStore) CanonicalPath(ref string) string {
	return filepath.Join(s.audioDir, filepath.Base(ref)+".16k.wav")
}

// ReadBlob returns stored bytes for a reference or domain.ErrNotFound.
func (s *BlobStore) ReadBlob(ref string) ([]byte, error) {
	data, err := os.ReadFile(s.AudioPath(ref))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("blob %s: %w", ref, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("read blob %s: %w", ref, err)
	}
	return data, nil
}

// PutTranscript stores transcript text for a job, rejecting overwrites.
func (s *BlobStore) PutTranscript(jobID, text string) error {
	path := s.transcriptPath(jobID)
	if err := writeDurable(path, []byte(text), true); err != nil {
		if errors.Is(err, os.ErrExist) {
			return fmt.Errorf("transcript for job %s: %w", jobID, ErrTranscriptExists)
		}
		return fmt.Errorf("store transcript for job %s: %w", jobID, err)
	}
	return nil
}

// ReadTranscript returns stored transcript text or domain.ErrNotFound.
func (s *BlobStore) ReadTranscript(jobID string) (string, error) {
	data, err := os.ReadFile(s.transcriptPath(jobID))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", fmt.Errorf("transcript for job %s: %w", jobID, domain.ErrNotFound)
		}
		return "", fmt.Errorf("read transcript for job %s: %w", jobID, err)
	}
	return strings.TrimRight(string(data), "\n"), nil
}

// transcriptPath keys transcript files by job id.
func (s *BlobStore) transcriptPath(jobID string) string {
	return filepath.Join(s.transcriptDir, filepath.Base(jobID)+".txt")
}

// writeDurable writes a file and fsyncs it before returning. With
// exclusive set, an existing file fails the write with os.ErrExist.
func writeDurable(path string, data []byte, exclusive bool) error {
	flags := os.O_WRONLY | os.O_CREATE | os.O_TRUNC
	if exclusive {
		flags = os.O_WRONLY | os.O_CREATE | os.O_EXCL
	}

	f, err := os.OpenFile(path, flags, 0o644)
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}
