package diagnostics

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"audio-transcriber/internal/config"
	"audio-transcriber/internal/domain"
)

// Checker validates external tools and required filesystem paths.
type Checker struct {
	lookPath   func(string) (string, error)
	stat       func(string) (os.FileInfo, error)
	readDir    func(string) ([]os.DirEntry, error)
	mkdirAll   func(string, os.FileMode) error
	createTemp func(string, string) (*os.File, error)
	remove     func(string) error
	openDB     func(string) error
}

// NewChecker builds a checker using real OS dependencies.
func NewChecker() *Checker {
	return &Checker{
		lookPath:   exec.LookPath,
		stat:       os.Stat,
		readDir:    os.ReadDir,
		mkdirAll:   os.MkdirAll,
		createTemp: os.CreateTemp,
		remove:     os.Remove,
		openDB:     pingSQLite,
	}
}

// pingSQLite opens the job index and verifies it answers.
func pingSQLite(path string) error {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return err
	}
	defer db.Close()
	return db.Ping()
}

// Run executes all startup checks and returns a combined report.
func (c *Checker) Run(cfg config.Config) domain.DiagnosticReport {
	items := []domain.DiagnosticItem{
		c.checkTool(cfg.FFmpegPath),
	}

	if cfg.Engine == config.EngineRemote {
		items = append(items, c.checkRemote(cfg.RemoteURL))
	} else {
		items = append(items,
			c.checkTool(cfg.WhisperPath),
			c.checkModelPath(cfg.ModelPath),
		)
	}

	items = append(items,
		c.checkWritableDir("data_dir", "Data directory", cfg.DataDir),
		c.checkWritableDir("audio_dir", "Audio directory", cfg.AudioDir()),
		c.checkWritableDir("transcript_dir", "Transcript directory", cfg.TranscriptDir()),
		c.checkDatabase(cfg.DatabasePath()),
	)

	hasFailures := false
	for _, item := range items {
		if item.Status == domain.DiagnosticStatusFail {
			hasFailures = true
			break
		}
	}

	return domain.DiagnosticReport{
		GeneratedAt: time.Now().UTC(),
		HasFailures: hasFailures,
		Items:       items,
	}
}

// checkTool verifies a required CLI executable is reachable. Configured
// paths that contain a separator are checked directly instead of via PATH.
func (c *Checker) checkTool(binPath string) domain.DiagnosticItem {
	name := filepath.Base(binPath)
	item := domain.DiagnosticItem{
		ID:   "tool_" + name,
		Name: name,
	}

	if strings.ContainsRune(binPath, os.PathSeparator) {
		if _, err := c.stat(binPath); err != nil {
			item.Status = domain.DiagnosticStatusFail
			item.Message = fmt.Sprintf("Tool not found: %s", binPath)
			item.Hint = "Install it or fix the configured binary path."
			return item
		}
		item.Status = domain.DiagnosticStatusPass
		item.Message = fmt.Sprintf("Found at %s", binPath)
		return item
	}

	path, err := c.lookPath(binPath)
	if err != nil {
		item.Status = domain.DiagnosticStatusFail
		item.Message = fmt.Sprintf("Tool not found in PATH: %s", binPath)
		item.Hint = "Install it and ensure the binary is available on PATH before starting the service."
		return item
	}

	item.Status = domain.DiagnosticStatusPass
	item.Message = fmt.Sprintf("Found at %s", path)
	return item
}

// checkRemote validates the remote engine endpoint configuration.
func (c *Checker) checkRemote(remoteURL string) domain.DiagnosticItem {
	item := domain.DiagnosticItem{
		ID:   "remote_url",
		Name: "Remote engine",
	}

	if strings.TrimSpace(remoteURL) == "" {
		item.Status = domain.DiagnosticStatusFail
		item.Message = "Remote engine URL is empty."
		item.Hint = "Set TRANSCRIBER_REMOTE_URL to the transcription server base URL."
		return item
	}

	item.Status = domain.DiagnosticStatusPass
	item.Message = fmt.Sprintf("Remote endpoint configured: %s", remoteURL)
	return item
}

// checkModelPath validates configured model file or model directory.
func (c *Checker) checkModelPath(modelPath string) domain.DiagnosticItem {
	item := domain.DiagnosticItem{
		ID:   "model_path",
		Name: "Model path",
	}

	if strings.TrimSpace(modelPath) == "" {
		item.Status = domain.DiagnosticStatusFail
		item.Message = "Model path is empty."
		item.Hint = "Set a valid model file path or a directory containing whisper models."
		return item
	}

	info, err := c.stat(modelPath)
	if err != nil {
		item.Status = domain.DiagnosticStatusFail
		if errors.Is(err, os.ErrNotExist) {
			item.Message = fmt.Sprintf("Model path does not exist: %s", modelPath)
		} else {
			item.Message = fmt.Sprintf("Cannot access model path: %s", modelPath)
		}
		item.Hint = "Download a whisper.cpp model with the fetch-model command or configure TRANSCRIBER_MODEL_PATH."
		return item
	}

	if !info.IsDir() {
		item.Status = domain.DiagnosticStatusPass
		item.Message = fmt.Sprintf("Model file found: %s", modelPath)
		return item
	}

	entries, err := c.readDir(modelPath)
	if err != nil {
		item.Status = domain.DiagnosticStatusFail
		item.Message = fmt.Sprintf("Cannot read model directory: %s", modelPath)
		item.Hint = "Check permissions for the model directory."
		return item
	}

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(entry.Name()))
		if ext == ".bin" || ext == ".gguf" {
			item.Status = domain.DiagnosticStatusPass
			item.Message = fmt.Sprintf("Model directory is valid: %s", modelPath)
			return item
		}
	}

	item.Status = domain.DiagnosticStatusFail
	item.Message = fmt.Sprintf("No model files found in directory: %s", modelPath)
	item.Hint = "Place a .bin or .gguf model file in this directory or point to a model file directly."
	return item
}

// checkWritableDir validates directory existence and write access.
func (c *Checker) checkWritableDir(id, name, dir string) domain.DiagnosticItem {
	item := domain.DiagnosticItem{
		ID:   id,
		Name: name,
	}

	if strings.TrimSpace(dir) == "" {
		item.Status = domain.DiagnosticStatusFail
		item.Message = name + " is empty."
		item.Hint = "Set a directory where job data can be written."
		return item
	}

	if err := c.mkdirAll(dir, 0o755); err != nil {
		item.Status = domain.DiagnosticStatusFail
		item.Message = fmt.Sprintf("Cannot create directory: %s", dir)
		item.Hint = "Choose a writable location or adjust filesystem permissions."
		return item
	}

	tmpFile, err := c.createTemp(dir, ".write-check-*")
	if err != nil {
		item.Status = domain.DiagnosticStatusFail
		item.Message = fmt.Sprintf("Directory is not writable: %s", dir)
		item.Hint = "Choose a writable directory."
		return item
	}

	tmpPath := tmpFile.Name()
	_ = tmpFile.Close()
	_ = c.remove(tmpPath)

	item.Status = domain.DiagnosticStatusPass
	item.Message = fmt.Sprintf("Writable directory: %s", dir)
	return item
}

// checkDatabase validates the job index can be opened.
func (c *Checker) checkDatabase(path string) domain.DiagnosticItem {
	item := domain.DiagnosticItem{
		ID:   "database",
		Name: "Job database",
	}

	if err := c.openDB(path); err != nil {
		item.Status = domain.DiagnosticStatusFail
		item.Message = fmt.Sprintf("Cannot open job database: %s", path)
		item.Hint = "Check that the data directory is writable and the file is not corrupted."
		return item
	}

	item.Status = domain.DiagnosticStatusPass
	item.Message = fmt.Sprintf("Database reachable: %s", path)
	return item
}

// NewCheckerForTests creates checker with injectable dependencies.
func NewCheckerForTests(
	lookPath func(string) (string, error),
	stat func(string) (os.FileInfo, error),
	readDir func(string) ([]os.DirEntry, error),
	mkdirAll func(string, os.FileMode) error,
	createTemp func(string, string) (*os.File, error),
	remove func(string) error,
	openDB func(string) error,
) *Checker {
	return &Checker{
		lookPath:   lookPath,
		stat:       stat,
		readDir:    readDir,
		mkdirAll:   mkdirAll,
		createTemp: createTemp,
		remove:     remove,
		openDB:     openDB,
	}
}
