package transcribe

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"audio-transcriber/internal/command"
)

// WhisperCPP runs the whisper.cpp binary against canonical WAV input
// and collects the exported transcript text.
type WhisperCPP struct {
	binPath   string
	modelPath string
	runner    command.Runner
	mkdirTemp func(dir, pattern string) (string, error)
	removeAll func(path string) error
	stat      func(name string) (os.FileInfo, error)
	readDir   func(name string) ([]os.DirEntry, error)
	readFile  func(name string) ([]byte, error)
}

// NewWhisperCPP constructs the production engine with OS dependencies.
// modelPath may be a model file or a directory holding model files.
func NewWhisperCPP(binPath, modelPath string) *WhisperCPP {
	if binPath == "" {
		binPath = "whisper.cpp"
	}
	return &WhisperCPP{
		binPath:   binPath,
		modelPath: modelPath,
		runner:    command.ExecRunner{},
		mkdirTemp: os.MkdirTemp,
		removeAll: os.RemoveAll,
		stat:      os.Stat,
		readDir:   os.ReadDir,
		readFile:  os.ReadFile,
	}
}

// Name returns the engine identifier.
func (w *WhisperCPP) Name() string {
	return "whispercpp"
}

// Transcribe invokes whisper.cpp on the canonical audio and returns
// the transcript text. Artifacts are written to a temporary workspace
// removed before returning.
func (w *WhisperCPP) Transcribe(ctx context.Context, audioPath string, opts Options) (string, error) {
	modelPath, err := w.resolveModelPath()
	if err != nil {
		return "", &Error{Engine: w.Name(), Message: err.Error(), Err: err}
	}

	tempDir, err := w.mkdirTemp("", "whisper-out-*")
	if err != nil {
		return "", &Error{
			Engine:    w.Name(),
			Message:   "failed to create temporary workspace",
			Retryable: true,
			Err:       err,
		}
	}
	defer func() { _ = w.removeAll(tempDir) }()

	textBase := filepath.Join(tempDir, "transcript")
	args := buildWhisperArgs(modelPath, audioPath, textBase, opts.Language)

	result, runErr := w.runner.Run(ctx, w.binPath, args...)
	if runErr != nil {
		if errors.Is(runErr, context.DeadlineExceeded) {
			return "", &Error{
				Engine:    w.Name(),
				Message:   "whisper.cpp timed out",
				Detail:    tail(result.Stderr),
				Retryable: true,
				Err:       runErr,
			}
		}
		return "", &Error{
			Engine:  w.Name(),
			Message: fmt.Sprintf("whisper.cpp failed (exit=%d)", result.ExitCode),
			Detail:  tail(result.Stderr),
			Err:     runErr,
		}
	}

	content, err := w.readFile(textBase + ".txt")
	if err != nil {
		return "", &Error{
			Engine:  w.Name(),
			Message: "whisper.cpp completed but transcript .txt file is missing",
			Detail:  tail(result.Stderr),
			Err:     err,
		}
	}

	return strings.TrimSpace(string(content)), nil
}

// resolveModelPath returns the model file path from file or directory input.
func (w *WhisperCPP) resolveModelPath() (string, error) {
	modelPath := strings.TrimSpace(w.modelPath)
	if modelPath == "" {
		return "", fmt.Errorf("model path is required")
	}

	info, err := w.stat(modelPath)
	if err != nil {
		return "", fmt.Errorf("cannot access model path: %s", modelPath)
	}
	if !info.IsDir() {
		return modelPath, nil
	}

	entries, err := w.readDir(modelPath)
	if err != nil {
		return "", fmt.Errorf("cannot read model directory: %s", modelPath)
	}

	modelNames := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}

		ext := strings.ToLower(filepath.Ext(entry.Name()))
		if ext == ".bin" || ext == ".gguf" {
			modelNames = append(modelNames, entry.Name())
		}
	}
	if len(modelNames) == 0 {
		return "", fmt.Errorf("no .bin or .gguf model files found in: %s", modelPath)
	}

	sort.Strings(modelNames)
	return filepath.Join(modelPath, modelNames[0]), nil
}

// NewWhisperCPPForTests constructs an engine with injectable dependencies.
func NewWhisperCPPForTests(
	binPath string,
	modelPath string,
	runner command.Runner,
	mkdirTemp func(dir, pattern string) (string, error),
	removeAll func(path string) error,
	stat func(name string) (os.FileInfo, error),
) *WhisperCPP {
	return &WhisperCPP{
		binPath:   binPath,
		modelPath: modelPath,
		runner:    runner,
		mkdirTemp: mkdirTemp,
		removeAll: removeAll,
		stat:      stat,
		readDir:   os.ReadDir,
		readFile:  os.ReadFile,
	}
}

// buildWhisperArgs builds whisper.cpp args for txt transcript export.
func buildWhisperArgs(modelPath, audioPath, textBase, language string) []string {
	args := []string{
		"-m", modelPath,
		"-f", audioPath,
		"-of", textBase,
		"-otxt",
	}

	if lang := normalizeLanguage(language); lang != "" {
		args = append(args, "-l", lang)
	}

	return args
}

// tail trims engine stderr down to the last few lines for error detail.
func tail(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}
	lines := strings.Split(s, "\n")
	if len(lines) > 5 {
		lines = lines[len(lines)-5:]
	}
	return strings.Join(lines, "\n")
}
