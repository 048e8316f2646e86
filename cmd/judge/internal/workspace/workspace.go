package workspace

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	"github.com/sistem/judge/internal/logger"
)

const (
	submissionsBin = "submissions_bin"
	checkersBin    = "checkers_bin"
)

// Where judging keeps executables and scratch files
type Layout struct {
	StorageDir string
	TempDir    string
	// Preferred location for sources the candidate may read at runtime. Ignored when missing.
	SandboxDir string
}

// Creates the executable directories
func (l Layout) Prepare() error {
	for _, dir := range []string{
		filepath.Join(l.StorageDir, submissionsBin),
		filepath.Join(l.StorageDir, checkersBin),
		l.TempDir,
	} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("error creating %s: %w", dir, err)
		}
	}

	return nil
}

func (l Layout) SubmissionExecutable(id uuid.UUID) string {
	return filepath.Join(l.StorageDir, submissionsBin, id.String())
}

func (l Layout) CheckerExecutable(id uuid.UUID) string {
	return filepath.Join(l.StorageDir, checkersBin, id.String())
}

// Submissions of interpreted languages are executed from their source, so it lives inside the
// sandbox when there is one
func (l Layout) SubmissionSource(id uuid.UUID, lang string) string {
	dir := l.TempDir
	if l.RunDir() != "" {
		dir = l.SandboxDir
	}

	return filepath.Join(dir, fmt.Sprintf("judge_submission_%s.%s", id, lang))
}

func (l Layout) CheckerSource(id uuid.UUID, lang string) string {
	return filepath.Join(l.TempDir, fmt.Sprintf("judge_checker_%s.%s", id, lang))
}

// Source of an interpreted checker while it judges one submission
func (l Layout) CheckerRunSource(checkerID, submissionID uuid.UUID, lang string) string {
	return filepath.Join(l.TempDir, fmt.Sprintf("judge_checker_%s_%s.%s", checkerID, submissionID, lang))
}

type CheckerFiles struct {
	Input   string
	Output  string
	Pattern string
}

func (l Layout) CheckerFiles(submissionID, testID uuid.UUID) CheckerFiles {
	suffix := submissionID.String() + "_" + testID.String()
	return CheckerFiles{
		Input:   filepath.Join(l.TempDir, "judge_checker_input_"+suffix),
		Output:  filepath.Join(l.TempDir, "judge_checker_output_"+suffix),
		Pattern: filepath.Join(l.TempDir, "judge_checker_pattern_"+suffix),
	}
}

// Working directory for sandboxed runs, empty when the sandbox directory does not exist
func (l Layout) RunDir() string {
	if l.SandboxDir == "" {
		return ""
	}

	stat, err := os.Stat(l.SandboxDir)
	if err != nil || !stat.IsDir() {
		return ""
	}

	return l.SandboxDir
}

// Best effort removal, failures are only logged
func Remove(ctx context.Context, paths ...string) {
	for _, p := range paths {
		if err := os.Remove(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
			logger.Logger.DebugContext(ctx, "failed to remove scratch file", "path", p, "error", err)
		}
	}
}
