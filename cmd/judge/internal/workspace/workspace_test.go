package workspace

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLayout(t *testing.T) {
	root := t.TempDir()
	l := Layout{
		StorageDir: filepath.Join(root, "storage"),
		TempDir:    filepath.Join(root, "tmp"),
		SandboxDir: filepath.Join(root, "sandbox"),
	}
	require.NoError(t, l.Prepare())

	id := uuid.New()

	t.Run("Executables", func(t *testing.T) {
		assert.Equal(t, filepath.Join(root, "storage", "submissions_bin", id.String()), l.SubmissionExecutable(id))
		assert.Equal(t, filepath.Join(root, "storage", "checkers_bin", id.String()), l.CheckerExecutable(id))
		assert.DirExists(t, filepath.Dir(l.SubmissionExecutable(id)))
		assert.DirExists(t, filepath.Dir(l.CheckerExecutable(id)))
	})

	t.Run("NoSandboxDir", func(t *testing.T) {
		assert.Empty(t, l.RunDir())
		assert.Equal(t, filepath.Join(root, "tmp", "judge_submission_"+id.String()+".py"), l.SubmissionSource(id, "py"))
	})

	t.Run("SandboxDir", func(t *testing.T) {
		require.NoError(t, os.Mkdir(l.SandboxDir, 0o755))
		t.Cleanup(func() { _ = os.Remove(l.SandboxDir) })

		assert.Equal(t, l.SandboxDir, l.RunDir())
		assert.Equal(t, filepath.Join(root, "sandbox", "judge_submission_"+id.String()+".c"), l.SubmissionSource(id, "c"))
	})

	t.Run("CheckerFilesDistinctPerTest", func(t *testing.T) {
		a := l.CheckerFiles(id, uuid.New())
		b := l.CheckerFiles(id, uuid.New())
		assert.NotEqual(t, a.Input, b.Input)
		assert.NotEqual(t, a.Input, a.Output)
		assert.NotEqual(t, a.Output, a.Pattern)
	})

	t.Run("CheckerSources", func(t *testing.T) {
		checkerID := uuid.New()
		assert.Equal(t, filepath.Join(root, "tmp", "judge_checker_"+checkerID.String()+".py"), l.CheckerSource(checkerID, "py"))
		assert.NotEqual(t, l.CheckerRunSource(checkerID, id, "py"), l.CheckerRunSource(checkerID, uuid.New(), "py"))
	})
}

func TestRemove(t *testing.T) {
	p := filepath.Join(t.TempDir(), "file")
	require.NoError(t, os.WriteFile(p, nil, 0o600))

	Remove(context.Background(), p, filepath.Join(t.TempDir(), "missing"))
	assert.NoFileExists(t, p)
}
