package artifact_test

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/sistem/judge/internal/artifact"
	mockstore "github.com/sistem/judge/internal/artifact/mock"
	"github.com/sistem/judge/internal/hash"
)

func writeExecutable(t *testing.T, content string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "exe")
	require.NoError(t, os.WriteFile(p, []byte(content), 0o755))
	return p
}

func TestArchiveExecutable(t *testing.T) {
	content := "\x7fELF fake"
	digest := hash.Source(content).String()
	key := artifact.Key(artifact.KindSubmission, digest)

	t.Run("Uploads", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		s := mockstore.NewMockStore(ctrl)

		s.EXPECT().Exists(gomock.Any(), key).Return(false, nil)
		s.EXPECT().
			Put(gomock.Any(), gomock.Any(), int64(len(content)), key).
			DoAndReturn(func(_ context.Context, r io.ReadSeeker, _ int64, _ string) error {
				b, err := io.ReadAll(r)
				require.NoError(t, err)
				assert.Equal(t, content, string(b))
				return nil
			})

		got, err := artifact.ArchiveExecutable(context.Background(), s, artifact.KindSubmission, writeExecutable(t, content))
		require.NoError(t, err)
		assert.Equal(t, digest, got)
	})

	t.Run("AlreadyExists", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		s := mockstore.NewMockStore(ctrl)

		s.EXPECT().Exists(gomock.Any(), key).Return(true, nil)

		got, err := artifact.ArchiveExecutable(context.Background(), s, artifact.KindSubmission, writeExecutable(t, content))
		require.NoError(t, err)
		assert.Equal(t, digest, got)
	})

	t.Run("MissingFile", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		s := mockstore.NewMockStore(ctrl)

		_, err := artifact.ArchiveExecutable(context.Background(), s, artifact.KindChecker, filepath.Join(t.TempDir(), "nope"))
		require.Error(t, err)
	})
}

func TestRestoreExecutable(t *testing.T) {
	content := "\x7fELF fake"
	digest := hash.Source(content).String()

	t.Run("Restores", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		s := mockstore.NewMockStore(ctrl)

		dest := filepath.Join(t.TempDir(), "exe")
		s.EXPECT().
			Fetch(gomock.Any(), artifact.Key(artifact.KindChecker, digest), dest).
			DoAndReturn(func(_ context.Context, _ string, p string) error {
				return os.WriteFile(p, []byte(content), 0o600)
			})

		require.NoError(t, artifact.RestoreExecutable(context.Background(), s, artifact.KindChecker, digest, dest))

		stat, err := os.Stat(dest)
		require.NoError(t, err)
		assert.NotZero(t, stat.Mode()&0o100, "restored file is not executable")
	})

	t.Run("DigestMismatch", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		s := mockstore.NewMockStore(ctrl)

		dest := filepath.Join(t.TempDir(), "exe")
		s.EXPECT().
			Fetch(gomock.Any(), gomock.Any(), dest).
			DoAndReturn(func(_ context.Context, _ string, p string) error {
				return os.WriteFile(p, []byte("tampered"), 0o600)
			})

		require.Error(t, artifact.RestoreExecutable(context.Background(), s, artifact.KindChecker, digest, dest))
		assert.NoFileExists(t, dest)
	})

	t.Run("FetchError", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		s := mockstore.NewMockStore(ctrl)

		s.EXPECT().Fetch(gomock.Any(), gomock.Any(), gomock.Any()).Return(errors.New("expected error"))

		require.Error(t, artifact.RestoreExecutable(context.Background(), s, artifact.KindSubmission, digest, "unused"))
	})
}
