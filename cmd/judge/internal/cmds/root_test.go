package cmds

import (
	"errors"
	"fmt"
	"testing"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/sistem/judge/internal/judgeerrors"
	"github.com/sistem/judge/internal/types"
)

func TestParseIDs(t *testing.T) {
	t.Run("Valid", func(t *testing.T) {
		a, b := uuid.New(), uuid.New()

		ids, err := parseIDs([]string{a.String(), b.String()})
		require.NoError(t, err)
		assert.Equal(t, []uuid.UUID{a, b}, ids)
	})

	t.Run("Invalid", func(t *testing.T) {
		_, err := parseIDs([]string{uuid.NewString(), "not-an-id"})

		var ee judgeerrors.ExitError
		require.ErrorAs(t, err, &ee)
		assert.Equal(t, types.ExitBadConfig, ee.Code)
		assert.Contains(t, err.Error(), "not-an-id")
	})
}

func TestNotFound(t *testing.T) {
	wrapped := fmt.Errorf("compiler %s: %w", uuid.New(), gorm.ErrRecordNotFound)

	var ee judgeerrors.ExitError
	require.ErrorAs(t, notFound(wrapped), &ee)
	assert.Equal(t, types.ExitNotFound, ee.Code)

	other := errors.New("boom")
	assert.Equal(t, other, notFound(other))
}

func TestCommandTree(t *testing.T) {
	for _, path := range [][]string{
		{"run"},
		{"migrate", "up"},
		{"migrate", "down"},
		{"migrate", "version"},
		{"submit"},
		{"recheck"},
		{"reject"},
		{"status"},
		{"checker", "add"},
		{"checker", "promote"},
		{"compilers", "detect"},
		{"compilers", "list"},
	} {
		cmd, rest, err := rootCmd.Find(path)
		require.NoError(t, err, path)
		assert.Empty(t, rest, path)
		assert.Equal(t, path[len(path)-1], cmd.Name())
	}
}

func TestRequiredFlags(t *testing.T) {
	for _, flag := range []string{"file", "problem", "user"} {
		f := submitCmd.Flags().Lookup(flag)
		require.NotNil(t, f, flag)
		assert.Equal(t, []string{"true"}, f.Annotations[cobra.BashCompOneRequiredFlag], flag)
	}
}
