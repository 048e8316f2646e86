package cmdtemplate_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sistem/judge/internal/cmdtemplate"
	"github.com/sistem/judge/internal/judgeerrors"
)

func TestParse(t *testing.T) {
	valid := []string{
		"",
		"%exe%",
		"/usr/bin/gcc -Wall --std=c11 -O2 %src% -o %exe%",
		"/usr/bin/python3.6 %src%",
		"sh -c 'cp %src% %exe%'",
		"sh -c 'printf \"%d%%\" 1 > %exe%'",
	}
	for _, raw := range valid {
		_, err := cmdtemplate.Parse(raw)
		assert.NoError(t, err, "template %q should be valid", raw)
	}

	invalid := []string{
		"gcc %source% -o %exe%",
		"%compiler% %src%",
		"gcc 'unterminated %src%",
	}
	for _, raw := range invalid {
		_, err := cmdtemplate.Parse(raw)
		assert.ErrorIs(t, err, judgeerrors.ErrMalformedTemplate, "template %q should be rejected", raw)
	}
}

func TestExpand(t *testing.T) {
	tmpl := cmdtemplate.MustParse("g++ -O2 %src% -o %exe%")

	assert.Equal(t, "g++ -O2 /tmp/a.cpp -o /bin/a", tmpl.Expand("/tmp/a.cpp", "/bin/a"))
	assert.True(t, tmpl.Uses(cmdtemplate.Source))
	assert.True(t, tmpl.Uses(cmdtemplate.Executable))
	assert.False(t, tmpl.Empty())
}

func TestArgv(t *testing.T) {
	t.Run("PathsWithSpaces", func(t *testing.T) {
		tmpl := cmdtemplate.MustParse("python3 %src%")

		argv, err := tmpl.Argv("/tmp/my dir/a.py", "")
		require.NoError(t, err)
		assert.Equal(t, []string{"python3", "/tmp/my dir/a.py"}, argv)
	})

	t.Run("Quoted", func(t *testing.T) {
		tmpl := cmdtemplate.MustParse(`java -cp "%exe%" Main`)

		argv, err := tmpl.Argv("", "/bin/7")
		require.NoError(t, err)
		assert.Equal(t, []string{"java", "-cp", "/bin/7", "Main"}, argv)
	})

	t.Run("Empty", func(t *testing.T) {
		_, err := cmdtemplate.MustParse("").Argv("a", "b")
		assert.ErrorIs(t, err, judgeerrors.ErrMalformedTemplate)
	})
}

func TestParseRun(t *testing.T) {
	_, err := cmdtemplate.ParseRun("  ")
	require.ErrorIs(t, err, cmdtemplate.ErrEmptyRun)
	require.ErrorIs(t, err, judgeerrors.ErrMalformedTemplate)

	tmpl, err := cmdtemplate.ParseRun("%exe%")
	require.NoError(t, err)
	assert.Equal(t, "%exe%", tmpl.String())
}
