// Package cmdtemplate holds the compile and run command templates of a compiler.
//
// A template is a command line with two substitution placeholders: %src% for the
// source path and %exe% for the executable path. Templates are validated once,
// when they are loaded, so nothing malformed ever reaches a process invocation.
package cmdtemplate

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/google/shlex"

	"github.com/sistem/judge/internal/judgeerrors"
)

const (
	Source     = "%src%"
	Executable = "%exe%"
)

// printf style directives such as %d or %% are not placeholders
var placeholder = regexp.MustCompile(`%[A-Za-z_]{3,}%`)

var ErrEmptyRun = fmt.Errorf("%w: run command is empty", judgeerrors.ErrMalformedTemplate)

type Template struct {
	raw string
}

// Parses and validates a template. The empty template is valid and means "no command".
func Parse(raw string) (Template, error) {
	if err := Validate(raw); err != nil {
		return Template{}, err
	}

	return Template{raw: strings.TrimSpace(raw)}, nil
}

// Parses a run template, which unlike a build template can never be empty
func ParseRun(raw string) (Template, error) {
	t, err := Parse(raw)
	if err != nil {
		return Template{}, err
	}
	if t.Empty() {
		return Template{}, ErrEmptyRun
	}

	return t, nil
}

// Same as [Parse] but panics, for templates known at compile time
func MustParse(raw string) Template {
	t, err := Parse(raw)
	if err != nil {
		panic(err)
	}

	return t
}

func Validate(raw string) error {
	for _, m := range placeholder.FindAllString(raw, -1) {
		if m != Source && m != Executable {
			return fmt.Errorf("%w: unknown placeholder %s in %q", judgeerrors.ErrMalformedTemplate, m, raw)
		}
	}

	if _, err := shlex.Split(raw); err != nil {
		return fmt.Errorf("%w: %q: %w", judgeerrors.ErrMalformedTemplate, raw, err)
	}

	return nil
}

func (t Template) Empty() bool {
	return t.raw == ""
}

func (t Template) String() string {
	return t.raw
}

func (t Template) Uses(placeholder string) bool {
	return strings.Contains(t.raw, placeholder)
}

// Substitutes both placeholders, producing a command line for a shell
func (t Template) Expand(src, exe string) string {
	return strings.NewReplacer(Source, src, Executable, exe).Replace(t.raw)
}

// Splits the template into argv and substitutes the placeholders per argument,
// so paths never get split even when they contain spaces
func (t Template) Argv(src, exe string) ([]string, error) {
	fields, err := shlex.Split(t.raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", judgeerrors.ErrMalformedTemplate, err)
	}
	if len(fields) == 0 {
		return nil, fmt.Errorf("%w: command is empty", judgeerrors.ErrMalformedTemplate)
	}

	r := strings.NewReplacer(Source, src, Executable, exe)
	for i, f := range fields {
		fields[i] = r.Replace(f)
	}

	return fields, nil
}
