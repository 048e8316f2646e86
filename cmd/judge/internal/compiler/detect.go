package compiler

import (
	"context"
	_ "embed"
	"fmt"
	"os"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"gopkg.in/yaml.v2"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/sistem/judge/cmd/judge/internal/command"
	"github.com/sistem/judge/cmd/judge/internal/models"
	"github.com/sistem/judge/internal/cmdtemplate"
	"github.com/sistem/judge/internal/logger"
	"github.com/sistem/judge/internal/validator"
)

const (
	compilerPlaceholder = "%compiler%"
	versionPlaceholder  = "%version%"
)

//go:embed detect.yaml
var builtinTable []byte

type DetectEntry struct {
	Key        string `yaml:"key"        validate:"required"`
	Name       string `yaml:"name"       validate:"required"`
	Executable string `yaml:"executable" validate:"required"`
	Lang       string `yaml:"lang"       validate:"required"`
	// Shell snippet printing the version
	Version string `yaml:"version"`
	Build   string `yaml:"build"`
	// Defaults to running the executable
	Run string `yaml:"run"`
}

// Reads a detection table, the built-in one when path is empty
func LoadTable(path string) ([]DetectEntry, error) {
	raw := builtinTable
	if path != "" {
		var err error
		raw, err = os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("error reading detection table: %w", err)
		}
	}

	var entries []DetectEntry
	if err := yaml.UnmarshalStrict(raw, &entries); err != nil {
		return nil, fmt.Errorf("error parsing detection table: %w", err)
	}

	v := validator.Create()
	seen := make(map[string]bool, len(entries))
	for i := range entries {
		if err := v.Validate(&entries[i]); err != nil {
			return nil, fmt.Errorf("detection table entry %d: %w", i, err)
		}
		if seen[entries[i].Key] {
			return nil, fmt.Errorf("detection table entry %d: duplicate key %s", i, entries[i].Key)
		}
		seen[entries[i].Key] = true
	}

	return entries, nil
}

// Turns a table entry into a compiler row for an executable found at path
func (e DetectEntry) resolve(path, version string) (*models.Compiler, error) {
	run := e.Run
	if run == "" {
		run = cmdtemplate.Executable
	}

	quoted := shellQuote(path)
	row := &models.Compiler{
		Name:          strings.TrimSpace(strings.ReplaceAll(e.Name, versionPlaceholder, version)),
		Lang:          e.Lang,
		BuildTemplate: strings.ReplaceAll(e.Build, compilerPlaceholder, quoted),
		RunTemplate:   strings.ReplaceAll(run, compilerPlaceholder, quoted),
		Autodetect:    models.NewNullFromData(e.Key),
		Executable:    e.Executable,
	}

	if err := cmdtemplate.Validate(row.BuildTemplate); err != nil {
		return nil, fmt.Errorf("entry %s: %w", e.Key, err)
	}
	if _, err := cmdtemplate.ParseRun(row.RunTemplate); err != nil {
		return nil, fmt.Errorf("entry %s: %w", e.Key, err)
	}

	return row, nil
}

// Probes the host for every table entry and upserts a compiler row, keyed by the entry key,
// for each one found. Entries whose executable is missing are left untouched.
func (t *Toolchain) Detect(ctx context.Context, db *gorm.DB, entries []DetectEntry) ([]models.Compiler, error) {
	ctx, span := tracer.Start(ctx, "Toolchain.Detect", trace.WithAttributes(
		attribute.Int("entries", len(entries)),
	))
	defer span.End()

	detected := make([]models.Compiler, 0, len(entries))
	for _, entry := range entries {
		path, ok := t.LookPath(entry.Executable)
		if !ok {
			logger.Logger.DebugContext(ctx, "compiler not found", "key", entry.Key, "executable", entry.Executable)
			continue
		}

		version := t.probeVersion(ctx, entry, path)

		row, err := entry.resolve(path, version)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "invalid detection entry")
			return nil, err
		}

		err = db.WithContext(ctx).Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "autodetect"}},
			DoUpdates: clause.AssignmentColumns([]string{"name", "lang", "build_template", "run_template", "executable"}),
		}).Create(row).Error
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "failed to upsert compiler")
			return nil, fmt.Errorf("error saving compiler %s: %w", entry.Key, err)
		}

		logger.Logger.InfoContext(ctx, "detected compiler", "key", entry.Key, "name", row.Name, "path", path)
		detected = append(detected, *row)
	}

	span.SetAttributes(attribute.Int("detected", len(detected)))
	span.RecordError(nil)
	span.SetStatus(codes.Ok, "detected compilers")
	return detected, nil
}

// Empty when there is no probe or it fails
func (t *Toolchain) probeVersion(ctx context.Context, entry DetectEntry, path string) string {
	if entry.Version == "" {
		return ""
	}

	cmd := command.Shell(strings.ReplaceAll(entry.Version, compilerPlaceholder, shellQuote(path))).
		WithEnv(t.environ(ctx))
	cmd.MergeStderr = true

	result, err := t.executor.Execute(ctx, cmd)
	if err != nil {
		logger.Logger.WarnContext(ctx, "version probe failed", "key", entry.Key, "error", err)
		return ""
	}

	return strings.TrimSpace(string(result.Stdout))
}

func shellQuote(s string) string {
	if s != "" && !strings.ContainsAny(s, " \t\n'\"\\$`;&|<>()*?[]#~") {
		return s
	}

	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
