package compilation_test

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"
	"go.uber.org/mock/gomock"
	"gorm.io/gorm"

	"github.com/sistem/judge/cmd/judge/internal/command"
	mockexecutor "github.com/sistem/judge/cmd/judge/internal/command/mock"
	"github.com/sistem/judge/cmd/judge/internal/compilation"
	"github.com/sistem/judge/cmd/judge/internal/compiler"
	"github.com/sistem/judge/cmd/judge/internal/models"
	"github.com/sistem/judge/cmd/judge/internal/testdb"
	"github.com/sistem/judge/cmd/judge/internal/workspace"
	"github.com/sistem/judge/internal/artifact"
	mockstore "github.com/sistem/judge/internal/artifact/mock"
	"github.com/sistem/judge/internal/judgeerrors"
	"github.com/sistem/judge/internal/notify"
	mockpublisher "github.com/sistem/judge/internal/notify/mock"
	"github.com/sistem/judge/internal/types"
)

type StageTestSuite struct {
	suite.Suite

	database *testdb.Database
	tx       *gorm.DB

	ctrl     *gomock.Controller
	executor *mockexecutor.MockExecutor
	layout   workspace.Layout
	stage    *compilation.Stage

	compiled    models.Compiler
	interpreted models.Compiler
	problem     *models.Problem
}

func (s *StageTestSuite) SetupSuite() {
	database, err := testdb.Start(s.T().Context())
	s.Require().NoError(err)
	s.database = database
}

func (s *StageTestSuite) SetupTest() {
	s.tx = s.database.DB.Begin()

	s.ctrl = gomock.NewController(s.T())
	s.executor = mockexecutor.NewMockExecutor(s.ctrl)
	s.layout = workspace.Layout{StorageDir: s.T().TempDir(), TempDir: s.T().TempDir()}
	s.Require().NoError(s.layout.Prepare())

	toolchain := compiler.NewToolchain(s.executor, nil, time.Second, nil)
	s.stage = compilation.NewStage(s.tx, toolchain, s.layout, nil, nil)

	s.compiled = models.Compiler{
		Name:          "GNU C",
		Lang:          "c",
		BuildTemplate: "gcc %src% -o %exe%",
		RunTemplate:   "%exe%",
		Executable:    "gcc",
	}
	s.Require().NoError(s.tx.Create(&s.compiled).Error)

	s.interpreted = models.Compiler{
		Name:        "Python",
		Lang:        "py",
		RunTemplate: "python3 %src%",
		Executable:  "python3",
	}
	s.Require().NoError(s.tx.Create(&s.interpreted).Error)

	s.problem = models.NewProblem("a+b")
	s.Require().NoError(s.tx.Create(s.problem).Error)
}

func (s *StageTestSuite) TearDownTest() {
	s.tx.Rollback()
}

func (s *StageTestSuite) TearDownSuite() {
	s.Require().NoError(s.database.Terminate())
}

func TestStageTestSuite(t *testing.T) {
	suite.Run(t, new(StageTestSuite))
}

func (s *StageTestSuite) createSubmission(c models.Compiler, status types.Status) *models.Submission {
	sub := &models.Submission{
		Source:     "int main() { return 0; }",
		Status:     status,
		UserID:     uuid.New(),
		ProblemID:  s.problem.ID,
		CompilerID: c.ID,
	}
	s.Require().NoError(s.tx.Create(sub).Error)
	return sub
}

func (s *StageTestSuite) createChecker(status types.Status) *models.Checker {
	c := &models.Checker{
		Name:       "checker",
		Source:     "int main() { return 0; }",
		Status:     status,
		ProblemID:  s.problem.ID,
		CompilerID: s.compiled.ID,
	}
	s.Require().NoError(s.tx.Create(c).Error)
	return c
}

// Fake gcc: checks the scratch source and produces the executable
func (s *StageTestSuite) expectBuild(exitCode int, output string) {
	s.executor.EXPECT().
		Execute(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, cmd *command.Command) (*command.Result, error) {
			fields := strings.Fields(cmd.Args[1])
			s.Require().Len(fields, 4)
			src, exe := fields[1], fields[3]

			body, err := os.ReadFile(src)
			s.Require().NoError(err)
			s.Equal("int main() { return 0; }", string(body))

			if exitCode == 0 {
				s.Require().NoError(os.WriteFile(exe, []byte("\x7fELF"), 0o755))
			}
			return &command.Result{Stdout: []byte(output), ExitCode: exitCode}, nil
		})
}

func (s *StageTestSuite) scratchEmpty() {
	entries, err := os.ReadDir(s.layout.TempDir)
	s.Require().NoError(err)
	s.Empty(entries, "scratch source left behind")
}

func (s *StageTestSuite) Test_SubmissionSuccess() {
	sub := s.createSubmission(s.compiled, types.StatusCWait)
	s.expectBuild(0, "")

	ok, err := s.stage.Compile(s.T().Context(), compilation.SubmissionTarget(sub))
	s.Require().NoError(err)
	s.True(ok)

	got, err := models.ByID[models.Submission](s.T().Context(), s.tx, sub.ID)
	s.Require().NoError(err)
	s.Equal(types.StatusWait, got.Status)
	s.Empty(got.CompileLog)
	s.False(got.ExecutableDigest.Valid)

	s.FileExists(s.layout.SubmissionExecutable(sub.ID))
	s.scratchEmpty()
}

func (s *StageTestSuite) Test_SubmissionFailure() {
	sub := s.createSubmission(s.compiled, types.StatusCWait)

	// stale executable of an earlier compile
	exe := s.layout.SubmissionExecutable(sub.ID)
	s.Require().NoError(os.WriteFile(exe, []byte("old"), 0o755))

	s.expectBuild(1, "error: expected ';'")

	ok, err := s.stage.Compile(s.T().Context(), compilation.SubmissionTarget(sub))
	s.Require().NoError(err)
	s.False(ok)

	got, err := models.ByID[models.Submission](s.T().Context(), s.tx, sub.ID)
	s.Require().NoError(err)
	s.Equal(types.StatusCompileFail, got.Status)
	s.Equal("error: expected ';'", got.CompileLog)
	s.Equal(0, got.Score)

	logs, err := models.SubmissionLogsFor(s.T().Context(), s.tx, sub.ID)
	s.Require().NoError(err)
	s.Empty(logs)

	s.NoFileExists(exe)
	s.scratchEmpty()
}

func (s *StageTestSuite) Test_RecompileFromCompileFail() {
	sub := s.createSubmission(s.compiled, types.StatusCompileFail)
	s.expectBuild(0, "")

	ok, err := s.stage.Compile(s.T().Context(), compilation.SubmissionTarget(sub))
	s.Require().NoError(err)
	s.True(ok)
}

func (s *StageTestSuite) Test_NotCompilable() {
	for _, status := range []types.Status{types.StatusCompiling, types.StatusChecking, types.StatusDone} {
		sub := s.createSubmission(s.compiled, status)

		ok, err := s.stage.Compile(s.T().Context(), compilation.SubmissionTarget(sub))
		s.Require().ErrorIs(err, judgeerrors.ErrNotCompilable)
		s.False(ok)

		got, err := models.ByID[models.Submission](s.T().Context(), s.tx, sub.ID)
		s.Require().NoError(err)
		s.Equal(status, got.Status)
	}
}

func (s *StageTestSuite) Test_Interpreted() {
	sub := s.createSubmission(s.interpreted, types.StatusCWait)

	ok, err := s.stage.Compile(s.T().Context(), compilation.SubmissionTarget(sub))
	s.Require().NoError(err)
	s.True(ok)

	got, err := models.ByID[models.Submission](s.T().Context(), s.tx, sub.ID)
	s.Require().NoError(err)
	s.Equal(types.StatusWait, got.Status)
	s.scratchEmpty()
}

func (s *StageTestSuite) Test_CheckerPromotedOnSuccess() {
	previous := s.createChecker(types.StatusDone)
	_, err := models.PromoteChecker(s.T().Context(), s.tx, previous.ID)
	s.Require().NoError(err)

	c := s.createChecker(types.StatusCWait)
	s.expectBuild(0, "")

	ok, err := s.stage.Compile(s.T().Context(), compilation.CheckerTarget(c))
	s.Require().NoError(err)
	s.True(ok)

	active, err := models.ActiveChecker(s.T().Context(), s.tx, s.problem.ID)
	s.Require().NoError(err)
	s.Equal(c.ID, active.ID)

	got, err := models.ByID[models.Checker](s.T().Context(), s.tx, previous.ID)
	s.Require().NoError(err)
	s.Equal(types.StatusDone, got.Status)

	s.FileExists(s.layout.CheckerExecutable(c.ID))
}

func (s *StageTestSuite) Test_CheckerFailureKeepsActive() {
	previous := s.createChecker(types.StatusDone)
	_, err := models.PromoteChecker(s.T().Context(), s.tx, previous.ID)
	s.Require().NoError(err)

	c := s.createChecker(types.StatusCWait)
	s.expectBuild(1, "nope")

	ok, err := s.stage.Compile(s.T().Context(), compilation.CheckerTarget(c))
	s.Require().NoError(err)
	s.False(ok)

	got, err := models.ByID[models.Checker](s.T().Context(), s.tx, c.ID)
	s.Require().NoError(err)
	s.Equal(types.StatusCompileFail, got.Status)
	s.Equal("nope", got.CompileLog)

	active, err := models.ActiveChecker(s.T().Context(), s.tx, s.problem.ID)
	s.Require().NoError(err)
	s.Equal(previous.ID, active.ID)
}

func (s *StageTestSuite) Test_ArchivesExecutable() {
	store := mockstore.NewMockStore(s.ctrl)
	publisher := mockpublisher.NewMockPublisher(s.ctrl)
	toolchain := compiler.NewToolchain(s.executor, nil, time.Second, nil)
	stage := compilation.NewStage(s.tx, toolchain, s.layout, store, publisher)

	sub := s.createSubmission(s.compiled, types.StatusCWait)
	s.expectBuild(0, "")

	var putKey string
	store.EXPECT().Exists(gomock.Any(), gomock.Any()).Return(false, nil)
	store.EXPECT().
		Put(gomock.Any(), gomock.Any(), int64(4), gomock.Any()).
		DoAndReturn(func(_ context.Context, r io.ReadSeeker, _ int64, key string) error {
			body, err := io.ReadAll(r)
			s.Require().NoError(err)
			s.Equal("\x7fELF", string(body))
			putKey = key
			return nil
		})

	var statuses []types.Status
	publisher.EXPECT().
		Publish(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, evt notify.Event) error {
			s.Equal(sub.ID.String(), evt.SubmissionID)
			statuses = append(statuses, evt.Status)
			return nil
		}).
		Times(2)

	ok, err := stage.Compile(s.T().Context(), compilation.SubmissionTarget(sub))
	s.Require().NoError(err)
	s.True(ok)

	got, err := models.ByID[models.Submission](s.T().Context(), s.tx, sub.ID)
	s.Require().NoError(err)
	s.Require().True(got.ExecutableDigest.Valid)
	s.Equal(artifact.Key(artifact.KindSubmission, got.ExecutableDigest.V), putKey)
	s.Equal(filepath.Base(putKey), got.ExecutableDigest.V)

	s.Equal([]types.Status{types.StatusCompiling, types.StatusWait}, statuses)
}
