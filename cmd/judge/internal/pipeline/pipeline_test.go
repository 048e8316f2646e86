package pipeline_test

import (
	"context"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"
	"go.uber.org/mock/gomock"
	"gorm.io/gorm"

	"github.com/sistem/judge/cmd/judge/internal/checker"
	"github.com/sistem/judge/cmd/judge/internal/command"
	mockexecutor "github.com/sistem/judge/cmd/judge/internal/command/mock"
	"github.com/sistem/judge/cmd/judge/internal/compilation"
	"github.com/sistem/judge/cmd/judge/internal/compiler"
	"github.com/sistem/judge/cmd/judge/internal/models"
	"github.com/sistem/judge/cmd/judge/internal/pipeline"
	"github.com/sistem/judge/cmd/judge/internal/sandbox"
	mockrunner "github.com/sistem/judge/cmd/judge/internal/sandbox/mock"
	"github.com/sistem/judge/cmd/judge/internal/testdb"
	"github.com/sistem/judge/cmd/judge/internal/workspace"
	"github.com/sistem/judge/internal/judgeerrors"
	"github.com/sistem/judge/internal/types"
)

type PipelineTestSuite struct {
	suite.Suite

	database *testdb.Database
	tx       *gorm.DB

	ctrl     *gomock.Controller
	executor *mockexecutor.MockExecutor
	runner   *mockrunner.MockRunner
	pipeline *pipeline.Pipeline

	compiler models.Compiler
	problem  *models.Problem
}

func (s *PipelineTestSuite) SetupSuite() {
	database, err := testdb.Start(s.T().Context())
	s.Require().NoError(err)
	s.database = database
}

func (s *PipelineTestSuite) SetupTest() {
	s.tx = s.database.DB.Begin()

	s.ctrl = gomock.NewController(s.T())
	s.executor = mockexecutor.NewMockExecutor(s.ctrl)
	s.runner = mockrunner.NewMockRunner(s.ctrl)

	layout := workspace.Layout{StorageDir: s.T().TempDir(), TempDir: s.T().TempDir()}
	s.Require().NoError(layout.Prepare())

	toolchain := compiler.NewToolchain(s.executor, s.runner, time.Second, nil)
	stage := compilation.NewStage(s.tx, toolchain, layout, nil, nil)
	judge := checker.NewJudge(s.tx, toolchain, s.executor, time.Second, layout, nil, nil)
	s.pipeline = pipeline.New(s.tx, stage, judge)

	s.compiler = models.Compiler{
		Name:          "GNU C",
		Lang:          "c",
		BuildTemplate: "gcc %src% -o %exe%",
		RunTemplate:   "%exe%",
		Executable:    "gcc",
	}
	s.Require().NoError(s.tx.Create(&s.compiler).Error)

	s.problem = models.NewProblem("a+b")
	s.Require().NoError(s.tx.Create(s.problem).Error)

	group := models.NewTestGroup(s.problem.ID, 1)
	group.Score = 10
	s.Require().NoError(s.tx.Create(group).Error)
	s.Require().NoError(s.tx.Create(&models.TestPair{
		TestGroupID: group.ID,
		Position:    1,
		Input:       []byte("1 2\n"),
		Pattern:     []byte("3\n"),
	}).Error)
}

func (s *PipelineTestSuite) TearDownTest() {
	s.tx.Rollback()
}

func (s *PipelineTestSuite) TearDownSuite() {
	s.Require().NoError(s.database.Terminate())
}

func TestPipelineTestSuite(t *testing.T) {
	suite.Run(t, new(PipelineTestSuite))
}

// gcc stand-in: sources containing "error" fail to compile
func (s *PipelineTestSuite) expectCompile() {
	s.executor.EXPECT().
		Execute(gomock.Any(), gomock.Cond(func(cmd *command.Command) bool { return cmd.Program == "sh" })).
		DoAndReturn(func(_ context.Context, cmd *command.Command) (*command.Result, error) {
			fields := strings.Fields(cmd.Args[1])
			body, err := os.ReadFile(fields[1])
			s.Require().NoError(err)

			if strings.Contains(string(body), "error") {
				return &command.Result{Stdout: []byte("syntax error"), ExitCode: 1}, nil
			}
			s.Require().NoError(os.WriteFile(fields[3], []byte("\x7fELF"), 0o755))
			return &command.Result{}, nil
		})
}

func (s *PipelineTestSuite) submit(source string) *models.Submission {
	sub, err := s.pipeline.Submit(s.T().Context(), pipeline.SubmitRequest{
		Source:     source,
		UserID:     uuid.New(),
		ProblemID:  s.problem.ID,
		CompilerID: &s.compiler.ID,
	})
	s.Require().NoError(err)
	return sub
}

func (s *PipelineTestSuite) addActiveChecker() *models.Checker {
	s.expectCompile()

	chk, err := s.pipeline.AddChecker(s.T().Context(), s.problem.ID, s.compiler.ID, "exact", "int main() {}")
	s.Require().NoError(err)
	s.Require().Equal(types.StatusAct, chk.Status)
	return chk
}

func (s *PipelineTestSuite) reload(id uuid.UUID) *models.Submission {
	got, err := models.ByID[models.Submission](s.T().Context(), s.tx, id)
	s.Require().NoError(err)
	return got
}

func (s *PipelineTestSuite) Test_Submit() {
	sub := s.submit("int main() {}")

	got := s.reload(sub.ID)
	s.Equal(types.StatusCWait, got.Status)
	s.Equal(types.ResultUnknown, got.Result)
	s.Zero(got.Score)
	s.Equal(s.compiler.ID, got.CompilerID)
}

func (s *PipelineTestSuite) Test_SubmitPicksCompilerByLanguage() {
	sub, err := s.pipeline.Submit(s.T().Context(), pipeline.SubmitRequest{
		Source:    "int main() {}",
		UserID:    uuid.New(),
		ProblemID: s.problem.ID,
		Filename:  "main.c",
	})
	s.Require().NoError(err)
	s.Equal(s.compiler.ID, sub.CompilerID)

	_, err = s.pipeline.Submit(s.T().Context(), pipeline.SubmitRequest{
		Source:    "print(1)",
		UserID:    uuid.New(),
		ProblemID: s.problem.ID,
		Filename:  "main.py",
	})
	s.Require().ErrorIs(err, judgeerrors.ErrNoCompilerForLanguage)
}

func (s *PipelineTestSuite) Test_SubmitUnknownProblem() {
	_, err := s.pipeline.Submit(s.T().Context(), pipeline.SubmitRequest{
		Source:     "int main() {}",
		UserID:     uuid.New(),
		ProblemID:  uuid.New(),
		CompilerID: &s.compiler.ID,
	})
	s.Require().ErrorIs(err, gorm.ErrRecordNotFound)

	var count int64
	s.Require().NoError(s.tx.Model(&models.Submission{}).Count(&count).Error)
	s.Zero(count)
}

func (s *PipelineTestSuite) Test_JudgeAccepted() {
	s.addActiveChecker()
	sub := s.submit("int main() {}")

	s.expectCompile()
	s.runner.EXPECT().Execute(gomock.Any(), gomock.Any()).Return(&sandbox.Result{Stdout: []byte("3\n")}, nil)
	s.executor.EXPECT().
		Execute(gomock.Any(), gomock.Cond(func(cmd *command.Command) bool { return cmd.Program != "sh" })).
		Return(&command.Result{}, nil)

	s.Require().NoError(s.pipeline.Judge(s.T().Context(), sub.ID))

	got := s.reload(sub.ID)
	s.Equal(types.StatusDone, got.Status)
	s.Equal(types.ResultOK, got.Result)
	s.Equal(11, got.Score)
}

func (s *PipelineTestSuite) Test_CompileFailureHasNoCheckEffects() {
	s.addActiveChecker()
	sub := s.submit("syntax error here")

	s.expectCompile()

	ok, err := s.pipeline.Compile(s.T().Context(), sub.ID)
	s.Require().NoError(err)
	s.False(ok)

	got := s.reload(sub.ID)
	s.Equal(types.StatusCompileFail, got.Status)
	s.Equal("syntax error", got.CompileLog)
	s.Zero(got.Score)

	logs, err := models.SubmissionLogsFor(s.T().Context(), s.tx, sub.ID)
	s.Require().NoError(err)
	s.Empty(logs)

	s.Require().ErrorIs(s.pipeline.Check(s.T().Context(), sub.ID), judgeerrors.ErrNotCompiled)
}

func (s *PipelineTestSuite) Test_CompileTwice() {
	sub := s.submit("int main() {}")
	s.expectCompile()

	ok, err := s.pipeline.Compile(s.T().Context(), sub.ID)
	s.Require().NoError(err)
	s.True(ok)

	// WAIT is compilable again, a recompile just repeats the work
	s.expectCompile()
	ok, err = s.pipeline.Compile(s.T().Context(), sub.ID)
	s.Require().NoError(err)
	s.True(ok)
}

func (s *PipelineTestSuite) Test_CheckWithoutActiveChecker() {
	sub := s.submit("int main() {}")
	s.expectCompile()

	ok, err := s.pipeline.Compile(s.T().Context(), sub.ID)
	s.Require().NoError(err)
	s.Require().True(ok)

	err = s.pipeline.Check(s.T().Context(), sub.ID)
	s.Require().ErrorIs(err, judgeerrors.ErrNoActiveChecker)

	got := s.reload(sub.ID)
	s.Equal(types.StatusWait, got.Status)
	s.Equal(types.ResultUnknown, got.Result)
	s.Zero(got.Score)
}

func (s *PipelineTestSuite) Test_CheckBeforeCompile() {
	s.addActiveChecker()
	sub := s.submit("int main() {}")

	s.Require().ErrorIs(s.pipeline.Check(s.T().Context(), sub.ID), judgeerrors.ErrNotCompiled)
	s.Equal(types.StatusCWait, s.reload(sub.ID).Status)
}

func (s *PipelineTestSuite) Test_RejectIsIdempotent() {
	sub := s.submit("int main() {}")
	s.Require().NoError(s.tx.Model(&models.Submission{}).Where("id = ?", sub.ID).Update("score", 7).Error)

	for range 2 {
		s.Require().NoError(s.pipeline.Reject(s.T().Context(), sub.ID))

		got := s.reload(sub.ID)
		s.Equal(types.StatusDone, got.Status)
		s.Equal(types.ResultRejected, got.Result)
		s.Zero(got.Score)
	}
}

func (s *PipelineTestSuite) Test_RejectMissing() {
	s.Require().ErrorIs(s.pipeline.Reject(s.T().Context(), uuid.New()), gorm.ErrRecordNotFound)
}

func (s *PipelineTestSuite) Test_RejectAllContinuesPastFailures() {
	a := s.submit("int main() {}")
	b := s.submit("int main() {}")

	err := s.pipeline.RejectAll(s.T().Context(), a.ID, uuid.New(), b.ID)
	s.Require().ErrorIs(err, gorm.ErrRecordNotFound)

	s.Equal(types.ResultRejected, s.reload(a.ID).Result)
	s.Equal(types.ResultRejected, s.reload(b.ID).Result)
}

func (s *PipelineTestSuite) Test_Recheck() {
	sub := s.submit("int main() {}")
	s.Require().NoError(s.pipeline.Reject(s.T().Context(), sub.ID))

	s.Require().NoError(s.pipeline.RecheckAll(s.T().Context(), sub.ID))

	got := s.reload(sub.ID)
	s.Equal(types.StatusCWait, got.Status)
	s.Nil(got.CurrentTestID)
}

func (s *PipelineTestSuite) Test_AddCheckerCompileFailure() {
	active := s.addActiveChecker()

	s.expectCompile()
	chk, err := s.pipeline.AddChecker(s.T().Context(), s.problem.ID, s.compiler.ID, "broken", "error")
	s.Require().NoError(err)
	s.Equal(types.StatusCompileFail, chk.Status)

	got, err := models.ActiveChecker(s.T().Context(), s.tx, s.problem.ID)
	s.Require().NoError(err)
	s.Equal(active.ID, got.ID)
}

func (s *PipelineTestSuite) Test_PromoteChecker() {
	first := s.addActiveChecker()
	second := s.addActiveChecker()

	got, err := models.ByID[models.Checker](s.T().Context(), s.tx, first.ID)
	s.Require().NoError(err)
	s.Equal(types.StatusDone, got.Status)

	s.Require().NoError(s.pipeline.PromoteChecker(s.T().Context(), first.ID))

	active, err := models.ActiveChecker(s.T().Context(), s.tx, s.problem.ID)
	s.Require().NoError(err)
	s.Equal(first.ID, active.ID)

	got, err = models.ByID[models.Checker](s.T().Context(), s.tx, second.ID)
	s.Require().NoError(err)
	s.Equal(types.StatusDone, got.Status)
}
