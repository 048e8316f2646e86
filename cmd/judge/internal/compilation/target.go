package compilation

import (
	"github.com/google/uuid"

	"github.com/sistem/judge/cmd/judge/internal/models"
	"github.com/sistem/judge/internal/artifact"
	"github.com/sistem/judge/internal/audit"
	"github.com/sistem/judge/internal/types"
)

// The fields of a submission or checker the stage reads
type Target struct {
	Entity     audit.CompiledEntity
	ID         uuid.UUID
	ProblemID  uuid.UUID
	CompilerID uuid.UUID
	Source     string
	// Only set for submissions
	UserID *uuid.UUID
}

func SubmissionTarget(s *models.Submission) Target {
	userID := s.UserID
	return Target{
		Entity:     audit.EntitySubmission,
		ID:         s.ID,
		ProblemID:  s.ProblemID,
		CompilerID: s.CompilerID,
		Source:     s.Source,
		UserID:     &userID,
	}
}

func CheckerTarget(c *models.Checker) Target {
	return Target{
		Entity:     audit.EntityChecker,
		ID:         c.ID,
		ProblemID:  c.ProblemID,
		CompilerID: c.CompilerID,
		Source:     c.Source,
	}
}

func (t Target) isChecker() bool {
	return t.Entity == audit.EntityChecker
}

// Status after a successful compile
func (t Target) compiledStatus() types.Status {
	if t.isChecker() {
		return types.StatusDone
	}

	return types.StatusWait
}

func (t Target) artifactKind() artifact.Kind {
	if t.isChecker() {
		return artifact.KindChecker
	}

	return artifact.KindSubmission
}

func (t Target) auditContext() audit.Context {
	c := audit.Context{ProblemID: t.ProblemID.String()}
	if t.UserID != nil {
		userID := t.UserID.String()
		c.UserID = &userID
	}

	return c
}
