package audit

import (
	"github.com/sistem/judge/internal/types"
)

var schemaVersion = "0.1.0"
var logContext = "audit"

type Disposition string

const (
	DispositionNeutral Disposition = "neutral"
	DispositionGood    Disposition = "good"
	DispositionBad     Disposition = "bad"
)

type CompiledEntity string

const (
	EntitySubmission CompiledEntity = "submission"
	EntityChecker    CompiledEntity = "checker"
)

type EventType string

const (
	EvtSubmissionCreated  EventType = "submission_created"
	EvtSubmissionJudged   EventType = "submission_judged"
	EvtSubmissionRejected EventType = "submission_rejected"
	EvtSubmissionRecheck  EventType = "submission_recheck"
	EvtCompileFinished    EventType = "compile_finished"
	EvtCheckerPromoted    EventType = "checker_promoted"
)

type Message struct {
	ProblemID     string          `json:"problem_id"`
	UserID        *string         `json:"user_id"`
	LogContext    string          `json:"log_context"`
	SchemaVersion string          `json:"version"`
	Disposition   Disposition     `json:"disposition"`
	Type          EventType       `json:"event_type"`
	Timestamp     types.UnixMilli `json:"timestamp"`
}

type SubmissionCreatedEvent struct {
	SubmissionID string `json:"submission_id"`
	CompilerID   string `json:"compiler_id"`
	SourceSHA256 string `json:"source_sha256"`
}

type SubmissionCreated struct {
	Event SubmissionCreatedEvent `json:"event"`
	Message
}

type SubmissionJudgedEvent struct {
	SubmissionID string       `json:"submission_id"`
	Status       types.Status `json:"status"`
	Result       types.Result `json:"result"`
	Score        int          `json:"score"`
}

type SubmissionJudged struct {
	Event SubmissionJudgedEvent `json:"event"`
	Message
}

type SubmissionIDEvent struct {
	SubmissionID string `json:"submission_id"`
}

type SubmissionRejected struct {
	Event SubmissionIDEvent `json:"event"`
	Message
}

type SubmissionRecheck struct {
	Event SubmissionIDEvent `json:"event"`
	Message
}

type CompileFinishedEvent struct {
	Entity   CompiledEntity `json:"entity"`
	EntityID string         `json:"entity_id"`
	Success  bool           `json:"success"`
}

type CompileFinished struct {
	Event CompileFinishedEvent `json:"event"`
	Message
}

type CheckerPromotedEvent struct {
	CheckerID string  `json:"checker_id"`
	DemotedID *string `json:"demoted_id"`
}

type CheckerPromoted struct {
	Event CheckerPromotedEvent `json:"event"`
	Message
}
