package audit

import (
	"encoding/json"
	"fmt"

	"github.com/sistem/judge/internal/logger"
	"github.com/sistem/judge/internal/types"
)

type Context struct {
	UserID    *string
	ProblemID string
}

func dispForResult(result types.Result) Disposition {
	switch result {
	case types.ResultOK:
		return DispositionGood
	case types.ResultUnknown:
		return DispositionNeutral
	default:
		return DispositionBad
	}
}

func message(c Context, evt EventType, disp Disposition) Message {
	return Message{
		ProblemID:     c.ProblemID,
		UserID:        c.UserID,
		LogContext:    logContext,
		SchemaVersion: schemaVersion,
		Disposition:   disp,
		Type:          evt,
		Timestamp:     types.Now(),
	}
}

func emit(evt EventType, v any) {
	evtStr, err := json.Marshal(v)
	if err != nil {
		logger.Logger.Error("could not serialize audit event", "event_type", evt, "error", err)
		return
	}

	fmt.Println(string(evtStr))
}

func LogSubmissionCreated(c Context, submissionID, compilerID, sourceSHA256 string) {
	event := SubmissionCreated{Message: message(c, EvtSubmissionCreated, DispositionNeutral)}
	event.Event.SubmissionID = submissionID
	event.Event.CompilerID = compilerID
	event.Event.SourceSHA256 = sourceSHA256

	emit(event.Type, event)
}

func LogSubmissionJudged(
	c Context,
	submissionID string,
	status types.Status,
	result types.Result,
	score int,
) {
	disp := dispForResult(result)
	if status == types.StatusCompileFail {
		disp = DispositionBad
	}

	event := SubmissionJudged{Message: message(c, EvtSubmissionJudged, disp)}
	event.Event.SubmissionID = submissionID
	event.Event.Status = status
	event.Event.Result = result
	event.Event.Score = score

	emit(event.Type, event)
}

func LogSubmissionRejected(c Context, submissionID string) {
	event := SubmissionRejected{Message: message(c, EvtSubmissionRejected, DispositionBad)}
	event.Event.SubmissionID = submissionID

	emit(event.Type, event)
}

func LogSubmissionRecheck(c Context, submissionID string) {
	event := SubmissionRecheck{Message: message(c, EvtSubmissionRecheck, DispositionNeutral)}
	event.Event.SubmissionID = submissionID

	emit(event.Type, event)
}

func LogCompileFinished(c Context, entity CompiledEntity, entityID string, success bool) {
	disp := DispositionGood
	if !success {
		disp = DispositionBad
	}

	event := CompileFinished{Message: message(c, EvtCompileFinished, disp)}
	event.Event.Entity = entity
	event.Event.EntityID = entityID
	event.Event.Success = success

	emit(event.Type, event)
}

func LogCheckerPromoted(c Context, checkerID string, demotedID *string) {
	event := CheckerPromoted{Message: message(c, EvtCheckerPromoted, DispositionNeutral)}
	event.Event.CheckerID = checkerID
	event.Event.DemotedID = demotedID

	emit(event.Type, event)
}
