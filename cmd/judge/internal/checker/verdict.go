package checker

import "github.com/sistem/judge/internal/types"

// Exit codes of a checker program. Anything else is an internal error of the checker.
const (
	ExitAccepted     = 0
	ExitWrongAnswer  = 1
	ExitPresentation = 2
)

func resultFromExitCode(code int) types.Result {
	switch code {
	case ExitAccepted:
		return types.ResultOK
	case ExitWrongAnswer:
		return types.ResultWA
	case ExitPresentation:
		return types.ResultPE
	default:
		return types.ResultIE
	}
}

// Running totals of one check
type scorecard struct {
	score int
	// First non-OK verdict, empty while everything passed
	last types.Result
}

func (s *scorecard) record(result types.Result, scorePerTest int) {
	if result == types.ResultOK {
		s.score += scorePerTest
		return
	}

	if s.last == "" {
		s.last = result
	}
}

func (s *scorecard) result() types.Result {
	if s.last == "" {
		return types.ResultOK
	}

	return s.last
}
