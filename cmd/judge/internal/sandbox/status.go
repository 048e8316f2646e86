package sandbox

import (
	"strings"

	"github.com/sistem/judge/internal/types"
)

// Bitmask reported by the isolation runner through its exit code
type Status uint8

const (
	StatusTimeLimit Status = 1 << iota
	StatusRuntimeError
	StatusMemoryLimit
	StatusInternalError
	StatusSecurityViolation

	statusMask = StatusTimeLimit | StatusRuntimeError | StatusMemoryLimit | StatusInternalError | StatusSecurityViolation
)

// Checked in this order, the first set flag decides the verdict
var priority = []struct {
	flag   Status
	result types.Result
}{
	{StatusInternalError, types.ResultIE},
	{StatusSecurityViolation, types.ResultSV},
	{StatusMemoryLimit, types.ResultML},
	{StatusTimeLimit, types.ResultTL},
	{StatusRuntimeError, types.ResultRE},
}

func (s Status) Has(flag Status) bool {
	return s&flag != 0
}

// Verdict for the run. OK only means the runner flagged nothing, the output is not checked yet.
func (s Status) Result() types.Result {
	for _, p := range priority {
		if s.Has(p.flag) {
			return p.result
		}
	}

	return types.ResultOK
}

func (s Status) String() string {
	if s == 0 {
		return "ok"
	}

	flags := make([]string, 0, len(priority))
	for _, p := range priority {
		if s.Has(p.flag) {
			flags = append(flags, string(p.result))
		}
	}

	return strings.Join(flags, "|")
}

// Exit codes outside the bitmask mean the runner itself misbehaved
func statusFromExitCode(code int) Status {
	if code < 0 || code > int(statusMask) {
		return StatusInternalError
	}

	return Status(code)
}
