package types

import "slices"

// Lifecycle stage of a submission or a checker
type Status string

const (
	StatusCWait       Status = "cwait"       // Waiting for compilation
	StatusCompiling   Status = "compiling"   // Compiler is running
	StatusCompileFail Status = "compilefail" // Compilation failed, terminal until resubmission or recheck
	StatusWait        Status = "wait"        // Compiled, waiting to be checked
	StatusChecking    Status = "checking"    // Running against the test suite
	StatusDone        Status = "done"        // Finished. For checkers: compiled but not the active one
	StatusAct         Status = "act"         // Checkers only: the problem's active checker
)

// Statuses compile() may start from
var CompilableStatuses = []Status{StatusCWait, StatusWait, StatusCompileFail}

// Statuses the scheduler always picks up
var PendingStatuses = []Status{StatusCWait, StatusWait}

// Statuses a crashed worker may have left behind, picked up when resumption is enabled
var ResumableStatuses = []Status{StatusCompiling, StatusChecking}

func (s Status) In(set ...Status) bool {
	return slices.Contains(set, s)
}

func (s Status) Display() string {
	switch s {
	case StatusCWait, StatusWait:
		return "Waiting..."
	case StatusCompiling:
		return "Compiling..."
	case StatusCompileFail:
		return "Compilation Error"
	case StatusChecking:
		return "Checking..."
	case StatusDone:
		return "Done"
	case StatusAct:
		return "Active"
	default:
		return string(s)
	}
}
