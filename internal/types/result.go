package types

// Verdict of a judged attempt, either for a whole submission or for a single test
type Result string

const (
	ResultOK       Result = "ok"
	ResultTL       Result = "tl"
	ResultRE       Result = "re"
	ResultML       Result = "ml"
	ResultIE       Result = "ie"
	ResultSV       Result = "sv"
	ResultWA       Result = "wa"
	ResultPE       Result = "pe"
	ResultRejected Result = "rejected"
	ResultUnknown  Result = "unknown"
)

func (r Result) Display() string {
	switch r {
	case ResultOK:
		return "Accepted"
	case ResultTL:
		return "Time Limit"
	case ResultRE:
		return "Runtime Error"
	case ResultML:
		return "Memory Limit"
	case ResultIE:
		return "Internal Error"
	case ResultSV:
		return "Security Violation"
	case ResultWA:
		return "Wrong Answer"
	case ResultPE:
		return "Presentation Error"
	case ResultRejected:
		return "Rejected"
	default:
		return "Unknown"
	}
}

// Results that do not count as a meaningful attempt when computing user scores
func (r Result) Meaningful() bool {
	return r != ResultIE && r != ResultUnknown
}
