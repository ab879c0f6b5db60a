package domain

import "fmt"

// Status is the lifecycle state of an issue.
type Status string

const (
	StatusOpen       Status = "OPEN"
	StatusTriaged    Status = "TRIAGED"
	StatusInProgress Status = "IN_PROGRESS"
	StatusDone       Status = "DONE"
)

// Severity of an issue. No ordering is enforced beyond membership.
type Severity string

const (
	SeverityLow      Severity = "LOW"
	SeverityMedium   Severity = "MEDIUM"
	SeverityHigh     Severity = "HIGH"
	SeverityCritical Severity = "CRITICAL"
)

// allowedTransitions is a linear pipeline with one backward edge at each of
// the middle states and a reopen edge from DONE. OPEN never jumps ahead and
// DONE never falls back to OPEN directly.
var allowedTransitions = map[Status][]Status{
	StatusOpen:       {StatusTriaged},
	StatusTriaged:    {StatusInProgress, StatusOpen},
	StatusInProgress: {StatusDone, StatusTriaged},
	StatusDone:       {StatusInProgress},
}

func (s Status) Valid() bool {
	_, ok := allowedTransitions[s]
	return ok
}

// CanTransitionTo reports whether next is reachable from s. Keeping the
// current status is always permitted.
func (s Status) CanTransitionTo(next Status) bool {
	if s == next {
		return true
	}
	for _, allowed := range allowedTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

func (v Severity) Valid() bool {
	switch v {
	case SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical:
		return true
	}
	return false
}

// InvalidTransitionError reports a status change that is not in the
// transition table, naming both ends.
type InvalidTransitionError struct {
	From Status
	To   Status
}

func (e InvalidTransitionError) Error() string {
	return fmt.Sprintf("cannot transition from %q to %q", e.From, e.To)
}
