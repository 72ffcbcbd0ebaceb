package processor

import "fmt"

// OutcomeKind tags the result of one builder invocation.
type OutcomeKind int

const (
	OutcomeSuccess OutcomeKind = iota
	OutcomePartial
	OutcomeStop
	OutcomePostpone
	OutcomeFailure
)

func (k OutcomeKind) String() string {
	switch k {
	case OutcomeSuccess:
		return "success"
	case OutcomePartial:
		return "partial"
	case OutcomeStop:
		return "stop"
	case OutcomePostpone:
		return "postpone"
	case OutcomeFailure:
		return "failure"
	default:
		return fmt.Sprintf("outcome(%d)", int(k))
	}
}

// Outcome is what a Builder reports back. Value is only meaningful for
// Success and Partial, Reason for Stop and Postpone, Err for Failure (and
// optionally Partial, describing what went wrong).
type Outcome struct {
	Kind   OutcomeKind
	Value  any
	Reason string
	Err    error
}

// Success reports a fully processed file.
func Success(value any) Outcome {
	return Outcome{Kind: OutcomeSuccess, Value: value}
}

// Partial reports a processed file where part of the work failed.
func Partial(value any, err error) Outcome {
	return Outcome{Kind: OutcomePartial, Value: value, Err: err}
}

// Stop asks for the rest of the current directory level to be abandoned.
func Stop(reason string) Outcome {
	return Outcome{Kind: OutcomeStop, Reason: reason}
}

// Postpone leaves the file in input to be retried on the next run.
func Postpone(reason string) Outcome {
	return Outcome{Kind: OutcomePostpone, Reason: reason}
}

// Failure reports a file that could not be processed.
func Failure(err error) Outcome {
	return Outcome{Kind: OutcomeFailure, Err: err}
}

// Decision is what the walk does after an outcome.
type Decision struct {
	// Target receives the endpoint file and every dependency it opened.
	Target Role
	// Halt abandons the remaining entries of the current level.
	Halt bool
	// Collect marks the produced value for the post-processing hook.
	Collect bool
}

// Resolve maps an outcome to its destination and control-flow decision.
func Resolve(o Outcome) Decision {
	switch o.Kind {
	case OutcomeSuccess:
		return Decision{Target: RoleDone, Collect: true}
	case OutcomePartial:
		return Decision{Target: RoleError}
	case OutcomePostpone:
		return Decision{Target: RoleInput}
	case OutcomeStop:
		return Decision{Target: RoleError, Halt: true}
	default:
		return Decision{Target: RoleError}
	}
}
