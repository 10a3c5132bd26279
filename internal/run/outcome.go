package run

import (
	"errors"

	"github.com/stevenijones/reactcarwashsim/internal/params"
	"github.com/stevenijones/reactcarwashsim/internal/results"
	"github.com/stevenijones/reactcarwashsim/internal/service"
)

// Phase is the lifecycle state of the current or most recent run.
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseRunning
	PhaseSucceeded
	PhaseFailed
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseRunning:
		return "running"
	case PhaseSucceeded:
		return "succeeded"
	case PhaseFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Terminal reports whether the phase ends a run.
func (p Phase) Terminal() bool {
	return p == PhaseSucceeded || p == PhaseFailed
}

type FailureKind int

const (
	FailureValidation FailureKind = iota + 1
	FailureEngine
	FailureTransport
	FailureMalformed
)

func (k FailureKind) String() string {
	switch k {
	case FailureValidation:
		return "validation"
	case FailureEngine:
		return "engine"
	case FailureTransport:
		return "transport"
	case FailureMalformed:
		return "malformed_response"
	default:
		return "unknown"
	}
}

// malformedMessage is shown instead of partial results when the engine
// claims success without the required payload.
const malformedMessage = "The simulation engine returned an incomplete result."

// Failure is a run that ended Failed. Message is what the user sees; Err is
// the typed cause.
type Failure struct {
	Kind    FailureKind
	Message string
	// Field is set for validation failures.
	Field params.Field
	Err   error
}

func (f *Failure) Error() string {
	return f.Message
}

func (f *Failure) Unwrap() error {
	return f.Err
}

// Outcome is exactly one of a Result or a Failure.
type Outcome struct {
	Result  *results.Result
	Failure *Failure
}

func (o Outcome) Succeeded() bool {
	return o.Result != nil && o.Failure == nil
}

func classify(err error) *Failure {
	var (
		vErr *params.ValidationError
		eErr *service.EngineError
		tErr *service.TransportError
		mErr *results.MalformedResponseError
	)
	switch {
	case errors.As(err, &vErr):
		return &Failure{Kind: FailureValidation, Message: vErr.Error(), Field: vErr.Field, Err: err}
	case errors.As(err, &eErr):
		return &Failure{Kind: FailureEngine, Message: eErr.Error(), Err: err}
	case errors.As(err, &mErr):
		return &Failure{Kind: FailureMalformed, Message: malformedMessage, Err: err}
	case errors.As(err, &tErr):
		return &Failure{Kind: FailureTransport, Message: tErr.Error(), Err: err}
	default:
		return &Failure{Kind: FailureTransport, Message: "request failed: " + err.Error(), Err: err}
	}
}
