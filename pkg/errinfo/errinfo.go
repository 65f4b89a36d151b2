package errinfo

import (
	"errors"
	"fmt"
	"strings"
)

// Kind classifies a pipeline failure. Every kind except KindCleanupWarning
// terminates the current run.
type Kind string

const (
	KindEmptyPrompt            Kind = "EmptyPrompt"
	KindTransportFailure       Kind = "TransportFailure"
	KindServiceError           Kind = "ServiceError"
	KindUnexpectedFailure      Kind = "UnexpectedFailure"
	KindMalformedResponse      Kind = "MalformedResponse"
	KindEmptyScript            Kind = "EmptyScript"
	KindMissingRequiredImport  Kind = "MissingRequiredImport"
	KindNotAValidScript        Kind = "NotAValidScript"
	KindNoRecognizedOperations Kind = "NoRecognizedOperations"
	KindDangerousOperation     Kind = "DangerousOperation"
	KindIOFailure              Kind = "IOFailure"
	KindEngineNotFound         Kind = "EngineNotFound"
	KindEngineProbeFailed      Kind = "EngineProbeFailed"
	KindEngineProbeTimeout     Kind = "EngineProbeTimeout"
	KindLaunchFailure          Kind = "LaunchFailure"
	KindCleanupWarning         Kind = "CleanupWarning"
)

// Error is the structured failure carried between pipeline stages.
type Error struct {
	Kind    Kind
	Message string
	// Detail holds extra lines shown to the user after Message.
	Detail []string
	Err    error
}

func (e *Error) Error() string {
	msg := e.Message
	if len(e.Detail) > 0 {
		msg += " (" + strings.Join(e.Detail, "; ") + ")"
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, msg)
}

// Lines renders the error as user-facing status lines.
func (e *Error) Lines() []string {
	first := e.Message
	if e.Err != nil {
		first = fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return append([]string{first}, e.Detail...)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// WithDetail appends user-facing detail lines.
func (e *Error) WithDetail(lines ...string) *Error {
	e.Detail = append(e.Detail, lines...)
	return e
}

// New returns an error of kind with a formatted message.
func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap is New with an underlying cause.
func Wrap(err error, kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Err: err}
}

// KindOf returns the kind of the first *Error in err's chain, or
// KindUnexpectedFailure for anything else.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnexpectedFailure
}

// IsFatal reports whether kind ends the run.
func IsFatal(kind Kind) bool {
	return kind != KindCleanupWarning
}

// ValidationKinds lists the kinds produced by the script validator.
func ValidationKinds() []Kind {
	return []Kind{
		KindEmptyScript,
		KindMissingRequiredImport,
		KindNotAValidScript,
		KindNoRecognizedOperations,
		KindDangerousOperation,
	}
}
