package docker

import (
	"errors"
	"strings"
)

// ErrorCode is a stable, machine-readable failure identifier surfaced to API callers.
type ErrorCode string

const (
	// CodeSocketUnreachable means the engine control socket could not be opened.
	CodeSocketUnreachable ErrorCode = "socket-unreachable"

	// CodeDecode means the engine sent a malformed HTTP response or violated
	// the attach frame format.
	CodeDecode ErrorCode = "decode-error"

	// CodeEngineRejected means the engine answered with a non-2xx status.
	CodeEngineRejected ErrorCode = "engine-rejected"

	// CodeIO covers read and write failures not otherwise classified.
	CodeIO ErrorCode = "io-error"

	// CodeOutputLimit means the container produced more output than the
	// configured ceiling allows.
	CodeOutputLimit ErrorCode = "output-limit"
)

// Phase names the engine interaction that failed.
type Phase string

const (
	PhaseVersion Phase = "version"
	PhaseCreate  Phase = "create"
	PhaseStart   Phase = "start"
	PhaseAttach  Phase = "attach"
	PhaseStream  Phase = "stream"
)

var phaseActions = map[Phase]string{
	PhaseVersion: "get docker version",
	PhaseCreate:  "create container",
	PhaseStart:   "start container",
	PhaseAttach:  "attach to container",
	PhaseStream:  "read container output",
}

// Error is the failure type returned by every operation in this package.
type Error struct {
	Code    ErrorCode
	Phase   Phase
	Message string
	Err     error
}

// Error formats the failure as "failed to <action>: <message>: <cause>".
// Errors not yet attributed to a phase omit the "failed to" prefix.
func (e *Error) Error() string {
	var parts []string
	if e.Phase != "" {
		action, ok := phaseActions[e.Phase]
		if !ok {
			action = string(e.Phase)
		}
		parts = append(parts, "failed to "+action)
	}
	if e.Message != "" {
		parts = append(parts, e.Message)
	}
	if e.Err != nil {
		parts = append(parts, e.Err.Error())
	}
	if len(parts) == 0 {
		return string(e.Code)
	}
	return strings.Join(parts, ": ")
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Err
}

func newError(code ErrorCode, message string, err error) *Error {
	return &Error{Code: code, Message: message, Err: err}
}

// inPhase stamps err with phase. Errors that already carry a phase keep it,
// so the innermost failing interaction is the one reported.
func inPhase(err error, phase Phase) error {
	if err == nil {
		return nil
	}

	var e *Error
	if errors.As(err, &e) {
		if e.Phase == "" {
			e.Phase = phase
		}
		return err
	}

	return &Error{Code: CodeIO, Phase: phase, Err: err}
}

// CodeOf extracts the ErrorCode from err. Errors produced outside this
// package are reported as CodeIO.
func CodeOf(err error) ErrorCode {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeIO
}

// PhaseOf extracts the failing Phase from err, or "" when err carries none.
func PhaseOf(err error) Phase {
	var e *Error
	if errors.As(err, &e) {
		return e.Phase
	}
	return ""
}
