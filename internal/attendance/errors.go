package attendance

import (
	"errors"
	"fmt"
)

// Kind is the category of a rejected scan.
type Kind string

const (
	KindNotFound         Kind = "not_found"
	KindWrongFlow        Kind = "wrong_flow"
	KindOutsideWindow    Kind = "outside_window"
	KindNoActiveSchedule Kind = "no_active_schedule"
	KindNoActiveClass    Kind = "no_active_class"
	KindNoSessionNow     Kind = "no_session_now"
	KindAlreadyRecorded  Kind = "already_recorded"
	KindSystemError      Kind = "system_error"
)

// Error is a user-facing rejection raised by one of the verification stages.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

func reject(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

func systemError(op string, err error) *Error {
	return &Error{Kind: KindSystemError, Message: "system error: " + op, Err: err}
}

// KindOf returns the rejection kind carried by err; foreign errors are system errors.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindSystemError
}

// Configuration errors for employee sessions.
var (
	ErrInvalidWindow = errors.New("invalid employee session window")
	ErrOverlap       = errors.New("employee session overlaps an existing session")
)
