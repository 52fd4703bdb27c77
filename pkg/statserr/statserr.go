package statserr

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
)

// Kind classifies an error for callers and for the HTTP layer.
type Kind string

const (
	KindBackendUnavailable Kind = "backend_unavailable"
	KindQueryFailed        Kind = "query_failed"
	KindNotFound           Kind = "not_found"
	KindAuthFailure        Kind = "auth_failure"
	KindInvalidInput       Kind = "invalid_input"
	KindConflict           Kind = "conflict"
)

// Level is the severity of an error. It only selects the log level.
type Level string

const (
	LevelInfo     Level = "info"
	LevelWarning  Level = "warning"
	LevelCritical Level = "critical"
)

// Error is a typed error that can be surfaced to API clients.
type Error struct {
	Kind    Kind
	Level   Level
	Message string
	Err     error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Err == nil {
		return e.Message
	}
	return fmt.Sprintf("%s: %v", e.Message, e.Err)
}

// Unwrap exposes the underlying error for errors.Is/As.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches any *Error of the same kind, so the sentinels below work with errors.Is.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && t.Message == "" && t.Err == nil
}

// Sentinels for errors.Is checks.
var (
	ErrBackendUnavailable = &Error{Kind: KindBackendUnavailable}
	ErrQueryFailed        = &Error{Kind: KindQueryFailed}
	ErrNotFound           = &Error{Kind: KindNotFound}
	ErrAuthFailure        = &Error{Kind: KindAuthFailure}
	ErrInvalidInput       = &Error{Kind: KindInvalidInput}
	ErrConflict           = &Error{Kind: KindConflict}
)

// New constructs a new typed Error with the default level for its kind.
func New(kind Kind, message string, err error) *Error {
	return &Error{Kind: kind, Level: defaultLevel(kind), Message: message, Err: err}
}

func BackendUnavailable(message string, err error) *Error {
	return New(KindBackendUnavailable, message, err)
}

func QueryFailed(message string, err error) *Error {
	return New(KindQueryFailed, message, err)
}

func NotFound(format string, args ...any) *Error {
	return New(KindNotFound, fmt.Sprintf(format, args...), nil)
}

func AuthFailure(format string, args ...any) *Error {
	return New(KindAuthFailure, fmt.Sprintf(format, args...), nil)
}

func InvalidInput(format string, args ...any) *Error {
	return New(KindInvalidInput, fmt.Sprintf(format, args...), nil)
}

func Conflict(format string, args ...any) *Error {
	return New(KindConflict, fmt.Sprintf(format, args...), nil)
}

// WithLevel returns a copy of e with the given severity.
func (e *Error) WithLevel(level Level) *Error {
	c := *e
	c.Level = level
	return &c
}

func defaultLevel(kind Kind) Level {
	switch kind {
	case KindAuthFailure, KindBackendUnavailable:
		return LevelCritical
	case KindNotFound:
		return LevelInfo
	default:
		return LevelWarning
	}
}

// KindOf returns the kind of the first *Error in err's chain, or "" if there is none.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// LevelOf returns the severity of err, defaulting to critical for untyped errors.
func LevelOf(err error) Level {
	var e *Error
	if errors.As(err, &e) && e.Level != "" {
		return e.Level
	}
	return LevelCritical
}

// HTTPStatus maps an error to the status code returned to API clients.
func HTTPStatus(err error) int {
	switch KindOf(err) {
	case KindInvalidInput:
		return http.StatusBadRequest
	case KindAuthFailure:
		return http.StatusUnauthorized
	case KindNotFound:
		return http.StatusNotFound
	case KindConflict:
		return http.StatusConflict
	case KindQueryFailed:
		return http.StatusBadGateway
	case KindBackendUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// Log writes err at the slog level matching its severity.
func Log(ctx context.Context, log *slog.Logger, msg string, err error, args ...any) {
	args = append(args, "error", err, "kind", string(KindOf(err)))
	switch LevelOf(err) {
	case LevelInfo:
		log.InfoContext(ctx, msg, args...)
	case LevelWarning:
		log.WarnContext(ctx, msg, args...)
	default:
		log.ErrorContext(ctx, msg, args...)
	}
}
