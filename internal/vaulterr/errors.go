// Package vaulterr defines the error kinds shared by the key vault components.
// Every failure that reaches a caller carries one of these kinds so the router
// can turn it into a single error reply.
package vaulterr

import (
	"errors"
	"fmt"
)

// Kind classifies a vault failure
type Kind string

const (
	KindValidation     Kind = "validation"
	KindAuthentication Kind = "authentication"
	KindDecryption     Kind = "decryption"
	KindNotFound       Kind = "not_found"
	KindState          Kind = "state"
	KindStorage        Kind = "storage"
	KindRejected       Kind = "rejected"
	KindConflict       Kind = "conflict"
	KindExpired        Kind = "expired"
)

// Sentinel errors for errors.Is() checks
var (
	ErrValidation     = errors.New("validation failed")
	ErrAuthentication = errors.New("authentication required")
	ErrDecryption     = errors.New("decryption failed")
	ErrNotFound       = errors.New("not found")
	ErrState          = errors.New("invalid state")
	ErrStorage        = errors.New("storage failure")
	ErrRejected       = errors.New("rejected")
	ErrConflict       = errors.New("already exists")
	ErrExpired        = errors.New("expired")
)

var sentinels = map[Kind]error{
	KindValidation:     ErrValidation,
	KindAuthentication: ErrAuthentication,
	KindDecryption:     ErrDecryption,
	KindNotFound:       ErrNotFound,
	KindState:          ErrState,
	KindStorage:        ErrStorage,
	KindRejected:       ErrRejected,
	KindConflict:       ErrConflict,
	KindExpired:        ErrExpired,
}

// Error is a classified vault error.
// Op names the operation that failed (e.g. "keystore.add"), Msg is the
// human-readable description returned to callers.
type Error struct {
	Kind Kind
	Op   string
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	switch {
	case e.Msg != "" && e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Msg, e.Err)
	case e.Msg != "":
		return e.Msg
	case e.Err != nil:
		return e.Err.Error()
	default:
		return string(e.Kind)
	}
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches the sentinel for the error's kind.
func (e *Error) Is(target error) bool {
	s, ok := sentinels[e.Kind]
	return ok && s == target
}

// New creates an error of the given kind.
func New(kind Kind, op, msg string) error {
	return &Error{Kind: kind, Op: op, Msg: msg}
}

// Wrap classifies err under kind. A nil err yields nil.
func Wrap(kind Kind, op, msg string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Op: op, Msg: msg, Err: err}
}

// Validation is shorthand for New(KindValidation, ...).
func Validation(op, msg string) error { return New(KindValidation, op, msg) }

// NotFound is shorthand for New(KindNotFound, ...).
func NotFound(op, msg string) error { return New(KindNotFound, op, msg) }

// Storage wraps a durable-store failure.
func Storage(op string, err error) error {
	return Wrap(KindStorage, op, "storage operation failed", err)
}

// KindOf returns the kind of err, or "" when err is not classified.
func KindOf(err error) Kind {
	var ve *Error
	if errors.As(err, &ve) {
		return ve.Kind
	}
	return ""
}

// Message returns the caller-facing description of err.
func Message(err error) string {
	if err == nil {
		return ""
	}
	var ve *Error
	if errors.As(err, &ve) && ve.Msg != "" {
		return ve.Msg
	}
	return err.Error()
}
