package apperr

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrNotFound is a generic sentinel for missing resources.
	ErrNotFound = errors.New("not found")
	// ErrInvalidArgument is a generic sentinel for invalid input.
	ErrInvalidArgument = errors.New("invalid argument")
)

// Kind classifies a failure for the orchestrator's disposition table.
type Kind string

const (
	KindTransientExternal   Kind = "transient_external"
	KindPermanentExternal   Kind = "permanent_external"
	KindInputMalformed      Kind = "input_malformed"
	KindConstraintViolation Kind = "constraint_violation"
	KindCapacityExceeded    Kind = "capacity_exceeded"
	KindCancelled           Kind = "cancelled"
)

type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Op != "" {
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

func E(kind Kind, op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

// KindOf walks the chain and returns the outermost classification.
// Untagged context errors map to KindCancelled; everything else defaults
// to KindTransientExternal so the retry policy gets a chance.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Kind
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return KindCancelled
	}
	return KindTransientExternal
}

// IsRetryable reports whether the retry loop should try again.
func IsRetryable(err error) bool {
	switch KindOf(err) {
	case KindTransientExternal:
		return true
	default:
		return false
	}
}

// IsCancelled reports whether err terminated due to deadline or user cancel.
func IsCancelled(err error) bool {
	return KindOf(err) == KindCancelled
}
