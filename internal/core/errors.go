package core

import (
	"errors"
	"fmt"
)

// Error kinds. Compare with errors.Is.
var (
	ErrInvalidData       = errors.New("invalid data")
	ErrNotFound          = errors.New("not found")
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrStorageFailure    = errors.New("storage failure")
)

// Error carries a kind, the operation that failed and a readable reason.
type Error struct {
	Kind   error
	Op     string
	Reason string
	Err    error
}

func (e *Error) Error() string {
	msg := e.Kind.Error()
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Is(target error) bool {
	return target == e.Kind
}

func (e *Error) Unwrap() error {
	return e.Err
}

func InvalidData(format string, args ...any) error {
	return &Error{Kind: ErrInvalidData, Reason: fmt.Sprintf(format, args...)}
}

func NotFound(format string, args ...any) error {
	return &Error{Kind: ErrNotFound, Reason: fmt.Sprintf(format, args...)}
}

func InsufficientFunds(format string, args ...any) error {
	return &Error{Kind: ErrInsufficientFunds, Reason: fmt.Sprintf(format, args...)}
}

// StorageFailure wraps a persistence error. Domain errors pass through
// untouched so callers still see NotFound from a store lookup.
func StorageFailure(op string, err error) error {
	if err == nil {
		return nil
	}
	if IsDomain(err) {
		return err
	}
	return &Error{Kind: ErrStorageFailure, Op: op, Err: err}
}

// WithOp tags a domain error with the operation name if it has none.
func WithOp(op string, err error) error {
	var e *Error
	if errors.As(err, &e) && e.Op == "" {
		cp := *e
		cp.Op = op
		return &cp
	}
	return err
}

// IsDomain reports whether err is one of the caller-facing kinds other
// than a storage failure.
func IsDomain(err error) bool {
	return errors.Is(err, ErrInvalidData) ||
		errors.Is(err, ErrNotFound) ||
		errors.Is(err, ErrInsufficientFunds)
}

// KindOf returns the sentinel kind of err. Anything unclassified counts as
// a storage failure.
func KindOf(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrInvalidData):
		return ErrInvalidData
	case errors.Is(err, ErrNotFound):
		return ErrNotFound
	case errors.Is(err, ErrInsufficientFunds):
		return ErrInsufficientFunds
	default:
		return ErrStorageFailure
	}
}
