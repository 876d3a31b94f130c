// Package errors tags errors with the failure class the guard loop acts on.
package errors

import (
	"errors"
	"fmt"
)

type Kind string

const (
	KindConfig         Kind = "config"
	KindConnection     Kind = "connection"
	KindFraming        Kind = "framing"
	KindClassification Kind = "classification"
	KindNotification   Kind = "notification"
	KindReport         Kind = "report"
	KindStorage        Kind = "storage"
	KindUnknown        Kind = "unknown"
)

type Error struct {
	Kind    Kind
	Op      string
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s:%s] %s: %v", e.Kind, e.Op, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s:%s] %s", e.Kind, e.Op, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Wrap tags err with kind. An error that already carries a kind keeps it.
func Wrap(kind Kind, op, message string, err error) error {
	if err == nil {
		return nil
	}

	var typed *Error
	if errors.As(err, &typed) {
		return err
	}

	return &Error{
		Kind:    kind,
		Op:      op,
		Message: message,
		Cause:   err,
	}
}

func New(kind Kind, op, message string) error {
	return &Error{
		Kind:    kind,
		Op:      op,
		Message: message,
	}
}

// KindOf returns the first kind found in the chain, or KindUnknown.
func KindOf(err error) Kind {
	var target *Error
	if errors.As(err, &target) {
		return target.Kind
	}
	return KindUnknown
}

// IsKind checks whether the first typed error in the chain matches kind.
func IsKind(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}
