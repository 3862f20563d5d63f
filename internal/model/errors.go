package model

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel error kinds. Match with errors.Is; every *Error unwraps to one.
var (
	ErrNotFound            = errors.New("not found")
	ErrConflict            = errors.New("conflict")
	ErrInvalidReference    = errors.New("invalid reference")
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrCurrencyMismatch    = errors.New("currency mismatch")
	ErrValidation          = errors.New("validation failed")
	ErrDependencyConflict  = errors.New("dependency conflict")
	ErrRetryable           = errors.New("retryable storage failure")
)

// Error carries the context needed for a user-facing message.
type Error struct {
	Kind   error
	Entity string
	ID     any
	Field  string
	Msg    string
	Err    error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(e.Kind.Error())
	if e.Msg != "" {
		b.WriteString(": ")
		b.WriteString(e.Msg)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

// PublicMessage is Error without the wrapped cause, which may carry
// driver text that must not reach a client.
func (e *Error) PublicMessage() string {
	if e.Msg == "" {
		return e.Kind.Error()
	}
	return e.Kind.Error() + ": " + e.Msg
}

func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// NotFound reports a missing entity.
func NotFound(entity string, id any) error {
	return &Error{Kind: ErrNotFound, Entity: entity, ID: id, Msg: fmt.Sprintf("%s %v not found", entity, id)}
}

// Conflict reports a uniqueness or state conflict.
func Conflict(entity, msg string) error {
	return &Error{Kind: ErrConflict, Entity: entity, Msg: msg}
}

// InvalidReference reports a foreign id that does not resolve.
func InvalidReference(field string, value any) error {
	return &Error{Kind: ErrInvalidReference, Field: field, ID: value,
		Msg: fmt.Sprintf("%s %v does not exist", field, value)}
}

// Validation reports malformed input on a single field.
func Validation(field, msg string) error {
	return &Error{Kind: ErrValidation, Field: field, Msg: fmt.Sprintf("%s: %s", field, msg)}
}

// InsufficientBalance reports a change that would drive a balance negative.
func InsufficientBalance(customerID int64, balance, delta Money) error {
	return &Error{Kind: ErrInsufficientBalance, Entity: "customer", ID: customerID,
		Msg: fmt.Sprintf("customer %d balance %s cannot absorb %s", customerID, balance, delta)}
}

// CurrencyMismatch reports an amount whose currency differs from the account.
func CurrencyMismatch(want, got Currency) error {
	return &Error{Kind: ErrCurrencyMismatch, Field: "currency",
		Msg: fmt.Sprintf("expected %s, got %s", want, got)}
}

// DependencyConflict reports a delete blocked by dependent rows.
func DependencyConflict(entity string, id any, msg string) error {
	return &Error{Kind: ErrDependencyConflict, Entity: entity, ID: id,
		Msg: fmt.Sprintf("%s %v: %s", entity, id, msg)}
}

// Retryable wraps a transient storage failure such as a lock timeout.
func Retryable(err error) error {
	return &Error{Kind: ErrRetryable, Err: err}
}

// IsRetryable reports whether err is worth another attempt.
func IsRetryable(err error) bool { return errors.Is(err, ErrRetryable) }

// IsNotFound reports whether err is a NotFound error.
func IsNotFound(err error) bool { return errors.Is(err, ErrNotFound) }

// PublicMessage returns the client-safe text of err.
func PublicMessage(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.PublicMessage()
	}
	return err.Error()
}

// FieldOf returns the offending field for validation-style errors.
func FieldOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Field
	}
	return ""
}
