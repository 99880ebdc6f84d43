package model

import (
	"errors"
	"fmt"
	"time"
)

// ValidationError reports malformed or missing input. Never retried.
type ValidationError struct {
	Field string
	Msg   string
}

func NewValidationError(field, msg string) *ValidationError {
	return &ValidationError{Field: field, Msg: msg}
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation error: " + e.Msg
	}
	return fmt.Sprintf("validation error: %s %s", e.Field, e.Msg)
}

// TransientRemoteError is a remote failure expected to succeed on retry
// (5xx, 429, timeouts, connection resets).
type TransientRemoteError struct {
	Target     Target
	StatusCode int
	Err        error
}

func (e *TransientRemoteError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s: transient error (status %d): %v", e.Target, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s: transient error: %v", e.Target, e.Err)
}

func (e *TransientRemoteError) Unwrap() error { return e.Err }

// PermanentRemoteError is a remote rejection that will not succeed on retry.
type PermanentRemoteError struct {
	Target     Target
	StatusCode int
	Err        error
}

func (e *PermanentRemoteError) Error() string {
	return fmt.Sprintf("%s: permanent error (status %d): %v", e.Target, e.StatusCode, e.Err)
}

func (e *PermanentRemoteError) Unwrap() error { return e.Err }

// ClassifierError wraps an internal failure of commitment detection.
type ClassifierError struct {
	Err error
}

func (e *ClassifierError) Error() string { return "classifier: " + e.Err.Error() }

func (e *ClassifierError) Unwrap() error { return e.Err }

// TimeoutError means the overall request deadline passed before every
// target answered. Targets listed as pending may still have created tasks.
type TimeoutError struct {
	After   time.Duration
	Pending []Target
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("processing timed out after %s (pending: %v)", e.After, e.Pending)
}

func IsValidation(err error) bool {
	var v *ValidationError
	return errors.As(err, &v)
}

func IsTransient(err error) bool {
	var t *TransientRemoteError
	return errors.As(err, &t)
}

func IsPermanent(err error) bool {
	var p *PermanentRemoteError
	return errors.As(err, &p)
}

func IsTimeout(err error) bool {
	var t *TimeoutError
	return errors.As(err, &t)
}

// ErrorType is a short label used for metrics and logs.
func ErrorType(err error) string {
	switch {
	case err == nil:
		return ""
	case IsValidation(err):
		return "validation"
	case IsTimeout(err):
		return "timeout"
	case IsTransient(err):
		return "transient_remote"
	case IsPermanent(err):
		return "permanent_remote"
	}
	var c *ClassifierError
	if errors.As(err, &c) {
		return "classifier"
	}
	return "internal"
}
