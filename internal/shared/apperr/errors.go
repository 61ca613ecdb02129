// Package apperr defines the error taxonomy shared by services and handlers.
package apperr

import (
	"errors"
	"fmt"
)

var (
	ErrValidation   = errors.New("validation error")
	ErrUnauthorized = errors.New("unauthorized")
	ErrForbidden    = errors.New("forbidden")
	ErrNotFound     = errors.New("not found")
	ErrConflict     = errors.New("conflict")
	ErrStore        = errors.New("store error")
)

// Validation returns an ErrValidation carrying a client-safe message.
func Validation(msg string) error {
	return &withMessage{kind: ErrValidation, msg: msg}
}

// Conflict returns an ErrConflict carrying a client-safe message.
func Conflict(msg string) error {
	return &withMessage{kind: ErrConflict, msg: msg}
}

// Store wraps a backend failure. The cause is kept for logs only.
func Store(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrStore) {
		return err
	}
	return &storeError{op: op, err: err}
}

// Message returns the client-safe message attached to err, or "".
func Message(err error) string {
	var m *withMessage
	if errors.As(err, &m) {
		return m.msg
	}
	return ""
}

type withMessage struct {
	kind error
	msg  string
}

func (e *withMessage) Error() string { return e.msg }

func (e *withMessage) Unwrap() error { return e.kind }

type storeError struct {
	op  string
	err error
}

func (e *storeError) Error() string { return fmt.Sprintf("%s: %v", e.op, e.err) }

func (e *storeError) Is(target error) bool { return target == ErrStore }

func (e *storeError) Unwrap() error { return e.err }
