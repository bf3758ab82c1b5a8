package domain

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound           = errors.New("not found")
	ErrSubmissionRejected = errors.New("submission rejected")
	ErrInvalidPrompt      = errors.New("invalid prompt")
	ErrProviderFailure    = errors.New("provider failure")
	ErrSessionClosed      = errors.New("session closed")
)

// ErrorKind classifies why a task did not produce a usable artifact.
type ErrorKind string

const (
	ErrorSubmissionRejected      ErrorKind = "SubmissionRejected"
	ErrorTransientPoll           ErrorKind = "TransientPollError"
	ErrorProviderReportedFailure ErrorKind = "ProviderReportedFailure"
	ErrorEmptyResult             ErrorKind = "EmptyResult"
	ErrorTimeout                 ErrorKind = "Timeout"
	ErrorPersistenceFailure      ErrorKind = "PersistenceFailure"
)

// TaskError is the error attached to a failed task or a persistence notice.
type TaskError struct {
	Kind    ErrorKind `json:"kind"`
	Message string    `json:"message"`
	Err     error     `json:"-"`
}

func (e *TaskError) Error() string {
	if e.Message == "" {
		return string(e.Kind)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *TaskError) Unwrap() error {
	return e.Err
}

// Is lets errors.Is(err, ErrSubmissionRejected) match rejection errors.
func (e *TaskError) Is(target error) bool {
	return target == ErrSubmissionRejected && e.Kind == ErrorSubmissionRejected
}

// Rejected builds a SubmissionRejected error.
func Rejected(cause error, format string, args ...any) *TaskError {
	return &TaskError{Kind: ErrorSubmissionRejected, Message: fmt.Sprintf(format, args...), Err: cause}
}

// ErrorKindOf returns the classification carried by err, if any.
func ErrorKindOf(err error) (ErrorKind, bool) {
	var te *TaskError
	if errors.As(err, &te) {
		return te.Kind, true
	}
	return "", false
}
