package mailsync

import (
	"context"
	"errors"
	"fmt"

	"github.com/vdavid/mailsync/internal/db"
	"github.com/vdavid/mailsync/internal/imap"
)

var (
	// ErrNotConfigured is returned when the user has no usable account settings.
	ErrNotConfigured = errors.New("mail account is not configured")

	// ErrSyncInProgress is returned when a sync is requested while one is running.
	ErrSyncInProgress = errors.New("sync already in progress")

	// ErrMessageNotFound is returned for unknown messages and messages of other users.
	ErrMessageNotFound = &RetrievalError{Reason: "message not found", Err: db.ErrMessageNotFound}

	// ErrAttachmentNotFound is returned for unknown attachments and attachments of other users.
	ErrAttachmentNotFound = &RetrievalError{Reason: "attachment not found", Err: db.ErrAttachmentNotFound}
)

// ConnectionError means the mail server could not be reached, refused the login, or
// failed a request. Reason can be shown to the user as is.
type ConnectionError struct {
	Reason string
	Err    error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("connection error: %s", e.Reason)
}

func (e *ConnectionError) Unwrap() error {
	return e.Err
}

// PartialFailureError means some of an operation was applied but not all of it, e.g. a
// folder was created on the server but could not be stored locally.
type PartialFailureError struct {
	Op     string
	Reason string
	Err    error
}

func (e *PartialFailureError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Reason)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Reason, e.Err)
}

func (e *PartialFailureError) Unwrap() error {
	return e.Err
}

// RetrievalError means a message or attachment could not be loaded.
type RetrievalError struct {
	Reason string
	Err    error
}

func (e *RetrievalError) Error() string {
	return e.Reason
}

func (e *RetrievalError) Unwrap() error {
	return e.Err
}

// ValidationError reports a missing or malformed input field.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("%s is required", e.Field)
	}
	return fmt.Sprintf("%s %s", e.Field, e.Reason)
}

// newConnectionError converts a gateway failure into a ConnectionError.
func newConnectionError(err error) *ConnectionError {
	var connErr *ConnectionError
	if errors.As(err, &connErr) {
		return connErr
	}

	var gatewayErr *imap.GatewayError
	if errors.As(err, &gatewayErr) {
		return &ConnectionError{Reason: gatewayErr.Reason, Err: err}
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return &ConnectionError{Reason: imap.ReasonTimeout, Err: err}
	}
	return &ConnectionError{Reason: err.Error(), Err: err}
}

// Reason returns the user-displayable reason of an engine error.
func Reason(err error) string {
	var (
		connErr       *ConnectionError
		partialErr    *PartialFailureError
		retrievalErr  *RetrievalError
		validationErr *ValidationError
	)
	switch {
	case err == nil:
		return ""
	case errors.As(err, &connErr):
		return connErr.Reason
	case errors.As(err, &partialErr):
		return partialErr.Reason
	case errors.As(err, &retrievalErr):
		return retrievalErr.Reason
	case errors.As(err, &validationErr):
		return validationErr.Error()
	case errors.Is(err, ErrNotConfigured), errors.Is(err, ErrSyncInProgress):
		return err.Error()
	default:
		return "internal error"
	}
}
