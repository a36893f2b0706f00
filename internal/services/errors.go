// Package services defines the business logic for conversations, messages
// and generation jobs. This file centralizes common service-level error values
// so that they can be consistently returned by service methods and checked by
// callers.
//
// Translation into user-facing messages or HTTP status codes is performed at
// the handler layer.
package services

import (
	"errors"
	"fmt"
)

// Conversation-related errors.
var (
	// ErrConversationNotFound indicates that the requested conversation does
	// not exist.
	ErrConversationNotFound = errors.New("conversation not found")

	// ErrOwnershipViolation is returned when a user touches a conversation,
	// message or job that belongs to someone else.
	ErrOwnershipViolation = errors.New("conversation belongs to another user")

	// ErrMessageNotFound indicates that the requested message does not exist.
	ErrMessageNotFound = errors.New("message not found")

	// ErrNotEditable is returned when editing a message that is not a user
	// message.
	ErrNotEditable = errors.New("only user messages can be edited")
)

// Validation errors.
var (
	// ErrEmptyContent is returned when message content is blank after trimming.
	ErrEmptyContent = errors.New("content is empty")

	// ErrTooLong is returned when content exceeds the configured rune limit.
	ErrTooLong = errors.New("content too long")

	// ErrInvalidRole is returned for a role outside user, assistant and system.
	ErrInvalidRole = errors.New("invalid role")

	// ErrInvalidWebhookURL is returned when a job's webhook URL is not an
	// absolute http(s) URL.
	ErrInvalidWebhookURL = errors.New("webhook url must be an absolute http or https url")
)

// ErrJobNotFound indicates that the requested job does not exist.
var ErrJobNotFound = errors.New("job not found")

// PersistenceError wraps a storage failure together with the operation that
// hit it. Use errors.As to detect it and errors.Unwrap to reach the cause.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persistence: %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// persistence wraps err as a *PersistenceError, passing nil and already
// classified errors through.
func persistence(op string, err error) error {
	if err == nil {
		return nil
	}
	var pe *PersistenceError
	if errors.As(err, &pe) {
		return err
	}
	for _, known := range []error{ErrConversationNotFound, ErrOwnershipViolation, ErrMessageNotFound, ErrJobNotFound} {
		if errors.Is(err, known) {
			return err
		}
	}
	return &PersistenceError{Op: op, Err: err}
}
