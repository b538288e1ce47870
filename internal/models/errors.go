package models

import "errors"

// Failure taxonomy for message operations. Handlers map these to HTTP statuses
// with errors.Is; everything else is treated as internal.
var (
	// ErrDurationExceeded rejects uploads outside the allowed duration range.
	ErrDurationExceeded = errors.New("video duration exceeds the allowed maximum")
	// ErrBudgetUnattainable means even the lowest quality tier could not fit
	// the size budget. Nothing oversized is ever delivered.
	ErrBudgetUnattainable = errors.New("compression cannot reach the size budget")
	// ErrRecipientUnresolved means the requested recipient could not be matched
	// to a deliverable destination.
	ErrRecipientUnresolved = errors.New("recipient could not be resolved")
	// ErrAttachmentTooLarge is the defensive transport-limit check after compression.
	ErrAttachmentTooLarge = errors.New("attachment exceeds the channel transport limit")
	// ErrInvalidTransition means the caller's view of the message state is stale:
	// the requested transition is not allowed from the current state.
	ErrInvalidTransition = errors.New("invalid state transition")
	// ErrNotFound means no such message visible to the requester.
	ErrNotFound = errors.New("message not found")
	// ErrForbidden means the requester is neither sender nor recipient as the
	// operation requires.
	ErrForbidden = errors.New("not allowed")
	// ErrInvalidInput rejects malformed send parameters before anything is stored.
	ErrInvalidInput = errors.New("invalid input")
)
