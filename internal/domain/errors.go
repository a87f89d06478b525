package domain

import "errors"

// Sentinel errors shared across adapters and application packages, in the
// same style as the teacher's domain error var block.
var (
	ErrMessageNotFound          = errors.New("message not found")
	ErrScheduledMessageNotFound = errors.New("scheduled message not found")
	ErrContactNotFound          = errors.New("contact not found")
	ErrContactBlockedOrOptedOut = errors.New("contact is blocked or opted out")
	ErrUserNotFound             = errors.New("user not found")
	ErrUserNotActive            = errors.New("user messaging is not active")
	ErrNoSenderNumber           = errors.New("no active sender number for user")
	ErrInsufficientCredits      = errors.New("insufficient credits")
	ErrInvalidStatusTransition  = errors.New("invalid status transition")
	ErrAlreadySent              = errors.New("message already sent")
)
