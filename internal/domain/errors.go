package domain

import (
	"errors"
	"fmt"
)

// Domain-specific errors for business logic validation.
var (
	// Claim errors
	ErrAlreadyHeld         = errors.New("resource already claimed")
	ErrNotHeldByCaller     = errors.New("claim not held by caller")
	ErrInvalidResourceType = errors.New("invalid resource type")

	// Review errors
	ErrReviewNotFound    = errors.New("review not found")
	ErrInvalidTransition = errors.New("invalid status transition")

	// Task errors
	ErrTaskNotFound      = errors.New("task not found")
	ErrInvalidStatus     = errors.New("invalid task status")
	ErrChallengeNotFound = errors.New("challenge not found")

	// Permission errors
	ErrNotAuthorized = errors.New("not authorized")

	// User errors
	ErrUserNotFound = errors.New("user not found")
	ErrUserInactive = errors.New("user is inactive")
	ErrInvalidToken = errors.New("invalid authentication token")

	// Validation errors
	ErrInvalidSort  = errors.New("invalid sort")
	ErrEmptyComment = errors.New("comment is required")
)

// AlreadyHeldError reports which holder currently owns a contested lease.
type AlreadyHeldError struct {
	ResourceType ResourceType
	ResourceID   int64
	Holder       int64
}

func (e *AlreadyHeldError) Error() string {
	return fmt.Sprintf("%s: %s %d held by user %d", ErrAlreadyHeld, e.ResourceType, e.ResourceID, e.Holder)
}

func (e *AlreadyHeldError) Unwrap() error {
	return ErrAlreadyHeld
}

// HolderOf returns the current holder carried by an AlreadyHeld error.
func HolderOf(err error) (int64, bool) {
	var held *AlreadyHeldError
	if errors.As(err, &held) {
		return held.Holder, true
	}
	return 0, false
}
