package dto

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/mtlprog/taskreview/internal/domain"
)

// ErrorResponse is the standard error response format.
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail contains error code and message. HolderID is set on claim
// conflicts so clients can show who has the task.
type ErrorDetail struct {
	Code     string `json:"code"`
	Message  string `json:"message"`
	HolderID *int64 `json:"holder_id,omitempty"`
}

// NewErrorResponse creates a new error response.
func NewErrorResponse(code, message string) ErrorResponse {
	return ErrorResponse{
		Error: ErrorDetail{
			Code:    code,
			Message: message,
		},
	}
}

// NewDomainErrorResponse maps err and returns the status with its body.
func NewDomainErrorResponse(err error) (int, ErrorResponse) {
	status, code, message := MapDomainError(err)
	resp := NewErrorResponse(code, message)
	if holder, ok := domain.HolderOf(err); ok {
		resp.Error.HolderID = &holder
	}
	return status, resp
}

// MapDomainError maps domain errors to HTTP status codes and error codes.
func MapDomainError(err error) (status int, code string, message string) {
	message = err.Error()

	switch {
	// Claim errors
	case errors.Is(err, domain.ErrAlreadyHeld):
		return http.StatusConflict, "TASK_ALREADY_CLAIMED", message
	case errors.Is(err, domain.ErrNotHeldByCaller):
		return http.StatusConflict, "CLAIM_LOST", message
	case errors.Is(err, domain.ErrInvalidResourceType):
		return http.StatusBadRequest, "INVALID_RESOURCE_TYPE", message

	// Review errors
	case errors.Is(err, domain.ErrReviewNotFound):
		return http.StatusNotFound, "REVIEW_NOT_FOUND", message
	case errors.Is(err, domain.ErrInvalidTransition):
		return http.StatusBadRequest, "INVALID_TRANSITION", message

	// Task errors
	case errors.Is(err, domain.ErrTaskNotFound):
		return http.StatusNotFound, "TASK_NOT_FOUND", message
	case errors.Is(err, domain.ErrChallengeNotFound):
		return http.StatusNotFound, "CHALLENGE_NOT_FOUND", message

	// Permission errors
	case errors.Is(err, domain.ErrNotAuthorized):
		return http.StatusForbidden, "INSUFFICIENT_ACCESS", message

	// User errors
	case errors.Is(err, domain.ErrUserNotFound):
		return http.StatusNotFound, "USER_NOT_FOUND", message
	case errors.Is(err, domain.ErrUserInactive):
		return http.StatusUnauthorized, "USER_INACTIVE", message
	case errors.Is(err, domain.ErrInvalidToken):
		return http.StatusUnauthorized, "INVALID_TOKEN", message

	// Validation errors
	case errors.Is(err, domain.ErrInvalidStatus):
		return http.StatusUnprocessableEntity, "VALIDATION_ERROR", message
	case errors.Is(err, domain.ErrInvalidSort):
		return http.StatusUnprocessableEntity, "VALIDATION_ERROR", message
	case errors.Is(err, domain.ErrEmptyComment):
		return http.StatusUnprocessableEntity, "VALIDATION_ERROR", message

	default:
		slog.Error("unmapped domain error returned to client",
			"error", err,
			"error_type", fmt.Sprintf("%T", err),
		)
		return http.StatusInternalServerError, "INTERNAL_ERROR", "Internal server error"
	}
}
