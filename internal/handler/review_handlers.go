package handler

import (
	"net/http"
	"strings"

	"github.com/mtlprog/taskreview/internal/database"
	"github.com/mtlprog/taskreview/internal/domain"
	"github.com/mtlprog/taskreview/internal/handler/dto"
)

// handleCompleteTask finishes the caller's mapping session on a task.
func (h *Handler) handleCompleteTask(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	user, ok := currentUser(w, r)
	if !ok {
		return
	}
	taskID, ok := extractTaskID(w, r)
	if !ok {
		return
	}

	var req dto.CompleteTaskRequest
	if !decodeBody(w, r, &req) {
		return
	}
	status := domain.TaskStatus(strings.ToUpper(req.Status))
	if !status.IsValid() {
		respondError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "status must be a valid task status")
		return
	}

	var rec *domain.ReviewRecord
	err := h.db.InTx(ctx, func(tx *database.Tx) error {
		var err error
		rec, err = h.tasks.CompleteTask(ctx, tx, taskID, user.ID, status, req.RequestReview)
		return err
	})
	if err != nil {
		respondDomainError(w, r, err)
		return
	}

	resp := dto.CompleteTaskResponse{TaskID: taskID, Status: string(status)}
	if rec != nil {
		review := dto.ToReviewResponse(rec)
		resp.Review = &review
	}
	respondJSON(w, http.StatusOK, resp)
}

// handleGetReview returns the current review state of a task.
func (h *Handler) handleGetReview(w http.ResponseWriter, r *http.Request) {
	taskID, ok := extractTaskID(w, r)
	if !ok {
		return
	}

	rec, err := h.reviews.GetReview(r.Context(), taskID)
	if err != nil {
		respondDomainError(w, r, err)
		return
	}

	respondJSON(w, http.StatusOK, dto.ToReviewResponse(rec))
}

// handleGetHistory returns the full transition log of a task.
func (h *Handler) handleGetHistory(w http.ResponseWriter, r *http.Request) {
	taskID, ok := extractTaskID(w, r)
	if !ok {
		return
	}

	entries, err := h.reviews.History(r.Context(), taskID)
	if err != nil {
		respondDomainError(w, r, err)
		return
	}

	respondJSON(w, http.StatusOK, dto.ToHistoryResponse(taskID, entries))
}

// reviewMutation runs fn in a unit of work and writes the resulting record.
func (h *Handler) reviewMutation(
	w http.ResponseWriter,
	r *http.Request,
	fn func(tx *database.Tx, taskID, userID int64) (*domain.ReviewRecord, error),
) {
	ctx := r.Context()

	user, ok := currentUser(w, r)
	if !ok {
		return
	}
	taskID, ok := extractTaskID(w, r)
	if !ok {
		return
	}

	var rec *domain.ReviewRecord
	err := h.db.InTx(ctx, func(tx *database.Tx) error {
		var err error
		rec, err = fn(tx, taskID, user.ID)
		return err
	})
	if err != nil {
		respondDomainError(w, r, err)
		return
	}

	respondJSON(w, http.StatusOK, dto.ToReviewResponse(rec))
}

// handleRequestReview puts a completed task into the review queue.
func (h *Handler) handleRequestReview(w http.ResponseWriter, r *http.Request) {
	h.reviewMutation(w, r, func(tx *database.Tx, taskID, userID int64) (*domain.ReviewRecord, error) {
		return h.reviews.RequestReview(r.Context(), tx, taskID, userID)
	})
}

// handleStartReview claims a task for review.
func (h *Handler) handleStartReview(w http.ResponseWriter, r *http.Request) {
	h.reviewMutation(w, r, func(tx *database.Tx, taskID, userID int64) (*domain.ReviewRecord, error) {
		return h.reviews.StartReview(r.Context(), tx, taskID, userID)
	})
}

// handleCancelReview gives up a review claim without a verdict.
func (h *Handler) handleCancelReview(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	user, ok := currentUser(w, r)
	if !ok {
		return
	}
	taskID, ok := extractTaskID(w, r)
	if !ok {
		return
	}

	err := h.db.InTx(ctx, func(tx *database.Tx) error {
		return h.reviews.CancelReview(ctx, tx, taskID, user.ID)
	})
	if err != nil {
		respondDomainError(w, r, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// handleSetReviewStatus records the caller's review verdict.
func (h *Handler) handleSetReviewStatus(w http.ResponseWriter, r *http.Request) {
	var req dto.ReviewStatusRequest
	if !decodeBody(w, r, &req) {
		return
	}
	status := domain.ReviewStatus(strings.ToUpper(req.Status))
	if !status.IsValid() {
		respondError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "status must be a valid review status")
		return
	}

	h.reviewMutation(w, r, func(tx *database.Tx, taskID, userID int64) (*domain.ReviewRecord, error) {
		return h.reviews.SetReviewStatus(r.Context(), tx, taskID, userID, status, req.Comment)
	})
}

// handleDisputeReview contests a rejection. A comment is required.
func (h *Handler) handleDisputeReview(w http.ResponseWriter, r *http.Request) {
	var req dto.CommentRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Comment) == "" {
		respondDomainError(w, r, domain.ErrEmptyComment)
		return
	}

	h.reviewMutation(w, r, func(tx *database.Tx, taskID, userID int64) (*domain.ReviewRecord, error) {
		return h.reviews.DisputeReview(r.Context(), tx, taskID, userID, req.Comment)
	})
}

// handleResetReview ends the review lifecycle of a task. Only meta-reviewers
// may reset a review directly; mappers do it by completing a task as CREATED.
func (h *Handler) handleResetReview(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	user, ok := currentUser(w, r)
	if !ok {
		return
	}
	taskID, ok := extractTaskID(w, r)
	if !ok {
		return
	}

	err := h.db.InTx(ctx, func(tx *database.Tx) error {
		return h.reviews.ResetReviewByMetaReviewer(ctx, tx, taskID, user.ID)
	})
	if err != nil {
		respondDomainError(w, r, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// handleRequestMetaReview asks for a second-tier review of a verdict.
func (h *Handler) handleRequestMetaReview(w http.ResponseWriter, r *http.Request) {
	var req dto.CommentRequest
	if !decodeBody(w, r, &req) {
		return
	}

	h.reviewMutation(w, r, func(tx *database.Tx, taskID, userID int64) (*domain.ReviewRecord, error) {
		return h.reviews.RequestMetaReview(r.Context(), tx, taskID, userID, req.Comment)
	})
}

// handleStartMetaReview claims a task for meta-review.
func (h *Handler) handleStartMetaReview(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	user, ok := currentUser(w, r)
	if !ok {
		return
	}
	taskID, ok := extractTaskID(w, r)
	if !ok {
		return
	}

	var lease *domain.Lease
	err := h.db.InTx(ctx, func(tx *database.Tx) error {
		var err error
		lease, err = h.reviews.StartMetaReview(ctx, tx, taskID, user.ID)
		return err
	})
	if err != nil {
		respondDomainError(w, r, err)
		return
	}

	respondJSON(w, http.StatusOK, h.leaseResponse(lease))
}

// handleCancelMetaReview gives up a meta-review claim.
func (h *Handler) handleCancelMetaReview(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	user, ok := currentUser(w, r)
	if !ok {
		return
	}
	taskID, ok := extractTaskID(w, r)
	if !ok {
		return
	}

	err := h.db.InTx(ctx, func(tx *database.Tx) error {
		return h.reviews.CancelMetaReview(ctx, tx, taskID, user.ID)
	})
	if err != nil {
		respondDomainError(w, r, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// handleSetMetaReviewStatus records the caller's meta-review verdict.
func (h *Handler) handleSetMetaReviewStatus(w http.ResponseWriter, r *http.Request) {
	var req dto.ReviewStatusRequest
	if !decodeBody(w, r, &req) {
		return
	}
	status := domain.MetaReviewStatus(strings.ToUpper(req.Status))
	if !status.IsValid() {
		respondError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "status must be a valid meta-review status")
		return
	}

	h.reviewMutation(w, r, func(tx *database.Tx, taskID, userID int64) (*domain.ReviewRecord, error) {
		return h.reviews.SetMetaReviewStatus(r.Context(), tx, taskID, userID, status, req.Comment)
	})
}
