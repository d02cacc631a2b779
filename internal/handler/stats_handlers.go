package handler

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/mtlprog/taskreview/internal/domain"
	"github.com/mtlprog/taskreview/internal/handler/dto"
	"github.com/mtlprog/taskreview/internal/middleware"
	"github.com/mtlprog/taskreview/internal/repository"
)

// periodStart resolves a stats period name against now.
func periodStart(period string, now time.Time) (time.Time, bool) {
	switch period {
	case "day":
		return now.AddDate(0, 0, -1), true
	case "week":
		return now.AddDate(0, 0, -7), true
	case "month":
		return now.AddDate(0, -1, 0), true
	case "all":
		return time.Time{}, true
	default:
		return time.Time{}, false
	}
}

// handleGetReviewStats returns per-reviewer verdict counts and review totals.
func (h *Handler) handleGetReviewStats(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if _, ok := currentUser(w, r); !ok {
		return
	}

	query := r.URL.Query()
	period := query.Get("period")
	if period == "" {
		period = "week"
	}

	now := time.Now().UTC()
	start, ok := periodStart(period, now)
	if !ok {
		respondError(w, http.StatusBadRequest, "VALIDATION_ERROR", "invalid period, must be: day, week, month, all")
		return
	}

	filters := repository.StatsFilters{PeriodStart: start, PeriodEnd: now}
	if raw := query.Get("reviewer_id"); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			respondError(w, http.StatusBadRequest, "VALIDATION_ERROR", "reviewer_id must be an integer")
			return
		}
		filters.ReviewerID = &id
	}

	reviewerStats, err := h.historyRepo.GetReviewerStats(ctx, filters)
	if err != nil {
		slog.Error("failed to fetch reviewer stats", "request_id", middleware.RequestIDFrom(ctx), "error", err)
		respondError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to fetch reviewer stats")
		return
	}

	totals, err := h.reviewRepo.GetTotals(ctx)
	if err != nil {
		slog.Error("failed to fetch review totals", "request_id", middleware.RequestIDFrom(ctx), "error", err)
		respondError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to fetch review totals")
		return
	}

	reviewers := make([]dto.ReviewerStats, len(reviewerStats))
	for i, stat := range reviewerStats {
		reviewers[i] = dto.ReviewerStats{
			ReviewerID:   stat.ReviewerID,
			ReviewerName: stat.ReviewerName,
			Approved:     stat.Approved,
			Rejected:     stat.Rejected,
			Disputed:     stat.Disputed,
		}
	}

	respondJSON(w, http.StatusOK, dto.StatsResponse{
		Period:      period,
		PeriodStart: start,
		PeriodEnd:   now,
		Reviewers:   reviewers,
		Totals: dto.ReviewTotals{
			ByReviewStatus:     totals.ByReviewStatus,
			ByMetaReviewStatus: totals.ByMetaReviewStatus,
			ClaimedCount:       totals.ClaimedCount,
		},
	})
}

// handleSweep runs one expiry sweep on demand. Meta-reviewers only.
func (h *Handler) handleSweep(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	user, ok := currentUser(w, r)
	if !ok {
		return
	}
	allowed, err := h.authorizer.Authorize(ctx, user.ID, domain.CapabilityMetaReview, 0)
	if err != nil {
		respondDomainError(w, r, err)
		return
	}
	if !allowed {
		respondDomainError(w, r, domain.ErrNotAuthorized)
		return
	}

	slog.Info("manual sweep requested", "request_id", middleware.RequestIDFrom(ctx), "user_id", user.ID)

	removed, err := h.sweeper.Sweep(ctx)
	if err != nil {
		respondDomainError(w, r, err)
		return
	}

	resp := dto.SweepResponse{Removed: make(map[string]int, len(domain.ResourceTypes))}
	for _, rt := range domain.ResourceTypes {
		resp.Removed[string(rt)] = removed[rt]
	}
	respondJSON(w, http.StatusOK, resp)
}
