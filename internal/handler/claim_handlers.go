package handler

import (
	"net/http"
	"time"

	"github.com/mtlprog/taskreview/internal/database"
	"github.com/mtlprog/taskreview/internal/domain"
	"github.com/mtlprog/taskreview/internal/handler/dto"
)

// leaseResponse renders a lease with its expiry under the configured TTL.
func (h *Handler) leaseResponse(lease *domain.Lease) dto.LeaseResponse {
	resp := dto.ToLeaseResponse(lease, h.ttls.ExpiresAt(lease))
	resp.Expired = lease.IsStale(time.Now(), h.ttls.For(lease.ResourceType))
	return resp
}

// claimTarget resolves the {type}/{id} path pair of the claims routes.
func claimTarget(w http.ResponseWriter, r *http.Request) (domain.ResourceType, int64, bool) {
	rt, err := parseResourceType(r.PathValue("type"))
	if err != nil {
		respondDomainError(w, r, err)
		return "", 0, false
	}
	taskID, ok := extractTaskID(w, r)
	if !ok {
		return "", 0, false
	}
	return rt, taskID, true
}

// handleAcquireClaim claims a task for mapping, review or meta-review.
// Review kinds go through the review state machine so the record stays in
// step with the lease.
func (h *Handler) handleAcquireClaim(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	user, ok := currentUser(w, r)
	if !ok {
		return
	}
	rt, taskID, ok := claimTarget(w, r)
	if !ok {
		return
	}

	err := h.db.InTx(ctx, func(tx *database.Tx) error {
		var err error
		switch rt {
		case domain.ResourceTask:
			_, err = h.tasks.ClaimTask(ctx, tx, taskID, user.ID)
		case domain.ResourceReview:
			_, err = h.reviews.StartReview(ctx, tx, taskID, user.ID)
		case domain.ResourceMetaReview:
			_, err = h.reviews.StartMetaReview(ctx, tx, taskID, user.ID)
		}
		return err
	})
	if err != nil {
		respondDomainError(w, r, err)
		return
	}

	h.respondLease(w, r, http.StatusCreated, rt, taskID)
}

// handleReleaseClaim gives up a held claim.
func (h *Handler) handleReleaseClaim(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	user, ok := currentUser(w, r)
	if !ok {
		return
	}
	rt, taskID, ok := claimTarget(w, r)
	if !ok {
		return
	}

	err := h.db.InTx(ctx, func(tx *database.Tx) error {
		switch rt {
		case domain.ResourceReview:
			return h.reviews.CancelReview(ctx, tx, taskID, user.ID)
		case domain.ResourceMetaReview:
			return h.reviews.CancelMetaReview(ctx, tx, taskID, user.ID)
		default:
			return h.tasks.ReleaseTask(ctx, tx, taskID, user.ID)
		}
	})
	if err != nil {
		respondDomainError(w, r, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// handleRenewClaim extends a held claim.
func (h *Handler) handleRenewClaim(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	user, ok := currentUser(w, r)
	if !ok {
		return
	}
	rt, taskID, ok := claimTarget(w, r)
	if !ok {
		return
	}

	var lease *domain.Lease
	err := h.db.InTx(ctx, func(tx *database.Tx) error {
		var err error
		lease, err = h.engine.Renew(ctx, tx, rt, taskID, user.ID)
		return err
	})
	if err != nil {
		respondDomainError(w, r, err)
		return
	}

	respondJSON(w, http.StatusOK, h.leaseResponse(lease))
}

// handleListClaims lists every claim the caller holds.
func (h *Handler) handleListClaims(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(w, r)
	if !ok {
		return
	}

	leases, err := h.engine.ListHeldBy(r.Context(), user.ID)
	if err != nil {
		respondDomainError(w, r, err)
		return
	}

	claims := make([]dto.LeaseResponse, len(leases))
	for i, lease := range leases {
		claims[i] = h.leaseResponse(lease)
	}
	respondJSON(w, http.StatusOK, dto.LeasesResponse{Claims: claims})
}

// respondLease reads back a lease committed by the request and writes it.
func (h *Handler) respondLease(w http.ResponseWriter, r *http.Request, status int, rt domain.ResourceType, taskID int64) {
	lease, err := h.engine.Get(r.Context(), rt, taskID)
	if err != nil {
		respondDomainError(w, r, err)
		return
	}
	if lease == nil {
		// Swept between commit and read.
		respondDomainError(w, r, domain.ErrNotHeldByCaller)
		return
	}
	respondJSON(w, status, h.leaseResponse(lease))
}
