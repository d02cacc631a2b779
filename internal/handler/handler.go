package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mtlprog/taskreview/internal/database"
	"github.com/mtlprog/taskreview/internal/domain"
	"github.com/mtlprog/taskreview/internal/handler/dto"
	"github.com/mtlprog/taskreview/internal/middleware"
	"github.com/mtlprog/taskreview/internal/repository"
	"github.com/mtlprog/taskreview/internal/service"
	"github.com/mtlprog/taskreview/internal/static"
)

// Deps are the collaborators the HTTP layer delegates to.
type Deps struct {
	DB       *database.DB
	Engine   *service.ClaimEngine
	Reviews  *service.ReviewService
	Tasks    *service.TaskService
	Selector *service.Selector
	Sweeper  *service.Sweeper
	TTLs     service.LeaseTTLs
	Users    *repository.UserRepository
	History  *repository.ReviewHistoryRepository
	Records  *repository.ReviewRepository
	Auth     service.Authorizer
	Gatherer prometheus.Gatherer
}

// Handler holds dependencies for HTTP handlers.
type Handler struct {
	db             *database.DB
	engine         *service.ClaimEngine
	reviews        *service.ReviewService
	tasks          *service.TaskService
	selector       *service.Selector
	sweeper        *service.Sweeper
	ttls           service.LeaseTTLs
	historyRepo    *repository.ReviewHistoryRepository
	reviewRepo     *repository.ReviewRepository
	authorizer     service.Authorizer
	authMiddleware *middleware.AuthMiddleware
	metrics        http.Handler
}

// New creates a new Handler instance with all dependencies.
func New(deps Deps) *Handler {
	gatherer := deps.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}

	return &Handler{
		db:             deps.DB,
		engine:         deps.Engine,
		reviews:        deps.Reviews,
		tasks:          deps.Tasks,
		selector:       deps.Selector,
		sweeper:        deps.Sweeper,
		ttls:           deps.TTLs,
		historyRepo:    deps.History,
		reviewRepo:     deps.Records,
		authorizer:     deps.Auth,
		authMiddleware: middleware.NewAuthMiddleware(deps.Users),
		metrics:        promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}),
	}
}

// RegisterRoutes registers all HTTP routes.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", h.handleHealthz)
	mux.Handle("GET /metrics", h.metrics)
	mux.HandleFunc("GET /usage.md", h.handleUsageMd)

	// Claims
	mux.Handle("POST /api/v1/claims/{type}/{id}", h.auth(h.handleAcquireClaim))
	mux.Handle("DELETE /api/v1/claims/{type}/{id}", h.auth(h.handleReleaseClaim))
	mux.Handle("PUT /api/v1/claims/{type}/{id}", h.auth(h.handleRenewClaim))
	mux.Handle("GET /api/v1/claims", h.auth(h.handleListClaims))

	// Mapping
	mux.Handle("POST /api/v1/tasks/{id}/complete", h.auth(h.handleCompleteTask))

	// Review
	mux.Handle("GET /api/v1/tasks/{id}/review", h.auth(h.handleGetReview))
	mux.Handle("GET /api/v1/tasks/{id}/review/history", h.auth(h.handleGetHistory))
	mux.Handle("POST /api/v1/tasks/{id}/review/request", h.auth(h.handleRequestReview))
	mux.Handle("POST /api/v1/tasks/{id}/review/start", h.auth(h.handleStartReview))
	mux.Handle("POST /api/v1/tasks/{id}/review/cancel", h.auth(h.handleCancelReview))
	mux.Handle("POST /api/v1/tasks/{id}/review/status", h.auth(h.handleSetReviewStatus))
	mux.Handle("POST /api/v1/tasks/{id}/review/dispute", h.auth(h.handleDisputeReview))
	mux.Handle("POST /api/v1/tasks/{id}/review/reset", h.auth(h.handleResetReview))

	// Meta-review
	mux.Handle("POST /api/v1/tasks/{id}/meta-review/request", h.auth(h.handleRequestMetaReview))
	mux.Handle("POST /api/v1/tasks/{id}/meta-review/start", h.auth(h.handleStartMetaReview))
	mux.Handle("POST /api/v1/tasks/{id}/meta-review/cancel", h.auth(h.handleCancelMetaReview))
	mux.Handle("POST /api/v1/tasks/{id}/meta-review/status", h.auth(h.handleSetMetaReviewStatus))

	// Selection
	mux.Handle("GET /api/v1/next", h.auth(h.handleNext))
	mux.Handle("GET /api/v1/tasks/{id}/nearby", h.auth(h.handleNearby))

	// Stats and operations
	mux.Handle("GET /api/v1/stats/reviews", h.auth(h.handleGetReviewStats))
	mux.Handle("POST /api/v1/admin/sweep", h.auth(h.handleSweep))
}

// Routes returns the full router wrapped with request correlation.
func (h *Handler) Routes() http.Handler {
	mux := http.NewServeMux()
	h.RegisterRoutes(mux)
	return middleware.RequestID(mux)
}

func (h *Handler) auth(fn http.HandlerFunc) http.Handler {
	return h.authMiddleware.Authenticate(fn)
}

// handleHealthz returns 200 OK if the database is reachable.
func (h *Handler) handleHealthz(w http.ResponseWriter, r *http.Request) {
	if err := h.Ping(r.Context()); err != nil {
		slog.Error("database health check failed", "error", err)
		http.Error(w, "database unavailable", http.StatusServiceUnavailable)
		return
	}

	w.WriteHeader(http.StatusOK)
}

// handleUsageMd serves the embedded API usage guide.
func (h *Handler) handleUsageMd(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/markdown; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(static.UsageMd))
}

// Ping checks if the database is reachable (used for testing).
func (h *Handler) Ping(ctx context.Context) error {
	return h.db.Pool().Ping(ctx)
}

// respondJSON writes a JSON response with the given status code.
func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("failed to encode JSON response", "error", err)
	}
}

// respondError writes a standard error response.
func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, dto.NewErrorResponse(code, message))
}

// respondDomainError maps err to its HTTP status and writes it.
func respondDomainError(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, context.Canceled) {
		slog.Debug("request canceled", "request_id", middleware.RequestIDFrom(r.Context()))
		return
	}
	status, body := dto.NewDomainErrorResponse(err)
	respondJSON(w, status, body)
}

// currentUser extracts the authenticated user or writes a 401.
func currentUser(w http.ResponseWriter, r *http.Request) (*domain.User, bool) {
	user, err := middleware.GetUserFromContext(r.Context())
	if err != nil {
		respondError(w, http.StatusUnauthorized, "INVALID_TOKEN", "Authentication required")
		return nil, false
	}
	return user, true
}

// extractTaskID extracts and validates task ID from path parameter.
// Returns (taskID, true) if valid, (0, false) if invalid (error already sent to client).
func extractTaskID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	raw := r.PathValue("id")
	if raw == "" {
		respondError(w, http.StatusBadRequest, "INVALID_REQUEST", "task id is required")
		return 0, false
	}

	taskID, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || taskID <= 0 {
		respondError(w, http.StatusBadRequest, "INVALID_REQUEST", "task id must be a positive integer")
		return 0, false
	}

	return taskID, true
}

// decodeBody decodes an optional JSON body. An empty body leaves dst untouched.
func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	if r.Body == nil {
		return true
	}
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil && !errors.Is(err, io.EOF) {
		respondError(w, http.StatusBadRequest, "INVALID_JSON", "Invalid request body")
		return false
	}
	return true
}

// parseResourceType accepts "task", "review", "meta_review" and "meta-review"
// in any case.
func parseResourceType(raw string) (domain.ResourceType, error) {
	rt := domain.ResourceType(strings.ToUpper(strings.ReplaceAll(raw, "-", "_")))
	if !rt.IsValid() {
		return "", fmt.Errorf("%w: %q", domain.ErrInvalidResourceType, raw)
	}
	return rt, nil
}
