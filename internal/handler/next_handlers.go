package handler

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/mtlprog/taskreview/internal/domain"
	"github.com/mtlprog/taskreview/internal/handler/dto"
	"github.com/mtlprog/taskreview/internal/service"
)

var errBadQuery = errors.New("invalid query")

// splitList splits a comma-separated query value, dropping empty items.
func splitList(raw string) []string {
	if raw == "" {
		return nil
	}
	var out []string
	for _, item := range strings.Split(raw, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

func parseIDList(query url.Values, key string) ([]int64, error) {
	var ids []int64
	for _, item := range splitList(query.Get(key)) {
		id, err := strconv.ParseInt(item, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: %s must be a comma-separated list of integers", errBadQuery, key)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func parseTime(query url.Values, key string) (*time.Time, error) {
	raw := query.Get(key)
	if raw == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %s must be an RFC 3339 timestamp", errBadQuery, key)
	}
	return &t, nil
}

func parseBool(query url.Values, key string) (bool, error) {
	raw := query.Get(key)
	if raw == "" {
		return false, nil
	}
	b, err := strconv.ParseBool(raw)
	if err != nil {
		return false, fmt.Errorf("%w: %s must be a boolean", errBadQuery, key)
	}
	return b, nil
}

// parseNextQuery reads the GET /next query string. The queue kind defaults
// to REVIEW.
func parseNextQuery(query url.Values) (service.NextQuery, error) {
	q := service.NextQuery{
		Kind: domain.ResourceReview,
		Sort: query.Get("sort"),
	}
	var err error

	if raw := query.Get("kind"); raw != "" {
		if q.Kind, err = parseResourceType(raw); err != nil {
			return q, err
		}
	}

	switch strings.ToLower(query.Get("order")) {
	case "", "asc":
	case "desc":
		q.Desc = true
	default:
		return q, fmt.Errorf("%w: order must be asc or desc", errBadQuery)
	}

	if q.ExcludeIDs, err = parseIDList(query, "exclude_ids"); err != nil {
		return q, err
	}
	if raw := query.Get("cursor"); raw != "" {
		cursor, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return q, fmt.Errorf("%w: cursor must be a task id", errBadQuery)
		}
		q.CursorTaskID = &cursor
	}
	if q.ExcludeOtherClaimants, err = parseBool(query, "exclude_other_claimants"); err != nil {
		return q, err
	}

	f := &q.Filter
	if f.ProjectIDs, err = parseIDList(query, "project_ids"); err != nil {
		return q, err
	}
	if f.ChallengeIDs, err = parseIDList(query, "challenge_ids"); err != nil {
		return q, err
	}
	if f.RequestedFrom, err = parseTime(query, "requested_from"); err != nil {
		return q, err
	}
	if f.RequestedTo, err = parseTime(query, "requested_to"); err != nil {
		return q, err
	}
	for _, raw := range splitList(query.Get("priorities")) {
		p := domain.TaskPriority(strings.ToUpper(raw))
		if !p.IsValid() {
			return q, fmt.Errorf("%w: unknown priority %q", errBadQuery, raw)
		}
		f.Priorities = append(f.Priorities, p)
	}
	for _, raw := range splitList(query.Get("statuses")) {
		s := domain.ReviewStatus(strings.ToUpper(raw))
		if !s.IsValid() {
			return q, fmt.Errorf("%w: unknown review status %q", errBadQuery, raw)
		}
		f.ReviewStatuses = append(f.ReviewStatuses, s)
	}
	f.Tags = splitList(query.Get("tags"))
	f.RequesterName = query.Get("requester")
	f.ReviewerName = query.Get("reviewer")
	if f.ExcludeOwnRequests, err = parseBool(query, "exclude_own"); err != nil {
		return q, err
	}

	return q, nil
}

// handleNext claims and returns the next eligible task of a queue.
func (h *Handler) handleNext(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(w, r)
	if !ok {
		return
	}

	q, err := parseNextQuery(r.URL.Query())
	if err != nil {
		respondBadQuery(w, r, err)
		return
	}

	task, err := h.selector.Next(r.Context(), user.ID, q)
	if err != nil {
		respondDomainError(w, r, err)
		return
	}

	var resp dto.NextResponse
	if task != nil {
		t := dto.ToTaskResponse(task)
		resp.Task = &t
	}
	respondJSON(w, http.StatusOK, resp)
}

// handleNearby lists unclaimed candidates close to a task without claiming.
func (h *Handler) handleNearby(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(w, r)
	if !ok {
		return
	}
	taskID, ok := extractTaskID(w, r)
	if !ok {
		return
	}

	query := r.URL.Query()
	q := service.NearbyQuery{TaskID: taskID, Kind: domain.ResourceReview}
	var err error
	if raw := query.Get("kind"); raw != "" {
		if q.Kind, err = parseResourceType(raw); err != nil {
			respondDomainError(w, r, err)
			return
		}
	}
	if q.ExcludeIDs, err = parseIDList(query, "exclude_ids"); err != nil {
		respondBadQuery(w, r, err)
		return
	}
	if raw := query.Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 1 || limit > 100 {
			respondError(w, http.StatusBadRequest, "INVALID_REQUEST", "limit must be between 1 and 100")
			return
		}
		q.Limit = limit
	}

	nearby, err := h.selector.Nearby(r.Context(), user.ID, q)
	if err != nil {
		respondDomainError(w, r, err)
		return
	}

	respondJSON(w, http.StatusOK, dto.ToNearbyResponse(nearby))
}

// respondBadQuery writes a 400 for a malformed query string. Domain errors
// raised while parsing keep their own mapping.
func respondBadQuery(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, errBadQuery) {
		respondError(w, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
		return
	}
	respondDomainError(w, r, err)
}
