package dto

import (
	"time"

	"github.com/mtlprog/taskreview/internal/domain"
	"github.com/mtlprog/taskreview/internal/repository"
)

// LeaseResponse is a held claim.
type LeaseResponse struct {
	ResourceType string    `json:"resource_type"`
	ResourceID   int64     `json:"resource_id"`
	HolderID     int64     `json:"holder_id"`
	CreatedAt    time.Time `json:"created_at"`
	RenewedAt    time.Time `json:"renewed_at"`
	ExpiresAt    time.Time `json:"expires_at"`
	// Expired is set once the lease is past its TTL and awaits the sweeper.
	Expired bool `json:"expired"`
}

// LeasesResponse represents the response for GET /claims.
type LeasesResponse struct {
	Claims []LeaseResponse `json:"claims"`
}

// TaskResponse is the task view handed out by the selector.
type TaskResponse struct {
	ID          int64      `json:"id"`
	ChallengeID int64      `json:"challenge_id"`
	ProjectID   int64      `json:"project_id"`
	Name        string     `json:"name"`
	Status      string     `json:"status"`
	Priority    string     `json:"priority"`
	Latitude    float64    `json:"latitude"`
	Longitude   float64    `json:"longitude"`
	MappedBy    *int64     `json:"mapped_by"`
	MappedAt    *time.Time `json:"mapped_at"`
}

// NextResponse represents the response for GET /next. Task is null when the
// queue has nothing the caller could claim.
type NextResponse struct {
	Task *TaskResponse `json:"task"`
}

// NearbyTaskResponse is a candidate with its distance from the reference task.
type NearbyTaskResponse struct {
	Task       TaskResponse `json:"task"`
	DistanceKm float64      `json:"distance_km"`
}

// NearbyResponse represents the response for GET /tasks/{id}/nearby.
type NearbyResponse struct {
	Tasks []NearbyTaskResponse `json:"tasks"`
}

// ReviewResponse is the current review state of a task.
type ReviewResponse struct {
	TaskID           int64      `json:"task_id"`
	ReviewStatus     string     `json:"review_status"`
	RequestedBy      int64      `json:"requested_by"`
	RequestedAt      time.Time  `json:"requested_at"`
	ReviewedBy       *int64     `json:"reviewed_by"`
	ReviewedAt       *time.Time `json:"reviewed_at"`
	ReviewStartedAt  *time.Time `json:"review_started_at"`
	ClaimedBy        *int64     `json:"claimed_by"`
	ClaimedAt        *time.Time `json:"claimed_at"`
	MetaReviewStatus string     `json:"meta_review_status"`
	MetaReviewedBy   *int64     `json:"meta_reviewed_by"`
	MetaReviewedAt   *time.Time `json:"meta_reviewed_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
}

// CompleteTaskResponse represents the response for POST /tasks/{id}/complete.
type CompleteTaskResponse struct {
	TaskID int64           `json:"task_id"`
	Status string          `json:"status"`
	Review *ReviewResponse `json:"review"`
}

// HistoryEntryResponse is one audit row.
type HistoryEntryResponse struct {
	ID         int64     `json:"id"`
	ActorID    int64     `json:"actor_id"`
	Kind       string    `json:"kind"`
	FromStatus string    `json:"from_status"`
	ToStatus   string    `json:"to_status"`
	Comment    string    `json:"comment"`
	CreatedAt  time.Time `json:"created_at"`
}

// HistoryResponse represents the response for GET /tasks/{id}/review/history.
type HistoryResponse struct {
	TaskID  int64                  `json:"task_id"`
	Entries []HistoryEntryResponse `json:"entries"`
}

// ReviewerStats holds verdict counts for a single reviewer.
type ReviewerStats struct {
	ReviewerID   int64  `json:"reviewer_id"`
	ReviewerName string `json:"reviewer_name"`
	Approved     int    `json:"approved"`
	Rejected     int    `json:"rejected"`
	Disputed     int    `json:"disputed"`
}

// ReviewTotals is the current distribution of review states.
type ReviewTotals struct {
	ByReviewStatus     map[string]int `json:"by_review_status"`
	ByMetaReviewStatus map[string]int `json:"by_meta_review_status"`
	ClaimedCount       int            `json:"claimed_count"`
}

// StatsResponse represents the response for GET /stats/reviews.
type StatsResponse struct {
	Period      string          `json:"period"`
	PeriodStart time.Time       `json:"period_start"`
	PeriodEnd   time.Time       `json:"period_end"`
	Reviewers   []ReviewerStats `json:"reviewers"`
	Totals      ReviewTotals    `json:"totals"`
}

// SweepResponse represents the response for POST /admin/sweep.
type SweepResponse struct {
	Removed map[string]int `json:"removed"`
}

// ToLeaseResponse converts domain.Lease to LeaseResponse.
func ToLeaseResponse(lease *domain.Lease, expiresAt time.Time) LeaseResponse {
	return LeaseResponse{
		ResourceType: string(lease.ResourceType),
		ResourceID:   lease.ResourceID,
		HolderID:     lease.HolderID,
		CreatedAt:    lease.CreatedAt,
		RenewedAt:    lease.RenewedAt,
		ExpiresAt:    expiresAt,
	}
}

// ToTaskResponse converts domain.Task to TaskResponse.
func ToTaskResponse(task *domain.Task) TaskResponse {
	return TaskResponse{
		ID:          task.ID,
		ChallengeID: task.ChallengeID,
		ProjectID:   task.ProjectID,
		Name:        task.Name,
		Status:      string(task.Status),
		Priority:    string(task.Priority),
		Latitude:    task.Location.Latitude,
		Longitude:   task.Location.Longitude,
		MappedBy:    task.MappedBy,
		MappedAt:    task.MappedAt,
	}
}

// ToNearbyResponse converts repository.NearbyTask rows to NearbyResponse.
func ToNearbyResponse(nearby []repository.NearbyTask) NearbyResponse {
	tasks := make([]NearbyTaskResponse, len(nearby))
	for i, n := range nearby {
		tasks[i] = NearbyTaskResponse{
			Task:       ToTaskResponse(n.Task),
			DistanceKm: n.DistanceKm,
		}
	}
	return NearbyResponse{Tasks: tasks}
}

// ToReviewResponse converts domain.ReviewRecord to ReviewResponse.
func ToReviewResponse(rec *domain.ReviewRecord) ReviewResponse {
	return ReviewResponse{
		TaskID:           rec.TaskID,
		ReviewStatus:     string(rec.ReviewStatus),
		RequestedBy:      rec.RequestedBy,
		RequestedAt:      rec.RequestedAt,
		ReviewedBy:       rec.ReviewedBy,
		ReviewedAt:       rec.ReviewedAt,
		ReviewStartedAt:  rec.ReviewStartedAt,
		ClaimedBy:        rec.ClaimedBy,
		ClaimedAt:        rec.ClaimedAt,
		MetaReviewStatus: string(rec.MetaReviewStatus),
		MetaReviewedBy:   rec.MetaReviewedBy,
		MetaReviewedAt:   rec.MetaReviewedAt,
		UpdatedAt:        rec.UpdatedAt,
	}
}

// ToHistoryResponse converts history entries to HistoryResponse.
func ToHistoryResponse(taskID int64, entries []*domain.ReviewHistoryEntry) HistoryResponse {
	out := make([]HistoryEntryResponse, len(entries))
	for i, e := range entries {
		out[i] = HistoryEntryResponse{
			ID:         e.ID,
			ActorID:    e.ActorID,
			Kind:       string(e.Kind),
			FromStatus: e.FromStatus,
			ToStatus:   e.ToStatus,
			Comment:    e.Comment,
			CreatedAt:  e.CreatedAt,
		}
	}
	return HistoryResponse{TaskID: taskID, Entries: out}
}
