package domain

import "time"

// ReviewStatus is the primary review state of a task.
type ReviewStatus string

const (
	ReviewStatusNone      ReviewStatus = "NONE"
	ReviewStatusRequested ReviewStatus = "REQUESTED"
	ReviewStatusApproved  ReviewStatus = "APPROVED"
	ReviewStatusRejected  ReviewStatus = "REJECTED"
	ReviewStatusDisputed  ReviewStatus = "DISPUTED"
)

// IsValid checks if the status is one of the allowed values.
func (s ReviewStatus) IsValid() bool {
	switch s {
	case ReviewStatusNone, ReviewStatusRequested, ReviewStatusApproved,
		ReviewStatusRejected, ReviewStatusDisputed:
		return true
	default:
		return false
	}
}

// IsClaimable returns true if a reviewer may hold a claim in this status.
func (s ReviewStatus) IsClaimable() bool {
	return s == ReviewStatusRequested || s == ReviewStatusDisputed
}

// IsVerdict returns true for the statuses a meta-review can be laid over.
func (s ReviewStatus) IsVerdict() bool {
	return s == ReviewStatusApproved || s == ReviewStatusRejected
}

// CanTransitionTo is the complete transition table for review statuses.
// Moving to NONE is only ever done by a quality-gate reset.
func (s ReviewStatus) CanTransitionTo(next ReviewStatus) bool {
	switch s {
	case ReviewStatusNone:
		return next == ReviewStatusRequested
	case ReviewStatusRequested:
		switch next {
		case ReviewStatusRequested, ReviewStatusApproved, ReviewStatusRejected,
			ReviewStatusDisputed, ReviewStatusNone:
			return true
		}
		return false
	case ReviewStatusApproved:
		return next == ReviewStatusRequested || next == ReviewStatusNone
	case ReviewStatusRejected:
		switch next {
		case ReviewStatusRequested, ReviewStatusDisputed, ReviewStatusNone:
			return true
		}
		return false
	case ReviewStatusDisputed:
		switch next {
		case ReviewStatusRequested, ReviewStatusApproved, ReviewStatusRejected, ReviewStatusNone:
			return true
		}
		return false
	default:
		return false
	}
}

// IsReviewerVerdict returns true for the targets a claiming reviewer may set.
func (s ReviewStatus) IsReviewerVerdict() bool {
	switch s {
	case ReviewStatusApproved, ReviewStatusRejected, ReviewStatusDisputed, ReviewStatusRequested:
		return true
	default:
		return false
	}
}

// MetaReviewStatus is the second-tier review laid over an APPROVED or REJECTED verdict.
type MetaReviewStatus string

const (
	MetaReviewStatusNone      MetaReviewStatus = "NONE"
	MetaReviewStatusRequested MetaReviewStatus = "REQUESTED"
	MetaReviewStatusApproved  MetaReviewStatus = "APPROVED"
	MetaReviewStatusRejected  MetaReviewStatus = "REJECTED"
)

// IsValid checks if the status is one of the allowed values.
func (s MetaReviewStatus) IsValid() bool {
	switch s {
	case MetaReviewStatusNone, MetaReviewStatusRequested,
		MetaReviewStatusApproved, MetaReviewStatusRejected:
		return true
	default:
		return false
	}
}

// CanTransitionTo is the complete transition table for meta-review statuses.
// A REJECTED meta-review goes back to REQUESTED for another reviewer pass.
func (s MetaReviewStatus) CanTransitionTo(next MetaReviewStatus) bool {
	switch s {
	case MetaReviewStatusNone:
		return next == MetaReviewStatusRequested
	case MetaReviewStatusRequested:
		return next == MetaReviewStatusApproved || next == MetaReviewStatusRejected
	case MetaReviewStatusApproved:
		return false
	case MetaReviewStatusRejected:
		return next == MetaReviewStatusRequested
	default:
		return false
	}
}

// IsVerdict returns true for the targets a meta-reviewer may set.
func (s MetaReviewStatus) IsVerdict() bool {
	return s == MetaReviewStatusApproved || s == MetaReviewStatusRejected
}

// ReviewRecord is the current review state of one task.
// ClaimedBy is only ever set while ReviewStatus is REQUESTED or DISPUTED.
type ReviewRecord struct {
	TaskID           int64
	ReviewStatus     ReviewStatus
	RequestedBy      int64
	RequestedAt      time.Time
	ReviewedBy       *int64
	ReviewedAt       *time.Time
	ReviewStartedAt  *time.Time
	ClaimedBy        *int64
	ClaimedAt        *time.Time
	MetaReviewStatus MetaReviewStatus
	MetaReviewedBy   *int64
	MetaReviewedAt   *time.Time
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// IsClaimedBy reports whether the given reviewer holds the record's claim.
func (r *ReviewRecord) IsClaimedBy(userID int64) bool {
	return r != nil && r.ClaimedBy != nil && *r.ClaimedBy == userID
}
