package domain

import "time"

// User is a mapper, reviewer or meta-reviewer known to the system.
type User struct {
	ID             int64
	Name           string
	Token          string
	IsReviewer     bool
	IsMetaReviewer bool
	IsActive       bool
	CreatedAt      time.Time
}

// Capability is a permission checked by the Authorizer collaborator.
type Capability string

const (
	CapabilityReview     Capability = "review"
	CapabilityMetaReview Capability = "meta_review"
)
