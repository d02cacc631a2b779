package domain

import "time"

// ResourceType namespaces leases so a review claim never collides with a
// mapping claim or a meta-review claim on the same task.
type ResourceType string

const (
	ResourceTask       ResourceType = "TASK"
	ResourceReview     ResourceType = "REVIEW"
	ResourceMetaReview ResourceType = "META_REVIEW"
)

// ResourceTypes lists every lease namespace in sweep order.
var ResourceTypes = []ResourceType{ResourceTask, ResourceReview, ResourceMetaReview}

// IsValid checks if the resource type is known.
func (t ResourceType) IsValid() bool {
	switch t {
	case ResourceTask, ResourceReview, ResourceMetaReview:
		return true
	default:
		return false
	}
}

// Lease is an exclusive, time-bounded hold on a resource.
// A missing row means the resource is free.
type Lease struct {
	ResourceType ResourceType
	ResourceID   int64
	HolderID     int64
	CreatedAt    time.Time
	RenewedAt    time.Time
}

// IsHeldBy reports whether the lease belongs to the given user.
func (l *Lease) IsHeldBy(userID int64) bool {
	return l != nil && l.HolderID == userID
}

// IsStale reports whether the lease was last renewed before now-ttl.
func (l *Lease) IsStale(now time.Time, ttl time.Duration) bool {
	return l.RenewedAt.Before(now.Add(-ttl))
}
