package service

import (
	"time"

	"github.com/mtlprog/taskreview/internal/domain"
)

// LeaseTTLs holds the time-to-live of each lease type.
type LeaseTTLs struct {
	Task       time.Duration
	Review     time.Duration
	MetaReview time.Duration
}

// For returns the TTL configured for a lease type, or 0 if unknown.
func (t LeaseTTLs) For(rt domain.ResourceType) time.Duration {
	switch rt {
	case domain.ResourceTask:
		return t.Task
	case domain.ResourceReview:
		return t.Review
	case domain.ResourceMetaReview:
		return t.MetaReview
	default:
		return 0
	}
}

// ExpiresAt returns when a lease becomes eligible for sweeping.
func (t LeaseTTLs) ExpiresAt(lease *domain.Lease) time.Time {
	return lease.RenewedAt.Add(t.For(lease.ResourceType))
}
