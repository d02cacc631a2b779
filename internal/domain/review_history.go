package domain

import "time"

// HistoryKind tells which state machine a history entry belongs to.
type HistoryKind string

const (
	HistoryKindReview     HistoryKind = "REVIEW"
	HistoryKindMetaReview HistoryKind = "META_REVIEW"
)

// ReviewHistoryEntry is an append-only audit row for one transition.
// Entries are ordered by CreatedAt, then by ID.
type ReviewHistoryEntry struct {
	ID         int64
	TaskID     int64
	ActorID    int64
	Kind       HistoryKind
	FromStatus string
	ToStatus   string
	Comment    string
	CreatedAt  time.Time
}
