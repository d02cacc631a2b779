package domain

import "time"

// TaskStatus is the lifecycle status of a task, independent of its review status.
type TaskStatus string

const (
	TaskStatusCreated       TaskStatus = "CREATED"
	TaskStatusFixed         TaskStatus = "FIXED"
	TaskStatusFalsePositive TaskStatus = "FALSE_POSITIVE"
	TaskStatusSkipped       TaskStatus = "SKIPPED"
	TaskStatusDeleted       TaskStatus = "DELETED"
	TaskStatusAlreadyFixed  TaskStatus = "ALREADY_FIXED"
	TaskStatusTooHard       TaskStatus = "TOO_HARD"
	TaskStatusAnswered      TaskStatus = "ANSWERED"
	TaskStatusDisabled      TaskStatus = "DISABLED"
)

// IsValid checks if the status is one of the allowed values.
func (s TaskStatus) IsValid() bool {
	switch s {
	case TaskStatusCreated, TaskStatusFixed, TaskStatusFalsePositive,
		TaskStatusSkipped, TaskStatusDeleted, TaskStatusAlreadyFixed,
		TaskStatusTooHard, TaskStatusAnswered, TaskStatusDisabled:
		return true
	default:
		return false
	}
}

// IsCompletion returns true if a mapper finished the task with this status,
// which is the precondition for requesting a review.
func (s TaskStatus) IsCompletion() bool {
	switch s {
	case TaskStatusFixed, TaskStatusFalsePositive, TaskStatusAlreadyFixed,
		TaskStatusTooHard, TaskStatusAnswered:
		return true
	default:
		return false
	}
}

// IsWorkable returns true if the task can still be picked up for mapping.
func (s TaskStatus) IsWorkable() bool {
	return s == TaskStatusCreated || s == TaskStatusSkipped || s == TaskStatusTooHard
}

// WorkableTaskStatuses lists the statuses offered to mappers.
var WorkableTaskStatuses = []TaskStatus{TaskStatusCreated, TaskStatusSkipped, TaskStatusTooHard}

// TaskPriority is the priority tier of a task.
type TaskPriority string

const (
	TaskPriorityHigh   TaskPriority = "HIGH"
	TaskPriorityMedium TaskPriority = "MEDIUM"
	TaskPriorityLow    TaskPriority = "LOW"
)

// IsValid checks if the priority is one of the allowed values.
func (p TaskPriority) IsValid() bool {
	return p == TaskPriorityHigh || p == TaskPriorityMedium || p == TaskPriorityLow
}

// Location is the centroid of a task's geometry.
type Location struct {
	Latitude  float64
	Longitude float64
}

// Task is a unit of work owned by the surrounding challenge-management system.
// This core only reads it and patches its status.
type Task struct {
	ID          int64
	ChallengeID int64
	ProjectID   int64
	Name        string
	Status      TaskStatus
	Priority    TaskPriority
	Location    Location
	MappedBy    *int64
	MappedAt    *time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
}
