// Package events publishes review history entries to interested subsystems
// after the transition has committed. Delivery is best effort.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/mtlprog/taskreview/internal/domain"
)

// Emitter receives every committed history entry.
type Emitter interface {
	Emit(ctx context.Context, entry *domain.ReviewHistoryEntry) error
}

// HistoryEvent is the JSON payload published for one entry.
type HistoryEvent struct {
	ID         int64     `json:"id"`
	TaskID     int64     `json:"task_id"`
	ActorID    int64     `json:"actor_id"`
	Kind       string    `json:"kind"`
	FromStatus string    `json:"from_status"`
	ToStatus   string    `json:"to_status"`
	Comment    string    `json:"comment,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

func newHistoryEvent(entry *domain.ReviewHistoryEntry) HistoryEvent {
	return HistoryEvent{
		ID:         entry.ID,
		TaskID:     entry.TaskID,
		ActorID:    entry.ActorID,
		Kind:       string(entry.Kind),
		FromStatus: entry.FromStatus,
		ToStatus:   entry.ToStatus,
		Comment:    entry.Comment,
		CreatedAt:  entry.CreatedAt,
	}
}

// RedisEmitter publishes entries as JSON on a Redis channel.
type RedisEmitter struct {
	client  *redis.Client
	channel string
}

// NewRedisEmitter creates an emitter publishing on channel.
func NewRedisEmitter(client *redis.Client, channel string) *RedisEmitter {
	return &RedisEmitter{client: client, channel: channel}
}

// Emit implements Emitter.
func (e *RedisEmitter) Emit(ctx context.Context, entry *domain.ReviewHistoryEntry) error {
	data, err := json.Marshal(newHistoryEvent(entry))
	if err != nil {
		return fmt.Errorf("marshal history event: %w", err)
	}
	if err := e.client.Publish(ctx, e.channel, data).Err(); err != nil {
		return fmt.Errorf("publish history event: %w", err)
	}
	return nil
}

// LogEmitter writes entries to the structured log.
type LogEmitter struct{}

// Emit implements Emitter.
func (LogEmitter) Emit(_ context.Context, entry *domain.ReviewHistoryEntry) error {
	slog.Info("review history event",
		"task_id", entry.TaskID,
		"actor_id", entry.ActorID,
		"kind", entry.Kind,
		"from_status", entry.FromStatus,
		"to_status", entry.ToStatus,
		"history_id", entry.ID,
	)
	return nil
}
