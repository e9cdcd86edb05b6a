// Package models provides data model definitions for the offline layer.
package models

import "encoding/json"

// Queue item types for offline-capable mutations.
const (
	QueueItemProgress   = "progress"
	QueueItemQuizResult = "quiz_result"
	QueueItemBookmark   = "bookmark"
	QueueItemNote       = "note"
)

// Queue item states.
const (
	QueueStatusQueued   = "queued"
	QueueStatusInFlight = "in_flight"
)

// SyncQueueItem is a buffered mutation awaiting transmission to the
// remote system. At most one item exists per (Type, CourseID, ModuleID);
// a later write supersedes the earlier one in place.
type SyncQueueItem struct {
	ID          UUID            `db:"id" json:"id"`
	Type        string          `db:"item_type" json:"type"`
	CourseID    string          `db:"course_id" json:"course_id,omitempty"`
	ModuleID    string          `db:"module_id" json:"module_id,omitempty"`
	Payload     json.RawMessage `db:"payload" json:"payload"`
	RetryCount  int             `db:"retry_count" json:"retry_count"`
	MaxRetries  int             `db:"max_retries" json:"max_retries"`
	NextRetryAt int64           `db:"next_retry_at" json:"next_retry_at"`
	Status      string          `db:"status" json:"status"`
	EnqueuedAt  int64           `db:"enqueued_at" json:"enqueued_at"`
	UpdatedAt   int64           `db:"updated_at" json:"updated_at"`
}

// TableName returns the table name for SyncQueueItem.
func (SyncQueueItem) TableName() string {
	return "sync_queue"
}

// DeadLetter records a queue item abandoned after exhausting its retry
// budget, so the failure is durable and the UI can surface it.
type DeadLetter struct {
	ID          UUID            `db:"id" json:"id"`
	QueueID     UUID            `db:"queue_id" json:"queue_id"`
	Type        string          `db:"item_type" json:"type"`
	CourseID    string          `db:"course_id" json:"course_id,omitempty"`
	ModuleID    string          `db:"module_id" json:"module_id,omitempty"`
	Payload     json.RawMessage `db:"payload" json:"payload"`
	Reason      string          `db:"reason" json:"reason"`
	RetryCount  int             `db:"retry_count" json:"retry_count"`
	AbandonedAt int64           `db:"abandoned_at" json:"abandoned_at"`
}

// TableName returns the table name for DeadLetter.
func (DeadLetter) TableName() string {
	return "dead_letters"
}
