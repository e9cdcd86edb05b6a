// Package models provides data model definitions for the offline layer.
package models

import (
	"encoding/json"
	"time"
)

// Conflict resolution states.
const (
	ConflictPending        = "pending"
	ConflictResolvedLocal  = "resolved-local"
	ConflictResolvedRemote = "resolved-remote"
	ConflictResolvedMerged = "resolved-merged"
)

// SyncConflict records a detected divergence between local and remote
// progress for the same (CourseID, ModuleID). Local and Remote hold the
// JSON-encoded ProgressRecord of each side at detection time.
type SyncConflict struct {
	ID         UUID            `db:"id" json:"id"`
	CourseID   string          `db:"course_id" json:"course_id"`
	ModuleID   string          `db:"module_id" json:"module_id"`
	Local      json.RawMessage `db:"local_value" json:"local"`
	Remote     json.RawMessage `db:"remote_value" json:"remote"`
	State      string          `db:"state" json:"state"`
	DetectedAt int64           `db:"detected_at" json:"detected_at"`
	ResolvedAt int64           `db:"resolved_at" json:"resolved_at,omitempty"`
}

// TableName returns the table name for SyncConflict.
func (SyncConflict) TableName() string {
	return "conflicts"
}

// DetectedAtTime returns the DetectedAt as time.Time.
func (c *SyncConflict) DetectedAtTime() time.Time {
	return time.Unix(c.DetectedAt, 0)
}

// LocalProgress decodes the local side of the conflict.
func (c *SyncConflict) LocalProgress() (*ProgressRecord, error) {
	var p ProgressRecord
	if err := json.Unmarshal(c.Local, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// RemoteProgress decodes the remote side of the conflict.
func (c *SyncConflict) RemoteProgress() (*ProgressRecord, error) {
	var p ProgressRecord
	if err := json.Unmarshal(c.Remote, &p); err != nil {
		return nil, err
	}
	return &p, nil
}
