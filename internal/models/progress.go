// Package models provides data model definitions for the offline layer.
package models

import "time"

// ProgressRecord is per-module completion state for a given course.
// Composite identity (CourseID, ModuleID). The Synced flag transitions
// false to true only after a successful remote acknowledgment.
type ProgressRecord struct {
	CourseID  string  `db:"course_id" json:"course_id"`
	ModuleID  string  `db:"module_id" json:"module_id"`
	Percent   float64 `db:"percent" json:"percent"`
	Completed bool    `db:"completed" json:"completed"`
	UpdatedAt int64   `db:"updated_at" json:"updated_at"`
	Synced    bool    `db:"synced" json:"synced"`
}

// TableName returns the table name for ProgressRecord.
func (ProgressRecord) TableName() string {
	return "progress"
}

// UpdatedAtTime returns the UpdatedAt as time.Time.
func (p *ProgressRecord) UpdatedAtTime() time.Time {
	return time.Unix(p.UpdatedAt, 0)
}

// Touch updates the UpdatedAt timestamp and marks the record unsynced.
func (p *ProgressRecord) Touch() {
	p.UpdatedAt = time.Now().Unix()
	p.Synced = false
}

// ClampPercent forces Percent into [0, 100].
func (p *ProgressRecord) ClampPercent() {
	if p.Percent < 0 {
		p.Percent = 0
	}
	if p.Percent > 100 {
		p.Percent = 100
	}
}
