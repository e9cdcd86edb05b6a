// Package models provides data model definitions for the offline layer.
package models

import (
	"encoding/json"
	"time"
)

// ModuleType identifies the kind of content a course module carries.
type ModuleType string

const (
	ModuleTypeVideo      ModuleType = "video"
	ModuleTypeQuiz       ModuleType = "quiz"
	ModuleTypeDocument   ModuleType = "document"
	ModuleTypeLive       ModuleType = "live"
	ModuleTypeAssignment ModuleType = "assignment"
)

// ModuleDescriptor describes a single module within a downloaded course.
// Immutable once part of a CourseRecord except via full course re-download.
type ModuleDescriptor struct {
	ID          string          `json:"id"`
	Type        ModuleType      `json:"type"`
	Payload     json.RawMessage `json:"payload,omitempty"`
	DurationSec int64           `json:"duration_sec,omitempty"`
	AssetURLs   []string        `json:"asset_urls,omitempty"`
}

// AssetReference points at a media asset a course depends on.
type AssetReference struct {
	URL       string `json:"url"`
	SizeBytes int64  `json:"size_bytes,omitempty"`
}

// CourseRecord is an offline-stored bundle of course metadata, modules,
// and asset references. Module and asset lists are persisted as JSON.
type CourseRecord struct {
	ID             string             `db:"id" json:"id"`
	Title          string             `db:"title" json:"title"`
	Description    string             `db:"description" json:"description,omitempty"`
	ThumbnailURL   string             `db:"thumbnail_url" json:"thumbnail_url,omitempty"`
	DurationSec    int64              `db:"duration_sec" json:"duration_sec"`
	Modules        []ModuleDescriptor `db:"modules" json:"modules"`
	Assets         []AssetReference   `db:"assets" json:"assets,omitempty"`
	DownloadedAt   int64              `db:"downloaded_at" json:"downloaded_at"`
	LastAccessedAt int64              `db:"last_accessed_at" json:"last_accessed_at"`
	SizeBytes      int64              `db:"size_bytes" json:"size_bytes"`
}

// TableName returns the table name for CourseRecord.
func (CourseRecord) TableName() string {
	return "courses"
}

// DownloadedAtTime returns the DownloadedAt as time.Time.
func (c *CourseRecord) DownloadedAtTime() time.Time {
	return time.Unix(c.DownloadedAt, 0)
}

// Touch updates the LastAccessedAt timestamp.
func (c *CourseRecord) Touch() {
	c.LastAccessedAt = time.Now().Unix()
}

// Module returns the module with the given id, or nil.
func (c *CourseRecord) Module(id string) *ModuleDescriptor {
	for i := range c.Modules {
		if c.Modules[i].ID == id {
			return &c.Modules[i]
		}
	}
	return nil
}
