// Package models provides data model definitions for the offline layer.
package models

import "time"

// AssetBlob indexes one cached media asset. The blob bytes live in the
// content-addressed cache directory under ContentHash; the row records
// which course pulled the asset in and how to find it by source URL.
// Cache entries are never mutated, only replaced wholesale or evicted.
type AssetBlob struct {
	ID           UUID   `db:"id" json:"id"`
	CourseID     string `db:"course_id" json:"course_id"`
	URL          string `db:"url" json:"url"`
	ContentHash  string `db:"content_hash" json:"content_hash"`
	MimeType     string `db:"mime_type" json:"mime_type,omitempty"`
	SizeBytes    int64  `db:"size_bytes" json:"size_bytes"`
	DownloadedAt int64  `db:"downloaded_at" json:"downloaded_at"`
}

// TableName returns the table name for AssetBlob.
func (AssetBlob) TableName() string {
	return "assets"
}

// DownloadedAtTime returns the DownloadedAt as time.Time.
func (a *AssetBlob) DownloadedAtTime() time.Time {
	return time.Unix(a.DownloadedAt, 0)
}
