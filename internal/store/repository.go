// Package store provides CRUD repository operations for the offline data models.
package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/rinafcode/teachLink-web-sub000/internal/models"
)

// recordOverheadBytes is the fixed per-record cost charged against the
// storage quota for progress and queue rows, which have no payload size
// of their own worth measuring.
const recordOverheadBytes = 256

// Repository provides CRUD operations for all offline record stores.
type Repository struct {
	db *sql.DB

	// Prepared statement cache for frequently used queries.
	// Statements are prepared on first use and reused.
	stmtCache sync.Map // map[string]*sql.Stmt
}

// NewRepository creates a new Repository instance.
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// PrepareStmt gets or creates a prepared statement from cache.
func (r *Repository) PrepareStmt(query string) (*sql.Stmt, error) {
	if stmt, ok := r.stmtCache.Load(query); ok {
		return stmt.(*sql.Stmt), nil
	}

	stmt, err := r.db.Prepare(query)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare statement: %w", err)
	}

	actual, loaded := r.stmtCache.LoadOrStore(query, stmt)
	if loaded {
		// Another goroutine already prepared this, close our duplicate
		stmt.Close()
		return actual.(*sql.Stmt), nil
	}

	return stmt, nil
}

// Close closes all cached prepared statements.
func (r *Repository) Close() error {
	var firstErr error
	r.stmtCache.Range(func(key, value interface{}) bool {
		stmt := value.(*sql.Stmt)
		if err := stmt.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		return true
	})
	return firstErr
}

// =====================================================
// CourseRecord Operations
// =====================================================

// SaveCourse upserts a CourseRecord. Idempotent: saving the same record
// twice leaves the same final state.
func (r *Repository) SaveCourse(record *models.CourseRecord) error {
	now := time.Now().Unix()
	if record.DownloadedAt == 0 {
		record.DownloadedAt = now
	}
	if record.LastAccessedAt == 0 {
		record.LastAccessedAt = now
	}

	modulesJSON, err := json.Marshal(record.Modules)
	if err != nil {
		return fmt.Errorf("failed to encode modules: %w", err)
	}
	assetsJSON, err := json.Marshal(record.Assets)
	if err != nil {
		return fmt.Errorf("failed to encode assets: %w", err)
	}

	query := `
	INSERT INTO courses (id, title, description, thumbnail_url, duration_sec,
		modules, assets, downloaded_at, last_accessed_at, size_bytes)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		title = excluded.title,
		description = excluded.description,
		thumbnail_url = excluded.thumbnail_url,
		duration_sec = excluded.duration_sec,
		modules = excluded.modules,
		assets = excluded.assets,
		downloaded_at = excluded.downloaded_at,
		last_accessed_at = excluded.last_accessed_at,
		size_bytes = excluded.size_bytes
	`
	_, err = r.db.Exec(query, record.ID, record.Title, record.Description,
		record.ThumbnailURL, record.DurationSec, string(modulesJSON), string(assetsJSON),
		record.DownloadedAt, record.LastAccessedAt, record.SizeBytes)
	return err
}

// GetCourse retrieves a course by id. Returns (nil, nil) when absent so
// offline reads degrade soft.
func (r *Repository) GetCourse(id string) (*models.CourseRecord, error) {
	query := `
	SELECT id, title, description, thumbnail_url, duration_sec, modules, assets,
		   downloaded_at, last_accessed_at, size_bytes
	FROM courses WHERE id = ?
	`
	stmt, err := r.PrepareStmt(query)
	if err != nil {
		return nil, err
	}

	record, err := scanCourse(stmt.QueryRow(id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return record, err
}

// GetAllCourses returns every downloaded course, newest download first.
func (r *Repository) GetAllCourses() ([]*models.CourseRecord, error) {
	query := `
	SELECT id, title, description, thumbnail_url, duration_sec, modules, assets,
		   downloaded_at, last_accessed_at, size_bytes
	FROM courses ORDER BY downloaded_at DESC
	`
	return r.queryCourses(query)
}

// ListCoursesByLastAccessed returns courses oldest-accessed first, the
// eviction order used by the quota manager.
func (r *Repository) ListCoursesByLastAccessed() ([]*models.CourseRecord, error) {
	query := `
	SELECT id, title, description, thumbnail_url, duration_sec, modules, assets,
		   downloaded_at, last_accessed_at, size_bytes
	FROM courses ORDER BY last_accessed_at ASC
	`
	return r.queryCourses(query)
}

func (r *Repository) queryCourses(query string, args ...interface{}) ([]*models.CourseRecord, error) {
	rows, err := r.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []*models.CourseRecord
	for rows.Next() {
		record, err := scanCourse(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, record)
	}
	return records, rows.Err()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanCourse(row rowScanner) (*models.CourseRecord, error) {
	var record models.CourseRecord
	var modulesJSON, assetsJSON string
	err := row.Scan(&record.ID, &record.Title, &record.Description,
		&record.ThumbnailURL, &record.DurationSec, &modulesJSON, &assetsJSON,
		&record.DownloadedAt, &record.LastAccessedAt, &record.SizeBytes)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(modulesJSON), &record.Modules); err != nil {
		return nil, fmt.Errorf("failed to decode modules for %s: %w", record.ID, err)
	}
	if err := json.Unmarshal([]byte(assetsJSON), &record.Assets); err != nil {
		return nil, fmt.Errorf("failed to decode assets for %s: %w", record.ID, err)
	}
	return &record, nil
}

// TouchCourse updates the last-accessed timestamp, feeding LRU eviction.
func (r *Repository) TouchCourse(id string) error {
	_, err := r.db.Exec(`UPDATE courses SET last_accessed_at = ? WHERE id = ?`,
		time.Now().Unix(), id)
	return err
}

// DeleteCourse removes the course and cascades over its progress rows,
// queue entries, conflicts, and asset index rows in one transaction.
// It returns the content hashes that lost their last index reference so
// the caller can unlink the blob files.
func (r *Repository) DeleteCourse(id string) ([]string, error) {
	tx, err := r.db.Begin()
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	orphans, err := deleteCourseAssetsTx(tx, id)
	if err != nil {
		return nil, err
	}

	for _, stmt := range []string{
		`DELETE FROM progress WHERE course_id = ?`,
		`DELETE FROM sync_queue WHERE course_id = ?`,
		`DELETE FROM conflicts WHERE course_id = ?`,
		`DELETE FROM courses WHERE id = ?`,
	} {
		if _, err := tx.Exec(stmt, id); err != nil {
			return nil, err
		}
	}

	return orphans, tx.Commit()
}

// =====================================================
// ProgressRecord Operations
// =====================================================

// SaveProgress upserts a ProgressRecord. Writes to the same
// (course_id, module_id) are last-write-wins.
func (r *Repository) SaveProgress(record *models.ProgressRecord) error {
	if record.UpdatedAt == 0 {
		record.UpdatedAt = time.Now().Unix()
	}
	query := `
	INSERT INTO progress (course_id, module_id, percent, completed, updated_at, synced)
	VALUES (?, ?, ?, ?, ?, ?)
	ON CONFLICT(course_id, module_id) DO UPDATE SET
		percent = excluded.percent,
		completed = excluded.completed,
		updated_at = excluded.updated_at,
		synced = excluded.synced
	`
	_, err := r.db.Exec(query, record.CourseID, record.ModuleID, record.Percent,
		record.Completed, record.UpdatedAt, record.Synced)
	return err
}

// GetProgress retrieves progress by composite identity. Returns (nil, nil)
// when absent.
func (r *Repository) GetProgress(courseID, moduleID string) (*models.ProgressRecord, error) {
	query := `
	SELECT course_id, module_id, percent, completed, updated_at, synced
	FROM progress WHERE course_id = ? AND module_id = ?
	`
	stmt, err := r.PrepareStmt(query)
	if err != nil {
		return nil, err
	}

	var record models.ProgressRecord
	err = stmt.QueryRow(courseID, moduleID).Scan(&record.CourseID, &record.ModuleID,
		&record.Percent, &record.Completed, &record.UpdatedAt, &record.Synced)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &record, nil
}

// GetCourseProgress returns all progress rows for a course (indexed scan).
func (r *Repository) GetCourseProgress(courseID string) ([]*models.ProgressRecord, error) {
	query := `
	SELECT course_id, module_id, percent, completed, updated_at, synced
	FROM progress WHERE course_id = ? ORDER BY module_id
	`
	return r.queryProgress(query, courseID)
}

// GetUnsyncedProgress returns all progress rows with synced = false.
func (r *Repository) GetUnsyncedProgress() ([]*models.ProgressRecord, error) {
	query := `
	SELECT course_id, module_id, percent, completed, updated_at, synced
	FROM progress WHERE synced = 0 ORDER BY updated_at
	`
	return r.queryProgress(query)
}

func (r *Repository) queryProgress(query string, args ...interface{}) ([]*models.ProgressRecord, error) {
	rows, err := r.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []*models.ProgressRecord
	for rows.Next() {
		var record models.ProgressRecord
		err := rows.Scan(&record.CourseID, &record.ModuleID, &record.Percent,
			&record.Completed, &record.UpdatedAt, &record.Synced)
		if err != nil {
			return nil, err
		}
		records = append(records, &record)
	}
	return records, rows.Err()
}

// MarkProgressSynced flips the synced flag after a remote acknowledgment.
// A no-op if the record is missing.
func (r *Repository) MarkProgressSynced(courseID, moduleID string) error {
	_, err := r.db.Exec(`UPDATE progress SET synced = 1 WHERE course_id = ? AND module_id = ?`,
		courseID, moduleID)
	return err
}

// =====================================================
// SyncQueue Operations
// =====================================================

// AddToSyncQueue inserts a queue item, superseding any existing entry for
// the same (type, course, module) in place: the payload is replaced and the
// retry state resets, so the queue never holds two entries for one entity.
// The surviving row keeps its original id and enqueue time on supersede;
// item is updated to report the stored identity either way.
func (r *Repository) AddToSyncQueue(item *models.SyncQueueItem) error {
	now := time.Now().Unix()
	if item.ID == "" {
		item.ID = models.UUID(uuid.New().String())
	}
	if item.Status == "" {
		item.Status = models.QueueStatusQueued
	}
	item.EnqueuedAt = now
	item.UpdatedAt = now

	if item.CourseID == "" || item.ModuleID == "" {
		query := `
		INSERT INTO sync_queue (id, item_type, course_id, module_id, payload,
			retry_count, max_retries, next_retry_at, status, enqueued_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`
		_, err := r.db.Exec(query, item.ID, item.Type, item.CourseID, item.ModuleID,
			string(item.Payload), item.RetryCount, item.MaxRetries, item.NextRetryAt,
			item.Status, item.EnqueuedAt, item.UpdatedAt)
		return err
	}

	query := `
	INSERT INTO sync_queue (id, item_type, course_id, module_id, payload,
		retry_count, max_retries, next_retry_at, status, enqueued_at, updated_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(item_type, course_id, module_id) WHERE course_id != '' AND module_id != ''
	DO UPDATE SET
		payload = excluded.payload,
		retry_count = 0,
		max_retries = excluded.max_retries,
		next_retry_at = excluded.next_retry_at,
		status = excluded.status,
		updated_at = excluded.updated_at
	RETURNING id, enqueued_at
	`
	return r.db.QueryRow(query, item.ID, item.Type, item.CourseID, item.ModuleID,
		string(item.Payload), item.RetryCount, item.MaxRetries, item.NextRetryAt,
		item.Status, item.EnqueuedAt, item.UpdatedAt).Scan(&item.ID, &item.EnqueuedAt)
}

// GetSyncQueue returns all queue items in enqueue order.
func (r *Repository) GetSyncQueue() ([]*models.SyncQueueItem, error) {
	query := `
	SELECT id, item_type, course_id, module_id, payload, retry_count, max_retries,
		   next_retry_at, status, enqueued_at, updated_at
	FROM sync_queue ORDER BY enqueued_at, id
	`
	rows, err := r.db.Query(query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []*models.SyncQueueItem
	for rows.Next() {
		item, err := scanQueueItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

// GetQueueItem retrieves a single queue item. Returns (nil, nil) when absent.
func (r *Repository) GetQueueItem(id string) (*models.SyncQueueItem, error) {
	query := `
	SELECT id, item_type, course_id, module_id, payload, retry_count, max_retries,
		   next_retry_at, status, enqueued_at, updated_at
	FROM sync_queue WHERE id = ?
	`
	item, err := scanQueueItem(r.db.QueryRow(query, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return item, err
}

func scanQueueItem(row rowScanner) (*models.SyncQueueItem, error) {
	var item models.SyncQueueItem
	var payload string
	err := row.Scan(&item.ID, &item.Type, &item.CourseID, &item.ModuleID, &payload,
		&item.RetryCount, &item.MaxRetries, &item.NextRetryAt, &item.Status,
		&item.EnqueuedAt, &item.UpdatedAt)
	if err != nil {
		return nil, err
	}
	item.Payload = json.RawMessage(payload)
	return &item, nil
}

// UpdateSyncQueueItem persists retry bookkeeping and status transitions.
func (r *Repository) UpdateSyncQueueItem(item *models.SyncQueueItem) error {
	item.UpdatedAt = time.Now().Unix()
	query := `
	UPDATE sync_queue
	SET payload = ?, retry_count = ?, next_retry_at = ?, status = ?, updated_at = ?
	WHERE id = ?
	`
	result, err := r.db.Exec(query, string(item.Payload), item.RetryCount,
		item.NextRetryAt, item.Status, item.UpdatedAt, item.ID)
	if err != nil {
		return err
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// RemoveFromSyncQueue deletes a queue item by id.
func (r *Repository) RemoveFromSyncQueue(id string) error {
	_, err := r.db.Exec(`DELETE FROM sync_queue WHERE id = ?`, id)
	return err
}

// RemoveQueueEntryFor deletes the queue entry for an entity, if any.
func (r *Repository) RemoveQueueEntryFor(itemType, courseID, moduleID string) error {
	_, err := r.db.Exec(`DELETE FROM sync_queue WHERE item_type = ? AND course_id = ? AND module_id = ?`,
		itemType, courseID, moduleID)
	return err
}

// ClearSyncQueue removes every queue item.
func (r *Repository) ClearSyncQueue() error {
	_, err := r.db.Exec(`DELETE FROM sync_queue`)
	return err
}

// MoveToDeadLetter removes a queue item and records it durably so the UI
// can surface the abandoned mutation instead of losing it silently.
func (r *Repository) MoveToDeadLetter(item *models.SyncQueueItem, reason string) (*models.DeadLetter, error) {
	letter := &models.DeadLetter{
		ID:          models.UUID(uuid.New().String()),
		QueueID:     item.ID,
		Type:        item.Type,
		CourseID:    item.CourseID,
		ModuleID:    item.ModuleID,
		Payload:     item.Payload,
		Reason:      reason,
		RetryCount:  item.RetryCount,
		AbandonedAt: time.Now().Unix(),
	}

	tx, err := r.db.Begin()
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	query := `
	INSERT INTO dead_letters (id, queue_id, item_type, course_id, module_id,
		payload, reason, retry_count, abandoned_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	if _, err := tx.Exec(query, letter.ID, letter.QueueID, letter.Type, letter.CourseID,
		letter.ModuleID, string(letter.Payload), letter.Reason, letter.RetryCount,
		letter.AbandonedAt); err != nil {
		return nil, err
	}

	if _, err := tx.Exec(`DELETE FROM sync_queue WHERE id = ?`, item.ID); err != nil {
		return nil, err
	}

	return letter, tx.Commit()
}

// ListDeadLetters returns abandoned queue items, newest first.
func (r *Repository) ListDeadLetters() ([]*models.DeadLetter, error) {
	query := `
	SELECT id, queue_id, item_type, course_id, module_id, payload, reason,
		   retry_count, abandoned_at
	FROM dead_letters ORDER BY abandoned_at DESC
	`
	rows, err := r.db.Query(query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var letters []*models.DeadLetter
	for rows.Next() {
		var letter models.DeadLetter
		var payload string
		err := rows.Scan(&letter.ID, &letter.QueueID, &letter.Type, &letter.CourseID,
			&letter.ModuleID, &payload, &letter.Reason, &letter.RetryCount, &letter.AbandonedAt)
		if err != nil {
			return nil, err
		}
		letter.Payload = json.RawMessage(payload)
		letters = append(letters, &letter)
	}
	return letters, rows.Err()
}

// GetDeadLetter retrieves one dead letter. Returns (nil, nil) when absent.
func (r *Repository) GetDeadLetter(id string) (*models.DeadLetter, error) {
	query := `
	SELECT id, queue_id, item_type, course_id, module_id, payload, reason,
		   retry_count, abandoned_at
	FROM dead_letters WHERE id = ?
	`
	var letter models.DeadLetter
	var payload string
	err := r.db.QueryRow(query, id).Scan(&letter.ID, &letter.QueueID, &letter.Type,
		&letter.CourseID, &letter.ModuleID, &payload, &letter.Reason,
		&letter.RetryCount, &letter.AbandonedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	letter.Payload = json.RawMessage(payload)
	return &letter, nil
}

// RemoveDeadLetter deletes one dead letter, typically after a requeue.
func (r *Repository) RemoveDeadLetter(id string) error {
	_, err := r.db.Exec(`DELETE FROM dead_letters WHERE id = ?`, id)
	return err
}

// PurgeDeadLetters removes every dead letter.
func (r *Repository) PurgeDeadLetters() error {
	_, err := r.db.Exec(`DELETE FROM dead_letters`)
	return err
}

// =====================================================
// SyncConflict Operations
// =====================================================

// CreateConflict records a detected local/remote divergence. A pending
// conflict for the same (course, module) is superseded so at most one
// pending conflict exists per entity, carrying the freshest snapshot of
// both sides. Resolved conflicts are history and stay untouched.
func (r *Repository) CreateConflict(conflict *models.SyncConflict) error {
	if conflict.ID == "" {
		conflict.ID = models.UUID(uuid.New().String())
	}
	if conflict.State == "" {
		conflict.State = models.ConflictPending
	}
	if conflict.DetectedAt == 0 {
		conflict.DetectedAt = time.Now().Unix()
	}

	tx, err := r.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM conflicts WHERE course_id = ? AND module_id = ? AND state = ?`,
		conflict.CourseID, conflict.ModuleID, models.ConflictPending); err != nil {
		return err
	}

	query := `
	INSERT INTO conflicts (id, course_id, module_id, local_value, remote_value,
		state, detected_at, resolved_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`
	if _, err := tx.Exec(query, conflict.ID, conflict.CourseID, conflict.ModuleID,
		string(conflict.Local), string(conflict.Remote), conflict.State,
		conflict.DetectedAt, conflict.ResolvedAt); err != nil {
		return err
	}

	return tx.Commit()
}

// ListConflicts returns conflicts in a given state, or all when state is "".
func (r *Repository) ListConflicts(state string) ([]*models.SyncConflict, error) {
	query := `
	SELECT id, course_id, module_id, local_value, remote_value, state, detected_at, resolved_at
	FROM conflicts
	`
	var args []interface{}
	if state != "" {
		query += ` WHERE state = ?`
		args = append(args, state)
	}
	query += ` ORDER BY detected_at`

	rows, err := r.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var conflicts []*models.SyncConflict
	for rows.Next() {
		conflict, err := scanConflict(rows)
		if err != nil {
			return nil, err
		}
		conflicts = append(conflicts, conflict)
	}
	return conflicts, rows.Err()
}

// GetConflict retrieves one conflict. Returns (nil, nil) when absent.
func (r *Repository) GetConflict(id string) (*models.SyncConflict, error) {
	query := `
	SELECT id, course_id, module_id, local_value, remote_value, state, detected_at, resolved_at
	FROM conflicts WHERE id = ?
	`
	conflict, err := scanConflict(r.db.QueryRow(query, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return conflict, err
}

func scanConflict(row rowScanner) (*models.SyncConflict, error) {
	var conflict models.SyncConflict
	var local, remote string
	err := row.Scan(&conflict.ID, &conflict.CourseID, &conflict.ModuleID, &local,
		&remote, &conflict.State, &conflict.DetectedAt, &conflict.ResolvedAt)
	if err != nil {
		return nil, err
	}
	conflict.Local = json.RawMessage(local)
	conflict.Remote = json.RawMessage(remote)
	return &conflict, nil
}

// HasPendingConflict reports whether a pending conflict exists for an entity.
func (r *Repository) HasPendingConflict(courseID, moduleID string) (bool, error) {
	var count int
	err := r.db.QueryRow(`SELECT COUNT(*) FROM conflicts WHERE course_id = ? AND module_id = ? AND state = ?`,
		courseID, moduleID, models.ConflictPending).Scan(&count)
	return count > 0, err
}

// MarkConflictResolved transitions a conflict out of the pending state.
func (r *Repository) MarkConflictResolved(id, state string) error {
	result, err := r.db.Exec(`UPDATE conflicts SET state = ?, resolved_at = ? WHERE id = ? AND state = ?`,
		state, time.Now().Unix(), id, models.ConflictPending)
	if err != nil {
		return err
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// =====================================================
// Asset Index Operations
// =====================================================

// SaveAsset replaces the index entry for (course, url) wholesale and
// inserts the new one.
func (r *Repository) SaveAsset(blob *models.AssetBlob) error {
	if blob.ID == "" {
		blob.ID = models.UUID(uuid.New().String())
	}
	if blob.DownloadedAt == 0 {
		blob.DownloadedAt = time.Now().Unix()
	}

	tx, err := r.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM assets WHERE course_id = ? AND url = ?`,
		blob.CourseID, blob.URL); err != nil {
		return err
	}

	query := `
	INSERT INTO assets (id, course_id, url, content_hash, mime_type, size_bytes, downloaded_at)
	VALUES (?, ?, ?, ?, ?, ?, ?)
	`
	if _, err := tx.Exec(query, blob.ID, blob.CourseID, blob.URL, blob.ContentHash,
		blob.MimeType, blob.SizeBytes, blob.DownloadedAt); err != nil {
		return err
	}

	return tx.Commit()
}

// GetAssetByURL returns the most recently cached entry for a source URL,
// or (nil, nil) when the URL was never cached.
func (r *Repository) GetAssetByURL(url string) (*models.AssetBlob, error) {
	query := `
	SELECT id, course_id, url, content_hash, mime_type, size_bytes, downloaded_at
	FROM assets WHERE url = ? ORDER BY downloaded_at DESC LIMIT 1
	`
	stmt, err := r.PrepareStmt(query)
	if err != nil {
		return nil, err
	}

	var blob models.AssetBlob
	err = stmt.QueryRow(url).Scan(&blob.ID, &blob.CourseID, &blob.URL,
		&blob.ContentHash, &blob.MimeType, &blob.SizeBytes, &blob.DownloadedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &blob, nil
}

// ListCourseAssets returns the index entries downloaded for a course.
func (r *Repository) ListCourseAssets(courseID string) ([]*models.AssetBlob, error) {
	query := `
	SELECT id, course_id, url, content_hash, mime_type, size_bytes, downloaded_at
	FROM assets WHERE course_id = ? ORDER BY url
	`
	rows, err := r.db.Query(query, courseID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var blobs []*models.AssetBlob
	for rows.Next() {
		var blob models.AssetBlob
		err := rows.Scan(&blob.ID, &blob.CourseID, &blob.URL, &blob.ContentHash,
			&blob.MimeType, &blob.SizeBytes, &blob.DownloadedAt)
		if err != nil {
			return nil, err
		}
		blobs = append(blobs, &blob)
	}
	return blobs, rows.Err()
}

// DeleteCourseAssets removes a course's asset index rows and returns the
// hashes that no longer have any reference.
func (r *Repository) DeleteCourseAssets(courseID string) ([]string, error) {
	tx, err := r.db.Begin()
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	orphans, err := deleteCourseAssetsTx(tx, courseID)
	if err != nil {
		return nil, err
	}
	return orphans, tx.Commit()
}

func deleteCourseAssetsTx(tx *sql.Tx, courseID string) ([]string, error) {
	// Hashes referenced only by this course become orphans after delete.
	rows, err := tx.Query(`
		SELECT content_hash FROM assets WHERE course_id = ?
		AND content_hash NOT IN (SELECT content_hash FROM assets WHERE course_id != ?)
	`, courseID, courseID)
	if err != nil {
		return nil, err
	}

	var orphans []string
	for rows.Next() {
		var hash string
		if err := rows.Scan(&hash); err != nil {
			rows.Close()
			return nil, err
		}
		orphans = append(orphans, hash)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if _, err := tx.Exec(`DELETE FROM assets WHERE course_id = ?`, courseID); err != nil {
		return nil, err
	}
	return orphans, nil
}

// =====================================================
// Storage Accounting
// =====================================================

// StorageUsage estimates bytes used: the sum of course sizes plus a fixed
// per-record overhead for progress and queue entries.
func (r *Repository) StorageUsage() (int64, error) {
	var courseBytes int64
	if err := r.db.QueryRow(`SELECT COALESCE(SUM(size_bytes), 0) FROM courses`).Scan(&courseBytes); err != nil {
		return 0, err
	}

	var recordCount int64
	if err := r.db.QueryRow(`
		SELECT (SELECT COUNT(*) FROM progress) + (SELECT COUNT(*) FROM sync_queue)
	`).Scan(&recordCount); err != nil {
		return 0, err
	}

	return courseBytes + recordCount*recordOverheadBytes, nil
}

// Counts summarizes store contents for the storage info surface.
type Counts struct {
	Courses     int `json:"courses"`
	Assets      int `json:"assets"`
	QueueItems  int `json:"queue_items"`
	Conflicts   int `json:"pending_conflicts"`
	DeadLetters int `json:"dead_letters"`
}

// Count returns row counts across the record stores.
func (r *Repository) Count() (*Counts, error) {
	var c Counts
	err := r.db.QueryRow(`
		SELECT (SELECT COUNT(*) FROM courses),
			   (SELECT COUNT(*) FROM assets),
			   (SELECT COUNT(*) FROM sync_queue),
			   (SELECT COUNT(*) FROM conflicts WHERE state = 'pending'),
			   (SELECT COUNT(*) FROM dead_letters)
	`).Scan(&c.Courses, &c.Assets, &c.QueueItems, &c.Conflicts, &c.DeadLetters)
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// ClearAll wipes every record store; used for full reset of offline mode.
func (r *Repository) ClearAll() error {
	tx, err := r.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, table := range []string{"assets", "dead_letters", "conflicts", "sync_queue", "progress", "courses"} {
		if _, err := tx.Exec(`DELETE FROM ` + table); err != nil {
			return err
		}
	}
	return tx.Commit()
}
