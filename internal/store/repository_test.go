// Package store provides unit tests for the offline record stores.
package store

import (
	"database/sql"
	"encoding/json"
	"testing"
	"time"

	_ "modernc.org/sqlite"

	"github.com/rinafcode/teachLink-web-sub000/internal/models"
)

// setupTestRepo creates an in-memory database with the full schema applied.
func setupTestRepo(t *testing.T) *Repository {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("Failed to create test database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	migrator := NewMigrator(db)
	if err := migrator.Initialize(); err != nil {
		t.Fatalf("Failed to initialize migrations: %v", err)
	}
	if err := migrator.Up(); err != nil {
		t.Fatalf("Failed to apply migrations: %v", err)
	}

	return NewRepository(db)
}

func testCourse(id string) *models.CourseRecord {
	return &models.CourseRecord{
		ID:          id,
		Title:       "Intro to Databases",
		Description: "Storage engines from the ground up",
		DurationSec: 5400,
		Modules: []models.ModuleDescriptor{
			{ID: "m1", Type: models.ModuleTypeVideo, AssetURLs: []string{"https://cdn.example.com/v1.mp4"}},
			{ID: "m2", Type: models.ModuleTypeQuiz, Payload: json.RawMessage(`{"questions":3}`)},
		},
		Assets: []models.AssetReference{
			{URL: "https://cdn.example.com/v1.mp4", SizeBytes: 1024},
		},
		SizeBytes: 2048,
	}
}

func TestSaveCourse(t *testing.T) {
	repo := setupTestRepo(t)

	t.Run("RoundTrip", func(t *testing.T) {
		course := testCourse("course-1")
		if err := repo.SaveCourse(course); err != nil {
			t.Fatalf("Failed to save course: %v", err)
		}

		got, err := repo.GetCourse("course-1")
		if err != nil {
			t.Fatalf("Failed to get course: %v", err)
		}
		if got == nil {
			t.Fatal("Expected course, got nil")
		}
		if got.Title != course.Title {
			t.Errorf("Expected title %q, got %q", course.Title, got.Title)
		}
		if len(got.Modules) != 2 {
			t.Fatalf("Expected 2 modules, got %d", len(got.Modules))
		}
		if got.Modules[1].Type != models.ModuleTypeQuiz {
			t.Errorf("Expected quiz module, got %s", got.Modules[1].Type)
		}
		if len(got.Assets) != 1 || got.Assets[0].URL != course.Assets[0].URL {
			t.Errorf("Asset references not preserved: %+v", got.Assets)
		}
		if got.DownloadedAt == 0 || got.LastAccessedAt == 0 {
			t.Error("Expected timestamps to be set on save")
		}
	})

	t.Run("IdempotentUpsert", func(t *testing.T) {
		course := testCourse("course-2")
		if err := repo.SaveCourse(course); err != nil {
			t.Fatalf("Failed to save course: %v", err)
		}
		course.Title = "Updated Title"
		if err := repo.SaveCourse(course); err != nil {
			t.Fatalf("Failed to re-save course: %v", err)
		}

		all, err := repo.GetAllCourses()
		if err != nil {
			t.Fatalf("Failed to list courses: %v", err)
		}
		count := 0
		for _, c := range all {
			if c.ID == "course-2" {
				count++
				if c.Title != "Updated Title" {
					t.Errorf("Expected updated title, got %q", c.Title)
				}
			}
		}
		if count != 1 {
			t.Errorf("Expected exactly one row for course-2, got %d", count)
		}
	})

	t.Run("AbsentReturnsNil", func(t *testing.T) {
		got, err := repo.GetCourse("missing")
		if err != nil {
			t.Fatalf("Expected nil error for missing course, got %v", err)
		}
		if got != nil {
			t.Errorf("Expected nil course, got %+v", got)
		}
	})
}

func TestListCoursesByLastAccessed(t *testing.T) {
	repo := setupTestRepo(t)

	now := time.Now().Unix()
	for i, id := range []string{"old", "middle", "new"} {
		course := testCourse(id)
		course.LastAccessedAt = now + int64(i*100)
		if err := repo.SaveCourse(course); err != nil {
			t.Fatalf("Failed to save course %s: %v", id, err)
		}
	}

	courses, err := repo.ListCoursesByLastAccessed()
	if err != nil {
		t.Fatalf("Failed to list courses: %v", err)
	}
	if len(courses) != 3 {
		t.Fatalf("Expected 3 courses, got %d", len(courses))
	}
	if courses[0].ID != "old" || courses[2].ID != "new" {
		t.Errorf("Expected oldest-accessed first, got %s, %s, %s",
			courses[0].ID, courses[1].ID, courses[2].ID)
	}
}

func TestProgress(t *testing.T) {
	repo := setupTestRepo(t)

	t.Run("SaveAndGet", func(t *testing.T) {
		record := &models.ProgressRecord{
			CourseID: "c1", ModuleID: "m1", Percent: 42.5, UpdatedAt: 1000,
		}
		if err := repo.SaveProgress(record); err != nil {
			t.Fatalf("Failed to save progress: %v", err)
		}

		got, err := repo.GetProgress("c1", "m1")
		if err != nil {
			t.Fatalf("Failed to get progress: %v", err)
		}
		if got == nil || got.Percent != 42.5 {
			t.Fatalf("Expected percent 42.5, got %+v", got)
		}
		if got.Synced {
			t.Error("Expected new progress to be unsynced")
		}
	})

	t.Run("LastWriteWins", func(t *testing.T) {
		first := &models.ProgressRecord{CourseID: "c1", ModuleID: "m2", Percent: 10, UpdatedAt: 1000}
		second := &models.ProgressRecord{CourseID: "c1", ModuleID: "m2", Percent: 90, Completed: true, UpdatedAt: 2000}
		if err := repo.SaveProgress(first); err != nil {
			t.Fatalf("Failed to save first: %v", err)
		}
		if err := repo.SaveProgress(second); err != nil {
			t.Fatalf("Failed to save second: %v", err)
		}

		got, err := repo.GetProgress("c1", "m2")
		if err != nil {
			t.Fatalf("Failed to get progress: %v", err)
		}
		if got.Percent != 90 || !got.Completed {
			t.Errorf("Expected second write to win, got %+v", got)
		}
	})

	t.Run("MarkSynced", func(t *testing.T) {
		record := &models.ProgressRecord{CourseID: "c2", ModuleID: "m1", Percent: 100, UpdatedAt: 1000}
		if err := repo.SaveProgress(record); err != nil {
			t.Fatalf("Failed to save progress: %v", err)
		}

		unsynced, err := repo.GetUnsyncedProgress()
		if err != nil {
			t.Fatalf("Failed to get unsynced: %v", err)
		}
		found := false
		for _, p := range unsynced {
			if p.CourseID == "c2" && p.ModuleID == "m1" {
				found = true
			}
		}
		if !found {
			t.Fatal("Expected c2/m1 in unsynced scan")
		}

		if err := repo.MarkProgressSynced("c2", "m1"); err != nil {
			t.Fatalf("Failed to mark synced: %v", err)
		}
		got, _ := repo.GetProgress("c2", "m1")
		if !got.Synced {
			t.Error("Expected record to be synced")
		}
	})
}

func TestSyncQueueSupersede(t *testing.T) {
	repo := setupTestRepo(t)

	first := &models.SyncQueueItem{
		Type: models.QueueItemProgress, CourseID: "c1", ModuleID: "m1",
		Payload: json.RawMessage(`{"percent":10}`), MaxRetries: 3,
		RetryCount: 2,
	}
	if err := repo.AddToSyncQueue(first); err != nil {
		t.Fatalf("Failed to enqueue first: %v", err)
	}

	second := &models.SyncQueueItem{
		Type: models.QueueItemProgress, CourseID: "c1", ModuleID: "m1",
		Payload: json.RawMessage(`{"percent":80}`), MaxRetries: 3,
	}
	if err := repo.AddToSyncQueue(second); err != nil {
		t.Fatalf("Failed to enqueue second: %v", err)
	}

	items, err := repo.GetSyncQueue()
	if err != nil {
		t.Fatalf("Failed to read queue: %v", err)
	}
	if len(items) != 1 {
		t.Fatalf("Expected one entry after supersede, got %d", len(items))
	}
	if string(items[0].Payload) != `{"percent":80}` {
		t.Errorf("Expected superseding payload, got %s", items[0].Payload)
	}
	if items[0].RetryCount != 0 {
		t.Errorf("Expected retry count reset on supersede, got %d", items[0].RetryCount)
	}
	// The surviving row keeps the first entry's identity, and the caller's
	// item reports it rather than the discarded fresh UUID.
	if second.ID != first.ID {
		t.Errorf("Expected superseding item to report surviving id %s, got %s", first.ID, second.ID)
	}
	if items[0].ID != first.ID {
		t.Errorf("Expected stored id %s, got %s", first.ID, items[0].ID)
	}
	if second.EnqueuedAt != first.EnqueuedAt {
		t.Errorf("Expected original enqueue time %d, got %d", first.EnqueuedAt, second.EnqueuedAt)
	}

	// Entries without entity identity append instead of superseding.
	for i := 0; i < 2; i++ {
		item := &models.SyncQueueItem{
			Type:    models.QueueItemNote,
			Payload: json.RawMessage(`{"text":"hi"}`), MaxRetries: 3,
		}
		if err := repo.AddToSyncQueue(item); err != nil {
			t.Fatalf("Failed to enqueue note: %v", err)
		}
	}
	items, _ = repo.GetSyncQueue()
	if len(items) != 3 {
		t.Errorf("Expected 3 entries (1 progress + 2 notes), got %d", len(items))
	}
}

func TestMoveToDeadLetter(t *testing.T) {
	repo := setupTestRepo(t)

	item := &models.SyncQueueItem{
		Type: models.QueueItemProgress, CourseID: "c1", ModuleID: "m1",
		Payload: json.RawMessage(`{"percent":50}`), MaxRetries: 3, RetryCount: 3,
	}
	if err := repo.AddToSyncQueue(item); err != nil {
		t.Fatalf("Failed to enqueue: %v", err)
	}

	letter, err := repo.MoveToDeadLetter(item, "remote rejected payload")
	if err != nil {
		t.Fatalf("Failed to move to dead letter: %v", err)
	}
	if letter.Reason != "remote rejected payload" {
		t.Errorf("Unexpected reason: %q", letter.Reason)
	}

	items, _ := repo.GetSyncQueue()
	if len(items) != 0 {
		t.Errorf("Expected empty queue, got %d items", len(items))
	}

	letters, err := repo.ListDeadLetters()
	if err != nil {
		t.Fatalf("Failed to list dead letters: %v", err)
	}
	if len(letters) != 1 {
		t.Fatalf("Expected one dead letter, got %d", len(letters))
	}
	if string(letters[0].Payload) != `{"percent":50}` {
		t.Errorf("Payload not preserved: %s", letters[0].Payload)
	}
}

func TestConflicts(t *testing.T) {
	repo := setupTestRepo(t)

	conflict := &models.SyncConflict{
		CourseID: "c1", ModuleID: "m1",
		Local:  json.RawMessage(`{"percent":50}`),
		Remote: json.RawMessage(`{"percent":70}`),
	}
	if err := repo.CreateConflict(conflict); err != nil {
		t.Fatalf("Failed to create conflict: %v", err)
	}
	if conflict.ID == "" {
		t.Fatal("Expected conflict id to be assigned")
	}

	t.Run("PendingLookup", func(t *testing.T) {
		pending, err := repo.HasPendingConflict("c1", "m1")
		if err != nil {
			t.Fatalf("Failed to check pending: %v", err)
		}
		if !pending {
			t.Error("Expected pending conflict for c1/m1")
		}
		pending, _ = repo.HasPendingConflict("c1", "m2")
		if pending {
			t.Error("Expected no pending conflict for c1/m2")
		}
	})

	t.Run("Resolve", func(t *testing.T) {
		if err := repo.MarkConflictResolved(conflict.ID.String(), models.ConflictResolvedLocal); err != nil {
			t.Fatalf("Failed to resolve conflict: %v", err)
		}

		got, err := repo.GetConflict(conflict.ID.String())
		if err != nil {
			t.Fatalf("Failed to get conflict: %v", err)
		}
		if got.State != models.ConflictResolvedLocal {
			t.Errorf("Expected resolved-local, got %s", got.State)
		}
		if got.ResolvedAt == 0 {
			t.Error("Expected resolved_at to be set")
		}

		// Resolving twice fails: transitions leave pending exactly once.
		if err := repo.MarkConflictResolved(conflict.ID.String(), models.ConflictResolvedRemote); err == nil {
			t.Error("Expected error resolving an already-resolved conflict")
		}
	})
}

func TestConflictSupersedesPending(t *testing.T) {
	repo := setupTestRepo(t)

	first := &models.SyncConflict{
		CourseID: "c1", ModuleID: "m1",
		Local:  json.RawMessage(`{"percent":50}`),
		Remote: json.RawMessage(`{"percent":70}`),
	}
	if err := repo.CreateConflict(first); err != nil {
		t.Fatalf("Failed to create first conflict: %v", err)
	}

	second := &models.SyncConflict{
		CourseID: "c1", ModuleID: "m1",
		Local:  json.RawMessage(`{"percent":60}`),
		Remote: json.RawMessage(`{"percent":75}`),
	}
	if err := repo.CreateConflict(second); err != nil {
		t.Fatalf("Failed to create second conflict: %v", err)
	}

	pending, err := repo.ListConflicts(models.ConflictPending)
	if err != nil {
		t.Fatalf("Failed to list conflicts: %v", err)
	}
	if len(pending) != 1 {
		t.Fatalf("Expected one pending conflict per entity, got %d", len(pending))
	}
	if pending[0].ID != second.ID {
		t.Errorf("Expected the newer conflict to survive, got %s", pending[0].ID)
	}
	if string(pending[0].Local) != `{"percent":60}` {
		t.Errorf("Expected freshest local snapshot, got %s", pending[0].Local)
	}

	// Resolved conflicts are history; a new divergence leaves them alone.
	if err := repo.MarkConflictResolved(second.ID.String(), models.ConflictResolvedLocal); err != nil {
		t.Fatalf("Failed to resolve: %v", err)
	}
	third := &models.SyncConflict{
		CourseID: "c1", ModuleID: "m1",
		Local:  json.RawMessage(`{"percent":65}`),
		Remote: json.RawMessage(`{"percent":80}`),
	}
	if err := repo.CreateConflict(third); err != nil {
		t.Fatalf("Failed to create third conflict: %v", err)
	}
	all, err := repo.ListConflicts("")
	if err != nil {
		t.Fatalf("Failed to list all conflicts: %v", err)
	}
	if len(all) != 2 {
		t.Errorf("Expected resolved + pending, got %d conflicts", len(all))
	}
}

func TestDeleteCourseCascade(t *testing.T) {
	repo := setupTestRepo(t)

	if err := repo.SaveCourse(testCourse("c1")); err != nil {
		t.Fatalf("Failed to save course: %v", err)
	}
	if err := repo.SaveProgress(&models.ProgressRecord{CourseID: "c1", ModuleID: "m1", Percent: 50, UpdatedAt: 1}); err != nil {
		t.Fatalf("Failed to save progress: %v", err)
	}
	if err := repo.AddToSyncQueue(&models.SyncQueueItem{
		Type: models.QueueItemProgress, CourseID: "c1", ModuleID: "m1",
		Payload: json.RawMessage(`{}`), MaxRetries: 3,
	}); err != nil {
		t.Fatalf("Failed to enqueue: %v", err)
	}
	if err := repo.CreateConflict(&models.SyncConflict{
		CourseID: "c1", ModuleID: "m1",
		Local: json.RawMessage(`{}`), Remote: json.RawMessage(`{}`),
	}); err != nil {
		t.Fatalf("Failed to create conflict: %v", err)
	}

	// Two courses sharing one blob; one course with an exclusive blob.
	shared := &models.AssetBlob{CourseID: "c1", URL: "https://cdn/a", ContentHash: "aaaa", SizeBytes: 10}
	exclusive := &models.AssetBlob{CourseID: "c1", URL: "https://cdn/b", ContentHash: "bbbb", SizeBytes: 10}
	other := &models.AssetBlob{CourseID: "c2", URL: "https://cdn/a", ContentHash: "aaaa", SizeBytes: 10}
	for _, blob := range []*models.AssetBlob{shared, exclusive, other} {
		if err := repo.SaveAsset(blob); err != nil {
			t.Fatalf("Failed to save asset: %v", err)
		}
	}

	orphans, err := repo.DeleteCourse("c1")
	if err != nil {
		t.Fatalf("Failed to delete course: %v", err)
	}
	if len(orphans) != 1 || orphans[0] != "bbbb" {
		t.Errorf("Expected only the exclusive hash orphaned, got %v", orphans)
	}

	if course, _ := repo.GetCourse("c1"); course != nil {
		t.Error("Expected course deleted")
	}
	if p, _ := repo.GetProgress("c1", "m1"); p != nil {
		t.Error("Expected progress deleted")
	}
	if items, _ := repo.GetSyncQueue(); len(items) != 0 {
		t.Errorf("Expected queue entries deleted, got %d", len(items))
	}
	if pending, _ := repo.HasPendingConflict("c1", "m1"); pending {
		t.Error("Expected conflicts deleted")
	}
	if blob, _ := repo.GetAssetByURL("https://cdn/a"); blob == nil {
		t.Error("Expected shared asset to survive via c2")
	}
}

func TestStorageUsage(t *testing.T) {
	repo := setupTestRepo(t)

	course := testCourse("c1")
	course.SizeBytes = 4096
	if err := repo.SaveCourse(course); err != nil {
		t.Fatalf("Failed to save course: %v", err)
	}
	if err := repo.SaveProgress(&models.ProgressRecord{CourseID: "c1", ModuleID: "m1", UpdatedAt: 1}); err != nil {
		t.Fatalf("Failed to save progress: %v", err)
	}

	used, err := repo.StorageUsage()
	if err != nil {
		t.Fatalf("Failed to get usage: %v", err)
	}
	want := int64(4096 + recordOverheadBytes)
	if used != want {
		t.Errorf("Expected usage %d, got %d", want, used)
	}
}

func TestClearAll(t *testing.T) {
	repo := setupTestRepo(t)

	if err := repo.SaveCourse(testCourse("c1")); err != nil {
		t.Fatalf("Failed to save course: %v", err)
	}
	if err := repo.SaveProgress(&models.ProgressRecord{CourseID: "c1", ModuleID: "m1", UpdatedAt: 1}); err != nil {
		t.Fatalf("Failed to save progress: %v", err)
	}

	if err := repo.ClearAll(); err != nil {
		t.Fatalf("Failed to clear: %v", err)
	}

	counts, err := repo.Count()
	if err != nil {
		t.Fatalf("Failed to count: %v", err)
	}
	if counts.Courses != 0 || counts.QueueItems != 0 || counts.Assets != 0 {
		t.Errorf("Expected empty stores, got %+v", counts)
	}
}
