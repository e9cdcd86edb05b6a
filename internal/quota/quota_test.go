package quota

import (
	"database/sql"
	"testing"

	_ "modernc.org/sqlite"

	apperrors "github.com/rinafcode/teachLink-web-sub000/internal/errors"
	"github.com/rinafcode/teachLink-web-sub000/internal/models"
	"github.com/rinafcode/teachLink-web-sub000/internal/store"
)

// repoRemover deletes courses straight from the store, standing in for the
// offline service in tests.
type repoRemover struct {
	repo    *store.Repository
	removed []string
}

func (r *repoRemover) Remove(courseID string) error {
	if _, err := r.repo.DeleteCourse(courseID); err != nil {
		return err
	}
	r.removed = append(r.removed, courseID)
	return nil
}

func setupQuota(t *testing.T, maxBytes int64) (*Manager, *store.Repository, *repoRemover) {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("Failed to create test database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	m := store.NewMigrator(db)
	if err := m.Initialize(); err != nil {
		t.Fatalf("Failed to initialize migrations: %v", err)
	}
	if err := m.Up(); err != nil {
		t.Fatalf("Failed to apply migrations: %v", err)
	}

	repo := store.NewRepository(db)
	remover := &repoRemover{repo: repo}
	return NewManager(repo, remover, maxBytes), repo, remover
}

func saveCourseSized(t *testing.T, repo *store.Repository, id string, size, lastAccessed int64) {
	t.Helper()
	err := repo.SaveCourse(&models.CourseRecord{
		ID:             id,
		Title:          id,
		Modules:        []models.ModuleDescriptor{},
		SizeBytes:      size,
		DownloadedAt:   1,
		LastAccessedAt: lastAccessed,
	})
	if err != nil {
		t.Fatalf("Failed to save course %s: %v", id, err)
	}
}

func TestEnsureCapacityNoEviction(t *testing.T) {
	mgr, repo, _ := setupQuota(t, 1000)
	saveCourseSized(t, repo, "c1", 300, 100)

	evicted, err := mgr.EnsureCapacity(200)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if len(evicted) != 0 {
		t.Errorf("Expected no eviction, got %v", evicted)
	}
}

func TestEnsureCapacityEvictsOldestFirst(t *testing.T) {
	mgr, repo, remover := setupQuota(t, 1000)

	saveCourseSized(t, repo, "oldest", 400, 100)
	saveCourseSized(t, repo, "middle", 400, 200)
	saveCourseSized(t, repo, "newest", 100, 300)

	// 900 used, quota 1000: a 400-byte entry needs 300 freed.
	evicted, err := mgr.EnsureCapacity(400)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if len(evicted) != 1 || evicted[0] != "oldest" {
		t.Fatalf("Expected only the oldest course evicted, got %v", evicted)
	}
	if len(remover.removed) != 1 {
		t.Errorf("Expected remover called once, got %v", remover.removed)
	}

	// The survivors are untouched.
	if course, _ := repo.GetCourse("middle"); course == nil {
		t.Error("Expected middle course to survive")
	}
	if course, _ := repo.GetCourse("newest"); course == nil {
		t.Error("Expected newest course to survive")
	}
}

func TestEnsureCapacityEvictsMultiple(t *testing.T) {
	mgr, repo, _ := setupQuota(t, 1000)

	saveCourseSized(t, repo, "a", 400, 100)
	saveCourseSized(t, repo, "b", 400, 200)
	saveCourseSized(t, repo, "c", 100, 300)

	evicted, err := mgr.EnsureCapacity(800)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if len(evicted) != 2 || evicted[0] != "a" || evicted[1] != "b" {
		t.Errorf("Expected a then b evicted, got %v", evicted)
	}
}

func TestEnsureCapacityEntryTooLarge(t *testing.T) {
	mgr, repo, remover := setupQuota(t, 1000)
	saveCourseSized(t, repo, "c1", 500, 100)

	_, err := mgr.EnsureCapacity(1500)
	if err == nil {
		t.Fatal("Expected error for oversized entry")
	}
	if !apperrors.Is(err, apperrors.ErrEntryTooLarge) {
		t.Errorf("Expected QUOTA_ENTRY_TOO_LARGE, got %v", err)
	}
	// Nothing may be evicted when eviction cannot possibly help.
	if len(remover.removed) != 0 {
		t.Errorf("Expected no eviction, got %v", remover.removed)
	}
}

func TestEnsureCapacityDisabledQuota(t *testing.T) {
	mgr, repo, _ := setupQuota(t, 0)
	saveCourseSized(t, repo, "c1", 1<<40, 100)

	evicted, err := mgr.EnsureCapacity(1 << 40)
	if err != nil {
		t.Fatalf("Expected disabled quota to admit anything, got %v", err)
	}
	if len(evicted) != 0 {
		t.Errorf("Expected no eviction with quota disabled, got %v", evicted)
	}
}

func TestUsage(t *testing.T) {
	mgr, repo, _ := setupQuota(t, 1000)
	saveCourseSized(t, repo, "c1", 250, 100)

	info, err := mgr.Usage()
	if err != nil {
		t.Fatalf("Failed to get usage: %v", err)
	}
	if info.UsedBytes != 250 {
		t.Errorf("Expected 250 used, got %d", info.UsedBytes)
	}
	if info.QuotaBytes != 1000 {
		t.Errorf("Expected quota 1000, got %d", info.QuotaBytes)
	}
	if info.Percent != 25 {
		t.Errorf("Expected 25%%, got %f", info.Percent)
	}
}

func TestSetQuota(t *testing.T) {
	mgr, _, _ := setupQuota(t, 1000)

	mgr.SetQuota(2000)
	if got := mgr.Quota(); got != 2000 {
		t.Errorf("Expected quota 2000, got %d", got)
	}
}
