package sync

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	_ "modernc.org/sqlite"

	"github.com/rinafcode/teachLink-web-sub000/internal/models"
	"github.com/rinafcode/teachLink-web-sub000/internal/store"
	"github.com/rinafcode/teachLink-web-sub000/internal/sync/conflict"
	"github.com/rinafcode/teachLink-web-sub000/internal/sync/queue"
)

// fakeRemote is a scriptable RemoteClient.
type fakeRemote struct {
	pushed      []*models.ProgressRecord
	overwritten []*models.ProgressRecord
	items       []*models.SyncQueueItem

	// conflictWith, when set, makes PushProgress answer 409 with this state.
	conflictWith *RemoteProgress
	// failWith, when set, makes every push fail.
	failWith error
}

func (f *fakeRemote) PushProgress(ctx context.Context, record *models.ProgressRecord) (*RemoteProgress, error) {
	if f.failWith != nil {
		return nil, f.failWith
	}
	if f.conflictWith != nil {
		return f.conflictWith, ErrRemoteConflict
	}
	f.pushed = append(f.pushed, record)
	return nil, nil
}

func (f *fakeRemote) OverwriteProgress(ctx context.Context, record *models.ProgressRecord) error {
	if f.failWith != nil {
		return f.failWith
	}
	f.overwritten = append(f.overwritten, record)
	return nil
}

func (f *fakeRemote) PushItem(ctx context.Context, item *models.SyncQueueItem) error {
	if f.failWith != nil {
		return f.failWith
	}
	f.items = append(f.items, item)
	return nil
}

func setupEngine(t *testing.T, remote RemoteClient, maxRetries int) (*Engine, *store.Repository, *queue.Manager) {
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
	q := queue.NewManager(repo, maxRetries)
	return NewEngine(repo, q, remote), repo, q
}

func saveAndEnqueue(t *testing.T, repo *store.Repository, q *queue.Manager, courseID, moduleID string, percent float64) *models.ProgressRecord {
	t.Helper()
	record := &models.ProgressRecord{
		CourseID: courseID, ModuleID: moduleID, Percent: percent, UpdatedAt: 1000,
	}
	if err := repo.SaveProgress(record); err != nil {
		t.Fatalf("Failed to save progress: %v", err)
	}
	if _, err := q.Enqueue(models.QueueItemProgress, courseID, moduleID, record); err != nil {
		t.Fatalf("Failed to enqueue: %v", err)
	}
	return record
}

func TestSyncDataCleanRun(t *testing.T) {
	remote := &fakeRemote{}
	engine, repo, q := setupEngine(t, remote, 3)

	saveAndEnqueue(t, repo, q, "c1", "m1", 40)
	saveAndEnqueue(t, repo, q, "c1", "m2", 80)
	if _, err := q.Enqueue(models.QueueItemNote, "c1", "m1", map[string]string{"text": "hi"}); err != nil {
		t.Fatalf("Failed to enqueue note: %v", err)
	}

	result, err := engine.SyncData(context.Background())
	if err != nil {
		t.Fatalf("Sync failed: %v", err)
	}
	if !result.Success {
		t.Errorf("Expected success, errors: %v", result.Errors)
	}
	if result.Synced != 3 {
		t.Errorf("Expected 3 synced, got %d", result.Synced)
	}
	if len(result.Conflicts) != 0 {
		t.Errorf("Expected no conflicts, got %d", len(result.Conflicts))
	}

	if size, _ := q.Size(); size != 0 {
		t.Errorf("Expected empty queue after sync, got %d", size)
	}
	unsynced, _ := repo.GetUnsyncedProgress()
	if len(unsynced) != 0 {
		t.Errorf("Expected no unsynced progress, got %d", len(unsynced))
	}
	if len(remote.items) != 1 {
		t.Errorf("Expected one opaque item pushed, got %d", len(remote.items))
	}
}

func TestSyncDataRecordsConflict(t *testing.T) {
	remote := &fakeRemote{
		conflictWith: &RemoteProgress{
			CourseID: "c1", ModuleID: "m1", Percent: 90, UpdatedAt: 2000,
		},
	}
	engine, repo, q := setupEngine(t, remote, 3)
	saveAndEnqueue(t, repo, q, "c1", "m1", 40)

	result, err := engine.SyncData(context.Background())
	if err != nil {
		t.Fatalf("Sync failed: %v", err)
	}
	if len(result.Conflicts) != 1 {
		t.Fatalf("Expected one conflict, got %d", len(result.Conflicts))
	}

	pending, err := repo.ListConflicts(models.ConflictPending)
	if err != nil || len(pending) != 1 {
		t.Fatalf("Expected one pending conflict in store, got %d (%v)", len(pending), err)
	}

	// The queue entry is consumed; re-push happens only via resolution.
	if size, _ := q.Size(); size != 0 {
		t.Errorf("Expected conflicted entry removed from queue, got size %d", size)
	}

	// Local record stays unsynced while the conflict is pending.
	record, _ := repo.GetProgress("c1", "m1")
	if record.Synced {
		t.Error("Expected conflicted progress to stay unsynced")
	}
}

func TestSyncDataSupersedesStaleConflict(t *testing.T) {
	remote := &fakeRemote{
		conflictWith: &RemoteProgress{
			CourseID: "c1", ModuleID: "m1", Percent: 90, UpdatedAt: 2000,
		},
	}
	engine, repo, q := setupEngine(t, remote, 3)

	saveAndEnqueue(t, repo, q, "c1", "m1", 40)
	if _, err := engine.SyncData(context.Background()); err != nil {
		t.Fatalf("First sync failed: %v", err)
	}

	// A fresh local save while the first conflict is still pending diverges
	// again on the next cycle.
	record := &models.ProgressRecord{CourseID: "c1", ModuleID: "m1", Percent: 60, UpdatedAt: 1500}
	if err := repo.SaveProgress(record); err != nil {
		t.Fatalf("Failed to save progress: %v", err)
	}
	if _, err := q.Enqueue(models.QueueItemProgress, "c1", "m1", record); err != nil {
		t.Fatalf("Failed to enqueue: %v", err)
	}
	if _, err := engine.SyncData(context.Background()); err != nil {
		t.Fatalf("Second sync failed: %v", err)
	}

	// Conflicts never stack per entity: the stale snapshot is replaced, so
	// resolving with "local" later can never push an outdated value.
	pending, err := repo.ListConflicts(models.ConflictPending)
	if err != nil {
		t.Fatalf("Failed to list conflicts: %v", err)
	}
	if len(pending) != 1 {
		t.Fatalf("Expected one pending conflict for c1/m1, got %d", len(pending))
	}
	local, err := pending[0].LocalProgress()
	if err != nil {
		t.Fatalf("Failed to decode local side: %v", err)
	}
	if local.Percent != 60 {
		t.Errorf("Expected freshest local percent 60, got %f", local.Percent)
	}
}

func TestSyncDataAgreeingConflictResponse(t *testing.T) {
	// Remote answers 409 but holds the same value: treated as synced.
	remote := &fakeRemote{
		conflictWith: &RemoteProgress{
			CourseID: "c1", ModuleID: "m1", Percent: 40, UpdatedAt: 2000,
		},
	}
	engine, repo, q := setupEngine(t, remote, 3)
	saveAndEnqueue(t, repo, q, "c1", "m1", 40)

	result, err := engine.SyncData(context.Background())
	if err != nil {
		t.Fatalf("Sync failed: %v", err)
	}
	if len(result.Conflicts) != 0 {
		t.Errorf("Expected no conflict for agreeing values, got %d", len(result.Conflicts))
	}
	if result.Synced != 1 {
		t.Errorf("Expected the item counted as synced, got %d", result.Synced)
	}

	record, _ := repo.GetProgress("c1", "m1")
	if !record.Synced {
		t.Error("Expected agreeing record marked synced")
	}
	if size, _ := q.Size(); size != 0 {
		t.Errorf("Expected empty queue, got %d", size)
	}
}

func TestSyncDataDeadLettersAfterRetries(t *testing.T) {
	remote := &fakeRemote{failWith: errors.New("remote down")}
	engine, repo, q := setupEngine(t, remote, 1)
	saveAndEnqueue(t, repo, q, "c1", "m1", 40)

	result, err := engine.SyncData(context.Background())
	if err != nil {
		t.Fatalf("Sync returned hard error: %v", err)
	}
	if result.Success {
		t.Error("Expected unsuccessful result")
	}
	if result.Abandoned != 1 {
		t.Errorf("Expected one abandoned item, got %d", result.Abandoned)
	}

	letters, _ := repo.ListDeadLetters()
	if len(letters) != 1 {
		t.Fatalf("Expected one dead letter, got %d", len(letters))
	}
	if size, _ := q.Size(); size != 0 {
		t.Errorf("Expected empty queue, got %d", size)
	}
}

func TestSyncDataSweepsUnsyncedWithoutQueueEntry(t *testing.T) {
	remote := &fakeRemote{}
	engine, repo, _ := setupEngine(t, remote, 3)

	// Unsynced row with no queue entry, as after a lost enqueue.
	record := &models.ProgressRecord{CourseID: "c1", ModuleID: "m1", Percent: 55, UpdatedAt: 1000}
	if err := repo.SaveProgress(record); err != nil {
		t.Fatalf("Failed to save progress: %v", err)
	}

	result, err := engine.SyncData(context.Background())
	if err != nil {
		t.Fatalf("Sync failed: %v", err)
	}
	if result.Synced != 1 {
		t.Errorf("Expected sweep to push one record, got %d", result.Synced)
	}

	got, _ := repo.GetProgress("c1", "m1")
	if !got.Synced {
		t.Error("Expected swept record marked synced")
	}
}

func TestResolveConflictLocal(t *testing.T) {
	remote := &fakeRemote{
		conflictWith: &RemoteProgress{CourseID: "c1", ModuleID: "m1", Percent: 90, UpdatedAt: 2000},
	}
	engine, repo, q := setupEngine(t, remote, 3)
	saveAndEnqueue(t, repo, q, "c1", "m1", 40)

	if _, err := engine.SyncData(context.Background()); err != nil {
		t.Fatalf("Sync failed: %v", err)
	}
	pending, _ := repo.ListConflicts(models.ConflictPending)
	if len(pending) != 1 {
		t.Fatalf("Expected one pending conflict, got %d", len(pending))
	}

	// Remote accepts the overwrite now.
	remote.conflictWith = nil
	if err := engine.ResolveConflict(context.Background(), pending[0].ID.String(), conflict.StrategyLocal); err != nil {
		t.Fatalf("Failed to resolve: %v", err)
	}

	if len(remote.overwritten) != 1 || remote.overwritten[0].Percent != 40 {
		t.Errorf("Expected local value overwritten to remote, got %+v", remote.overwritten)
	}

	record, _ := repo.GetProgress("c1", "m1")
	if record.Percent != 40 || !record.Synced {
		t.Errorf("Expected local value kept and synced, got %+v", record)
	}

	resolved, _ := repo.GetConflict(pending[0].ID.String())
	if resolved.State != models.ConflictResolvedLocal {
		t.Errorf("Expected resolved-local, got %s", resolved.State)
	}
}

func TestResolveConflictRemote(t *testing.T) {
	remote := &fakeRemote{
		conflictWith: &RemoteProgress{CourseID: "c1", ModuleID: "m1", Percent: 90, Completed: true, UpdatedAt: 2000},
	}
	engine, repo, q := setupEngine(t, remote, 3)
	saveAndEnqueue(t, repo, q, "c1", "m1", 40)

	if _, err := engine.SyncData(context.Background()); err != nil {
		t.Fatalf("Sync failed: %v", err)
	}
	pending, _ := repo.ListConflicts(models.ConflictPending)
	if len(pending) != 1 {
		t.Fatalf("Expected one pending conflict, got %d", len(pending))
	}

	remote.conflictWith = nil
	if err := engine.ResolveConflict(context.Background(), pending[0].ID.String(), conflict.StrategyRemote); err != nil {
		t.Fatalf("Failed to resolve: %v", err)
	}

	// Remote winner is applied locally and nothing is pushed back.
	if len(remote.overwritten) != 0 {
		t.Errorf("Expected no remote overwrite, got %d", len(remote.overwritten))
	}
	record, _ := repo.GetProgress("c1", "m1")
	if record.Percent != 90 || !record.Completed || !record.Synced {
		t.Errorf("Expected remote value applied and synced, got %+v", record)
	}
	if size, _ := q.Size(); size != 0 {
		t.Errorf("Expected no queued push for remote winner, got %d", size)
	}
}

func TestResolveConflictMerge(t *testing.T) {
	remote := &fakeRemote{
		conflictWith: &RemoteProgress{CourseID: "c1", ModuleID: "m1", Percent: 30, Completed: true, UpdatedAt: 2000},
	}
	engine, repo, q := setupEngine(t, remote, 3)
	saveAndEnqueue(t, repo, q, "c1", "m1", 70)

	if _, err := engine.SyncData(context.Background()); err != nil {
		t.Fatalf("Sync failed: %v", err)
	}
	pending, _ := repo.ListConflicts(models.ConflictPending)
	if len(pending) != 1 {
		t.Fatalf("Expected one pending conflict, got %d", len(pending))
	}

	remote.conflictWith = nil
	if err := engine.ResolveConflict(context.Background(), pending[0].ID.String(), conflict.StrategyMerge); err != nil {
		t.Fatalf("Failed to resolve: %v", err)
	}

	record, _ := repo.GetProgress("c1", "m1")
	if record.Percent != 70 || !record.Completed {
		t.Errorf("Expected merged max-percent and completed, got %+v", record)
	}
	if len(remote.overwritten) != 1 {
		t.Errorf("Expected merged value pushed, got %d overwrites", len(remote.overwritten))
	}
	if size, _ := q.Size(); size != 0 {
		t.Errorf("Expected no residual queue entry, got %d", size)
	}
}

func TestResolveConflictQueuesWhenRemoteDown(t *testing.T) {
	remote := &fakeRemote{
		conflictWith: &RemoteProgress{CourseID: "c1", ModuleID: "m1", Percent: 90, UpdatedAt: 2000},
	}
	engine, repo, q := setupEngine(t, remote, 3)
	saveAndEnqueue(t, repo, q, "c1", "m1", 40)

	if _, err := engine.SyncData(context.Background()); err != nil {
		t.Fatalf("Sync failed: %v", err)
	}
	pending, _ := repo.ListConflicts(models.ConflictPending)

	// Overwrite fails: the winner must be buffered, not lost.
	remote.conflictWith = nil
	remote.failWith = errors.New("offline again")
	if err := engine.ResolveConflict(context.Background(), pending[0].ID.String(), conflict.StrategyLocal); err != nil {
		t.Fatalf("Failed to resolve: %v", err)
	}

	if size, _ := q.Size(); size != 1 {
		t.Errorf("Expected winner re-queued for next cycle, got size %d", size)
	}
	resolved, _ := repo.GetConflict(pending[0].ID.String())
	if resolved.State != models.ConflictResolvedLocal {
		t.Errorf("Expected conflict resolved despite buffering, got %s", resolved.State)
	}
}

func TestResolveConflictInvalidStates(t *testing.T) {
	engine, repo, _ := setupEngine(t, &fakeRemote{}, 3)

	if err := engine.ResolveConflict(context.Background(), "missing", conflict.StrategyLocal); err == nil {
		t.Error("Expected error for unknown conflict id")
	}

	c := &models.SyncConflict{
		CourseID: "c1", ModuleID: "m1",
		Local:  []byte(`{"course_id":"c1","module_id":"m1","percent":10}`),
		Remote: []byte(`{"course_id":"c1","module_id":"m1","percent":20}`),
		State:  models.ConflictResolvedLocal,
	}
	if err := repo.CreateConflict(c); err != nil {
		t.Fatalf("Failed to create conflict: %v", err)
	}
	if err := engine.ResolveConflict(context.Background(), c.ID.String(), conflict.StrategyLocal); err == nil {
		t.Error("Expected error resolving a non-pending conflict")
	}
}
