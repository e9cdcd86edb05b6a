// Package offline is the facade over the offline layer: local record
// store, asset cache, sync queue, and quota enforcement behind one API.
package offline

import (
	"context"
	"path/filepath"
	"time"

	"github.com/rinafcode/teachLink-web-sub000/internal/assets"
	"github.com/rinafcode/teachLink-web-sub000/internal/config"
	apperrors "github.com/rinafcode/teachLink-web-sub000/internal/errors"
	"github.com/rinafcode/teachLink-web-sub000/internal/logging"
	"github.com/rinafcode/teachLink-web-sub000/internal/models"
	"github.com/rinafcode/teachLink-web-sub000/internal/quota"
	"github.com/rinafcode/teachLink-web-sub000/internal/store"
	syncpkg "github.com/rinafcode/teachLink-web-sub000/internal/sync"
	"github.com/rinafcode/teachLink-web-sub000/internal/sync/conflict"
	"github.com/rinafcode/teachLink-web-sub000/internal/sync/queue"
)

// Notifier receives offline lifecycle events, typically fanned out to
// connected UI clients over websockets. All methods must be non-blocking.
type Notifier interface {
	Notify(event string, payload interface{})
}

// noopNotifier is used when no notifier is wired.
type noopNotifier struct{}

func (noopNotifier) Notify(string, interface{}) {}

// Service is the single entry point for the offline layer.
//
// Initialization can fail when local storage is unavailable; the service
// then degrades rather than crashing: reads return empty results, writes
// return ErrStorageUnavailable.
type Service struct {
	cfg      *config.Config
	client   syncpkg.RemoteClient
	db       *store.DB
	repo     *store.Repository
	cache    *assets.Cache
	fetcher  *assets.Fetcher
	quota    *quota.Manager
	queue    *queue.Manager
	engine   *syncpkg.Engine
	notifier Notifier

	initErr error
}

// New creates an uninitialized Service. Call Initialize before use.
func New(cfg *config.Config, client syncpkg.RemoteClient) *Service {
	s := &Service{
		cfg:      cfg,
		notifier: noopNotifier{},
	}
	if client == nil {
		client = syncpkg.NewHTTPClient(cfg.RemoteBaseURL, cfg.RemoteTimeout)
	}
	s.client = client
	return s
}

// SetNotifier wires an event notifier. Must be called before Initialize
// or between operations; not safe concurrently with event emission.
func (s *Service) SetNotifier(n Notifier) {
	if n != nil {
		s.notifier = n
	}
}

// Initialize opens local storage and runs migrations. On failure the
// service stays usable in degraded mode and the error is returned for
// logging; repeated calls retry initialization.
func (s *Service) Initialize() error {
	db, err := store.Open(s.cfg.DataDir)
	if err != nil {
		s.initErr = apperrors.Wrap(apperrors.ErrStorageUnavailable, "failed to open offline store", err)
		logging.Error("Offline store unavailable, running degraded", err, nil)
		return s.initErr
	}

	migrator := store.NewMigrator(db.DB)
	if err := migrator.Initialize(); err != nil {
		db.Close()
		s.initErr = apperrors.Wrap(apperrors.ErrStorageUnavailable, "failed to initialize migrations", err)
		return s.initErr
	}
	if err := migrator.Up(); err != nil {
		db.Close()
		s.initErr = apperrors.Wrap(apperrors.ErrStorageUnavailable, "failed to run migrations", err)
		return s.initErr
	}

	s.db = db
	s.repo = store.NewRepository(db.DB)
	s.cache = assets.NewCache(filepath.Join(s.cfg.DataDir, "blobs"), s.repo)
	s.fetcher = assets.NewFetcher(s.cache, s.cfg.RemoteTimeout)
	s.quota = quota.NewManager(s.repo, s, s.cfg.StorageQuotaBytes)
	s.queue = queue.NewManager(s.repo, s.cfg.MaxRetries)
	s.engine = syncpkg.NewEngine(s.repo, s.queue, s.client)
	s.initErr = nil

	version, _ := migrator.CurrentVersion()
	logging.Info("Offline service initialized", map[string]interface{}{
		"data_dir":       s.cfg.DataDir,
		"schema_version": version,
		"quota_bytes":    s.cfg.StorageQuotaBytes,
	})
	return nil
}

// Engine exposes the sync engine for scheduler wiring. Nil before a
// successful Initialize.
func (s *Service) Engine() *syncpkg.Engine {
	return s.engine
}

// Close releases the underlying database.
func (s *Service) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// ready reports whether local storage came up.
func (s *Service) ready() bool {
	return s.initErr == nil && s.repo != nil
}

// writeGuard returns the degradation error for write paths.
func (s *Service) writeGuard() error {
	if s.ready() {
		return nil
	}
	if s.initErr != nil {
		return s.initErr
	}
	return apperrors.New(apperrors.ErrStorageUnavailable, "offline store not initialized")
}

// DownloadCourse stores a course manifest for offline use and eagerly
// fetches every referenced asset. All-or-nothing: on any failure nothing
// of the course remains. Evicts least-recently-accessed courses first if
// the download would exceed the storage quota.
func (s *Service) DownloadCourse(ctx context.Context, manifest *models.CourseRecord) error {
	if err := s.writeGuard(); err != nil {
		return err
	}
	if manifest == nil || manifest.ID == "" {
		return apperrors.New(apperrors.ErrInvalid, "course manifest requires an id")
	}

	estimated := manifest.SizeBytes
	if estimated == 0 {
		for _, ref := range manifest.Assets {
			estimated += ref.SizeBytes
		}
	}

	evicted, err := s.quota.EnsureCapacity(estimated)
	for _, id := range evicted {
		s.notifier.Notify("quota.evicted", map[string]string{"course_id": id})
	}
	if err != nil {
		return err
	}

	s.notifier.Notify("download.started", map[string]string{"course_id": manifest.ID})

	cachedBytes, err := s.fetcher.DownloadAll(ctx, manifest.ID, manifest.Assets)
	if err != nil {
		s.notifier.Notify("download.failed", map[string]string{
			"course_id": manifest.ID,
			"error":     err.Error(),
		})
		return err
	}

	record := *manifest
	if cachedBytes > record.SizeBytes {
		record.SizeBytes = cachedBytes
	}
	now := time.Now().Unix()
	record.DownloadedAt = now
	record.LastAccessedAt = now

	if err := s.repo.SaveCourse(&record); err != nil {
		// Roll back cached blobs so no half-saved course lingers.
		if cleanErr := s.cache.RemoveCourseAssets(manifest.ID); cleanErr != nil {
			logging.Warn("Failed to clean assets after save failure", map[string]interface{}{
				"course_id": manifest.ID,
				"error":     cleanErr.Error(),
			})
		}
		return err
	}

	s.notifier.Notify("download.completed", map[string]interface{}{
		"course_id":  record.ID,
		"size_bytes": record.SizeBytes,
	})
	return nil
}

// Remove implements quota.Remover: deletes a course, its cached assets,
// and dependent rows in one pass.
func (s *Service) Remove(courseID string) error {
	return s.RemoveCourse(courseID)
}

// RemoveCourse deletes a downloaded course. Progress, queue entries, and
// conflicts for the course go with it; blob files are unlinked only when
// no other course references them.
func (s *Service) RemoveCourse(courseID string) error {
	if err := s.writeGuard(); err != nil {
		return err
	}

	orphans, err := s.repo.DeleteCourse(courseID)
	if err != nil {
		return err
	}
	if err := s.cache.RemoveBlobs(orphans); err != nil {
		logging.Warn("Failed to unlink orphaned blobs", map[string]interface{}{
			"course_id": courseID,
			"error":     err.Error(),
		})
	}

	s.notifier.Notify("course.removed", map[string]string{"course_id": courseID})
	return nil
}

// IsCourseAvailableOffline reports whether a course is fully downloaded.
func (s *Service) IsCourseAvailableOffline(courseID string) bool {
	if !s.ready() {
		return false
	}
	course, err := s.repo.GetCourse(courseID)
	return err == nil && course != nil
}

// GetOfflineCourses lists all downloaded courses. Fails soft: returns an
// empty list when storage is unavailable.
func (s *Service) GetOfflineCourses() []*models.CourseRecord {
	if !s.ready() {
		return nil
	}
	courses, err := s.repo.GetAllCourses()
	if err != nil {
		logging.Error("Failed to list offline courses", err, nil)
		return nil
	}
	return courses
}

// GetCourse returns a downloaded course and refreshes its last-accessed
// time for eviction ordering. Returns (nil, nil) when not downloaded.
func (s *Service) GetCourse(courseID string) (*models.CourseRecord, error) {
	if !s.ready() {
		return nil, nil
	}
	course, err := s.repo.GetCourse(courseID)
	if err != nil || course == nil {
		return nil, err
	}
	if err := s.repo.TouchCourse(courseID); err != nil {
		logging.Warn("Failed to touch course", map[string]interface{}{
			"course_id": courseID,
			"error":     err.Error(),
		})
	}
	return course, nil
}

// GetAsset returns cached bytes for an asset URL, with integrity checked
// against the stored content hash. Returns (nil, nil, nil) when absent.
func (s *Service) GetAsset(url string) (*models.AssetBlob, []byte, error) {
	if !s.ready() {
		return nil, nil, nil
	}
	return s.cache.GetAssetByURL(url)
}

// SaveProgress records module progress locally and buffers it for sync.
// Percent is clamped to [0, 100]. A save for an entity that already has a
// queued push supersedes that entry instead of appending.
func (s *Service) SaveProgress(courseID, moduleID string, percent float64, completed bool) error {
	if err := s.writeGuard(); err != nil {
		return err
	}
	if courseID == "" || moduleID == "" {
		return apperrors.New(apperrors.ErrInvalid, "progress requires course and module ids")
	}

	record := &models.ProgressRecord{
		CourseID:  courseID,
		ModuleID:  moduleID,
		Percent:   percent,
		Completed: completed,
	}
	record.ClampPercent()
	record.Touch()

	if err := s.repo.SaveProgress(record); err != nil {
		return err
	}

	if _, err := s.queue.Enqueue(models.QueueItemProgress, courseID, moduleID, record); err != nil {
		// The local write stands; the unsynced sweep picks the record up on
		// the next cycle even without a queue entry.
		logging.Warn("Failed to enqueue progress for sync", map[string]interface{}{
			"course_id": courseID,
			"module_id": moduleID,
			"error":     err.Error(),
		})
	}
	return nil
}

// EnqueueMutation buffers a non-progress offline mutation (quiz result,
// bookmark, note) for the next sync cycle.
func (s *Service) EnqueueMutation(itemType, courseID, moduleID string, payload interface{}) error {
	if err := s.writeGuard(); err != nil {
		return err
	}
	switch itemType {
	case models.QueueItemQuizResult, models.QueueItemBookmark, models.QueueItemNote:
	default:
		return apperrors.New(apperrors.ErrInvalid, "unknown mutation type: "+itemType)
	}
	_, err := s.queue.Enqueue(itemType, courseID, moduleID, payload)
	return err
}

// GetProgress returns progress for one module, or (nil, nil) when none.
func (s *Service) GetProgress(courseID, moduleID string) (*models.ProgressRecord, error) {
	if !s.ready() {
		return nil, nil
	}
	return s.repo.GetProgress(courseID, moduleID)
}

// GetCourseProgress returns all module progress for a course.
func (s *Service) GetCourseProgress(courseID string) ([]*models.ProgressRecord, error) {
	if !s.ready() {
		return nil, nil
	}
	return s.repo.GetCourseProgress(courseID)
}

// SyncData runs one sync cycle, pushing buffered mutations to the remote.
func (s *Service) SyncData(ctx context.Context) (*syncpkg.SyncResult, error) {
	if err := s.writeGuard(); err != nil {
		return nil, err
	}

	s.notifier.Notify("sync.started", nil)
	result, err := s.engine.SyncData(ctx)
	if err != nil {
		s.notifier.Notify("sync.failed", map[string]string{"error": err.Error()})
		return nil, err
	}

	s.notifier.Notify("sync.completed", map[string]interface{}{
		"synced":    result.Synced,
		"conflicts": len(result.Conflicts),
		"abandoned": result.Abandoned,
	})
	return result, nil
}

// StorageInfo combines quota usage with record counts.
type StorageInfo struct {
	Usage  *quota.Info   `json:"usage"`
	Counts *store.Counts `json:"counts"`
}

// GetStorageInfo reports storage usage, quota, and record counts.
func (s *Service) GetStorageInfo() (*StorageInfo, error) {
	if !s.ready() {
		return nil, s.writeGuard()
	}

	usage, err := s.quota.Usage()
	if err != nil {
		return nil, err
	}
	counts, err := s.repo.Count()
	if err != nil {
		return nil, err
	}
	return &StorageInfo{Usage: usage, Counts: counts}, nil
}

// SetStorageQuota changes the quota ceiling at runtime. Takes effect on
// the next download; nothing is evicted retroactively.
func (s *Service) SetStorageQuota(maxBytes int64) error {
	if err := s.writeGuard(); err != nil {
		return err
	}
	if maxBytes < 0 {
		return apperrors.New(apperrors.ErrInvalid, "quota must not be negative")
	}
	s.quota.SetQuota(maxBytes)
	return nil
}

// PendingConflicts lists unresolved sync conflicts.
func (s *Service) PendingConflicts() ([]*models.SyncConflict, error) {
	if !s.ready() {
		return nil, nil
	}
	return s.repo.ListConflicts(models.ConflictPending)
}

// ResolveConflict applies a resolution strategy to one pending conflict.
func (s *Service) ResolveConflict(ctx context.Context, conflictID string, strategy conflict.Strategy) error {
	if err := s.writeGuard(); err != nil {
		return err
	}
	if err := s.engine.ResolveConflict(ctx, conflictID, strategy); err != nil {
		return err
	}
	s.notifier.Notify("conflict.resolved", map[string]string{
		"conflict_id": conflictID,
		"strategy":    string(strategy),
	})
	return nil
}

// ResolveAllConflicts applies one strategy to every pending conflict.
func (s *Service) ResolveAllConflicts(ctx context.Context, strategy conflict.Strategy) (int, error) {
	if err := s.writeGuard(); err != nil {
		return 0, err
	}
	return s.engine.ResolveAllConflicts(ctx, strategy)
}

// DeadLetters lists abandoned sync items awaiting inspection.
func (s *Service) DeadLetters() ([]*models.DeadLetter, error) {
	if !s.ready() {
		return nil, nil
	}
	return s.repo.ListDeadLetters()
}

// RequeueDeadLetter moves an abandoned item back into the sync queue with
// a fresh retry budget.
func (s *Service) RequeueDeadLetter(letterID string) error {
	if err := s.writeGuard(); err != nil {
		return err
	}
	_, err := s.queue.Requeue(letterID)
	return err
}

// ClearAll wipes every offline record and cached blob. Used on logout.
func (s *Service) ClearAll() error {
	if err := s.writeGuard(); err != nil {
		return err
	}
	if err := s.repo.ClearAll(); err != nil {
		return err
	}
	if err := s.cache.Clear(); err != nil {
		return err
	}
	s.notifier.Notify("storage.cleared", nil)
	return nil
}

// QueueStats summarizes the sync queue by status.
func (s *Service) QueueStats() (map[string]int, error) {
	if !s.ready() {
		return map[string]int{"total": 0}, nil
	}
	return s.queue.Stats()
}

var _ quota.Remover = (*Service)(nil)
