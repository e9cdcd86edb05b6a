package sync

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	apperrors "github.com/rinafcode/teachLink-web-sub000/internal/errors"
	"github.com/rinafcode/teachLink-web-sub000/internal/logging"
	"github.com/rinafcode/teachLink-web-sub000/internal/models"
	"github.com/rinafcode/teachLink-web-sub000/internal/store"
	"github.com/rinafcode/teachLink-web-sub000/internal/sync/conflict"
	"github.com/rinafcode/teachLink-web-sub000/internal/sync/queue"
)

// SyncResult summarizes one sync cycle.
type SyncResult struct {
	Success     bool                   `json:"success"`
	Synced      int                    `json:"synced"`
	Conflicts   []*models.SyncConflict `json:"conflicts,omitempty"`
	Abandoned   int                    `json:"abandoned"`
	Errors      []string               `json:"errors,omitempty"`
	CompletedAt time.Time              `json:"completed_at"`
}

// Engine drains the sync queue against the remote platform, detects
// conflicts, and records the outcome. At most one cycle runs at a time.
type Engine struct {
	repo     *store.Repository
	queue    *queue.Manager
	client   RemoteClient
	resolver *conflict.Resolver

	mu       sync.Mutex
	syncing  bool
	lastSync time.Time
	lastErr  error
}

// NewEngine creates an Engine.
func NewEngine(repo *store.Repository, q *queue.Manager, client RemoteClient) *Engine {
	return &Engine{
		repo:     repo,
		queue:    q,
		client:   client,
		resolver: conflict.NewResolver(),
	}
}

// Queue exposes the underlying queue manager.
func (e *Engine) Queue() *queue.Manager {
	return e.queue
}

// SyncData pushes all buffered mutations to the remote in enqueue order,
// then sweeps any unsynced progress rows that have no queue entry.
// Returns ErrSyncInProgress if a cycle is already running.
func (e *Engine) SyncData(ctx context.Context) (*SyncResult, error) {
	e.mu.Lock()
	if e.syncing {
		e.mu.Unlock()
		return nil, apperrors.New(apperrors.ErrSyncInProgress, "a sync cycle is already running")
	}
	e.syncing = true
	e.mu.Unlock()

	defer func() {
		e.mu.Lock()
		e.syncing = false
		e.lastSync = time.Now()
		e.mu.Unlock()
	}()

	result := &SyncResult{}

	pending, err := e.queue.Pending()
	if err != nil {
		e.setLastErr(err)
		return nil, apperrors.Wrap(apperrors.ErrSyncFailed, "failed to read sync queue", err)
	}

	logging.Info("Sync cycle started", map[string]interface{}{
		"pending": len(pending),
	})

	for _, item := range pending {
		select {
		case <-ctx.Done():
			e.requeue(item)
			result.Errors = append(result.Errors, "sync canceled: "+ctx.Err().Error())
			return e.finish(result)
		default:
		}

		if err := e.queue.MarkInFlight(item); err != nil {
			result.Errors = append(result.Errors, err.Error())
			continue
		}

		if err := e.pushItem(ctx, item, result); err != nil {
			result.Errors = append(result.Errors, err.Error())
		}
	}

	e.sweepUnsynced(ctx, result)

	return e.finish(result)
}

// pushItem uploads a single queue item and updates queue state. Progress
// items go through conflict detection; everything else is pushed opaque.
func (e *Engine) pushItem(ctx context.Context, item *models.SyncQueueItem, result *SyncResult) error {
	if item.Type != models.QueueItemProgress {
		if err := e.client.PushItem(ctx, item); err != nil {
			return e.failItem(item, result, err)
		}
		result.Synced++
		return e.queue.Complete(item)
	}

	record := &models.ProgressRecord{}
	if err := json.Unmarshal(item.Payload, record); err != nil {
		// An undecodable payload can never succeed on retry.
		if _, dlErr := e.repo.MoveToDeadLetter(item, "undecodable progress payload: "+err.Error()); dlErr != nil {
			return dlErr
		}
		result.Abandoned++
		return fmt.Errorf("undecodable progress payload for item %s: %w", item.ID.String(), err)
	}

	remote, err := e.client.PushProgress(ctx, record)
	switch {
	case err == nil:
		if markErr := e.repo.MarkProgressSynced(record.CourseID, record.ModuleID); markErr != nil {
			return e.failItem(item, result, markErr)
		}
		result.Synced++
		return e.queue.Complete(item)

	case err == ErrRemoteConflict && remote != nil:
		return e.recordConflict(item, record, remote, result)

	default:
		return e.failItem(item, result, err)
	}
}

// recordConflict persists a detected divergence and parks the local value
// as a pending conflict. The queue entry is removed; re-pushing happens
// only through explicit resolution.
func (e *Engine) recordConflict(item *models.SyncQueueItem, local *models.ProgressRecord, remote *RemoteProgress, result *SyncResult) error {
	c, diverged := e.resolver.Detect(local, remote.AsRecord())
	if !diverged {
		// The remote answered 409 but the values agree; treat as synced.
		if err := e.repo.MarkProgressSynced(local.CourseID, local.ModuleID); err != nil {
			return e.failItem(item, result, err)
		}
		result.Synced++
		return e.queue.Complete(item)
	}

	if err := e.repo.CreateConflict(c); err != nil {
		return e.failItem(item, result, err)
	}
	result.Conflicts = append(result.Conflicts, c)

	return e.queue.Complete(item)
}

// sweepUnsynced pushes progress rows flagged unsynced that have no queue
// entry and no pending conflict. These exist when a queue entry was
// superseded or lost between save and enqueue.
func (e *Engine) sweepUnsynced(ctx context.Context, result *SyncResult) {
	unsynced, err := e.repo.GetUnsyncedProgress()
	if err != nil {
		result.Errors = append(result.Errors, err.Error())
		return
	}

	queued, err := e.queue.All()
	if err != nil {
		result.Errors = append(result.Errors, err.Error())
		return
	}
	inQueue := make(map[string]bool, len(queued))
	for _, item := range queued {
		if item.Type == models.QueueItemProgress {
			inQueue[item.CourseID+"/"+item.ModuleID] = true
		}
	}

	for _, record := range unsynced {
		if inQueue[record.CourseID+"/"+record.ModuleID] {
			continue
		}
		pending, err := e.repo.HasPendingConflict(record.CourseID, record.ModuleID)
		if err != nil || pending {
			continue
		}

		remote, err := e.client.PushProgress(ctx, record)
		switch {
		case err == nil:
			if err := e.repo.MarkProgressSynced(record.CourseID, record.ModuleID); err != nil {
				result.Errors = append(result.Errors, err.Error())
				continue
			}
			result.Synced++
		case err == ErrRemoteConflict && remote != nil:
			if c, diverged := e.resolver.Detect(record, remote.AsRecord()); diverged {
				if err := e.repo.CreateConflict(c); err != nil {
					result.Errors = append(result.Errors, err.Error())
					continue
				}
				result.Conflicts = append(result.Conflicts, c)
			}
		default:
			result.Errors = append(result.Errors, err.Error())
		}
	}
}

// ResolveConflict applies a strategy to a pending conflict and propagates
// the winner to the local store and, when the local or merged side wins,
// back to the remote.
func (e *Engine) ResolveConflict(ctx context.Context, conflictID string, strategy conflict.Strategy) error {
	c, err := e.repo.GetConflict(conflictID)
	if err != nil {
		return err
	}
	if c == nil {
		return apperrors.New(apperrors.ErrNotFound, "conflict not found: "+conflictID)
	}
	if c.State != models.ConflictPending {
		return apperrors.New(apperrors.ErrInvalid, "conflict already resolved: "+conflictID)
	}

	outcome, err := e.resolver.Resolve(c, strategy)
	if err != nil {
		return apperrors.Wrap(apperrors.ErrSyncConflict, "failed to resolve conflict", err)
	}

	if err := e.repo.SaveProgress(outcome.Winner); err != nil {
		return err
	}

	if outcome.PushRemote {
		if err := e.client.OverwriteProgress(ctx, outcome.Winner); err != nil {
			// Remote unreachable: keep the winner buffered for the next cycle.
			if _, qErr := e.queue.Enqueue(models.QueueItemProgress,
				outcome.Winner.CourseID, outcome.Winner.ModuleID, outcome.Winner); qErr != nil {
				return qErr
			}
		} else {
			if err := e.repo.MarkProgressSynced(outcome.Winner.CourseID, outcome.Winner.ModuleID); err != nil {
				return err
			}
		}
	} else {
		// Remote won; drop any buffered local push for this entity.
		if err := e.repo.RemoveQueueEntryFor(models.QueueItemProgress, c.CourseID, c.ModuleID); err != nil {
			return err
		}
	}

	return e.repo.MarkConflictResolved(conflictID, outcome.State)
}

// ResolveAllConflicts applies one strategy to every pending conflict.
// Returns the number resolved and the first error encountered, resolving
// as many as possible either way.
func (e *Engine) ResolveAllConflicts(ctx context.Context, strategy conflict.Strategy) (int, error) {
	pending, err := e.repo.ListConflicts(models.ConflictPending)
	if err != nil {
		return 0, err
	}

	resolved := 0
	var firstErr error
	for _, c := range pending {
		if err := e.ResolveConflict(ctx, c.ID.String(), strategy); err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		resolved++
	}
	return resolved, firstErr
}

// Syncing reports whether a cycle is currently running.
func (e *Engine) Syncing() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.syncing
}

// LastSync returns when the previous cycle finished and its error, if any.
func (e *Engine) LastSync() (time.Time, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.lastSync, e.lastErr
}

func (e *Engine) failItem(item *models.SyncQueueItem, result *SyncResult, cause error) error {
	letter, err := e.queue.Failed(item, cause)
	if err != nil {
		return err
	}
	if letter != nil {
		result.Abandoned++
	}
	return cause
}

// requeue puts an in-flight item back to queued after a canceled cycle.
func (e *Engine) requeue(item *models.SyncQueueItem) {
	item.Status = models.QueueStatusQueued
	if err := e.repo.UpdateSyncQueueItem(item); err != nil {
		logging.Warn("Failed to requeue item after cancellation", map[string]interface{}{
			"item_id": item.ID.String(),
			"error":   err.Error(),
		})
	}
}

func (e *Engine) finish(result *SyncResult) (*SyncResult, error) {
	result.Success = len(result.Errors) == 0
	result.CompletedAt = time.Now()

	if result.Success {
		e.setLastErr(nil)
	} else {
		e.setLastErr(fmt.Errorf("sync finished with %d errors", len(result.Errors)))
	}

	logging.Info("Sync cycle finished", map[string]interface{}{
		"synced":    result.Synced,
		"conflicts": len(result.Conflicts),
		"abandoned": result.Abandoned,
		"errors":    len(result.Errors),
	})

	return result, nil
}

func (e *Engine) setLastErr(err error) {
	e.mu.Lock()
	e.lastErr = err
	e.mu.Unlock()
}
