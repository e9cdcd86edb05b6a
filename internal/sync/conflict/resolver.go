// Package conflict detects and resolves divergence between local and
// remote progress for the same entity.
package conflict

import (
	"encoding/json"
	"time"

	"github.com/rinafcode/teachLink-web-sub000/internal/logging"
	"github.com/rinafcode/teachLink-web-sub000/internal/models"
)

// Strategy selects which side of a conflict wins.
type Strategy string

const (
	// StrategyLocal overwrites the remote with the local value; the push
	// is re-enqueued.
	StrategyLocal Strategy = "local"
	// StrategyRemote overwrites the local record with the remote value;
	// the queued push is discarded.
	StrategyRemote Strategy = "remote"
	// StrategyMerge combines both sides field by field. Defined for
	// progress payloads only; other payload types fall back to local.
	StrategyMerge Strategy = "merge"
)

// Resolver detects and resolves progress conflicts.
type Resolver struct{}

// NewResolver creates a Resolver.
func NewResolver() *Resolver {
	return &Resolver{}
}

// Detect reports whether remote state diverges from local: the remote has
// a newer timestamp with a different value. Same-value updates are not
// conflicts regardless of timestamps.
func (r *Resolver) Detect(local *models.ProgressRecord, remote *models.ProgressRecord) (*models.SyncConflict, bool) {
	if local == nil || remote == nil {
		return nil, false
	}
	if local.CourseID != remote.CourseID || local.ModuleID != remote.ModuleID {
		return nil, false
	}
	if remote.UpdatedAt <= local.UpdatedAt {
		return nil, false
	}
	if remote.Percent == local.Percent && remote.Completed == local.Completed {
		return nil, false
	}

	localJSON, err := json.Marshal(local)
	if err != nil {
		return nil, false
	}
	remoteJSON, err := json.Marshal(remote)
	if err != nil {
		return nil, false
	}

	conflict := &models.SyncConflict{
		CourseID:   local.CourseID,
		ModuleID:   local.ModuleID,
		Local:      localJSON,
		Remote:     remoteJSON,
		State:      models.ConflictPending,
		DetectedAt: time.Now().Unix(),
	}

	logging.Warn("Progress conflict detected", map[string]interface{}{
		"course_id":        local.CourseID,
		"module_id":        local.ModuleID,
		"local_timestamp":  local.UpdatedAt,
		"remote_timestamp": remote.UpdatedAt,
	})

	return conflict, true
}

// Outcome describes how a resolved conflict must be applied.
type Outcome struct {
	// Winner is the progress value to keep locally.
	Winner *models.ProgressRecord
	// State is the resolution state to record on the conflict.
	State string
	// PushRemote re-enqueues the winner for a remote overwrite.
	PushRemote bool
}

// Resolve applies a strategy to a pending conflict.
func (r *Resolver) Resolve(conflict *models.SyncConflict, strategy Strategy) (*Outcome, error) {
	local, err := conflict.LocalProgress()
	if err != nil {
		return nil, err
	}
	remote, err := conflict.RemoteProgress()
	if err != nil {
		return nil, err
	}

	var outcome *Outcome
	switch strategy {
	case StrategyRemote:
		winner := *remote
		winner.Synced = true
		outcome = &Outcome{
			Winner: &winner,
			State:  models.ConflictResolvedRemote,
		}
	case StrategyMerge:
		outcome = &Outcome{
			Winner:     r.mergeProgress(local, remote),
			State:      models.ConflictResolvedMerged,
			PushRemote: true,
		}
	default:
		// StrategyLocal, and the local-wins fallback for anything else.
		winner := *local
		winner.Synced = false
		outcome = &Outcome{
			Winner:     &winner,
			State:      models.ConflictResolvedLocal,
			PushRemote: true,
		}
	}

	logging.Info("Conflict resolved", map[string]interface{}{
		"conflict_id": conflict.ID.String(),
		"course_id":   conflict.CourseID,
		"module_id":   conflict.ModuleID,
		"strategy":    string(strategy),
		"state":       outcome.State,
	})

	return outcome, nil
}

// mergeProgress combines both sides field by field: max of percent, OR of
// completed, newest timestamp. The merged value is unsynced until pushed.
func (r *Resolver) mergeProgress(local, remote *models.ProgressRecord) *models.ProgressRecord {
	merged := &models.ProgressRecord{
		CourseID:  local.CourseID,
		ModuleID:  local.ModuleID,
		Percent:   local.Percent,
		Completed: local.Completed || remote.Completed,
		UpdatedAt: local.UpdatedAt,
		Synced:    false,
	}
	if remote.Percent > merged.Percent {
		merged.Percent = remote.Percent
	}
	if remote.UpdatedAt > merged.UpdatedAt {
		merged.UpdatedAt = remote.UpdatedAt
	}
	return merged
}
