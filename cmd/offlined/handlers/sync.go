package handlers

import (
	"encoding/json"
	"net/http"

	apperrors "github.com/rinafcode/teachLink-web-sub000/internal/errors"
	"github.com/rinafcode/teachLink-web-sub000/internal/offline"
	"github.com/rinafcode/teachLink-web-sub000/internal/sync/conflict"
	"github.com/rinafcode/teachLink-web-sub000/internal/sync/scheduler"
)

// SyncHandler handles sync trigger, status, conflict, and dead-letter
// endpoints.
type SyncHandler struct {
	svc       *offline.Service
	scheduler *scheduler.Scheduler
}

// NewSyncHandler creates a SyncHandler.
func NewSyncHandler(svc *offline.Service, sched *scheduler.Scheduler) *SyncHandler {
	return &SyncHandler{
		svc:       svc,
		scheduler: sched,
	}
}

// TriggerSync handles POST /api/sync/now
// Runs a sync cycle and blocks until it finishes.
func (h *SyncHandler) TriggerSync(w http.ResponseWriter, r *http.Request) {
	result, err := h.svc.SyncData(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":    "success",
		"synced":    result.Synced,
		"conflicts": len(result.Conflicts),
		"abandoned": result.Abandoned,
		"errors":    result.Errors,
	})
}

// Status handles GET /api/sync/status
func (h *SyncHandler) Status(w http.ResponseWriter, r *http.Request) {
	response := map[string]interface{}{
		"scheduler": h.scheduler.GetStatus(),
	}

	if stats, err := h.svc.QueueStats(); err == nil {
		response["queue_stats"] = stats
	}
	if conflicts, err := h.svc.PendingConflicts(); err == nil {
		response["pending_conflicts"] = len(conflicts)
	}

	writeJSON(w, http.StatusOK, response)
}

// SetOnline handles PUT /api/sync/online
// The UI shell reports connectivity transitions; coming back online
// triggers an immediate queue drain.
func (h *SyncHandler) SetOnline(w http.ResponseWriter, r *http.Request) {
	var request struct {
		Online bool `json:"online"`
	}
	if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
		writeError(w, apperrors.Wrap(apperrors.ErrInvalid, "invalid body", err))
		return
	}

	h.scheduler.SetOnlineStatus(r.Context(), request.Online)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"online": request.Online,
	})
}

// ListConflicts handles GET /api/sync/conflicts
func (h *SyncHandler) ListConflicts(w http.ResponseWriter, r *http.Request) {
	conflicts, err := h.svc.PendingConflicts()
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"conflicts": conflicts,
		"count":     len(conflicts),
	})
}

// ResolveConflict handles POST /api/sync/conflicts/{id}/resolve
func (h *SyncHandler) ResolveConflict(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	var request struct {
		Strategy string `json:"strategy"`
	}
	if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
		writeError(w, apperrors.Wrap(apperrors.ErrInvalid, "invalid body", err))
		return
	}

	strategy, err := parseStrategy(request.Strategy)
	if err != nil {
		writeError(w, err)
		return
	}

	if err := h.svc.ResolveConflict(r.Context(), id, strategy); err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":      "resolved",
		"conflict_id": id,
		"strategy":    request.Strategy,
	})
}

// ResolveAllConflicts handles POST /api/sync/conflicts/resolve
func (h *SyncHandler) ResolveAllConflicts(w http.ResponseWriter, r *http.Request) {
	var request struct {
		Strategy string `json:"strategy"`
	}
	if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
		writeError(w, apperrors.Wrap(apperrors.ErrInvalid, "invalid body", err))
		return
	}

	strategy, err := parseStrategy(request.Strategy)
	if err != nil {
		writeError(w, err)
		return
	}

	resolved, err := h.svc.ResolveAllConflicts(r.Context(), strategy)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":   "resolved",
		"resolved": resolved,
	})
}

// ListDeadLetters handles GET /api/sync/dead-letters
func (h *SyncHandler) ListDeadLetters(w http.ResponseWriter, r *http.Request) {
	letters, err := h.svc.DeadLetters()
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"dead_letters": letters,
		"count":        len(letters),
	})
}

// RequeueDeadLetter handles POST /api/sync/dead-letters/{id}/requeue
func (h *SyncHandler) RequeueDeadLetter(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	if err := h.svc.RequeueDeadLetter(id); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":    "requeued",
		"letter_id": id,
	})
}

func parseStrategy(s string) (conflict.Strategy, error) {
	switch conflict.Strategy(s) {
	case conflict.StrategyLocal, conflict.StrategyRemote, conflict.StrategyMerge:
		return conflict.Strategy(s), nil
	default:
		return "", apperrors.New(apperrors.ErrInvalid, "unknown strategy: "+s)
	}
}
