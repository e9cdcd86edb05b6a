package handlers

import (
	"encoding/json"
	"net/http"

	apperrors "github.com/rinafcode/teachLink-web-sub000/internal/errors"
	"github.com/rinafcode/teachLink-web-sub000/internal/offline"
)

// ProgressHandler handles module progress endpoints.
type ProgressHandler struct {
	svc *offline.Service
}

// NewProgressHandler creates a ProgressHandler.
func NewProgressHandler(svc *offline.Service) *ProgressHandler {
	return &ProgressHandler{svc: svc}
}

// Save handles PUT /api/courses/{id}/modules/{moduleID}/progress
// Writes locally and buffers the change for the next sync cycle.
func (h *ProgressHandler) Save(w http.ResponseWriter, r *http.Request) {
	courseID := r.PathValue("id")
	moduleID := r.PathValue("moduleID")

	var request struct {
		Percent   float64 `json:"percent"`
		Completed bool    `json:"completed"`
	}
	if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
		writeError(w, apperrors.Wrap(apperrors.ErrInvalid, "invalid progress body", err))
		return
	}

	if err := h.svc.SaveProgress(courseID, moduleID, request.Percent, request.Completed); err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":    "saved",
		"course_id": courseID,
		"module_id": moduleID,
	})
}

// Get handles GET /api/courses/{id}/modules/{moduleID}/progress
func (h *ProgressHandler) Get(w http.ResponseWriter, r *http.Request) {
	courseID := r.PathValue("id")
	moduleID := r.PathValue("moduleID")

	record, err := h.svc.GetProgress(courseID, moduleID)
	if err != nil {
		writeError(w, err)
		return
	}
	if record == nil {
		writeError(w, apperrors.New(apperrors.ErrNotFound, "no progress recorded"))
		return
	}
	writeJSON(w, http.StatusOK, record)
}

// ListForCourse handles GET /api/courses/{id}/progress
func (h *ProgressHandler) ListForCourse(w http.ResponseWriter, r *http.Request) {
	courseID := r.PathValue("id")

	records, err := h.svc.GetCourseProgress(courseID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"course_id": courseID,
		"progress":  records,
		"count":     len(records),
	})
}

// EnqueueMutation handles POST /api/mutations
// Buffers a quiz result, bookmark, or note for the next sync cycle.
func (h *ProgressHandler) EnqueueMutation(w http.ResponseWriter, r *http.Request) {
	var request struct {
		Type     string          `json:"type"`
		CourseID string          `json:"course_id"`
		ModuleID string          `json:"module_id"`
		Payload  json.RawMessage `json:"payload"`
	}
	if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
		writeError(w, apperrors.Wrap(apperrors.ErrInvalid, "invalid mutation body", err))
		return
	}

	if err := h.svc.EnqueueMutation(request.Type, request.CourseID, request.ModuleID, request.Payload); err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]interface{}{
		"status": "queued",
		"type":   request.Type,
	})
}
