package handlers

import (
	"encoding/json"
	"net/http"

	apperrors "github.com/rinafcode/teachLink-web-sub000/internal/errors"
	"github.com/rinafcode/teachLink-web-sub000/internal/models"
	"github.com/rinafcode/teachLink-web-sub000/internal/offline"
)

// CourseHandler handles offline course download and retrieval endpoints.
type CourseHandler struct {
	svc *offline.Service
}

// NewCourseHandler creates a CourseHandler.
func NewCourseHandler(svc *offline.Service) *CourseHandler {
	return &CourseHandler{svc: svc}
}

// List handles GET /api/courses
func (h *CourseHandler) List(w http.ResponseWriter, r *http.Request) {
	courses := h.svc.GetOfflineCourses()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"courses": courses,
		"count":   len(courses),
	})
}

// Get handles GET /api/courses/{id}
func (h *CourseHandler) Get(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	course, err := h.svc.GetCourse(id)
	if err != nil {
		writeError(w, err)
		return
	}
	if course == nil {
		writeError(w, apperrors.New(apperrors.ErrNotFound, "course not downloaded: "+id))
		return
	}
	writeJSON(w, http.StatusOK, course)
}

// Availability handles GET /api/courses/{id}/available
func (h *CourseHandler) Availability(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"course_id": id,
		"available": h.svc.IsCourseAvailableOffline(id),
	})
}

// Download handles POST /api/courses
// The body is the course manifest; assets are fetched eagerly and the
// request blocks until the course is fully available or failed.
func (h *CourseHandler) Download(w http.ResponseWriter, r *http.Request) {
	var manifest models.CourseRecord
	if err := json.NewDecoder(r.Body).Decode(&manifest); err != nil {
		writeError(w, apperrors.Wrap(apperrors.ErrInvalid, "invalid course manifest", err))
		return
	}

	if err := h.svc.DownloadCourse(r.Context(), &manifest); err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"status":    "downloaded",
		"course_id": manifest.ID,
	})
}

// Delete handles DELETE /api/courses/{id}
func (h *CourseHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	if err := h.svc.RemoveCourse(id); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":    "removed",
		"course_id": id,
	})
}

// Asset handles GET /api/assets?url={url}
// Streams cached asset bytes with the stored content type.
func (h *CourseHandler) Asset(w http.ResponseWriter, r *http.Request) {
	url := r.URL.Query().Get("url")
	if url == "" {
		writeError(w, apperrors.New(apperrors.ErrInvalid, "url query parameter is required"))
		return
	}

	blob, data, err := h.svc.GetAsset(url)
	if err != nil {
		writeError(w, err)
		return
	}
	if blob == nil {
		writeError(w, apperrors.New(apperrors.ErrNotFound, "asset not cached: "+url))
		return
	}

	if blob.MimeType != "" {
		w.Header().Set("Content-Type", blob.MimeType)
	}
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}
