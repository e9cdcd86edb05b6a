package handlers

import (
	"encoding/json"
	"net/http"

	apperrors "github.com/rinafcode/teachLink-web-sub000/internal/errors"
	"github.com/rinafcode/teachLink-web-sub000/internal/offline"
)

// StorageHandler handles storage usage and quota endpoints.
type StorageHandler struct {
	svc *offline.Service
}

// NewStorageHandler creates a StorageHandler.
func NewStorageHandler(svc *offline.Service) *StorageHandler {
	return &StorageHandler{svc: svc}
}

// Info handles GET /api/storage
func (h *StorageHandler) Info(w http.ResponseWriter, r *http.Request) {
	info, err := h.svc.GetStorageInfo()
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, info)
}

// SetQuota handles PUT /api/storage/quota
func (h *StorageHandler) SetQuota(w http.ResponseWriter, r *http.Request) {
	var request struct {
		QuotaBytes int64 `json:"quota_bytes"`
	}
	if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
		writeError(w, apperrors.Wrap(apperrors.ErrInvalid, "invalid body", err))
		return
	}

	if err := h.svc.SetStorageQuota(request.QuotaBytes); err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":      "updated",
		"quota_bytes": request.QuotaBytes,
	})
}

// Clear handles DELETE /api/storage
// Wipes every offline record and cached blob. Used on logout.
func (h *StorageHandler) Clear(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.ClearAll(); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status": "cleared",
	})
}
