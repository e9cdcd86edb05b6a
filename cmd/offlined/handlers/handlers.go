// Package handlers provides REST API handlers over the offline service.
package handlers

import (
	"encoding/json"
	"net/http"

	apperrors "github.com/rinafcode/teachLink-web-sub000/internal/errors"
	"github.com/rinafcode/teachLink-web-sub000/internal/logging"
)

// writeJSON writes a JSON response with the given status.
func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload != nil {
		if err := json.NewEncoder(w).Encode(payload); err != nil {
			logging.Warn("Failed to encode response", map[string]interface{}{
				"error": err.Error(),
			})
		}
	}
}

// writeError maps application error codes to HTTP statuses and writes a
// structured error body the UI shell can switch on.
func writeError(w http.ResponseWriter, err error) {
	code := apperrors.CodeOf(err)

	status := http.StatusInternalServerError
	switch code {
	case apperrors.ErrInvalid:
		status = http.StatusBadRequest
	case apperrors.ErrNotFound:
		status = http.StatusNotFound
	case apperrors.ErrQuotaExceeded, apperrors.ErrEntryTooLarge:
		status = http.StatusInsufficientStorage
	case apperrors.ErrSyncInProgress:
		status = http.StatusConflict
	case apperrors.ErrStorageUnavailable:
		status = http.StatusServiceUnavailable
	case apperrors.ErrDownloadCanceled:
		status = 499 // client closed request
	}

	writeJSON(w, status, map[string]interface{}{
		"error": map[string]string{
			"code":    string(code),
			"message": err.Error(),
		},
	})
}
