// Package sync reconciles offline mutations with the remote platform.
package sync

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rinafcode/teachLink-web-sub000/internal/models"
)

// ErrRemoteConflict signals that the remote holds a newer, different value
// for the entity being pushed. The returned RemoteProgress carries the
// server-side state for conflict recording.
var ErrRemoteConflict = errors.New("remote progress diverged")

// RemoteProgress is the server's view of a progress entity.
type RemoteProgress struct {
	CourseID  string  `json:"course_id"`
	ModuleID  string  `json:"module_id"`
	Percent   float64 `json:"percent"`
	Completed bool    `json:"completed"`
	UpdatedAt int64   `json:"updated_at"`
}

// AsRecord converts the remote view to a local ProgressRecord.
func (r *RemoteProgress) AsRecord() *models.ProgressRecord {
	return &models.ProgressRecord{
		CourseID:  r.CourseID,
		ModuleID:  r.ModuleID,
		Percent:   r.Percent,
		Completed: r.Completed,
		UpdatedAt: r.UpdatedAt,
	}
}

// RemoteClient pushes buffered mutations to the remote platform. The wire
// payloads are opaque to this layer beyond the progress shape needed for
// conflict detection.
type RemoteClient interface {
	// PushProgress uploads a progress record. On divergence it returns the
	// remote state together with ErrRemoteConflict.
	PushProgress(ctx context.Context, record *models.ProgressRecord) (*RemoteProgress, error)

	// OverwriteProgress force-writes a progress record, used when a
	// conflict resolves in favor of the local or merged value.
	OverwriteProgress(ctx context.Context, record *models.ProgressRecord) error

	// PushItem uploads a non-progress queue item (quiz result, bookmark, note).
	PushItem(ctx context.Context, item *models.SyncQueueItem) error
}

// HTTPClient is the production RemoteClient over the platform REST API.
type HTTPClient struct {
	baseURL string
	client  *http.Client
}

// NewHTTPClient creates an HTTPClient. The timeout bounds every push so a
// hung remote cannot stall a sync cycle indefinitely.
func NewHTTPClient(baseURL string, timeout time.Duration) *HTTPClient {
	return &HTTPClient{
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
	}
}

// PushProgress implements RemoteClient. A 409 response carries the remote
// entity state and maps to ErrRemoteConflict.
func (c *HTTPClient) PushProgress(ctx context.Context, record *models.ProgressRecord) (*RemoteProgress, error) {
	body, err := json.Marshal(record)
	if err != nil {
		return nil, err
	}

	resp, err := c.post(ctx, c.baseURL+"/progress", body)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusConflict:
		var remote RemoteProgress
		if err := json.NewDecoder(resp.Body).Decode(&remote); err != nil {
			return nil, fmt.Errorf("failed to decode conflict body: %w", err)
		}
		return &remote, ErrRemoteConflict
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		io.Copy(io.Discard, resp.Body)
		return nil, nil
	default:
		return nil, fmt.Errorf("progress push rejected with status %d", resp.StatusCode)
	}
}

// OverwriteProgress implements RemoteClient.
func (c *HTTPClient) OverwriteProgress(ctx context.Context, record *models.ProgressRecord) error {
	body, err := json.Marshal(record)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPut,
		c.baseURL+"/progress", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("progress overwrite rejected with status %d", resp.StatusCode)
	}
	return nil
}

// PushItem implements RemoteClient.
func (c *HTTPClient) PushItem(ctx context.Context, item *models.SyncQueueItem) error {
	resp, err := c.post(ctx, c.baseURL+"/sync/"+item.Type, item.Payload)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("%s push rejected with status %d", item.Type, resp.StatusCode)
	}
	return nil
}

func (c *HTTPClient) post(ctx context.Context, url string, body []byte) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.client.Do(req)
}
