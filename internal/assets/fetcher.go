package assets

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gabriel-vasile/mimetype"

	apperrors "github.com/rinafcode/teachLink-web-sub000/internal/errors"
	"github.com/rinafcode/teachLink-web-sub000/internal/logging"
	"github.com/rinafcode/teachLink-web-sub000/internal/models"
)

// maxAssetBytes caps a single asset download. Course media beyond this is
// rejected rather than buffered into memory unbounded.
const maxAssetBytes = 2 << 30

// Fetcher eagerly downloads course assets into the cache at download time,
// trading upfront bandwidth for guaranteed offline availability.
type Fetcher struct {
	client *http.Client
	cache  *Cache
}

// NewFetcher creates a Fetcher with the given request timeout.
func NewFetcher(cache *Cache, timeout time.Duration) *Fetcher {
	return &Fetcher{
		client: &http.Client{Timeout: timeout},
		cache:  cache,
	}
}

// DownloadAll fetches every referenced asset for a course and caches it.
// All-or-nothing: any failure or context cancellation aborts the download
// and discards already-cached blobs for the course, so a course is never
// left half-available offline. Returns the total cached bytes.
func (f *Fetcher) DownloadAll(ctx context.Context, courseID string, refs []models.AssetReference) (int64, error) {
	var total int64

	for _, ref := range refs {
		select {
		case <-ctx.Done():
			f.discard(courseID)
			return 0, apperrors.Wrap(apperrors.ErrDownloadCanceled, "course download canceled", ctx.Err())
		default:
		}

		size, err := f.fetchOne(ctx, courseID, ref.URL)
		if err != nil {
			f.discard(courseID)
			return 0, apperrors.Wrap(apperrors.ErrAssetFetchFailed,
				fmt.Sprintf("failed to fetch %s", ref.URL), err)
		}
		total += size
	}

	return total, nil
}

// fetchOne downloads a single asset and stores it keyed by its URL.
func (f *Fetcher) fetchOne(ctx context.Context, courseID, url string) (int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, err
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxAssetBytes))
	if err != nil {
		return 0, err
	}

	mimeType := resp.Header.Get("Content-Type")
	if mimeType == "" {
		mimeType = mimetype.Detect(data).String()
	}

	blob := &models.AssetBlob{
		CourseID: courseID,
		URL:      url,
		MimeType: mimeType,
	}
	if err := f.cache.SaveAsset(blob, data); err != nil {
		return 0, err
	}

	logging.Debug("Cached course asset", map[string]interface{}{
		"course_id": courseID,
		"url":       url,
		"bytes":     blob.SizeBytes,
		"mime_type": mimeType,
	})

	return blob.SizeBytes, nil
}

// discard drops partially fetched assets after an aborted download.
func (f *Fetcher) discard(courseID string) {
	if err := f.cache.RemoveCourseAssets(courseID); err != nil {
		logging.Warn("Failed to discard partial download", map[string]interface{}{
			"course_id": courseID,
			"error":     err.Error(),
		})
	}
}
