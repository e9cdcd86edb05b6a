// Package assets provides the content-addressed cache for course media.
// Blob files are stored by SHA-256 hash so identical assets shared across
// courses are kept only once; a store index maps source URLs to hashes.
package assets

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/rinafcode/teachLink-web-sub000/internal/models"
	"github.com/rinafcode/teachLink-web-sub000/internal/store"
)

// Cache stores asset bytes by content hash and indexes them by source URL.
type Cache struct {
	baseDir string
	repo    *store.Repository
}

// NewCache creates a Cache rooted at baseDir.
func NewCache(baseDir string, repo *store.Repository) *Cache {
	return &Cache{
		baseDir: baseDir,
		repo:    repo,
	}
}

// CalculateHash calculates the SHA-256 hash of asset content.
func CalculateHash(data []byte) string {
	h := sha256.New()
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// CalculateHashFromReader calculates the SHA-256 hash from an io.Reader.
func CalculateHashFromReader(r io.Reader) (string, error) {
	h := sha256.New()
	if _, err := io.Copy(h, r); err != nil {
		return "", fmt.Errorf("failed to calculate hash: %w", err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// SaveAsset stores the blob bytes and records the index entry. A cache
// entry is never mutated: an existing entry for the same (course, url)
// is replaced wholesale.
func (c *Cache) SaveAsset(blob *models.AssetBlob, data []byte) error {
	hash := CalculateHash(data)
	blob.ContentHash = hash
	blob.SizeBytes = int64(len(data))

	if err := c.storeBlob(hash, data); err != nil {
		return err
	}
	return c.repo.SaveAsset(blob)
}

// storeBlob writes data at baseDir/{hash[0:2]}/{hash[2:4]}/{hash}.
// A two-level fan-out keeps directories small. Writing an existing hash
// is a no-op (deduplication).
func (c *Cache) storeBlob(hash string, data []byte) error {
	dir := filepath.Join(c.baseDir, hash[0:2], hash[2:4])
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create cache directory: %w", err)
	}

	path := filepath.Join(dir, hash)
	if _, err := os.Stat(path); err == nil {
		return nil
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write blob: %w", err)
	}
	return nil
}

// GetAssetByURL returns the most recently cached blob for a URL, or
// (nil, nil, nil) when the URL was never cached.
func (c *Cache) GetAssetByURL(url string) (*models.AssetBlob, []byte, error) {
	blob, err := c.repo.GetAssetByURL(url)
	if err != nil || blob == nil {
		return nil, nil, err
	}

	data, err := os.ReadFile(c.blobPath(blob.ContentHash))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil, fmt.Errorf("blob missing for %s: %w", url, err)
		}
		return nil, nil, fmt.Errorf("failed to read blob: %w", err)
	}

	// Detect on-disk corruption before handing bytes to a media player.
	if got := CalculateHash(data); got != blob.ContentHash {
		return nil, nil, fmt.Errorf("hash mismatch for %s: expected %s, got %s",
			url, blob.ContentHash, got)
	}

	return blob, data, nil
}

// Exists reports whether a blob file is present for a hash.
func (c *Cache) Exists(hash string) bool {
	_, err := os.Stat(c.blobPath(hash))
	return err == nil
}

// BlobPath returns the file system path for a hash, for streaming access.
func (c *Cache) BlobPath(hash string) string {
	return c.blobPath(hash)
}

func (c *Cache) blobPath(hash string) string {
	return filepath.Join(c.baseDir, hash[0:2], hash[2:4], hash)
}

// RemoveBlobs unlinks the blob files for the given hashes. Used after the
// index reports which hashes lost their last reference.
func (c *Cache) RemoveBlobs(hashes []string) error {
	var firstErr error
	for _, hash := range hashes {
		if len(hash) < 4 {
			continue
		}
		path := c.blobPath(hash)
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			if firstErr == nil {
				firstErr = fmt.Errorf("failed to delete blob %s: %w", hash, err)
			}
			continue
		}
		// Opportunistically drop emptied fan-out directories.
		dir := filepath.Dir(path)
		os.Remove(dir)
		os.Remove(filepath.Dir(dir))
	}
	return firstErr
}

// RemoveCourseAssets drops a course's index entries and unlinks any blobs
// that no other course references.
func (c *Cache) RemoveCourseAssets(courseID string) error {
	orphans, err := c.repo.DeleteCourseAssets(courseID)
	if err != nil {
		return err
	}
	return c.RemoveBlobs(orphans)
}

// Clear removes the entire blob directory tree.
func (c *Cache) Clear() error {
	if err := os.RemoveAll(c.baseDir); err != nil {
		return fmt.Errorf("failed to clear cache: %w", err)
	}
	return os.MkdirAll(c.baseDir, 0755)
}
