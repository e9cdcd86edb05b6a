// Package quota keeps total offline storage under a configured byte
// ceiling by evicting least-recently-accessed courses.
package quota

import (
	"fmt"
	"sync"

	apperrors "github.com/rinafcode/teachLink-web-sub000/internal/errors"
	"github.com/rinafcode/teachLink-web-sub000/internal/logging"
	"github.com/rinafcode/teachLink-web-sub000/internal/store"
)

// Remover deletes a course and its cached assets. Implemented by the
// offline service so eviction cleans blobs as well as rows.
type Remover interface {
	Remove(courseID string) error
}

// Info reports storage usage versus the configured quota.
type Info struct {
	UsedBytes  int64   `json:"used_bytes"`
	QuotaBytes int64   `json:"quota_bytes"`
	Percent    float64 `json:"percent"`
}

// Manager enforces the storage quota with oldest-first eviction.
type Manager struct {
	repo    *store.Repository
	remover Remover

	mu       sync.RWMutex
	maxBytes int64
}

// NewManager creates a Manager. maxBytes <= 0 disables the quota.
func NewManager(repo *store.Repository, remover Remover, maxBytes int64) *Manager {
	return &Manager{
		repo:     repo,
		remover:  remover,
		maxBytes: maxBytes,
	}
}

// SetQuota configures the byte ceiling. Takes effect on the next write
// that would exceed it; nothing is evicted retroactively.
func (m *Manager) SetQuota(maxBytes int64) {
	m.mu.Lock()
	m.maxBytes = maxBytes
	m.mu.Unlock()
}

// Quota returns the configured byte ceiling.
func (m *Manager) Quota() int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.maxBytes
}

// Usage reports current usage against the quota.
func (m *Manager) Usage() (*Info, error) {
	used, err := m.repo.StorageUsage()
	if err != nil {
		return nil, err
	}

	info := &Info{
		UsedBytes:  used,
		QuotaBytes: m.Quota(),
	}
	if info.QuotaBytes > 0 {
		info.Percent = float64(used) / float64(info.QuotaBytes) * 100
	}
	return info, nil
}

// EnsureCapacity makes room for an incoming entry of the given size,
// evicting least-recently-accessed courses one at a time until projected
// usage fits. Returns the evicted course ids.
//
// If the incoming entry alone exceeds the quota, eviction cannot succeed
// and ErrEntryTooLarge is returned before anything is removed.
func (m *Manager) EnsureCapacity(incomingBytes int64) ([]string, error) {
	max := m.Quota()
	if max <= 0 {
		return nil, nil
	}

	if incomingBytes > max {
		return nil, apperrors.New(apperrors.ErrEntryTooLarge,
			fmt.Sprintf("entry of %d bytes exceeds quota of %d bytes", incomingBytes, max))
	}

	used, err := m.repo.StorageUsage()
	if err != nil {
		return nil, err
	}
	if used+incomingBytes <= max {
		return nil, nil
	}

	candidates, err := m.repo.ListCoursesByLastAccessed()
	if err != nil {
		return nil, err
	}

	var evicted []string
	for _, course := range candidates {
		if used+incomingBytes <= max {
			break
		}
		if err := m.remover.Remove(course.ID); err != nil {
			return evicted, fmt.Errorf("failed to evict course %s: %w", course.ID, err)
		}
		used -= course.SizeBytes
		evicted = append(evicted, course.ID)

		logging.Info("Evicted course for quota", map[string]interface{}{
			"course_id":  course.ID,
			"size_bytes": course.SizeBytes,
			"used_bytes": used,
		})
	}

	if used+incomingBytes > max {
		return evicted, apperrors.New(apperrors.ErrQuotaExceeded,
			fmt.Sprintf("usage %d + entry %d still exceeds quota %d after eviction",
				used, incomingBytes, max))
	}

	return evicted, nil
}
