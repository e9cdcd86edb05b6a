// Package queue manages the durable queue of offline mutations with
// retry bookkeeping and exponential backoff.
package queue

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/rinafcode/teachLink-web-sub000/internal/logging"
	"github.com/rinafcode/teachLink-web-sub000/internal/models"
	"github.com/rinafcode/teachLink-web-sub000/internal/store"
)

// Manager wraps the persisted queue rows with the item state machine:
// queued -> in_flight -> removed on success, back to queued with backoff
// on failure, or moved to the dead-letter store once retries run out.
type Manager struct {
	repo       *store.Repository
	maxRetries int
	mu         sync.Mutex
}

// NewManager creates a queue Manager.
func NewManager(repo *store.Repository, maxRetries int) *Manager {
	if maxRetries <= 0 {
		maxRetries = 3
	}
	return &Manager{
		repo:       repo,
		maxRetries: maxRetries,
	}
}

// Enqueue buffers a mutation. A later write for the same entity supersedes
// the earlier entry in place rather than appending.
func (m *Manager) Enqueue(itemType, courseID, moduleID string, payload interface{}) (*models.SyncQueueItem, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to encode payload: %w", err)
	}

	item := &models.SyncQueueItem{
		Type:        itemType,
		CourseID:    courseID,
		ModuleID:    moduleID,
		Payload:     raw,
		MaxRetries:  m.maxRetries,
		NextRetryAt: time.Now().Unix(),
		Status:      models.QueueStatusQueued,
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.repo.AddToSyncQueue(item); err != nil {
		return nil, err
	}

	logging.Debug("Enqueued sync item", map[string]interface{}{
		"item_id":   item.ID.String(),
		"type":      itemType,
		"course_id": courseID,
		"module_id": moduleID,
	})

	return item, nil
}

// Pending returns items ready to push: queued and past their retry time,
// in enqueue order.
func (m *Manager) Pending() ([]*models.SyncQueueItem, error) {
	all, err := m.repo.GetSyncQueue()
	if err != nil {
		return nil, err
	}

	now := time.Now().Unix()
	var ready []*models.SyncQueueItem
	for _, item := range all {
		if item.Status == models.QueueStatusQueued && item.NextRetryAt <= now {
			ready = append(ready, item)
		}
	}
	return ready, nil
}

// All returns every queue item.
func (m *Manager) All() ([]*models.SyncQueueItem, error) {
	return m.repo.GetSyncQueue()
}

// MarkInFlight transitions an item to in_flight before the push.
func (m *Manager) MarkInFlight(item *models.SyncQueueItem) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	item.Status = models.QueueStatusInFlight
	return m.repo.UpdateSyncQueueItem(item)
}

// Complete removes a successfully pushed item.
func (m *Manager) Complete(item *models.SyncQueueItem) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.repo.RemoveFromSyncQueue(item.ID.String()); err != nil {
		return err
	}

	logging.Debug("Completed sync item", map[string]interface{}{
		"item_id": item.ID.String(),
		"type":    item.Type,
	})
	return nil
}

// Failed records a push failure. The item returns to queued with an
// exponential backoff, or moves to the dead-letter store when its retry
// budget is spent. Returns the dead letter when the item was abandoned.
func (m *Manager) Failed(item *models.SyncQueueItem, cause error) (*models.DeadLetter, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	item.RetryCount++

	if item.RetryCount >= item.MaxRetries {
		letter, err := m.repo.MoveToDeadLetter(item, cause.Error())
		if err != nil {
			return nil, err
		}
		logging.Warn("Sync item abandoned after max retries", map[string]interface{}{
			"item_id":     item.ID.String(),
			"type":        item.Type,
			"retry_count": item.RetryCount,
			"error":       cause.Error(),
		})
		return letter, nil
	}

	backoff := calculateBackoff(item.RetryCount)
	item.NextRetryAt = time.Now().Unix() + backoff
	item.Status = models.QueueStatusQueued

	if err := m.repo.UpdateSyncQueueItem(item); err != nil {
		return nil, err
	}

	logging.Info("Sync item failed, scheduled retry", map[string]interface{}{
		"item_id":         item.ID.String(),
		"type":            item.Type,
		"retry":           item.RetryCount,
		"max_retries":     item.MaxRetries,
		"backoff_seconds": backoff,
		"error":           cause.Error(),
	})
	return nil, nil
}

// calculateBackoff calculates exponential backoff delay in seconds.
// Formula: 2^retry_count * 60, capped at 3600 seconds (1 hour).
func calculateBackoff(retryCount int) int64 {
	backoff := int64(1) << uint(retryCount)
	backoff = backoff * 60

	maxBackoff := int64(3600)
	if backoff > maxBackoff {
		backoff = maxBackoff
	}

	return backoff
}

// Requeue moves a dead letter back into the queue with a fresh retry budget.
func (m *Manager) Requeue(letterID string) (*models.SyncQueueItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	letter, err := m.repo.GetDeadLetter(letterID)
	if err != nil {
		return nil, err
	}
	if letter == nil {
		return nil, fmt.Errorf("dead letter %s not found", letterID)
	}

	item := &models.SyncQueueItem{
		Type:        letter.Type,
		CourseID:    letter.CourseID,
		ModuleID:    letter.ModuleID,
		Payload:     letter.Payload,
		MaxRetries:  m.maxRetries,
		NextRetryAt: time.Now().Unix(),
		Status:      models.QueueStatusQueued,
	}
	if err := m.repo.AddToSyncQueue(item); err != nil {
		return nil, err
	}
	if err := m.repo.RemoveDeadLetter(letterID); err != nil {
		return nil, err
	}
	return item, nil
}

// Size returns the number of items in the queue.
func (m *Manager) Size() (int, error) {
	all, err := m.repo.GetSyncQueue()
	if err != nil {
		return 0, err
	}
	return len(all), nil
}

// Clear removes all queue items.
func (m *Manager) Clear() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.repo.ClearSyncQueue()
}

// Stats summarizes queue contents by status.
func (m *Manager) Stats() (map[string]int, error) {
	all, err := m.repo.GetSyncQueue()
	if err != nil {
		return nil, err
	}

	stats := map[string]int{
		"total":     len(all),
		"queued":    0,
		"in_flight": 0,
	}
	for _, item := range all {
		switch item.Status {
		case models.QueueStatusQueued:
			stats["queued"]++
		case models.QueueStatusInFlight:
			stats["in_flight"]++
		}
	}
	return stats, nil
}
