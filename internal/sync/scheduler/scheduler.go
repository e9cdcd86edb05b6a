// Package scheduler provides background sync scheduling for the offline layer.
package scheduler

import (
	"context"
	"sync"
	"time"

	apperrors "github.com/rinafcode/teachLink-web-sub000/internal/errors"
	"github.com/rinafcode/teachLink-web-sub000/internal/logging"
	syncpkg "github.com/rinafcode/teachLink-web-sub000/internal/sync"
)

// Scheduler runs sync cycles in the background: periodically while online,
// and immediately when connectivity returns after an offline stretch.
type Scheduler struct {
	engine       *syncpkg.Engine
	syncInterval time.Duration
	syncTimeout  time.Duration
	stopCh       chan struct{}
	wg           sync.WaitGroup
	mu           sync.RWMutex
	isRunning    bool
	isOnline     bool
	lastSyncTime time.Time
}

// Config holds scheduler configuration.
type Config struct {
	SyncInterval time.Duration // how often to sync while online
	SyncTimeout  time.Duration // per-cycle deadline
}

// DefaultConfig returns default scheduler configuration.
func DefaultConfig() *Config {
	return &Config{
		SyncInterval: 15 * time.Minute,
		SyncTimeout:  5 * time.Minute,
	}
}

// NewScheduler creates a new Scheduler.
func NewScheduler(engine *syncpkg.Engine, config *Config) *Scheduler {
	if config == nil {
		config = DefaultConfig()
	}
	if config.SyncInterval <= 0 {
		config.SyncInterval = 15 * time.Minute
	}
	if config.SyncTimeout <= 0 {
		config.SyncTimeout = 5 * time.Minute
	}

	return &Scheduler{
		engine:       engine,
		syncInterval: config.SyncInterval,
		syncTimeout:  config.SyncTimeout,
		stopCh:       make(chan struct{}),
		isOnline:     true, // Assume online initially
	}
}

// Start starts the background sync loop.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	if s.isRunning {
		s.mu.Unlock()
		return
	}
	s.isRunning = true
	s.mu.Unlock()

	s.wg.Add(1)
	go s.syncLoop(ctx)

	logging.Info("Background sync scheduler started", map[string]interface{}{
		"sync_interval": s.syncInterval.String(),
	})
}

// Stop stops the background sync loop gracefully.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.isRunning {
		s.mu.Unlock()
		return
	}
	s.isRunning = false
	s.mu.Unlock()

	close(s.stopCh)
	s.wg.Wait()

	logging.Info("Background sync scheduler stopped", nil)
}

// SetOnlineStatus changes the online status. Going from offline to online
// triggers an immediate sync so buffered mutations drain without waiting
// for the next tick. Connectivity reports arrive on request-scoped
// contexts that are canceled as soon as the handler returns, so the
// spawned cycle is detached from the caller's cancellation.
func (s *Scheduler) SetOnlineStatus(ctx context.Context, isOnline bool) {
	s.mu.Lock()
	wasOnline := s.isOnline
	s.isOnline = isOnline
	s.mu.Unlock()

	if wasOnline == isOnline {
		return
	}

	logging.Info("Online status changed", map[string]interface{}{
		"was_online": wasOnline,
		"is_online":  isOnline,
	})

	if isOnline {
		go s.runSync(context.WithoutCancel(ctx))
	}
}

// syncLoop runs periodic sync while online.
func (s *Scheduler) syncLoop(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.syncInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		case <-ticker.C:
			if !s.IsOnline() {
				continue
			}
			go s.runSync(ctx)
		}
	}
}

// runSync executes one sync cycle with the configured timeout. The engine
// rejects overlapping cycles, so a slow cycle never stacks.
func (s *Scheduler) runSync(ctx context.Context) {
	if !s.IsOnline() {
		logging.Debug("Skipping sync - scheduler is offline", nil)
		return
	}

	syncCtx, cancel := context.WithTimeout(ctx, s.syncTimeout)
	defer cancel()

	result, err := s.engine.SyncData(syncCtx)
	if err != nil {
		if apperrors.Is(err, apperrors.ErrSyncInProgress) {
			logging.Debug("Sync already in progress, skipping", nil)
			return
		}
		logging.Error("Periodic sync failed", err, map[string]interface{}{
			"interval_minutes": s.syncInterval.Minutes(),
		})
		return
	}

	s.mu.Lock()
	s.lastSyncTime = time.Now()
	s.mu.Unlock()

	logging.Info("Periodic sync completed", map[string]interface{}{
		"synced":    result.Synced,
		"conflicts": len(result.Conflicts),
		"abandoned": result.Abandoned,
	})
}

// TriggerSync triggers an immediate sync. Returns false if a cycle is
// already running. The cycle is detached from the caller's cancellation,
// bounded only by the configured sync timeout.
func (s *Scheduler) TriggerSync(ctx context.Context) bool {
	if s.engine.Syncing() {
		return false
	}
	go s.runSync(context.WithoutCancel(ctx))
	return true
}

// SyncNow runs a sync cycle and waits for completion.
func (s *Scheduler) SyncNow(ctx context.Context) (*syncpkg.SyncResult, error) {
	syncCtx, cancel := context.WithTimeout(ctx, s.syncTimeout)
	defer cancel()

	result, err := s.engine.SyncData(syncCtx)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.lastSyncTime = time.Now()
	s.mu.Unlock()

	return result, nil
}

// Status describes the scheduler's current state.
type Status struct {
	IsRunning      bool           `json:"is_running"`
	IsOnline       bool           `json:"is_online"`
	SyncInProgress bool           `json:"sync_in_progress"`
	LastSyncTime   *time.Time     `json:"last_sync_time,omitempty"`
	PendingItems   int            `json:"pending_items"`
	QueueStats     map[string]int `json:"queue_stats,omitempty"`
}

// GetStatus returns the current status of the scheduler.
func (s *Scheduler) GetStatus() Status {
	s.mu.RLock()
	status := Status{
		IsRunning: s.isRunning,
		IsOnline:  s.isOnline,
	}
	if !s.lastSyncTime.IsZero() {
		t := s.lastSyncTime
		status.LastSyncTime = &t
	}
	s.mu.RUnlock()

	status.SyncInProgress = s.engine.Syncing()

	if pending, err := s.engine.Queue().Pending(); err == nil {
		status.PendingItems = len(pending)
	}
	if stats, err := s.engine.Queue().Stats(); err == nil {
		status.QueueStats = stats
	}

	return status
}

// IsOnline returns whether the scheduler is in online mode.
func (s *Scheduler) IsOnline() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.isOnline
}

// IsRunning returns whether the scheduler is running.
func (s *Scheduler) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.isRunning
}
