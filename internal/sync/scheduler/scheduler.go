// Package scheduler drives background replay of the offline change queue:
// a pass shortly after connectivity returns and periodic passes while online.
package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/kimhsiao/ledgersync/internal/logging"
	syncpkg "github.com/kimhsiao/ledgersync/internal/sync"
)

// Monitor is the connectivity signal the scheduler follows.
// *connectivity.Monitor satisfies it.
type Monitor interface {
	IsOnline() bool
	Subscribe() (<-chan bool, func())
}

// Scheduler manages background sync operations.
type Scheduler struct {
	engine      syncpkg.SyncEngineInterface
	monitor     Monitor
	interval    time.Duration
	settleDelay time.Duration
	passTimeout time.Duration

	wg     sync.WaitGroup
	mu     sync.RWMutex
	cancel context.CancelFunc

	lastSyncTime time.Time
	lastResult   *syncpkg.SyncResult
}

// SchedulerConfig holds scheduler configuration.
type SchedulerConfig struct {
	Interval    time.Duration // periodic pass while online (default: 5 minutes)
	SettleDelay time.Duration // wait after reconnecting (default: 2 seconds)
	PassTimeout time.Duration // bound on each pass (default: 5 minutes)
}

// DefaultSchedulerConfig returns default scheduler configuration.
func DefaultSchedulerConfig() *SchedulerConfig {
	return &SchedulerConfig{
		Interval:    5 * time.Minute,
		SettleDelay: 2 * time.Second,
		PassTimeout: 5 * time.Minute,
	}
}

// NewScheduler creates a new Scheduler.
func NewScheduler(engine syncpkg.SyncEngineInterface, monitor Monitor, config *SchedulerConfig) *Scheduler {
	def := DefaultSchedulerConfig()
	if config == nil {
		config = def
	}
	s := &Scheduler{
		engine:      engine,
		monitor:     monitor,
		interval:    config.Interval,
		settleDelay: config.SettleDelay,
		passTimeout: config.PassTimeout,
	}
	if s.interval <= 0 {
		s.interval = def.Interval
	}
	if s.settleDelay < 0 {
		s.settleDelay = def.SettleDelay
	}
	if s.passTimeout <= 0 {
		s.passTimeout = def.PassTimeout
	}
	return s
}

// Start starts the background loops. Calling Start on a running scheduler
// has no effect.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	if s.cancel != nil {
		s.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.mu.Unlock()

	transitions, unsubscribe := s.monitor.Subscribe()

	s.wg.Add(2)
	go s.reconnectLoop(ctx, transitions, unsubscribe)
	go s.periodicSyncLoop(ctx)

	logging.Info("Background sync scheduler started", map[string]interface{}{
		"interval_seconds":     s.interval.Seconds(),
		"settle_delay_seconds": s.settleDelay.Seconds(),
	})
}

// Stop stops the scheduler and waits for any pass it started to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	cancel := s.cancel
	s.cancel = nil
	s.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	s.wg.Wait()

	logging.Info("Background sync scheduler stopped", nil)
}

// reconnectLoop schedules a pass settleDelay after each offline→online
// transition. Going offline again before the delay elapses cancels it.
func (s *Scheduler) reconnectLoop(ctx context.Context, transitions <-chan bool, unsubscribe func()) {
	defer s.wg.Done()
	defer unsubscribe()

	var settle <-chan time.Time
	var timer *time.Timer
	stopTimer := func() {
		if timer != nil {
			timer.Stop()
			timer = nil
			settle = nil
		}
	}
	defer stopTimer()

	for {
		select {
		case <-ctx.Done():
			return
		case online, ok := <-transitions:
			if !ok {
				return
			}
			stopTimer()
			if !online {
				logging.Debug("Connectivity lost, pending reconnect pass cancelled", nil)
				continue
			}
			timer = time.NewTimer(s.settleDelay)
			settle = timer.C
		case <-settle:
			timer, settle = nil, nil
			if s.monitor.IsOnline() {
				logging.Info("Connectivity restored, syncing pending changes", nil)
				s.runSync(ctx)
			}
		}
	}
}

// periodicSyncLoop runs a pass on every tick while online with work queued.
func (s *Scheduler) periodicSyncLoop(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !s.monitor.IsOnline() || s.engine.InProgress() {
				continue
			}
			if s.engine.PendingChangesCount(ctx) == 0 {
				continue
			}
			s.runSync(ctx)
		}
	}
}

// runSync executes one bounded pass.
func (s *Scheduler) runSync(ctx context.Context) syncpkg.SyncResult {
	syncCtx, cancel := context.WithTimeout(ctx, s.passTimeout)
	defer cancel()

	result := s.engine.SyncPendingChanges(syncCtx)
	if result.Skipped {
		logging.Debug("Sync already in progress, skipping", nil)
		return result
	}
	if result.StartTime.IsZero() {
		// Offline or unreadable queue; nothing ran.
		return result
	}

	s.mu.Lock()
	s.lastSyncTime = result.EndTime
	r := result
	s.lastResult = &r
	s.mu.Unlock()

	return result
}

// SyncNow runs a pass immediately and waits for it.
func (s *Scheduler) SyncNow(ctx context.Context) syncpkg.SyncResult {
	result := s.runSync(ctx)
	logging.Info("Manual sync completed", map[string]interface{}{
		"success":   result.Success,
		"failed":    result.Failed,
		"conflicts": result.Conflicts,
		"skipped":   result.Skipped,
	})
	return result
}

// SchedulerStatus is the current status of the scheduler.
type SchedulerStatus struct {
	IsRunning      bool                `json:"is_running"`
	IsOnline       bool                `json:"is_online"`
	SyncInProgress bool                `json:"sync_in_progress"`
	PendingItems   int                 `json:"pending_items"`
	LastSyncTime   *time.Time          `json:"last_sync_time,omitempty"`
	LastResult     *syncpkg.SyncResult `json:"last_result,omitempty"`
}

// GetStatus returns the current status of the scheduler.
func (s *Scheduler) GetStatus(ctx context.Context) SchedulerStatus {
	status := SchedulerStatus{
		IsRunning:      s.IsRunning(),
		IsOnline:       s.monitor.IsOnline(),
		SyncInProgress: s.engine.InProgress(),
		PendingItems:   s.engine.PendingChangesCount(ctx),
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.lastSyncTime.IsZero() {
		t := s.lastSyncTime
		status.LastSyncTime = &t
	}
	if s.lastResult != nil {
		r := *s.lastResult
		status.LastResult = &r
	}
	return status
}

// IsRunning returns whether the scheduler is running.
func (s *Scheduler) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cancel != nil
}
