// Package scheduler tests for background sync scheduling functionality.
package scheduler

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/kimhsiao/ledgersync/internal/connectivity"
	"github.com/kimhsiao/ledgersync/internal/models"
	syncpkg "github.com/kimhsiao/ledgersync/internal/sync"
)

// =====================================================
// Test Helpers
// =====================================================

// fakeEngine counts passes and reports a fixed queue length.
type fakeEngine struct {
	passes  atomic.Int32
	pending atomic.Int32
	running atomic.Bool

	mu    sync.Mutex
	block chan struct{}
}

func (e *fakeEngine) RecordChange(context.Context, models.EntityType, string, models.ChangeKind, models.Payload) {
}

func (e *fakeEngine) SyncPendingChanges(ctx context.Context) syncpkg.SyncResult {
	if !e.running.CompareAndSwap(false, true) {
		return syncpkg.SyncResult{Skipped: true}
	}
	defer e.running.Store(false)

	e.mu.Lock()
	block := e.block
	e.mu.Unlock()
	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
		}
	}

	e.passes.Add(1)
	now := time.Now()
	n := int(e.pending.Swap(0))
	return syncpkg.SyncResult{Success: n, StartTime: now, EndTime: now}
}

func (e *fakeEngine) PendingChangesCount(context.Context) int { return int(e.pending.Load()) }

func (e *fakeEngine) Status(context.Context) syncpkg.SyncStatus { return syncpkg.SyncStatus{} }

func (e *fakeEngine) InProgress() bool { return e.running.Load() }

func (e *fakeEngine) SetEventHandler(syncpkg.SyncEventHandler) {}

func newTestScheduler(t *testing.T, online bool, cfg *SchedulerConfig) (*fakeEngine, *connectivity.Monitor, *Scheduler) {
	t.Helper()
	engine := &fakeEngine{}
	monitor := connectivity.NewMonitor(online)
	s := NewScheduler(engine, monitor, cfg)
	t.Cleanup(s.Stop)
	return engine, monitor, s
}

// eventually polls cond until it holds or the deadline passes.
func eventually(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal(msg)
}

// =====================================================
// Config Tests
// =====================================================

// TestDefaultSchedulerConfig verifies default configuration.
func TestDefaultSchedulerConfig(t *testing.T) {
	config := DefaultSchedulerConfig()

	if config.Interval != 5*time.Minute {
		t.Errorf("Interval = %v, want 5m", config.Interval)
	}
	if config.SettleDelay != 2*time.Second {
		t.Errorf("SettleDelay = %v, want 2s", config.SettleDelay)
	}
	if config.PassTimeout != 5*time.Minute {
		t.Errorf("PassTimeout = %v, want 5m", config.PassTimeout)
	}
}

func TestNewScheduler_fillsDefaults(t *testing.T) {
	_, _, s := newTestScheduler(t, true, &SchedulerConfig{})
	if s.interval != 5*time.Minute || s.passTimeout != 5*time.Minute {
		t.Errorf("scheduler = interval %v timeout %v", s.interval, s.passTimeout)
	}
	if s.settleDelay != 0 {
		t.Errorf("settleDelay = %v, want explicit zero kept", s.settleDelay)
	}
}

// =====================================================
// Lifecycle Tests
// =====================================================

func TestScheduler_StartStop(t *testing.T) {
	_, _, s := newTestScheduler(t, true, nil)

	if s.IsRunning() {
		t.Error("IsRunning() = true before Start")
	}

	s.Start(context.Background())
	s.Start(context.Background()) // no-op
	if !s.IsRunning() {
		t.Error("IsRunning() = false after Start")
	}

	s.Stop()
	s.Stop() // no-op
	if s.IsRunning() {
		t.Error("IsRunning() = true after Stop")
	}
}

// =====================================================
// Reconnect Tests
// =====================================================

// TestScheduler_reconnectTriggersPass verifies a pass follows an
// offline→online transition after the settle delay.
func TestScheduler_reconnectTriggersPass(t *testing.T) {
	engine, monitor, s := newTestScheduler(t, false, &SchedulerConfig{
		Interval:    time.Hour,
		SettleDelay: 20 * time.Millisecond,
	})
	engine.pending.Store(2)
	s.Start(context.Background())

	monitor.SetOnline(true)
	eventually(t, func() bool { return engine.passes.Load() == 1 }, "no pass after reconnect")

	status := s.GetStatus(context.Background())
	if status.LastSyncTime == nil || status.LastResult == nil || status.LastResult.Success != 2 {
		t.Errorf("GetStatus() = %+v", status)
	}
}

// TestScheduler_flapCancelsSettle verifies dropping offline again within the
// settle delay cancels the pending pass.
func TestScheduler_flapCancelsSettle(t *testing.T) {
	engine, monitor, s := newTestScheduler(t, false, &SchedulerConfig{
		Interval:    time.Hour,
		SettleDelay: 100 * time.Millisecond,
	})
	s.Start(context.Background())

	monitor.SetOnline(true)
	time.Sleep(10 * time.Millisecond)
	monitor.SetOnline(false)

	time.Sleep(200 * time.Millisecond)
	if n := engine.passes.Load(); n != 0 {
		t.Errorf("passes = %d, want 0 after flapping", n)
	}
}

// =====================================================
// Periodic Tests
// =====================================================

func TestScheduler_periodic(t *testing.T) {
	tests := []struct {
		name       string
		online     bool
		pending    int32
		wantPasses bool
	}{
		{"online with work", true, 1, true},
		{"online and empty", true, 0, false},
		{"offline with work", false, 1, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			engine, _, s := newTestScheduler(t, tt.online, &SchedulerConfig{
				Interval:    10 * time.Millisecond,
				SettleDelay: time.Hour,
			})
			engine.pending.Store(tt.pending)
			s.Start(context.Background())

			if tt.wantPasses {
				eventually(t, func() bool { return engine.passes.Load() >= 1 }, "no periodic pass")
				return
			}
			time.Sleep(60 * time.Millisecond)
			if n := engine.passes.Load(); n != 0 {
				t.Errorf("passes = %d, want 0", n)
			}
		})
	}
}

// =====================================================
// SyncNow Tests
// =====================================================

func TestScheduler_SyncNow(t *testing.T) {
	engine, _, s := newTestScheduler(t, true, nil)
	engine.pending.Store(3)

	result := s.SyncNow(context.Background())
	if result.Success != 3 || result.Skipped {
		t.Errorf("SyncNow() = %+v, want success 3", result)
	}
	if s.GetStatus(context.Background()).PendingItems != 0 {
		t.Error("PendingItems != 0 after SyncNow")
	}
}

// TestScheduler_SyncNowSkippedWhileRunning verifies manual passes share the
// single-flight entry point.
func TestScheduler_SyncNowSkippedWhileRunning(t *testing.T) {
	engine, _, s := newTestScheduler(t, true, nil)
	release := make(chan struct{})
	engine.block = release

	done := make(chan syncpkg.SyncResult)
	go func() { done <- s.SyncNow(context.Background()) }()
	eventually(t, engine.InProgress, "first pass never started")

	if r := s.SyncNow(context.Background()); !r.Skipped {
		t.Errorf("concurrent SyncNow() = %+v, want skipped", r)
	}
	if !s.GetStatus(context.Background()).SyncInProgress {
		t.Error("SyncInProgress = false during pass")
	}

	close(release)
	<-done
	if s.GetStatus(context.Background()).LastResult == nil {
		t.Error("LastResult not recorded")
	}
}
