// Package sync replays the offline change queue against the remote store.
package sync

import (
	"context"
	"errors"
	"fmt"
	gosync "sync"
	"sync/atomic"
	"time"

	"github.com/kimhsiao/ledgersync/internal/db"
	apperrors "github.com/kimhsiao/ledgersync/internal/errors"
	"github.com/kimhsiao/ledgersync/internal/logging"
	"github.com/kimhsiao/ledgersync/internal/metrics"
	"github.com/kimhsiao/ledgersync/internal/models"
	"github.com/kimhsiao/ledgersync/internal/remote"
	"github.com/kimhsiao/ledgersync/internal/sync/conflict"
	"github.com/kimhsiao/ledgersync/internal/sync/queue"
)

// SyncResult reports the outcome of one replay pass. Success counts changes
// the remote store now reflects, including updates discarded because the
// remote copy was newer. Failed counts changes dropped after exhausting
// their retries in this pass. Retrying counts changes left in the queue for
// a later pass, including ones the remote store accepted but that could not
// be removed from the queue afterwards.
type SyncResult struct {
	Success      int           `json:"success"`
	Failed       int           `json:"failed"`
	Retrying     int           `json:"retrying"`
	Conflicts    int           `json:"conflicts"`
	Unrecognized int           `json:"unrecognized"`
	Skipped      bool          `json:"skipped"`
	StartTime    time.Time     `json:"start_time"`
	EndTime      time.Time     `json:"end_time"`
	Duration     time.Duration `json:"duration"`
}

// SyncStatus is a point-in-time view of the engine.
type SyncStatus struct {
	InProgress   bool        `json:"in_progress"`
	Online       bool        `json:"online"`
	PendingCount int         `json:"pending_count"`
	LastSyncTime *time.Time  `json:"last_sync_time,omitempty"`
	LastResult   *SyncResult `json:"last_result,omitempty"`
}

// Config holds engine options.
type Config struct {
	// ConflictCheck enables last-write-wins checks on updates.
	ConflictCheck bool

	// PassTimeout bounds passes started in the background.
	PassTimeout time.Duration
}

// SyncEngine owns the queue and replays it.
type SyncEngine struct {
	queue    *queue.ChangeQueue
	remote   remote.Dispatcher
	conn     Connectivity
	repo     db.SyncRepository
	resolver *conflict.Resolver

	conflictCheck bool
	passTimeout   time.Duration
	now           func() time.Time

	running atomic.Bool
	bg      gosync.WaitGroup

	mu         gosync.RWMutex
	lastSync   *time.Time
	lastResult *SyncResult
	handler    SyncEventHandler
}

// NewSyncEngine creates a new SyncEngine. repo may be nil, in which case
// conflicts and dropped changes are only logged.
func NewSyncEngine(q *queue.ChangeQueue, dispatcher remote.Dispatcher, conn Connectivity, repo db.SyncRepository, cfg Config) *SyncEngine {
	if cfg.PassTimeout <= 0 {
		cfg.PassTimeout = 5 * time.Minute
	}
	return &SyncEngine{
		queue:         q,
		remote:        dispatcher,
		conn:          conn,
		repo:          repo,
		resolver:      conflict.NewResolver(),
		conflictCheck: cfg.ConflictCheck,
		passTimeout:   cfg.PassTimeout,
		now:           time.Now,
	}
}

// SetEventHandler sets the event handler for sync notifications.
func (e *SyncEngine) SetEventHandler(handler SyncEventHandler) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.handler = handler
}

func (e *SyncEngine) emit(t SyncEventType, data map[string]interface{}) {
	e.mu.RLock()
	h := e.handler
	e.mu.RUnlock()
	if h != nil {
		h(SyncEvent{Type: t, Data: data})
	}
}

// RecordChange appends a change to the queue. Invalid input and storage
// failures are logged and counted, never returned. When online and idle a
// pass is scheduled in the background.
func (e *SyncEngine) RecordChange(ctx context.Context, entityType models.EntityType, entityID string, kind models.ChangeKind, payload models.Payload) {
	defer func() {
		if r := recover(); r != nil {
			metrics.IncRecordError()
			logging.ErrorWithCode("Recording change panicked", string(apperrors.ErrRecording),
				fmt.Errorf("%v", r), map[string]interface{}{
					"entity_type": entityType,
					"entity_id":   entityID,
				})
		}
	}()

	change, err := e.queue.Record(ctx, entityType, entityID, kind, payload)
	if err != nil {
		metrics.IncRecordError()
		logging.ErrorWithCode("Failed to record change", string(apperrors.ErrRecording), err,
			map[string]interface{}{
				"entity_type": entityType,
				"entity_id":   entityID,
				"change_kind": kind,
			})
		return
	}
	metrics.IncRecorded(string(change.EntityType))
	e.refreshPendingGauge(ctx)

	if e.conn.IsOnline() && !e.running.Load() {
		e.schedule(ctx, func(ctx context.Context) {
			e.SyncPendingChanges(ctx)
		})
	}
}

// schedule runs fn on its own goroutine with a context detached from the
// caller's and bounded by the pass timeout.
func (e *SyncEngine) schedule(parent context.Context, fn func(ctx context.Context)) {
	e.bg.Add(1)
	go func() {
		defer e.bg.Done()
		ctx, cancel := context.WithTimeout(context.WithoutCancel(parent), e.passTimeout)
		defer cancel()
		fn(ctx)
	}()
}

// Wait blocks until background passes started by RecordChange finish.
func (e *SyncEngine) Wait() {
	e.bg.Wait()
}

// InProgress reports whether a pass is running.
func (e *SyncEngine) InProgress() bool {
	return e.running.Load()
}

// SyncPendingChanges replays a snapshot of the queue in insertion order, one
// change at a time. It is single-flight: a concurrent call returns the zero
// result with Skipped set. Offline or unreadable storage yields the zero
// result. Individual failures are reflected in the counts only.
func (e *SyncEngine) SyncPendingChanges(ctx context.Context) SyncResult {
	if !e.running.CompareAndSwap(false, true) {
		metrics.IncSyncPass(metrics.OutcomeSkipped)
		logging.Debug("Sync already in progress, skipping", nil)
		return SyncResult{Skipped: true}
	}
	defer e.running.Store(false)

	if !e.conn.IsOnline() {
		metrics.IncSyncPass(metrics.OutcomeOffline)
		logging.Debug("Skipping sync - remote store is offline", nil)
		return SyncResult{}
	}

	result := SyncResult{StartTime: e.now()}

	pending, err := e.queue.Pending(ctx)
	if err != nil {
		metrics.IncSyncPass(metrics.OutcomeError)
		logging.ErrorWithCode("Failed to read offline queue", string(apperrors.ErrStorage), err, nil)
		return SyncResult{}
	}

	e.emit(EventSyncStarted, map[string]interface{}{"pending": len(pending)})
	logging.Info("Starting sync pass", map[string]interface{}{"pending": len(pending)})

	for _, change := range pending {
		if err := ctx.Err(); err != nil {
			logging.Warn("Sync pass interrupted", map[string]interface{}{
				"error":     err.Error(),
				"remaining": len(pending) - result.Success - result.Failed - result.Retrying - result.Unrecognized,
			})
			break
		}
		e.process(ctx, change, &result)
	}

	result.EndTime = e.now()
	result.Duration = result.EndTime.Sub(result.StartTime)

	e.mu.Lock()
	end := result.EndTime
	e.lastSync = &end
	r := result
	e.lastResult = &r
	e.mu.Unlock()

	metrics.IncSyncPass(metrics.OutcomeCompleted)
	metrics.ObserveSyncPass(result.Duration)
	e.refreshPendingGauge(ctx)

	logging.Info("Sync pass completed", map[string]interface{}{
		"success":      result.Success,
		"failed":       result.Failed,
		"retrying":     result.Retrying,
		"conflicts":    result.Conflicts,
		"unrecognized": result.Unrecognized,
		"duration_ms":  result.Duration.Milliseconds(),
	})
	e.emit(EventSyncCompleted, map[string]interface{}{
		"success":      result.Success,
		"failed":       result.Failed,
		"retrying":     result.Retrying,
		"conflicts":    result.Conflicts,
		"unrecognized": result.Unrecognized,
	})

	return result
}

// process replays one change and updates the queue and result accordingly.
func (e *SyncEngine) process(ctx context.Context, change *models.QueuedChange, result *SyncResult) {
	fields := map[string]interface{}{
		"change_id":   change.ID,
		"entity_type": change.EntityType,
		"entity_id":   change.EntityID,
		"change_kind": change.Kind,
		"retry_count": change.RetryCount,
	}

	collection, ok := remote.CollectionFor(change.EntityType)
	if !ok || !change.Recognized() {
		err := apperrors.New(apperrors.ErrUnknownEntity,
			fmt.Sprintf("cannot replay %s change for %q", change.Kind, change.EntityType))
		if _, qerr := e.queue.Remove(ctx, change.ID); qerr != nil {
			logging.ErrorWithCode("Failed to drop unrecognized change", string(apperrors.ErrStorage), qerr, fields)
			return
		}
		result.Unrecognized++
		logging.Warn("Dropped unrecognized change", fields)
		e.deadLetter(ctx, change, err, metrics.ReasonUnrecognized)
		return
	}

	applied, err := e.dispatch(ctx, change, collection, result)

	// Bookkeeping for an attempt that reached the remote store must land
	// even if the pass is being cancelled.
	bookCtx := context.WithoutCancel(ctx)

	if err == nil {
		if qerr := e.queue.Complete(bookCtx, change.ID); qerr != nil {
			// Still queued, so the next pass replays it.
			result.Retrying++
			logging.ErrorWithCode("Failed to remove synced change", string(apperrors.ErrStorage), qerr, fields)
			return
		}
		result.Success++
		if applied {
			metrics.IncSynced(string(change.EntityType))
		}
		return
	}

	if ctx.Err() != nil {
		// Interrupted, not a failed attempt.
		logging.Warn("Change dispatch cancelled", mergeFields(fields, map[string]interface{}{
			"error": err.Error(),
		}))
		return
	}

	metrics.IncDispatchError(string(change.EntityType))
	dispatchErr := apperrors.Wrap(apperrors.ErrDispatch, "dispatch failed", err)

	updated, exhausted, qerr := e.queue.Failed(bookCtx, change.ID)
	if qerr != nil {
		logging.ErrorWithCode("Failed to record retry", string(apperrors.ErrStorage), qerr, fields)
		return
	}
	fields["retry_count"] = updated.RetryCount

	if !exhausted {
		result.Retrying++
		logging.Warn("Change dispatch failed, will retry", mergeFields(fields, map[string]interface{}{
			"error":       dispatchErr.Error(),
			"max_retries": e.queue.MaxRetries(),
		}))
		return
	}

	result.Failed++
	logging.ErrorWithCode("Change dropped after exhausting retries", string(apperrors.ErrRetriesExhausted), err, fields)
	e.deadLetter(bookCtx, updated, dispatchErr, metrics.ReasonRetriesExhausted)
}

// dispatch sends one change to the remote store. applied is false when the
// change was discarded in favour of a newer remote copy.
func (e *SyncEngine) dispatch(ctx context.Context, change *models.QueuedChange, collection string, result *SyncResult) (applied bool, err error) {
	switch change.Kind {
	case models.ChangeCreate:
		cols := change.Payload.Columns()
		cols["id"] = change.EntityID
		err := e.remote.Insert(ctx, collection, cols)
		if errors.Is(err, remote.ErrAlreadyExists) {
			// A previous pass inserted it but could not dequeue it.
			logging.Warn("Create already applied remotely", map[string]interface{}{
				"change_id": change.ID,
				"entity_id": change.EntityID,
			})
			return false, nil
		}
		return err == nil, err

	case models.ChangeUpdate:
		if e.conflictCheck {
			localWins, err := e.checkConflict(ctx, change, collection, result)
			if err != nil {
				return false, err
			}
			if !localWins {
				return false, nil
			}
		}
		err := e.remote.UpdateByID(ctx, collection, change.EntityID, change.Payload.Columns())
		return err == nil, err

	case models.ChangeDelete:
		err := e.remote.DeleteByID(ctx, collection, change.EntityID)
		if errors.Is(err, remote.ErrNotFound) {
			return false, nil
		}
		return err == nil, err
	}

	return false, fmt.Errorf("unsupported change kind %q", change.Kind)
}

// checkConflict compares the queued update with the remote record and
// reports whether the update should still be applied.
func (e *SyncEngine) checkConflict(ctx context.Context, change *models.QueuedChange, collection string, result *SyncResult) (bool, error) {
	remoteTS, found, err := e.remote.UpdatedAt(ctx, collection, change.EntityID)
	if err != nil {
		return false, err
	}
	if !found {
		return true, nil
	}

	c, ok := e.resolver.DetectConflict(change, remoteTS)
	if !ok {
		return true, nil
	}

	res, err := e.resolver.Resolve(c)
	if err != nil {
		return false, err
	}

	result.Conflicts++
	metrics.IncConflict(res.Resolution)
	if e.repo != nil {
		if err := e.repo.CreateConflictLog(ctx, res.ConflictLog); err != nil {
			logging.ErrorWithCode("Failed to write conflict log", string(apperrors.ErrStorage), err,
				map[string]interface{}{"change_id": change.ID})
		}
	}
	e.emit(EventConflictDetected, map[string]interface{}{
		"change_id":        change.ID,
		"entity_type":      change.EntityType,
		"entity_id":        change.EntityID,
		"resolution":       res.Resolution,
		"local_timestamp":  res.ConflictLog.LocalTimestamp,
		"remote_timestamp": res.ConflictLog.RemoteTimestamp,
	})

	return res.LocalWins(), nil
}

// deadLetter keeps a copy of a dropped change for the operator.
func (e *SyncEngine) deadLetter(ctx context.Context, change *models.QueuedChange, cause error, reason string) {
	metrics.IncDropped(string(change.EntityType), reason)
	e.emit(EventChangeDropped, map[string]interface{}{
		"change_id":   change.ID,
		"entity_type": change.EntityType,
		"entity_id":   change.EntityID,
		"reason":      reason,
		"error":       cause.Error(),
	})

	if e.repo == nil {
		return
	}
	fc, err := models.NewFailedChange(change, cause, e.now())
	if err == nil {
		err = e.repo.CreateFailedChange(ctx, fc)
	}
	if err != nil {
		logging.ErrorWithCode("Failed to write dropped change", string(apperrors.ErrStorage), err,
			map[string]interface{}{"change_id": change.ID})
	}
}

// PendingChangesCount returns the number of unsynced changes, or 0 when the
// queue cannot be read.
func (e *SyncEngine) PendingChangesCount(ctx context.Context) int {
	n, err := e.queue.Count(ctx)
	if err != nil {
		logging.ErrorWithCode("Failed to count pending changes", string(apperrors.ErrStorage), err, nil)
		return 0
	}
	return n
}

// Status returns the current sync status.
func (e *SyncEngine) Status(ctx context.Context) SyncStatus {
	status := SyncStatus{
		InProgress:   e.running.Load(),
		Online:       e.conn.IsOnline(),
		PendingCount: e.PendingChangesCount(ctx),
	}

	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.lastSync != nil {
		t := *e.lastSync
		status.LastSyncTime = &t
	}
	if e.lastResult != nil {
		r := *e.lastResult
		status.LastResult = &r
	}
	return status
}

func (e *SyncEngine) refreshPendingGauge(ctx context.Context) {
	if n, err := e.queue.Count(ctx); err == nil {
		metrics.SetPendingChanges(n)
	}
}

func mergeFields(a, b map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(a)+len(b))
	for k, v := range a {
		out[k] = v
	}
	for k, v := range b {
		out[k] = v
	}
	return out
}
