// Package sync provides synchronization interfaces and implementations.
package sync

import (
	"context"

	"github.com/kimhsiao/ledgersync/internal/models"
)

// SyncEngineInterface defines the operations callers and the scheduler use.
// This interface allows for mocking in tests and alternative implementations.
type SyncEngineInterface interface {
	// RecordChange queues a local mutation. It never fails visibly.
	RecordChange(ctx context.Context, entityType models.EntityType, entityID string, kind models.ChangeKind, payload models.Payload)

	// SyncPendingChanges replays the queue once. A call made while another
	// pass is running returns the zero result with Skipped set.
	SyncPendingChanges(ctx context.Context) SyncResult

	// PendingChangesCount returns the number of unsynced changes.
	PendingChangesCount(ctx context.Context) int

	// Status returns the current sync status.
	Status(ctx context.Context) SyncStatus

	// InProgress reports whether a pass is running.
	InProgress() bool

	// SetEventHandler sets the handler for sync notifications.
	SetEventHandler(handler SyncEventHandler)
}

// Connectivity reports whether the remote store is reachable.
type Connectivity interface {
	IsOnline() bool
}

var _ SyncEngineInterface = (*SyncEngine)(nil)
