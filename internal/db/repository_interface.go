// Package db provides repository interfaces for the local database.
package db

import (
	"context"

	"github.com/kimhsiao/ledgersync/internal/kv"
	"github.com/kimhsiao/ledgersync/internal/models"
)

// ConflictLogRepository defines operations for conflict log persistence.
type ConflictLogRepository interface {
	// CreateConflictLog creates a new conflict log entry.
	CreateConflictLog(ctx context.Context, log *models.ConflictLog) error

	// ListConflictLogs returns recent entries, newest first.
	ListConflictLogs(ctx context.Context, limit int) ([]*models.ConflictLog, error)
}

// FailedChangeRepository defines operations for dropped-change persistence.
type FailedChangeRepository interface {
	// CreateFailedChange stores a change dropped after exhausting retries.
	CreateFailedChange(ctx context.Context, fc *models.FailedChange) error

	// ListFailedChanges returns recent entries, newest first.
	ListFailedChanges(ctx context.Context, limit int) ([]*models.FailedChange, error)

	// CountFailedChanges returns the number of entries.
	CountFailedChanges(ctx context.Context) (int, error)

	// PurgeFailedChanges removes all entries.
	PurgeFailedChanges(ctx context.Context) (int, error)
}

// SyncRepository groups the local persistence needed by the synchronizer.
type SyncRepository interface {
	ConflictLogRepository
	FailedChangeRepository
}

// Ensure *Repository implements the interfaces at compile time.
var (
	_ kv.Store               = (*Repository)(nil)
	_ ConflictLogRepository  = (*Repository)(nil)
	_ FailedChangeRepository = (*Repository)(nil)
	_ SyncRepository         = (*Repository)(nil)
)
