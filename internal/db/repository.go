// Package db provides repository operations for the local SQLite database.
package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/kimhsiao/ledgersync/internal/models"
	"github.com/kimhsiao/ledgersync/internal/uuid"
)

// Repository provides key-value, conflict log and dead-letter operations.
type Repository struct {
	db *sql.DB

	// Statements are prepared on first use and cached for reuse
	stmtCache sync.Map // map[string]*sql.Stmt
}

// NewRepository creates a new Repository instance.
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// PrepareStmt gets or creates a prepared statement from cache.
func (r *Repository) PrepareStmt(ctx context.Context, query string) (*sql.Stmt, error) {
	if stmt, ok := r.stmtCache.Load(query); ok {
		return stmt.(*sql.Stmt), nil
	}

	stmt, err := r.db.PrepareContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare statement: %w", err)
	}

	// If already stored by another goroutine, use existing
	actual, loaded := r.stmtCache.LoadOrStore(query, stmt)
	if loaded {
		stmt.Close()
		return actual.(*sql.Stmt), nil
	}

	return stmt, nil
}

// Close closes all cached prepared statements.
func (r *Repository) Close() error {
	var firstErr error
	r.stmtCache.Range(func(key, value interface{}) bool {
		if err := value.(*sql.Stmt).Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		r.stmtCache.Delete(key)
		return true
	})
	return firstErr
}

// =====================================================
// Key-Value Operations
// =====================================================

// Get returns the value stored under key.
func (r *Repository) Get(ctx context.Context, key string) ([]byte, bool, error) {
	stmt, err := r.PrepareStmt(ctx, `SELECT value FROM kv_store WHERE key = ?`)
	if err != nil {
		return nil, false, err
	}

	var value []byte
	if err := stmt.QueryRowContext(ctx, key).Scan(&value); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("get %q: %w", key, err)
	}
	return value, true, nil
}

// Set stores value under key, replacing any previous value.
func (r *Repository) Set(ctx context.Context, key string, value []byte) error {
	stmt, err := r.PrepareStmt(ctx, `
	INSERT INTO kv_store (key, value, updated_at) VALUES (?, ?, ?)
	ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at
	`)
	if err != nil {
		return err
	}

	if value == nil {
		value = []byte{}
	}
	if _, err := stmt.ExecContext(ctx, key, value, time.Now().UnixMilli()); err != nil {
		return fmt.Errorf("set %q: %w", key, err)
	}
	return nil
}

// Remove deletes key. Removing a missing key is not an error.
func (r *Repository) Remove(ctx context.Context, key string) error {
	stmt, err := r.PrepareStmt(ctx, `DELETE FROM kv_store WHERE key = ?`)
	if err != nil {
		return err
	}
	if _, err := stmt.ExecContext(ctx, key); err != nil {
		return fmt.Errorf("remove %q: %w", key, err)
	}
	return nil
}

// =====================================================
// ConflictLog Operations
// =====================================================

// CreateConflictLog creates a new conflict log entry.
func (r *Repository) CreateConflictLog(ctx context.Context, log *models.ConflictLog) error {
	if log.ID == "" {
		log.ID = models.UUID(uuid.New())
	}
	if log.DetectedAt == 0 {
		log.DetectedAt = time.Now().Unix()
	}

	query := `
	INSERT INTO conflict_log (id, change_id, entity_type, entity_id, local_timestamp, remote_timestamp, resolution, detected_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := r.db.ExecContext(ctx, query, log.ID, log.ChangeID, string(log.EntityType), log.EntityID,
		log.LocalTimestamp, log.RemoteTimestamp, log.Resolution, log.DetectedAt)
	if err != nil {
		return fmt.Errorf("create conflict log: %w", err)
	}
	return nil
}

// ListConflictLogs returns the most recent conflict log entries first.
func (r *Repository) ListConflictLogs(ctx context.Context, limit int) ([]*models.ConflictLog, error) {
	if limit <= 0 {
		limit = 100
	}

	rows, err := r.db.QueryContext(ctx, `
	SELECT id, change_id, entity_type, entity_id, local_timestamp, remote_timestamp, resolution, detected_at
	FROM conflict_log
	ORDER BY detected_at DESC, id DESC
	LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list conflict logs: %w", err)
	}
	defer rows.Close()

	var logs []*models.ConflictLog
	for rows.Next() {
		var (
			l          models.ConflictLog
			entityType string
		)
		if err := rows.Scan(&l.ID, &l.ChangeID, &entityType, &l.EntityID,
			&l.LocalTimestamp, &l.RemoteTimestamp, &l.Resolution, &l.DetectedAt); err != nil {
			return nil, fmt.Errorf("scan conflict log: %w", err)
		}
		l.EntityType = models.EntityType(entityType)
		logs = append(logs, &l)
	}
	return logs, rows.Err()
}

// =====================================================
// FailedChange Operations
// =====================================================

// CreateFailedChange stores a dropped change. Re-recording the same change
// id overwrites the previous entry.
func (r *Repository) CreateFailedChange(ctx context.Context, fc *models.FailedChange) error {
	if fc.DroppedAt == 0 {
		fc.DroppedAt = time.Now().Unix()
	}

	query := `
	INSERT OR REPLACE INTO failed_changes (id, entity_type, entity_id, change_kind, payload, retry_count, last_error, enqueued_at, dropped_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := r.db.ExecContext(ctx, query, fc.ID, string(fc.EntityType), fc.EntityID, string(fc.Kind),
		[]byte(fc.Payload), fc.RetryCount, fc.LastError, fc.EnqueuedAt, fc.DroppedAt)
	if err != nil {
		return fmt.Errorf("create failed change: %w", err)
	}
	return nil
}

// ListFailedChanges returns the most recently dropped changes first.
func (r *Repository) ListFailedChanges(ctx context.Context, limit int) ([]*models.FailedChange, error) {
	if limit <= 0 {
		limit = 100
	}

	rows, err := r.db.QueryContext(ctx, `
	SELECT id, entity_type, entity_id, change_kind, payload, retry_count, last_error, enqueued_at, dropped_at
	FROM failed_changes
	ORDER BY dropped_at DESC, id DESC
	LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list failed changes: %w", err)
	}
	defer rows.Close()

	var out []*models.FailedChange
	for rows.Next() {
		var (
			fc         models.FailedChange
			entityType string
			kind       string
			payload    []byte
		)
		if err := rows.Scan(&fc.ID, &entityType, &fc.EntityID, &kind, &payload,
			&fc.RetryCount, &fc.LastError, &fc.EnqueuedAt, &fc.DroppedAt); err != nil {
			return nil, fmt.Errorf("scan failed change: %w", err)
		}
		fc.EntityType = models.EntityType(entityType)
		fc.Kind = models.ChangeKind(kind)
		if len(payload) > 0 {
			fc.Payload = payload
		}
		out = append(out, &fc)
	}
	return out, rows.Err()
}

// CountFailedChanges returns the number of dead-letter entries.
func (r *Repository) CountFailedChanges(ctx context.Context) (int, error) {
	var n int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM failed_changes`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count failed changes: %w", err)
	}
	return n, nil
}

// PurgeFailedChanges deletes all dead-letter entries and returns how many
// were removed.
func (r *Repository) PurgeFailedChanges(ctx context.Context) (int, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM failed_changes`)
	if err != nil {
		return 0, fmt.Errorf("purge failed changes: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(n), nil
}
