// Package queue keeps the offline change queue in a durable key-value store.
// The whole queue is one JSON list under a single key; every mutation
// re-reads the list, applies the change by id and writes it back.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	apperrors "github.com/kimhsiao/ledgersync/internal/errors"
	"github.com/kimhsiao/ledgersync/internal/kv"
	"github.com/kimhsiao/ledgersync/internal/logging"
	"github.com/kimhsiao/ledgersync/internal/models"
	"github.com/kimhsiao/ledgersync/internal/uuid"
)

const (
	// DefaultKey is the well-known key the queue is stored under.
	DefaultKey = "offline_changes"

	// DefaultMaxRetries is the number of failed replays after which a
	// change is dropped.
	DefaultMaxRetries = 3
)

// ChangeQueue is the durable, ordered list of unsynced changes.
type ChangeQueue struct {
	store      kv.Store
	key        string
	maxRetries int

	now   func() time.Time
	newID func() string

	// mu serialises read-modify-write cycles on the stored list
	mu sync.Mutex
}

// NewChangeQueue creates a queue stored under key in store.
func NewChangeQueue(store kv.Store, key string, maxRetries int) *ChangeQueue {
	if key == "" {
		key = DefaultKey
	}
	if maxRetries <= 0 {
		maxRetries = DefaultMaxRetries
	}
	return &ChangeQueue{
		store:      store,
		key:        key,
		maxRetries: maxRetries,
		now:        time.Now,
		newID:      uuid.NewOrdered,
	}
}

// MaxRetries returns the retry bound.
func (q *ChangeQueue) MaxRetries() int {
	return q.maxRetries
}

// Record validates and appends a change. The returned change is a copy of
// what was persisted.
func (q *ChangeQueue) Record(ctx context.Context, entityType models.EntityType, entityID string, kind models.ChangeKind, payload models.Payload) (*models.QueuedChange, error) {
	if err := models.ValidateChange(entityType, entityID, kind, payload); err != nil {
		return nil, err
	}

	change := &models.QueuedChange{
		ID:         q.newID(),
		EntityType: entityType,
		EntityID:   entityID,
		Kind:       kind,
		Payload:    payload,
		EnqueuedAt: q.now().UnixMilli(),
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	changes, err := q.load(ctx)
	if err != nil {
		return nil, err
	}
	changes = append(changes, change)
	if err := q.save(ctx, changes); err != nil {
		return nil, err
	}

	logging.Debug("Queued change", map[string]interface{}{
		"change_id":   change.ID,
		"entity_type": change.EntityType,
		"entity_id":   change.EntityID,
		"change_kind": change.Kind,
		"queue_size":  len(changes),
	})

	cp := *change
	return &cp, nil
}

// Pending returns a snapshot of the unsynced changes in insertion order.
func (q *ChangeQueue) Pending(ctx context.Context) ([]*models.QueuedChange, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	changes, err := q.load(ctx)
	if err != nil {
		return nil, err
	}

	pending := make([]*models.QueuedChange, 0, len(changes))
	for _, c := range changes {
		if !c.Synced {
			pending = append(pending, c)
		}
	}
	return pending, nil
}

// Count returns the number of unsynced changes.
func (q *ChangeQueue) Count(ctx context.Context) (int, error) {
	pending, err := q.Pending(ctx)
	if err != nil {
		return 0, err
	}
	return len(pending), nil
}

// Complete removes a change that the remote store accepted. Completing an
// unknown id is a no-op.
func (q *ChangeQueue) Complete(ctx context.Context, id string) error {
	_, err := q.remove(ctx, id)
	return err
}

// Remove drops a change without replaying it and returns the dropped entry,
// or nil when id is not queued.
func (q *ChangeQueue) Remove(ctx context.Context, id string) (*models.QueuedChange, error) {
	return q.remove(ctx, id)
}

func (q *ChangeQueue) remove(ctx context.Context, id string) (*models.QueuedChange, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	changes, err := q.load(ctx)
	if err != nil {
		return nil, err
	}

	idx := indexOf(changes, id)
	if idx < 0 {
		return nil, nil
	}
	removed := changes[idx]
	changes = append(changes[:idx], changes[idx+1:]...)
	if err := q.save(ctx, changes); err != nil {
		return nil, err
	}
	return removed, nil
}

// Failed records a failed replay. The retry count is incremented and
// persisted; once it reaches the bound the change is removed and exhausted
// is true. The returned change reflects the new retry count.
func (q *ChangeQueue) Failed(ctx context.Context, id string) (change *models.QueuedChange, exhausted bool, err error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	changes, err := q.load(ctx)
	if err != nil {
		return nil, false, err
	}

	idx := indexOf(changes, id)
	if idx < 0 {
		return nil, false, fmt.Errorf("change %s not queued", id)
	}

	change = changes[idx]
	change.RetryCount++

	if change.RetryCount >= q.maxRetries {
		changes = append(changes[:idx], changes[idx+1:]...)
		exhausted = true
	}

	if err := q.save(ctx, changes); err != nil {
		return nil, false, err
	}
	return change, exhausted, nil
}

// Clear removes every queued change.
func (q *ChangeQueue) Clear(ctx context.Context) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if err := q.store.Remove(ctx, q.key); err != nil {
		return fmt.Errorf("clear queue: %w", err)
	}
	return nil
}

func (q *ChangeQueue) load(ctx context.Context) ([]*models.QueuedChange, error) {
	data, err := kv.GetOr(ctx, q.store, q.key, nil)
	if err != nil {
		return nil, fmt.Errorf("read queue: %w", err)
	}
	if len(data) == 0 {
		return nil, nil
	}

	var entries []json.RawMessage
	if err := json.Unmarshal(data, &entries); err != nil {
		if qerr := q.quarantine(ctx, data, err); qerr != nil {
			return nil, qerr
		}
		return nil, nil
	}

	changes := make([]*models.QueuedChange, 0, len(entries))
	for i, entry := range entries {
		c, err := models.ParseQueuedChange(entry)
		if c == nil {
			logging.Warn("Discarding unreadable queue entry", map[string]interface{}{
				"index": i,
				"error": err.Error(),
			})
			continue
		}
		if err != nil {
			logging.Warn("Queued change payload does not decode", map[string]interface{}{
				"change_id":   c.ID,
				"entity_type": c.EntityType,
				"error":       err.Error(),
			})
		}
		changes = append(changes, c)
	}
	return changes, nil
}

// QuarantineKey returns the key an unreadable queue blob found at t is
// moved to.
func (q *ChangeQueue) QuarantineKey(t time.Time) string {
	return fmt.Sprintf("%s.corrupt.%d", q.key, t.UnixMilli())
}

// quarantine moves a queue blob that is not a JSON list out of the way so
// recording can continue on an empty queue. The original bytes are kept.
func (q *ChangeQueue) quarantine(ctx context.Context, data []byte, cause error) error {
	key := q.QuarantineKey(q.now())
	if err := q.store.Set(ctx, key, data); err != nil {
		return fmt.Errorf("quarantine corrupt queue: %w", err)
	}
	if err := q.store.Remove(ctx, q.key); err != nil {
		return fmt.Errorf("quarantine corrupt queue: %w", err)
	}
	logging.ErrorWithCode("Quarantined unreadable change queue", string(apperrors.ErrStorage), cause, map[string]interface{}{
		"key":            q.key,
		"quarantine_key": key,
		"bytes":          len(data),
	})
	return nil
}

func (q *ChangeQueue) save(ctx context.Context, changes []*models.QueuedChange) error {
	if len(changes) == 0 {
		if err := q.store.Remove(ctx, q.key); err != nil {
			return fmt.Errorf("write queue: %w", err)
		}
		return nil
	}

	data, err := json.Marshal(changes)
	if err != nil {
		return fmt.Errorf("encode queue: %w", err)
	}
	if err := q.store.Set(ctx, q.key, data); err != nil {
		return fmt.Errorf("write queue: %w", err)
	}
	return nil
}

func indexOf(changes []*models.QueuedChange, id string) int {
	for i, c := range changes {
		if c.ID == id {
			return i
		}
	}
	return -1
}
