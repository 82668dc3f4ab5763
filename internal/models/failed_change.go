// Package models provides data model definitions for the ledgersync core.
package models

import (
	"encoding/json"
	"time"
)

// FailedChange is a queued change that was dropped after exhausting its
// retries. It is kept for the operator only and is never replayed.
type FailedChange struct {
	ID         string          `db:"id" json:"id"`
	EntityType EntityType      `db:"entity_type" json:"entity_type"`
	EntityID   string          `db:"entity_id" json:"entity_id"`
	Kind       ChangeKind      `db:"change_kind" json:"change_kind"`
	Payload    json.RawMessage `db:"payload" json:"payload,omitempty"`
	RetryCount int             `db:"retry_count" json:"retry_count"`
	LastError  string          `db:"last_error" json:"last_error"`
	EnqueuedAt int64           `db:"enqueued_at" json:"enqueued_at"` // unix milliseconds
	DroppedAt  int64           `db:"dropped_at" json:"dropped_at"`
}

// TableName returns the table name for FailedChange.
func (FailedChange) TableName() string {
	return "failed_changes"
}

// DroppedAtTime returns the DroppedAt as time.Time.
func (f *FailedChange) DroppedAtTime() time.Time {
	return time.Unix(f.DroppedAt, 0)
}

// NewFailedChange builds the dead-letter record for a dropped change.
func NewFailedChange(c *QueuedChange, lastErr error, droppedAt time.Time) (*FailedChange, error) {
	var payload json.RawMessage
	if c.Payload != nil {
		data, err := json.Marshal(c.Payload)
		if err != nil {
			return nil, err
		}
		payload = data
	} else if len(c.raw) > 0 {
		payload = c.raw
	}

	msg := ""
	if lastErr != nil {
		msg = lastErr.Error()
	}

	return &FailedChange{
		ID:         c.ID,
		EntityType: c.EntityType,
		EntityID:   c.EntityID,
		Kind:       c.Kind,
		Payload:    payload,
		RetryCount: c.RetryCount,
		LastError:  msg,
		EnqueuedAt: c.EnqueuedAt,
		DroppedAt:  droppedAt.Unix(),
	}, nil
}
