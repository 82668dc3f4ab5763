// Package models provides data model definitions for the ledgersync core.
package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// UUID is a wrapper around string for identifier type safety.
type UUID string

// Value implements driver.Valuer for UUID.
func (u UUID) Value() (driver.Value, error) {
	return string(u), nil
}

// Scan implements sql.Scanner for UUID.
func (u *UUID) Scan(value interface{}) error {
	switch v := value.(type) {
	case nil:
		*u = ""
	case []byte:
		*u = UUID(v)
	case string:
		*u = UUID(v)
	default:
		return fmt.Errorf("cannot scan %T into UUID", value)
	}
	return nil
}

// String returns the string representation of the UUID.
func (u UUID) String() string {
	return string(u)
}

// ChangeKind is the mutation a queued change applies to its record.
type ChangeKind string

const (
	ChangeCreate ChangeKind = "create"
	ChangeUpdate ChangeKind = "update"
	ChangeDelete ChangeKind = "delete"
)

// Valid reports whether k is one of the known change kinds.
func (k ChangeKind) Valid() bool {
	switch k {
	case ChangeCreate, ChangeUpdate, ChangeDelete:
		return true
	}
	return false
}

// QueuedChange is a locally buffered create/update/delete that has not yet
// been confirmed by the remote store. Only Synced and RetryCount change after
// the change is recorded.
type QueuedChange struct {
	ID         string     `json:"id"`
	EntityType EntityType `json:"entity_type"`
	EntityID   string     `json:"entity_id"`
	Kind       ChangeKind `json:"change_kind"`
	Payload    Payload    `json:"-"`
	EnqueuedAt int64      `json:"enqueued_at"` // unix milliseconds
	Synced     bool       `json:"synced"`
	RetryCount int        `json:"retry_count"`

	// raw keeps the payload bytes of changes whose entity type this build
	// no longer recognises, so rewriting the queue does not lose them.
	raw json.RawMessage
}

// queuedChangeJSON is the persisted shape of a QueuedChange.
type queuedChangeJSON struct {
	ID         string          `json:"id"`
	EntityType EntityType      `json:"entity_type"`
	EntityID   string          `json:"entity_id"`
	Kind       ChangeKind      `json:"change_kind"`
	Payload    json.RawMessage `json:"payload,omitempty"`
	EnqueuedAt int64           `json:"enqueued_at"`
	Synced     bool            `json:"synced"`
	RetryCount int             `json:"retry_count"`
}

// MarshalJSON implements json.Marshaler.
func (c QueuedChange) MarshalJSON() ([]byte, error) {
	out := queuedChangeJSON{
		ID:         c.ID,
		EntityType: c.EntityType,
		EntityID:   c.EntityID,
		Kind:       c.Kind,
		EnqueuedAt: c.EnqueuedAt,
		Synced:     c.Synced,
		RetryCount: c.RetryCount,
	}

	switch {
	case c.Payload != nil:
		data, err := json.Marshal(c.Payload)
		if err != nil {
			return nil, fmt.Errorf("marshal %s payload: %w", c.EntityType, err)
		}
		out.Payload = data
	case len(c.raw) > 0:
		out.Payload = c.raw
	}

	return json.Marshal(out)
}

// UnmarshalJSON implements json.Unmarshaler. The payload is decoded into the
// variant that matches EntityType.
func (c *QueuedChange) UnmarshalJSON(data []byte) error {
	parsed, err := ParseQueuedChange(data)
	if parsed != nil {
		*c = *parsed
	}
	return err
}

// ParseQueuedChange decodes one persisted change. When the envelope is valid
// but the payload does not decode, the change is still returned, with the raw
// payload kept and Recognized reporting false, alongside the error.
func ParseQueuedChange(data []byte) (*QueuedChange, error) {
	var in queuedChangeJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return nil, err
	}

	c := &QueuedChange{
		ID:         in.ID,
		EntityType: in.EntityType,
		EntityID:   in.EntityID,
		Kind:       in.Kind,
		EnqueuedAt: in.EnqueuedAt,
		Synced:     in.Synced,
		RetryCount: in.RetryCount,
	}

	if len(in.Payload) == 0 || string(in.Payload) == "null" {
		return c, nil
	}

	if !in.EntityType.Valid() {
		c.raw = append(json.RawMessage(nil), in.Payload...)
		return c, nil
	}

	payload, err := DecodePayload(in.EntityType, in.Payload)
	if err != nil {
		c.raw = append(json.RawMessage(nil), in.Payload...)
		return c, fmt.Errorf("change %s: %w", in.ID, err)
	}
	c.Payload = payload
	return c, nil
}

// Recognized reports whether this build can replay the change: the entity
// type and kind are known and, unless it is a delete, the payload decoded.
func (c *QueuedChange) Recognized() bool {
	if !c.EntityType.Valid() || !c.Kind.Valid() {
		return false
	}
	return c.Kind == ChangeDelete || c.Payload != nil
}

// EnqueuedTime returns EnqueuedAt as time.Time.
func (c *QueuedChange) EnqueuedTime() time.Time {
	return time.UnixMilli(c.EnqueuedAt)
}

// ValidateChange checks the arguments of a change before it is queued.
// Creates and updates need a payload of the matching variant; deletes only
// need the target id. entityID is authoritative: a payload may leave its
// id empty but must not name a different record.
func ValidateChange(entityType EntityType, entityID string, kind ChangeKind, payload Payload) error {
	if entityType == "" {
		return fmt.Errorf("entity type is required")
	}
	if !entityType.Valid() {
		return fmt.Errorf("unknown entity type %q", entityType)
	}
	if entityID == "" {
		return fmt.Errorf("entity id is required")
	}
	if !kind.Valid() {
		return fmt.Errorf("unknown change kind %q", kind)
	}
	if kind == ChangeDelete {
		if payload != nil && payload.EntityType() != entityType {
			return fmt.Errorf("payload is %s, change targets %s", payload.EntityType(), entityType)
		}
		return nil
	}
	if payload == nil {
		return fmt.Errorf("%s change for %s requires a payload", kind, entityType)
	}
	if payload.EntityType() != entityType {
		return fmt.Errorf("payload is %s, change targets %s", payload.EntityType(), entityType)
	}
	if id, _ := payload.Columns()["id"].(string); id != "" && id != entityID {
		return fmt.Errorf("payload id %q does not match entity id %q", id, entityID)
	}
	return nil
}
