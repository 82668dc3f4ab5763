// Package models provides data model definitions for the ledgersync core.
package models

import "time"

// Conflict resolutions.
const (
	ResolutionLocalWins  = "local_wins"
	ResolutionRemoteWins = "remote_wins"
)

// ConflictLog records a last-write-wins decision taken while replaying a change.
type ConflictLog struct {
	ID              UUID       `db:"id" json:"id"`
	ChangeID        string     `db:"change_id" json:"change_id"`
	EntityType      EntityType `db:"entity_type" json:"entity_type"`
	EntityID        string     `db:"entity_id" json:"entity_id"`
	LocalTimestamp  int64      `db:"local_timestamp" json:"local_timestamp"`   // unix milliseconds
	RemoteTimestamp int64      `db:"remote_timestamp" json:"remote_timestamp"` // unix milliseconds
	Resolution      string     `db:"resolution" json:"resolution"`             // local_wins, remote_wins
	DetectedAt      int64      `db:"detected_at" json:"detected_at"`
}

// TableName returns the table name for ConflictLog.
func (ConflictLog) TableName() string {
	return "conflict_log"
}

// DetectedAtTime returns the DetectedAt as time.Time.
func (c *ConflictLog) DetectedAtTime() time.Time {
	return time.Unix(c.DetectedAt, 0)
}
