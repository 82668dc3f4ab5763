// Package conflict decides last-write-wins outcomes when a queued update is
// replayed against a record that was also modified remotely.
package conflict

import (
	"time"

	"github.com/kimhsiao/ledgersync/internal/logging"
	"github.com/kimhsiao/ledgersync/internal/models"
)

// Resolver applies the last-write-wins rule.
type Resolver struct {
	now func() time.Time
}

// NewResolver creates a new Resolver.
func NewResolver() *Resolver {
	return &Resolver{now: time.Now}
}

// Conflict describes a queued update whose target was modified remotely no
// earlier than the local edit.
type Conflict struct {
	ChangeID   string
	EntityType models.EntityType
	EntityID   string
	Local      time.Time
	Remote     time.Time
	DetectedAt time.Time
}

// ResolveResult is the outcome of resolving a Conflict.
type ResolveResult struct {
	Resolution  string // models.ResolutionLocalWins or models.ResolutionRemoteWins
	ConflictLog *models.ConflictLog
}

// LocalWins reports whether the queued change should still be applied.
func (r *ResolveResult) LocalWins() bool {
	return r.Resolution == models.ResolutionLocalWins
}

// DetectConflict compares a queued change with the remote modification time
// of its target. Remote edits strictly older than the local edit are the
// normal case and are not conflicts. Records without timestamps on either
// side cannot be compared and are never reported.
func (r *Resolver) DetectConflict(change *models.QueuedChange, remote time.Time) (*Conflict, bool) {
	if change == nil || change.Payload == nil {
		return nil, false
	}

	local := change.Payload.Modified()
	if local.IsZero() || remote.IsZero() {
		return nil, false
	}
	if remote.Before(local) {
		return nil, false
	}

	c := &Conflict{
		ChangeID:   change.ID,
		EntityType: change.EntityType,
		EntityID:   change.EntityID,
		Local:      local,
		Remote:     remote,
		DetectedAt: r.now(),
	}

	logging.Warn("Concurrent edit conflict detected", map[string]interface{}{
		"change_id":        c.ChangeID,
		"entity_type":      c.EntityType,
		"entity_id":        c.EntityID,
		"local_timestamp":  local.UnixMilli(),
		"remote_timestamp": remote.UnixMilli(),
	})

	return c, true
}

// Resolve picks the newer side. Ties keep the local change.
func (r *Resolver) Resolve(c *Conflict) (*ResolveResult, error) {
	if c == nil {
		return nil, ErrInvalidConflict
	}

	resolution := models.ResolutionLocalWins
	if c.Remote.After(c.Local) {
		resolution = models.ResolutionRemoteWins
	}

	detectedAt := c.DetectedAt
	if detectedAt.IsZero() {
		detectedAt = r.now()
	}

	log := &models.ConflictLog{
		ChangeID:        c.ChangeID,
		EntityType:      c.EntityType,
		EntityID:        c.EntityID,
		LocalTimestamp:  c.Local.UnixMilli(),
		RemoteTimestamp: c.Remote.UnixMilli(),
		Resolution:      resolution,
		DetectedAt:      detectedAt.Unix(),
	}

	logging.Info("Conflict resolved using last-write-wins", map[string]interface{}{
		"change_id":   c.ChangeID,
		"entity_type": c.EntityType,
		"entity_id":   c.EntityID,
		"resolution":  resolution,
	})

	return &ResolveResult{Resolution: resolution, ConflictLog: log}, nil
}

// Errors
var (
	ErrInvalidConflict = &ConflictError{Message: "invalid conflict: nil conflict"}
)

// ConflictError represents a conflict resolution error.
type ConflictError struct {
	Message string
}

func (e *ConflictError) Error() string {
	return e.Message
}

// IsConflictError checks if an error is a ConflictError.
func IsConflictError(err error) bool {
	_, ok := err.(*ConflictError)
	return ok
}
