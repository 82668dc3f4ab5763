package sync

// SyncEventType names a notification emitted by the engine.
type SyncEventType string

const (
	EventSyncStarted      SyncEventType = "sync.started"
	EventSyncCompleted    SyncEventType = "sync.completed"
	EventConflictDetected SyncEventType = "sync.conflict_detected"
	EventChangeDropped    SyncEventType = "sync.change_dropped"
)

// SyncEvent is delivered to the SyncEventHandler.
type SyncEvent struct {
	Type SyncEventType          `json:"type"`
	Data map[string]interface{} `json:"data,omitempty"`
}

// SyncEventHandler receives engine notifications. It is called synchronously
// from the pass and must not block.
type SyncEventHandler func(event SyncEvent)
