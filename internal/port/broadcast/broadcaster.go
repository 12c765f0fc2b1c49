// Package broadcast defines the port for broadcasting live session events to
// connected status clients.
package broadcast

import "context"

// Event types sent to status clients.
const (
	EventSessionStage    = "session.stage"
	EventSessionFinished = "session.finished"
)

// Broadcaster sends real-time events to all connected clients.
type Broadcaster interface {
	// BroadcastEvent sends a typed event to all connected clients.
	BroadcastEvent(ctx context.Context, eventType string, payload any)
}
