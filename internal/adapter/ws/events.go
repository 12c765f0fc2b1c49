package ws

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/harnessforge/harnessforge/internal/port/broadcast"
)

var _ broadcast.Broadcaster = (*Hub)(nil)

// BroadcastEvent marshals a typed event and broadcasts it to the clients
// subscribed to the payload's project.
func (h *Hub) BroadcastEvent(ctx context.Context, eventType string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		slog.Error("marshal ws event payload", "type", eventType, "error", err)
		return
	}

	var scope struct {
		Project string `json:"project"`
	}
	_ = json.Unmarshal(data, &scope)

	h.Broadcast(ctx, scope.Project, Message{
		Type:    eventType,
		Payload: json.RawMessage(data),
	})
}
