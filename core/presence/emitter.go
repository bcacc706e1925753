package presence

import (
	"time"

	"github.com/trezcool/classboard/core"
	"github.com/trezcool/classboard/core/whiteboard"
)

// EventStatusUpdate is the event carrying a whiteboard's presence to its teacher.
const EventStatusUpdate = "whiteboard_status_update"

// Emitter broadcasts events to the subscribers of a room.
// Delivery is at most once: implementations never retry and log transport failures themselves.
type Emitter interface {
	Emit(event string, payload interface{}, room string)
}

// StatusEvent is the payload of EventStatusUpdate.
type StatusEvent struct {
	WhiteboardID  string  `json:"whiteboard_id"`
	IsOnline      bool    `json:"is_online"`
	LastHeartbeat *string `json:"last_heartbeat"`
}

func NewStatusEvent(wb whiteboard.Whiteboard, loc *time.Location) StatusEvent {
	return StatusEvent{
		WhiteboardID:  wb.ID,
		IsOnline:      wb.IsOnline,
		LastHeartbeat: core.FormatTime(wb.LastHeartbeat, loc),
	}
}

// NopEmitter drops every event.
type NopEmitter struct{}

func (NopEmitter) Emit(string, interface{}, string) {}
