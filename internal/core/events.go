package core

import (
	"time"

	"github.com/nstepura/bridge/internal/domain"
)

// EventKind enumerates everything the dispatcher can carry: the five session
// lifecycle kinds plus engine-level notifications.
type EventKind string

const (
	EventNewCall   EventKind = "new_call"
	EventProgress  EventKind = "progress"
	EventConfirmed EventKind = "confirmed"
	EventFailed    EventKind = "failed"
	EventEnded     EventKind = "ended"

	EventActiveRoomChanged EventKind = "active_room_changed"
	EventRoomDeleted       EventKind = "room_deleted"
	EventCallAdding        EventKind = "call_adding"
)

// Event is the payload delivered to listeners. Session is nil for
// engine-level kinds; RoomID/CallID are set where they apply.
type Event struct {
	Kind   EventKind     `json:"kind"`
	CallID domain.CallID `json:"callId,omitempty"`
	RoomID domain.RoomID `json:"roomId,omitempty"`
	Reason string        `json:"reason,omitempty"`
	At     time.Time     `json:"at"`
}

// Listener receives the live session (nil for engine events) and the event.
type Listener func(s Session, ev *Event)
