package orch

import (
	"time"

	"github.com/rs/zerolog/log"

	"github.com/nstepura/bridge/internal/app"
	"github.com/nstepura/bridge/internal/core"
	"github.com/nstepura/bridge/internal/domain"
)

// setActiveRoomLocked switches the foreground room. The previous room's
// reconfiguration fully settles before the new room's begins, so two rooms
// never hold the single microphone capture at the same time.
func (e *Engine) setActiveRoomLocked(roomID domain.RoomID) error {
	if roomID == e.activeRoom {
		return nil
	}
	prev := e.activeRoom
	e.activeRoom = roomID
	e.emitActiveRoomLocked()

	if err := e.reconfigureRoomLocked(prev); err != nil {
		return err
	}
	return e.reconfigureRoomLocked(roomID)
}

func (e *Engine) emitActiveRoomLocked() {
	e.events.Trigger(core.EventActiveRoomChanged, nil, &core.Event{
		Kind: core.EventActiveRoomChanged, RoomID: e.activeRoom, At: time.Now(),
	})
}

// reconfigureRoomLocked recomputes hold/mute/mix policy for one room from
// its current membership. It is idempotent: repeated invocations with no
// membership change settle on the same state. NoRoom is a no-op.
func (e *Engine) reconfigureRoomLocked(roomID domain.RoomID) error {
	if roomID == domain.NoRoom {
		return nil
	}
	members := e.calls.Members(roomID)
	active := e.activeRoom == roomID

	// Playback routing first: only the active room is audibly rendered.
	for _, m := range members {
		sink, ok := e.calls.Sink(m.ID)
		if !ok {
			continue
		}
		if active {
			e.muteReconfigure(m.Session)
			sink.SetMuted(false)
		} else {
			sink.SetMuted(true)
		}
		e.calls.Refresh(m.ID)
	}

	switch {
	case len(members) == 0:
		e.deleteRoomIfEmptyLocked(roomID)

	case len(members) == 1 && !active:
		m := members[0]
		if !m.Session.IsOnHold() {
			if err := e.holdLocked(m.ID, true, true); err != nil {
				log.Warn().Str("module", "orch").Str("call", string(m.ID)).Err(err).Msg("automatic hold")
			}
		}

	case len(members) == 1 && active:
		m := members[0]
		if m.Session.IsOnHold() && e.calls.AutomaticHold(m.ID) {
			if err := e.holdLocked(m.ID, false, false); err != nil {
				log.Warn().Str("module", "orch").Str("call", string(m.ID)).Err(err).Msg("release automatic hold")
			}
		}
		return e.bindOutboundLocked(m.Session)

	default:
		return e.mixConferenceLocked(roomID, members)
	}
	return nil
}

// deleteRoomIfEmptyLocked removes a room with no members. A deleted active
// room clears the active-room selection.
func (e *Engine) deleteRoomIfEmptyLocked(roomID domain.RoomID) {
	if roomID == domain.NoRoom || len(e.calls.Members(roomID)) > 0 {
		return
	}
	if e.rooms.Remove(roomID) {
		e.events.Trigger(core.EventRoomDeleted, nil, &core.Event{
			Kind: core.EventRoomDeleted, RoomID: roomID, At: time.Now(),
		})
	}
	if e.activeRoom == roomID {
		e.activeRoom = domain.NoRoom
		e.emitActiveRoomLocked()
	}
}

// holdLocked puts a call on or off hold, tagging whether the hold was
// system-imposed. Unholding always clears the automatic tag.
func (e *Engine) holdLocked(id domain.CallID, toHold, automatic bool) error {
	s, ok := e.calls.Session(id)
	if !ok {
		return core.ErrUnknownCall
	}
	e.calls.SetAutomaticHold(id, toHold && automatic)
	var err error
	if toHold {
		err = s.Hold()
	} else {
		err = s.Unhold()
	}
	if err != nil {
		return err
	}
	e.calls.Refresh(id)
	return nil
}

// moveCallLocked reassigns a call to another room and settles both rooms:
// the target becomes active, then old and new rooms are re-policied and
// emptied rooms are dropped.
func (e *Engine) moveCallLocked(id domain.CallID, roomID domain.RoomID) error {
	oldRoom, ok := e.calls.RoomOf(id)
	if !ok {
		return core.ErrUnknownCall
	}
	if _, ok := e.rooms.Get(roomID); !ok {
		return app.ErrUnknownRoom
	}
	e.calls.SetRoom(id, roomID)

	if err := e.setActiveRoomLocked(roomID); err != nil {
		return err
	}
	if err := e.reconfigureRoomLocked(oldRoom); err != nil {
		return err
	}
	if err := e.reconfigureRoomLocked(roomID); err != nil {
		return err
	}
	e.deleteRoomIfEmptyLocked(oldRoom)
	e.deleteRoomIfEmptyLocked(roomID)
	return nil
}
