package orch

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/nstepura/bridge/internal/app"
	"github.com/nstepura/bridge/internal/core"
	"github.com/nstepura/bridge/internal/domain"
)

func (e *Engine) checkStartedLocked() error {
	if !e.started {
		return core.ErrNotInitialized
	}
	return nil
}

// PlaceCall dials target through the session provider. With
// addToCurrentRoom set, the new call joins the current active room instead
// of its own fresh room.
func (e *Engine) PlaceCall(ctx context.Context, target string, addToCurrentRoom bool) (domain.CallID, error) {
	e.mu.Lock()
	if err := e.checkStartedLocked(); err != nil {
		e.mu.Unlock()
		return "", err
	}
	if e.dialer == nil {
		e.mu.Unlock()
		return "", fmt.Errorf("no dialer configured")
	}
	e.mu.Unlock()

	if target == "" {
		return "", fmt.Errorf("empty call target")
	}

	// Dial runs unlocked: the provider reports the session back through
	// OnNewSession before returning, which takes the engine lock itself.
	s, err := e.dialer.Dial(ctx, target)
	if err != nil {
		return "", fmt.Errorf("dial %q: %w", target, err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	id := s.ID()
	e.setCallAddingLocked(id)
	if addToCurrentRoom && e.activeRoom != domain.NoRoom {
		if err := e.moveCallLocked(id, e.activeRoom); err != nil {
			return id, err
		}
	}
	return id, nil
}

// Terminate hangs up a call; teardown happens when the provider's ended
// event comes back.
func (e *Engine) Terminate(id domain.CallID) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.checkStartedLocked(); err != nil {
		return err
	}
	s, ok := e.calls.Session(id)
	if !ok {
		return core.ErrUnknownCall
	}
	return s.Terminate(core.TerminateReason{StatusCode: 200, Phrase: "Normal Clearing"})
}

// Hold places a user-requested hold on a call.
func (e *Engine) Hold(id domain.CallID) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.checkStartedLocked(); err != nil {
		return err
	}
	return e.holdLocked(id, true, false)
}

// Resume releases a hold, whether user-requested or automatic.
func (e *Engine) Resume(id domain.CallID) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.checkStartedLocked(); err != nil {
		return err
	}
	return e.holdLocked(id, false, false)
}

// SetActiveRoom selects the foreground room. NoRoom deselects; the
// previously active room is reconfigured either way.
func (e *Engine) SetActiveRoom(roomID domain.RoomID) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.checkStartedLocked(); err != nil {
		return err
	}
	if roomID != domain.NoRoom {
		if _, ok := e.rooms.Get(roomID); !ok {
			return app.ErrUnknownRoom
		}
	}
	return e.setActiveRoomLocked(roomID)
}

// MoveCall reassigns a call to an existing room and makes that room active.
func (e *Engine) MoveCall(id domain.CallID, roomID domain.RoomID) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.checkStartedLocked(); err != nil {
		return err
	}
	return e.moveCallLocked(id, roomID)
}

// SetMuted sets the global mute and re-applies send policy to the active
// room's members and the current capture stream.
func (e *Engine) SetMuted(v bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.muted = v
	if e.micStream != nil {
		for _, t := range e.micStream.Tracks() {
			t.SetEnabled(!v)
		}
	}
	if e.activeRoom == domain.NoRoom {
		return
	}
	for _, m := range e.calls.Members(e.activeRoom) {
		e.muteReconfigure(m.Session)
		e.calls.Refresh(m.ID)
	}
}

func (e *Engine) Muted() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.muted
}

func (e *Engine) SetDND(v bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.dnd = v
}

func (e *Engine) DND() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.dnd
}

func (e *Engine) SetMuteWhenJoin(v bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.muteWhenJoin = v
}

func (e *Engine) MuteWhenJoin() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.muteWhenJoin
}

// SetMicrophoneLevel adjusts capture gain (0..2) and re-captures for the
// active room so the new level takes effect immediately.
func (e *Engine) SetMicrophoneLevel(v float64) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.checkStartedLocked(); err != nil {
		return err
	}
	if v < 0 || v > 2 {
		return fmt.Errorf("microphone level %v out of range [0, 2]", v)
	}
	e.micLevel = v
	return e.reconfigureRoomLocked(e.activeRoom)
}

// SetSpeakerVolume adjusts playback volume (0..1) on every bound sink.
func (e *Engine) SetSpeakerVolume(v float64) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.checkStartedLocked(); err != nil {
		return err
	}
	if v < 0 || v > 1 {
		return fmt.Errorf("speaker volume %v out of range [0, 1]", v)
	}
	e.speakerVolume = v
	for id := range e.calls.Views() {
		if sink, ok := e.calls.Sink(id); ok {
			sink.SetVolume(v)
		}
	}
	return nil
}

// SetMicrophone switches the capture device, persists the choice, and
// rebinds outbound audio for the active room.
func (e *Engine) SetMicrophone(deviceID string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.checkStartedLocked(); err != nil {
		return err
	}
	if !deviceKnown(e.media.InputDevices(), deviceID) {
		return fmt.Errorf("unknown input device %q", deviceID)
	}
	e.inputDevice = deviceID
	e.persistPref(core.PrefInputDevice, deviceID)

	if e.calls.Len() == 0 || e.activeRoom == domain.NoRoom {
		return nil
	}
	members := e.calls.Members(e.activeRoom)
	switch {
	case len(members) == 1:
		return e.bindOutboundLocked(members[0].Session)
	case len(members) > 1:
		return e.mixConferenceLocked(e.activeRoom, members)
	}
	return nil
}

// SetSpeaker switches the playback device on every bound sink and persists
// the choice. A multi-member active room is remixed afterwards.
func (e *Engine) SetSpeaker(deviceID string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.checkStartedLocked(); err != nil {
		return err
	}
	if !deviceKnown(e.media.OutputDevices(), deviceID) {
		return fmt.Errorf("unknown output device %q", deviceID)
	}
	e.outputDevice = deviceID
	e.persistPref(core.PrefOutputDevice, deviceID)

	for id := range e.calls.Views() {
		if sink, ok := e.calls.Sink(id); ok {
			if err := sink.SetSinkDevice(deviceID); err != nil {
				log.Warn().Str("module", "orch").Str("call", string(id)).Err(err).Msg("set sink device")
			}
			e.calls.Refresh(id)
		}
	}
	if members := e.calls.Members(e.activeRoom); len(members) > 1 {
		return e.mixConferenceLocked(e.activeRoom, members)
	}
	return nil
}

// SetCallFlags updates the auxiliary moving/transferring/merging markers.
func (e *Engine) SetCallFlags(id domain.CallID, flags domain.CallFlags) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.calls.SetFlags(id, flags) {
		return core.ErrUnknownCall
	}
	return nil
}

func (e *Engine) persistPref(key, value string) {
	if e.prefs == nil {
		return
	}
	if err := e.prefs.Set(key, value); err != nil {
		log.Warn().Str("module", "orch").Str("key", key).Err(err).Msg("persist preference")
	}
}

func deviceKnown(devices []core.MediaDeviceInfo, id string) bool {
	for _, d := range devices {
		if d.ID == id {
			return true
		}
	}
	return false
}

// Queries.

func (e *Engine) MicrophoneLevel() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.micLevel
}

func (e *Engine) SpeakerVolume() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.speakerVolume
}

func (e *Engine) Microphone() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.inputDevice
}

func (e *Engine) Speaker() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.outputDevice
}

func (e *Engine) ActiveRoom() domain.RoomID {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.activeRoom
}

func (e *Engine) CallAdding() domain.CallID {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.callAdding
}

// Calls returns the public projection of every active call.
func (e *Engine) Calls() map[domain.CallID]core.CallView {
	return e.calls.Views()
}

func (e *Engine) Call(id domain.CallID) (core.CallView, error) {
	v, ok := e.calls.View(id)
	if !ok {
		return core.CallView{}, core.ErrUnknownCall
	}
	return v, nil
}

func (e *Engine) Rooms() []domain.Room {
	return e.rooms.List()
}

func (e *Engine) Room(id domain.RoomID) (domain.Room, error) {
	r, ok := e.rooms.Get(id)
	if !ok {
		return domain.Room{}, app.ErrUnknownRoom
	}
	return r, nil
}

// Elapsed returns the running duration of a confirmed call.
func (e *Engine) Elapsed(id domain.CallID) (core.Elapsed, error) {
	el, ok := e.timers.Elapsed(id)
	if !ok {
		return core.Elapsed{}, core.ErrUnknownCall
	}
	return el, nil
}

// Quality returns the latest inbound-audio metrics snapshot of a call.
func (e *Engine) Quality(id domain.CallID) (core.CallQuality, error) {
	q, ok := e.probes.Quality(id)
	if !ok {
		return core.CallQuality{}, core.ErrUnknownCall
	}
	return q, nil
}

// InputDevices lists capture devices known to the media provider.
func (e *Engine) InputDevices() []core.MediaDeviceInfo { return e.media.InputDevices() }

// OutputDevices lists playback devices known to the media provider.
func (e *Engine) OutputDevices() []core.MediaDeviceInfo { return e.media.OutputDevices() }
