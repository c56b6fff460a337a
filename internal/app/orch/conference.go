package orch

import (
	"github.com/rs/zerolog/log"

	"github.com/nstepura/bridge/internal/app"
	"github.com/nstepura/bridge/internal/core"
	"github.com/nstepura/bridge/internal/domain"
)

// mixConferenceLocked builds the audio bridge for a room with two or more
// members. Every member gets a personalized mix of all other members'
// inbound tracks; the active room's mix additionally carries the local
// microphone. Background rooms keep bridging their members to each other
// even while not rendered to the user.
func (e *Engine) mixConferenceLocked(roomID domain.RoomID, members []app.Member) error {
	// Entering a bridge implicitly resumes held members, mirroring real
	// telephony behavior: a held leg cannot be mixed.
	for _, m := range members {
		if m.Session.IsOnHold() {
			if err := e.holdLocked(m.ID, false, false); err != nil {
				log.Warn().Str("module", "orch").Str("call", string(m.ID)).Err(err).Msg("resume for conference")
			}
		}
	}

	// Flat pool of every inbound track across the bridge.
	var pool []core.Track
	for _, m := range members {
		for _, r := range m.Session.Connection().Receivers() {
			pool = append(pool, r.Track())
		}
	}

	var mic core.Stream
	if e.activeRoom == roomID {
		stream, err := e.acquireMicLocked()
		if err != nil {
			log.Warn().Str("module", "orch").Int("room", int(roomID)).Err(err).
				Msg("microphone unavailable, bridging without local input")
		} else {
			mic = stream
			e.micStream = stream
		}
	}

	for _, m := range members {
		own := make(map[string]bool)
		for _, r := range m.Session.Connection().Receivers() {
			own[r.Track().ID()] = true
		}

		// A participant never hears their own audio echoed back.
		mixer := e.graph.NewMixer()
		for _, t := range pool {
			if !own[t.ID()] {
				mixer.AddTrack(t)
			}
		}
		if mic != nil {
			for _, t := range mic.Tracks() {
				mixer.AddTrack(t)
			}
		}
		out := mixer.Stream()

		// Replace-track must complete before mute policy for this member.
		senders := m.Session.Connection().Senders()
		if tracks := out.Tracks(); len(senders) > 0 && len(tracks) > 0 {
			if err := senders[0].ReplaceTrack(tracks[0]); err != nil {
				return &core.RenegotiationError{Call: m.ID, Err: err}
			}
			e.calls.SetOutboundTrack(m.ID, tracks[0])
		}
		e.muteReconfigure(m.Session)
		e.calls.Refresh(m.ID)
	}
	return nil
}
