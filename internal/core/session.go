package core

import (
	"context"
	"time"

	"github.com/nstepura/bridge/internal/domain"
)

// TerminateReason is passed back to the session provider when the engine
// rejects or hangs up a call.
type TerminateReason struct {
	StatusCode int
	Phrase     string
}

var ReasonBusyHere = TerminateReason{StatusCode: 486, Phrase: "Do Not Disturb"}

// Session is the live handle the session provider hands us for one call.
// The engine never looks behind it; hold/mute/terminate are provider concerns.
type Session interface {
	ID() domain.CallID
	Direction() domain.Direction
	RemoteIdentity() string
	StartedAt() time.Time

	Connection() Connection

	Hold() error
	Unhold() error
	IsOnHold() bool

	Mute()
	Unmute()
	IsMuted() bool

	Terminate(reason TerminateReason) error
}

// Connection is the media leg of a session.
type Connection interface {
	Senders() []Sender
	Receivers() []Receiver
	// AudioStats returns the current audio-level statistics of the
	// connection, one entry per RTP stream, both directions.
	AudioStats() []AudioStreamStats
}

// Sender is an outbound RTP sender; ReplaceTrack swaps the payload source
// without renegotiating from scratch.
type Sender interface {
	ReplaceTrack(Track) error
}

// Receiver exposes one inbound track.
type Receiver interface {
	Track() Track
}

type StatDirection string

const (
	StatInbound  StatDirection = "inbound"
	StatOutbound StatDirection = "outbound"
)

// AudioStreamStats is one probe sample for a single RTP audio stream.
type AudioStreamStats struct {
	TrackID         string
	Direction       StatDirection
	PacketsReceived int64
	PacketsLost     int64
	Jitter          float64
	Bitrate         float64
	MOS             float64
}

// Dialer places outgoing calls. Implemented by the session provider, which
// must report the new session through its SessionHandler before Dial
// returns.
type Dialer interface {
	Dial(ctx context.Context, target string) (Session, error)
}

// SessionHandler receives session lifecycle notifications from the
// provider. Implemented by the orchestration engine.
type SessionHandler interface {
	OnNewSession(Session)
	OnProgress(Session)
	OnConfirmed(Session)
	OnFailed(s Session, reason string)
	OnEnded(s Session, reason string)
}
