package core

import (
	"time"

	"github.com/nstepura/bridge/internal/domain"
)

// CallView is the public projection of a call. It is built from a fixed
// allow-list of fields so session-provider internals never leak into
// observable state.
type CallView struct {
	ID             domain.CallID    `json:"id"`
	RoomID         domain.RoomID    `json:"roomId"`
	Direction      domain.Direction `json:"direction"`
	RemoteIdentity string           `json:"remoteIdentity"`
	Status         domain.Status    `json:"status"`
	Muted          bool             `json:"muted"`
	OnHold         bool             `json:"onHold"`
	AutomaticHold  bool             `json:"automaticHold"`
	Flags          domain.CallFlags `json:"flags"`
	StartedAt      time.Time        `json:"startedAt"`
	EndedAt        time.Time        `json:"endedAt,omitzero"`

	// Sink is the playback sink bound to the call, nil until confirmed.
	Sink PlaybackSink `json:"-"`
}

// Elapsed is the running duration of a confirmed call.
type Elapsed struct {
	Hours     int    `json:"hours"`
	Minutes   int    `json:"minutes"`
	Seconds   int    `json:"seconds"`
	Formatted string `json:"formatted"`
}

// CallQuality is the latest inbound-audio probe sample for a call.
type CallQuality struct {
	CallID          domain.CallID `json:"callId"`
	TrackID         string        `json:"trackId"`
	PacketsReceived int64         `json:"packetsReceived"`
	PacketsLost     int64         `json:"packetsLost"`
	LossPercent     float64       `json:"lossPercent"`
	Jitter          float64       `json:"jitter"`
	Bitrate         float64       `json:"bitrate"`
	MOS             float64       `json:"mos"`
	At              time.Time     `json:"at"`
}
