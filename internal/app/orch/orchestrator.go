// Package orch is the call/room orchestration engine: it owns the call and
// room registries, decides hold/mute/mix policy on every membership or
// active-room change, and drives lifecycle side effects (timers, probes,
// event fan-out).
package orch

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"

	"github.com/nstepura/bridge/internal/app"
	"github.com/nstepura/bridge/internal/core"
	"github.com/nstepura/bridge/internal/domain"
)

// Options wires the engine's collaborators. Media, Playback and Graph are
// required; Dialer is only needed for outgoing calls.
type Options struct {
	Media    core.MediaProvider
	Playback core.PlaybackProvider
	Graph    core.AudioGraph
	Prefs    core.PreferenceStore
	Dialer   core.Dialer

	Metrics        prometheus.Registerer
	TimerInterval  time.Duration
	MetricsRefresh time.Duration

	MicLevel      float64 // 0..2, default 1
	SpeakerVolume float64 // 0..1, default 1
	MuteWhenJoin  bool
	DND           bool
}

// Engine is the single orchestration context. One engine exists per
// process-wide session; every top-level command and lifecycle hook takes the
// engine mutex, so orchestration steps never interleave mid-policy.
type Engine struct {
	media    core.MediaProvider
	playback core.PlaybackProvider
	graph    core.AudioGraph
	prefs    core.PreferenceStore
	dialer   core.Dialer

	events *app.Dispatcher
	calls  *app.CallRegistry
	rooms  *app.RoomRegistry
	timers *app.TimerManager
	probes *app.ProbeManager

	mu      sync.Mutex
	ctx     context.Context
	started bool

	activeRoom domain.RoomID
	callAdding domain.CallID

	muted        bool
	muteWhenJoin bool
	dnd          bool

	micLevel      float64
	speakerVolume float64
	inputDevice   string
	outputDevice  string

	// micStream is the singleton outbound microphone capture, rebound on
	// each single-member or conference activation.
	micStream core.Stream
}

func New(opts Options) *Engine {
	if opts.MicLevel <= 0 {
		opts.MicLevel = 1
	}
	if opts.SpeakerVolume <= 0 {
		opts.SpeakerVolume = 1
	}
	events := app.NewDispatcher()
	e := &Engine{
		media:    opts.Media,
		playback: opts.Playback,
		graph:    opts.Graph,
		prefs:    opts.Prefs,
		dialer:   opts.Dialer,

		events: events,
		calls:  app.NewCallRegistry(),
		rooms:  app.NewRoomRegistry(),
		timers: app.NewTimerManager(opts.TimerInterval),
		probes: app.NewProbeManager(opts.MetricsRefresh, events, opts.Metrics),

		ctx:           context.Background(),
		muteWhenJoin:  opts.MuteWhenJoin,
		dnd:           opts.DND,
		micLevel:      opts.MicLevel,
		speakerVolume: opts.SpeakerVolume,
		inputDevice:   "default",
		outputDevice:  "default",
	}
	if e.prefs != nil {
		if v, ok := e.prefs.Get(core.PrefInputDevice); ok {
			e.inputDevice = v
		}
		if v, ok := e.prefs.Get(core.PrefOutputDevice); ok {
			e.outputDevice = v
		}
	}
	return e
}

// Start arms the engine. Commands issued before Start fail with
// ErrNotInitialized.
func (e *Engine) Start(ctx context.Context) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if ctx != nil {
		e.ctx = ctx
	}
	e.started = true
	log.Info().Str("module", "orch").Msg("engine started")
}

// Shutdown terminates every live call and stops timers and probes.
func (e *Engine) Shutdown() {
	e.mu.Lock()
	for _, id := range e.calls.IDs() {
		if s, ok := e.calls.Session(id); ok {
			if err := s.Terminate(core.TerminateReason{StatusCode: 480, Phrase: "Shutting Down"}); err != nil {
				log.Warn().Str("module", "orch").Str("call", string(id)).Err(err).Msg("terminate on shutdown")
			}
		}
	}
	e.started = false
	e.mu.Unlock()

	e.timers.Shutdown()
	e.probes.Shutdown()
	log.Info().Str("module", "orch").Msg("engine stopped")
}

// Events exposes the dispatcher for external lifecycle subscriptions.
func (e *Engine) Events() *app.Dispatcher { return e.events }

// SetDialer wires the outgoing-call provider after construction. The
// provider needs the engine as its session handler, so the two cannot be
// built in one step.
func (e *Engine) SetDialer(d core.Dialer) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.dialer = d
}

// OnNewSession registers a session the provider just created. Duplicate
// deliveries for a known id are no-ops. While DND is set, inbound sessions
// are rejected before registration.
func (e *Engine) OnNewSession(s core.Session) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.dnd && s.Direction() == domain.DirectionIncoming {
		if err := s.Terminate(core.ReasonBusyHere); err != nil {
			log.Warn().Str("module", "orch").Str("call", string(s.ID())).Err(err).Msg("dnd terminate")
		}
		return
	}

	e.events.Trigger(core.EventNewCall, s, nil)
	e.addCallLocked(s)

	if s.Direction() == domain.DirectionOutgoing {
		if roomID, ok := e.calls.RoomOf(s.ID()); ok {
			if err := e.setActiveRoomLocked(roomID); err != nil {
				log.Error().Str("module", "orch").Str("call", string(s.ID())).Err(err).Msg("activate room for outgoing call")
			}
		}
	}
}

// addCallLocked registers the call, allocates its room, and hooks the
// lifecycle side effects that depend on direction.
func (e *Engine) addCallLocked(s core.Session) {
	if !e.calls.Add(s) {
		return
	}
	id := s.ID()
	incoming := s.Direction() == domain.DirectionIncoming
	room := e.rooms.Add(incoming)
	e.calls.SetRoom(id, room.ID)

	if incoming {
		// One-shot listeners scoped to this call: the room leaves its
		// creation transient when the call settles either way. Whichever
		// fires cancels the other so settled calls leave no listeners
		// behind.
		var cancelConfirmed, cancelFailed func()
		cancelConfirmed = e.events.SubscribeCall(core.EventConfirmed, id, func(core.Session, *core.Event) {
			e.rooms.SetIncomingInProgress(room.ID, false)
			e.timers.Start(id)
			cancelFailed()
		})
		cancelFailed = e.events.SubscribeCall(core.EventFailed, id, func(core.Session, *core.Event) {
			e.rooms.SetIncomingInProgress(room.ID, false)
			cancelConfirmed()
		})
	} else {
		e.timers.Start(id)
	}
}

// OnProgress handles provider ringing notifications.
func (e *Engine) OnProgress(s core.Session) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.events.Trigger(core.EventProgress, s, nil)
	e.calls.Transition(s.ID(), "progress")
}

// OnConfirmed handles call answer: the global mute adopts the
// mute-when-join preference, outbound audio is (re)captured and attached,
// playback is bound, and the quality probe starts.
func (e *Engine) OnConfirmed(s core.Session) {
	e.mu.Lock()
	defer e.mu.Unlock()
	id := s.ID()

	e.events.Trigger(core.EventConfirmed, s, nil)
	e.calls.Transition(id, "confirm")

	e.muted = e.muteWhenJoin
	if err := e.bindOutboundLocked(s); err != nil {
		log.Error().Str("module", "orch").Str("call", string(id)).Err(err).Msg("attach outbound audio")
	}
	e.bindPlaybackLocked(s)
	e.probes.Attach(s)
	e.calls.Refresh(id)

	if e.callAdding == id {
		e.setCallAddingLocked("")
	}
}

// OnFailed handles setup failure; the call is torn down and its room
// reconfigured.
func (e *Engine) OnFailed(s core.Session, reason string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	id := s.ID()

	e.events.Trigger(core.EventFailed, s, &core.Event{
		Kind: core.EventFailed, CallID: id, Reason: reason, At: time.Now(),
	})
	e.calls.Transition(id, "fail")
	if e.callAdding == id {
		e.setCallAddingLocked("")
	}
	e.finishCallLocked(id)
}

// OnEnded handles call termination.
func (e *Engine) OnEnded(s core.Session, reason string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	id := s.ID()

	e.events.Trigger(core.EventEnded, s, &core.Event{
		Kind: core.EventEnded, CallID: id, Reason: reason, At: time.Now(),
	})
	e.calls.Transition(id, "end")
	e.finishCallLocked(id)
}

// finishCallLocked is the joint teardown: registry entry, timer and metrics
// go together, then the emptied room is re-policied. Ending the last call
// also clears the global mute.
func (e *Engine) finishCallLocked(id domain.CallID) {
	roomID, _ := e.calls.RoomOf(id)
	e.calls.Remove(id)
	e.timers.Stop(id)
	e.probes.Remove(id)

	if err := e.reconfigureRoomLocked(roomID); err != nil {
		log.Error().Str("module", "orch").Str("call", string(id)).Int("room", int(roomID)).
			Err(err).Msg("reconfigure after call removal")
	}
	if e.calls.Len() == 0 {
		e.muted = false
	}
}

func (e *Engine) setCallAddingLocked(id domain.CallID) {
	e.callAdding = id
	e.events.Trigger(core.EventCallAdding, nil, &core.Event{
		Kind: core.EventCallAdding, CallID: id, At: time.Now(),
	})
}

// bindOutboundLocked acquires a fresh microphone capture, applies gain and
// the global mute gate, and replaces the session's outbound track.
// Media-acquisition failures are recovered locally; a rejected track
// replacement surfaces as *RenegotiationError.
func (e *Engine) bindOutboundLocked(s core.Session) error {
	stream, err := e.acquireMicLocked()
	if err != nil {
		var mae *core.MediaAcquisitionError
		if !errors.As(err, &mae) {
			log.Error().Str("module", "orch").Str("call", string(s.ID())).Err(err).Msg("microphone capture")
			return nil
		}
		log.Warn().Str("module", "orch").Str("call", string(s.ID())).Str("device", mae.DeviceID).
			Err(mae.Err).Msg("microphone unavailable, keeping current outbound track")
		return nil
	}
	e.micStream = stream

	senders := s.Connection().Senders()
	tracks := stream.Tracks()
	if len(senders) == 0 || len(tracks) == 0 {
		return nil
	}
	if err := senders[0].ReplaceTrack(tracks[0]); err != nil {
		return &core.RenegotiationError{Call: s.ID(), Err: err}
	}
	e.calls.SetOutboundTrack(s.ID(), tracks[0])
	e.muteReconfigure(s)
	e.calls.Refresh(s.ID())
	return nil
}

// acquireMicLocked opens the configured capture device and runs it through
// the gain stage and the global mute gate.
func (e *Engine) acquireMicLocked() (core.Stream, error) {
	stream, err := e.media.AcquireMicrophone(e.ctx, core.MediaConstraints{DeviceID: e.inputDevice})
	if err != nil {
		return nil, err
	}
	processed := e.graph.Gain(stream, e.micLevel)
	for _, t := range processed.Tracks() {
		t.SetEnabled(!e.muted)
	}
	return processed, nil
}

// bindPlaybackLocked builds the call's inbound playback stream from its
// receiver tracks and binds a sink on the selected output device.
func (e *Engine) bindPlaybackLocked(s core.Session) {
	mixer := e.graph.NewMixer()
	for _, r := range s.Connection().Receivers() {
		mixer.AddTrack(r.Track())
	}
	sink := e.playback.NewSink()
	if err := sink.Bind(mixer.Stream(), e.outputDevice); err != nil {
		log.Error().Str("module", "orch").Str("call", string(s.ID())).Err(err).Msg("bind playback sink")
		return
	}
	sink.SetVolume(e.speakerVolume)
	roomID, _ := e.calls.RoomOf(s.ID())
	sink.SetMuted(roomID != e.activeRoom)
	e.calls.SetSink(s.ID(), sink)
}

// muteReconfigure applies the global mute state to a session's send side.
func (e *Engine) muteReconfigure(s core.Session) {
	if e.muted {
		s.Mute()
	} else {
		s.Unmute()
	}
}
