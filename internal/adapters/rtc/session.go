// Package rtc implements the session provider over pion/webrtc. Signaling
// transport (offer/answer delivery, authentication, retransmission) is the
// caller's concern; this package owns the peer connections and reports
// lifecycle to the orchestration engine.
package rtc

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"github.com/nstepura/bridge/internal/core"
	"github.com/nstepura/bridge/internal/domain"
)

func DefaultConfig() webrtc.Configuration {
	return webrtc.Configuration{
		ICEServers: []webrtc.ICEServer{
			{URLs: []string{"stun:stun.l.google.com:19302"}},
		},
	}
}

// Provider creates sessions and reports their lifecycle to the handler.
type Provider struct {
	cfg     webrtc.Configuration
	handler core.SessionHandler

	mu       sync.Mutex
	sessions map[domain.CallID]*Session
}

func NewProvider(cfg webrtc.Configuration, handler core.SessionHandler) *Provider {
	return &Provider{
		cfg:      cfg,
		handler:  handler,
		sessions: make(map[domain.CallID]*Session),
	}
}

// Session looks up a live session for signaling follow-ups (answer,
// trickle candidates).
func (p *Provider) Session(id domain.CallID) (*Session, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	s, ok := p.sessions[id]
	return s, ok
}

func (p *Provider) forget(id domain.CallID) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.sessions, id)
}

// Dial creates an outgoing session and its local offer. The session is
// reported through OnNewSession before Dial returns; the answer comes back
// later via Session.ApplyAnswer.
func (p *Provider) Dial(ctx context.Context, target string) (core.Session, error) {
	s, err := p.newSession(domain.DirectionOutgoing, target)
	if err != nil {
		return nil, err
	}
	p.handler.OnNewSession(s)

	offer, err := s.pc.CreateOffer(nil)
	if err != nil {
		s.close("offer failed")
		return nil, fmt.Errorf("create offer: %w", err)
	}
	gatherComplete := webrtc.GatheringCompletePromise(s.pc)
	if err := s.pc.SetLocalDescription(offer); err != nil {
		s.close("offer failed")
		return nil, fmt.Errorf("set local description: %w", err)
	}
	select {
	case <-gatherComplete:
	case <-ctx.Done():
		s.close("canceled")
		return nil, ctx.Err()
	}
	p.handler.OnProgress(s)
	return s, nil
}

// HandleOffer creates an incoming session from a remote offer and returns
// the local answer. The engine may reject the session (DND) during
// OnNewSession, which surfaces here as a failed negotiation.
func (p *Provider) HandleOffer(remote string, offer webrtc.SessionDescription) (*webrtc.SessionDescription, core.Session, error) {
	s, err := p.newSession(domain.DirectionIncoming, remote)
	if err != nil {
		return nil, nil, err
	}
	p.handler.OnNewSession(s)

	if err := s.pc.SetRemoteDescription(offer); err != nil {
		s.close("bad offer")
		return nil, nil, fmt.Errorf("set remote description: %w", err)
	}
	answer, err := s.pc.CreateAnswer(nil)
	if err != nil {
		s.close("answer failed")
		return nil, nil, fmt.Errorf("create answer: %w", err)
	}
	gatherComplete := webrtc.GatheringCompletePromise(s.pc)
	if err := s.pc.SetLocalDescription(answer); err != nil {
		s.close("answer failed")
		return nil, nil, fmt.Errorf("set local description: %w", err)
	}
	<-gatherComplete
	p.handler.OnProgress(s)
	return s.pc.LocalDescription(), s, nil
}

func (p *Provider) newSession(dir domain.Direction, remote string) (*Session, error) {
	pc, err := webrtc.NewPeerConnection(p.cfg)
	if err != nil {
		return nil, fmt.Errorf("new peer connection: %w", err)
	}
	s := &Session{
		id:       domain.CallID(uuid.NewString()),
		dir:      dir,
		remote:   remote,
		started:  time.Now(),
		pc:       pc,
		handler:  p.handler,
		provider: p,
	}
	p.mu.Lock()
	p.sessions[s.id] = s
	p.mu.Unlock()
	if _, err := pc.AddTransceiverFromKind(webrtc.RTPCodecTypeAudio, webrtc.RTPTransceiverInit{
		Direction: webrtc.RTPTransceiverDirectionSendrecv,
	}); err != nil {
		_ = pc.Close()
		return nil, fmt.Errorf("add audio transceiver: %w", err)
	}
	s.bindCallbacks()
	return s, nil
}

// Session is one live call leg.
type Session struct {
	id       domain.CallID
	dir      domain.Direction
	remote   string
	started  time.Time
	pc       *webrtc.PeerConnection
	handler  core.SessionHandler
	provider *Provider

	mu       sync.Mutex
	held     bool
	muted    bool
	inbound  []*inboundTrack
	pumps    map[*webrtc.RTPSender]*pump
	outbound core.Track

	statsMu   sync.Mutex
	lastBytes map[string]byteSample

	confirmed atomic.Bool
	done      atomic.Bool
	reason    atomic.Value // string
}

func (s *Session) bindCallbacks() {
	s.pc.OnICEConnectionStateChange(func(st webrtc.ICEConnectionState) {
		log.Info().Str("module", "rtc").Str("call", string(s.id)).Str("ice_state", st.String()).Msg("ICE state")
	})
	s.pc.OnConnectionStateChange(func(st webrtc.PeerConnectionState) {
		log.Info().Str("module", "rtc").Str("call", string(s.id)).Str("peer_state", st.String()).Msg("peer state")
		switch st {
		case webrtc.PeerConnectionStateConnected:
			if s.confirmed.CompareAndSwap(false, true) {
				s.handler.OnConfirmed(s)
			}
		case webrtc.PeerConnectionStateFailed:
			s.finish("connection failed")
		case webrtc.PeerConnectionStateClosed:
			s.finish("closed")
		}
	})
	s.pc.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		if track.Kind() != webrtc.RTPCodecTypeAudio {
			return
		}
		s.addInbound(track)
	})
}

// finish reports the terminal lifecycle event exactly once. Unconfirmed
// sessions fail; confirmed ones end.
func (s *Session) finish(reason string) {
	if !s.done.CompareAndSwap(false, true) {
		return
	}
	if r, ok := s.reason.Load().(string); ok {
		reason = r
	}
	s.stopPumps()
	if s.provider != nil {
		s.provider.forget(s.id)
	}
	if s.confirmed.Load() {
		s.handler.OnEnded(s, reason)
	} else {
		s.handler.OnFailed(s, reason)
	}
}

func (s *Session) close(reason string) {
	if err := s.pc.Close(); err != nil {
		log.Warn().Str("module", "rtc").Str("call", string(s.id)).Err(err).Msg("close peer connection")
	}
	s.finish(reason)
}

func (s *Session) ID() domain.CallID           { return s.id }
func (s *Session) Direction() domain.Direction { return s.dir }
func (s *Session) RemoteIdentity() string      { return s.remote }
func (s *Session) StartedAt() time.Time        { return s.started }

func (s *Session) Connection() core.Connection { return &connection{s: s} }

// Offer returns the local description once negotiation has started.
func (s *Session) Offer() *webrtc.SessionDescription {
	return s.pc.LocalDescription()
}

// ApplyAnswer completes an outgoing negotiation.
func (s *Session) ApplyAnswer(answer webrtc.SessionDescription) error {
	return s.pc.SetRemoteDescription(answer)
}

// AddICECandidate applies a remote trickle candidate.
func (s *Session) AddICECandidate(c webrtc.ICECandidateInit) error {
	return s.pc.AddICECandidate(c)
}

// Hold gates the outbound track. Renegotiating stream directions is the
// signaling layer's concern; media-level hold is enough for routing policy.
func (s *Session) Hold() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.held = true
	if s.outbound != nil {
		s.outbound.SetEnabled(false)
	}
	return nil
}

func (s *Session) Unhold() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.held = false
	if s.outbound != nil && !s.muted {
		s.outbound.SetEnabled(true)
	}
	return nil
}

func (s *Session) IsOnHold() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.held
}

func (s *Session) Mute() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.muted = true
	if s.outbound != nil {
		s.outbound.SetEnabled(false)
	}
}

func (s *Session) Unmute() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.muted = false
	if s.outbound != nil && !s.held {
		s.outbound.SetEnabled(true)
	}
}

func (s *Session) IsMuted() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.muted
}

// Terminate closes the peer connection; the terminal lifecycle event is
// reported asynchronously from the state-change callback.
func (s *Session) Terminate(reason core.TerminateReason) error {
	log.Info().Str("module", "rtc").Str("call", string(s.id)).
		Int("status", reason.StatusCode).Str("phrase", reason.Phrase).Msg("terminate")
	s.reason.Store(reason.Phrase)
	return s.pc.Close()
}

func (s *Session) addInbound(remote *webrtc.TrackRemote) {
	in := newInboundTrack(remote)
	s.mu.Lock()
	s.inbound = append(s.inbound, in)
	s.mu.Unlock()
	go in.loop()
}

func (s *Session) stopPumps() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range s.pumps {
		p.stop()
	}
	s.pumps = nil
}
