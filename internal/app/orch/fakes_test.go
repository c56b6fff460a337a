package orch

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/nstepura/bridge/internal/core"
	"github.com/nstepura/bridge/internal/domain"
)

type fakeTrack struct {
	id      string
	enabled bool
}

func (t *fakeTrack) ID() string        { return t.id }
func (t *fakeTrack) Enabled() bool     { return t.enabled }
func (t *fakeTrack) SetEnabled(v bool) { t.enabled = v }

type fakeStream struct {
	id     string
	tracks []core.Track
}

func (s *fakeStream) ID() string           { return s.id }
func (s *fakeStream) Tracks() []core.Track { return s.tracks }

type fakeMedia struct {
	inputs  []core.MediaDeviceInfo
	outputs []core.MediaDeviceInfo

	fail       bool
	acquired   int
	lastDevice string
	lastStream *fakeStream
}

func newFakeMedia() *fakeMedia {
	return &fakeMedia{
		inputs:  []core.MediaDeviceInfo{{ID: "default", Label: "Default Input"}},
		outputs: []core.MediaDeviceInfo{{ID: "default", Label: "Default Output"}},
	}
}

func (m *fakeMedia) AcquireMicrophone(_ context.Context, c core.MediaConstraints) (core.Stream, error) {
	if m.fail {
		return nil, &core.MediaAcquisitionError{DeviceID: c.DeviceID, Err: errors.New("denied")}
	}
	m.acquired++
	m.lastDevice = c.DeviceID
	id := fmt.Sprintf("mic%d", m.acquired)
	m.lastStream = &fakeStream{id: id, tracks: []core.Track{&fakeTrack{id: id, enabled: true}}}
	return m.lastStream, nil
}

func (m *fakeMedia) lastStreamID() string {
	if m.lastStream == nil {
		return ""
	}
	return m.lastStream.id
}

func (m *fakeMedia) lastTrack() *fakeTrack {
	if m.lastStream == nil || len(m.lastStream.tracks) == 0 {
		return nil
	}
	return m.lastStream.tracks[0].(*fakeTrack)
}

func (m *fakeMedia) InputDevices() []core.MediaDeviceInfo  { return m.inputs }
func (m *fakeMedia) OutputDevices() []core.MediaDeviceInfo { return m.outputs }

type fakeGraph struct {
	gains  []float64
	mixers []*fakeMixer
}

// Gain passes the stream through untouched; only the level is recorded.
func (g *fakeGraph) Gain(s core.Stream, level float64) core.Stream {
	g.gains = append(g.gains, level)
	return s
}

func (g *fakeGraph) NewMixer() core.Mixer {
	m := &fakeMixer{}
	g.mixers = append(g.mixers, m)
	return m
}

type fakeMixer struct {
	added []string
}

func (m *fakeMixer) AddTrack(t core.Track) { m.added = append(m.added, t.ID()) }

func (m *fakeMixer) Stream() core.Stream {
	id := "mix:" + strings.Join(m.added, "+")
	return &fakeStream{id: id, tracks: []core.Track{&fakeTrack{id: id, enabled: true}}}
}

func (m *fakeMixer) has(trackID string) bool {
	for _, id := range m.added {
		if id == trackID {
			return true
		}
	}
	return false
}

type fakeSink struct {
	stream    core.Stream
	device    string
	muted     bool
	volume    float64
	bindCount int
}

func (s *fakeSink) Bind(stream core.Stream, outputDeviceID string) error {
	s.stream = stream
	s.device = outputDeviceID
	s.bindCount++
	return nil
}

func (s *fakeSink) SetSinkDevice(outputDeviceID string) error {
	s.device = outputDeviceID
	return nil
}

func (s *fakeSink) SetMuted(v bool)     { s.muted = v }
func (s *fakeSink) Muted() bool         { return s.muted }
func (s *fakeSink) SetVolume(v float64) { s.volume = v }

type fakePlayback struct {
	sinks []*fakeSink
}

func (p *fakePlayback) NewSink() core.PlaybackSink {
	s := &fakeSink{volume: 1}
	p.sinks = append(p.sinks, s)
	return s
}

type fakePrefs struct {
	values map[string]string
}

func (p *fakePrefs) Get(key string) (string, bool) {
	v, ok := p.values[key]
	return v, ok
}

func (p *fakePrefs) Set(key, value string) error {
	p.values[key] = value
	return nil
}

type fakeSender struct {
	replaced []core.Track
	err      error
}

func (s *fakeSender) ReplaceTrack(t core.Track) error {
	if s.err != nil {
		return s.err
	}
	s.replaced = append(s.replaced, t)
	return nil
}

func (s *fakeSender) last() core.Track {
	if len(s.replaced) == 0 {
		return nil
	}
	return s.replaced[len(s.replaced)-1]
}

type fakeReceiver struct {
	track core.Track
}

func (r *fakeReceiver) Track() core.Track { return r.track }

type fakeCallConn struct {
	sender    *fakeSender
	receivers []core.Receiver
}

func (c *fakeCallConn) Senders() []core.Sender              { return []core.Sender{c.sender} }
func (c *fakeCallConn) Receivers() []core.Receiver          { return c.receivers }
func (c *fakeCallConn) AudioStats() []core.AudioStreamStats { return nil }

// fakeCall is a scripted session: the test drives its lifecycle through the
// engine's handler hooks.
type fakeCall struct {
	id     domain.CallID
	dir    domain.Direction
	remote string
	conn   *fakeCallConn

	held       bool
	muted      bool
	terminated bool
	reason     core.TerminateReason
}

func newFakeCall(id string, dir domain.Direction) *fakeCall {
	return &fakeCall{
		id:     domain.CallID(id),
		dir:    dir,
		remote: "peer-" + id,
		conn: &fakeCallConn{
			sender:    &fakeSender{},
			receivers: []core.Receiver{&fakeReceiver{track: &fakeTrack{id: "in:" + id, enabled: true}}},
		},
	}
}

func (c *fakeCall) ID() domain.CallID           { return c.id }
func (c *fakeCall) Direction() domain.Direction { return c.dir }
func (c *fakeCall) RemoteIdentity() string      { return c.remote }
func (c *fakeCall) StartedAt() time.Time        { return time.Unix(0, 0) }
func (c *fakeCall) Connection() core.Connection { return c.conn }
func (c *fakeCall) Hold() error                 { c.held = true; return nil }
func (c *fakeCall) Unhold() error               { c.held = false; return nil }
func (c *fakeCall) IsOnHold() bool              { return c.held }
func (c *fakeCall) Mute()                       { c.muted = true }
func (c *fakeCall) Unmute()                     { c.muted = false }
func (c *fakeCall) IsMuted() bool               { return c.muted }
func (c *fakeCall) Terminate(r core.TerminateReason) error {
	c.terminated = true
	c.reason = r
	return nil
}

// fakeDialer reports the scripted session through the engine before Dial
// returns, matching the provider contract.
type fakeDialer struct {
	eng  *Engine
	next *fakeCall
	err  error
}

func (d *fakeDialer) Dial(_ context.Context, target string) (core.Session, error) {
	if d.err != nil {
		return nil, d.err
	}
	d.next.remote = target
	d.eng.OnNewSession(d.next)
	return d.next, nil
}
