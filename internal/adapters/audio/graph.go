// Package audio is the in-process audio graph: fan-out PCM tracks, a gain
// stage and an N-input mixer, plus a synthetic capture provider and a
// playback sink. Frames are 20ms of signed 16-bit mono at 8kHz.
package audio

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/nstepura/bridge/internal/core"
)

const (
	SampleRate   = 8000
	FrameSamples = SampleRate / 50 // 20ms
	framePeriod  = 20 * time.Millisecond
	subBuffer    = 8
)

// Track is a fan-out PCM track: one writer, any number of subscribers.
// Slow subscribers drop frames instead of stalling the writer.
type Track struct {
	id      string
	enabled atomic.Bool

	mu     sync.RWMutex
	subs   []chan []int16
	closed bool
}

func NewTrack(id string) *Track {
	if id == "" {
		id = uuid.NewString()
	}
	t := &Track{id: id}
	t.enabled.Store(true)
	return t
}

func (t *Track) ID() string        { return t.id }
func (t *Track) Enabled() bool     { return t.enabled.Load() }
func (t *Track) SetEnabled(v bool) { t.enabled.Store(v) }

// Write fans a frame out to every subscriber. A disabled track writes
// silence so downstream mixes keep their timing.
func (t *Track) Write(frame []int16) {
	if !t.enabled.Load() {
		frame = make([]int16, len(frame))
	}
	t.mu.RLock()
	defer t.mu.RUnlock()
	for _, ch := range t.subs {
		select {
		case ch <- frame:
		default:
		}
	}
}

// Subscribe returns a channel of frames from this track.
func (t *Track) Subscribe() <-chan []int16 {
	t.mu.Lock()
	defer t.mu.Unlock()
	ch := make(chan []int16, subBuffer)
	if t.closed {
		close(ch)
		return ch
	}
	t.subs = append(t.subs, ch)
	return ch
}

// Close ends every subscription; further writes are discarded.
func (t *Track) Close() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return
	}
	t.closed = true
	for _, ch := range t.subs {
		close(ch)
	}
	t.subs = nil
}

// Stream groups tracks under one id.
type Stream struct {
	id     string
	tracks []core.Track
}

func NewStream(tracks ...core.Track) *Stream {
	return &Stream{id: uuid.NewString(), tracks: tracks}
}

func (s *Stream) ID() string           { return s.id }
func (s *Stream) Tracks() []core.Track { return s.tracks }

// Graph implements core.AudioGraph. All derived tracks stop with ctx.
type Graph struct {
	ctx context.Context
}

func NewGraph(ctx context.Context) *Graph {
	if ctx == nil {
		ctx = context.Background()
	}
	return &Graph{ctx: ctx}
}

// Gain derives a stream whose samples are scaled by level, clipped to the
// int16 range.
func (g *Graph) Gain(src core.Stream, level float64) core.Stream {
	out := make([]core.Track, 0, len(src.Tracks()))
	for _, t := range src.Tracks() {
		out = append(out, g.gainTrack(t, level))
	}
	return &Stream{id: src.ID() + "/gain", tracks: out}
}

func (g *Graph) gainTrack(src core.Track, level float64) core.Track {
	ft, ok := src.(*Track)
	if !ok {
		log.Warn().Str("module", "audio").Str("track", src.ID()).Msg("gain on foreign track, passing through")
		return src
	}
	out := NewTrack(fmt.Sprintf("%s/gain", src.ID()))
	sub := ft.Subscribe()
	go func() {
		defer out.Close()
		for {
			select {
			case <-g.ctx.Done():
				return
			case frame, ok := <-sub:
				if !ok {
					return
				}
				scaled := make([]int16, len(frame))
				for i, s := range frame {
					scaled[i] = clip(float64(s) * level)
				}
				out.Write(scaled)
			}
		}
	}()
	return out
}

// NewMixer returns a fresh mixer; its output starts once Stream is called.
func (g *Graph) NewMixer() core.Mixer {
	return &mixer{graph: g}
}

// mixer sums its source tracks into one destination track. Each tick it
// drains the latest frame from every source and adds them with clipping,
// the same fan-in shape as an RTP relay loop.
type mixer struct {
	graph   *Graph
	sources []*Track
	foreign []core.Track
}

func (m *mixer) AddTrack(t core.Track) {
	if ft, ok := t.(*Track); ok {
		m.sources = append(m.sources, ft)
		return
	}
	m.foreign = append(m.foreign, t)
	log.Warn().Str("module", "audio").Str("track", t.ID()).Msg("mixer ignoring foreign track")
}

func (m *mixer) Stream() core.Stream {
	out := NewTrack("mix/" + uuid.NewString())
	subs := make([]<-chan []int16, len(m.sources))
	for i, src := range m.sources {
		subs[i] = src.Subscribe()
	}
	go m.run(out, subs)
	return &Stream{id: out.ID(), tracks: []core.Track{out}}
}

func (m *mixer) run(out *Track, subs []<-chan []int16) {
	defer out.Close()
	ticker := time.NewTicker(framePeriod)
	defer ticker.Stop()
	acc := make([]int32, FrameSamples)
	for {
		select {
		case <-m.graph.ctx.Done():
			return
		case <-ticker.C:
			for i := range acc {
				acc[i] = 0
			}
			live := 0
			for _, sub := range subs {
				select {
				case frame, ok := <-sub:
					if !ok {
						continue
					}
					for i := 0; i < len(frame) && i < len(acc); i++ {
						acc[i] += int32(frame[i])
					}
					live++
				default:
				}
			}
			if live == 0 {
				continue
			}
			mixed := make([]int16, FrameSamples)
			for i, s := range acc {
				mixed[i] = clip(float64(s))
			}
			out.Write(mixed)
		}
	}
}

func clip(v float64) int16 {
	switch {
	case v > 32767:
		return 32767
	case v < -32768:
		return -32768
	default:
		return int16(v)
	}
}
