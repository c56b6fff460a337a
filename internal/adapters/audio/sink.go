package audio

import (
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog/log"

	"github.com/nstepura/bridge/internal/core"
)

// Sink renders one call's inbound stream. This implementation consumes and
// discards frames (headless server); volume and mute state still behave so
// the engine's routing decisions are observable.
type Sink struct {
	graph *Graph

	mu       sync.Mutex
	deviceID string
	bound    bool
	stop     chan struct{}

	muted  atomic.Bool
	volume atomic.Value // float64
}

// SinkProvider implements core.PlaybackProvider.
type SinkProvider struct {
	graph *Graph
}

func NewSinkProvider(graph *Graph) *SinkProvider { return &SinkProvider{graph: graph} }

func (p *SinkProvider) NewSink() core.PlaybackSink {
	s := &Sink{graph: p.graph}
	s.volume.Store(1.0)
	return s
}

// Bind attaches the sink to a stream and starts consuming it. Rebinding
// replaces the previous stream.
func (s *Sink) Bind(stream core.Stream, outputDeviceID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.bound {
		close(s.stop)
	}
	s.deviceID = outputDeviceID
	s.stop = make(chan struct{})
	s.bound = true
	for _, t := range stream.Tracks() {
		ft, ok := t.(*Track)
		if !ok {
			log.Warn().Str("module", "audio").Str("track", t.ID()).Msg("sink ignoring foreign track")
			continue
		}
		go s.consume(ft.Subscribe(), s.stop)
	}
	return nil
}

func (s *Sink) consume(sub <-chan []int16, stop chan struct{}) {
	for {
		select {
		case <-stop:
			return
		case <-s.graph.ctx.Done():
			return
		case _, ok := <-sub:
			if !ok {
				return
			}
			// Frames are dropped here; an OS-backed sink would write them
			// to the selected output device.
		}
	}
}

func (s *Sink) SetSinkDevice(outputDeviceID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deviceID = outputDeviceID
	return nil
}

func (s *Sink) Device() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.deviceID
}

func (s *Sink) SetMuted(v bool) { s.muted.Store(v) }
func (s *Sink) Muted() bool     { return s.muted.Load() }

func (s *Sink) SetVolume(v float64) { s.volume.Store(v) }
func (s *Sink) Volume() float64     { return s.volume.Load().(float64) }
