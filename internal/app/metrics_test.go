package app

import (
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nstepura/bridge/internal/core"
	"github.com/nstepura/bridge/internal/domain"
)

// statSession overrides the fake's connection with controllable stats.
type statSession struct {
	*fakeSession

	mu    sync.Mutex
	stats []core.AudioStreamStats
}

func (s *statSession) setStats(stats []core.AudioStreamStats) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stats = stats
}

func (s *statSession) Connection() core.Connection { return statConn{s} }

type statConn struct{ s *statSession }

func (statConn) Senders() []core.Sender     { return nil }
func (statConn) Receivers() []core.Receiver { return nil }
func (c statConn) AudioStats() []core.AudioStreamStats {
	c.s.mu.Lock()
	defer c.s.mu.Unlock()
	out := make([]core.AudioStreamStats, len(c.s.stats))
	copy(out, c.s.stats)
	return out
}

func newProbeFixture(t *testing.T) (*ProbeManager, *Dispatcher) {
	t.Helper()
	events := NewDispatcher()
	m := NewProbeManager(5*time.Millisecond, events, prometheus.NewRegistry())
	t.Cleanup(m.Shutdown)
	return m, events
}

func TestProbePublishesInboundSnapshot(t *testing.T) {
	m, _ := newProbeFixture(t)
	s := &statSession{fakeSession: newFakeSession("c1", domain.DirectionIncoming)}
	s.setStats([]core.AudioStreamStats{
		{TrackID: "out1", Direction: core.StatOutbound, Bitrate: 999},
		{TrackID: "t1", Direction: core.StatInbound, PacketsReceived: 95, PacketsLost: 5, Jitter: 0.01, Bitrate: 64000, MOS: 4.2},
	})

	m.Attach(s)

	require.Eventually(t, func() bool {
		_, ok := m.Quality(s.ID())
		return ok
	}, time.Second, 5*time.Millisecond)

	q, _ := m.Quality(s.ID())
	assert.Equal(t, "t1", q.TrackID)
	assert.EqualValues(t, 95, q.PacketsReceived)
	assert.EqualValues(t, 5, q.PacketsLost)
	assert.InDelta(t, 5.0, q.LossPercent, 1e-9)
	assert.InDelta(t, 0.01, q.Jitter, 1e-9)
	assert.InDelta(t, 4.2, q.MOS, 1e-9)
}

func TestProbeFollowsNewestInboundTrack(t *testing.T) {
	m, _ := newProbeFixture(t)
	s := &statSession{fakeSession: newFakeSession("c1", domain.DirectionIncoming)}
	s.setStats([]core.AudioStreamStats{
		{TrackID: "t1", Direction: core.StatInbound, PacketsReceived: 10},
		{TrackID: "t2", Direction: core.StatInbound, PacketsReceived: 20},
	})

	m.Attach(s)

	require.Eventually(t, func() bool {
		q, ok := m.Quality(s.ID())
		return ok && q.TrackID == "t2"
	}, time.Second, 5*time.Millisecond)

	// A track discovered later takes over as the reported stream.
	s.setStats([]core.AudioStreamStats{
		{TrackID: "t2", Direction: core.StatInbound, PacketsReceived: 30},
		{TrackID: "t3", Direction: core.StatInbound, PacketsReceived: 1},
	})
	require.Eventually(t, func() bool {
		q, _ := m.Quality(s.ID())
		return q.TrackID == "t3"
	}, time.Second, 5*time.Millisecond)
}

func TestProbeStopsOnEndedAndSnapshotSurvives(t *testing.T) {
	m, events := newProbeFixture(t)
	s := &statSession{fakeSession: newFakeSession("c1", domain.DirectionIncoming)}
	s.setStats([]core.AudioStreamStats{
		{TrackID: "t1", Direction: core.StatInbound, PacketsReceived: 10},
	})

	m.Attach(s)
	require.Eventually(t, func() bool {
		_, ok := m.Quality(s.ID())
		return ok
	}, time.Second, 5*time.Millisecond)

	events.Trigger(core.EventEnded, s, nil)
	// Give the probe goroutine time to observe the stop signal before
	// changing the stats it would report.
	time.Sleep(30 * time.Millisecond)

	// Probe is detached; the last snapshot stays readable until Remove.
	s.setStats([]core.AudioStreamStats{
		{TrackID: "t1", Direction: core.StatInbound, PacketsReceived: 500},
	})
	time.Sleep(30 * time.Millisecond)
	q, ok := m.Quality(s.ID())
	require.True(t, ok)
	assert.EqualValues(t, 10, q.PacketsReceived)

	m.Remove(s.ID())
	_, ok = m.Quality(s.ID())
	assert.False(t, ok)
}
