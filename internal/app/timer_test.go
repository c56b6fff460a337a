package app

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nstepura/bridge/internal/domain"
)

func TestTimerTicks(t *testing.T) {
	m := NewTimerManager(5 * time.Millisecond)
	defer m.Shutdown()
	id := domain.CallID("c1")
	m.Start(id)

	el, ok := m.Elapsed(id)
	require.True(t, ok)
	assert.Equal(t, "00:00:00", el.Formatted)

	require.Eventually(t, func() bool {
		el, _ := m.Elapsed(id)
		return el.Seconds >= 2
	}, time.Second, 5*time.Millisecond)
}

func TestTimerCarry(t *testing.T) {
	m := NewTimerManager(time.Hour)
	id := domain.CallID("c1")
	m.Start(id)
	defer m.Shutdown()

	m.mu.Lock()
	ct := m.timers[id]
	ct.elapsed.Minutes = 59
	ct.elapsed.Seconds = 59
	m.mu.Unlock()

	m.tick(id, ct)

	el, _ := m.Elapsed(id)
	assert.Equal(t, 1, el.Hours)
	assert.Zero(t, el.Minutes)
	assert.Zero(t, el.Seconds)
	assert.Equal(t, "01:00:00", el.Formatted)
}

func TestTimerRestartResets(t *testing.T) {
	m := NewTimerManager(time.Hour)
	id := domain.CallID("c1")
	m.Start(id)
	defer m.Shutdown()

	m.mu.Lock()
	ct := m.timers[id]
	m.mu.Unlock()
	m.tick(id, ct)

	el, _ := m.Elapsed(id)
	require.Equal(t, 1, el.Seconds)

	m.Start(id)
	el, _ = m.Elapsed(id)
	assert.Zero(t, el.Seconds)

	// A tick from the superseded timer must not land on the new record.
	m.tick(id, ct)
	el, _ = m.Elapsed(id)
	assert.Zero(t, el.Seconds)
}

func TestTimerStopDiscardsRecord(t *testing.T) {
	m := NewTimerManager(time.Hour)
	id := domain.CallID("c1")
	m.Start(id)
	m.Stop(id)

	_, ok := m.Elapsed(id)
	assert.False(t, ok)
}
