package app

import (
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/nstepura/bridge/internal/core"
	"github.com/nstepura/bridge/internal/domain"
)

// TimerManager runs one recurring tick per confirmed call and republishes
// the call's elapsed duration on every tick.
type TimerManager struct {
	interval time.Duration

	mu     sync.RWMutex
	timers map[domain.CallID]*callTimer
}

type callTimer struct {
	stop    chan struct{}
	elapsed core.Elapsed
}

// NewTimerManager creates a manager ticking at interval (1s in production;
// tests shorten it).
func NewTimerManager(interval time.Duration) *TimerManager {
	if interval <= 0 {
		interval = time.Second
	}
	return &TimerManager{
		interval: interval,
		timers:   make(map[domain.CallID]*callTimer),
	}
}

// Start begins ticking for id. Any prior timer for the same id is stopped
// first so repeated starts never leak tickers.
func (m *TimerManager) Start(id domain.CallID) {
	m.mu.Lock()
	if old, ok := m.timers[id]; ok {
		close(old.stop)
	}
	t := &callTimer{stop: make(chan struct{})}
	t.elapsed.Formatted = format(0, 0, 0)
	m.timers[id] = t
	m.mu.Unlock()

	log.Debug().Str("module", "app.timer").Str("call", string(id)).Msg("timer started")
	go m.run(id, t)
}

func (m *TimerManager) run(id domain.CallID, t *callTimer) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	for {
		select {
		case <-t.stop:
			return
		case <-ticker.C:
			m.tick(id, t)
		}
	}
}

func (m *TimerManager) tick(id domain.CallID, t *callTimer) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.timers[id] != t {
		return
	}
	e := &t.elapsed
	e.Seconds++
	if e.Seconds == 60 {
		e.Seconds = 0
		e.Minutes++
	}
	if e.Minutes == 60 {
		e.Minutes = 0
		e.Hours++
	}
	e.Formatted = format(e.Hours, e.Minutes, e.Seconds)
}

// Stop cancels the recurring tick and discards the duration record.
func (m *TimerManager) Stop(id domain.CallID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if t, ok := m.timers[id]; ok {
		close(t.stop)
		delete(m.timers, id)
		log.Debug().Str("module", "app.timer").Str("call", string(id)).Msg("timer stopped")
	}
}

// Elapsed returns the current duration record for id.
func (m *TimerManager) Elapsed(id domain.CallID) (core.Elapsed, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.timers[id]
	if !ok {
		return core.Elapsed{}, false
	}
	return t.elapsed, true
}

// Shutdown stops every running timer.
func (m *TimerManager) Shutdown() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, t := range m.timers {
		close(t.stop)
		delete(m.timers, id)
	}
}

func format(h, m, s int) string {
	return fmt.Sprintf("%02d:%02d:%02d", h, m, s)
}
