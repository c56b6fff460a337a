package app

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog/log"

	"github.com/nstepura/bridge/internal/core"
	"github.com/nstepura/bridge/internal/domain"
)

// ProbeManager attaches a quality probe per call, filtered to inbound-audio
// statistics, and republishes the latest sample as the call's metrics
// snapshot plus prometheus gauges labelled by call id.
type ProbeManager struct {
	refresh time.Duration
	events  *Dispatcher

	mu        sync.RWMutex
	probes    map[domain.CallID]*probe
	snapshots map[domain.CallID]core.CallQuality

	jitter  *prometheus.GaugeVec
	lost    *prometheus.GaugeVec
	lossPct *prometheus.GaugeVec
	bitrate *prometheus.GaugeVec
	mos     *prometheus.GaugeVec
}

type probe struct {
	stop chan struct{}
	// seen tracks which inbound keys already appeared; the most recently
	// discovered one is the current inbound key. With several concurrent
	// inbound audio tracks the "last seen wins" rule is ambiguous; we keep
	// it as the documented behavior for single-inbound-track sessions.
	seen    map[string]bool
	current string
}

func NewProbeManager(refresh time.Duration, events *Dispatcher, reg prometheus.Registerer) *ProbeManager {
	if refresh <= 0 {
		refresh = time.Second
	}
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	labels := []string{"call_id"}
	return &ProbeManager{
		refresh:   refresh,
		events:    events,
		probes:    make(map[domain.CallID]*probe),
		snapshots: make(map[domain.CallID]core.CallQuality),
		jitter: promauto.With(reg).NewGaugeVec(prometheus.GaugeOpts{
			Name: "bridge_call_inbound_jitter_seconds",
			Help: "Latest inbound audio jitter per call.",
		}, labels),
		lost: promauto.With(reg).NewGaugeVec(prometheus.GaugeOpts{
			Name: "bridge_call_inbound_packets_lost_total",
			Help: "Latest inbound packets-lost counter per call.",
		}, labels),
		lossPct: promauto.With(reg).NewGaugeVec(prometheus.GaugeOpts{
			Name: "bridge_call_inbound_loss_percent",
			Help: "Latest inbound loss percentage per call.",
		}, labels),
		bitrate: promauto.With(reg).NewGaugeVec(prometheus.GaugeOpts{
			Name: "bridge_call_inbound_bitrate_bps",
			Help: "Latest inbound bitrate per call.",
		}, labels),
		mos: promauto.With(reg).NewGaugeVec(prometheus.GaugeOpts{
			Name: "bridge_call_inbound_mos",
			Help: "Latest inbound mean opinion score per call.",
		}, labels),
	}
}

// Attach starts a probe on the call's connection. The probe stops when the
// call's ended event fires; its snapshot survives until Remove.
func (m *ProbeManager) Attach(s core.Session) {
	id := s.ID()
	p := &probe{stop: make(chan struct{}), seen: make(map[string]bool)}

	m.mu.Lock()
	if old, ok := m.probes[id]; ok {
		close(old.stop)
	}
	m.probes[id] = p
	m.mu.Unlock()

	m.events.SubscribeCall(core.EventEnded, id, func(core.Session, *core.Event) {
		m.detach(id)
	})

	log.Debug().Str("module", "app.metrics").Str("call", string(id)).Msg("probe attached")
	go m.run(id, s, p)
}

func (m *ProbeManager) run(id domain.CallID, s core.Session, p *probe) {
	ticker := time.NewTicker(m.refresh)
	defer ticker.Stop()
	for {
		select {
		case <-p.stop:
			return
		case <-ticker.C:
			m.report(id, s.Connection().AudioStats(), p)
		}
	}
}

func (m *ProbeManager) report(id domain.CallID, stats []core.AudioStreamStats, p *probe) {
	for _, st := range stats {
		if st.Direction == core.StatInbound && !p.seen[st.TrackID] {
			p.seen[st.TrackID] = true
			p.current = st.TrackID
		}
	}
	if p.current == "" {
		return
	}
	for _, st := range stats {
		if st.TrackID != p.current || st.Direction != core.StatInbound {
			continue
		}
		q := core.CallQuality{
			CallID:          id,
			TrackID:         st.TrackID,
			PacketsReceived: st.PacketsReceived,
			PacketsLost:     st.PacketsLost,
			Jitter:          st.Jitter,
			Bitrate:         st.Bitrate,
			MOS:             st.MOS,
			At:              time.Now(),
		}
		if total := st.PacketsReceived + st.PacketsLost; total > 0 {
			q.LossPercent = 100 * float64(st.PacketsLost) / float64(total)
		}
		m.publish(q)
		return
	}
}

func (m *ProbeManager) publish(q core.CallQuality) {
	m.mu.Lock()
	m.snapshots[q.CallID] = q
	m.mu.Unlock()

	label := string(q.CallID)
	m.jitter.WithLabelValues(label).Set(q.Jitter)
	m.lost.WithLabelValues(label).Set(float64(q.PacketsLost))
	m.lossPct.WithLabelValues(label).Set(q.LossPercent)
	m.bitrate.WithLabelValues(label).Set(q.Bitrate)
	m.mos.WithLabelValues(label).Set(q.MOS)
}

func (m *ProbeManager) detach(id domain.CallID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p, ok := m.probes[id]; ok {
		close(p.stop)
		delete(m.probes, id)
		log.Debug().Str("module", "app.metrics").Str("call", string(id)).Msg("probe detached")
	}
}

// Remove stops the probe and deletes the call's metrics snapshot and gauges.
func (m *ProbeManager) Remove(id domain.CallID) {
	m.detach(id)
	m.mu.Lock()
	delete(m.snapshots, id)
	m.mu.Unlock()

	label := string(id)
	m.jitter.DeleteLabelValues(label)
	m.lost.DeleteLabelValues(label)
	m.lossPct.DeleteLabelValues(label)
	m.bitrate.DeleteLabelValues(label)
	m.mos.DeleteLabelValues(label)
}

// Quality returns the latest inbound-audio sample for id.
func (m *ProbeManager) Quality(id domain.CallID) (core.CallQuality, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	q, ok := m.snapshots[id]
	return q, ok
}

// Shutdown stops every probe.
func (m *ProbeManager) Shutdown() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, p := range m.probes {
		close(p.stop)
		delete(m.probes, id)
	}
}
