package app

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/looplab/fsm"
	"github.com/rs/zerolog/log"

	"github.com/nstepura/bridge/internal/core"
	"github.com/nstepura/bridge/internal/domain"
)

// callEntry keeps the live session handle and the public projection side by
// side in one record so the two can never desynchronize.
type callEntry struct {
	session core.Session
	machine *fsm.FSM

	roomID        domain.RoomID
	muted         bool
	automaticHold bool
	flags         domain.CallFlags
	sink          core.PlaybackSink
	outbound      core.Track
	endedAt       time.Time

	view core.CallView
}

// CallRegistry is the authoritative record of every call. All mutators
// rebuild the entry's projection before releasing the lock.
type CallRegistry struct {
	mu    sync.RWMutex
	calls map[domain.CallID]*callEntry
}

func NewCallRegistry() *CallRegistry {
	return &CallRegistry{calls: make(map[domain.CallID]*callEntry)}
}

func newLifecycle(dir domain.Direction) *fsm.FSM {
	initial := string(domain.StatusRinging)
	if dir == domain.DirectionOutgoing {
		initial = string(domain.StatusDialing)
	}
	return fsm.NewFSM(
		initial,
		fsm.Events{
			{Name: "progress", Src: []string{string(domain.StatusDialing), string(domain.StatusRinging)}, Dst: string(domain.StatusRinging)},
			{Name: "confirm", Src: []string{string(domain.StatusDialing), string(domain.StatusRinging)}, Dst: string(domain.StatusActive)},
			{Name: "fail", Src: []string{string(domain.StatusDialing), string(domain.StatusRinging)}, Dst: string(domain.StatusFailed)},
			{Name: "end", Src: []string{string(domain.StatusDialing), string(domain.StatusRinging), string(domain.StatusActive)}, Dst: string(domain.StatusEnded)},
		},
		fsm.Callbacks{},
	)
}

// Add registers a session. It is idempotent: a duplicate new-call event for
// an already known id is a no-op and reports false.
func (r *CallRegistry) Add(s core.Session) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	id := s.ID()
	if _, ok := r.calls[id]; ok {
		return false
	}
	e := &callEntry{session: s, machine: newLifecycle(s.Direction())}
	e.refresh()
	r.calls[id] = e
	log.Info().Str("module", "app.registry").Str("call", string(id)).
		Str("direction", string(s.Direction())).Msg("call added")
	return true
}

// Remove deletes the call from both the projection and the live index.
// Room cleanup is the caller's job.
func (r *CallRegistry) Remove(id domain.CallID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.calls[id]; !ok {
		return false
	}
	delete(r.calls, id)
	log.Info().Str("module", "app.registry").Str("call", string(id)).Msg("call removed")
	return true
}

func (r *CallRegistry) Session(id domain.CallID) (core.Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.calls[id]
	if !ok {
		return nil, false
	}
	return e.session, true
}

// Transition applies a lifecycle event to the call's state machine.
// Unknown ids and illegal transitions are no-ops at this level.
func (r *CallRegistry) Transition(id domain.CallID, event string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.calls[id]
	if !ok {
		return
	}
	if err := e.machine.Event(context.Background(), event); err != nil {
		log.Debug().Str("module", "app.registry").Str("call", string(id)).
			Str("event", event).Err(err).Msg("lifecycle transition rejected")
	}
	if domain.Status(e.machine.Current()).Terminal() && e.endedAt.IsZero() {
		e.endedAt = time.Now()
	}
	e.refresh()
}

func (r *CallRegistry) SetRoom(id domain.CallID, roomID domain.RoomID) bool {
	return r.mutate(id, func(e *callEntry) { e.roomID = roomID })
}

func (r *CallRegistry) RoomOf(id domain.CallID) (domain.RoomID, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.calls[id]
	if !ok {
		return domain.NoRoom, false
	}
	return e.roomID, true
}

func (r *CallRegistry) SetMuted(id domain.CallID, v bool) bool {
	return r.mutate(id, func(e *callEntry) { e.muted = v })
}

func (r *CallRegistry) SetAutomaticHold(id domain.CallID, v bool) bool {
	return r.mutate(id, func(e *callEntry) { e.automaticHold = v })
}

func (r *CallRegistry) AutomaticHold(id domain.CallID) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.calls[id]
	return ok && e.automaticHold
}

func (r *CallRegistry) SetSink(id domain.CallID, sink core.PlaybackSink) bool {
	return r.mutate(id, func(e *callEntry) { e.sink = sink })
}

func (r *CallRegistry) Sink(id domain.CallID) (core.PlaybackSink, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.calls[id]
	if !ok || e.sink == nil {
		return nil, false
	}
	return e.sink, true
}

func (r *CallRegistry) SetOutboundTrack(id domain.CallID, t core.Track) bool {
	return r.mutate(id, func(e *callEntry) { e.outbound = t })
}

func (r *CallRegistry) OutboundTrack(id domain.CallID) (core.Track, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.calls[id]
	if !ok || e.outbound == nil {
		return nil, false
	}
	return e.outbound, true
}

func (r *CallRegistry) SetFlags(id domain.CallID, flags domain.CallFlags) bool {
	return r.mutate(id, func(e *callEntry) { e.flags = flags })
}

// Refresh rebuilds the projection from live session state. Needed after
// operations that only touch the session (hold, mute).
func (r *CallRegistry) Refresh(id domain.CallID) {
	r.mutate(id, func(e *callEntry) {})
}

func (r *CallRegistry) mutate(id domain.CallID, fn func(*callEntry)) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.calls[id]
	if !ok {
		return false
	}
	fn(e)
	e.refresh()
	return true
}

// refresh maps the live entry onto the allow-listed projection.
// Caller holds the registry lock.
func (e *callEntry) refresh() {
	s := e.session
	e.view = core.CallView{
		ID:             s.ID(),
		RoomID:         e.roomID,
		Direction:      s.Direction(),
		RemoteIdentity: s.RemoteIdentity(),
		Status:         domain.Status(e.machine.Current()),
		Muted:          e.muted || s.IsMuted(),
		OnHold:         s.IsOnHold(),
		AutomaticHold:  e.automaticHold,
		Flags:          e.flags,
		StartedAt:      s.StartedAt(),
		EndedAt:        e.endedAt,
		Sink:           e.sink,
	}
}

func (r *CallRegistry) View(id domain.CallID) (core.CallView, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.calls[id]
	if !ok {
		return core.CallView{}, false
	}
	return e.view, true
}

// Views returns the public projection of every active call.
func (r *CallRegistry) Views() map[domain.CallID]core.CallView {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[domain.CallID]core.CallView, len(r.calls))
	for id, e := range r.calls {
		out[id] = e.view
	}
	return out
}

// Member pairs a call id with its live session for room iteration.
type Member struct {
	ID      domain.CallID
	Session core.Session
}

// Members returns the calls whose room id equals roomID, ordered by call id
// for deterministic policy application.
func (r *CallRegistry) Members(roomID domain.RoomID) []Member {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Member, 0, len(r.calls))
	for id, e := range r.calls {
		if e.roomID == roomID {
			out = append(out, Member{ID: id, Session: e.session})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (r *CallRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.calls)
}

// IDs returns every registered call id, sorted.
func (r *CallRegistry) IDs() []domain.CallID {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]domain.CallID, 0, len(r.calls))
	for id := range r.calls {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
