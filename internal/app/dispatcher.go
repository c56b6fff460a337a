package app

import (
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/nstepura/bridge/internal/core"
	"github.com/nstepura/bridge/internal/domain"
)

// Dispatcher is the typed pub/sub bus for call lifecycle and engine events.
// Listeners for one kind run in subscription order; a panicking listener is
// logged and does not abort its siblings.
type Dispatcher struct {
	mu        sync.RWMutex
	nextToken int
	listeners map[core.EventKind][]*subscription
}

type subscription struct {
	token int
	fn    core.Listener
}

func NewDispatcher() *Dispatcher {
	return &Dispatcher{listeners: make(map[core.EventKind][]*subscription)}
}

// Subscribe appends a listener for kind and returns its cancel func.
func (d *Dispatcher) Subscribe(kind core.EventKind, fn core.Listener) (cancel func()) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.nextToken++
	sub := &subscription{token: d.nextToken, fn: fn}
	d.listeners[kind] = append(d.listeners[kind], sub)
	return func() { d.remove(kind, sub.token) }
}

// SubscribeCall registers a one-shot listener scoped to a single call id:
// it fires once when kind is triggered for that call, then removes itself.
func (d *Dispatcher) SubscribeCall(kind core.EventKind, id domain.CallID, fn core.Listener) (cancel func()) {
	var once sync.Once
	cancel = d.Subscribe(kind, func(s core.Session, ev *core.Event) {
		if s == nil || s.ID() != id {
			return
		}
		once.Do(func() {
			fn(s, ev)
			cancel()
		})
	})
	return cancel
}

func (d *Dispatcher) remove(kind core.EventKind, token int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	subs := d.listeners[kind]
	for i, sub := range subs {
		if sub.token == token {
			d.listeners[kind] = append(subs[:i:i], subs[i+1:]...)
			return
		}
	}
}

// Len reports how many listeners are registered for kind.
func (d *Dispatcher) Len(kind core.EventKind) int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.listeners[kind])
}

// UnsubscribeAll drops every listener registered for kind.
func (d *Dispatcher) UnsubscribeAll(kind core.EventKind) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.listeners, kind)
}

// Trigger invokes every listener for kind in subscription order. A missing
// or empty list is a silent no-op.
func (d *Dispatcher) Trigger(kind core.EventKind, s core.Session, ev *core.Event) {
	d.mu.RLock()
	subs := make([]*subscription, len(d.listeners[kind]))
	copy(subs, d.listeners[kind])
	d.mu.RUnlock()

	if ev == nil {
		ev = &core.Event{Kind: kind, At: time.Now()}
		if s != nil {
			ev.CallID = s.ID()
		}
	}
	for _, sub := range subs {
		d.invoke(kind, sub, s, ev)
	}
}

func (d *Dispatcher) invoke(kind core.EventKind, sub *subscription, s core.Session, ev *core.Event) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Str("module", "app.dispatcher").Str("kind", string(kind)).
				Interface("panic", r).Msg("listener panicked")
		}
	}()
	sub.fn(s, ev)
}
