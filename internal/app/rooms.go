package app

import (
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/nstepura/bridge/internal/domain"
)

// ErrUnknownRoom is returned by top-level commands referencing a room id
// that does not exist.
var ErrUnknownRoom = errors.New("unknown room")

// RoomRegistry owns the room set. Room ids grow monotonically: a new room
// always gets max existing id + 1, starting at 1.
type RoomRegistry struct {
	mu    sync.RWMutex
	rooms map[domain.RoomID]*domain.Room
}

func NewRoomRegistry() *RoomRegistry {
	return &RoomRegistry{rooms: make(map[domain.RoomID]*domain.Room)}
}

// Add allocates the next room id and registers the room.
func (r *RoomRegistry) Add(incomingInProgress bool) domain.Room {
	r.mu.Lock()
	defer r.mu.Unlock()
	id := domain.RoomID(1)
	for existing := range r.rooms {
		if existing >= id {
			id = existing + 1
		}
	}
	room := &domain.Room{ID: id, Started: time.Now(), IncomingInProgress: incomingInProgress}
	r.rooms[id] = room
	log.Info().Str("module", "app.rooms").Int("room", int(id)).Msg("room added")
	return *room
}

func (r *RoomRegistry) Get(id domain.RoomID) (domain.Room, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	room, ok := r.rooms[id]
	if !ok {
		return domain.Room{}, false
	}
	return *room, true
}

// SetIncomingInProgress flips the creation-transient flag of a room.
func (r *RoomRegistry) SetIncomingInProgress(id domain.RoomID, v bool) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	room, ok := r.rooms[id]
	if !ok {
		return false
	}
	room.IncomingInProgress = v
	return true
}

func (r *RoomRegistry) Remove(id domain.RoomID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.rooms[id]; !ok {
		return false
	}
	delete(r.rooms, id)
	log.Info().Str("module", "app.rooms").Int("room", int(id)).Msg("room removed")
	return true
}

func (r *RoomRegistry) List() []domain.Room {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]domain.Room, 0, len(r.rooms))
	for _, room := range r.rooms {
		out = append(out, *room)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (r *RoomRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rooms)
}
