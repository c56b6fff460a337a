package app

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nstepura/bridge/internal/domain"
)

func TestRoomIDsGrowMonotonically(t *testing.T) {
	r := NewRoomRegistry()

	r1 := r.Add(false)
	r2 := r.Add(false)
	assert.Equal(t, domain.RoomID(1), r1.ID)
	assert.Equal(t, domain.RoomID(2), r2.ID)

	// Removing a lower id must not recycle it while a higher one lives.
	require.True(t, r.Remove(r1.ID))
	r3 := r.Add(false)
	assert.Equal(t, domain.RoomID(3), r3.ID)

	// With no rooms left the sequence restarts.
	r.Remove(r2.ID)
	r.Remove(r3.ID)
	assert.Equal(t, domain.RoomID(1), r.Add(false).ID)
}

func TestRoomIncomingInProgress(t *testing.T) {
	r := NewRoomRegistry()
	room := r.Add(true)

	got, ok := r.Get(room.ID)
	require.True(t, ok)
	assert.True(t, got.IncomingInProgress)

	assert.True(t, r.SetIncomingInProgress(room.ID, false))
	got, _ = r.Get(room.ID)
	assert.False(t, got.IncomingInProgress)

	assert.False(t, r.SetIncomingInProgress(99, false))
}

func TestRoomListSorted(t *testing.T) {
	r := NewRoomRegistry()
	r.Add(false)
	r.Add(false)
	r.Add(false)
	r.Remove(2)

	list := r.List()
	require.Len(t, list, 2)
	assert.Equal(t, domain.RoomID(1), list[0].ID)
	assert.Equal(t, domain.RoomID(3), list[1].ID)
	assert.Equal(t, 2, r.Len())
}
