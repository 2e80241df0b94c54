package memory

import (
	"context"
	"testing"

	"roomcast/internal/core/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSessionStore_TransitionCreatesScheduledRoom(t *testing.T) {
	store := NewSessionStore()
	ctx := context.Background()

	_, err := store.Get(ctx, "r1")
	assert.ErrorIs(t, err, domain.ErrRoomNotFound)

	room, err := store.Transition(ctx, "r1", domain.RoomOngoing)
	require.NoError(t, err)
	assert.Equal(t, domain.RoomOngoing, room.Status)
	assert.NotNil(t, room.StartedAt)
	assert.Nil(t, room.EndedAt)

	room, err = store.Transition(ctx, "r1", domain.RoomCompleted)
	require.NoError(t, err)
	assert.Equal(t, domain.RoomCompleted, room.Status)
	assert.NotNil(t, room.EndedAt)
}

func TestSessionStore_RejectsBackwardTransitions(t *testing.T) {
	store := NewSessionStore()
	ctx := context.Background()

	_, err := store.Transition(ctx, "r1", domain.RoomCompleted)
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)

	_, err = store.Transition(ctx, "r1", domain.RoomOngoing)
	require.NoError(t, err)
	_, err = store.Transition(ctx, "r1", domain.RoomOngoing)
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)

	room, err := store.Get(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, domain.RoomOngoing, room.Status)
}

func TestSessionStore_ReturnsCopies(t *testing.T) {
	store := NewSessionStore()
	ctx := context.Background()
	require.NoError(t, store.Save(ctx, &domain.Room{ID: "r1", Title: "Intro", Status: domain.RoomScheduled}))

	room, err := store.Get(ctx, "r1")
	require.NoError(t, err)
	room.Title = "changed"

	again, err := store.Get(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, "Intro", again.Title)
}

func TestSessionStore_SetRecordingURL(t *testing.T) {
	store := NewSessionStore()
	ctx := context.Background()

	_, err := store.SetRecordingURL(ctx, "missing", "https://cdn/x.webm")
	assert.ErrorIs(t, err, domain.ErrRoomNotFound)

	_, err = store.Transition(ctx, "r1", domain.RoomOngoing)
	require.NoError(t, err)
	room, err := store.SetRecordingURL(ctx, "r1", "https://cdn/x.webm")
	require.NoError(t, err)
	assert.Equal(t, "https://cdn/x.webm", room.RecordingURL)
	assert.Equal(t, domain.RoomOngoing, room.Status)
}
