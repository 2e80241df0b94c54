package redis

import (
	"context"
	"os"
	"testing"
	"time"

	"roomcast/internal/core/domain"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newTestStore connects to ROOMCAST_TEST_REDIS or skips.
func newTestStore(t *testing.T) *SessionStore {
	t.Helper()
	addr := os.Getenv("ROOMCAST_TEST_REDIS")
	if addr == "" {
		t.Skip("ROOMCAST_TEST_REDIS not set")
	}
	client, err := NewRedisClient(addr, "", 0, 4, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	return NewSessionStore(client, time.Minute)
}

func TestSessionStore_Transitions(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	id := domain.RoomID("test-" + uuid.NewString())

	_, err := store.Get(ctx, id)
	assert.ErrorIs(t, err, domain.ErrRoomNotFound)

	room, err := store.Transition(ctx, id, domain.RoomOngoing)
	require.NoError(t, err)
	assert.Equal(t, domain.RoomOngoing, room.Status)

	_, err = store.Transition(ctx, id, domain.RoomScheduled)
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)

	room, err = store.SetRecordingURL(ctx, id, "https://cdn/r.webm")
	require.NoError(t, err)
	assert.Equal(t, "https://cdn/r.webm", room.RecordingURL)

	room, err = store.Transition(ctx, id, domain.RoomCompleted)
	require.NoError(t, err)

	stored, err := store.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, domain.RoomCompleted, stored.Status)
	assert.Equal(t, "https://cdn/r.webm", stored.RecordingURL)
}

func TestSessionStore_SetRecordingURLMissingRoom(t *testing.T) {
	store := newTestStore(t)
	_, err := store.SetRecordingURL(context.Background(), domain.RoomID("missing-"+uuid.NewString()), "x")
	assert.ErrorIs(t, err, domain.ErrRoomNotFound)
}
