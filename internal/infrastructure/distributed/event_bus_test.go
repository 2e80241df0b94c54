package distributed

import (
	"context"
	"os"
	"testing"
	"time"

	"roomcast/internal/core/domain"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestDecodeEvent(t *testing.T) {
	event, err := decodeEvent(`{"type":"session.status","instance_id":"a","room_id":"r1","status":"ONGOING"}`)
	require.NoError(t, err)
	assert.Equal(t, EventSessionStatus, event.Type)
	assert.Equal(t, domain.RoomID("r1"), event.RoomID)
	assert.Equal(t, domain.RoomOngoing, event.Status)

	_, err = decodeEvent(`{"type":"session.status"}`)
	assert.Error(t, err)
	_, err = decodeEvent(`not json`)
	assert.Error(t, err)
}

func TestEventBus_CrossInstance(t *testing.T) {
	addr := os.Getenv("ROOMCAST_TEST_REDIS")
	if addr == "" {
		t.Skip("ROOMCAST_TEST_REDIS not set")
	}
	client := redis.NewClient(&redis.Options{Addr: addr})
	defer client.Close()

	logger := zap.NewNop().Sugar()
	a := NewEventBus(client, "a", logger)
	b := NewEventBus(client, "b", logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	received := make(chan *Event, 4)
	go func() {
		_ = b.Subscribe(ctx, func(e *Event) error {
			received <- e
			return nil
		})
	}()

	require.Eventually(t, func() bool {
		require.NoError(t, a.PublishStatus(ctx, "r1", domain.RoomCompleted))
		select {
		case e := <-received:
			return e.Status == domain.RoomCompleted && e.InstanceID == "a"
		case <-time.After(50 * time.Millisecond):
			return false
		}
	}, 2*time.Second, 100*time.Millisecond)
}
