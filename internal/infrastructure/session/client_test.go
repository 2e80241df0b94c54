package session

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"roomcast/internal/core/domain"
	"roomcast/pkg/circuitbreaker"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestClient(url string) *Client {
	c := NewClient(Config{BaseURL: url, Token: "secret", Timeout: time.Second}, zap.NewNop().Sugar())
	c.retry.InitialDelay = time.Millisecond
	return c
}

func TestClient_UpdateSession(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPatch, r.Method)
		assert.Equal(t, "/api/v1/sessions/room-1", r.URL.Path)
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))

		if atomic.AddInt32(&calls, 1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}

		var update domain.SessionUpdate
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&update))
		assert.Equal(t, "https://cdn.example.com/rec.mkv", update.RecordingURL)
		assert.Equal(t, domain.RoomCompleted, update.Status)
		_ = json.NewEncoder(w).Encode(domain.Room{ID: "room-1", Status: domain.RoomCompleted})
	}))
	defer srv.Close()

	err := newTestClient(srv.URL).UpdateSession(context.Background(), "room-1", domain.SessionUpdate{
		RecordingURL: "https://cdn.example.com/rec.mkv",
		Status:       domain.RoomCompleted,
	})
	require.NoError(t, err)
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestClient_UpdateSession_MapsErrors(t *testing.T) {
	tests := []struct {
		name   string
		status int
		want   error
	}{
		{"not found", http.StatusNotFound, domain.ErrRoomNotFound},
		{"conflict", http.StatusConflict, domain.ErrInvalidTransition},
		{"bad request", http.StatusBadRequest, ErrRejected},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var calls int32
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				atomic.AddInt32(&calls, 1)
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(`{"error":"X","message":"nope"}`))
			}))
			defer srv.Close()

			err := newTestClient(srv.URL).UpdateSession(context.Background(), "room-1", domain.SessionUpdate{Status: domain.RoomOngoing})
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.want)
			assert.Equal(t, int32(1), atomic.LoadInt32(&calls), "client errors are not retried")
		})
	}
}

func TestClient_GetSession(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		_ = json.NewEncoder(w).Encode(domain.Room{ID: "room 1", Status: domain.RoomOngoing})
	}))
	defer srv.Close()

	room, err := newTestClient(srv.URL).GetSession(context.Background(), "room 1")
	require.NoError(t, err)
	assert.Equal(t, domain.RoomOngoing, room.Status)
}

func TestClient_BreakerFailsFast(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	c := NewClient(Config{
		BaseURL:          srv.URL,
		Timeout:          time.Second,
		BreakerThreshold: 2,
		BreakerCooldown:  time.Hour,
	}, zap.NewNop().Sugar())
	c.retry.InitialDelay = time.Millisecond

	err := c.UpdateSession(context.Background(), "room-1", domain.SessionUpdate{Status: domain.RoomOngoing})
	assert.ErrorIs(t, err, circuitbreaker.ErrOpen)
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))

	_, err = c.GetSession(context.Background(), "room-1")
	assert.ErrorIs(t, err, circuitbreaker.ErrOpen)
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls), "open breaker must not reach the server")
}

func TestClient_BreakerIgnoresClientErrors(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	c := NewClient(Config{BaseURL: srv.URL, Timeout: time.Second, BreakerThreshold: 1, BreakerCooldown: time.Hour}, zap.NewNop().Sugar())
	for i := 0; i < 3; i++ {
		_, err := c.GetSession(context.Background(), "room-1")
		assert.ErrorIs(t, err, domain.ErrRoomNotFound)
	}
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestApiMessage(t *testing.T) {
	assert.Equal(t, "nope", apiMessage([]byte(`{"error":"NOT_FOUND","message":"nope"}`)))
	assert.Equal(t, "plain text", apiMessage([]byte("plain text\n")))
}
