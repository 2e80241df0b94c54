package http

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"roomcast/internal/core/domain"
	"roomcast/internal/core/services"
	"roomcast/internal/infrastructure/middleware"
	"roomcast/internal/infrastructure/monitoring"
	"roomcast/internal/infrastructure/repositories/memory"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const serviceToken = "svc-token"

type storedObject struct {
	data        []byte
	contentType string
}

type memoryObjects struct {
	mu      sync.Mutex
	objects map[string]storedObject
	failPut error
}

func (m *memoryObjects) Put(ctx context.Context, key string, body io.Reader, size int64, contentType string) error {
	if m.failPut != nil {
		return m.failPut
	}
	data, err := io.ReadAll(body)
	if err != nil {
		return err
	}
	if int64(len(data)) != size {
		return fmt.Errorf("size mismatch: %d != %d", len(data), size)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[key] = storedObject{data: data, contentType: contentType}
	return nil
}

func (m *memoryObjects) URL(ctx context.Context, key string) (string, error) {
	return "https://cdn.example.com/" + key, nil
}

type recordedStatus struct {
	room   domain.RoomID
	status domain.RoomStatus
}

type fakeAnnouncer struct {
	mu       sync.Mutex
	statuses []recordedStatus
}

func (f *fakeAnnouncer) AnnounceStatus(ctx context.Context, roomID domain.RoomID, status domain.RoomStatus) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statuses = append(f.statuses, recordedStatus{roomID, status})
}

type apiFixture struct {
	router    *gin.Engine
	store     *memory.SessionStore
	objects   *memoryObjects
	announcer *fakeAnnouncer
	auth      services.AuthService
}

func newAPIFixture(t *testing.T, maxUpload int64) *apiFixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	logger := zap.NewNop().Sugar()
	f := &apiFixture{
		router:    gin.New(),
		store:     memory.NewSessionStore(),
		objects:   &memoryObjects{objects: make(map[string]storedObject)},
		announcer: &fakeAnnouncer{},
		auth:      services.NewAuthService("secret", time.Hour),
	}
	f.router.Use(middleware.ErrorHandlerMiddleware(logger))

	guard := middleware.ServiceTokenMiddleware(serviceToken, f.auth)
	NewSessionHandler(f.store, f.objects, f.announcer, "recordings", maxUpload, logger).
		SetupRoutes(f.router, guard, middleware.RequireSessionControl())
	NewAuthHandler(f.auth, time.Hour).
		SetupRoutes(f.router, middleware.ServiceTokenMiddleware(serviceToken, nil))
	return f
}

func (f *apiFixture) do(method, path, token, contentType string, body []byte) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	f.router.ServeHTTP(w, req)
	return w
}

func (f *apiFixture) patch(room, token, body string) *httptest.ResponseRecorder {
	return f.do(http.MethodPatch, "/api/v1/sessions/"+room, token, "application/json", []byte(body))
}

func decodeRoom(t *testing.T, w *httptest.ResponseRecorder) domain.Room {
	t.Helper()
	var room domain.Room
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &room))
	return room
}

func TestSessionAPI_GetUnknownRoomIsScheduled(t *testing.T) {
	f := newAPIFixture(t, 1<<20)

	w := f.do(http.MethodGet, "/api/v1/sessions/room-1", serviceToken, "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	room := decodeRoom(t, w)
	assert.Equal(t, domain.RoomID("room-1"), room.ID)
	assert.Equal(t, domain.RoomScheduled, room.Status)
}

func TestSessionAPI_RequiresToken(t *testing.T) {
	f := newAPIFixture(t, 1<<20)

	w := f.do(http.MethodGet, "/api/v1/sessions/room-1", "", "", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Contains(t, w.Body.String(), `"error":"UNAUTHORIZED"`)
}

func TestSessionAPI_StatusLifecycle(t *testing.T) {
	f := newAPIFixture(t, 1<<20)

	w := f.patch("room-1", serviceToken, `{"status":"ONGOING"}`)
	require.Equal(t, http.StatusOK, w.Code)
	room := decodeRoom(t, w)
	assert.Equal(t, domain.RoomOngoing, room.Status)
	assert.NotNil(t, room.StartedAt)

	// Re-sending the current status does not announce again.
	require.Equal(t, http.StatusOK, f.patch("room-1", serviceToken, `{"status":"ONGOING"}`).Code)

	w = f.patch("room-1", serviceToken, `{"status":"COMPLETED","recordingUrl":"https://cdn.example.com/r.webm"}`)
	require.Equal(t, http.StatusOK, w.Code)
	room = decodeRoom(t, w)
	assert.Equal(t, domain.RoomCompleted, room.Status)
	assert.Equal(t, "https://cdn.example.com/r.webm", room.RecordingURL)

	w = f.patch("room-1", serviceToken, `{"status":"ONGOING"}`)
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Contains(t, w.Body.String(), `"error":"CONFLICT"`)

	assert.Equal(t, []recordedStatus{
		{"room-1", domain.RoomOngoing},
		{"room-1", domain.RoomCompleted},
	}, f.announcer.statuses)
}

func TestSessionAPI_UpdateValidation(t *testing.T) {
	f := newAPIFixture(t, 1<<20)

	tests := []struct {
		name string
		body string
		code int
	}{
		{"empty update", `{}`, http.StatusBadRequest},
		{"malformed", `{`, http.StatusBadRequest},
		{"unknown status", `{"status":"PAUSED"}`, http.StatusBadRequest},
		{"bad url", `{"recordingUrl":"not a url"}`, http.StatusBadRequest},
		{"url on unknown room", `{"recordingUrl":"https://cdn.example.com/r.webm"}`, http.StatusNotFound},
		{"skip to completed", `{"status":"COMPLETED"}`, http.StatusConflict},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.code, f.patch("room-x", serviceToken, tt.body).Code)
		})
	}
	assert.Empty(t, f.announcer.statuses)
}

func TestSessionAPI_ViewerCannotControl(t *testing.T) {
	f := newAPIFixture(t, 1<<20)

	viewer, err := f.auth.GenerateToken(domain.Participant{ID: "v1", Name: "V", Role: domain.RoleViewer})
	require.NoError(t, err)
	moderator, err := f.auth.GenerateToken(domain.Participant{ID: "m1", Name: "M", Role: domain.RoleModerator})
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, f.do(http.MethodGet, "/api/v1/sessions/room-1", viewer, "", nil).Code)
	assert.Equal(t, http.StatusForbidden, f.patch("room-1", viewer, `{"status":"ONGOING"}`).Code)
	assert.Equal(t, http.StatusOK, f.patch("room-1", moderator, `{"status":"ONGOING"}`).Code)
}

func TestSessionAPI_UploadRecording(t *testing.T) {
	f := newAPIFixture(t, 1<<20)
	payload := bytes.Repeat([]byte{0x1a, 0x45, 0xdf, 0xa3}, 64)

	w := f.do(http.MethodPost, "/api/v1/sessions/room-1/recording?id=rec-1", serviceToken,
		"video/webm;codecs=vp8,opus", payload)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var body struct {
		URL string `json:"url"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.True(t, strings.HasPrefix(body.URL, "https://cdn.example.com/recordings/room-1/"))
	assert.True(t, strings.HasSuffix(body.URL, "/rec-1.webm"))

	require.Len(t, f.objects.objects, 1)
	for _, obj := range f.objects.objects {
		assert.Equal(t, payload, obj.data)
		assert.Equal(t, "video/webm;codecs=vp8,opus", obj.contentType)
	}
}

func TestSessionAPI_UploadLimits(t *testing.T) {
	f := newAPIFixture(t, 16)
	path := "/api/v1/sessions/room-1/recording"

	w := f.do(http.MethodPost, path, serviceToken, "video/webm", bytes.Repeat([]byte{1}, 32))
	assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
	assert.Contains(t, w.Body.String(), "PAYLOAD_TOO_LARGE")

	assert.Equal(t, http.StatusBadRequest, f.do(http.MethodPost, path, serviceToken, "video/webm", nil).Code)
	assert.Equal(t, http.StatusBadRequest, f.do(http.MethodPost, path, serviceToken, "", []byte{1}).Code)
	assert.Empty(t, f.objects.objects)

	f.objects.failPut = fmt.Errorf("bucket unavailable")
	assert.Equal(t, http.StatusServiceUnavailable, f.do(http.MethodPost, path, serviceToken, "video/webm", []byte{1}).Code)
}

func TestAuthAPI_IssueToken(t *testing.T) {
	f := newAPIFixture(t, 1<<20)
	path := "/api/v1/auth/token"

	w := f.do(http.MethodPost, path, serviceToken, "application/json",
		[]byte(`{"participantId":"alice","name":"Alice","role":"presenter"}`))
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var body struct {
		Token     string `json:"token"`
		ExpiresIn int    `json:"expiresIn"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, 3600, body.ExpiresIn)

	claims, err := f.auth.ValidateToken(body.Token)
	require.NoError(t, err)
	assert.Equal(t, domain.Participant{ID: "alice", Name: "Alice", Role: domain.RolePresenter}, claims.Participant())

	assert.Equal(t, http.StatusBadRequest, f.do(http.MethodPost, path, serviceToken, "application/json",
		[]byte(`{"name":"Alice","role":"owner"}`)).Code)

	// Participant tokens cannot mint new tokens.
	assert.Equal(t, http.StatusUnauthorized, f.do(http.MethodPost, path, body.Token, "application/json",
		[]byte(`{"name":"Eve","role":"moderator"}`)).Code)
}

type fixedStats struct{}

func (fixedStats) Stats() (int, int) { return 3, 1 }

func TestHealthHandler(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()

	reg := prometheus.NewRegistry()
	monitoring.NewRelayCollector(reg).SetRooms(1)

	checker := monitoring.NewHealthChecker()
	healthy := true
	checker.AddCheck("probe", func(ctx context.Context) error {
		if healthy {
			return nil
		}
		return fmt.Errorf("down")
	}, time.Second)
	NewHealthHandler(checker, fixedStats{}).SetupRoutes(router, reg)

	get := func(path string) *httptest.ResponseRecorder {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
		return w
	}

	w := get("/health")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"connections":3`)

	assert.Equal(t, http.StatusOK, get("/ready").Code)
	healthy = false
	w = get("/ready")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Contains(t, w.Body.String(), "down")

	w = get("/metrics")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "roomcast_relay_rooms")
}
