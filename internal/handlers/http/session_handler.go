package http

import (
	"context"
	stderrors "errors"
	"io"
	"net/http"
	"os"
	"time"

	"roomcast/internal/core/domain"
	"roomcast/internal/core/ports"
	"roomcast/internal/infrastructure/storage"
	"roomcast/pkg/errors"
	"roomcast/pkg/validation"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// StatusAnnouncer pushes a persisted status change to connected participants.
// signal.RelayServer implements it.
type StatusAnnouncer interface {
	AnnounceStatus(ctx context.Context, roomID domain.RoomID, status domain.RoomStatus)
}

type SessionHandler struct {
	store          ports.SessionStore
	objects        storage.ObjectStore
	announcer      StatusAnnouncer
	prefix         string
	maxUploadBytes int64
	logger         *zap.SugaredLogger
}

// NewSessionHandler serves the session API. objects may be nil, in which case
// recording uploads answer 503.
func NewSessionHandler(
	store ports.SessionStore,
	objects storage.ObjectStore,
	announcer StatusAnnouncer,
	prefix string,
	maxUploadBytes int64,
	logger *zap.SugaredLogger,
) *SessionHandler {
	return &SessionHandler{
		store:          store,
		objects:        objects,
		announcer:      announcer,
		prefix:         prefix,
		maxUploadBytes: maxUploadBytes,
		logger:         logger,
	}
}

// SetupRoutes mounts the session API. auth runs before every route; control additionally
// guards the mutating ones.
func (h *SessionHandler) SetupRoutes(router gin.IRouter, auth, control gin.HandlerFunc) {
	api := router.Group("/api/v1/sessions")
	api.Use(auth)
	{
		api.GET("/:id", h.GetSession)
		api.PATCH("/:id", control, h.UpdateSession)
		api.POST("/:id/recording", control, h.UploadRecording)
	}
}

func roomParam(c *gin.Context) (domain.RoomID, bool) {
	id := c.Param("id")
	if err := validation.ValidateRoomID(id); err != nil {
		c.Error(errors.NewInvalidInputError(err.Error()))
		return "", false
	}
	return domain.RoomID(id), true
}

// sessionError maps store errors onto API errors.
func sessionError(err error, roomID domain.RoomID) *errors.AppError {
	switch {
	case stderrors.Is(err, domain.ErrRoomNotFound):
		return errors.NewNotFoundError("session").WithContext("room_id", roomID)
	case stderrors.Is(err, domain.ErrInvalidTransition):
		return errors.NewConflictError(err.Error()).WithContext("room_id", roomID)
	case stderrors.Is(err, domain.ErrPreconditionFailed):
		return errors.NewPreconditionFailedError(err.Error())
	}
	return errors.WrapError(err, errors.ErrCodeInternal, "session store failure", http.StatusInternalServerError)
}

// GetSession returns the room. A room nobody has started yet is reported as SCHEDULED.
func (h *SessionHandler) GetSession(c *gin.Context) {
	roomID, ok := roomParam(c)
	if !ok {
		return
	}

	room, err := h.store.Get(c.Request.Context(), roomID)
	if stderrors.Is(err, domain.ErrRoomNotFound) {
		room = domain.NewRoom(roomID, time.Now().UTC())
	} else if err != nil {
		c.Error(sessionError(err, roomID))
		return
	}

	c.JSON(http.StatusOK, room)
}

// UpdateSession applies {recordingUrl,status}. Re-sending the current status is a no-op.
func (h *SessionHandler) UpdateSession(c *gin.Context) {
	roomID, ok := roomParam(c)
	if !ok {
		return
	}

	var req domain.SessionUpdate
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(errors.NewInvalidInputError("invalid request format"))
		return
	}
	if req.Status == "" && req.RecordingURL == "" {
		c.Error(errors.NewInvalidInputError("status or recordingUrl is required"))
		return
	}
	if req.Status != "" && !req.Status.Valid() {
		c.Error(errors.NewInvalidInputError("unknown status").WithContext("status", req.Status))
		return
	}
	if req.RecordingURL != "" {
		if err := validation.ValidateURL(req.RecordingURL); err != nil {
			c.Error(errors.NewInvalidInputError(err.Error()))
			return
		}
	}

	ctx := c.Request.Context()
	room, err := h.store.Get(ctx, roomID)
	if err != nil && !stderrors.Is(err, domain.ErrRoomNotFound) {
		c.Error(sessionError(err, roomID))
		return
	}

	if req.Status != "" && (room == nil || room.Status != req.Status) {
		room, err = h.store.Transition(ctx, roomID, req.Status)
		if err != nil {
			c.Error(sessionError(err, roomID))
			return
		}
		h.logger.Infow("room status changed", "room_id", roomID, "status", room.Status, "via", "api")
		if h.announcer != nil {
			h.announcer.AnnounceStatus(ctx, roomID, room.Status)
		}
	}

	if req.RecordingURL != "" {
		room, err = h.store.SetRecordingURL(ctx, roomID, req.RecordingURL)
		if err != nil {
			c.Error(sessionError(err, roomID))
			return
		}
		h.logger.Infow("recording attached", "room_id", roomID, "url", req.RecordingURL)
	}

	c.JSON(http.StatusOK, room)
}

// UploadRecording stores the request body as a recording of the room and returns {url}.
// The body is spooled to disk first so the object store gets a seekable reader.
func (h *SessionHandler) UploadRecording(c *gin.Context) {
	roomID, ok := roomParam(c)
	if !ok {
		return
	}
	if h.objects == nil {
		c.Error(errors.NewServiceUnavailableError("recording storage is not configured"))
		return
	}
	if c.Request.ContentLength > h.maxUploadBytes {
		c.Error(errors.NewPayloadTooLargeError(h.maxUploadBytes))
		return
	}

	mimeType := c.GetHeader("Content-Type")
	if err := validation.ValidateMimeType(mimeType); err != nil {
		c.Error(errors.NewInvalidInputError(err.Error()))
		return
	}

	id := c.Query("id")
	if id == "" {
		id = uuid.NewString()
	} else if err := validation.ValidateParticipantID(id); err != nil {
		c.Error(errors.NewInvalidInputError("invalid recording id"))
		return
	}

	spool, err := os.CreateTemp("", "roomcast-upload-*")
	if err != nil {
		c.Error(errors.WrapError(err, errors.ErrCodeInternal, "failed to buffer upload", http.StatusInternalServerError))
		return
	}
	defer func() {
		spool.Close()
		os.Remove(spool.Name())
	}()

	body := http.MaxBytesReader(c.Writer, c.Request.Body, h.maxUploadBytes)
	size, err := io.Copy(spool, body)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if stderrors.As(err, &tooLarge) {
			c.Error(errors.NewPayloadTooLargeError(h.maxUploadBytes))
			return
		}
		c.Error(errors.NewInvalidInputError("failed to read upload"))
		return
	}
	if size == 0 {
		c.Error(errors.NewInvalidInputError("empty recording"))
		return
	}
	if _, err := spool.Seek(0, io.SeekStart); err != nil {
		c.Error(errors.WrapError(err, errors.ErrCodeInternal, "failed to buffer upload", http.StatusInternalServerError))
		return
	}

	ctx := c.Request.Context()
	key := storage.RecordingKey(h.prefix, roomID, id, mimeType, time.Now())
	if err := h.objects.Put(ctx, key, spool, size, mimeType); err != nil {
		c.Error(errors.WrapError(err, errors.ErrCodeServiceUnavailable, "failed to store recording", http.StatusServiceUnavailable))
		return
	}
	location, err := h.objects.URL(ctx, key)
	if err != nil {
		c.Error(errors.WrapError(err, errors.ErrCodeInternal, "failed to resolve recording url", http.StatusInternalServerError))
		return
	}

	h.logger.Infow("recording stored",
		"room_id", roomID,
		"recording_id", id,
		"key", key,
		"bytes", size,
	)
	c.JSON(http.StatusCreated, gin.H{"url": location})
}
