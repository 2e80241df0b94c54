package ports

import (
	"context"
	"time"

	"roomcast/internal/core/domain"
)

// Uploader stores a finalized recording and returns its URL.
type Uploader interface {
	Upload(ctx context.Context, artifact *domain.Artifact) (string, error)
}

// SessionUpdater persists session metadata through the REST "update session" call.
type SessionUpdater interface {
	UpdateSession(ctx context.Context, roomID domain.RoomID, update domain.SessionUpdate) error
}

// RoomFeed receives chat, resource and poll frames verbatim.
type RoomFeed interface {
	Deliver(env *domain.Envelope)
}

type NotificationLevel string

const (
	NotifyInfo    NotificationLevel = "info"
	NotifyWarning NotificationLevel = "warning"
	NotifyError   NotificationLevel = "error"
)

type Notification struct {
	Level   NotificationLevel
	Message string
	Err     error
	At      time.Time
}

// Notifier surfaces transient notifications to the UI layer.
type Notifier interface {
	Notify(n Notification)
}

// SessionStore holds authoritative room state on the relay side.
type SessionStore interface {
	Get(ctx context.Context, id domain.RoomID) (*domain.Room, error)
	Save(ctx context.Context, room *domain.Room) error
	// Transition moves a room to next, creating it as SCHEDULED first when missing.
	Transition(ctx context.Context, id domain.RoomID, next domain.RoomStatus) (*domain.Room, error)
	SetRecordingURL(ctx context.Context, id domain.RoomID, url string) (*domain.Room, error)
}

// ClientMetrics records client-side counters; monitoring.ClientCollector implements it.
type ClientMetrics interface {
	LinkOpened()
	LinkClosed()
	RebuildCycle()
	SignalingFailure()
	ChunkFlushed(bytes int)
	RecordingFinished(d time.Duration, err error)
}
