package testutils

import (
	"context"
	"sync"

	"roomcast/internal/core/domain"
	"roomcast/internal/core/ports"

	"github.com/stretchr/testify/mock"
)

type MockUploader struct {
	mock.Mock
}

func (m *MockUploader) Upload(ctx context.Context, artifact *domain.Artifact) (string, error) {
	args := m.Called(ctx, artifact)
	return args.String(0), args.Error(1)
}

type MockSessionUpdater struct {
	mock.Mock
}

func (m *MockSessionUpdater) UpdateSession(ctx context.Context, roomID domain.RoomID, update domain.SessionUpdate) error {
	args := m.Called(ctx, roomID, update)
	return args.Error(0)
}

// RecordingNotifier keeps every notification.
type RecordingNotifier struct {
	mu    sync.Mutex
	items []ports.Notification
}

func (n *RecordingNotifier) Notify(notification ports.Notification) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.items = append(n.items, notification)
}

func (n *RecordingNotifier) All() []ports.Notification {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]ports.Notification(nil), n.items...)
}

// Count returns the number of notifications at level.
func (n *RecordingNotifier) Count(level ports.NotificationLevel) int {
	count := 0
	for _, item := range n.All() {
		if item.Level == level {
			count++
		}
	}
	return count
}

// RecordingFeed keeps every frame delivered to the chat/resource/poll feed.
type RecordingFeed struct {
	mu     sync.Mutex
	frames []*domain.Envelope
}

func (f *RecordingFeed) Deliver(env *domain.Envelope) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.frames = append(f.frames, env)
}

func (f *RecordingFeed) Frames() []*domain.Envelope {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*domain.Envelope(nil), f.frames...)
}
